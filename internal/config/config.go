// Package config provides configuration management functionality.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/aristath/rainbow/internal/modules/estimation"
	"github.com/aristath/rainbow/internal/modules/payoff"
	"github.com/joho/godotenv"
	"github.com/shirou/gopsutil/v3/cpu"
)

// Config holds application configuration
type Config struct {
	LogLevel  string
	LogPretty bool

	Estimation EstimationConfig

	PayoffStrategy string
	SamplerWorkers int // 0 lets the worker pool pick its default
	SamplerSeed    uint64

	// Port the pricing service listens on in serve mode
	ServerPort int
}

// EstimationConfig holds the amplitude estimation parameters
type EstimationConfig struct {
	Epsilon            float64
	Alpha              float64
	Shots              int
	MinRatio           float64
	ConfidenceInterval string
	MaxRounds          int
	MaxShots           int
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors represents multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var messages []string
	for _, err := range e {
		messages = append(messages, err.Error())
	}
	return strings.Join(messages, "; ")
}

// estimation parameter name -> environment variable
var estimationKeys = map[string]string{
	"epsilon":    "IAE_EPSILON",
	"alpha":      "IAE_ALPHA",
	"shots":      "IAE_SHOTS",
	"min_ratio":  "IAE_MIN_RATIO",
	"method":     "IAE_CONFINT",
	"max_rounds": "IAE_MAX_ROUNDS",
	"max_shots":  "IAE_MAX_SHOTS",
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	defaults := estimation.DefaultConfig()
	env := &envReader{}

	cfg := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogPretty: getEnvAsBool("LOG_PRETTY", false),
		Estimation: EstimationConfig{
			Epsilon:            env.asFloat("IAE_EPSILON", defaults.Epsilon),
			Alpha:              env.asFloat("IAE_ALPHA", defaults.Alpha),
			Shots:              env.asInt("IAE_SHOTS", defaults.Shots),
			MinRatio:           env.asFloat("IAE_MIN_RATIO", defaults.MinRatio),
			ConfidenceInterval: getEnv("IAE_CONFINT", string(defaults.Method)),
			MaxRounds:          env.asInt("IAE_MAX_ROUNDS", defaults.MaxRounds),
			MaxShots:           env.asInt("IAE_MAX_SHOTS", defaults.MaxShots),
		},
		PayoffStrategy: getEnv("PAYOFF_STRATEGY", string(payoff.StrategyDirect)),
		SamplerWorkers: env.asInt("SAMPLER_WORKERS", defaultWorkers()),
		SamplerSeed:    env.asUint64("SAMPLER_SEED", 42),
		ServerPort:     env.asInt("SERVER_PORT", 8080),
	}

	if len(env.errs) > 0 {
		return nil, env.errs
	}

	// Validate required fields
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks every field and reports all problems at once
func (c *Config) Validate() error {
	var errs ValidationErrors

	if err := c.EstimationParams().Validate(); err != nil {
		var paramErr *estimation.InvalidParameterError
		if !errors.As(err, &paramErr) {
			return err
		}
		errs = append(errs, ValidationError{
			Field:   estimationKeys[paramErr.Field],
			Message: paramErr.Message,
		})
	}

	if _, err := payoff.ParseStrategy(c.PayoffStrategy); err != nil {
		errs = append(errs, ValidationError{
			Field:   "PAYOFF_STRATEGY",
			Message: err.Error(),
		})
	}

	if c.SamplerWorkers < 0 {
		errs = append(errs, ValidationError{
			Field:   "SAMPLER_WORKERS",
			Message: "must not be negative",
		})
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "SERVER_PORT",
			Message: fmt.Sprintf("must be a TCP port, got %d", c.ServerPort),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// EstimationParams converts the configuration into estimator parameters
func (c *Config) EstimationParams() estimation.Config {
	return estimation.Config{
		Epsilon:   c.Estimation.Epsilon,
		Alpha:     c.Estimation.Alpha,
		Shots:     c.Estimation.Shots,
		MinRatio:  c.Estimation.MinRatio,
		Method:    estimation.Method(c.Estimation.ConfidenceInterval),
		MaxRounds: c.Estimation.MaxRounds,
		MaxShots:  c.Estimation.MaxShots,
	}
}

// Strategy returns the configured payoff strategy. Call after Validate.
func (c *Config) Strategy() payoff.Strategy {
	s, _ := payoff.ParseStrategy(c.PayoffStrategy)
	return s
}

// defaultWorkers is the number of logical CPUs, or 0 when it cannot be read
func defaultWorkers() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		return 0
	}
	return n
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

// envReader parses numeric variables and collects malformed ones instead of
// silently falling back to the default
type envReader struct {
	errs ValidationErrors
}

func (r *envReader) asInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intVal, err := strconv.Atoi(value)
	if err != nil {
		r.errs = append(r.errs, ValidationError{Field: key, Message: fmt.Sprintf("not an integer: %q", value)})
		return defaultValue
	}
	return intVal
}

func (r *envReader) asFloat(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		r.errs = append(r.errs, ValidationError{Field: key, Message: fmt.Sprintf("not a number: %q", value)})
		return defaultValue
	}
	return floatVal
}

func (r *envReader) asUint64(key string, defaultValue uint64) uint64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	uintVal, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		r.errs = append(r.errs, ValidationError{Field: key, Message: fmt.Sprintf("not an unsigned integer: %q", value)})
		return defaultValue
	}
	return uintVal
}
