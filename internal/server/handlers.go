package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/aristath/rainbow/internal/modules/estimation"
	"github.com/aristath/rainbow/internal/modules/fixedpoint"
	"github.com/aristath/rainbow/internal/modules/payoff"
	"github.com/aristath/rainbow/internal/modules/rainbow"
	"github.com/aristath/rainbow/internal/modules/register"
)

const (
	contentTypeJSON    = "application/json"
	contentTypeMsgpack = "application/msgpack"
	maxRequestBytes    = 1 << 20
)

// PriceRequest overrides the server defaults for one pricing run. Every
// field is optional.
type PriceRequest struct {
	Strategy           string   `json:"strategy,omitempty" msgpack:"strategy,omitempty"`
	Epsilon            *float64 `json:"epsilon,omitempty" msgpack:"epsilon,omitempty"`
	Alpha              *float64 `json:"alpha,omitempty" msgpack:"alpha,omitempty"`
	Shots              *int     `json:"shots,omitempty" msgpack:"shots,omitempty"`
	ConfidenceInterval string   `json:"confint,omitempty" msgpack:"confint,omitempty"`
	Seed               *uint64  `json:"seed,omitempty" msgpack:"seed,omitempty"`
}

// RoundResponse is one estimation round
type RoundResponse struct {
	Index     int     `json:"index" msgpack:"index"`
	Depth     int     `json:"depth" msgpack:"depth"`
	Shots     int     `json:"shots" msgpack:"shots"`
	Hits      int     `json:"hits" msgpack:"hits"`
	Low       float64 `json:"low" msgpack:"low"`
	High      float64 `json:"high" msgpack:"high"`
	Reset     bool    `json:"reset" msgpack:"reset"`
}

// ResourcesResponse is the cost model of an encoder
type ResourcesResponse struct {
	ControlledRotations int `json:"controlled_rotations" msgpack:"controlled_rotations"`
	ComparatorGates     int `json:"comparator_gates" msgpack:"comparator_gates"`
	AuxiliaryQubits     int `json:"auxiliary_qubits" msgpack:"auxiliary_qubits"`
}

// QuoteResponse is the outcome of a pricing run
type QuoteResponse struct {
	RunID            string            `json:"run_id" msgpack:"run_id"`
	Strategy         string            `json:"strategy" msgpack:"strategy"`
	Probability      float64           `json:"probability" msgpack:"probability"`
	ProbabilityLow   float64           `json:"probability_low" msgpack:"probability_low"`
	ProbabilityHigh  float64           `json:"probability_high" msgpack:"probability_high"`
	ProbabilityExact float64           `json:"probability_exact" msgpack:"probability_exact"`
	Payoff           float64           `json:"payoff" msgpack:"payoff"`
	PayoffLow        float64           `json:"payoff_low" msgpack:"payoff_low"`
	PayoffHigh       float64           `json:"payoff_high" msgpack:"payoff_high"`
	PayoffExact      float64           `json:"payoff_exact" msgpack:"payoff_exact"`
	TotalShots       int               `json:"total_shots" msgpack:"total_shots"`
	OracleQueries    int               `json:"oracle_queries" msgpack:"oracle_queries"`
	Rounds           []RoundResponse   `json:"rounds" msgpack:"rounds"`
	Resources        ResourcesResponse `json:"resources" msgpack:"resources"`
}

// PointResponse is one outcome of the max register
type PointResponse struct {
	Value       float64 `json:"value" msgpack:"value"`
	Probability float64 `json:"probability" msgpack:"probability"`
}

// ScenarioResponse describes the scenario the server prices
type ScenarioResponse struct {
	Strike           float64                      `json:"strike" msgpack:"strike"`
	Rate             float64                      `json:"rate" msgpack:"rate"`
	MaxFormat        string                       `json:"max_format" msgpack:"max_format"`
	MaxDistribution  []PointResponse              `json:"max_distribution" msgpack:"max_distribution"`
	Norm             float64                      `json:"norm" msgpack:"norm"`
	ProbabilityExact float64                      `json:"probability_exact" msgpack:"probability_exact"`
	PayoffExact      float64                      `json:"payoff_exact" msgpack:"payoff_exact"`
	Resources        map[string]ResourcesResponse `json:"resources" msgpack:"resources"`
}

// ErrorResponse carries a failed request's error
type ErrorResponse struct {
	Error string `json:"error" msgpack:"error"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpus, err := cpu.Counts(true)
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to count CPUs")
	}

	response := map[string]interface{}{
		"status":   "healthy",
		"service":  "rainbow",
		"strategy": string(s.cfg.Strategy),
		"cpus":     cpus,
	}

	s.writeJSON(w, http.StatusOK, response)
}

// handleScenario describes the default scenario under both encoders
func (s *Server) handleScenario(w http.ResponseWriter, r *http.Request) {
	scenario := rainbow.DefaultScenario()
	response := ScenarioResponse{
		Strike:    scenario.Encoding.Strike,
		Rate:      scenario.Encoding.Rate,
		Resources: make(map[string]ResourcesResponse),
	}

	for _, strategy := range []payoff.Strategy{payoff.StrategyBruteForce, payoff.StrategyDirect} {
		scenario.Encoding.Strategy = strategy
		pricer, err := rainbow.NewPricer(scenario, s.options(s.cfg.Estimation, s.cfg.Seed), s.log)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		response.Resources[string(strategy)] = newResourcesResponse(pricer.Encoder().Resources())

		if strategy != s.cfg.Strategy {
			continue
		}
		response.MaxFormat = pricer.Joint().Format().String()
		for _, pt := range pricer.Joint().MaxDistribution() {
			response.MaxDistribution = append(response.MaxDistribution, PointResponse{
				Value:       pt.Value.Float(),
				Probability: pt.Probability,
			})
		}
		response.Norm = pricer.Encoder().Norm()
		response.ProbabilityExact = pricer.ExactProbability()
		response.PayoffExact = response.ProbabilityExact * response.Norm
	}

	s.writeResponse(w, r, http.StatusOK, response)
}

// handlePrice runs one pricing request to completion
func (s *Server) handlePrice(w http.ResponseWriter, r *http.Request) {
	req, err := decodePriceRequest(r)
	if err != nil {
		s.writeResponse(w, r, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	pricer, err := s.buildPricer(req)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	quote, err := pricer.Price(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	s.writeResponse(w, r, http.StatusOK, newQuoteResponse(pricer.Encoder().Strategy(), quote))
}

// buildPricer applies the request overrides to the server defaults
func (s *Server) buildPricer(req PriceRequest) (*rainbow.Pricer, error) {
	params := s.cfg.Estimation
	if req.Epsilon != nil {
		params.Epsilon = *req.Epsilon
	}
	if req.Alpha != nil {
		params.Alpha = *req.Alpha
	}
	if req.Shots != nil {
		params.Shots = *req.Shots
	}
	if req.ConfidenceInterval != "" {
		params.Method = estimation.Method(req.ConfidenceInterval)
	}
	seed := s.cfg.Seed
	if req.Seed != nil {
		seed = *req.Seed
	}

	scenario := rainbow.DefaultScenario()
	scenario.Encoding.Strategy = s.cfg.Strategy
	if req.Strategy != "" {
		strategy, err := payoff.ParseStrategy(req.Strategy)
		if err != nil {
			return nil, err
		}
		scenario.Encoding.Strategy = strategy
	}

	return rainbow.NewPricer(scenario, s.options(params, seed), s.log)
}

func (s *Server) options(params estimation.Config, seed uint64) rainbow.Options {
	return rainbow.Options{Estimation: params, Workers: s.cfg.Workers, Seed: seed}
}

// decodePriceRequest reads a JSON or msgpack body. An empty body keeps every
// default.
func decodePriceRequest(r *http.Request) (PriceRequest, error) {
	var req PriceRequest
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		return req, fmt.Errorf("reading request body: %w", err)
	}
	if len(body) == 0 {
		return req, nil
	}

	if strings.Contains(r.Header.Get("Content-Type"), "msgpack") {
		if err := msgpack.Unmarshal(body, &req); err != nil {
			return req, fmt.Errorf("decoding msgpack request: %w", err)
		}
		return req, nil
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return req, fmt.Errorf("decoding JSON request: %w", err)
	}
	return req, nil
}

func newQuoteResponse(strategy payoff.Strategy, q *rainbow.Quote) QuoteResponse {
	resp := QuoteResponse{
		RunID:            q.Estimate.RunID,
		Strategy:         string(strategy),
		Probability:      q.Estimate.PointEstimate,
		ProbabilityLow:   q.Estimate.Interval.Low,
		ProbabilityHigh:  q.Estimate.Interval.High,
		ProbabilityExact: q.Exact,
		Payoff:           q.ScaledPayoff,
		PayoffLow:        q.ScaledInterval.Low,
		PayoffHigh:       q.ScaledInterval.High,
		PayoffExact:      q.ScaledExact,
		TotalShots:       q.Estimate.TotalShots,
		OracleQueries:    q.Estimate.OracleQueries,
		Rounds:           make([]RoundResponse, len(q.Estimate.Rounds)),
		Resources:        newResourcesResponse(q.Resources),
	}
	for i, r := range q.Estimate.Rounds {
		resp.Rounds[i] = newRoundResponse(i, r)
	}
	return resp
}

func newRoundResponse(index int, r estimation.Round) RoundResponse {
	return RoundResponse{
		Index:     index,
		Depth:     r.Depth,
		Shots:     r.Shots,
		Hits:      r.Hits,
		Low:       r.Estimate.Low,
		High:      r.Estimate.High,
		Reset:     r.Reset,
	}
}

func newResourcesResponse(r payoff.Resources) ResourcesResponse {
	return ResourcesResponse{
		ControlledRotations: r.ControlledRotations,
		ComparatorGates:     r.ComparatorGates,
		AuxiliaryQubits:     r.AuxiliaryQubits,
	}
}

// statusFor maps a pricing error to an HTTP status. Setup errors are
// client errors.
func statusFor(err error) int {
	var paramErr *estimation.InvalidParameterError
	var cfgErr *payoff.ConfigurationError
	var distErr *register.InvalidDistributionError
	var overflowErr *fixedpoint.OverflowError
	var formatErr *fixedpoint.FormatError
	var nonConv *estimation.NonConvergenceError
	switch {
	case errors.As(err, &paramErr), errors.As(err, &cfgErr),
		errors.As(err, &distErr), errors.As(err, &overflowErr), errors.As(err, &formatErr):
		return http.StatusBadRequest
	case errors.As(err, &nonConv):
		return http.StatusUnprocessableEntity
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Msg("Pricing request failed")
	}
	s.writeResponse(w, r, status, ErrorResponse{Error: err.Error()})
}

// writeResponse writes msgpack when the client accepts it, JSON otherwise
func (s *Server) writeResponse(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	if !strings.Contains(r.Header.Get("Accept"), "msgpack") {
		s.writeJSON(w, status, data)
		return
	}

	body, err := msgpack.Marshal(data)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to encode msgpack response")
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", contentTypeMsgpack)
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		s.log.Error().Err(err).Msg("Failed to write msgpack response")
	}
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode JSON response")
	}
}
