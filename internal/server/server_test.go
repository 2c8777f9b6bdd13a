package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/rainbow/internal/modules/estimation"
	"github.com/aristath/rainbow/internal/modules/fixedpoint"
	"github.com/aristath/rainbow/internal/modules/payoff"
	"github.com/aristath/rainbow/internal/modules/register"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	params := estimation.DefaultConfig()
	params.Epsilon = 0.02
	params.Alpha = 0.1

	s := New(Config{
		Log:        zerolog.Nop(),
		Port:       0,
		Estimation: params,
		Strategy:   payoff.StrategyDirect,
		Workers:    2,
		Seed:       42,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url, contentType, accept string, body []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	require.NoError(t, err)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHandleHealth(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "rainbow", body["service"])
	assert.Equal(t, "direct", body["strategy"])
}

func TestHandlePrice_Defaults(t *testing.T) {
	srv := newTestServer(t)

	resp := post(t, srv.URL+"/api/price", "", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeJSON, resp.Header.Get("Content-Type"))

	var quote QuoteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quote))
	assert.Equal(t, "direct", quote.Strategy)
	assert.NotEmpty(t, quote.RunID)
	assert.NotEmpty(t, quote.Rounds)
	assert.InDelta(t, quote.ProbabilityExact, quote.Probability, 0.05)
	assert.LessOrEqual(t, quote.ProbabilityHigh-quote.ProbabilityLow, 0.04+1e-12)
	assert.Equal(t, 9, quote.Resources.ControlledRotations)
}

func TestHandlePrice_Overrides(t *testing.T) {
	srv := newTestServer(t)

	body := []byte(`{"strategy":"brute_force","epsilon":0.05,"confint":"clopper_pearson","seed":9}`)
	resp := post(t, srv.URL+"/api/price", contentTypeJSON, "", body)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var quote QuoteResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&quote))
	assert.Equal(t, "brute_force", quote.Strategy)
	assert.Equal(t, 160, quote.Resources.ControlledRotations)
	assert.LessOrEqual(t, quote.ProbabilityHigh-quote.ProbabilityLow, 0.1+1e-12)
}

func TestHandlePrice_Msgpack(t *testing.T) {
	srv := newTestServer(t)

	epsilon := 0.05
	body, err := msgpack.Marshal(PriceRequest{Epsilon: &epsilon})
	require.NoError(t, err)

	resp := post(t, srv.URL+"/api/price", contentTypeMsgpack, contentTypeMsgpack, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, contentTypeMsgpack, resp.Header.Get("Content-Type"))

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var quote QuoteResponse
	require.NoError(t, msgpack.Unmarshal(raw, &quote))
	assert.InDelta(t, quote.ProbabilityExact, quote.Probability, 0.05)
	assert.NotEmpty(t, quote.Rounds)
	assert.Greater(t, quote.TotalShots, 0)
}

func TestHandlePrice_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"malformed body", `{"epsilon":`, "decoding JSON request"},
		{"negative epsilon", `{"epsilon":-1}`, "epsilon"},
		{"alpha out of range", `{"alpha":2}`, "alpha"},
		{"unknown strategy", `{"strategy":"lookup"}`, "strategy"},
		{"unknown interval", `{"confint":"wald"}`, "method"},
	}

	srv := newTestServer(t)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := post(t, srv.URL+"/api/price", contentTypeJSON, "", []byte(tt.body))
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var errResp ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&errResp))
			assert.Contains(t, errResp.Error, tt.want)
		})
	}
}

func TestHandleScenario(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/scenario")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var scenario ScenarioResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&scenario))
	assert.Equal(t, 1.5, scenario.Strike)
	assert.Len(t, scenario.MaxDistribution, 7)

	total := 0.0
	for _, pt := range scenario.MaxDistribution {
		total += pt.Probability
	}
	assert.InDelta(t, 1.0, total, 1e-6)
	assert.InDelta(t, scenario.ProbabilityExact*scenario.Norm, scenario.PayoffExact, 1e-12)
	assert.Equal(t, 160, scenario.Resources["brute_force"].ControlledRotations)
	assert.Equal(t, 9, scenario.Resources["direct"].ControlledRotations)
}

func TestCORSPreflight(t *testing.T) {
	srv := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, srv.URL+"/api/price", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func dialStream(t *testing.T, srv *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	t.Cleanup(cancel)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/price/stream"
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn, ctx
}

func TestHandlePriceStream(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialStream(t, srv)

	epsilon := 0.05
	require.NoError(t, wsjson.Write(ctx, conn, PriceRequest{Epsilon: &epsilon}))

	var rounds []RoundResponse
	for {
		var msg StreamMessage
		require.NoError(t, wsjson.Read(ctx, conn, &msg))
		if msg.Type == "round" {
			require.NotNil(t, msg.Round)
			assert.Equal(t, len(rounds), msg.Round.Index)
			rounds = append(rounds, *msg.Round)
			continue
		}

		require.Equal(t, "quote", msg.Type, "error: %s", msg.Error)
		require.NotNil(t, msg.Quote)
		assert.Equal(t, msg.Quote.Rounds, rounds)
		assert.InDelta(t, msg.Quote.ProbabilityExact, msg.Quote.Probability, 0.05)
		break
	}
}

func TestHandlePriceStream_BadRequest(t *testing.T) {
	srv := newTestServer(t)
	conn, ctx := dialStream(t, srv)

	require.NoError(t, wsjson.Write(ctx, conn, map[string]string{"strategy": "lookup"}))

	var msg StreamMessage
	require.NoError(t, wsjson.Read(ctx, conn, &msg))
	assert.Equal(t, "error", msg.Type)
	assert.Contains(t, msg.Error, "lookup")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"parameter", &estimation.InvalidParameterError{Field: "epsilon"}, http.StatusBadRequest},
		{"configuration", &payoff.ConfigurationError{Field: "rate"}, http.StatusBadRequest},
		{"distribution", fmt.Errorf("loading first asset: %w", &register.InvalidDistributionError{Message: "probabilities sum to 0.9"}), http.StatusBadRequest},
		{"overflow", fmt.Errorf("encoding payoff: %w", &fixedpoint.OverflowError{Op: "retarget", Value: 9}), http.StatusBadRequest},
		{"format", &fixedpoint.FormatError{Message: "width must be positive"}, http.StatusBadRequest},
		{"non convergence", &estimation.NonConvergenceError{Reason: "round cap reached"}, http.StatusUnprocessableEntity},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"other", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, statusFor(tt.err))
		})
	}
}
