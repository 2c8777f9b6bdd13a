package server

import (
	"context"
	"net/http"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/rainbow/internal/modules/estimation"
)

// StreamMessage is one websocket frame of a streamed pricing run. Type is
// "round" for every completed round, then either "quote" or "error".
type StreamMessage struct {
	Type  string         `json:"type"`
	Round *RoundResponse `json:"round,omitempty"`
	Quote *QuoteResponse `json:"quote,omitempty"`
	Error string         `json:"error,omitempty"`
}

// handlePriceStream handles GET /api/price/stream. The client sends one
// PriceRequest as JSON and receives the rounds as they complete.
func (s *Server) handlePriceStream(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to accept websocket")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "unexpected exit")

	// a hijacked connection does not cancel the request context on disconnect
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	var req PriceRequest
	if err := wsjson.Read(ctx, conn, &req); err != nil {
		s.log.Debug().Err(err).Msg("Failed to read stream request")
		conn.Close(websocket.StatusUnsupportedData, "expected a JSON price request")
		return
	}

	pricer, err := s.buildPricer(req)
	if err != nil {
		s.finishStream(ctx, conn, StreamMessage{Type: "error", Error: err.Error()})
		return
	}

	index := 0
	quote, err := pricer.PriceObserved(ctx, func(round estimation.Round) {
		msg := newRoundResponse(index, round)
		index++
		if err := wsjson.Write(ctx, conn, StreamMessage{Type: "round", Round: &msg}); err != nil {
			s.log.Debug().Err(err).Msg("Stream client gone, cancelling run")
			cancel()
		}
	})
	if err != nil {
		s.finishStream(ctx, conn, StreamMessage{Type: "error", Error: err.Error()})
		return
	}

	resp := newQuoteResponse(pricer.Encoder().Strategy(), quote)
	s.finishStream(ctx, conn, StreamMessage{Type: "quote", Quote: &resp})
}

func (s *Server) finishStream(ctx context.Context, conn *websocket.Conn, msg StreamMessage) {
	if err := wsjson.Write(ctx, conn, msg); err != nil {
		s.log.Debug().Err(err).Msg("Failed to write final stream message")
		return
	}
	conn.Close(websocket.StatusNormalClosure, "")
}
