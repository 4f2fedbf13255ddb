package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"backtesting-engine/internal/events"
	"backtesting-engine/internal/service"
	"backtesting-engine/internal/sink"
)

// streamBuffer is how many fills may queue for a slow client before the
// stream starts skipping them. The final result is always complete.
const streamBuffer = 4096

// newUpgrader accepts any origin when allowed is empty. Otherwise the Origin
// header must be listed; requests without one are let through.
func newUpgrader(allowed []string) *websocket.Upgrader {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.TrimRight(o, "/")] = struct{}{}
	}
	return &websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(set) == 0 || origin == "" {
				return true
			}
			_, ok := set[origin]
			return ok
		},
	}
}

// streamMessage is one frame of the backtest stream: a fill while the run
// is in progress, then a result or an error.
type streamMessage struct {
	Type   string            `json:"type"`
	Fill   *sink.FillMessage `json:"fill,omitempty"`
	Result *service.Result   `json:"result,omitempty"`
	Code   string            `json:"code,omitempty"`
	Error  string            `json:"error,omitempty"`
}

type streamOutcome struct {
	res *service.Result
	err error
}

// streamBacktest reads one BacktestRequest from the socket, runs it and
// streams fills as they happen.
func (s *Server) streamBacktest(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.Log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if s.opts.MaxBodyBytes > 0 {
		conn.SetReadLimit(s.opts.MaxBodyBytes)
	}
	log := s.Log.With(zap.String("request_id", c.GetString("RequestID")))

	var req service.BacktestRequest
	if err := conn.ReadJSON(&req); err != nil {
		s.writeStream(conn, streamMessage{Type: "error", Code: "INVALID_REQUEST", Error: "invalid request payload"})
		return
	}

	bus := events.NewBus()
	fills, unsub := bus.Subscribe(events.KindFill, streamBuffer)

	ctx := c.Request.Context()
	done := make(chan streamOutcome, 1)
	go func() {
		res, err := s.Svc.StreamBacktest(ctx, req, bus)
		unsub()
		done <- streamOutcome{res: res, err: err}
	}()

	for ev := range fills {
		fill, ok := ev.(events.Fill)
		if !ok {
			continue
		}
		msg := sink.NewFillMessage("", fill)
		if err := conn.WriteJSON(streamMessage{Type: sink.TypeFill, Fill: &msg}); err != nil {
			log.Warn("ws write failed", zap.Error(err))
			return
		}
	}

	out := <-done
	switch {
	case out.err == nil:
		s.writeStream(conn, streamMessage{Type: "result", Result: out.res})
	case errors.Is(out.err, service.ErrRunFailed) && out.res != nil:
		s.writeStream(conn, streamMessage{Type: "result", Result: out.res, Code: "RUN_FAILED", Error: out.err.Error()})
	default:
		status, code, msg := classifyError(out.err)
		if status == http.StatusInternalServerError {
			log.Error("stream backtest failed", zap.Error(out.err))
		}
		s.writeStream(conn, streamMessage{Type: "error", Code: code, Error: msg})
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func (s *Server) writeStream(conn *websocket.Conn, msg streamMessage) {
	if err := conn.WriteJSON(msg); err != nil {
		s.Log.Warn("ws write failed", zap.Error(err))
	}
}
