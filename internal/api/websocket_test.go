package api

import (
	"net/http"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"backtesting-engine/internal/service"
)

func dialStream(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+"/api/backtests/stream", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// readStream collects frames until the result or error frame.
func readStream(t *testing.T, conn *websocket.Conn) []streamMessage {
	t.Helper()
	var out []streamMessage
	for {
		var msg streamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		out = append(out, msg)
		if msg.Type != "fill" {
			return out
		}
	}
}

func TestStreamBacktest(t *testing.T) {
	ts, _ := newTestAPIServer(t, DefaultOptions())
	conn := dialStream(t, ts.URL)
	require.NoError(t, conn.WriteJSON(referencePayload()))

	msgs := readStream(t, conn)
	require.Len(t, msgs, 5)
	for _, m := range msgs[:4] {
		require.NotNil(t, m.Fill)
		assert.Equal(t, "TEST", m.Fill.Symbol)
	}
	assert.Equal(t, 103.0, msgs[0].Fill.Price)
	assert.Equal(t, "SELL", msgs[2].Fill.Direction)

	last := msgs[4]
	assert.Equal(t, "result", last.Type)
	require.NotNil(t, last.Result)
	assert.Equal(t, "COMPLETED", last.Result.Summary.State)
	assert.Equal(t, 99900.0, last.Result.Summary.FinalValue)

	// the streamed run is stored like any other
	var run struct {
		ID string `json:"id"`
	}
	status := doJSONRequest(t, ts.Client(), http.MethodGet, ts.URL+"/api/backtests/"+last.Result.ID, nil, &run)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, last.Result.ID, run.ID)
}

func TestStreamBacktestRejectsBadRequests(t *testing.T) {
	ts, _ := newTestAPIServer(t, DefaultOptions())

	tests := []struct {
		name    string
		payload any
	}{
		{"not json", "nope"},
		{"no strategies", service.BacktestRequest{MarketData: referencePayload().MarketData}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := dialStream(t, ts.URL)
			require.NoError(t, conn.WriteJSON(tt.payload))

			msgs := readStream(t, conn)
			require.Len(t, msgs, 1)
			assert.Equal(t, "error", msgs[0].Type)
			assert.Equal(t, "INVALID_REQUEST", msgs[0].Code)
		})
	}
}

func TestStreamChecksOrigin(t *testing.T) {
	opts := DefaultOptions()
	opts.AllowedOrigins = []string{"https://ui.example.com/"}
	ts, _ := newTestAPIServer(t, opts)
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/backtests/stream"

	tests := []struct {
		name   string
		origin string
		ok     bool
	}{
		{"listed", "https://ui.example.com", true},
		{"no origin", "", true},
		{"other site", "https://evil.example.com", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			header := http.Header{}
			if tt.origin != "" {
				header.Set("Origin", tt.origin)
			}
			conn, resp, err := websocket.DefaultDialer.Dial(url, header)
			if !tt.ok {
				require.Error(t, err)
				require.NotNil(t, resp)
				assert.Equal(t, http.StatusForbidden, resp.StatusCode)
				return
			}
			require.NoError(t, err)
			_ = conn.Close()
		})
	}
}
