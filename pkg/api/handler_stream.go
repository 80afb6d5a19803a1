package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsEnvelope is what's written to the stream, mirroring events.StreamEvent
// but flattened for the wire.
type wsEnvelope struct {
	Heartbeat bool           `json:"heartbeat,omitempty"`
	Seq       int            `json:"seq,omitempty"`
	Kind      string         `json:"kind,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// streamHandler handles GET /api/v1/analyses/:id/stream,
// upgrading to a WebSocket and relaying every StreamEvent the hub delivers
// until the subscription closes or the client disconnects.
func (s *Server) streamHandler(c *echo.Context) error {
	jobID := c.Param("id")
	lastSeq := 0
	if v := c.QueryParam("last_seq"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			lastSeq = parsed
		}
	}

	ctx := c.Request().Context()
	events, done, err := s.hub.Subscribe(ctx, jobID, lastSeq)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorResponse{Error: err.Error()})
	}
	defer done()

	conn, err := websocket.Accept(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	defer conn.CloseNow()

	for ev := range events {
		var env wsEnvelope
		if ev.Heartbeat {
			env = wsEnvelope{Heartbeat: true}
		} else if ev.Record != nil {
			env = wsEnvelope{Seq: ev.Record.Seq, Kind: string(ev.Record.Kind), Payload: ev.Record.Payload}
		}

		data, err := json.Marshal(env)
		if err != nil {
			continue
		}
		if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
			return nil
		}
	}

	conn.Close(websocket.StatusNormalClosure, "stream complete")
	return nil
}
