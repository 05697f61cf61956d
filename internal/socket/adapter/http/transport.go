package http

import (
	"context"
	"time"

	apperrors "plural-api/internal/shared/errors"

	"github.com/gofiber/contrib/websocket"
)

// wsTransport writes text frames to a websocket connection. Each write is
// bounded by the context deadline or, when there is none, writeTimeout.
// Calls are serialised by usecase.Connection. The underlying conn is pooled
// and reused once the handler returns, so it is dropped on Close.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func newWSTransport(conn *websocket.Conn, writeTimeout time.Duration) *wsTransport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) WriteText(ctx context.Context, data []byte) error {
	if t.conn == nil {
		return apperrors.ErrConnectionClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	deadline := time.Now().Add(t.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	conn := t.conn
	if conn == nil {
		return nil
	}
	t.conn = nil

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return conn.Close()
}
