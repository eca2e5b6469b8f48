package client

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait   = 10 * time.Second
	dialTimeout = 10 * time.Second
)

// ErrClosedNormally is returned by Conn.ReadMessage when the peer closed the
// socket with a normal closure. Any other read error is treated as abnormal.
var ErrClosedNormally = errors.New("connection closed normally")

// Conn is an open transport to the relay. ReadMessage is called from a single
// reader goroutine; WriteMessage and Close only from the controller loop.
type Conn interface {
	ReadMessage() (data []byte, binary bool, err error)
	WriteMessage(data []byte) error
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, url, token string) (Conn, error)
}

// WebsocketDialer dials the relay over gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
}

func (d WebsocketDialer) Dial(ctx context.Context, url, token string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: dialTimeout,
		}
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	ws, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, &DialError{StatusCode: resp.StatusCode, Err: err}
		}
		return nil, err
	}
	return &wsConn{ws: ws}, nil
}

// DialError reports a rejected websocket handshake.
type DialError struct {
	StatusCode int
	Err        error
}

func (e *DialError) Error() string {
	return "websocket handshake failed with status " + http.StatusText(e.StatusCode) + ": " + e.Err.Error()
}

func (e *DialError) Unwrap() error { return e.Err }

type wsConn struct {
	ws *websocket.Conn
}

func (c *wsConn) ReadMessage() ([]byte, bool, error) {
	mt, data, err := c.ws.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			return nil, false, ErrClosedNormally
		}
		return nil, false, err
	}
	return data, mt == websocket.BinaryMessage, nil
}

func (c *wsConn) WriteMessage(data []byte) error {
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
	return c.ws.Close()
}
