// Package transport establishes the secured WebSocket stream to the
// fleet-management server and frames text payloads.
package transport

import (
	"crypto/tls"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Error is the transport layer's typed error.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// DialOptions describes a WebSocket connection to the NervesHub-style
// device socket. TLSConfig, when non-nil, is attached to the dialer for
// mTLS mode; ExtraHeaders carries the shared-secret auth headers plus
// Host when TLSConfig is nil.
type DialOptions struct {
	URL            string
	TLSConfig      *tls.Config
	ExtraHeaders   http.Header
	HandshakeTimeout time.Duration
}

// Conn wraps a gorilla/websocket connection, exposing only the
// operations the session engine needs: reading and writing Text frames.
type Conn struct {
	ws *websocket.Conn
}

// Dial establishes the connection described by opts.
func Dial(opts DialOptions) (*Conn, error) {
	dialer := &websocket.Dialer{
		TLSClientConfig:  opts.TLSConfig,
		HandshakeTimeout: handshakeTimeout(opts.HandshakeTimeout),
	}

	header := opts.ExtraHeaders
	if header == nil {
		header = http.Header{}
	}

	ws, _, err := dialer.Dial(opts.URL, header)
	if err != nil {
		return nil, &Error{Code: "CONNECTION_FAILED", Message: "failed to dial device socket", Err: err}
	}
	return &Conn{ws: ws}, nil
}

func handshakeTimeout(d time.Duration) time.Duration {
	if d <= 0 {
		return 10 * time.Second
	}
	return d
}

// ErrClosed is returned by ReadText when the peer sent a Close frame or
// the connection reached EOF — both surface as a benign end-of-stream.
var ErrClosed = fmt.Errorf("transport: connection closed")

// ReadText blocks for the next Text frame, skipping Binary/Ping/Pong
// frames (handled transparently by gorilla/websocket). Close and EOF
// both return ErrClosed.
func (c *Conn) ReadText() ([]byte, error) {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			// gorilla/websocket reports both a Close frame and EOF
			// (as CloseAbnormalClosure) as a *websocket.CloseError.
			if _, ok := err.(*websocket.CloseError); ok {
				return nil, ErrClosed
			}
			return nil, &Error{Code: "READ_FAILED", Message: "websocket read failed", Err: err}
		}
		if msgType == websocket.TextMessage {
			return data, nil
		}
		// Binary/Ping/Pong: loop for the next frame.
	}
}

// WriteText sends a Text frame.
func (c *Conn) WriteText(data []byte) error {
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		return &Error{Code: "WRITE_FAILED", Message: "websocket write failed", Err: err}
	}
	return nil
}

// Close sends a normal closure frame and closes the underlying socket.
func (c *Conn) Close() error {
	_ = c.ws.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return c.ws.Close()
}

// SetReadDeadline sets the deadline for subsequent ReadText calls.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}
