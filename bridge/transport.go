package bridge

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
)

// frameConn is a duplex frame transport. ReadFrame is called from a single
// reader goroutine; WriteFrame callers must serialize externally. Close
// unblocks a pending ReadFrame.
type frameConn interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	Close() error
}

// dialBridge connects to the bridge socket. The scheme selects the
// transport: ws/wss speak websocket text frames, tcp and unix carry
// newline-delimited JSON.
func dialBridge(ctx context.Context, rawURL string, maxPayload int64) (frameConn, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("parse bridge url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
		dialer := *websocket.DefaultDialer
		conn, _, err := dialer.DialContext(ctx, u.String(), nil)
		if err != nil {
			return nil, err
		}
		if maxPayload > 0 {
			conn.SetReadLimit(maxPayload)
		}
		return &wsFrameConn{conn: conn}, nil
	case "tcp":
		if u.Host == "" {
			return nil, fmt.Errorf("bridge url %q missing host", rawURL)
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "tcp", u.Host)
		if err != nil {
			return nil, err
		}
		return newStreamFrameConn(conn, maxPayload), nil
	case "unix":
		path := u.Path
		if path == "" {
			path = u.Opaque
		}
		if path == "" {
			return nil, fmt.Errorf("bridge url %q missing socket path", rawURL)
		}
		var d net.Dialer
		conn, err := d.DialContext(ctx, "unix", path)
		if err != nil {
			return nil, err
		}
		return newStreamFrameConn(conn, maxPayload), nil
	case "":
		return nil, fmt.Errorf("bridge url %q missing scheme", rawURL)
	default:
		return nil, fmt.Errorf("unsupported bridge url scheme %q", u.Scheme)
	}
}

type wsFrameConn struct {
	conn *websocket.Conn
}

func (c *wsFrameConn) ReadFrame() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (c *wsFrameConn) WriteFrame(data []byte) error {
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsFrameConn) Close() error {
	return c.conn.Close()
}

type streamFrameConn struct {
	conn net.Conn
	r    *bufio.Reader
	max  int64
}

func newStreamFrameConn(conn net.Conn, maxPayload int64) *streamFrameConn {
	return &streamFrameConn{conn: conn, r: bufio.NewReader(conn), max: maxPayload}
}

func (c *streamFrameConn) ReadFrame() ([]byte, error) {
	var frame []byte
	for {
		chunk, err := c.r.ReadSlice('\n')
		frame = append(frame, chunk...)
		switch {
		case err == nil:
			line := bytes.TrimRight(frame, "\r\n")
			if len(line) == 0 {
				frame = frame[:0]
				continue
			}
			if c.max > 0 && int64(len(line)) > c.max {
				return nil, fmt.Errorf("frame of %d bytes exceeds limit of %d", len(line), c.max)
			}
			return line, nil
		case errors.Is(err, bufio.ErrBufferFull):
			if c.max > 0 && int64(len(frame)) > c.max {
				return nil, fmt.Errorf("frame exceeds limit of %d bytes", c.max)
			}
		default:
			return nil, err
		}
	}
}

func (c *streamFrameConn) WriteFrame(data []byte) error {
	buf := make([]byte, 0, len(data)+1)
	buf = append(buf, data...)
	buf = append(buf, '\n')
	_, err := c.conn.Write(buf)
	return err
}

func (c *streamFrameConn) Close() error {
	return c.conn.Close()
}
