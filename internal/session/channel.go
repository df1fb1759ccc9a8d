// Package session manages investigation sessions against the RCA backend.
package session

import (
	"context"
	"fmt"
	"strings"

	"github.com/coder/websocket"
)

// maxFrameSize bounds a single event frame. Graph documents are the
// largest payloads and stay well under this.
const maxFrameSize = 4 << 20 // 4MB

// Channel is one session's receive-only real-time connection to the RCA
// backend. The session exclusively owns its channel: closing either
// closes the other.
type Channel interface {
	// Read blocks until the next frame arrives, the channel closes, or
	// ctx is cancelled.
	Read(ctx context.Context) ([]byte, error)

	// Close closes the channel.
	Close() error
}

// Dialer opens a channel to the given URL.
type Dialer func(ctx context.Context, url string) (Channel, error)

// DialWebSocket opens a WebSocket channel to the RCA backend.
func DialWebSocket(ctx context.Context, url string) (Channel, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial investigation channel: %w", err)
	}
	conn.SetReadLimit(maxFrameSize)
	return &wsChannel{conn: conn}, nil
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c *wsChannel) Read(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c *wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "session terminated")
}

// ChannelURL derives the event channel endpoint for a session handle from
// the backend base URL.
func ChannelURL(baseURL, id string) string {
	u := strings.TrimRight(baseURL, "/")
	switch {
	case strings.HasPrefix(u, "https://"):
		u = "wss://" + strings.TrimPrefix(u, "https://")
	case strings.HasPrefix(u, "http://"):
		u = "ws://" + strings.TrimPrefix(u, "http://")
	}
	return u + "/process/" + id
}
