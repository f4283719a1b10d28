package fastview

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSockCongestion indicates a write waited too long for the socket.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const (
	// How long a writer may wait for another to finish.
	writeQueueWait = time.Second
	// Time given to the peer to answer a close message.
	closeGracePeriod = time.Second
)

// websock wraps a websocket, which supports at most one concurrent reader and
// one concurrent writer. Writes from any routine are serialized here; reads
// must all happen on a single routine.
type websock struct {
	conn      *websocket.Conn
	writeSem  chan struct{}
	closeOnce sync.Once
}

func newWebsock(conn *websocket.Conn) *websock {
	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	return &websock{
		conn:     conn,
		writeSem: make(chan struct{}, 1),
	}
}

// onPong extends the read deadline whenever the peer answers a ping, then
// calls fn. It must be called before reading starts.
func (sock *websock) onPong(fn func()) {
	sock.conn.SetPongHandler(func(string) error {
		// Pong handlers run on the reading routine, which may set its own deadline.
		err := sock.conn.SetReadDeadline(time.Now().Add(pongWait))
		fn()
		return err
	})
}

// next blocks until the peer sends a data message. Control messages are
// handled while waiting. Errors are permanent.
func (sock *websock) next() ([]byte, error) {
	_, msg, err := sock.conn.ReadMessage()
	return msg, err
}

// ping sends a ping control message.
func (sock *websock) ping(ctx context.Context) error {
	return sock.write(ctx, func(conn *websocket.Conn) error {
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
		if isError(err) {
			return fmt.Errorf("ping failed: %T %w", err, err)
		}
		return err
	})
}

// writeJSON sends v as a single JSON text message.
func (sock *websock) writeJSON(ctx context.Context, v interface{}) error {
	return sock.write(ctx, func(conn *websocket.Conn) error {
		if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return fmt.Errorf("failed to set deadline: %T %w", err, err)
		}
		err := conn.WriteJSON(v)
		if isError(err) {
			return fmt.Errorf("publish failed: %T %w", err, err)
		}
		return err
	})
}

// write runs writeFn once no other writer holds the socket. A cancelled ctx
// is not an error: the caller is shutting down anyway.
func (sock *websock) write(ctx context.Context, writeFn func(*websocket.Conn) error) error {
	select {
	case <-ctx.Done():
		return nil
	case sock.writeSem <- struct{}{}:
		defer func() { <-sock.writeSem }()
		return writeFn(sock.conn)
	case <-time.After(writeQueueWait):
		return ErrSockCongestion
	}
}

// close sends a normal closure, gives the peer a moment to answer, and closes
// the connection. Later calls do nothing.
func (sock *websock) close() {
	sock.closeOnce.Do(func() {
		// Taken for good: no write may follow the close message.
		sock.writeSem <- struct{}{}

		_ = sock.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		time.Sleep(closeGracePeriod)
		sock.conn.Close()
	})
}

// isError reports whether err is anything but the peer closing normally.
func isError(err error) bool {
	return err != nil && websocket.IsUnexpectedCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}

// isClosure reports whether err is the peer closing normally.
func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}
