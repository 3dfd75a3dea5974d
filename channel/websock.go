package channel

import (
	"context"
	"errors"
	"time"

	"github.com/gorilla/websocket"
)

// ErrSockCongestion indicates there are too many waiters on the socket for a given op.
var ErrSockCongestion = errors.New("sock op failed due to congestion")

const (
	writeWait      = time.Second
	writeDeadline  = time.Second
	closeGrace     = 100 * time.Millisecond
	maxMessageSize = 1 << 20
)

// websock serializes writes to the websocket, which allows one concurrent writer only.
// There is a single reader (the client's read loop) so reads are not gated.
type websock struct {
	writeSem chan struct{}
	ws       *websocket.Conn
}

func newWebsock(ws *websocket.Conn) *websock {
	ws.SetReadLimit(maxMessageSize)
	return &websock{
		writeSem: make(chan struct{}, 1),
		ws:       ws,
	}
}

// write sends one text frame, waiting at most writeDeadline for the write slot.
func (sock *websock) write(ctx context.Context, frame []byte) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case sock.writeSem <- struct{}{}:
		defer func() { <-sock.writeSem }()
		if err := sock.ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
			return err
		}
		return sock.ws.WriteMessage(websocket.TextMessage, frame)
	case <-time.After(writeDeadline):
		return ErrSockCongestion
	}
}

func (sock *websock) read() ([]byte, error) {
	_, frame, err := sock.ws.ReadMessage()
	return frame, err
}

// close sends a close frame if the write slot is free, then drops the connection.
// Closing the connection unblocks a pending read.
func (sock *websock) close() error {
	select {
	case sock.writeSem <- struct{}{}:
		_ = sock.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(closeGrace))
		<-sock.writeSem
	default:
	}
	return sock.ws.Close()
}
