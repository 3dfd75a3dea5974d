package fastview

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"golang.org/x/sync/errgroup"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 1 * time.Second
	// Maximum message size allowed from peer.
	maxMessageSize = 8192

	pingResolution = time.Second
	// The number of pings to tolerate losing before concluding the peer is gone.
	pongWait = pingResolution * 4
)

var upgrader = websocket.Upgrader{}

// Client publishes ele-updates to one browser page and hands the page's messages back
// to the server. Each item on the updates chan is written as one JSON array.
type Client struct {
	updates   <-chan []EleUpdate
	onMessage func([]byte)
	ws        *websock
	rootCtx   context.Context
}

// NewClient upgrades the request to a websocket. onMessage is called from the read loop
// for every text message the page sends.
func NewClient(
	updates <-chan []EleUpdate,
	onMessage func([]byte),
	w http.ResponseWriter,
	r *http.Request,
) (*Client, error) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(maxMessageSize)

	return &Client{
		updates:   updates,
		onMessage: onMessage,
		ws:        newWebSocket(ws),
		rootCtx:   r.Context(),
	}, nil
}

// Sync runs the read, ping and publish loops until the page goes away or the updates
// chan closes. It returns nil on a normal disconnect.
func (cli *Client) Sync() error {
	group, groupCtx := errgroup.WithContext(cli.rootCtx)
	group.Go(func() error {
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		return cli.pingPong(groupCtx)
	})
	group.Go(func() error {
		return cli.publish(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		cli.ws.Close()
		return nil
	})

	if err := group.Wait(); err != nil && !errors.Is(err, errPageClosed) {
		return err
	}
	return nil
}

// ErrPongDeadlineExceeded is returned when the page stops answering pings.
var ErrPongDeadlineExceeded = errors.New("client disconnect, pong deadline exceeded")

var errPageClosed = errors.New("page closed")

// Runs the ping-pong for the client liveness check.
// NOTE: This function requires that readMessages is running to ensure the pong handler is called.
func (cli *Client) pingPong(ctx context.Context) error {
	pong := make(chan struct{}, 1)
	cli.ws.Conn().SetPongHandler(func(_ string) error {
		select {
		case pong <- struct{}{}:
		default:
		}
		return nil
	})

	pinger := channerics.NewTicker(ctx.Done(), pingResolution)
	lastPong := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pinger:
			if time.Since(lastPong) > pongWait {
				return ErrPongDeadlineExceeded
			}
			if err := cli.ping(ctx); err != nil {
				return err
			}
		case <-pong:
			lastPong = time.Now()
		}
	}
}

func (cli *Client) ping(ctx context.Context) error {
	return cli.ws.Write(
		ctx,
		func(ws *websocket.Conn) (err error) {
			if err = ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				err = fmt.Errorf("ping failed: %w", err)
			}
			return
		})
}

// readMessages forwards page messages until the socket fails. Errors returned by
// websocket Read methods are permanent, hence any error must trigger full teardown.
// The page's closure unblocks the pending read; cancellation alone does not.
func (cli *Client) readMessages(ctx context.Context) error {
	for {
		kind, msg, err := cli.ws.Conn().ReadMessage()
		if err != nil {
			if ctx.Err() != nil || isClosure(err) {
				return errPageClosed
			}
			return fmt.Errorf("read: %w", err)
		}
		if kind == websocket.TextMessage && cli.onMessage != nil {
			cli.onMessage(msg)
		}
	}
}

func (cli *Client) publish(ctx context.Context) error {
	for updates := range channerics.OrDone(ctx.Done(), cli.updates) {
		err := cli.ws.Write(
			ctx,
			func(ws *websocket.Conn) (writeErr error) {
				if writeErr = ws.SetWriteDeadline(time.Now().Add(writeWait)); writeErr != nil {
					return fmt.Errorf("failed to set deadline: %w", writeErr)
				}
				if writeErr = ws.WriteJSON(updates); writeErr != nil {
					writeErr = fmt.Errorf("publish failed: %w", writeErr)
				}
				return
			})
		if err != nil {
			return err
		}
	}
	// Graceful input channel closure, or cancellation: either way the page is done.
	return errPageClosed
}

func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived)
}
