package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	channerics "github.com/niceyeti/channerics/channels"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrConnectRefused is returned when the remote rejects the namespace connect.
	ErrConnectRefused = errors.New("remote refused connection")
	// ErrPingTimeout means the remote stopped pinging for longer than it promised.
	ErrPingTimeout = errors.New("remote ping deadline exceeded")
	// ErrClosed is returned by Emit after the session has ended.
	ErrClosed = errors.New("channel closed")

	errDisconnected = errors.New("remote disconnected")
)

const (
	handshakeWait   = 5 * time.Second
	watchResolution = 250 * time.Millisecond
)

// Handler receives the raw payload of a subscribed event; nil when the event had none.
type Handler = func(payload json.RawMessage)

// Client is one Socket.IO session over a websocket. Subscribed handlers run on the
// read loop, in delivery order, so they must hand work off rather than block.
type Client struct {
	sock     *websock
	open     OpenInfo
	log      logrus.FieldLogger
	mu       sync.RWMutex
	handlers map[string][]Handler
	ready    chan struct{}
	pings    chan struct{}
	done     chan struct{}
	readyOne sync.Once
	doneOne  sync.Once
}

// Dial opens the websocket, reads the engine open packet and requests the default namespace.
// The session is ready once Run has received the connect ack; see Ready.
func Dial(
	ctx context.Context,
	url string,
	log logrus.FieldLogger,
) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	cli := &Client{
		sock:     newWebsock(conn),
		log:      log,
		handlers: map[string][]Handler{},
		ready:    make(chan struct{}),
		pings:    make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	if err = cli.handshake(ctx); err != nil {
		_ = cli.sock.close()
		return nil, err
	}
	return cli, nil
}

func (cli *Client) handshake(ctx context.Context) error {
	_ = cli.sock.ws.SetReadDeadline(time.Now().Add(handshakeWait))
	frame, err := cli.sock.read()
	if err != nil {
		return fmt.Errorf("handshake read: %w", err)
	}
	_ = cli.sock.ws.SetReadDeadline(time.Time{})

	pkt, err := DecodePacket(frame)
	if err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if pkt.Kind != KindOpen {
		return fmt.Errorf("%w: expected open, got kind %d", ErrBadPacket, pkt.Kind)
	}
	if err = json.Unmarshal(pkt.Data, &cli.open); err != nil {
		return fmt.Errorf("%w: open body: %v", ErrBadPacket, err)
	}

	cli.log.WithField("sid", cli.open.SID).Debug("engine open")
	return cli.send(ctx, Packet{Kind: KindConnect})
}

// Ready is closed once the remote has acknowledged the namespace connect.
func (cli *Client) Ready() <-chan struct{} {
	return cli.ready
}

// Done is closed when Run has returned.
func (cli *Client) Done() <-chan struct{} {
	return cli.done
}

// Subscribe registers a handler for an inbound event name.
func (cli *Client) Subscribe(event string, handler Handler) {
	cli.mu.Lock()
	defer cli.mu.Unlock()
	cli.handlers[event] = append(cli.handlers[event], handler)
}

// Emit sends an event. A nil payload sends the bare event name.
// Delivery is not confirmed; an error only reports that the frame could not be written.
func (cli *Client) Emit(event string, payload any) error {
	select {
	case <-cli.done:
		return ErrClosed
	default:
	}

	pkt, err := EventPacket(event, payload)
	if err != nil {
		return err
	}
	return cli.send(context.Background(), pkt)
}

func (cli *Client) send(ctx context.Context, pkt Packet) error {
	frame, err := EncodePacket(pkt)
	if err != nil {
		return err
	}
	if err = cli.sock.write(ctx, frame); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return nil
}

// Run services the session until ctx is cancelled, the remote disconnects, or the
// connection fails. A remote-initiated disconnect or cancellation returns nil.
func (cli *Client) Run(ctx context.Context) error {
	defer cli.doneOne.Do(func() { close(cli.done) })

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return cli.readMessages(groupCtx)
	})
	group.Go(func() error {
		return cli.watchPings(groupCtx)
	})
	group.Go(func() error {
		<-groupCtx.Done()
		_ = cli.sock.close()
		return nil
	})

	err := group.Wait()
	if errors.Is(err, errDisconnected) || ctx.Err() != nil {
		return nil
	}
	return err
}

// readMessages reads until the socket fails. Read errors on a websocket are permanent.
func (cli *Client) readMessages(ctx context.Context) error {
	for {
		frame, err := cli.sock.read()
		if err != nil {
			if ctx.Err() != nil || isClosure(err) {
				return errDisconnected
			}
			return fmt.Errorf("read: %w", err)
		}

		pkt, err := DecodePacket(frame)
		if err != nil {
			cli.log.WithError(err).Warn("dropping frame")
			continue
		}
		if err = cli.onPacket(ctx, pkt); err != nil {
			return err
		}
	}
}

func (cli *Client) onPacket(ctx context.Context, pkt Packet) error {
	switch pkt.Kind {
	case KindPing:
		select {
		case cli.pings <- struct{}{}:
		default:
		}
		return cli.send(ctx, Packet{Kind: KindPong, Data: pkt.Data})
	case KindConnect:
		cli.readyOne.Do(func() {
			cli.log.Info("channel ready")
			close(cli.ready)
		})
	case KindConnectError:
		return fmt.Errorf("%w: %s", ErrConnectRefused, pkt.Data)
	case KindDisconnect, KindClose:
		cli.log.Info("remote closed the session")
		return errDisconnected
	case KindEvent:
		cli.dispatch(pkt)
	}
	return nil
}

func (cli *Client) dispatch(pkt Packet) {
	cli.mu.RLock()
	handlers := cli.handlers[pkt.Event]
	cli.mu.RUnlock()

	if len(handlers) == 0 {
		cli.log.WithField("event", pkt.Event).Debug("no subscribers")
		return
	}
	for _, handle := range handlers {
		handle(pkt.Data)
	}
}

// watchPings enforces the remote's liveness promise: a ping at least every
// pingInterval+pingTimeout. The remote drives the heartbeat in Engine.IO v4.
func (cli *Client) watchPings(ctx context.Context) error {
	deadline := time.Duration(cli.open.PingInterval+cli.open.PingTimeout) * time.Millisecond
	if deadline <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := channerics.NewTicker(ctx.Done(), watchResolution)
	lastPing := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker:
			if time.Since(lastPing) > deadline {
				return ErrPingTimeout
			}
		case <-cli.pings:
			lastPing = time.Now()
		}
	}
}

func isClosure(err error) bool {
	return err != nil && websocket.IsCloseError(
		err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway)
}
