// channel is the push channel to the remote trainer: Socket.IO event messages
// carried in Engine.IO v4 packets over a single websocket.
package channel

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kind is the decoded type of a packet, flattening the engine and socket layers.
type Kind int

const (
	KindOpen Kind = iota
	KindClose
	KindPing
	KindPong
	KindNoop
	KindConnect
	KindDisconnect
	KindEvent
	KindConnectError
)

// Engine layer type bytes.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineNoop    = '6'
)

// Socket layer type bytes, following an engine message byte.
const (
	socketConnect      = '0'
	socketDisconnect   = '1'
	socketEvent        = '2'
	socketConnectError = '4'
)

// ErrBadPacket is returned for frames that do not decode as a supported packet.
var ErrBadPacket = errors.New("malformed packet")

// Packet is one decoded frame. Event is set only for KindEvent; Data holds the open
// handshake, connect ack/error body, or the first event argument.
type Packet struct {
	Kind  Kind
	Event string
	Data  json.RawMessage
}

// OpenInfo is the body of the engine open packet.
type OpenInfo struct {
	SID          string `json:"sid"`
	PingInterval int    `json:"pingInterval"`
	PingTimeout  int    `json:"pingTimeout"`
	MaxPayload   int    `json:"maxPayload"`
}

// DecodePacket parses one websocket text frame.
func DecodePacket(frame []byte) (pkt Packet, err error) {
	if len(frame) == 0 {
		return pkt, fmt.Errorf("%w: empty frame", ErrBadPacket)
	}

	body := frame[1:]
	switch frame[0] {
	case engineOpen:
		pkt = Packet{Kind: KindOpen, Data: body}
	case engineClose:
		pkt = Packet{Kind: KindClose}
	case enginePing:
		pkt = Packet{Kind: KindPing, Data: body}
	case enginePong:
		pkt = Packet{Kind: KindPong, Data: body}
	case engineNoop:
		pkt = Packet{Kind: KindNoop}
	case engineMessage:
		pkt, err = decodeMessage(body)
	default:
		err = fmt.Errorf("%w: engine type %q", ErrBadPacket, frame[0])
	}
	return
}

func decodeMessage(msg []byte) (pkt Packet, err error) {
	if len(msg) == 0 {
		return pkt, fmt.Errorf("%w: empty message", ErrBadPacket)
	}

	body := skipNamespace(msg[1:])
	switch msg[0] {
	case socketConnect:
		pkt = Packet{Kind: KindConnect, Data: body}
	case socketDisconnect:
		pkt = Packet{Kind: KindDisconnect}
	case socketConnectError:
		pkt = Packet{Kind: KindConnectError, Data: body}
	case socketEvent:
		pkt, err = decodeEvent(skipAckID(body))
	default:
		err = fmt.Errorf("%w: socket type %q", ErrBadPacket, msg[0])
	}
	return
}

// decodeEvent reads ["name", arg, ...]. Only the first argument is kept; the remote
// never sends more.
func decodeEvent(body []byte) (pkt Packet, err error) {
	var args []json.RawMessage
	if err = json.Unmarshal(body, &args); err != nil {
		return pkt, fmt.Errorf("%w: event body: %v", ErrBadPacket, err)
	}
	if len(args) == 0 {
		return pkt, fmt.Errorf("%w: event without name", ErrBadPacket)
	}

	pkt.Kind = KindEvent
	if err = json.Unmarshal(args[0], &pkt.Event); err != nil {
		return pkt, fmt.Errorf("%w: event name: %v", ErrBadPacket, err)
	}
	if len(args) > 1 {
		pkt.Data = args[1]
	}
	return
}

// skipNamespace drops a leading "/nsp," prefix. Only the default namespace is joined,
// so the name itself is not needed.
func skipNamespace(body []byte) []byte {
	if len(body) == 0 || body[0] != '/' {
		return body
	}
	if i := bytes.IndexByte(body, ','); i >= 0 {
		return body[i+1:]
	}
	return nil
}

func skipAckID(body []byte) []byte {
	i := 0
	for i < len(body) && body[i] >= '0' && body[i] <= '9' {
		i++
	}
	return body[i:]
}

// EncodePacket serializes the packets a client sends: connect, pong, disconnect and events.
// An event with a nil Data is sent with no argument.
func EncodePacket(pkt Packet) ([]byte, error) {
	switch pkt.Kind {
	case KindPong:
		return append([]byte{enginePong}, pkt.Data...), nil
	case KindPing:
		return append([]byte{enginePing}, pkt.Data...), nil
	case KindConnect:
		return []byte{engineMessage, socketConnect}, nil
	case KindDisconnect:
		return []byte{engineMessage, socketDisconnect}, nil
	case KindEvent:
		args := []any{pkt.Event}
		if pkt.Data != nil {
			args = append(args, pkt.Data)
		}
		body, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("encode event %s: %w", pkt.Event, err)
		}
		return append([]byte{engineMessage, socketEvent}, body...), nil
	}
	return nil, fmt.Errorf("%w: cannot encode kind %d", ErrBadPacket, pkt.Kind)
}

// EventPacket builds an event packet from an arbitrary payload. A nil payload yields
// an event without arguments.
func EventPacket(event string, payload any) (pkt Packet, err error) {
	pkt = Packet{Kind: KindEvent, Event: event}
	if payload == nil {
		return
	}
	if pkt.Data, err = json.Marshal(payload); err != nil {
		err = fmt.Errorf("encode %s payload: %w", event, err)
	}
	return
}
