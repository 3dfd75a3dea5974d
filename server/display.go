package server

import (
	"bytes"
	"encoding/base64"
	"io"
	"sync"

	"tetrisviz/render"
	"tetrisviz/server/fastview"
	"tetrisviz/telemetry"

	"github.com/sirupsen/logrus"
)

// Element ids of the page slots that are not telemetry fields.
const (
	BoardElement  = "board"
	NoticeElement = "notice-info"
)

type pngEncoder interface {
	EncodePNG(w io.Writer) error
}

// Display converts what the session shows into ele-updates and fans them out to every
// connected page. It keeps the latest update per element id, so a page that connects
// late starts from the current picture, and a slow page only ever receives the newest
// value of each element.
type Display struct {
	mu          sync.Mutex
	latest      map[string]fastview.EleUpdate
	subscribers map[*subscriber]struct{}
	png         []byte
	log         logrus.FieldLogger
}

func NewDisplay(log logrus.FieldLogger) *Display {
	return &Display{
		latest:      map[string]fastview.EleUpdate{},
		subscribers: map[*subscriber]struct{}{},
		log:         log,
	}
}

// ShowBoard snapshots the surface as a PNG. Surfaces that cannot encode one are ignored.
func (d *Display) ShowBoard(surface render.Surface) {
	enc, ok := surface.(pngEncoder)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := enc.EncodePNG(&buf); err != nil {
		d.log.WithError(err).Warn("board snapshot failed")
		return
	}

	frame := buf.Bytes()
	d.mu.Lock()
	d.png = frame
	d.mu.Unlock()

	src := "data:image/png;base64," + base64.StdEncoding.EncodeToString(frame)
	d.publish([]fastview.EleUpdate{fastview.SetAttr(BoardElement, "src", src)})
}

// ShowFields overwrites every telemetry slot.
func (d *Display) ShowFields(fields map[telemetry.Field]string) {
	updates := make([]fastview.EleUpdate, 0, len(fields))
	for _, field := range telemetry.Fields {
		if text, ok := fields[field]; ok {
			updates = append(updates, fastview.SetText(string(field), text))
		}
	}
	d.publish(updates)
}

func (d *Display) ShowNotice(kind string, message string) {
	d.publish([]fastview.EleUpdate{fastview.SetText(NoticeElement, message)})
}

// PNG returns the last board frame, or nil before the first board update.
func (d *Display) PNG() []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.png
}

// Text returns the current text of an element, for the initial page render.
func (d *Display) Text(id string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range d.latest[id].Ops {
		if op.Key == fastview.TextContent {
			return op.Value
		}
	}
	return ""
}

func (d *Display) publish(updates []fastview.EleUpdate) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, update := range updates {
		d.latest[update.EleId] = update
	}
	for sub := range d.subscribers {
		sub.merge(updates)
	}
}

// Subscribe returns a chan of coalesced update batches, starting with the current state
// of every element. The chan is closed once done is closed.
func (d *Display) Subscribe(done <-chan struct{}) <-chan []fastview.EleUpdate {
	sub := &subscriber{
		pending: map[string]fastview.EleUpdate{},
		notify:  make(chan struct{}, 1),
	}

	d.mu.Lock()
	initial := make([]fastview.EleUpdate, 0, len(d.latest))
	for _, update := range d.latest {
		initial = append(initial, update)
	}
	sub.merge(initial)
	d.subscribers[sub] = struct{}{}
	d.mu.Unlock()

	output := make(chan []fastview.EleUpdate)
	go func() {
		defer close(output)
		defer func() {
			d.mu.Lock()
			delete(d.subscribers, sub)
			d.mu.Unlock()
		}()

		for {
			select {
			case <-done:
				return
			case <-sub.notify:
			}

			batch := sub.take()
			if len(batch) == 0 {
				continue
			}
			select {
			case output <- batch:
			case <-done:
				return
			}
		}
	}()
	return output
}

// subscriber is a per-page mailbox that overwrites pending values for the same ele-id,
// so redundant updates are never sent, only the latest.
type subscriber struct {
	mu      sync.Mutex
	pending map[string]fastview.EleUpdate
	notify  chan struct{}
}

func (sub *subscriber) merge(updates []fastview.EleUpdate) {
	if len(updates) == 0 {
		return
	}
	sub.mu.Lock()
	for _, update := range updates {
		sub.pending[update.EleId] = update
	}
	sub.mu.Unlock()

	select {
	case sub.notify <- struct{}{}:
	default:
	}
}

func (sub *subscriber) take() []fastview.EleUpdate {
	sub.mu.Lock()
	defer sub.mu.Unlock()
	batch := slicedVals(sub.pending)
	sub.pending = map[string]fastview.EleUpdate{}
	return batch
}

// returns the values of a map as a slice
func slicedVals[T1 comparable, T2 any](mp map[T1]T2) (sliced []T2) {
	for _, v := range mp {
		sliced = append(sliced, v)
	}
	return
}
