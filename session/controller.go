// session binds the push channel, the board renderer, the telemetry formatter and the
// command dispatcher together. All handling happens on one goroutine, in the order events
// are queued; transport readers and operator surfaces only enqueue.
package session

import (
	"context"
	"encoding/json"

	"tetrisviz/command"
	"tetrisviz/models"
	"tetrisviz/render"
	"tetrisviz/telemetry"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the controller's connection state.
type State int

const (
	// Disconnected is the initial state, before the channel signals readiness.
	Disconnected State = iota
	// Active lasts until the process is torn down.
	Active
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Active:
		return "active"
	}
	return "unknown"
}

// EventKind names both inbound channel events and operator actions.
type EventKind string

const (
	EventReady                  EventKind = "ready"
	EventGameUpdate             EventKind = "game_update"
	EventTrainingUpdate         EventKind = "training_update"
	EventTrainingStarted        EventKind = "training_started"
	EventTrainingStopped        EventKind = "training_stopped"
	EventHyperparametersUpdated EventKind = "hyperparameters_updated"
	EventOperatorStart          EventKind = "operator_start"
	EventOperatorStop           EventKind = "operator_stop"
	EventOperatorHyperparams    EventKind = "operator_hyperparameters"
	EventRedraw                 EventKind = "redraw"
)

// inboundEvents are subscribed on the channel when the session becomes active.
var inboundEvents = []EventKind{
	EventGameUpdate,
	EventTrainingUpdate,
	EventTrainingStarted,
	EventTrainingStopped,
	EventHyperparametersUpdated,
}

// Event is one unit of work for the controller. Payload is the raw channel payload,
// or an encoded models.HyperparameterRequest for EventOperatorHyperparams.
type Event struct {
	Kind    EventKind
	Payload json.RawMessage
}

// Channel is the subscription side of the push channel.
type Channel interface {
	Subscribe(event string, handler func(payload json.RawMessage))
}

// Display receives everything the operator sees. Calls are made from the controller's
// goroutine only; implementations that share state with other goroutines must copy.
type Display interface {
	ShowBoard(surface render.Surface)
	ShowFields(fields map[telemetry.Field]string)
	ShowNotice(kind string, message string)
}

// Dispatcher is the outbound command side.
type Dispatcher interface {
	RequestStart()
	RequestStop()
	RequestHyperparameterUpdate(req models.HyperparameterRequest)
}

var _ Dispatcher = (*command.Dispatcher)(nil)

type dispatchKey struct {
	state State
	kind  EventKind
}

type handlerFunc func(c *Controller, payload json.RawMessage)

// dispatchTable is the whole state machine: an event with no entry for the current
// state is dropped.
var dispatchTable = map[dispatchKey]handlerFunc{
	{Disconnected, EventReady}:            (*Controller).onReady,
	{Active, EventGameUpdate}:             (*Controller).onGameUpdate,
	{Active, EventTrainingUpdate}:         (*Controller).onTrainingUpdate,
	{Active, EventTrainingStarted}:        onNotice(EventTrainingStarted),
	{Active, EventTrainingStopped}:        onNotice(EventTrainingStopped),
	{Active, EventHyperparametersUpdated}: onNotice(EventHyperparametersUpdated),
	{Active, EventRedraw}:                 (*Controller).onRedraw,

	// Commands go out in either state; delivery is the channel's business.
	{Disconnected, EventOperatorStart}:       (*Controller).onOperatorStart,
	{Disconnected, EventOperatorStop}:        (*Controller).onOperatorStop,
	{Disconnected, EventOperatorHyperparams}: (*Controller).onOperatorHyperparams,
	{Active, EventOperatorStart}:             (*Controller).onOperatorStart,
	{Active, EventOperatorStop}:              (*Controller).onOperatorStop,
	{Active, EventOperatorHyperparams}:       (*Controller).onOperatorHyperparams,
}

const queueSize = 64

// Controller owns the surface, the last known board and telemetry, and the state.
type Controller struct {
	state      State
	channel    Channel
	renderer   *render.BoardRenderer
	surface    render.Surface
	display    Display
	dispatcher Dispatcher
	log        logrus.FieldLogger
	events     chan Event
	stopped    chan struct{}

	lastGame      *models.GameState
	lastTelemetry *models.TelemetryRecord
}

// NewController returns a controller in the Disconnected state.
func NewController(
	channel Channel,
	renderer *render.BoardRenderer,
	surface render.Surface,
	display Display,
	dispatcher Dispatcher,
	log logrus.FieldLogger,
) *Controller {
	return &Controller{
		state:      Disconnected,
		channel:    channel,
		renderer:   renderer,
		surface:    surface,
		display:    display,
		dispatcher: dispatcher,
		log:        log.WithField("session", uuid.NewString()),
		events:     make(chan Event, queueSize),
		stopped:    make(chan struct{}),
	}
}

// State returns the current state. Only meaningful from the controller's goroutine or
// when Run is not running.
func (c *Controller) State() State {
	return c.state
}

// Run handles queued events one at a time until ctx is done. It must be called once.
func (c *Controller) Run(ctx context.Context) {
	defer close(c.stopped)
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-c.events:
			c.Handle(ev)
		}
	}
}

// Post queues an event for Run. It blocks while the queue is full and drops the
// event once Run has returned.
func (c *Controller) Post(ev Event) {
	select {
	case c.events <- ev:
	case <-c.stopped:
	}
}

// Ready signals that the channel is connected.
func (c *Controller) Ready() {
	c.Post(Event{Kind: EventReady})
}

// Start, Stop and UpdateHyperparameters queue operator actions. Each call becomes one
// outbound command; nothing is debounced.
func (c *Controller) Start() {
	c.log.Info("operator: start training")
	c.Post(Event{Kind: EventOperatorStart})
}

func (c *Controller) Stop() {
	c.log.Info("operator: stop training")
	c.Post(Event{Kind: EventOperatorStop})
}

func (c *Controller) UpdateHyperparameters(req models.HyperparameterRequest) {
	c.log.Info("operator: update hyperparameters")
	payload, err := json.Marshal(req)
	if err != nil {
		c.log.WithError(err).Warn("dropping hyperparameter request")
		return
	}
	c.Post(Event{Kind: EventOperatorHyperparams, Payload: payload})
}

// Handle processes one event synchronously against the dispatch table.
func (c *Controller) Handle(ev Event) {
	handle, ok := dispatchTable[dispatchKey{c.state, ev.Kind}]
	if !ok {
		c.log.WithFields(logrus.Fields{
			"state": c.state,
			"event": ev.Kind,
		}).Debug("no handler, dropping event")
		return
	}
	handle(c, ev.Payload)
}

func (c *Controller) onReady(json.RawMessage) {
	c.state = Active
	for _, kind := range inboundEvents {
		kind := kind
		c.channel.Subscribe(string(kind), func(payload json.RawMessage) {
			c.Post(Event{Kind: kind, Payload: payload})
		})
	}
	c.log.WithField("state", c.state).Info("session active")
}

func (c *Controller) onGameUpdate(payload json.RawMessage) {
	game, err := models.DecodeGameState(payload)
	if err != nil {
		c.log.WithError(err).Warn("dropping game update")
		return
	}
	if err = game.Board.Validate(); err != nil {
		c.log.WithError(err).Warn("malformed board, rendering what is usable")
	}
	c.lastGame = &game
	c.log.WithField("piece", game.CurrentPiece != nil).Debug("game update")
	c.drawBoard()
}

func (c *Controller) onTrainingUpdate(payload json.RawMessage) {
	rec, err := models.DecodeTelemetry(payload)
	if err != nil {
		c.log.WithError(err).Warn("dropping training update")
		return
	}
	c.lastTelemetry = &rec
	c.log.WithFields(logrus.Fields{
		"episode": rec.Episode,
		"epoch":   rec.Epoch,
	}).Debug("training update")
	c.display.ShowFields(telemetry.Format(rec))
}

// onNotice returns a handler for informational lifecycle events. They change no state.
func onNotice(kind EventKind) handlerFunc {
	return func(c *Controller, payload json.RawMessage) {
		notice, err := models.DecodeNotice(payload)
		if err != nil {
			c.log.WithError(err).Warn("undecodable notice")
		}
		c.log.WithField("event", kind).Info(notice.Message)
		c.display.ShowNotice(string(kind), notice.Message)
	}
}

func (c *Controller) onOperatorStart(json.RawMessage) {
	c.dispatcher.RequestStart()
}

func (c *Controller) onOperatorStop(json.RawMessage) {
	c.dispatcher.RequestStop()
}

func (c *Controller) onOperatorHyperparams(payload json.RawMessage) {
	var req models.HyperparameterRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.log.WithError(err).Warn("dropping hyperparameter request")
		return
	}
	c.dispatcher.RequestHyperparameterUpdate(req)
}

// Redraw queues a repaint of the last known board and telemetry.
func (c *Controller) Redraw() {
	c.Post(Event{Kind: EventRedraw})
}

func (c *Controller) onRedraw(json.RawMessage) {
	if c.lastGame != nil {
		c.drawBoard()
	}
	if c.lastTelemetry != nil {
		c.display.ShowFields(telemetry.Format(*c.lastTelemetry))
	}
}

func (c *Controller) drawBoard() {
	c.renderer.Render(c.surface, c.lastGame.Board, c.lastGame.CurrentPiece)
	c.display.ShowBoard(c.surface)
}
