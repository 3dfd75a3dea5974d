package session

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"tetrisviz/models"
	"tetrisviz/render"
	"tetrisviz/telemetry"

	"github.com/sirupsen/logrus/hooks/test"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeChannel struct {
	mu       sync.Mutex
	handlers map[string]func(json.RawMessage)
}

func (fc *fakeChannel) Subscribe(event string, handler func(payload json.RawMessage)) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.handlers[event] = handler
}

func (fc *fakeChannel) push(event, payload string) {
	fc.mu.Lock()
	handler := fc.handlers[event]
	fc.mu.Unlock()
	if handler != nil {
		handler(json.RawMessage(payload))
	}
}

type fakeDisplay struct {
	mu      sync.Mutex
	boards  int
	fields  map[telemetry.Field]string
	notices []string
}

func (fd *fakeDisplay) ShowBoard(render.Surface) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.boards++
}

func (fd *fakeDisplay) ShowFields(fields map[telemetry.Field]string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.fields = fields
}

func (fd *fakeDisplay) ShowNotice(kind string, message string) {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	fd.notices = append(fd.notices, kind+": "+message)
}

func (fd *fakeDisplay) boardCount() int {
	fd.mu.Lock()
	defer fd.mu.Unlock()
	return fd.boards
}

type fakeDispatcher struct {
	starts, stops int
	hyper         []models.HyperparameterRequest
}

func (fd *fakeDispatcher) RequestStart() { fd.starts++ }
func (fd *fakeDispatcher) RequestStop()  { fd.stops++ }
func (fd *fakeDispatcher) RequestHyperparameterUpdate(req models.HyperparameterRequest) {
	fd.hyper = append(fd.hyper, req)
}

const cellSize = 10

type fixture struct {
	channel    *fakeChannel
	display    *fakeDisplay
	dispatcher *fakeDispatcher
	raster     *render.Raster
	controller *Controller
}

func newFixture() *fixture {
	logger, _ := test.NewNullLogger()
	fx := &fixture{
		channel:    &fakeChannel{handlers: map[string]func(json.RawMessage){}},
		display:    &fakeDisplay{},
		dispatcher: &fakeDispatcher{},
		raster:     render.NewRaster(render.Size(cellSize), render.DefaultPalette.Background()),
	}
	fx.controller = NewController(
		fx.channel,
		render.NewBoardRenderer(render.DefaultPalette, cellSize),
		fx.raster,
		fx.display,
		fx.dispatcher,
		logger)
	return fx
}

// drain handles everything queued so far, as Run would.
func (fx *fixture) drain() {
	for {
		select {
		case ev := <-fx.controller.events:
			fx.controller.Handle(ev)
		default:
			return
		}
	}
}

const boardWithPiece = `{
	"board": [[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],
		[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],
		[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],
		[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],
		[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[0,0,0,0,0,0,0,0,0,0],[7,7,7,7,0,7,7,7,7,7]],
	"current_piece": {"shape": [[1,1,1,1]], "x": 3, "y": 0}
}`

func TestStateMachine(t *testing.T) {
	Convey("Given a new controller", t, func() {
		fx := newFixture()

		Convey("It starts disconnected with nothing subscribed", func() {
			So(fx.controller.State(), ShouldEqual, Disconnected)
			So(fx.channel.handlers, ShouldBeEmpty)
		})

		Convey("Inbound events are dropped while disconnected", func() {
			fx.controller.Handle(Event{Kind: EventGameUpdate, Payload: json.RawMessage(boardWithPiece)})
			fx.controller.Handle(Event{Kind: EventRedraw})
			So(fx.display.boards, ShouldEqual, 0)
			So(fx.controller.State(), ShouldEqual, Disconnected)
		})

		Convey("Operator commands are sent whatever the state", func() {
			fx.controller.Handle(Event{Kind: EventOperatorStart})
			fx.controller.Handle(Event{Kind: EventOperatorStop})
			So(fx.dispatcher.starts, ShouldEqual, 1)
			So(fx.dispatcher.stops, ShouldEqual, 1)
			So(fx.controller.State(), ShouldEqual, Disconnected)
		})

		Convey("Readiness activates the session and subscribes the inbound streams", func() {
			fx.controller.Handle(Event{Kind: EventReady})
			So(fx.controller.State(), ShouldEqual, Active)
			for _, kind := range inboundEvents {
				So(fx.channel.handlers, ShouldContainKey, string(kind))
			}

			Convey("A second readiness signal is ignored", func() {
				fx.controller.Handle(Event{Kind: EventReady})
				So(fx.controller.State(), ShouldEqual, Active)
			})
		})
	})
}

func TestActiveSession(t *testing.T) {
	Convey("Given an active session", t, func() {
		fx := newFixture()
		fx.controller.Handle(Event{Kind: EventReady})

		Convey("A game update repaints the surface", func() {
			fx.channel.push("game_update", boardWithPiece)
			fx.drain()
			So(fx.display.boards, ShouldEqual, 1)
			So(fx.raster.At(3*cellSize, 0), ShouldResemble, render.DefaultPalette[1])
			So(fx.raster.At(0, 19*cellSize), ShouldResemble, render.DefaultPalette[7])
			So(fx.raster.At(4*cellSize, 19*cellSize), ShouldResemble, render.DefaultPalette.Background())
		})

		Convey("A game update with float cells is rendered like an integral one", func() {
			floats := strings.NewReplacer("0,", "0.0,", "0]", "0.0]", "7,", "7.0,", "7]", "7.0]")
			fx.channel.push("game_update", floats.Replace(boardWithPiece))
			fx.drain()
			So(fx.display.boards, ShouldEqual, 1)
			So(fx.raster.At(3*cellSize, 0), ShouldResemble, render.DefaultPalette[1])
			So(fx.raster.At(0, 19*cellSize), ShouldResemble, render.DefaultPalette[7])
			So(fx.raster.At(4*cellSize, 19*cellSize), ShouldResemble, render.DefaultPalette.Background())
		})

		Convey("A cell that is not a number paints the fallback color", func() {
			fx.channel.push("game_update", strings.Replace(boardWithPiece, "[7,7,7,7,0", `["x",7,7,7,0`, 1))
			fx.drain()
			So(fx.display.boards, ShouldEqual, 1)
			So(fx.raster.At(0, 19*cellSize), ShouldResemble, render.FallbackColor)
			So(fx.raster.At(1*cellSize, 19*cellSize), ShouldResemble, render.DefaultPalette[7])
		})

		Convey("An absent piece skips the overlay", func() {
			fx.channel.push("game_update", `{"board":[],"current_piece":null}`)
			fx.drain()
			So(fx.display.boards, ShouldEqual, 1)
			So(fx.raster.At(3*cellSize, 0), ShouldResemble, render.DefaultPalette.Background())
		})

		Convey("An undecodable game update leaves the display alone", func() {
			fx.channel.push("game_update", `{"board":"nope"}`)
			fx.drain()
			So(fx.display.boards, ShouldEqual, 0)
		})

		Convey("A training update is formatted onto the display", func() {
			fx.channel.push("training_update", `{"episode":2,"score":10,"loss":null,"epoch":1,"max_epochs":5,"learning_rate":0.0001,"loss_rate":0.1,"epsilon":1}`)
			fx.drain()
			So(fx.display.fields[telemetry.Loss], ShouldEqual, "Loss: N/A")
			So(fx.display.fields[telemetry.LearningRate], ShouldEqual, "Learning Rate: 0.000100")
			So(fx.display.fields[telemetry.Epoch], ShouldEqual, "Epoch: 1/5")
		})

		Convey("Lifecycle notices are shown without changing state", func() {
			fx.channel.push("training_started", `{"message":"Training started"}`)
			fx.channel.push("training_stopped", `{"message":"Training stopped"}`)
			fx.channel.push("hyperparameters_updated", `{"message":"Hyperparameters updated successfully"}`)
			fx.drain()
			So(fx.display.notices, ShouldResemble, []string{
				"training_started: Training started",
				"training_stopped: Training stopped",
				"hyperparameters_updated: Hyperparameters updated successfully",
			})
			So(fx.controller.State(), ShouldEqual, Active)
		})

		Convey("Operator actions map one to one onto commands", func() {
			fx.controller.Start()
			fx.controller.Start()
			fx.controller.Stop()
			req := models.HyperparameterRequest{LearningRate: "0.01", BatchSize: "abc", MaxEpochs: "10"}
			fx.controller.UpdateHyperparameters(req)
			fx.drain()
			So(fx.dispatcher.starts, ShouldEqual, 2)
			So(fx.dispatcher.stops, ShouldEqual, 1)
			So(fx.dispatcher.hyper, ShouldResemble, []models.HyperparameterRequest{req})
		})

		Convey("Redraw repaints the last known state", func() {
			fx.controller.Redraw()
			fx.drain()
			So(fx.display.boards, ShouldEqual, 0)

			fx.channel.push("game_update", boardWithPiece)
			fx.channel.push("training_update", `{"episode":9}`)
			fx.drain()
			fx.display.fields = nil

			fx.controller.Redraw()
			fx.drain()
			So(fx.display.boards, ShouldEqual, 2)
			So(fx.display.fields[telemetry.Episode], ShouldEqual, "Episode: 9")
		})
	})
}

func TestRun(t *testing.T) {
	Convey("When the controller runs its loop", t, func() {
		fx := newFixture()
		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			defer close(done)
			fx.controller.Run(ctx)
		}()

		fx.controller.Ready()
		deadline := time.Now().Add(2 * time.Second)
		for fx.display.boardCount() == 0 && time.Now().Before(deadline) {
			fx.channel.push("game_update", boardWithPiece)
			time.Sleep(10 * time.Millisecond)
		}
		So(fx.display.boardCount(), ShouldBeGreaterThan, 0)

		cancel()
		<-done

		Convey("Posting after shutdown does not block", func() {
			for i := 0; i < queueSize*2; i++ {
				fx.controller.Post(Event{Kind: EventOperatorStart})
			}
		})
	})
}
