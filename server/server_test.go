package server

import (
	"bytes"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"tetrisviz/models"
	"tetrisviz/render"
	"tetrisviz/server/fastview"
	"tetrisviz/telemetry"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeOperator struct {
	mu     sync.Mutex
	starts int
	stops  int
	hyper  []models.HyperparameterRequest
	calls  chan struct{}
}

func newFakeOperator() *fakeOperator {
	return &fakeOperator{calls: make(chan struct{}, 16)}
}

func (fo *fakeOperator) Start() {
	fo.mu.Lock()
	fo.starts++
	fo.mu.Unlock()
	fo.calls <- struct{}{}
}

func (fo *fakeOperator) Stop() {
	fo.mu.Lock()
	fo.stops++
	fo.mu.Unlock()
	fo.calls <- struct{}{}
}

func (fo *fakeOperator) UpdateHyperparameters(req models.HyperparameterRequest) {
	fo.mu.Lock()
	fo.hyper = append(fo.hyper, req)
	fo.mu.Unlock()
	fo.calls <- struct{}{}
}

const cellSize = 20

func newTestServer() (*httptest.Server, *Display, *fakeOperator) {
	logger, _ := test.NewNullLogger()
	display := NewDisplay(logger)
	operator := newFakeOperator()
	server, err := NewServer(":0", display, operator, cellSize, logger)
	if err != nil {
		panic(err)
	}
	return httptest.NewServer(server.Handler()), display, operator
}

func renderedRaster() *render.Raster {
	raster := render.NewRaster(render.Size(cellSize), render.DefaultPalette.Background())
	render.NewBoardRenderer(render.DefaultPalette, cellSize).
		Render(raster, models.NewBoard(), &models.Piece{Shape: [][]int{{5}}, X: 1, Y: 1})
	return raster
}

func TestServerRoutes(t *testing.T) {
	Convey("Given a running operator surface", t, func() {
		srv, display, operator := newTestServer()
		defer srv.Close()

		Convey("The index lists every telemetry slot with its current text", func() {
			display.ShowFields(map[telemetry.Field]string{telemetry.Score: "Score: 77"})
			resp, err := http.Get(srv.URL + "/")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			body, _ := io.ReadAll(resp.Body)
			So(resp.StatusCode, ShouldEqual, http.StatusOK)
			for _, field := range telemetry.Fields {
				So(string(body), ShouldContainSubstring, `id="`+string(field)+`"`)
			}
			So(string(body), ShouldContainSubstring, "Score: 77")
			So(string(body), ShouldContainSubstring, `width="200"`)
		})

		Convey("The board image is missing until the first board arrives", func() {
			resp, err := http.Get(srv.URL + "/board.png")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)

			display.ShowBoard(renderedRaster())
			resp, err = http.Get(srv.URL + "/board.png")
			So(err, ShouldBeNil)
			defer resp.Body.Close()
			So(resp.Header.Get("Content-Type"), ShouldEqual, "image/png")
			img, err := png.Decode(resp.Body)
			So(err, ShouldBeNil)
			So(img.Bounds(), ShouldResemble, render.Size(cellSize))
		})

		Convey("Start and stop posts each reach the operator once", func() {
			resp, err := http.Post(srv.URL+"/api/start", "text/plain", nil)
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusAccepted)

			resp, err = http.Post(srv.URL+"/api/stop", "text/plain", nil)
			So(err, ShouldBeNil)
			resp.Body.Close()

			So(operator.starts, ShouldEqual, 1)
			So(operator.stops, ShouldEqual, 1)
		})

		Convey("Hyperparameter form values are forwarded raw", func() {
			resp, err := http.PostForm(srv.URL+"/api/hyperparameters", url.Values{
				"learning_rate": {"1e-3"},
				"batch_size":    {"lots"},
			})
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(operator.hyper, ShouldResemble, []models.HyperparameterRequest{
				{LearningRate: "1e-3", BatchSize: "lots", MaxEpochs: ""},
			})
		})

		Convey("Commands only accept POST", func() {
			resp, err := http.Get(srv.URL + "/api/start")
			So(err, ShouldBeNil)
			resp.Body.Close()
			So(resp.StatusCode, ShouldEqual, http.StatusMethodNotAllowed)
			So(operator.starts, ShouldEqual, 0)
		})
	})
}

func TestPageWebsocket(t *testing.T) {
	Convey("Given a page connected over websocket", t, func() {
		srv, display, operator := newTestServer()
		defer srv.Close()

		display.ShowFields(map[telemetry.Field]string{telemetry.Episode: "Episode: 1"})

		wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
		ws, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
		So(err, ShouldBeNil)
		defer ws.Close()
		_ = ws.SetReadDeadline(time.Now().Add(2 * time.Second))

		Convey("It first receives the current state", func() {
			var updates []fastview.EleUpdate
			So(ws.ReadJSON(&updates), ShouldBeNil)
			So(updates, ShouldContain, fastview.SetText(string(telemetry.Episode), "Episode: 1"))

			Convey("Then later updates", func() {
				display.ShowNotice("training_started", "Training started")
				So(ws.ReadJSON(&updates), ShouldBeNil)
				So(updates, ShouldContain, fastview.SetText(NoticeElement, "Training started"))
			})
		})

		Convey("Its buttons become operator actions", func() {
			So(ws.WriteMessage(websocket.TextMessage, []byte(`{"action":"start"}`)), ShouldBeNil)
			So(ws.WriteMessage(websocket.TextMessage,
				[]byte(`{"action":"hyperparameters","learning_rate":"0.5","batch_size":"8","max_epochs":"x"}`)), ShouldBeNil)

			for i := 0; i < 2; i++ {
				select {
				case <-operator.calls:
				case <-time.After(2 * time.Second):
					t.Fatal("operator was not called")
				}
			}
			operator.mu.Lock()
			defer operator.mu.Unlock()
			So(operator.starts, ShouldEqual, 1)
			So(operator.hyper, ShouldResemble, []models.HyperparameterRequest{
				{LearningRate: "0.5", BatchSize: "8", MaxEpochs: "x"},
			})
		})
	})
}

func TestDisplay(t *testing.T) {
	Convey("Given a display with one subscriber", t, func() {
		logger, _ := test.NewNullLogger()
		display := NewDisplay(logger)
		done := make(chan struct{})
		defer close(done)
		updates := display.Subscribe(done)

		Convey("Repeated updates to one element coalesce to the newest", func() {
			for i := 0; i < 5; i++ {
				display.ShowFields(map[telemetry.Field]string{telemetry.Score: "Score: " + string(rune('0'+i))})
			}
			var got string
			deadline := time.After(2 * time.Second)
			for got != "Score: 4" {
				select {
				case batch := <-updates:
					for _, u := range batch {
						if u.EleId == string(telemetry.Score) {
							got = u.Ops[0].Value
						}
					}
				case <-deadline:
					t.Fatal("never saw the newest value")
				}
			}
			So(got, ShouldEqual, "Score: 4")
			So(display.Text(string(telemetry.Score)), ShouldEqual, "Score: 4")
		})

		Convey("A board update carries a png data uri", func() {
			display.ShowBoard(renderedRaster())
			batch := <-updates
			So(len(batch), ShouldEqual, 1)
			So(batch[0].EleId, ShouldEqual, BoardElement)
			So(batch[0].Ops[0].Key, ShouldEqual, "src")
			So(batch[0].Ops[0].Value, ShouldStartWith, "data:image/png;base64,")
			So(bytes.HasPrefix(display.PNG(), []byte("\x89PNG")), ShouldBeTrue)
		})

		Convey("Surfaces without png support are ignored", func() {
			display.ShowBoard(render.NewTerminal(render.Size(cellSize), cellSize, render.DefaultPalette.Background()))
			So(display.PNG(), ShouldBeNil)
		})
	})
}
