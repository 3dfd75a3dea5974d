package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"tetrisviz/models"
	"tetrisviz/render"
	"tetrisviz/server/fastview"
	"tetrisviz/telemetry"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

const shutdownWait = 5 * time.Second

// Operator receives the operator's actions. Each call must map to exactly one command.
type Operator interface {
	Start()
	Stop()
	UpdateHyperparameters(req models.HyperparameterRequest)
}

// Server is the operator's control surface: one page showing the board and telemetry,
// a websocket per open page for live updates and operator actions, and a small
// form-post api for scripts.
type Server struct {
	addr     string
	display  *Display
	operator Operator
	log      logrus.FieldLogger
	router   *mux.Router
	page     *template.Template
	board    pageBoard
}

type pageBoard struct {
	Width, Height int
}

// NewServer builds the routes. cellSize sizes the board image on the page.
func NewServer(
	addr string,
	display *Display,
	operator Operator,
	cellSize int,
	log logrus.FieldLogger,
) (*Server, error) {
	page, err := template.New("index.html").Parse(indexTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse index: %w", err)
	}

	size := render.Size(cellSize)
	server := &Server{
		addr:     addr,
		display:  display,
		operator: operator,
		log:      log,
		router:   mux.NewRouter(),
		page:     page,
		board:    pageBoard{Width: size.Dx(), Height: size.Dy()},
	}

	server.router.HandleFunc("/", server.serveIndex).Methods(http.MethodGet)
	server.router.HandleFunc("/ws", server.serveWebsocket)
	server.router.HandleFunc("/board.png", server.serveBoard).Methods(http.MethodGet)
	api := server.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/start", server.postStart).Methods(http.MethodPost)
	api.HandleFunc("/stop", server.postStop).Methods(http.MethodPost)
	api.HandleFunc("/hyperparameters", server.postHyperparameters).Methods(http.MethodPost)

	return server, nil
}

// Handler exposes the router, mostly for tests.
func (server *Server) Handler() http.Handler {
	return server.router
}

// Serve listens until ctx is cancelled, then shuts down.
func (server *Server) Serve(ctx context.Context) (err error) {
	srv := &http.Server{
		Addr:    server.addr,
		Handler: server.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWait)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	server.log.WithField("addr", server.addr).Info("operator surface listening")
	if err = srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// serveWebsocket publishes display updates to one page and accepts its actions.
func (server *Server) serveWebsocket(w http.ResponseWriter, r *http.Request) {
	done := make(chan struct{})
	defer close(done)

	cli, err := fastview.NewClient(server.display.Subscribe(done), server.onPageMessage, w, r)
	if err != nil {
		server.log.WithError(err).Warn("upgrade failed")
		return
	}

	server.log.WithField("remote", r.RemoteAddr).Info("page connected")
	if err = cli.Sync(); err != nil {
		server.log.WithError(err).Warn("page sync ended")
		return
	}
	server.log.WithField("remote", r.RemoteAddr).Info("page disconnected")
}

// pageMessage is what the page's buttons send over the websocket.
type pageMessage struct {
	Action string `json:"action"`
	models.HyperparameterRequest
}

func (server *Server) onPageMessage(msg []byte) {
	var pm pageMessage
	if err := json.Unmarshal(msg, &pm); err != nil {
		server.log.WithError(err).Warn("bad page message")
		return
	}
	switch pm.Action {
	case "start":
		server.operator.Start()
	case "stop":
		server.operator.Stop()
	case "hyperparameters":
		server.operator.UpdateHyperparameters(pm.HyperparameterRequest)
	default:
		server.log.WithField("action", pm.Action).Warn("unknown page action")
	}
}

func (server *Server) postStart(w http.ResponseWriter, r *http.Request) {
	server.operator.Start()
	w.WriteHeader(http.StatusAccepted)
}

func (server *Server) postStop(w http.ResponseWriter, r *http.Request) {
	server.operator.Stop()
	w.WriteHeader(http.StatusAccepted)
}

// postHyperparameters forwards the three form values exactly as posted.
func (server *Server) postHyperparameters(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	server.operator.UpdateHyperparameters(models.HyperparameterRequest{
		LearningRate: r.PostForm.Get("learning_rate"),
		BatchSize:    r.PostForm.Get("batch_size"),
		MaxEpochs:    r.PostForm.Get("max_epochs"),
	})
	w.WriteHeader(http.StatusAccepted)
}

func (server *Server) serveBoard(w http.ResponseWriter, r *http.Request) {
	frame := server.display.PNG()
	if frame == nil {
		http.Error(w, "no board yet", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(frame)
}

type slot struct {
	ID, Text string
}

type indexData struct {
	Board  pageBoard
	Slots  []slot
	Notice string
}

func (server *Server) serveIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{
		Board:  server.board,
		Notice: server.display.Text(NoticeElement),
	}
	for _, field := range telemetry.Fields {
		data.Slots = append(data.Slots, slot{
			ID:   string(field),
			Text: server.display.Text(string(field)),
		})
	}

	w.Header().Set("Content-Type", "text/html")
	if err := server.page.Execute(w, data); err != nil {
		server.log.WithError(err).Warn("index render failed")
	}
}
