package command

import (
	"tetrisviz/models"

	"github.com/sirupsen/logrus"
)

// Outbound event names understood by the remote trainer.
const (
	StartTraining      = "start_training"
	StopTraining       = "stop_training"
	SetHyperparameters = "set_hyperparameters"
)

// Emitter sends a named event. A nil payload means the event carries none.
type Emitter interface {
	Emit(event string, payload any) error
}

// Dispatcher turns operator intent into outbound messages. Sends are fire-and-forget:
// nothing is awaited from the remote and a failed send is only logged.
type Dispatcher struct {
	emitter Emitter
	log     logrus.FieldLogger
}

func NewDispatcher(emitter Emitter, log logrus.FieldLogger) *Dispatcher {
	return &Dispatcher{
		emitter: emitter,
		log:     log,
	}
}

func (d *Dispatcher) RequestStart() {
	d.send(StartTraining, nil)
}

func (d *Dispatcher) RequestStop() {
	d.send(StopTraining, nil)
}

// RequestHyperparameterUpdate forwards the operator's raw text unparsed.
// Whether the values make sense is for the remote to decide.
func (d *Dispatcher) RequestHyperparameterUpdate(req models.HyperparameterRequest) {
	d.send(SetHyperparameters, req)
}

func (d *Dispatcher) send(event string, payload any) {
	d.log.WithField("event", event).Info("emitting")
	if err := d.emitter.Emit(event, payload); err != nil {
		d.log.WithField("event", event).WithError(err).Warn("emit failed")
	}
}
