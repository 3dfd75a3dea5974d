// console is the headless alternative to the web surface: the board is drawn with
// terminal colors and operator commands are read from a line-oriented input.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"tetrisviz/models"
	"tetrisviz/render"
	"tetrisviz/telemetry"

	"github.com/charmbracelet/lipgloss"
	"github.com/sirupsen/logrus"
)

var (
	fieldStyle  = lipgloss.NewStyle().PaddingLeft(1)
	noticeStyle = lipgloss.NewStyle().Bold(true)
)

// Display writes frames and telemetry to out. Only the controller goroutine calls it.
type Display struct {
	out    io.Writer
	fields map[telemetry.Field]string
}

func NewDisplay(out io.Writer) *Display {
	return &Display{
		out:    out,
		fields: map[telemetry.Field]string{},
	}
}

// ShowBoard prints the board beside the latest telemetry.
func (d *Display) ShowBoard(surface render.Surface) {
	board, ok := surface.(fmt.Stringer)
	if !ok {
		return
	}
	fmt.Fprintln(d.out, lipgloss.JoinHorizontal(lipgloss.Top, board.String(), d.panel()))
}

// ShowFields replaces the telemetry panel; it is printed with the next board.
func (d *Display) ShowFields(fields map[telemetry.Field]string) {
	for k, v := range fields {
		d.fields[k] = v
	}
}

func (d *Display) ShowNotice(kind string, message string) {
	fmt.Fprintln(d.out, noticeStyle.Render(kind+": "+message))
}

func (d *Display) panel() string {
	lines := make([]string, 0, len(telemetry.Fields))
	for _, field := range telemetry.Fields {
		if text, ok := d.fields[field]; ok {
			lines = append(lines, text)
		}
	}
	return fieldStyle.Render(strings.Join(lines, "\n"))
}

// Operator receives parsed commands.
type Operator interface {
	Start()
	Stop()
	UpdateHyperparameters(req models.HyperparameterRequest)
	Redraw()
}

// ReadCommands reads lines until r is exhausted or ctx is done:
//
//	start
//	stop
//	hp <learning_rate> <batch_size> <max_epochs>
//	redraw
//
// hp arguments are forwarded as typed.
func ReadCommands(
	ctx context.Context,
	r io.Reader,
	operator Operator,
	log logrus.FieldLogger,
) error {
	lines := make(chan string)
	errs := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		errs <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-errs:
					return err
				default:
					return nil
				}
			}
			dispatch(line, operator, log)
		}
	}
}

func dispatch(line string, operator Operator, log logrus.FieldLogger) {
	args := strings.Fields(line)
	if len(args) == 0 {
		return
	}

	switch args[0] {
	case "start":
		operator.Start()
	case "stop":
		operator.Stop()
	case "redraw":
		operator.Redraw()
	case "hp":
		req := models.HyperparameterRequest{}
		for i, dst := range []*string{&req.LearningRate, &req.BatchSize, &req.MaxEpochs} {
			if i+1 < len(args) {
				*dst = args[i+1]
			}
		}
		operator.UpdateHyperparameters(req)
	default:
		log.WithField("command", args[0]).Warn("unknown command")
	}
}
