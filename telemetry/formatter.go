// telemetry turns training telemetry records into the display strings shown to the operator.
// Decimal places per field are fixed so downstream consumers can diff the strings.
package telemetry

import (
	"math"
	"math/big"
	"strconv"
	"strings"

	"tetrisviz/models"
)

// Field identifies a display slot. The values double as the element ids of the web view.
type Field string

const (
	Episode      Field = "episode-info"
	Score        Field = "score-info"
	Loss         Field = "loss-info"
	Epoch        Field = "epoch-info"
	LearningRate Field = "learning-rate-info"
	LossRate     Field = "loss-rate-info"
	Epsilon      Field = "epsilon-info"
)

// Fields lists every slot in display order.
var Fields = []Field{Episode, Score, Loss, Epoch, LearningRate, LossRate, Epsilon}

// NotAvailable is shown for a loss the remote has not computed yet.
const NotAvailable = "N/A"

// Format renders every field of rec. Decimals are rounded to nearest with ties away
// from zero, as a browser's toFixed does.
func Format(rec models.TelemetryRecord) map[Field]string {
	loss := NotAvailable
	if rec.Loss != nil {
		loss = fixed(*rec.Loss, 4)
	}

	return map[Field]string{
		Episode:      "Episode: " + strconv.Itoa(rec.Episode),
		Score:        "Score: " + strconv.Itoa(rec.Score),
		Loss:         "Loss: " + loss,
		Epoch:        "Epoch: " + strconv.Itoa(rec.Epoch) + "/" + strconv.Itoa(rec.MaxEpochs),
		LearningRate: "Learning Rate: " + fixed(rec.LearningRate, 6),
		LossRate:     "Loss Rate: " + fixed(rec.LossRate, 6),
		Epsilon:      "Epsilon: " + fixed(rec.Epsilon, 4),
	}
}

// fixed rounds the exact binary value of v to the nearest multiple of 10^-places,
// ties away from zero, and pads to places decimals.
func fixed(v float64, places int) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', places, 64)
	}
	sign := ""
	if v < 0 {
		sign, v = "-", -v
	}

	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)
	scaled := new(big.Rat).SetFloat64(v)
	scaled.Mul(scaled, new(big.Rat).SetInt(scale))
	scaled.Add(scaled, big.NewRat(1, 2))
	digits := new(big.Int).Quo(scaled.Num(), scaled.Denom()).String()

	if places == 0 {
		return sign + digits
	}
	if len(digits) <= places {
		digits = strings.Repeat("0", places-len(digits)+1) + digits
	}
	cut := len(digits) - places
	return sign + digits[:cut] + "." + digits[cut:]
}
