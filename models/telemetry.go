package models

import (
	"encoding/json"
	"fmt"
)

// TelemetryRecord is one snapshot of training progress, as pushed in training_update.
// Loss is nil until the remote has computed one.
type TelemetryRecord struct {
	Episode      int      `json:"episode"`
	Score        int      `json:"score"`
	Loss         *float64 `json:"loss"`
	Epoch        int      `json:"epoch"`
	MaxEpochs    int      `json:"max_epochs"`
	LearningRate float64  `json:"learning_rate"`
	LossRate     float64  `json:"loss_rate"`
	Epsilon      float64  `json:"epsilon"`
}

// HyperparameterRequest holds the operator's raw text for set_hyperparameters.
// The fields are forwarded as typed by the operator; the remote owns validation.
type HyperparameterRequest struct {
	LearningRate string `json:"learning_rate"`
	BatchSize    string `json:"batch_size"`
	MaxEpochs    string `json:"max_epochs"`
}

// Notice is the informational payload of the lifecycle events.
type Notice struct {
	Message string `json:"message"`
}

// DecodeTelemetry decodes a training_update payload.
func DecodeTelemetry(payload json.RawMessage) (rec TelemetryRecord, err error) {
	if err = json.Unmarshal(payload, &rec); err != nil {
		err = fmt.Errorf("decode telemetry: %w", err)
	}
	return
}

// DecodeNotice decodes a lifecycle payload. An empty payload is an empty notice.
func DecodeNotice(payload json.RawMessage) (notice Notice, err error) {
	if len(payload) == 0 {
		return
	}
	if err = json.Unmarshal(payload, &notice); err != nil {
		err = fmt.Errorf("decode notice: %w", err)
	}
	return
}
