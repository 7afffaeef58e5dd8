package models

import (
	"time"
)

// Job is a unit of work for the background worker. Which fields are used depends on Type:
// train reads Epochs, learn reads Observations and Label, check reads Sequences.
type Job struct {
	ID           string                 `json:"id" msgpack:"id"`
	Type         string                 `json:"type" msgpack:"type"`
	Model        string                 `json:"model" msgpack:"model"`
	Status       string                 `json:"status" msgpack:"status"`
	Epochs       int                    `json:"epochs,omitempty" msgpack:"epochs,omitempty"`
	Label        bool                   `json:"label,omitempty" msgpack:"label,omitempty"`
	Observations []Observation          `json:"observations,omitempty" msgpack:"obs,omitempty"`
	Sequences    [][]Observation        `json:"sequences,omitempty" msgpack:"seqs,omitempty"`
	Attempts     int                    `json:"attempts" msgpack:"attempts"`
	CreatedAt    time.Time              `json:"created_at" msgpack:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" msgpack:"updated_at"`
	Result       map[string]interface{} `json:"result,omitempty" msgpack:"result,omitempty"`
	Error        string                 `json:"error,omitempty" msgpack:"error,omitempty"`
}
