package interfaces

import (
	"io"

	"github.com/inferloop/aimguard/pkg/models"
)

// Classifier scores aim sequences and learns from labelled ones.
// Implementations are not safe for concurrent use; callers serialize access.
type Classifier interface {
	// CheckData returns the probability that the sequence is anomalous
	CheckData(obs []models.Observation) float64

	// CheckAll averages CheckData over several sequences of one event
	CheckAll(seqs [][]models.Observation) float64

	// LearnByData runs one training step on a single labelled sequence
	LearnByData(obs []models.Observation, label bool)

	// Save writes the model
	Save(w io.Writer) error

	// Load replaces the model state from r
	Load(r io.Reader) error

	// Parameters returns the number of trainable parameters
	Parameters() int
}
