package sequence

import (
	"github.com/inferloop/aimguard/pkg/models"
)

// Raw feeds every observation through the learned embedding, one timestep per
// observation.
type Raw struct {
	width     int
	embedding Embedding
}

// NewRaw returns a raw preprocessor writing width features per step
func NewRaw(width int, embedding Embedding) *Raw {
	return &Raw{width: width, embedding: embedding}
}

// Prepare implements Preprocessor
func (r *Raw) Prepare(obs []models.Observation) (*Data, bool) {
	if len(obs) < MinSteps {
		return nil, false
	}

	x := newRows(len(obs), r.width)
	taps := make([]Tap, len(obs))
	for t, o := range obs {
		yaw, pitch := Squash(o.Yaw), Squash(o.Pitch)
		r.embedding.Project(yaw, pitch, 0, r.width, 1, x[t])
		taps[t] = Tap{Step: t, Lo: 0, Hi: r.width, Scale: 1, Yaw: yaw, Pitch: pitch}
	}

	return &Data{X: x, Mask: ones(len(obs)), Taps: taps}, true
}
