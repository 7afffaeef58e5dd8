package models

import (
	"time"
)

// Observation is one aim-rotation delta between two consecutive ticks
type Observation struct {
	Yaw   float64 `json:"yaw" yaml:"yaw" msgpack:"y"`
	Pitch float64 `json:"pitch" yaml:"pitch" msgpack:"p"`
}

// Sample is one labelled observation sequence. Label true marks anomalous (cheating) aim.
type Sample struct {
	ID           string        `json:"id" yaml:"id" msgpack:"id"`
	Label        bool          `json:"label" yaml:"label" msgpack:"label"`
	Observations []Observation `json:"observations" yaml:"observations" msgpack:"obs"`
	CreatedAt    time.Time     `json:"created_at" yaml:"created_at" msgpack:"created_at"`
	Source       string        `json:"source,omitempty" yaml:"source,omitempty" msgpack:"source,omitempty"`
}

// Len returns the number of observations
func (s *Sample) Len() int {
	return len(s.Observations)
}

// DatasetSummary counts samples per label
type DatasetSummary struct {
	Total int `json:"total" yaml:"total"`
	Cheat int `json:"cheat" yaml:"cheat"`
	Legit int `json:"legit" yaml:"legit"`
}

// Summarize counts the samples of a dataset by label
func Summarize(samples []Sample) DatasetSummary {
	summary := DatasetSummary{Total: len(samples)}
	for i := range samples {
		if samples[i].Label {
			summary.Cheat++
		} else {
			summary.Legit++
		}
	}
	return summary
}

// ObservationsFromPairs builds observations from [yaw, pitch] pairs
func ObservationsFromPairs(pairs [][2]float64) []Observation {
	obs := make([]Observation, len(pairs))
	for i, p := range pairs {
		obs[i] = Observation{Yaw: p[0], Pitch: p[1]}
	}
	return obs
}
