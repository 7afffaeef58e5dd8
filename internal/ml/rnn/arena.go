package rnn

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

type tensorKind int

const (
	kindEmbedding tensorKind = iota
	kindEncoder
	kindAttention
	kindHead
)

// tensor is one named parameter array inside the arena
type tensor struct {
	name   string
	kind   tensorKind
	offset int
	size   int
	scalar bool
}

// arena keeps every trainable value in one buffer laid out as
// [parameters | first moments | second moments], in model file order,
// plus a parallel gradient buffer. Layers hold slice views into it.
type arena struct {
	size    int
	state   []float64
	grad    []float64
	tensors []tensor
}

type layoutBuilder struct {
	tensors []tensor
	offset  int
}

func (b *layoutBuilder) add(name string, kind tensorKind, size int) int {
	b.tensors = append(b.tensors, tensor{name: name, kind: kind, offset: b.offset, size: size})
	b.offset += size
	return len(b.tensors) - 1
}

func (b *layoutBuilder) addScalar(name string, kind tensorKind) int {
	idx := b.add(name, kind, 1)
	b.tensors[idx].scalar = true
	return idx
}

func (b *layoutBuilder) build() *arena {
	return &arena{
		size:    b.offset,
		state:   make([]float64, 3*b.offset),
		grad:    make([]float64, b.offset),
		tensors: b.tensors,
	}
}

func (a *arena) params(idx int) []float64 {
	t := a.tensors[idx]
	return a.state[t.offset : t.offset+t.size : t.offset+t.size]
}

func (a *arena) firstMoment(idx int) []float64 {
	t := a.tensors[idx]
	off := a.size + t.offset
	return a.state[off : off+t.size : off+t.size]
}

func (a *arena) secondMoment(idx int) []float64 {
	t := a.tensors[idx]
	off := 2*a.size + t.offset
	return a.state[off : off+t.size : off+t.size]
}

func (a *arena) gradient(idx int) []float64 {
	t := a.tensors[idx]
	return a.grad[t.offset : t.offset+t.size : t.offset+t.size]
}

func (a *arena) allParams() []float64 {
	return a.state[:a.size]
}

func (a *arena) moments() []float64 {
	return a.state[a.size:]
}

func (a *arena) zeroGrad() {
	zero(a.grad)
}

func (a *arena) scaleGrad(s float64) {
	floats.Scale(s, a.grad)
}

// parameterCount saturates at the largest int32
func (a *arena) parameterCount() int {
	if int64(a.size) > math.MaxInt32 {
		return math.MaxInt32
	}
	return a.size
}

// snapshot is a deep copy of the full trainable state and step counters
type snapshot struct {
	state          []float64
	trainSteps     int64
	optimizerSteps int64
}

func (a *arena) snapshot(trainSteps, optimizerSteps int64) *snapshot {
	s := &snapshot{
		state:          make([]float64, len(a.state)),
		trainSteps:     trainSteps,
		optimizerSteps: optimizerSteps,
	}
	copy(s.state, a.state)
	return s
}

func (a *arena) restore(s *snapshot) {
	copy(a.state, s.state)
}
