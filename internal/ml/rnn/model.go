// Package rnn implements the bidirectional LSTM sequence classifier: a
// preprocessor feeds a stacked LSTM encoder whose outputs are pooled and
// mapped to a single probability by a logistic head.
package rnn

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/internal/ml/evaluation"
	"github.com/inferloop/aimguard/internal/ml/sequence"
	"github.com/inferloop/aimguard/pkg/errors"
	"github.com/inferloop/aimguard/pkg/interfaces"
	"github.com/inferloop/aimguard/pkg/models"
)

const (
	// neutralProbability is returned for sequences the active preprocessor cannot use
	neutralProbability = 0.5

	maxDropoutRate = 0.95
)

// layerIndex locates the arena tensors of one LSTM layer
type layerIndex struct {
	w, u, b     [numGates]int
	gamma, beta int
}

// layout maps every parameter array of the model to its arena tensor
type layout struct {
	embYaw, embPitch, embBias int
	fwd, bwd                  []layerIndex
	attnW, attnB              int
	headV, headB              int
}

var _ interfaces.Classifier = (*Model)(nil)

// Model is a single-threaded classifier instance. It owns its parameters,
// optimizer moments and random source; callers serialize access.
type Model struct {
	name   string
	cfg    Config
	logger *logrus.Logger
	rng    *rand.Rand

	arena      *arena
	layout     layout
	opt        *AdamW
	trainSteps int64

	embedding sequence.Embedding
	encoder   *StackedBiLSTM
	pooling   *Pooling
	head      *BinaryHead

	embGrad  sequence.Embedding
	encGrad  EncoderGrad
	poolGrad PoolingGrad
	headGrad HeadGrad

	raw         *sequence.Raw
	statistical *sequence.Statistical
	hybrid      *sequence.Hybrid

	observers evaluation.Observers

	// largest absolute embedding gradient contribution of the last batch
	lastEmbeddingPeak float64
}

// Info describes a model for operators
type Info struct {
	Name           string `json:"name,omitempty" yaml:"name,omitempty"`
	Config         Config `json:"config" yaml:"config"`
	OutputSize     int    `json:"output_size" yaml:"output_size"`
	Parameters     int    `json:"parameters" yaml:"parameters"`
	TrainSteps     int64  `json:"train_steps" yaml:"train_steps"`
	OptimizerSteps int64  `json:"optimizer_steps" yaml:"optimizer_steps"`
}

// example is one labelled observation sequence queued for a training step
type example struct {
	obs   []models.Observation
	label bool
}

// forwardCache keeps one sample's activations for backpropagation
type forwardCache struct {
	data *sequence.Data
	h    [][]float64
	enc  EncoderCache
	pool PoolingCache
	head HeadCache
}

// New builds and initializes a model. A nil logger gets a default one.
func New(cfg Config, logger *logrus.Logger) (*Model, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.ErrInvalidConfiguration.Wrap(err)
	}
	if logger == nil {
		logger = logrus.New()
	}

	m := &Model{
		cfg:    cfg,
		logger: logger,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		opt:    NewAdamW(),
	}
	m.arena, m.layout = buildLayout(cfg)
	m.bind()
	m.initialize()

	return m, nil
}

// buildLayout lays out every tensor in model file order
func buildLayout(cfg Config) (*arena, layout) {
	var b layoutBuilder
	var lay layout
	F, H := cfg.InputSize, cfg.HiddenSize
	out := cfg.OutputSize()

	lay.embYaw = b.add("embedding.yaw", kindEmbedding, F)
	lay.embPitch = b.add("embedding.pitch", kindEmbedding, F)
	lay.embBias = b.add("embedding.bias", kindEmbedding, F)

	addLayer := func(prefix string, in int) layerIndex {
		var li layerIndex
		for g := 0; g < numGates; g++ {
			li.w[g] = b.add(prefix+".W"+gateNames[g], kindEncoder, H*in)
		}
		for g := 0; g < numGates; g++ {
			li.u[g] = b.add(prefix+".U"+gateNames[g], kindEncoder, H*H)
		}
		for g := 0; g < numGates; g++ {
			li.b[g] = b.add(prefix+".b"+gateNames[g], kindEncoder, H)
		}
		li.gamma = b.add(prefix+".ln_gamma", kindEncoder, H)
		li.beta = b.add(prefix+".ln_beta", kindEncoder, H)
		return li
	}

	for l := 0; l < cfg.NumLayers; l++ {
		in := F
		if l > 0 {
			in = out
		}
		lay.fwd = append(lay.fwd, addLayer(fmt.Sprintf("encoder.%d.fwd", l), in))
		if cfg.Bidirectional {
			lay.bwd = append(lay.bwd, addLayer(fmt.Sprintf("encoder.%d.bwd", l), in))
		}
	}

	lay.attnW = b.add("attention.w", kindAttention, out)
	lay.attnB = b.addScalar("attention.b", kindAttention)
	lay.headV = b.add("head.v", kindHead, out)
	lay.headB = b.addScalar("head.b", kindHead)

	return b.build(), lay
}

func (a *arena) lstmTensors(li layerIndex, view func(int) []float64) LSTMTensors {
	var t LSTMTensors
	for g := 0; g < numGates; g++ {
		t.W[g] = view(li.w[g])
		t.U[g] = view(li.u[g])
		t.B[g] = view(li.b[g])
	}
	t.Gamma = view(li.gamma)
	t.Beta = view(li.beta)
	return t
}

// bind points every layer and gradient accumulator at its arena slices
func (m *Model) bind() {
	a, lay, cfg := m.arena, m.layout, m.cfg
	F, H := cfg.InputSize, cfg.HiddenSize
	out := cfg.OutputSize()

	m.embedding = sequence.Embedding{
		Yaw:   a.params(lay.embYaw),
		Pitch: a.params(lay.embPitch),
		Bias:  a.params(lay.embBias),
	}
	m.embGrad = sequence.Embedding{
		Yaw:   a.gradient(lay.embYaw),
		Pitch: a.gradient(lay.embPitch),
		Bias:  a.gradient(lay.embBias),
	}

	fwd := make([]*LSTMLayer, cfg.NumLayers)
	var bwd []*LSTMLayer
	if cfg.Bidirectional {
		bwd = make([]*LSTMLayer, cfg.NumLayers)
	}
	m.encGrad = EncoderGrad{Fwd: make([]LSTMTensors, cfg.NumLayers)}
	if cfg.Bidirectional {
		m.encGrad.Bwd = make([]LSTMTensors, cfg.NumLayers)
	}
	for l := 0; l < cfg.NumLayers; l++ {
		in := F
		if l > 0 {
			in = out
		}
		fwd[l] = NewLSTMLayer(in, H, false, a.lstmTensors(lay.fwd[l], a.params))
		m.encGrad.Fwd[l] = a.lstmTensors(lay.fwd[l], a.gradient)
		if cfg.Bidirectional {
			bwd[l] = NewLSTMLayer(in, H, true, a.lstmTensors(lay.bwd[l], a.params))
			m.encGrad.Bwd[l] = a.lstmTensors(lay.bwd[l], a.gradient)
		}
	}
	m.encoder = NewStackedBiLSTM(F, H, fwd, bwd)

	m.pooling = NewPooling(out, a.params(lay.attnW), &a.params(lay.attnB)[0])
	m.poolGrad = PoolingGrad{W: a.gradient(lay.attnW), B: &a.gradient(lay.attnB)[0]}
	m.head = NewBinaryHead(a.params(lay.headV), &a.params(lay.headB)[0])
	m.headGrad = HeadGrad{V: a.gradient(lay.headV), B: &a.gradient(lay.headB)[0]}

	m.raw = sequence.NewRaw(F, m.embedding)
	m.statistical = sequence.NewStatistical(F, cfg.Statistical)
	m.hybrid = sequence.NewHybrid(F, m.statistical, m.embedding, cfg.Hybrid)
}

// initialize draws the initial weights. The draw order is fixed so a seed
// always reproduces the same model.
func (m *Model) initialize() {
	F := m.cfg.InputSize
	out := m.cfg.OutputSize()

	FillXavierUniform(m.rng, m.embedding.Yaw, 1, F)
	FillXavierUniform(m.rng, m.embedding.Pitch, 1, F)
	zero(m.embedding.Bias)

	for l := 0; l < m.cfg.NumLayers; l++ {
		m.encoder.fwd[l].Init(m.rng)
		if m.cfg.Bidirectional {
			m.encoder.bwd[l].Init(m.rng)
		}
	}

	FillXavierUniform(m.rng, m.pooling.w, out, 1)
	*m.pooling.b = 0
	FillXavierUniform(m.rng, m.head.v, out, 1)
	*m.head.b = 0
}

func (m *Model) preprocessor() sequence.Preprocessor {
	switch m.cfg.InputMode {
	case InputRaw:
		return m.raw
	case InputStatistical:
		return m.statistical
	default:
		return m.hybrid
	}
}

// forward runs preprocessed data through encoder, pooling and head. cache may
// be nil for inference.
func (m *Model) forward(data *sequence.Data, training bool, cache *forwardCache) float64 {
	var encCache *EncoderCache
	var poolCache *PoolingCache
	var headCache *HeadCache
	dropout, recDropout := 0.0, 0.0
	if cache != nil {
		cache.data = data
		encCache, poolCache, headCache = &cache.enc, &cache.pool, &cache.head
	}
	if training {
		dropout, recDropout = m.cfg.Dropout, m.cfg.RecurrentDropout
	}

	h := m.encoder.Forward(data.X, training, dropout, recDropout, m.rng, encCache)
	pooled := m.pooling.Forward(m.cfg.PoolingMode, h, data.Mask, poolCache)
	if cache != nil {
		cache.h = h
	}
	return m.head.Forward(pooled, headCache)
}

// CheckData returns the cheat probability for one observation sequence, or
// 0.5 when the sequence is too short for the active preprocessor.
func (m *Model) CheckData(obs []models.Observation) float64 {
	data, ok := m.preprocessor().Prepare(obs)
	if !ok {
		return neutralProbability
	}
	p := m.forward(data, false, nil)
	if math.IsNaN(p) {
		return neutralProbability
	}
	return Clamp(p, 0, 1)
}

// CheckAll averages CheckData over every usable sequence; 0.5 when none is usable
func (m *Model) CheckAll(seqs [][]models.Observation) float64 {
	sum := 0.0
	used := 0
	pre := m.preprocessor()
	for _, obs := range seqs {
		data, ok := pre.Prepare(obs)
		if !ok {
			continue
		}
		p := m.forward(data, false, nil)
		if math.IsNaN(p) {
			continue
		}
		sum += Clamp(p, 0, 1)
		used++
	}
	if used == 0 {
		return neutralProbability
	}
	return sum / float64(used)
}

// LearnByData runs one training step on a single labelled sequence. Sequences
// too short for the active preprocessor are ignored.
func (m *Model) LearnByData(obs []models.Observation, label bool) {
	m.trainBatch([]example{{obs: obs, label: label}})
}

func (m *Model) target(label bool) float64 {
	y := 0.0
	if label {
		y = 1.0
	}
	ls := m.cfg.LabelSmoothing
	return y*(1-ls) + 0.5*ls
}

// trainBatch accumulates gradients over every usable example, averages them
// and applies one optimizer step. It returns the mean smoothed loss and the
// number of examples used.
func (m *Model) trainBatch(batch []example) (float64, int) {
	m.arena.zeroGrad()
	pre := m.preprocessor()
	usesEmbedding := m.cfg.InputMode.UsesEmbedding()

	loss := 0.0
	used := 0
	peak := 0.0
	for _, ex := range batch {
		data, ok := pre.Prepare(ex.obs)
		if !ok {
			continue
		}

		sampleLoss, samplePeak := m.accumulate(data, m.target(ex.label))
		loss += sampleLoss
		peak = math.Max(peak, samplePeak)
		used++
	}

	if used == 0 {
		return 0, 0
	}
	m.lastEmbeddingPeak = peak

	if usesEmbedding {
		sanitize(m.embedding.Yaw)
		sanitize(m.embedding.Pitch)
		sanitize(m.embedding.Bias)
	}
	m.arena.scaleGrad(1 / float64(used))
	if n := sanitize(m.arena.grad); n > 0 {
		m.logger.WithField("count", n).Debug("Reset non-finite gradients")
	}

	m.opt.Advance()
	lr, wd, clip := m.cfg.LearningRate, m.cfg.WeightDecay, m.cfg.GradientClip
	for idx, t := range m.arena.tensors {
		if t.kind == kindEmbedding && !usesEmbedding {
			continue
		}
		param, grad := m.arena.params(idx), m.arena.gradient(idx)
		first, second := m.arena.firstMoment(idx), m.arena.secondMoment(idx)
		if t.scalar {
			m.opt.StepScalar(&param[0], grad[0], &first[0], &second[0], lr, wd, clip)
			continue
		}
		m.opt.Step(param, grad, first, second, lr, wd, clip)
	}
	m.trainSteps++

	return loss / float64(used), used
}

// accumulate runs one sample forward with dropout and backpropagates the
// loss against target y into the gradient buffer. It returns the loss and the
// embedding gradient peak.
func (m *Model) accumulate(data *sequence.Data, y float64) (loss, peak float64) {
	var cache forwardCache
	p := m.forward(data, true, &cache)

	dPooled := m.head.Backward(&cache.head, p-y, &m.headGrad)
	dH := m.pooling.Backward(m.cfg.PoolingMode, cache.h, data.Mask, dPooled, &cache.pool, &m.poolGrad)
	dX := m.encoder.Backward(&cache.enc, dH, &m.encGrad)
	if m.cfg.InputMode.UsesEmbedding() {
		peak = m.accumulateEmbedding(data.Taps, dX)
	}
	return evaluation.BinaryCrossEntropy(p, y), peak
}

// accumulateEmbedding routes input gradients through the recorded taps into
// the embedding gradient. Each contribution is clipped on its own; non-finite
// ones are dropped. Returns the largest absolute contribution.
func (m *Model) accumulateEmbedding(taps []sequence.Tap, dX [][]float64) float64 {
	clip := m.cfg.GradientClip
	peak := 0.0
	add := func(dst []float64, i int, v float64) {
		if !finite(v) {
			return
		}
		v = Clamp(v, -clip, clip)
		dst[i] += v
		if a := math.Abs(v); a > peak {
			peak = a
		}
	}

	for _, tap := range taps {
		row := dX[tap.Step]
		for i := tap.Lo; i < tap.Hi; i++ {
			g := row[i] * tap.Scale
			add(m.embGrad.Yaw, i, g*tap.Yaw)
			add(m.embGrad.Pitch, i, g*tap.Pitch)
			add(m.embGrad.Bias, i, g)
		}
	}
	return peak
}

// Parameters returns the number of trainable scalars
func (m *Model) Parameters() int {
	return m.arena.parameterCount()
}

// Config returns a copy of the current configuration
func (m *Model) Config() Config {
	return m.cfg
}

// Name returns the name the model was registered under
func (m *Model) Name() string {
	return m.name
}

// SetName sets the name used in training reports
func (m *Model) SetName(name string) {
	m.name = name
}

// Info summarizes the model
func (m *Model) Info() Info {
	return Info{
		Name:           m.name,
		Config:         m.cfg,
		OutputSize:     m.cfg.OutputSize(),
		Parameters:     m.Parameters(),
		TrainSteps:     m.trainSteps,
		OptimizerSteps: m.opt.T,
	}
}

// AddObserver registers an observer for epoch reports
func (m *Model) AddObserver(o evaluation.Observer) {
	m.observers = append(m.observers, o)
}

// SetInputMode switches the preprocessor. Out-of-range modes are clamped.
// Embedding moments are kept as they are while a mode without the embedding is active.
func (m *Model) SetInputMode(mode InputMode) {
	m.cfg.InputMode = InputMode(clampOrdinal(int32(mode), int32(numInputModes)))
}

// SetPoolingMode switches the pooling strategy. Out-of-range modes are clamped.
func (m *Model) SetPoolingMode(mode PoolingMode) {
	m.cfg.PoolingMode = PoolingMode(clampOrdinal(int32(mode), int32(numPoolingModes)))
}

// SetLearningRate sets the AdamW learning rate. Non-positive rates are ignored.
func (m *Model) SetLearningRate(lr float64) {
	if !finite(lr) || lr <= 0 {
		m.ignoreSetting("learning_rate", lr)
		return
	}
	m.cfg.LearningRate = lr
}

// SetDropout sets the inter-layer dropout rate, clamped to [0, maxDropoutRate]
func (m *Model) SetDropout(rate float64) {
	if !finite(rate) {
		m.ignoreSetting("dropout", rate)
		return
	}
	m.cfg.Dropout = Clamp(rate, 0, maxDropoutRate)
}

// SetRecurrentDropout sets the hidden-state dropout rate, clamped to [0, maxDropoutRate]
func (m *Model) SetRecurrentDropout(rate float64) {
	if !finite(rate) {
		m.ignoreSetting("recurrent_dropout", rate)
		return
	}
	m.cfg.RecurrentDropout = Clamp(rate, 0, maxDropoutRate)
}

// SetWeightDecay sets the decoupled weight decay, floored at 0
func (m *Model) SetWeightDecay(wd float64) {
	if !finite(wd) {
		m.ignoreSetting("weight_decay", wd)
		return
	}
	m.cfg.WeightDecay = math.Max(wd, 0)
}

// SetGradientClip sets the element-wise gradient bound. Non-positive bounds are
// ignored: the optimizer and the embedding both need a positive one.
func (m *Model) SetGradientClip(clip float64) {
	if !finite(clip) || clip <= 0 {
		m.ignoreSetting("gradient_clip", clip)
		return
	}
	m.cfg.GradientClip = clip
}

// SetLabelSmoothing sets the label smoothing factor, clamped to [0, 1]
func (m *Model) SetLabelSmoothing(ls float64) {
	if !finite(ls) {
		m.ignoreSetting("label_smoothing", ls)
		return
	}
	m.cfg.LabelSmoothing = Clamp(ls, 0, 1)
}

// SetBatchSize sets the epoch training batch size, floored at 1
func (m *Model) SetBatchSize(n int) {
	if n < 1 {
		n = 1
	}
	m.cfg.BatchSize = n
}

// SetDecisionThreshold sets the probability at which evaluation flags a sample.
// Thresholds outside (0, 1) are ignored.
func (m *Model) SetDecisionThreshold(threshold float64) {
	if !finite(threshold) || threshold <= 0 || threshold >= 1 {
		m.ignoreSetting("decision_threshold", threshold)
		return
	}
	m.cfg.DecisionThreshold = threshold
}

func (m *Model) ignoreSetting(name string, value float64) {
	m.logger.WithFields(logrus.Fields{
		"model":   m.name,
		"setting": name,
		"value":   value,
	}).Warn("Ignoring out-of-range setting")
}
