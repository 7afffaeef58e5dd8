package rnn

import (
	"fmt"
	"strings"

	"github.com/inferloop/aimguard/internal/ml/sequence"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/errors"
)

// InputMode selects the sequence preprocessor
type InputMode int

const (
	InputRaw InputMode = iota
	InputStatistical
	InputHybrid
	numInputModes
)

var inputModeNames = [...]string{"RAW", "STATISTICAL", "HYBRID"}

// String returns the mode name
func (m InputMode) String() string {
	if m < 0 || m >= numInputModes {
		return fmt.Sprintf("InputMode(%d)", int(m))
	}
	return inputModeNames[m]
}

// UsesEmbedding reports whether the mode feeds observations through the learned embedding
func (m InputMode) UsesEmbedding() bool {
	return m == InputRaw || m == InputHybrid
}

// MarshalText implements encoding.TextMarshaler
func (m InputMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *InputMode) UnmarshalText(text []byte) error {
	parsed, err := ParseInputMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParseInputMode parses a mode name, case-insensitively
func ParseInputMode(name string) (InputMode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	switch normalized {
	case "RAW", "RAW_SEQUENCE":
		return InputRaw, nil
	case "STATISTICAL", "STATISTICAL_FEATURES", "STAT":
		return InputStatistical, nil
	case "HYBRID":
		return InputHybrid, nil
	}
	return 0, errors.NewValidationError(errors.CodeInvalidInput, "unknown input mode").WithDetails(name)
}

// PoolingMode selects how encoder outputs are reduced to one vector
type PoolingMode int

const (
	PoolLastHidden PoolingMode = iota
	PoolMean
	PoolMax
	PoolAttention
	numPoolingModes
)

var poolingModeNames = [...]string{"LAST_HIDDEN", "MEAN", "MAX", "ATTENTION"}

// String returns the mode name
func (m PoolingMode) String() string {
	if m < 0 || m >= numPoolingModes {
		return fmt.Sprintf("PoolingMode(%d)", int(m))
	}
	return poolingModeNames[m]
}

// MarshalText implements encoding.TextMarshaler
func (m PoolingMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (m *PoolingMode) UnmarshalText(text []byte) error {
	parsed, err := ParsePoolingMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// ParsePoolingMode parses a pooling name, case-insensitively
func ParsePoolingMode(name string) (PoolingMode, error) {
	normalized := strings.ToUpper(strings.TrimSpace(name))
	switch normalized {
	case "LAST_HIDDEN", "LAST":
		return PoolLastHidden, nil
	case "MEAN", "MEAN_POOLING":
		return PoolMean, nil
	case "MAX", "MAX_POOLING":
		return PoolMax, nil
	case "ATTENTION":
		return PoolAttention, nil
	}
	return 0, errors.NewValidationError(errors.CodeInvalidInput, "unknown pooling mode").WithDetails(name)
}

// Config contains the model architecture and training hyperparameters.
// InputSize, HiddenSize, NumLayers and Bidirectional are fixed once a model is built.
type Config struct {
	// Network architecture
	InputSize     int  `json:"input_size" yaml:"input_size" mapstructure:"input_size"`          // Feature width per timestep
	HiddenSize    int  `json:"hidden_size" yaml:"hidden_size" mapstructure:"hidden_size"`       // Hidden units per direction
	NumLayers     int  `json:"num_layers" yaml:"num_layers" mapstructure:"num_layers"`          // Stacked LSTM layers
	Bidirectional bool `json:"bidirectional" yaml:"bidirectional" mapstructure:"bidirectional"` // Add a time-reversed LSTM per layer

	// Modes
	InputMode   InputMode   `json:"input_mode" yaml:"input_mode" mapstructure:"input_mode"`
	PoolingMode PoolingMode `json:"pooling_mode" yaml:"pooling_mode" mapstructure:"pooling_mode"`

	// Training parameters
	LearningRate     float64 `json:"learning_rate" yaml:"learning_rate" mapstructure:"learning_rate"`
	Dropout          float64 `json:"dropout" yaml:"dropout" mapstructure:"dropout"`                               // Inter-layer dropout
	RecurrentDropout float64 `json:"recurrent_dropout" yaml:"recurrent_dropout" mapstructure:"recurrent_dropout"` // Dropout on the hidden-state feedback
	WeightDecay      float64 `json:"weight_decay" yaml:"weight_decay" mapstructure:"weight_decay"`
	GradientClip     float64 `json:"gradient_clip" yaml:"gradient_clip" mapstructure:"gradient_clip"` // Element-wise clip bound
	LabelSmoothing   float64 `json:"label_smoothing" yaml:"label_smoothing" mapstructure:"label_smoothing"`
	BatchSize        int     `json:"batch_size" yaml:"batch_size" mapstructure:"batch_size"`

	// Epoch training
	ChunkLength       int     `json:"chunk_length" yaml:"chunk_length" mapstructure:"chunk_length"`                // Max observations per training chunk
	ValidationSplit   float64 `json:"validation_split" yaml:"validation_split" mapstructure:"validation_split"`    // Fraction held out for validation
	DecisionThreshold float64 `json:"decision_threshold" yaml:"decision_threshold" mapstructure:"decision_threshold"` // Probability at or above which a sample is flagged

	// Preprocessor tuning
	Statistical sequence.StatisticalOptions `json:"statistical" yaml:"statistical" mapstructure:"statistical"`
	Hybrid      sequence.HybridOptions      `json:"hybrid" yaml:"hybrid" mapstructure:"hybrid"`

	Seed int64 `json:"seed" yaml:"seed" mapstructure:"seed"`
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		InputSize:         constants.DefaultInputSize,
		HiddenSize:        constants.DefaultHiddenSize,
		NumLayers:         constants.DefaultNumLayers,
		Bidirectional:     constants.DefaultBidirectional,
		InputMode:         InputHybrid,
		PoolingMode:       PoolAttention,
		LearningRate:      constants.DefaultLearningRate,
		Dropout:           constants.DefaultDropout,
		RecurrentDropout:  constants.DefaultRecurrentDropout,
		WeightDecay:       constants.DefaultWeightDecay,
		GradientClip:      constants.DefaultGradientClip,
		LabelSmoothing:    constants.DefaultLabelSmoothing,
		BatchSize:         constants.DefaultBatchSize,
		ChunkLength:       constants.DefaultChunkLength,
		ValidationSplit:   constants.DefaultValidationSplit,
		DecisionThreshold: constants.DefaultDecisionThreshold,
		Statistical:       sequence.DefaultStatisticalOptions(),
		Hybrid:            sequence.DefaultHybridOptions(),
		Seed:              constants.DefaultSeed,
	}
}

// OutputSize returns the encoder output width
func (c Config) OutputSize() int {
	if c.Bidirectional {
		return 2 * c.HiddenSize
	}
	return c.HiddenSize
}

// Validate checks the configuration for values the model cannot run with
func (c Config) Validate() error {
	ve := errors.NewValidationErrors()

	if c.InputSize < 2 {
		ve.Add("input_size", errors.CodeOutOfRange, "must be at least 2", c.InputSize)
	}
	if c.HiddenSize < 1 {
		ve.Add("hidden_size", errors.CodeOutOfRange, "must be positive", c.HiddenSize)
	}
	if c.NumLayers < 1 {
		ve.Add("num_layers", errors.CodeOutOfRange, "must be positive", c.NumLayers)
	}
	if c.InputMode < 0 || c.InputMode >= numInputModes {
		ve.Add("input_mode", errors.CodeInvalidInput, "unknown input mode", int(c.InputMode))
	}
	if c.PoolingMode < 0 || c.PoolingMode >= numPoolingModes {
		ve.Add("pooling_mode", errors.CodeInvalidInput, "unknown pooling mode", int(c.PoolingMode))
	}
	if c.LearningRate <= 0 {
		ve.Add("learning_rate", errors.CodeOutOfRange, "must be positive", c.LearningRate)
	}
	if c.Dropout < 0 || c.Dropout >= 1 {
		ve.Add("dropout", errors.CodeOutOfRange, "must be in [0, 1)", c.Dropout)
	}
	if c.RecurrentDropout < 0 || c.RecurrentDropout >= 1 {
		ve.Add("recurrent_dropout", errors.CodeOutOfRange, "must be in [0, 1)", c.RecurrentDropout)
	}
	if c.WeightDecay < 0 {
		ve.Add("weight_decay", errors.CodeOutOfRange, "must not be negative", c.WeightDecay)
	}
	if c.GradientClip <= 0 {
		ve.Add("gradient_clip", errors.CodeOutOfRange, "must be positive", c.GradientClip)
	}
	if c.LabelSmoothing < 0 || c.LabelSmoothing > 1 {
		ve.Add("label_smoothing", errors.CodeOutOfRange, "must be in [0, 1]", c.LabelSmoothing)
	}
	if c.BatchSize < 1 {
		ve.Add("batch_size", errors.CodeOutOfRange, "must be positive", c.BatchSize)
	}
	if c.ChunkLength < 2 {
		ve.Add("chunk_length", errors.CodeOutOfRange, "must be at least 2", c.ChunkLength)
	}
	if c.ValidationSplit <= 0 || c.ValidationSplit >= 1 {
		ve.Add("validation_split", errors.CodeOutOfRange, "must be in (0, 1)", c.ValidationSplit)
	}
	if c.DecisionThreshold <= 0 || c.DecisionThreshold >= 1 {
		ve.Add("decision_threshold", errors.CodeOutOfRange, "must be in (0, 1)", c.DecisionThreshold)
	}

	return ve.ErrOrNil()
}

// SameArchitecture reports whether two configurations describe the same parameter shapes
func (c Config) SameArchitecture(other Config) bool {
	return c.InputSize == other.InputSize &&
		c.HiddenSize == other.HiddenSize &&
		c.NumLayers == other.NumLayers &&
		c.Bidirectional == other.Bidirectional
}
