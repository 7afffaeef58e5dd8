package main

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/inferloop/aimguard/internal/ml/rnn"
	"github.com/inferloop/aimguard/pkg/constants"
)

// Set through -ldflags at release time
var (
	Version   = constants.AppVersion
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// BuildInfo identifies the binary and the models it serves
type BuildInfo struct {
	App         string      `json:"app"`
	Version     string      `json:"version"`
	GitCommit   string      `json:"git_commit"`
	BuildDate   string      `json:"build_date"`
	GoVersion   string      `json:"go_version"`
	Platform    string      `json:"platform"`
	ModelFormat string      `json:"model_format"`
	Model       *ModelShape `json:"model,omitempty"`
}

// ModelShape is the architecture new models are built with
type ModelShape struct {
	InputSize     int             `json:"input_size"`
	HiddenSize    int             `json:"hidden_size"`
	NumLayers     int             `json:"num_layers"`
	Bidirectional bool            `json:"bidirectional"`
	InputMode     rnn.InputMode   `json:"input_mode"`
	PoolingMode   rnn.PoolingMode `json:"pooling_mode"`
}

// GetBuildInfo describes this build. model may be nil when no configuration is loaded.
func GetBuildInfo(model *rnn.Config) BuildInfo {
	info := BuildInfo{
		App:         constants.AppName,
		Version:     Version,
		GitCommit:   GitCommit,
		BuildDate:   BuildDate,
		GoVersion:   runtime.Version(),
		Platform:    runtime.GOOS + "/" + runtime.GOARCH,
		ModelFormat: fmt.Sprintf("RNN%d", rnn.FileVersion),
	}
	if model != nil {
		info.Model = &ModelShape{
			InputSize:     model.InputSize,
			HiddenSize:    model.HiddenSize,
			NumLayers:     model.NumLayers,
			Bidirectional: model.Bidirectional,
			InputMode:     model.InputMode,
			PoolingMode:   model.PoolingMode,
		}
	}
	return info
}

func (b BuildInfo) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s (%s, built %s)\n", b.App, b.Version, b.GitCommit, b.BuildDate)
	fmt.Fprintf(&sb, "Go: %s %s\n", b.GoVersion, b.Platform)
	fmt.Fprintf(&sb, "Model format: %s\n", b.ModelFormat)
	if b.Model != nil {
		fmt.Fprintf(&sb, "Model: %s input, %s pooling, %d layers of %d\n",
			b.Model.InputMode, b.Model.PoolingMode, b.Model.NumLayers, b.Model.HiddenSize)
	}
	return sb.String()
}
