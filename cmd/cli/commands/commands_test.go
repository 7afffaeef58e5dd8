package commands

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/cmd/cli/config"
	"github.com/inferloop/aimguard/pkg/constants"
	"github.com/inferloop/aimguard/pkg/models"
	"github.com/inferloop/aimguard/tests/helpers"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestReadSequences(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name      string
		file      string
		content   string
		sequences int
		first     []models.Observation
		wantErr   bool
	}{
		{
			name:      "pairs",
			file:      "pairs.json",
			content:   `[[1, 2], [3, -4]]`,
			sequences: 1,
			first:     []models.Observation{{Yaw: 1, Pitch: 2}, {Yaw: 3, Pitch: -4}},
		},
		{
			name:      "objects",
			file:      "objects.json",
			content:   `[{"yaw": 0.5, "pitch": 1}]`,
			sequences: 1,
			first:     []models.Observation{{Yaw: 0.5, Pitch: 1}},
		},
		{
			name:      "observations object",
			file:      "obs.json",
			content:   `{"observations": [{"yaw": 1, "pitch": 1}]}`,
			sequences: 1,
			first:     []models.Observation{{Yaw: 1, Pitch: 1}},
		},
		{
			name:      "sequences object",
			file:      "seqs.json",
			content:   `{"sequences": [[{"yaw": 1, "pitch": 0}], [{"yaw": 2, "pitch": 0}]]}`,
			sequences: 2,
			first:     []models.Observation{{Yaw: 1, Pitch: 0}},
		},
		{
			name:      "csv with header",
			file:      "shot.csv",
			content:   "yaw,pitch\n1.5,2\n-3, 4\n",
			sequences: 1,
			first:     []models.Observation{{Yaw: 1.5, Pitch: 2}, {Yaw: -3, Pitch: 4}},
		},
		{
			name:    "csv with bad row",
			file:    "bad.csv",
			content: "1,2\nx,y\n",
			wantErr: true,
		},
		{
			name:    "empty object",
			file:    "empty.json",
			content: `{}`,
			wantErr: true,
		},
		{
			name:    "not json",
			file:    "garbage.json",
			content: `yaw pitch`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seqs, err := readSequences(writeFile(t, dir, tt.file, tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Len(t, seqs, tt.sequences)
			assert.Equal(t, tt.first, seqs[0])
		})
	}
}

func TestParseLabel(t *testing.T) {
	cheat, err := parseLabel("Cheat")
	require.NoError(t, err)
	assert.True(t, cheat)

	cheat, err = parseLabel("legit")
	require.NoError(t, err)
	assert.False(t, cheat)

	_, err = parseLabel("maybe")
	assert.Error(t, err)

	assert.Equal(t, constants.LabelCheat, labelName(true))
	assert.Equal(t, constants.LabelLegit, labelName(false))
}

// cliEnv writes a config with a small model and local storage under a temp dir
type cliEnv struct {
	dir        string
	configFile string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()
	dir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.LogLevel = "error"
	cfg.DefaultModel = "test-model"
	cfg.Epochs = 1
	cfg.Model = helpers.SmallModelConfig()
	cfg.ModelStorage.Path = filepath.Join(dir, "models")
	cfg.Storage.File.BasePath = filepath.Join(dir, "dataset")

	configFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, config.SaveConfig(cfg, configFile))

	return &cliEnv{dir: dir, configFile: configFile}
}

// run executes one CLI invocation and returns its stdout
func (e *cliEnv) run(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	global := &GlobalOptions{Out: &out}

	root := &cobra.Command{
		Use:           constants.AppName,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return global.Init()
		},
	}
	root.PersistentFlags().StringVar(&global.ConfigFile, "config", "", "")
	root.AddCommand(NewTrainCmd(global), NewCheckCmd(global), NewLearnCmd(global),
		NewInfoCmd(global), NewDatasetCmd(global), NewGenerateCmd(global), NewConfigCmd(global))

	root.SetArgs(append([]string{"--config", e.configFile}, args...))
	require.NoError(t, root.Execute(), "aimguard %v", args)
	return out.String()
}

func TestLoadConfigRoundTrip(t *testing.T) {
	env := newCLIEnv(t)

	cfg, err := config.LoadConfig(env.configFile)
	require.NoError(t, err)

	assert.Equal(t, "test-model", cfg.DefaultModel)
	assert.Equal(t, 1, cfg.Epochs)
	assert.Equal(t, helpers.SmallModelConfig().HiddenSize, cfg.Model.HiddenSize)
	assert.Equal(t, helpers.SmallModelConfig().InputMode, cfg.Model.InputMode)
	assert.Equal(t, helpers.SmallModelConfig().PoolingMode, cfg.Model.PoolingMode)
	assert.Equal(t, filepath.Join(env.dir, "dataset"), cfg.Storage.File.BasePath)
	assert.Equal(t, constants.StorageBackendFile, cfg.Storage.Backend)
}

func TestDatasetWorkflow(t *testing.T) {
	env := newCLIEnv(t)
	samplesFile := filepath.Join(env.dir, "samples.json")

	env.run(t, "generate", "--count", "12", "--output", samplesFile)

	var samples []models.Sample
	data, err := os.ReadFile(samplesFile)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &samples))
	assert.Len(t, samples, 12)

	out := env.run(t, "dataset", "import", "--input", samplesFile, "--format", "json")
	var imported models.DatasetSummary
	require.NoError(t, json.Unmarshal([]byte(out), &imported))
	assert.Equal(t, 12, imported.Total)

	out = env.run(t, "dataset", "count", "--format", "json")
	var counted models.DatasetSummary
	require.NoError(t, json.Unmarshal([]byte(out), &counted))
	assert.Equal(t, models.Summarize(samples), counted)

	out = env.run(t, "dataset", "list", "--label", "cheat", "--format", "json")
	var ids []string
	require.NoError(t, json.Unmarshal([]byte(out), &ids))
	assert.Len(t, ids, counted.Cheat)

	if len(ids) > 0 {
		env.run(t, "dataset", "delete", ids[0])
		out = env.run(t, "dataset", "count", "--format", "json")
		require.NoError(t, json.Unmarshal([]byte(out), &counted))
		assert.Equal(t, 11, counted.Total)
	}
}

func TestTrainCheckLearnInfo(t *testing.T) {
	helpers.SkipIfShort(t)
	env := newCLIEnv(t)

	env.run(t, "generate", "--count", "10", "--store")

	out := env.run(t, "train", "--format", "json")
	var trained TrainOutput
	require.NoError(t, json.Unmarshal([]byte(out), &trained))
	assert.Equal(t, "test-model", trained.Model)
	assert.Equal(t, 10, trained.Dataset.Total)
	require.NotNil(t, trained.Result)
	assert.Equal(t, 1, trained.Result.BestEpoch)
	assert.FileExists(t, filepath.Join(env.dir, "models", "test-model"+constants.DefaultModelExtension))

	shot := writeFile(t, env.dir, "shot.csv", "yaw,pitch\n1,0.5\n2,0.4\n0.5,-0.2\n3,1\n")
	out = env.run(t, "check", "--input", shot, "--format", "json")
	var checked CheckOutput
	require.NoError(t, json.Unmarshal([]byte(out), &checked))
	helpers.AssertProbability(t, checked.Probability)
	assert.Equal(t, 4, checked.Observations)
	assert.Contains(t, []string{constants.LabelCheat, constants.LabelLegit}, checked.Verdict)

	out = env.run(t, "learn", "--input", shot, "--label", "legit", "--store", "--format", "json")
	var learned LearnOutput
	require.NoError(t, json.Unmarshal([]byte(out), &learned))
	assert.Equal(t, 1, learned.Steps)
	assert.Len(t, learned.SampleIDs, 1)

	out = env.run(t, "info", "--format", "json")
	var info InfoOutput
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, "test-model", info.Info.Name)
	assert.Positive(t, info.Info.Parameters)
	assert.Positive(t, info.Info.TrainSteps)
	require.NotNil(t, info.Artifact)
	assert.NotEmpty(t, info.Artifact.Checksum)

	out = env.run(t, "info", "--list")
	assert.Contains(t, out, "test-model")
}
