package commands

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/inferloop/aimguard/pkg/models"
)

// observationInput is the JSON object form of an input file
type observationInput struct {
	Observations []models.Observation   `json:"observations"`
	Sequences    [][]models.Observation `json:"sequences"`
}

// readSequences reads one or more observation sequences from path, or stdin
// for "-". CSV files hold one yaw,pitch pair per row; JSON files hold either
// {"observations": [...]}, {"sequences": [[...], ...]}, a list of
// {"yaw","pitch"} objects or a list of [yaw, pitch] pairs.
func readSequences(path string) ([][]models.Observation, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".csv") {
		obs, err := parseCSV(data)
		if err != nil {
			return nil, err
		}
		return [][]models.Observation{obs}, nil
	}
	return parseJSON(data)
}

func parseJSON(data []byte) ([][]models.Observation, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("input is empty")
	}

	if trimmed[0] == '{' {
		var input observationInput
		if err := json.Unmarshal(trimmed, &input); err != nil {
			return nil, fmt.Errorf("invalid JSON input: %w", err)
		}
		if len(input.Sequences) > 0 {
			return input.Sequences, nil
		}
		if len(input.Observations) > 0 {
			return [][]models.Observation{input.Observations}, nil
		}
		return nil, fmt.Errorf("input contains no observations")
	}

	var pairs [][2]float64
	if err := json.Unmarshal(trimmed, &pairs); err == nil {
		return [][]models.Observation{models.ObservationsFromPairs(pairs)}, nil
	}

	var obs []models.Observation
	if err := json.Unmarshal(trimmed, &obs); err != nil {
		return nil, fmt.Errorf("invalid JSON input: %w", err)
	}
	return [][]models.Observation{obs}, nil
}

func parseCSV(data []byte) ([]models.Observation, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("invalid CSV input: %w", err)
	}

	obs := make([]models.Observation, 0, len(records))
	for i, record := range records {
		if len(record) < 2 {
			return nil, fmt.Errorf("line %d: expected yaw,pitch", i+1)
		}

		yaw, errYaw := strconv.ParseFloat(record[0], 64)
		pitch, errPitch := strconv.ParseFloat(record[1], 64)
		if errYaw != nil || errPitch != nil {
			// Header row
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid number", i+1)
		}
		obs = append(obs, models.Observation{Yaw: yaw, Pitch: pitch})
	}
	return obs, nil
}

// readSamples reads a JSON list of labelled samples, the format written by
// the generate command
func readSamples(path string) ([]models.Sample, error) {
	var (
		data []byte
		err  error
	)
	if path == "" || path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read input: %w", err)
	}

	var samples []models.Sample
	if err := json.Unmarshal(data, &samples); err != nil {
		return nil, fmt.Errorf("invalid sample file: %w", err)
	}
	return samples, nil
}

func flatten(seqs [][]models.Observation) []models.Observation {
	var out []models.Observation
	for _, seq := range seqs {
		out = append(out, seq...)
	}
	return out
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
