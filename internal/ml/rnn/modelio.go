package rnn

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/aimguard/pkg/errors"
)

// Model file identification. The magic spells "RNN6".
const (
	FileMagic   int32 = 0x524E4E36
	FileVersion int32 = 6
)

// absentArray is the length written for a missing array
const absentArray int32 = -1

var byteOrder = binary.BigEndian

// fileHeader is the fixed-size prefix of a model file
type fileHeader struct {
	Magic            int32
	Version          int32
	InputSize        int32
	HiddenSize       int32
	NumLayers        int32
	Bidirectional    bool
	InputMode        int32
	PoolingMode      int32
	LearningRate     float64
	Dropout          float64
	RecurrentDropout float64
	WeightDecay      float64
	GradientClip     float64
	LabelSmoothing   float64
	BatchSize        int32
	TrainSteps       int64
	OptimizerSteps   int64
}

// Save writes the model in the binary model file format
func (m *Model) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	cfg := m.cfg

	header := fileHeader{
		Magic:            FileMagic,
		Version:          FileVersion,
		InputSize:        int32(cfg.InputSize),
		HiddenSize:       int32(cfg.HiddenSize),
		NumLayers:        int32(cfg.NumLayers),
		Bidirectional:    cfg.Bidirectional,
		InputMode:        int32(cfg.InputMode),
		PoolingMode:      int32(cfg.PoolingMode),
		LearningRate:     cfg.LearningRate,
		Dropout:          cfg.Dropout,
		RecurrentDropout: cfg.RecurrentDropout,
		WeightDecay:      cfg.WeightDecay,
		GradientClip:     cfg.GradientClip,
		LabelSmoothing:   cfg.LabelSmoothing,
		BatchSize:        int32(cfg.BatchSize),
		TrainSteps:       m.trainSteps,
		OptimizerSteps:   m.opt.T,
	}
	if err := binary.Write(bw, byteOrder, &header); err != nil {
		return m.saveError(err)
	}

	for idx, t := range m.arena.tensors {
		values := m.arena.params(idx)
		var err error
		if t.scalar {
			err = binary.Write(bw, byteOrder, values[0])
		} else {
			err = writeArray(bw, values)
		}
		if err != nil {
			return m.saveError(err)
		}
	}

	if err := writeArray(bw, m.arena.moments()); err != nil {
		return m.saveError(err)
	}
	if err := bw.Flush(); err != nil {
		return m.saveError(err)
	}
	return nil
}

func (m *Model) saveError(err error) error {
	return errors.WrapError(err, errors.ErrorTypeModel, errors.CodeModelSaveFailed, "failed to write model")
}

func writeArray(w io.Writer, values []float64) error {
	if values == nil {
		return binary.Write(w, byteOrder, absentArray)
	}
	if err := binary.Write(w, byteOrder, int32(len(values))); err != nil {
		return err
	}
	return binary.Write(w, byteOrder, values)
}

// SaveToFile writes the model to path, replacing any existing file only once
// the new content is complete.
func (m *Model) SaveToFile(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return m.saveError(err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return m.saveError(err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := m.Save(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return m.saveError(err)
	}
	if err := tmp.Close(); err != nil {
		return m.saveError(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return m.saveError(err)
	}

	m.logger.WithFields(logrus.Fields{
		"model":      m.name,
		"path":       path,
		"parameters": m.Parameters(),
	}).Debug("Model saved")
	return nil
}

// Load replaces the model state with the content of r. The whole stream is
// read and validated first; on any error the live model is left unchanged.
// Files of another architecture fail with ErrArchitectureMismatch, corrupt or
// foreign files with ErrBadModelFile.
func (m *Model) Load(r io.Reader) error {
	br := bufio.NewReader(r)

	var header fileHeader
	if err := binary.Read(br, byteOrder, &header); err != nil {
		return badFile("truncated header", err)
	}
	if header.Magic != FileMagic {
		return errors.ErrBadModelFile.WithDetails(fmt.Sprintf("bad magic 0x%08X", uint32(header.Magic)))
	}
	if header.Version != FileVersion {
		return errors.ErrBadModelFile.WithDetails(fmt.Sprintf("unsupported version %d", header.Version))
	}

	fileArch := Config{
		InputSize:     int(header.InputSize),
		HiddenSize:    int(header.HiddenSize),
		NumLayers:     int(header.NumLayers),
		Bidirectional: header.Bidirectional,
	}
	if !m.cfg.SameArchitecture(fileArch) {
		return errors.ErrArchitectureMismatch.WithDetails(fmt.Sprintf(
			"file %d/%d/%d/%t, model %d/%d/%d/%t",
			fileArch.InputSize, fileArch.HiddenSize, fileArch.NumLayers, fileArch.Bidirectional,
			m.cfg.InputSize, m.cfg.HiddenSize, m.cfg.NumLayers, m.cfg.Bidirectional))
	}

	staged := make([]float64, len(m.arena.state))
	copy(staged, m.arena.state)
	n := m.arena.size

	for _, t := range m.arena.tensors {
		dst := staged[t.offset : t.offset+t.size]
		if t.scalar {
			if err := binary.Read(br, byteOrder, &dst[0]); err != nil {
				return badFile("truncated "+t.name, err)
			}
			continue
		}
		if err := readArray(br, dst, t.name); err != nil {
			return err
		}
	}

	moments := staged[n:]
	var length int32
	switch err := binary.Read(br, byteOrder, &length); err {
	case nil:
		switch {
		case length == absentArray || length == 0:
			zero(moments)
		case int(length) != len(moments):
			return errors.ErrBadModelFile.WithDetails(fmt.Sprintf("moments: length %d, want %d", length, len(moments)))
		default:
			if err := binary.Read(br, byteOrder, moments); err != nil {
				return badFile("truncated moments", err)
			}
		}
	case io.EOF:
		zero(moments)
	default:
		return badFile("truncated moments", err)
	}

	m.applyHeader(header)
	copy(m.arena.state, staged)

	m.logger.WithFields(logrus.Fields{
		"model":       m.name,
		"train_steps": m.trainSteps,
		"input_mode":  m.cfg.InputMode.String(),
		"pooling":     m.cfg.PoolingMode.String(),
	}).Debug("Model loaded")
	return nil
}

// readArray reads a length-prefixed array into dst. An absent or empty array
// leaves dst as it is.
func readArray(r io.Reader, dst []float64, name string) error {
	var length int32
	if err := binary.Read(r, byteOrder, &length); err != nil {
		return badFile("truncated "+name, err)
	}
	if length == absentArray || length == 0 {
		return nil
	}
	if int(length) != len(dst) {
		return errors.ErrBadModelFile.WithDetails(fmt.Sprintf("%s: length %d, want %d", name, length, len(dst)))
	}
	if err := binary.Read(r, byteOrder, dst); err != nil {
		return badFile("truncated "+name, err)
	}
	return nil
}

func badFile(details string, err error) error {
	return errors.ErrBadModelFile.WithDetails(details).Wrap(err)
}

func (m *Model) applyHeader(h fileHeader) {
	m.SetInputMode(InputMode(h.InputMode))
	m.SetPoolingMode(PoolingMode(h.PoolingMode))
	m.SetLearningRate(h.LearningRate)
	m.SetDropout(h.Dropout)
	m.SetRecurrentDropout(h.RecurrentDropout)
	m.SetWeightDecay(h.WeightDecay)
	m.SetGradientClip(h.GradientClip)
	m.SetLabelSmoothing(h.LabelSmoothing)
	m.SetBatchSize(int(h.BatchSize))
	m.trainSteps = h.TrainSteps
	m.opt.T = h.OptimizerSteps
}

func clampOrdinal(v, count int32) int32 {
	if v < 0 {
		return 0
	}
	if v >= count {
		return count - 1
	}
	return v
}

// LoadFile loads the model stored at path. A missing file yields ErrModelNotFound.
func (m *Model) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.ErrModelNotFound.WithDetails(path).Wrap(err)
		}
		return errors.WrapError(err, errors.ErrorTypeModel, errors.CodeModelLoadFailed, "failed to open model file")
	}
	defer f.Close()

	return m.Load(f)
}
