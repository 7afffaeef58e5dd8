package encoding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferloop/aimguard/pkg/models"
)

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name     string
		expected SerializationFormat
		wantErr  bool
	}{
		{"json", JSON, false},
		{"YAML", YAML, false},
		{"yml", YAML, false},
		{"msgpack", MessagePack, false},
		{"xml", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			format, err := ParseFormat(tt.name)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, format)
		})
	}
}

func TestSerializersPreserveSample(t *testing.T) {
	sample := models.Sample{
		ID:           "abc",
		Label:        true,
		Observations: []models.Observation{{Yaw: 1.5, Pitch: -0.25}, {Yaw: 40, Pitch: 2}},
	}

	for _, format := range []SerializationFormat{JSON, MessagePack} {
		t.Run(format.String(), func(t *testing.T) {
			serializer, err := NewSerializer(format)
			require.NoError(t, err)

			data, err := serializer.Serialize(sample)
			require.NoError(t, err)

			var decoded models.Sample
			require.NoError(t, serializer.Deserialize(data, &decoded))
			assert.Equal(t, sample.ID, decoded.ID)
			assert.Equal(t, sample.Label, decoded.Label)
			assert.Equal(t, sample.Observations, decoded.Observations)
		})
	}
}

func TestCompressedSerializer(t *testing.T) {
	serializer := NewCompressedSerializer(NewMessagePackSerializer(), 99)
	assert.Equal(t, MessagePack, serializer.Format())
	assert.Equal(t, "application/gzip", serializer.ContentType())

	obs := make([]models.Observation, 200)
	data, err := serializer.Serialize(obs)
	require.NoError(t, err)

	var decoded []models.Observation
	require.NoError(t, serializer.Deserialize(data, &decoded))
	assert.Len(t, decoded, 200)

	assert.Error(t, serializer.Deserialize([]byte("not gzip"), &decoded))
}
