package backup

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressorRoundTrip(t *testing.T) {
	cm := NewCompressionManager()
	payload := bytes.Repeat([]byte("checksummed backup payload "), 1000)

	for _, algorithm := range cm.GetSupportedAlgorithms() {
		t.Run(string(algorithm), func(t *testing.T) {
			compressor, err := cm.GetCompressor(algorithm)
			require.NoError(t, err)

			var buf bytes.Buffer
			w, err := compressor.WrapWriter(&buf)
			require.NoError(t, err)
			_, err = w.Write(payload)
			require.NoError(t, err)
			require.NoError(t, w.Close())

			assert.Less(t, buf.Len(), len(payload), "repetitive payload should shrink")

			r, err := compressor.WrapReader(bytes.NewReader(buf.Bytes()))
			require.NoError(t, err)
			defer r.Close()

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestCompressorForExtension(t *testing.T) {
	cm := NewCompressionManager()

	tests := []struct {
		name string
		want CompressionType
		ok   bool
	}{
		{"full_20260101_000000.tar.gz", CompressionGzip, true},
		{"full_20260101_000000.tar.zst", CompressionZstd, true},
		{"incremental_20260101_000000.tar.lz4", CompressionLZ4, true},
		{"full_20260101_000000.zip", "", false},
	}

	for _, tt := range tests {
		compressor, err := cm.CompressorForExtension(tt.name)
		if !tt.ok {
			assert.Error(t, err, tt.name)
			continue
		}
		require.NoError(t, err, tt.name)
		assert.Equal(t, tt.want, compressor.Algorithm(), tt.name)
	}
}

func TestGetCompressorUnknown(t *testing.T) {
	cm := NewCompressionManager()

	_, err := cm.GetCompressor(CompressionType("BROTLI"))
	require.Error(t, err)

	var backupErr *Error
	require.ErrorAs(t, err, &backupErr)
	assert.Equal(t, ErrorTypeCompression, backupErr.Type)
}

func TestGetCompressorNone(t *testing.T) {
	cm := NewCompressionManager()
	// NONE has no codec: directory backups bypass archiving entirely
	_, err := cm.GetCompressor(CompressionNone)
	assert.Error(t, err)
}
