package compression_test

import (
	"bytes"
	"io"
	"math/rand"
	"testing"

	"github.com/dargueta/v7fs"
	v7 "github.com/dargueta/v7fs/file_systems/v7"
	dt "github.com/dargueta/v7fs/testing"
	"github.com/dargueta/v7fs/utilities/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRLE8__KnownOutput(t *testing.T) {
	testCases := []struct {
		name     string
		input    []byte
		expected []byte
	}{
		{"empty", []byte{}, []byte{}},
		{"single", []byte("W"), []byte("W")},
		{"pair", []byte("ZZ"), []byte{'Z', 'Z', 0}},
		{"mixed", []byte("WXXXXXXXXXXXXXXXYZZ"), []byte{'W', 'X', 'X', 13, 'Y', 'Z', 'Z', 0}},
		{"longest run", bytes.Repeat([]byte{0}, 257), []byte{0, 0, 255}},
		{"split run", bytes.Repeat([]byte("X"), 300), []byte{'X', 'X', 255, 'X', 'X', 41}},
		{"split leaves one", bytes.Repeat([]byte("X"), 258), []byte{'X', 'X', 255, 'X'}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var output bytes.Buffer
			read, err := compression.EncodeRLE8(bytes.NewReader(tc.input), &output)
			require.NoError(t, err)
			assert.EqualValues(t, len(tc.input), read)
			assert.Equal(t, tc.expected, output.Bytes())

			var decoded bytes.Buffer
			written, err := compression.DecodeRLE8(&output, &decoded)
			require.NoError(t, err)
			assert.EqualValues(t, len(tc.input), written)
			assert.Equal(t, tc.input, decoded.Bytes())
		})
	}
}

func TestRLE8__RandomRoundTrip(t *testing.T) {
	random := rand.New(rand.NewSource(42))
	input := make([]byte, 0, 20000)
	for len(input) < 20000 {
		// Runs of random lengths from a tiny alphabet, so both short and long
		// runs show up.
		value := byte(random.Intn(3))
		input = append(input, bytes.Repeat([]byte{value}, random.Intn(600)+1)...)
	}

	var encoded, decoded bytes.Buffer
	_, err := compression.EncodeRLE8(bytes.NewReader(input), &encoded)
	require.NoError(t, err)
	_, err = compression.DecodeRLE8(&encoded, &decoded)
	require.NoError(t, err)
	assert.Equal(t, input, decoded.Bytes())
}

func TestDecodeRLE8__MissingRepeatCount(t *testing.T) {
	_, err := compression.DecodeRLE8(bytes.NewReader([]byte("AXX")), io.Discard)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}

func TestPackImage__FormattedImage(t *testing.T) {
	_, store := dt.CreateBlankImage(t, dt.TinyGeometry)
	require.NoError(t, v7.Format(store, dt.MountOptions(t, dt.TinyGeometry)))
	raw := make([]byte, store.Size())
	require.NoError(t, store.ReadAt(raw, 0))

	var packed bytes.Buffer
	size, err := compression.PackImage(bytes.NewReader(raw), &packed)
	require.NoError(t, err)
	assert.EqualValues(t, len(raw), size)
	assert.Less(t, packed.Len(), len(raw)/100, "empty image should shrink to almost nothing")

	var unpacked bytes.Buffer
	size, err = compression.UnpackImage(&packed, &unpacked)
	require.NoError(t, err)
	assert.EqualValues(t, len(raw), size)
	assert.Equal(t, raw, unpacked.Bytes())
}

func TestUnpackImage__NotGzipped(t *testing.T) {
	_, err := compression.UnpackImage(bytes.NewReader([]byte("plain")), io.Discard)
	assert.ErrorIs(t, err, v7fs.ErrInvalidArgument)
}
