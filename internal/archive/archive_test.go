package archive

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// image looks like a flash dump: mostly erased with a few written sectors.
func image() []byte {
	b := bytes.Repeat([]byte{0xff}, 64<<10)
	for i := range 4096 {
		b[4096+i] = byte(i * 7)
	}
	copy(b[20000:], bytes.Repeat([]byte("crash record "), 100))
	return b
}

func TestRoundTrip(t *testing.T) {
	data := image()
	for _, c := range []Codec{None, S2, Zstd, LZ4} {
		t.Run(c.String(), func(t *testing.T) {
			packed, err := Pack(c, data)
			require.NoError(t, err)
			require.True(t, IsArchive(packed))
			if c != None {
				assert.Less(t, len(packed), len(data)/4)
			}

			got, codec, err := Unpack(packed)
			require.NoError(t, err)
			assert.Equal(t, c, codec)
			assert.Equal(t, data, got)
		})
	}
}

func TestRoundTrip_Empty(t *testing.T) {
	for _, c := range []Codec{None, S2, Zstd, LZ4} {
		packed, err := Pack(c, nil)
		require.NoError(t, err, c.String())
		got, _, err := Unpack(packed)
		require.NoError(t, err, c.String())
		assert.Empty(t, got)
	}
}

func TestUnpack_Errors(t *testing.T) {
	_, _, err := Unpack([]byte("not an archive at all"))
	require.ErrorIs(t, err, ErrNotArchive)

	packed, err := Pack(S2, image())
	require.NoError(t, err)

	truncated := packed[:len(packed)-10]
	_, _, err = Unpack(truncated)
	require.ErrorIs(t, err, ErrCorrupt)

	wrong := bytes.Clone(packed)
	wrong[5] = byte(LZ4)
	_, _, err = Unpack(wrong)
	require.Error(t, err)

	tampered, err := Pack(None, []byte("hello"))
	require.NoError(t, err)
	tampered[len(tampered)-1] = 'O'
	_, _, err = Unpack(tampered)
	require.ErrorIs(t, err, ErrCorrupt)

	unknown := bytes.Clone(packed)
	unknown[5] = 9
	_, _, err = Unpack(unknown)
	require.Error(t, err)
}

func TestParseCodec(t *testing.T) {
	for _, c := range []Codec{None, S2, Zstd, LZ4} {
		got, err := ParseCodec(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCodec("gzip")
	require.Error(t, err)
}
