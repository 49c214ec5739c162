package vlq

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBoundaries(t *testing.T) {
	assert.Equal(t, []byte{0x00}, Encode(nil, 0))
	assert.Len(t, Encode(nil, 0x7f), 1)
	assert.Len(t, Encode(nil, 0x80), 2)
	assert.Len(t, Encode(nil, 0x0fffffff), 4)
}

func TestRoundTripAcrossRange(t *testing.T) {
	values := []uint32{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 0x1fffff, 0x200000, 0x0fffffff}
	for _, v := range values {
		buf := Encode(nil, v)
		got, n, err := Decode(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
		assert.Equal(t, EncodedLen(v), len(buf))
	}
}

func TestEncodedLenMatchesLog128Ceil(t *testing.T) {
	for _, v := range []uint32{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, 0x1fffff, 0x200000, MaxValue} {
		want := 1
		if v > 0 {
			want = int(math.Ceil(math.Log(float64(v)+1) / math.Log(128)))
			if want < 1 {
				want = 1
			}
		}
		assert.Equal(t, want, EncodedLen(v), "v=%d", v)
	}
}

func TestDecodeTruncated(t *testing.T) {
	_, _, err := Decode([]byte{0x81}) // continuation set, nothing follows
	assert.ErrorIs(t, err, ErrTruncated)
	_, _, err = Decode(nil)
	assert.ErrorIs(t, err, ErrTruncated)
}

func TestDecodeOverflow(t *testing.T) {
	_, _, err := Decode([]byte{0x81, 0x81, 0x81, 0x81, 0x01})
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestDecodeMultiByteKnownValue(t *testing.T) {
	// 128 encodes as 0x81 0x00 per the standard MIDI VLQ.
	v, n, err := Decode([]byte{0x81, 0x00})
	require.NoError(t, err)
	assert.Equal(t, uint32(128), v)
	assert.Equal(t, 2, n)
}
