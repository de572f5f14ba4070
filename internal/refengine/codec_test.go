package refengine

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/develerltd/openzl-purego/internal/native"
)

func roundTrip(t *testing.T, gid native.GraphID, raw []byte, width int) []byte {
	t.Helper()

	g := graphs[gid]
	p := codecParams{width: width}
	payload, err := encodePayload(g, raw, p)
	require.NoError(t, err)

	out, err := decodePayload(g, payload, p, len(raw))
	require.NoError(t, err)
	if len(raw) == 0 {
		require.Empty(t, out)
	} else {
		require.Equal(t, raw, out)
	}

	return payload
}

func TestBitpack(t *testing.T) {
	for _, width := range []int{1, 2, 4, 8} {
		values := []uint64{0, 1, 2, 3, widthMask(width), 5}
		raw := numericStream(width, values).data

		payload := roundTrip(t, native.GraphBitpack, raw, width)
		require.Equal(t, byte(8*width), payload[0])
	}

	small := numericStream(4, []uint64{1, 0, 1, 1, 0, 1, 1, 1, 0}).data
	payload := roundTrip(t, native.GraphBitpack, small, 4)
	require.Len(t, payload, 1+2)

	zeros := make([]byte, 64)
	payload = roundTrip(t, native.GraphBitpack, zeros, 8)
	require.Equal(t, []byte{0}, payload)
}

func TestNumericDeltaWraps(t *testing.T) {
	for _, width := range []int{1, 2, 4, 8} {
		m := widthMask(width)
		raw := numericStream(width, []uint64{m, 0, m, 1, m - 1, 0}).data
		roundTrip(t, native.GraphSelectNumeric, raw, width)
	}
}

func TestTranspose(t *testing.T) {
	raw := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9}
	planes := transpose(raw, 3)
	require.Equal(t, []byte{1, 4, 7, 2, 5, 8, 3, 6, 9}, planes)
	require.Equal(t, raw, untranspose(planes, 3))
}

func TestEntropyBlocks(t *testing.T) {
	rng := rand.New(rand.NewSource(7))

	skewed := make([]byte, 3*entropyBlockSize+123)
	for i := range skewed {
		skewed[i] = byte(rng.ExpFloat64() * 4)
	}
	noise := make([]byte, entropyBlockSize/2)
	rng.Read(noise)
	rle := bytes.Repeat([]byte{9}, entropyBlockSize+1)

	for _, gid := range []native.GraphID{native.GraphFSE, native.GraphHuffman, native.GraphEntropy} {
		t.Run(graphName(gid), func(t *testing.T) {
			payload := roundTrip(t, gid, skewed, 1)
			require.Less(t, len(payload), len(skewed)/2)

			payload = roundTrip(t, gid, noise, 1)
			require.LessOrEqual(t, len(payload), len(noise)+16)

			payload = roundTrip(t, gid, rle, 1)
			require.Less(t, len(payload), 32)

			roundTrip(t, gid, nil, 1)
		})
	}
}

func TestFieldLZ(t *testing.T) {
	raw := bytes.Repeat([]byte{1, 0, 0, 0, 0, 0, 0, 42}, 512)
	payload := roundTrip(t, native.GraphFieldLZ, raw, 8)
	require.Equal(t, modeCoded, payload[0])
	require.Less(t, len(payload), len(raw)/4)

	short := []byte{1, 2, 3, 4}
	payload = roundTrip(t, native.GraphFieldLZ, short, 4)
	require.Equal(t, modeRaw, payload[0])
}

func TestZstdLevels(t *testing.T) {
	raw := bytes.Repeat([]byte("level "), 1000)
	for _, level := range []int32{0, 1, 3, 19} {
		g := graphs[native.GraphZstd]
		p := codecParams{width: 1, level: level}
		payload, err := encodePayload(g, raw, p)
		require.NoError(t, err)

		out, err := decodePayload(g, payload, p, len(raw))
		require.NoError(t, err)
		require.Equal(t, raw, out)
	}
}

func TestDecodeRejectsTruncation(t *testing.T) {
	raw := bytes.Repeat([]byte("truncate me "), 100)
	for gid, g := range graphs {
		if gid == native.GraphConstant {
			continue
		}
		width := 1
		if g.accepts&native.TypeSerial == 0 {
			width = 4
		}

		payload, err := encodePayload(g, raw, codecParams{width: width})
		require.NoError(t, err)
		if len(payload) < 2 {
			continue
		}

		_, err = decodePayload(g, payload[:len(payload)/2], codecParams{width: width}, len(raw))
		require.Error(t, err, g.name)
	}
}
