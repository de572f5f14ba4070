package refengine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"
	"sync"

	"github.com/klauspost/compress/fse"
	"github.com/klauspost/compress/huff0"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"github.com/develerltd/openzl-purego/internal/native"
)

var (
	errNotConstant  = errors.New("input is not constant")
	errSizeMismatch = errors.New("decoded size mismatch")
	errTruncated    = errors.New("payload truncated")
	errRLE          = errors.New("single symbol block")
)

// codecParams are the per-stream knobs a graph sees.
type codecParams struct {
	width int
	level int32
}

// graph is one standard graph of the reference engine.
type graph struct {
	name    string
	accepts native.Type
	encode  func(raw []byte, p codecParams) ([]byte, error)
	decode  func(payload []byte, p codecParams, size int) ([]byte, error)
}

const anyType = native.TypeSerial | native.TypeStruct | native.TypeNumeric | native.TypeString

var graphs = map[native.GraphID]graph{
	native.GraphStore:         {"store", anyType, storeEncode, storeDecode},
	native.GraphZstd:          {"zstd", anyType, zstdEncode, zstdDecode},
	native.GraphSelectNumeric: {"numeric", native.TypeNumeric, numericEncode, numericDecode},
	native.GraphFieldLZ:       {"field_lz", native.TypeStruct | native.TypeNumeric, fieldLZEncode, fieldLZDecode},
	native.GraphFSE:           {"fse", native.TypeSerial, fseEncode, fseDecode},
	native.GraphHuffman:       {"huffman", native.TypeSerial | native.TypeStruct | native.TypeNumeric, huffmanEncode, huffmanDecode},
	native.GraphEntropy:       {"entropy", native.TypeSerial | native.TypeStruct | native.TypeNumeric, entropyEncode, entropyDecode},
	native.GraphBitpack:       {"bitpack", native.TypeSerial | native.TypeNumeric, bitpackEncode, bitpackDecode},
	native.GraphConstant:      {"constant", native.TypeSerial | native.TypeStruct, constantEncode, constantDecode},
}

func graphName(gid native.GraphID) string {
	if g, ok := graphs[gid]; ok {
		return g.name
	}
	return fmt.Sprintf("graph(%d)", uint32(gid))
}

// encodePayload runs graph g over raw. Empty inputs produce empty payloads
// for every graph.
func encodePayload(g graph, raw []byte, p codecParams) ([]byte, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	return g.encode(raw, p)
}

func decodePayload(g graph, payload []byte, p codecParams, size int) ([]byte, error) {
	if size == 0 {
		if len(payload) != 0 {
			return nil, errSizeMismatch
		}
		return nil, nil
	}

	out, err := g.decode(payload, p, size)
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, errSizeMismatch
	}

	return out, nil
}

func storeEncode(raw []byte, _ codecParams) ([]byte, error) {
	return append([]byte(nil), raw...), nil
}

func storeDecode(payload []byte, _ codecParams, size int) ([]byte, error) {
	if len(payload) != size {
		return nil, errSizeMismatch
	}
	return append([]byte(nil), payload...), nil
}

var (
	zstdEncoderPools sync.Map // zstd.EncoderLevel -> *sync.Pool

	zstdDecoderPool = sync.Pool{
		New: func() any {
			decoder, err := zstd.NewReader(nil,
				zstd.WithDecoderConcurrency(1),
				zstd.WithDecoderLowmem(false),
			)
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd decoder for pool: %v", err))
			}
			return decoder
		},
	}
)

func zstdEncoderPool(level int32) *sync.Pool {
	encLevel := zstd.SpeedDefault
	if level > 0 {
		encLevel = zstd.EncoderLevelFromZstd(int(level))
	}

	if pool, ok := zstdEncoderPools.Load(encLevel); ok {
		return pool.(*sync.Pool)
	}

	pool, _ := zstdEncoderPools.LoadOrStore(encLevel, &sync.Pool{
		New: func() any {
			encoder, err := zstd.NewWriter(nil,
				zstd.WithEncoderLevel(encLevel),
				zstd.WithEncoderCRC(false),
			)
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder for pool: %v", err))
			}
			return encoder
		},
	})

	return pool.(*sync.Pool)
}

func zstdEncode(raw []byte, p codecParams) ([]byte, error) {
	pool := zstdEncoderPool(p.level)
	encoder := pool.Get().(*zstd.Encoder)
	defer pool.Put(encoder)

	return encoder.EncodeAll(raw, nil), nil
}

func zstdDecode(payload []byte, _ codecParams, size int) ([]byte, error) {
	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer zstdDecoderPool.Put(decoder)

	out, err := decoder.DecodeAll(payload, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd: %w", err)
	}

	return out, nil
}

// numericEncode stores wrapping deltas between consecutive little-endian
// elements, then hands them to zstd.
func numericEncode(raw []byte, p codecParams) ([]byte, error) {
	w := p.width
	deltas := make([]byte, len(raw))
	var prev uint64
	for i := 0; i < len(raw); i += w {
		v := load(raw[i:], w)
		put(deltas[i:], w, v-prev)
		prev = v
	}

	return zstdEncode(deltas, p)
}

func numericDecode(payload []byte, p codecParams, size int) ([]byte, error) {
	w := p.width
	if size%w != 0 {
		return nil, errSizeMismatch
	}

	out, err := zstdDecode(payload, p, size)
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, errSizeMismatch
	}

	mask := widthMask(w)
	var prev uint64
	for i := 0; i < len(out); i += w {
		v := (prev + load(out[i:], w)) & mask
		put(out[i:], w, v)
		prev = v
	}

	return out, nil
}

const (
	modeRaw byte = iota
	modeRLE
	modeCoded
)

// fieldLZEncode splits fixed-width elements into byte planes and compresses
// the planes with an lz4 block.
func fieldLZEncode(raw []byte, p codecParams) ([]byte, error) {
	planes := transpose(raw, p.width)

	dst := make([]byte, 1+lz4.CompressBlockBound(len(planes)))
	n, err := lz4.CompressBlock(planes, dst[1:], nil)
	if err != nil {
		return nil, fmt.Errorf("lz4: %w", err)
	}

	// n == 0 means the planes are incompressible
	if n == 0 || n >= len(planes) {
		return append([]byte{modeRaw}, planes...), nil
	}
	dst[0] = modeCoded

	return dst[:1+n], nil
}

func fieldLZDecode(payload []byte, p codecParams, size int) ([]byte, error) {
	if len(payload) == 0 || size%p.width != 0 {
		return nil, errTruncated
	}

	var planes []byte
	switch payload[0] {
	case modeRaw:
		planes = payload[1:]
	case modeCoded:
		planes = make([]byte, size)
		n, err := lz4.UncompressBlock(payload[1:], planes)
		if err != nil {
			return nil, fmt.Errorf("lz4: %w", err)
		}
		planes = planes[:n]
	default:
		return nil, fmt.Errorf("unknown block mode %d", payload[0])
	}
	if len(planes) != size {
		return nil, errSizeMismatch
	}

	return untranspose(planes, p.width), nil
}

func transpose(raw []byte, w int) []byte {
	if w <= 1 {
		return append([]byte(nil), raw...)
	}

	n := len(raw) / w
	out := make([]byte, len(raw))
	for i := 0; i < n; i++ {
		for b := 0; b < w; b++ {
			out[b*n+i] = raw[i*w+b]
		}
	}
	return out
}

func untranspose(planes []byte, w int) []byte {
	if w <= 1 {
		return append([]byte(nil), planes...)
	}

	n := len(planes) / w
	out := make([]byte, len(planes))
	for i := 0; i < n; i++ {
		for b := 0; b < w; b++ {
			out[i*w+b] = planes[b*n+i]
		}
	}
	return out
}

// entropyBlockSize keeps every block below the huff0 1X limit.
const entropyBlockSize = 128 << 10

type blockCoder struct {
	encode func(block []byte) ([]byte, error)
	decode func(coded []byte, size int) ([]byte, error)
}

var (
	fseCoder = blockCoder{
		encode: func(block []byte) ([]byte, error) {
			var s fse.Scratch
			out, err := fse.Compress(block, &s)
			if errors.Is(err, fse.ErrUseRLE) {
				return nil, errRLE
			}
			return out, err
		},
		decode: func(coded []byte, size int) ([]byte, error) {
			s := fse.Scratch{DecompressLimit: size}
			return fse.Decompress(coded, &s)
		},
	}

	huffmanCoder = blockCoder{
		encode: func(block []byte) ([]byte, error) {
			s := &huff0.Scratch{Reuse: huff0.ReusePolicyNone}
			out, _, err := huff0.Compress1X(block, s)
			if errors.Is(err, huff0.ErrUseRLE) {
				return nil, errRLE
			}
			return out, err
		},
		decode: func(coded []byte, size int) ([]byte, error) {
			s, remain, err := huff0.ReadTable(coded, &huff0.Scratch{MaxDecodedSize: size})
			if err != nil {
				return nil, err
			}
			return s.Decompress1X(remain)
		},
	}
)

// encodeBlocks applies c to fixed-size blocks. Each block starts with a mode
// byte and its decoded size; blocks the coder cannot shrink are kept raw.
func (c blockCoder) encodeBlocks(raw []byte) []byte {
	var out []byte
	for len(raw) > 0 {
		n := min(len(raw), entropyBlockSize)
		block := raw[:n]
		raw = raw[n:]

		coded, err := c.encode(block)
		switch {
		case errors.Is(err, errRLE):
			out = append(out, modeRLE)
			out = binary.AppendUvarint(out, uint64(n))
			out = append(out, block[0])
		case err != nil || len(coded) >= n:
			out = append(out, modeRaw)
			out = binary.AppendUvarint(out, uint64(n))
			out = append(out, block...)
		default:
			out = append(out, modeCoded)
			out = binary.AppendUvarint(out, uint64(n))
			out = binary.AppendUvarint(out, uint64(len(coded)))
			out = append(out, coded...)
		}
	}
	return out
}

func (c blockCoder) decodeBlocks(payload []byte, size int) ([]byte, error) {
	out := make([]byte, 0, size)
	for len(payload) > 0 {
		mode := payload[0]
		n, k := binary.Uvarint(payload[1:])
		if k <= 0 || n > entropyBlockSize || len(out)+int(n) > size {
			return nil, errTruncated
		}
		payload = payload[1+k:]

		switch mode {
		case modeRaw:
			if uint64(len(payload)) < n {
				return nil, errTruncated
			}
			out = append(out, payload[:n]...)
			payload = payload[n:]
		case modeRLE:
			if len(payload) < 1 {
				return nil, errTruncated
			}
			for i := uint64(0); i < n; i++ {
				out = append(out, payload[0])
			}
			payload = payload[1:]
		case modeCoded:
			clen, k := binary.Uvarint(payload)
			if k <= 0 || uint64(len(payload)-k) < clen {
				return nil, errTruncated
			}
			block, err := c.decode(payload[k:k+int(clen)], int(n))
			if err != nil {
				return nil, err
			}
			if len(block) != int(n) {
				return nil, errSizeMismatch
			}
			out = append(out, block...)
			payload = payload[k+int(clen):]
		default:
			return nil, fmt.Errorf("unknown block mode %d", mode)
		}
	}

	return out, nil
}

func fseEncode(raw []byte, _ codecParams) ([]byte, error) {
	return fseCoder.encodeBlocks(raw), nil
}

func fseDecode(payload []byte, _ codecParams, size int) ([]byte, error) {
	return fseCoder.decodeBlocks(payload, size)
}

func huffmanEncode(raw []byte, _ codecParams) ([]byte, error) {
	return huffmanCoder.encodeBlocks(raw), nil
}

func huffmanDecode(payload []byte, _ codecParams, size int) ([]byte, error) {
	return huffmanCoder.decodeBlocks(payload, size)
}

// entropyEncode keeps whichever of huffman and fse is smaller.
func entropyEncode(raw []byte, _ codecParams) ([]byte, error) {
	h := huffmanCoder.encodeBlocks(raw)
	f := fseCoder.encodeBlocks(raw)
	if len(f) < len(h) {
		return append([]byte{byte(native.GraphFSE)}, f...), nil
	}
	return append([]byte{byte(native.GraphHuffman)}, h...), nil
}

func entropyDecode(payload []byte, _ codecParams, size int) ([]byte, error) {
	if len(payload) == 0 {
		return nil, errTruncated
	}

	switch native.GraphID(payload[0]) {
	case native.GraphFSE:
		return fseCoder.decodeBlocks(payload[1:], size)
	case native.GraphHuffman:
		return huffmanCoder.decodeBlocks(payload[1:], size)
	default:
		return nil, fmt.Errorf("unknown entropy coder %d", payload[0])
	}
}

// bitpackEncode stores every element with the bit width of the largest one.
func bitpackEncode(raw []byte, p codecParams) ([]byte, error) {
	w := p.width
	var maxValue uint64
	for i := 0; i < len(raw); i += w {
		maxValue = max(maxValue, load(raw[i:], w))
	}
	nbBits := uint(bits.Len64(maxValue))

	bw := bitWriter{out: []byte{byte(nbBits)}}
	for i := 0; i < len(raw); i += w {
		bw.write(load(raw[i:], w), nbBits)
	}

	return bw.flush(), nil
}

func bitpackDecode(payload []byte, p codecParams, size int) ([]byte, error) {
	w := p.width
	if len(payload) == 0 || size%w != 0 {
		return nil, errTruncated
	}

	nbBits := uint(payload[0])
	if nbBits > uint(8*w) {
		return nil, fmt.Errorf("bit width %d exceeds element width %d", nbBits, w)
	}
	count := size / w
	if uint64(len(payload)-1) != (uint64(count)*uint64(nbBits)+7)/8 {
		return nil, errTruncated
	}

	br := bitReader{in: payload[1:]}
	out := make([]byte, size)
	for i := 0; i < count; i++ {
		put(out[i*w:], w, br.read(nbBits))
	}

	return out, nil
}

// constantEncode stores a single element; the input must repeat it.
func constantEncode(raw []byte, p codecParams) ([]byte, error) {
	w := p.width
	first := raw[:w]
	for i := w; i < len(raw); i += w {
		if string(raw[i:i+w]) != string(first) {
			return nil, errNotConstant
		}
	}

	return append([]byte(nil), first...), nil
}

func constantDecode(payload []byte, p codecParams, size int) ([]byte, error) {
	if len(payload) != p.width || size%p.width != 0 {
		return nil, errTruncated
	}

	out := make([]byte, 0, size)
	for len(out) < size {
		out = append(out, payload...)
	}
	return out, nil
}

type bitWriter struct {
	out []byte
	cur byte
	n   uint
}

func (b *bitWriter) write(v uint64, nbBits uint) {
	for nbBits > 0 {
		take := min(8-b.n, nbBits)
		b.cur |= byte(v&(uint64(1)<<take-1)) << b.n
		b.n += take
		v >>= take
		nbBits -= take
		if b.n == 8 {
			b.out = append(b.out, b.cur)
			b.cur, b.n = 0, 0
		}
	}
}

func (b *bitWriter) flush() []byte {
	if b.n > 0 {
		b.out = append(b.out, b.cur)
		b.cur, b.n = 0, 0
	}
	return b.out
}

type bitReader struct {
	in  []byte
	pos uint
}

func (b *bitReader) read(nbBits uint) uint64 {
	var v uint64
	var shift uint
	for nbBits > 0 {
		off := b.pos % 8
		take := min(8-off, nbBits)
		chunk := uint64(b.in[b.pos/8]>>off) & (uint64(1)<<take - 1)
		v |= chunk << shift
		shift += take
		b.pos += take
		nbBits -= take
	}
	return v
}

func load(b []byte, w int) uint64 {
	switch w {
	case 1:
		return uint64(b[0])
	case 2:
		return uint64(binary.LittleEndian.Uint16(b))
	case 4:
		return uint64(binary.LittleEndian.Uint32(b))
	default:
		return binary.LittleEndian.Uint64(b)
	}
}

func put(b []byte, w int, v uint64) {
	switch w {
	case 1:
		b[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(b, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(b, uint32(v))
	default:
		binary.LittleEndian.PutUint64(b, v)
	}
}

func widthMask(w int) uint64 {
	if w >= 8 {
		return ^uint64(0)
	}
	return uint64(1)<<(8*w) - 1
}
