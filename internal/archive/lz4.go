package archive

import (
	"errors"
	"sync"

	"github.com/pierrec/lz4/v4"
)

var lz4Pool = sync.Pool{
	New: func() any { return &lz4.Compressor{} },
}

// maxLZ4Size bounds the output buffer when decoding a block of unknown size.
const maxLZ4Size = 64 << 20

type lz4Codec struct{}

func (lz4Codec) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	lc, _ := lz4Pool.Get().(*lz4.Compressor)
	defer lz4Pool.Put(lc)

	n, err := lc.CompressBlock(data, dst)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, errIncompressible
	}
	return dst[:n], nil
}

// Decompress grows the output buffer until the block fits. Flash images
// of erased sectors compress far better than the usual 4x.
func (lz4Codec) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	for size := len(data) * 4; size <= maxLZ4Size; size *= 2 {
		buf := make([]byte, size)
		n, err := lz4.UncompressBlock(data, buf)
		if err == nil {
			return buf[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, err
		}
	}
	return nil, lz4.ErrInvalidSourceShortBuffer
}
