package ramdump

import (
	"fmt"

	"github.com/pierrec/lz4/v4"

	"github.com/muurk/ramdump/internal/fastlz"
)

// codecForVersion maps the container header version to its block codec.
func codecForVersion(version uint32) (Codec, error) {
	switch Codec(version) {
	case CodecLegacy, CodecFastLZ:
		return CodecFastLZ, nil
	case CodecLZ4:
		return CodecLZ4, nil
	default:
		return 0, ErrUnsupportedVersion
	}
}

// decompressBlock expands one block. The result may be shorter than
// orgSize; the caller checks the length.
func decompressBlock(codec Codec, src []byte, orgSize int) ([]byte, error) {
	switch codec {
	case CodecFastLZ:
		return fastlz.Decompress(src, orgSize)
	case CodecLZ4:
		dst := make([]byte, orgSize)
		n, err := lz4.UncompressBlock(src, dst)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("unsupported block codec %s", codec)
	}
}

func compressBlock(codec Codec, src []byte) ([]byte, error) {
	switch codec {
	case CodecFastLZ, CodecLegacy:
		return fastlz.Compress(src), nil
	case CodecLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(src)))
		n, err := lz4.CompressBlock(src, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		// Zero means incompressible; store it as a single literal run.
		if n == 0 {
			return lz4Literals(src), nil
		}
		return dst[:n], nil
	default:
		return nil, fmt.Errorf("unsupported block codec %s", codec)
	}
}

// lz4Literals encodes src as one LZ4 sequence made only of literals.
func lz4Literals(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/255+16)
	n := len(src)
	if n < 15 {
		out = append(out, byte(n<<4))
	} else {
		out = append(out, 0xf0)
		for n -= 15; n >= 255; n -= 255 {
			out = append(out, 255)
		}
		out = append(out, byte(n))
	}
	return append(out, src...)
}
