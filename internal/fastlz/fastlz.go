package fastlz

import (
	"errors"
	"fmt"
)

const (
	// maxCopy is the longest literal run a single control byte can carry.
	maxCopy = 32

	// maxL2Distance is the largest back-reference distance expressible with
	// the 13-bit near offset. Longer distances use the far form.
	maxL2Distance = 8191

	// maxFarDistance is the largest distance the far form can reach.
	maxFarDistance = 65535 + maxL2Distance - 1

	// levelMarker is OR-ed into the first control byte of a level-2 stream.
	levelMarker = 1 << 5

	hashLog  = 13
	hashSize = 1 << hashLog
)

// Sentinel errors for decoder bound violations. Use errors.Is to test for them.
var (
	ErrOutputOverflow       = errors.New("output buffer overflow")
	ErrInputOverflow        = errors.New("input buffer overflow")
	ErrReferenceOutOfBounds = errors.New("reference before output buffer start")
)

// DecodeError describes where in the stream a decode failed.
type DecodeError struct {
	// In is the input offset of the control byte being processed.
	In int
	// Out is the number of output bytes produced so far.
	Out int
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("fastlz: %v (input offset %d, output offset %d)", e.Err, e.In, e.Out)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Decompress decodes a level-2 token stream into at most limit bytes.
//
// The first control byte always starts a literal run; its top three bits
// carry the compression level and are ignored. The returned slice is sized
// to the bytes actually produced.
func Decompress(src []byte, limit int) ([]byte, error) {
	if len(src) == 0 {
		return nil, &DecodeError{Err: ErrInputOverflow}
	}

	dst := make([]byte, limit)
	ip := 1
	op := 0
	ctrl := int(src[0] & 31)
	token := 0

	for {
		if ctrl >= 32 {
			length := (ctrl >> 5) - 1
			ofs := (ctrl & 31) << 8
			ref := op - ofs - 1

			if length == 6 {
				for {
					if ip >= len(src) {
						return nil, &DecodeError{In: token, Out: op, Err: ErrInputOverflow}
					}
					code := int(src[ip])
					ip++
					length += code
					if code != 255 {
						break
					}
				}
			}

			if ip >= len(src) {
				return nil, &DecodeError{In: token, Out: op, Err: ErrInputOverflow}
			}
			code := int(src[ip])
			ip++
			ref -= code
			length += 3

			if code == 255 && ofs == 31<<8 {
				if ip+2 > len(src) {
					return nil, &DecodeError{In: token, Out: op, Err: ErrInputOverflow}
				}
				ofs = int(src[ip])<<8 | int(src[ip+1])
				ip += 2
				ref = op - ofs - maxL2Distance - 1
			}

			if op+length > limit {
				return nil, &DecodeError{In: token, Out: op, Err: ErrOutputOverflow}
			}
			if ref < 0 {
				return nil, &DecodeError{In: token, Out: op, Err: ErrReferenceOutOfBounds}
			}

			// Source and destination may overlap; each byte must see the
			// bytes written earlier in this same copy.
			for i := 0; i < length; i++ {
				dst[op+i] = dst[ref+i]
			}
			op += length
		} else {
			ctrl++
			if op+ctrl > limit {
				return nil, &DecodeError{In: token, Out: op, Err: ErrOutputOverflow}
			}
			if ip+ctrl > len(src) {
				return nil, &DecodeError{In: token, Out: op, Err: ErrInputOverflow}
			}
			copy(dst[op:op+ctrl], src[ip:ip+ctrl])
			ip += ctrl
			op += ctrl
		}

		if ip >= len(src) {
			break
		}
		token = ip
		ctrl = int(src[ip])
		ip++
	}

	return dst[:op], nil
}

// Compress encodes src as a level-2 token stream that Decompress reverses
// exactly. An empty input yields an empty stream.
func Compress(src []byte) []byte {
	if len(src) == 0 {
		return nil
	}

	dst := make([]byte, 0, len(src)+len(src)/maxCopy+8)

	// table holds position+1 of the last occurrence of each 3-byte hash.
	var table [hashSize]int32

	anchor := 0
	// The first byte is always emitted as a literal so the stream opens
	// with a literal run, which is what the level marker requires.
	ip := 1

	for ip+3 <= len(src) {
		seq := uint32(src[ip]) | uint32(src[ip+1])<<8 | uint32(src[ip+2])<<16
		h := hash(seq)
		ref := int(table[h]) - 1
		table[h] = int32(ip + 1)

		if ref < 0 {
			ip++
			continue
		}
		distance := ip - ref
		if distance > maxFarDistance ||
			src[ref] != src[ip] || src[ref+1] != src[ip+1] || src[ref+2] != src[ip+2] {
			ip++
			continue
		}

		length := 3
		for ip+length < len(src) && src[ref+length] == src[ip+length] {
			length++
		}

		// Far references cost two extra bytes; short ones are not worth it.
		if distance > maxL2Distance && length < 5 {
			ip++
			continue
		}

		dst = appendLiterals(dst, src[anchor:ip])
		dst = appendMatch(dst, length, distance)
		ip += length
		anchor = ip
	}

	dst = appendLiterals(dst, src[anchor:])
	dst[0] |= levelMarker
	return dst
}

func hash(seq uint32) uint32 {
	return (seq * 2654435769) >> (32 - hashLog)
}

func appendLiterals(dst, lit []byte) []byte {
	for len(lit) >= maxCopy {
		dst = append(dst, maxCopy-1)
		dst = append(dst, lit[:maxCopy]...)
		lit = lit[maxCopy:]
	}
	if len(lit) > 0 {
		dst = append(dst, byte(len(lit)-1))
		dst = append(dst, lit...)
	}
	return dst
}

// appendMatch emits a back-reference of length bytes (>= 3) located
// distance bytes (>= 1) before the current output position.
func appendMatch(dst []byte, length, distance int) []byte {
	n := length - 2
	d := distance - 1

	if d < maxL2Distance {
		if n < 7 {
			return append(dst, byte(n<<5+d>>8), byte(d&255))
		}
		dst = append(dst, byte(7<<5+d>>8))
		for n -= 7; n >= 255; n -= 255 {
			dst = append(dst, 255)
		}
		return append(dst, byte(n), byte(d&255))
	}

	d -= maxL2Distance
	if n < 7 {
		return append(dst, byte(n<<5+31), 255, byte(d>>8), byte(d&255))
	}
	dst = append(dst, byte(7<<5+31))
	for n -= 7; n >= 255; n -= 255 {
		dst = append(dst, 255)
	}
	return append(dst, byte(n), 255, byte(d>>8), byte(d&255))
}
