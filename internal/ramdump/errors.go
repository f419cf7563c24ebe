package ramdump

import (
	"errors"
	"fmt"
)

// Sentinel causes carried by FormatError.
var (
	ErrBadMagic           = errors.New("bad magic")
	ErrTruncated          = errors.New("truncated")
	ErrSizeMismatch       = errors.New("size mismatch")
	ErrUnsupportedVersion = errors.New("unsupported version")
	ErrBlockTooLarge      = errors.New("block too large")
)

// FormatError reports a malformed container: bad magic, a truncated
// header/region/block, or a size that does not add up. No partial output
// from a decode that returned a FormatError should be trusted.
type FormatError struct {
	// Offset is the container offset where the problem was detected.
	Offset int64
	// Field names the structure or field that failed validation.
	Field string
	// Detail carries optional context such as expected and actual values.
	Detail string
	Err    error
}

func (e *FormatError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("container format error at offset 0x%x (%s): %v: %s", e.Offset, e.Field, e.Err, e.Detail)
	}
	return fmt.Sprintf("container format error at offset 0x%x (%s): %v", e.Offset, e.Field, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// BlockError reports a compressed block that failed to decompress. The
// underlying error is usually a *fastlz.DecodeError.
type BlockError struct {
	// Region is the base address of the region that owns the block.
	Region uint32
	// Block is the zero-based index of the block within its region.
	Block int
	// Offset is the container offset of the block header.
	Offset int64
	Err    error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("decompressing block %d of region 0x%08x (offset 0x%x): %v",
		e.Block, e.Region, e.Offset, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}
