package capture

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"hash/crc32"
	"io"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// Markers is the framing vocabulary of a capture. Every marker is matched
// as Prefix+marker anywhere in a line.
type Markers struct {
	Prefix string
	Begin  string
	Block  string
	CRC32  string
	End    string
	Error  string
}

const (
	// PrefixCoredump tags coredump captures.
	PrefixCoredump = "#CD:"
	// PrefixDataExport tags generic data export captures.
	PrefixDataExport = "#DA:"

	// DefaultTimestampMarker starts every log line emitted by the console.
	DefaultTimestampMarker = "["
)

// DefaultMarkers returns the marker set for the given prefix.
func DefaultMarkers(prefix string) Markers {
	return Markers{
		Prefix: prefix,
		Begin:  "BEGIN#",
		Block:  "BLOCK#",
		CRC32:  "CRC32#",
		End:    "END#",
		Error:  "ERROR CANNOT DUMP#",
	}
}

// Options configures an Extractor. Split console lines are merged before
// extraction, see MergeContinuations.
type Options struct {
	Markers Markers
}

// DefaultOptions returns options for coredump captures.
func DefaultOptions() Options {
	return Options{
		Markers: DefaultMarkers(PrefixCoredump),
	}
}

// BlockMismatch records a BLOCK marker whose CRC disagrees with the bytes
// emitted since the previous BLOCK (or BEGIN).
type BlockMismatch struct {
	Line     int
	Index    int
	Declared uint32
	Computed uint32
}

// Result describes one extraction pass.
type Result struct {
	// Written is the number of bytes delivered to the sink.
	Written int
	// BeginLine and EndLine are 1-based. EndLine is the terminal marker
	// line, or the transcript length when no END was seen.
	BeginLine int
	EndLine   int
	// Complete is false when the transcript ended before END.
	Complete bool
	// SourceAddr is the device buffer address announced by BEGIN, if any.
	SourceAddr uint64
	Blocks     int

	BlockMismatches []BlockMismatch

	HasDeclaredCRC bool
	DeclaredCRC    uint32
	ComputedCRC    uint32
}

// StreamCRCMismatch reports whether a declared whole-stream CRC disagrees
// with the bytes extracted.
func (r *Result) StreamCRCMismatch() bool {
	return r.HasDeclaredCRC && r.DeclaredCRC != r.ComputedCRC
}

// Clean reports whether the pass completed with no integrity findings.
func (r *Result) Clean() bool {
	return r.Complete && !r.StreamCRCMismatch() && len(r.BlockMismatches) == 0
}

// Extractor recovers framed hex captures from a console transcript.
// It holds no per-pass state and may be reused.
type Extractor struct {
	opts   Options
	logger *zap.Logger
}

// NewExtractor creates an extractor.
func NewExtractor(opts Options, logger *zap.Logger) *Extractor {
	if opts.Markers.Prefix == "" {
		opts.Markers = DefaultMarkers(PrefixCoredump)
	}
	return &Extractor{
		opts:   opts,
		logger: logger,
	}
}

// Options returns the extractor configuration.
func (e *Extractor) Options() Options {
	return e.opts
}

// pass is the state of a single extraction.
type pass struct {
	capturing bool
	out       *bufio.Writer
	written   int
	blockCRC  uint32
	streamCRC uint32
	result    Result
}

func (p *pass) emit(b []byte) error {
	n, err := p.out.Write(b)
	p.written += n
	if err != nil {
		return err
	}
	p.blockCRC = crc32.Update(p.blockCRC, crc32.IEEETable, b)
	p.streamCRC = crc32.Update(p.streamCRC, crc32.IEEETable, b)
	return nil
}

// Extract scans lines from index start and streams the recovered bytes to
// sink as each data line is decoded. Integrity findings are recorded on the
// Result and logged as warnings.
//
// When a FramingError is returned, Result.Written is zero and the sink may
// hold a partial prefix of the capture, which the caller must discard.
func (e *Extractor) Extract(lines []string, start int, sink io.Writer) (*Result, error) {
	m := e.opts.Markers
	p := &pass{out: bufio.NewWriter(sink)}
	if start < 0 {
		start = 0
	}

	terminated := false
	for i := start; i < len(lines) && !terminated; i++ {
		line := lines[i]
		lineNo := i + 1

		if !strings.Contains(line, m.Prefix) {
			continue
		}

		switch {
		case strings.Contains(line, m.Prefix+m.Error):
			e.logger.Error("device could not produce a dump",
				zap.Int("line", lineNo),
			)
			return &Result{EndLine: lineNo}, &FramingError{Line: lineNo, Reason: ReasonDeviceError}

		case strings.Contains(line, m.Prefix+m.Begin):
			if p.capturing {
				return &Result{EndLine: lineNo}, &FramingError{Line: lineNo, Reason: ReasonDuplicateBegin}
			}
			p.capturing = true
			p.result.BeginLine = lineNo
			p.result.SourceAddr = parseBeginAddr(after(line, m.Prefix+m.Begin))
			e.logger.Debug("capture window opened",
				zap.Int("line", lineNo),
				zap.String("source_addr", fmt.Sprintf("0x%x", p.result.SourceAddr)),
			)

		case !p.capturing:
			// Outside the BEGIN/END bracket.

		case strings.Contains(line, m.Prefix+m.End):
			p.result.EndLine = lineNo
			p.result.Complete = true
			terminated = true

		case strings.Contains(line, m.Prefix+m.Block):
			e.checkBlock(p, after(line, m.Prefix+m.Block), lineNo)

		case strings.Contains(line, m.Prefix+m.CRC32):
			crc, err := parseHex32(after(line, m.Prefix+m.CRC32))
			if err != nil {
				e.logger.Warn("ignoring malformed stream CRC marker",
					zap.Int("line", lineNo),
					zap.Error(err),
				)
				continue
			}
			p.result.HasDeclaredCRC = true
			p.result.DeclaredCRC = crc

		default:
			payload := strings.TrimSpace(after(line, m.Prefix))
			b, err := hex.DecodeString(payload)
			if err != nil {
				e.logger.Error("malformed hex payload",
					zap.Int("line", lineNo),
					zap.String("payload", payload),
					zap.Error(err),
				)
				return &Result{EndLine: lineNo}, &FramingError{
					Line:    lineNo,
					Reason:  ReasonBadPayload,
					Payload: payload,
					Err:     err,
				}
			}
			if err := p.emit(b); err != nil {
				return &Result{EndLine: lineNo}, fmt.Errorf("failed to write extracted data: %w", err)
			}
		}
	}

	if !p.capturing {
		return &Result{EndLine: len(lines)}, &FramingError{Line: len(lines), Reason: ReasonMissingBegin}
	}

	res := p.result
	res.ComputedCRC = p.streamCRC
	if !res.Complete {
		res.EndLine = len(lines)
		e.logger.Warn("transcript ended before END marker",
			zap.Int("begin_line", res.BeginLine),
			zap.Int("bytes", p.written),
		)
	}
	if res.StreamCRCMismatch() {
		e.logger.Warn("stream CRC mismatch",
			zap.String("declared", fmt.Sprintf("0x%08x", res.DeclaredCRC)),
			zap.String("computed", fmt.Sprintf("0x%08x", res.ComputedCRC)),
			zap.Int("bytes", p.written),
		)
	}

	res.Written = p.written
	if err := p.out.Flush(); err != nil {
		return &res, fmt.Errorf("failed to write extracted data: %w", err)
	}

	e.logger.Debug("extraction pass complete",
		zap.Int("start", start),
		zap.Int("begin_line", res.BeginLine),
		zap.Int("end_line", res.EndLine),
		zap.Int("bytes", res.Written),
		zap.Int("blocks", res.Blocks),
	)
	return &res, nil
}

func (e *Extractor) checkBlock(p *pass, rest string, lineNo int) {
	computed := p.blockCRC
	p.blockCRC = 0
	p.result.Blocks++

	idxText, crcText, ok := strings.Cut(rest, "#")
	idx, idxErr := strconv.Atoi(strings.TrimSpace(idxText))
	declared, crcErr := parseHex32(crcText)
	if !ok || idxErr != nil || crcErr != nil {
		e.logger.Warn("ignoring malformed block CRC marker",
			zap.Int("line", lineNo),
			zap.String("marker", strings.TrimSpace(rest)),
		)
		return
	}

	if declared != computed {
		p.result.BlockMismatches = append(p.result.BlockMismatches, BlockMismatch{
			Line:     lineNo,
			Index:    idx,
			Declared: declared,
			Computed: computed,
		})
		e.logger.Warn("block CRC mismatch",
			zap.Int("line", lineNo),
			zap.Int("block", idx),
			zap.String("declared", fmt.Sprintf("0x%08x", declared)),
			zap.String("computed", fmt.Sprintf("0x%08x", computed)),
		)
	}
}

// after returns the text following the first occurrence of sep.
func after(line, sep string) string {
	_, rest, _ := strings.Cut(line, sep)
	return rest
}

func parseHex32(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, err
	}
	return uint32(v), nil
}

func parseBeginAddr(s string) uint64 {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if s == "" {
		return 0
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0
	}
	return v
}
