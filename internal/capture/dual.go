package capture

import (
	"io"
	"strings"

	"go.uber.org/zap"
)

// MergeContinuations joins physical lines that a serial driver split.
// A line starts a new logical line when it begins with timestampMarker or
// contains prefix; any other line is appended to the previous one. An empty
// timestampMarker disables merging.
func MergeContinuations(lines []string, timestampMarker, prefix string) []string {
	if timestampMarker == "" {
		out := make([]string, len(lines))
		for i, l := range lines {
			out[i] = strings.TrimRight(l, "\r\n")
		}
		return out
	}

	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimRight(l, "\r\n")
		startsNew := strings.HasPrefix(l, timestampMarker) || (prefix != "" && strings.Contains(l, prefix))
		if startsNew || len(out) == 0 {
			out = append(out, l)
			continue
		}
		out[len(out)-1] += l
	}
	return out
}

// DualResult describes a primary and backup extraction of the same capture.
type DualResult struct {
	Primary *Result
	Backup  *Result
	// Verified is true when both passes completed and agree.
	Verified bool
}

// ExtractTwice runs a primary pass from the first line and a backup pass
// from the line after the primary's terminal marker. Devices emit every
// capture twice so that a corrupted or truncated copy can be detected.
//
// A FramingError from the primary pass is returned as is. Disagreement
// between the passes, or a failed backup pass, is returned as an
// IntegrityError together with the DualResult.
func (e *Extractor) ExtractTwice(lines []string, primary, backup io.Writer) (*DualResult, error) {
	first, err := e.Extract(lines, 0, primary)
	if err != nil {
		return nil, err
	}
	dual := &DualResult{Primary: first}

	second, err := e.Extract(lines, first.EndLine, backup)
	if err != nil {
		e.logger.Warn("backup pass failed", zap.Error(err))
		return dual, &IntegrityError{
			PrimaryBytes: first.Written,
			Detail:       "backup pass failed",
			Err:          err,
		}
	}
	dual.Backup = second

	var detail string
	switch {
	case !first.Complete || !second.Complete:
		detail = "capture incomplete"
	case first.Written != second.Written:
		detail = "length mismatch"
	case first.ComputedCRC != second.ComputedCRC:
		detail = "content mismatch"
	}
	if detail != "" {
		e.logger.Warn("primary and backup captures disagree",
			zap.String("reason", detail),
			zap.Int("primary_bytes", first.Written),
			zap.Int("backup_bytes", second.Written),
		)
		return dual, &IntegrityError{
			PrimaryBytes: first.Written,
			BackupBytes:  second.Written,
			Detail:       detail,
		}
	}

	dual.Verified = true
	e.logger.Info("capture verified",
		zap.Int("bytes", first.Written),
		zap.Int("blocks", first.Blocks),
	)
	return dual, nil
}
