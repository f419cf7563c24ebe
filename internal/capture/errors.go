package capture

import (
	"fmt"
)

// Reason classifies a FramingError.
type Reason int

const (
	// ReasonMissingBegin means no BEGIN marker was found after the start line.
	ReasonMissingBegin Reason = iota
	// ReasonDuplicateBegin means a second BEGIN appeared inside an open window.
	ReasonDuplicateBegin
	// ReasonBadPayload means a data line did not hold valid hex.
	ReasonBadPayload
	// ReasonDeviceError means the device reported it could not produce a dump.
	ReasonDeviceError
)

func (r Reason) String() string {
	switch r {
	case ReasonMissingBegin:
		return "missing BEGIN marker"
	case ReasonDuplicateBegin:
		return "duplicate BEGIN marker"
	case ReasonBadPayload:
		return "malformed hex payload"
	case ReasonDeviceError:
		return "device reported dump error"
	default:
		return "unknown"
	}
}

// FramingError aborts one extraction pass. The pass reports zero bytes
// written and any partial sink output must be discarded.
type FramingError struct {
	// Line is the 1-based line number in the merged transcript, or the
	// number of lines scanned for ReasonMissingBegin.
	Line   int
	Reason Reason
	// Payload holds the offending text for ReasonBadPayload.
	Payload string
	Err     error
}

func (e *FramingError) Error() string {
	msg := fmt.Sprintf("framing error at line %d: %s", e.Line, e.Reason)
	if e.Payload != "" {
		msg += fmt.Sprintf(" (%q)", e.Payload)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FramingError) Unwrap() error {
	return e.Err
}

// IntegrityError reports that the primary and backup passes disagree.
// Both outputs should be treated as suspect.
type IntegrityError struct {
	PrimaryBytes int
	BackupBytes  int
	Detail       string
	// Err is the backup pass failure, if the backup pass did not complete.
	Err error
}

func (e *IntegrityError) Error() string {
	msg := fmt.Sprintf("integrity check failed: primary %d bytes, backup %d bytes: %s",
		e.PrimaryBytes, e.BackupBytes, e.Detail)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *IntegrityError) Unwrap() error {
	return e.Err
}
