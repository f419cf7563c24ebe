// Package logging provides the process-wide zap logger for the ramdump
// commands.
//
// Logging is silent unless a level is given, either with --log-level or
// through RAMDUMP_LOG_LEVEL, so that normal command output is not mixed
// with diagnostics:
//
//	RAMDUMP_LOG_LEVEL=debug ramdump extract console.log -o dump.bin
//
// Packages receive a *zap.Logger explicitly; the helpers here exist for
// the command layer:
//
//	if err := logging.Initialize(level); err != nil {
//	    return err
//	}
//	defer logging.Sync()
//	logger := logging.GetLogger()
//
// Log lines go to stderr in console format, or as JSON when
// RAMDUMP_LOG_FORMAT=json:
//
//	2026-03-02T10:30:45.123Z  WARN  capture/extractor.go:212  block CRC mismatch  {"block": 3, ...}
package logging
