// Package capture recovers binary captures from serial console transcripts.
//
// A device streams a capture as hex text between framing markers, each
// tagged with a prefix such as "#CD:" so it can be picked out of ordinary
// log output:
//
//	[00:01:02.345] #CD:BEGIN#0x20000000
//	[00:01:02.346] #CD:52414d44010000002c010000...
//	[00:01:02.390] #CD:BLOCK#0#0x1c291ca3
//	[00:01:02.391] #CD:CRC32#0x8a1d9f3e
//	[00:01:02.392] #CD:END#
//
// The extractor verifies per-block and whole-stream CRC32 values and reports
// mismatches without failing. Devices emit every capture twice; ExtractTwice
// extracts both copies and only marks the result verified when they agree.
package capture
