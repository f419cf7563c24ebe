package gdb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Parser extracts values from GDB console output.
// It uses compiled regex patterns for the responses the replay waits on.
type Parser struct {
	connectedPattern *regexp.Regexp // Matches: Remote debugging using host:port / Connected
	restorePattern   *regexp.Regexp // Matches: Restoring binary file x into memory (...)
	errorPattern     *regexp.Regexp // Matches: Error..., Cannot access memory..., Invalid register...
}

// NewParser creates a new parser with compiled regex patterns.
func NewParser() *Parser {
	return &Parser{
		connectedPattern: regexp.MustCompile(`Remote debugging|Connected`),
		restorePattern:   regexp.MustCompile(`Restoring binary file`),
		errorPattern:     regexp.MustCompile(`Error|Cannot access memory|Invalid register`),
	}
}

// MemoryWordPattern matches the x/1xw echo for addr, for example
// "0x20000100:\t0x00000001". GDB may append a symbol before the colon,
// as in "0x20000100 <buf>:\t0x00000001". The address must match in full.
func (p *Parser) MemoryWordPattern(addr uint32) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?:^|\s)0x0*%x(?:\s+<[^>]*>)?:\t(0x[0-9a-fA-F]+)`, addr))
}

// RegisterPattern matches the info registers line for reg, for example
// "r0             0x1                 1".
func (p *Parser) RegisterPattern(reg string) *regexp.Regexp {
	return regexp.MustCompile(fmt.Sprintf(`(?:^|\s)%s\s+(\w+)`, regexp.QuoteMeta(reg)))
}

// ParseCapture parses the first submatch of re in line as a 32-bit value.
// Values with or without a 0x prefix are read as hex.
func (p *Parser) ParseCapture(re *regexp.Regexp, line string) (uint32, error) {
	m := re.FindStringSubmatch(line)
	if len(m) < 2 {
		return 0, fmt.Errorf("no value in %q", line)
	}
	s := strings.TrimPrefix(strings.TrimPrefix(m[1], "0x"), "0X")
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return 0, fmt.Errorf("failed to parse value %q: %w", m[1], err)
	}
	return uint32(v), nil
}
