package scripts

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"
)

//go:embed templates/snapshot.gdb.tmpl
var snapshotTemplate string

// SnapshotRegion is one memory range to dump and the file that receives it.
type SnapshotRegion struct {
	Address uint32
	Size    uint32
	File    string
}

// SnapshotScript dumps RAM regions from a halted target with
// "dump binary memory", one file per region.
type SnapshotScript struct {
	host    string
	port    int
	regions []SnapshotRegion
}

// NewSnapshotScript creates a new snapshot script.
func NewSnapshotScript(host string, port int, regions []SnapshotRegion) *SnapshotScript {
	return &SnapshotScript{
		host:    host,
		port:    port,
		regions: regions,
	}
}

// Name returns the script name
func (s *SnapshotScript) Name() string {
	return "snapshot"
}

// Template returns the embedded GDB script template
func (s *SnapshotScript) Template() string {
	return snapshotTemplate
}

type templateRegion struct {
	Index   int
	Address uint32
	End     uint64
	Size    uint32
	File    string
}

// Params returns the template parameters
func (s *SnapshotScript) Params() map[string]interface{} {
	regions := make([]templateRegion, len(s.regions))
	for i, r := range s.regions {
		regions[i] = templateRegion{
			Index:   i + 1,
			Address: r.Address,
			End:     uint64(r.Address) + uint64(r.Size),
			Size:    r.Size,
			File:    r.File,
		}
	}

	return map[string]interface{}{
		"Host":    s.host,
		"Port":    s.port,
		"Regions": regions,
		"Total":   len(regions),
	}
}

var stepPattern = regexp.MustCompile(`^\[(\d+)/(\d+)\] (.*)$`)

// Parse parses the GDB output.
// GDB in batch mode stops at the first failing command, so a missing
// success marker means the last announced region failed.
func (s *SnapshotScript) Parse(output string) (*Result, error) {
	result := NewResult()

	var pending string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		m := stepPattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if m[3] == "OK" {
			if pending != "" {
				result.AddStep(pending, StatusSuccess, "")
				pending = ""
			}
			continue
		}
		pending = line
	}

	if strings.Contains(output, "[SUCCESS]") {
		result.Success = true
		for _, r := range s.regions {
			result.BytesRead += int(r.Size)
		}
		return result, nil
	}

	reason := "success marker not found"
	switch {
	case !strings.Contains(output, "[CONNECTED]"):
		reason = "could not connect to " + fmt.Sprintf("%s:%d", s.host, s.port)
	case strings.Contains(output, "Cannot access memory"):
		reason = "cannot access memory"
	default:
		for _, line := range strings.Split(output, "\n") {
			if strings.Contains(strings.ToLower(line), "error") {
				reason = strings.TrimSpace(line)
				break
			}
		}
	}
	if pending != "" {
		result.AddStep(pending, StatusFailed, reason)
	}
	result.Error = fmt.Errorf("snapshot failed: %s", reason)
	return result, nil
}
