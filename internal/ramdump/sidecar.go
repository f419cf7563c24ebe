package ramdump

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/tidwall/jsonc"
	"github.com/zeebo/blake3"
)

// SidecarVersion is the version written into new sidecar files.
const SidecarVersion = 1

// ErrDigestMismatch is returned by Verify when a region file changed.
var ErrDigestMismatch = errors.New("region file digest mismatch")

// Sidecar describes unpacked region files and the register frame address.
// It is the hand-off between unpack and replay.
type Sidecar struct {
	Version       int             `json:"version"`
	ESFAddr       uint32          `json:"esf_addr"`
	CurrentThread uint32          `json:"current_thread"`
	TargetType    uint8           `json:"target_type"`
	Regions       []SidecarRegion `json:"regions"`
}

// SidecarRegion points at one raw region file.
type SidecarRegion struct {
	Path    string `json:"path"`
	Address uint32 `json:"address"`
	Size    int    `json:"size"`
	// BLAKE3 is the hex digest of the file. Empty for legacy sidecars.
	BLAKE3 string `json:"blake3,omitempty"`
}

// WriteRegions writes each region to dir as "0x<addr>.bin" and returns
// the sidecar describing them. Sidecar paths are absolute.
func (img *Image) WriteRegions(dir string) (*Sidecar, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	sc := &Sidecar{
		Version:       SidecarVersion,
		ESFAddr:       img.Header.ESFAddr,
		CurrentThread: img.Header.CurrentThread,
		TargetType:    img.Header.TargetType,
	}
	for _, r := range img.Regions {
		path := filepath.Join(dir, r.FileName())
		if err := os.WriteFile(path, r.Data, 0644); err != nil {
			return nil, fmt.Errorf("failed to write region 0x%08x: %w", r.Address, err)
		}
		if abs, err := filepath.Abs(path); err == nil {
			path = abs
		}
		sum := blake3.Sum256(r.Data)
		sc.Regions = append(sc.Regions, SidecarRegion{
			Path:    path,
			Address: r.Address,
			Size:    len(r.Data),
			BLAKE3:  hex.EncodeToString(sum[:]),
		})
	}
	return sc, nil
}

// Save writes the sidecar as indented JSON, replacing path atomically.
func (s *Sidecar) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal sidecar: %w", err)
	}
	data = append(data, '\n')

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temporary sidecar file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to save sidecar: %w", err)
	}
	return nil
}

// LoadSidecar reads a sidecar file. Relative region paths are resolved
// against the sidecar's directory.
func LoadSidecar(path string) (*Sidecar, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sidecar: %w", err)
	}
	sc, err := ParseSidecar(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	base := filepath.Dir(path)
	for i := range sc.Regions {
		if !filepath.IsAbs(sc.Regions[i].Path) {
			sc.Regions[i].Path = filepath.Join(base, sc.Regions[i].Path)
		}
	}
	return sc, nil
}

// ParseSidecar parses either the JSON sidecar format (comments allowed) or
// the legacy two-line format: a JSON object mapping path to address,
// followed by the decimal register frame address on the next line.
func ParseSidecar(data []byte) (*Sidecar, error) {
	stripped := jsonc.ToJSON(data)

	dec := json.NewDecoder(bytes.NewReader(stripped))
	var first json.RawMessage
	if err := dec.Decode(&first); err != nil {
		return nil, fmt.Errorf("invalid sidecar: %w", err)
	}
	rest := bytes.TrimSpace(stripped[dec.InputOffset():])

	var keys map[string]json.RawMessage
	if err := json.Unmarshal(first, &keys); err != nil {
		return nil, fmt.Errorf("invalid sidecar: expected a JSON object: %w", err)
	}
	_, hasRegions := keys["regions"]
	_, hasVersion := keys["version"]
	if (hasRegions || hasVersion) && len(rest) == 0 {
		var sc Sidecar
		if err := json.Unmarshal(first, &sc); err != nil {
			return nil, fmt.Errorf("invalid sidecar: %w", err)
		}
		return &sc, nil
	}

	return parseLegacySidecar(first, rest)
}

func parseLegacySidecar(mapping json.RawMessage, rest []byte) (*Sidecar, error) {
	var paths map[string]uint32
	if err := json.Unmarshal(mapping, &paths); err != nil {
		return nil, fmt.Errorf("invalid legacy sidecar mapping: %w", err)
	}

	sc := &Sidecar{}
	if len(rest) > 0 {
		esf, err := strconv.ParseUint(string(rest), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid legacy sidecar register frame address %q: %w", rest, err)
		}
		sc.ESFAddr = uint32(esf)
	}
	for path, addr := range paths {
		sc.Regions = append(sc.Regions, SidecarRegion{Path: path, Address: addr})
	}
	sort.Slice(sc.Regions, func(i, j int) bool {
		return sc.Regions[i].Address < sc.Regions[j].Address
	})
	return sc, nil
}

// Verify checks that every region file exists and, where a digest is
// recorded, still matches it.
func (s *Sidecar) Verify() error {
	if len(s.Regions) == 0 {
		return errors.New("sidecar lists no regions")
	}
	for _, r := range s.Regions {
		if err := r.Verify(); err != nil {
			return err
		}
	}
	return nil
}

// Verify checks the region file against the recorded size and digest.
func (r SidecarRegion) Verify() error {
	data, err := os.ReadFile(r.Path)
	if err != nil {
		return fmt.Errorf("region 0x%08x: %w", r.Address, err)
	}
	if r.Size != 0 && len(data) != r.Size {
		return fmt.Errorf("region 0x%08x: %s is %d bytes, expected %d: %w",
			r.Address, r.Path, len(data), r.Size, ErrDigestMismatch)
	}
	if r.BLAKE3 == "" {
		return nil
	}
	sum := blake3.Sum256(data)
	if got := hex.EncodeToString(sum[:]); got != r.BLAKE3 {
		return fmt.Errorf("region 0x%08x: %s has blake3 %s, expected %s: %w",
			r.Address, r.Path, got, r.BLAKE3, ErrDigestMismatch)
	}
	return nil
}
