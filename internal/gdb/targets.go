package gdb

import (
	_ "embed"
	"fmt"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed targets/targets.yaml
var targetsYAML []byte

// DefaultTarget is used when neither a name nor a matching target_type
// selects a profile.
const DefaultTarget = "ck802"

// Target describes how to replay a snapshot into one kind of core.
type Target struct {
	// Name is the profile identifier (e.g., "ck802")
	Name string `yaml:"name"`

	// Description is a human-readable summary
	Description string `yaml:"description"`

	// TargetTypes lists the container target_type values this profile serves
	TargetTypes []uint8 `yaml:"target_types"`

	// GDB is the default debugger binary for this core
	GDB string `yaml:"gdb"`

	// Registers is the saved frame layout, one 32-bit word per register
	Registers []string `yaml:"registers"`

	// Watchdog, when set, is written before loading to stop the target
	// from resetting mid-replay.
	Watchdog *Watchdog `yaml:"watchdog,omitempty"`
}

// Watchdog is a memory write that disables the target watchdog.
type Watchdog struct {
	Address uint32 `yaml:"address"`
	Value   uint32 `yaml:"value"`
}

// FrameSize returns the size in bytes of the saved register frame.
func (t *Target) FrameSize() int {
	return len(t.Registers) * 4
}

// String returns a human-readable representation of the target.
func (t *Target) String() string {
	return fmt.Sprintf("%s - %s", t.Name, t.Description)
}

// TargetDB holds all known target profiles.
type TargetDB struct {
	Targets []*Target

	byName map[string]*Target
	byType map[uint8]*Target
}

type targetDBContainer struct {
	Targets []*Target `yaml:"targets"`
}

var (
	globalTargetDB   *TargetDB
	globalTargetOnce sync.Once
	globalTargetErr  error
)

// LoadTargets loads the embedded target catalog.
// This function is safe to call multiple times; the catalog is parsed only once.
func LoadTargets() (*TargetDB, error) {
	globalTargetOnce.Do(func() {
		globalTargetDB, globalTargetErr = parseTargets(targetsYAML)
	})
	return globalTargetDB, globalTargetErr
}

func parseTargets(data []byte) (*TargetDB, error) {
	var container targetDBContainer
	if err := yaml.Unmarshal(data, &container); err != nil {
		return nil, fmt.Errorf("failed to parse targets.yaml: %w", err)
	}

	db := &TargetDB{
		Targets: container.Targets,
		byName:  make(map[string]*Target),
		byType:  make(map[uint8]*Target),
	}
	for _, t := range db.Targets {
		if t.Name == "" {
			return nil, fmt.Errorf("targets.yaml: target without a name")
		}
		if len(t.Registers) == 0 {
			return nil, fmt.Errorf("targets.yaml: target %s lists no registers", t.Name)
		}
		db.byName[t.Name] = t
		for _, tt := range t.TargetTypes {
			db.byType[tt] = t
		}
	}
	return db, nil
}

// Get retrieves a target by name.
func (db *TargetDB) Get(name string) (*Target, bool) {
	t, ok := db.byName[name]
	return t, ok
}

// ByType retrieves the target serving a container target_type value.
func (db *TargetDB) ByType(targetType uint8) (*Target, bool) {
	t, ok := db.byType[targetType]
	return t, ok
}

// Names returns all target names, sorted.
func (db *TargetDB) Names() []string {
	names := make([]string, 0, len(db.byName))
	for name := range db.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolve picks the profile for a replay: by name when given, otherwise
// by target_type, otherwise DefaultTarget.
func (db *TargetDB) Resolve(name string, targetType uint8) (*Target, error) {
	if name != "" {
		t, ok := db.Get(name)
		if !ok {
			return nil, &UnknownTargetError{Name: name, Available: db.Names()}
		}
		return t, nil
	}
	if t, ok := db.ByType(targetType); ok {
		return t, nil
	}
	t, ok := db.Get(DefaultTarget)
	if !ok {
		return nil, &UnknownTargetError{Name: DefaultTarget, Available: db.Names()}
	}
	return t, nil
}
