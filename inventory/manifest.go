package inventory

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"howett.net/plist"

	"gomemflow/memory"
)

// Manifest binds a name to a driver with default arguments.
type Manifest struct {
	Name        string `json:"name" plist:"name"`
	Kind        Kind   `json:"kind" plist:"kind"`
	Driver      string `json:"driver" plist:"driver"`
	Args        string `json:"args,omitempty" plist:"args,omitempty"`
	Description string `json:"description,omitempty" plist:"description,omitempty"`
}

// LoadManifest reads a .json or .plist manifest.
func LoadManifest(filename string) (Manifest, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Manifest{}, err
	}
	var m Manifest
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".plist":
		_, err = plist.Unmarshal(data, &m)
	default:
		err = json.Unmarshal(data, &m)
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("manifest %s: %v: %w", filename, err, memory.ErrArgument)
	}
	return m, nil
}

func isManifest(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".plist":
		return true
	}
	return false
}

// AddDir registers every manifest directly inside dir whose file name
// matches pattern (all of them when pattern is empty). Unreadable manifests
// and manifests naming an unknown kind or driver are skipped with a warning.
// Files are visited in name order, so a later file rebinds an earlier
// file's name. AddDir returns how many manifests it registered.
func (inv *Inventory) AddDir(dir, pattern string) (int, error) {
	if pattern != "" {
		if _, err := path.Match(pattern, ""); err != nil {
			return 0, fmt.Errorf("pattern %q: %v: %w", pattern, err, memory.ErrArgument)
		}
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("plugin dir: %w", err)
	}

	n := 0
	for _, de := range entries {
		if de.IsDir() || !isManifest(de.Name()) {
			continue
		}
		if pattern != "" {
			if ok, _ := path.Match(pattern, de.Name()); !ok {
				continue
			}
		}
		filename := filepath.Join(dir, de.Name())
		m, err := LoadManifest(filename)
		if err != nil {
			inv.log.Warn("Skipping manifest ", filename, ": ", err)
			continue
		}
		if err := inv.Register(m); err != nil {
			inv.log.Warn("Skipping manifest ", filename, ": ", err)
			continue
		}
		inv.log.Debugln("Registered", m.Kind, m.Name, "from", filename)
		n++
	}
	return n, nil
}

// AddDirs calls AddDir on each directory of a list separated by
// os.PathListSeparator. Missing directories are skipped.
func (inv *Inventory) AddDirs(list string) int {
	n := 0
	for _, dir := range filepath.SplitList(list) {
		if dir == "" {
			continue
		}
		added, err := inv.AddDir(dir, "")
		if err != nil {
			inv.log.Debugln("Plugin dir", dir, err)
			continue
		}
		n += added
	}
	return n
}
