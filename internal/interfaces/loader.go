package interfaces

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Parse decodes and validates a single interface description document.
//
// Parameters:
//   - data: Raw JSON interface description
//
// Returns:
//   - *Interface: The validated interface
//   - error: Parse or validation failure
func Parse(data []byte) (*Interface, error) {
	var iface Interface
	if err := json.Unmarshal(data, &iface); err != nil {
		return nil, fmt.Errorf("parsing interface JSON: %w", err)
	}
	if err := iface.Validate(); err != nil {
		return nil, err
	}
	return &iface, nil
}

// ParseFile reads and parses one interface description file.
func ParseFile(path string) (*Interface, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading interface file: %w", err)
	}

	iface, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return iface, nil
}

// LoadDirectory parses every .json file in dir and registers the
// resulting interfaces. Files are processed in name order so load
// behaviour is deterministic.
//
// A single invalid file aborts the load: a device running with a
// partial contract set would silently drop data for the missing
// interfaces.
//
// Parameters:
//   - dir: Directory containing interface description files
//
// Returns:
//   - int: Number of interfaces registered
//   - error: First parse, validation, or registration failure
func (r *Registry) LoadDirectory(dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("reading interfaces directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)

	for _, name := range files {
		iface, err := ParseFile(filepath.Join(dir, name))
		if err != nil {
			return 0, err
		}
		if err := r.Register(iface); err != nil {
			return 0, fmt.Errorf("%s: %w", name, err)
		}
		r.logger.Debug("interface loaded",
			"interface", iface.Name,
			"version", fmt.Sprintf("%d.%d", iface.MajorVersion, iface.MinorVersion),
			"mappings", len(iface.Mappings),
		)
	}

	return len(files), nil
}
