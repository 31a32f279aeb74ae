package catalog

import (
	"fmt"
	"os"
)

// Load reads and parses a catalog from the given YAML file path.
//
// Returns an error if:
//   - The file cannot be read (not found, permission denied, etc.)
//   - The content is not valid YAML
//   - Any entry is invalid (duplicate expected files, bad archive pattern)
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("catalog file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read catalog file: %w", err)
	}
	return Parse(data)
}
