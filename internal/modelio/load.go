package modelio

import (
	"fmt"
	"os"

	"github.com/banshee-data/bleloc/internal/obsmodel"
)

// LoadBundle reads and parses the model bundle JSON document at path.
func LoadBundle(path string) (*Bundle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("modelio: read bundle %q: %w", path, err)
	}
	return Parse(raw, obsmodel.DefaultTrainConfig())
}
