package outputs

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// ArchiveMetadataDir is the macOS archive metadata directory, never collected
const ArchiveMetadataDir = "__MACOSX"

// Collector enumerates the files an engine run produced
type Collector struct {
	logger zerolog.Logger
}

// NewCollector creates a collector that logs every entry it visits
func NewCollector(logger zerolog.Logger) *Collector {
	return &Collector{logger: logger}
}

// Collect walks root depth-first in directory listing order and returns every file found.
// Each call is a fresh traversal.
func (c *Collector) Collect(root string) ([]pipeline.Asset, error) {
	c.logger.Info().Str("dir", root).Msg("Collecting outputs")
	return c.collect(root, "")
}

func (c *Collector) collect(dir string, prefix string) ([]pipeline.Asset, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", dir, err)
	}

	var assets []pipeline.Asset
	for _, entry := range entries {
		name := entry.Name()
		if name == ArchiveMetadataDir {
			continue
		}
		path := filepath.Join(dir, name)

		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		switch {
		case info.Mode().IsRegular():
			c.logger.Info().Msg(prefix + name)
			assets = append(assets, pipeline.Asset{
				Path: path,
				Role: pipeline.RoleOutput,
				Rel:  prefix + name,
			})
		case info.IsDir():
			c.logger.Info().Msg(prefix + name + "/")
			nested, err := c.collect(path, prefix+name+"/")
			if err != nil {
				return nil, err
			}
			assets = append(assets, nested...)
		}
	}
	return assets, nil
}
