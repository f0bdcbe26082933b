package graph

import (
	"fmt"
	"os"
	"sort"

	"github.com/bytedance/sonic"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// Node is one operation of an engine workflow in API format
type Node struct {
	Inputs    map[string]any `json:"inputs"`
	ClassType string         `json:"class_type,omitempty"`
	Meta      map[string]any `json:"_meta,omitempty"`
}

// Graph maps node identifiers to nodes
type Graph map[string]Node

// ImageFiles returns the string values of every "image" input, sorted by node id
func (g Graph) ImageFiles() []string {
	ids := make([]string, 0, len(g))
	for id := range g {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var files []string
	for _, id := range ids {
		if name, ok := g[id].Inputs["image"].(string); ok && name != "" {
			files = append(files, name)
		}
	}
	return files
}

// MarshalJSON encodes the graph with sorted keys so identical graphs encode identically
func (g Graph) MarshalJSON() ([]byte, error) {
	return sonic.ConfigStd.Marshal(map[string]Node(g))
}

// Template is the immutable workflow document loaded once at startup.
// Every Patch works on a fresh decode, so no state crosses requests.
type Template struct {
	raw []byte
	ids NodeIDs
}

// LoadTemplate reads a workflow template from disk
func LoadTemplate(path string, ids NodeIDs) (*Template, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read workflow template: %v", pipeline.ErrConfiguration, err)
	}
	return ParseTemplate(data, ids)
}

// ParseTemplate validates data as a workflow template bound to ids
func ParseTemplate(data []byte, ids NodeIDs) (*Template, error) {
	t := &Template{
		raw: append([]byte(nil), data...),
		ids: ids,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Graph returns a fresh, unpatched copy of the template
func (t *Template) Graph() (Graph, error) {
	var g Graph
	if err := sonic.Unmarshal(t.raw, &g); err != nil {
		return nil, fmt.Errorf("%w: invalid workflow template: %v", pipeline.ErrConfiguration, err)
	}
	return g, nil
}

// Validate checks that every node the pipeline writes to exists in the template
func (t *Template) Validate() error {
	g, err := t.Graph()
	if err != nil {
		return err
	}
	return t.ids.check(g)
}
