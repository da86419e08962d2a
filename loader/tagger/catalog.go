package tagger

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"mdrag/types"
)

// DefaultTags is the catalogue seeded into an empty tag table.
func DefaultTags() []types.Tag {
	return []types.Tag{
		{Name: "C", Description: "C programming language content", Category: "language", Color: "#00599C", IsActive: true},
		{Name: "Assembly", Description: "Assembly language content (6809)", Category: "language", Color: "#6E4C13", IsActive: true},
		{Name: "Basic", Description: "BASIC programming language content", Category: "language", Color: "#FF6B35", IsActive: true},
		{Name: "text-mode", Description: "Text mode programming and display", Category: "mode", Color: "#2563EB", IsActive: true},
		{Name: "graphics-mode", Description: "Graphics mode programming and display", Category: "mode", Color: "#DC2626", IsActive: true},
		{Name: "hardware", Description: "Hardware specifications and registers", Category: "topic", Color: "#059669", IsActive: true},
		{Name: "tools", Description: "Development tools and compilation", Category: "topic", Color: "#7C3AED", IsActive: true},
		{Name: "examples", Description: "Code examples and samples", Category: "topic", Color: "#EA580C", IsActive: true},
	}
}

type catalogFile struct {
	Tags []types.Tag `yaml:"tags"`
}

// LoadCatalog reads a YAML tag catalogue. An empty path yields DefaultTags.
//
//	tags:
//	  - name: C
//	    description: C programming language content
//	    category: language
//	    color: "#00599C"
func LoadCatalog(path string) ([]types.Tag, error) {
	if path == "" {
		return DefaultTags(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tag catalogue: %w", err)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse tag catalogue %s: %w", path, err)
	}
	if len(f.Tags) == 0 {
		return nil, fmt.Errorf("%w: tag catalogue %s is empty", types.ErrValidation, path)
	}
	for i := range f.Tags {
		if f.Tags[i].Name == "" {
			return nil, fmt.Errorf("%w: tag %d has no name", types.ErrValidation, i)
		}
		f.Tags[i].IsActive = true
	}
	return f.Tags, nil
}
