// Package seed reads workflow templates from YAML seed files.
package seed

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/bi-workflow/internal/domain/entity"
)

// File is the top-level layout of a seed file
type File struct {
	Templates []*entity.WorkflowTemplate `yaml:"templates"`
}

// LoadFile reads templates from a YAML file
func LoadFile(path string) ([]*entity.WorkflowTemplate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	templates, err := Load(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("seed file %s: %w", path, err)
	}
	return templates, nil
}

// Load decodes templates and marks every one active. Unknown keys are rejected.
func Load(r io.Reader) ([]*entity.WorkflowTemplate, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse seed templates: %w", err)
	}

	seen := make(map[string]bool, len(f.Templates))
	for i, tpl := range f.Templates {
		if tpl == nil || tpl.Code == "" {
			return nil, entity.NewValidationError("seed template #%d has no code", i+1)
		}
		if seen[tpl.Code] {
			return nil, entity.NewValidationError("seed template code %s is duplicated", tpl.Code)
		}
		seen[tpl.Code] = true
		tpl.IsActive = true
	}
	return f.Templates, nil
}
