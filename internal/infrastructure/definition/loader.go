package definition

import (
	"bytes"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/garyjia/loan-workflow/internal/domain/workflow"
)

//go:embed seeds/*.yaml
var seeds embed.FS

// File is the YAML form of a workflow definition
type File struct {
	Name            string           `yaml:"name"`
	ApplicationType string           `yaml:"application_type"`
	Stages          []workflow.Stage `yaml:"stages"`
	Transitions     []TransitionFile `yaml:"transitions"`
}

// TransitionFile is the YAML form of one edge
type TransitionFile struct {
	From            workflow.Status `yaml:"from"`
	To              workflow.Status `yaml:"to"`
	Action          workflow.Action `yaml:"action"`
	Role            string          `yaml:"role"`
	RequiresComment bool            `yaml:"requires_comment"`
	Condition       string          `yaml:"condition"`
}

// Parse decodes and validates one YAML definition. Unknown keys are rejected.
// Stages without a sort_order keep their file order.
func Parse(data []byte) (*workflow.Definition, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}

	stages := make([]workflow.Stage, len(f.Stages))
	for i, s := range f.Stages {
		if s.SortOrder == 0 {
			s.SortOrder = i + 1
		}
		stages[i] = s
	}

	transitions := make([]workflow.Transition, len(f.Transitions))
	for i, t := range f.Transitions {
		transitions[i] = workflow.Transition{
			FromStatus:      t.From,
			ToStatus:        t.To,
			Action:          t.Action,
			RequiredRole:    t.Role,
			RequiresComment: t.RequiresComment,
			Condition:       t.Condition,
		}
	}

	return workflow.NewDefinition("", f.Name, f.ApplicationType, 0, stages, transitions)
}

// LoadFile loads a workflow definition from a YAML file
func LoadFile(filename string) (*workflow.Definition, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file: %w", err)
	}

	def, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return def, nil
}

// LoadDir loads every .yaml file in dir. One invalid file fails the whole load.
func LoadDir(dir string) ([]*workflow.Definition, error) {
	return loadFS(os.DirFS(dir), ".", dir)
}

// Seeds returns the definitions compiled into the binary
func Seeds() ([]*workflow.Definition, error) {
	return loadFS(seeds, "seeds", "seeds")
}

func loadFS(fsys fs.FS, dir, label string) ([]*workflow.Definition, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflows directory: %w", err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	var defs []*workflow.Definition
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".yaml" {
			continue
		}

		data, err := fs.ReadFile(fsys, path.Join(dir, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name(), err)
		}

		def, err := Parse(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Join(label, entry.Name()), err)
		}
		defs = append(defs, def)
	}

	return defs, nil
}
