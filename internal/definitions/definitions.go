// Package definitions reads workflow definitions from YAML files.
//
// A file holds one or more YAML documents, each a workflow definition:
//
//	id: welcome
//	tenant_id: acme
//	name: Welcome series
//	nodes:
//	  - id: start
//	    type: trigger
//	    trigger: {event: contact.created}
//	  - id: hello
//	    type: action
//	    action: {type: send_email, subject: "Hi {{entity.first_name}}"}
//	connections:
//	  - {id: c1, from: start, to: hello, port: default}
//
// is_active defaults to true when omitted.
package definitions

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/petrijr/tickflow/pkg/api"
)

// File pairs the definitions parsed from a file with its path.
type File struct {
	Path        string
	Definitions []*api.WorkflowDefinition
}

// Parse decodes every document in data. tenantID, when non-empty, is
// applied to definitions that do not name a tenant and must match the
// ones that do.
func Parse(data []byte, tenantID string) ([]*api.WorkflowDefinition, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New("definitions: payload is empty")
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var defs []*api.WorkflowDefinition
	for i := 0; ; i++ {
		def := &api.WorkflowDefinition{IsActive: true}
		err := dec.Decode(def)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("definitions: decode document %d: %w", i, err)
		}
		if err := applyTenant(def, tenantID); err != nil {
			return nil, fmt.Errorf("definitions: document %d: %w", i, err)
		}
		if def.ID == "" || def.Name == "" {
			return nil, fmt.Errorf("definitions: document %d: %w: id and name are required", i, api.ErrInvalidWorkflow)
		}
		if err := def.Validate(); err != nil {
			return nil, fmt.Errorf("definitions: workflow %s: %w", def.ID, err)
		}
		defs = append(defs, def)
	}
	return defs, nil
}

func applyTenant(def *api.WorkflowDefinition, tenantID string) error {
	switch {
	case tenantID == "":
		if def.TenantID == "" {
			return fmt.Errorf("%w: tenant_id is required", api.ErrInvalidWorkflow)
		}
	case def.TenantID == "":
		def.TenantID = tenantID
	case def.TenantID != tenantID:
		return fmt.Errorf("%w: workflow %s belongs to tenant %s, not %s", api.ErrInvalidWorkflow, def.ID, def.TenantID, tenantID)
	}
	return nil
}

// LoadFile reads and parses a single YAML file.
func LoadFile(path, tenantID string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("definitions: read %s: %w", path, err)
	}
	defs, err := Parse(data, tenantID)
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", path, err)
	}
	return File{Path: filepath.Clean(path), Definitions: defs}, nil
}

// Load parses every path. Directories are scanned (non-recursively) for
// *.yaml and *.yml files.
func Load(paths []string, tenantID string) ([]File, error) {
	var files []File
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, fmt.Errorf("definitions: stat %s: %w", p, err)
		}
		if !info.IsDir() {
			f, err := LoadFile(p, tenantID)
			if err != nil {
				return nil, err
			}
			files = append(files, f)
			continue
		}
		dirFiles, err := loadDir(p, tenantID)
		if err != nil {
			return nil, err
		}
		files = append(files, dirFiles...)
	}
	return files, nil
}

func loadDir(dir, tenantID string) ([]File, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("definitions: read %s: %w", dir, err)
	}
	var files []File
	for _, entry := range entries {
		if entry.IsDir() || !isYAMLFile(entry.Name()) {
			continue
		}
		f, err := LoadFile(filepath.Join(dir, entry.Name()), tenantID)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}

func isYAMLFile(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".yaml") || strings.HasSuffix(lower, ".yml")
}
