package ontology

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// SaveYAML writes the ontology to dir as
// {connection_id}_ontology_{timestamp}.yml and returns the file path.
func SaveYAML(dir string, o *Ontology) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create ontology dir: %w", err)
	}

	data, err := yaml.Marshal(o)
	if err != nil {
		return "", fmt.Errorf("marshal ontology: %w", err)
	}

	name := fmt.Sprintf("%s_ontology_%s.yml",
		sanitizeFilename(o.ConnectionID),
		o.GeneratedAt.UTC().Format("20060102T150405Z"))
	path := filepath.Join(dir, name)

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write ontology file: %w", err)
	}
	return path, nil
}

// LoadYAML reads an ontology from a YAML file.
func LoadYAML(path string) (*Ontology, error) {
	if path == "" {
		return nil, fmt.Errorf("ontology path is empty")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ontology file: %w", err)
	}

	var o Ontology
	if err := yaml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse ontology yaml: %w", err)
	}
	return &o, nil
}

// sanitizeFilename replaces path separators and whitespace so a
// connection_id is safe as a filename component.
func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '.' || r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
