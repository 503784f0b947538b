package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"path/filepath"
	"strings"
)

//go:embed default.yaml
var defaultYAML []byte

// DefaultFor returns the default config encoded for the file extension of path
// (YAML for .yaml/.yml, indented JSON otherwise).
func DefaultFor(path string) ([]byte, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".yaml" || ext == ".yml" {
		return append([]byte(nil), defaultYAML...), nil
	}
	jb, err := toJSON("default.yaml", defaultYAML)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, jb, "", "  "); err != nil {
		return nil, err
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}
