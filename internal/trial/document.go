package trial

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// serverFields are maintained by MatchMiner and rejected on replace.
var serverFields = []string{"_id", "_etag", "_summary", "_updated", "_created", "_links"}

// IsDocumentFile reports whether name is a trial document the loader reads.
func IsDocumentFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}

// ReadDocument decodes a JSON or YAML trial document.
func ReadDocument(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	doc := map[string]any{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		normalized, ok := normalizeYAML(doc).(map[string]any)
		if !ok {
			return nil, fmt.Errorf("parse %s: top level is not a mapping", filepath.Base(path))
		}
		doc = normalized
	default:
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
	}
	if doc == nil {
		return nil, fmt.Errorf("parse %s: empty document", filepath.Base(path))
	}
	return doc, nil
}

// normalizeYAML converts map[any]any nodes, which encoding/json cannot
// marshal, into map[string]any.
func normalizeYAML(value any) any {
	switch v := value.(type) {
	case map[string]any:
		for key, item := range v {
			v[key] = normalizeYAML(item)
		}
		return v
	case map[any]any:
		out := make(map[string]any, len(v))
		for key, item := range v {
			out[fmt.Sprint(key)] = normalizeYAML(item)
		}
		return out
	case []any:
		for i, item := range v {
			v[i] = normalizeYAML(item)
		}
		return v
	default:
		return v
	}
}

func stripServerFields(doc map[string]any) {
	for _, key := range serverFields {
		delete(doc, key)
	}
}
