package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadFile reads one section of a YAML host configuration file:
//
//	rgb:
//	  input: ~/Pictures/wallpaper.png
//	  gradient_steps: 40
//	  colors: ["#ff0000", "#00ff00"]
//
// Scalars are stringified and lists joined with spaces, as the host would present them.
func LoadFile(path, section string) (Values, error) {
	data, err := os.ReadFile(path) // #nosec G304 - user supplied config path
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var doc map[string]map[string]any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInvalidConfig, path, err)
	}

	raw, ok := doc[section]
	if !ok {
		return nil, fmt.Errorf("%w: %s: no section %q", ErrInvalidConfig, path, section)
	}

	values := make(Values, len(raw))
	for key, v := range raw {
		values[key] = stringify(v)
	}
	return values, nil
}

func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []any:
		parts := make([]string, 0, len(val))
		for _, item := range val {
			parts = append(parts, stringify(item))
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(val)
	}
}
