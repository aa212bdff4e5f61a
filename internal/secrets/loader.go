package secrets

import (
	"errors"
	"fmt"
	"maps"
	"os"

	"gopkg.in/yaml.v3"
)

// Static returns a Loader serving a fixed map. Empty values are dropped.
func Static(vals map[string]string) Loader {
	return func() (map[string]string, error) {
		out := make(map[string]string, len(vals))
		for k, v := range vals {
			if v != "" {
				out[k] = v
			}
		}
		return out, nil
	}
}

// FileLoader returns a Loader reading a flat YAML map of secrets from path.
// An empty path or a missing file yields no secrets.
func FileLoader(path string) Loader {
	return func() (map[string]string, error) {
		if path == "" {
			return map[string]string{}, nil
		}
		data, err := os.ReadFile(path) //nolint:gosec // G304: operator-supplied path
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return map[string]string{}, nil
			}
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		vals := map[string]string{}
		if err := yaml.Unmarshal(data, &vals); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
		return vals, nil
	}
}

// Merge combines loaders; later loaders override earlier ones.
func Merge(loaders ...Loader) Loader {
	return func() (map[string]string, error) {
		out := map[string]string{}
		for _, l := range loaders {
			vals, err := l()
			if err != nil {
				return nil, err
			}
			maps.Copy(out, vals)
		}
		return out, nil
	}
}
