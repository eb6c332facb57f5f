// Package tomlconfig loads credentials configuration from TOML files with
// environment variable overrides.
package tomlconfig

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-credentials/core"
	toml "github.com/pelletier/go-toml/v2"
)

const DefaultEnvPrefix = "CREDENTIALS"

type kind int

const (
	kindString kind = iota
	kindDuration
	kindInt
	kindFloat
	kindList
)

type field struct {
	path []string
	kind kind
}

// fields lists every key the loader understands. Environment variable names
// are derived from the path: provider.app_secret -> CREDENTIALS_PROVIDER_APP_SECRET.
var fields = []field{
	{path: []string{"service_name"}, kind: kindString},
	{path: []string{"state_ttl"}, kind: kindDuration},
	{path: []string{"expiring_lookahead"}, kind: kindDuration},
	{path: []string{"liveness_interval"}, kind: kindDuration},
	{path: []string{"http_timeout"}, kind: kindDuration},
	{path: []string{"provider", "app_id"}, kind: kindString},
	{path: []string{"provider", "app_secret"}, kind: kindString},
	{path: []string{"provider", "redirect_uri"}, kind: kindString},
	{path: []string{"provider", "graph_version"}, kind: kindString},
	{path: []string{"provider", "scopes"}, kind: kindList},
	{path: []string{"cipher", "key"}, kind: kindString},
	{path: []string{"cipher", "key_id"}, kind: kindString},
	{path: []string{"scheduler", "refresh_interval"}, kind: kindDuration},
	{path: []string{"scheduler", "cleanup_interval"}, kind: kindDuration},
	{path: []string{"scheduler", "refresh_timeout"}, kind: kindDuration},
	{path: []string{"scheduler", "sweep_concurrency"}, kind: kindInt},
	{path: []string{"scheduler", "requests_per_second"}, kind: kindFloat},
}

type Option func(*Loader)

func WithEnvPrefix(prefix string) Option {
	return func(l *Loader) {
		l.envPrefix = strings.TrimSpace(prefix)
	}
}

// WithLookupEnv replaces os.LookupEnv.
func WithLookupEnv(lookup func(string) (string, bool)) Option {
	return func(l *Loader) {
		if lookup != nil {
			l.lookupEnv = lookup
		}
	}
}

// Loader implements core.RawConfigLoader. Files are merged in order, later
// files win, and missing files are skipped. Environment overrides are
// applied last.
type Loader struct {
	paths     []string
	envPrefix string
	lookupEnv func(string) (string, bool)
}

func NewLoader(paths []string, opts ...Option) *Loader {
	l := &Loader{
		paths:     append([]string(nil), paths...),
		envPrefix: DefaultEnvPrefix,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

func (l *Loader) LoadRaw(ctx context.Context) (map[string]any, error) {
	out := map[string]any{}
	for _, path := range l.paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		data, err := os.ReadFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("tomlconfig: read %s: %w", path, err)
		}
		var doc map[string]any
		if err := toml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("tomlconfig: parse %s: %w", path, err)
		}
		mergeInto(out, doc)
	}
	if err := l.applyEnv(out); err != nil {
		return nil, err
	}
	if err := normalize(out); err != nil {
		return nil, err
	}
	return out, nil
}

func (l *Loader) applyEnv(out map[string]any) error {
	if l.lookupEnv == nil {
		return nil
	}
	for _, f := range fields {
		value, ok := l.lookupEnv(envName(l.envPrefix, f.path))
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		var parsed any = value
		if f.kind == kindList {
			parsed = splitList(value)
		}
		setPath(out, f.path, parsed)
	}
	return nil
}

// normalize coerces every known key to the type core.Config expects.
func normalize(out map[string]any) error {
	for _, f := range fields {
		raw, ok := getPath(out, f.path)
		if !ok {
			continue
		}
		value, err := coerce(f.kind, raw)
		if err != nil {
			return fmt.Errorf("tomlconfig: %s: %w", strings.Join(f.path, "."), err)
		}
		setPath(out, f.path, value)
	}
	return nil
}

func coerce(k kind, raw any) (any, error) {
	switch k {
	case kindDuration:
		switch v := raw.(type) {
		case string:
			return time.ParseDuration(strings.TrimSpace(v))
		case int64:
			return time.Duration(v) * time.Second, nil
		case time.Duration:
			return v, nil
		}
	case kindInt:
		switch v := raw.(type) {
		case string:
			return strconv.Atoi(strings.TrimSpace(v))
		case int64:
			return int(v), nil
		case int:
			return v, nil
		}
	case kindFloat:
		switch v := raw.(type) {
		case string:
			return strconv.ParseFloat(strings.TrimSpace(v), 64)
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		}
	case kindList:
		switch v := raw.(type) {
		case string:
			return splitList(v), nil
		case []string:
			return v, nil
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				out = append(out, strings.TrimSpace(fmt.Sprint(item)))
			}
			return out, nil
		}
	default:
		if v, ok := raw.(string); ok {
			return v, nil
		}
		return fmt.Sprint(raw), nil
	}
	return nil, fmt.Errorf("unsupported value %v (%T)", raw, raw)
}

func envName(prefix string, path []string) string {
	name := strings.ToUpper(strings.Join(path, "_"))
	if prefix == "" {
		return name
	}
	return strings.ToUpper(prefix) + "_" + name
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func mergeInto(dst map[string]any, src map[string]any) {
	for key, value := range src {
		nested, ok := value.(map[string]any)
		if !ok {
			dst[key] = value
			continue
		}
		existing, ok := dst[key].(map[string]any)
		if !ok {
			existing = map[string]any{}
			dst[key] = existing
		}
		mergeInto(existing, nested)
	}
}

func getPath(root map[string]any, path []string) (any, bool) {
	current := root
	for i, key := range path {
		value, ok := current[key]
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return value, true
		}
		next, ok := value.(map[string]any)
		if !ok {
			return nil, false
		}
		current = next
	}
	return nil, false
}

func setPath(root map[string]any, path []string, value any) {
	current := root
	for _, key := range path[:len(path)-1] {
		next, ok := current[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			current[key] = next
		}
		current = next
	}
	current[path[len(path)-1]] = value
}

var _ core.RawConfigLoader = (*Loader)(nil)
