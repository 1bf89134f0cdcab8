package storage

import (
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Options is the string option map handed to a backend factory, bound to the
// backend name so that parse failures produce a ConfigError naming it.
type Options struct {
	backend string
	values  map[string]string
}

// NewOptions wraps values for the named backend.
func NewOptions(backend string, values map[string]string) Options {
	return Options{backend: backend, values: values}
}

// Backend returns the backend name the options belong to.
func (o Options) Backend() string { return o.backend }

func (o Options) raw(key string) (string, bool) {
	v, ok := o.values[key]
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// String returns the value for key, or def when absent or empty.
func (o Options) String(key, def string) string {
	if v, ok := o.raw(key); ok {
		return v
	}
	return def
}

// Path returns the value for key with ~ expanded.
func (o Options) Path(key, def string) string {
	p := o.String(key, def)
	if p == "" {
		return ""
	}
	return ExpandPath(p)
}

// Bool accepts "true", "false", "1", "0", "yes", "no" (case-insensitive).
func (o Options) Bool(key string, def bool) (bool, error) {
	v, ok := o.raw(key)
	if !ok {
		return def, nil
	}
	switch strings.ToLower(v) {
	case "true", "1", "yes":
		return true, nil
	case "false", "0", "no":
		return false, nil
	default:
		return false, NewConfigErrorWithValue(o.backend, key, v, "must be a boolean (true/false, 1/0, yes/no)")
	}
}

// Int returns the integer value for key.
func (o Options) Int(key string, def int) (int, error) {
	v, ok := o.raw(key)
	if !ok {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, &ConfigError{Backend: o.backend, Field: key, Value: v, Message: "must be an integer", Cause: err}
	}
	return i, nil
}

// Duration accepts Go duration strings ("5s", "24h") or plain integers as seconds.
func (o Options) Duration(key string, def time.Duration) (time.Duration, error) {
	v, ok := o.raw(key)
	if !ok {
		return def, nil
	}
	if d, err := time.ParseDuration(v); err == nil {
		if d < 0 {
			return 0, NewConfigErrorWithValue(o.backend, key, v, "must not be negative")
		}
		return d, nil
	}
	secs, err := strconv.ParseInt(v, 10, 64)
	if err != nil || secs < 0 {
		return 0, NewConfigErrorWithValue(o.backend, key, v, "must be a duration (e.g., '5s', '24h') or integer seconds")
	}
	return time.Duration(secs) * time.Second, nil
}

// ExpandPath expands ~ to the user's home directory and cleans the path.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
	}
	return filepath.Clean(path)
}

// Merge returns a new map holding dst overridden by src.
func Merge(dst, src map[string]string) map[string]string {
	result := make(map[string]string, len(dst)+len(src))
	maps.Copy(result, dst)
	maps.Copy(result, src)
	return result
}
