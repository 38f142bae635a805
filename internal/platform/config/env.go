package config

import (
	"bufio"
	"errors"
	"fmt"
	"maps"
	"os"
	"strconv"
	"strings"
	"time"
)

// source answers lookups from layered maps, first match wins. Values that fail to parse are
// remembered so Load can report every bad key at once.
type source struct {
	layers  []map[string]string
	invalid []string
}

func newSource(o loaderOptions) (*source, error) {
	dotenv, err := readDotEnv(o.envFile)
	if err != nil {
		return nil, err
	}
	s := &source{}
	if o.envMap != nil {
		s.layers = append(s.layers, o.envMap)
	}
	if o.useSystemEnv {
		s.layers = append(s.layers, processEnv())
	}
	if dotenv != nil {
		s.layers = append(s.layers, dotenv)
	}
	return s, nil
}

func (s *source) lookup(key string) (string, bool) {
	for _, layer := range s.layers {
		if value, ok := layer[key]; ok {
			return value, true
		}
	}
	return "", false
}

// flatten merges the layers into one map honouring precedence.
func (s *source) flatten() map[string]string {
	out := make(map[string]string)
	for i := len(s.layers) - 1; i >= 0; i-- {
		maps.Copy(out, s.layers[i])
	}
	return out
}

func (s *source) str(key, fallback string) string {
	if value, ok := s.lookup(key); ok {
		if value = strings.TrimSpace(value); value != "" {
			return value
		}
	}
	return fallback
}

func (s *source) duration(key string, fallback time.Duration) time.Duration {
	raw := s.str(key, "")
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		s.invalid = append(s.invalid, key)
		return fallback
	}
	return d
}

func (s *source) integer(key string, fallback int) int {
	raw := s.str(key, "")
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		s.invalid = append(s.invalid, key)
		return fallback
	}
	return n
}

func processEnv() map[string]string {
	env := os.Environ()
	out := make(map[string]string, len(env))
	for _, entry := range env {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || strings.TrimSpace(key) == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// readDotEnv parses KEY=VALUE lines. Blank lines, # comments and a leading "export" are ignored;
// double-quoted values are unescaped and single-quoted values are taken literally.
// A missing file yields no values.
func readDotEnv(path string) (map[string]string, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(f)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		key, value, ok := strings.Cut(line, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			continue
		}
		value, err := unquote(strings.TrimSpace(value))
		if err != nil {
			return nil, fmt.Errorf("config: %s:%d: %w", path, lineNo, err)
		}
		values[key] = value
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return values, nil
}

func unquote(value string) (string, error) {
	if len(value) < 2 {
		return value, nil
	}
	switch first, last := value[0], value[len(value)-1]; {
	case first == '"' && last == '"':
		return strconv.Unquote(value)
	case first == '\'' && last == '\'':
		return value[1 : len(value)-1], nil
	}
	return value, nil
}
