package secrets

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
)

// fallbackFile serves secrets from a local "secret://name=value" file, parsed once on first use.
// Entries are not versioned; a line answers every version of its secret.
type fallbackFile struct {
	path string

	once   sync.Once
	values map[string]string
	err    error
}

func (f *fallbackFile) lookup(ref Reference) (string, bool, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", false, f.err
	}
	value, ok := f.values[ref.String()]
	return value, ok, nil
}

func (f *fallbackFile) load() {
	f.values = make(map[string]string)
	if f.path == "" {
		return
	}
	file, err := os.Open(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.err = fmt.Errorf("secrets: open %s: %w", f.path, err)
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || line[0] == '#' {
			continue
		}
		rawRef, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		ref, err := ParseReference(rawRef)
		if err != nil {
			continue
		}
		f.values[ref.String()] = strings.TrimSpace(value)
	}
	if err := scanner.Err(); err != nil {
		f.err = fmt.Errorf("secrets: read %s: %w", f.path, err)
	}
}
