package registry

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
)

// Merge appends candidate lines whose path is not already registered,
// creating the file 0600 when absent. Existing bytes, comments and
// malformed lines included, are preserved untouched so a hand-edited
// registry survives repeated discovery runs.
func Merge(path string, lines []string) (int, error) {
	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("reading registry: %w", err)
	}

	known := make(map[string]struct{})
	for line := range strings.Lines(string(raw)) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, _, _ := strings.Cut(line, "|")
		known[strings.TrimSpace(p)] = struct{}{}
	}

	var added []string
	for _, line := range lines {
		p, _, ok := strings.Cut(line, "|")
		if !ok {
			continue
		}
		p = strings.TrimSpace(p)
		if _, dup := known[p]; dup {
			continue
		}
		known[p] = struct{}{}
		added = append(added, line)
	}
	if len(added) == 0 {
		return 0, nil
	}

	var b strings.Builder
	b.Write(raw)
	if len(raw) > 0 && raw[len(raw)-1] != '\n' {
		b.WriteByte('\n')
	}
	for _, line := range added {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o600); err != nil {
		return 0, fmt.Errorf("writing registry: %w", err)
	}
	return len(added), nil
}
