package trace

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/corralhq/corral/pkg/types"
)

// LogFiles returns the span log files in the coordination directory in
// lexicographic order: rotated files first, then the active log.
func LogFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var rotated []string
	active := ""
	for _, e := range entries {
		name := e.Name()
		switch {
		case name == SpanLogName:
			active = filepath.Join(dir, name)
		case strings.HasPrefix(name, "spans-") && strings.HasSuffix(name, ".jsonl"):
			rotated = append(rotated, filepath.Join(dir, name))
		}
	}
	sort.Strings(rotated)
	if active != "" {
		rotated = append(rotated, active)
	}
	return rotated, nil
}

// ReadSpans reads every parseable record from one span log file. A
// final truncated line is tolerated and skipped; the log is append-only
// so anything before it is intact.
func ReadSpans(path string) ([]*types.Span, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var spans []*types.Span
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var span types.Span
		if err := json.Unmarshal(line, &span); err != nil {
			// Truncated tail from an interrupted write
			continue
		}
		spans = append(spans, &span)
	}
	return spans, scanner.Err()
}
