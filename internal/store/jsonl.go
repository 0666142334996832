package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// appendLocks serializes appends per file within this process. Cross-process
// appends rely on O_APPEND write semantics for single-line records.
var (
	appendMu    sync.Mutex
	appendLocks = make(map[string]*sync.Mutex)
)

func lockFor(path string) *sync.Mutex {
	appendMu.Lock()
	defer appendMu.Unlock()
	mu, ok := appendLocks[path]
	if !ok {
		mu = &sync.Mutex{}
		appendLocks[path] = mu
	}
	return mu
}

// AppendJSONL serializes record as a single line and appends it to path.
// Parent directories are created as needed. A crash may leave a partial
// trailing line; readers skip lines that fail to decode.
func AppendJSONL(path string, record any) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("encode jsonl record: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create parent dir: %w", err)
	}

	mu := lockFor(path)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open jsonl: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("append jsonl: %w", err)
	}
	return nil
}

// ReadJSONL decodes every valid line of path into a map. Blank lines and
// lines that fail to decode are skipped. A missing file yields an empty
// slice.
func ReadJSONL(path string) ([]map[string]any, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	var records []map[string]any
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal([]byte(line), &record); err != nil {
			continue
		}
		records = append(records, record)
	}
	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("scan jsonl: %w", err)
	}
	return records, nil
}
