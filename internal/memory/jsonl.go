package memory

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mesh-intelligence/metashelf/internal/query"
	"github.com/mesh-intelligence/metashelf/pkg/types"
)

// readJSONL reads a JSONL snapshot and returns each non-empty, parseable
// line. Malformed lines are skipped. A missing file yields no lines.
func readJSONL(path string) ([]json.RawMessage, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var lines []json.RawMessage
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		cp := make([]byte, len(line))
		copy(cp, line)
		lines = append(lines, json.RawMessage(cp))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning %s: %w", path, err)
	}
	return lines, nil
}

// writeJSONL atomically replaces path with lines: temp file, fsync, rename.
func writeJSONL(path string, lines []json.RawMessage) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".jsonl-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(what string, err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%s: %w", what, err)
	}

	w := bufio.NewWriter(tmp)
	for _, line := range lines {
		if _, err := w.Write(line); err != nil {
			return fail("writing record", err)
		}
		if err := w.WriteByte('\n'); err != nil {
			return fail("writing newline", err)
		}
	}
	if err := w.Flush(); err != nil {
		return fail("flushing buffer", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("syncing temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("closing temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	return nil
}

// decodeRecord turns a snapshot line back into a record typed by e.
// Properties e does not declare, such as attributes hidden by overrides,
// are kept as raw JSON so the next snapshot writes them back unchanged.
func decodeRecord(e *types.MetaEntity, line json.RawMessage) (types.Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(line, &raw); err != nil {
		return nil, err
	}
	rec := make(types.Record, len(raw))
	for prop, v := range raw {
		rec[prop] = v
	}
	for _, a := range e.Attributes {
		v, ok := raw[a.PropName]
		if !ok {
			continue
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return nil, fmt.Errorf("%s: %w", a.PropName, err)
		}
		if s, isString := decoded.(string); isString && a.DataType == types.DataTypeBlob {
			b, err := base64.StdEncoding.DecodeString(s)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", a.PropName, err)
			}
			rec[a.PropName] = b
			continue
		}
		cv, err := query.Coerce(a.DataType, decoded)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", a.PropName, err)
		}
		rec[a.PropName] = cv
	}
	return rec, nil
}
