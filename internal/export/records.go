// Package export moves extracted records in and out of JSON files.
package export

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/cognicore/autoflair/pkg/autoflair/ingest"
	"github.com/cognicore/autoflair/pkg/autoflair/internalerr"
)

// WriteJSONL writes one record per line.
func WriteJSONL(path string, records []ingest.Record) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir for %s: %w", path, err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// LoadRecords reads records from a JSONL file or from a single JSON array,
// the layout of a legacy RedditData.json dataset. Malformed or incomplete
// lines are skipped with a warning.
func LoadRecords(path string, logger *zap.Logger) ([]ingest.Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var records []ingest.Record
		if err := json.Unmarshal(trimmed, &records); err != nil {
			return nil, fmt.Errorf("parse %s: %v: %w", path, err, internalerr.ErrInvalidInput)
		}
		out := records[:0]
		for i := range records {
			if err := records[i].Validate(); err != nil {
				logger.Warn("skipping record", zap.String("file", path), zap.Int("index", i), zap.Error(err))
				continue
			}
			out = append(out, records[i])
		}
		return nonEmpty(path, out)
	}

	var records []ingest.Record
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		var r ingest.Record
		if err := json.Unmarshal([]byte(line), &r); err != nil {
			logger.Warn("skipping malformed JSON", zap.String("file", path), zap.Int("line", i+1), zap.Error(err))
			continue
		}
		if err := r.Validate(); err != nil {
			logger.Warn("skipping record", zap.String("file", path), zap.Int("line", i+1), zap.Error(err))
			continue
		}
		records = append(records, r)
	}
	return nonEmpty(path, records)
}

func nonEmpty(path string, records []ingest.Record) ([]ingest.Record, error) {
	if len(records) == 0 {
		return nil, fmt.Errorf("no valid records found in %s: %w", path, internalerr.ErrInvalidInput)
	}
	return records, nil
}
