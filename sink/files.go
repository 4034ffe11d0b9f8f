package sink

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const (
	CSV_FILE   = "heights.csv"
	JSONL_FILE = "heights.jsonl"
)

// FileSink appends records to heights.csv and heights.jsonl in one directory.
type FileSink struct {
	mu        sync.Mutex
	csvFile   *os.File
	jsonlFile *os.File
	csv       *csv.Writer
	jsonl     *json.Encoder
}

// NewFileSink creates dir and both files, truncating earlier ones.
func NewFileSink(dir string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "cannot create output directory %s", dir)
	}
	csvFile, err := os.Create(filepath.Join(dir, CSV_FILE))
	if err != nil {
		return nil, errors.Wrap(err, "cannot create csv output")
	}
	jsonlFile, err := os.Create(filepath.Join(dir, JSONL_FILE))
	if err != nil {
		csvFile.Close()
		return nil, errors.Wrap(err, "cannot create jsonl output")
	}

	s := &FileSink{
		csvFile:   csvFile,
		jsonlFile: jsonlFile,
		csv:       csv.NewWriter(csvFile),
		jsonl:     json.NewEncoder(jsonlFile),
	}
	if err := s.csv.Write(csvHeader); err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	return s, nil
}

// Write appends one line to each file and flushes, so finished records survive a crash.
func (s *FileSink) Write(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.csv.Write(rec.csvRow()); err != nil {
		return err
	}
	s.csv.Flush()
	if err := s.csv.Error(); err != nil {
		return err
	}
	return s.jsonl.Encode(rec)
}

// Close flushes and closes both files.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.csv.Flush()
	return multierr.Combine(s.csv.Error(), s.csvFile.Close(), s.jsonlFile.Close())
}

// ReadJSONL loads the records of a heights.jsonl file.
func ReadJSONL(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var records []Record
	dec := json.NewDecoder(f)
	for dec.More() {
		var rec Record
		if err := dec.Decode(&rec); err != nil {
			return records, errors.Wrapf(err, "record %d of %s", len(records)+1, path)
		}
		records = append(records, rec)
	}
	return records, nil
}
