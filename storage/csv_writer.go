package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"idx-pipeline/models"
)

var csvHeader = []string{
	"address", "price", "beds", "baths", "sqft", "mls_id", "images", "page_url", "extracted_at",
}

// CSVWriter appends extracted property records to a CSV log.
// It is safe for concurrent use, and appends from separate processes are
// serialized through a <path>.lock file.
type CSVWriter struct {
	mu     sync.Mutex
	lock   *flock.Flock
	file   *os.File
	writer *csv.Writer
}

// NewCSVWriter opens (or creates) the CSV file at the given path and writes
// the header row when the file is new. Intermediate directories are created
// automatically.
func NewCSVWriter(path string) (*CSVWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("csv: create output dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return nil, fmt.Errorf("csv: lock %q: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("csv: open file %q: %w", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("csv: stat %q: %w", path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err := w.Write(csvHeader); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("csv: write header: %w", err)
		}
		w.Flush()
	}

	return &CSVWriter{lock: lock, file: f, writer: w}, nil
}

// WriteRecords appends one row per record. Images are joined with spaces.
func (c *CSVWriter) WriteRecords(records []*models.PropertyRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("csv: lock: %w", err)
	}
	defer func() { _ = c.lock.Unlock() }()

	for _, r := range records {
		if r == nil {
			continue
		}
		row := []string{
			r.Address,
			r.Price,
			r.Beds,
			r.Baths,
			r.Sqft,
			r.MLSID,
			strings.Join(r.Images, " "),
			r.PageURL,
			r.ExtractedAt.Format(time.RFC3339),
		}
		if err := c.writer.Write(row); err != nil {
			return fmt.Errorf("csv: write row: %w", err)
		}
	}

	c.writer.Flush()
	return c.writer.Error()
}

// Close flushes and closes the underlying file.
func (c *CSVWriter) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writer.Flush()
	err := c.file.Close()
	_ = c.lock.Unlock()
	return err
}

// ReadCSVLog loads every record from a log written by CSVWriter, holding the
// lock so a concurrent append is never read half written.
func ReadCSVLog(path string) ([]*models.PropertyRecord, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("csv: lock %q: %w", path, err)
	}
	defer func() { _ = lock.Unlock() }()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("csv: open %q: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(csvHeader)
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("csv: read %q: %w", path, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	if rows[0][0] != csvHeader[0] {
		return nil, fmt.Errorf("csv: %q has no extraction log header", path)
	}

	records := make([]*models.PropertyRecord, 0, len(rows)-1)
	for _, row := range rows[1:] {
		rec := &models.PropertyRecord{
			Address: row[0],
			Price:   row[1],
			Beds:    row[2],
			Baths:   row[3],
			Sqft:    row[4],
			MLSID:   row[5],
			Images:  strings.Fields(row[6]),
			PageURL: row[7],
		}
		if ts, err := time.Parse(time.RFC3339, row[8]); err == nil {
			rec.ExtractedAt = ts
		}
		records = append(records, rec)
	}
	return records, nil
}
