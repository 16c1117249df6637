package storage

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/eddielth/vmstats-trans/fileutil"
	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
	"go.uber.org/multierr"
)

// CSVName is the base name of the daily CSV file.
const CSVName = "vmstats"

// ErrNoMatch is returned when no row matches a lookup or update.
var ErrNoMatch = errors.New("no matching row")

// CSVFile is a date-prefixed CSV file with a fixed header.
type CSVFile struct {
	path   string
	header []string
	retry  fileutil.RetryPolicy
	flush  func(*os.File) error
	mu     sync.Mutex
}

// CSVConfig configures OpenCSV.
type CSVConfig struct {
	Dir           string
	Name          string
	Header        []string
	RetentionDays int
	Now           func() time.Time
}

// OpenCSV prepares the CSV file of the current day in cfg.Dir, pruning files
// older than cfg.RetentionDays. The file itself is created on first write.
func OpenCSV(cfg CSVConfig, log *logger.Logger) (*CSVFile, error) {
	if cfg.Name == "" {
		cfg.Name = CSVName
	}
	if cfg.Header == nil {
		cfg.Header = transformer.Header
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	now := cfg.Now()

	if err := os.MkdirAll(cfg.Dir, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", cfg.Dir, err)
	}

	removed, err := fileutil.Prune(cfg.Dir, "_"+cfg.Name+".csv", cfg.RetentionDays, now)
	for _, name := range removed {
		log.Info("Removed expired CSV file %s", name)
	}
	if err != nil {
		log.Warn("Failed to prune CSV files in %s: %v", cfg.Dir, err)
	}

	return &CSVFile{
		path:   filepath.Join(cfg.Dir, fileutil.DatePrefixed(cfg.Name, ".csv", now)),
		header: cfg.Header,
		retry:  fileutil.CSVRetry,
		flush:  (*os.File).Sync,
	}, nil
}

// Path returns the file path.
func (f *CSVFile) Path() string {
	return f.path
}

// Header returns the column names.
func (f *CSVFile) Header() []string {
	return f.header
}

// Append writes rows, preceded by the header when the file is new or empty.
func (f *CSVFile) Append(ctx context.Context, rows ...[]string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	return fileutil.Retry(ctx, f.retry, func() error {
		return f.appendOnce(rows)
	})
}

func (f *CSVFile) appendOnce(rows [][]string) (err error) {
	file, err := os.OpenFile(f.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return err
	}

	// a failed attempt leaves the file as it found it
	defer func() {
		if err != nil {
			err = multierr.Append(err, file.Truncate(info.Size()))
		}
	}()

	w := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := w.Write(f.header); err != nil {
			return err
		}
	}
	if err := w.WriteAll(rows); err != nil {
		return err
	}
	return f.flush(file)
}

// ReadRows returns every data row, header excluded.
func (f *CSVFile) ReadRows() ([][]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, rows, err := f.read()
	return rows, err
}

func (f *CSVFile) read() ([]string, [][]string, error) {
	file, err := os.Open(f.path)
	if err != nil {
		return nil, nil, err
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read header of %s: %w", f.path, err)
	}
	rows, err := r.ReadAll()
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", f.path, err)
	}
	return header, rows, nil
}

func columnIndex(header []string, name string) (int, error) {
	for i, h := range header {
		if h == name {
			return i, nil
		}
	}
	return -1, fmt.Errorf("unknown column %q", name)
}

// Lookup returns the values of column in every row whose matchColumn equals
// matchValue.
func (f *CSVFile) Lookup(matchColumn, matchValue, column string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	header, rows, err := f.read()
	if err != nil {
		return nil, err
	}
	mi, err := columnIndex(header, matchColumn)
	if err != nil {
		return nil, err
	}
	ci, err := columnIndex(header, column)
	if err != nil {
		return nil, err
	}

	var values []string
	for _, row := range rows {
		if mi < len(row) && row[mi] == matchValue && ci < len(row) {
			values = append(values, row[ci])
		}
	}
	return values, nil
}

// CellUpdate sets Column to Value in the first row whose MatchColumn equals
// MatchValue.
type CellUpdate struct {
	MatchColumn string
	MatchValue  string
	Column      string
	Value       string
}

// UpdateCells applies updates in order and rewrites the file through a
// temporary file and rename. Nothing is written if any update fails.
func (f *CSVFile) UpdateCells(updates []CellUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	header, rows, err := f.read()
	if err != nil {
		return err
	}

	for _, u := range updates {
		mi, err := columnIndex(header, u.MatchColumn)
		if err != nil {
			return err
		}
		ci, err := columnIndex(header, u.Column)
		if err != nil {
			return err
		}

		found := false
		for i, row := range rows {
			if mi < len(row) && row[mi] == u.MatchValue {
				for len(row) <= ci {
					row = append(row, "")
				}
				row[ci] = u.Value
				rows[i] = row
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("%s=%q: %w", u.MatchColumn, u.MatchValue, ErrNoMatch)
		}
	}

	return f.rewrite(header, rows)
}

func (f *CSVFile) rewrite(header []string, rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return err
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), f.path)
}

// CSVStorage appends each transform result as one CSV row.
type CSVStorage struct {
	file *CSVFile
	log  *logger.Logger
}

// NewCSVStorage wraps file as a StorageBackend.
func NewCSVStorage(file *CSVFile, log *logger.Logger) *CSVStorage {
	return &CSVStorage{file: file, log: log}
}

// Name implements StorageBackend.
func (cs *CSVStorage) Name() string {
	return "csv"
}

// Store appends the row of res.
func (cs *CSVStorage) Store(ctx context.Context, res transformer.Result) error {
	if err := cs.file.Append(ctx, res.Row); err != nil {
		return fmt.Errorf("write %s: %w", cs.file.Path(), err)
	}
	cs.log.Debug("Wrote CSV row for %s to %s", res.Stats.Name, cs.file.Path())
	return nil
}

// Close implements StorageBackend.
func (cs *CSVStorage) Close() error {
	return nil
}
