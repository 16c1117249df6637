package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
)

// FileStorage writes one JSON document per device and run under
// basePath/<device>/.
type FileStorage struct {
	basePath string
	log      *logger.Logger
}

// jsonDocument is what FileStorage writes.
type jsonDocument struct {
	Stats  transformer.Stats     `json:"stats"`
	Fields map[string]string     `json:"fields"`
	Record *transformer.Envelope `json:"record,omitempty"`
}

// NewFileStorage
func NewFileStorage(basePath string, log *logger.Logger) (*FileStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("create dir %s failed: %w", basePath, err)
	}

	log.Info("init file storage: %s", basePath)
	return &FileStorage{
		basePath: basePath,
		log:      log,
	}, nil
}

// Name implements StorageBackend
func (fs *FileStorage) Name() string {
	return "file"
}

// Store save stats to file
func (fs *FileStorage) Store(_ context.Context, res transformer.Result) error {
	deviceDir := filepath.Join(fs.basePath, filepath.Base(res.Stats.Name))
	if err := os.MkdirAll(deviceDir, 0755); err != nil {
		return fmt.Errorf("create dir %s failed: %w", deviceDir, err)
	}

	timestamp := res.Stats.CollectedAt.Format("20060102-150405.000")
	filename := filepath.Join(deviceDir, fmt.Sprintf("%s.json", timestamp))

	jsonData, err := json.MarshalIndent(jsonDocument{Stats: res.Stats, Fields: res.Fields, Record: res.Record}, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize stats failed: %w", err)
	}

	if err := os.WriteFile(filename, jsonData, 0644); err != nil {
		return fmt.Errorf("write file %s failed: %w", filename, err)
	}

	fs.log.Debug("has stored stats to file: %s", filename)
	return nil
}

// Close implement StorageBackend
func (fs *FileStorage) Close() error {
	return nil
}
