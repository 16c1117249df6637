package report

import (
	"os"
	"path/filepath"
	"time"

	"github.com/eddielth/vmstats-trans/collector"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Report is the persisted outcome of one run.
type Report struct {
	RunID        string    `yaml:"run_id"`
	StartedAt    time.Time `yaml:"started_at"`
	FinishedAt   time.Time `yaml:"finished_at"`
	Mode         string    `yaml:"mode"`
	Records      int       `yaml:"records"`
	Uploaded     bool      `yaml:"uploaded"`
	UploadStatus int       `yaml:"upload_status,omitempty"`
	SinkErrors   int       `yaml:"sink_errors,omitempty"`
	Error        string    `yaml:"error,omitempty"`
	Devices      []Device  `yaml:"devices"`
}

// Device is the outcome for one target.
type Device struct {
	Target string `yaml:"target"`
	Stage  string `yaml:"stage"`
	Status string `yaml:"status"`
	Error  string `yaml:"error,omitempty"`
}

// Build creates a report from a run summary. runErr is the error returned
// by the run, if any.
func Build(summary collector.Summary, mode string, startedAt, finishedAt time.Time, runErr error) *Report {
	r := &Report{
		RunID:        uuid.New().String(),
		StartedAt:    startedAt.UTC(),
		FinishedAt:   finishedAt.UTC(),
		Mode:         mode,
		Records:      summary.Records,
		Uploaded:     summary.Uploaded,
		UploadStatus: summary.UploadStatus,
		SinkErrors:   summary.SinkErrors,
		Devices:      make([]Device, 0, len(summary.Devices)),
	}
	if runErr != nil {
		r.Error = runErr.Error()
	}
	for _, d := range summary.Devices {
		dev := Device{Target: d.Target, Stage: string(d.Stage), Status: "success"}
		if !d.OK() {
			dev.Status = "failed"
		}
		if d.Err != nil {
			dev.Error = d.Err.Error()
		}
		r.Devices = append(r.Devices, dev)
	}
	return r
}

// Load reads a report from disk.
func Load(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// Save writes the report to disk, creating parent directories.
func Save(path string, r *Report) error {
	if r == nil {
		return nil
	}
	data, err := yaml.Marshal(r)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
