package collector

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/eddielth/vmstats-trans/appliance"
	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// Appliance opens sessions and takes snapshots.
type Appliance interface {
	Login(ctx context.Context, target string, creds appliance.Credentials) (appliance.Session, error)
	Snapshot(ctx context.Context, s appliance.Session) (appliance.Snapshot, error)
}

// Transformer turns a snapshot into a record.
type Transformer interface {
	Transform(snap appliance.Snapshot) (transformer.Result, error)
}

// Sink receives every successfully transformed result.
type Sink interface {
	Store(ctx context.Context, res transformer.Result) error
}

// Uploader delivers the batch of records.
type Uploader interface {
	Upload(ctx context.Context, records []transformer.Envelope) (int, error)
}

// Stage names the step a device reached.
type Stage string

const (
	StageLogin     Stage = "login"
	StageFetch     Stage = "fetch"
	StageTransform Stage = "transform"
	StageDone      Stage = "done"
)

// DefaultStatusPrefix starts every status line.
const DefaultStatusPrefix = "tintri_ta"

// ErrAborted is returned when strict mode stops a run.
var ErrAborted = errors.New("run aborted")

// Config controls one run.
type Config struct {
	Targets     []string
	Credentials appliance.Credentials
	// Concurrency bounds how many devices are polled at once.
	Concurrency int
	// Strict aborts the run on the first device failure.
	Strict bool
	// CSVOnly skips building and uploading records.
	CSVOnly bool
	// StatusPrefix starts every status line, DefaultStatusPrefix when empty.
	StatusPrefix string
}

// Deps are the collaborators of a Collector. Sink, Uploader and Status are optional.
type Deps struct {
	Appliance   Appliance
	Transformer Transformer
	Sink        Sink
	Uploader    Uploader
	Logger      *logger.Logger
	// Status receives one machine readable line per stage.
	Status io.Writer
}

// DeviceResult is the outcome for one target. Stage is StageDone on
// success, otherwise the stage that failed.
type DeviceResult struct {
	Target string
	Stage  Stage
	Err    error
}

// OK reports whether the device made it through every stage.
func (d DeviceResult) OK() bool {
	return d.Err == nil && d.Stage == StageDone
}

// Summary describes a finished run.
type Summary struct {
	Devices      []DeviceResult
	Records      int
	Uploaded     bool
	UploadStatus int
	// SinkErrors counts results at least one sink failed to store.
	SinkErrors int
}

// Succeeded returns the number of devices that made it through every stage.
func (s Summary) Succeeded() int {
	n := 0
	for _, d := range s.Devices {
		if d.OK() {
			n++
		}
	}
	return n
}

// Err combines the errors of all failed devices.
func (s Summary) Err() error {
	var err error
	for _, d := range s.Devices {
		if d.Err != nil {
			err = multierr.Append(err, fmt.Errorf("%s: %s: %w", d.Target, d.Stage, d.Err))
		}
	}
	return err
}

// Collector runs the login, fetch, transform, store and upload pipeline once.
type Collector struct {
	cfg  Config
	deps Deps

	statusMu sync.Mutex
}

// New creates a Collector.
func New(cfg Config, deps Deps) *Collector {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if cfg.StatusPrefix == "" {
		cfg.StatusPrefix = DefaultStatusPrefix
	}
	if deps.Status == nil {
		deps.Status = io.Discard
	}
	return &Collector{cfg: cfg, deps: deps}
}

func (c *Collector) status(format string, args ...interface{}) {
	c.statusMu.Lock()
	defer c.statusMu.Unlock()
	fmt.Fprintf(c.deps.Status, "%s_"+format+"\n", append([]interface{}{c.cfg.StatusPrefix}, args...)...)
}

func outcome(err error) string {
	if err != nil {
		return "failed"
	}
	return "success"
}

// Run polls every target, transforms the snapshots in configuration order,
// stores each result and uploads all records in one request.
//
// Device failures are recorded in the summary and skipped unless strict
// mode is on. A returned error means the run was aborted or the upload
// could not be delivered.
func (c *Collector) Run(ctx context.Context) (Summary, error) {
	log := c.deps.Logger
	targets := c.cfg.Targets
	summary := Summary{Devices: make([]DeviceResult, len(targets))}
	snapshots := make([]*appliance.Snapshot, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for i, target := range targets {
		i, target := i, target
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				summary.Devices[i] = DeviceResult{Target: target, Stage: StageLogin, Err: err}
				return nil
			}
			snap, res := c.poll(gctx, target)
			summary.Devices[i] = res
			snapshots[i] = snap
			if res.Err != nil && c.cfg.Strict {
				return fmt.Errorf("%w: %s failed at %s: %v", ErrAborted, target, res.Stage, res.Err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("%v", err)
		return summary, err
	}

	var records []transformer.Envelope
	for i, snap := range snapshots {
		if snap == nil {
			continue
		}
		res, err := c.deps.Transformer.Transform(*snap)
		if !c.cfg.CSVOnly {
			c.status("parse_stats_%s:%s", snap.Target, outcome(err))
		}
		if err != nil {
			log.Error("Failed to parse stats of %s: %v", snap.Target, err)
			summary.Devices[i] = DeviceResult{Target: snap.Target, Stage: StageTransform, Err: err}
			if c.cfg.Strict {
				return summary, fmt.Errorf("%w: %s failed at %s: %v", ErrAborted, snap.Target, StageTransform, err)
			}
			continue
		}
		log.Info("Parsed stats of %s", snap.Target)
		summary.Devices[i] = DeviceResult{Target: snap.Target, Stage: StageDone}

		if c.deps.Sink != nil {
			if err := c.deps.Sink.Store(ctx, res); err != nil {
				summary.SinkErrors++
			}
		}
		if res.Record != nil && !c.cfg.CSVOnly {
			records = append(records, *res.Record)
		}
	}
	summary.Records = len(records)

	if c.cfg.CSVOnly || len(records) == 0 || c.deps.Uploader == nil {
		log.Info("Nothing to upload, %d of %d devices succeeded", summary.Succeeded(), len(targets))
		return summary, nil
	}

	log.Info("Uploading %d records", len(records))
	code, err := c.deps.Uploader.Upload(ctx, records)
	if err != nil {
		log.Error("Upload failed: %v", err)
		return summary, fmt.Errorf("upload: %w", err)
	}
	summary.Uploaded = true
	summary.UploadStatus = code
	c.status("upload_to_splunk_status_code:%d", code)
	if code < 200 || code > 299 {
		log.Error("Upload returned status %d", code)
	} else {
		log.Info("Upload returned status %d", code)
	}
	return summary, nil
}

// poll logs into target and takes its snapshot.
func (c *Collector) poll(ctx context.Context, target string) (*appliance.Snapshot, DeviceResult) {
	log := c.deps.Logger

	session, err := c.deps.Appliance.Login(ctx, target, c.cfg.Credentials)
	c.status("login_%s:%s", target, outcome(err))
	if err != nil {
		log.Error("Login to %s failed: %v", target, err)
		return nil, DeviceResult{Target: target, Stage: StageLogin, Err: err}
	}
	log.Info("Login to %s succeeded", target)

	snap, err := c.deps.Appliance.Snapshot(ctx, session)
	c.status("device_info_%s:%s", target, outcome(err))
	if err != nil {
		log.Error("Failed to get device info of %s: %v", target, err)
		return nil, DeviceResult{Target: target, Stage: StageFetch, Err: err}
	}
	log.Debug("Got %d fields from %s", len(snap.Fields), target)

	return &snap, DeviceResult{Target: target, Stage: StageFetch}
}
