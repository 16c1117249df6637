package transformer

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/eddielth/vmstats-trans/appliance"
	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/validator"
)

// Mode selects the record shape.
type Mode string

const (
	ModeEvent   Mode = "event"
	ModeMetric  Mode = "metric"
	ModeCSVOnly Mode = "csv-only"
)

// ParseMode accepts event, metric or csv-only.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(strings.ToLower(strings.TrimSpace(s))); m {
	case ModeEvent, ModeMetric, ModeCSVOnly:
		return m, nil
	case "":
		return ModeEvent, nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

const (
	DefaultSource     = "tintri_ta"
	DefaultSourcetype = "json"
	DefaultPrecision  = 2
)

// Options configures a Transformer.
type Options struct {
	Mode       Mode
	Source     string
	Sourcetype string
	// Precision is the number of decimals for rendered numbers, -1 for
	// shortest. Nil means DefaultPrecision.
	Precision  *int
	ScriptPath string
	ScriptCode string
	// Validators run against each Stats. Nil means DefaultValidators.
	Validators []validator.Validator
	Now        func() time.Time
	Logger     *logger.Logger
}

// DefaultValidators reject non-finite inputs, a used percentage outside
// [0, 100] and a negative savings factor.
func DefaultValidators() []validator.Validator {
	return []validator.Validator{
		&validator.FiniteValidator{Fields: []string{
			"CurrentCapacityGiB",
			"PhysicalSpaceGiB",
			"PhysicalFreeGiB",
			"SavingFactor",
			"SnapshotsOnHypervisorGiB",
			"SnapshotsOnPlatformGiB",
		}},
		&validator.RangeValidator{Field: "PercentUsed", Min: 0, Max: 100},
		&validator.RangeValidator{Field: "SavingFactor", Min: 0, Max: math.MaxFloat64},
	}
}

// Envelope is one ingestion record. Event holds the field map in event
// mode and the literal "metric" in metric mode.
type Envelope struct {
	Time       float64           `json:"time"`
	Event      interface{}       `json:"event"`
	Host       string            `json:"host"`
	Source     string            `json:"source"`
	Sourcetype string            `json:"sourcetype"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Result is everything produced from one snapshot.
type Result struct {
	Stats  Stats
	Fields map[string]string
	Row    []string
	// Record is nil in csv-only mode.
	Record *Envelope
}

// Transformer turns snapshots into records.
type Transformer struct {
	opts      Options
	precision int
	script    *Script
}

// Precision returns a pointer to n for Options.Precision.
func Precision(n int) *int {
	return &n
}

// New creates a Transformer, compiling the field script if one is configured.
func New(opts Options) (*Transformer, error) {
	if opts.Mode == "" {
		opts.Mode = ModeEvent
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	if opts.Sourcetype == "" {
		opts.Sourcetype = DefaultSourcetype
	}
	precision := DefaultPrecision
	if opts.Precision != nil {
		precision = *opts.Precision
	}
	if precision < -1 {
		return nil, fmt.Errorf("invalid precision %d", precision)
	}
	if opts.Validators == nil {
		opts.Validators = DefaultValidators()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	t := &Transformer{opts: opts, precision: precision}
	if opts.ScriptCode != "" || opts.ScriptPath != "" {
		script, err := LoadScript(opts.ScriptCode, opts.ScriptPath, opts.Logger)
		if err != nil {
			return nil, err
		}
		t.script = script
		opts.Logger.Info("Loaded field script %s", opts.ScriptPath)
	}
	return t, nil
}

// Mode returns the configured record mode.
func (t *Transformer) Mode() Mode {
	return t.opts.Mode
}

// Transform normalizes snap and builds its CSV row and, unless in csv-only
// mode, its envelope.
func (t *Transformer) Transform(snap appliance.Snapshot) (Result, error) {
	stats, err := NewStats(snap)
	if err != nil {
		return Result{}, err
	}
	if err := validator.Validate(stats, t.opts.Validators...); err != nil {
		return Result{}, fmt.Errorf("stats of %s failed validation: %w", snap.Target, err)
	}

	res := Result{
		Stats:  stats,
		Fields: stats.Fields(t.precision),
		Row:    stats.Row(t.precision),
	}

	if t.script != nil {
		extras, err := t.script.Apply(res.Fields)
		if err != nil {
			return Result{}, fmt.Errorf("field script for %s: %w", snap.Target, err)
		}
		for k, v := range extras {
			res.Fields[k] = v
		}
	}

	if t.opts.Mode == ModeCSVOnly {
		return res, nil
	}

	env := &Envelope{
		Time:       float64(t.opts.Now().UnixNano()) / 1e9,
		Host:       snap.Target,
		Source:     t.opts.Source,
		Sourcetype: t.opts.Sourcetype,
	}
	if t.opts.Mode == ModeMetric {
		env.Event = "metric"
		env.Fields = res.Fields
	} else {
		env.Event = res.Fields
	}
	res.Record = env
	return res, nil
}
