package transformer

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/eddielth/vmstats-trans/appliance"
	"go.uber.org/multierr"
)

// Snapshot keys the transformer needs.
const (
	keyCurrentCapacity       = "currentCapacityGiB"
	keyFilesystemID          = "filesystemId"
	keyModelName             = "modelName"
	keyOSVersion             = "osVersion"
	keyProductID             = "productId"
	keySerialNumber          = "serialNumber"
	keySpaceTotal            = "spaceTotalGiB"
	keySpaceRemaining        = "spaceRemainingPhysicalGiB"
	keySavingsFactor         = "spaceSavingsFactor"
	keyVMsCount              = "vmsCount"
	keySnapshotsOnHypervisor = "spaceUsedSnapshotsHypervisorGiB"
	keySnapshotsOnPlatform   = "spaceUsedSnapshotsTintriGiB"
)

// RequiredFields lists every snapshot key Transform dereferences.
var RequiredFields = []string{
	keyCurrentCapacity,
	keyFilesystemID,
	keyModelName,
	keyOSVersion,
	keyProductID,
	keySerialNumber,
	keySpaceTotal,
	keySpaceRemaining,
	keySavingsFactor,
	keyVMsCount,
	keySnapshotsOnHypervisor,
	keySnapshotsOnPlatform,
}

// Header is the CSV header and the order of the record fields.
var Header = []string{
	"tintri_name",
	"current_capacity_gib",
	"filesystem_id",
	"model_name",
	"os_version",
	"product_id",
	"serial_number",
	"physical_space_gib",
	"physical_free_gib",
	"physical_used_gib",
	"logical_space_gib",
	"logical_free_gib",
	"logical_used_gib",
	"percent_used",
	"saving_factor",
	"number_of_vms",
	"snapshots_on_hypervisor_gib",
	"snapshots_on_tintri_gib",
	"total_snapshots",
}

// Stats is the normalized capacity data of one appliance. All sizes are GiB.
type Stats struct {
	Name                     string    `json:"tintri_name" msgpack:"tintri_name"`
	CurrentCapacityGiB       float64   `json:"current_capacity_gib" msgpack:"current_capacity_gib"`
	FilesystemID             string    `json:"filesystem_id" msgpack:"filesystem_id"`
	ModelName                string    `json:"model_name" msgpack:"model_name"`
	OSVersion                string    `json:"os_version" msgpack:"os_version"`
	ProductID                string    `json:"product_id" msgpack:"product_id"`
	SerialNumber             string    `json:"serial_number" msgpack:"serial_number"`
	PhysicalSpaceGiB         float64   `json:"physical_space_gib" msgpack:"physical_space_gib"`
	PhysicalFreeGiB          float64   `json:"physical_free_gib" msgpack:"physical_free_gib"`
	PhysicalUsedGiB          float64   `json:"physical_used_gib" msgpack:"physical_used_gib"`
	LogicalSpaceGiB          float64   `json:"logical_space_gib" msgpack:"logical_space_gib"`
	LogicalFreeGiB           float64   `json:"logical_free_gib" msgpack:"logical_free_gib"`
	LogicalUsedGiB           float64   `json:"logical_used_gib" msgpack:"logical_used_gib"`
	PercentUsed              float64   `json:"percent_used" msgpack:"percent_used"`
	SavingFactor             float64   `json:"saving_factor" msgpack:"saving_factor"`
	NumberOfVMs              int64     `json:"number_of_vms" msgpack:"number_of_vms"`
	SnapshotsOnHypervisorGiB float64   `json:"snapshots_on_hypervisor_gib" msgpack:"snapshots_on_hypervisor_gib"`
	SnapshotsOnPlatformGiB   float64   `json:"snapshots_on_tintri_gib" msgpack:"snapshots_on_tintri_gib"`
	TotalSnapshotsGiB        float64   `json:"total_snapshots" msgpack:"total_snapshots"`
	CollectedAt              time.Time `json:"collected_at" msgpack:"collected_at"`
}

// MissingFieldError is returned when a snapshot lacks a required key.
type MissingFieldError struct {
	Target string
	Field  string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("snapshot of %s is missing field %s", e.Target, e.Field)
}

// InvalidFieldError is returned when a numeric key holds something else.
type InvalidFieldError struct {
	Target string
	Field  string
	Value  any
}

func (e *InvalidFieldError) Error() string {
	return fmt.Sprintf("snapshot of %s has non-numeric %s: %v", e.Target, e.Field, e.Value)
}

// fieldReader pulls typed values out of a snapshot and collects every problem.
type fieldReader struct {
	target string
	fields appliance.Fields
	err    error
}

func (r *fieldReader) raw(key string) (any, bool) {
	v, ok := r.fields[key]
	if !ok {
		r.err = multierr.Append(r.err, &MissingFieldError{Target: r.target, Field: key})
	}
	return v, ok
}

func (r *fieldReader) string(key string) string {
	v, ok := r.raw(key)
	if !ok || v == nil {
		return ""
	}
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	default:
		return fmt.Sprint(x)
	}
}

func (r *fieldReader) float(key string) float64 {
	v, ok := r.raw(key)
	if !ok {
		return 0
	}
	f, err := toFloat(v)
	if err != nil {
		r.err = multierr.Append(r.err, &InvalidFieldError{Target: r.target, Field: key, Value: v})
	}
	return f
}

func (r *fieldReader) int(key string) int64 {
	v, ok := r.raw(key)
	if !ok {
		return 0
	}
	if n, isNumber := v.(json.Number); isNumber {
		if i, err := n.Int64(); err == nil {
			return i
		}
	}
	f, err := toFloat(v)
	if err != nil {
		r.err = multierr.Append(r.err, &InvalidFieldError{Target: r.target, Field: key, Value: v})
	}
	return int64(f)
}

func toFloat(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case string:
		return strconv.ParseFloat(strings.TrimSpace(x), 64)
	default:
		return 0, fmt.Errorf("unsupported type %T", v)
	}
}

// NewStats extracts the required fields from snap and derives the
// physical/logical usage figures.
func NewStats(snap appliance.Snapshot) (Stats, error) {
	r := &fieldReader{target: snap.Target, fields: snap.Fields}

	s := Stats{
		Name:                     snap.Target,
		CurrentCapacityGiB:       r.float(keyCurrentCapacity),
		FilesystemID:             r.string(keyFilesystemID),
		ModelName:                r.string(keyModelName),
		OSVersion:                r.string(keyOSVersion),
		ProductID:                r.string(keyProductID),
		SerialNumber:             r.string(keySerialNumber),
		NumberOfVMs:              r.int(keyVMsCount),
		SnapshotsOnHypervisorGiB: r.float(keySnapshotsOnHypervisor),
		SnapshotsOnPlatformGiB:   r.float(keySnapshotsOnPlatform),
		CollectedAt:              snap.FetchedAt,
	}
	total := r.float(keySpaceTotal)
	remaining := r.float(keySpaceRemaining)
	savings := r.float(keySavingsFactor)
	if r.err != nil {
		return Stats{}, r.err
	}
	if total <= 0 {
		return Stats{}, fmt.Errorf("snapshot of %s has non-positive %s: %g", snap.Target, keySpaceTotal, total)
	}

	s.PhysicalSpaceGiB = total
	s.PhysicalFreeGiB = remaining
	s.PhysicalUsedGiB = total - remaining
	s.LogicalSpaceGiB = total * savings
	s.LogicalFreeGiB = remaining * savings
	s.LogicalUsedGiB = (total - remaining) * savings
	s.PercentUsed = 100 - (remaining / total * 100)
	s.SavingFactor = savings
	s.TotalSnapshotsGiB = s.SnapshotsOnHypervisorGiB + s.SnapshotsOnPlatformGiB

	return s, nil
}

// Row renders s in Header order with the given decimal precision.
// A precision of -1 uses the shortest exact representation.
func (s Stats) Row(precision int) []string {
	f := func(v float64) string {
		return strconv.FormatFloat(v, 'f', precision, 64)
	}
	return []string{
		s.Name,
		f(s.CurrentCapacityGiB),
		s.FilesystemID,
		s.ModelName,
		s.OSVersion,
		s.ProductID,
		s.SerialNumber,
		f(s.PhysicalSpaceGiB),
		f(s.PhysicalFreeGiB),
		f(s.PhysicalUsedGiB),
		f(s.LogicalSpaceGiB),
		f(s.LogicalFreeGiB),
		f(s.LogicalUsedGiB),
		f(s.PercentUsed),
		f(s.SavingFactor),
		strconv.FormatInt(s.NumberOfVMs, 10),
		f(s.SnapshotsOnHypervisorGiB),
		f(s.SnapshotsOnPlatformGiB),
		f(s.TotalSnapshotsGiB),
	}
}

// Fields renders s as a header-keyed map.
func (s Stats) Fields(precision int) map[string]string {
	row := s.Row(precision)
	fields := make(map[string]string, len(Header))
	for i, key := range Header {
		fields[key] = row[i]
	}
	return fields
}
