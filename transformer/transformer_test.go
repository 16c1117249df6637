package transformer

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/eddielth/vmstats-trans/appliance"
	"github.com/eddielth/vmstats-trans/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func sampleSnapshot(total, remaining, savings string) appliance.Snapshot {
	return appliance.Snapshot{
		Target: "vmstore01",
		Fields: appliance.Fields{
			"currentCapacityGiB":              json.Number("1000"),
			"filesystemId":                    "fs-1",
			"modelName":                       "T880",
			"osVersion":                       "5.2.0",
			"productId":                       "P1",
			"serialNumber":                    "SN1",
			"spaceTotalGiB":                   json.Number(total),
			"spaceRemainingPhysicalGiB":       json.Number(remaining),
			"spaceSavingsFactor":              json.Number(savings),
			"vmsCount":                        json.Number("42"),
			"spaceUsedSnapshotsHypervisorGiB": json.Number("10.5"),
			"spaceUsedSnapshotsTintriGiB":     json.Number("4.5"),
		},
		FetchedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNewStats_DerivedFields(t *testing.T) {
	s, err := NewStats(sampleSnapshot("1000", "400", "2.0"))
	require.NoError(t, err)

	assert.Equal(t, "vmstore01", s.Name)
	assert.Equal(t, 1000.0, s.PhysicalSpaceGiB)
	assert.Equal(t, 400.0, s.PhysicalFreeGiB)
	assert.Equal(t, 600.0, s.PhysicalUsedGiB)
	assert.Equal(t, 2000.0, s.LogicalSpaceGiB)
	assert.Equal(t, 800.0, s.LogicalFreeGiB)
	assert.Equal(t, 1200.0, s.LogicalUsedGiB)
	assert.InDelta(t, 60.0, s.PercentUsed, 1e-9)
	assert.Equal(t, 2.0, s.SavingFactor)
	assert.Equal(t, int64(42), s.NumberOfVMs)
	assert.Equal(t, 15.0, s.TotalSnapshotsGiB)
}

func TestNewStats_PercentUsedBounds(t *testing.T) {
	tests := []struct {
		name      string
		total     string
		remaining string
		want      float64
	}{
		{"empty", "500", "500", 0},
		{"full", "500", "0", 100},
		{"quarter", "800", "600", 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewStats(sampleSnapshot(tt.total, tt.remaining, "1"))
			require.NoError(t, err)
			assert.InDelta(t, tt.want, s.PercentUsed, 1e-9)
			assert.InDelta(t, s.PhysicalSpaceGiB, s.PhysicalUsedGiB+s.PhysicalFreeGiB, 1e-9)
		})
	}
}

func TestNewStats_MissingFields(t *testing.T) {
	snap := sampleSnapshot("1000", "400", "2")
	delete(snap.Fields, "serialNumber")
	delete(snap.Fields, "spaceTotalGiB")

	_, err := NewStats(snap)
	require.Error(t, err)

	errs := multierr.Errors(err)
	require.Len(t, errs, 2)
	var missing *MissingFieldError
	require.True(t, errors.As(errs[0], &missing))
	assert.Equal(t, "serialNumber", missing.Field)
	assert.Equal(t, "vmstore01", missing.Target)
}

func TestNewStats_InvalidValues(t *testing.T) {
	snap := sampleSnapshot("1000", "400", "2")
	snap.Fields["spaceSavingsFactor"] = "lots"
	_, err := NewStats(snap)
	var invalid *InvalidFieldError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "spaceSavingsFactor", invalid.Field)

	_, err = NewStats(sampleSnapshot("0", "0", "1"))
	assert.Error(t, err)
}

func TestNewStats_NumericStrings(t *testing.T) {
	snap := sampleSnapshot("1000", "400", "2")
	snap.Fields["spaceTotalGiB"] = " 1000 "
	snap.Fields["vmsCount"] = float64(7)
	snap.Fields["productId"] = nil

	s, err := NewStats(snap)
	require.NoError(t, err)
	assert.Equal(t, 1000.0, s.PhysicalSpaceGiB)
	assert.Equal(t, int64(7), s.NumberOfVMs)
	assert.Equal(t, "", s.ProductID)
}

func TestStats_Row(t *testing.T) {
	s, err := NewStats(sampleSnapshot("1000", "400", "2.0"))
	require.NoError(t, err)

	row := s.Row(2)
	require.Len(t, row, len(Header))
	assert.Equal(t, []string{
		"vmstore01", "1000.00", "fs-1", "T880", "5.2.0", "P1", "SN1",
		"1000.00", "400.00", "600.00", "2000.00", "800.00", "1200.00",
		"60.00", "2.00", "42", "10.50", "4.50", "15.00",
	}, row)

	fields := s.Fields(-1)
	assert.Equal(t, "60", fields["percent_used"])
	assert.Equal(t, "10.5", fields["snapshots_on_hypervisor_gib"])
	assert.Equal(t, "42", fields["number_of_vms"])
}

func fixedNow() time.Time {
	return time.Unix(1700000000, 500000000)
}

func TestTransform_EventMode(t *testing.T) {
	tr, err := New(Options{Now: fixedNow})
	require.NoError(t, err)

	res, err := tr.Transform(sampleSnapshot("1000", "400", "2"))
	require.NoError(t, err)
	require.NotNil(t, res.Record)

	assert.Equal(t, 1700000000.5, res.Record.Time)
	assert.Equal(t, "vmstore01", res.Record.Host)
	assert.Equal(t, DefaultSource, res.Record.Source)
	assert.Equal(t, DefaultSourcetype, res.Record.Sourcetype)
	assert.Nil(t, res.Record.Fields)

	event, ok := res.Record.Event.(map[string]string)
	require.True(t, ok)
	assert.Equal(t, "60.00", event["percent_used"])

	b, err := json.Marshal(res.Record)
	require.NoError(t, err)
	assert.NotContains(t, string(b), `"fields"`)
}

func TestTransform_MetricMode(t *testing.T) {
	tr, err := New(Options{Mode: ModeMetric, Source: "src", Sourcetype: "st", Now: fixedNow})
	require.NoError(t, err)

	res, err := tr.Transform(sampleSnapshot("1000", "400", "2"))
	require.NoError(t, err)
	require.NotNil(t, res.Record)

	assert.Equal(t, "metric", res.Record.Event)
	assert.Equal(t, "src", res.Record.Source)
	assert.Equal(t, "st", res.Record.Sourcetype)
	assert.Equal(t, "1200.00", res.Record.Fields["logical_used_gib"])
}

func TestTransform_CSVOnly(t *testing.T) {
	tr, err := New(Options{Mode: ModeCSVOnly})
	require.NoError(t, err)

	res, err := tr.Transform(sampleSnapshot("1000", "400", "2"))
	require.NoError(t, err)
	assert.Nil(t, res.Record)
	assert.Len(t, res.Row, len(Header))
}

func TestTransform_ValidationFailure(t *testing.T) {
	tr, err := New(Options{})
	require.NoError(t, err)

	// remaining above total yields a negative percentage
	_, err = tr.Transform(sampleSnapshot("100", "150", "1"))
	assert.Error(t, err)
}

func TestTransform_RejectsNonFiniteInput(t *testing.T) {
	tr, err := New(Options{})
	require.NoError(t, err)

	_, err = tr.Transform(sampleSnapshot("Inf", "400", "2"))
	assert.ErrorContains(t, err, "PhysicalSpaceGiB value +Inf is not finite")

	_, err = tr.Transform(sampleSnapshot("1000", "400", "Inf"))
	assert.ErrorContains(t, err, "SavingFactor value +Inf is not finite")

	snap := sampleSnapshot("1000", "400", "2")
	snap.Fields["spaceUsedSnapshotsTintriGiB"] = "NaN"
	_, err = tr.Transform(snap)
	assert.ErrorContains(t, err, "SnapshotsOnPlatformGiB")
}

func TestTransform_FieldScript(t *testing.T) {
	script := `
function transform(fields) {
	log("transforming " + fields.tintri_name);
	return {
		physical_space_tib: round(gibToTib(parseFloat(fields.physical_space_gib)), 3),
		percent_used: "overridden",
		nearly_full: parseFloat(fields.percent_used) > 90,
		site: "dc1"
	};
}`
	tr, err := New(Options{Mode: ModeMetric, ScriptCode: script, Logger: logger.Nop()})
	require.NoError(t, err)

	res, err := tr.Transform(sampleSnapshot("1024", "512", "1"))
	require.NoError(t, err)

	assert.Equal(t, "1", res.Record.Fields["physical_space_tib"])
	assert.Equal(t, "50.00", res.Record.Fields["percent_used"])
	assert.Equal(t, "false", res.Record.Fields["nearly_full"])
	assert.Equal(t, "dc1", res.Record.Fields["site"])
	assert.Len(t, res.Row, len(Header))
}

func TestTransform_FieldScriptErrors(t *testing.T) {
	_, err := New(Options{ScriptCode: `var x = 1;`})
	assert.Error(t, err)

	_, err = New(Options{ScriptCode: `function transform(`})
	assert.Error(t, err)

	tr, err := New(Options{ScriptCode: `function transform(f) { throw new Error("boom"); }`})
	require.NoError(t, err)
	_, err = tr.Transform(sampleSnapshot("1000", "400", "2"))
	assert.ErrorContains(t, err, "boom")

	tr, err = New(Options{ScriptCode: `function transform(f) { return 5; }`})
	require.NoError(t, err)
	_, err = tr.Transform(sampleSnapshot("1000", "400", "2"))
	assert.Error(t, err)

	tr, err = New(Options{ScriptCode: `function transform(f) {}`})
	require.NoError(t, err)
	res, err := tr.Transform(sampleSnapshot("1000", "400", "2"))
	require.NoError(t, err)
	assert.Len(t, res.Fields, len(Header))
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("Metric")
	require.NoError(t, err)
	assert.Equal(t, ModeMetric, m)

	m, err = ParseMode("")
	require.NoError(t, err)
	assert.Equal(t, ModeEvent, m)

	_, err = ParseMode("bogus")
	assert.Error(t, err)
}

func TestNew_PrecisionDefault(t *testing.T) {
	tr, err := New(Options{})
	require.NoError(t, err)

	res, err := tr.Transform(sampleSnapshot("1000", "400", "1.5"))
	require.NoError(t, err)
	assert.Equal(t, "60.00", res.Fields["percent_used"])
	assert.Equal(t, "1.50", res.Fields["saving_factor"])
	assert.Equal(t, "600.00", res.Fields["logical_free_gib"])

	tr, err = New(Options{Precision: Precision(0)})
	require.NoError(t, err)
	res, err = tr.Transform(sampleSnapshot("1000", "400", "1.5"))
	require.NoError(t, err)
	assert.Equal(t, "60", res.Fields["percent_used"])
	assert.Equal(t, "2", res.Fields["saving_factor"])

	tr, err = New(Options{Precision: Precision(-1)})
	require.NoError(t, err)
	res, err = tr.Transform(sampleSnapshot("1000", "400", "1.5"))
	require.NoError(t, err)
	assert.Equal(t, "1.5", res.Fields["saving_factor"])

	_, err = New(Options{Precision: Precision(-2)})
	assert.Error(t, err)
}
