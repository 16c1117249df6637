package report

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/eddielth/vmstats-trans/collector"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSaveLoad(t *testing.T) {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	summary := collector.Summary{
		Devices: []collector.DeviceResult{
			{Target: "a", Stage: collector.StageDone},
			{Target: "b", Stage: collector.StageLogin, Err: errors.New("401")},
		},
		Records:      1,
		Uploaded:     true,
		UploadStatus: 200,
		SinkErrors:   1,
	}

	r := Build(summary, "metric", start, start.Add(3*time.Second), nil)
	_, err := uuid.Parse(r.RunID)
	require.NoError(t, err)
	assert.Equal(t, "success", r.Devices[0].Status)
	assert.Equal(t, "failed", r.Devices[1].Status)
	assert.Equal(t, "401", r.Devices[1].Error)

	path := filepath.Join(t.TempDir(), "reports", "run.yaml")
	require.NoError(t, Save(path, r))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "run_id: "+r.RunID))
	assert.Contains(t, string(raw), "upload_status: 200")
	assert.Contains(t, string(raw), "sink_errors: 1")

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.True(t, r.StartedAt.Equal(loaded.StartedAt))
	assert.True(t, r.FinishedAt.Equal(loaded.FinishedAt))
	loaded.StartedAt, loaded.FinishedAt = r.StartedAt, r.FinishedAt
	assert.Equal(t, r, loaded)
}

func TestBuild_RunError(t *testing.T) {
	r := Build(collector.Summary{}, "event", time.Now(), time.Now(), errors.New("aborted"))
	assert.Equal(t, "aborted", r.Error)
	assert.Empty(t, r.Devices)
	assert.NotEqual(t, Build(collector.Summary{}, "event", time.Now(), time.Now(), nil).RunID, r.RunID)
}

func TestLoad_Missing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, Save("ignored", nil))
}
