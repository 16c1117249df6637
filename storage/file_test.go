package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStorage_Store(t *testing.T) {
	base := filepath.Join(t.TempDir(), "json")
	fs, err := NewFileStorage(base, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, "file", fs.Name())

	require.NoError(t, fs.Store(context.Background(), sampleResult("vmstore01")))

	path := filepath.Join(base, "vmstore01", "20240501-120000.000.json")
	b, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(b, &doc))
	assert.Contains(t, doc, "stats")
	assert.Contains(t, doc, "fields")
	assert.NotContains(t, doc, "record")

	var fields map[string]string
	require.NoError(t, json.Unmarshal(doc["fields"], &fields))
	assert.Equal(t, "60.00", fields["percent_used"])
	assert.NoError(t, fs.Close())
}
