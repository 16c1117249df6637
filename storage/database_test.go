package storage

import (
	"strings"
	"testing"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMySQLDSN(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDB     string
		wantServer string
		wantErr    bool
	}{
		{"user:pw@tcp(db:3306)/vmstats", "vmstats", "user:pw@tcp(db:3306)/", false},
		{"user:pw@tcp(db:3306)/vmstats?parseTime=true", "vmstats", "user:pw@tcp(db:3306)/?parseTime=true", false},
		{"user:pw@tcp(db:3306)", "", "", true},
		{"user:pw@tcp(db:3306)/", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			db, server, err := parseMySQLDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDB, db)
			assert.Equal(t, tt.wantServer, server)
		})
	}
}

func TestParsePostgreSQLDSN(t *testing.T) {
	tests := []struct {
		dsn        string
		wantDB     string
		wantServer string
		wantErr    bool
	}{
		{"postgres://u:p@db:5432/vmstats", "vmstats", "postgres://u:p@db:5432/postgres", false},
		{"postgresql://u:p@db/vmstats?sslmode=disable", "vmstats", "postgresql://u:p@db/postgres?sslmode=disable", false},
		{"host=db user=u dbname=vmstats sslmode=disable", "vmstats", "host=db user=u sslmode=disable dbname=postgres", false},
		{"host=db user=u", "", "", true},
		{"postgres://db", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.dsn, func(t *testing.T) {
			db, server, err := parsePostgreSQLDSN(tt.dsn)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantDB, db)
			assert.Equal(t, tt.wantServer, server)
		})
	}
}

func TestInsertSQL(t *testing.T) {
	args := statsArgs(sampleResult("a").Stats)
	require.Len(t, args, len(statsColumns))

	my := mysqlInsertSQL()
	assert.True(t, strings.HasPrefix(my, "INSERT INTO capacity_stats (tintri_name, "))
	assert.Equal(t, len(statsColumns), strings.Count(my, "?"))

	pg := postgresInsertSQL()
	assert.Contains(t, pg, "$1, $2")
	assert.Contains(t, pg, "$20)")
}

func TestTableSQLCoversColumns(t *testing.T) {
	for _, col := range statsColumns {
		assert.Contains(t, mysqlTableSQL(), col+" ")
		assert.Contains(t, postgresTableSQL(), col+" ")
	}
}

func TestNewDatabaseStorage_UnsupportedType(t *testing.T) {
	_, err := NewDatabaseStorage("sqlite", "x", logger.Nop())
	assert.ErrorContains(t, err, "unsupported database type")
}
