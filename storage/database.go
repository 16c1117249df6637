package storage

import (
	"fmt"

	"github.com/eddielth/vmstats-trans/logger"
	"github.com/eddielth/vmstats-trans/transformer"
)

// DatabaseType
type DatabaseType string

const (
	// MySQL
	MySQL DatabaseType = "mysql"
	// PostgreSQL
	PostgreSQL DatabaseType = "postgresql"
)

// statsTable is created by both SQL backends.
const statsTable = "capacity_stats"

// DatabaseStorage
type DatabaseStorage interface {
	StorageBackend
	// InitDatabase
	InitDatabase() error
}

// NewDatabaseStorage
func NewDatabaseStorage(dbType string, dsn string, log *logger.Logger) (DatabaseStorage, error) {
	switch DatabaseType(dbType) {
	case MySQL:
		return NewMySQLStorage(dsn, log)
	case PostgreSQL:
		return NewPostgreSQLStorage(dsn, log)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", dbType)
	}
}

// statsColumns are the capacity_stats columns filled by Store, in order.
var statsColumns = []string{
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
	"collected_at",
}

func statsArgs(s transformer.Stats) []interface{} {
	return []interface{}{
		s.Name,
		s.CurrentCapacityGiB,
		s.FilesystemID,
		s.ModelName,
		s.OSVersion,
		s.ProductID,
		s.SerialNumber,
		s.PhysicalSpaceGiB,
		s.PhysicalFreeGiB,
		s.PhysicalUsedGiB,
		s.LogicalSpaceGiB,
		s.LogicalFreeGiB,
		s.LogicalUsedGiB,
		s.PercentUsed,
		s.SavingFactor,
		s.NumberOfVMs,
		s.SnapshotsOnHypervisorGiB,
		s.SnapshotsOnPlatformGiB,
		s.TotalSnapshotsGiB,
		s.CollectedAt,
	}
}
