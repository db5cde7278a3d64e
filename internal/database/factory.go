package database

import (
	"fmt"
	"path/filepath"

	"wsync-go/internal/config"
)

// NewDatabaseFromConfig creates the state store selected by the database config type.
// name picks the file within data_dir, one database per configured workspace.
func NewDatabaseFromConfig(cfg config.DatabaseConfig, name string) (*SQLiteDatabase, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite database")
		}
		if name == "" {
			return nil, fmt.Errorf("database name required for sqlite database")
		}
		return NewSQLiteDatabase(filepath.Join(cfg.DataDir, name+".db"))
	case "memory":
		return NewSQLiteDatabase(":memory:")
	default:
		return nil, fmt.Errorf("unknown database type: %s", cfg.Type)
	}
}
