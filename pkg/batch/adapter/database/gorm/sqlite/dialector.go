// Package sqlite registers the SQLite dialector with the GORM adapter.
package sqlite

import (
	"errors"

	gormsqlite "gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tigerroll/pagebatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
)

func init() {
	factory := func(cfg database.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return gormsqlite.Open(cfg.Database), nil
	}
	gormadapter.RegisterDialector("sqlite", factory)
	gormadapter.RegisterDialector("sqlite3", factory)
}
