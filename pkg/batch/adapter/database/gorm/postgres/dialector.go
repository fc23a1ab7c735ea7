// Package postgres registers the PostgreSQL dialector with the GORM adapter.
package postgres

import (
	"fmt"
	"sort"
	"strings"

	gormpostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tigerroll/pagebatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
)

func init() {
	factory := func(cfg database.DatabaseConfig) (gorm.Dialector, error) {
		return gormpostgres.Open(DSN(cfg)), nil
	}
	gormadapter.RegisterDialector("postgres", factory)
	gormadapter.RegisterDialector("postgresql", factory)
}

// DSN formats cfg in the key=value form expected by gorm.io/driver/postgres.
func DSN(c database.DatabaseConfig) string {
	port := c.Port
	if port == 0 {
		port = 5432
	}
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	parts := []string{
		fmt.Sprintf("host=%s", c.Host),
		fmt.Sprintf("port=%d", port),
		fmt.Sprintf("user=%s", c.User),
		fmt.Sprintf("password=%s", c.Password),
		fmt.Sprintf("dbname=%s", c.Database),
		fmt.Sprintf("sslmode=%s", sslmode),
	}
	keys := make([]string, 0, len(c.Params))
	for k := range c.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%s", k, c.Params[k]))
	}
	return strings.Join(parts, " ")
}
