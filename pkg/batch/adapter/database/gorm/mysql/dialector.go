// Package mysql registers the MySQL dialector with the GORM adapter.
package mysql

import (
	"fmt"

	mysqldriver "github.com/go-sql-driver/mysql"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tigerroll/pagebatch/pkg/batch/adapter/database"
	gormadapter "github.com/tigerroll/pagebatch/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("mysql", func(cfg database.DatabaseConfig) (gorm.Dialector, error) {
		return gormmysql.Open(DSN(cfg)), nil
	})
}

// DSN formats cfg as a go-sql-driver/mysql data source name with parseTime and
// multiStatements enabled. Schema migrations run several statements per query.
func DSN(cfg database.DatabaseConfig) string {
	c := mysqldriver.NewConfig()
	c.User = cfg.User
	c.Passwd = cfg.Password
	c.Net = "tcp"
	port := cfg.Port
	if port == 0 {
		port = 3306
	}
	c.Addr = fmt.Sprintf("%s:%d", cfg.Host, port)
	c.DBName = cfg.Database
	c.ParseTime = true
	c.MultiStatements = true
	if len(cfg.Params) > 0 {
		c.Params = make(map[string]string, len(cfg.Params))
		for k, v := range cfg.Params {
			c.Params[k] = v
		}
	}
	return c.FormatDSN()
}
