package db

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFiles embed.FS

// Migration directions
const (
	MigrateUp   = "up"
	MigrateDown = "down"
)

// Migrate applies the embedded schema migrations for the client's driver.
// steps > 0 limits how many migrations are applied or reverted.
func (c *Client) Migrate(direction string, steps int) error {
	m, closeFn, err := c.migrator()
	if err != nil {
		return err
	}
	defer closeFn()

	switch direction {
	case MigrateUp:
		if steps > 0 {
			err = m.Steps(steps)
		} else {
			err = m.Up()
		}
	case MigrateDown:
		if steps > 0 {
			err = m.Steps(-steps)
		} else {
			err = m.Down()
		}
	default:
		return fmt.Errorf("unknown direction: %s", direction)
	}

	if errors.Is(err, migrate.ErrNoChange) {
		c.logger.Info("Schema already up to date", zap.String("direction", direction))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migrate %s: %w", direction, err)
	}

	version, dirty, _ := m.Version()
	c.logger.Info("Schema migrated",
		zap.String("direction", direction),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// SchemaVersion returns the applied migration version
func (c *Client) SchemaVersion() (uint, bool, error) {
	m, closeFn, err := c.migrator()
	if err != nil {
		return 0, false, err
	}
	defer closeFn()

	version, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (c *Client) migrator() (*migrate.Migrate, func(), error) {
	raw := c.db.GetDB().DB

	var (
		dir    string
		driver database.Driver
		err    error
	)
	switch c.db.DriverName() {
	case DriverPostgres:
		dir = "migrations/postgres"
		driver, err = postgres.WithInstance(raw, &postgres.Config{})
	case DriverSQLite:
		dir = "migrations/sqlite"
		driver, err = sqlite3.WithInstance(raw, &sqlite3.Config{})
	default:
		return nil, nil, fmt.Errorf("migrations not supported for driver %q", c.db.DriverName())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("init migration driver: %w", err)
	}

	src, err := iofs.New(migrationFiles, dir)
	if err != nil {
		return nil, nil, fmt.Errorf("load migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, c.db.DriverName(), driver)
	if err != nil {
		return nil, nil, fmt.Errorf("init migrate: %w", err)
	}

	closeFn := func() {
		// the sqlite3 driver closes the shared *sql.DB on Close
		if c.db.DriverName() == DriverPostgres {
			m.Close()
			return
		}
		src.Close()
	}
	return m, closeFn, nil
}
