package circuitbreaker

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

const databaseService = "relation-store"

// DatabaseWrapper guards an sqlx.DB with a circuit breaker.
// sql.ErrNoRows is a normal miss and never trips the breaker.
type DatabaseWrapper struct {
	db     *sqlx.DB
	cb     *CircuitBreaker
	logger *zap.Logger
}

// NewDatabaseWrapper wraps db using the database target settings
func NewDatabaseWrapper(db *sqlx.DB, logger *zap.Logger) *DatabaseWrapper {
	if logger == nil {
		logger = zap.NewNop()
	}
	cb := NewCircuitBreaker(db.DriverName(), SettingsFor(TargetDatabase).ToConfig(), logger)
	GlobalMetricsCollector.RegisterCircuitBreaker(db.DriverName(), databaseService, cb)
	return &DatabaseWrapper{db: db, cb: cb, logger: logger}
}

func (dw *DatabaseWrapper) guard(ctx context.Context, call func() error) error {
	var callErr error
	err := dw.cb.Execute(ctx, func() error {
		callErr = call()
		if errors.Is(callErr, sql.ErrNoRows) {
			return nil
		}
		return callErr
	})
	GlobalMetricsCollector.RecordRequest(dw.cb.Name(), databaseService, dw.cb.State(), err == nil)
	if err != nil {
		return err
	}
	return callErr
}

// PingContext verifies the connection
func (dw *DatabaseWrapper) PingContext(ctx context.Context) error {
	return dw.guard(ctx, func() error { return dw.db.PingContext(ctx) })
}

// GetContext scans a single row into dest
func (dw *DatabaseWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.guard(ctx, func() error { return dw.db.GetContext(ctx, dest, query, args...) })
}

// SelectContext scans all rows into dest
func (dw *DatabaseWrapper) SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return dw.guard(ctx, func() error { return dw.db.SelectContext(ctx, dest, query, args...) })
}

// ExecContext runs a statement
func (dw *DatabaseWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := dw.guard(ctx, func() error {
		var execErr error
		res, execErr = dw.db.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// BeginTxx starts a transaction; statements inside it share this breaker
func (dw *DatabaseWrapper) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*TxWrapper, error) {
	var tx *sqlx.Tx
	err := dw.guard(ctx, func() error {
		var beginErr error
		tx, beginErr = dw.db.BeginTxx(ctx, opts)
		return beginErr
	})
	if err != nil {
		return nil, err
	}
	return &TxWrapper{tx: tx, parent: dw}, nil
}

// Rebind converts ? placeholders to the driver's bindvar style
func (dw *DatabaseWrapper) Rebind(query string) string { return dw.db.Rebind(query) }

// DriverName returns the sqlx driver name
func (dw *DatabaseWrapper) DriverName() string { return dw.db.DriverName() }

// Close closes the database
func (dw *DatabaseWrapper) Close() error { return dw.db.Close() }

// GetDB returns the underlying sqlx handle
func (dw *DatabaseWrapper) GetDB() *sqlx.DB { return dw.db }

// IsCircuitBreakerOpen reports whether calls are currently rejected
func (dw *DatabaseWrapper) IsCircuitBreakerOpen() bool {
	return dw.cb.State() == StateOpen
}

// TxWrapper guards statements inside a transaction
type TxWrapper struct {
	tx     *sqlx.Tx
	parent *DatabaseWrapper
}

// GetContext scans a single row into dest
func (tw *TxWrapper) GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return tw.parent.guard(ctx, func() error { return tw.tx.GetContext(ctx, dest, query, args...) })
}

// ExecContext runs a statement in the transaction
func (tw *TxWrapper) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	var res sql.Result
	err := tw.parent.guard(ctx, func() error {
		var execErr error
		res, execErr = tw.tx.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Commit commits the transaction
func (tw *TxWrapper) Commit() error {
	return tw.parent.guard(context.Background(), tw.tx.Commit)
}

// Rollback always reaches the database, even with the breaker open
func (tw *TxWrapper) Rollback() error {
	return tw.tx.Rollback()
}
