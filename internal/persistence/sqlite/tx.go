package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/example/teleconsult/internal/persistence"
)

var errBusy = errors.New("sqlite: database busy")

// classify translates driver errors into the persistence sentinels. The
// original error stays in the chain for logging.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}

	var driverErr *sqlitedriver.Error
	if !errors.As(err, &driverErr) {
		return err
	}
	code := driverErr.Code()
	switch {
	case code == sqlite3.SQLITE_CONSTRAINT_UNIQUE, code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return fmt.Errorf("%w: %v", persistence.ErrDuplicate, err)
	case code&0xff == sqlite3.SQLITE_CONSTRAINT:
		return fmt.Errorf("%w: %v", persistence.ErrConstraintViolation, err)
	case code&0xff == sqlite3.SQLITE_BUSY, code&0xff == sqlite3.SQLITE_LOCKED:
		return fmt.Errorf("%w: %v", errBusy, err)
	}
	return err
}

// busyRetry reruns writes that lost the single writer lock. Anything other
// than a busy error is returned after the first attempt.
type busyRetry struct {
	attempts int
	delay    time.Duration
	maxDelay time.Duration
}

func defaultBusyRetry() busyRetry {
	return busyRetry{attempts: 4, delay: 50 * time.Millisecond, maxDelay: 2 * time.Second}
}

func (r busyRetry) do(ctx context.Context, fn func() error) error {
	delay := r.delay
	var err error
	for attempt := 1; ; attempt++ {
		err = classify(fn())
		if err == nil || !errors.Is(err, errBusy) || attempt >= r.attempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if delay *= 2; delay > r.maxDelay {
			delay = r.maxDelay
		}
	}
	if errors.Is(err, errBusy) {
		return fmt.Errorf("sqlite: gave up after %d attempts: %w", r.attempts, err)
	}
	return err
}

// inTx commits when fn succeeds and rolls back on error or panic.
func inTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}
