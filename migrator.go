package schema

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// Migrator is an instance customized to perform migrations on a particular
// database against a particular tracking table and with a particular dialect
// defined.
type Migrator struct {
	SchemaName string
	TableName  string
	Dialect    Dialect
	Logger     Logger
	Observer   Observer

	// Timeout bounds each migration step when non-zero
	Timeout time.Duration

	ctx context.Context
}

// NewMigrator creates a new Migrator with the supplied
// options
func NewMigrator(options ...Option) *Migrator {
	m := Migrator{
		TableName: DefaultTableName,
		Dialect:   Postgres,
	}
	for _, opt := range options {
		m = opt(m)
	}
	return &m
}

// Apply takes a slice of Migrations and applies any which have not yet
// been applied. The run holds the dialect's lock (when it has one) and
// each migration is committed in its own transaction together with its
// tracking record.
func (m *Migrator) Apply(db Connection, migrations []*Migration) error {
	if db == nil {
		return ErrNilDB
	}
	if err := validateMigrations(migrations); err != nil {
		return err
	}

	return m.withLock(db, func(ctx context.Context, conn Connection) error {
		store := m.sqlStore(conn)
		_, err := m.run(ctx, store, store, migrations, m.refreshLock(conn))
		return err
	})
}

// Rollback reverts the most recently applied steps migrations against a
// database, in descending version order.
func (m *Migrator) Rollback(db Connection, migrations []*Migration, steps int) error {
	if db == nil {
		return ErrNilDB
	}
	if err := validateMigrations(migrations); err != nil {
		return err
	}

	return m.withLock(db, func(ctx context.Context, conn Connection) error {
		store := m.sqlStore(conn)
		_, err := m.revert(ctx, store, store, migrations, steps, m.refreshLock(conn))
		return err
	})
}

// GetStatus reports the applied or pending state of each migration against
// a database. The tracking table is created if it is missing.
func (m *Migrator) GetStatus(db Connection, migrations []*Migration) ([]*MigrationStatus, error) {
	if db == nil {
		return nil, ErrNilDB
	}
	ctx := m.context()
	if err := m.createMigrationsTable(ctx, db); err != nil {
		return nil, err
	}
	return m.Status(ctx, m.sqlStore(db), migrations)
}

// QuotedTableName returns the dialect-quoted fully-qualified name for the
// migrations tracking table
func (m *Migrator) QuotedTableName() string {
	return m.Dialect.QuotedTableName(m.SchemaName, m.TableName)
}

// Run applies every migration whose version is not in the ledger, in
// ascending version order, recording each success in the ledger before
// moving to the next. It stops at the first failure and returns a
// *MigrationError naming the failing version; the ledger holds no entry
// for it. The migrations applied by this run are returned.
func (m *Migrator) Run(ctx context.Context, store SchemaStore, ledger Ledger, migrations []*Migration) ([]*AppliedMigration, error) {
	return m.run(ctx, store, ledger, migrations, nil)
}

// run is Run with an optional hook called before each migration, used to
// keep an expiring lock alive.
func (m *Migrator) run(ctx context.Context, store SchemaStore, ledger Ledger, migrations []*Migration, beforeStep func(context.Context) error) ([]*AppliedMigration, error) {
	applied := make([]*AppliedMigration, 0)
	if store == nil || ledger == nil {
		return applied, ErrNilDB
	}
	if err := validateMigrations(migrations); err != nil {
		return applied, err
	}

	plan, err := m.computeMigrationPlan(ctx, ledger, migrations)
	if err != nil {
		return applied, err
	}
	if len(plan) == 0 {
		m.log("No pending migrations")
	}

	for _, migration := range plan {
		if beforeStep != nil {
			if err := beforeStep(ctx); err != nil {
				return applied, err
			}
		}
		am, err := m.runMigration(ctx, store, ledger, migration)
		if err != nil {
			return applied, err
		}
		applied = append(applied, am)
	}
	return applied, nil
}

// Revert undoes the most recently applied steps migrations in descending
// version order using each migration's Down operation, removing each from
// the ledger as it goes. It stops at the first failure. A migration with
// no Down fails with ErrIrreversible. The reverted versions are returned.
func (m *Migrator) Revert(ctx context.Context, store SchemaStore, ledger Ledger, migrations []*Migration, steps int) ([]string, error) {
	return m.revert(ctx, store, ledger, migrations, steps, nil)
}

func (m *Migrator) revert(ctx context.Context, store SchemaStore, ledger Ledger, migrations []*Migration, steps int, beforeStep func(context.Context) error) ([]string, error) {
	reverted := make([]string, 0)
	if store == nil || ledger == nil {
		return reverted, ErrNilDB
	}
	if steps < 1 {
		return reverted, fmt.Errorf("%w: steps must be at least 1, got %d", ErrInvalidDefinition, steps)
	}
	if err := validateMigrations(migrations); err != nil {
		return reverted, err
	}

	applied, err := m.appliedMigrations(ctx, ledger)
	if err != nil {
		return reverted, err
	}

	byVersion := make(map[string]*Migration, len(migrations))
	for _, migration := range migrations {
		byVersion[migration.Version] = migration
	}

	versions := make([]*Migration, 0, len(applied))
	for version := range applied {
		versions = append(versions, &Migration{Version: version})
	}
	SortMigrations(versions)

	for i := len(versions) - 1; i >= 0 && len(reverted) < steps; i-- {
		version := versions[i].Version
		migration, known := byVersion[version]
		if !known {
			return reverted, &MigrationError{
				Version: version,
				Err:     fmt.Errorf("%w: no migration is defined for applied version", ErrInvalidDefinition),
			}
		}
		if beforeStep != nil {
			if err := beforeStep(ctx); err != nil {
				return reverted, err
			}
		}
		if err := m.revertMigration(ctx, store, ledger, migration); err != nil {
			return reverted, err
		}
		reverted = append(reverted, version)
	}
	return reverted, nil
}

// MigrationStatus describes one migration version as seen by the ledger
type MigrationStatus struct {
	Version string

	// Migration is nil when the ledger holds a version that is not among
	// the supplied migrations
	Migration *Migration

	// Applied is nil when the migration is pending
	Applied *AppliedMigration

	// Modified is set when the recorded checksum no longer matches the
	// migration's Up operation
	Modified bool
}

// State summarizes the status as "pending", "applied", "modified" or
// "unknown"
func (s *MigrationStatus) State() string {
	switch {
	case s.Migration == nil:
		return "unknown"
	case s.Applied == nil:
		return "pending"
	case s.Modified:
		return "modified"
	default:
		return "applied"
	}
}

// Status reports each migration's state in ascending version order,
// including ledger entries which match no supplied migration.
func (m *Migrator) Status(ctx context.Context, ledger Ledger, migrations []*Migration) ([]*MigrationStatus, error) {
	if ledger == nil {
		return nil, ErrNilDB
	}
	if err := validateMigrations(migrations); err != nil {
		return nil, err
	}

	applied, err := m.appliedMigrations(ctx, ledger)
	if err != nil {
		return nil, err
	}

	statuses := make([]*MigrationStatus, 0, len(migrations))
	for _, migration := range migrations {
		status := &MigrationStatus{Version: migration.Version, Migration: migration}
		if am, ok := applied[migration.Version]; ok {
			status.Applied = am
			status.Modified = am.Checksum != "" && am.Checksum != migration.MD5()
			delete(applied, migration.Version)
		}
		statuses = append(statuses, status)
	}
	for version, am := range applied {
		statuses = append(statuses, &MigrationStatus{Version: version, Applied: am})
	}

	sort.SliceStable(statuses, func(i, j int) bool {
		return CompareVersions(statuses[i].Version, statuses[j].Version) < 0
	})
	return statuses, nil
}

func (m *Migrator) computeMigrationPlan(ctx context.Context, ledger Ledger, toRun []*Migration) (plan []*Migration, err error) {
	applied, err := m.appliedMigrations(ctx, ledger)
	if err != nil {
		return plan, err
	}

	plan = make([]*Migration, 0)
	for _, migration := range toRun {
		if _, exists := applied[migration.Version]; !exists {
			plan = append(plan, migration)
		}
	}

	SortMigrations(plan)
	return plan, nil
}

func (m *Migrator) appliedMigrations(ctx context.Context, ledger Ledger) (map[string]*AppliedMigration, error) {
	stepCtx, cancel := m.stepContext(ctx)
	defer cancel()
	applied, err := ledger.AppliedMigrations(stepCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to read applied migrations: %w", storeUnavailable(stepCtx, err))
	}
	return applied, nil
}

func (m *Migrator) runMigration(ctx context.Context, store SchemaStore, ledger Ledger, migration *Migration) (*AppliedMigration, error) {
	stepCtx, cancel := m.stepContext(ctx)
	defer cancel()

	startedAt := time.Now()
	var am *AppliedMigration
	err := m.atomically(stepCtx, store, ledger, func(s SchemaStore, l Ledger) error {
		if err := migration.Up.Apply(stepCtx, s); err != nil {
			return err
		}
		am = &AppliedMigration{
			Migration:             *migration,
			Checksum:              migration.MD5(),
			ExecutionTimeInMillis: int(time.Since(startedAt).Milliseconds()),
			AppliedAt:             startedAt,
		}
		return l.MarkApplied(stepCtx, am)
	})
	if err != nil {
		return nil, m.fail(stepCtx, migration.Version, err)
	}

	executionTime := time.Since(startedAt)
	m.log(fmt.Sprintf("Migration '%s' applied in %s", migration.Version, executionTime))
	if m.Observer != nil {
		m.Observer.MigrationApplied(migration.Version, executionTime)
	}
	return am, nil
}

func (m *Migrator) revertMigration(ctx context.Context, store SchemaStore, ledger Ledger, migration *Migration) error {
	if !migration.Reversible() {
		return m.fail(ctx, migration.Version, ErrIrreversible)
	}

	stepCtx, cancel := m.stepContext(ctx)
	defer cancel()

	startedAt := time.Now()
	err := m.atomically(stepCtx, store, ledger, func(s SchemaStore, l Ledger) error {
		if err := migration.Down.Apply(stepCtx, s); err != nil {
			return err
		}
		return l.Unmark(stepCtx, migration.Version)
	})
	if err != nil {
		return m.fail(stepCtx, migration.Version, err)
	}

	executionTime := time.Since(startedAt)
	m.log(fmt.Sprintf("Migration '%s' reverted in %s", migration.Version, executionTime))
	if m.Observer != nil {
		m.Observer.MigrationReverted(migration.Version, executionTime)
	}
	return nil
}

// fail wraps err with the failing version, then logs and observes it
func (m *Migrator) fail(ctx context.Context, version string, err error) error {
	var migrationErr *MigrationError
	if !errors.As(err, &migrationErr) {
		err = &MigrationError{Version: version, Err: storeUnavailable(ctx, err)}
	}
	m.log(fmt.Sprintf("Migration '%s' failed: %s", version, err))
	if m.Observer != nil {
		m.Observer.MigrationFailed(version, err)
	}
	return err
}

func (m *Migrator) atomically(ctx context.Context, store SchemaStore, ledger Ledger, f func(SchemaStore, Ledger) error) error {
	if a, ok := store.(Atomic); ok {
		return a.Atomically(ctx, ledger, f)
	}
	return f(store, ledger)
}

// withLock pins a single connection when possible, holds the dialect lock
// for the duration of f and makes sure the tracking table exists.
func (m *Migrator) withLock(db Connection, f func(context.Context, Connection) error) (err error) {
	ctx := m.context()

	conn := db
	if conner, ok := db.(Conner); ok {
		c, err := conner.Conn(ctx)
		if err != nil {
			return storeUnavailable(ctx, err)
		}
		defer func() { _ = c.Close() }()
		conn = c
	}

	if err = m.lock(ctx, conn); err != nil {
		return err
	}
	defer func() {
		unlockErr := m.unlock(context.WithoutCancel(ctx), conn)
		if err == nil {
			// Only report the unlock error if we're not overwriting an
			// earlier error
			err = unlockErr
		}
	}()

	if err = m.createMigrationsTable(ctx, conn); err != nil {
		return err
	}
	return f(ctx, conn)
}

func (m *Migrator) createMigrationsTable(ctx context.Context, db Connection) error {
	err := transaction(ctx, db, func(tx Queryer) error {
		return m.Dialect.CreateMigrationsTable(ctx, tx, m.QuotedTableName())
	})
	if err != nil {
		return fmt.Errorf("failed to create migrations table %s: %w", m.QuotedTableName(), storeUnavailable(ctx, err))
	}
	return nil
}

func (m *Migrator) lock(ctx context.Context, db Queryer) error {
	if l, isLocker := m.Dialect.(Locker); isLocker {
		err := l.Lock(ctx, db, m.TableName)
		if err != nil {
			return storeUnavailable(ctx, err)
		}
		m.log("Locked at ", time.Now().Format(time.RFC3339Nano))
	}
	return nil
}

func (m *Migrator) unlock(ctx context.Context, db Queryer) error {
	if l, isLocker := m.Dialect.(Locker); isLocker {
		err := l.Unlock(ctx, db, m.TableName)
		if err != nil {
			return storeUnavailable(ctx, err)
		}
		m.log("Unlocked at ", time.Now().Format(time.RFC3339Nano))
	}
	return nil
}

// refreshLock returns a hook extending the dialect's lock, or nil when the
// dialect's lock does not expire
func (m *Migrator) refreshLock(db Queryer) func(context.Context) error {
	r, ok := m.Dialect.(LockRefresher)
	if !ok {
		return nil
	}
	return func(ctx context.Context) error {
		if err := r.RefreshLock(ctx, db, m.TableName); err != nil {
			return storeUnavailable(ctx, err)
		}
		return nil
	}
}

func (m *Migrator) sqlStore(db Queryer) *SQLStore {
	return NewSQLStore(db, m.Dialect, m.QuotedTableName())
}

func (m *Migrator) context() context.Context {
	if m.ctx == nil {
		return context.Background()
	}
	return m.ctx
}

func (m *Migrator) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if m.Timeout > 0 {
		return context.WithTimeout(ctx, m.Timeout)
	}
	return context.WithCancel(ctx)
}

func (m *Migrator) log(msgs ...interface{}) {
	if m.Logger != nil {
		m.Logger.Print(msgs...)
	}
}
