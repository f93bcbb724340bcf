// Package upload implements the relational destination: it creates or reuses
// the target table, widens its columns as wider values arrive, and loads every
// batch of a run inside one transaction.
//
// Life cycle:
//
//	NotOpened -> Opened -> Consuming* -> Committed | RolledBack
//
// Committed and RolledBack are terminal. A primary key declared by the batch
// stream is only added after commit, so it never blocks the widening ALTERs
// issued mid-load.
package upload

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"

	"dataload/internal/batch"
	"dataload/internal/ddl"
	"dataload/internal/metrics"
	"dataload/internal/naming"
	"dataload/internal/pipeline"
	"dataload/internal/schema"
	"dataload/internal/storage"

	"golang.org/x/sync/errgroup"
)

// DefaultChunkSize is the number of rows handed to one CopyFrom call.
const DefaultChunkSize = 5000

// Config controls a Destination. Use DefaultConfig for the usual defaults.
type Config struct {
	// Pattern names the target table. Empty means the request's target.
	// A name without tokens is used as a fixed table name.
	Pattern naming.Pattern
	Values  naming.Values
	// TypeOverrides maps a column to an explicit SQL type used at CREATE.
	// Overridden columns are never widened.
	TypeOverrides map[string]string
	// AllowPopulated loads into a target that already holds rows.
	AllowPopulated bool
	// DropOnFailure drops a table this destination created when the run
	// fails.
	DropOnFailure bool
	// SchemaEvolution widens columns for wider values. When false a value
	// the declared type cannot hold fails the run.
	SchemaEvolution bool
	ChunkSize       int
}

// DefaultConfig drops created tables on failure and evolves the schema.
func DefaultConfig() Config {
	return Config{DropOnFailure: true, SchemaEvolution: true, ChunkSize: DefaultChunkSize}
}

type state int

const (
	stateNotOpened state = iota
	stateOpened
	stateCommitted
	stateRolledBack
)

func (s state) String() string {
	return [...]string{"not-opened", "opened", "committed", "rolled-back"}[s]
}

// column is the per-column type state of the target.
type column struct {
	name     string
	declared schema.Type
	est      *schema.Estimator
	sqlType  string // explicit override
	fixed    bool   // never widened
}

// Destination is a pipeline.Destination writing into a relational table.
type Destination struct {
	cfg  Config
	repo storage.Repository
	job  string

	state         state
	table         string
	created       bool
	pendingCreate bool
	tx            storage.Tx
	cols          map[string]*column
	names         []string
	pk            []string
	written       int64
	committed     int64
}

// New returns a Destination writing through repo.
func New(repo storage.Repository, cfg Config) *Destination {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	return &Destination{cfg: cfg, repo: repo}
}

func (d *Destination) Name() string { return "upload" }

// Bind takes the target pattern from the request unless one is configured.
func (d *Destination) Bind(req *pipeline.Request) error {
	if d.cfg.Pattern == "" {
		d.cfg.Pattern = req.Target.Pattern
		d.cfg.Values = req.Target.Values
	}
	d.job = req.Job
	return nil
}

// Check verifies the target server is reachable and the naming pattern
// resolves to a legal, collision-free table name.
func (d *Destination) Check(ctx context.Context, _ pipeline.Listener) error {
	if d.repo == nil {
		return pipeline.Configurationf("upload: no target database")
	}
	var errs []error
	if p := d.cfg.Pattern; p != "" {
		if len(p.Tokens()) > 0 {
			if err := p.Check(); err != nil {
				errs = append(errs, pipeline.Configurationf("upload: %v", err))
			}
		}
		if err := naming.Legal(p.Resolve(d.cfg.Values), d.repo.Dialect().MaxIdentLength()); err != nil {
			errs = append(errs, pipeline.Configurationf("upload: target name: %v", err))
		}
	}
	for col, decl := range d.cfg.TypeOverrides {
		if strings.TrimSpace(decl) == "" {
			errs = append(errs, pipeline.Configurationf("upload: type override for %q is empty", col))
		}
	}
	if err := d.repo.Ping(ctx); err != nil {
		errs = append(errs, pipeline.Transport("upload: ping "+d.repo.Kind(), err))
	}
	return errors.Join(errs...)
}

// Consume loads one batch. The first batch decides the target table and
// opens the transaction.
func (d *Destination) Consume(ctx context.Context, b *batch.Batch, l pipeline.Listener) error {
	switch d.state {
	case stateCommitted, stateRolledBack:
		return pipeline.InvalidStatef("upload: consume after %s", d.state)
	case stateNotOpened:
		if err := d.open(ctx, b, l); err != nil {
			return err
		}
	}
	if d.pendingCreate || d.cfg.SchemaEvolution {
		if err := d.refresh(ctx, b); err != nil {
			return err
		}
	}
	if d.pendingCreate {
		if err := d.create(ctx, b, l); err != nil {
			return err
		}
	}
	if err := d.widen(ctx, b, l); err != nil {
		return err
	}
	if err := d.coerce(b); err != nil {
		return err
	}
	if b.Len() == 0 {
		return nil
	}
	n, err := storage.CopyChunks(ctx, d.columnNames(b), b.Rows, d.cfg.ChunkSize,
		func(ctx context.Context, cols []string, rows [][]any) (int64, error) {
			return d.tx.CopyFrom(ctx, d.table, cols, rows)
		})
	d.written += n
	if err != nil {
		return pipeline.Transport("upload: copy into "+d.table, err)
	}
	return nil
}

func (d *Destination) targetName(b *batch.Batch) string {
	if d.cfg.Pattern != "" {
		return d.cfg.Pattern.Resolve(d.cfg.Values)
	}
	return b.Name
}

// open resolves the table, snapshots or plans its columns and begins the
// transfer transaction.
func (d *Destination) open(ctx context.Context, b *batch.Batch, l pipeline.Listener) error {
	dialect := d.repo.Dialect()
	d.table = d.targetName(b)
	if err := naming.Legal(d.table, dialect.MaxIdentLength()); err != nil {
		return pipeline.Configurationf("upload: target name: %v", err)
	}
	if !dialect.TransactionalDDL() {
		pipeline.Warnf(l, "upload: %s DDL is not transactional; a rollback cannot undo CREATE or ALTER on %s", d.repo.Kind(), d.table)
	}

	exists, err := d.repo.TableExists(ctx, d.table)
	if err != nil {
		return pipeline.Transport("upload: table exists", err)
	}
	d.cols = make(map[string]*column, len(b.Columns))
	if exists {
		if err := d.reuse(ctx, b, l); err != nil {
			return err
		}
	} else {
		for _, c := range b.Columns {
			d.cols[key(c.Name)] = d.plan(c)
		}
		d.pendingCreate = true
	}
	d.pk = append([]string(nil), b.PrimaryKey...)
	for _, name := range d.pk {
		if _, ok := d.cols[key(name)]; !ok {
			return pipeline.Configurationf("upload: primary key column %q is not in the batch", name)
		}
	}
	if !d.pendingCreate {
		if err := d.begin(ctx); err != nil {
			return err
		}
	}
	d.state = stateOpened
	return nil
}

func (d *Destination) reuse(ctx context.Context, b *batch.Batch, l pipeline.Listener) error {
	populated, err := d.populated(ctx)
	if err != nil {
		return pipeline.Transport("upload: probe "+d.table, err)
	}
	if populated && !d.cfg.AllowPopulated {
		return fmt.Errorf("%w: %s", pipeline.ErrTargetAlreadyPopulated, d.table)
	}
	if populated {
		pipeline.Warnf(l, "upload: table %s already holds rows; appending", d.table)
	} else {
		pipeline.Warnf(l, "upload: table %s already exists and is empty; reusing it", d.table)
	}
	existing, err := d.repo.DescribeTable(ctx, d.table)
	if err != nil {
		return pipeline.Transport("upload: describe "+d.table, err)
	}
	for _, c := range existing {
		d.cols[key(c.Name)] = &column{
			name:     c.Name,
			declared: c.Type,
			est:      schema.NewEstimator(c.Type),
			fixed:    c.Type.IsUnknown(),
		}
	}
	var missing []string
	for _, c := range b.Columns {
		if _, ok := d.cols[key(c.Name)]; !ok {
			missing = append(missing, c.Name)
		}
	}
	if len(missing) > 0 {
		return pipeline.Configurationf("upload: table %s has no column(s) %s", d.table, strings.Join(missing, ", "))
	}
	return nil
}

func (d *Destination) populated(ctx context.Context) (bool, error) {
	rows, err := d.repo.Query(ctx, d.repo.Dialect().LimitOne(d.table))
	if err != nil {
		return false, err
	}
	defer rows.Close()
	has := rows.Next()
	return has, rows.Err()
}

// plan prepares the type state of a column the destination will create.
func (d *Destination) plan(c batch.Column) *column {
	col := &column{name: c.Name, est: schema.NewEstimator(c.Type)}
	if decl, ok := d.override(c.Name); ok {
		col.sqlType = decl
		col.declared = schema.ParseSQLType(decl)
		col.est = schema.NewEstimator(col.declared)
		col.fixed = true
	}
	return col
}

func (d *Destination) override(name string) (string, bool) {
	for k, v := range d.cfg.TypeOverrides {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// create issues CREATE TABLE with the types recommended after the first
// batch. All-null columns become a one-character string.
func (d *Destination) create(ctx context.Context, b *batch.Batch, l pipeline.Listener) error {
	def := ddl.TableDef{FQN: d.table}
	for _, c := range b.Columns {
		col := d.cols[key(c.Name)]
		if !col.fixed {
			col.declared = col.est.Recommended()
			if col.declared.IsUnknown() {
				col.declared = schema.String(1)
			}
		}
		def.Columns = append(def.Columns, ddl.ColumnDef{
			Name:     col.name,
			Type:     col.declared,
			SQLType:  col.sqlType,
			Nullable: true,
		})
	}
	stmt, err := ddl.BuildCreateTableSQL(d.repo.Dialect(), def)
	if err != nil {
		return pipeline.Configurationf("upload: %v", err)
	}
	if err := d.repo.Exec(ctx, stmt); err != nil {
		return pipeline.Transport("upload: create "+d.table, err)
	}
	d.created, d.pendingCreate = true, false
	pipeline.Infof(l, "upload: created table %s (%d column(s))", d.table, len(def.Columns))
	return d.begin(ctx)
}

func (d *Destination) begin(ctx context.Context) error {
	tx, err := d.repo.Begin(ctx)
	if err != nil {
		return pipeline.Transport("upload: begin", err)
	}
	d.tx = tx
	return nil
}

// refresh feeds the batch into each column's estimator. Columns are
// independent, so they are scanned in parallel.
func (d *Destination) refresh(ctx context.Context, b *batch.Batch) error {
	if b.Len() == 0 {
		return nil
	}
	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, c := range b.Columns {
		col := d.cols[key(c.Name)]
		if col == nil || col.fixed {
			continue
		}
		g.Go(func() error {
			for _, row := range b.Rows {
				col.est.Adjust(row[i])
			}
			return nil
		})
	}
	return g.Wait()
}

// widen alters every column whose recommendation no longer fits its
// declared type. Types only ever grow.
func (d *Destination) widen(ctx context.Context, b *batch.Batch, l pipeline.Listener) error {
	if !d.cfg.SchemaEvolution {
		return nil
	}
	dialect := d.repo.Dialect()
	for _, c := range b.Columns {
		col := d.cols[key(c.Name)]
		if col == nil || col.fixed {
			continue
		}
		rec := col.est.Recommended()
		if rec.IsUnknown() || col.declared.Covers(rec) {
			continue
		}
		next := schema.Union(col.declared, rec)
		if dialect.ColumnType(next) == dialect.ColumnType(col.declared) {
			col.declared = next
			continue
		}
		if stmt := dialect.WidenColumn(d.table, col.name, next); stmt != "" {
			if err := d.tx.Exec(ctx, stmt); err != nil {
				return pipeline.SchemaWiden(col.name, err)
			}
		}
		pipeline.Infof(l, "upload: widened %s.%s from %s to %s", d.table, col.name, col.declared, next)
		col.declared = next
	}
	return nil
}

// coerce converts values to the declared column types in place. A value
// that does not fit is a widening failure, never a truncation.
func (d *Destination) coerce(b *batch.Batch) error {
	for i, c := range b.Columns {
		col := d.cols[key(c.Name)]
		if col.fixed && col.declared.IsUnknown() {
			continue
		}
		for _, row := range b.Rows {
			v, err := schema.Coerce(row[i], col.declared)
			if err != nil {
				if !d.cfg.SchemaEvolution {
					err = fmt.Errorf("schema evolution is disabled: %w", err)
				}
				return pipeline.SchemaWiden(col.name, err)
			}
			row[i] = v
		}
	}
	return nil
}

func (d *Destination) columnNames(b *batch.Batch) []string {
	if len(d.names) == len(b.Columns) {
		return d.names
	}
	d.names = make([]string, len(b.Columns))
	for i, c := range b.Columns {
		d.names[i] = d.cols[key(c.Name)].name
	}
	return d.names
}

// Finish commits on success and then adds the deferred primary key. On
// failure it rolls back and drops a table it created, if configured.
func (d *Destination) Finish(ctx context.Context, failure error, l pipeline.Listener) error {
	switch d.state {
	case stateCommitted, stateRolledBack:
		return pipeline.InvalidStatef("upload: finish after %s", d.state)
	case stateNotOpened:
		d.state = stateRolledBack
		if failure == nil {
			d.state = stateCommitted
		}
		return nil
	}
	if failure != nil {
		return d.rollback(ctx, l, failure.Error())
	}

	if err := d.tx.Commit(ctx); err != nil {
		err = pipeline.Transport("upload: commit", err)
		return errors.Join(err, d.rollback(ctx, l, err.Error()))
	}
	d.tx = nil
	d.state = stateCommitted
	d.committed = d.written
	metrics.RecordRow(d.job, "inserted", d.committed)
	pipeline.Infof(l, "upload: committed %d row(s) into %s", d.committed, d.table)
	return d.addPrimaryKey(ctx, l)
}

func (d *Destination) addPrimaryKey(ctx context.Context, l pipeline.Listener) error {
	if len(d.pk) == 0 {
		return nil
	}
	if !d.created {
		pipeline.Warnf(l, "upload: %s existed before this run; primary key (%s) not added", d.table, strings.Join(d.pk, ", "))
		return nil
	}
	defs := make([]ddl.ColumnDef, len(d.pk))
	for i, name := range d.pk {
		col := d.cols[key(name)]
		defs[i] = ddl.ColumnDef{Name: col.name, Type: col.declared, SQLType: col.sqlType, PrimaryKey: true}
	}
	for _, stmt := range d.repo.Dialect().AddPrimaryKey(d.table, defs) {
		if err := d.repo.Exec(ctx, stmt); err != nil {
			return pipeline.Transport(fmt.Sprintf("upload: %d row(s) committed but primary key failed", d.committed), err)
		}
	}
	pipeline.Infof(l, "upload: primary key (%s) added to %s", strings.Join(d.pk, ", "), d.table)
	return nil
}

// Abort rolls back after cancellation.
func (d *Destination) Abort(ctx context.Context, l pipeline.Listener) error {
	switch d.state {
	case stateCommitted, stateRolledBack:
		return pipeline.InvalidStatef("upload: abort after %s", d.state)
	case stateNotOpened:
		d.state = stateRolledBack
		return nil
	}
	return d.rollback(ctx, l, "cancelled")
}

func (d *Destination) rollback(ctx context.Context, l pipeline.Listener, reason string) error {
	var errs []error
	if d.tx != nil {
		if err := d.tx.Rollback(ctx); err != nil {
			errs = append(errs, pipeline.Transport("upload: rollback", err))
		}
		d.tx = nil
	}
	d.state = stateRolledBack
	d.written = 0
	pipeline.Warnf(l, "upload: rolled back %s: %s", d.table, reason)
	if d.created && d.cfg.DropOnFailure {
		if err := d.repo.Exec(ctx, d.repo.Dialect().DropTable(d.table)); err != nil {
			errs = append(errs, pipeline.Transport("upload: drop "+d.table, err))
		} else {
			pipeline.Warnf(l, "upload: dropped table %s created by this run", d.table)
		}
	}
	return errors.Join(errs...)
}

// RowsCommitted is the number of rows durably committed.
func (d *Destination) RowsCommitted() int64 { return d.committed }

// Table is the resolved target table, empty before the first batch.
func (d *Destination) Table() string { return d.table }

// Dispose rolls back a transaction left open by a run that never finished.
func (d *Destination) Dispose(l pipeline.Listener) {
	if d.tx != nil {
		_ = d.rollback(context.Background(), l, "disposed before finish")
	}
}

func key(name string) string { return strings.ToLower(name) }
