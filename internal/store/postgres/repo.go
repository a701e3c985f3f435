package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"gpetl/internal/store"
)

// Repo implements store.Repository for Postgres.
//
// Idempotent writes use ON CONFLICT clauses, and the validation procedures
// are installed as server-side SQL functions so the rule sets run next to
// the data.
type Repo struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

func init() {
	store.Register("postgres", New)
}

// New opens a pooled Postgres repository.
func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	pool, err := pgxpool.New(ctx, cfg.DSN)
	if err != nil {
		return nil, err
	}
	return &Repo{pool: pool, now: time.Now}, nil
}

// Close closes the connection pool.
func (r *Repo) Close() {
	r.pool.Close()
}

// EnsureTables creates the given tables if they do not exist.
func (r *Repo) EnsureTables(ctx context.Context, tables []store.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// EnsureProcedures installs the validation functions with CREATE OR REPLACE,
// so re-running setup upgrades the rule sets in place.
func (r *Repo) EnsureProcedures(ctx context.Context) error {
	for name, ddl := range validatorDDL {
		if _, err := r.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create function %s: %w", name, err)
		}
	}
	return nil
}

// InsertRows appends rows with a single multi-values INSERT.
func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	sql, args, err := buildInsertSQL(table, columns, rows, nil, nil)
	if err != nil {
		return 0, err
	}
	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}

// UpsertRows writes rows idempotently against conflictColumns.
func (r *Repo) UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("upsert into %s: conflict columns are required", table)
	}
	sql, args, err := buildInsertSQL(table, columns, rows, conflictColumns, updateColumns)
	if err != nil {
		return 0, err
	}
	cmd, err := r.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}

// SelectRows reads the named columns with optional equality filters.
func (r *Repo) SelectRows(ctx context.Context, table string, columns []string, where []store.Filter, orderBy string) ([][]any, error) {
	sql, args, err := buildSelectSQL(table, columns, where, orderBy)
	if err != nil {
		return nil, err
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", table, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		vals := make([]any, len(columns))
		dests := make([]any, len(columns))
		for i := range vals {
			dests[i] = &vals[i]
		}
		if err := rows.Scan(dests...); err != nil {
			return nil, fmt.Errorf("select from %s: scan: %w", table, err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select from %s: rows: %w", table, err)
	}
	return out, nil
}

// DeleteAll removes every row from a table.
func (r *Repo) DeleteAll(ctx context.Context, table string) (int64, error) {
	cmd, err := r.pool.Exec(ctx, "DELETE FROM "+pgIdent(table)+";")
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return cmd.RowsAffected(), nil
}

// InvokeProcedure runs SELECT * FROM <name>() and returns the finding rows
// keyed by the function's declared output columns.
func (r *Repo) InvokeProcedure(ctx context.Context, name string) ([]store.Row, error) {
	if _, ok := validatorDDL[name]; !ok {
		return nil, fmt.Errorf("invoke %s: unknown procedure", name)
	}

	rows, err := r.pool.Query(ctx, "SELECT * FROM "+pgIdent(name)+"();")
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()

	var out []store.Row
	for rows.Next() {
		vals, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("invoke %s: values: %w", name, err)
		}
		row := make(store.Row, len(fields))
		for i, f := range fields {
			row[string(f.Name)] = vals[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invoke %s: rows: %w", name, err)
	}
	return out, nil
}

// AcquireLease takes the advisory job lease via an atomic upsert. The update
// path only fires when the existing lease is expired or already held by the
// same holder, so a losing contender sees zero rows affected.
func (r *Repo) AcquireLease(ctx context.Context, job, holder string, ttl time.Duration) (bool, error) {
	now := r.now().UTC()

	const sql = `
INSERT INTO job_leases (job, holder, expires_at) VALUES ($1, $2, $3)
ON CONFLICT (job) DO UPDATE
   SET holder = EXCLUDED.holder, expires_at = EXCLUDED.expires_at
 WHERE job_leases.holder = EXCLUDED.holder OR job_leases.expires_at < $4;`

	cmd, err := r.pool.Exec(ctx, sql, job, holder, now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", job, err)
	}
	return cmd.RowsAffected() == 1, nil
}

// ReleaseLease drops the lease if this holder still owns it. Releasing a
// lease that expired and was taken over is a no-op, not an error.
func (r *Repo) ReleaseLease(ctx context.Context, job, holder string) error {
	_, err := r.pool.Exec(ctx,
		"DELETE FROM job_leases WHERE job = $1 AND holder = $2;", job, holder)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", job, err)
	}
	return nil
}

/* ---------- SQL builders ---------- */

// The builders are pure and deterministic so placeholder numbering and
// ON CONFLICT behavior can be unit tested without a database.

func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (string, []any, error) {
	if table == "" || len(columns) == 0 {
		return "", nil, fmt.Errorf("buildInsertSQL: table and columns are required")
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(pgIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
	p := 1
	for i, row := range rows {
		if len(row) != len(columns) {
			return "", nil, fmt.Errorf("buildInsertSQL: row %d has %d values, want %d", i, len(row), len(columns))
		}
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("(")
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			args = append(args, row[j])
			p++
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT (")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(pgIdent(c))
		}
		b.WriteString(")")

		if len(updateColumns) == 0 {
			b.WriteString(" DO NOTHING")
		} else {
			b.WriteString(" DO UPDATE SET ")
			for i, c := range updateColumns {
				if i > 0 {
					b.WriteString(", ")
				}
				b.WriteString(pgIdent(c))
				b.WriteString(" = EXCLUDED.")
				b.WriteString(pgIdent(c))
			}
		}
	}

	b.WriteString(";")
	return b.String(), args, nil
}

func buildSelectSQL(table string, columns []string, where []store.Filter, orderBy string) (string, []any, error) {
	if table == "" || len(columns) == 0 {
		return "", nil, fmt.Errorf("buildSelectSQL: table and columns are required")
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(pgIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(pgIdent(table))

	var args []any
	for i, f := range where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(pgIdent(f.Column))
		fmt.Fprintf(&b, " = $%d", i+1)
		args = append(args, f.Value)
	}

	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(pgIdent(orderBy))
	}

	b.WriteString(";")
	return b.String(), args, nil
}

func buildCreateSQL(t store.TableSpec) (string, error) {
	if strings.TrimSpace(t.Name) == "" {
		return "", fmt.Errorf("buildCreateSQL: table name is empty")
	}

	cols := make([]string, 0, len(t.Columns)+1)
	if t.PrimaryKey != nil {
		if t.PrimaryKey.Name == "" {
			return "", fmt.Errorf("buildCreateSQL: table %s: primary key name is empty", t.Name)
		}
		cols = append(cols, pgIdent(t.PrimaryKey.Name)+" BIGSERIAL PRIMARY KEY")
	}

	for _, c := range t.Columns {
		def, err := buildColumnDef(c)
		if err != nil {
			return "", fmt.Errorf("buildCreateSQL: table %s: %w", t.Name, err)
		}
		cols = append(cols, def)
	}
	if len(cols) == 0 {
		return "", fmt.Errorf("buildCreateSQL: table %s: no columns", t.Name)
	}

	for _, c := range t.Constraints {
		switch strings.ToLower(c.Kind) {
		case "unique":
			if len(c.Columns) == 0 {
				return "", fmt.Errorf("buildCreateSQL: table %s: unique constraint requires columns", t.Name)
			}
			quoted := make([]string, len(c.Columns))
			for i, col := range c.Columns {
				quoted[i] = pgIdent(col)
			}
			cols = append(cols, "UNIQUE ("+strings.Join(quoted, ", ")+")")
		default:
			return "", fmt.Errorf("buildCreateSQL: table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);",
		pgIdent(t.Name), strings.Join(cols, ", ")), nil
}

func buildColumnDef(c store.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, err := pgType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", name, err)
	}

	var b strings.Builder
	b.WriteString(pgIdent(name))
	b.WriteString(" ")
	b.WriteString(typ)
	if !c.Nullable {
		b.WriteString(" NOT NULL")
	}
	if ref := strings.TrimSpace(c.References); ref != "" {
		b.WriteString(" REFERENCES ")
		b.WriteString(ref)
	}
	return b.String(), nil
}

func pgType(logical string) (string, error) {
	switch logical {
	case store.ColText:
		return "TEXT", nil
	case store.ColBigInt:
		return "BIGINT", nil
	case store.ColDouble:
		return "DOUBLE PRECISION", nil
	case store.ColBool:
		return "BOOLEAN", nil
	case store.ColDate:
		return "DATE", nil
	case store.ColTimestamp:
		return "TIMESTAMPTZ", nil
	case store.ColJSON:
		return "JSONB", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

func pgIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}
