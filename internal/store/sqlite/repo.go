package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"gpetl/internal/store"
)

// Repo implements store.Repository for SQLite.
//
// Key design points vs Postgres:
//   - SQLite has no TIMESTAMPTZ or DATE types; timestamps are stored as
//     fixed-width UTC strings so string comparison orders correctly, and
//     dates as "2006-01-02" text.
//   - There are no server-side functions, so the validation procedures are
//     implemented as built-in queries. EnsureProcedures is a no-op.
type Repo struct {
	db  *sql.DB
	now func() time.Time
}

func init() {
	store.Register("sqlite", New)
}

func New(ctx context.Context, cfg store.Config) (store.Repository, error) {
	db, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Repo{db: db, now: time.Now}, nil
}

func (r *Repo) Close() { _ = r.db.Close() }

func (r *Repo) EnsureTables(ctx context.Context, tables []store.TableSpec) error {
	for _, t := range tables {
		ddl, err := buildCreateSQL(t)
		if err != nil {
			return err
		}
		if _, err := r.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create table %s: %w", t.Name, err)
		}
	}
	return nil
}

// EnsureProcedures is a no-op: the validation procedures are built in.
func (r *Repo) EnsureProcedures(ctx context.Context) error { return nil }

func (r *Repo) InsertRows(ctx context.Context, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	q, args, err := buildInsertSQL(table, columns, rows, nil, nil)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("insert into %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (r *Repo) UpsertRows(ctx context.Context, table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if len(conflictColumns) == 0 {
		return 0, fmt.Errorf("upsert into %s: conflict columns are required", table)
	}
	q, args, err := buildInsertSQL(table, columns, rows, conflictColumns, updateColumns)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("upsert into %s: %w", table, err)
	}
	return res.RowsAffected()
}

func (r *Repo) SelectRows(ctx context.Context, table string, columns []string, where []store.Filter, orderBy string) ([][]any, error) {
	q, args, err := buildSelectSQL(table, columns, where, orderBy)
	if err != nil {
		return nil, err
	}

	rows, err := r.db.QueryContext(ctx, q, args...)
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

func (r *Repo) DeleteAll(ctx context.Context, table string) (int64, error) {
	res, err := r.db.ExecContext(ctx, "DELETE FROM "+sqlIdent(table)+";")
	if err != nil {
		return 0, fmt.Errorf("delete from %s: %w", table, err)
	}
	return res.RowsAffected()
}

// InvokeProcedure runs the built-in query for a validation rule set. Every
// built-in returns one (validation_rule, validation_type, is_valid,
// error_message, record_count) row per rule, matching the Postgres
// function shape. is_valid comes back as an INTEGER and is converted to
// bool so callers see the same types from both backends.
func (r *Repo) InvokeProcedure(ctx context.Context, name string) ([]store.Row, error) {
	q, ok := validatorQueries[name]
	if !ok {
		return nil, fmt.Errorf("invoke %s: unknown procedure", name)
	}

	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("invoke %s: %w", name, err)
	}
	defer rows.Close()

	var out []store.Row
	for rows.Next() {
		var (
			rule, vtype string
			valid       int64
			errMsg      sql.NullString
			count       int64
		)
		if err := rows.Scan(&rule, &vtype, &valid, &errMsg, &count); err != nil {
			return nil, fmt.Errorf("invoke %s: scan: %w", name, err)
		}
		var msg any
		if errMsg.Valid {
			msg = errMsg.String
		}
		out = append(out, store.Row{
			store.FindingRule:    rule,
			store.FindingType:    vtype,
			store.FindingIsValid: valid != 0,
			store.FindingError:   msg,
			store.FindingCount:   count,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("invoke %s: rows: %w", name, err)
	}
	return out, nil
}

// AcquireLease mirrors the Postgres lease upsert. expires_at strings are
// fixed width, so the string comparison in the WHERE clause is a correct
// time comparison.
func (r *Repo) AcquireLease(ctx context.Context, job, holder string, ttl time.Duration) (bool, error) {
	now := r.now().UTC()

	const q = `
INSERT INTO job_leases (job, holder, expires_at) VALUES (?, ?, ?)
ON CONFLICT(job) DO UPDATE
   SET holder = excluded.holder, expires_at = excluded.expires_at
 WHERE job_leases.holder = excluded.holder OR job_leases.expires_at < ?;`

	res, err := r.db.ExecContext(ctx, q,
		job, holder, formatTime(now.Add(ttl)), formatTime(now))
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", job, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", job, err)
	}
	return n == 1, nil
}

func (r *Repo) ReleaseLease(ctx context.Context, job, holder string) error {
	_, err := r.db.ExecContext(ctx,
		"DELETE FROM job_leases WHERE job = ? AND holder = ?;", job, holder)
	if err != nil {
		return fmt.Errorf("release lease %s: %w", job, err)
	}
	return nil
}

/* ---------- SQL builders ---------- */

func buildInsertSQL(table string, columns []string, rows [][]any, conflictColumns, updateColumns []string) (string, []any, error) {
	if table == "" || len(columns) == 0 {
		return "", nil, fmt.Errorf("buildInsertSQL: table and columns are required")
	}

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(sqlIdent(table))
	b.WriteString(" (")
	for i, c := range columns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(") VALUES ")

	args := make([]any, 0, len(rows)*len(columns))
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
			b.WriteString("?")
			args = append(args, normalizeArg(row[j]))
		}
		b.WriteString(")")
	}

	if len(conflictColumns) > 0 {
		b.WriteString(" ON CONFLICT(")
		for i, c := range conflictColumns {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(sqlIdent(c))
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
				b.WriteString(sqlIdent(c))
				b.WriteString(" = excluded.")
				b.WriteString(sqlIdent(c))
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
		b.WriteString(sqlIdent(c))
	}
	b.WriteString(" FROM ")
	b.WriteString(sqlIdent(table))

	var args []any
	for i, f := range where {
		if i == 0 {
			b.WriteString(" WHERE ")
		} else {
			b.WriteString(" AND ")
		}
		b.WriteString(sqlIdent(f.Column))
		b.WriteString(" = ?")
		args = append(args, normalizeArg(f.Value))
	}

	if orderBy != "" {
		b.WriteString(" ORDER BY ")
		b.WriteString(sqlIdent(orderBy))
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
		// INTEGER PRIMARY KEY aliases rowid, so ids auto-generate.
		cols = append(cols, sqlIdent(t.PrimaryKey.Name)+" INTEGER PRIMARY KEY")
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
				quoted[i] = sqlIdent(col)
			}
			cols = append(cols, "UNIQUE ("+strings.Join(quoted, ", ")+")")
		default:
			return "", fmt.Errorf("buildCreateSQL: table %s: unsupported constraint kind %q", t.Name, c.Kind)
		}
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s);",
		sqlIdent(t.Name), strings.Join(cols, ", ")), nil
}

func buildColumnDef(c store.ColumnSpec) (string, error) {
	name := strings.TrimSpace(c.Name)
	if name == "" {
		return "", fmt.Errorf("column name must be set")
	}
	typ, err := sqliteType(c.Type)
	if err != nil {
		return "", fmt.Errorf("column %s: %w", name, err)
	}

	var b strings.Builder
	b.WriteString(sqlIdent(name))
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

func sqliteType(logical string) (string, error) {
	switch logical {
	case store.ColText, store.ColDate, store.ColTimestamp, store.ColJSON:
		return "TEXT", nil
	case store.ColBigInt, store.ColBool:
		return "INTEGER", nil
	case store.ColDouble:
		return "REAL", nil
	default:
		return "", fmt.Errorf("unsupported column type %q", logical)
	}
}

func sqlIdent(id string) string {
	return `"` + strings.ReplaceAll(id, `"`, `""`) + `"`
}

// normalizeArg converts Go values to their SQLite text forms. time.Time goes
// through formatTime so every stored timestamp has the same width.
func normalizeArg(v any) any {
	switch t := v.(type) {
	case time.Time:
		return formatTime(t)
	default:
		return v
	}
}

// formatTime renders a UTC timestamp with a fixed-width nanosecond fraction.
// Unlike RFC3339Nano, the width never varies, so lexicographic order equals
// time order.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}

// parseTime parses timestamps read back from SQLite.
func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty time string")
	}

	layouts := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02 15:04:05.999999999Z07:00",
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if layout == "2006-01-02 15:04:05" {
			if ts, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
				return ts.UTC(), nil
			}
			continue
		}
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format: %q", s)
}
