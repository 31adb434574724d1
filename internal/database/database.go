// Package database is the Postgres implementation of the remote record store
// and identity service.
package database

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"

	"wayleave/internal/backend"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolation = "23505"

type Database struct {
	Pool *pgxpool.Pool
}

var _ backend.DataStore = (*Database)(nil)

func NewDatabase() Database {
	return Database{
		Pool: nil,
	}
}

func (db *Database) Connect(ctx context.Context, connString string) error {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return fmt.Errorf("unable to parse database configuration: %w", err)
	}

	db.Pool, err = pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return fmt.Errorf("unable to create database pool: %w", err)
	}

	return nil
}

func (db *Database) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

func (db *Database) Ping(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

func (db *Database) Select(ctx context.Context, table string, query backend.Query) ([]backend.Row, error) {
	sql, args := buildSelect(table, query)

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to select from %s: %w", table, err)
	}

	collected, err := pgx.CollectRows(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("database: failed to scan %s: %w", table, err)
	}

	out := make([]backend.Row, len(collected))
	for i, m := range collected {
		out[i] = backend.Row(m)
	}
	return out, nil
}

func (db *Database) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	sql, args := buildInsert(table, row)

	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to insert into %s: %w", table, err)
	}
	inserted, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		return nil, fmt.Errorf("database: failed to insert into %s: %w", table, err)
	}
	return backend.Row(inserted), nil
}

func (db *Database) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	patch = maps.Clone(patch)
	delete(patch, "id")
	if len(patch) == 0 {
		rows, err := db.Select(ctx, table, backend.Query{Filters: []backend.Filter{{Column: "id", Value: id}}})
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			return nil, backend.ErrNotFound
		}
		return rows[0], nil
	}

	sql, args := buildUpdate(table, id, patch)
	rows, err := db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("database: failed to update %s (id=%s): %w", table, id, err)
	}
	updated, err := pgx.CollectExactlyOneRow(rows, pgx.RowToMap)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, backend.ErrNotFound
		}
		return nil, fmt.Errorf("database: failed to update %s (id=%s): %w", table, id, err)
	}
	return backend.Row(updated), nil
}

func (db *Database) Delete(ctx context.Context, table, id string) error {
	tag, err := db.Pool.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, pgx.Identifier{table}.Sanitize()), id)
	if err != nil {
		return fmt.Errorf("database: failed to delete from %s (id=%s): %w", table, id, err)
	}
	if tag.RowsAffected() == 0 {
		return backend.ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

func buildSelect(table string, q backend.Query) (string, []any) {
	var query strings.Builder
	query.WriteString(fmt.Sprintf(`SELECT * FROM %s WHERE 1=1`, pgx.Identifier{table}.Sanitize()))
	var args []any
	argNum := 1

	for _, f := range q.Filters {
		col := pgx.Identifier{f.Column}.Sanitize()
		if f.Value == nil {
			query.WriteString(fmt.Sprintf(" AND %s IS NULL", col))
			continue
		}
		query.WriteString(fmt.Sprintf(" AND %s = $%d", col, argNum))
		args = append(args, f.Value)
		argNum++
	}

	if q.OrderBy != "" {
		query.WriteString(" ORDER BY " + pgx.Identifier{q.OrderBy}.Sanitize())
		if q.Descending {
			query.WriteString(" DESC")
		} else {
			query.WriteString(" ASC")
		}
	}

	return query.String(), args
}

// sortedColumns keeps generated statements stable.
func sortedColumns(row backend.Row) []string {
	return slices.Sorted(maps.Keys(row))
}

func buildInsert(table string, row backend.Row) (string, []any) {
	cols := sortedColumns(row)
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}

	sql := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) RETURNING *`,
		pgx.Identifier{table}.Sanitize(), strings.Join(names, ", "), strings.Join(placeholders, ", "))
	return sql, args
}

func buildUpdate(table, id string, patch backend.Row) (string, []any) {
	cols := sortedColumns(patch)
	sets := make([]string, len(cols))
	args := make([]any, 0, len(cols)+1)
	for i, c := range cols {
		sets[i] = fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), i+1)
		args = append(args, patch[c])
	}
	args = append(args, id)

	sql := fmt.Sprintf(`UPDATE %s SET %s WHERE id = $%d RETURNING *`,
		pgx.Identifier{table}.Sanitize(), strings.Join(sets, ", "), len(args))
	return sql, args
}
