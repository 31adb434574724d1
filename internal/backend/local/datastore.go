package local

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"time"

	"wayleave/internal/backend"

	"github.com/google/uuid"
)

// normalize round-trips row through JSON so in-memory rows look exactly like
// rows loaded from the kv store.
func normalize(row backend.Row) (backend.Row, error) {
	data, err := json.Marshal(row)
	if err != nil {
		return nil, err
	}
	var out backend.Row
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func normalizeValue(v any) any {
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return v
	}
	return out
}

func (b *Backend) Select(_ context.Context, table string, query backend.Query) ([]backend.Row, error) {
	filters := make([]backend.Filter, len(query.Filters))
	for i, f := range query.Filters {
		filters[i] = backend.Filter{Column: f.Column, Value: normalizeValue(f.Value)}
	}

	b.mu.Lock()
	var rows []backend.Row
	for _, row := range b.tables[table] {
		if matches(row, filters) {
			rows = append(rows, maps.Clone(row))
		}
	}
	b.mu.Unlock()

	if query.OrderBy != "" {
		slices.SortStableFunc(rows, func(x, y backend.Row) int {
			c := compareValues(x[query.OrderBy], y[query.OrderBy])
			if query.Descending {
				return -c
			}
			return c
		})
	}
	if rows == nil {
		rows = []backend.Row{}
	}
	return rows, nil
}

func (b *Backend) Insert(ctx context.Context, table string, row backend.Row) (backend.Row, error) {
	row = maps.Clone(row)
	if id, _ := row["id"].(string); id == "" {
		row["id"] = uuid.NewString()
	}
	if row["created_at"] == nil {
		row["created_at"] = b.now().UTC()
	}
	stored, err := normalize(row)
	if err != nil {
		return nil, fmt.Errorf("failed to encode row: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.indexOf(table, stored["id"]) >= 0 {
		return nil, fmt.Errorf("duplicate key value violates unique constraint \"%s_pkey\"", table)
	}
	b.tables[table] = append(b.tables[table], stored)
	if err := b.saveJSON(ctx, tableKey(table), b.tables[table]); err != nil {
		b.tables[table] = b.tables[table][:len(b.tables[table])-1]
		return nil, err
	}
	return maps.Clone(stored), nil
}

func (b *Backend) Update(ctx context.Context, table, id string, patch backend.Row) (backend.Row, error) {
	patch, err := normalize(patch)
	if err != nil {
		return nil, fmt.Errorf("failed to encode patch: %w", err)
	}
	delete(patch, "id")

	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(table, id)
	if i < 0 {
		return nil, backend.ErrNotFound
	}
	previous := b.tables[table][i]
	updated := maps.Clone(previous)
	maps.Copy(updated, patch)
	b.tables[table][i] = updated
	if err := b.saveJSON(ctx, tableKey(table), b.tables[table]); err != nil {
		b.tables[table][i] = previous
		return nil, err
	}
	return maps.Clone(updated), nil
}

func (b *Backend) Delete(ctx context.Context, table, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	i := b.indexOf(table, id)
	if i < 0 {
		return backend.ErrNotFound
	}
	previous := b.tables[table]
	b.tables[table] = slices.Delete(slices.Clone(previous), i, i+1)
	if err := b.saveJSON(ctx, tableKey(table), b.tables[table]); err != nil {
		b.tables[table] = previous
		return err
	}
	return nil
}

// indexOf must be called with b.mu held.
func (b *Backend) indexOf(table string, id any) int {
	return slices.IndexFunc(b.tables[table], func(row backend.Row) bool {
		return row["id"] == id
	})
}

func matches(row backend.Row, filters []backend.Filter) bool {
	for _, f := range filters {
		if fmt.Sprint(row[f.Column]) != fmt.Sprint(f.Value) {
			return false
		}
	}
	return true
}

// compareValues orders timestamps chronologically and everything else by its
// text form. Nil sorts first.
func compareValues(x, y any) int {
	switch {
	case x == nil && y == nil:
		return 0
	case x == nil:
		return -1
	case y == nil:
		return 1
	}
	xs, ys := fmt.Sprint(x), fmt.Sprint(y)
	xt, xerr := time.Parse(time.RFC3339Nano, xs)
	yt, yerr := time.Parse(time.RFC3339Nano, ys)
	if xerr == nil && yerr == nil {
		return xt.Compare(yt)
	}
	if xf, ok := x.(float64); ok {
		if yf, ok := y.(float64); ok {
			return cmp.Compare(xf, yf)
		}
	}
	return cmp.Compare(xs, ys)
}
