// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package store

import (
	"context"
	"fmt"
)

// snapshotLimit caps the rows returned per table by Snapshot.
const snapshotLimit = 20

// TableSnapshot holds the row count and most recent rows of one table.
type TableSnapshot struct {
	Count int              `json:"count"`
	Rows  []map[string]any `json:"rows"`
}

// Snapshot returns a live view of every table: total row count plus the
// most recent rows. Intended for debugging and demo dashboards only.
func (s *Store) Snapshot(ctx context.Context) (map[string]TableSnapshot, error) {
	tables := []string{"workflows", "runs", "steps", "step_results", "orders"}

	snapshot := make(map[string]TableSnapshot, len(tables))
	for _, table := range tables {
		var count int
		if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count); err != nil {
			return nil, fmt.Errorf("failed to count %s: %w", table, err)
		}

		rows, err := s.db.QueryContext(ctx,
			fmt.Sprintf("SELECT * FROM %s ORDER BY rowid DESC LIMIT %d", table, snapshotLimit),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to query %s: %w", table, err)
		}

		columns, err := rows.Columns()
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to read %s columns: %w", table, err)
		}

		ts := TableSnapshot{Count: count, Rows: []map[string]any{}}
		for rows.Next() {
			values := make([]any, len(columns))
			ptrs := make([]any, len(columns))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan %s row: %w", table, err)
			}

			row := make(map[string]any, len(columns))
			for i, col := range columns {
				if b, ok := values[i].([]byte); ok {
					row[col] = string(b)
				} else {
					row[col] = values[i]
				}
			}
			ts.Rows = append(ts.Rows, row)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("failed to iterate %s: %w", table, err)
		}

		snapshot[table] = ts
	}

	return snapshot, nil
}
