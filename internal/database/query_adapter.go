package database

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/your-username/agent-observability/backend/internal/models"
)

// Select runs an already validated, parameterized read statement and returns
// each row as a column->value map. TEXT columns holding JSON documents are
// decoded so callers receive structured payloads and tags.
func (db *DB) Select(ctx context.Context, query string, args ...any) ([]map[string]interface{}, error) {
	rows, err := db.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &models.StorageError{Op: "select", Err: err}
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, &models.StorageError{Op: "select columns", Err: err}
	}

	results := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, &models.StorageError{Op: "select scan", Err: err}
		}

		row := make(map[string]interface{}, len(columns))
		for i, col := range columns {
			row[col] = normalizeValue(col, values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, &models.StorageError{Op: "select", Err: err}
	}
	return results, nil
}

var jsonColumns = map[string]bool{
	"payload":         true,
	"tags":            true,
	"condition_value": true,
}

func normalizeValue(column string, v interface{}) interface{} {
	switch val := v.(type) {
	case []byte:
		v = string(val)
	}

	s, ok := v.(string)
	if !ok || !jsonColumns[strings.ToLower(column)] {
		return v
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(s), &decoded); err != nil {
		return s
	}
	return decoded
}
