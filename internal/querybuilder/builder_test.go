package querybuilder

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDefaults(t *testing.T) {
	c, err := Build(&Query{}, 500)
	require.NoError(t, err)

	assert.Equal(t, "events", c.Source)
	assert.Contains(t, c.SQL, "FROM events")
	assert.Contains(t, c.SQL, "ORDER BY timestamp DESC LIMIT ?")
	assert.Equal(t, []interface{}{100}, c.Args)
	assert.ElementsMatch(t, []string{"timestamp", "created_at"}, c.TimeFields)
}

func TestBuildConditions(t *testing.T) {
	asc := false
	q := &Query{
		Source:  "events",
		Columns: []string{"id", "app", "APP", "timestamp"},
		Conditions: []Condition{
			{Field: "app", Operator: "=", Value: "svc1"},
			{Field: "severity", Operator: "greater_equal", Value: float64(2)},
			{Field: "summary", Operator: "contains", Value: "50%_off"},
			{Field: "event_type", Operator: "in", Values: []interface{}{"error", "warning"}},
			{Field: "timestamp", Operator: "between", Values: []interface{}{"2026-01-01T00:00:00Z", float64(1767312000000)}},
			{Field: "trace_id", Operator: "is_not_null"},
		},
		OrderBy: "id",
		Desc:    &asc,
		Limit:   5000,
	}

	c, err := Build(q, 1000)
	require.NoError(t, err)

	assert.Equal(t,
		`SELECT id, app, timestamp FROM events WHERE app = ? AND severity >= ? AND summary LIKE ? ESCAPE '\' `+
			`AND event_type IN (?, ?) AND timestamp BETWEEN ? AND ? AND trace_id IS NOT NULL ORDER BY id ASC LIMIT ?`,
		c.SQL)

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).UnixMilli()
	assert.Equal(t, []interface{}{
		"svc1", int64(2), `%50\%\_off%`, "error", "warning", start, int64(1767312000000), 1000,
	}, c.Args)
	assert.Equal(t, []string{"timestamp"}, c.TimeFields)
}

func TestBuildRejects(t *testing.T) {
	tests := []struct {
		name string
		q    Query
		want string
	}{
		{"unknown source", Query{Source: "sqlite_master"}, "unknown source"},
		{"unknown column", Query{Columns: []string{"password"}}, "unknown field"},
		{"injected column", Query{Columns: []string{"id; DROP TABLE events"}}, "unknown field"},
		{"unknown filter field", Query{Conditions: []Condition{{Field: "nope", Operator: "=", Value: "x"}}}, "unknown field in filter"},
		{"bad operator", Query{Conditions: []Condition{{Field: "app", Operator: "~", Value: "x"}}}, "invalid operator"},
		{"missing value", Query{Conditions: []Condition{{Field: "app", Operator: "="}}}, "requires a value"},
		{"fractional int", Query{Conditions: []Condition{{Field: "severity", Operator: "=", Value: 1.5}}}, "expects an integer"},
		{"bad time", Query{Conditions: []Condition{{Field: "timestamp", Operator: ">", Value: "soon"}}}, "invalid time"},
		{"between arity", Query{Conditions: []Condition{{Field: "id", Operator: "between", Values: []interface{}{float64(1)}}}}, "exactly 2 values"},
		{"empty in", Query{Conditions: []Condition{{Field: "id", Operator: "in"}}}, "at least 1 value"},
		{"unknown order", Query{OrderBy: "random()"}, "unknown field in order by"},
		{"traces column on alerts", Query{Source: "alerts", Columns: []string{"operation_name"}}, "unknown field"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(&tt.q, 100)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestAvailableFields(t *testing.T) {
	fields, err := AvailableFields("Traces")
	require.NoError(t, err)
	assert.Equal(t, Field{Name: "trace_id", Type: TypeString}, fields[0])

	_, err = AvailableFields("logs")
	assert.Error(t, err)
}
