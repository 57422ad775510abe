package querybuilder

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFullStatement(t *testing.T) {
	q, err := Parse(`select id, App from EVENTS where app = 'svc''1' and severity >= 2 and summary not contains "timeout" ` +
		`and event_type in ('error', 'warning') and id between 1 and 10 and trace_id is not null ` +
		`order by timestamp asc limit 20;`)
	require.NoError(t, err)

	assert.Equal(t, "events", q.Source)
	assert.Equal(t, []string{"id", "app"}, q.Columns)
	require.Len(t, q.Conditions, 6)
	assert.Equal(t, Condition{Field: "app", Operator: "=", Value: "svc'1"}, q.Conditions[0])
	assert.Equal(t, Condition{Field: "severity", Operator: ">=", Value: float64(2)}, q.Conditions[1])
	assert.Equal(t, Condition{Field: "summary", Operator: "not_contains", Value: "timeout"}, q.Conditions[2])
	assert.Equal(t, Condition{Field: "event_type", Operator: "in", Values: []interface{}{"error", "warning"}}, q.Conditions[3])
	assert.Equal(t, Condition{Field: "id", Operator: "between", Values: []interface{}{float64(1), float64(10)}}, q.Conditions[4])
	assert.Equal(t, Condition{Field: "trace_id", Operator: "is_not_null"}, q.Conditions[5])
	assert.Equal(t, "timestamp", q.OrderBy)
	require.NotNil(t, q.Desc)
	assert.False(t, *q.Desc)
	assert.Equal(t, 20, q.Limit)
}

func TestParseStar(t *testing.T) {
	q, err := Parse("SELECT * FROM alerts")
	require.NoError(t, err)
	assert.Equal(t, []string{"*"}, q.Columns)
	assert.Equal(t, "alerts", q.Source)
	assert.Nil(t, q.Desc)
	assert.Empty(t, q.Conditions)
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name  string
		query string
		want  string
	}{
		{"missing select", "FROM events", "expected SELECT"},
		{"missing from", "SELECT * events", "expected FROM"},
		{"dangling where", "SELECT * FROM events WHERE", "expected identifier"},
		{"missing operator", "SELECT * FROM events WHERE app 'x'", "expected operator"},
		{"function call", "SELECT count(*) FROM events", "expected FROM"},
		{"or", "SELECT * FROM events WHERE app = 'a' OR app = 'b'", "unexpected token"},
		{"unterminated", "SELECT * FROM events WHERE app = 'a", "unterminated string"},
		{"bad limit", "SELECT * FROM events LIMIT x", "non-negative integer limit"},
		{"negative limit", "SELECT * FROM events LIMIT -1", "non-negative integer limit"},
		{"trailing garbage", "SELECT * FROM events; SELECT 1", "unexpected token"},
		{"bad char", "SELECT * FROM events WHERE app = `x`", "unexpected character"},
		{"not without op", "SELECT * FROM events WHERE app NOT = 'x'", "after NOT"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.query)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseThenBuild(t *testing.T) {
	q, err := Parse("SELECT rule_name, triggered_at FROM alerts WHERE status = 'active' ORDER BY triggered_at DESC LIMIT 5")
	require.NoError(t, err)

	c, err := Build(q, 100)
	require.NoError(t, err)
	assert.Equal(t, "SELECT rule_name, triggered_at FROM alerts WHERE status = ? ORDER BY triggered_at DESC LIMIT ?", c.SQL)
	assert.Equal(t, []interface{}{"active", 5}, c.Args)
}
