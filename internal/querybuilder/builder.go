package querybuilder

import (
	"fmt"
	"strings"
	"time"

	"github.com/your-username/agent-observability/backend/internal/models"
)

const defaultLimit = 100

// Field types understood by the builder.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeTime   = "time"
	TypeJSON   = "json"
)

// Query is the structured form of a realtime read request.
type Query struct {
	Source     string      `json:"source"`
	Columns    []string    `json:"columns,omitempty"`
	Conditions []Condition `json:"conditions,omitempty"`
	OrderBy    string      `json:"order_by,omitempty"`
	Desc       *bool       `json:"desc,omitempty"`
	Limit      int         `json:"limit,omitempty"`
}

// Condition is one field/operator/value triple. Values is used by the
// list and range operators.
type Condition struct {
	Field    string        `json:"field"`
	Operator string        `json:"operator"`
	Value    interface{}   `json:"value,omitempty"`
	Values   []interface{} `json:"values,omitempty"`
}

// Compiled is a parameterized statement ready to run against the store.
type Compiled struct {
	SQL        string
	Args       []interface{}
	Source     string
	TimeFields []string
}

// Field describes one queryable column.
type Field struct {
	Name string `json:"name"`
	Type string `json:"type"`
}

type source struct {
	table        string
	fields       []Field
	defaultOrder string
}

func (s source) field(name string) (Field, bool) {
	for _, f := range s.fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

var sources = map[string]source{
	"events": {
		table:        "events",
		defaultOrder: "timestamp",
		fields: []Field{
			{Name: "id", Type: TypeInt},
			{Name: "timestamp", Type: TypeTime},
			{Name: "app", Type: TypeString},
			{Name: "session_id", Type: TypeString},
			{Name: "event_type", Type: TypeString},
			{Name: "summary", Type: TypeString},
			{Name: "payload", Type: TypeJSON},
			{Name: "trace_id", Type: TypeString},
			{Name: "span_id", Type: TypeString},
			{Name: "parent_span_id", Type: TypeString},
			{Name: "severity", Type: TypeInt},
			{Name: "tags", Type: TypeJSON},
			{Name: "created_at", Type: TypeTime},
		},
	},
	"traces": {
		table:        "traces",
		defaultOrder: "start_time",
		fields: []Field{
			{Name: "trace_id", Type: TypeString},
			{Name: "operation_name", Type: TypeString},
			{Name: "service_name", Type: TypeString},
			{Name: "start_time", Type: TypeTime},
			{Name: "end_time", Type: TypeTime},
			{Name: "duration", Type: TypeInt},
			{Name: "status", Type: TypeString},
			{Name: "tags", Type: TypeJSON},
		},
	},
	"alerts": {
		table:        "alerts",
		defaultOrder: "triggered_at",
		fields: []Field{
			{Name: "id", Type: TypeInt},
			{Name: "rule_name", Type: TypeString},
			{Name: "condition_type", Type: TypeString},
			{Name: "condition_value", Type: TypeJSON},
			{Name: "triggered_at", Type: TypeTime},
			{Name: "resolved_at", Type: TypeTime},
			{Name: "status", Type: TypeString},
			{Name: "event_id", Type: TypeInt},
			{Name: "webhook_sent", Type: TypeInt},
		},
	},
}

// operatorAliases maps the symbolic spellings onto canonical operator names.
var operatorAliases = map[string]string{
	"=":           "equals",
	"==":          "equals",
	"!=":          "not_equals",
	"<>":          "not_equals",
	">":           "greater_than",
	"<":           "less_than",
	">=":          "greater_equal",
	"<=":          "less_equal",
	"not in":      "not_in",
	"is null":     "is_null",
	"is not null": "is_not_null",
}

// AvailableFields returns the queryable columns of a source.
func AvailableFields(name string) ([]Field, error) {
	src, ok := sources[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", name)
	}
	return append([]Field(nil), src.fields...), nil
}

// Build compiles a structured query into parameterized SQL. Column names are
// never taken from the request verbatim: each one must exist in the source's
// field list. The limit is clamped to maxLimit.
func Build(q *Query, maxLimit int) (*Compiled, error) {
	name := strings.ToLower(strings.TrimSpace(q.Source))
	if name == "" {
		name = "events"
	}
	src, ok := sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown source: %s", q.Source)
	}

	columns, err := buildColumns(src, q.Columns)
	if err != nil {
		return nil, err
	}

	var (
		parts []string
		args  []interface{}
	)
	parts = append(parts, "SELECT "+strings.Join(columns, ", "), "FROM "+src.table)

	if len(q.Conditions) > 0 {
		var where []string
		for _, c := range q.Conditions {
			clause, clauseArgs, err := buildCondition(src, c)
			if err != nil {
				return nil, err
			}
			where = append(where, clause)
			args = append(args, clauseArgs...)
		}
		parts = append(parts, "WHERE "+strings.Join(where, " AND "))
	}

	orderBy := src.defaultOrder
	if q.OrderBy != "" {
		f, ok := src.field(strings.ToLower(q.OrderBy))
		if !ok {
			return nil, fmt.Errorf("unknown field in order by: %s", q.OrderBy)
		}
		orderBy = f.Name
	}
	direction := "DESC"
	if q.Desc != nil && !*q.Desc {
		direction = "ASC"
	}
	parts = append(parts, fmt.Sprintf("ORDER BY %s %s", orderBy, direction))

	limit := q.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if maxLimit > 0 && limit > maxLimit {
		limit = maxLimit
	}
	parts = append(parts, "LIMIT ?")
	args = append(args, limit)

	return &Compiled{
		SQL:        strings.Join(parts, " "),
		Args:       args,
		Source:     name,
		TimeFields: timeFields(src, columns),
	}, nil
}

func buildColumns(src source, requested []string) ([]string, error) {
	if len(requested) == 0 || (len(requested) == 1 && requested[0] == "*") {
		columns := make([]string, len(src.fields))
		for i, f := range src.fields {
			columns[i] = f.Name
		}
		return columns, nil
	}

	seen := make(map[string]bool, len(requested))
	columns := make([]string, 0, len(requested))
	for _, name := range requested {
		f, ok := src.field(strings.ToLower(strings.TrimSpace(name)))
		if !ok {
			return nil, fmt.Errorf("unknown field: %s", name)
		}
		if seen[f.Name] {
			continue
		}
		seen[f.Name] = true
		columns = append(columns, f.Name)
	}
	return columns, nil
}

func timeFields(src source, columns []string) []string {
	var out []string
	for _, c := range columns {
		if f, ok := src.field(c); ok && f.Type == TypeTime {
			out = append(out, c)
		}
	}
	return out
}

// buildCondition builds a single filter condition
func buildCondition(src source, c Condition) (string, []interface{}, error) {
	f, ok := src.field(strings.ToLower(strings.TrimSpace(c.Field)))
	if !ok {
		return "", nil, fmt.Errorf("unknown field in filter: %s", c.Field)
	}
	op := strings.ToLower(strings.TrimSpace(c.Operator))
	if alias, ok := operatorAliases[op]; ok {
		op = alias
	}
	if _, ok := operatorSQL[op]; !ok {
		return "", nil, fmt.Errorf("invalid operator: %s", c.Operator)
	}

	switch op {
	case "is_null":
		return f.Name + " IS NULL", nil, nil
	case "is_not_null":
		return f.Name + " IS NOT NULL", nil, nil

	case "contains", "not_contains":
		s, ok := c.Value.(string)
		if !ok || s == "" {
			return "", nil, fmt.Errorf("%s requires a non-empty string value", op)
		}
		return fmt.Sprintf(`%s %s ? ESCAPE '\'`, f.Name, operatorSQL[op]), []interface{}{"%" + escapeLike(s) + "%"}, nil

	case "in", "not_in":
		if len(c.Values) == 0 {
			return "", nil, fmt.Errorf("%s operator requires at least 1 value", op)
		}
		placeholders := make([]string, len(c.Values))
		args := make([]interface{}, len(c.Values))
		for i, v := range c.Values {
			arg, err := coerce(f, v)
			if err != nil {
				return "", nil, err
			}
			placeholders[i] = "?"
			args[i] = arg
		}
		return fmt.Sprintf("%s %s (%s)", f.Name, operatorSQL[op], strings.Join(placeholders, ", ")), args, nil

	case "between":
		if len(c.Values) != 2 {
			return "", nil, fmt.Errorf("between operator requires exactly 2 values")
		}
		lo, err := coerce(f, c.Values[0])
		if err != nil {
			return "", nil, err
		}
		hi, err := coerce(f, c.Values[1])
		if err != nil {
			return "", nil, err
		}
		return f.Name + " BETWEEN ? AND ?", []interface{}{lo, hi}, nil

	default:
		if c.Value == nil {
			return "", nil, fmt.Errorf("%s requires a value", op)
		}
		arg, err := coerce(f, c.Value)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("%s %s ?", f.Name, operatorSQL[op]), []interface{}{arg}, nil
	}
}

var operatorSQL = map[string]string{
	"equals":        "=",
	"not_equals":    "!=",
	"greater_than":  ">",
	"less_than":     "<",
	"greater_equal": ">=",
	"less_equal":    "<=",
	"contains":      "LIKE",
	"not_contains":  "NOT LIKE",
	"in":            "IN",
	"not_in":        "NOT IN",
	"between":       "BETWEEN",
	"is_null":       "IS NULL",
	"is_not_null":   "IS NOT NULL",
}

// coerce converts a request value to the storage representation of the field.
// Time fields are stored as unix milliseconds.
func coerce(f Field, v interface{}) (interface{}, error) {
	switch f.Type {
	case TypeTime:
		switch val := v.(type) {
		case string:
			t, err := models.ParseTimestamp(val)
			if err != nil {
				return nil, fmt.Errorf("invalid time for %s: %s", f.Name, val)
			}
			return t.UnixMilli(), nil
		case time.Time:
			return val.UnixMilli(), nil
		case float64:
			return int64(val), nil
		case int64:
			return val, nil
		case int:
			return int64(val), nil
		}
	case TypeInt:
		switch val := v.(type) {
		case float64:
			if val != float64(int64(val)) {
				return nil, fmt.Errorf("%s expects an integer", f.Name)
			}
			return int64(val), nil
		case int64:
			return val, nil
		case int:
			return int64(val), nil
		case bool:
			if val {
				return int64(1), nil
			}
			return int64(0), nil
		}
	default:
		switch val := v.(type) {
		case string:
			return val, nil
		case float64, int64, int, bool:
			return fmt.Sprintf("%v", val), nil
		}
	}
	return nil, fmt.Errorf("unsupported value for %s: %v", f.Name, v)
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
