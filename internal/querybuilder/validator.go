package querybuilder

import (
	"fmt"
	"regexp"
	"strings"
)

// Validator rejects anything but a single read statement before it reaches
// the parser.
type Validator struct {
	deniedStatements []string
	maxQueryLength   int
	patterns         map[string]*regexp.Regexp
}

// NewValidator creates a new query validator
func NewValidator() *Validator {
	v := &Validator{
		deniedStatements: []string{
			"INSERT", "UPDATE", "DELETE", "DROP", "CREATE", "ALTER", "TRUNCATE",
			"REPLACE", "ATTACH", "DETACH", "PRAGMA", "VACUUM", "GRANT", "REVOKE",
		},
		maxQueryLength: 10000,
		patterns:       make(map[string]*regexp.Regexp),
	}

	v.patterns["comments"] = regexp.MustCompile(`--[^\n]*|/\*[\s\S]*?\*/`)
	v.patterns["literals"] = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)
	v.patterns["system_tables"] = regexp.MustCompile(`(?i)\b(sqlite_master|sqlite_schema|sqlite_temp_master|sqlite_sequence)\b`)
	v.patterns["dangerous_functions"] = regexp.MustCompile(`(?i)\b(load_extension|readfile|writefile|edit|fts3_tokenizer)\s*\(`)
	v.patterns["union"] = regexp.MustCompile(`(?i)\bUNION\b`)
	v.patterns["denied"] = regexp.MustCompile(`\b(` + strings.Join(v.deniedStatements, "|") + `)\b`)

	return v
}

// Validate checks if a query is safe to hand to the parser.
func (v *Validator) Validate(query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("empty query")
	}

	if len(query) > v.maxQueryLength {
		return fmt.Errorf("query too long: %d bytes (max %d)", len(query), v.maxQueryLength)
	}

	cleanQuery := v.removeComments(query)

	if v.hasMultipleStatements(cleanQuery) {
		return fmt.Errorf("multiple statements not allowed")
	}

	statementType := v.getStatementType(cleanQuery)
	if statementType == "" {
		return fmt.Errorf("unable to determine query type")
	}
	if statementType != "SELECT" {
		return fmt.Errorf("statement type '%s' not allowed", statementType)
	}

	return v.checkDangerousPatterns(cleanQuery)
}

// removeComments removes SQL comments from the query
func (v *Validator) removeComments(query string) string {
	return strings.TrimSpace(v.patterns["comments"].ReplaceAllString(query, " "))
}

// hasMultipleStatements reports a semicolon outside quotes that is followed
// by more text. A single trailing semicolon is allowed.
func (v *Validator) hasMultipleStatements(query string) bool {
	inQuote := false
	quoteChar := rune(0)

	for i, char := range query {
		if inQuote {
			if char == quoteChar {
				inQuote = false
			}
			continue
		}
		switch char {
		case '\'', '"':
			inQuote = true
			quoteChar = char
		case ';':
			if strings.TrimSpace(query[i+1:]) != "" {
				return true
			}
		}
	}
	return false
}

// getStatementType extracts the SQL statement type
func (v *Validator) getStatementType(query string) string {
	fields := strings.Fields(strings.ToUpper(query))
	if len(fields) > 0 {
		return strings.TrimSuffix(fields[0], ";")
	}
	return ""
}

// checkDangerousPatterns looks for write keywords and schema access outside
// string literals.
func (v *Validator) checkDangerousPatterns(query string) error {
	stripped := v.patterns["literals"].ReplaceAllString(query, "''")
	upperQuery := strings.ToUpper(stripped)

	if denied := v.patterns["denied"].FindString(upperQuery); denied != "" {
		return fmt.Errorf("statement contains denied operation: %s", denied)
	}

	if v.patterns["system_tables"].MatchString(stripped) {
		return fmt.Errorf("access to system tables not allowed")
	}

	if v.patterns["dangerous_functions"].MatchString(stripped) {
		return fmt.Errorf("potentially dangerous functions not allowed")
	}

	if v.patterns["union"].MatchString(stripped) {
		return fmt.Errorf("UNION queries not allowed")
	}

	return nil
}
