package querybuilder

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"
)

// Parse reads a statement of the fixed grammar
//
//	SELECT cols|* FROM events|traces|alerts
//	  [WHERE cond {AND cond}] [ORDER BY field [ASC|DESC]] [LIMIT n] [;]
//
// where cond is one of
//
//	field op value            op: = == != <> > < >= <=
//	field [NOT] CONTAINS 'text'
//	field [NOT] IN (v, ...)
//	field BETWEEN v AND v
//	field IS [NOT] NULL
//
// Field and source names are checked later by Build.
func Parse(text string) (*Query, error) {
	tokens, err := tokenize(text)
	if err != nil {
		return nil, err
	}
	p := &parser{tokens: tokens}
	return p.parse()
}

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokString
	tokNumber
	tokSymbol
	tokEOF
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) upper() string {
	return strings.ToUpper(t.text)
}

func tokenize(text string) ([]token, error) {
	var tokens []token
	runes := []rune(text)

	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case r == '\'' || r == '"':
			quote := r
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == quote {
					if i+1 < len(runes) && runes[i+1] == quote {
						sb.WriteRune(quote)
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, fmt.Errorf("unterminated string at position %d", start)
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})

		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i++
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i]), pos: start})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i]), pos: start})

		default:
			start := i
			if i+1 < len(runes) {
				two := string(runes[i : i+2])
				switch two {
				case "!=", "<>", ">=", "<=", "==":
					tokens = append(tokens, token{kind: tokSymbol, text: two, pos: start})
					i += 2
					continue
				}
			}
			switch r {
			case '=', '<', '>', '(', ')', ',', '*', ';':
				tokens = append(tokens, token{kind: tokSymbol, text: string(r), pos: start})
				i++
			default:
				return nil, fmt.Errorf("unexpected character %q at position %d", r, start)
			}
		}
	}

	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}

type parser struct {
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && t.upper() == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expectKeyword(word string) error {
	if !p.keyword(word) {
		return p.errorf("expected %s", word)
	}
	return nil
}

func (p *parser) symbol(s string) bool {
	t := p.peek()
	if t.kind == tokSymbol && t.text == s {
		p.pos++
		return true
	}
	return false
}

func (p *parser) errorf(format string, args ...interface{}) error {
	t := p.peek()
	found := t.text
	if t.kind == tokEOF {
		found = "end of query"
	}
	return fmt.Errorf("%s at position %d, found %q", fmt.Sprintf(format, args...), t.pos, found)
}

func (p *parser) ident() (string, error) {
	t := p.peek()
	if t.kind != tokIdent {
		return "", p.errorf("expected identifier")
	}
	p.pos++
	return strings.ToLower(t.text), nil
}

func (p *parser) parse() (*Query, error) {
	q := &Query{}

	if err := p.expectKeyword("SELECT"); err != nil {
		return nil, err
	}
	if p.symbol("*") {
		q.Columns = []string{"*"}
	} else {
		for {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			q.Columns = append(q.Columns, col)
			if !p.symbol(",") {
				break
			}
		}
	}

	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}
	src, err := p.ident()
	if err != nil {
		return nil, err
	}
	q.Source = src

	if p.keyword("WHERE") {
		for {
			c, err := p.condition()
			if err != nil {
				return nil, err
			}
			q.Conditions = append(q.Conditions, c)
			if !p.keyword("AND") {
				break
			}
		}
	}

	if p.keyword("ORDER") {
		if err := p.expectKeyword("BY"); err != nil {
			return nil, err
		}
		field, err := p.ident()
		if err != nil {
			return nil, err
		}
		q.OrderBy = field
		switch {
		case p.keyword("ASC"):
			desc := false
			q.Desc = &desc
		case p.keyword("DESC"):
			desc := true
			q.Desc = &desc
		}
	}

	if p.keyword("LIMIT") {
		t := p.peek()
		n, err := strconv.Atoi(t.text)
		if t.kind != tokNumber || err != nil || n < 0 {
			return nil, p.errorf("expected a non-negative integer limit")
		}
		p.pos++
		q.Limit = n
	}

	p.symbol(";")
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected token")
	}
	return q, nil
}

func (p *parser) condition() (Condition, error) {
	field, err := p.ident()
	if err != nil {
		return Condition{}, err
	}
	c := Condition{Field: field}

	t := p.peek()
	if t.kind == tokSymbol {
		switch t.text {
		case "=", "==", "!=", "<>", ">", "<", ">=", "<=":
			p.pos++
			c.Operator = t.text
			c.Value, err = p.value()
			return c, err
		}
		return Condition{}, p.errorf("expected operator")
	}

	negated := p.keyword("NOT")
	switch {
	case p.keyword("CONTAINS"):
		c.Operator = "contains"
		if negated {
			c.Operator = "not_contains"
		}
		c.Value, err = p.value()
		return c, err

	case p.keyword("IN"):
		c.Operator = "in"
		if negated {
			c.Operator = "not_in"
		}
		if !p.symbol("(") {
			return Condition{}, p.errorf("expected (")
		}
		for {
			v, err := p.value()
			if err != nil {
				return Condition{}, err
			}
			c.Values = append(c.Values, v)
			if !p.symbol(",") {
				break
			}
		}
		if !p.symbol(")") {
			return Condition{}, p.errorf("expected )")
		}
		return c, nil
	}
	if negated {
		return Condition{}, p.errorf("expected CONTAINS or IN after NOT")
	}

	switch {
	case p.keyword("BETWEEN"):
		c.Operator = "between"
		lo, err := p.value()
		if err != nil {
			return Condition{}, err
		}
		if err := p.expectKeyword("AND"); err != nil {
			return Condition{}, err
		}
		hi, err := p.value()
		if err != nil {
			return Condition{}, err
		}
		c.Values = []interface{}{lo, hi}
		return c, nil

	case p.keyword("IS"):
		c.Operator = "is_null"
		if p.keyword("NOT") {
			c.Operator = "is_not_null"
		}
		if err := p.expectKeyword("NULL"); err != nil {
			return Condition{}, err
		}
		return c, nil
	}

	return Condition{}, p.errorf("expected operator")
}

// value returns strings as string and numbers as float64, matching what
// encoding/json produces for the structured form.
func (p *parser) value() (interface{}, error) {
	t := p.peek()
	switch t.kind {
	case tokString:
		p.pos++
		return t.text, nil
	case tokNumber:
		n, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf("invalid number")
		}
		p.pos++
		return n, nil
	case tokIdent:
		switch t.upper() {
		case "TRUE":
			p.pos++
			return true, nil
		case "FALSE":
			p.pos++
			return false, nil
		}
	}
	return nil, p.errorf("expected a value")
}
