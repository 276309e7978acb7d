package devserver

import (
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/moneeroz/pocket-chat/internal/backend"
)

// parseFilter parses the filter grammar the HTTP client emits:
// conditions `field='value'` or `field~'value'` joined by ` && `, with
// at most one parenthesized ` || ` group. Values are single-quoted with
// backslash-escaped quotes.
func parseFilter(s string) (backend.Filter, error) {
	var f backend.Filter
	s = strings.TrimSpace(s)
	if s == "" {
		return f, nil
	}

	for _, term := range splitTop(s, " && ") {
		term = strings.TrimSpace(term)
		if strings.HasPrefix(term, "(") && strings.HasSuffix(term, ")") {
			if len(f.Any) > 0 {
				return f, fmt.Errorf("more than one || group")
			}
			inner := term[1 : len(term)-1]
			for _, alt := range splitTop(inner, " || ") {
				cond, err := parseCond(strings.TrimSpace(alt))
				if err != nil {
					return f, err
				}
				f.Any = append(f.Any, cond)
			}
			continue
		}
		cond, err := parseCond(term)
		if err != nil {
			return f, err
		}
		f.All = append(f.All, cond)
	}
	return f, nil
}

// splitTop splits on sep outside quotes and parentheses.
func splitTop(s, sep string) []string {
	var parts []string
	depth := 0
	inQuote := false
	start := 0
	for i := 0; i < len(s); i++ {
		switch {
		case inQuote:
			if s[i] == '\\' {
				i++
			} else if s[i] == '\'' {
				inQuote = false
			}
		case s[i] == '\'':
			inQuote = true
		case s[i] == '(':
			depth++
		case s[i] == ')':
			depth--
		case depth == 0 && strings.HasPrefix(s[i:], sep):
			parts = append(parts, s[start:i])
			start = i + len(sep)
			i = start - 1
		}
	}
	return append(parts, s[start:])
}

func parseCond(term string) (backend.Cond, error) {
	for _, op := range []backend.Op{backend.OpEqual, backend.OpContains} {
		idx := strings.Index(term, string(op))
		if idx <= 0 {
			continue
		}
		field := strings.TrimSpace(term[:idx])
		if strings.ContainsAny(field, "='~") {
			continue
		}
		value := strings.TrimSpace(term[idx+len(op):])
		if len(value) < 2 || value[0] != '\'' || value[len(value)-1] != '\'' {
			return backend.Cond{}, fmt.Errorf("malformed condition %q", term)
		}
		unquoted := strings.ReplaceAll(value[1:len(value)-1], "\\'", "'")
		return backend.Cond{Field: field, Op: op, Value: unquoted}, nil
	}
	return backend.Cond{}, fmt.Errorf("malformed condition %q", term)
}

// columnMapper translates a condition into a SQL clause for one
// collection's schema. Returns ok=false for fields the collection does
// not expose.
type columnMapper func(backend.Cond) (clause string, args []any, ok bool)

// applyFilter adds WHERE clauses for a parsed filter.
func applyFilter(db *gorm.DB, f backend.Filter, mapCond columnMapper) (*gorm.DB, error) {
	for _, c := range f.All {
		clause, args, ok := mapCond(c)
		if !ok {
			return nil, fmt.Errorf("unknown filter field %q", c.Field)
		}
		db = db.Where(clause, args...)
	}
	if len(f.Any) > 0 {
		var clauses []string
		var args []any
		for _, c := range f.Any {
			clause, condArgs, ok := mapCond(c)
			if !ok {
				return nil, fmt.Errorf("unknown filter field %q", c.Field)
			}
			clauses = append(clauses, clause)
			args = append(args, condArgs...)
		}
		db = db.Where(strings.Join(clauses, " OR "), args...)
	}
	return db, nil
}
