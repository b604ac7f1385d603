package mapping

import (
	"strings"
	"unicode"

	"github.com/jinzhu/inflection"
)

// toSnake converts the provided string to snake_case using ASCII-aware rules.
// Punctuation that shows up in reflected type names (pointers, generic
// suffixes) is collapsed so derived table and column names stay valid identifiers.
func toSnake(s string) string {
	if s == "" {
		return ""
	}

	runes := []rune(s)
	var b strings.Builder
	b.Grow(len(runes) + len(runes)/2)

	lastUnderscore := false

	for i := 0; i < len(runes); i++ {
		r := runes[i]

		switch {
		case unicode.IsUpper(r):
			if b.Len() > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if (unicode.IsLower(prev) || unicode.IsDigit(prev) || nextLower) && !lastUnderscore {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			lastUnderscore = false

		case unicode.IsLower(r), unicode.IsDigit(r):
			b.WriteRune(r)
			lastUnderscore = false

		default:
			if !lastUnderscore && b.Len() > 0 {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}

	return strings.Trim(b.String(), "_")
}

// defaultTableName derives a table name from a Go type name: OrderLine -> order_lines.
func defaultTableName(typeName string) string {
	return inflection.Plural(toSnake(typeName))
}

// defaultColumnName derives a column name from a Go field name: CreatedAt -> created_at.
func defaultColumnName(fieldName string) string {
	return toSnake(fieldName)
}
