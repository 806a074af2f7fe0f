package schema

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrArity is returned when data operations carry mismatched column and value counts.
var ErrArity = errors.New("column and value counts differ")

// QuoteIdentifier quotes a PostgreSQL identifier, preserving case.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func quoteList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = QuoteIdentifier(n)
	}
	return strings.Join(quoted, ", ")
}

// Literal renders a Go value as a PostgreSQL literal.
func Literal(v any) (string, error) {
	switch val := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return "'" + strings.ReplaceAll(val, "'", "''") + "'", nil
	case bool:
		if val {
			return "TRUE", nil
		}
		return "FALSE", nil
	case int:
		return strconv.Itoa(val), nil
	case int8:
		return strconv.FormatInt(int64(val), 10), nil
	case int16:
		return strconv.FormatInt(int64(val), 10), nil
	case int32:
		return strconv.FormatInt(int64(val), 10), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case uint8:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint16:
		return strconv.FormatUint(uint64(val), 10), nil
	case uint32:
		return strconv.FormatUint(uint64(val), 10), nil
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return "", fmt.Errorf("literal %v: not a finite number", val)
		}
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case time.Time:
		return "DATE '" + val.Format("2006-01-02") + "'", nil
	default:
		return "", fmt.Errorf("literal of type %T is not supported", v)
	}
}

func literalList(values []any) (string, error) {
	out := make([]string, len(values))
	for i, v := range values {
		lit, err := Literal(v)
		if err != nil {
			return "", err
		}
		out[i] = lit
	}
	return strings.Join(out, ", "), nil
}

// whereClause renders "A" = 1 AND "B" = 'x'; NULL keys compare with IS NULL.
func whereClause(columns []string, values []any) (string, error) {
	if len(columns) == 0 || len(columns) != len(values) {
		return "", fmt.Errorf("key: %w", ErrArity)
	}
	parts := make([]string, len(columns))
	for i, c := range columns {
		if values[i] == nil {
			parts[i] = QuoteIdentifier(c) + " IS NULL"
			continue
		}
		lit, err := Literal(values[i])
		if err != nil {
			return "", err
		}
		parts[i] = QuoteIdentifier(c) + " = " + lit
	}
	return strings.Join(parts, " AND "), nil
}
