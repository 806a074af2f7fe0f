package fiscal

import "fmt"

// ExpandSQL returns a PostgreSQL expression applying ExpandYYMMDD to expr.
// NULL input yields NULL.
func ExpandSQL(expr string) string {
	return fmt.Sprintf(
		"(CASE WHEN (%[1]s)::integer / 10000 >= %[2]d THEN 19000000 ELSE 20000000 END + (%[1]s)::integer)",
		expr, PivotYY,
	)
}

// ExpandToDateSQL returns a PostgreSQL expression turning a YYMMDD expr into a date.
func ExpandToDateSQL(expr string) string {
	return fmt.Sprintf("to_date((%s)::text, 'YYYYMMDD')", ExpandSQL(expr))
}

// CompactDateSQL returns a PostgreSQL expression turning a date expr back into YYMMDD.
func CompactDateSQL(expr string) string {
	return fmt.Sprintf("to_char(%s, 'YYMMDD')::integer", expr)
}
