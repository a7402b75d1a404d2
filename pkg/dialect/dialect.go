// Package dialect implements the pure, per-backend functions spec.md §4.2
// describes: identifier quoting, JSON aggregate function names, UUID cast
// emission, and substring-match operator emission. Every function here is
// pure and keyed only on a Dialect value — none of them touch a connection.
package dialect

import (
	"fmt"
	"regexp"
)

// Dialect is the closed set of backends the engine targets.
type Dialect string

const (
	MySQL    Dialect = "mysql"
	Postgres Dialect = "postgres"
	SQLite   Dialect = "sqlite"
	Mongo    Dialect = "mongo"
)

// Parse validates and normalises a dialect string from configuration.
func Parse(s string) (Dialect, error) {
	switch Dialect(s) {
	case MySQL, Postgres, SQLite, Mongo:
		return Dialect(s), nil
	default:
		return "", &UnsupportedError{Dialect: Dialect(s), Operation: "select dialect"}
	}
}

// IsSQL reports whether the dialect is one of the three SQL backends.
func (d Dialect) IsSQL() bool { return d == MySQL || d == Postgres || d == SQLite }

// UnsupportedError is returned whenever a dialect has no safe expression for
// a requested operation (spec.md §4.2: "never silently downgraded").
type UnsupportedError struct {
	Dialect   Dialect
	Operation string
}

func (e *UnsupportedError) Error() string {
	return fmt.Sprintf("dialect: %q has no safe expression for %q", e.Dialect, e.Operation)
}

// QuoteIdent quotes a single identifier (table, column, or alias name).
func QuoteIdent(d Dialect, ident string) string {
	switch d {
	case MySQL:
		return "`" + ident + "`"
	case Postgres, SQLite:
		return `"` + ident + `"`
	default:
		return ident
	}
}

// QuoteQualified quotes a qualified "alias.column" reference, quoting each
// segment independently.
func QuoteQualified(d Dialect, alias, column string) string {
	if alias == "" {
		return QuoteIdent(d, column)
	}
	return QuoteIdent(d, alias) + "." + QuoteIdent(d, column)
}

// JSONObjectFunc returns the function name used to build a JSON object
// inline in a SELECT list.
func JSONObjectFunc(d Dialect) (string, error) {
	switch d {
	case MySQL:
		return "JSON_OBJECT", nil
	case Postgres:
		return "jsonb_build_object", nil
	case SQLite:
		return "json_object", nil
	default:
		return "", &UnsupportedError{Dialect: d, Operation: "JSON object constructor"}
	}
}

// JSONArrayAggFunc returns the function name used to aggregate JSON objects
// into a JSON array across grouped rows.
func JSONArrayAggFunc(d Dialect) (string, error) {
	switch d {
	case MySQL:
		return "JSON_ARRAYAGG", nil
	case Postgres:
		return "jsonb_agg", nil
	case SQLite:
		return "json_group_array", nil
	default:
		return "", &UnsupportedError{Dialect: d, Operation: "JSON array aggregate"}
	}
}

// EmptyJSONArrayLiteral returns the literal SQL text for an empty JSON
// array, used as the COALESCE fallback when an aggregate subquery matches
// no rows (spec.md §4.4 rule O2M/M2M: "COALESCE(jsonArrayAgg(...), '[]')").
func EmptyJSONArrayLiteral(d Dialect) string {
	switch d {
	case MySQL:
		return "JSON_ARRAY()"
	case Postgres:
		return "'[]'::jsonb"
	case SQLite:
		return "'[]'"
	default:
		return "'[]'"
	}
}

// TextCast wraps expr in whatever cast-to-text syntax the dialect needs for
// comparing values of differing declared types (spec.md §4.2: "postgres
// uses ::text, others pass through").
func TextCast(d Dialect, expr string) string {
	if d == Postgres {
		return expr + "::text"
	}
	return expr
}

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// LooksLikeUUID reports whether s is formatted as a UUID literal.
func LooksLikeUUID(s string) bool { return uuidPattern.MatchString(s) }

// UUIDCast emits a postgres UUID cast for a scalar comparison when column
// is UUID-typed and the bound operand looks like a UUID literal; other
// dialects never cast (spec.md §4.2). array reports whether the cast should
// target an array of UUIDs (used for `_in`).
func UUIDCast(d Dialect, expr string, columnIsUUID bool, operandIsUUIDLiteral bool, array bool) string {
	if d != Postgres || !columnIsUUID || !operandIsUUIDLiteral {
		return expr
	}
	if array {
		return expr + "::uuid[]"
	}
	return expr + "::uuid"
}

// SubstringOp describes how to render a _contains/_starts_with/_ends_with
// predicate against a column for a given dialect: case- and
// accent-insensitive substring matching (spec.md §4.2). pattern is the
// already-escaped LIKE pattern body (without surrounding %).
type SubstringOp struct {
	SQL      string // full boolean expression with %s placeholders for (column, pattern)
	Bindings []any
}

// SubstringPredicate builds the dialect-specific case/accent-insensitive
// substring test. columnExpr is the already-quoted column reference;
// pattern is the raw substring to search for (unescaped; the caller binds
// it as a parameter, this only shapes the SQL and the bound value).
func SubstringPredicate(d Dialect, columnExpr string, pattern string, mode string) (string, []any, error) {
	var wrapped string
	switch mode {
	case "contains":
		wrapped = "%" + pattern + "%"
	case "starts_with":
		wrapped = pattern + "%"
	case "ends_with":
		wrapped = "%" + pattern
	default:
		return "", nil, fmt.Errorf("dialect: unknown substring mode %q", mode)
	}

	switch d {
	case Postgres:
		// ILIKE is case-insensitive; unaccent() on both sides for accent
		// insensitivity.
		return fmt.Sprintf("unaccent(%s) ILIKE unaccent(?)", columnExpr), []any{wrapped}, nil
	case MySQL:
		// Relies on the column/session using a general case-insensitive
		// (and typically accent-insensitive) collation; CONCAT builds the
		// wildcard pattern server-side so only the raw substring binds.
		concat := concatArgsForMode(mode)
		return fmt.Sprintf("%s LIKE %s", columnExpr, concat), []any{pattern}, nil
	case SQLite:
		return fmt.Sprintf("%s LIKE ? COLLATE NOCASE", columnExpr), []any{wrapped}, nil
	default:
		return "", nil, &UnsupportedError{Dialect: d, Operation: "substring match (" + mode + ")"}
	}
}

func concatArgsForMode(mode string) string {
	switch mode {
	case "starts_with":
		return "CONCAT(?, '%')"
	case "ends_with":
		return "CONCAT('%', ?)"
	default:
		return "CONCAT('%', ?, '%')"
	}
}
