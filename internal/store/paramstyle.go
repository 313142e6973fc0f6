package store

import (
	"fmt"
	"strings"
)

// Dialect names the backing SQL database so one set of queries can be
// rendered for either driver without hand-maintaining two copies of every
// statement string.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectMySQL    Dialect = "mysql"
	DialectSQLite   Dialect = "sqlite"
)

// Placeholders renders a query template containing "?" placeholders into
// the dialect-appropriate form: left untouched for MySQL/SQLite, rewritten
// to "$1", "$2", ... for Postgres.
func Placeholders(dialect Dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
