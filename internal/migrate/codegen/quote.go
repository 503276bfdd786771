// Package codegen generates PostgreSQL DDL from normalized table definitions.
package codegen

import (
	"fmt"
	"strings"
)

// QuoteIdentifier wraps a SQL identifier in double quotes and escapes internal
// quotes. This prevents SQL injection through table and column names.
func QuoteIdentifier(identifier string) string {
	escaped := strings.ReplaceAll(identifier, `"`, `""`)
	return fmt.Sprintf(`"%s"`, escaped)
}

// QuoteQualified quotes a namespace-qualified table name.
func QuoteQualified(namespace, table string) string {
	if namespace == "" {
		return QuoteIdentifier(table)
	}
	return QuoteIdentifier(namespace) + "." + QuoteIdentifier(table)
}

func quoteAll(identifiers []string) []string {
	out := make([]string, len(identifiers))
	for i, id := range identifiers {
		out[i] = QuoteIdentifier(id)
	}
	return out
}
