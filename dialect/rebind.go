package dialect

import (
	"strconv"
	"strings"
)

// Rebind rewrites the ? placeholders of query into the placeholder style
// of the registry. On $n dialects, placeholders inside quoted literals and
// identifiers are left alone, and ?? is written as a literal ? so that
// operators such as the Postgres JSON ? can still be used. Queries of ?
// dialects are returned unchanged.
func (r *Registry) Rebind(query string) string {
	return r.rebind(query, nil)
}

// RebindArgs is like Rebind, and also casts the placeholder of every
// Document in args to the document type, as in $1::jsonb.
func (r *Registry) RebindArgs(query string, args []any) string {
	return r.rebind(query, args)
}

func (r *Registry) rebind(query string, args []any) string {
	if r.placeholder != Dollar || !strings.Contains(query, "?") {
		return query
	}
	var (
		b     strings.Builder
		n     int
		quote byte
	)
	b.Grow(len(query) + 8)
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"' || c == '`':
			quote = c
		case c == '?':
			if i+1 < len(query) && query[i+1] == '?' {
				i++
				break
			}
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n + 1))
			if n < len(args) {
				if d, ok := args[n].(Document); ok && d.Type != "" {
					b.WriteString("::")
					b.WriteString(d.Type)
				}
			}
			n++
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
