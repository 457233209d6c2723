package handlers

import (
	"net/url"
	"strconv"
	"strings"

	"github.com/bunbase/bunbase/internal/query"
)

// parseQueryOptions decodes query filter URL form into
// query.Options: reserved keys (page, perPage, sort, expand) are read
// directly; everything else is a per-field filter whose operator sigil is
// embedded in the key rather than split out by the usual key=value parse,
// since >=, <= and != fold their "=" into the operator itself.
func parseQueryOptions(rawQuery string) query.Options {
	opts := query.Options{Page: query.DefaultPage, PerPage: query.DefaultPerPage}

	for _, part := range strings.Split(rawQuery, "&") {
		if part == "" {
			continue
		}

		field, op, rawValue, ok := splitFilterToken(part)
		if !ok {
			continue
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			value = rawValue
		}

		switch field {
		case "page":
			if n, err := strconv.Atoi(value); err == nil {
				opts.Page = n
			}
		case "perPage":
			if n, err := strconv.Atoi(value); err == nil {
				opts.PerPage = n
			}
		case "sort":
			opts.Sort = parseSortKeys(value)
		case "expand":
			opts.Expand = splitNonEmpty(value, ",")
		default:
			opts.Filter = append(opts.Filter, query.Condition{Field: field, Op: query.Op(op), Value: value})
		}
	}

	return opts
}

// filterSigils maps the delimiter a raw token wears to the query.Op it
// resolves to and how many bytes of the token that delimiter consumes.
// "~="/"!~=" are checked before their bare "~"/"!~" counterparts: the wire
// format always spells like/not-like filters with a trailing "=" (e.g.
// "title~=hello"), but that "=" is part of the delimiter, not the value.
var filterSigils = []struct {
	delim string
	op    string
}{
	{"!~=", string(query.OpNotLike)},
	{"!=", string(query.OpNe)},
	{">=", string(query.OpGte)},
	{"<=", string(query.OpLte)},
	{"~=", string(query.OpLike)},
	{"!~", string(query.OpNotLike)},
	{"=", string(query.OpEq)},
	{">", string(query.OpGt)},
	{"<", string(query.OpLt)},
	{"~", string(query.OpLike)},
}

// splitFilterToken splits one raw "&"-delimited query token into its field
// name, operator, and raw (not yet unescaped) value. Field names are plain
// identifiers, so the first operator-sigil character encountered marks the
// boundary; the longest matching delimiter wins.
func splitFilterToken(token string) (field, op, value string, ok bool) {
	for i, c := range token {
		switch c {
		case '=', '!', '>', '<', '~':
			field = token[:i]
			rest := token[i:]
			for _, s := range filterSigils {
				if strings.HasPrefix(rest, s.delim) {
					op = s.op
					value = rest[len(s.delim):]
					return field, op, value, field != ""
				}
			}
			return "", "", "", false
		}
	}
	return "", "", "", false
}

func parseSortKeys(raw string) []query.SortKey {
	fields := splitNonEmpty(raw, ",")
	if len(fields) == 0 {
		return nil
	}
	keys := make([]query.SortKey, 0, len(fields))
	for _, f := range fields {
		dir := query.Asc
		if strings.HasPrefix(f, "-") {
			dir = query.Desc
			f = f[1:]
		}
		if f == "" {
			continue
		}
		keys = append(keys, query.SortKey{Field: f, Dir: dir})
	}
	return keys
}

func splitNonEmpty(raw, sep string) []string {
	if raw == "" {
		return nil
	}
	var out []string
	for _, s := range strings.Split(raw, sep) {
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
