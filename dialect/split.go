package dialect

import (
	"strings"
)

// SplitStatements splits a script into statements at delimiter. Delimiters
// inside quoted strings, quoted identifiers, comments and PostgreSQL dollar
// quoted bodies are ignored. An empty delimiter means ";". A delimiter which
// is not ";" is also recognised when it stands alone on a line, e.g. "GO".
//
// Empty statements are dropped and surrounding white space is trimmed.
func SplitStatements(script, delimiter string) []string {
	if delimiter == "" {
		delimiter = ";"
	}
	var (
		stmts []string
		cur   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(cur.String()); s != "" && strings.TrimSpace(StripComments(s)) != "" {
			stmts = append(stmts, s)
		}
		cur.Reset()
	}

	lineStart := true
	for i := 0; i < len(script); {
		c := script[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := closing(script, i, c)
			cur.WriteString(script[i:end])
			i = end
			lineStart = false
			continue
		case strings.HasPrefix(script[i:], "--"):
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				end = len(script) - i
			}
			cur.WriteString(script[i : i+end])
			i += end
			continue
		case strings.HasPrefix(script[i:], "/*"):
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				end = len(script)
			} else {
				end = i + 2 + end + 2
			}
			cur.WriteString(script[i:end])
			i = end
			continue
		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				end := strings.Index(script[i+len(tag):], tag)
				if end < 0 {
					end = len(script)
				} else {
					end = i + len(tag) + end + len(tag)
				}
				cur.WriteString(script[i:end])
				i = end
				lineStart = false
				continue
			}
		}

		if delimiter == ";" || len(delimiter) == 1 {
			if strings.HasPrefix(script[i:], delimiter) {
				flush()
				i += len(delimiter)
				continue
			}
		} else if lineStart {
			line := script[i:]
			if nl := strings.IndexByte(line, '\n'); nl >= 0 {
				line = line[:nl]
			}
			if strings.EqualFold(strings.TrimSpace(line), delimiter) {
				flush()
				i += len(line)
				continue
			}
		}

		cur.WriteByte(c)
		switch c {
		case '\n':
			lineStart = true
		case ' ', '\t', '\r':
		default:
			lineStart = false
		}
		i++
	}
	flush()
	return stmts
}

// closing returns the index after the quote closing the one at i. Doubled
// quotes and backslash escapes are skipped.
func closing(s string, i int, q byte) int {
	for j := i + 1; j < len(s); j++ {
		switch s[j] {
		case '\\':
			if q != '"' {
				j++
			}
		case q:
			if j+1 < len(s) && s[j+1] == q {
				j++
				continue
			}
			return j + 1
		}
	}
	return len(s)
}

// dollarTag returns the opening tag of a dollar quoted string, e.g. "$$" or
// "$body$".
func dollarTag(s string) (string, bool) {
	for j := 1; j < len(s); j++ {
		c := s[j]
		switch {
		case c == '$':
			return s[:j+1], true
		case c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && j > 1:
		default:
			return "", false
		}
	}
	return "", false
}

// StripComments removes line and block comments outside of quoted strings.
func StripComments(script string) string {
	var b strings.Builder
	for i := 0; i < len(script); {
		c := script[i]
		switch {
		case c == '\'' || c == '"' || c == '`':
			end := closing(script, i, c)
			b.WriteString(script[i:end])
			i = end
		case strings.HasPrefix(script[i:], "--"):
			end := strings.IndexByte(script[i:], '\n')
			if end < 0 {
				return b.String()
			}
			i += end
		case strings.HasPrefix(script[i:], "/*"):
			end := strings.Index(script[i+2:], "*/")
			if end < 0 {
				return b.String()
			}
			i += 2 + end + 2
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}
