package deb

import (
	"strings"
)

// Resolver looks up substitution variables.
type Resolver interface {
	Resolve(name string) (string, bool)
}

// MapResolver resolves variables from a map.
type MapResolver map[string]string

// Resolve returns the mapped value.
func (m MapResolver) Resolve(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// MultiResolver tries each resolver in turn.
type MultiResolver []Resolver

// Resolve returns the first hit.
func (mr MultiResolver) Resolve(name string) (string, bool) {
	for _, r := range mr {
		if r == nil {
			continue
		}
		if v, ok := r.Resolve(name); ok {
			return v, true
		}
	}
	return "", false
}

type tokenKind int

const (
	tokenNone tokenKind = iota
	tokenOpen
	tokenClose
)

// Substitute replaces every open+name+close occurrence in text whose name is
// known to the resolver. Unknown names and unbalanced delimiters are copied
// through unchanged, so shell constructs like "[[ -z $x ]]" survive.
//
// The scan is flat: it tracks how much of each delimiter has been matched and
// never re-evaluates a substituted value.
func Substitute(text, open, closing string, r Resolver) string {
	if r == nil || open == "" || closing == "" {
		return text
	}

	var (
		out   strings.Builder
		sb    strings.Builder
		last  = tokenNone
		wo    int // matched prefix of open
		wc    int // matched prefix of closing
		level int
	)

	openR := []rune(open)
	closeR := []rune(closing)

	for _, c := range text {
		switch {
		case c == openR[wo]:
			if wc > 0 {
				sb.WriteString(string(closeR[:wc]))
				wc = 0
			}
			wo++
			if wo == len(openR) {
				if last == tokenOpen {
					out.WriteString(open)
				}
				level++
				out.WriteString(sb.String())
				sb.Reset()
				wo = 0
				last = tokenOpen
			}

		case c == closeR[wc]:
			if wo > 0 {
				sb.WriteString(string(openR[:wo]))
				wo = 0
			}
			wc++
			if wc == len(closeR) {
				if last == tokenOpen {
					name := sb.String()
					if v, ok := r.Resolve(name); ok {
						out.WriteString(v)
					} else {
						out.WriteString(open)
						out.WriteString(name)
						out.WriteString(closing)
					}
				} else {
					out.WriteString(sb.String())
					out.WriteString(closing)
				}
				sb.Reset()
				level--
				wc = 0
				last = tokenClose
			}

		default:
			if wo > 0 {
				sb.WriteString(string(openR[:wo]))
				wo = 0
			}
			if wc > 0 {
				sb.WriteString(string(closeR[:wc]))
				wc = 0
			}
			sb.WriteRune(c)
		}
	}

	if wo > 0 {
		sb.WriteString(string(openR[:wo]))
	}
	if wc > 0 {
		sb.WriteString(string(closeR[:wc]))
	}
	if level > 0 {
		out.WriteString(open)
	}
	out.WriteString(sb.String())
	return out.String()
}

// FilterText runs Substitute over every line of text and terminates each
// line with "\n". CRLF line endings are normalized.
func FilterText(text, open, closing string, r Resolver) string {
	var b strings.Builder
	for _, line := range splitLines(text) {
		b.WriteString(Substitute(line, open, closing, r))
		b.WriteByte('\n')
	}
	return b.String()
}

// splitLines splits on "\n", "\r\n" or "\r". A trailing terminator does not
// produce an extra empty line.
func splitLines(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	return strings.Split(text, "\n")
}
