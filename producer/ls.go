package producer

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/etnz/debmaker/deb"
)

// ParseError reports a line of an ls listing that does not have the expected
// shape.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string { return fmt.Sprintf("line %d: %s", e.Line, e.Msg) }

var (
	lsBase  = regexp.MustCompile(`^\./(.*):$`)
	lsTotal = regexp.MustCompile(`^total ([0-9]+)$`)
	lsDir   = regexp.MustCompile(`^d([rwxsStT-]{9})\s+[0-9]+\s+(\S*)\s+(\S*)\s+[0-9]+\s+.*\s+\.{1,2}$`)
	lsEntry = regexp.MustCompile(`^([-dlcbps])([rwxsStT-]{9})\s+[0-9]+\s+(\S*)\s+(\S*)\s+[0-9]+\s+.*\s+(\S+)$`)
)

type lsAttr struct {
	user, group string
	mode        int64
}

// Ls returns a mapper that sets the owner, group and mode of entries from
// the output of "ls -laR", run at the root of the data. Entries missing from
// the listing are left unchanged; numeric ids are never touched.
//
// The listing is a sequence of sections, one per directory: a "./dir:"
// header (absent for the first, root, section), a "total" line, the "." and
// ".." lines, then one line per child up to a blank line. Only regular files
// are read from the child lines; directories get their attributes from their
// own section.
func Ls(r io.Reader) (deb.Mapper, error) {
	attrs, err := parseLs(r)
	if err != nil {
		return nil, err
	}
	return func(e deb.Entry) deb.Entry {
		a, ok := attrs[strings.TrimSuffix(deb.ManifestPath(e.Path), "/")]
		if !ok {
			return e
		}
		e.User.Name = a.user
		e.Group.Name = a.group
		e.Mode = a.mode
		return e
	}, nil
}

type lsScanner struct {
	*bufio.Scanner
	n int
}

// next returns the next line, and false at the end of the listing.
func (s *lsScanner) next() (string, bool) {
	if !s.Scan() {
		return "", false
	}
	s.n++
	return strings.TrimSuffix(s.Text(), "\r"), true
}

func (s *lsScanner) fail(format string, args ...any) error {
	return &ParseError{Line: s.n, Msg: fmt.Sprintf(format, args...)}
}

func parseLs(r io.Reader) (map[string]lsAttr, error) {
	s := &lsScanner{Scanner: bufio.NewScanner(r)}
	attrs := make(map[string]lsAttr)
	for first := true; ; first = false {
		line, ok := s.next()
		if !ok {
			if first {
				return nil, s.fail("empty listing")
			}
			break
		}
		base := ""
		if m := lsBase.FindStringSubmatch(line); m != nil {
			base = m[1]
			if line, ok = s.next(); !ok {
				return nil, s.fail("unexpected end of listing, expected a total line")
			}
		} else if line == ".:" && first {
			if line, ok = s.next(); !ok {
				return nil, s.fail("unexpected end of listing, expected a total line")
			}
		} else if !first {
			return nil, s.fail("expected base line but got %q", line)
		}
		if !lsTotal.MatchString(line) {
			return nil, s.fail("expected total line but got %q", line)
		}

		// "." then "..".
		for i := 0; i < 2; i++ {
			line, ok = s.next()
			if !ok {
				return nil, s.fail("unexpected end of listing, expected a dirline")
			}
			m := lsDir.FindStringSubmatch(line)
			if m == nil {
				return nil, s.fail("expected dirline but got %q", line)
			}
			if i == 0 {
				attrs[base] = lsAttr{user: m[2], group: m[3], mode: parseLsMode(m[1])}
			}
		}

		for {
			line, ok = s.next()
			if !ok || line == "" {
				break
			}
			m := lsEntry.FindStringSubmatch(line)
			if m == nil {
				return nil, s.fail("expected file line but got %q", line)
			}
			if m[1] != "-" {
				continue
			}
			attrs[lsJoin(base, m[5])] = lsAttr{user: m[3], group: m[4], mode: parseLsMode(m[2])}
		}
		if !ok {
			break
		}
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return attrs, nil
}

func lsJoin(base, name string) string {
	if base == "" {
		return name
	}
	return base + "/" + name
}

// parseLsMode converts the nine permission characters of an ls line, such as
// "rwsr-xr-t", into mode bits.
func parseLsMode(s string) int64 {
	var mode int64
	for i, c := range s {
		bit := int64(1) << (8 - i)
		switch c {
		case 'r', 'w', 'x':
			mode |= bit
		case 's', 't':
			mode |= bit | lsSpecial(i)
		case 'S', 'T':
			mode |= lsSpecial(i)
		}
	}
	return mode
}

// lsSpecial returns the setuid, setgid or sticky bit carried by the execute
// column at index i.
func lsSpecial(i int) int64 {
	switch i {
	case 2:
		return 04000
	case 5:
		return 02000
	case 8:
		return 01000
	}
	return 0
}
