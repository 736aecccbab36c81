package producer

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/etnz/debmaker/deb"
)

// Keep marks a numeric Perm attribute that must not be changed.
const Keep = -1

// Perm rewrites ownership, modes and location of entries.
//
// Numeric fields set to Keep and empty names leave the entry unchanged.
// Use NewPerm to start from a Perm that changes nothing.
type Perm struct {
	UID, GID    int
	User, Group string
	FileMode    int64
	DirMode     int64
	Strip       int
	Prefix      string
}

// NewPerm returns a Perm that keeps every attribute.
func NewPerm() Perm {
	return Perm{UID: Keep, GID: Keep, FileMode: Keep, DirMode: Keep}
}

// Map applies p to e.
func (p Perm) Map(e deb.Entry) deb.Entry {
	e.Path = relocate(p.Strip, p.Prefix, e.Path)
	if p.UID > Keep {
		e.User.ID = p.UID
	}
	if p.GID > Keep {
		e.Group.ID = p.GID
	}
	if p.User != "" {
		e.User.Name = p.User
	}
	if p.Group != "" {
		e.Group.Name = p.Group
	}
	switch e.Kind {
	case deb.KindDirectory:
		if p.DirMode > Keep {
			e.Mode = p.DirMode
		}
	case deb.KindFile:
		if p.FileMode > Keep {
			e.Mode = p.FileMode
		}
	}
	return e
}

// Prefix returns a mapper that strips strip leading path elements then
// prepends prefix.
func Prefix(strip int, prefix string) deb.Mapper {
	return func(e deb.Entry) deb.Entry {
		e.Path = relocate(strip, prefix, e.Path)
		return e
	}
}

func relocate(strip int, prefix, name string) string {
	if strip <= 0 && prefix == "" {
		return name
	}
	return path.Join("/", prefix, StripPath(strip, name))
}

// StripPath removes the first n slash separated elements of p. A path with
// fewer elements is returned unchanged.
//
//	StripPath(1, "a/b/c")  == "b/c"
//	StripPath(2, "a/b/c")  == "c"
//	StripPath(1, "/a/b")   == "b"
func StripPath(n int, p string) string {
	if n <= 0 {
		return p
	}
	x := 0
	for i := 0; i < n; i++ {
		j := strings.IndexByte(p[min(x+1, len(p)):], '/')
		if j < 0 {
			return p
		}
		x = min(x+1, len(p)) + j
	}
	return p[x+1:]
}

// ParseMode parses an octal permission string such as "0755". The empty
// string yields Keep.
func ParseMode(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Keep, nil
	}
	m, err := strconv.ParseInt(s, 8, 64)
	if err != nil || m < 0 || m > 07777 {
		return 0, fmt.Errorf("invalid mode %q: expected an octal value up to 7777", s)
	}
	return m, nil
}
