package deb

import (
	"context"
	"io"
	"path"
	"strings"
	"time"
)

// EntryKind tells the data builder how to frame an Entry in the tar stream.
type EntryKind int

const (
	KindFile EntryKind = iota
	KindDirectory
	KindSymlink
	KindHardlink
)

func (k EntryKind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindHardlink:
		return "hardlink"
	}
	return "unknown"
}

// Owner is a user or group, by name and numeric id.
type Owner struct {
	Name string
	ID   int
}

// Root is the default owner of every entry.
var Root = Owner{Name: "root", ID: 0}

// Entry is a single filesystem object destined for the data archive.
type Entry struct {
	Kind EntryKind

	// Path is the install location. Any of "usr/bin/x", "/usr/bin/x" and
	// "./usr/bin/x" is accepted; backslashes are converted to slashes.
	Path string

	// LinkTarget is the destination of a symbolic or hard link.
	LinkTarget string

	User  Owner
	Group Owner

	// Mode holds the permission bits (e.g. 0644).
	Mode int64

	// Size is the content length of a file. Ignored for other kinds.
	Size int64

	ModTime time.Time

	// Open returns the content of a file. It is called once, while the
	// entry is written.
	Open func() (io.ReadCloser, error)
}

// Receiver consumes the entries emitted by a Producer.
type Receiver interface {
	OnDirectory(e Entry) error
	OnFile(e Entry) error
	OnLink(e Entry) error
}

// Producer emits entries into a Receiver.
type Producer interface {
	Produce(ctx context.Context, r Receiver) error
}

// ProducerFunc adapts a function to the Producer interface.
type ProducerFunc func(ctx context.Context, r Receiver) error

// Produce calls f(ctx, r).
func (f ProducerFunc) Produce(ctx context.Context, r Receiver) error {
	return f(ctx, r)
}

// Emit dispatches e to the receiver method matching its kind.
func Emit(r Receiver, e Entry) error {
	switch e.Kind {
	case KindDirectory:
		return r.OnDirectory(e)
	case KindSymlink, KindHardlink:
		return r.OnLink(e)
	default:
		return r.OnFile(e)
	}
}

// Mapper rewrites an entry before it reaches the receiver.
type Mapper func(Entry) Entry

// Chain composes mappers, applied left to right. Nil mappers are skipped.
func Chain(mappers ...Mapper) Mapper {
	return func(e Entry) Entry {
		for _, m := range mappers {
			if m != nil {
				e = m(e)
			}
		}
		return e
	}
}

// MappingReceiver applies a Mapper to every entry before forwarding it.
func MappingReceiver(r Receiver, m Mapper) Receiver {
	if m == nil {
		return r
	}
	return &mappingReceiver{next: r, m: m}
}

type mappingReceiver struct {
	next Receiver
	m    Mapper
}

func (mr *mappingReceiver) OnDirectory(e Entry) error { return mr.next.OnDirectory(mr.m(e)) }
func (mr *mappingReceiver) OnFile(e Entry) error      { return mr.next.OnFile(mr.m(e)) }
func (mr *mappingReceiver) OnLink(e Entry) error      { return mr.next.OnLink(mr.m(e)) }

// cleanPath converts backslashes and cleans p, keeping a trailing "/".
func cleanPath(p string) string {
	p = strings.ReplaceAll(p, `\`, "/")
	dir := strings.HasSuffix(p, "/")
	p = path.Clean(p)
	if dir && p != "/" && p != "." {
		p += "/"
	}
	return p
}

// TarPath normalizes p to the "./a/b" form used for archive member names.
// "." is returned unchanged.
func TarPath(p string) string {
	if p == "" || p == "." {
		return p
	}
	p = cleanPath(p)
	switch {
	case p == ".":
		return "./"
	case strings.HasPrefix(p, "/"):
		return "." + p
	default:
		return "./" + p
	}
}

// ManifestPath normalizes p to the "a/b" form used in md5sums.
func ManifestPath(p string) string {
	if p == "" || p == "." {
		return p
	}
	p = cleanPath(p)
	if p == "." {
		return ""
	}
	return strings.TrimPrefix(p, "/")
}
