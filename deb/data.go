package deb

import (
	"archive/tar"
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/etnz/debmaker/internal/logger"
)

// Tar header field widths.
//
// Reference: https://www.gnu.org/software/tar/manual/html_node/Standard.html
const (
	tarNameLen  = 100
	tarUnameLen = 32
	tarGnameLen = 32
)

// LongFileMode selects how names longer than 100 bytes are stored.
type LongFileMode int

const (
	// LongFileGNU stores long names in GNU ././@LongLink records.
	LongFileGNU LongFileMode = iota
	// LongFilePOSIX stores long names in PAX extended headers.
	LongFilePOSIX
	// LongFileError fails on long names.
	LongFileError
	// LongFileTruncate cuts names to 100 bytes.
	LongFileTruncate
)

// ParseLongFileMode accepts "gnu" (default), "posix", "error" and "truncate".
func ParseLongFileMode(s string) (LongFileMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "gnu":
		return LongFileGNU, nil
	case "posix":
		return LongFilePOSIX, nil
	case "error":
		return LongFileError, nil
	case "truncate":
		return LongFileTruncate, nil
	}
	return LongFileGNU, fmt.Errorf("unknown long file mode %q", s)
}

func (m LongFileMode) format() tar.Format {
	if m == LongFilePOSIX {
		return tar.FormatPAX
	}
	return tar.FormatGNU
}

// PathStyle selects how member names are rooted.
type PathStyle int

const (
	// DotSlashPaths produces "./usr/bin/x", as dpkg expects.
	DotSlashPaths PathStyle = iota
	// PlainPaths produces "usr/bin/x", as used by Synology packages.
	PlainPaths
)

// DirectorySet records the directories already written to an archive.
// Keys carry a trailing slash.
type DirectorySet map[string]struct{}

// Add records dir and reports whether it was new.
func (s DirectorySet) Add(dir string) bool {
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	if _, ok := s[dir]; ok {
		return false
	}
	s[dir] = struct{}{}
	return true
}

// DataBuilder writes the payload tar of a package.
type DataBuilder struct {
	Compression  Compression
	LongFileMode LongFileMode
	PathStyle    PathStyle
	// Timestamp, when non-zero, replaces the modification time of every entry.
	Timestamp time.Time
}

// DataSummary is the outcome of a data build.
type DataSummary struct {
	// Bytes is the sum of the regular file sizes.
	Bytes int64
	// Checksums holds one MD5 line per regular file, in emission order.
	Checksums ChecksumManifest
	// Files counts regular files.
	Files int
}

// InstalledSizeKB is the value of the Installed-Size field.
func (s *DataSummary) InstalledSizeKB() int64 {
	return s.Bytes / 1024
}

// Build streams every producer's entries into w as a compressed tar.
func (b *DataBuilder) Build(ctx context.Context, w io.Writer, producers ...Producer) (*DataSummary, error) {
	cw, err := b.Compression.NewWriter(w)
	if err != nil {
		return nil, err
	}
	tw := tar.NewWriter(cw)

	rcv := &dataReceiver{
		ctx:     ctx,
		b:       b,
		tw:      tw,
		dirs:    DirectorySet{},
		summary: &DataSummary{},
	}

	for _, p := range producers {
		if err := ctx.Err(); err != nil {
			tw.Close()
			cw.Close()
			return nil, err
		}
		if err := p.Produce(ctx, rcv); err != nil {
			tw.Close()
			cw.Close()
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		cw.Close()
		return nil, fmt.Errorf("closing data tar: %w", err)
	}
	if err := cw.Close(); err != nil {
		return nil, fmt.Errorf("closing %s stream: %w", b.Compression, err)
	}
	logger.DebugKV(ctx, "data archive written", "bytes", rcv.summary.Bytes, "files", rcv.summary.Files)
	return rcv.summary, nil
}

type dataReceiver struct {
	ctx     context.Context
	b       *DataBuilder
	tw      *tar.Writer
	dirs    DirectorySet
	summary *DataSummary
}

func checkField(field, value string, max int) error {
	if len(value) > max {
		return &FieldWidthError{Field: field, Value: value, Max: max}
	}
	return nil
}

func checkFields(e Entry) error {
	if err := checkField("linkname", e.LinkTarget, tarNameLen); err != nil {
		return err
	}
	if err := checkField("uname", e.User.Name, tarUnameLen); err != nil {
		return err
	}
	return checkField("gname", e.Group.Name, tarGnameLen)
}

func (r *dataReceiver) name(p string) string {
	if r.b.PathStyle == PlainPaths {
		return ManifestPath(p)
	}
	return TarPath(p)
}

func (r *dataReceiver) modTime(e Entry) time.Time {
	switch {
	case !r.b.Timestamp.IsZero():
		return r.b.Timestamp.Truncate(time.Second)
	case !e.ModTime.IsZero():
		return e.ModTime.Truncate(time.Second)
	}
	return time.Now().Truncate(time.Second)
}

func (r *dataReceiver) header(name string, e Entry) (*tar.Header, error) {
	if len(name) >= tarNameLen {
		switch r.b.LongFileMode {
		case LongFileError:
			return nil, fmt.Errorf("file name is too long (>= %d bytes): %s", tarNameLen, name)
		case LongFileTruncate:
			name = name[:tarNameLen]
		}
	}
	return &tar.Header{
		Name:    name,
		Mode:    e.Mode & 07777,
		Uid:     e.User.ID,
		Gid:     e.Group.ID,
		Uname:   e.User.Name,
		Gname:   e.Group.Name,
		ModTime: r.modTime(e),
		Format:  r.b.LongFileMode.format(),
	}, nil
}

// createParents writes every missing ancestor of name, outermost first.
func (r *dataReceiver) createParents(name string, e Entry) error {
	dir := path.Dir(ManifestPath(strings.TrimSuffix(name, "/")))
	if dir == "." || dir == "/" || dir == "" {
		return nil
	}
	prefix := ""
	if r.b.PathStyle == DotSlashPaths {
		prefix = "./"
	}
	for _, part := range strings.Split(dir, "/") {
		prefix += part + "/"
		parent := e
		parent.Mode = 0755
		if err := r.createDirectory(prefix, parent); err != nil {
			return err
		}
	}
	return nil
}

func (r *dataReceiver) createDirectory(dir string, e Entry) error {
	if !strings.HasSuffix(dir, "/") {
		dir += "/"
	}
	if !r.dirs.Add(dir) {
		return nil
	}
	hdr, err := r.header(dir, e)
	if err != nil {
		return err
	}
	hdr.Typeflag = tar.TypeDir
	if err := r.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing directory %s: %w", dir, err)
	}
	return nil
}

func (r *dataReceiver) OnDirectory(e Entry) error {
	if err := checkFields(e); err != nil {
		return err
	}
	name := r.name(e.Path)
	if name == "." || name == "" {
		return nil
	}
	if err := r.createParents(name, e); err != nil {
		return err
	}
	if err := r.createDirectory(name, e); err != nil {
		return err
	}
	logger.DebugKV(r.ctx, "dir", "name", name, "mode", fmt.Sprintf("%o", e.Mode), "user", e.User.Name, "group", e.Group.Name)
	return nil
}

func (r *dataReceiver) OnFile(e Entry) error {
	if err := checkFields(e); err != nil {
		return err
	}
	name := r.name(e.Path)
	if err := r.createParents(name, e); err != nil {
		return err
	}

	var content io.Reader = bytes.NewReader(nil)
	if e.Open != nil {
		rc, err := e.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", e.Path, err)
		}
		defer rc.Close()
		content = rc
	}
	if e.Size < 0 {
		buf, err := io.ReadAll(content)
		if err != nil {
			return fmt.Errorf("reading %s: %w", e.Path, err)
		}
		e.Size = int64(len(buf))
		content = bytes.NewReader(buf)
	}

	hdr, err := r.header(name, e)
	if err != nil {
		return err
	}
	hdr.Typeflag = tar.TypeReg
	hdr.Size = e.Size
	if err := r.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}

	sum := mustChecksumWriter(r.tw, "MD5")
	n, err := io.Copy(sum, content)
	if err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	if n != e.Size {
		return fmt.Errorf("writing %s: expected %d bytes, got %d", name, e.Size, n)
	}

	r.summary.Bytes += e.Size
	r.summary.Files++
	r.summary.Checksums.Add(sum.Sum(0), e.Size, ManifestPath(e.Path))

	logger.DebugKV(r.ctx, "file", "name", name, "size", e.Size, "mode", fmt.Sprintf("%o", e.Mode), "md5", sum.Sum(0))
	return nil
}

func (r *dataReceiver) OnLink(e Entry) error {
	if err := checkFields(e); err != nil {
		return err
	}
	name := r.name(e.Path)
	if err := r.createParents(name, e); err != nil {
		return err
	}
	hdr, err := r.header(name, e)
	if err != nil {
		return err
	}
	hdr.Linkname = e.LinkTarget
	hdr.Typeflag = tar.TypeSymlink
	if e.Kind == KindHardlink {
		hdr.Typeflag = tar.TypeLink
		hdr.Linkname = r.name(e.LinkTarget)
	}
	if err := r.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing link %s: %w", name, err)
	}
	logger.DebugKV(r.ctx, "link", "name", name, "target", e.LinkTarget, "mode", fmt.Sprintf("%o", e.Mode))
	return nil
}
