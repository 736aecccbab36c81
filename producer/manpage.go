package producer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/etnz/debmaker/deb"
)

// Files produces several regular files. Each keeps its path as install
// path, or is moved under Destination when set.
type Files struct {
	Paths []string
	// Dir is the directory relative Paths are read from.
	Dir         string
	Destination string
	Mapper      deb.Mapper
	Missing     MissingPolicy
}

func (f *Files) Produce(ctx context.Context, r deb.Receiver) error {
	r = receiver(r, f.Mapper)
	for _, p := range f.Paths {
		src := p
		if f.Dir != "" && !filepath.IsAbs(p) {
			src = filepath.Join(f.Dir, p)
		}
		info, err := stat(ctx, src, f.Missing)
		if err != nil {
			return err
		}
		if info == nil {
			continue
		}
		if info.IsDir() {
			return fmt.Errorf("data source %s is a directory", src)
		}
		name := filepath.ToSlash(p)
		if f.Destination != "" {
			name = path.Join(f.Destination, filepath.Base(p))
		}
		if err := r.OnFile(fileEntry(src, name, info)); err != nil {
			return err
		}
	}
	return nil
}

const manPrefix = "/usr/share/man/man"

// ManPage produces a manual page, gzipped at best compression unless the
// source already is compressed. Destination defaults to
// /usr/share/man/man<section>/, the section being read from the file name
// ("tool.8" goes to man8) and defaulting to 1.
type ManPage struct {
	Path        string
	Destination string
	Mapper      deb.Mapper
	Missing     MissingPolicy
}

func (m *ManPage) Produce(ctx context.Context, r deb.Receiver) error {
	info, err := stat(ctx, m.Path, m.Missing)
	if err != nil || info == nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("data source %s is a directory", m.Path)
	}
	name := ManPageDestination(m.Destination, m.Path)
	if isCompressed(filepath.Ext(m.Path)) {
		return receiver(r, m.Mapper).OnFile(fileEntry(m.Path, name, info))
	}

	page, err := gzipFile(m.Path)
	if err != nil {
		return fmt.Errorf("compressing man page %s: %w", m.Path, err)
	}
	e := rootEntry(deb.KindFile, name, DefaultFileMode)
	e.Size = int64(len(page))
	e.ModTime = info.ModTime()
	e.Open = func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(page)), nil }
	return receiver(r, m.Mapper).OnFile(e)
}

// ManPageDestination returns dest when set, otherwise the install path of
// the man page file src.
//
//	ManPageDestination("", "tool.8")     == "/usr/share/man/man8/tool.8.gz"
//	ManPageDestination("", "tool.2.bz2") == "/usr/share/man/man2/tool.2.bz2"
//	ManPageDestination("", "tool")       == "/usr/share/man/man1/tool.1.gz"
func ManPageDestination(dest, src string) string {
	if dest != "" {
		return dest
	}
	name := filepath.Base(src)
	ext := ".gz"
	if e := filepath.Ext(name); isCompressed(e) {
		name, ext = strings.TrimSuffix(name, e), e
	}
	section := manSection(name)
	if section == "" {
		section = "1"
		name += ".1"
	}
	return manPrefix + section + "/" + name + ext
}

// manSection returns the single digit extension of name, if any.
func manSection(name string) string {
	e := strings.TrimPrefix(filepath.Ext(name), ".")
	if len(e) != 1 || e[0] < '0' || e[0] > '9' {
		return ""
	}
	return e
}

func isCompressed(ext string) bool {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		return false
	}
	c, err := deb.ParseCompression(ext)
	return err == nil && c != deb.CompressionNone
}

func gzipFile(name string) ([]byte, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var buf bytes.Buffer
	gw, err := gzip.NewWriterLevel(&buf, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(gw, f); err != nil {
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
