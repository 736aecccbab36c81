package producer

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/internal/logger"
)

// Directory produces the content of a directory tree.
//
// Entries are named relative to Dir. The root itself is not emitted.
// Directories come before the files they contain. Symbolic links to regular
// files are followed; other symbolic links are emitted as links.
type Directory struct {
	Dir string
	Filter
	Mapper  deb.Mapper
	Missing MissingPolicy
}

// Produce walks Dir in lexical order.
func (d *Directory) Produce(ctx context.Context, r deb.Receiver) error {
	info, err := stat(ctx, d.Dir, d.Missing)
	if err != nil || info == nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("data source %s is not a directory", d.Dir)
	}
	m, err := d.Filter.compile()
	if err != nil {
		return err
	}
	logger.Debugf(ctx, "Scanning directory %s", d.Dir)
	r = receiver(r, d.Mapper)

	return filepath.WalkDir(d.Dir, func(path string, de fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		rel, err := filepath.Rel(d.Dir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = filepath.ToSlash(rel)

		ex, err := m.excluded(rel)
		if err != nil {
			return err
		}
		if ex {
			if de.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		in, err := m.included(rel)
		if err != nil {
			return err
		}
		if !in {
			// keep descending: an include may select a nested path
			return nil
		}

		fi, err := de.Info()
		if err != nil {
			return err
		}
		switch {
		case de.IsDir():
			e := rootEntry(deb.KindDirectory, rel, DefaultDirMode)
			e.ModTime = fi.ModTime()
			return r.OnDirectory(e)
		case fi.Mode()&fs.ModeSymlink != 0:
			return d.symlink(r, path, rel, fi)
		case fi.Mode().IsRegular():
			return r.OnFile(fileEntry(path, rel, fi))
		}
		logger.Debugf(ctx, "Skipping special file %s", path)
		return nil
	})
}

func (d *Directory) symlink(r deb.Receiver, path, rel string, fi fs.FileInfo) error {
	if target, err := os.Stat(path); err == nil && target.Mode().IsRegular() {
		return r.OnFile(fileEntry(path, rel, target))
	}
	dest, err := os.Readlink(path)
	if err != nil {
		return err
	}
	e := rootEntry(deb.KindSymlink, rel, DefaultFileMode)
	e.LinkTarget = filepath.ToSlash(dest)
	e.ModTime = fi.ModTime()
	return r.OnLink(e)
}

// fileEntry describes the regular file at path, installed as name.
func fileEntry(path, name string, fi fs.FileInfo) deb.Entry {
	e := rootEntry(deb.KindFile, name, DefaultFileMode)
	e.Size = fi.Size()
	e.ModTime = fi.ModTime()
	e.Open = func() (io.ReadCloser, error) { return os.Open(path) }
	return e
}
