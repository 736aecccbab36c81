package producer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/etnz/debmaker/deb"
)

// File produces a single regular file.
type File struct {
	Path string
	// Destination is the install path. It defaults to the base name of Path,
	// which a mapper usually relocates.
	Destination string
	Mapper      deb.Mapper
	Missing     MissingPolicy
}

func (f *File) Produce(ctx context.Context, r deb.Receiver) error {
	info, err := stat(ctx, f.Path, f.Missing)
	if err != nil || info == nil {
		return err
	}
	if info.IsDir() {
		return fmt.Errorf("data source %s is a directory", f.Path)
	}
	name := f.Destination
	if name == "" {
		name = filepath.Base(f.Path)
	}
	return receiver(r, f.Mapper).OnFile(fileEntry(f.Path, name, info))
}

// Link produces a symbolic link, or a hard link when Symlink is false.
type Link struct {
	Path    string
	Target  string
	Symlink bool
	Mapper  deb.Mapper
}

func (l *Link) Produce(ctx context.Context, r deb.Receiver) error {
	if l.Path == "" || l.Target == "" {
		return fmt.Errorf("link requires a path and a target (path=%q, target=%q)", l.Path, l.Target)
	}
	kind := deb.KindHardlink
	if l.Symlink {
		kind = deb.KindSymlink
	}
	e := rootEntry(kind, l.Path, DefaultFileMode)
	e.LinkTarget = l.Target
	return receiver(r, l.Mapper).OnLink(e)
}

// PathTemplate produces empty directories, one per path.
type PathTemplate struct {
	Paths  []string
	Mapper deb.Mapper
}

func (p *PathTemplate) Produce(ctx context.Context, r deb.Receiver) error {
	r = receiver(r, p.Mapper)
	for _, path := range p.Paths {
		path = strings.TrimSpace(path)
		if path == "" {
			continue
		}
		if err := r.OnDirectory(rootEntry(deb.KindDirectory, path, DefaultDirMode)); err != nil {
			return err
		}
	}
	return nil
}
