package producer

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/etnz/debmaker/deb"
)

const creatorUnix = 3

// Archive produces the entries of an existing tar or zip archive.
//
// The format is chosen from the file name: ".zip", or ".tar" optionally
// compressed (".tar.gz", ".tgz", ".tar.bz2", ".tbz2", ".tar.xz", ".txz",
// ".tar.zst"). Tar entries keep their mode and ownership; zip entries are
// owned by root.
type Archive struct {
	Path string
	Filter
	Mapper  deb.Mapper
	Missing MissingPolicy
}

func (a *Archive) Produce(ctx context.Context, r deb.Receiver) error {
	info, err := stat(ctx, a.Path, a.Missing)
	if err != nil || info == nil {
		return err
	}
	m, err := a.Filter.compile()
	if err != nil {
		return err
	}
	r = receiver(r, a.Mapper)
	if strings.HasSuffix(strings.ToLower(a.Path), ".zip") {
		err = a.produceZip(ctx, m, r)
	} else {
		err = a.produceTar(ctx, m, r)
	}
	if err != nil {
		return fmt.Errorf("reading archive %s: %w", a.Path, err)
	}
	return nil
}

func (a *Archive) produceTar(ctx context.Context, m *matcher, r deb.Receiver) error {
	f, err := os.Open(a.Path)
	if err != nil {
		return err
	}
	defer f.Close()
	zr, err := deb.CompressionForName(strings.ToLower(a.Path)).NewReader(f)
	if err != nil {
		return err
	}
	defer zr.Close()

	tr := tar.NewReader(zr)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		name := archiveName(h.Name)
		if name == "" {
			continue
		}
		ok, err := m.selected(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		e := deb.Entry{
			Path:    name,
			User:    deb.Owner{Name: h.Uname, ID: h.Uid},
			Group:   deb.Owner{Name: h.Gname, ID: h.Gid},
			Mode:    h.Mode & 07777,
			ModTime: h.ModTime,
		}
		switch h.Typeflag {
		case tar.TypeDir:
			e.Kind = deb.KindDirectory
		case tar.TypeSymlink:
			e.Kind = deb.KindSymlink
			e.LinkTarget = h.Linkname
		case tar.TypeLink:
			e.Kind = deb.KindHardlink
			e.LinkTarget = h.Linkname
		case tar.TypeReg:
			e.Kind = deb.KindFile
			e.Size = h.Size
			e.Open = func() (io.ReadCloser, error) { return io.NopCloser(tr), nil }
		default:
			continue
		}
		if err := deb.Emit(r, e); err != nil {
			return err
		}
	}
}

func (a *Archive) produceZip(ctx context.Context, m *matcher, r deb.Receiver) error {
	zr, err := zip.OpenReader(a.Path)
	if err != nil {
		return err
	}
	defer zr.Close()

	for _, zf := range zr.File {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := archiveName(zf.Name)
		if name == "" {
			continue
		}
		ok, err := m.selected(name)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}

		mode := zf.Mode()
		e := rootEntry(deb.KindFile, name, DefaultFileMode)
		e.ModTime = zf.Modified
		switch {
		case mode.IsDir():
			e.Kind = deb.KindDirectory
			e.Mode = DefaultDirMode
		case mode&fs.ModeSymlink != 0:
			target, err := readZipFile(zf)
			if err != nil {
				return err
			}
			e.Kind = deb.KindSymlink
			e.LinkTarget = target
		default:
			e.Size = int64(zf.UncompressedSize64)
			e.Open = func() (io.ReadCloser, error) { return zf.Open() }
		}
		// only unix archivers record meaningful permissions
		if zf.CreatorVersion>>8 == creatorUnix && mode.Perm() != 0 {
			e.Mode = int64(mode.Perm())
		}
		if err := deb.Emit(r, e); err != nil {
			return err
		}
	}
	return nil
}

func readZipFile(zf *zip.File) (string, error) {
	rc, err := zf.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	return string(b), err
}

// archiveName returns the relative name of an archive member, without the
// leading "./" or "/" and without the trailing slash of directories.
func archiveName(name string) string {
	name = strings.TrimSuffix(deb.ManifestPath(name), "/")
	if name == "." {
		return ""
	}
	return name
}
