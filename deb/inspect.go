package deb

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/blakesmith/ar"
)

// ArMember describes one member of the outer ar container.
type ArMember struct {
	Name    string
	Size    int64
	Mode    int64
	Uid     int
	Gid     int
	ModTime time.Time
}

// TarMember describes one entry of the control or data archive.
type TarMember struct {
	Name       string
	Kind       EntryKind
	LinkTarget string
	Mode       int64
	Uid        int
	Gid        int
	Uname      string
	Gname      string
	Size       int64
	ModTime    time.Time
}

// PackageInfo is the content of a built package.
type PackageInfo struct {
	Members []ArMember
	Control *Document
	// ControlFiles lists the control archive entries in archive order.
	ControlFiles []TarMember
	// ControlContent maps a control member name ("postinst") to its content.
	ControlContent map[string][]byte
	// Data lists the data archive entries in archive order.
	Data      []TarMember
	MD5Sums   string
	Conffiles []string
	// Signature is the content of the _gpg member, if any.
	Signature []byte
	// DataContent maps data file names ("./usr/bin/x") to their content.
	// Only filled when requested.
	DataContent map[string][]byte
}

// Member returns the ar member named name.
func (p *PackageInfo) Member(name string) (ArMember, bool) {
	for _, m := range p.Members {
		if m.Name == name {
			return m, true
		}
	}
	return ArMember{}, false
}

// DataEntry returns the data archive entry named name (any path form).
func (p *PackageInfo) DataEntry(name string) (TarMember, bool) {
	want := ManifestPath(strings.TrimSuffix(name, "/"))
	for _, m := range p.Data {
		if ManifestPath(strings.TrimSuffix(m.Name, "/")) == want {
			return m, true
		}
	}
	return TarMember{}, false
}

// InspectOption tunes Inspect.
type InspectOption func(*inspectConfig)

type inspectConfig struct {
	withData bool
}

// WithDataContent keeps the content of every data file in PackageInfo.DataContent.
func WithDataContent() InspectOption {
	return func(c *inspectConfig) { c.withData = true }
}

// Inspect reads a .deb stream.
func Inspect(r io.Reader, opts ...InspectOption) (*PackageInfo, error) {
	var cfg inspectConfig
	for _, o := range opts {
		o(&cfg)
	}
	info := &PackageInfo{ControlContent: make(map[string][]byte)}
	if cfg.withData {
		info.DataContent = make(map[string][]byte)
	}

	arR := ar.NewReader(r)
	for {
		hdr, err := arR.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading ar header: %w", err)
		}
		name := strings.TrimSuffix(hdr.Name, "/")
		info.Members = append(info.Members, ArMember{
			Name:    name,
			Size:    hdr.Size,
			Mode:    hdr.Mode,
			Uid:     hdr.Uid,
			Gid:     hdr.Gid,
			ModTime: hdr.ModTime,
		})

		switch {
		case strings.HasPrefix(name, "control.tar"):
			if err := info.readControl(arR, CompressionForName(name)); err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
		case strings.HasPrefix(name, string(PkgDataTar)):
			if err := info.readData(arR, CompressionForName(name)); err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
		case strings.HasPrefix(name, string(PkgSignaturePrefix)):
			sig, err := io.ReadAll(arR)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", name, err)
			}
			info.Signature = sig
		}
	}

	if info.Control == nil {
		return nil, ErrNoControlFile
	}
	return info, nil
}

func tarMember(th *tar.Header) TarMember {
	m := TarMember{
		Name:       th.Name,
		LinkTarget: th.Linkname,
		Mode:       th.Mode,
		Uid:        th.Uid,
		Gid:        th.Gid,
		Uname:      th.Uname,
		Gname:      th.Gname,
		Size:       th.Size,
		ModTime:    th.ModTime,
	}
	switch th.Typeflag {
	case tar.TypeDir:
		m.Kind = KindDirectory
	case tar.TypeSymlink:
		m.Kind = KindSymlink
	case tar.TypeLink:
		m.Kind = KindHardlink
	default:
		m.Kind = KindFile
	}
	return m
}

func (p *PackageInfo) readControl(r io.Reader, c Compression) error {
	zr, err := c.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	for {
		th, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		p.ControlFiles = append(p.ControlFiles, tarMember(th))
		if th.Typeflag != tar.TypeReg {
			continue
		}
		var buf bytes.Buffer
		if _, err := io.Copy(&buf, tr); err != nil {
			return fmt.Errorf("reading %s: %w", th.Name, err)
		}
		name := path.Base(th.Name)
		p.ControlContent[name] = buf.Bytes()

		switch ControlFile(name) {
		case FileControl:
			doc, err := ParseDocument(BinaryControlSchema, bytes.NewReader(buf.Bytes()))
			if err != nil {
				return fmt.Errorf("parsing control file: %w", err)
			}
			p.Control = doc
		case FileMd5sums:
			p.MD5Sums = buf.String()
		case FileConffiles:
			for _, line := range strings.Split(buf.String(), "\n") {
				if line = strings.TrimSpace(line); line != "" {
					p.Conffiles = append(p.Conffiles, line)
				}
			}
		}
	}
}

func (p *PackageInfo) readData(r io.Reader, c Compression) error {
	zr, err := c.NewReader(r)
	if err != nil {
		return err
	}
	defer zr.Close()
	tr := tar.NewReader(zr)
	for {
		th, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		p.Data = append(p.Data, tarMember(th))
		if p.DataContent != nil && th.Typeflag == tar.TypeReg {
			body, err := io.ReadAll(tr)
			if err != nil {
				return fmt.Errorf("reading %s: %w", th.Name, err)
			}
			p.DataContent[th.Name] = body
		}
	}
}
