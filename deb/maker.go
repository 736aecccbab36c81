package deb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/blakesmith/ar"

	"github.com/etnz/debmaker/internal/logger"
)

// Defaults fill control fields the control file leaves unset.
type Defaults struct {
	Package     string
	Section     string
	Description string
	Depends     string
	Homepage    string
}

func (d Defaults) apply(doc *Document) {
	setIfMissing := func(f ControlField, v string) {
		if !doc.Has(string(f)) {
			doc.Set(string(f), v)
		}
	}
	setIfMissing(FieldPackage, d.Package)
	setIfMissing(FieldSection, d.Section)
	setIfMissing(FieldDescription, d.Description)
	setIfMissing(FieldDepends, d.Depends)
	setIfMissing(FieldHomepage, d.Homepage)
}

// Maker assembles a .deb file.
type Maker struct {
	// ControlDir holds the control file, maintainer scripts and extra
	// control files.
	ControlDir string
	// Output is the path of the .deb file to write.
	Output string

	// Producers emit the data archive entries.
	Producers []Producer
	// Conffiles lists the absolute paths written to the conffiles member.
	Conffiles []string

	Compression  Compression
	LongFileMode LongFileMode

	OpenToken  string
	CloseToken string
	Resolver   Resolver

	// Timestamp, when non-zero, is used for every member of every archive.
	Timestamp time.Time
	// LookupEnv reads environment overrides. Nil means os.LookupEnv.
	LookupEnv LookupEnvFunc

	Defaults Defaults

	// Signer, when set, adds a _gpg<SignRole> member.
	Signer     Signer
	SignMethod SignMethod
	SignRole   string

	// TempDir holds the intermediate archives. Empty means os.TempDir().
	TempDir string
}

func (m *Maker) signRole() string {
	if m.SignRole == "" {
		return DefaultSignRole
	}
	return m.SignRole
}

// DataMemberName is the ar member name of the data archive.
func (m *Maker) DataMemberName() string {
	return string(PkgDataTar) + m.Compression.Extension()
}

// Make writes the package to m.Output and returns its control document.
// Intermediate files are always removed, and so is a partial output on failure.
func (m *Maker) Make(ctx context.Context) (doc *Document, err error) {
	if m.Output == "" {
		return nil, fmt.Errorf("no output file")
	}

	dataFile, err := os.CreateTemp(m.TempDir, "deb-data-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary data file: %w", err)
	}
	defer os.Remove(dataFile.Name())
	controlFile, err := os.CreateTemp(m.TempDir, "deb-control-*")
	if err != nil {
		dataFile.Close()
		return nil, fmt.Errorf("creating temporary control file: %w", err)
	}
	defer os.Remove(controlFile.Name())

	logger.Debug(ctx, "Building data")
	db := &DataBuilder{
		Compression:  m.Compression,
		LongFileMode: m.LongFileMode,
		Timestamp:    m.Timestamp,
	}
	summary, err := db.Build(ctx, dataFile, m.Producers...)
	if cerr := dataFile.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		controlFile.Close()
		return nil, fmt.Errorf("building data archive: %w", err)
	}

	logger.Debug(ctx, "Building control")
	cb := &ControlBuilder{
		OpenToken:  m.OpenToken,
		CloseToken: m.CloseToken,
		Resolver:   m.Resolver,
		Timestamp:  m.Timestamp,
		LookupEnv:  m.LookupEnv,
	}
	doc, err = cb.PackageControl(ctx, filepath.Join(m.ControlDir, string(FileControl)), summary.Bytes)
	if err != nil {
		controlFile.Close()
		return nil, err
	}
	m.Defaults.apply(doc)

	err = cb.Build(ctx, controlFile, m.ControlDir, doc, m.Conffiles, &summary.Checksums)
	if cerr := controlFile.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("building control archive: %w", err)
	}

	if err := ValidateBinaryControl(doc); err != nil {
		return nil, err
	}

	members := []pendingMember{
		{name: string(PkgDebianBinary), body: []byte(debianBinaryVersion)},
		{name: string(PkgControlTarGz), path: controlFile.Name()},
		{name: m.DataMemberName(), path: dataFile.Name()},
	}
	if m.Signer != nil {
		logger.Infof(ctx, "Signing package with role %s", m.signRole())
		sig, serr := m.sign(members)
		if serr != nil {
			logger.Warnf(ctx, "Signing failed, the package is left unsigned: %v", serr)
		} else {
			members = append(members, pendingMember{name: string(PkgSignaturePrefix) + m.signRole(), body: sig})
		}
	}

	if err := os.MkdirAll(filepath.Dir(m.Output), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	n, err := m.writeAr(members)
	if err != nil {
		return nil, fmt.Errorf("writing %s: %w", m.Output, err)
	}
	logger.InfoKV(ctx, "package created", "path", m.Output, "bytes", n)
	return doc, nil
}

// pendingMember is an ar member backed by a buffer or a file.
type pendingMember struct {
	name string
	body []byte
	path string
}

func (p pendingMember) open() (io.ReadCloser, error) {
	if p.path == "" {
		return io.NopCloser(bytes.NewReader(p.body)), nil
	}
	return os.Open(p.path)
}

func (m *Maker) writeAr(members []pendingMember) (n int64, err error) {
	out, err := os.Create(m.Output)
	if err != nil {
		return 0, err
	}
	defer removeOnError(m.Output, &err)
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
	}()

	cw := &countingWriter{w: out}
	arW := ar.NewWriter(cw)
	if err := arW.WriteGlobalHeader(); err != nil {
		return cw.n, fmt.Errorf("writing ar global header: %w", err)
	}
	for _, p := range members {
		if p.path == "" {
			err = addBufferToAr(arW, p.name, p.body, m.Timestamp)
		} else {
			err = addFileToAr(arW, p.name, p.path, m.Timestamp)
		}
		if err != nil {
			return cw.n, fmt.Errorf("writing %s: %w", p.name, err)
		}
	}
	return cw.n, nil
}

// sign computes the signature member over members.
func (m *Maker) sign(members []pendingMember) ([]byte, error) {
	var buf bytes.Buffer
	if m.SignMethod != SignDpkgSig {
		readers := make([]io.Reader, 0, len(members))
		for _, p := range members {
			rc, err := p.open()
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			readers = append(readers, rc)
		}
		if err := m.Signer.DetachSign(&buf, io.MultiReader(readers...)); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}

	files := make([]signedFile, 0, len(members))
	for _, p := range members {
		f, err := digestMember(p)
		if err != nil {
			return nil, err
		}
		files = append(files, f)
	}
	date := m.Timestamp
	if date.IsZero() {
		date = time.Now()
	}
	manifest := dpkgSigManifest(m.signRole(), date, files)
	if err := m.Signer.ClearSign(&buf, bytes.NewReader([]byte(manifest))); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func digestMember(p pendingMember) (signedFile, error) {
	rc, err := p.open()
	if err != nil {
		return signedFile{}, err
	}
	defer rc.Close()
	cw := mustChecksumWriter(nil, "MD5", "SHA1")
	if _, err := io.Copy(cw, rc); err != nil {
		return signedFile{}, fmt.Errorf("hashing %s: %w", p.name, err)
	}
	return signedFile{name: p.name, md5: cw.Sum(0), sha1: cw.Sum(1), size: cw.Size()}, nil
}
