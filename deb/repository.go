package deb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"golang.org/x/sync/errgroup"

	"github.com/etnz/debmaker/internal/logger"
)

// releaseFileDateLayout is the Date format of Release files, always in UTC.
const releaseFileDateLayout = "Mon, 02 Jan 2006 15:04:05 MST"

var aptNamePattern = regexp.MustCompile(`^[a-z0-9]+$`)

func validateAptName(field, name string) error {
	if name == "" {
		return fmt.Errorf("'%s' must not be empty", field)
	}
	if !aptNamePattern.MatchString(name) {
		return fmt.Errorf("'%s' must match pattern: %s", field, aptNamePattern.String())
	}
	return nil
}

// PublicKeyExporter is implemented by signers able to publish their key.
type PublicKeyExporter interface {
	PublicKey(w io.Writer, armored bool) error
}

// IndexWriter builds a static APT repository from a folder of .deb files.
//
// The target holds pool/<component>/<p>/<package>/<file>.deb and
// dists/<codename>/ with the Packages indices and Release files.
//
// Reference: https://wiki.debian.org/DebianRepository/Format
type IndexWriter struct {
	// Source is the folder scanned (not recursively) for .deb files.
	Source string
	// Target is created by Build and must not exist.
	Target string

	// Codename names the distribution. Defaults to "devel".
	Codename string
	// Origin defaults to "Unknown".
	Origin string
	// Label defaults to "Development".
	Label       string
	Description string

	// Component defaults to "main".
	Component      string
	ComponentLabel string

	// Architectures defaults to i386 and amd64. Packages of architecture
	// "all" are listed in every architecture.
	Architectures []string

	// Signer, when set, produces InRelease and Release.gpg. When it also
	// implements PublicKeyExporter, public.gpg and public.asc are written.
	Signer Signer

	// Now is the Release date. The zero value means time.Now().
	Now time.Time
}

func (w *IndexWriter) setDefaults() {
	if w.Codename == "" {
		w.Codename = "devel"
	}
	if w.Origin == "" {
		w.Origin = "Unknown"
	}
	if w.Label == "" {
		w.Label = "Development"
	}
	if w.Component == "" {
		w.Component = "main"
	}
	if len(w.Architectures) == 0 {
		w.Architectures = []string{"i386", "amd64"}
	}
	if w.Now.IsZero() {
		w.Now = time.Now()
	}
}

func (w *IndexWriter) validate() error {
	if err := validateAptName("name", w.Codename); err != nil {
		return err
	}
	for _, a := range w.Architectures {
		if err := validateAptName("architecture", a); err != nil {
			return err
		}
	}
	return nil
}

// indexedPackage is one package file with its Packages stanza.
type indexedPackage struct {
	source string
	target string
	stanza *Document
}

// Build writes the repository.
func (w *IndexWriter) Build(ctx context.Context) error {
	w.setDefaults()
	if err := w.validate(); err != nil {
		return err
	}
	if _, err := os.Stat(w.Target); err == nil {
		return fmt.Errorf("the target path must not exist: %s", w.Target)
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if st, err := os.Stat(w.Source); err != nil || !st.IsDir() {
		return fmt.Errorf("the source path must exist and must be a directory: %s", w.Source)
	}

	entries, err := os.ReadDir(w.Source)
	if err != nil {
		return fmt.Errorf("reading source folder: %w", err)
	}
	var sources []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), ".deb") {
			sources = append(sources, filepath.Join(w.Source, e.Name()))
		}
	}
	sort.Strings(sources)

	pkgs := make([]*indexedPackage, len(sources))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, src := range sources {
		i, src := i, src
		g.Go(func() error {
			p, err := w.readArtifact(gctx, src)
			if err != nil {
				return fmt.Errorf("reading %s: %w", src, err)
			}
			pkgs[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, dir := range []string{"pool", "dists"} {
		if err := os.MkdirAll(filepath.Join(w.Target, dir), 0o755); err != nil {
			return err
		}
	}

	byArch := make(map[string][]*Document)
	for _, p := range pkgs {
		if err := copyFile(p.source, p.target); err != nil {
			return fmt.Errorf("copying artifact: %w", err)
		}
		logger.Infof(ctx, "Copy artifact: %s", p.target)

		arch := p.stanza.Get(string(FieldArchitecture))
		if arch == "all" {
			for _, a := range w.Architectures {
				byArch[a] = append(byArch[a], p.stanza)
			}
		} else if containsString(w.Architectures, arch) {
			byArch[arch] = append(byArch[arch], p.stanza)
		} else {
			logger.Warnf(ctx, "Skipping %s: architecture %s is not indexed", p.source, arch)
		}
	}

	distDir := filepath.Join(w.Target, "dists", w.Codename)
	for _, arch := range w.Architectures {
		stanzas, ok := byArch[arch]
		if !ok {
			continue
		}
		if err := w.writePackageList(ctx, distDir, arch, stanzas); err != nil {
			return err
		}
	}
	return w.writeRelease(ctx, distDir)
}

func (w *IndexWriter) readArtifact(ctx context.Context, src string) (*indexedPackage, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := Inspect(f)
	if err != nil {
		return nil, err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	cw := mustChecksumWriter(nil, "MD5", "SHA1", "SHA256")
	if _, err := io.Copy(cw, f); err != nil {
		return nil, err
	}

	stanza, err := ParseDocument(PackagesSchema, strings.NewReader(info.Control.String()))
	if err != nil {
		return nil, err
	}
	name := stanza.Get(string(FieldPackage))
	if name == "" {
		return nil, fmt.Errorf("package has no name")
	}
	rel := filepath.ToSlash(filepath.Join("pool", w.Component, name[:1], name, filepath.Base(src)))

	stanza.Set(string(FieldMD5sum), cw.SumOf("MD5"))
	stanza.Set(string(FieldSHA1), cw.SumOf("SHA1"))
	stanza.Set(string(FieldSHA256), cw.SumOf("SHA256"))
	stanza.Set(string(FieldSize), strconv.FormatInt(cw.Size(), 10))
	stanza.Set(string(FieldFilename), rel)
	logger.Debugf(ctx, "Processing: %s", name)

	return &indexedPackage{
		source: src,
		target: filepath.Join(w.Target, filepath.FromSlash(rel)),
		stanza: stanza,
	}, nil
}

func (w *IndexWriter) writePackageList(ctx context.Context, distDir, arch string, stanzas []*Document) error {
	dir := filepath.Join(distDir, w.Component, "binary-"+arch)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var packages bytes.Buffer
	for _, s := range stanzas {
		packages.WriteString(s.String())
		packages.WriteString("\n")
	}
	if err := writeIndexFile(ctx, filepath.Join(dir, "Packages"), packages.Bytes()); err != nil {
		return err
	}

	var gz bytes.Buffer
	gw, err := gzip.NewWriterLevel(&gz, gzip.BestCompression)
	if err != nil {
		return err
	}
	if _, err := gw.Write(packages.Bytes()); err != nil {
		return err
	}
	if err := gw.Close(); err != nil {
		return err
	}
	if err := writeIndexFile(ctx, filepath.Join(dir, "Packages.gz"), gz.Bytes()); err != nil {
		return err
	}

	crf := NewDocument(ComponentReleaseSchema)
	crf.Set(string(RelComponent), w.Component)
	crf.Set(string(RelArchitecture), arch)
	crf.Set(string(RelLabel), w.ComponentLabel)
	crf.Set(string(RelOrigin), w.Origin)
	return writeIndexFile(ctx, filepath.Join(dir, "Release"), []byte(crf.String()))
}

func writeIndexFile(ctx context.Context, path string, content []byte) error {
	logger.Infof(ctx, "Writing: %s", path)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func (w *IndexWriter) writeRelease(ctx context.Context, distDir string) error {
	if err := os.MkdirAll(distDir, 0o755); err != nil {
		return err
	}
	rf := NewDocument(DistributionReleaseSchema)
	rf.Set(string(RelCodename), w.Codename)
	rf.Set(string(RelOrigin), w.Origin)
	rf.Set(string(RelLabel), w.Label)
	rf.Set(string(RelDescription), w.Description)
	rf.Set(string(RelComponents), w.Component)
	rf.Set(string(RelArchitectures), strings.Join(w.Architectures, " "))
	rf.Set(string(RelDate), w.Now.UTC().Format(releaseFileDateLayout))

	sums, err := w.digestPackageLists(distDir)
	if err != nil {
		return err
	}
	rf.Set(string(RelMD5Sum), sums["MD5"])
	rf.Set(string(RelSHA1), sums["SHA1"])
	rf.Set(string(RelSHA256), sums["SHA256"])

	release := []byte(rf.String())
	if err := writeIndexFile(ctx, filepath.Join(distDir, "Release"), release); err != nil {
		return err
	}
	if w.Signer == nil {
		return nil
	}

	var inRelease bytes.Buffer
	if err := w.Signer.ClearSign(&inRelease, bytes.NewReader(release)); err != nil {
		return fmt.Errorf("signing InRelease: %w", err)
	}
	if err := writeIndexFile(ctx, filepath.Join(distDir, "InRelease"), inRelease.Bytes()); err != nil {
		return err
	}
	var detached bytes.Buffer
	if err := w.Signer.DetachSign(&detached, bytes.NewReader(release)); err != nil {
		return fmt.Errorf("signing Release.gpg: %w", err)
	}
	if err := writeIndexFile(ctx, filepath.Join(distDir, "Release.gpg"), detached.Bytes()); err != nil {
		return err
	}

	exporter, ok := w.Signer.(PublicKeyExporter)
	if !ok {
		return nil
	}
	for _, k := range []struct {
		name    string
		armored bool
	}{{"public.gpg", false}, {"public.asc", true}} {
		var buf bytes.Buffer
		if err := exporter.PublicKey(&buf, k.armored); err != nil {
			return fmt.Errorf("exporting public key: %w", err)
		}
		if err := writeIndexFile(ctx, filepath.Join(w.Target, k.name), buf.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// digestPackageLists renders the checksum blocks of the distribution Release,
// one per algorithm, listing every index below distDir.
func (w *IndexWriter) digestPackageLists(distDir string) (map[string]string, error) {
	algs := []string{"MD5", "SHA1", "SHA256"}
	blocks := make(map[string]*strings.Builder, len(algs))
	for _, a := range algs {
		blocks[a] = &strings.Builder{}
	}
	for _, arch := range w.Architectures {
		for _, name := range []string{"Packages", "Packages.gz", "Release"} {
			rel := w.Component + "/binary-" + arch + "/" + name
			f, err := os.Open(filepath.Join(distDir, filepath.FromSlash(rel)))
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			cw := mustChecksumWriter(nil, algs...)
			_, err = io.Copy(cw, f)
			f.Close()
			if err != nil {
				return nil, fmt.Errorf("hashing %s: %w", rel, err)
			}
			for i, a := range algs {
				fmt.Fprintf(blocks[a], "%s %20d %s\n", cw.Sum(i), cw.Size(), rel)
			}
		}
	}
	out := make(map[string]string, len(algs))
	for a, b := range blocks {
		out[a] = b.String()
	}
	return out, nil
}

func copyFile(src, dst string) (err error) {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer removeOnError(dst, &err)
	if _, err = io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
