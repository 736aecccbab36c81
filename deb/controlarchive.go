package deb

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	"github.com/etnz/debmaker/internal/logger"
)

// maintainerScripts are executed by dpkg and stored with mode 0755.
var maintainerScripts = map[string]bool{
	string(FilePreinst):  true,
	string(FilePostinst): true,
	string(FilePrerm):    true,
	string(FilePostrm):   true,
	string(FileConfig):   true,
}

// configurationFiles are templated like maintainer scripts but stored with mode 0644.
var configurationFiles = map[string]bool{
	string(FileConffiles): true,
	string(FileTemplates): true,
	string(FileTriggers):  true,
	string(FileCopyright): true,
}

// LookupEnvFunc reads an environment variable.
type LookupEnvFunc func(key string) (string, bool)

// ControlBuilder writes the control.tar.gz member of a package.
type ControlBuilder struct {
	// OpenToken and CloseToken delimit template variables. They default to
	// DefaultOpenToken and DefaultCloseToken.
	OpenToken  string
	CloseToken string
	Resolver   Resolver
	// Timestamp, when non-zero, is the modification time of every member.
	Timestamp time.Time
	// LookupEnv reads the DEBVERSION, DEBFULLNAME and DEBEMAIL overrides.
	// Nil means os.LookupEnv.
	LookupEnv LookupEnvFunc
}

func (b *ControlBuilder) tokens() (string, string) {
	open, closing := b.OpenToken, b.CloseToken
	if open == "" {
		open = DefaultOpenToken
	}
	if closing == "" {
		closing = DefaultCloseToken
	}
	return open, closing
}

func (b *ControlBuilder) lookupEnv(key string) (string, bool) {
	if b.LookupEnv == nil {
		return os.LookupEnv(key)
	}
	return b.LookupEnv(key)
}

func (b *ControlBuilder) filter(content string) string {
	open, closing := b.tokens()
	return FilterText(content, open, closing, b.Resolver)
}

// PackageControl reads and templates the control file at path, then applies
// the Distribution and Urgency defaults, the Installed-Size computed from
// dataSize and the environment overrides.
func (b *ControlBuilder) PackageControl(ctx context.Context, path string, dataSize int64) (*Document, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w in %s", ErrNoControlFile, filepath.Dir(path))
	}
	if err != nil {
		return nil, fmt.Errorf("opening control file: %w", err)
	}
	defer f.Close()

	open, closing := b.tokens()
	doc, err := ParseDocumentFiltered(BinaryControlSchema, f, open, closing, b.Resolver)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	if !doc.Has(string(FieldDistribution)) {
		doc.Set(string(FieldDistribution), "unknown")
	}
	if !doc.Has(string(FieldUrgency)) {
		doc.Set(string(FieldUrgency), "low")
	}
	doc.Set(string(FieldInstalledSize), strconv.FormatInt(dataSize/1024, 10))

	if v, ok := b.lookupEnv("DEBVERSION"); ok {
		doc.Set(string(FieldVersion), v)
		logger.Debugf(ctx, "Using version '%s' from the environment variables.", v)
	}
	name, okName := b.lookupEnv("DEBFULLNAME")
	email, okEmail := b.lookupEnv("DEBEMAIL")
	if okName && okEmail {
		maintainer := name + " <" + email + ">"
		doc.Set(string(FieldMaintainer), maintainer)
		logger.Debugf(ctx, "Using maintainer '%s' from the environment variables.", maintainer)
	}
	return doc, nil
}

// Build writes the control archive to w. Files of controlDir are added in
// name order, followed by conffiles (unless controlDir provides one), the
// control document and the md5sums of the data archive.
func (b *ControlBuilder) Build(ctx context.Context, w io.Writer, controlDir string, doc *Document, conffiles []string, manifest *ChecksumManifest) error {
	if doc == nil {
		return fmt.Errorf("%w in %s", ErrNoControlFile, controlDir)
	}
	entries, err := os.ReadDir(controlDir)
	if err != nil {
		return fmt.Errorf("reading control directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	gw, err := gzip.NewWriterLevel(w, gzip.BestCompression)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(gw)
	fail := func(err error) error {
		tw.Close()
		gw.Close()
		return err
	}

	foundConffiles := false
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return fail(err)
		}
		name := e.Name()
		full := filepath.Join(controlDir, name)
		if e.IsDir() {
			if !IsDefaultExcluded(name) {
				logger.Warnf(ctx, "Found directory '%s' in the control directory. Maybe you are pointing to wrong dir?", full)
			}
			continue
		}
		if name == string(FileConffiles) {
			foundConffiles = true
		}
		if name == string(FileControl) {
			continue
		}

		raw, err := os.ReadFile(full)
		if err != nil {
			return fail(fmt.Errorf("reading %s: %w", full, err))
		}
		content := raw
		if configurationFiles[name] || maintainerScripts[name] {
			content = []byte(b.filter(string(raw)))
		} else if info := sniff(raw); info.shell && !info.hasUnixLineEndings() {
			content = toUnixLineEndings(raw)
		}
		if err := b.addEntry(ctx, tw, name, content); err != nil {
			return fail(err)
		}
	}

	switch {
	case foundConffiles:
		logger.Info(ctx, "Found file 'conffiles' in the control directory. Skipping conffiles generation.")
	case len(conffiles) > 0:
		var sb strings.Builder
		for _, c := range conffiles {
			sb.WriteString(c)
			sb.WriteByte('\n')
		}
		if err := b.addEntry(ctx, tw, string(FileConffiles), []byte(sb.String())); err != nil {
			return fail(err)
		}
	default:
		logger.Info(ctx, "Skipping 'conffiles' generation. No entries defined.")
	}

	if err := b.addEntry(ctx, tw, string(FileControl), []byte(doc.String())); err != nil {
		return fail(err)
	}
	var sums string
	if manifest != nil {
		sums = manifest.String()
	}
	if err := b.addEntry(ctx, tw, string(FileMd5sums), []byte(sums)); err != nil {
		return fail(err)
	}

	if err := tw.Close(); err != nil {
		gw.Close()
		return fmt.Errorf("closing control tar: %w", err)
	}
	if err := gw.Close(); err != nil {
		return fmt.Errorf("closing control gzip stream: %w", err)
	}
	return nil
}

func (b *ControlBuilder) addEntry(ctx context.Context, tw *tar.Writer, name string, content []byte) error {
	logger.Infof(ctx, "Adding control: %s", name)

	mode := int64(0644)
	if maintainerScripts[name] {
		mode = 0755
	}
	modTime := b.Timestamp
	if modTime.IsZero() {
		modTime = time.Now()
	}
	hdr := &tar.Header{
		Typeflag: tar.TypeReg,
		Name:     "./" + name,
		Size:     int64(len(content)),
		Mode:     mode,
		Uname:    Root.Name,
		Gname:    Root.Name,
		ModTime:  modTime.Truncate(time.Second),
		Format:   tar.FormatGNU,
	}
	if err := tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("writing header for %s: %w", name, err)
	}
	if _, err := tw.Write(content); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}
