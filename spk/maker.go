package spk

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/internal/logger"
	"github.com/etnz/debmaker/producer"
)

// Member names of an .spk archive.
const (
	MemberInfo    = "INFO"
	MemberPackage = "package.tgz"
	MemberScripts = "scripts"
)

// maintainerScripts are stored executable; other script files get 0644.
var maintainerScripts = map[string]bool{
	"postinst":          true,
	"postuninst":        true,
	"postupgrade":       true,
	"preinst":           true,
	"preuninst":         true,
	"preupgrade":        true,
	"start-stop-status": true,
}

// Maker assembles an .spk file.
type Maker struct {
	// InfoFile is an optional INFO template.
	InfoFile string
	// ScriptsDir holds the package scripts. It must exist.
	ScriptsDir string
	Output     string
	Producers  []deb.Producer

	// Compression of package.tgz. Only gzip is accepted.
	Compression deb.Compression

	// Package and Description are used when the INFO template has none.
	Package     string
	Description string

	OpenToken  string
	CloseToken string
	Resolver   deb.Resolver

	Timestamp time.Time
	// LookupEnv reads the SPKVERSION, SPKFULLNAME and SPKEMAIL overrides.
	// Nil means os.LookupEnv.
	LookupEnv deb.LookupEnvFunc
	TempDir   string
}

// Validate checks the configuration before anything is written.
func (m *Maker) Validate() error {
	if info, err := os.Stat(m.ScriptsDir); m.ScriptsDir == "" || err != nil || !info.IsDir() {
		return errors.New("the 'scripts' attribute doesn't point to a directory")
	}
	if m.Compression != "" && m.Compression != deb.CompressionGzip {
		return fmt.Errorf("the compression method '%s' is not supported (expected 'gzip')", m.Compression)
	}
	if m.Output == "" {
		return errors.New("you need to specify where the spk file is supposed to be created")
	}
	if len(m.Producers) == 0 {
		return errors.New("you need to provide at least one reference to a tgz or directory with data")
	}
	return nil
}

func (m *Maker) tokens() (string, string) {
	open, closing := m.OpenToken, m.CloseToken
	if open == "" {
		open = deb.DefaultOpenToken
	}
	if closing == "" {
		closing = deb.DefaultCloseToken
	}
	return open, closing
}

func (m *Maker) lookupEnv(key string) (string, bool) {
	if m.LookupEnv == nil {
		return os.LookupEnv(key)
	}
	return m.LookupEnv(key)
}

func (m *Maker) modTime() time.Time {
	if m.Timestamp.IsZero() {
		return time.Now().Truncate(time.Second)
	}
	return m.Timestamp.Truncate(time.Second)
}

// Make writes the package to m.Output and returns its INFO document.
func (m *Maker) Make(ctx context.Context) (info *Info, err error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	logger.Infof(ctx, "Creating synology package: %s", m.Output)

	data, err := os.CreateTemp(m.TempDir, "spk-data-*")
	if err != nil {
		return nil, fmt.Errorf("creating temporary data file: %w", err)
	}
	defer os.Remove(data.Name())

	logger.Debug(ctx, "Building data")
	sums, err := deb.NewChecksumWriter(data, "md5")
	if err != nil {
		data.Close()
		return nil, err
	}
	db := &deb.DataBuilder{
		Compression: deb.CompressionGzip,
		PathStyle:   deb.PlainPaths,
		Timestamp:   m.Timestamp,
	}
	summary, err := db.Build(ctx, sums, m.Producers...)
	if cerr := data.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return nil, fmt.Errorf("building data archive: %w", err)
	}

	logger.Debug(ctx, "Building info")
	info, err = m.info(ctx, summary.Bytes, sums.Sum(0))
	if err != nil {
		return nil, err
	}
	if err := info.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(m.Output), 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	if err := m.write(ctx, info, data.Name()); err != nil {
		return nil, fmt.Errorf("writing %s: %w", m.Output, err)
	}
	logger.InfoKV(ctx, "package created", "path", m.Output, "package", info.Get(FieldPackage))
	return info, nil
}

// info reads the INFO template and fills the computed and overridden fields.
func (m *Maker) info(ctx context.Context, size int64, checksum string) (*Info, error) {
	info := NewInfo()
	if m.InfoFile != "" {
		raw, err := os.ReadFile(m.InfoFile)
		if err != nil {
			return nil, fmt.Errorf("reading info file: %w", err)
		}
		open, closing := m.tokens()
		text := deb.FilterText(string(raw), open, closing, m.Resolver)
		if info, err = ParseInfo(strings.NewReader(text)); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", m.InfoFile, err)
		}
	}
	info.Set(FieldExtractSize, strconv.FormatInt(size, 10))
	info.Set(FieldChecksum, checksum)

	if v, ok := m.lookupEnv("SPKVERSION"); ok {
		info.Set(FieldVersion, v)
		logger.Debugf(ctx, "Using version '%s' from the environment variables.", v)
	}
	name, okName := m.lookupEnv("SPKFULLNAME")
	email, okEmail := m.lookupEnv("SPKEMAIL")
	if okName && okEmail {
		maintainer := name + " <" + email + ">"
		info.Set(FieldMaintainer, maintainer)
		logger.Debugf(ctx, "Using maintainer '%s' from the environment variables.", maintainer)
	}

	if !info.Has(FieldPackage) {
		info.Set(FieldPackage, m.Package)
	}
	if !info.Has(FieldDescription) {
		info.Set(FieldDescription, m.Description)
	}
	return info, nil
}

func (m *Maker) write(ctx context.Context, info *Info, dataPath string) (err error) {
	out, err := os.Create(m.Output)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(m.Output)
		}
	}()

	tw := tar.NewWriter(out)
	if err := m.addBytes(tw, MemberInfo, []byte(info.String()), 0o644); err != nil {
		return err
	}
	if err := m.addFile(tw, MemberPackage, dataPath); err != nil {
		return err
	}
	if err := m.addScripts(ctx, tw); err != nil {
		return err
	}
	return tw.Close()
}

func (m *Maker) header(name string, mode, size int64) *tar.Header {
	return &tar.Header{
		Name:     name,
		Typeflag: tar.TypeReg,
		Mode:     mode,
		Size:     size,
		Uname:    deb.Root.Name,
		Gname:    deb.Root.Name,
		ModTime:  m.modTime(),
		Format:   tar.FormatGNU,
	}
}

func (m *Maker) addBytes(tw *tar.Writer, name string, content []byte, mode int64) error {
	if err := tw.WriteHeader(m.header(name, mode, int64(len(content)))); err != nil {
		return err
	}
	_, err := tw.Write(content)
	return err
}

func (m *Maker) addFile(tw *tar.Writer, name, file string) error {
	f, err := os.Open(file)
	if err != nil {
		return err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return err
	}
	if err := tw.WriteHeader(m.header(name, 0o644, fi.Size())); err != nil {
		return err
	}
	_, err = io.Copy(tw, f)
	return err
}

// addScripts writes the scripts directory, templating every file in it.
func (m *Maker) addScripts(ctx context.Context, tw *tar.Writer) error {
	h := m.header(MemberScripts+"/", 0o755, 0)
	h.Typeflag = tar.TypeDir
	if err := tw.WriteHeader(h); err != nil {
		return err
	}
	open, closing := m.tokens()
	r := &scriptReceiver{add: func(e deb.Entry) error {
		rc, err := e.Open()
		if err != nil {
			return err
		}
		raw, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return err
		}
		mode := int64(0o644)
		if maintainerScripts[path.Base(e.Path)] {
			mode = 0o755
		}
		content := deb.FilterText(string(raw), open, closing, m.Resolver)
		return m.addBytes(tw, MemberScripts+"/"+deb.ManifestPath(e.Path), []byte(content), mode)
	}}
	return (&producer.Directory{Dir: m.ScriptsDir}).Produce(ctx, r)
}

// scriptReceiver keeps only the regular files of the scripts directory.
type scriptReceiver struct {
	add func(deb.Entry) error
}

func (s *scriptReceiver) OnDirectory(deb.Entry) error { return nil }
func (s *scriptReceiver) OnLink(deb.Entry) error      { return nil }
func (s *scriptReceiver) OnFile(e deb.Entry) error    { return s.add(e) }
