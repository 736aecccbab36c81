package manifest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/internal/logger"
	"github.com/etnz/debmaker/producer"
	"github.com/etnz/debmaker/spk"
)

// Builder runs the builds described by a Package.
type Builder struct {
	Package *Package
	// LookupEnv reads the environment. Nil means os.LookupEnv.
	LookupEnv deb.LookupEnvFunc
	// Now is the date of the changes file when no timestamp is fixed.
	// The zero value means time.Now().
	Now time.Time
}

func (b *Builder) lookupEnv(key string) (string, bool) {
	if b.LookupEnv == nil {
		return os.LookupEnv(key)
	}
	return b.LookupEnv(key)
}

func (b *Builder) notify(l Listener, e fmt.Stringer) {
	if l != nil {
		l(e)
	}
}

// settings are the values shared by the deb and spk builds.
type settings struct {
	producers  []deb.Producer
	conffiles  []deb.Producer
	timestamp  time.Time
	openToken  string
	closeToken string
}

func (b *Builder) settings(ctx context.Context) (*settings, error) {
	p := b.Package
	r := &renderer{e: p.engine}
	ts := r.str("timestamp", p.Timestamp)
	s := &settings{
		openToken:  r.str("open_token", p.OpenToken),
		closeToken: r.str("close_token", p.CloseToken),
	}
	if r.err != nil {
		return nil, r.err
	}
	var err error
	if s.timestamp, err = deb.ResolveOutputTimestamp(ctx, ts, b.lookupEnv); err != nil {
		return nil, err
	}
	if s.producers, s.conffiles, err = p.producers(); err != nil {
		return nil, err
	}
	return s, nil
}

func (b *Builder) signer() (*deb.PGPSigner, error) {
	sg := b.Package.Signing
	if sg == nil {
		return nil, nil
	}
	r := &renderer{e: b.Package.engine}
	keyring := b.Package.resolve(r.str("signing.keyring", sg.Keyring))
	key := r.str("signing.key", sg.Key)
	if r.err != nil {
		return nil, r.err
	}
	if keyring == "" {
		return nil, errors.New("signing requires a keyring")
	}
	f, err := os.Open(keyring)
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	defer f.Close()
	var passphrase []byte
	if sg.PassphraseEnv != "" {
		v, _ := b.lookupEnv(sg.PassphraseEnv)
		passphrase = []byte(v)
	}
	return deb.NewPGPSigner(f, key, passphrase, sg.Digest)
}

// Build writes the .deb (with its changes file) when a deb path is set, and
// the Synology package when an spk section is present.
func (b *Builder) Build(ctx context.Context, l Listener) error {
	p := b.Package
	ctx = logger.WithKV(ctx, "definition", p.filePath)
	b.notify(l, EventDefinitionLoaded{Path: p.filePath})
	if p.Deb == "" && p.Spk == nil {
		return errors.New("the definition builds nothing: set 'deb' or 'spk'")
	}
	if p.Deb != "" {
		if err := b.BuildDeb(ctx, l); err != nil {
			return err
		}
	}
	if p.Spk != nil {
		if err := b.BuildSpk(ctx, l); err != nil {
			return err
		}
	}
	return nil
}

// BuildDeb writes the Debian package and, when configured, its changes file.
func (b *Builder) BuildDeb(ctx context.Context, l Listener) error {
	p := b.Package
	s, err := b.settings(ctx)
	if err != nil {
		return err
	}

	r := &renderer{e: p.engine}
	m := &deb.Maker{
		ControlDir: p.resolve(r.str("control", p.Control)),
		Output:     p.resolve(r.str("deb", p.Deb)),
		Producers:  s.producers,
		OpenToken:  s.openToken,
		CloseToken: s.closeToken,
		Resolver:   p.engine,
		Timestamp:  s.timestamp,
		LookupEnv:  b.LookupEnv,
		Defaults: deb.Defaults{
			Package:     r.str("defaults.package", p.Defaults.Package),
			Section:     r.str("defaults.section", p.Defaults.Section),
			Description: r.str("defaults.description", p.Defaults.Description),
			Depends:     r.str("defaults.depends", p.Defaults.Depends),
			Homepage:    r.str("defaults.homepage", p.Defaults.Homepage),
		},
	}
	compression := r.str("compression", p.Compression)
	longFileMode := r.str("long_file_mode", p.LongFileMode)
	if r.err != nil {
		return r.err
	}
	if m.Compression, err = deb.ParseCompression(compression); err != nil {
		return err
	}
	if m.LongFileMode, err = deb.ParseLongFileMode(longFileMode); err != nil {
		return err
	}
	if m.Conffiles, err = producer.CollectConffiles(ctx, s.conffiles...); err != nil {
		return fmt.Errorf("collecting conffiles: %w", err)
	}

	signer, err := b.signer()
	if err != nil {
		logger.Warnf(ctx, "Signing key unavailable, the package is left unsigned: %v", err)
		signer = nil
	}
	if signer != nil && (p.Signing.Package == nil || *p.Signing.Package) {
		m.Signer = signer
		m.SignRole = p.Signing.Role
		if m.SignMethod, err = deb.ParseSignMethod(p.Signing.Method); err != nil {
			return err
		}
	}

	control, err := m.Make(ctx)
	if err != nil {
		return fmt.Errorf("failed to create debian package %s: %w", m.Output, err)
	}
	b.notify(l, EventPackageBuilt{
		Path:         m.Output,
		Package:      control.Get(string(deb.FieldPackage)),
		Version:      control.Get(string(deb.FieldVersion)),
		Architecture: control.Get(string(deb.FieldArchitecture)),
		Signed:       m.Signer != nil,
	})

	if p.Changes == nil {
		return nil
	}
	return b.writeChanges(ctx, l, control, m.Output, s.timestamp, signer)
}

func (b *Builder) writeChanges(ctx context.Context, l Listener, control *deb.Document, debPath string, timestamp time.Time, signer *deb.PGPSigner) error {
	p := b.Package
	c := p.Changes
	r := &renderer{e: p.engine}
	in := p.resolve(r.str("changes.in", c.In))
	out := p.resolve(r.str("changes.out", c.Out))
	save := p.resolve(r.str("changes.save", c.Save))
	if r.err != nil {
		return r.err
	}
	if out == "" {
		out = strings.TrimSuffix(debPath, ".deb") + ".changes"
	}

	now := timestamp
	if now.IsZero() {
		now = b.Now
	}
	if now.IsZero() {
		now = time.Now()
	}

	var provider deb.ChangesProvider
	var textfile *deb.TextfileChangesProvider
	if in != "" {
		f, err := os.Open(in)
		if err != nil {
			return fmt.Errorf("opening changes file: %w", err)
		}
		textfile, err = deb.NewTextfileChangesProvider(f, control, now)
		f.Close()
		if err != nil {
			return fmt.Errorf("parsing changes file %s: %w", in, err)
		}
		provider = textfile
	}

	doc, err := deb.BuildChanges(ctx, control, debPath, provider, now)
	if err != nil {
		return err
	}

	var changesSigner deb.Signer
	if c.Sign {
		switch {
		case p.Signing == nil:
			return errors.New("signing the changes file requires a signing section")
		case signer == nil:
			logger.Warnf(ctx, "Signing key unavailable, the changes file is left unsigned")
		default:
			changesSigner = signer
		}
	}
	if err := writeFile(out, func(f *os.File) error { return deb.WriteChanges(f, doc, changesSigner) }); err != nil {
		return fmt.Errorf("writing changes file: %w", err)
	}
	logger.Infof(ctx, "Creating changes file: %s", out)

	if save != "" && textfile != nil {
		if err := writeFile(save, func(f *os.File) error { return textfile.Save(f) }); err != nil {
			return fmt.Errorf("saving changes file: %w", err)
		}
	}
	b.notify(l, EventChangesWritten{Path: out, Saved: save, Signed: changesSigner != nil})
	return nil
}

// BuildSpk writes the Synology package.
func (b *Builder) BuildSpk(ctx context.Context, l Listener) error {
	p := b.Package
	s, err := b.settings(ctx)
	if err != nil {
		return err
	}
	r := &renderer{e: p.engine}
	m := &spk.Maker{
		InfoFile:    p.resolve(r.str("spk.info", p.Spk.Info)),
		ScriptsDir:  p.resolve(r.str("spk.scripts", p.Spk.Scripts)),
		Output:      p.resolve(r.str("spk.output", p.Spk.Output)),
		Producers:   s.producers,
		Package:     r.str("spk.package", p.Spk.Package),
		Description: r.str("spk.description", p.Spk.Description),
		OpenToken:   s.openToken,
		CloseToken:  s.closeToken,
		Resolver:    p.engine,
		Timestamp:   s.timestamp,
		LookupEnv:   b.LookupEnv,
	}
	compression := r.str("compression", p.Compression)
	if r.err != nil {
		return r.err
	}
	if m.Compression, err = deb.ParseCompression(compression); err != nil {
		return err
	}
	info, err := m.Make(ctx)
	if err != nil {
		return fmt.Errorf("failed to create synology package %s: %w", m.Output, err)
	}
	b.notify(l, EventSpkBuilt{Path: m.Output, Package: info.Get(spk.FieldPackage), Version: info.Get(spk.FieldVersion)})
	return nil
}

// writeFile creates path and removes it when write fails.
func writeFile(path string, write func(*os.File) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(path)
		}
	}()
	return write(f)
}
