package deb

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/etnz/debmaker/internal/logger"
)

const testControl = "Package: test\n" +
	"Version: [[version]]\n" +
	"Section: misc\n" +
	"Maintainer: Jane Doe <jane@example.org>\n" +
	"Description: test package\n"

func writeFiles(t *testing.T, dir string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(dir, filepath.FromSlash(name))
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			t.Fatalf("MkdirAll failed: %v", err)
		}
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("WriteFile failed: %v", err)
		}
	}
}

func noEnv(string) (string, bool) { return "", false }

func mapEnv(m map[string]string) LookupEnvFunc {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

type tarFile struct {
	header  *tar.Header
	content string
}

func readTarGz(t *testing.T, data []byte) []tarFile {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("gzip.NewReader failed: %v", err)
	}
	var files []tarFile
	tr := tar.NewReader(zr)
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("reading tar failed: %v", err)
		}
		body, err := io.ReadAll(tr)
		if err != nil {
			t.Fatalf("reading %s failed: %v", h.Name, err)
		}
		files = append(files, tarFile{header: h, content: string(body)})
	}
	return files
}

func TestPackageControl(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"control": testControl})

	b := &ControlBuilder{Resolver: MapResolver{"version": "1.2.3"}, LookupEnv: noEnv}
	doc, err := b.PackageControl(context.Background(), filepath.Join(dir, "control"), 4096+1023)
	if err != nil {
		t.Fatalf("PackageControl failed: %v", err)
	}
	checks := map[string]string{
		"Version":        "1.2.3",
		"Installed-Size": "4",
		"Distribution":   "unknown",
		"Urgency":        "low",
		"Architecture":   "all",
		"Priority":       "optional",
	}
	for field, want := range checks {
		if got := doc.Get(field); got != want {
			t.Errorf("expected %s=%q, got %q", field, want, got)
		}
	}
}

func TestPackageControlEnvironmentOverrides(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{"control": testControl})

	b := &ControlBuilder{LookupEnv: mapEnv(map[string]string{
		"DEBVERSION":  "2.0",
		"DEBFULLNAME": "John Doe",
		"DEBEMAIL":    "john@example.org",
	})}
	doc, err := b.PackageControl(context.Background(), filepath.Join(dir, "control"), 0)
	if err != nil {
		t.Fatalf("PackageControl failed: %v", err)
	}
	if got := doc.Get("Version"); got != "2.0" {
		t.Errorf("expected version from environment, got %q", got)
	}
	if got := doc.Get("Maintainer"); got != "John Doe <john@example.org>" {
		t.Errorf("expected maintainer from environment, got %q", got)
	}

	b.LookupEnv = mapEnv(map[string]string{"DEBFULLNAME": "John Doe"})
	doc, err = b.PackageControl(context.Background(), filepath.Join(dir, "control"), 0)
	if err != nil {
		t.Fatalf("PackageControl failed: %v", err)
	}
	if got := doc.Get("Maintainer"); got != "Jane Doe <jane@example.org>" {
		t.Errorf("expected maintainer to need both variables, got %q", got)
	}
}

func TestPackageControlMissing(t *testing.T) {
	b := &ControlBuilder{LookupEnv: noEnv}
	_, err := b.PackageControl(context.Background(), filepath.Join(t.TempDir(), "control"), 0)
	if !errors.Is(err, ErrNoControlFile) {
		t.Fatalf("expected ErrNoControlFile, got %v", err)
	}
}

func TestControlBuilderBuild(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"control":      testControl,
		"postinst":     "#!/bin/sh\r\necho [[version]]\r\n",
		"helper.sh":    "#!/bin/sh\r\necho [[version]]\r\n",
		"README":       "plain\r\ntext\r\n",
		"junk/x":       "x",
		".svn/entries": "x",
	})

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())

	ts := time.Unix(1700000000, 0)
	b := &ControlBuilder{Resolver: MapResolver{"version": "1.2.3"}, LookupEnv: noEnv, Timestamp: ts}
	doc, err := b.PackageControl(ctx, filepath.Join(dir, "control"), 0)
	if err != nil {
		t.Fatalf("PackageControl failed: %v", err)
	}
	var manifest ChecksumManifest
	manifest.Add("5d41402abc4b2a76b9719d911017c592", 5, "usr/share/doc/test/README")

	var buf bytes.Buffer
	if err := b.Build(ctx, &buf, dir, doc, []string{"/etc/test.conf"}, &manifest); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	files := readTarGz(t, buf.Bytes())
	var names []string
	byName := map[string]tarFile{}
	for _, f := range files {
		names = append(names, f.header.Name)
		byName[f.header.Name] = f
	}
	want := []string{"./README", "./helper.sh", "./postinst", "./conffiles", "./control", "./md5sums"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Fatalf("expected members %v, got %v", want, names)
	}

	if f := byName["./postinst"]; f.header.Mode != 0755 || f.content != "#!/bin/sh\necho 1.2.3\n" {
		t.Errorf("unexpected postinst: mode %o, content %q", f.header.Mode, f.content)
	}
	if f := byName["./helper.sh"]; f.header.Mode != 0644 || f.content != "#!/bin/sh\necho [[version]]\n" {
		t.Errorf("unexpected helper.sh: mode %o, content %q", f.header.Mode, f.content)
	}
	if f := byName["./README"]; f.content != "plain\r\ntext\r\n" {
		t.Errorf("expected non-script file unchanged, got %q", f.content)
	}
	if f := byName["./conffiles"]; f.content != "/etc/test.conf\n" {
		t.Errorf("unexpected conffiles: %q", f.content)
	}
	if f := byName["./md5sums"]; f.content != "5d41402abc4b2a76b9719d911017c592  usr/share/doc/test/README\n" {
		t.Errorf("unexpected md5sums: %q", f.content)
	}
	if f := byName["./control"]; !strings.Contains(f.content, "Version: 1.2.3\n") {
		t.Errorf("expected templated control file, got\n%s", f.content)
	}
	for _, f := range files {
		if f.header.Uname != "root" || f.header.Gname != "root" || !f.header.ModTime.Equal(ts) {
			t.Errorf("%s: unexpected owner %s:%s or time %v", f.header.Name, f.header.Uname, f.header.Gname, f.header.ModTime)
		}
	}

	warnings := logs.FilterLevelExact(zapcore.WarnLevel).All()
	if len(warnings) != 1 || !strings.Contains(warnings[0].Message, "junk") {
		t.Errorf("expected a single warning about the junk directory, got %v", warnings)
	}
}

func TestControlBuilderConffilesFromDirectory(t *testing.T) {
	dir := t.TempDir()
	writeFiles(t, dir, map[string]string{
		"control":   testControl,
		"conffiles": "/etc/[[version]].conf\n",
	})
	b := &ControlBuilder{Resolver: MapResolver{"version": "1.2.3"}, LookupEnv: noEnv}
	doc, err := b.PackageControl(context.Background(), filepath.Join(dir, "control"), 0)
	if err != nil {
		t.Fatalf("PackageControl failed: %v", err)
	}
	var buf bytes.Buffer
	if err := b.Build(context.Background(), &buf, dir, doc, []string{"/etc/ignored.conf"}, nil); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	count := 0
	for _, f := range readTarGz(t, buf.Bytes()) {
		if f.header.Name == "./conffiles" {
			count++
			if f.content != "/etc/1.2.3.conf\n" {
				t.Errorf("expected templated conffiles from the directory, got %q", f.content)
			}
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one conffiles member, got %d", count)
	}
}
