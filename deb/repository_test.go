package deb

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func buildTestPackage(t *testing.T, outDir, name, version, arch string) {
	t.Helper()
	controlDir := filepath.Join(t.TempDir(), "control")
	writeFiles(t, controlDir, map[string]string{
		"control": fmt.Sprintf("Package: %s\nVersion: %s\nSection: misc\nArchitecture: %s\nMaintainer: Jane Doe <jane@example.org>\nDescription: %s package\n",
			name, version, arch, name),
	})
	m := &Maker{
		ControlDir: controlDir,
		Output:     filepath.Join(outDir, fmt.Sprintf("%s_%s_%s.deb", name, version, arch)),
		Producers:  []Producer{entriesProducer(fileEntry("/usr/share/"+name+"/README", name))},
		LookupEnv:  noEnv,
	}
	if _, err := m.Make(context.Background()); err != nil {
		t.Fatalf("Make %s failed: %v", name, err)
	}
}

func readString(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return string(b)
}

func TestIndexWriterBuild(t *testing.T) {
	tmp := t.TempDir()
	source := filepath.Join(tmp, "debs")
	buildTestPackage(t, source, "hello", "1.0", "all")
	buildTestPackage(t, source, "world", "2.0", "amd64")
	if err := os.WriteFile(filepath.Join(source, "notes.txt"), []byte("ignored"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	s, _ := newTestSigner(t)
	target := filepath.Join(tmp, "repo")
	w := &IndexWriter{
		Source: source,
		Target: target,
		Signer: s,
		Now:    time.Date(2024, time.March, 5, 14, 7, 9, 0, time.UTC),
	}
	if err := w.Build(context.Background()); err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	for _, p := range []string{
		"pool/main/h/hello/hello_1.0_all.deb",
		"pool/main/w/world/world_2.0_amd64.deb",
		"dists/devel/InRelease",
		"dists/devel/Release.gpg",
		"dists/devel/main/binary-amd64/Packages.gz",
		"public.gpg",
		"public.asc",
	} {
		if _, err := os.Stat(filepath.Join(target, filepath.FromSlash(p))); err != nil {
			t.Errorf("expected %s: %v", p, err)
		}
	}

	dist := filepath.Join(target, "dists", "devel")
	i386 := readString(t, filepath.Join(dist, "main", "binary-i386", "Packages"))
	if !strings.Contains(i386, "Package: hello\n") || strings.Contains(i386, "Package: world") {
		t.Errorf("expected only the all package for i386, got\n%s", i386)
	}
	amd64 := readString(t, filepath.Join(dist, "main", "binary-amd64", "Packages"))
	if !strings.Contains(amd64, "Package: hello\n") || !strings.Contains(amd64, "Package: world\n") {
		t.Errorf("expected both packages for amd64, got\n%s", amd64)
	}
	if !strings.Contains(amd64, "Filename: pool/main/w/world/world_2.0_amd64.deb\n") {
		t.Errorf("expected pool file name in stanza, got\n%s", amd64)
	}
	for _, field := range []string{"MD5sum: ", "SHA1: ", "SHA256: ", "Size: "} {
		if !strings.Contains(amd64, field) {
			t.Errorf("expected %s in stanza, got\n%s", field, amd64)
		}
	}

	if got, want := readString(t, filepath.Join(dist, "main", "binary-amd64", "Release")),
		"Component: main\nOrigin: Unknown\nArchitecture: amd64\n"; got != want {
		t.Errorf("expected component release\n%s\ngot\n%s", want, got)
	}

	release := readString(t, filepath.Join(dist, "Release"))
	for _, want := range []string{
		"Origin: Unknown\n",
		"Label: Development\n",
		"Codename: devel\n",
		"Date: Tue, 05 Mar 2024 14:07:09 UTC\n",
		"Architectures: i386 amd64\n",
		"Components: main\n",
		"MD5Sum:\n",
		"SHA1:\n",
		"SHA256:\n",
	} {
		if !strings.Contains(release, want) {
			t.Errorf("expected %q in Release\n%s", want, release)
		}
	}
	sum := md5.Sum([]byte(amd64))
	line := fmt.Sprintf(" %s %20d main/binary-amd64/Packages\n", hex.EncodeToString(sum[:]), len(amd64))
	if !strings.Contains(release, line) {
		t.Errorf("expected %q in Release\n%s", line, release)
	}

	if err := w.Build(context.Background()); err == nil || !strings.Contains(err.Error(), "must not exist") {
		t.Errorf("expected an error for an existing target, got %v", err)
	}
}

func TestIndexWriterValidation(t *testing.T) {
	tmp := t.TempDir()
	tests := []struct {
		name string
		w    *IndexWriter
		msg  string
	}{
		{"bad codename", &IndexWriter{Source: tmp, Target: filepath.Join(tmp, "a"), Codename: "Devel"}, "'name' must match pattern"},
		{"bad architecture", &IndexWriter{Source: tmp, Target: filepath.Join(tmp, "b"), Architectures: []string{"arm-64"}}, "'architecture' must match pattern"},
		{"missing source", &IndexWriter{Source: filepath.Join(tmp, "none"), Target: filepath.Join(tmp, "c")}, "source path must exist"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.w.Build(context.Background())
			if err == nil || !strings.Contains(err.Error(), tt.msg) {
				t.Errorf("expected error containing %q, got %v", tt.msg, err)
			}
		})
	}
}
