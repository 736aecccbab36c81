package deb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ProtonMail/go-crypto/openpgp"
	"github.com/ProtonMail/go-crypto/openpgp/clearsign"
	"github.com/blakesmith/ar"
)

func newTestMaker(t *testing.T) *Maker {
	t.Helper()
	dir := t.TempDir()
	controlDir := filepath.Join(dir, "control")
	writeFiles(t, controlDir, map[string]string{
		"control":  "Package: hello\nVersion: [[version]]\nSection: misc\nMaintainer: Jane Doe <jane@example.org>\nDescription: says hello\n greets the world\n",
		"postinst": "#!/bin/sh\nset -e\n",
	})
	return &Maker{
		ControlDir: controlDir,
		Output:     filepath.Join(dir, "out", "hello_1.0_all.deb"),
		Producers: []Producer{entriesProducer(
			fileEntry("/usr/bin/hello", "#!/bin/sh\necho hello\n"),
			fileEntry("/etc/hello.conf", "greeting=hello\n"),
		)},
		Conffiles: []string{"/etc/hello.conf"},
		Resolver:  MapResolver{"version": "1.0"},
		Timestamp: time.Unix(1700000000, 0).UTC(),
		LookupEnv: noEnv,
		TempDir:   dir,
	}
}

func inspectFile(t *testing.T, path string) *PackageInfo {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("opening package failed: %v", err)
	}
	defer f.Close()
	info, err := Inspect(f, WithDataContent())
	if err != nil {
		t.Fatalf("Inspect failed: %v", err)
	}
	return info
}

func TestMakerRoundTrip(t *testing.T) {
	m := newTestMaker(t)
	doc, err := m.Make(context.Background())
	if err != nil {
		t.Fatalf("Make failed: %v", err)
	}
	if doc.Get("Version") != "1.0" {
		t.Errorf("expected version 1.0, got %q", doc.Get("Version"))
	}

	info := inspectFile(t, m.Output)
	var names []string
	for _, mem := range info.Members {
		names = append(names, mem.Name)
		if !mem.ModTime.Equal(m.Timestamp) {
			t.Errorf("%s: expected time %v, got %v", mem.Name, m.Timestamp, mem.ModTime)
		}
	}
	if want := "debian-binary,control.tar.gz,data.tar.gz"; strings.Join(names, ",") != want {
		t.Errorf("expected members %s, got %v", want, names)
	}
	if mem, _ := info.Member("debian-binary"); mem.Size != 4 {
		t.Errorf("expected a 4 byte debian-binary, got %d", mem.Size)
	}

	if got := info.Control.Get("Package"); got != "hello" {
		t.Errorf("expected package hello, got %q", got)
	}
	if got := info.Control.Get("Description"); got != "says hello\ngreets the world" {
		t.Errorf("unexpected description %q", got)
	}
	if got := info.Control.Get("Installed-Size"); got != "0" {
		t.Errorf("expected Installed-Size 0, got %q", got)
	}
	if len(info.Conffiles) != 1 || info.Conffiles[0] != "/etc/hello.conf" {
		t.Errorf("unexpected conffiles %v", info.Conffiles)
	}
	if !strings.Contains(info.MD5Sums, "  usr/bin/hello\n") || !strings.Contains(info.MD5Sums, "  etc/hello.conf\n") {
		t.Errorf("unexpected md5sums\n%s", info.MD5Sums)
	}
	if got := string(info.DataContent["./usr/bin/hello"]); got != "#!/bin/sh\necho hello\n" {
		t.Errorf("unexpected data content %q", got)
	}
	if _, ok := info.DataEntry("/usr/bin/"); !ok {
		t.Error("expected parent directory /usr/bin/ in the data archive")
	}
	if string(info.ControlContent["postinst"]) != "#!/bin/sh\nset -e\n" {
		t.Errorf("unexpected postinst %q", info.ControlContent["postinst"])
	}
	if info.Signature != nil {
		t.Error("expected an unsigned package")
	}
}

func TestMakerDefaultsAndEnvironment(t *testing.T) {
	m := newTestMaker(t)
	writeFiles(t, m.ControlDir, map[string]string{
		"control": "Version: 1.0\nSection: misc\nMaintainer: Jane Doe <jane@example.org>\n",
	})
	m.Defaults = Defaults{Package: "fallback", Description: "from the build", Homepage: "https://example.org"}
	m.LookupEnv = mapEnv(map[string]string{"DEBVERSION": "3.1"})
	m.Compression = CompressionXZ

	if _, err := m.Make(context.Background()); err != nil {
		t.Fatalf("Make failed: %v", err)
	}
	info := inspectFile(t, m.Output)
	checks := map[string]string{
		"Package":     "fallback",
		"Description": "from the build",
		"Homepage":    "https://example.org",
		"Version":     "3.1",
	}
	for field, want := range checks {
		if got := info.Control.Get(field); got != want {
			t.Errorf("expected %s=%q, got %q", field, want, got)
		}
	}
	if _, ok := info.Member("data.tar.xz"); !ok {
		t.Errorf("expected data.tar.xz member, got %v", info.Members)
	}
}

func TestMakerInvalidControlLeavesNoOutput(t *testing.T) {
	m := newTestMaker(t)
	writeFiles(t, m.ControlDir, map[string]string{"control": "Package: hello\n"})

	_, err := m.Make(context.Background())
	if err == nil {
		t.Fatal("expected a validation error")
	}
	if _, statErr := os.Stat(m.Output); !os.IsNotExist(statErr) {
		t.Errorf("expected no output file, got %v", statErr)
	}
	leftovers, _ := filepath.Glob(filepath.Join(m.TempDir, "deb-*"))
	if len(leftovers) != 0 {
		t.Errorf("expected temporary files to be removed, got %v", leftovers)
	}
}

func TestMakerSignsWithGPG(t *testing.T) {
	s, keyring := newTestSigner(t)
	m := newTestMaker(t)
	m.Signer = s

	if _, err := m.Make(context.Background()); err != nil {
		t.Fatalf("Make failed: %v", err)
	}
	info := inspectFile(t, m.Output)
	if _, ok := info.Member("_gpgorigin"); !ok {
		t.Fatalf("expected a _gpgorigin member, got %v", info.Members)
	}

	raw, err := os.ReadFile(m.Output)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	signed := arMemberContents(t, raw, "debian-binary", "control.tar.gz", "data.tar.gz")
	if _, err := openpgp.CheckArmoredDetachedSignature(keyring, bytes.NewReader(signed), bytes.NewReader(info.Signature), nil); err != nil {
		t.Errorf("package signature does not verify: %v", err)
	}
}

func TestMakerSignsWithDpkgSig(t *testing.T) {
	s, keyring := newTestSigner(t)
	m := newTestMaker(t)
	m.Signer = s
	m.SignMethod = SignDpkgSig
	m.SignRole = "builder"

	if _, err := m.Make(context.Background()); err != nil {
		t.Fatalf("Make failed: %v", err)
	}
	info := inspectFile(t, m.Output)
	if _, ok := info.Member("_gpgbuilder"); !ok {
		t.Fatalf("expected a _gpgbuilder member, got %v", info.Members)
	}
	block, _ := clearsign.Decode(info.Signature)
	if block == nil {
		t.Fatalf("expected a clearsigned manifest, got %q", info.Signature)
	}
	text := string(block.Plaintext)
	for _, want := range []string{"Version: 4", "Role: builder", "Date: Tue Nov 14 22:13:20 2023", " 4 debian-binary"} {
		if !strings.Contains(text, want) {
			t.Errorf("expected %q in manifest\n%s", want, text)
		}
	}
	if _, err := block.VerifySignature(keyring, nil); err != nil {
		t.Errorf("manifest signature does not verify: %v", err)
	}
}

func TestMakerSigningFailureLeavesPackageUnsigned(t *testing.T) {
	m := newTestMaker(t)
	m.Signer = failingSigner{}

	if _, err := m.Make(context.Background()); err != nil {
		t.Fatalf("Make failed: %v", err)
	}
	if info := inspectFile(t, m.Output); info.Signature != nil {
		t.Error("expected an unsigned package")
	}
}

type failingSigner struct{}

func (failingSigner) DetachSign(w io.Writer, message io.Reader) error { return errors.New("no agent") }
func (failingSigner) ClearSign(w io.Writer, message io.Reader) error  { return errors.New("no agent") }

// arMemberContents concatenates the content of the named members of an ar archive.
func arMemberContents(t *testing.T, archive []byte, names ...string) []byte {
	t.Helper()
	want := map[string]bool{}
	for _, n := range names {
		want[n] = true
	}
	var out bytes.Buffer
	r := ar.NewReader(bytes.NewReader(archive))
	for {
		h, err := r.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("reading ar failed: %v", err)
		}
		if want[h.Name] {
			if _, err := io.Copy(&out, r); err != nil {
				t.Fatalf("reading %s failed: %v", h.Name, err)
			}
		}
	}
	return out.Bytes()
}

func TestDpkgDebIntegration(t *testing.T) {
	if _, err := exec.LookPath("dpkg-deb"); err != nil {
		t.Skip("dpkg-deb not found, skipping integration test")
	}

	m := newTestMaker(t)
	if _, err := m.Make(context.Background()); err != nil {
		t.Fatalf("Make failed: %v", err)
	}

	out, err := exec.Command("dpkg-deb", "--info", m.Output).CombinedOutput()
	if err != nil {
		t.Fatalf("dpkg-deb --info failed: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "Package: hello") {
		t.Errorf("dpkg-deb --info output does not contain package name:\n%s", out)
	}

	out, err = exec.Command("dpkg-deb", "--contents", m.Output).CombinedOutput()
	if err != nil {
		t.Fatalf("dpkg-deb --contents failed: %v\n%s", err, out)
	}
	if !strings.Contains(string(out), "./usr/bin/hello") {
		t.Errorf("dpkg-deb --contents output does not contain the file:\n%s", out)
	}
}
