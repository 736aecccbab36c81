package spk

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/require"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/producer"
)

func TestInfoRoundTrip(t *testing.T) {
	t.Parallel()

	in := "package=\"hello\"\n" +
		"version=\"1.0\"\n" +
		"description=\"says hello\n" +
		" .\n" +
		" to everyone\"\n" +
		"maintainer=\"Jane <jane@example.org>\"\n"
	info, err := ParseInfo(strings.NewReader(in))
	require.NoError(t, err)
	require.Equal(t, "hello", info.Get(FieldPackage))
	require.Equal(t, "says hello\n\nto everyone", info.Get(FieldDescription))
	require.Equal(t, "says hello", info.ShortDescription())
	require.Equal(t, "noarch", info.Get(FieldArch))
	require.NoError(t, info.Validate())

	require.Equal(t, in+"arch=\"noarch\"\n", info.String())
}

func TestInfoDefaultsAndValidation(t *testing.T) {
	t.Parallel()

	info := NewInfo()
	require.Equal(t, "arch=\"noarch\"\n", info.String())

	info.Set(FieldPackage, "hello")
	info.Set(FieldArch, "")
	err := info.Validate()
	var verr *deb.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Equal(t, []string{FieldVersion, FieldMaintainer, FieldDescription, FieldArch}, verr.Invalid)
	require.Contains(t, err.Error(), "Info file fields are invalid")
}

func TestParseInfoErrors(t *testing.T) {
	t.Parallel()

	for in, msg := range map[string]string{
		"package=\"a\"\n\nversion=\"1\"\n": "Empty line",
		"package \"a\"\n":                  "Line misses '=' delimiter",
	} {
		_, err := ParseInfo(strings.NewReader(in))
		var perr *deb.ParseError
		require.ErrorAs(t, err, &perr)
		require.Equal(t, msg, perr.Msg)
	}
}

func newTestMaker(t *testing.T) *Maker {
	t.Helper()
	dir := t.TempDir()
	write := func(name, content string) {
		p := filepath.Join(dir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
	write("INFO", "package=\"hello\"\nversion=\"[[version]]\"\nmaintainer=\"Jane <jane@example.org>\"\n")
	write("scripts/postinst", "#!/bin/sh\necho [[version]]\n")
	write("scripts/lang/enu", "installed\n")
	write("data/bin/hello", "hello")

	return &Maker{
		InfoFile:    filepath.Join(dir, "INFO"),
		ScriptsDir:  filepath.Join(dir, "scripts"),
		Output:      filepath.Join(dir, "out", "hello.spk"),
		Producers:   []deb.Producer{&producer.Directory{Dir: filepath.Join(dir, "data")}},
		Description: "says hello",
		Resolver:    deb.MapResolver{"version": "1.0"},
		Timestamp:   time.Unix(1700000000, 0),
		LookupEnv:   func(string) (string, bool) { return "", false },
		TempDir:     dir,
	}
}

type member struct {
	header  *tar.Header
	content []byte
}

func readSpk(t *testing.T, path string) []member {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	var out []member
	tr := tar.NewReader(f)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return out
		}
		require.NoError(t, err)
		b, err := io.ReadAll(tr)
		require.NoError(t, err)
		out = append(out, member{header: h, content: b})
	}
}

func TestMakerBuildsSpk(t *testing.T) {
	t.Parallel()

	m := newTestMaker(t)
	info, err := m.Make(context.Background())
	require.NoError(t, err)
	require.Equal(t, "1.0", info.Get(FieldVersion))
	require.Equal(t, "says hello", info.Get(FieldDescription))
	require.Equal(t, "5", info.Get(FieldExtractSize))

	members := readSpk(t, m.Output)
	var names []string
	for _, mem := range members {
		names = append(names, mem.header.Name)
		require.Equal(t, "root", mem.header.Uname)
		require.True(t, mem.header.ModTime.Equal(time.Unix(1700000000, 0)))
	}
	require.Equal(t, []string{"INFO", "package.tgz", "scripts/", "scripts/lang/enu", "scripts/postinst"}, names)

	require.Equal(t, info.String(), string(members[0].content))

	sum := md5.Sum(members[1].content)
	require.Equal(t, hex.EncodeToString(sum[:]), info.Get(FieldChecksum))

	gz, err := gzip.NewReader(bytes.NewReader(members[1].content))
	require.NoError(t, err)
	var payload []string
	tr := tar.NewReader(gz)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		payload = append(payload, h.Name)
	}
	require.Equal(t, []string{"bin/", "bin/hello"}, payload)

	require.Equal(t, int64(0o644), members[3].header.Mode)
	require.Equal(t, int64(0o755), members[4].header.Mode)
	require.Equal(t, "#!/bin/sh\necho 1.0\n", string(members[4].content))
}

func TestMakerEnvironmentOverrides(t *testing.T) {
	t.Parallel()

	m := newTestMaker(t)
	env := map[string]string{"SPKVERSION": "2.0", "SPKFULLNAME": "Build Bot", "SPKEMAIL": "bot@example.org"}
	m.LookupEnv = func(k string) (string, bool) { v, ok := env[k]; return v, ok }

	info, err := m.Make(context.Background())
	require.NoError(t, err)
	require.Equal(t, "2.0", info.Get(FieldVersion))
	require.Equal(t, "Build Bot <bot@example.org>", info.Get(FieldMaintainer))
}

func TestMakerValidation(t *testing.T) {
	t.Parallel()

	cases := map[string]func(m *Maker){
		"the 'scripts' attribute":      func(m *Maker) { m.ScriptsDir = filepath.Join(m.TempDir, "none") },
		"is not supported":             func(m *Maker) { m.Compression = deb.CompressionXZ },
		"where the spk file":           func(m *Maker) { m.Output = "" },
		"at least one reference":       func(m *Maker) { m.Producers = nil },
		"Info file fields are invalid": func(m *Maker) { m.Description = "" },
	}
	for msg, mutate := range cases {
		m := newTestMaker(t)
		mutate(m)
		_, err := m.Make(context.Background())
		require.ErrorContains(t, err, msg)
		if m.Output != "" {
			_, statErr := os.Stat(m.Output)
			require.True(t, os.IsNotExist(statErr), msg)
		}
	}
}
