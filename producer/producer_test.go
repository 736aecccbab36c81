package producer

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/etnz/debmaker/deb"
	"github.com/etnz/debmaker/internal/logger"
)

// recorder keeps every entry it receives, with file contents read eagerly.
type recorder struct {
	entries  []deb.Entry
	contents map[string]string
}

func (r *recorder) OnDirectory(e deb.Entry) error { r.entries = append(r.entries, e); return nil }
func (r *recorder) OnLink(e deb.Entry) error      { r.entries = append(r.entries, e); return nil }

func (r *recorder) OnFile(e deb.Entry) error {
	r.entries = append(r.entries, e)
	if e.Open == nil {
		return nil
	}
	rc, err := e.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	b, err := io.ReadAll(rc)
	if err != nil {
		return err
	}
	if r.contents == nil {
		r.contents = map[string]string{}
	}
	r.contents[e.Path] = string(b)
	return nil
}

func (r *recorder) paths() []string {
	var out []string
	for _, e := range r.entries {
		out = append(out, e.Path)
	}
	return out
}

func (r *recorder) entry(t *testing.T, path string) deb.Entry {
	t.Helper()
	for _, e := range r.entries {
		if e.Path == path {
			return e
		}
	}
	t.Fatalf("no entry %s in %v", path, r.paths())
	return deb.Entry{}
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
	}
}

func TestDirectoryProducesTree(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"bin/hello":       "hello",
		"etc/hello.conf":  "conf",
		"etc/hello.conf~": "backup",
		".git/HEAD":       "ref",
	})

	r := &recorder{}
	require.NoError(t, (&Directory{Dir: root}).Produce(context.Background(), r))

	require.Equal(t, []string{"bin", "bin/hello", "etc", "etc/hello.conf"}, r.paths())
	dir := r.entry(t, "bin")
	require.Equal(t, deb.KindDirectory, dir.Kind)
	require.Equal(t, DefaultDirMode, dir.Mode)
	file := r.entry(t, "bin/hello")
	require.Equal(t, deb.KindFile, file.Kind)
	require.Equal(t, DefaultFileMode, file.Mode)
	require.Equal(t, deb.Root, file.User)
	require.Equal(t, deb.Root, file.Group)
	require.Equal(t, int64(5), file.Size)
	require.Equal(t, "hello", r.contents["bin/hello"])
}

func TestDirectoryFilters(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{
		"lib/a.so":      "a",
		"lib/a.la":      "la",
		"lib/sub/b.so":  "b",
		"doc/README":    "doc",
		"lib/.git/HEAD": "ref",
	})

	r := &recorder{}
	d := &Directory{Dir: root, Filter: Filter{Includes: []string{"lib"}, Excludes: []string{"**/*.la"}}}
	require.NoError(t, d.Produce(context.Background(), r))
	require.Equal(t, []string{"lib", "lib/a.so", "lib/sub", "lib/sub/b.so"}, r.paths())

	r = &recorder{}
	d = &Directory{Dir: root, Filter: Filter{Includes: []string{"lib/.git"}, KeepDefaultExcludes: true}}
	require.NoError(t, d.Produce(context.Background(), r))
	require.Equal(t, []string{"lib/.git", "lib/.git/HEAD"}, r.paths())
}

func TestDirectoryMapper(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"bin/tool": "x"})

	perm := NewPerm()
	perm.Prefix = "/opt/app"
	perm.User, perm.UID = "app", 1000
	perm.FileMode = 0o755
	r := &recorder{}
	require.NoError(t, (&Directory{Dir: root, Mapper: perm.Map}).Produce(context.Background(), r))

	require.Equal(t, []string{"/opt/app/bin", "/opt/app/bin/tool"}, r.paths())
	tool := r.entry(t, "/opt/app/bin/tool")
	require.Equal(t, deb.Owner{Name: "app", ID: 1000}, tool.User)
	require.Equal(t, deb.Root, tool.Group)
	require.Equal(t, int64(0o755), tool.Mode)
	require.Equal(t, DefaultDirMode, r.entry(t, "/opt/app/bin").Mode)
}

func TestDirectoryFollowsFileSymlinks(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeTree(t, root, map[string]string{"real": "content"})
	require.NoError(t, os.Symlink("real", filepath.Join(root, "alias")))
	require.NoError(t, os.Symlink("nowhere", filepath.Join(root, "dangling")))

	r := &recorder{}
	require.NoError(t, (&Directory{Dir: root}).Produce(context.Background(), r))

	alias := r.entry(t, "alias")
	require.Equal(t, deb.KindFile, alias.Kind)
	require.Equal(t, "content", r.contents["alias"])
	dangling := r.entry(t, "dangling")
	require.Equal(t, deb.KindSymlink, dangling.Kind)
	require.Equal(t, "nowhere", dangling.LinkTarget)
}

func TestMissingSources(t *testing.T) {
	t.Parallel()

	missing := filepath.Join(t.TempDir(), "none")
	producers := []deb.Producer{
		&Directory{Dir: missing},
		&File{Path: missing},
		&Archive{Path: missing + ".tar.gz"},
	}
	for _, p := range producers {
		err := p.Produce(context.Background(), &recorder{})
		var nf *NotFoundError
		require.ErrorAs(t, err, &nf)
		require.True(t, errors.Is(err, fs.ErrNotExist))
	}

	core, logs := observer.New(zapcore.InfoLevel)
	ctx := logger.ToContext(context.Background(), zap.New(core).Sugar())
	r := &recorder{}
	require.NoError(t, (&Directory{Dir: missing, Missing: IgnoreMissing}).Produce(ctx, r))
	require.Empty(t, r.entries)
	require.Equal(t, 1, logs.FilterMessage("Skipping missing data source "+missing).Len())
}

func TestParseMissingPolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]MissingPolicy{"": FailOnMissing, "fail": FailOnMissing, "IGNORE": IgnoreMissing} {
		got, err := ParseMissingPolicy(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseMissingPolicy("skip")
	require.Error(t, err)
}

func TestFileProducer(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "hello.conf")
	require.NoError(t, os.WriteFile(path, []byte("greeting=hi\n"), 0o600))

	r := &recorder{}
	require.NoError(t, (&File{Path: path, Mapper: Prefix(0, "/etc/hello")}).Produce(context.Background(), r))
	require.Equal(t, []string{"/etc/hello/hello.conf"}, r.paths())
	require.Equal(t, "greeting=hi\n", r.contents["/etc/hello/hello.conf"])

	r = &recorder{}
	require.NoError(t, (&File{Path: path, Destination: "/etc/default/hello"}).Produce(context.Background(), r))
	require.Equal(t, []string{"/etc/default/hello"}, r.paths())

	require.Error(t, (&File{Path: filepath.Dir(path)}).Produce(context.Background(), &recorder{}))
}

func TestLinkAndPathTemplate(t *testing.T) {
	t.Parallel()

	r := &recorder{}
	ctx := context.Background()
	require.NoError(t, (&Link{Path: "/usr/bin/hi", Target: "hello", Symlink: true}).Produce(ctx, r))
	require.NoError(t, (&Link{Path: "/usr/bin/hey", Target: "/usr/bin/hello"}).Produce(ctx, r))
	require.NoError(t, (&PathTemplate{Paths: []string{"/var/log/hello", " ", "/var/lib/hello"}}).Produce(ctx, r))

	require.Equal(t, []string{"/usr/bin/hi", "/usr/bin/hey", "/var/log/hello", "/var/lib/hello"}, r.paths())
	require.Equal(t, deb.KindSymlink, r.entries[0].Kind)
	require.Equal(t, deb.KindHardlink, r.entries[1].Kind)
	require.Equal(t, "/usr/bin/hello", r.entries[1].LinkTarget)
	require.Equal(t, deb.KindDirectory, r.entries[2].Kind)
	require.Equal(t, DefaultDirMode, r.entries[2].Mode)

	require.Error(t, (&Link{Path: "/usr/bin/x"}).Produce(ctx, r))
}

func writeTestTarGz(t *testing.T, path string) {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	mod := time.Unix(1700000000, 0)
	headers := []struct {
		h    tar.Header
		body string
	}{
		{tar.Header{Name: "./", Typeflag: tar.TypeDir, Mode: 0o755, ModTime: mod}, ""},
		{tar.Header{Name: "./app/", Typeflag: tar.TypeDir, Mode: 0o750, Uname: "app", Uid: 1000, ModTime: mod}, ""},
		{tar.Header{Name: "./app/run", Typeflag: tar.TypeReg, Mode: 0o755, Size: 3, ModTime: mod}, "run"},
		{tar.Header{Name: "./app/notes.txt", Typeflag: tar.TypeReg, Mode: 0o644, Size: 5, ModTime: mod}, "notes"},
		{tar.Header{Name: "./app/current", Typeflag: tar.TypeSymlink, Linkname: "run", ModTime: mod}, ""},
	}
	for _, e := range headers {
		h := e.h
		require.NoError(t, tw.WriteHeader(&h))
		_, err := tw.Write([]byte(e.body))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
}

func TestArchiveTar(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.tgz")
	writeTestTarGz(t, path)

	r := &recorder{}
	a := &Archive{Path: path, Filter: Filter{Excludes: []string{"**/*.txt"}}, Mapper: Prefix(0, "/opt")}
	require.NoError(t, a.Produce(context.Background(), r))

	require.Equal(t, []string{"/opt/app", "/opt/app/run", "/opt/app/current"}, r.paths())
	dir := r.entry(t, "/opt/app")
	require.Equal(t, deb.KindDirectory, dir.Kind)
	require.Equal(t, int64(0o750), dir.Mode)
	require.Equal(t, deb.Owner{Name: "app", ID: 1000}, dir.User)
	require.Equal(t, "run", r.contents["/opt/app/run"])
	require.Equal(t, int64(0o755), r.entry(t, "/opt/app/run").Mode)
	require.Equal(t, "run", r.entry(t, "/opt/app/current").LinkTarget)
}

func TestArchiveZip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.zip")
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	_, err := zw.Create("share/")
	require.NoError(t, err)
	w, err := zw.Create("share/data.txt")
	require.NoError(t, err)
	_, err = w.Write([]byte("zipped"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	r := &recorder{}
	require.NoError(t, (&Archive{Path: path}).Produce(context.Background(), r))
	require.Equal(t, []string{"share", "share/data.txt"}, r.paths())
	require.Equal(t, deb.KindDirectory, r.entries[0].Kind)
	require.Equal(t, deb.Root, r.entries[1].User)
	require.Equal(t, "zipped", r.contents["share/data.txt"])
	require.Equal(t, int64(6), r.entries[1].Size)
}

func TestArchiveFeedsDataBuilder(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "app.tar.gz")
	writeTestTarGz(t, path)

	var out bytes.Buffer
	b := &deb.DataBuilder{Compression: deb.CompressionNone}
	summary, err := b.Build(context.Background(), &out, &Archive{Path: path})
	require.NoError(t, err)

	var names []string
	tr := tar.NewReader(&out)
	for {
		h, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		names = append(names, h.Name)
	}
	sort.Strings(names)
	require.Contains(t, names, "./app/run")
	require.Contains(t, names, "./app/notes.txt")
	require.Contains(t, names, "./app/current")
	require.Equal(t, 2, summary.Files)
}

func TestFilesProducer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"a.jar": "a", "lib/b.jar": "b"})
	paths := []string{filepath.Join(dir, "a.jar"), filepath.Join(dir, "lib", "b.jar"), filepath.Join(dir, "c.jar")}

	r := &recorder{}
	require.NoError(t, (&Files{Paths: paths, Destination: "/usr/share/java/", Missing: IgnoreMissing}).Produce(context.Background(), r))
	require.Equal(t, []string{"/usr/share/java/a.jar", "/usr/share/java/b.jar"}, r.paths())
	require.Equal(t, "b", r.contents["/usr/share/java/b.jar"])

	r = &recorder{}
	require.NoError(t, (&Files{Paths: []string{"lib/b.jar"}, Dir: dir}).Produce(context.Background(), r))
	require.Equal(t, []string{"lib/b.jar"}, r.paths())
	require.Equal(t, "b", r.contents["lib/b.jar"])

	var nf *NotFoundError
	require.ErrorAs(t, (&Files{Paths: paths}).Produce(context.Background(), &recorder{}), &nf)
	require.Error(t, (&Files{Paths: []string{dir}}).Produce(context.Background(), &recorder{}))
}

func TestManPageDestination(t *testing.T) {
	t.Parallel()

	cases := []struct{ dest, src, want string }{
		{"", "page.1", "/usr/share/man/man1/page.1.gz"},
		{"/some/fixed/location", "page.1", "/some/fixed/location"},
		{"/some/fixed/location", "page.1.gz", "/some/fixed/location"},
		{"", "/some/page.2.gz", "/usr/share/man/man2/page.2.gz"},
		{"", "/some/page.7.bz2", "/usr/share/man/man7/page.7.bz2"},
		{"", "page", "/usr/share/man/man1/page.1.gz"},
		{"", "page.-1", "/usr/share/man/man1/page.-1.1.gz"},
		{"", "page.txt", "/usr/share/man/man1/page.txt.1.gz"},
	}
	for _, c := range cases {
		require.Equal(t, c.want, ManPageDestination(c.dest, c.src), "ManPageDestination(%q, %q)", c.dest, c.src)
	}
}

func TestManPageProducer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeTree(t, dir, map[string]string{"hello.8": ".TH HELLO 8\n", "hi.1.gz": "already compressed"})

	r := &recorder{}
	ctx := context.Background()
	require.NoError(t, (&ManPage{Path: filepath.Join(dir, "hello.8")}).Produce(ctx, r))
	require.NoError(t, (&ManPage{Path: filepath.Join(dir, "hi.1.gz")}).Produce(ctx, r))
	require.Equal(t, []string{"/usr/share/man/man8/hello.8.gz", "/usr/share/man/man1/hi.1.gz"}, r.paths())

	page := r.contents["/usr/share/man/man8/hello.8.gz"]
	require.Equal(t, int64(len(page)), r.entries[0].Size)
	require.Equal(t, byte(2), page[8], "gzip header must flag best compression")
	zr, err := gzip.NewReader(bytes.NewReader([]byte(page)))
	require.NoError(t, err)
	b, err := io.ReadAll(zr)
	require.NoError(t, err)
	require.Equal(t, ".TH HELLO 8\n", string(b))

	require.Equal(t, "already compressed", r.contents["/usr/share/man/man1/hi.1.gz"])

	require.NoError(t, (&ManPage{Path: filepath.Join(dir, "none.1"), Missing: IgnoreMissing}).Produce(ctx, r))
	require.Len(t, r.entries, 2)
}
