package deb

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/etnz/debmaker/internal/logger"
)

// changesDateLayout is the RFC 2822 date of the Date field.
const changesDateLayout = "Mon, 2 Jan 2006 15:04:05 -0700"

// releaseDateLayout is the date format of "release" lines in a changes text file.
const releaseDateLayout = "15:04 02.01.2006"

// ChangeSet is one release entry of the package history.
type ChangeSet struct {
	Package      string
	Version      string
	Date         time.Time
	Distribution string
	Urgency      string
	ChangedBy    string
	Changes      []string
}

// String renders the change set as it appears in the Changes field.
func (c ChangeSet) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s (%s) %s; urgency=%s", c.Package, c.Version, c.Distribution, c.Urgency)
	for _, change := range c.Changes {
		b.WriteString("\n * ")
		b.WriteString(change)
	}
	return b.String()
}

// ChangesProvider supplies the change sets of a package, most recent first.
type ChangesProvider interface {
	ChangeSets() []ChangeSet
}

// staticChanges is the provider used when no changes file is given.
type staticChanges []ChangeSet

func (s staticChanges) ChangeSets() []ChangeSet { return s }

// DefaultChanges returns a single empty change set describing control.
func DefaultChanges(control *Document, now time.Time) ChangesProvider {
	return staticChanges{changeSetFor(control, now)}
}

func changeSetFor(control *Document, now time.Time) ChangeSet {
	return ChangeSet{
		Package:      control.Get(string(FieldPackage)),
		Version:      control.Get(string(FieldVersion)),
		Date:         now,
		Distribution: control.Get(string(FieldDistribution)),
		Urgency:      control.Get(string(FieldUrgency)),
		ChangedBy:    control.Get(string(FieldMaintainer)),
	}
}

// TextfileChangesProvider reads change sets from a text file:
//
//	release date=14:00 13.01.2007,version=1.2,urgency=low,by=Jane <jane@example.org>,distribution=stable
//	 * first change
//	 * second change
//
// Each "release" line starts a new change set. Omitted attributes fall back
// to the previous release, then to the control document.
type TextfileChangesProvider struct {
	sets []ChangeSet
}

// NewTextfileChangesProvider parses r. now is the date of change sets
// without a date attribute.
func NewTextfileChangesProvider(r io.Reader, control *Document, now time.Time) (*TextfileChangesProvider, error) {
	current := changeSetFor(control, now)
	var (
		changes []string
		sets    []ChangeSet
		lineNr  int
	)
	flush := func() {
		cs := current
		cs.Changes = changes
		sets = append(sets, cs)
		changes = nil
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		lineNr++
		switch {
		case strings.HasPrefix(line, "release "):
			if len(changes) > 0 {
				flush()
			}
			for _, token := range strings.Split(line[len("release "):], ",") {
				key, value, ok := strings.Cut(strings.TrimSpace(token), "=")
				if !ok {
					return nil, &ParseError{Line: lineNr, Msg: fmt.Sprintf("Invalid release attribute [%s]", token)}
				}
				switch key {
				case "urgency":
					current.Urgency = value
				case "by":
					current.ChangedBy = value
				case "date":
					d, err := time.ParseInLocation(releaseDateLayout, value, time.Local)
					if err != nil {
						return nil, &ParseError{Line: lineNr, Msg: fmt.Sprintf("Invalid date [%s]", value)}
					}
					current.Date = d
				case "version":
					current.Version = value
				case "distribution":
					current.Distribution = value
				}
			}
		case strings.HasPrefix(line, " * "):
			changes = append(changes, line[len(" * "):])
		default:
			return nil, &ParseError{Line: lineNr, Msg: fmt.Sprintf("Unknown line syntax [%s]", line)}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading changes: %w", err)
	}
	flush()
	return &TextfileChangesProvider{sets: sets}, nil
}

// ChangeSets implements ChangesProvider.
func (p *TextfileChangesProvider) ChangeSets() []ChangeSet {
	return p.sets
}

// Save writes the change sets back in the text file format.
func (p *TextfileChangesProvider) Save(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, cs := range p.sets {
		fmt.Fprintf(bw, "release date=%s,version=%s,urgency=%s,by=%s,distribution=%s\n",
			cs.Date.Format(releaseDateLayout), cs.Version, cs.Urgency, cs.ChangedBy, cs.Distribution)
		for _, c := range cs.Changes {
			fmt.Fprintf(bw, " * %s\n", c)
		}
	}
	return bw.Flush()
}

// BuildChanges creates the .changes document of the package at debPath.
// The package is read once to compute its MD5, SHA1 and SHA256 digests.
func BuildChanges(ctx context.Context, control *Document, debPath string, provider ChangesProvider, now time.Time) (*Document, error) {
	if provider == nil {
		provider = DefaultChanges(control, now)
	}
	doc := NewDocument(ChangesSchema)

	pkg := control.Get(string(FieldPackage))
	doc.Set(string(ChgBinary), pkg)
	doc.Set(string(ChgSource), pkg)
	doc.Set(string(ChgArchitecture), control.Get(string(FieldArchitecture)))
	doc.Set(string(ChgVersion), control.Get(string(FieldVersion)))
	doc.Set(string(ChgMaintainer), control.Get(string(FieldMaintainer)))
	doc.Set(string(ChgChangedBy), control.Get(string(FieldMaintainer)))
	if d := control.Get(string(FieldDistribution)); d != "" {
		doc.Set(string(ChgDistribution), d)
	}
	for _, kv := range control.UserDefinedFields() {
		doc.Set(kv[0], kv[1])
	}
	desc := pkg
	if control.Has(string(FieldDescription)) {
		desc += " - " + ShortDescription(control)
	}
	doc.Set(string(ChgDescription), desc)

	sets := provider.ChangeSets()
	if len(sets) > 0 {
		doc.Set(string(ChgUrgency), sets[0].Urgency)
		doc.Set(string(ChgChangedBy), sets[0].ChangedBy)
		parts := make([]string, 0, len(sets))
		for _, cs := range sets {
			parts = append(parts, cs.String())
		}
		doc.Set(string(ChgChanges), strings.Join(parts, "\n"))
	}
	doc.Set(string(ChgDate), now.Format(changesDateLayout))

	f, err := os.Open(debPath)
	if err != nil {
		return nil, fmt.Errorf("opening package: %w", err)
	}
	defer f.Close()
	cw := mustChecksumWriter(nil, "MD5", "SHA1", "SHA256")
	if _, err := io.Copy(cw, f); err != nil {
		return nil, fmt.Errorf("hashing %s: %w", debPath, err)
	}
	name := filepath.Base(debPath)
	size := cw.Size()
	doc.Set(string(ChgChecksumsSha1), fmt.Sprintf("%s %d %s", cw.SumOf("SHA1"), size, name))
	doc.Set(string(ChgChecksumsSha256), fmt.Sprintf("%s %d %s", cw.SumOf("SHA256"), size, name))
	doc.Set(string(ChgFiles), fmt.Sprintf("%s %d %s %s %s", cw.SumOf("MD5"), size,
		control.Get(string(FieldSection)), control.Get(string(FieldPriority)), name))

	if err := doc.Validate(); err != nil {
		return nil, err
	}
	logger.DebugKV(ctx, "changes built", "package", pkg, "sets", len(sets))
	return doc, nil
}

// WriteChanges writes doc to w, clearsigned when signer is set.
func WriteChanges(w io.Writer, doc *Document, signer Signer) error {
	if signer == nil {
		_, err := io.WriteString(w, doc.String())
		return err
	}
	return signer.ClearSign(w, strings.NewReader(doc.String()))
}
