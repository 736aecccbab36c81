// Package spk builds Synology packages.
//
// An .spk file is an uncompressed tar holding an INFO metadata file, the
// payload as package.tgz and a scripts directory.
package spk

import (
	"bufio"
	"fmt"
	"io"
	"slices"
	"strings"
	"unicode"

	"github.com/etnz/debmaker/deb"
)

// Field names of the INFO file.
const (
	FieldPackage     = "package"
	FieldVersion     = "version"
	FieldMaintainer  = "maintainer"
	FieldDescription = "description"
	FieldArch        = "arch"
	FieldAdminPort   = "adminport"
	FieldAdminURL    = "adminurl"
	FieldFirmware    = "firmware"
	FieldReloadUI    = "reloadui"
	FieldPackageIcon = "package_icon"
	FieldExtractSize = "extractsize"
	FieldChecksum    = "checksum"
)

// InfoSchema is the layout of the INFO file.
var InfoSchema = &deb.Schema{
	Name: "info file",
	Fields: []deb.Field{
		{Name: FieldPackage, Mandatory: true},
		{Name: FieldVersion, Mandatory: true},
		{Name: FieldMaintainer, Mandatory: true},
		{Name: FieldDescription, Mandatory: true, Shape: deb.Multiline},
		{Name: FieldArch, Mandatory: true},
		{Name: FieldAdminPort},
		{Name: FieldAdminURL},
		{Name: FieldFirmware},
		{Name: FieldReloadUI},
		{Name: FieldPackageIcon},
		{Name: FieldExtractSize},
		{Name: FieldChecksum},
	},
	Defaults: map[string]string{FieldArch: "noarch"},
}

const (
	delimiter = "="
	wrapper   = `"`
)

// Info is the content of an INFO file. Fields keep the order in which they
// were first set, and that order is used when writing.
type Info struct {
	keys   []string
	values map[string]string
}

// NewInfo returns an INFO document with the default arch.
func NewInfo() *Info {
	i := &Info{values: map[string]string{}}
	for k, v := range InfoSchema.Defaults {
		i.Set(k, v)
	}
	return i
}

// ParseInfo reads key="value" lines. Lines not starting with a letter
// continue the previous value; a continuation of a single "." is an empty
// line. The default arch applies when the text has none.
func ParseInfo(r io.Reader) (*Info, error) {
	i := &Info{values: map[string]string{}}
	var (
		field  string
		buffer strings.Builder
		lineNr int
	)
	flush := func() {
		if field != "" {
			i.Set(field, buffer.String())
		}
	}

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		lineNr++
		if line == "" {
			return nil, &deb.ParseError{Line: lineNr, Msg: "Empty line"}
		}
		if unicode.IsLetter([]rune(line)[0]) {
			flush()
			buffer.Reset()
			idx := strings.Index(line, delimiter)
			if idx < 0 {
				return nil, &deb.ParseError{Line: lineNr, Msg: "Line misses '" + delimiter + "' delimiter"}
			}
			field = strings.TrimSpace(line[:idx])
			buffer.WriteString(strings.TrimSpace(unwrap(line[idx+1:])))
			continue
		}
		rest := string([]rune(line)[1:])
		buffer.WriteString("\n")
		if strings.TrimSpace(rest) != "." {
			buffer.WriteString(strings.TrimSpace(unwrap(rest)))
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading INFO: %w", err)
	}
	flush()

	for k, v := range InfoSchema.Defaults {
		if !i.Has(k) {
			i.Set(k, v)
		}
	}
	return i, nil
}

// unwrap removes one leading and one trailing quote.
func unwrap(v string) string {
	v = strings.TrimPrefix(v, wrapper)
	return strings.TrimSuffix(v, wrapper)
}

func (i *Info) Get(name string) string {
	return i.values[name]
}

func (i *Info) Has(name string) bool {
	_, ok := i.values[name]
	return ok
}

// Set assigns value to name. An empty value removes the field.
func (i *Info) Set(name, value string) {
	if name == "" {
		return
	}
	if value == "" {
		delete(i.values, name)
		return
	}
	if !slices.Contains(i.keys, name) {
		i.keys = append(i.keys, name)
	}
	i.values[name] = value
}

// ShortDescription is the first line of the description.
func (i *Info) ShortDescription() string {
	d, _, _ := strings.Cut(i.Get(FieldDescription), "\n")
	return d
}

// Validate returns a *deb.ValidationError listing the missing mandatory fields.
func (i *Info) Validate() error {
	var missing []string
	for _, f := range InfoSchema.Fields {
		if f.Mandatory && !i.Has(f.Name) {
			missing = append(missing, f.Name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	return &deb.ValidationError{Document: InfoSchema.Name, Invalid: missing, Mandatory: InfoSchema.Mandatory()}
}

// String renders the fields as key="value". Multiline values continue on
// lines indented by one space, the closing quote ending the last line.
func (i *Info) String() string {
	var b strings.Builder
	for _, k := range i.keys {
		v, ok := i.values[k]
		if !ok || strings.TrimSpace(v) == "" {
			continue
		}
		b.WriteString(k)
		b.WriteString(delimiter)
		for n, line := range strings.Split(wrapper+v+wrapper, "\n") {
			switch {
			case n == 0:
				b.WriteString(line)
			case strings.TrimSpace(line) == "":
				b.WriteString(" .")
			default:
				b.WriteString(" ")
				b.WriteString(line)
			}
			b.WriteString("\n")
		}
	}
	return b.String()
}
