package deb

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strings"
	"unicode"
)

// Shape describes how a field value spans lines.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#syntax-of-control-files
type Shape int

const (
	// Simple values fit on one line.
	Simple Shape = iota
	// Folded values may wrap; line breaks are not significant.
	Folded
	// Multiline values carry significant line breaks (e.g. Description).
	Multiline
	// MultilineFirstEmpty values start on the line after the field name
	// (e.g. the checksum blocks of .changes and Release).
	MultilineFirstEmpty
)

// Field describes one field of a Schema.
type Field struct {
	Name      string
	Mandatory bool
	Shape     Shape
}

// format renders value as a field block. Empty and blank values render nothing.
func (f Field) format(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	var b strings.Builder
	b.WriteString(f.Name)
	b.WriteString(":")
	continuation := false
	if f.Shape == MultilineFirstEmpty {
		value = strings.TrimPrefix(value, "\n")
		b.WriteString("\n")
		continuation = true
	}
	for _, line := range splitLines(value) {
		if continuation && strings.TrimSpace(line) == "" {
			b.WriteString(" .\n")
		} else {
			b.WriteString(" ")
			b.WriteString(line)
			b.WriteString("\n")
		}
		continuation = true
	}
	return b.String()
}

// Schema is the immutable field layout of one kind of control document.
type Schema struct {
	// Name identifies the document kind in error messages.
	Name   string
	Fields []Field
	// UserDefinedLetter selects the X[BCS]-Name user-defined fields kept by
	// this document. Zero disables user-defined fields.
	UserDefinedLetter rune
	// Defaults are applied by NewDocument.
	Defaults map[string]string
}

// Field returns the descriptor named name.
func (s *Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// Mandatory lists the names of the mandatory fields, in schema order.
func (s *Schema) Mandatory() []string {
	var out []string
	for _, f := range s.Fields {
		if f.Mandatory {
			out = append(out, f.Name)
		}
	}
	return out
}

// Document is a set of field values bound to a Schema.
// A field set to the empty string is absent.
type Document struct {
	schema *Schema
	values map[string]string
	// userDefined holds the stripped names of user-defined fields in the
	// order they were first seen.
	userDefined []string
	// rawUserDefined maps the full X*-Name field to its value.
	rawUserDefined map[string]string
	rawOrder       []string
}

// NewDocument returns an empty document with the schema defaults applied.
func NewDocument(schema *Schema) *Document {
	d := &Document{
		schema:         schema,
		values:         make(map[string]string),
		rawUserDefined: make(map[string]string),
	}
	keys := make([]string, 0, len(schema.Defaults))
	for k := range schema.Defaults {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		d.Set(k, schema.Defaults[k])
	}
	return d
}

// Schema returns the schema the document is bound to.
func (d *Document) Schema() *Schema {
	return d.schema
}

// Get returns the value of name, or "".
func (d *Document) Get(name string) string {
	return d.values[name]
}

// Has reports whether name carries a value.
func (d *Document) Has(name string) bool {
	_, ok := d.values[name]
	return ok
}

// Set assigns value to name. The first line is trimmed as Parse does, and a
// blank value removes the field.
// Names of the form X[letters]-Name are user-defined fields: they are kept
// under Name when the letters include the schema's letter, dropped otherwise.
func (d *Document) Set(name, value string) {
	if name == "" {
		return
	}
	value = normalizeValue(value)
	if isUserDefinedField(name) {
		if value == "" {
			delete(d.rawUserDefined, name)
		} else {
			if _, seen := d.rawUserDefined[name]; !seen {
				d.rawOrder = append(d.rawOrder, name)
			}
			d.rawUserDefined[name] = value
		}
		stripped, ok := d.userDefinedName(name)
		if !ok {
			return
		}
		if !containsString(d.userDefined, stripped) {
			d.userDefined = append(d.userDefined, stripped)
		}
		name = stripped
	}
	if value == "" {
		delete(d.values, name)
		return
	}
	d.values[name] = value
}

// normalizeValue trims the first line of value, and returns "" for blank values.
func normalizeValue(value string) string {
	if strings.TrimSpace(value) == "" {
		return ""
	}
	first, rest, multiline := strings.Cut(value, "\n")
	first = strings.TrimSpace(first)
	if !multiline {
		return first
	}
	return first + "\n" + rest
}

// UserDefinedFields returns the user-defined fields under their full X*-Name,
// in the order they were set. Used to carry them over to derived documents.
func (d *Document) UserDefinedFields() [][2]string {
	var out [][2]string
	for _, k := range d.rawOrder {
		if v, ok := d.rawUserDefined[k]; ok {
			out = append(out, [2]string{k, v})
		}
	}
	return out
}

func isUserDefinedField(name string) bool {
	return strings.HasPrefix(name, "X") && strings.Index(name, "-") > 0
}

func (d *Document) userDefinedName(name string) (string, bool) {
	letter := d.schema.UserDefinedLetter
	if letter == 0 {
		return "", false
	}
	idx := strings.Index(name, "-")
	if strings.ContainsRune(name[:idx], letter) {
		return name[idx+1:], true
	}
	return "", false
}

// MissingMandatoryFields lists every mandatory field without a value.
func (d *Document) MissingMandatoryFields() []string {
	var missing []string
	for _, f := range d.schema.Fields {
		if f.Mandatory && !d.Has(f.Name) {
			missing = append(missing, f.Name)
		}
	}
	return missing
}

// Validate returns a *ValidationError when mandatory fields are missing.
func (d *Document) Validate() error {
	missing := d.MissingMandatoryFields()
	if len(missing) == 0 {
		return nil
	}
	return &ValidationError{Document: d.schema.Name, Invalid: missing, Mandatory: d.schema.Mandatory()}
}

// String serializes the schema fields in order, then the user-defined fields.
// Fields outside the schema are not written.
func (d *Document) String() string {
	var b strings.Builder
	for _, f := range d.schema.Fields {
		b.WriteString(f.format(d.values[f.Name]))
	}
	for _, name := range d.userDefined {
		if _, inSchema := d.schema.Field(name); inSchema {
			continue
		}
		f := Field{Name: name}
		b.WriteString(f.format(d.values[name]))
	}
	return b.String()
}

// Clone returns an independent copy.
func (d *Document) Clone() *Document {
	c := &Document{
		schema:         d.schema,
		values:         make(map[string]string, len(d.values)),
		userDefined:    append([]string(nil), d.userDefined...),
		rawUserDefined: make(map[string]string, len(d.rawUserDefined)),
		rawOrder:       append([]string(nil), d.rawOrder...),
	}
	for k, v := range d.values {
		c.values[k] = v
	}
	for k, v := range d.rawUserDefined {
		c.rawUserDefined[k] = v
	}
	return c
}

// ParseDocument reads a control document. Values of fields already set
// (e.g. schema defaults) are overwritten by the parsed ones.
func ParseDocument(schema *Schema, r io.Reader) (*Document, error) {
	d := NewDocument(schema)
	if err := d.Parse(r); err != nil {
		return nil, err
	}
	return d, nil
}

// ParseDocumentFiltered substitutes variables in every line before parsing.
func ParseDocumentFiltered(schema *Schema, r io.Reader, open, closing string, resolver Resolver) (*Document, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseDocument(schema, strings.NewReader(FilterText(string(raw), open, closing, resolver)))
}

// Parse merges the fields read from r into d.
//
// A line starting with a letter opens a field; any other line continues the
// previous value. A continuation consisting of a single "." is an empty line.
func (d *Document) Parse(r io.Reader) error {
	var (
		field  string
		buffer strings.Builder
		lineNr int
	)
	flush := func() {
		if field != "" {
			d.Set(field, buffer.String())
		}
	}

	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		lineNr++

		if line == "" {
			return &ParseError{Line: lineNr, Msg: "Empty line"}
		}

		first := []rune(line)[0]
		if unicode.IsLetter(first) {
			flush()
			buffer.Reset()
			i := strings.IndexByte(line, ':')
			if i < 0 {
				return &ParseError{Line: lineNr, Msg: "Line misses ':' delimiter"}
			}
			field = line[:i]
			buffer.WriteString(strings.TrimSpace(line[i+1:]))
			continue
		}

		rest := string([]rune(line)[1:])
		buffer.WriteString("\n")
		if strings.TrimSpace(rest) != "." {
			buffer.WriteString(rest)
		}
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("reading %s: %w", d.schema.Name, err)
	}
	flush()
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
