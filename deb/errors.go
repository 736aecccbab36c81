package deb

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoControlFile is returned when the control directory holds no control file.
	ErrNoControlFile = errors.New("control file not found")
	// ErrNoSigningKey is returned when no usable private key is found in the keyring.
	ErrNoSigningKey = errors.New("no private key found")
)

// ParseError reports malformed control text.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("%s (line %d)", e.Msg, e.Line)
}

// ValidationError aggregates every problem found in a document.
type ValidationError struct {
	// Document names the kind of document ("control", "changes"...).
	Document string
	// Invalid lists the missing or malformed fields.
	Invalid []string
	// Mandatory lists all mandatory fields of the schema.
	Mandatory []string
	// Reasons optionally explains individual invalid fields.
	Reasons map[string]string
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s fields are invalid [%s]. The following fields are mandatory: [%s]",
		titleCase(e.Document), strings.Join(e.Invalid, ", "), strings.Join(e.Mandatory, ", "))
	for _, f := range e.Invalid {
		if r, ok := e.Reasons[f]; ok {
			fmt.Fprintf(&b, "; %s: %s", f, r)
		}
	}
	return b.String()
}

func titleCase(s string) string {
	if s == "" {
		return "Document"
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// FieldWidthError reports a tar header field exceeding its fixed width.
type FieldWidthError struct {
	Field string
	Value string
	Max   int
}

func (e *FieldWidthError) Error() string {
	return fmt.Sprintf("Field '%s' too long, maximum is %d", e.Field, e.Max)
}
