package deb

import (
	"strings"

	"pault.ag/go/debian/dependency"
	"pault.ag/go/debian/version"
)

func optional(name string) Field  { return Field{Name: name} }
func mandatory(name string) Field { return Field{Name: name, Mandatory: true} }
func multiline(name string) Field { return Field{Name: name, Mandatory: true, Shape: Multiline} }
func block(name string) Field     { return Field{Name: name, Mandatory: true, Shape: MultilineFirstEmpty} }

var binaryFields = []Field{
	mandatory(string(FieldPackage)),
	optional(string(FieldSource)),
	mandatory(string(FieldVersion)),
	mandatory(string(FieldSection)),
	mandatory(string(FieldPriority)),
	mandatory(string(FieldArchitecture)),
	optional(string(FieldEssential)),
	optional(string(FieldDepends)),
	optional(string(FieldPreDepends)),
	optional(string(FieldRecommends)),
	optional(string(FieldSuggests)),
	optional(string(FieldBreaks)),
	optional(string(FieldEnhances)),
	optional(string(FieldConflicts)),
	optional(string(FieldProvides)),
	optional(string(FieldReplaces)),
	optional(string(FieldInstalledSize)),
	mandatory(string(FieldMaintainer)),
	multiline(string(FieldDescription)),
	optional(string(FieldHomepage)),
}

// BinaryControlSchema is the layout of DEBIAN/control in a binary package.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#binary-package-control-files-debian-control
var BinaryControlSchema = &Schema{
	Name:              "control file",
	Fields:            binaryFields,
	UserDefinedLetter: 'B',
	Defaults: map[string]string{
		string(FieldArchitecture): "all",
		string(FieldPriority):     "optional",
	},
}

// PackagesSchema is the layout of a stanza in a Packages index.
//
// Reference: https://wiki.debian.org/DebianRepository/Format#A.22Packages.22_Indices
var PackagesSchema = &Schema{
	Name: "packages stanza",
	Fields: append(append([]Field(nil), binaryFields...),
		optional(string(FieldSHA256)),
		optional(string(FieldSHA1)),
		optional(string(FieldMD5sum)),
		mandatory(string(FieldSize)),
		optional(string(FieldFilename)),
	),
	UserDefinedLetter: 'B',
	Defaults: map[string]string{
		string(FieldArchitecture): "all",
		string(FieldPriority):     "optional",
	},
}

// ChangesSchema is the layout of a .changes upload manifest.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html#debian-changes-files-changes
var ChangesSchema = &Schema{
	Name: "changes file",
	Fields: []Field{
		mandatory(string(ChgFormat)),
		mandatory(string(ChgDate)),
		mandatory(string(ChgSource)),
		mandatory(string(ChgBinary)),
		mandatory(string(ChgArchitecture)),
		mandatory(string(ChgVersion)),
		mandatory(string(ChgDistribution)),
		mandatory(string(ChgUrgency)),
		mandatory(string(ChgMaintainer)),
		optional(string(ChgChangedBy)),
		block(string(ChgDescription)),
		block(string(ChgChanges)),
		optional(string(ChgCloses)),
		block(string(ChgChecksumsSha1)),
		block(string(ChgChecksumsSha256)),
		block(string(ChgFiles)),
	},
	UserDefinedLetter: 'C',
	Defaults: map[string]string{
		string(ChgFormat):       "1.8",
		string(ChgUrgency):      "low",
		string(ChgDistribution): "stable",
	},
}

// ComponentReleaseSchema is the layout of dists/<dist>/<comp>/binary-<arch>/Release.
var ComponentReleaseSchema = &Schema{
	Name: "component release",
	Fields: []Field{
		optional(string(RelArchive)),
		optional(string(RelVersion)),
		mandatory(string(RelComponent)),
		optional(string(RelOrigin)),
		optional(string(RelLabel)),
		mandatory(string(RelArchitecture)),
	},
	UserDefinedLetter: 'R',
}

// DistributionReleaseSchema is the layout of dists/<dist>/Release.
//
// Reference: https://wiki.debian.org/DebianRepository/Format#A.22Release.22_files
var DistributionReleaseSchema = &Schema{
	Name: "release file",
	Fields: []Field{
		optional(string(RelOrigin)),
		optional(string(RelLabel)),
		optional(string(RelSuite)),
		mandatory(string(RelCodename)),
		mandatory(string(RelDate)),
		optional(string(RelArchitectures)),
		mandatory(string(RelComponents)),
		multiline(string(RelDescription)),
		block(string(RelMD5Sum)),
		block(string(RelSHA1)),
		block(string(RelSHA256)),
	},
	UserDefinedLetter: 'R',
}

// ShortDescription returns the synopsis line of the Description field.
func ShortDescription(d *Document) string {
	desc := d.Get(string(FieldDescription))
	if i := strings.IndexByte(desc, '\n'); i >= 0 {
		return desc[:i]
	}
	return desc
}

var relationFields = []ControlField{
	FieldDepends, FieldPreDepends, FieldRecommends, FieldSuggests,
	FieldBreaks, FieldEnhances, FieldConflicts, FieldProvides, FieldReplaces,
}

// ValidateBinaryControl checks mandatory fields, the Version syntax and the
// relationship fields of a binary control document. All problems are
// reported in one *ValidationError.
func ValidateBinaryControl(d *Document) error {
	invalid := d.MissingMandatoryFields()
	reasons := map[string]string{}

	if v := d.Get(string(FieldVersion)); v != "" {
		if _, err := version.Parse(v); err != nil {
			invalid = append(invalid, string(FieldVersion))
			reasons[string(FieldVersion)] = err.Error()
		}
	}
	for _, rf := range relationFields {
		v := d.Get(string(rf))
		if v == "" {
			continue
		}
		if _, err := dependency.Parse(strings.Join(strings.Fields(v), " ")); err != nil {
			invalid = append(invalid, string(rf))
			reasons[string(rf)] = err.Error()
		}
	}

	if len(invalid) == 0 {
		return nil
	}
	return &ValidationError{
		Document:  d.Schema().Name,
		Invalid:   invalid,
		Mandatory: d.Schema().Mandatory(),
		Reasons:   reasons,
	}
}
