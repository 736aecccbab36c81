package deb

// ControlField represents a standard field in a Debian control file.
type ControlField string

const (
	FieldPackage       ControlField = "Package"
	FieldSource        ControlField = "Source"
	FieldVersion       ControlField = "Version"
	FieldSection       ControlField = "Section"
	FieldPriority      ControlField = "Priority"
	FieldArchitecture  ControlField = "Architecture"
	FieldEssential     ControlField = "Essential"
	FieldDepends       ControlField = "Depends"
	FieldPreDepends    ControlField = "Pre-Depends"
	FieldRecommends    ControlField = "Recommends"
	FieldSuggests      ControlField = "Suggests"
	FieldBreaks        ControlField = "Breaks"
	FieldEnhances      ControlField = "Enhances"
	FieldConflicts     ControlField = "Conflicts"
	FieldProvides      ControlField = "Provides"
	FieldReplaces      ControlField = "Replaces"
	FieldInstalledSize ControlField = "Installed-Size"
	FieldMaintainer    ControlField = "Maintainer"
	FieldDescription   ControlField = "Description"
	FieldHomepage      ControlField = "Homepage"

	// Packages index only.
	FieldFilename ControlField = "Filename"
	FieldSize     ControlField = "Size"
	FieldMD5sum   ControlField = "MD5sum"
	FieldSHA1     ControlField = "SHA1"
	FieldSHA256   ControlField = "SHA256"

	// Not part of the binary schema but consumed by the changes file.
	FieldDistribution ControlField = "Distribution"
	FieldUrgency      ControlField = "Urgency"
)

// ChangesField represents a field of a .changes file.
type ChangesField string

const (
	ChgFormat          ChangesField = "Format"
	ChgDate            ChangesField = "Date"
	ChgSource          ChangesField = "Source"
	ChgBinary          ChangesField = "Binary"
	ChgArchitecture    ChangesField = "Architecture"
	ChgVersion         ChangesField = "Version"
	ChgDistribution    ChangesField = "Distribution"
	ChgUrgency         ChangesField = "Urgency"
	ChgMaintainer      ChangesField = "Maintainer"
	ChgChangedBy       ChangesField = "Changed-By"
	ChgDescription     ChangesField = "Description"
	ChgChanges         ChangesField = "Changes"
	ChgCloses          ChangesField = "Closes"
	ChgChecksumsSha1   ChangesField = "Checksums-Sha1"
	ChgChecksumsSha256 ChangesField = "Checksums-Sha256"
	ChgFiles           ChangesField = "Files"
)

// ControlFile represents a standard file found in the control archive.
type ControlFile string

const (
	FileControl   ControlFile = "control"
	FileMd5sums   ControlFile = "md5sums"
	FileConffiles ControlFile = "conffiles"
	FilePreinst   ControlFile = "preinst"
	FilePostinst  ControlFile = "postinst"
	FilePrerm     ControlFile = "prerm"
	FilePostrm    ControlFile = "postrm"
	FileConfig    ControlFile = "config"
	FileTemplates ControlFile = "templates"
	FileTriggers  ControlFile = "triggers"
	FileCopyright ControlFile = "copyright"
)

// PackageFile represents a standard member of the .deb ar container.
type PackageFile string

const (
	PkgDebianBinary PackageFile = "debian-binary"
	PkgControlTarGz PackageFile = "control.tar.gz"
	// PkgDataTar is suffixed with the compression extension.
	PkgDataTar PackageFile = "data.tar"
	// PkgSignaturePrefix is suffixed with the signing role.
	PkgSignaturePrefix PackageFile = "_gpg"
)

// ReleaseField represents a standard field in a Debian Release file.
type ReleaseField string

const (
	RelOrigin        ReleaseField = "Origin"
	RelLabel         ReleaseField = "Label"
	RelSuite         ReleaseField = "Suite"
	RelArchive       ReleaseField = "Archive"
	RelVersion       ReleaseField = "Version"
	RelComponent     ReleaseField = "Component"
	RelCodename      ReleaseField = "Codename"
	RelDate          ReleaseField = "Date"
	RelArchitecture  ReleaseField = "Architecture"
	RelArchitectures ReleaseField = "Architectures"
	RelComponents    ReleaseField = "Components"
	RelDescription   ReleaseField = "Description"
	RelMD5Sum        ReleaseField = "MD5Sum"
	RelSHA1          ReleaseField = "SHA1"
	RelSHA256        ReleaseField = "SHA256"
)

const (
	// debianBinaryVersion is the content of the debian-binary member.
	debianBinaryVersion = "2.0\n"

	// DefaultOpenToken and DefaultCloseToken delimit substitution variables.
	DefaultOpenToken  = "[["
	DefaultCloseToken = "]]"

	// DefaultSignRole names the signature member (_gpgorigin).
	DefaultSignRole = "origin"
)
