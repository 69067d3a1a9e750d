package deb

// ControlField represents a standard field in a Debian control file.
type ControlField string

const (
	FieldPackage       ControlField = "Package"
	FieldSource        ControlField = "Source"
	FieldVersion       ControlField = "Version"
	FieldArchitecture  ControlField = "Architecture"
	FieldMaintainer    ControlField = "Maintainer"
	FieldInstalledSize ControlField = "Installed-Size"
	FieldDepends       ControlField = "Depends"
	FieldPreDepends    ControlField = "Pre-Depends"
	FieldRecommends    ControlField = "Recommends"
	FieldSuggests      ControlField = "Suggests"
	FieldEnhances      ControlField = "Enhances"
	FieldBreaks        ControlField = "Breaks"
	FieldConflicts     ControlField = "Conflicts"
	FieldReplaces      ControlField = "Replaces"
	FieldProvides      ControlField = "Provides"
	FieldBuiltUsing    ControlField = "Built-Using"
	FieldSection       ControlField = "Section"
	FieldPriority      ControlField = "Priority"
	FieldHomepage      ControlField = "Homepage"
	FieldDescription   ControlField = "Description"
	FieldEssential     ControlField = "Essential"

	// Index-only fields appended by the Packages generator. They are never
	// part of a package's own control file.
	FieldFilename ControlField = "Filename"
	FieldSize     ControlField = "Size"
	FieldMD5sum   ControlField = "MD5sum"
	FieldSHA1     ControlField = "SHA1"
	FieldSHA256   ControlField = "SHA256"
)

// relationFields are the package relationship declarations. Their values are
// recorded verbatim into index stanzas and never parsed for dependency
// resolution.
var relationFields = []ControlField{
	FieldDepends,
	FieldPreDepends,
	FieldRecommends,
	FieldSuggests,
	FieldEnhances,
	FieldBreaks,
	FieldConflicts,
	FieldReplaces,
	FieldProvides,
}

// ControlFile represents a standard file found in the control.tar archive.
type ControlFile string

const (
	FileControl   ControlFile = "control"
	FileMd5sums   ControlFile = "md5sums"
	FileConffiles ControlFile = "conffiles"
)

// ReleaseField represents a standard field in a Debian Release file.
type ReleaseField string

const (
	RelOrigin        ReleaseField = "Origin"
	RelLabel         ReleaseField = "Label"
	RelSuite         ReleaseField = "Suite"
	RelVersion       ReleaseField = "Version"
	RelCodename      ReleaseField = "Codename"
	RelDate          ReleaseField = "Date"
	RelValidUntil    ReleaseField = "Valid-Until"
	RelArchitectures ReleaseField = "Architectures"
	RelComponents    ReleaseField = "Components"
	RelComponent     ReleaseField = "Component"
	RelArchitecture  ReleaseField = "Architecture"
	RelArchive       ReleaseField = "Archive"
	RelDescription   ReleaseField = "Description"
	RelMD5Sum        ReleaseField = "MD5Sum"
	RelSHA1          ReleaseField = "SHA1"
	RelSHA256        ReleaseField = "SHA256"
)
