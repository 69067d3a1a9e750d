package deb

import (
	"fmt"
	"io"
	"sort"
	"strings"
)

// Metadata maps to the fields of a Debian binary package control file.
//
// Relationship fields (Depends, Conflicts, ...) are kept as the verbatim
// strings declared by the package; this system records them into index
// stanzas and never interprets them.
//
// Reference: https://www.debian.org/doc/debian-policy/ch-controlfields.html
type Metadata struct {
	Package       string
	Source        string
	Version       string
	Architecture  string
	Maintainer    string
	InstalledSize string
	Essential     bool

	Depends    string
	PreDepends string
	Recommends string
	Suggests   string
	Enhances   string
	Breaks     string
	Conflicts  string
	Replaces   string
	Provides   string

	BuiltUsing  string
	Section     string
	Priority    string
	Homepage    string
	Description string

	// Extra holds non-standard fields, preserved verbatim and emitted in
	// sorted order after the standard fields.
	Extra map[string]string
}

// Identity returns the name_version_architecture triple that identifies a
// binary package within a repository.
func (m *Metadata) Identity() string {
	return fmt.Sprintf("%s_%s_%s", m.Package, m.Version, m.Architecture)
}

// StandardFilename returns the canonical .deb file name for the package.
func (m *Metadata) StandardFilename() string {
	return m.Identity() + ".deb"
}

func (m *Metadata) set(key, value string) {
	switch ControlField(key) {
	case FieldPackage:
		m.Package = value
	case FieldSource:
		m.Source = value
	case FieldVersion:
		m.Version = value
	case FieldArchitecture:
		m.Architecture = value
	case FieldMaintainer:
		m.Maintainer = value
	case FieldInstalledSize:
		m.InstalledSize = value
	case FieldEssential:
		m.Essential = value == "yes"
	case FieldDepends:
		m.Depends = value
	case FieldPreDepends:
		m.PreDepends = value
	case FieldRecommends:
		m.Recommends = value
	case FieldSuggests:
		m.Suggests = value
	case FieldEnhances:
		m.Enhances = value
	case FieldBreaks:
		m.Breaks = value
	case FieldConflicts:
		m.Conflicts = value
	case FieldReplaces:
		m.Replaces = value
	case FieldProvides:
		m.Provides = value
	case FieldBuiltUsing:
		m.BuiltUsing = value
	case FieldSection:
		m.Section = value
	case FieldPriority:
		m.Priority = value
	case FieldHomepage:
		m.Homepage = value
	case FieldDescription:
		m.Description = value
	default:
		if m.Extra == nil {
			m.Extra = make(map[string]string)
		}
		m.Extra[key] = value
	}
}

func (m *Metadata) relation(f ControlField) string {
	switch f {
	case FieldDepends:
		return m.Depends
	case FieldPreDepends:
		return m.PreDepends
	case FieldRecommends:
		return m.Recommends
	case FieldSuggests:
		return m.Suggests
	case FieldEnhances:
		return m.Enhances
	case FieldBreaks:
		return m.Breaks
	case FieldConflicts:
		return m.Conflicts
	case FieldReplaces:
		return m.Replaces
	case FieldProvides:
		return m.Provides
	}
	return ""
}

// ParseControl parses the text of a Debian control file (or a single index
// stanza) into Metadata. Continuation lines (leading space or tab) are folded
// into the preceding field, which keeps multi-line Description values intact.
func ParseControl(content string) (*Metadata, error) {
	m := &Metadata{Extra: make(map[string]string)}

	var key string
	var value strings.Builder
	flush := func() {
		if key != "" {
			m.set(key, strings.TrimRight(value.String(), "\n"))
		}
		key = ""
		value.Reset()
	}

	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t"):
			if key == "" {
				return nil, fmt.Errorf("continuation line without a field: %q", line)
			}
			value.WriteString("\n" + line)
		case strings.TrimSpace(line) == "":
			continue
		default:
			colon := strings.Index(line, ":")
			if colon < 1 {
				return nil, fmt.Errorf("malformed control line: %q", line)
			}
			flush()
			key = strings.TrimSpace(line[:colon])
			value.WriteString(strings.TrimSpace(line[colon+1:]))
		}
	}
	flush()

	if m.Package == "" {
		return nil, fmt.Errorf("control file missing %s field", FieldPackage)
	}
	if m.Version == "" {
		return nil, fmt.Errorf("control file missing %s field", FieldVersion)
	}
	if m.Architecture == "" {
		return nil, fmt.Errorf("control file missing %s field", FieldArchitecture)
	}
	return m, nil
}

// WriteStanza emits the control fields in the canonical index order used by
// the Packages generator. The order is fixed so that identical metadata always
// produces identical bytes. Index-only fields (Filename, Size, hashes) are
// appended by the caller.
func (m *Metadata) WriteStanza(w io.Writer) error {
	field := func(f ControlField, v string) error {
		if v == "" {
			return nil
		}
		_, err := fmt.Fprintf(w, "%s: %s\n", f, v)
		return err
	}

	if err := field(FieldPackage, m.Package); err != nil {
		return err
	}
	if err := field(FieldSource, m.Source); err != nil {
		return err
	}
	if err := field(FieldVersion, m.Version); err != nil {
		return err
	}
	if err := field(FieldArchitecture, m.Architecture); err != nil {
		return err
	}
	if err := field(FieldMaintainer, m.Maintainer); err != nil {
		return err
	}
	if err := field(FieldInstalledSize, m.InstalledSize); err != nil {
		return err
	}
	if m.Essential {
		if err := field(FieldEssential, "yes"); err != nil {
			return err
		}
	}
	for _, f := range relationFields {
		if err := field(f, m.relation(f)); err != nil {
			return err
		}
	}
	if err := field(FieldBuiltUsing, m.BuiltUsing); err != nil {
		return err
	}

	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := field(ControlField(k), m.Extra[k]); err != nil {
			return err
		}
	}

	if err := field(FieldSection, m.Section); err != nil {
		return err
	}
	if err := field(FieldPriority, m.Priority); err != nil {
		return err
	}
	if err := field(FieldHomepage, m.Homepage); err != nil {
		return err
	}
	return field(FieldDescription, m.Description)
}

// Stanza returns the canonical control stanza as a string.
func (m *Metadata) Stanza() string {
	var b strings.Builder
	m.WriteStanza(&b)
	return b.String()
}
