// internal/tenant/identity.go
//
// Identifier validation and normalization.
//
// Context
// -------
// Five identifier fields are globally unique when non-null: slug,
// companyDocument, subdomain, customDomain, and adminSubdomain.  The slug
// doubles as a subdomain routing key elsewhere in the platform, so it must
// satisfy a host-name-safe charset: ASCII a-z, 0-9, and “-”, no leading or
// trailing dash, 63 bytes max (one DNS label).
//
// `Identity.Normalize` lower-cases and trims every field so that the
// uniqueness pre-check in the repository compares like with like.  The
// unique indexes in the backing store remain the authority; the pre-check
// only exists to produce a precise *ConflictError before work is done.
//
// Rules (ValidateSlug)
// --------------------
// 1. Lower-case a-z, 0-9, and “-” only.
// 2. No leading or trailing “-”.
// 3. 1..63 bytes.
//
// Notes
// -----
// • No Unicode transliteration; identifiers are ASCII by contract.
package tenant

import "strings"

// Identity bundles the five globally-unique identifier fields of a tenant.
// Optional fields are nil when absent.
type Identity struct {
	Slug            string
	CompanyDocument string
	Subdomain       *string
	CustomDomain    *string
	AdminSubdomain  *string
}

// Normalize lower-cases and trims every field in place.  Empty optional
// strings collapse to nil so the store receives NULL, not "".
func (id *Identity) Normalize() {
	id.Slug = strings.ToLower(strings.TrimSpace(id.Slug))
	id.CompanyDocument = strings.TrimSpace(id.CompanyDocument)
	id.Subdomain = normalizeOpt(id.Subdomain)
	id.CustomDomain = normalizeOpt(id.CustomDomain)
	id.AdminSubdomain = normalizeOpt(id.AdminSubdomain)
}

// Validate checks formats only; uniqueness is checked against the store.
func (id *Identity) Validate() error {
	if err := ValidateSlug(id.Slug); err != nil {
		return err
	}
	if id.CompanyDocument == "" {
		return &ValidationError{Field: "companyDocument", Reason: "must be non-empty"}
	}
	for field, v := range map[string]*string{
		"subdomain":      id.Subdomain,
		"adminSubdomain": id.AdminSubdomain,
	} {
		if v == nil {
			continue
		}
		if !hostLabelOK(*v) {
			return &ValidationError{Field: field, Reason: "must be a single host-name label"}
		}
	}
	if id.CustomDomain != nil && !hostNameOK(*id.CustomDomain) {
		return &ValidationError{Field: "customDomain", Reason: "must be a valid host name"}
	}
	return nil
}

// ValidateSlug enforces the host-name-safe charset.
func ValidateSlug(slug string) error {
	if !hostLabelOK(slug) {
		return &ValidationError{
			Field:  "slug",
			Reason: "must be 1-63 chars of a-z, 0-9, or '-', no leading or trailing '-'",
		}
	}
	return nil
}

// hostLabelOK reports whether s is one valid lower-case DNS label.
func hostLabelOK(s string) bool {
	if len(s) == 0 || len(s) > 63 {
		return false
	}
	if s[0] == '-' || s[len(s)-1] == '-' {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'a' && c <= 'z', c >= '0' && c <= '9', c == '-':
		default:
			return false
		}
	}
	return true
}

// hostNameOK reports whether s is a dot-separated sequence of valid labels.
func hostNameOK(s string) bool {
	if len(s) == 0 || len(s) > 253 {
		return false
	}
	for _, label := range strings.Split(s, ".") {
		if !hostLabelOK(label) {
			return false
		}
	}
	return true
}

func normalizeOpt(v *string) *string {
	if v == nil {
		return nil
	}
	s := strings.ToLower(strings.TrimSpace(*v))
	if s == "" {
		return nil
	}
	return &s
}
