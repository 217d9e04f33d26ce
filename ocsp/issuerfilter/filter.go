// Package issuerfilter implements the include/exclude issuer allowlist of
// spec.md §4.10.
package issuerfilter

// Filter carries include/exclude sets of base64 SHA-1 fingerprints of
// issuer certificates.
type Filter struct {
	include map[string]struct{}
	exclude map[string]struct{}
}

// New builds a Filter from the given include/exclude fingerprint lists.
// A nil or empty list is treated as "no restriction" for that side.
func New(include, exclude []string) *Filter {
	f := &Filter{}
	if len(include) > 0 {
		f.include = make(map[string]struct{}, len(include))
		for _, fp := range include {
			f.include[fp] = struct{}{}
		}
	}
	if len(exclude) > 0 {
		f.exclude = make(map[string]struct{}, len(exclude))
		for _, fp := range exclude {
			f.exclude[fp] = struct{}{}
		}
	}
	return f
}

// Accepts reports whether sha1Fp (base64-encoded SHA-1 of the issuer
// certificate) is permitted: include empty or containing fp, AND exclude
// empty or not containing fp.
func (f *Filter) Accepts(sha1Fp string) bool {
	if len(f.include) > 0 {
		if _, ok := f.include[sha1Fp]; !ok {
			return false
		}
	}
	if len(f.exclude) > 0 {
		if _, ok := f.exclude[sha1Fp]; ok {
			return false
		}
	}
	return true
}
