// Package catalog holds the read-only detection data shared by every intake
// scanner: the magic-number signature registry and the pattern catalogs.
//
// Everything here is built once at package initialisation and never mutated,
// so concurrent validations read it without locking. Bump Version whenever a
// signature or pattern changes; it is reported in accepted-upload metadata
// and by the CLI so operators can tell which catalog judged a file.
package catalog

// Version identifies the catalog revision.
const Version = "2026.10.1"

// Sets returns every pattern set, general sets first.
func Sets() []*PatternSet {
	return []*PatternSet{Script, XSS, Command, SQL, Formula, PDFActive}
}
