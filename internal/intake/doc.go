// Package intake defines the validation contract for untrusted uploads and the
// pipeline that enforces it.
//
// A Candidate is checked by an ordered list of Stages. Each stage returns an
// Outcome; the first rejection ends the run and is returned unchanged, so a
// caller only ever sees one reason. The package also provides the two stages
// that need nothing beyond the catalog: the PropertyGate (size and extension,
// no content read) and the SignatureVerifier (magic numbers). Content,
// spreadsheet, archive and malware stages live in their own packages and
// plug in through the Stage interface.
package intake
