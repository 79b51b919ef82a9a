package book

import (
	"go.uber.org/multierr"

	"muepub/common"
	"muepub/opf"
)

// Validate runs every non-fatal check the `validate` subcommand surfaces
// (§6): the warnings already collected while opening the archive, plus a
// manifest media-type sniff pass that requires reading resource bodies
// and so isn't done eagerly at Open time. Each error wraps one
// common.Diagnostic; callers that want the list rather than a combined
// error can use multierr.Errors on the result.
func (b *Book) Validate() error {
	var errs error
	for _, d := range b.Warnings {
		errs = multierr.Append(errs, diagnosticError(d))
	}

	load := func(href string) ([]byte, error) {
		return readEntry(b.zip, joinHref(b.rootBase, href))
	}
	for _, d := range opf.SniffManifestResources(b.pkg, load) {
		errs = multierr.Append(errs, diagnosticError(d))
	}
	return errs
}

type diagnosticErr struct {
	d common.Diagnostic
}

func (e diagnosticErr) Error() string {
	if e.d.Href != "" {
		return e.d.Code + ": " + e.d.Message + " (" + e.d.Href + ")"
	}
	return e.d.Code + ": " + e.d.Message
}

func diagnosticError(d common.Diagnostic) error { return diagnosticErr{d} }
