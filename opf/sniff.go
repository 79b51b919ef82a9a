package opf

import (
	"fmt"
	"strings"

	"github.com/h2non/filetype"

	"muepub/common"
)

// ResourceLoader fetches a manifest item's raw bytes by href, the way a
// Book's zipio.Reader does once an archive is open. opf has no archive
// access of its own — SniffManifestResources is handed a loader rather
// than a *zipio.Reader so this package never depends on zipio.
type ResourceLoader func(href string) ([]byte, error)

// sniffableMediaTypes restricts sniffing to resources the h2non/filetype
// magic-byte tables can actually recognize; XHTML/CSS/NCX text documents
// have no reliable magic bytes and would produce false-positive mismatches.
var sniffableMediaTypes = map[string]bool{
	"image/jpeg": true, "image/png": true, "image/gif": true,
	"image/webp": true, "image/bmp": true, "font/ttf": true,
	"font/otf": true, "application/font-sfnt": true,
	"application/vnd.ms-opentype": true,
}

// SniffManifestResources validates every manifest item whose declared
// media-type is sniffable against its actual magic bytes (§6 "validate"
// subcommand: ManifestMediaTypeMismatch). load failures are reported as
// warnings rather than aborting validation — a single unreadable resource
// shouldn't hide every other diagnostic.
func SniffManifestResources(p *Package, load ResourceLoader) []common.Diagnostic {
	var diags []common.Diagnostic
	for _, item := range p.Manifest {
		declared := strings.ToLower(item.MediaType)
		if !sniffableMediaTypes[declared] {
			continue
		}
		data, err := load(item.Href)
		if err != nil {
			diags = append(diags, common.Diagnostic{
				Code:     "ManifestResourceUnreadable",
				Message:  fmt.Sprintf("manifest item %q (%s): %v", item.ID, item.Href, err),
				Severity: common.SeverityWarning,
				Href:     item.Href,
			})
			continue
		}
		kind, err := filetype.Match(data)
		if err != nil || kind == filetype.Unknown {
			continue // unrecognized magic bytes: not this checker's business
		}
		if !strings.EqualFold(kind.MIME.Value, declared) {
			diags = append(diags, common.Diagnostic{
				Code:     "ManifestMediaTypeMismatch",
				Message:  fmt.Sprintf("manifest item %q declares %q but content sniffs as %q", item.ID, item.MediaType, kind.MIME.Value),
				Severity: common.SeverityWarning,
				Href:     item.Href,
			})
		}
	}
	return diags
}
