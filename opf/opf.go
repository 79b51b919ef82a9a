// Package opf parses the OPF package document (§4.2, §6): Dublin Core
// metadata by exact local-name/prefix match, the manifest, and the spine.
// EPUB 2.0 <guide> and NCX are tolerated rather than required.
package opf

import (
	"fmt"
	"strings"

	xml "github.com/tdewolff/parse/v2/xml"
	"go.uber.org/zap"

	"muepub/common"
	"muepub/xmlutil"
)

// Metadata holds the Dublin Core fields §4.2 requires populated with empty
// strings — never sentinels like "Unknown" — when absent.
type Metadata struct {
	Title       string
	Creator     string
	Language    string
	Identifier  string
	Publisher   string
	Description string
	Rights      string
	Date        string
}

// ManifestItem is one <manifest><item> entry.
type ManifestItem struct {
	ID         string
	Href       string
	MediaType  string
	Properties map[string]bool
}

// SpineItem is one <spine><itemref> entry, already joined against the
// manifest (§3 "Spine").
type SpineItem struct {
	IDRef      string
	Href       string
	Linear     bool
	Properties map[string]bool
}

// GuideRef is a tolerated EPUB2 <guide><reference> entry.
type GuideRef struct {
	Type  string
	Title string
	Href  string
}

// Package is the fully parsed OPF document.
type Package struct {
	Metadata Metadata
	Manifest []ManifestItem
	Spine    []SpineItem
	Guide    []GuideRef
	NCXHref  string // manifest item referenced by <spine toc="...">, if any
	Warnings []common.Diagnostic
}

// ByID returns the manifest item with the given id, if any.
func (p *Package) ByID(id string) (ManifestItem, bool) {
	for _, m := range p.Manifest {
		if m.ID == id {
			return m, true
		}
	}
	return ManifestItem{}, false
}

// section tracks which top-level OPF block the lexer is currently inside.
type section int

const (
	secNone section = iota
	secMetadata
	secManifest
	secSpine
	secGuide
)

// Limits caps manifest/spine cardinality (§3: "≤1024 manifest items and
// ≤256 spine items ... reported via a warning, not a silent truncation").
type Limits struct {
	MaxManifestItems int
	MaxSpineItems    int
}

// Parse reads OPF bytes into a Package. limits of zero use the spec
// defaults (1024 manifest / 256 spine).
func Parse(data []byte, limits Limits, log *zap.Logger) (*Package, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if limits.MaxManifestItems == 0 {
		limits.MaxManifestItems = 1024
	}
	if limits.MaxSpineItems == 0 {
		limits.MaxSpineItems = 256
	}

	decoded, err := xmlutil.DecodeDocument(data)
	if err != nil {
		return nil, common.NewError(common.ErrXML, fmt.Errorf("decoding OPF: %w", err))
	}

	p := &Package{}
	manifestByID := map[string]ManifestItem{}

	lx := xmlutil.NewLexer(decoded)

	sec := secNone

	var curLocal, curPrefix string
	var curAttrKey string
	var curItem ManifestItem
	var curSpineItem SpineItem
	var curGuideRef GuideRef
	var textBuf []byte
	var textTarget *string
	truncatedManifest := false
	truncatedSpine := false

	for {
		tt, tdata := lx.Next()
		switch tt {
		case xml.ErrorToken:
			if e := lx.Err(); e != nil && e.Error() != "EOF" {
				return nil, common.NewError(common.ErrXML, e)
			}
			return finalizePackage(p, manifestByID, truncatedManifest, truncatedSpine, limits)

		case xml.StartTagToken:
			curLocal = string(xmlutil.LocalName(tdata))
			curPrefix = string(xmlutil.Prefix(tdata))
			textBuf = textBuf[:0]
			textTarget = nil

			switch {
			case curLocal == "metadata":
				sec = secMetadata
			case curLocal == "manifest":
				sec = secManifest
			case curLocal == "spine":
				sec = secSpine
			case curLocal == "guide":
				sec = secGuide
			case sec == secMetadata && curPrefix == "dc":
				textTarget = dcTarget(&p.Metadata, curLocal)
			case sec == secManifest && curLocal == "item":
				curItem = ManifestItem{Properties: map[string]bool{}}
			case sec == secSpine && curLocal == "itemref":
				curSpineItem = SpineItem{Linear: true, Properties: map[string]bool{}}
			case sec == secGuide && curLocal == "reference":
				curGuideRef = GuideRef{}
			}

		case xml.TextToken:
			if textTarget != nil {
				textBuf = xmlutil.DecodeEntities(textBuf, tdata)
			}

		case xml.AttributeToken:
			curAttrKey = string(xmlutil.LocalName(tdata))

		case xml.StartTagCloseToken, xml.StartTagCloseVoidToken:
			switch {
			case sec == secManifest && curLocal == "item":
				if len(p.Manifest) >= limits.MaxManifestItems {
					truncatedManifest = true
				} else {
					p.Manifest = append(p.Manifest, curItem)
					manifestByID[curItem.ID] = curItem
				}
			case sec == secSpine && curLocal == "itemref":
				if len(p.Spine) >= limits.MaxSpineItems {
					truncatedSpine = true
				} else {
					p.Spine = append(p.Spine, curSpineItem)
				}
			case sec == secGuide && curLocal == "reference":
				p.Guide = append(p.Guide, curGuideRef)
			}

		case xml.EndTagToken:
			local := string(xmlutil.LocalName(tdata))
			if textTarget != nil && local == curLocal {
				*textTarget = string(textBuf)
				textTarget = nil
			}
			switch local {
			case "metadata", "manifest", "spine", "guide":
				sec = secNone
			}
		}

		if tt == xml.AttributeToken {
			val := string(xmlutil.Unquote(nil, lx.AttrVal()))
			applyAttr(sec, curLocal, curAttrKey, val, &curItem, &curSpineItem, &curGuideRef, p)
		}
	}
}

func dcTarget(m *Metadata, local string) *string {
	switch local {
	case "title":
		return &m.Title
	case "creator":
		return &m.Creator
	case "language":
		return &m.Language
	case "identifier":
		return &m.Identifier
	case "publisher":
		return &m.Publisher
	case "description":
		return &m.Description
	case "rights":
		return &m.Rights
	case "date":
		return &m.Date
	default:
		return nil
	}
}

func applyAttr(sec section, elem, key, val string, item *ManifestItem, spine *SpineItem, guide *GuideRef, p *Package) {
	switch {
	case sec == secManifest && elem == "item":
		switch key {
		case "id":
			item.ID = val
		case "href":
			item.Href = val
		case "media-type":
			item.MediaType = val
		case "properties":
			item.Properties = splitProperties(val)
		}
	case sec == secSpine && elem == "spine":
		if key == "toc" {
			p.NCXHref = val // resolved against manifest at finalize
		}
	case sec == secSpine && elem == "itemref":
		switch key {
		case "idref":
			spine.IDRef = val
		case "linear":
			spine.Linear = val != "no"
		case "properties":
			spine.Properties = splitProperties(val)
		}
	case sec == secGuide && elem == "reference":
		switch key {
		case "type":
			guide.Type = val
		case "title":
			guide.Title = val
		case "href":
			guide.Href = val
		}
	}
}

func splitProperties(val string) map[string]bool {
	out := map[string]bool{}
	for _, f := range strings.Fields(val) {
		out[f] = true
	}
	return out
}

func finalizePackage(p *Package, byID map[string]ManifestItem, truncManifest, truncSpine bool, limits Limits) (*Package, error) {
	if truncManifest {
		p.Warnings = append(p.Warnings, common.Diagnostic{
			Code:     "ManifestTruncated",
			Message:  fmt.Sprintf("manifest has more than %d items; extras were dropped, not silently ignored", limits.MaxManifestItems),
			Severity: common.SeverityWarning,
		})
	}
	if truncSpine {
		p.Warnings = append(p.Warnings, common.Diagnostic{
			Code:     "SpineTruncated",
			Message:  fmt.Sprintf("spine has more than %d items; extras were dropped, not silently ignored", limits.MaxSpineItems),
			Severity: common.SeverityWarning,
		})
	}
	if ncxItem, ok := byID[p.NCXHref]; ok {
		p.NCXHref = ncxItem.Href
	} else if p.NCXHref != "" {
		// toc="..." pointed at an id the manifest doesn't actually declare.
		p.Warnings = append(p.Warnings, common.Diagnostic{
			Code:     "NavMissing",
			Message:  fmt.Sprintf("spine toc=%q does not resolve to a manifest item", p.NCXHref),
			Severity: common.SeverityWarning,
		})
		p.NCXHref = ""
	}

	for i, s := range p.Spine {
		item, ok := byID[s.IDRef]
		if !ok {
			return nil, common.NewError(common.ErrXML, fmt.Errorf("SpineMissingManifestItem: spine item %d references unknown idref %q", i, s.IDRef))
		}
		p.Spine[i].Href = item.Href
	}
	return p, nil
}
