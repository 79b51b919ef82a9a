// Package nav parses EPUB3 XHTML navigation documents
// (nav[epub:type="toc"|"page-list"|"landmarks"]) and falls back to EPUB2
// toc.ncx (§4.2, §6). Per §9's "Arenas over cyclic references," the TOC
// tree lives in a flat Nodes arena addressed by index, never as a pointer
// tree with parent back-references.
package nav

import (
	"fmt"
	"sort"

	"github.com/gosimple/slug"
	"github.com/maruel/natural"
	xml "github.com/tdewolff/parse/v2/xml"
	"go.uber.org/zap"

	"muepub/common"
	"muepub/xmlutil"
)

// Entry is one TOC node. Children indexes into Navigation.Nodes.
type Entry struct {
	Label    string
	Href     string
	Fragment string
	Children []int
}

// PageListEntry is one flat page-list entry (§3).
type PageListEntry struct {
	Label    string
	Href     string
	Fragment string
}

// Landmark is one landmarks entry, labeled by its epub:type (e.g.
// "bodymatter", "cover").
type Landmark struct {
	Type     string
	Label    string
	Href     string
	Fragment string
	// DebugSlug is a slugified form of Label for logs and debug dumps
	// (e.g. matching a landmark against a fixture by eye); never parsed
	// back into navigation.
	DebugSlug string
}

// Navigation is the fully parsed navigation document.
type Navigation struct {
	Nodes     []Entry
	TOCRoots  []int
	PageList  []PageListEntry
	Landmarks []Landmark
	Warnings  []common.Diagnostic
}

type navKind int

const (
	navNone navKind = iota
	navTOC
	navPageList
	navLandmarks
)

// ParseXHTML parses an EPUB3 navigation document.
func ParseXHTML(data []byte, log *zap.Logger) (*Navigation, error) {
	if log == nil {
		log = zap.NewNop()
	}
	decoded, err := xmlutil.DecodeDocument(data)
	if err != nil {
		return nil, common.NewError(common.ErrXML, fmt.Errorf("decoding nav document: %w", err))
	}

	n := &Navigation{}
	lx := xmlutil.NewLexer(decoded)

	var navDepth int       // 0 = outside any <nav>, >0 = nesting depth of <nav> elements
	var kind navKind       // which <nav epub:type="..."> we're inside
	parentStack := []int{-1}
	var liStack []int
	var inAnchor bool
	var curLabel []byte
	var curHref, curFragment, curLandmarkType string
	var pendingAttrKey string
	var pendingAttrIsEpubType bool

	for {
		tt, tdata := lx.Next()
		switch tt {
		case xml.ErrorToken:
			if e := lx.Err(); e != nil && e.Error() != "EOF" {
				return nil, common.NewError(common.ErrXML, e)
			}
			return n, nil

		case xml.StartTagToken:
			local := string(xmlutil.LocalName(tdata))
			switch {
			case local == "nav":
				navDepth++
			case navDepth > 0 && local == "ol":
				top := -1
				if len(liStack) > 0 {
					top = liStack[len(liStack)-1]
				}
				parentStack = append(parentStack, top)
			case navDepth > 0 && local == "li":
				switch kind {
				case navTOC:
					idx := len(n.Nodes)
					n.Nodes = append(n.Nodes, Entry{})
					parent := parentStack[len(parentStack)-1]
					if parent < 0 {
						n.TOCRoots = append(n.TOCRoots, idx)
					} else {
						n.Nodes[parent].Children = append(n.Nodes[parent].Children, idx)
					}
					liStack = append(liStack, idx)
				default:
					liStack = append(liStack, -1) // placeholder, flat lists don't need an arena slot
					curHref, curFragment, curLabel, curLandmarkType = "", "", curLabel[:0], ""
				}
			case navDepth > 0 && local == "a":
				inAnchor = true
				curLabel = curLabel[:0]
				curHref, curFragment = "", ""
			}

		case xml.AttributeToken:
			pendingAttrKey = string(xmlutil.LocalName(tdata))
			pendingAttrIsEpubType = pendingAttrKey == "type" && string(xmlutil.Prefix(tdata)) == "epub"

		case xml.TextToken:
			if inAnchor {
				curLabel = xmlutil.DecodeEntities(curLabel, tdata)
			}

		case xml.EndTagToken:
			local := string(xmlutil.LocalName(tdata))
			switch {
			case local == "a":
				inAnchor = false
				if len(liStack) > 0 {
					top := liStack[len(liStack)-1]
					if kind == navTOC && top >= 0 {
						n.Nodes[top].Label += string(curLabel)
						n.Nodes[top].Href = curHref
						n.Nodes[top].Fragment = curFragment
					}
				}
			case local == "li":
				switch kind {
				case navTOC:
					if len(liStack) > 0 {
						liStack = liStack[:len(liStack)-1]
					}
				case navPageList:
					n.PageList = append(n.PageList, PageListEntry{Label: string(curLabel), Href: curHref, Fragment: curFragment})
					if len(liStack) > 0 {
						liStack = liStack[:len(liStack)-1]
					}
				case navLandmarks:
					label := string(curLabel)
					n.Landmarks = append(n.Landmarks, Landmark{
						Type: curLandmarkType, Label: label, Href: curHref, Fragment: curFragment,
						DebugSlug: slug.Make(label),
					})
					if len(liStack) > 0 {
						liStack = liStack[:len(liStack)-1]
					}
				}
			case local == "ol":
				if len(parentStack) > 1 {
					parentStack = parentStack[:len(parentStack)-1]
				}
			case local == "nav":
				navDepth--
				if navDepth == 0 {
					kind = navNone
				}
			}
		}

		if tt == xml.AttributeToken {
			val := string(xmlutil.Unquote(nil, lx.AttrVal()))
			switch {
			case pendingAttrIsEpubType && navDepth > 0 && !inAnchor && len(liStack) == 0:
				// epub:type on the <nav> element itself selects its kind.
				switch val {
				case "toc":
					kind = navTOC
				case "page-list":
					kind = navPageList
				case "landmarks":
					kind = navLandmarks
				}
			case pendingAttrIsEpubType && inAnchor:
				curLandmarkType = val
			case pendingAttrKey == "href" && inAnchor:
				href, frag := splitFragment(val)
				curHref, curFragment = href, frag
			}
		}
	}
}

// splitFragment splits "chapter1.xhtml#sec2" into ("chapter1.xhtml", "sec2").
func splitFragment(href string) (string, string) {
	for i := 0; i < len(href); i++ {
		if href[i] == '#' {
			return href[:i], href[i+1:]
		}
	}
	return href, ""
}

// Flatten returns the page-list entries in document order, with ties
// (same href+fragment) broken by natural-order comparison of the label —
// EPUB2 toc.ncx page lists aren't required to declare a unique playOrder,
// so this keeps output deterministic (§8 Determinism) without inventing an
// ordering the source document didn't declare.
func Flatten(entries []PageListEntry) []PageListEntry {
	out := make([]PageListEntry, len(entries))
	copy(out, entries)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Href == out[j].Href && out[i].Fragment == out[j].Fragment {
			return natural.Less(out[i].Label, out[j].Label)
		}
		return false
	})
	return out
}
