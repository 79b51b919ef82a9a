package nav

import (
	"fmt"

	xml "github.com/tdewolff/parse/v2/xml"
	"go.uber.org/zap"

	"muepub/common"
	"muepub/xmlutil"
)

// ParseNCX parses an EPUB2 toc.ncx document as a fallback when no XHTML
// nav document exists (§4.2, §6). navMap -> navPoint(navLabel/text,
// content@src) becomes the TOC tree; pageList -> pageTarget becomes the
// flat page list. NCX has no landmarks equivalent.
func ParseNCX(data []byte, log *zap.Logger) (*Navigation, error) {
	if log == nil {
		log = zap.NewNop()
	}
	decoded, err := xmlutil.DecodeDocument(data)
	if err != nil {
		return nil, common.NewError(common.ErrXML, fmt.Errorf("decoding toc.ncx: %w", err))
	}

	n := &Navigation{}
	lx := xmlutil.NewLexer(decoded)

	type block int
	const (
		blockNone block = iota
		blockNavMap
		blockPageList
	)
	var cur block

	pointStack := []int{-1} // arena indices, -1 sentinel for the navMap root
	var inNavLabelText bool
	var curLabel []byte
	var pendingTarget *string // where the next <content src="..."> attribute lands

	var curPageLabel []byte
	var curPageHref, curPageFragment string

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
			switch local {
			case "navMap":
				cur = blockNavMap
			case "pageList":
				cur = blockPageList
			case "navPoint":
				if cur == blockNavMap {
					idx := len(n.Nodes)
					n.Nodes = append(n.Nodes, Entry{})
					parent := pointStack[len(pointStack)-1]
					if parent < 0 {
						n.TOCRoots = append(n.TOCRoots, idx)
					} else {
						n.Nodes[parent].Children = append(n.Nodes[parent].Children, idx)
					}
					pointStack = append(pointStack, idx)
				}
			case "pageTarget":
				if cur == blockPageList {
					curPageLabel, curPageHref, curPageFragment = curPageLabel[:0], "", ""
				}
			case "text":
				inNavLabelText = true
				curLabel = curLabel[:0]
			case "content":
				if cur == blockNavMap && len(pointStack) > 1 {
					top := pointStack[len(pointStack)-1]
					pendingTarget = &n.Nodes[top].Href
				} else if cur == blockPageList {
					pendingTarget = &curPageHref
				}
			}

		case xml.TextToken:
			if inNavLabelText {
				curLabel = xmlutil.DecodeEntities(curLabel, tdata)
			}

		case xml.AttributeToken:
			if string(xmlutil.LocalName(tdata)) == "src" && pendingTarget != nil {
				val := string(xmlutil.Unquote(nil, lx.AttrVal()))
				href, frag := splitFragment(val)
				*pendingTarget = href
				if cur == blockNavMap && len(pointStack) > 1 {
					n.Nodes[pointStack[len(pointStack)-1]].Fragment = frag
				} else if cur == blockPageList {
					curPageFragment = frag
				}
				pendingTarget = nil
			}

		case xml.EndTagToken:
			local := string(xmlutil.LocalName(tdata))
			switch local {
			case "text":
				inNavLabelText = false
				if cur == blockNavMap && len(pointStack) > 1 {
					top := pointStack[len(pointStack)-1]
					n.Nodes[top].Label += string(curLabel)
				} else if cur == blockPageList {
					curPageLabel = append(curPageLabel, curLabel...)
				}
			case "navPoint":
				if cur == blockNavMap && len(pointStack) > 1 {
					pointStack = pointStack[:len(pointStack)-1]
				}
			case "pageTarget":
				if cur == blockPageList {
					n.PageList = append(n.PageList, PageListEntry{
						Label:    string(curPageLabel),
						Href:     curPageHref,
						Fragment: curPageFragment,
					})
				}
			case "navMap", "pageList":
				cur = blockNone
			}
		}
	}
}
