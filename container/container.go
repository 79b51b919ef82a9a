// Package container parses META-INF/container.xml (§4.2, §6) into the OPF
// rootfile path, pull-style with no DOM.
package container

import (
	"fmt"

	xml "github.com/tdewolff/parse/v2/xml"
	"go.uber.org/zap"

	"muepub/common"
	"muepub/xmlutil"
)

const opfMediaType = "application/oebps-package+xml"

// Rootfile is one <rootfile> entry.
type Rootfile struct {
	FullPath  string
	MediaType string
}

// Result is the parsed container.xml.
type Result struct {
	Rootfiles   []Rootfile
	ChosenIndex int // index into Rootfiles of the one Parse selected
	Warnings    []common.Diagnostic
}

// Chosen returns the selected rootfile's full path.
func (r *Result) Chosen() string {
	if r.ChosenIndex < 0 || r.ChosenIndex >= len(r.Rootfiles) {
		return ""
	}
	return r.Rootfiles[r.ChosenIndex].FullPath
}

// Parse reads container.xml bytes and returns the OPF rootfile to load.
//
// Open Question (spec §9): when multiple <rootfile> elements are present,
// the first one declaring media-type="application/oebps-package+xml" is
// chosen (falling back to the first rootfile at all if none declare that
// type) and a MultipleRootfiles warning is emitted rather than rejecting
// the archive outright.
func Parse(data []byte, log *zap.Logger) (*Result, error) {
	if log == nil {
		log = zap.NewNop()
	}
	decoded, err := xmlutil.DecodeDocument(data)
	if err != nil {
		return nil, common.NewError(common.ErrXML, fmt.Errorf("decoding container.xml: %w", err))
	}

	lx := xmlutil.NewLexer(decoded)
	res := &Result{ChosenIndex: -1}

	var inRootfile bool
	var cur Rootfile
	var curKey []byte

	for {
		tt, data := lx.Next()
		switch tt {
		case xml.ErrorToken:
			if err := lx.Err(); err != nil && err.Error() != "EOF" {
				return nil, common.NewError(common.ErrXML, err)
			}
			return finalizeContainer(res)

		case xml.StartTagToken:
			if string(xmlutil.LocalName(data)) == "rootfile" {
				inRootfile = true
				cur = Rootfile{}
			}

		case xml.AttributeToken:
			if inRootfile {
				curKey = append(curKey[:0], xmlutil.LocalName(data)...)
			}

		case xml.StartTagCloseVoidToken, xml.StartTagCloseToken:
			if inRootfile {
				res.Rootfiles = append(res.Rootfiles, cur)
				if tt == xml.StartTagCloseVoidToken {
					inRootfile = false
				}
			}

		case xml.EndTagToken:
			if inRootfile && string(xmlutil.LocalName(data)) == "rootfile" {
				inRootfile = false
			}
		}

		if tt == xml.AttributeToken && inRootfile {
			val := string(xmlutil.Unquote(nil, lx.AttrVal()))
			switch string(curKey) {
			case "full-path":
				cur.FullPath = val
			case "media-type":
				cur.MediaType = val
			}
		}
	}
}

func finalizeContainer(res *Result) (*Result, error) {
	if len(res.Rootfiles) == 0 {
		return nil, common.NewError(common.ErrXML, fmt.Errorf("container.xml: no <rootfile> element found"))
	}
	for i, rf := range res.Rootfiles {
		if rf.MediaType == opfMediaType {
			res.ChosenIndex = i
			break
		}
	}
	if res.ChosenIndex < 0 {
		res.ChosenIndex = 0
	}
	if len(res.Rootfiles) > 1 {
		res.Warnings = append(res.Warnings, common.Diagnostic{
			Code:     "MultipleRootfiles",
			Message:  fmt.Sprintf("container.xml declares %d rootfiles; using %q", len(res.Rootfiles), res.Chosen()),
			Severity: common.SeverityWarning,
		})
	}
	return res, nil
}
