package layout

import (
	"github.com/google/uuid"
	"github.com/gosimple/slug"
)

// Anchor is one of a RenderPage's annotations (§3 RenderPage.annotations):
// a marker attached to a heading line, stable across reflow since it is
// never derived from a page/line index. The uuid is an opaque
// cross-reference id for external tooling (a reading-position store, a
// highlight overlay); DebugLabel is for logs and debug dumps only, never
// parsed back into navigation.
type Anchor struct {
	ID         uuid.UUID
	DebugLabel string
	LineIndex  int
}

func newHeadingAnchor(headingText string, lineIndex int) Anchor {
	return Anchor{ID: uuid.New(), DebugLabel: slug.Make(headingText), LineIndex: lineIndex}
}
