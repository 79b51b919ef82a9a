package layout

import (
	"muepub/css"
	"muepub/fontresolve"
)

// DrawCmdKind tags a DrawCmd's payload (§3 RenderPage "content_commands:
// [DrawCmd]").
// ENUM(text, image)
type DrawCmdKind int

const (
	DrawCmdText DrawCmdKind = iota
	DrawCmdImage
)

func (k DrawCmdKind) String() string {
	if k == DrawCmdImage {
		return "image"
	}
	return "text"
}

// DrawCmd is one positioned, backend-agnostic draw instruction. Position
// and size are fully resolved by LayoutEngine — word spacing, hyphen
// placement, and justification never need to be redone or redistributed
// by whatever rasterizes the command (§4.6 "Justification is resolved in
// layout, deterministic in IR per TypographyConfig; backends never
// redistribute spacing"). X/Y are content-area-relative, in px, with Y
// measured from the page's first line.
type DrawCmd struct {
	Kind   DrawCmdKind
	X, Y   float32
	Width  float32
	Height float32

	// Text/Style/FontID are populated for DrawCmdText: one word (or list
	// marker, or run of non-breaking text) per command, already split at
	// the same boundaries the line breaker used, so a backend that blits
	// each command at its given X never needs to measure text itself.
	Text   string
	Style  css.ComputedStyle
	FontID fontresolve.FontID

	// ImageHref is populated for DrawCmdImage: the archive-relative href
	// the backend should decode and fit into the command's Width/Height.
	ImageHref string
}

// OverlayItem is a page-relative annotation layered above content_commands
// (highlight ranges, bookmark markers, search-hit boxes). The core
// pipeline never originates one itself — it's a pass-through slot a host
// application populates from its own bookmark/highlight store, the way
// §1 carves the draw backend itself out of scope — so RenderPage.OverlayItems
// is always empty coming out of LayoutEngine; the field exists so a host
// can attach overlays to a RenderPage without a second, parallel type.
type OverlayItem struct {
	X, Y, Width, Height float32
	Label               string
}

// PageMetrics is §3's per-page PageMetrics: everything a reading UI needs
// to draw a progress indicator without re-deriving it from the spine.
// GlobalPageIndex and GlobalPageCountEstimate are nil until enough of the
// book has been paginated this session to know them exactly (§9
// "global_page_count_estimate is unknown until every chapter has been
// paginated"); ProgressBook is always populated, falling back to an
// even-split-across-chapters estimate when the exact global count isn't
// known yet.
type PageMetrics struct {
	ChapterIndex     int
	ChapterPageIndex int
	// ChapterPageCount is -1 until the chapter this page belongs to has
	// finished pagination (LayoutEngine emits pages before it knows how
	// many more will follow; Book backfills this once OpenChapterPages
	// returns the complete slice).
	ChapterPageCount int

	GlobalPageIndex         *int
	GlobalPageCountEstimate *int

	ProgressChapter float32
	ProgressBook    float32
}

// RenderPage is the LayoutEngine's literal output unit (§3 RenderPage):
// positioned draw commands plus page chrome plus metrics, not just
// styled text. Lines is the pre-draw-IR intermediate RenderPage is built
// from, kept alongside ContentCommands for callers that want structured
// text rather than positioned commands (the CLI's chapter-text --raw
// dump, tests that assert on paragraph/heading structure).
type RenderPage struct {
	ContentCommands []DrawCmd
	// ChromeCommands is always empty from this engine: page chrome
	// (headers, footers, page numbers) is a host-application concern
	// laid out against its own chrome font/margins, not something the
	// reading core can know about (§1 "the specific draw backend ...
	// out of scope"). The field is carried so a host can populate it on
	// the same RenderPage value it got from LayoutEngine.
	ChromeCommands []DrawCmd
	OverlayItems   []OverlayItem
	Annotations    []Anchor
	Metrics        PageMetrics

	Lines []Line
}
