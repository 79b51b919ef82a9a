package layout

import (
	"strings"
	"testing"

	"muepub/common"
	"muepub/config"
	"muepub/css"
	"muepub/fontresolve"
	"muepub/renderprep"
	"muepub/state"
)

func paraRun(text string, role common.BlockRole) renderprep.Event {
	style := css.Initial()
	return renderprep.Event{Kind: renderprep.EventRun, Run: renderprep.StyledRun{
		Text: []byte(text), Style: style, FontID: fontresolve.FontID("builtin"), Role: role,
	}}
}

func headingRun(text string, level int) renderprep.Event {
	style := css.Initial()
	style.FontWeight = css.WeightBold
	return renderprep.Event{Kind: renderprep.EventRun, Run: renderprep.StyledRun{
		Text: []byte(text), Style: style, FontID: fontresolve.FontID("builtin"), Role: common.RoleHeading, Level: level,
	}}
}

// fixedCharMetrics reports a constant per-character width regardless of
// font size, so test viewport dimensions translate directly to a known
// character budget.
type fixedCharMetrics struct{ w float64 }

func (f fixedCharMetrics) AdvanceWidth(fontresolve.FontID, float64) float64 { return f.w }

func newTestEngine(widthPx, heightPx int) *Engine {
	typo := config.Typography{FirstLineIndentPx: 10, WidowOrphanMinLines: 2, DefaultFontSizePx: 16, DefaultLineHeightMult: 1.2}
	viewport := config.Viewport{WidthPx: widthPx, HeightPx: heightPx}
	return NewEngine(typo, viewport, fixedCharMetrics{w: 10}, nil, state.NewCancelToken(), nil, 0)
}

func drainPages(t *testing.T, e *Engine, events []renderprep.Event) []RenderPage {
	t.Helper()
	var pages []RenderPage
	for _, ev := range events {
		if err := e.PushItemWithPages(ev, func(p RenderPage) error {
			pages = append(pages, p)
			return nil
		}); err != nil {
			t.Fatalf("PushItemWithPages: %v", err)
		}
	}
	if err := e.Finish(func(p RenderPage) error { pages = append(pages, p); return nil }); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	return pages
}

func TestGreedyWrapBreaksWhenLineExceedsWidth(t *testing.T) {
	e := newTestEngine(100, 10000)
	events := []renderprep.Event{
		paraRun("aaaaa bbbbb ccccc ddddd", common.RoleParagraph),
		{Kind: renderprep.EventParagraphBreak},
	}
	pages := drainPages(t, e, events)
	if len(pages) != 1 {
		t.Fatalf("expected a single page, got %d", len(pages))
	}
	if len(pages[0].Lines) < 2 {
		t.Fatalf("expected text to wrap across multiple lines, got %d", len(pages[0].Lines))
	}
}

func TestHeadingBoldDoesNotLeakIntoFollowingParagraph(t *testing.T) {
	e := newTestEngine(1000, 10000)
	events := []renderprep.Event{
		headingRun("Title", 1),
		{Kind: renderprep.EventParagraphBreak},
		paraRun("body text", common.RoleParagraph),
		{Kind: renderprep.EventParagraphBreak},
	}
	pages := drainPages(t, e, events)
	if len(pages) != 1 {
		t.Fatalf("expected one page, got %d", len(pages))
	}
	var sawHeading, sawBodyNotBold bool
	for _, line := range pages[0].Lines {
		for _, span := range line.Spans {
			if span.Style.FontWeight.IsBold() && line.Role == common.RoleHeading {
				sawHeading = true
			}
			if line.Role == common.RoleParagraph && !span.Style.FontWeight.IsBold() {
				sawBodyNotBold = true
			}
		}
	}
	if !sawHeading {
		t.Fatal("expected heading line to carry bold style")
	}
	if !sawBodyNotBold {
		t.Fatal("expected body paragraph after heading to not inherit bold")
	}
}

func TestFirstLineIndentSuppressedAfterHeading(t *testing.T) {
	e := newTestEngine(1000, 10000)
	events := []renderprep.Event{
		headingRun("Title", 1),
		{Kind: renderprep.EventParagraphBreak},
		paraRun("body", common.RoleParagraph),
		{Kind: renderprep.EventParagraphBreak},
	}
	pages := drainPages(t, e, events)
	for _, line := range pages[0].Lines {
		if line.Role == common.RoleParagraph && line.IndentPx != 0 {
			t.Fatalf("expected indent suppressed after heading, got %v", line.IndentPx)
		}
	}
}

func TestListItemGetsOrdinalMarker(t *testing.T) {
	e := newTestEngine(1000, 10000)
	events := []renderprep.Event{
		{Kind: renderprep.EventListStart, Order: true},
		{Kind: renderprep.EventListItemStart, ListDepth: 1, ListOrdinal: 1},
		paraRun("first", common.RoleListItem),
		{Kind: renderprep.EventListItemEnd},
		{Kind: renderprep.EventListItemStart, ListDepth: 1, ListOrdinal: 2},
		paraRun("second", common.RoleListItem),
		{Kind: renderprep.EventListItemEnd},
		{Kind: renderprep.EventListEnd},
	}
	pages := drainPages(t, e, events)
	var sawOne, sawTwo bool
	for _, line := range pages[0].Lines {
		for _, span := range line.Spans {
			// The marker merges into the same span as the item's first word
			// (appendSpan coalesces adjacent same-style runs), so check the
			// prefix rather than an exact marker-only span.
			if strings.HasPrefix(span.Text, "1. ") {
				sawOne = true
			}
			if strings.HasPrefix(span.Text, "2. ") {
				sawTwo = true
			}
		}
	}
	if !sawOne || !sawTwo {
		t.Fatalf("expected ordered list markers '1. ' and '2. ', pages=%+v", pages)
	}
}

func TestPageBreaksWhenContentExceedsHeight(t *testing.T) {
	e := newTestEngine(1000, 40)
	events := []renderprep.Event{
		paraRun("first paragraph", common.RoleParagraph),
		{Kind: renderprep.EventParagraphBreak},
		paraRun("second paragraph", common.RoleParagraph),
		{Kind: renderprep.EventParagraphBreak},
		paraRun("third paragraph", common.RoleParagraph),
		{Kind: renderprep.EventParagraphBreak},
	}
	pages := drainPages(t, e, events)
	if len(pages) < 2 {
		t.Fatalf("expected multiple pages given a tiny viewport height, got %d", len(pages))
	}
	for i, p := range pages {
		if p.Metrics.ChapterPageIndex != i {
			t.Fatalf("expected page index %d, got %d", i, p.Metrics.ChapterPageIndex)
		}
	}
}

func justifiedRun(text string) renderprep.Event {
	style := css.Initial()
	style.TextAlign = common.AlignJustify
	return renderprep.Event{Kind: renderprep.EventRun, Run: renderprep.StyledRun{
		Text: []byte(text), Style: style, FontID: fontresolve.FontID("builtin"), Role: common.RoleParagraph,
	}}
}

func TestJustifiedLineSpreadsWordsAcrossFullWidth(t *testing.T) {
	e := newTestEngine(200, 10000)
	events := []renderprep.Event{
		justifiedRun("aaa bbb ccc"),
		{Kind: renderprep.EventParagraphBreak},
	}
	pages := drainPages(t, e, events)
	if len(pages) != 1 || len(pages[0].Lines) == 0 {
		t.Fatalf("expected a single rendered line, got pages=%+v", pages)
	}
	line := pages[0].Lines[0]
	if line.Align != common.AlignJustify {
		t.Fatalf("expected justified alignment, got %v", line.Align)
	}
	cmds := line.Commands
	if len(cmds) != 3 {
		t.Fatalf("expected 3 word commands, got %d", len(cmds))
	}
	lastWord := cmds[len(cmds)-1]
	lastEdge := float64(lastWord.X) + float64(lastWord.Width)
	availPx := float64(e.viewport.WidthPx) - float64(line.IndentPx)
	if lastEdge < availPx-1 {
		t.Fatalf("expected justified line's last word to reach the right edge (%v), got %v", availPx, lastEdge)
	}

	// A ragged (non-justified) line of identical text must NOT stretch to
	// the same width: its inter-word gaps stay at the bare space advance.
	e2 := newTestEngine(200, 10000)
	pages2 := drainPages(t, e2, []renderprep.Event{
		paraRun("aaa bbb ccc", common.RoleParagraph),
		{Kind: renderprep.EventParagraphBreak},
	})
	line2 := pages2[0].Lines[0]
	cmds2 := line2.Commands
	raggedEdge := float64(cmds2[len(cmds2)-1].X) + float64(cmds2[len(cmds2)-1].Width)
	if raggedEdge >= lastEdge {
		t.Fatalf("expected ragged line's last word edge (%v) to fall short of the justified line's (%v)", raggedEdge, lastEdge)
	}
}

func TestCancelTokenStopsAtPageBoundary(t *testing.T) {
	cancel := state.NewCancelToken()
	typo := config.Typography{DefaultFontSizePx: 16, DefaultLineHeightMult: 1.2}
	viewport := config.Viewport{WidthPx: 1000, HeightPx: 40}
	e := NewEngine(typo, viewport, fixedCharMetrics{w: 10}, nil, cancel, nil, 0)

	var pages []RenderPage
	onPage := func(p RenderPage) error { pages = append(pages, p); return nil }

	// Two single-line paragraphs fit on one ~40px-tall page; the third
	// forces a page close, which is exactly where cancellation is polled.
	mustPush := func(ev renderprep.Event) error { return e.PushItemWithPages(ev, onPage) }
	if err := mustPush(paraRun("first paragraph", common.RoleParagraph)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := mustPush(renderprep.Event{Kind: renderprep.EventParagraphBreak}); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := mustPush(paraRun("second paragraph", common.RoleParagraph)); err != nil {
		t.Fatalf("push: %v", err)
	}
	if err := mustPush(renderprep.Event{Kind: renderprep.EventParagraphBreak}); err != nil {
		t.Fatalf("push: %v", err)
	}

	cancel.Cancel()

	if err := mustPush(paraRun("third paragraph", common.RoleParagraph)); err != nil {
		t.Fatalf("push (pre-boundary): %v", err)
	}
	err := mustPush(renderprep.Event{Kind: renderprep.EventParagraphBreak})
	if err != common.Cancelled {
		t.Fatalf("expected common.Cancelled at the page boundary, got %v", err)
	}
	if e.State() != common.StateCancelled {
		t.Fatalf("expected engine state Cancelled, got %v", e.State())
	}
	if len(pages) != 1 {
		t.Fatalf("expected exactly the one already-complete page to be delivered, got %d", len(pages))
	}
}

func TestPaginationProfileIdIsDeterministic(t *testing.T) {
	cfg := config.Default()
	a := PaginationProfileId(cfg)
	b := PaginationProfileId(cfg)
	if a != b {
		t.Fatal("expected identical configs to hash identically")
	}
	cfg2 := config.Default()
	cfg2.Viewport.WidthPx = cfg.Viewport.WidthPx + 1
	c := PaginationProfileId(cfg2)
	if a == c {
		t.Fatal("expected a changed viewport to change the pagination profile id")
	}
}

func TestHyphenatorFindsBreakPoints(t *testing.T) {
	h := NewDefaultHyphenator()
	points := h.BreakPoints("information")
	if len(points) == 0 {
		t.Fatal("expected at least one break point for a multi-syllable word")
	}
	for _, p := range points {
		if p <= 1 || p >= len("information")-1 {
			t.Fatalf("break point %d too close to word boundary", p)
		}
	}
}

func TestHyphenatorSkipsShortWords(t *testing.T) {
	h := NewDefaultHyphenator()
	if points := h.BreakPoints("cat"); points != nil {
		t.Fatalf("expected no break points for a short word, got %+v", points)
	}
}
