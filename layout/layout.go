// Package layout implements the LayoutEngine and its per-chapter
// RenderEngine state machine (§4.6): a greedy line breaker that pulls
// styled events from renderprep and emits pages of bounded, mixed-format
// text, polling a cancellation token at every page boundary.
package layout

import (
	"crypto/sha256"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"muepub/common"
	"muepub/config"
	"muepub/css"
	"muepub/fontresolve"
	"muepub/renderprep"
	"muepub/state"
)

// Span is §4.6's TextSpan: one run of identically-styled text inside a
// Line ("a line is a sequence of TextSpan{text, style, font_id}; never a
// single style per line").
type Span struct {
	Text   string
	Style  css.ComputedStyle
	FontID fontresolve.FontID
}

// Line is one laid-out line of the page IR.
type Line struct {
	Spans       []Span
	Role        common.BlockRole
	Level       int
	ListDepth   int
	ListOrdinal int
	Align       common.TextAlign
	IndentPx    float32
	Image       *renderprep.ImageEvent
	Anchor      *Anchor

	// Commands is this line's draw IR, Y=0-relative (buildRenderPage adds
	// the running page offset once the line's final position in its page
	// is known). Populated by buildLineCommands when the line is appended
	// to a page.
	Commands []DrawCmd
}

// hangingPunct is the set of trailing marks eligible to hang past the
// line's right edge when Typography.HangingPunctuation is set (§4.6
// "First-line indent, post-heading indent suppression, widow/orphan
// control, and hanging punctuation are driven by TypographyConfig").
var hangingPunct = map[rune]bool{
	'.': true, ',': true, ';': true, ':': true, '!': true, '?': true,
	'\'': true, '"': true, ')': true, ']': true,
}

// isHangingPunctuation reports whether tok is a single mark eligible to
// hang outside the text measure rather than force a wrap.
func isHangingPunctuation(tok string) bool {
	r, size := utf8.DecodeRuneInString(tok)
	return size == len(tok) && hangingPunct[r]
}

type token struct {
	text    string
	isSpace bool
}

func splitTextTokens(s string) []token {
	var out []token
	var b strings.Builder
	var curIsSpace bool
	flush := func() {
		if b.Len() > 0 {
			out = append(out, token{text: b.String(), isSpace: curIsSpace})
			b.Reset()
		}
	}
	for _, r := range s {
		isSpace := r == ' ' || r == '\t' || r == '\n'
		if b.Len() > 0 && isSpace != curIsSpace {
			flush()
		}
		curIsSpace = isSpace
		b.WriteRune(r)
	}
	flush()
	return out
}

func listMarker(ordered bool, ordinal int) string {
	if ordered {
		return fmt.Sprintf("%d. ", ordinal)
	}
	return "• "
}

// PaginationProfileId returns the 32-byte hash over every layout-affecting
// configuration input (§5 "PaginationProfileId"): viewport, typography,
// and the configured font family set. Two engines built from configs that
// hash equal will always paginate a chapter identically.
func PaginationProfileId(cfg *config.Config) [32]byte {
	h := sha256.New()
	fmt.Fprintf(h, "viewport:%dx%d|", cfg.Viewport.WidthPx, cfg.Viewport.HeightPx)
	fmt.Fprintf(h, "indent:%f|suppress:%t|widoworphan:%d|hanging:%t|autohyph:%t|fontsize:%f|lineheight:%f|",
		cfg.Typography.FirstLineIndentPx, cfg.Typography.SuppressIndentAfterH,
		cfg.Typography.WidowOrphanMinLines, cfg.Typography.HangingPunctuation,
		cfg.Typography.AutoHyphenate, cfg.Typography.DefaultFontSizePx,
		cfg.Typography.DefaultLineHeightMult)
	fmt.Fprintf(h, "families:%s|embedded:%t|synbold:%t|synitalic:%t|maxface:%d|builtin:%s",
		strings.Join(cfg.Fonts.PreferredFamilies, ","), cfg.Fonts.AllowEmbeddedFonts,
		cfg.Fonts.SyntheticBold, cfg.Fonts.SyntheticItalic, cfg.Fonts.MaxFaceBytes,
		cfg.Fonts.BuiltinFamily)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Engine is the LayoutEngine: fed one renderprep.Event at a time via
// PushItem/PushItemWithPages, it accumulates lines and, in the paginated
// mode, flushes pages of bounded (O(lines-per-page)) memory.
//
// Every completed line passes through one gate, appendLine, which is the
// sole place page-height bookkeeping and the onPage callback happen —
// whether the line came from a mid-paragraph wrap, an explicit
// LineBreak, a closed paragraph, or an image block.
type Engine struct {
	typo     config.Typography
	viewport config.Viewport
	metrics  FontMetrics
	hyph     *Hyphenator
	cancel   *state.CancelToken
	log      *zap.Logger

	chapterIndex int

	renderState common.RenderState
	onPage      func(RenderPage) error

	curSpans   []Span
	curWidthPx float64

	firstLineOfBlock bool
	afterHeading     bool
	curRole          common.BlockRole
	curLevel         int
	curListDepth     int
	curListOrdinal   int

	orderedStack  []bool
	pendingMarker string
	softBreakOpen bool

	held         []Line
	curPageLines []Line
	pageHeightPx float64
	pageIndex    int
	lineSeq      int
}

// NewEngine constructs an Engine for chapterIndex (stamped onto every
// RenderPage.Metrics this engine emits). A nil hyph disables algorithmic
// hyphenation (literal soft hyphens in source text still work, since
// those arrive as their own renderprep.EventSoftBreak, not through h).
func NewEngine(typo config.Typography, viewport config.Viewport, metrics FontMetrics, hyph *Hyphenator, cancel *state.CancelToken, log *zap.Logger, chapterIndex int) *Engine {
	if metrics == nil {
		metrics = NewAverageAdvanceMetrics(0.5)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		typo: typo, viewport: viewport, metrics: metrics, hyph: hyph,
		cancel: cancel, log: log.Named("layout"), chapterIndex: chapterIndex,
		renderState:      common.StateIdle,
		firstLineOfBlock: true,
	}
}

// State returns the current RenderEngine state (§4.6 state machine).
func (e *Engine) State() common.RenderState { return e.renderState }

func (e *Engine) availableWidthPx() float64 {
	w := float64(e.viewport.WidthPx)
	if e.firstLineOfBlock && e.curRole == common.RoleParagraph && !e.afterHeading {
		w -= float64(e.typo.FirstLineIndentPx)
	}
	return w
}

func (e *Engine) enterPreparing() {
	if e.renderState == common.StateIdle {
		e.renderState = common.StatePreparing
	}
}

// PushItem feeds one renderprep.Event into the unpaginated accumulation
// mode: lines are produced but never closed into pages (used by callers
// that want the full flat line stream, e.g. a plain-text dump).
func (e *Engine) PushItem(ev renderprep.Event) error {
	e.enterPreparing()
	e.onPage = nil
	return e.consume(ev)
}

// PushItemWithPages feeds one renderprep.Event, invoking onPage every time
// a page fills (or the stream ends via Finish). Cancellation is polled at
// every page boundary — transient memory is bounded by the held-back
// widow/orphan buffer (at most WidowOrphanMinLines lines), not the
// chapter.
func (e *Engine) PushItemWithPages(ev renderprep.Event, onPage func(RenderPage) error) error {
	e.enterPreparing()
	e.onPage = onPage
	return e.consume(ev)
}

// Finish flushes any in-progress line and the final partial page (§4.6
// "Emitting → Done when the styled-run stream is exhausted and a final
// partial page, if any content, is flushed").
func (e *Engine) Finish(onPage func(RenderPage) error) error {
	if e.renderState == common.StateCancelled || e.renderState == common.StateFailed {
		return nil
	}
	e.onPage = onPage
	if err := e.breakLine(); err != nil {
		return err
	}
	if err := e.flushHeld(); err != nil {
		return err
	}
	if len(e.curPageLines) > 0 && onPage != nil {
		if err := onPage(e.buildRenderPage(e.curPageLines, e.pageIndex)); err != nil {
			return e.fail(err)
		}
		e.pageIndex++
		e.curPageLines = nil
	}
	e.renderState = common.StateDone
	return nil
}

func (e *Engine) fail(err error) error {
	e.renderState = common.StateFailed
	return err
}

func (e *Engine) consume(ev renderprep.Event) error {
	switch ev.Kind {
	case renderprep.EventRun:
		return e.appendRun(ev.Run)

	case renderprep.EventParagraphBreak:
		if err := e.breakLine(); err != nil {
			return err
		}
		// The block is now definitively over — nothing can orphan against
		// a paragraph that will never grow another line, so flush
		// whatever's still held regardless of the widow/orphan threshold.
		if err := e.flushHeld(); err != nil {
			return err
		}
		e.afterHeading = e.curRole == common.RoleHeading
		e.firstLineOfBlock = true

	case renderprep.EventListStart:
		e.orderedStack = append(e.orderedStack, ev.Order)

	case renderprep.EventListEnd:
		if len(e.orderedStack) > 0 {
			e.orderedStack = e.orderedStack[:len(e.orderedStack)-1]
		}

	case renderprep.EventListItemStart:
		ordered := len(e.orderedStack) > 0 && e.orderedStack[len(e.orderedStack)-1]
		e.pendingMarker = listMarker(ordered, ev.ListOrdinal)
		e.firstLineOfBlock = true

	case renderprep.EventListItemEnd:
		if err := e.breakLine(); err != nil {
			return err
		}
		if err := e.flushHeld(); err != nil {
			return err
		}
		e.firstLineOfBlock = true

	case renderprep.EventImage:
		if err := e.breakLine(); err != nil {
			return err
		}
		img := ev.Image
		return e.appendLine(Line{Image: &img}, e.imageHeightPx())

	case renderprep.EventLineBreak:
		return e.breakLine()

	case renderprep.EventSoftBreak:
		e.softBreakOpen = true
	}
	return nil
}

func (e *Engine) imageHeightPx() float64 {
	return float64(e.viewport.HeightPx) / 4
}

// appendRun tokenizes run.Text into words and spaces, greedily wrapping
// at word boundaries (§4.6 "break opportunities: whitespace ..."),
// falling back to hyphenation only when a single word cannot fit even an
// empty line.
func (e *Engine) appendRun(run renderprep.StyledRun) error {
	e.curRole, e.curLevel, e.curListDepth, e.curListOrdinal = run.Role, run.Level, run.ListDepth, run.ListOrdinal

	if e.firstLineOfBlock && e.pendingMarker != "" && len(e.curSpans) == 0 {
		adv := e.metrics.AdvanceWidth(run.FontID, float64(run.Style.FontSize.Value))
		e.curSpans = append(e.curSpans, Span{Text: e.pendingMarker, Style: run.Style, FontID: run.FontID})
		e.curWidthPx += float64(utf8.RuneCountInString(e.pendingMarker)) * adv
		e.pendingMarker = ""
	}

	sizePx := float64(run.Style.FontSize.Value)
	adv := e.metrics.AdvanceWidth(run.FontID, sizePx)

	for _, tok := range splitTextTokens(string(run.Text)) {
		width := float64(utf8.RuneCountInString(tok.text)) * adv
		if tok.isSpace {
			if e.curWidthPx == 0 && len(e.curSpans) == 0 {
				continue // never start a line with whitespace
			}
			e.appendSpan(tok.text, run)
			e.curWidthPx += width
			e.softBreakOpen = false
			continue
		}

		if e.softBreakOpen {
			e.softBreakOpen = false
			if e.curWidthPx+width > e.availableWidthPx() && len(e.curSpans) > 0 {
				e.insertHyphenAtLineEnd()
				if err := e.breakLine(); err != nil {
					return err
				}
			}
		}

		hangs := e.typo.HangingPunctuation && isHangingPunctuation(tok.text) && e.curWidthPx <= e.availableWidthPx()
		if e.curWidthPx+width > e.availableWidthPx() && len(e.curSpans) > 0 && !hangs {
			if err := e.breakLine(); err != nil {
				return err
			}
		}

		if width > e.availableWidthPx() && e.hyph != nil {
			if err := e.appendHyphenatedWord(tok.text, run, adv); err != nil {
				return err
			}
			continue
		}

		e.appendSpan(tok.text, run)
		e.curWidthPx += width
	}
	return nil
}

func (e *Engine) appendHyphenatedWord(word string, run renderprep.StyledRun, adv float64) error {
	points := e.hyph.BreakPoints(word)
	runes := []rune(word)
	start := 0
	for _, p := range points {
		piece := runes[start:p]
		width := float64(len(piece)) * adv
		if e.curWidthPx+width+adv > e.availableWidthPx() && len(e.curSpans) > 0 {
			e.appendSpan(string(piece)+"-", run)
			if err := e.breakLine(); err != nil {
				return err
			}
			start = p
		}
	}
	rest := string(runes[start:])
	e.appendSpan(rest, run)
	e.curWidthPx += float64(len(runes[start:])) * adv
	return nil
}

func (e *Engine) insertHyphenAtLineEnd() {
	if n := len(e.curSpans); n > 0 {
		e.curSpans[n-1].Text += "-"
	}
}

func (e *Engine) appendSpan(text string, run renderprep.StyledRun) {
	if n := len(e.curSpans); n > 0 {
		last := &e.curSpans[n-1]
		if last.Style == run.Style && last.FontID == run.FontID {
			last.Text += text
			return
		}
	}
	e.curSpans = append(e.curSpans, Span{Text: text, Style: run.Style, FontID: run.FontID})
}

// breakLine closes the current in-progress line (if it carries any
// content) and routes it through the widow/orphan holding buffer. It is
// called both for mid-paragraph wraps and for genuine block boundaries —
// the two are indistinguishable at this layer except that block
// boundaries also reset firstLineOfBlock/afterHeading in consume().
func (e *Engine) breakLine() error {
	line, ok := e.takeLine()
	if !ok {
		return nil
	}
	e.held = append(e.held, line)
	if e.curRole != common.RoleParagraph || len(e.held) >= max(1, e.typo.WidowOrphanMinLines) {
		return e.flushHeld()
	}
	return nil
}

// flushHeld routes every held line through appendLine, the single page
// gate, then clears the buffer (§4.6 "O(lines-per-page) transient
// memory" — held is bounded by WidowOrphanMinLines, not chapter size).
func (e *Engine) flushHeld() error {
	pending := e.held
	e.held = nil
	for _, l := range pending {
		if err := e.appendLine(l, e.lineHeightPx(l)); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) takeLine() (Line, bool) {
	trimTrailingSpace(e.curSpans)
	if len(e.curSpans) == 0 {
		return Line{}, false
	}
	line := Line{
		Spans: e.curSpans, Role: e.curRole, Level: e.curLevel,
		ListDepth: e.curListDepth, ListOrdinal: e.curListOrdinal,
		Align: e.curSpans[0].Style.TextAlign,
	}
	if e.firstLineOfBlock && e.curRole == common.RoleParagraph && !e.afterHeading {
		line.IndentPx = e.typo.FirstLineIndentPx
	}
	if e.firstLineOfBlock && e.curRole == common.RoleHeading {
		a := newHeadingAnchor(lineText(line), e.lineSeq)
		line.Anchor = &a
	}
	e.lineSeq++
	e.curSpans = nil
	e.curWidthPx = 0
	e.firstLineOfBlock = false
	return line, true
}

func lineText(l Line) string {
	var b strings.Builder
	for _, s := range l.Spans {
		b.WriteString(s.Text)
	}
	return b.String()
}

// appendLine is the sole gate for page-height bookkeeping: it closes the
// current page (invoking onPage) when line wouldn't fit, polling
// cancellation immediately afterward, before placing line onto the
// (possibly new) current page.
func (e *Engine) appendLine(line Line, heightPx float64) error {
	if e.onPage != nil && e.pageHeightPx+heightPx > float64(e.viewport.HeightPx) && len(e.curPageLines) > 0 {
		if err := e.onPage(e.buildRenderPage(e.curPageLines, e.pageIndex)); err != nil {
			return e.fail(err)
		}
		e.renderState = common.StateEmitting
		e.pageIndex++
		e.curPageLines = nil
		e.pageHeightPx = 0
		if e.cancel.IsCancelled() {
			e.renderState = common.StateCancelled
			return common.Cancelled
		}
	}
	line.Commands = e.buildLineCommands(line)
	e.curPageLines = append(e.curPageLines, line)
	e.pageHeightPx += heightPx
	return nil
}

// buildLineCommands lowers line's styled spans into its draw IR, Y=0
// relative (buildRenderPage adds the page-running Y offset). Spaces
// between words never emit a command of their own — they're folded
// entirely into the X delta between the words on either side, so a
// justified line's extra spacing is already baked into each word's X and
// a backend never redistributes anything (§4.6 "Justification is
// resolved in layout, deterministic in IR per TypographyConfig; backends
// never redistribute spacing").
func (e *Engine) buildLineCommands(line Line) []DrawCmd {
	if line.Image != nil {
		return []DrawCmd{{
			Kind:      DrawCmdImage,
			X:         0,
			Y:         0,
			Width:     float32(e.viewport.WidthPx),
			Height:    float32(e.imageHeightPx()),
			ImageHref: line.Image.Href,
		}}
	}

	type word struct {
		text   string
		style  css.ComputedStyle
		fontID fontresolve.FontID
		width  float64
	}
	var words []word
	var totalWidth float64
	spaceCount := 0
	for _, span := range line.Spans {
		adv := e.metrics.AdvanceWidth(span.FontID, float64(span.Style.FontSize.Value))
		for _, tok := range splitTextTokens(span.Text) {
			w := float64(utf8.RuneCountInString(tok.text)) * adv
			if tok.isSpace {
				spaceCount++
				totalWidth += w
				continue
			}
			words = append(words, word{text: tok.text, style: span.Style, fontID: span.FontID, width: w})
			totalWidth += w
		}
	}
	if len(words) == 0 {
		return nil
	}

	availPx := float64(e.viewport.WidthPx) - float64(line.IndentPx)
	extra := 0.0
	if line.Align == common.AlignJustify && spaceCount > 0 {
		if d := (availPx - totalWidth) / float64(spaceCount); d > 0 {
			extra = d
		}
	}

	cmds := make([]DrawCmd, 0, len(words))
	x := float64(line.IndentPx)
	spaceWidth := 0.0
	if len(words) > 1 {
		adv := e.metrics.AdvanceWidth(words[0].fontID, float64(words[0].style.FontSize.Value))
		spaceWidth = adv
	}
	for i, w := range words {
		if i > 0 {
			x += spaceWidth + extra
		}
		cmds = append(cmds, DrawCmd{
			Kind:   DrawCmdText,
			X:      float32(x),
			Y:      0,
			Width:  float32(w.width),
			Height: float32(e.lineHeightPx(line)),
			Text:   w.text,
			Style:  w.style,
			FontID: w.fontID,
		})
		x += w.width
	}
	return cmds
}

// buildRenderPage assembles the engine's final exposed unit (§3
// RenderPage) from a finished page's lines: concatenating each line's
// draw commands with a running Y offset, collecting heading anchors into
// Annotations, and stamping the metrics known at render time. Global
// page index/count and book-wide progress aren't knowable from a single
// chapter's render — Book backfills those once a chapter's full page
// slice exists (§9 "global_page_count_estimate is unknown until every
// chapter has been paginated").
func (e *Engine) buildRenderPage(lines []Line, pageIndex int) RenderPage {
	page := RenderPage{
		Lines: lines,
		Metrics: PageMetrics{
			ChapterIndex:     e.chapterIndex,
			ChapterPageIndex: pageIndex,
			ChapterPageCount: -1,
		},
	}
	var y float64
	for _, l := range lines {
		for _, cmd := range l.Commands {
			cmd.Y = float32(y) + cmd.Y
			page.ContentCommands = append(page.ContentCommands, cmd)
		}
		if l.Anchor != nil {
			page.Annotations = append(page.Annotations, *l.Anchor)
		}
		y += e.lineHeightPx(l)
	}
	return page
}

func (e *Engine) lineHeightPx(line Line) float64 {
	if line.Image != nil {
		return e.imageHeightPx()
	}
	if len(line.Spans) == 0 {
		return float64(e.typo.DefaultFontSizePx) * float64(e.typo.DefaultLineHeightMult)
	}
	var tallest float64
	for _, s := range line.Spans {
		fs := float64(s.Style.FontSize.Value)
		lh := fs * 1.2
		if s.Style.LineHeight > 0 {
			if s.Style.LineHeightKind == common.LineHeightMultiplier {
				lh = fs * s.Style.LineHeight
			} else {
				lh = s.Style.LineHeight
			}
		}
		if lh > tallest {
			tallest = lh
		}
	}
	return tallest
}

func trimTrailingSpace(spans []Span) {
	if len(spans) == 0 {
		return
	}
	last := &spans[len(spans)-1]
	last.Text = strings.TrimRight(last.Text, " \t\n")
}
