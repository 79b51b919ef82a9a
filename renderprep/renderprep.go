// Package renderprep joins the xhtml token stream with a css.Cascade and a
// fontresolve.Resolver into a lazy stream of StyledRun or structural
// events (§4.5). Each run's font_id is resolved once, on the first run
// inside its enclosing style context, and cached there — never re-resolved
// per run.
package renderprep

import (
	"strings"

	"go.uber.org/zap"

	"muepub/common"
	"muepub/css"
	"muepub/fontresolve"
	"muepub/xhtml"
)

// Tracer exposes the optional structured decision context RenderPrep can
// report as it runs (§9 "Trace as polymorphism": a small capability
// interface with a no-op default rather than a bespoke trace-only type
// threaded through every call).
type Tracer interface {
	TraceStyleContext(tag string, style css.ComputedStyle)
	TraceFontResolution(tag string, result fontresolve.Result)
}

// NopTracer implements Tracer with no-ops; the zero value is ready to use.
type NopTracer struct{}

func (NopTracer) TraceStyleContext(string, css.ComputedStyle)   {}
func (NopTracer) TraceFontResolution(string, fontresolve.Result) {}

// EventKind discriminates the union RenderPrep emits.
type EventKind int

const (
	EventRun EventKind = iota
	EventParagraphBreak
	EventListStart
	EventListItemStart
	EventListItemEnd
	EventListEnd
	EventImage
	EventLineBreak
	EventSoftBreak
)

// StyledRun is §3's StyledRun: text plus its fully resolved style and font
// identity, plus the block role it belongs to. ListDepth/ListOrdinal are
// populated only when Role is RoleListItem; Level only when RoleHeading.
type StyledRun struct {
	Text           []byte
	Style          css.ComputedStyle
	FontID         fontresolve.FontID
	ResolvedFamily string
	Role           common.BlockRole
	Level          int
	ListDepth      int
	ListOrdinal    int
}

// ImageEvent carries a resolved image reference plus its style context
// (e.g. for alt-text fallback rendering).
type ImageEvent struct {
	Href  string
	Src   string
	Alt   string
	Style css.ComputedStyle
}

// Event is one item of the lazy StyledEventOrRun stream.
type Event struct {
	Kind        EventKind
	Run         StyledRun  // EventRun
	Order       bool       // EventListStart: true = ordered
	Image       ImageEvent // EventImage
	ListDepth   int        // EventListItemStart
	ListOrdinal int        // EventListItemStart
}

type styleFrame struct {
	tag   string
	style css.ComputedStyle
	font  *fontresolve.Result
}

type listFrame struct {
	ordinal  int
	itemOpen bool
}

// RenderPrep drives an xhtml.Tokenizer through a css.Cascade and
// fontresolve.Resolver, producing the styled event stream LayoutEngine
// consumes.
type RenderPrep struct {
	tok      *xhtml.Tokenizer
	cascade  *css.Cascade
	resolver *fontresolve.Resolver
	tracer   Tracer
	log      *zap.Logger

	styleStack []styleFrame
	blockTags  []string
	listStack  []listFrame
}

// New constructs a RenderPrep. A nil tracer is replaced with NopTracer; a
// nil logger with a no-op one.
func New(tok *xhtml.Tokenizer, cascade *css.Cascade, resolver *fontresolve.Resolver, tracer Tracer, log *zap.Logger) *RenderPrep {
	if tracer == nil {
		tracer = NopTracer{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	rp := &RenderPrep{tok: tok, cascade: cascade, resolver: resolver, tracer: tracer, log: log.Named("renderprep")}
	rp.pushStyle("body", nil, "")
	return rp
}

func headingLevel(local string) int {
	switch local {
	case "h1":
		return 1
	case "h2":
		return 2
	case "h3":
		return 3
	case "h4":
		return 4
	case "h5":
		return 5
	case "h6":
		return 6
	default:
		return 0
	}
}

func (rp *RenderPrep) currentStyle() css.ComputedStyle {
	if len(rp.styleStack) == 0 {
		return css.Initial()
	}
	return rp.styleStack[len(rp.styleStack)-1].style
}

func (rp *RenderPrep) pushStyle(tag string, classes []string, inlineStyle string) {
	parent := rp.currentStyle()
	s := rp.cascade.Resolve(tag, classes, inlineStyle, &parent)
	rp.tracer.TraceStyleContext(tag, s)
	rp.styleStack = append(rp.styleStack, styleFrame{tag: tag, style: s})
}

func (rp *RenderPrep) popStyle() {
	if len(rp.styleStack) > 1 {
		rp.styleStack = rp.styleStack[:len(rp.styleStack)-1]
	}
}

// resolveFont resolves (and caches) the font for the current style
// context, satisfying §4.5's "font_id is resolved once per context."
func (rp *RenderPrep) resolveFont() (fontresolve.FontID, string) {
	top := &rp.styleStack[len(rp.styleStack)-1]
	if top.font == nil {
		families := splitFamilies(top.style.FontFamily)
		result := rp.resolver.Resolve(families, top.style.FontWeight, top.style.FontStyle)
		rp.tracer.TraceFontResolution(top.tag, result)
		top.font = &result
	}
	return top.font.FontID, top.font.ResolvedFamily
}

func splitFamilies(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.TrimSpace(p))
	}
	return out
}

// blockRole reports the current block role from the innermost enclosing
// list item, heading, or generic block (§3 BlockRole).
func (rp *RenderPrep) blockRole() (role common.BlockRole, level, depth, ordinal int) {
	for i := len(rp.listStack) - 1; i >= 0; i-- {
		if rp.listStack[i].itemOpen {
			return common.RoleListItem, 0, i + 1, rp.listStack[i].ordinal
		}
	}
	if len(rp.blockTags) > 0 {
		top := rp.blockTags[len(rp.blockTags)-1]
		if lvl := headingLevel(top); lvl > 0 {
			return common.RoleHeading, lvl, 0, 0
		}
		return common.RoleParagraph, 0, 0, 0
	}
	return common.RoleInline, 0, 0, 0
}

func classesKey(classes []string) []string {
	if len(classes) == 0 {
		return nil
	}
	return classes
}

// Next returns the next Event. ok is false once the chapter is exhausted
// (err nil in that case); ok is false with a non-nil err on failure.
func (rp *RenderPrep) Next() (Event, bool, error) {
	for {
		tok, ok, err := rp.tok.Next()
		if err != nil {
			return Event{}, false, err
		}
		if !ok {
			return Event{}, false, nil
		}

		switch tok.Kind {
		case xhtml.Text:
			role, level, depth, ordinal := rp.blockRole()
			fontID, family := rp.resolveFont()
			return Event{Kind: EventRun, Run: StyledRun{
				Text:           tok.Text,
				Style:          rp.currentStyle(),
				FontID:         fontID,
				ResolvedFamily: family,
				Role:           role,
				Level:          level,
				ListDepth:      depth,
				ListOrdinal:    ordinal,
			}}, true, nil

		case xhtml.ParagraphBreak:
			if tok.Tag != "" {
				rp.pushStyle(tok.Tag, classesKey(tok.Classes), tok.Style)
				rp.blockTags = append(rp.blockTags, tok.Tag)
			} else if len(rp.blockTags) > 0 {
				rp.blockTags = rp.blockTags[:len(rp.blockTags)-1]
				rp.popStyle()
			}
			return Event{Kind: EventParagraphBreak}, true, nil

		case xhtml.Heading:
			// Informational only; the enclosing ParagraphBreak's Tag already
			// drives blockRole()'s heading level.
			continue

		case xhtml.Emphasis:
			if tok.On {
				rp.pushStyle(tok.Tag, classesKey(tok.Classes), tok.Style)
			} else {
				rp.popStyle()
			}
			continue

		case xhtml.Strong:
			if tok.On {
				rp.pushStyle(tok.Tag, classesKey(tok.Classes), tok.Style)
			} else {
				rp.popStyle()
			}
			continue

		case xhtml.LinkStart:
			rp.pushStyle(tok.Tag, classesKey(tok.Classes), tok.Style)
			continue

		case xhtml.LinkEnd:
			rp.popStyle()
			continue

		case xhtml.ListStart:
			rp.pushStyle(tok.Tag, classesKey(tok.Classes), tok.Style)
			rp.listStack = append(rp.listStack, listFrame{})
			return Event{Kind: EventListStart, Order: tok.Order}, true, nil

		case xhtml.ListItemStart:
			rp.pushStyle(tok.Tag, classesKey(tok.Classes), tok.Style)
			if len(rp.listStack) > 0 {
				top := &rp.listStack[len(rp.listStack)-1]
				top.ordinal++
				top.itemOpen = true
			}
			_, _, depth, ordinal := rp.blockRole()
			return Event{Kind: EventListItemStart, ListDepth: depth, ListOrdinal: ordinal}, true, nil

		case xhtml.ListItemEnd:
			if len(rp.listStack) > 0 {
				rp.listStack[len(rp.listStack)-1].itemOpen = false
			}
			rp.popStyle()
			return Event{Kind: EventListItemEnd}, true, nil

		case xhtml.ListEnd:
			if len(rp.listStack) > 0 {
				rp.listStack = rp.listStack[:len(rp.listStack)-1]
			}
			rp.popStyle()
			return Event{Kind: EventListEnd}, true, nil

		case xhtml.Image:
			style := rp.currentStyle()
			return Event{Kind: EventImage, Image: ImageEvent{
				Href:  tok.Href,
				Src:   tok.Src,
				Alt:   tok.Alt,
				Style: style,
			}}, true, nil

		case xhtml.LineBreak:
			return Event{Kind: EventLineBreak}, true, nil

		case xhtml.SoftBreak:
			return Event{Kind: EventSoftBreak}, true, nil
		}
	}
}
