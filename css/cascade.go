package css

import (
	"strconv"
	"strings"

	"muepub/common"
)

// FontWeight is the computed style's weight axis (§3: "Normal, Bold, or
// numeric 100..900"). Kept as a plain numeric scale rather than a closed
// enum so intermediate weights (e.g. 500) survive the cascade even though
// only 700/800/900 are specified to clamp to Bold.
type FontWeight int

const (
	WeightNormal FontWeight = 400
	WeightBold   FontWeight = 700
)

// IsBold reports whether this weight renders as a bold face.
func (w FontWeight) IsBold() bool { return w >= WeightBold }

// Length is a resolved CSS length (§3). Em lengths are always resolved to
// Px by cascade time — Em exists only as an input representation.
type Length struct {
	Value float64
	Unit  common.LengthUnit
}

// ComputedStyle is the per-element resolved style (§3 ComputedStyle).
type ComputedStyle struct {
	FontSize       Length
	FontFamily     string
	FontWeight     FontWeight
	FontStyle      common.FontStyle
	TextAlign      common.TextAlign
	LineHeightKind common.LineHeightKind
	LineHeight     float64
	MarginTop      float64
	MarginBottom   float64
	WhiteSpacePre  bool
}

// inheritable fields propagate from parent to child when not overridden;
// margins and white-space are per-box and always reset to initial values.
func inherited(parent ComputedStyle) ComputedStyle {
	return ComputedStyle{
		FontSize:       parent.FontSize,
		FontFamily:     parent.FontFamily,
		FontWeight:     parent.FontWeight,
		FontStyle:      parent.FontStyle,
		TextAlign:      parent.TextAlign,
		LineHeightKind: parent.LineHeightKind,
		LineHeight:     parent.LineHeight,
	}
}

// Initial returns the document root's initial computed style (§4.4
// "inherited > initial" — the bottom of the precedence chain).
func Initial() ComputedStyle {
	return ComputedStyle{
		FontSize:       Length{Value: 16, Unit: common.UnitPx},
		FontFamily:     "serif",
		FontWeight:     WeightNormal,
		FontStyle:      common.FontStyleNormal,
		TextAlign:      common.AlignLeft,
		LineHeightKind: common.LineHeightMultiplier,
		LineHeight:     1.2,
	}
}

// Cascade holds a compiled stylesheet and resolves ComputedStyle per
// element (§4.4).
type Cascade struct {
	sheet *Stylesheet
}

// NewCascade wraps a parsed Stylesheet for repeated Resolve calls.
func NewCascade(sheet *Stylesheet) *Cascade {
	if sheet == nil {
		sheet = &Stylesheet{}
	}
	return &Cascade{sheet: sheet}
}

// userAgentRules are the baseline tag-level defaults every XHTML renderer
// carries (em/i italicize, strong/b embolden, headings embolden) so
// RenderPrep's Emphasis/Strong/Heading tokens style correctly even when a
// chapter ships no stylesheet of its own. They sit in the tag bucket, so
// any author rule for the same tag — merged after them in source order —
// still wins per §4.4's precedence.
func userAgentRules() []Rule {
	bold := Value{Keyword: "bold"}
	italic := Value{Keyword: "italic"}
	rule := func(tag string, props map[string]Value) Rule {
		return Rule{Selector: Selector{Raw: tag, Kind: SelectorTag, Element: tag}, Properties: props}
	}
	return []Rule{
		rule("em", map[string]Value{"font-style": italic}),
		rule("i", map[string]Value{"font-style": italic}),
		rule("strong", map[string]Value{"font-weight": bold}),
		rule("b", map[string]Value{"font-weight": bold}),
		rule("h1", map[string]Value{"font-weight": bold}),
		rule("h2", map[string]Value{"font-weight": bold}),
		rule("h3", map[string]Value{"font-weight": bold}),
		rule("h4", map[string]Value{"font-weight": bold}),
		rule("h5", map[string]Value{"font-weight": bold}),
		rule("h6", map[string]Value{"font-weight": bold}),
	}
}

// NewCascadeWithUserAgentDefaults wraps sheet the same way NewCascade does,
// but prepends the baseline tag defaults above so semantic elements style
// sensibly even in stylesheet-free chapters. Author rules for the same tag
// always win since they're merged later in Rules, same bucket.
func NewCascadeWithUserAgentDefaults(sheet *Stylesheet) *Cascade {
	if sheet == nil {
		sheet = &Stylesheet{}
	}
	merged := &Stylesheet{
		Rules:    append(append([]Rule(nil), userAgentRules()...), sheet.Rules...),
		Warnings: sheet.Warnings,
	}
	return &Cascade{sheet: merged}
}

func hasClass(classes []string, want string) bool {
	for _, c := range classes {
		if c == want {
			return true
		}
	}
	return false
}

// Resolve computes the style for one element, given its tag name, class
// list, raw inline style attribute (may be empty), and parent's already
// resolved style (nil for the document root).
//
// Precedence (§4.4, deterministic): inline > tag.class > .class > tag >
// inherited > initial. Buckets are applied lowest-to-highest precedence so
// each later bucket overwrites property-by-property; within a bucket,
// later source-order rules win ties the same way.
func (c *Cascade) Resolve(element string, classes []string, inlineStyle string, parent *ComputedStyle) ComputedStyle {
	var base ComputedStyle
	if parent != nil {
		base = inherited(*parent)
	} else {
		base = Initial()
	}

	props := map[string]Value{}
	merge := func(p map[string]Value) {
		for k, v := range p {
			props[k] = v
		}
	}

	for _, r := range c.sheet.Rules {
		if r.Selector.Kind == SelectorTag && r.Selector.Element == element {
			merge(r.Properties)
		}
	}
	for _, r := range c.sheet.Rules {
		if r.Selector.Kind == SelectorClass && hasClass(classes, r.Selector.Class) {
			merge(r.Properties)
		}
	}
	for _, r := range c.sheet.Rules {
		if r.Selector.Kind == SelectorTagClass && r.Selector.Element == element && hasClass(classes, r.Selector.Class) {
			merge(r.Properties)
		}
	}
	if strings.TrimSpace(inlineStyle) != "" {
		merge(ParseInlineStyle(inlineStyle))
	}

	parentFontPx := base.FontSize.Value
	if base.FontSize.Unit == common.UnitEm {
		parentFontPx = 16 // shouldn't happen post-cascade, defensive default
	}

	out := base
	for name, v := range props {
		applyProperty(&out, parentFontPx, name, v)
	}
	return out
}

func applyProperty(cs *ComputedStyle, parentFontPx float64, name string, v Value) {
	switch name {
	case "font-size":
		cs.FontSize = Length{Value: resolveLength(v, parentFontPx), Unit: common.UnitPx}
	case "font-family":
		cs.FontFamily = v.Raw
	case "font-weight":
		switch {
		case v.Keyword == "bold":
			cs.FontWeight = WeightBold
		case v.Keyword == "normal":
			cs.FontWeight = WeightNormal
		case v.IsNumeric():
			w := FontWeight(v.Number)
			if w >= 700 {
				w = WeightBold
			}
			cs.FontWeight = w
		}
	case "font-style":
		switch v.Keyword {
		case "italic", "oblique":
			cs.FontStyle = common.FontStyleItalic
		case "normal":
			cs.FontStyle = common.FontStyleNormal
		}
	case "text-align":
		switch v.Keyword {
		case "center":
			cs.TextAlign = common.AlignCenter
		case "right":
			cs.TextAlign = common.AlignRight
		case "justify":
			cs.TextAlign = common.AlignJustify
		case "left":
			cs.TextAlign = common.AlignLeft
		}
	case "line-height":
		applyLineHeight(cs, parentFontPx, v)
	case "margin":
		applyMarginShorthand(cs, parentFontPx, v)
	case "margin-top":
		cs.MarginTop = resolveLength(v, parentFontPx)
	case "margin-bottom":
		cs.MarginBottom = resolveLength(v, parentFontPx)
	case "white-space":
		cs.WhiteSpacePre = strings.HasPrefix(v.Keyword, "pre")
	}
}

// applyLineHeight implements §4.4's "line-height without a unit is stored
// as Multiplier (bare 1.5 means 1.5x font size, never 1.5px)."
func applyLineHeight(cs *ComputedStyle, parentFontPx float64, v Value) {
	switch v.Unit {
	case "":
		if v.IsNumeric() {
			cs.LineHeightKind = common.LineHeightMultiplier
			cs.LineHeight = v.Number
		}
	case "px", "pt":
		cs.LineHeightKind = common.LineHeightPx
		cs.LineHeight = resolveLength(v, parentFontPx)
	case "em":
		cs.LineHeightKind = common.LineHeightPx
		cs.LineHeight = v.Number * parentFontPx
	case "%":
		cs.LineHeightKind = common.LineHeightMultiplier
		cs.LineHeight = v.Number / 100
	}
}

// applyMarginShorthand implements §4.4's "margin shorthand with a single
// value sets top and bottom." Two/three/four-value shorthands are also
// accepted, taking the CSS-standard top/bottom slots.
func applyMarginShorthand(cs *ComputedStyle, parentFontPx float64, v Value) {
	parts := strings.Fields(v.Raw)
	if len(parts) == 0 {
		return
	}
	vals := make([]float64, 0, len(parts))
	for _, p := range parts {
		vals = append(vals, resolveLength(Value{Raw: p, Unit: unitOf(p), Number: numberOf(p)}, parentFontPx))
	}
	switch len(vals) {
	case 1:
		cs.MarginTop, cs.MarginBottom = vals[0], vals[0]
	case 2:
		cs.MarginTop, cs.MarginBottom = vals[0], vals[0]
	default: // 3 or 4
		cs.MarginTop, cs.MarginBottom = vals[0], vals[2]
	}
}

func resolveLength(v Value, parentFontPx float64) float64 {
	switch v.Unit {
	case "em":
		return v.Number * parentFontPx
	case "%":
		return v.Number / 100 * parentFontPx
	default:
		return v.Number
	}
}

// unitOf/numberOf re-derive a dimension's unit and magnitude from a raw
// shorthand token (e.g. "1.5em"), mirroring parseDimension for the pieces
// the single-token fast path in parseValue never sees.
func unitOf(s string) string {
	i := len(s)
	for i > 0 && !isDigitByte(s[i-1]) {
		i--
	}
	return strings.ToLower(s[i:])
}

func numberOf(s string) float64 {
	i := len(s)
	for i > 0 && !isDigitByte(s[i-1]) {
		i--
	}
	n, _ := strconv.ParseFloat(s[:i], 64)
	return n
}

func isDigitByte(b byte) bool {
	return b >= '0' && b <= '9' || b == '.' || b == '-' || b == '+'
}
