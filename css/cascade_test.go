package css

import (
	"testing"

	"muepub/common"
)

func TestCascadePrecedenceOrder(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(`
		p { text-align: left; }
		.note { text-align: center; }
		p.note { text-align: right; }
	`))
	c := NewCascade(sheet)

	got := c.Resolve("p", []string{"note"}, `text-align: justify`, nil)
	if got.TextAlign != common.AlignJustify {
		t.Fatalf("expected inline to win, got %v", got.TextAlign)
	}

	got = c.Resolve("p", []string{"note"}, "", nil)
	if got.TextAlign != common.AlignRight {
		t.Fatalf("expected tag.class to beat .class and tag, got %v", got.TextAlign)
	}

	got = c.Resolve("p", []string{"note"}, "", nil)
	// Remove the tag.class rule's effect by resolving a different element
	// that only matches .class and tag.
	got2 := c.Resolve("div", []string{"note"}, "", nil)
	if got2.TextAlign != common.AlignCenter {
		t.Fatalf("expected .class to beat tag (no tag.class match for div), got %v", got2.TextAlign)
	}
	_ = got
}

func TestLineHeightBareNumberIsMultiplier(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(`p { line-height: 1.5; }`))
	c := NewCascade(sheet)
	got := c.Resolve("p", nil, "", nil)
	if got.LineHeightKind != common.LineHeightMultiplier || got.LineHeight != 1.5 {
		t.Fatalf("expected 1.5x multiplier, got kind=%v value=%v", got.LineHeightKind, got.LineHeight)
	}
}

func TestLineHeightPixelUnit(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(`p { line-height: 24px; }`))
	c := NewCascade(sheet)
	got := c.Resolve("p", nil, "", nil)
	if got.LineHeightKind != common.LineHeightPx || got.LineHeight != 24 {
		t.Fatalf("expected 24px, got kind=%v value=%v", got.LineHeightKind, got.LineHeight)
	}
}

func TestFontWeightNumericClampsToBold(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(`p { font-weight: 800; } h1 { font-weight: 500; }`))
	c := NewCascade(sheet)
	if got := c.Resolve("p", nil, "", nil); !got.FontWeight.IsBold() {
		t.Fatalf("expected 800 to clamp to bold, got %v", got.FontWeight)
	}
	if got := c.Resolve("h1", nil, "", nil); got.FontWeight.IsBold() {
		t.Fatalf("expected 500 to not be bold, got %v", got.FontWeight)
	}
}

func TestMarginShorthandSingleValue(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(`p { margin: 12px; }`))
	c := NewCascade(sheet)
	got := c.Resolve("p", nil, "", nil)
	if got.MarginTop != 12 || got.MarginBottom != 12 {
		t.Fatalf("expected top=bottom=12, got top=%v bottom=%v", got.MarginTop, got.MarginBottom)
	}
}

func TestInheritanceFromParent(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(`body { font-size: 20px; }`))
	c := NewCascade(sheet)
	parent := c.Resolve("body", nil, "", nil)
	child := c.Resolve("span", nil, "", &parent)
	if child.FontSize.Value != 20 {
		t.Fatalf("expected font-size to inherit from parent, got %v", child.FontSize.Value)
	}
	if child.MarginTop != 0 {
		t.Fatalf("expected margin to reset (not inherit), got %v", child.MarginTop)
	}
}

func TestUserAgentDefaultsStyleSemanticTags(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(``))
	c := NewCascadeWithUserAgentDefaults(sheet)
	if got := c.Resolve("em", nil, "", nil); got.FontStyle != common.FontStyleItalic {
		t.Fatalf("expected em to default to italic, got %v", got.FontStyle)
	}
	if got := c.Resolve("strong", nil, "", nil); !got.FontWeight.IsBold() {
		t.Fatalf("expected strong to default to bold, got %v", got.FontWeight)
	}
}

func TestUserAgentDefaultsOverriddenByAuthorCSS(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(`em { font-style: normal; }`))
	c := NewCascadeWithUserAgentDefaults(sheet)
	got := c.Resolve("em", nil, "", nil)
	if got.FontStyle != common.FontStyleNormal {
		t.Fatalf("expected author CSS to override UA default, got %v", got.FontStyle)
	}
}

func TestEmFontSizeResolvesAgainstParent(t *testing.T) {
	p := NewParser(nil)
	sheet := p.Parse([]byte(`body { font-size: 20px; } em { font-size: 1.5em; }`))
	c := NewCascade(sheet)
	parent := c.Resolve("body", nil, "", nil)
	child := c.Resolve("em", nil, "", &parent)
	if child.FontSize.Value != 30 {
		t.Fatalf("expected 1.5em of 20px = 30px, got %v", child.FontSize.Value)
	}
}
