package renderprep

import (
	"testing"

	"muepub/common"
	"muepub/config"
	"muepub/css"
	"muepub/fontresolve"
	"muepub/xhtml"
)

func newPipeline(t *testing.T, doc, stylesheet string) *RenderPrep {
	t.Helper()
	var scratch xhtml.TokenizeScratch
	tok, err := xhtml.NewTokenizer([]byte(doc), &scratch, nil)
	if err != nil {
		t.Fatalf("NewTokenizer: %v", err)
	}
	sheet := css.NewParser(nil).Parse([]byte(stylesheet))
	cascade := css.NewCascadeWithUserAgentDefaults(sheet)
	policy := config.FontPolicy{AllowEmbeddedFonts: true, SyntheticItalic: true, BuiltinFamily: "Built-in Serif"}
	resolver := fontresolve.NewResolver(fontresolve.NewRegistry(policy.BuiltinFamily), policy, nil)
	return New(tok, cascade, resolver, nil, nil)
}

func drain(t *testing.T, rp *RenderPrep) []Event {
	t.Helper()
	var events []Event
	for {
		ev, ok, err := rp.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			return events
		}
		events = append(events, ev)
	}
}

func TestHeadingRunsCarryBoldAndLevel(t *testing.T) {
	rp := newPipeline(t, `<html><body><h2>Title</h2></body></html>`, "")
	events := drain(t, rp)
	var found bool
	for _, ev := range events {
		if ev.Kind == EventRun && string(ev.Run.Text) == "Title" {
			found = true
			if ev.Run.Role != common.RoleHeading || ev.Run.Level != 2 {
				t.Fatalf("expected heading role level 2, got role=%v level=%d", ev.Run.Role, ev.Run.Level)
			}
			if !ev.Run.Style.FontWeight.IsBold() {
				t.Fatalf("expected heading to resolve bold via user-agent defaults")
			}
		}
	}
	if !found {
		t.Fatal("no run emitted for heading text")
	}
}

func TestEmphasisNestedInsideParagraphResolvesItalic(t *testing.T) {
	rp := newPipeline(t, `<html><body><p>before <em>slanted</em> after</p></body></html>`, "")
	events := drain(t, rp)
	var sawItalic, sawNormal bool
	for _, ev := range events {
		if ev.Kind != EventRun {
			continue
		}
		if string(ev.Run.Text) == " slanted" {
			if ev.Run.Style.FontStyle == common.FontStyleItalic {
				sawItalic = true
			}
		}
		if string(ev.Run.Text) == "before" || string(ev.Run.Text) == " after" {
			if ev.Run.Style.FontStyle == common.FontStyleNormal {
				sawNormal = true
			}
		}
	}
	if !sawItalic {
		t.Fatal("expected emphasized run to resolve italic")
	}
	if !sawNormal {
		t.Fatal("expected surrounding text to remain normal")
	}
}

func TestListItemsCarryDepthAndOrdinal(t *testing.T) {
	rp := newPipeline(t, `<html><body><ol><li>one</li><li>two</li></ol></body></html>`, "")
	events := drain(t, rp)
	var ordinals []int
	for _, ev := range events {
		if ev.Kind == EventRun && ev.Run.Role == common.RoleListItem {
			ordinals = append(ordinals, ev.Run.ListOrdinal)
			if ev.Run.ListDepth != 1 {
				t.Fatalf("expected list depth 1, got %d", ev.Run.ListDepth)
			}
		}
	}
	if len(ordinals) != 2 || ordinals[0] != 1 || ordinals[1] != 2 {
		t.Fatalf("expected ordinals [1 2], got %+v", ordinals)
	}
}

func TestClassSelectorAppliesThroughCascade(t *testing.T) {
	rp := newPipeline(t, `<html><body><p class="note">hi</p></body></html>`, `.note { text-align: center; }`)
	events := drain(t, rp)
	var found bool
	for _, ev := range events {
		if ev.Kind == EventRun && string(ev.Run.Text) == "hi" {
			found = true
			if ev.Run.Style.TextAlign != common.AlignCenter {
				t.Fatalf("expected class-selected centered text, got %v", ev.Run.Style.TextAlign)
			}
		}
	}
	if !found {
		t.Fatal("no run emitted")
	}
}

func TestFontResolvedOnceCachedPerStyleContext(t *testing.T) {
	rp := newPipeline(t, `<html><body><p>aa<br/>bb<br/>cc</p></body></html>`, "")
	events := drain(t, rp)
	var fontIDs []fontresolve.FontID
	for _, ev := range events {
		if ev.Kind == EventRun {
			fontIDs = append(fontIDs, ev.Run.FontID)
		}
	}
	if len(fontIDs) < 2 {
		t.Fatalf("expected multiple runs, got %d", len(fontIDs))
	}
	for _, id := range fontIDs[1:] {
		if id != fontIDs[0] {
			t.Fatalf("expected all runs in one style context to share a font_id, got %+v", fontIDs)
		}
	}
}

func TestImageEventCarriesStyleAndAttributes(t *testing.T) {
	rp := newPipeline(t, `<html><body><p><img src="cover.jpg" alt="Cover"/></p></body></html>`, "")
	events := drain(t, rp)
	var found bool
	for _, ev := range events {
		if ev.Kind == EventImage {
			found = true
			if ev.Image.Src != "cover.jpg" || ev.Image.Alt != "Cover" {
				t.Fatalf("unexpected image event: %+v", ev.Image)
			}
		}
	}
	if !found {
		t.Fatal("no image event emitted")
	}
}
