package xhtml

import "testing"

func collectAll(t *testing.T, doc string) []Token {
	t.Helper()
	var scratch TokenizeScratch
	var tokens []Token
	if err := TokenizeAll([]byte(doc), &tokens, &scratch, nil); err != nil {
		t.Fatalf("TokenizeAll: %v", err)
	}
	return tokens
}

func textOf(tok Token) string { return string(tok.Text) }

func TestSkipSubtreeElements(t *testing.T) {
	doc := `<html><body><script>var x = "<p>not real</p>";</script><p>real</p></body></html>`
	toks := collectAll(t, doc)
	for _, tok := range toks {
		if tok.Kind == Text && textOf(tok) != "real" {
			t.Fatalf("script subtree leaked into output: %q", textOf(tok))
		}
	}
}

func TestParagraphBreakOnlyWithContent(t *testing.T) {
	doc := `<html><body><p></p><p>hello</p></body></html>`
	toks := collectAll(t, doc)
	var breaks, texts int
	for _, tok := range toks {
		if tok.Kind == ParagraphBreak {
			breaks++
		}
		if tok.Kind == Text {
			texts++
		}
	}
	if texts != 1 {
		t.Fatalf("expected 1 text token, got %d", texts)
	}
	// Empty <p></p> contributes only its opening break (no content inside to
	// justify a closing one); the second <p> contributes both.
	if breaks != 3 {
		t.Fatalf("expected 3 ParagraphBreak tokens, got %d: %+v", breaks, toks)
	}
}

func TestHeadingLevel(t *testing.T) {
	doc := `<html><body><h2>Title</h2></body></html>`
	toks := collectAll(t, doc)
	var found bool
	for _, tok := range toks {
		if tok.Kind == Heading {
			found = true
			if tok.Level != 2 {
				t.Fatalf("expected heading level 2, got %d", tok.Level)
			}
		}
	}
	if !found {
		t.Fatal("no Heading token emitted")
	}
}

func TestInlineFormattingAndLink(t *testing.T) {
	doc := `<html><body><p>a <em>b</em> <a href="ch2.xhtml#s1">c</a></p></body></html>`
	toks := collectAll(t, doc)
	var sawLinkStart, sawLinkEnd bool
	var sawEmphasisOn, sawEmphasisOff bool
	for _, tok := range toks {
		switch tok.Kind {
		case LinkStart:
			sawLinkStart = true
			if tok.Href != "ch2.xhtml#s1" {
				t.Fatalf("unexpected href %q", tok.Href)
			}
		case LinkEnd:
			sawLinkEnd = true
		case Emphasis:
			if tok.On {
				sawEmphasisOn = true
			} else {
				sawEmphasisOff = true
			}
		}
	}
	if !sawLinkStart || !sawLinkEnd {
		t.Fatalf("expected LinkStart/LinkEnd pair, got %+v", toks)
	}
	if !sawEmphasisOn || !sawEmphasisOff {
		t.Fatalf("expected Emphasis on/off pair, got %+v", toks)
	}
}

func TestWhitespaceCollapse(t *testing.T) {
	doc := "<html><body><p>a   b\n\tc</p></body></html>"
	toks := collectAll(t, doc)
	var combined string
	for _, tok := range toks {
		if tok.Kind == Text {
			combined += textOf(tok)
		}
	}
	if combined != "a b c" {
		t.Fatalf("expected collapsed whitespace %q, got %q", "a b c", combined)
	}
}

func TestPrePreservesWhitespace(t *testing.T) {
	doc := "<html><body><pre>a   b</pre></body></html>"
	toks := collectAll(t, doc)
	var combined string
	for _, tok := range toks {
		if tok.Kind == Text {
			combined += textOf(tok)
		}
	}
	if combined != "a   b" {
		t.Fatalf("expected preserved whitespace in <pre>, got %q", combined)
	}
}

func TestSoftHyphenEmitsSoftBreak(t *testing.T) {
	doc := "<html><body><p>super­cali</p></body></html>"
	toks := collectAll(t, doc)
	var texts []string
	var sawSoftBreak bool
	for _, tok := range toks {
		if tok.Kind == SoftBreak {
			sawSoftBreak = true
		}
		if tok.Kind == Text {
			texts = append(texts, textOf(tok))
		}
	}
	if !sawSoftBreak {
		t.Fatal("expected a SoftBreak token")
	}
	if len(texts) != 2 || texts[0] != "super" || texts[1] != "cali" {
		t.Fatalf("expected text split around soft hyphen, got %+v", texts)
	}
}

func TestImageSelfClosing(t *testing.T) {
	doc := `<html><body><p><img src="cover.jpg" alt="Cover"/></p></body></html>`
	toks := collectAll(t, doc)
	var found bool
	for _, tok := range toks {
		if tok.Kind == Image {
			found = true
			if tok.Src != "cover.jpg" || tok.Alt != "Cover" {
				t.Fatalf("unexpected image token: %+v", tok)
			}
		}
	}
	if !found {
		t.Fatal("no Image token emitted")
	}
}

func TestListStructure(t *testing.T) {
	doc := `<html><body><ol><li>one</li><li>two</li></ol></body></html>`
	toks := collectAll(t, doc)
	var starts, items, ends int
	for _, tok := range toks {
		switch tok.Kind {
		case ListStart:
			starts++
			if !tok.Order {
				t.Fatal("expected ordered list")
			}
		case ListItemStart:
			items++
		case ListEnd:
			ends++
		}
	}
	if starts != 1 || items != 2 || ends != 1 {
		t.Fatalf("unexpected list token counts: starts=%d items=%d ends=%d", starts, items, ends)
	}
}

func TestClassAndStyleCapturedOnOpenTokens(t *testing.T) {
	doc := `<html><body><p class="note intro" style="color:red">hi</p></body></html>`
	toks := collectAll(t, doc)
	var found bool
	for _, tok := range toks {
		if tok.Kind == ParagraphBreak && tok.Tag == "p" {
			found = true
			if len(tok.Classes) != 2 || tok.Classes[0] != "note" || tok.Classes[1] != "intro" {
				t.Fatalf("unexpected classes: %+v", tok.Classes)
			}
			if tok.Style != "color:red" {
				t.Fatalf("unexpected style: %q", tok.Style)
			}
		}
	}
	if !found {
		t.Fatal("no tagged ParagraphBreak token emitted")
	}
}

func TestElementStackOverflow(t *testing.T) {
	doc := "<html><body>"
	for i := 0; i < maxElementStack+10; i++ {
		doc += "<span>"
	}
	doc += "</body></html>"

	var scratch TokenizeScratch
	var tokens []Token
	err := TokenizeAll([]byte(doc), &tokens, &scratch, nil)
	if err == nil {
		t.Fatal("expected LimitExceeded error for element stack overflow")
	}
}
