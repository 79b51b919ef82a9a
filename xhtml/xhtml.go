// Package xhtml pull-tokenizes XHTML chapter bodies into the semantic
// token stream RenderPrep and LayoutEngine consume (§4.3). There is no
// recursion: the open-element stack is an explicit, bounded slice.
package xhtml

import (
	"io"
	"strings"
	"unicode"

	xml "github.com/tdewolff/parse/v2/xml"
	"go.uber.org/zap"

	"muepub/common"
	"muepub/xmlutil"
)

// TokenKind is the tagged variant discriminator for Token.
type TokenKind int

const (
	Text TokenKind = iota
	ParagraphBreak
	Heading
	Emphasis
	Strong
	LineBreak
	SoftBreak
	ListStart
	ListItemStart
	ListItemEnd
	ListEnd
	LinkStart
	LinkEnd
	Image
)

// Token is one emitted event. Text aliases a sub-slice of the scratch
// buffer's arena — valid for the lifetime of the TokenizeScratch passed to
// NewTokenizer, not just until the next call.
//
// Tag/Classes/Style are populated only on the "open" half of a structural
// token (a ParagraphBreak that begins a block, Emphasis/Strong with
// On=true, LinkStart, ListStart, ListItemStart, Image) — they carry the
// element's selector-relevant attributes so RenderPrep can resolve a
// css.Cascade per element without re-walking the XML. Closing tokens leave
// them zero.
type Token struct {
	Kind    TokenKind
	Text    []byte
	Level   int      // Heading
	On      bool     // Emphasis / Strong
	Order   bool     // ListStart: true = ordered (<ol>)
	Href    string   // LinkStart, Image
	Src     string   // Image
	Alt     string   // Image
	Tag     string   // element-opening tokens only
	Classes []string // element-opening tokens only
	Style   string   // raw inline style="" attribute, element-opening tokens only
}

// TokenizeScratch holds the caller-owned buffers (§4.3: "Caller provides
// tokens and scratch... both cleared at entry"). ElementStack is bounded
// to 256; exceeding it is LimitExceeded{ElementStack}, not a silent
// truncation.
type TokenizeScratch struct {
	XMLBuf       []byte
	TextBuf      []byte
	ElementStack []string
}

const maxElementStack = 256

var skipTags = map[string]bool{
	"script": true, "style": true, "head": true, "nav": true,
	"header": true, "footer": true, "aside": true, "noscript": true,
}

var voidTags = map[string]bool{
	"br": true, "img": true, "hr": true, "input": true, "meta": true,
	"link": true, "area": true, "base": true, "col": true, "embed": true,
	"source": true, "track": true, "wbr": true,
}

var blockTags = map[string]bool{
	"p": true, "div": true, "blockquote": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"pre": true, "figure": true, "figcaption": true, "table": true, "tr": true, "td": true, "th": true,
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

type frame struct {
	local           string
	classes         []string
	style           string
	skip            bool
	isBlock         bool
	isHeading       bool
	isLink          bool
	isList          bool
	isListItem      bool
	isEmphasis      bool
	isStrong        bool
	isPre           bool
	isImage         bool
	isVoid          bool
	isBr            bool
	producedContent bool
}

// Tokenizer is the pull producer: repeated Next calls drive the underlying
// xmlutil.Lexer one XML event at a time, queuing zero or more Tokens (a
// single text node can split into several Text/SoftBreak tokens).
type Tokenizer struct {
	lx      *xmlutil.Lexer
	scratch *TokenizeScratch
	stack   []frame
	queue   []Token
	log     *zap.Logger

	skipDepth     int
	preDepth      int
	pendingHref   string
	pendingSrc    string
	pendingAlt    string
	pendingClass  []string
	pendingStyle  string
	attrKey       string
	entBuf        []byte
	pendingSp     bool

	done bool
	err  error
}

// NewTokenizer prepares a tokenizer over an already-decoded XHTML document.
// Both scratch.TextBuf and scratch.ElementStack are cleared at entry, per
// §4.3.
func NewTokenizer(data []byte, scratch *TokenizeScratch, log *zap.Logger) (*Tokenizer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	decoded, err := xmlutil.DecodeDocument(data)
	if err != nil {
		return nil, common.NewError(common.ErrXML, err)
	}
	scratch.XMLBuf = scratch.XMLBuf[:0]
	scratch.TextBuf = scratch.TextBuf[:0]
	scratch.ElementStack = scratch.ElementStack[:0]
	return &Tokenizer{
		lx:      xmlutil.NewLexer(decoded),
		scratch: scratch,
		log:     log,
	}, nil
}

// Next returns the next token. ok is false once the document is exhausted
// (err is nil in that case); ok is false with a non-nil err on failure.
func (t *Tokenizer) Next() (tok Token, ok bool, err error) {
	for len(t.queue) == 0 {
		if t.done {
			return Token{}, false, t.err
		}
		if stepErr := t.step(); stepErr != nil {
			t.done = true
			if stepErr == io.EOF {
				return Token{}, false, nil
			}
			t.err = stepErr
			return Token{}, false, stepErr
		}
	}
	tok = t.queue[0]
	t.queue = t.queue[1:]
	return tok, true, nil
}

// TokenizeAll drains a Tokenizer into the caller-provided tokens slice,
// matching §4.3's "Caller provides tokens: &mut Vec<Token>" contract for
// callers that don't need the lazy pull form.
func TokenizeAll(data []byte, tokens *[]Token, scratch *TokenizeScratch, log *zap.Logger) error {
	*tokens = (*tokens)[:0]
	tz, err := NewTokenizer(data, scratch, log)
	if err != nil {
		return err
	}
	for {
		tok, ok, err := tz.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		*tokens = append(*tokens, tok)
	}
}

func (t *Tokenizer) push(f frame) error {
	if len(t.stack) >= maxElementStack {
		return common.NewLimitExceeded(common.LimitElementStack, int64(len(t.stack)+1), maxElementStack)
	}
	t.stack = append(t.stack, f)
	t.scratch.ElementStack = append(t.scratch.ElementStack, f.local)
	return nil
}

func (t *Tokenizer) pop() frame {
	f := t.stack[len(t.stack)-1]
	t.stack = t.stack[:len(t.stack)-1]
	t.scratch.ElementStack = t.scratch.ElementStack[:len(t.scratch.ElementStack)-1]
	return f
}

func (t *Tokenizer) top() *frame {
	if len(t.stack) == 0 {
		return nil
	}
	return &t.stack[len(t.stack)-1]
}

// markProduced marks every enclosing frame as having produced content, so
// a block's closing ParagraphBreak is only emitted when something was
// actually inside it.
func (t *Tokenizer) markProduced() {
	for i := range t.stack {
		t.stack[i].producedContent = true
	}
}

func (t *Tokenizer) emit(tok Token) {
	t.queue = append(t.queue, tok)
}

// emitOpenTokens queues the structural "open" event(s) for a frame once its
// classes/style are known (StartTagCloseToken / StartTagCloseVoidToken),
// stamping Tag/Classes/Style so RenderPrep can resolve a cascade per
// element without re-deriving them from the raw XML.
func (t *Tokenizer) emitOpenTokens(f frame) {
	switch {
	case f.isBlock:
		t.emit(Token{Kind: ParagraphBreak, Tag: f.local, Classes: f.classes, Style: f.style})
		t.pendingSp = false
		if f.isHeading {
			t.emit(Token{Kind: Heading, Level: headingLevel(f.local), Tag: f.local, Classes: f.classes, Style: f.style})
		}
	case f.isLink:
		t.emit(Token{Kind: LinkStart, Href: t.pendingHref, Tag: f.local, Classes: f.classes, Style: f.style})
	case f.isEmphasis:
		t.emit(Token{Kind: Emphasis, On: true, Tag: f.local, Classes: f.classes, Style: f.style})
	case f.isStrong:
		t.emit(Token{Kind: Strong, On: true, Tag: f.local, Classes: f.classes, Style: f.style})
	case f.isList:
		t.emit(Token{Kind: ListStart, Order: f.local == "ol", Tag: f.local, Classes: f.classes, Style: f.style})
		t.pendingSp = false
	case f.isListItem:
		t.emit(Token{Kind: ListItemStart, Tag: f.local, Classes: f.classes, Style: f.style})
		t.pendingSp = false
	case f.isBr:
		t.emit(Token{Kind: LineBreak})
		t.pendingSp = false
	case f.isImage:
		t.emit(Token{Kind: Image, Href: t.pendingSrc, Src: t.pendingSrc, Alt: t.pendingAlt, Tag: f.local, Classes: f.classes, Style: f.style})
		t.markProduced()
	}
}

func (t *Tokenizer) skipping() bool {
	return t.skipDepth > 0
}

// step processes exactly one underlying XML token, queuing zero or more
// Tokens as a side effect.
func (t *Tokenizer) step() error {
	tt, data := t.lx.Next()
	switch tt {
	case xml.ErrorToken:
		if e := t.lx.Err(); e != nil && e.Error() != "EOF" {
			return common.NewError(common.ErrXML, e)
		}
		return io.EOF

	case xml.StartTagToken:
		local := string(xmlutil.LocalName(data))
		t.pendingHref, t.pendingSrc, t.pendingAlt = "", "", ""
		t.pendingClass, t.pendingStyle = nil, ""

		if t.skipping() {
			t.skipDepth++
			return t.push(frame{local: local, skip: true, isVoid: voidTags[local]})
		}
		if skipTags[local] {
			t.skipDepth = 1
			return t.push(frame{local: local, skip: true, isVoid: voidTags[local]})
		}

		f := frame{local: local}
		switch {
		case blockTags[local]:
			f.isBlock = true
			f.isPre = local == "pre"
			f.isHeading = headingLevel(local) > 0
		case local == "a":
			f.isLink = true
		case local == "em" || local == "i":
			f.isEmphasis = true
		case local == "strong" || local == "b":
			f.isStrong = true
		case local == "ol" || local == "ul":
			f.isList = true
		case local == "li":
			f.isListItem = true
		case local == "br":
			f.isVoid = true
			f.isBr = true
		case local == "img":
			f.isVoid = true
			f.isImage = true
		}
		if t.preDepth > 0 {
			f.isPre = true
		}
		if f.isPre {
			t.preDepth++
		}
		if err := t.push(f); err != nil {
			return err
		}

	case xml.AttributeToken:
		t.attrKey = string(xmlutil.LocalName(data))

	case xml.TextToken:
		if !t.skipping() {
			t.processText(data)
		}

	case xml.StartTagCloseToken:
		if top := t.top(); top != nil && !top.skip {
			top.classes = t.pendingClass
			top.style = t.pendingStyle
			t.emitOpenTokens(*top)
		}

	case xml.StartTagCloseVoidToken:
		if top := t.top(); top != nil && top.isVoid {
			top.classes = t.pendingClass
			top.style = t.pendingStyle
			if !top.skip {
				t.emitOpenTokens(*top)
			}
			f := t.pop()
			if f.skip {
				t.skipDepth--
			}
			if f.isPre {
				t.preDepth--
			}
		}

	case xml.EndTagToken:
		local := string(xmlutil.LocalName(data))
		top := t.top()
		if top == nil || top.local != local {
			// Malformed close without a matching open; ignore rather than
			// desync the stack.
			return nil
		}
		f := t.pop()
		if f.isPre {
			t.preDepth--
		}
		if f.skip {
			t.skipDepth--
			return nil
		}
		switch {
		case f.isBlock:
			if f.producedContent {
				t.emit(Token{Kind: ParagraphBreak})
				t.pendingSp = false
			}
			if len(t.stack) > 0 {
				t.markProduced()
			}
		case f.isLink:
			t.emit(Token{Kind: LinkEnd})
			t.markProduced()
		case f.isEmphasis:
			t.emit(Token{Kind: Emphasis, On: false})
			t.markProduced()
		case f.isStrong:
			t.emit(Token{Kind: Strong, On: false})
			t.markProduced()
		case f.isList:
			t.emit(Token{Kind: ListEnd})
			t.markProduced()
		case f.isListItem:
			t.emit(Token{Kind: ListItemEnd})
			t.markProduced()
		}
	}

	if tt == xml.AttributeToken {
		val := string(xmlutil.Unquote(nil, t.lx.AttrVal()))
		switch t.attrKey {
		case "href":
			t.pendingHref = val
		case "src":
			t.pendingSrc = val
		case "alt":
			t.pendingAlt = val
		case "class":
			t.pendingClass = strings.Fields(val)
		case "style":
			t.pendingStyle = val
		}
	}
	return nil
}

// processText decodes entities, collapses whitespace (unless inside pre),
// and splits on U+00AD soft hyphens into Text/SoftBreak token pairs.
func (t *Tokenizer) processText(raw []byte) {
	t.entBuf = xmlutil.DecodeEntities(t.entBuf[:0], raw)
	pre := t.preDepth > 0

	start := len(t.scratch.TextBuf)
	flush := func() {
		if len(t.scratch.TextBuf) > start {
			t.emit(Token{Kind: Text, Text: t.scratch.TextBuf[start:len(t.scratch.TextBuf)]})
			t.markProduced()
		}
		start = len(t.scratch.TextBuf)
	}

	for _, r := range string(t.entBuf) {
		switch {
		case r == '\u00AD':
			flush()
			t.emit(Token{Kind: SoftBreak})
			t.markProduced()
			t.pendingSp = false
		case !pre && unicode.IsSpace(r):
			t.pendingSp = true
		default:
			if t.pendingSp {
				if len(t.scratch.TextBuf) > 0 {
					t.scratch.TextBuf = append(t.scratch.TextBuf, ' ')
				}
				t.pendingSp = false
			}
			t.scratch.TextBuf = append(t.scratch.TextBuf, string(r)...)
		}
	}
	flush()
}
