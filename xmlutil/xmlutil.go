// Package xmlutil is the pull-style XML lexing foundation shared by
// container, opf, nav, and xhtml (§4.2, §4.3, §9 "Streaming state
// machine"). It wraps github.com/tdewolff/parse/v2/xml — the same module
// fbc's css package already depends on for CSS tokenization — rather than
// a DOM library like beevik/etree, since every consumer here must be
// event-driven with an explicit element stack and no recursion.
package xmlutil

import (
	"bytes"

	parse "github.com/tdewolff/parse/v2"
	xml "github.com/tdewolff/parse/v2/xml"
)

// Lexer re-exports the underlying tdewolff lexer's token shape so callers
// never import the xml sub-package directly; it keeps one seam where a
// future lexer swap would land.
type Lexer struct {
	l *xml.Lexer
}

// TokenType mirrors github.com/tdewolff/parse/v2/xml's token kinds.
type TokenType = xml.TokenType

// NewLexer constructs a pull lexer over already-UTF8 document bytes. Use
// DecodeDocument first if the bytes may be in a legacy encoding.
func NewLexer(data []byte) *Lexer {
	return &Lexer{l: xml.NewLexer(parse.NewInput(bytes.NewReader(data)))}
}

// Next returns the next token's type and raw data, exactly as the
// underlying lexer reports it (attribute values are fetched separately via
// AttrVal, tag names/text are not entity-decoded).
func (lx *Lexer) Next() (xml.TokenType, []byte) {
	return lx.l.Next()
}

// AttrVal returns the raw (still-quoted) value of the attribute token just
// returned by Next.
func (lx *Lexer) AttrVal() []byte {
	return lx.l.AttrVal()
}

// Err returns the lexer's terminal error, if Next returned xml.ErrorToken
// for a reason other than clean EOF.
func (lx *Lexer) Err() error {
	return lx.l.Err()
}

// LocalName strips a namespace prefix from a qualified XML name, e.g.
// "dc:title" -> "title", "epub:type" -> "type". Package parses by exact
// local-name or known-prefix match, never by suffix (§4.2).
func LocalName(qname []byte) []byte {
	if i := bytes.IndexByte(qname, ':'); i >= 0 {
		return qname[i+1:]
	}
	return qname
}

// Prefix returns the namespace prefix of a qualified name, or nil if
// unprefixed.
func Prefix(qname []byte) []byte {
	if i := bytes.IndexByte(qname, ':'); i >= 0 {
		return qname[:i]
	}
	return nil
}

// Unquote strips the surrounding single or double quotes AttrVal returns
// and decodes entity references within, appending to dst (dst may be nil;
// the result may alias dst's backing array).
func Unquote(dst, raw []byte) []byte {
	if len(raw) >= 2 {
		if (raw[0] == '"' && raw[len(raw)-1] == '"') || (raw[0] == '\'' && raw[len(raw)-1] == '\'') {
			raw = raw[1 : len(raw)-1]
		}
	}
	return DecodeEntities(dst, raw)
}
