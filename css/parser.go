package css

import (
	"bytes"
	"strconv"
	"strings"
	"unicode"

	parse "github.com/tdewolff/parse/v2"
	cssparse "github.com/tdewolff/parse/v2/css"
	"go.uber.org/zap"
)

// Parser parses CSS text into a Stylesheet, keeping only rules whose
// selector falls in §4.4's supported subset.
type Parser struct {
	log *zap.Logger
}

// NewParser constructs a Parser. A nil logger is replaced with a no-op one.
func NewParser(log *zap.Logger) *Parser {
	if log == nil {
		log = zap.NewNop()
	}
	return &Parser{log: log.Named("css")}
}

// Parse parses a stylesheet's worth of CSS text.
func (p *Parser) Parse(data []byte) *Stylesheet {
	sheet := &Stylesheet{}
	input := parse.NewInput(bytes.NewReader(data))
	parser := cssparse.NewParser(input, false)

	var currentSelectors []string

	for {
		gt, _, tdata := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar:
			return sheet

		case cssparse.BeginAtRuleGrammar:
			// @media, @font-face, @import, etc. are all out of the supported
			// selector subset (§4.4 names tag/.class/tag.class/inline only);
			// skip the block rather than misapplying its rules unscoped.
			p.skipAtRuleBlock(parser)

		case cssparse.AtRuleGrammar:
			// Simple @-rule without a block (e.g. @import "x.css";); nothing
			// to do, no block to skip.

		case cssparse.BeginRulesetGrammar, cssparse.QualifiedRuleGrammar:
			currentSelectors = p.splitSelectors(tdata, parser.Values())
			props := p.parseDeclarations(parser)
			for _, raw := range currentSelectors {
				sel, ok := p.parseSelector(raw, sheet)
				if !ok {
					continue
				}
				propsCopy := make(map[string]Value, len(props))
				for k, v := range props {
					propsCopy[k] = v
				}
				sheet.Rules = append(sheet.Rules, Rule{Selector: sel, Properties: propsCopy})
			}
			currentSelectors = nil
		}
	}
}

func (p *Parser) splitSelectors(data []byte, values []cssparse.Token) []string {
	var sb strings.Builder
	sb.Write(data)
	for _, v := range values {
		sb.Write(v.Data)
	}
	var out []string
	for _, s := range strings.Split(sb.String(), ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func (p *Parser) parseDeclarations(parser *cssparse.Parser) map[string]Value {
	props := make(map[string]Value)
	for {
		gt, _, data := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar, cssparse.EndRulesetGrammar:
			return props
		case cssparse.DeclarationGrammar:
			name := strings.ToLower(string(data))
			values := parser.Values()
			if len(values) > 0 {
				props[name] = parseValue(values)
			}
		}
	}
}

func parseValue(tokens []cssparse.Token) Value {
	var rawParts []string
	for _, t := range tokens {
		if t.TokenType != cssparse.WhitespaceToken {
			rawParts = append(rawParts, string(t.Data))
		} else if len(rawParts) > 0 {
			rawParts = append(rawParts, " ")
		}
	}
	raw := strings.TrimSpace(strings.Join(rawParts, ""))
	val := Value{Raw: raw}

	significant := tokens
	if len(significant) > 0 && significant[len(significant)-1].TokenType == cssparse.WhitespaceToken {
		significant = significant[:len(significant)-1]
	}
	if len(significant) == 1 {
		t := significant[0]
		switch t.TokenType {
		case cssparse.DimensionToken:
			val.Number, val.Unit = parseDimension(string(t.Data))
		case cssparse.PercentageToken:
			val.Number, _ = strconv.ParseFloat(strings.TrimSuffix(string(t.Data), "%"), 64)
			val.Unit = "%"
		case cssparse.NumberToken:
			val.Number, _ = strconv.ParseFloat(string(t.Data), 64)
		case cssparse.IdentToken:
			val.Keyword = strings.ToLower(string(t.Data))
		case cssparse.StringToken:
			val.Keyword = unquote(string(t.Data))
		case cssparse.HashToken:
			val.Keyword = string(t.Data)
		}
		return val
	}

	// Multi-token values (e.g. margin shorthand, font-family lists) are kept
	// as the raw string; callers that care (Cascade) re-tokenize on
	// whitespace/comma themselves.
	val.Keyword = raw
	return val
}

func parseDimension(s string) (float64, string) {
	numEnd := 0
	for i, r := range s {
		if unicode.IsDigit(r) || r == '.' || r == '-' || r == '+' {
			numEnd = i + 1
		} else {
			break
		}
	}
	if numEnd == 0 {
		return 0, ""
	}
	num, _ := strconv.ParseFloat(s[:numEnd], 64)
	return num, strings.ToLower(s[numEnd:])
}

// parseSelector accepts exactly the subset §4.4 names: tag, .class,
// tag.class. Anything else (descendant combinators, attribute selectors,
// pseudo-classes) is rejected with a warning rather than silently
// mis-scoped.
func (p *Parser) parseSelector(raw string, sheet *Stylesheet) (Selector, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Selector{}, false
	}
	if strings.ContainsAny(raw, " \t\n>+~[]:") {
		sheet.Warnings = append(sheet.Warnings, "unsupported selector (outside tag/.class/tag.class subset): "+raw)
		return Selector{}, false
	}
	if element, class, found := strings.Cut(raw, "."); found {
		if element == "" {
			return Selector{Raw: raw, Kind: SelectorClass, Class: class}, class != ""
		}
		return Selector{Raw: raw, Kind: SelectorTagClass, Element: element, Class: class}, class != ""
	}
	return Selector{Raw: raw, Kind: SelectorTag, Element: raw}, true
}

func (p *Parser) skipAtRuleBlock(parser *cssparse.Parser) {
	depth := 1
	for depth > 0 {
		gt, _, _ := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar:
			return
		case cssparse.BeginAtRuleGrammar, cssparse.BeginRulesetGrammar:
			depth++
		case cssparse.EndAtRuleGrammar, cssparse.EndRulesetGrammar:
			depth--
		}
	}
}

// ParseInlineStyle parses the contents of a style="..." attribute into
// declarations, reusing the same declaration tokenizer as full stylesheets.
func ParseInlineStyle(style string) map[string]Value {
	input := parse.NewInput(bytes.NewReader([]byte("x{" + style + "}")))
	parser := cssparse.NewParser(input, false)
	props := make(map[string]Value)
	for {
		gt, _, data := parser.Next()
		switch gt {
		case cssparse.ErrorGrammar:
			return props
		case cssparse.DeclarationGrammar:
			name := strings.ToLower(string(data))
			values := parser.Values()
			if len(values) > 0 {
				props[name] = parseValue(values)
			}
		}
	}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) < 2 {
		return s
	}
	if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
