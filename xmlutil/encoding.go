package xmlutil

import (
	"bytes"
	"io"
	"regexp"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/transform"
)

// xmlDeclEncoding finds the `encoding="..."` (or '...') attribute on a
// leading `<?xml ... ?>` declaration without running a full lexer pass —
// we need to know the charset *before* we can safely lex.
var xmlDeclEncoding = regexp.MustCompile(`(?i)<\?xml[^>]*\bencoding\s*=\s*["']([^"']+)["']`)

// DetectEncoding reports the declared charset name (empty if undeclared,
// which means "assume UTF-8") and, if recognized, its
// golang.org/x/text/encoding.Encoding. Grounded in state/env.go's
// CodePage encoding.Encoding field from the teacher — content documents in
// older EPUB2 books are not reliably UTF-8.
func DetectEncoding(data []byte) (name string, enc encoding.Encoding) {
	if bytes.HasPrefix(data, []byte{0xEF, 0xBB, 0xBF}) {
		return "utf-8", nil
	}
	head := data
	if len(head) > 512 {
		head = head[:512]
	}
	m := xmlDeclEncoding.FindSubmatch(head)
	if m == nil {
		return "", nil
	}
	name = string(m[1])
	e, err := htmlindex.Get(name)
	if err != nil {
		return name, nil
	}
	return name, e
}

// DecodeDocument transcodes data to UTF-8 if its XML declaration names a
// non-UTF-8 charset x/text recognizes; otherwise it returns data
// unmodified (the common case, and the only case a streaming embedded
// reader should pay for).
func DecodeDocument(data []byte) ([]byte, error) {
	name, enc := DetectEncoding(data)
	if enc == nil {
		return data, nil
	}
	if name == "utf-8" || name == "UTF-8" {
		return data, nil
	}
	r := transform.NewReader(bytes.NewReader(data), enc.NewDecoder())
	return io.ReadAll(r)
}
