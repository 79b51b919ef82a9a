package xmlutil

import (
	"testing"
)

func TestDecodeEntitiesHandlesNamedAndNumeric(t *testing.T) {
	cases := []struct{ in, want string }{
		{"Tom &amp; Jerry", "Tom & Jerry"},
		{"1 &lt; 2 &gt; 0", "1 < 2 > 0"},
		{"&quot;quoted&quot;", `"quoted"`},
		{"&apos;s", "'s"},
		{"&#65;&#66;&#67;", "ABC"},
		{"&#x41;&#x42;", "AB"},
		{"no entities here", "no entities here"},
	}
	for _, c := range cases {
		got := string(DecodeEntities(nil, []byte(c.in)))
		if got != c.want {
			t.Errorf("DecodeEntities(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestDecodeEntitiesLeavesMalformedReferencesLiteral(t *testing.T) {
	cases := []string{
		"stray & ampersand",
		"&unknown;",
		"&amp no semicolon",
	}
	for _, in := range cases {
		got := string(DecodeEntities(nil, []byte(in)))
		if got == "" {
			t.Errorf("DecodeEntities(%q) dropped all content", in)
		}
	}
}

func TestDetectEncodingDefaultsToEmptyWhenUndeclared(t *testing.T) {
	name, enc := DetectEncoding([]byte("<html><body/></html>"))
	if name != "" || enc != nil {
		t.Fatalf("DetectEncoding(undeclared) = (%q, %v), want (\"\", nil)", name, enc)
	}
}

func TestDetectEncodingRecognizesDeclaredCharset(t *testing.T) {
	name, enc := DetectEncoding([]byte(`<?xml version="1.0" encoding="windows-1252"?><html/>`))
	if name != "windows-1252" {
		t.Fatalf("DetectEncoding name = %q, want windows-1252", name)
	}
	if enc == nil {
		t.Fatal("expected a recognized encoding.Encoding for windows-1252")
	}
}

func TestDetectEncodingUTF8BOM(t *testing.T) {
	data := append([]byte{0xEF, 0xBB, 0xBF}, []byte("<html/>")...)
	name, enc := DetectEncoding(data)
	if name != "utf-8" || enc != nil {
		t.Fatalf("DetectEncoding(BOM) = (%q, %v), want (\"utf-8\", nil)", name, enc)
	}
}

func TestDecodeDocumentPassesThroughUTF8(t *testing.T) {
	data := []byte(`<?xml version="1.0" encoding="UTF-8"?><html/>`)
	got, err := DecodeDocument(data)
	if err != nil {
		t.Fatalf("DecodeDocument: %v", err)
	}
	if string(got) != string(data) {
		t.Fatalf("DecodeDocument altered UTF-8 content")
	}
}
