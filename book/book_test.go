package book

import (
	"archive/zip"
	"bytes"
	"testing"
)

// buildEPUB is a test helper: stdlib archive/zip constructs fixture bytes
// only — the package under test (zipio, reached through Book) is the only
// reader ever exercised. order fixes the archive's entry order so
// "mimetype" can be asserted first.
func buildEPUB(t *testing.T, order []string, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range order {
		content, ok := files[name]
		if !ok {
			continue
		}
		method := uint16(zip.Deflate)
		if name == "mimetype" {
			method = zip.Store
		}
		w, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: method})
		if err != nil {
			t.Fatalf("create header %s: %v", name, err)
		}
		if _, err := w.Write([]byte(content)); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	return buf.Bytes()
}

const testContainerXML = `<?xml version="1.0"?>
<container version="1.0" xmlns="urn:oasis:names:tc:opendocument:xmlns:container">
  <rootfiles>
    <rootfile full-path="OEBPS/content.opf" media-type="application/oebps-package+xml"/>
  </rootfiles>
</container>`

const testOPF = `<?xml version="1.0"?>
<package xmlns="http://www.idpf.org/2007/opf" version="3.0">
  <metadata xmlns:dc="http://purl.org/dc/elements/1.1/">
    <dc:title>Test Book</dc:title>
    <dc:creator>A. Uthor</dc:creator>
    <dc:language>en</dc:language>
  </metadata>
  <manifest>
    <item id="nav" href="nav.xhtml" media-type="application/xhtml+xml" properties="nav"/>
    <item id="c1" href="chapter1.xhtml" media-type="application/xhtml+xml"/>
    <item id="c2" href="chapter2.xhtml" media-type="application/xhtml+xml"/>
    <item id="style" href="style.css" media-type="text/css"/>
  </manifest>
  <spine>
    <itemref idref="c1"/>
    <itemref idref="c2"/>
  </spine>
</package>`

const testNav = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" xmlns:epub="http://www.idpf.org/2007/ops">
<body>
  <nav epub:type="toc">
    <ol>
      <li><a href="chapter1.xhtml">Chapter One</a></li>
      <li><a href="chapter2.xhtml">Chapter Two</a></li>
    </ol>
  </nav>
</body>
</html>`

const testChapter1 = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><body>
<h1>Chapter One</h1>
<p>This is the first paragraph of the first chapter, long enough to wrap across more than one line of output.</p>
</body></html>`

const testChapter2 = `<?xml version="1.0" encoding="utf-8"?>
<html xmlns="http://www.w3.org/1999/xhtml"><body>
<h1>Chapter Two</h1>
<p>A short second chapter.</p>
</body></html>`

var testOrder = []string{
	"mimetype", "META-INF/container.xml", "OEBPS/content.opf",
	"OEBPS/nav.xhtml", "OEBPS/chapter1.xhtml", "OEBPS/chapter2.xhtml", "OEBPS/style.css",
}

func testFiles() map[string]string {
	return map[string]string{
		"mimetype":                mimetypeWant,
		"META-INF/container.xml":  testContainerXML,
		"OEBPS/content.opf":       testOPF,
		"OEBPS/nav.xhtml":         testNav,
		"OEBPS/chapter1.xhtml":    testChapter1,
		"OEBPS/chapter2.xhtml":    testChapter2,
		"OEBPS/style.css":         "p { margin: 0; }",
	}
}

func openTestBook(t *testing.T) *Book {
	t.Helper()
	data := buildEPUB(t, testOrder, testFiles())
	b, err := Open(data, nil, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return b
}

func TestOpenParsesMetadataSpineAndNav(t *testing.T) {
	b := openTestBook(t)
	if got := b.Metadata().Title; got != "Test Book" {
		t.Fatalf("Title = %q", got)
	}
	if b.ChapterCount() != 2 {
		t.Fatalf("ChapterCount = %d, want 2", b.ChapterCount())
	}
	if b.TOC() == nil || len(b.TOC().Nodes) != 2 {
		t.Fatalf("expected 2 TOC entries, got %+v", b.TOC())
	}
	for _, d := range b.Warnings {
		t.Errorf("unexpected warning on a well-formed fixture: %+v", d)
	}
}

func TestOpenChapterPagesRendersNonEmptyPages(t *testing.T) {
	b := openTestBook(t)
	pages, err := b.OpenChapterPages(0)
	if err != nil {
		t.Fatalf("OpenChapterPages: %v", err)
	}
	if len(pages) == 0 {
		t.Fatal("expected at least one page")
	}
	foundHeadingAnchor := false
	for _, p := range pages {
		if len(p.Annotations) > 0 {
			foundHeadingAnchor = true
		}
	}
	if !foundHeadingAnchor {
		t.Fatal("expected the chapter's heading to carry an Anchor")
	}
}

func TestGlobalPageCountEstimateUnknownUntilEveryChapterPaginated(t *testing.T) {
	b := openTestBook(t)
	if est := b.GlobalPageCountEstimate(); est != nil {
		t.Fatalf("expected nil estimate before any chapter is paginated, got %v", *est)
	}
	if _, err := b.OpenChapterPages(0); err != nil {
		t.Fatalf("OpenChapterPages(0): %v", err)
	}
	if est := b.GlobalPageCountEstimate(); est != nil {
		t.Fatalf("expected nil estimate with one of two chapters paginated, got %v", *est)
	}
	if _, err := b.OpenChapterPages(1); err != nil {
		t.Fatalf("OpenChapterPages(1): %v", err)
	}
	if est := b.GlobalPageCountEstimate(); est == nil {
		t.Fatal("expected a non-nil estimate once every chapter has been paginated")
	}
}

func TestCurrentAndSeekPositionRoundTrip(t *testing.T) {
	b := openTestBook(t)
	pages, err := b.OpenChapterPages(0)
	if err != nil {
		t.Fatalf("OpenChapterPages: %v", err)
	}
	for pageIdx := range pages {
		pos := b.CurrentPosition(0, pages, pageIdx)
		_, gotIdx, err := b.SeekPosition(pos)
		if err != nil {
			t.Fatalf("SeekPosition: %v", err)
		}
		if gotIdx != pageIdx {
			t.Fatalf("round trip for page %d landed on page %d", pageIdx, gotIdx)
		}
	}
}

func TestValidateReportsNoDiagnosticsOnAWellFormedArchive(t *testing.T) {
	b := openTestBook(t)
	if err := b.Validate(); err != nil {
		t.Fatalf("Validate on a well-formed fixture: %v", err)
	}
}
