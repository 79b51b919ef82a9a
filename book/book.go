// Package book is the reading-core facade (§2, §4): it wires
// container/opf/nav/css/fontresolve/layout into one per-archive handle
// that a UI or CLI drives chapter by chapter, the way fbc's convert
// package wires its own per-document pipeline behind a handful of
// exported entry points.
package book

import (
	"fmt"
	"path"
	"strings"

	"go.uber.org/zap"

	"muepub/common"
	"muepub/config"
	"muepub/container"
	"muepub/css"
	"muepub/fontresolve"
	"muepub/layout"
	"muepub/nav"
	"muepub/opf"
	"muepub/renderprep"
	"muepub/state"
	"muepub/xhtml"
	"muepub/zipio"
)

const mimetypeEntry = "mimetype"
const mimetypeWant = "application/epub+zip"

// Book is an open EPUB archive, parsed down through the container and OPF
// layers and ready to render any spine chapter on demand. Nothing past
// the manifest/spine/navigation and the manifest's CSS stylesheets is
// read eagerly — chapter bodies are
// decompressed and laid out only when a caller asks for them (§5
// "streaming, not whole-document").
type Book struct {
	zip      *zipio.Reader
	pkg      *opf.Package
	toc      *nav.Navigation
	cfg      *config.Config
	cascade  *css.Cascade
	fontres  *fontresolve.Resolver
	log      *zap.Logger
	rootBase string // directory the OPF rootfile lives in, for href joins

	// Warnings accumulates every non-fatal diagnostic surfaced while
	// opening the archive (container/OPF/navigation parser warnings plus
	// the mimetype check), available to a validate subcommand without a
	// second parse pass.
	Warnings []common.Diagnostic

	// pageCount[i] is -1 until chapter i has been paginated at least once
	// in this session, then its page count (§9 "global_page_count_estimate
	// is unknown until every chapter has been paginated").
	pageCount []int
}

// Open parses an EPUB archive's container, OPF package, and navigation
// document, and prepares the CSS cascade and font resolver a chapter
// render will need. cfg and log may be nil (config.Default() / a no-op
// logger are substituted).
func Open(data []byte, cfg *config.Config, log *zap.Logger) (*Book, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("book")

	zlimits := &zipio.Limits{
		MaxUncompressedBytes: cfg.Limits.MaxZipUncompressed,
		MaxEntries:           cfg.Limits.MaxZipEntries,
	}
	if zlimits.MaxUncompressedBytes == 0 {
		zlimits.MaxUncompressedBytes = config.Default().Limits.MaxZipUncompressed
	}
	if zlimits.MaxEntries == 0 {
		zlimits.MaxEntries = config.Default().Limits.MaxZipEntries
	}
	zr, err := zipio.Open(data, zlimits, log)
	if err != nil {
		return nil, err
	}

	mimeDiag, err := checkMimetype(zr)
	if err != nil {
		return nil, err
	}

	containerData, err := readEntry(zr, "META-INF/container.xml")
	if err != nil {
		return nil, err
	}
	containerRes, err := container.Parse(containerData, log)
	if err != nil {
		return nil, err
	}
	rootfile := containerRes.Chosen()

	opfData, err := readEntry(zr, rootfile)
	if err != nil {
		return nil, err
	}
	olimits := opf.Limits{MaxManifestItems: cfg.Limits.MaxManifestItems, MaxSpineItems: cfg.Limits.MaxSpineItems}
	pkg, err := opf.Parse(opfData, olimits, log)
	if err != nil {
		return nil, err
	}

	rootBase := path.Dir(rootfile)

	pageCount := make([]int, len(pkg.Spine))
	for i := range pageCount {
		pageCount[i] = -1
	}
	b := &Book{
		zip: zr, pkg: pkg, cfg: cfg, log: log, rootBase: rootBase,
		pageCount: pageCount,
	}
	if mimeDiag != nil {
		b.Warnings = append(b.Warnings, *mimeDiag)
	}
	b.Warnings = append(b.Warnings, containerRes.Warnings...)
	b.Warnings = append(b.Warnings, pkg.Warnings...)

	b.toc, err = b.loadNavigation()
	if err != nil {
		return nil, err
	}
	if b.toc != nil {
		b.Warnings = append(b.Warnings, b.toc.Warnings...)
	}

	b.cascade, err = b.loadCascade()
	if err != nil {
		return nil, err
	}
	b.fontres = fontresolve.NewResolver(fontresolve.NewRegistry(cfg.Fonts.BuiltinFamily), cfg.Fonts, log)

	log.Debug("opened book",
		zap.String("title", pkg.Metadata.Title),
		zap.Int("spine_items", len(pkg.Spine)),
		zap.Int("warnings", len(b.Warnings)))
	return b, nil
}

// checkMimetype enforces §6/§8 scenario 1: the archive's first entry must
// be named "mimetype", stored (not deflated), and contain exactly
// "application/epub+zip" with no trailing newline. Violations are
// reported as a warning rather than rejecting the whole archive — many
// real-world EPUBs get this wrong and still open fine elsewhere.
func checkMimetype(zr *zipio.Reader) (*common.Diagnostic, error) {
	entries := zr.Entries()
	if len(entries) == 0 || entries[0].Name != mimetypeEntry {
		return &common.Diagnostic{
			Code: "MimetypeNotFirst", Severity: common.SeverityWarning,
			Message: "archive's first entry is not \"mimetype\"",
		}, nil
	}
	e := entries[0]
	buf := make([]byte, e.UncompressedSize)
	n, err := zr.ReadEntry(mimetypeEntry, buf)
	if err != nil {
		return nil, err
	}
	body := string(buf[:n])
	if e.Compression != common.Stored || body != mimetypeWant {
		return &common.Diagnostic{
			Code: "MimetypeInvalid", Severity: common.SeverityWarning,
			Message: fmt.Sprintf("mimetype entry must be stored and exactly %q, got %q (stored=%v)", mimetypeWant, body, e.Compression == common.Stored),
		}, nil
	}
	return nil, nil
}

func readEntry(zr *zipio.Reader, name string) ([]byte, error) {
	e, ok := zr.Stat(name)
	if !ok {
		return nil, common.NewError(common.ErrZip, fmt.Errorf("archive entry not found: %s", name))
	}
	buf := make([]byte, e.UncompressedSize)
	n, err := zr.ReadEntry(name, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// joinHref resolves href against dir the way a browser resolves a
// relative link — EPUB package hrefs are always "/"-separated regardless
// of host OS, so path (not filepath) is correct here.
func joinHref(dir, href string) string {
	href, _ = splitFragment(href)
	if href == "" {
		return dir
	}
	if strings.HasPrefix(href, "/") {
		return strings.TrimPrefix(href, "/")
	}
	return path.Clean(path.Join(dir, href))
}

func splitFragment(href string) (string, string) {
	if i := strings.IndexByte(href, '#'); i >= 0 {
		return href[:i], href[i+1:]
	}
	return href, ""
}

// loadNavigation finds the EPUB3 nav document (manifest item with
// properties["nav"]) and falls back to the EPUB2 NCX referenced by
// opf.Package.NCXHref (§4.2, §6).
func (b *Book) loadNavigation() (*nav.Navigation, error) {
	for _, item := range b.pkg.Manifest {
		if item.Properties["nav"] {
			data, err := readEntry(b.zip, joinHref(b.rootBase, item.Href))
			if err != nil {
				return nil, err
			}
			return nav.ParseXHTML(data, b.log)
		}
	}
	if b.pkg.NCXHref != "" {
		data, err := readEntry(b.zip, joinHref(b.rootBase, b.pkg.NCXHref))
		if err != nil {
			return nil, err
		}
		return nav.ParseNCX(data, b.log)
	}
	b.Warnings = append(b.Warnings, common.Diagnostic{
		Code: "NavMissing", Severity: common.SeverityWarning,
		Message: "archive declares neither an EPUB3 nav document nor an EPUB2 NCX",
	})
	return &nav.Navigation{}, nil
}

// loadCascade parses every manifest stylesheet (text/css) into one merged
// Cascade over the baseline tag defaults (§4.4).
func (b *Book) loadCascade() (*css.Cascade, error) {
	parser := css.NewParser(b.log)
	merged := &css.Stylesheet{}
	for _, item := range b.pkg.Manifest {
		if item.MediaType != "text/css" {
			continue
		}
		data, err := readEntry(b.zip, joinHref(b.rootBase, item.Href))
		if err != nil {
			b.Warnings = append(b.Warnings, common.Diagnostic{
				Code: "StylesheetUnreadable", Severity: common.SeverityWarning,
				Message: fmt.Sprintf("manifest stylesheet %q: %v", item.Href, err), Href: item.Href,
			})
			continue
		}
		sheet := parser.Parse(data)
		merged.Rules = append(merged.Rules, sheet.Rules...)
		merged.Warnings = append(merged.Warnings, sheet.Warnings...)
	}
	b.Warnings = append(b.Warnings, merged.Warnings...)
	return css.NewCascadeWithUserAgentDefaults(merged), nil
}

// Metadata returns the book's Dublin Core metadata.
func (b *Book) Metadata() opf.Metadata { return b.pkg.Metadata }

// ChapterCount is the number of linear and non-linear spine entries.
func (b *Book) ChapterCount() int { return len(b.pkg.Spine) }

// SpineItem returns the spine entry at index.
func (b *Book) SpineItem(index int) (opf.SpineItem, bool) {
	if index < 0 || index >= len(b.pkg.Spine) {
		return opf.SpineItem{}, false
	}
	return b.pkg.Spine[index], true
}

// TOC returns the parsed navigation document (nil fields if the archive
// had none).
func (b *Book) TOC() *nav.Navigation { return b.toc }

// chapterHref resolves spine index i to its archive-relative href.
func (b *Book) chapterHref(i int) (string, error) {
	item, ok := b.SpineItem(i)
	if !ok {
		return "", common.NewError(common.ErrXML, fmt.Errorf("spine index %d out of range [0,%d)", i, len(b.pkg.Spine)))
	}
	return joinHref(b.rootBase, item.Href), nil
}

// newRenderPrep opens a chapter's XHTML body and wires it through the
// book's shared cascade and font resolver (§4.5).
func (b *Book) newRenderPrep(href string) (*renderprep.RenderPrep, error) {
	data, err := readEntry(b.zip, href)
	if err != nil {
		return nil, err
	}
	scratch := &xhtml.TokenizeScratch{}
	tok, err := xhtml.NewTokenizer(data, scratch, b.log)
	if err != nil {
		return nil, err
	}
	return renderprep.New(tok, b.cascade, b.fontres, renderprep.NopTracer{}, b.log), nil
}

// OpenChapterPages fully renders spine chapter i into pages (§4.6),
// uncancellable. Use OpenChapterPagesWithCancel to support mid-render
// cancellation.
func (b *Book) OpenChapterPages(i int) ([]layout.RenderPage, error) {
	return b.OpenChapterPagesWithCancel(i, state.NewCancelToken())
}

// OpenChapterPagesWithCancel renders spine chapter i, polling cancel at
// every page boundary (§5 "cancellation ... only observed at page
// boundaries").
func (b *Book) OpenChapterPagesWithCancel(i int, cancel *state.CancelToken) ([]layout.RenderPage, error) {
	href, err := b.chapterHref(i)
	if err != nil {
		return nil, err
	}
	rp, err := b.newRenderPrep(href)
	if err != nil {
		return nil, err
	}

	var hyph *layout.Hyphenator
	if b.cfg.Typography.AutoHyphenate {
		hyph = layout.NewDefaultHyphenator()
	}
	metrics := layout.NewAverageAdvanceMetrics(0.5)
	engine := layout.NewEngine(b.cfg.Typography, b.cfg.Viewport, metrics, hyph, cancel, b.log, i)

	var pages []layout.RenderPage
	onPage := func(p layout.RenderPage) error {
		pages = append(pages, p)
		return nil
	}

	for {
		ev, ok, err := rp.Next()
		if err != nil {
			return nil, err
		}
		if !ok {
			break
		}
		if err := engine.PushItemWithPages(ev, onPage); err != nil {
			if err == common.Cancelled {
				return pages, err
			}
			return nil, err
		}
	}
	if err := engine.Finish(onPage); err != nil {
		if err == common.Cancelled {
			return pages, err
		}
		return nil, err
	}
	if i >= 0 && i < len(b.pageCount) {
		b.pageCount[i] = len(pages)
	}
	b.backfillMetrics(i, pages)
	return pages, nil
}

// backfillMetrics fills in the per-page metrics that aren't knowable
// until a chapter's full page slice exists (ChapterPageCount,
// ProgressChapter), until every earlier chapter has been paginated at
// least once this session (GlobalPageIndex), or until every chapter in
// the book has (GlobalPageCountEstimate). ProgressBook is always set: exactly, once
// the global count is known, otherwise from an even-split-across-chapters
// estimate (§9 "global_page_count_estimate is unknown until every
// chapter has been paginated").
func (b *Book) backfillMetrics(chapterIndex int, pages []layout.RenderPage) {
	n := len(pages)
	if n == 0 {
		return
	}

	globalBase := 0
	globalKnown := true
	for j := 0; j < chapterIndex && j < len(b.pageCount); j++ {
		if b.pageCount[j] < 0 {
			globalKnown = false
			break
		}
		globalBase += b.pageCount[j]
	}
	globalCount := b.GlobalPageCountEstimate()

	for idx := range pages {
		m := &pages[idx].Metrics
		m.ChapterPageCount = n
		m.ProgressChapter = float32(idx+1) / float32(n)

		if globalKnown {
			gi := globalBase + idx
			m.GlobalPageIndex = &gi
		}
		m.GlobalPageCountEstimate = globalCount

		if globalKnown && globalCount != nil {
			m.ProgressBook = float32(*m.GlobalPageIndex+1) / float32(*globalCount)
		} else {
			m.ProgressBook = (float32(chapterIndex) + m.ProgressChapter) / float32(b.ChapterCount())
		}
	}
}

// GlobalPageCountEstimate returns the sum of every spine chapter's page
// count once each has been paginated at least once this session, or nil
// if any chapter remains unpaginated (§9 "global_page_count_estimate").
func (b *Book) GlobalPageCountEstimate() *int {
	total := 0
	for _, n := range b.pageCount {
		if n < 0 {
			return nil
		}
		total += n
	}
	return &total
}

// PaginationProfileId reports the fingerprint that must match between a
// render and a later seek for a saved ReadingPosition to remain valid
// (§3, §8 "pagination_profile_id changes whenever viewport or typography
// changes").
func (b *Book) PaginationProfileId() [32]byte {
	return layout.PaginationProfileId(b.cfg)
}
