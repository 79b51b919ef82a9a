package book

import (
	"unicode/utf8"

	"muepub/layout"
)

// AnchorKind discriminates how a ReadingPosition locates a point inside a
// chapter's rendered text stream.
type AnchorKind int

const (
	// AnchorOffset locates by cumulative rune offset into the chapter's
	// flattened text (§3 ReadingPosition "chapter_anchor").
	AnchorOffset AnchorKind = iota
)

// ReadingPosition is the persisted bookmark (§3, §6): a spine chapter
// index plus an anchor inside it, valid only alongside the
// PaginationProfileId it was captured under.
//
// §3 models chapter_anchor as a tagged union, Cfi(path) or
// TokenOffset(u32), plus a separate intra_token_offset field. Only the
// TokenOffset variant is implemented here, as a single cumulative rune
// offset (Offset) that already conflates what the spec keeps as two
// numbers — there is no intermediate "token" granularity in this
// pipeline's render output to split the offset against, so the
// distinction would be manufactured rather than meaningful. Cfi is
// deferred: a stable DOM/token path would have to be threaded through
// renderprep and retained per-run, which nothing here currently does,
// and TokenOffset alone already satisfies the round-trip-locator
// property (§8 "seek_position(current_position()) is the identity").
type ReadingPosition struct {
	ChapterIndex        int
	Kind                AnchorKind
	Offset              uint32
	PaginationProfileId [32]byte
}

// pageStartOffsets returns, for each page, the cumulative rune offset of
// its first span's first rune into the chapter's full rendered text —
// the stable coordinate CurrentPosition/SeekPosition round-trip against,
// since page boundaries themselves shift whenever typography or viewport
// changes but rune offsets into the source text never do.
func pageStartOffsets(pages []layout.RenderPage) []uint32 {
	offsets := make([]uint32, len(pages))
	var cumulative uint32
	for i, p := range pages {
		offsets[i] = cumulative
		for _, l := range p.Lines {
			for _, s := range l.Spans {
				cumulative += uint32(utf8.RuneCountInString(s.Text))
			}
		}
	}
	return offsets
}

// CurrentPosition returns the ReadingPosition for the start of pages[pageIndex]
// (§8 "seek_position(current_position()) is the identity").
func (b *Book) CurrentPosition(chapterIndex int, pages []layout.RenderPage, pageIndex int) ReadingPosition {
	offsets := pageStartOffsets(pages)
	var off uint32
	if pageIndex >= 0 && pageIndex < len(offsets) {
		off = offsets[pageIndex]
	}
	return ReadingPosition{
		ChapterIndex: chapterIndex, Kind: AnchorOffset, Offset: off,
		PaginationProfileId: b.PaginationProfileId(),
	}
}

// SeekPosition re-renders pos.ChapterIndex and returns the page index
// whose rendered content contains pos.Offset: the last page whose start
// offset is <= pos.Offset. A stale PaginationProfileId (captured under a
// different viewport/typography) still resolves to a best-effort page —
// callers that care should compare it against Book.PaginationProfileId
// themselves before trusting exact placement.
func (b *Book) SeekPosition(pos ReadingPosition) ([]layout.RenderPage, int, error) {
	pages, err := b.OpenChapterPages(pos.ChapterIndex)
	if err != nil {
		return nil, 0, err
	}
	offsets := pageStartOffsets(pages)
	idx := 0
	for i, off := range offsets {
		if off <= pos.Offset {
			idx = i
		} else {
			break
		}
	}
	return pages, idx, nil
}
