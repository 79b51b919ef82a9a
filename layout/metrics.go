package layout

import "muepub/fontresolve"

// FontMetrics answers advance-width questions for a resolved font_id at a
// given pixel size. §4.6 measures words by character count, not byte
// length, with "widths come from the resolved font metrics" — this
// module supplies that width, not glyph shaping (no face file is ever
// loaded here; FontResolver's Face only carries size/embedding metadata,
// not an outline table), so the metric is a per-family average-advance
// ratio rather than a true glyph-accurate measurement.
type FontMetrics interface {
	AdvanceWidth(fontID fontresolve.FontID, sizePx float64) float64
}

// averageAdvanceMetrics assumes every glyph advances a fixed fraction of
// the font's point size, regardless of font_id — the same approximation
// every character-count-based estimator uses absent real glyph data.
type averageAdvanceMetrics struct {
	ratio float64
}

// NewAverageAdvanceMetrics returns a FontMetrics using ratio (advance
// width as a fraction of font size) for every font_id. 0.5 is a
// reasonable average for a proportional serif/sans text face.
func NewAverageAdvanceMetrics(ratio float64) FontMetrics {
	if ratio <= 0 {
		ratio = 0.5
	}
	return averageAdvanceMetrics{ratio: ratio}
}

func (m averageAdvanceMetrics) AdvanceWidth(_ fontresolve.FontID, sizePx float64) float64 {
	return sizePx * m.ratio
}
