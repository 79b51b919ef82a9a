// Package fontresolve implements the FontResolver (§4.7): family/weight/style
// requests are turned into a stable font_id, with every rejected candidate
// along the way appended to a trace of common.FontFallbackReason labels.
// Downstream stages never re-resolve from weight/style once a run carries a
// font_id — the id is the stable identity, the trace is diagnostic-only.
package fontresolve

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"muepub/common"
	"muepub/config"
	"muepub/css"
)

// FontID is the stable, opaque identity attached to a StyledRun. Two
// requests that resolve to the same face always produce the same FontID.
type FontID string

// Face is one registered font face.
type Face struct {
	ID        FontID
	Family    string
	Weight    css.FontWeight
	Style     common.FontStyle
	Embedded  bool
	SizeBytes int64
}

// Registry holds the faces available to a reading session: embedded faces
// discovered in the EPUB's manifest plus whatever built-in faces the host
// ships. A Registry with no registered faces at all still resolves, via the
// guaranteed built-in family (step 5 of §4.7's algorithm).
type Registry struct {
	faces    map[string][]Face
	builtin  Face
}

// NewRegistry creates an empty registry with a synthesized built-in face
// guaranteed to satisfy any request that exhausts every other fallback.
func NewRegistry(builtinFamily string) *Registry {
	return &Registry{
		faces: make(map[string][]Face),
		builtin: Face{
			ID:     FontID("builtin:" + builtinFamily),
			Family: builtinFamily,
			Weight: css.WeightNormal,
			Style:  common.FontStyleNormal,
		},
	}
}

// Register adds a face to the registry, keyed by lowercased family name.
func (r *Registry) Register(f Face) {
	key := strings.ToLower(f.Family)
	r.faces[key] = append(r.faces[key], f)
}

// Resolver resolves font requests against a Registry under a config.FontPolicy.
type Resolver struct {
	registry *Registry
	policy   config.FontPolicy
	log      *zap.Logger
}

// NewResolver constructs a Resolver. A nil logger is replaced with a no-op one.
func NewResolver(registry *Registry, policy config.FontPolicy, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if registry == nil {
		registry = NewRegistry(policy.BuiltinFamily)
	}
	return &Resolver{registry: registry, policy: policy, log: log.Named("fontresolve")}
}

// Trace is one step of the resolver's decision chain: either a rejected
// candidate with its reason, or the final accepted face (Reason unset).
type Trace struct {
	Family   string
	Reason   common.FontFallbackReason
	Accepted bool
}

// Result is the resolver's output for one request: the stable FontID, the
// family it actually came from, and the full decision chain (§4.7,
// attached to the styled run and, optionally, to diagnostics).
type Result struct {
	FontID         FontID
	ResolvedFamily string
	Trace          []Trace
}

// normalizeFamilies strips quotes/whitespace and dedupes while preserving
// first-occurrence order (§4.7 step 1).
func normalizeFamilies(families []string) []string {
	seen := make(map[string]bool, len(families))
	out := make([]string, 0, len(families))
	for _, f := range families {
		f = strings.TrimSpace(f)
		f = strings.Trim(f, `"'`)
		if f == "" {
			continue
		}
		key := strings.ToLower(f)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, f)
	}
	return out
}

// distance scores how far a candidate face is from the requested
// (weight, style): weight delta dominates and a style mismatch always adds
// a fixed penalty (§4.7 step 2). The bool reports whether the face is
// usable: false when an italic is wanted from a non-italic face without
// FontPolicy.SyntheticItalic, or a bold from a non-bold face without
// FontPolicy.SyntheticBold.
func distance(wantWeight css.FontWeight, wantStyle common.FontStyle, f Face, policy config.FontPolicy) (int, bool) {
	weightDelta := int(wantWeight) - int(f.Weight)
	if weightDelta < 0 {
		weightDelta = -weightDelta
	}
	styleMismatch := wantStyle != f.Style
	synthesizable := true
	if styleMismatch {
		switch wantStyle {
		case common.FontStyleItalic:
			synthesizable = policy.SyntheticItalic
		default:
			synthesizable = true
		}
	}
	if wantWeight.IsBold() && !f.Weight.IsBold() && !policy.SyntheticBold {
		synthesizable = false
	}
	const stylePenalty = 150
	d := weightDelta
	if styleMismatch {
		d += stylePenalty
	}
	return d, synthesizable
}

// Resolve implements the full §4.7 algorithm: normalize/dedupe the family
// list, walk each family's registered faces in nearest-distance order,
// rejecting candidates that violate policy, and guaranteeing a resolution
// via the built-in family on exhaustion.
func (r *Resolver) Resolve(families []string, weight css.FontWeight, style common.FontStyle) Result {
	ordered := normalizeFamilies(families)
	ordered = append(ordered, normalizeFamilies(r.policy.PreferredFamilies)...)

	var trace []Trace

	for _, family := range ordered {
		candidates := append([]Face(nil), r.registry.faces[strings.ToLower(family)]...)
		if len(candidates) == 0 {
			trace = append(trace, Trace{Family: family, Reason: common.ReasonMissingGlyph})
			continue
		}

		type scored struct {
			face Face
			d    int
			ok   bool
		}
		ranked := make([]scored, 0, len(candidates))
		for _, c := range candidates {
			d, synthesizable := distance(weight, style, c, r.policy)
			ranked = append(ranked, scored{face: c, d: d, ok: synthesizable})
		}
		sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].d < ranked[j].d })

		for _, cand := range ranked {
			if !cand.ok {
				trace = append(trace, Trace{Family: family, Reason: common.ReasonWeightUnavailable})
				continue
			}
			if r.policy.MaxFaceBytes > 0 && cand.face.SizeBytes > r.policy.MaxFaceBytes {
				trace = append(trace, Trace{Family: family, Reason: common.ReasonPolicyClamp})
				continue
			}
			if cand.face.Embedded && !r.policy.AllowEmbeddedFonts {
				trace = append(trace, Trace{Family: family, Reason: common.ReasonEmbeddedDisallowed})
				continue
			}
			trace = append(trace, Trace{Family: family, Accepted: true})
			r.log.Debug("resolved font",
				zap.String("family", family),
				zap.String("font_id", string(cand.face.ID)))
			return Result{FontID: cand.face.ID, ResolvedFamily: family, Trace: trace}
		}
	}

	// Step 5: built-in family always resolves.
	builtin := r.registry.builtin
	trace = append(trace, Trace{Family: builtin.Family, Accepted: true})
	r.log.Debug("resolved to built-in fallback font", zap.String("family", builtin.Family))
	return Result{FontID: builtin.ID, ResolvedFamily: builtin.Family, Trace: trace}
}
