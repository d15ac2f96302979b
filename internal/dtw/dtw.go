// Package dtw implements the DTW-based similarity engine (spec §4.G,
// Component G): classic dynamic time warping with squared-Euclidean
// cell cost, the {(-1,0),(0,-1),(-1,-1)} step set at equal weight
// (the diagonal step is deliberately *not* doubled, so a self-vs-self
// alignment costs exactly 0), and diagonal-length path normalization.
//
// No DTW implementation appears anywhere in the retrieval pack, so
// this is hand-written directly against spec §4.G/§8's fully specified
// algorithm and invariants, using gonum.org/v1/gonum/floats for the
// per-cell distance accumulation instead of a hand-rolled loop.
package dtw

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/brushline/wildcall/internal/domain"
)

// Config controls the comparator's sensitivity and optional band
// constraint. The zero value is filled in by defaults().
type Config struct {
	// Scale is the sensitivity divisor in similarity = exp(-cost/Scale).
	// Chosen, per spec §4.G, so that self-pairs score above 0.95 (exact
	// for a true self-comparison, whose cost is always 0) and unrelated
	// pairs of typical 13-coefficient MFCC sequences score near 0.1.
	// Centralizing this here resolves spec §9's open question that the
	// reference implementation left the scale un-single-sourced.
	Scale float64
	// BandRadius constrains the warping path to a Sakoe-Chiba band of
	// this radius. Zero means unlimited (the default).
	BandRadius int
}

func (c *Config) defaults() {
	if c.Scale <= 0 {
		c.Scale = 45.0
	}
}

// Option configures a Comparator.
type Option func(*Config)

// WithScale overrides the similarity sensitivity.
func WithScale(scale float64) Option {
	return func(c *Config) { c.Scale = scale }
}

// WithBandRadius constrains the warping path to a Sakoe-Chiba band.
func WithBandRadius(radius int) Option {
	return func(c *Config) { c.BandRadius = radius }
}

// Comparator runs DTW comparisons under one fixed configuration. It
// holds no per-comparison state, so a single Comparator may be shared
// read-only across sessions of the same configuration.
type Comparator struct {
	cfg Config
}

// New creates a Comparator with the given options applied over the
// documented defaults.
func New(opts ...Option) *Comparator {
	cfg := Config{}
	cfg.defaults()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Comparator{cfg: cfg}
}

// Result is the outcome of one DTW comparison.
type Result struct {
	// Cost is the raw accumulated path cost, before normalization.
	Cost float64
	// NormalizedCost is Cost divided by sqrt(m^2+n^2).
	NormalizedCost float64
	// Similarity is exp(-NormalizedCost/Scale), clamped to [0,1].
	Similarity float64
}

// Compare runs dynamic time warping between query (m frames) and
// reference (n frames) feature sequences of equal dimension.
func (c *Comparator) Compare(query, reference []domain.FeatureVector) (Result, error) {
	m, n := len(query), len(reference)
	if m == 0 || n == 0 {
		return Result{}, domain.NewError(domain.StatusInsufficientData, "dtw: query and reference must be non-empty")
	}
	dim := len(query[0])
	for _, v := range query {
		if len(v) != dim {
			return Result{}, domain.NewError(domain.StatusInvalidParams, "dtw: query feature vectors have inconsistent dimension")
		}
	}
	for _, v := range reference {
		if len(v) != dim {
			return Result{}, domain.NewError(domain.StatusInvalidParams, "dtw: reference feature vectors have inconsistent dimension")
		}
	}
	if dim == 0 {
		return Result{}, domain.NewError(domain.StatusInvalidParams, "dtw: feature dimension must be positive")
	}

	q := toFloat64Rows(query)
	r := toFloat64Rows(reference)

	const inf = math.MaxFloat64
	dp := make([][]float64, m+1)
	for i := range dp {
		dp[i] = make([]float64, n+1)
		for j := range dp[i] {
			dp[i][j] = inf
		}
	}
	dp[0][0] = 0

	diff := make([]float64, dim)
	for i := 1; i <= m; i++ {
		for j := 1; j <= n; j++ {
			if !c.withinBand(i, j, m, n) {
				continue
			}
			floats.SubTo(diff, q[i-1], r[j-1])
			cost := floats.Dot(diff, diff)

			best := dp[i-1][j]
			if dp[i][j-1] < best {
				best = dp[i][j-1]
			}
			if dp[i-1][j-1] < best {
				best = dp[i-1][j-1]
			}
			if best == inf {
				continue
			}
			dp[i][j] = cost + best
		}
	}

	pathCost := dp[m][n]
	if pathCost == inf {
		// The band excluded every path to (m,n); report as insufficient
		// rather than a misleading +Inf similarity of 0.
		return Result{}, domain.NewError(domain.StatusInsufficientData, "dtw: band constraint excludes all warping paths")
	}

	normalized := pathCost / math.Sqrt(float64(m*m+n*n))
	similarity := domain.Clamp01(math.Exp(-normalized / c.cfg.Scale))

	return Result{
		Cost:           pathCost,
		NormalizedCost: normalized,
		Similarity:     similarity,
	}, nil
}

// withinBand reports whether cell (i,j) (1-indexed) lies within the
// configured Sakoe-Chiba band. A radius of 0 means unlimited. For
// sequences of unequal length the band center is scaled proportionally
// along the shorter axis, the standard generalization of Sakoe-Chiba
// banding to m != n.
func (c *Comparator) withinBand(i, j, m, n int) bool {
	if c.cfg.BandRadius <= 0 {
		return true
	}
	center := float64(j) * float64(m) / float64(n)
	return math.Abs(float64(i)-center) <= float64(c.cfg.BandRadius)
}

func toFloat64Rows(vs []domain.FeatureVector) [][]float64 {
	out := make([][]float64, len(vs))
	for i, v := range vs {
		row := make([]float64, len(v))
		for j, c := range v {
			row[j] = float64(c)
		}
		out[i] = row
	}
	return out
}
