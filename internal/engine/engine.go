// Package engine combines the heuristic, brand, TLD and model signals for
// a URL into one scored, explained assessment.
package engine

import (
	"context"
	"io"
	"log/slog"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/mehrguard/mehrguard/internal/brand"
	"github.com/mehrguard/mehrguard/internal/canonical"
	"github.com/mehrguard/mehrguard/internal/ensemble"
	"github.com/mehrguard/mehrguard/internal/features"
	"github.com/mehrguard/mehrguard/internal/reason"
	"github.com/mehrguard/mehrguard/internal/tables"
	"github.com/mehrguard/mehrguard/internal/tld"
)

// MLHighRiskProbability is the model probability at which ML_HIGH_RISK
// is flagged.
const MLHighRiskProbability = 0.75

// Engine is stateless between calls and safe for concurrent use. Each
// analysis reads the active tables once and uses them throughout.
type Engine struct {
	tables *tables.Store
	model  *ensemble.Model
	cfg    *Config
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTables analyzes against store's active snapshot.
func WithTables(store *tables.Store) Option {
	return func(e *Engine) { e.tables = store }
}

// WithConfig sets the configuration Analyze uses.
func WithConfig(cfg *Config) Option {
	return func(e *Engine) { e.cfg = cfg }
}

// WithModel replaces the bundled ensemble.
func WithModel(m *ensemble.Model) Option {
	return func(e *Engine) { e.model = m }
}

// WithLogger sets the logger. Nil disables logging.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New returns an engine over the bundled tables and model with
// DefaultConfig unless options say otherwise.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, o := range opts {
		o(e)
	}
	if e.tables == nil {
		e.tables = tables.NewStore(nil)
	}
	if e.model == nil {
		e.model = ensemble.Default()
	}
	if e.cfg == nil {
		e.cfg = DefaultConfig()
	}
	if e.logger == nil {
		e.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return e
}

// Config returns the engine's default configuration.
func (e *Engine) Config() *Config { return e.cfg }

// Tables returns the table store the engine reads.
func (e *Engine) Tables() *tables.Store { return e.tables }

// Analyze scores raw with the engine's configuration. It never fails:
// input that cannot be parsed yields an UNKNOWN assessment.
func (e *Engine) Analyze(raw string) Assessment {
	return e.analyze(raw, e.cfg, e.tables.Current())
}

// AnalyzeWith scores raw with cfg, or the engine's configuration when cfg
// is nil.
func (e *Engine) AnalyzeWith(raw string, cfg *Config) Assessment {
	if cfg == nil {
		cfg = e.cfg
	}
	return e.analyze(raw, cfg, e.tables.Current())
}

// AnalyzeBatch analyzes urls on up to workers goroutines and returns the
// assessments in input order. Every URL in a batch sees the same tables.
// workers <= 0 means GOMAXPROCS.
func (e *Engine) AnalyzeBatch(ctx context.Context, urls []string, workers int, cfg *Config) ([]Assessment, error) {
	if cfg == nil {
		cfg = e.cfg
	}
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	snap := e.tables.Current()
	out := make([]Assessment, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, raw := range urls {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			out[i] = e.analyze(raw, cfg, snap)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// signals holds the per-component results of one analysis.
type signals struct {
	heuristicCodes []reason.Code
	heuristic      int
	ml             ensemble.Prediction
	mlOn           bool
	brand          int
	brandCodes     []reason.Code
	tld            int
	tldFlag        bool
}

func (e *Engine) analyze(raw string, cfg *Config, snap *tables.Snapshot) Assessment {
	u, err := canonical.Parse(raw)
	if err != nil {
		e.logger.Debug("url rejected", "error", err)
		return Assessment{
			Verdict: VerdictUnknown,
			Flags:   []reason.Code{reason.Unparseable},
			Details: &Details{Error: err.Error()},
		}
	}

	var s signals
	h := cfg.scorer.WithLists(snap.Lists).Score(u)
	s.heuristicCodes, s.heuristic = h.Codes, h.Score

	var bm *brand.Match
	if cfg.BrandDetectionEnabled() {
		br := snap.Brands.Match(u)
		s.brand, s.brandCodes, bm = br.Score, br.Codes, br.Match
	}
	if cfg.TLDScoringEnabled() && !u.IsIP && u.EffectiveTLD() != "" {
		s.tld = snap.TLDs.Weight(u.EffectiveTLD())
		s.tldFlag = s.tld >= tld.SuspiciousWeight
	}
	var pred *ensemble.Prediction
	if cfg.MLEnabled() {
		x := features.NewVectorizer(snap.Lists, snap.TLDs).Vectorize(u)
		p := e.model.Predict(x)
		s.ml, s.mlOn, pred = p, true, &p
	}

	flags := s.flags()
	score := combine(cfg, s.heuristic, s.mlProbability(), s.brand, s.tld)
	score, verdict, escalated := decide(cfg, score, flags)

	a := Assessment{
		Score:          score,
		Verdict:        verdict,
		Flags:          flags,
		Confidence:     confidence(s, verdict, flags),
		HeuristicScore: s.heuristic,
		BrandScore:     s.brand,
		TLDScore:       s.tld,
		Details: &Details{
			CanonicalURL:      u.String(),
			Host:              u.Host,
			DisplayHost:       u.DisplayHost(),
			RegistrableDomain: u.RegistrableDomain(),
			EffectiveTLD:      u.EffectiveTLD(),
			Rules:             h.Rules,
			Brand:             bm,
			ML:                pred,
			TablesVersion:     snap.Version,
			Escalated:         escalated,
		},
	}
	if s.mlOn {
		a.MLScore = clampScore(math.Round(s.ml.Probability * 100))
	}
	if cfg.CounterfactualsEnabled() {
		a.Counterfactuals = counterfactuals(cfg, s, flags, score)
	}
	e.logger.Debug("url analyzed",
		"domain", u.RegistrableDomain(), "score", a.Score, "verdict", a.Verdict, "flags", len(flags))
	return a
}

func (s signals) mlProbability() float64 {
	if !s.mlOn {
		return 0
	}
	return s.ml.Probability
}

// flags lists fired codes: heuristic, brand, TLD, then model, without
// duplicates.
func (s signals) flags() []reason.Code {
	out := make([]reason.Code, 0, len(s.heuristicCodes)+3)
	seen := make(map[reason.Code]bool)
	add := func(c reason.Code) {
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	for _, c := range s.heuristicCodes {
		add(c)
	}
	for _, c := range s.brandCodes {
		add(c)
	}
	if s.tldFlag {
		add(reason.SuspiciousTLD)
	}
	if s.mlOn && s.ml.Valid && s.ml.Probability >= MLHighRiskProbability {
		add(reason.MLHighRisk)
	}
	return out
}

// combine is the weighted sum of component scores, rounded and clamped.
func combine(cfg *Config, heuristic int, mlProb float64, brandScore, tldScore int) int {
	wh, wm, wb, wt := cfg.effectiveWeights()
	v := wh*float64(heuristic) + wm*mlProb*100 + wb*float64(brandScore) + wt*float64(tldScore)
	return clampScore(math.Round(v))
}

// decide maps score to a verdict. Any critical flag forces MALICIOUS and
// lifts the score to the malicious band.
func decide(cfg *Config, score int, flags []reason.Code) (int, Verdict, bool) {
	verdict := cfg.Verdict(score)
	if verdict == VerdictMalicious || !hasCritical(flags) {
		return score, verdict, false
	}
	if score < cfg.SuspiciousThreshold() {
		score = cfg.SuspiciousThreshold()
	}
	return score, VerdictMalicious, true
}

func hasCritical(flags []reason.Code) bool {
	for _, f := range flags {
		if f.Critical() {
			return true
		}
	}
	return false
}

// confidence blends model confidence, heuristic/model agreement and how
// many independent components fired.
func confidence(s signals, verdict Verdict, flags []reason.Code) float64 {
	ens, agreement := 0.5, 0.5
	if s.mlOn && s.ml.Valid {
		ens = s.ml.Confidence
		agreement = 1 - math.Abs(float64(s.heuristic)/100-s.ml.Probability)
	}

	sources := 0
	for _, fired := range []bool{
		len(s.heuristicCodes) > 0,
		len(s.brandCodes) > 0,
		s.tldFlag,
		s.mlOn && s.ml.Valid && s.ml.Probability >= MLHighRiskProbability,
	} {
		if fired {
			sources++
		}
	}
	var signal float64
	switch {
	case verdict == VerdictSafe && len(flags) == 0:
		signal = 1
	case verdict == VerdictSafe:
		signal = 0.5
	default:
		signal = math.Min(1, float64(sources)/3)
	}

	c := 0.5*ens + 0.3*agreement + 0.2*signal
	c = math.Max(0, math.Min(1, c))
	return math.Round(c*1e4) / 1e4
}

// counterfactuals reports, for each flag carrying points, the score and
// verdict had that flag alone not fired.
func counterfactuals(cfg *Config, s signals, flags []reason.Code, score int) []Counterfactual {
	var out []Counterfactual
	for _, f := range flags {
		if f.Points() == 0 {
			continue
		}
		h, b, t := s.heuristic, s.brand, s.tld
		switch {
		case contains(s.heuristicCodes, f):
			h = heuristicWithout(s.heuristicCodes, f)
		case contains(s.brandCodes, f):
			b = 0
		case f == reason.SuspiciousTLD:
			t = tld.DefaultWeight
		default:
			continue
		}
		rest := make([]reason.Code, 0, len(flags)-1)
		for _, g := range flags {
			if g != f {
				rest = append(rest, g)
			}
		}
		cs, cv, _ := decide(cfg, combine(cfg, h, s.mlProbability(), b, t), rest)
		out = append(out, Counterfactual{Flag: f, Score: cs, Verdict: cv, Delta: cs - score})
	}
	return out
}

func heuristicWithout(codes []reason.Code, drop reason.Code) int {
	sum := 0
	for _, c := range codes {
		if c != drop {
			sum += c.Points()
		}
	}
	if sum > 100 {
		sum = 100
	}
	return sum
}

func contains(codes []reason.Code, c reason.Code) bool {
	for _, x := range codes {
		if x == c {
			return true
		}
	}
	return false
}

func clampScore(v float64) int {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 100:
		return 100
	default:
		return int(v)
	}
}
