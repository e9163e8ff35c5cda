package engine

// VoteVerdict is an alternate verdict strategy: each enabled component
// votes by placing its own 0..100 score in cfg's threshold bands, and the
// most common vote wins, ties going to the more severe verdict. Analyze
// never uses it.
func VoteVerdict(a Assessment, cfg *Config) Verdict {
	if a.Verdict == VerdictUnknown {
		return VerdictUnknown
	}
	if cfg == nil {
		cfg = DefaultConfig()
	}
	scores := []int{a.HeuristicScore}
	if cfg.MLEnabled() {
		scores = append(scores, a.MLScore)
	}
	if cfg.BrandDetectionEnabled() {
		scores = append(scores, a.BrandScore)
	}
	if cfg.TLDScoringEnabled() {
		scores = append(scores, a.TLDScore)
	}

	counts := make(map[Verdict]int, 3)
	for _, s := range scores {
		counts[cfg.Verdict(s)]++
	}
	best, bestN := VerdictSafe, -1
	for _, v := range []Verdict{VerdictSafe, VerdictSuspicious, VerdictMalicious} {
		if n := counts[v]; n > bestN || (n == bestN && n > 0 && v.rank() > best.rank()) {
			best, bestN = v, n
		}
	}
	return best
}

// Votes returns the per-component votes VoteVerdict counts, keyed by
// component name.
func Votes(a Assessment, cfg *Config) map[string]Verdict {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := map[string]Verdict{"heuristic": cfg.Verdict(a.HeuristicScore)}
	if cfg.MLEnabled() {
		out["ml"] = cfg.Verdict(a.MLScore)
	}
	if cfg.BrandDetectionEnabled() {
		out["brand"] = cfg.Verdict(a.BrandScore)
	}
	if cfg.TLDScoringEnabled() {
		out["tld"] = cfg.Verdict(a.TLDScore)
	}
	return out
}
