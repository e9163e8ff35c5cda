package engine

import (
	"encoding/json"

	"github.com/mehrguard/mehrguard/internal/brand"
	"github.com/mehrguard/mehrguard/internal/ensemble"
	"github.com/mehrguard/mehrguard/internal/reason"
)

// Verdict is the final classification.
type Verdict string

const (
	VerdictSafe       Verdict = "SAFE"
	VerdictSuspicious Verdict = "SUSPICIOUS"
	VerdictMalicious  Verdict = "MALICIOUS"
	VerdictUnknown    Verdict = "UNKNOWN"
)

// rank orders verdicts by severity; UNKNOWN ranks lowest.
func (v Verdict) rank() int {
	switch v {
	case VerdictSafe:
		return 1
	case VerdictSuspicious:
		return 2
	case VerdictMalicious:
		return 3
	default:
		return 0
	}
}

// Assessment is the result of one analysis. It is built fresh per call and
// never shared.
type Assessment struct {
	Score           int              `json:"score"`
	Verdict         Verdict          `json:"verdict"`
	Flags           []reason.Code    `json:"flags"`
	Confidence      float64          `json:"confidence"`
	HeuristicScore  int              `json:"heuristicScore"`
	MLScore         int              `json:"mlScore"`
	BrandScore      int              `json:"brandScore"`
	TLDScore        int              `json:"tldScore"`
	Details         *Details         `json:"details,omitempty"`
	Counterfactuals []Counterfactual `json:"counterfactuals,omitempty"`
}

// Details carries diagnostics behind the headline numbers.
type Details struct {
	Input             string               `json:"input,omitempty"`
	Error             string               `json:"error,omitempty"`
	CanonicalURL      string               `json:"canonicalUrl,omitempty"`
	Host              string               `json:"host,omitempty"`
	DisplayHost       string               `json:"displayHost,omitempty"`
	RegistrableDomain string               `json:"registrableDomain,omitempty"`
	EffectiveTLD      string               `json:"effectiveTld,omitempty"`
	Rules             []string             `json:"rules,omitempty"`
	Brand             *brand.Match         `json:"brand,omitempty"`
	ML                *ensemble.Prediction `json:"ml,omitempty"`
	TablesVersion     int                  `json:"tablesVersion,omitempty"`
	Escalated         bool                 `json:"escalated,omitempty"`
}

// Counterfactual is the outcome had one flag not fired.
type Counterfactual struct {
	Flag    reason.Code `json:"flag"`
	Score   int         `json:"score"`
	Verdict Verdict     `json:"verdict"`
	Delta   int         `json:"delta"`
}

// JSON returns the canonical encoding of a. Equal assessments encode to
// identical bytes.
func (a Assessment) JSON() ([]byte, error) {
	return json.Marshal(a)
}

// HasFlag reports whether code fired.
func (a Assessment) HasFlag(code reason.Code) bool {
	for _, f := range a.Flags {
		if f == code {
			return true
		}
	}
	return false
}
