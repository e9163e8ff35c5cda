// Package explain turns an engine assessment into text a person can act on.
// Everything here is a pure function of the assessment.
package explain

import (
	"fmt"
	"strings"

	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/reason"
)

// Recommendation is the advice attached to a verdict.
type Recommendation string

const (
	Proceed    Recommendation = "proceed"
	UseCaution Recommendation = "use caution"
	DoNotVisit Recommendation = "do not visit"
)

// MinTips is the fewest safety tips Enrich returns.
const MinTips = 2

// maxTips bounds the tip list so output stays readable.
const maxTips = 5

// maxSummaryReasons is how many findings the summary names.
const maxSummaryReasons = 3

// Finding explains one fired flag.
type Finding struct {
	Code        reason.Code     `json:"code"`
	Severity    reason.Severity `json:"severity"`
	Category    reason.Category `json:"category"`
	Title       string          `json:"title"`
	Description string          `json:"description"`
}

// Enriched is an assessment plus its human-readable explanation.
type Enriched struct {
	Assessment     engine.Assessment `json:"assessment"`
	Summary        string            `json:"summary"`
	Recommendation Recommendation    `json:"recommendation"`
	Severity       reason.Severity   `json:"severity"`
	Findings       []Finding         `json:"findings"`
	Tips           []string          `json:"tips"`
}

// Enrich explains a. Equal assessments produce equal output.
func Enrich(a engine.Assessment) Enriched {
	findings := findingsFor(a.Flags)
	return Enriched{
		Assessment:     a,
		Summary:        summarize(a, findings),
		Recommendation: Recommend(a.Verdict),
		Severity:       reason.HighestSeverity(a.Flags),
		Findings:       findings,
		Tips:           tipsFor(a.Verdict, findings),
	}
}

// Recommend maps a verdict to advice. UNKNOWN is treated with caution.
func Recommend(v engine.Verdict) Recommendation {
	switch v {
	case engine.VerdictSafe:
		return Proceed
	case engine.VerdictMalicious:
		return DoNotVisit
	default:
		return UseCaution
	}
}

func findingsFor(flags []reason.Code) []Finding {
	out := make([]Finding, 0, len(flags))
	for _, c := range flags {
		info, ok := reason.Lookup(c)
		if !ok {
			out = append(out, Finding{
				Code:        c,
				Severity:    reason.SeverityInfo,
				Title:       string(c),
				Description: "An unrecognised warning was reported for this link.",
			})
			continue
		}
		out = append(out, Finding{
			Code:        c,
			Severity:    info.Severity,
			Category:    info.Category,
			Title:       info.Title,
			Description: info.Explanation,
		})
	}
	return out
}

func summarize(a engine.Assessment, findings []Finding) string {
	subject := "This link"
	if a.Details != nil && a.Details.DisplayHost != "" {
		subject = fmt.Sprintf("The link to %s", a.Details.DisplayHost)
	}
	titles := topTitles(findings)

	switch a.Verdict {
	case engine.VerdictUnknown:
		return "This text could not be analysed as a web address, so it should not be opened."
	case engine.VerdictSafe:
		if len(titles) == 0 {
			return fmt.Sprintf("%s shows no warning signs (risk score %d/100).", subject, a.Score)
		}
		return fmt.Sprintf("%s looks safe overall but has minor warning signs: %s (risk score %d/100).",
			subject, titles, a.Score)
	case engine.VerdictSuspicious:
		if len(titles) == 0 {
			return fmt.Sprintf("%s looks unusual (risk score %d/100).", subject, a.Score)
		}
		return fmt.Sprintf("%s shows warning signs: %s (risk score %d/100).", subject, titles, a.Score)
	default:
		if len(titles) == 0 {
			return fmt.Sprintf("%s is very likely malicious (risk score %d/100).", subject, a.Score)
		}
		return fmt.Sprintf("%s is very likely malicious: %s (risk score %d/100).", subject, titles, a.Score)
	}
}

// topTitles names the most severe findings, keeping flag order among equals.
func topTitles(findings []Finding) string {
	var picked []string
	for w := reason.SeverityCritical.Weight(); w > reason.SeverityInfo.Weight() && len(picked) < maxSummaryReasons; w-- {
		for _, f := range findings {
			if f.Severity.Weight() == w && len(picked) < maxSummaryReasons {
				picked = append(picked, strings.ToLower(f.Title))
			}
		}
	}
	if len(picked) == 0 {
		return ""
	}
	if len(picked) == 1 {
		return picked[0]
	}
	return strings.Join(picked[:len(picked)-1], ", ") + " and " + picked[len(picked)-1]
}
