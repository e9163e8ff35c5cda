package explain

import (
	"fmt"
	"strings"

	"github.com/mehrguard/mehrguard/internal/reason"
)

// FormatMarkdown renders an enriched assessment as markdown.
func FormatMarkdown(e Enriched) string {
	var sb strings.Builder
	a := e.Assessment

	target := "(unparsed input)"
	if a.Details != nil && a.Details.DisplayHost != "" {
		target = a.Details.DisplayHost
	}
	sb.WriteString(fmt.Sprintf("# URL Report: %s\n", target))
	sb.WriteString(fmt.Sprintf("**Verdict:** %s | **Recommendation:** %s\n\n", a.Verdict, e.Recommendation))
	sb.WriteString(e.Summary)
	sb.WriteString("\n\n")

	sb.WriteString("## Scores\n")
	sb.WriteString("| Component | Score |\n")
	sb.WriteString("|-----------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Overall | %d |\n", a.Score))
	sb.WriteString(fmt.Sprintf("| Heuristic | %d |\n", a.HeuristicScore))
	sb.WriteString(fmt.Sprintf("| Model | %d |\n", a.MLScore))
	sb.WriteString(fmt.Sprintf("| Brand | %d |\n", a.BrandScore))
	sb.WriteString(fmt.Sprintf("| TLD | %d |\n", a.TLDScore))
	sb.WriteString(fmt.Sprintf("| Confidence | %.2f |\n", a.Confidence))
	sb.WriteString("\n")

	if len(e.Findings) > 0 {
		sb.WriteString("## Findings\n")
		for _, f := range e.Findings {
			sb.WriteString(fmt.Sprintf("%s **%s** (`%s`) - %s\n", severityIcon(f.Severity), f.Title, f.Code, f.Description))
		}
		sb.WriteString("\n")
	}

	if len(a.Counterfactuals) > 0 {
		sb.WriteString("## What Drove The Score\n")
		sb.WriteString("| Without | Score | Verdict | Change |\n")
		sb.WriteString("|---------|-------|---------|--------|\n")
		for _, cf := range a.Counterfactuals {
			sb.WriteString(fmt.Sprintf("| `%s` | %d | %s | %+d |\n", cf.Flag, cf.Score, cf.Verdict, cf.Delta))
		}
		sb.WriteString("\n")
	}

	sb.WriteString("## Tips\n")
	for _, t := range e.Tips {
		sb.WriteString("- ")
		sb.WriteString(t)
		sb.WriteString("\n")
	}
	return sb.String()
}

func severityIcon(s reason.Severity) string {
	switch s {
	case reason.SeverityCritical:
		return "[CRITICAL]"
	case reason.SeverityHigh:
		return "[HIGH]"
	case reason.SeverityMedium:
		return "[MEDIUM]"
	case reason.SeverityLow:
		return "[LOW]"
	default:
		return "[INFO]"
	}
}
