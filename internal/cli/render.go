package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/explain"
	"github.com/mehrguard/mehrguard/internal/reason"
)

const (
	formatJSON     = "json"
	formatText     = "text"
	formatMarkdown = "markdown"
)

// resolveFormat defaults to text on a terminal and JSON otherwise.
func resolveFormat(cmd *cobra.Command, format string) (string, error) {
	switch strings.ToLower(format) {
	case "":
		if isTerminal(cmd.OutOrStdout()) {
			return formatText, nil
		}
		return formatJSON, nil
	case formatJSON, formatText, formatMarkdown:
		return strings.ToLower(format), nil
	case "md":
		return formatMarkdown, nil
	default:
		return "", fmt.Errorf("unsupported format %q (want json|text|markdown)", format)
	}
}

// urlResult is one line of JSON output.
type urlResult struct {
	URL    string `json:"url"`
	Result any    `json:"result"`
}

func jsonResult(raw string, a engine.Assessment, withExplanation bool) urlResult {
	if withExplanation {
		return urlResult{URL: raw, Result: explain.Enrich(a)}
	}
	return urlResult{URL: raw, Result: a}
}

func printJSON(cmd *cobra.Command, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(b))
	return err
}

// writeJSONLine writes v compactly on one line.
func writeJSONLine(w io.Writer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func writeText(w io.Writer, raw string, a engine.Assessment, detailed bool) error {
	e := explain.Enrich(a)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "URL\t%s\n", raw)
	fmt.Fprintf(tw, "Verdict\t%s (score %d/100, confidence %.2f)\n", a.Verdict, a.Score, a.Confidence)
	if len(a.Flags) > 0 {
		fmt.Fprintf(tw, "Flags\t%s\n", joinCodes(a.Flags))
	}
	fmt.Fprintf(tw, "Advice\t%s\n", e.Recommendation)
	fmt.Fprintf(tw, "Summary\t%s\n", e.Summary)
	if err := tw.Flush(); err != nil {
		return err
	}
	if !detailed {
		return nil
	}

	if len(e.Findings) > 0 {
		fmt.Fprintln(w, "\nFindings:")
		for _, f := range e.Findings {
			fmt.Fprintf(w, "  [%s] %s: %s\n", strings.ToUpper(string(f.Severity)), f.Title, f.Description)
		}
	}
	if len(a.Counterfactuals) > 0 {
		fmt.Fprintln(w, "\nWithout each flag:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, cf := range a.Counterfactuals {
			fmt.Fprintf(tw, "  %s\t%d\t%s\t%+d\n", cf.Flag, cf.Score, cf.Verdict, cf.Delta)
		}
		if err := tw.Flush(); err != nil {
			return err
		}
	}
	fmt.Fprintln(w, "\nTips:")
	for _, tip := range e.Tips {
		fmt.Fprintf(w, "  - %s\n", tip)
	}
	return nil
}

func joinCodes(codes []reason.Code) string {
	parts := make([]string, len(codes))
	for i, c := range codes {
		parts[i] = string(c)
	}
	return strings.Join(parts, ", ")
}
