package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mehrguard/mehrguard/internal/engine"
	"github.com/mehrguard/mehrguard/internal/explain"
)

func newAnalyzeCmd() *cobra.Command {
	var (
		ef          engineFlags
		format      string
		explainFlag bool
		failOnFlag  string
	)
	cmd := &cobra.Command{
		Use:   "analyze URL...",
		Short: "Score one or more URLs and explain the verdict",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := resolveFormat(cmd, format)
			if err != nil {
				return err
			}
			fail, err := parseFailOn(failOnFlag)
			if err != nil {
				return err
			}
			le, err := ef.build(cmd)
			if err != nil {
				return err
			}
			defer le.Close()

			results := make([]engine.Assessment, len(args))
			for i, raw := range args {
				results[i] = le.engine.Analyze(raw)
			}

			if err := renderAll(cmd, outFmt, args, results, explainFlag); err != nil {
				return err
			}
			return verdictExit(fail, args, results)
		},
	}
	ef.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "o", "", "Output format: json|text|markdown (default: text on a terminal, else json)")
	cmd.Flags().BoolVar(&explainFlag, "explain", false, "Include findings, counterfactuals and safety tips")
	cmd.Flags().StringVar(&failOnFlag, "fail-on", "", "Exit 2 when any URL is at least this verdict: suspicious|malicious")
	return cmd
}

func renderAll(cmd *cobra.Command, format string, urls []string, results []engine.Assessment, detailed bool) error {
	out := cmd.OutOrStdout()
	switch format {
	case formatJSON:
		if len(results) == 1 {
			return printJSON(cmd, jsonResult(urls[0], results[0], detailed).Result)
		}
		all := make([]urlResult, len(results))
		for i, a := range results {
			all[i] = jsonResult(urls[i], a, detailed)
		}
		return printJSON(cmd, all)
	case formatMarkdown:
		for i, a := range results {
			if i > 0 {
				fmt.Fprintln(out, "\n---")
			}
			fmt.Fprint(out, explain.FormatMarkdown(explain.Enrich(a)))
		}
		return nil
	default:
		for i, a := range results {
			if i > 0 {
				fmt.Fprintln(out)
			}
			if err := writeText(out, urls[i], a, detailed); err != nil {
				return err
			}
		}
		return nil
	}
}

// verdictExit returns an ExitError naming the first URL that trips fail.
func verdictExit(fail failOn, urls []string, results []engine.Assessment) error {
	tripped := 0
	first := -1
	for i, a := range results {
		if fail.trips(a.Verdict) {
			tripped++
			if first < 0 {
				first = i
			}
		}
	}
	if tripped == 0 {
		return nil
	}
	return exitWith(ExitVerdict, "%d of %d URLs at or above %s (first: %s is %s)",
		tripped, len(results), fail, urls[first], results[first].Verdict)
}
