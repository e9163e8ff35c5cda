package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mehrguard/mehrguard/internal/engine"
)

// maxBatchLine bounds one input line; longer lines cannot be URLs the
// engine would accept anyway.
const maxBatchLine = 64 * 1024

func newBatchCmd() *cobra.Command {
	var (
		ef          engineFlags
		format      string
		explainFlag bool
		failOnFlag  string
		workers     int
	)
	cmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Analyze URLs read one per line from FILE (- for stdin)",
		Long: `Analyze URLs read one per line from FILE. Blank lines and lines starting
with # are skipped. JSON output is one object per line, in input order.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := resolveFormat(cmd, format)
			if err != nil {
				return err
			}
			fail, err := parseFailOn(failOnFlag)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			urls, err := readURLs(in)
			if err != nil {
				return err
			}
			if len(urls) == 0 {
				return fmt.Errorf("%s: no URLs", args[0])
			}

			le, err := ef.build(cmd)
			if err != nil {
				return err
			}
			defer le.Close()
			if !cmd.Flags().Changed("workers") {
				workers = le.cfg.Server.Workers
			}

			results, err := le.engine.AnalyzeBatch(cmd.Context(), urls, workers, nil)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch outFmt {
			case formatJSON:
				for i, a := range results {
					if err := writeJSONLine(out, jsonResult(urls[i], a, explainFlag)); err != nil {
						return err
					}
				}
			case formatMarkdown:
				if err := renderAll(cmd, outFmt, urls, results, explainFlag); err != nil {
					return err
				}
			default:
				if err := writeBatchTable(out, urls, results); err != nil {
					return err
				}
			}
			writeBatchSummary(cmd.ErrOrStderr(), results)
			return verdictExit(fail, urls, results)
		},
	}
	ef.register(cmd)
	cmd.Flags().StringVarP(&format, "format", "o", "", "Output format: json|text|markdown (default: text on a terminal, else json)")
	cmd.Flags().BoolVar(&explainFlag, "explain", false, "Include findings and safety tips in JSON output")
	cmd.Flags().StringVar(&failOnFlag, "fail-on", "", "Exit 2 when any URL is at least this verdict: suspicious|malicious")
	cmd.Flags().IntVar(&workers, "workers", 0, "Concurrent analyses (default: server.workers, 0 means one per CPU)")
	return cmd
}

func readURLs(r io.Reader) ([]string, error) {
	var urls []string
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxBatchLine)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read urls: %w", err)
	}
	return urls, nil
}

func writeBatchTable(w io.Writer, urls []string, results []engine.Assessment) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "VERDICT\tSCORE\tURL\tFLAGS")
	for i, a := range results {
		u := urls[i]
		if r := []rune(u); len(r) > 60 {
			u = string(r[:59]) + "…"
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", a.Verdict, a.Score, u, joinCodes(a.Flags))
	}
	return tw.Flush()
}

func writeBatchSummary(w io.Writer, results []engine.Assessment) {
	counts := map[engine.Verdict]int{}
	for _, a := range results {
		counts[a.Verdict]++
	}
	fmt.Fprintf(w, "%d analyzed: %d safe, %d suspicious, %d malicious, %d unknown\n",
		len(results),
		counts[engine.VerdictSafe],
		counts[engine.VerdictSuspicious],
		counts[engine.VerdictMalicious],
		counts[engine.VerdictUnknown],
	)
}
