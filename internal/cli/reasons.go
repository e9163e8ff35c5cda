package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mehrguard/mehrguard/internal/reason"
)

func newReasonsCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "reasons",
		Short: "List every reason code the engine can report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			outFmt, err := resolveFormat(cmd, format)
			if err != nil {
				return err
			}
			all := reason.All()
			if outFmt == formatJSON {
				return printJSON(cmd, all)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "CODE\tSEVERITY\tCATEGORY\tPOINTS\tTITLE")
			for _, info := range all {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", info.Code, info.Severity, info.Category, info.Points, info.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVarP(&format, "format", "o", "", "Output format: json|text")
	return cmd
}
