package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func NewRoot(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "mehrguard",
		Short:         "mehrguard: offline, explainable URL risk analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.SetVersionTemplate("mehrguard {{.Version}}\n")

	cmd.PersistentFlags().String("config", getenvDefault("MEHRGUARD_CONFIG", ""), "Config file (default: ./mehrguard.yml or /etc/mehrguard/config.yaml)")

	cmd.AddCommand(newAnalyzeCmd())
	cmd.AddCommand(newBatchCmd())
	cmd.AddCommand(newReasonsCmd())
	cmd.AddCommand(newTablesCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newQRCmd())
	cmd.AddCommand(newConfigCmd())

	return cmd
}

func configPath(cmd *cobra.Command) string {
	p, _ := cmd.Root().PersistentFlags().GetString("config")
	return p
}

func getenvDefault(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
