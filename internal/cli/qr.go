package cli

import (
	"fmt"
	"strings"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func newQRCmd() *cobra.Command {
	var (
		ef     engineFlags
		png    string
		size   int
		level  string
		invert bool
	)
	cmd := &cobra.Command{
		Use:   "qr URL",
		Short: "Render a URL as a QR code together with its verdict",
		Long: `Render URL as a QR code and print the verdict the engine gives it.
Useful for building phishing-awareness and red-team fixtures: the printed
verdict records what a scanner should conclude about the code.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl, err := parseRecoveryLevel(level)
			if err != nil {
				return err
			}
			le, err := ef.build(cmd)
			if err != nil {
				return err
			}
			defer le.Close()

			a := le.engine.Analyze(args[0])
			out := cmd.OutOrStdout()
			if png != "" {
				if err := qrcode.WriteFile(args[0], lvl, size, png); err != nil {
					return fmt.Errorf("write qr png: %w", err)
				}
				fmt.Fprintf(out, "wrote %s\n", png)
			} else {
				qr, err := qrcode.New(args[0], lvl)
				if err != nil {
					return fmt.Errorf("generate qr code: %w", err)
				}
				fmt.Fprint(out, qr.ToSmallString(invert))
			}
			return writeText(out, args[0], a, false)
		},
	}
	ef.register(cmd)
	cmd.Flags().StringVar(&png, "png", "", "Write a PNG to this path instead of printing to the terminal")
	cmd.Flags().IntVar(&size, "size", 256, "PNG width and height in pixels")
	cmd.Flags().StringVar(&level, "level", "medium", "Error recovery level: low|medium|high|highest")
	cmd.Flags().BoolVar(&invert, "invert", false, "Invert colours for light-on-dark terminals")
	return cmd
}

func parseRecoveryLevel(s string) (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(s) {
	case "low":
		return qrcode.Low, nil
	case "medium", "":
		return qrcode.Medium, nil
	case "high":
		return qrcode.High, nil
	case "highest":
		return qrcode.Highest, nil
	default:
		return 0, fmt.Errorf("invalid --level %q", s)
	}
}
