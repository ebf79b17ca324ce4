package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/opensource-finance/kestrel/internal/domain"
	"github.com/spf13/cobra"
)

func analyzeCmd() *cobra.Command {
	var (
		full      bool
		narrative bool
		asJSON    bool
	)

	cmd := &cobra.Command{
		Use:   "analyze <alert.json>",
		Short: "Screen an alert file against the rule engine",
		Long: `Reads an alert from a JSON file ("-" for stdin) and prints the rule
findings. --full also runs the model analysis and prints the report;
--narrative drafts the SAR narrative instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			alert, err := readAlert(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}

			c, err := buildCore(cfg)
			if err != nil {
				return err
			}
			defer c.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			switch {
			case full:
				return writeIndented(out, c.processor.Process(ctx, alert, ""))
			case narrative:
				report, err := c.processor.Narrate(ctx, alert)
				if err != nil {
					return err
				}
				return writeIndented(out, report)
			}

			findings := c.processor.Findings(ctx, alert)
			if asJSON {
				return writeIndented(out, findings)
			}
			if len(findings) == 0 {
				fmt.Fprintln(out, "No findings.")
				return nil
			}
			for _, f := range findings {
				fmt.Fprintf(out, "[%s] %s\n", f.Severity, f.Message)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&full, "full", false, "run the model analysis and print the full report")
	cmd.Flags().BoolVar(&narrative, "narrative", false, "draft the SAR narrative")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print findings as JSON")
	cmd.MarkFlagsMutuallyExclusive("full", "narrative")

	return cmd
}

func readAlert(stdin io.Reader, path string) (*domain.Alert, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read alert: %w", err)
	}

	var alert domain.Alert
	if err := json.Unmarshal(data, &alert); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidAlert, err)
	}
	if err := alert.Validate(); err != nil {
		return nil, err
	}
	return &alert, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
