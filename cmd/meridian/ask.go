package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/meridianhq/meridian/internal/format"
	"github.com/meridianhq/meridian/internal/logger"
	"github.com/meridianhq/meridian/internal/pipeline"
)

func newAskCmd(verbose *bool) *cobra.Command {
	var (
		depth     string
		showTable bool
	)

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Run a one-shot analysis and print the answer.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")

			log := logger.New(*verbose)
			cfg := loadEnvConfig()

			application, err := buildApp(log, cfg)
			if err != nil {
				return err
			}

			formatter, err := format.NewFormatter(format.Config{Logger: log, Options: format.DefaultOptions()})
			if err != nil {
				return fmt.Errorf("failed to create formatter: %w", err)
			}

			result := application.Engine.Analyze(cmd.Context(), question, pipeline.ParseDepth(depth))

			fmt.Println(formatter.FormatAnalysis(result))

			if showTable && len(result.Data) > 0 {
				var columns []string
				if len(result.QueryResults) > 0 {
					columns = result.QueryResults[0].Columns
				}
				fmt.Println()
				fmt.Println(formatter.RenderTable(result.Data, columns))
			}

			if !result.Success {
				return fmt.Errorf("analysis failed: %s", result.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&depth, "depth", "standard", "analysis depth: standard, deep, or extensive")
	cmd.Flags().BoolVar(&showTable, "table", false, "print the result rows as a table")

	return cmd
}
