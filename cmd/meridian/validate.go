package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/meridianhq/meridian/internal/logger"
)

func newValidateCmd(verbose *bool) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check catalog connectivity and credentials end to end.",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.New(*verbose)
			cfg := loadEnvConfig()

			application, err := buildApp(log, cfg)
			if err != nil {
				return err
			}

			v := application.Catalog.ValidateConnection(cmd.Context())

			fmt.Printf("auth configured:        %s\n", checkmark(v.AuthConfigured))
			fmt.Printf("token acquired:         %s\n", checkmark(v.TokenAcquired))
			fmt.Printf("API accessible:         %s\n", checkmark(v.APIAccessible))
			fmt.Printf("collections accessible: %s (%d found)\n", checkmark(v.CollectionsAccessible), v.CollectionCount)
			fmt.Printf("language model:         %s\n", checkmark(application.AIEnabled))

			for _, w := range v.Warnings {
				fmt.Printf("warning: %s\n", w)
			}
			for _, e := range v.Errors {
				fmt.Printf("error: %s\n", e)
			}
			if len(v.Errors) > 0 {
				return fmt.Errorf("connection validation failed")
			}
			return nil
		},
	}
}

func checkmark(ok bool) string {
	if ok {
		return "ok"
	}
	return "no"
}
