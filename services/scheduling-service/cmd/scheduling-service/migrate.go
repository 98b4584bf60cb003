package main

import (
	"fmt"

	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/migrations"
	"github.com/spf13/cobra"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the embedded database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := runtime.SignalContext()
			defer stop()

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := migrations.Apply(ctx, pool.Pool)
			if err != nil {
				return err
			}
			for _, name := range applied {
				fmt.Fprintln(cmd.OutOrStdout(), "applied", name)
			}
			return nil
		},
	}
}
