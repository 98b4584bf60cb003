package main

import (
	"encoding/json"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/config"
	otelx "github.com/md-rashed-zaman/clinicsched/libs/otel"
	"github.com/md-rashed-zaman/clinicsched/libs/runtime"
	"github.com/md-rashed-zaman/clinicsched/services/scheduling-service/internal/outbox"
	"github.com/spf13/cobra"
)

func dispatchCmd() *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "dispatch",
		Short: "Run one reminder batch and print the summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return err
				}
				now = parsed
			}

			service := config.String("SERVICE_NAME", "scheduling-service")
			logger := runtime.NewLogger(service)
			ctx, stop := runtime.SignalContext()
			defer stop()

			otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
			if err == nil {
				defer func() { _ = runtime.Shutdown(5*time.Second, otelShutdown) }()
			}

			pool, err := openPool(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			rdb := newRedis()
			if rdb != nil {
				defer rdb.Close()
			}

			summary, err := newDispatcher(pool, outbox.NewRepository(), rdb, logger).Dispatch(ctx, now)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(summary)
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "run as of this RFC3339 instant instead of now")
	return cmd
}
