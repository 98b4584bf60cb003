package main

import (
	"context"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/clinicsched/libs/grpcx"
	"github.com/spf13/cobra"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// healthCmd queries the gRPC health service, for container health checks.
func healthCmd() *cobra.Command {
	var (
		addr    string
		service string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check a running instance through its gRPC health service",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			conn, err := grpcx.NewClient(addr, grpcx.ClientConfig{UserAgent: "scheduling-service-health"})
			if err != nil {
				return fmt.Errorf("connect %s: %w", addr, err)
			}
			defer conn.Close()

			resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: service})
			if err != nil {
				return err
			}
			if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
				return fmt.Errorf("%s is %s", addr, resp.GetStatus())
			}
			fmt.Fprintln(cmd.OutOrStdout(), resp.GetStatus())
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "localhost:9090", "gRPC address")
	cmd.Flags().StringVar(&service, "service", "", "service name to check; empty checks the server")
	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "overall timeout")
	return cmd
}
