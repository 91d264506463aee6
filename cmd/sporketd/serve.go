package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/sporket-dev/sporket/pkg/bus"
	"github.com/sporket-dev/sporket/pkg/busaudit"
	"github.com/sporket-dev/sporket/pkg/busmetrics"
	"github.com/sporket-dev/sporket/pkg/bustrace"
)

func serveCmd() *cobra.Command {
	var (
		hostname   string
		port       int
		path       string
		password   string
		auditBucket string
		auditPrefix string
		metricsNS  string
		traceName  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the Sporket server",
		Long: `serve starts the WebSocket message bus and blocks until it
receives SIGINT or SIGTERM, at which point it runs the graceful
shutdown sequence: notify every client, wait, disconnect everyone,
wait again, then stop accepting connections.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := bus.DefaultServerConfig()
			cfg.Hostname = hostname
			cfg.Port = port
			cfg.Path = path
			cfg.Password = password

			metrics := busmetrics.New(busmetrics.WithNamespace(metricsNS))
			cfg.Metrics = metrics
			cfg.Tracer = bustrace.New(traceName)

			if auditBucket != "" {
				awsCfg, err := config.LoadDefaultConfig(cmd.Context())
				if err != nil {
					return fmt.Errorf("load aws config: %w", err)
				}
				cfg.AuditSink = busaudit.NewS3Sink(s3.NewFromConfig(awsCfg), auditBucket, auditPrefix)
				info("audit sink: s3://%s/%s", auditBucket, auditPrefix)
			}

			server := bus.New(cfg)

			server.OnClientConnect(func(c *bus.ServerClient) {
				info("client connected: %s", c.UUID)
			})
			server.OnClientDisconnect(func(c *bus.ServerClient) {
				info("client disconnected: %s", c.UUID)
			})

			printBanner()
			success("listening on %s:%d%s", cfg.Hostname, cfg.Port, cfg.Path)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Listen() }()

			sig := make(chan os.Signal, 1)
			signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

			select {
			case err := <-errCh:
				return err
			case <-sig:
				warn("shutting down...")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := server.Close(ctx); err != nil {
					return err
				}
				success("shutdown complete")
				return nil
			}
		},
	}

	cmd.Flags().StringVar(&hostname, "hostname", "localhost", "address to bind")
	cmd.Flags().IntVar(&port, "port", 9000, "port to listen on")
	cmd.Flags().StringVar(&path, "path", "/", "WebSocket upgrade path")
	cmd.Flags().StringVar(&password, "password", "", "shared secret; defaults to SPORKET_PASSWORD")
	cmd.Flags().StringVar(&auditBucket, "audit-bucket", "", "S3 bucket for connection audit events (disabled if empty)")
	cmd.Flags().StringVar(&auditPrefix, "audit-prefix", "sporket-audit/", "key prefix for audit events")
	cmd.Flags().StringVar(&metricsNS, "metrics-namespace", "sporket", "Prometheus metrics namespace")
	cmd.Flags().StringVar(&traceName, "trace-name", "sporket", "OpenTelemetry tracer name")

	return cmd
}
