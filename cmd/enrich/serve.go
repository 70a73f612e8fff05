package main

import (
	"github.com/spf13/cobra"

	"github.com/jackzampolin/enrich/internal/server"
)

var (
	serveHost string
	servePort string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the enrich server",
	Long: `Start the enrich HTTP server.

Jobs are started over HTTP and run in the background. Progress can also be
streamed to NATS and stored in Redis when progress.nats_url or
progress.redis_url are configured. Config file edits are picked up without
a restart.

The server provides:
  - /health                  - Basic server health check
  - /status                  - Providers and job counts
  - /api/jobs                - Start and list jobs
  - /api/jobs/{id}           - Job status and progress
  - /api/jobs/{id}/stop      - Stop a running job
  - /api/jobs/{id}/results   - Results of a completed job

Examples:
  enrich serve                    # Start on default port 8080
  enrich serve --port 3000        # Start on custom port
  enrich serve --host 0.0.0.0     # Bind to all interfaces`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := loadRuntime()
		if err != nil {
			return err
		}
		defer env.Close()

		cfg := env.config.Get()
		host, port := cfg.Server.Host, cfg.Server.Port
		if cmd.Flags().Changed("host") {
			host = serveHost
		}
		if cmd.Flags().Changed("port") {
			port = servePort
		}

		env.config.WatchConfig()

		srv, err := server.New(server.Config{
			Host:          host,
			Port:          port,
			ConfigManager: env.config,
			Home:          env.home,
			Logger:        env.logger,
		})
		if err != nil {
			return err
		}

		// Start server (blocks until shutdown)
		return srv.Start(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "127.0.0.1", "Host to bind to")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")

	rootCmd.AddCommand(serveCmd)
}
