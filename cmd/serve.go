package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sells-group/surgeon-pipeline/internal/aggregate"
	"github.com/sells-group/surgeon-pipeline/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the trust score aggregation trigger",
	Long:  "Starts an HTTP server. GET /health reports liveness; any other request runs one aggregation pass and returns the number of surgeons updated.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if servePort != 0 {
			cfg.Server.Port = servePort
		}
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		router := server.NewRouter(aggregate.New(st, cfg.Aggregate.Concurrency), server.Options{
			AllowedOrigins: cfg.Server.AllowedOrigins,
		})
		return server.ListenAndServe(ctx, cfg.Server.Port, router)
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
