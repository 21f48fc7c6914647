package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"pulse/internal/log"
	"pulse/internal/relay"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		addr     string
		logFile  string
		logLevel string
	)
	cmd := &cobra.Command{
		Use:          "relay",
		Short:        "In-memory relay for pulse clients",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			backend, err := log.New(logFile, logLevel, false)
			if err != nil {
				return err
			}
			l := backend.GetLogger("relay")

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.Handle("/", relay.NewServer(relay.NewHub(backend.GetLogger("hub")), l))
			srv := &http.Server{
				Addr:              addr,
				Handler:           mux,
				ReadHeaderTimeout: 10 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()
			l.Noticef("Relay listening on %s", addr)

			select {
			case err := <-errCh:
				return err
			case <-cmd.Context().Done():
			}
			l.Noticef("Shutting down")
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "listen", ":8080", "listen address")
	cmd.Flags().StringVar(&logFile, "log-file", "", "log file (default stdout)")
	cmd.Flags().StringVar(&logLevel, "log-level", "NOTICE", "log level")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
