package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/north-cloud/crawlcoord/internal/api"
	"github.com/north-cloud/crawlcoord/internal/scheduler"
)

func newServeCommand() *cobra.Command {
	var addr string
	var noMaintenance bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dashboard API and periodic maintenance jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			server := api.NewServer(addr, a.log, a.operator, a.priority)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if !noMaintenance {
				maint := scheduler.New(a.cfg, a.operator, a.priority, a.log)
				maint.Start()
				defer maint.Stop(context.Background())
			}

			errCh := make(chan error, 1)
			go func() {
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errCh <- err
				}
			}()

			a.log.Info("dashboard api listening", "addr", addr)

			select {
			case <-ctx.Done():
			case err := <-errCh:
				return err
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address for the dashboard API")
	cmd.Flags().BoolVar(&noMaintenance, "no-maintenance", false, "disable the periodic claim/run/priority maintenance jobs")
	return cmd
}

func init() {
	rootCmd.AddCommand(newServeCommand())
}
