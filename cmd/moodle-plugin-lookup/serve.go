package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pluglist-tools/moodle-plugin-lookup/internal/metrics"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/server"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/tools"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func newServeCommand(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the lookup API over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(log, cmd)
		},
	}
}

func runServer(log *logrus.Logger, cmd *cobra.Command) error {
	log.Infof("starting moodle-plugin-lookup server (version=%s)", version)
	cfg, err := loadConfig(log, cmd)
	if err != nil {
		return err
	}

	if !cfg.DisableMetrics {
		log.Println("setting up metrics exporter...")
		exporter, mErr := metrics.NewExporter(cfg)
		if mErr != nil {
			return mErr
		}
		defer exporter.Flush()
		defer exporter.StopMetricsExporter()
	}

	service, err := newService(cmd.Context(), log, cfg)
	if err != nil {
		return err
	}

	log.Println("starting server...")
	srv := &http.Server{
		Addr:              cfg.GetServerAddr(),
		Handler:           server.New(log, service, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			log.Error(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	log.Println("stopping server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); errors.Is(err, context.DeadlineExceeded) {
		log.Println("closing server...")
		if closeErr := srv.Close(); closeErr != nil {
			return closeErr
		}
	} else if err != nil {
		return err
	}
	log.Println("server stopped!")
	return nil
}

func newStdioCommand(log *logrus.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "stdio",
		Short: "Serve the lookup tools as JSON-RPC over stdin and stdout",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(log, cmd)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			service, err := newService(ctx, log, cfg)
			if err != nil {
				return err
			}
			err = tools.New(log, service, version).Serve(ctx, cmd.InOrStdin(), cmd.OutOrStdout())
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		},
	}
}
