package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/olinky/olinkyd/internal/api"
	"github.com/olinky/olinkyd/internal/mdns"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP control API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctrl, err := newController(cfg)
		if err != nil {
			return err
		}

		// Report the permission state early; the result is cached for
		// the first mount.
		go ctrl.CheckModule(cmd.Context())

		s := cfg.Server
		handler := api.New(ctrl, api.Options{
			MaxUploadBytes: cfg.Images.MaxUploadMB * 1024 * 1024,
			Version:        version,
			CORS: cors.Options{
				AllowedOrigins:   s.CORS.AllowedOrigins,
				AllowedMethods:   s.CORS.AllowedMethods,
				AllowedHeaders:   s.CORS.AllowedHeaders,
				AllowCredentials: s.CORS.AllowCredentials,
			},
		}).Handler()

		srv := &http.Server{
			Addr:         fmt.Sprintf("%s:%d", s.Host, s.Port),
			Handler:      handler,
			ReadTimeout:  time.Duration(s.ReadTimeout) * time.Second,
			WriteTimeout: time.Duration(s.WriteTimeout) * time.Second,
			IdleTimeout:  time.Duration(s.IdleTimeout) * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			logrus.WithField("addr", srv.Addr).Info("Starting server")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				errCh <- err
			}
			close(errCh)
		}()

		if cfg.MDNS.Enabled {
			svc := mdns.ControlAPI(cfg.MDNS.ServiceName, s.Port, cfg.MDNS.TXTRecords...)
			adv, err := mdns.Advertise(svc, cfg.MDNS.UseDBus)
			if err != nil {
				logrus.WithError(err).Warn("mDNS advertisement disabled")
			} else {
				defer adv.Stop()
			}
		}

		// Wait for interrupt signal to gracefully shutdown the server
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("failed to start server: %w", err)
			}
		}

		logrus.Info("Shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			logrus.WithError(err).Warn("Server forced to shutdown")
		}
		logrus.Info("Server exited")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
