// Command failsight serves failure-risk training and prediction over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/FlavioCFOliveira/FailSight/failsight"
	"github.com/FlavioCFOliveira/FailSight/internal/config"
	"github.com/FlavioCFOliveira/FailSight/internal/logging"
	"github.com/FlavioCFOliveira/FailSight/internal/server"
	"github.com/FlavioCFOliveira/FailSight/internal/store"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration (defaults apply when empty)")
	trainOnStart := flag.Bool("train", false, "start a training run as soon as the server is up")
	flag.Parse()

	if err := run(*configPath, *trainOnStart); err != nil {
		fmt.Fprintln(os.Stderr, "failsight:", err)
		os.Exit(1)
	}
}

func run(configPath string, trainOnStart bool) error {
	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			return err
		}
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer logger.Close()
	log := logger.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []failsight.Option{failsight.WithLogger(log)}
	if cfg.Database.Path != "" {
		st, err := store.Open(cfg.Database.Path, log.Named("store"))
		if err != nil {
			return err
		}
		defer st.Close()
		log.Info("run history enabled", zap.String("path", cfg.Database.Path))
		opts = append(opts, failsight.WithStore(st))
	}

	hub := server.NewHub(cfg.HTTP.AllowedOrigins, log.Named("ws"))
	go hub.Run(ctx)
	opts = append(opts, failsight.WithCallbacks(hub))

	svc, err := failsight.New(cfg, opts...)
	if err != nil {
		return err
	}

	if configPath != "" {
		go func() {
			err := config.Watch(ctx, configPath, log.Named("config"), func(c *config.Config) {
				if err := logger.SetLevel(c.Log.Level); err != nil {
					log.Warn("log level not applied", zap.Error(err))
					return
				}
				log.Info("log level applied", zap.String("level", c.Log.Level))
			})
			if err != nil {
				log.Warn("config watch stopped", zap.Error(err))
			}
		}()
	}

	srv := server.New(ctx, cfg.HTTP, svc, hub, log.Named("http"))
	errc := make(chan error, 1)
	go func() { errc <- srv.Start() }()

	if trainOnStart {
		if r, err := svc.Train(ctx); err != nil {
			log.Error("initial training not started", zap.Error(err))
		} else {
			log.Info("initial training started", zap.String("run", r.ID()))
		}
	}

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	svc.Cancel()
	if r := svc.Last(); r != nil {
		if _, err := r.Wait(shutdownCtx); err != nil {
			log.Warn("training did not stop in time", zap.Error(err))
		}
	}
	log.Info("stopped")
	return nil
}
