// Package main implements the swarm coordination server entry point: it
// wires the Persistence Gateway, Object-Store Gateway, Worker Registry, and
// Coordinator together behind the HTTP Surface, as specified in §6-§7 of
// the design specification.
package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/archiveswarm/coordinator/config"
	"github.com/archiveswarm/coordinator/coordinator"
	"github.com/archiveswarm/coordinator/httpapi"
	"github.com/archiveswarm/coordinator/metrics"
	"github.com/archiveswarm/coordinator/objectstore"
	"github.com/archiveswarm/coordinator/registry"
	"github.com/archiveswarm/coordinator/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		return fmt.Errorf("failed to create database pool: %w", err)
	}
	defer pool.Close()

	if err := store.EnsureSchema(ctx, pool); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	gw := store.NewPGGateway(pool)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.S3Region))
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}
	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		}
	})
	objects := objectstore.NewS3Gateway(s3Client, cfg.S3Bucket, cfg.PresignExpiry)

	reg := registry.New(gw, cfg.S3PublicBaseURL(), cfg.MaxWorkersPerIP)

	metricsRegistry := prometheus.NewRegistry()
	m, err := metrics.New(metricsRegistry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(os.Getpid())))
	coord := coordinator.New(gw, objects, reg, log, m, cfg.ContentThreshold, rng)

	if err := warnIfNoFinishedBatches(ctx, gw, log); err != nil {
		log.Warnw("failed to check startup batch state", "error", err)
	}

	srv := httpapi.NewServer(coord, reg, gw, log, m)
	router := httpapi.NewRouter(srv)

	httpServer := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	metricsServer := &http.Server{
		Addr:    cfg.MetricsAddr,
		Handler: promhttp.HandlerFor(metricsRegistry, promhttp.HandlerOpts{}),
	}

	errCh := make(chan error, 3)

	go func() {
		log.Infow("starting metrics listener", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("metrics listener failed: %w", err)
		}
	}()

	var plainServer *http.Server
	if cfg.PlainAddr != "" && cfg.TLSCertFile != "" {
		plainServer = &http.Server{
			Addr:    cfg.PlainAddr,
			Handler: redirectToTLS(cfg.ListenAddr),
		}
		go func() {
			log.Infow("starting plain-HTTP redirect listener", "addr", cfg.PlainAddr)
			if err := plainServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("plain listener failed: %w", err)
			}
		}()
	}

	go func() {
		log.Infow("starting coordination server", "addr", cfg.ListenAddr, "tls", cfg.TLSCertFile != "")
		var err error
		if cfg.TLSCertFile != "" {
			err = httpServer.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http listener failed: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.Errorw("listener failure, shutting down", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownGrace)
	defer cancel()

	if plainServer != nil {
		_ = plainServer.Shutdown(shutdownCtx)
	}
	_ = metricsServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down gracefully: %w", err)
	}
	log.Info("shutdown complete")
	return nil
}

// warnIfNoFinishedBatches logs a startup warning when the batches table has
// no finished rows yet, §7: a freshly seeded deployment always starts this
// way, so it is logged rather than treated as a failure.
func warnIfNoFinishedBatches(ctx context.Context, gw store.Gateway, log *zap.SugaredLogger) error {
	stats, err := gw.Stats(ctx)
	if err != nil {
		return err
	}
	if stats.BatchFinished == 0 {
		log.Warn("no finished batches yet; every dispatch will draw an unfinished batch")
	}
	return nil
}

// redirectToTLS serves the plain-HTTP listener: every request is redirected
// to the HTTPS listen address, preserving path and query.
func redirectToTLS(tlsAddr string) http.Handler {
	_, tlsPort, _ := net.SplitHostPort(tlsAddr)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.Host)
		if err != nil {
			host = r.Host
		}
		target := "https://" + host
		if tlsPort != "" && tlsPort != "443" {
			target += ":" + tlsPort
		}
		target += r.URL.RequestURI()
		http.Redirect(w, r, target, http.StatusMovedPermanently)
	})
}
