package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	rspc "github.com/specta-rs/rspc-sub002"
	"github.com/specta-rs/rspc-sub002/middleware"
)

// Globals are the flags shared by every command.
type Globals struct {
	Config  string `help:"YAML configuration file." type:"path" short:"c"`
	Verbose bool   `help:"Verbose output." short:"v"`
}

var CLI struct {
	Globals

	Serve    ServeCommand    `cmd:"" help:"Serve the demo router over WebSocket."`
	Describe DescribeCommand `cmd:"" help:"Print the router description as JSON."`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	kongCtx := kong.Parse(
		&CLI,
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(&CLI.Globals),
		kong.ConfigureHelp(kong.HelpOptions{
			Tree:    true,
			Compact: true,
		}),
		kong.Description(`demo server for the rspc execution core`),
	)
	err := kongCtx.Run()
	kongCtx.FatalIfErrorf(err)
}

func newLogger(verbose bool) *zap.Logger {
	if verbose {
		return zap.Must(zap.NewDevelopment())
	}
	return zap.Must(zap.NewProduction())
}

type ServeCommand struct {
	Addr            string        `help:"Listen address, overrides the config file."`
	ShutdownTimeout time.Duration `default:"5s" help:"Time allowed for connections to close on shutdown."`
}

func (c *ServeCommand) Run(ctx context.Context, g *Globals) (err error) {
	log := newLogger(g.Verbose)
	defer func() {
		_ = log.Sync()
	}()

	cfg, err := LoadConfig(g.Config)
	if err != nil {
		return err
	}
	if c.Addr != "" {
		cfg.Addr = c.Addr
	}

	var metrics *middleware.Metrics
	reg := prometheus.NewRegistry()
	if cfg.MetricsEnabled() {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics, err = middleware.NewMetrics(reg)
		if err != nil {
			return fmt.Errorf("registering metrics: %w", err)
		}
	}

	limiter := middleware.NewLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	router, err := newRouter(cfg, log, metrics, limiter)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	server := rspc.NewServer(router, rspc.ServerOptions{
		Logger:     log,
		Context:    appContext,
		SendBuffer: cfg.SendBuffer,
	})
	server.OnConnect(func(_ context.Context, conn *rspc.Conn) error {
		log.Info("client connected", zap.String("conn_id", conn.ID()), zap.String("remote_addr", conn.Request().RemoteAddr))
		return nil
	})
	server.OnDisconnect(limiter.ForgetConnection)

	mux := http.NewServeMux()
	mux.Handle(cfg.Path, server)
	if metrics != nil {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	}
	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		log.Info("listening", zap.String("addr", cfg.Addr), zap.String("path", cfg.Path))
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down", zap.Int("connections", server.ConnectionCount()))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), c.ShutdownTimeout)
		defer cancel()
		return multierr.Combine(
			server.Shutdown(shutdownCtx),
			httpServer.Shutdown(shutdownCtx),
		)
	})
	return group.Wait()
}

type DescribeCommand struct {
	Output string `help:"Write to this file instead of stdout." type:"path" short:"o"`
}

func (c *DescribeCommand) Run(g *Globals) error {
	cfg, err := LoadConfig(g.Config)
	if err != nil {
		return err
	}
	router, err := newRouter(cfg, zap.NewNop(), nil, nil)
	if err != nil {
		return fmt.Errorf("building router: %w", err)
	}

	data, err := json.Marshal(router.Describe(), jsontext.WithIndent("  "), json.Deterministic(true))
	if err != nil {
		return fmt.Errorf("encoding description: %w", err)
	}
	data = append(data, '\n')

	if c.Output == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(c.Output, data, 0o644)
}
