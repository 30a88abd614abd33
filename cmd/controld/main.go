package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"appwritectl/internal/audit"
	"appwritectl/internal/config"
	"appwritectl/internal/logging"
	"appwritectl/internal/service"
	"appwritectl/internal/web"
)

const defaultGCSpec = "@every 1m"

func main() {
	logging.Init("controld", nil)
	if err := run(os.Args[1:], serveHTTP); err != nil {
		fatalf("controld: %v", err)
	}
}

var serveHTTP = func(srv *http.Server) error { return srv.ListenAndServe() }
var fatalf = func(format string, args ...any) {
	slog.Error("fatal", "error", fmt.Sprintf(format, args...))
	os.Exit(1)
}
var loadConfig = config.LoadConfig
var openPostgres = audit.OpenPostgres

func run(args []string, serve func(*http.Server) error) error {
	fs := flag.NewFlagSet("controld", flag.ContinueOnError)
	configPath := fs.String("config", "", "path to config JSON")
	transport := fs.String("transport", "", "framing transport: http or stdio (default from config)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *configPath == "" {
		return errors.New("config required")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}

	var sink audit.Sink
	if cfg.Audit.PostgresDSN != "" {
		pg, err := openPostgres(ctx, cfg.Audit.PostgresDSN)
		if err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
		defer pg.Close()
		sink = pg
		slog.Info("audit sink", "kind", "postgres")
	}

	svc, err := service.New(cfg, sink)
	if err != nil {
		return err
	}

	gcSpec := cfg.Plans.GCCron
	if gcSpec == "" {
		gcSpec = defaultGCSpec
	}
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(gcSpec, func() {
		plans := svc.Plans.Sweep(time.Now())
		cached := svc.Executor.SweepCache()
		if plans > 0 || cached > 0 {
			slog.Info("expiry sweep", "plans", plans, "idempotency_entries", cached)
		}
	}); err != nil {
		return fmt.Errorf("plans.gc_cron: %w", err)
	}
	sweeper.Start()
	defer sweeper.Stop()

	mode := *transport
	if mode == "" {
		mode = svc.TransportDefault
	}
	switch mode {
	case service.TransportStdio:
		slog.Info("serving stdio framing")
		err := web.RunStdio(ctx, svc, os.Stdin, os.Stdout)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	case service.TransportHTTP:
		return runHTTP(ctx, cfg, svc, serve)
	default:
		return fmt.Errorf("unknown transport %q", mode)
	}
}

func runHTTP(ctx context.Context, cfg config.Config, svc *service.Service, serve func(*http.Server) error) error {
	addr := cfg.Server.HTTPAddr
	if addr == "" {
		addr = ":8080"
	}
	server := &web.Server{Service: svc}
	httpSrv := &http.Server{Addr: addr, Handler: server.Handler()}
	errCh := make(chan error, 1)
	go func() { errCh <- serve(httpSrv) }()

	slog.Info("controld listening", "addr", addr)
	select {
	case err := <-errCh:
		if err == nil {
			return nil
		}
		if errors.Is(err, http.ErrServerClosed) && ctx.Err() != nil {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	forceExit := time.AfterFunc(30*time.Second, func() { os.Exit(1) })
	defer forceExit.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	err := <-errCh
	if err == nil || errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
