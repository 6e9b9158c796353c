package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/hirekruit/interviewkit/pkg/admission"
	"github.com/hirekruit/interviewkit/pkg/interview/completion"
)

type serverDeps struct {
	loadConfig   func() (admission.ServerConfig, error)
	newService   func(admission.Config, admission.RoundStore, *slog.Logger) (*admission.Service, error)
	readFile     func(string) ([]byte, error)
	signalNotify func(chan<- os.Signal, ...os.Signal)
	signalStop   func(chan<- os.Signal)
}

func defaultServerDeps() serverDeps {
	return serverDeps{
		loadConfig:   admission.LoadServerConfigFromEnv,
		newService:   admission.NewService,
		readFile:     os.ReadFile,
		signalNotify: func(c chan<- os.Signal, sig ...os.Signal) { signal.Notify(c, sig...) },
		signalStop:   signal.Stop,
	}
}

func seedStore(store *admission.MemoryStore, readFile func(string) ([]byte, error), path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	raw, err := readFile(path)
	if err != nil {
		return 0, fmt.Errorf("read seed file: %w", err)
	}
	var records []completion.CandidateRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return 0, fmt.Errorf("parse seed file: %w", err)
	}
	for _, rec := range records {
		store.Put(rec)
	}
	return len(records), nil
}

func runServer(ctx context.Context, logger *slog.Logger, deps serverDeps) error {
	if deps.loadConfig == nil || deps.newService == nil {
		return errors.New("missing service dependency")
	}
	if deps.signalNotify == nil || deps.signalStop == nil {
		return errors.New("missing signal dependency")
	}
	if logger == nil {
		logger = slog.Default()
	}

	cfg, err := deps.loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	store := admission.NewMemoryStore()
	readFile := deps.readFile
	if readFile == nil {
		readFile = os.ReadFile
	}
	seeded, err := seedStore(store, readFile, cfg.SeedFile)
	if err != nil {
		return err
	}
	if seeded > 0 {
		logger.Info("seeded candidate records", "count", seeded, "file", cfg.SeedFile)
	}

	svc, err := deps.newService(admission.Config{
		APIKey:       cfg.APIKey,
		APISecret:    cfg.APISecret,
		TransportURL: cfg.TransportURL,
		TokenTTL:     cfg.TokenTTL,
	}, store, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           svc.Handler(),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		ReadTimeout:       cfg.ReadTimeout,
	}

	logger.Info("starting admission service", "addr", cfg.Addr)

	listenErrCh := make(chan error, 1)
	go func() {
		err := httpSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			listenErrCh <- err
			return
		}
		listenErrCh <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	deps.signalNotify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer deps.signalStop(sigCh)

	select {
	case err := <-listenErrCh:
		if err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownGracePeriod)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}

	if err := <-listenErrCh; err != nil {
		return fmt.Errorf("serve: %w", err)
	}

	logger.Info("admission service stopped")
	return nil
}

func runMain(ctx context.Context, stderr io.Writer, deps serverDeps) int {
	if stderr == nil {
		stderr = os.Stderr
	}
	logger := slog.New(slog.NewTextHandler(stderr, nil))

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(stderr, "admissiond: %v\n", err)
		return 1
	}

	if err := runServer(ctx, logger, deps); err != nil {
		fmt.Fprintf(stderr, "admissiond: %v\n", err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(runMain(context.Background(), os.Stderr, defaultServerDeps()))
}
