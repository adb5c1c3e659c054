package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roman-kulish/awg-sweeper/internal/awg"
	"github.com/roman-kulish/awg-sweeper/internal/cmdlog"
	"github.com/roman-kulish/awg-sweeper/internal/metrics"
	"github.com/roman-kulish/awg-sweeper/internal/plot"
	"github.com/roman-kulish/awg-sweeper/internal/spectral"
	"github.com/roman-kulish/awg-sweeper/internal/status"
	"github.com/roman-kulish/awg-sweeper/internal/storage"
	"github.com/roman-kulish/awg-sweeper/internal/transfer"
	"github.com/roman-kulish/awg-sweeper/internal/waveform"
)

const (
	deviceName      = "awg"
	shutdownTimeout = 5 * time.Second
)

// Run generates the configured waveforms and, unless only generation is
// requested, uploads and sweeps them on the instrument
func Run(ctx context.Context, config *Config, logger *slog.Logger) (err error) {
	runID := uuid.New()
	started := time.Now()
	logger = logger.With(slog.String("run", runID.String()))

	store, err := createStorage(config.Settings.DataDirectory, started)
	if err != nil {
		return fmt.Errorf("failed to create storage: %w", err)
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logger.Error("error closing storage", slog.String("error", cerr.Error()))
		}
	}()

	run := storage.Run{ID: runID, StartTime: started, Resource: config.Instrument.Resource}
	if err = store.CreateRun(ctx, &run, config); err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	defer func() {
		finishRun(store, runID, err, logger)
	}()

	logFile, err := cmdlog.OpenFile(config.Settings.LogDirectory, deviceName, started, cmdlog.WithFileLogger(logger))
	if err != nil {
		return err
	}
	defer logFile.Close()

	m := metrics.New()
	hub := status.NewHub(status.WithLogger(logger))

	stopServers := startServers(config.Server, hub, logger)
	defer stopServers()
	defer hub.Close()

	recorder := storage.NewRunRecorder(ctx, store, runID, storage.WithRecorderLogger(logger))
	defer recorder.Flush()

	session := awg.NewSession(config.Instrument.Resource,
		awg.WithLogger(logger),
		awg.WithTimeout(config.Instrument.Timeout.Duration()),
		awg.WithRecorder(cmdlog.Tee(logFile, cmdlog.LogRecorder(logger), m, recorder)),
	)

	options, err := orchestratorOptions(config, logger)
	if err != nil {
		return err
	}
	options = append(options,
		WithRunID(runID),
		WithStartTime(started),
		WithMetrics(m),
		WithObserver(hub),
		WithObserver(recorder),
	)

	o := NewOrchestrator(config, session, store, logger, options...)

	jobs, err := o.Generate(ctx)
	if err != nil {
		return fmt.Errorf("generating waveforms: %w", err)
	}
	if config.Settings.GenerateOnly {
		logger.Info("waveforms generated, skipping sweep", slog.Int("jobs", len(jobs)))
		return nil
	}

	if err = session.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to %s: %w", config.Instrument.Resource, err)
	}
	defer func() {
		if derr := session.Disconnect(); derr != nil {
			logger.Warn("error disconnecting", slog.String("error", derr.Error()))
		}
	}()

	logger.Info("connected", slog.String("identity", session.Identity()))
	if err = session.ClearStatus(ctx); err != nil {
		logger.Warn("clearing status failed", slog.String("error", err.Error()))
	}

	reports, err := o.Sweep(ctx, jobs)
	for _, r := range reports {
		logger.Info("sweep summary",
			slog.Int("channel", r.Channel),
			slog.Int("completed", r.Completed()),
			slog.Int("faults", r.Faults()))
	}
	return err
}

func orchestratorOptions(config *Config, logger *slog.Logger) ([]func(*Orchestrator), error) {
	var options []func(*Orchestrator)

	var wopts []waveform.Option
	if config.Settings.Seed != 0 {
		// one source for the whole run so that repeated points still differ
		wopts = append(wopts, waveform.WithRand(rand.New(rand.NewPCG(config.Settings.Seed, config.Settings.Seed))))
	}
	if config.Settings.LegacyNoise {
		wopts = append(wopts, waveform.WithLegacyNoise())
	}
	options = append(options, WithWaveformOptions(wopts...))

	if config.Settings.PlotFormat != "" {
		format, err := plot.ParseFormat(config.Settings.PlotFormat)
		if err != nil {
			return nil, err
		}
		method, err := spectral.ParseMethod(config.Settings.PlotMethod)
		if err != nil {
			return nil, err
		}
		renderer, err := plot.NewRenderer()
		if err != nil {
			return nil, fmt.Errorf("creating plot renderer: %w", err)
		}
		options = append(options, WithRenderer(renderer, format, method))
	}

	if config.Transfer.Enabled() {
		options = append(options, WithUploader(transfer.New(config.Transfer.Config, transfer.WithLogger(logger))))
	} else {
		logger.Warn("no transfer host configured, waveform files must already be on the instrument")
	}

	return options, nil
}

func finishRun(store storage.Store, runID uuid.UUID, err error, logger *slog.Logger) {
	runStatus := storage.StatusCompleted
	switch {
	case errors.Is(err, context.Canceled):
		runStatus = storage.StatusCancelled
	case err != nil:
		runStatus = storage.StatusFailed
	}

	// the run context may already be cancelled
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if ferr := store.FinishRun(ctx, runID, time.Now(), runStatus); ferr != nil {
		logger.Error("error finishing run", slog.String("error", ferr.Error()))
	}
}

func startServers(config ServerConfig, hub *status.Hub, logger *slog.Logger) (stop func()) {
	muxes := make(map[string]*http.ServeMux)
	mux := func(addr string) *http.ServeMux {
		if _, ok := muxes[addr]; !ok {
			muxes[addr] = http.NewServeMux()
		}
		return muxes[addr]
	}

	if config.MetricsAddress != "" {
		mux(config.MetricsAddress).Handle("/metrics", promhttp.Handler())
	}
	if config.StatusAddress != "" {
		mux(config.StatusAddress).Handle("/ws", hub)
	}

	servers := make([]*http.Server, 0, len(muxes))
	for addr, handler := range muxes {
		srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: shutdownTimeout}
		servers = append(servers, srv)

		go func() {
			logger.Info("serving", slog.String("address", srv.Addr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("server failed", slog.String("address", srv.Addr), slog.String("error", err.Error()))
			}
		}()
	}

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				logger.Warn("server shutdown", slog.String("address", srv.Addr), slog.String("error", err.Error()))
			}
		}
	}
}

func createStorage(dir string, started time.Time) (*storage.SqliteStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage directory '%s': %w", dir, err)
	}

	dbPath := filepath.Join(dir, fmt.Sprintf("awg_run_%s.sqlite", started.UTC().Format("20060102_150405")))
	return storage.NewSqliteStore(dbPath), nil
}
