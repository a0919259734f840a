package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"github.com/holee9/hnvue-console-sub002/internal/archive"
	"github.com/holee9/hnvue-console-sub002/internal/config"
	"github.com/holee9/hnvue-console-sub002/internal/dose"
	"github.com/holee9/hnvue-console-sub002/internal/eventbus"
	"github.com/holee9/hnvue-console-sub002/internal/hardware"
	"github.com/holee9/hnvue-console-sub002/internal/interfaces/http"
	"github.com/holee9/hnvue-console-sub002/internal/interlock"
	"github.com/holee9/hnvue-console-sub002/internal/journal"
	"github.com/holee9/hnvue-console-sub002/internal/retake"
	"github.com/holee9/hnvue-console-sub002/internal/session"
	"github.com/holee9/hnvue-console-sub002/pkg/database"
	"github.com/holee9/hnvue-console-sub002/pkg/logging"
)

func main() {
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting diagnostic console workflow core",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Dose archive database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize dose archive database", zap.Error(err))
	}
	defer db.Close()

	doseArchive := dose.NewArchive(db, logger)

	doseCoord := dose.NewCoordinator(dose.LimitConfiguration{
		StudyLimitMAs:   cfg.Dose.StudyLimitMAs,
		PatientLimitMAs: cfg.Dose.PatientLimitMAs,
		WarningFraction: cfg.Dose.WarningFraction,
	}, doseArchive, logger)

	retakeCoord := retake.NewCoordinator(retake.LimitConfiguration{
		MaxRetakesPerStudy:    cfg.Retake.MaxPerStudy,
		MaxRetakesPerExposure: cfg.Retake.MaxPerExposure,
		RequireSupervisor:     cfg.Retake.RequireSupervisor,
	}, logger)

	// Crash recovery runs before anything is served: an interrupted
	// study must be restored to a safe state first.
	journalPath := filepath.Join(cfg.Journal.Dir, journal.FileName)
	recovered, err := journal.Recover(journalPath, logger)
	if err != nil {
		logger.Fatal("Journal recovery failed, refusing to start", zap.Error(err))
	}

	jnl, err := journal.Open(cfg.Journal.Dir, cfg.Journal.AppendTimeout, logger)
	if err != nil {
		logger.Fatal("Failed to open journal", zap.Error(err))
	}
	defer jnl.Close()

	// Hardware stack: simulated generator, detector, dose tracker, and
	// interlock inputs behind the real interfaces.
	sim := hardware.NewSimulator(logger)

	gate := interlock.NewGate(logger)
	watchdog := interlock.NewWatchdog(gate, cfg.Interlock.WatchdogInterval, logger)
	poller := interlock.NewPoller(gate, sim, cfg.Interlock.PollInterval, logger)

	bus := eventbus.NewBus(logger)
	defer bus.Close()

	worklist := archive.NewStaticWorklist(nil, logger)
	mpps := archive.NewLogMppsReporter(logger)
	pacs, err := archive.NewDicomFileExporter(cfg.Pacs.ExportDir, logger)
	if err != nil {
		logger.Fatal("Failed to initialize DICOM exporter", zap.Error(err))
	}

	sessCfg := session.Config{
		GuardTimeout:      cfg.Workflow.GuardTimeout,
		TransitionTimeout: cfg.Workflow.TransitionTimeout,
		AbortBudget:       cfg.Interlock.AbortBudget,
	}
	deps := session.Deps{
		Journal:     jnl,
		Gate:        gate,
		Watchdog:    watchdog,
		Dose:        doseCoord,
		Retake:      retakeCoord,
		Bus:         bus,
		Generator:   sim,
		Detector:    sim,
		DoseTracker: sim,
		Interlocks:  sim,
		Worklist:    worklist,
		Mpps:        mpps,
		Pacs:        pacs,
		Logger:      logger,
	}

	var sess *session.Session
	if recovered.Study != nil {
		logger.Info("Resuming recovered study",
			zap.String("study_id", recovered.Study.StudyID),
			zap.String("state", recovered.Study.CurrentState.String()),
			zap.Bool("rerouted", recovered.Rerouted))
		sess = session.NewRecovered(sessCfg, deps, recovered.Study)
	} else {
		sess = session.New(sessCfg, deps)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := poller.Start(ctx); err != nil {
		logger.Fatal("Failed to start interlock poller", zap.Error(err))
	}
	defer poller.Stop()

	server := http.NewServer(http.ServerConfig{
		Host:         cfg.Server.Host,
		Port:         cfg.Server.Port,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}, sess, bus, sim, logger)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("Shutting down console...")
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
		}
	}

	cancel()

	if err := server.Stop(); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Console exited successfully")
}
