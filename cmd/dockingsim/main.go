// cmd/dockingsim/main.go
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/opd-ai/go-rendezvous/pkg/config"
	"github.com/opd-ai/go-rendezvous/pkg/docking"
	"github.com/opd-ai/go-rendezvous/pkg/engine"
	"github.com/opd-ai/go-rendezvous/pkg/event"
	"github.com/opd-ai/go-rendezvous/pkg/health"
	"github.com/opd-ai/go-rendezvous/pkg/logging"
	"github.com/opd-ai/go-rendezvous/pkg/telemetry"
)

// maxMemoryMB bounds the heap checked after the run.
const maxMemoryMB = 500

func main() {
	configPath := flag.String("config", "dockingsim.json", "Path to configuration file")
	createDefault := flag.Bool("default", false, "Create default configuration file")
	ticks := flag.Int("ticks", 0, "Maximum number of ticks (0 uses the configured limit)")
	recordPath := flag.String("record", "", "Write a flight recording to this file")
	logPath := flag.String("log", "", "Write logs to this file instead of stdout")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logging.WithCorrelationID(ctx, logging.GenerateCorrelationID())
	logger := logging.NewLogger()

	// Create default configuration file if requested
	if *createDefault {
		if err := config.SaveConfig(config.DefaultConfig(), *configPath); err != nil {
			logger.Error(ctx, "Failed to create default configuration", err, "config_path", *configPath)
			os.Exit(1)
		}
		logger.Info(ctx, "Created default configuration file", "config_path", *configPath)
		return
	}

	cfg, err := loadConfig(ctx, logger, *configPath)
	if err != nil {
		logger.Error(ctx, "Failed to load configuration", err, "config_path", *configPath)
		os.Exit(1)
	}
	if *ticks > 0 {
		cfg.Scenario.MaxTicks = *ticks
	}
	if *logPath != "" {
		cfg.Log.File = *logPath
	}

	level := logging.ParseLevel(cfg.Log.Level)
	if cfg.Log.File != "" {
		fileLogger, closer, err := logging.NewFileLogger(cfg.Log.File, level)
		if err != nil {
			logger.Error(ctx, "Failed to open log file", err, "log_path", cfg.Log.File)
			os.Exit(1)
		}
		defer closer.Close()
		logger = fileLogger
	} else {
		logger = logging.NewLoggerWithWriter(os.Stdout, level)
	}

	if err := run(ctx, logger, cfg, *recordPath); err != nil {
		logger.Error(ctx, "Docking scenario failed", err)
		stop()
		os.Exit(1)
	}
}

// loadConfig falls back to the defaults, still subject to environment
// overrides, when the file does not exist.
func loadConfig(ctx context.Context, logger *logging.Logger, path string) (*config.SimConfig, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		logger.Info(ctx, "Configuration file not found, using default configuration", "config_path", path)
		return config.Load("")
	}
	return config.LoadConfig(path)
}

func run(ctx context.Context, logger *logging.Logger, cfg *config.SimConfig, recordPath string) (err error) {
	metrics, err := telemetry.NewMetrics(nil)
	if err != nil {
		return logging.WrapError(err, "create metrics")
	}

	sim := engine.NewSimulation(cfg.Engine())
	sim.SetLogger(logger)
	sim.SetMetrics(metrics)
	subscribe(ctx, logger, sim.EventBus)

	var offset mgl64.Vec3
	copy(offset[:], cfg.Scenario.Offset)
	chaser, err := sim.AddDefaultSpacecraft("Chaser", engine.Placement{Position: offset, Orientation: mgl64.QuatIdent()})
	if err != nil {
		return logging.WrapError(err, "add chaser")
	}
	target, err := sim.AddDefaultSpacecraft("Target", engine.Placement{
		Position:    mgl64.Vec3{0, 0, cfg.Scenario.Separation},
		Orientation: mgl64.QuatIdent(),
	})
	if err != nil {
		return logging.WrapError(err, "add target")
	}

	var rec *telemetry.Recorder
	if recordPath != "" {
		f, ferr := os.Create(recordPath)
		if ferr != nil {
			return logging.WrapError(ferr, "create recording %s", recordPath)
		}
		defer f.Close()
		if rec, ferr = telemetry.NewRecorder(f); ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := rec.Close(); cerr != nil && err == nil {
				err = cerr
			}
			logger.Info(ctx, "Flight recording written", "path", recordPath, "samples", rec.Count())
		}()
	}

	if !sim.StartDocking(ctx, chaser.ID(), target.ID(), docking.Front, docking.Back) {
		return errors.New("docking sequence refused")
	}

	docked := func(*engine.Simulation) bool { return chaser.Docking().Phase() == docking.Docked }
	every := cfg.Scenario.SampleEvery
	for i := 0; i < cfg.Scenario.MaxTicks && !docked(sim); i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		sim.Step(ctx)
		if rec != nil && sim.CurrentTick()%uint64(every) == 0 {
			if err := rec.Record(sim.Sample()); err != nil {
				return err
			}
		}
	}
	if rec != nil {
		if err := rec.Record(sim.Sample()); err != nil {
			return err
		}
	}

	checker := sim.HealthChecker()
	checker.AddCheck(health.NewMemoryHealthCheck(maxMemoryMB, func() int64 {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		return int64(m.Alloc / 1024 / 1024)
	}))
	if status := checker.CheckHealth(ctx); !status.Healthy() {
		return fmt.Errorf("simulation unhealthy after %d ticks: %v", sim.CurrentTick(), status.Failures())
	}

	if !docked(sim) {
		return fmt.Errorf("not docked after %d ticks (phase %s)", sim.CurrentTick(), chaser.Docking().Phase())
	}
	logger.Info(ctx, "Docking complete",
		"ticks", sim.CurrentTick(),
		"seconds", sim.ElapsedTime(),
		"chaser", chaser.State().Position,
		"target", target.State().Position,
	)
	return nil
}

func subscribe(ctx context.Context, logger *logging.Logger, bus *event.Bus) {
	bus.Subscribe(event.Docked, func(e event.Event) {
		d := e.(*event.DockEvent)
		logger.Info(ctx, "Crafts docked", "craft", d.CraftA, "port", d.PortA, "partner", d.CraftB, "partner_port", d.PortB)
	})
	bus.Subscribe(event.ClusterLeaderChosen, func(e event.Event) {
		c := e.(*event.ClusterEvent)
		logger.Debug(ctx, "Cluster formed", "leader", c.LeaderID, "members", c.Members, "total_mass", c.TotalMass)
	})
	bus.Subscribe(event.AllocationFailed, func(e event.Event) {
		a := e.(*event.AllocationEvent)
		logger.Warn(ctx, "Thruster allocation degraded", "craft", a.CraftID, "rank", a.Rank)
	})
}
