package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"math/rand/v2"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rewired-gh/aisstream/internal/broadcast"
	"github.com/rewired-gh/aisstream/internal/clock"
	"github.com/rewired-gh/aisstream/internal/config"
	"github.com/rewired-gh/aisstream/internal/logger"
	"github.com/rewired-gh/aisstream/internal/metrics"
	"github.com/rewired-gh/aisstream/internal/models"
	"github.com/rewired-gh/aisstream/internal/seed"
	"github.com/rewired-gh/aisstream/internal/server"
	"github.com/rewired-gh/aisstream/internal/simulator"
	"github.com/rewired-gh/aisstream/internal/storage"
	"github.com/rewired-gh/aisstream/internal/telegram"
	"github.com/rewired-gh/aisstream/internal/window"
)

var (
	configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")
	reloadSeed = flag.Bool("reload-seed", false, "Re-import the seed dataset even if one is already stored")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("Configuration loaded from %s", *configPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var store *storage.Storage
	if cfg.Storage.Enabled {
		store, err = storage.New(cfg.Storage.DBPath)
		if err != nil {
			logger.Fatal("Failed to initialize storage: %v", err)
		}
		defer func() {
			if err := store.Close(); err != nil {
				logger.Error("Failed to close storage: %v", err)
			}
		}()
	} else {
		logger.Debug("Storage disabled, population will not be checkpointed")
	}

	randomSeed := cfg.Simulation.RandomSeed
	if randomSeed == 0 {
		randomSeed = uint64(time.Now().UnixNano())
	}
	logger.Info("Random seed: %d", randomSeed)

	vessels := loadSeed(ctx, cfg, store)
	if len(vessels) == 0 {
		logger.Warn("Seed catalog is empty; the simulated fleet will stay empty")
	}
	catalog := seed.NewCatalog(vessels, rand.New(rand.NewPCG(randomSeed, randomSeed^0x9e3779b97f4a7c15)))

	simConfig := simulator.Config{
		Churn: simulator.ChurnConfig{
			AcceptProbability:    cfg.Simulation.AcceptProbability,
			GrowthProbability:    cfg.Simulation.GrowthProbability,
			GrowthMin:            cfg.Simulation.GrowthMin,
			GrowthMax:            cfg.Simulation.GrowthMax,
			AttritionProbability: cfg.Simulation.AttritionProbability,
			AttritionMax:         cfg.Simulation.AttritionMax,
			PopulationFloor:      cfg.Simulation.PopulationFloor,
			InitialPopulation:    cfg.Simulation.InitialPopulation,
		},
		DefaultStep:        cfg.Server.TickInterval,
		CheckpointInterval: cfg.Simulation.CheckpointInterval,
	}
	var checkpointer simulator.Checkpointer
	if store != nil {
		checkpointer = store
	}
	sim, err := simulator.New(catalog, rand.New(rand.NewPCG(randomSeed, randomSeed+1)), simConfig, checkpointer)
	if err != nil {
		logger.Fatal("Failed to initialize simulator: %v", err)
	}
	if store != nil {
		saved, err := store.LoadPopulation()
		if err != nil {
			logger.Warn("Failed to load checkpointed population: %v", err)
		} else if len(saved) > 0 {
			logger.Info("Restored %d of %d checkpointed vessels", sim.Restore(saved), len(saved))
		}
	}

	clk := clock.Real{}
	buf, err := window.NewBuffer(window.Config{
		Horizon:     cfg.Window.Horizon,
		MaxCapacity: cfg.Window.MaxCapacity,
	}, clk)
	if err != nil {
		logger.Fatal("Failed to initialize sliding window: %v", err)
	}

	var collector *metrics.Collector
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		collector, err = metrics.NewCollector(reg)
		if err != nil {
			logger.Fatal("Failed to register metrics: %v", err)
		}
	}

	coord, err := broadcast.New(sim, buf, clk, broadcast.Config{
		Interval:      cfg.Server.TickInterval,
		SendTimeout:   cfg.Server.SendTimeout,
		TrendMetric:   cfg.Window.TrendMetric,
		TrendHorizons: cfg.Window.TrendHorizons,
		Aggregate: window.AggregateOptions{
			Thresholds: window.StatusThresholds{
				SlowMax:     cfg.Window.SlowMax,
				ModerateMax: cfg.Window.ModerateMax,
			},
			SampleSize: cfg.Window.QuantileSampleSize,
		},
	}, collector)
	if err != nil {
		logger.Fatal("Failed to initialize broadcast coordinator: %v", err)
	}

	if cfg.Telegram.Enabled {
		telegramClient, err := telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			logger.Fatal("Failed to initialize Telegram client: %v", err)
		}
		// the digest counts as a subscriber, so the stream never idles while it is attached
		coord.Attach(telegramClient.NewDigest(cfg.Telegram.DigestEvery))
		telegramClient.ListenForCommands(ctx, coord.Latest)
		logger.Info("Telegram digest enabled (every %d ticks)", cfg.Telegram.DigestEvery)
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	srv := server.New(coord, collector, cfg.Server.AllowedOrigins)

	logger.Info("Starting AIS stream (tick: %v, window: %v, capacity: %d, trend metric: %s)",
		cfg.Server.TickInterval, cfg.Window.Horizon, cfg.Window.MaxCapacity, cfg.Window.TrendMetric)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := coord.Run(ctx); err != nil {
			logger.Error("Broadcast loop failed: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := srv.ListenAndServe(ctx, cfg.Server.ListenAddr); err != nil {
			logger.Error("HTTP server failed: %v", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, cleaning up...")
	wg.Wait()
	coord.Shutdown()
	logger.Info("Service stopped")
}

// loadSeed prefers the stored catalog and falls back to it when the
// configured source cannot be read.
func loadSeed(ctx context.Context, cfg *config.Config, store *storage.Storage) []models.VesselState {
	if store != nil && !*reloadSeed {
		n, err := store.SeedCount()
		if err != nil {
			logger.Warn("Failed to count stored seed vessels: %v", err)
		} else if n > 0 {
			stored, err := store.LoadSeed()
			if err == nil {
				logger.Info("Loaded %d seed vessels from storage", len(stored))
				return stored
			}
			logger.Warn("Failed to load stored seed catalog: %v", err)
		}
	}

	fetcher := seed.NewFetcher(cfg.Simulation.SeedFetchTimeout, 3, time.Second)
	vessels, err := seed.Load(ctx, cfg.Simulation.SeedFile, fetcher)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Warn("Seed file %s not found", cfg.Simulation.SeedFile)
		} else {
			logger.Warn("Failed to load seed data: %v", err)
		}
		if store != nil {
			if stored, err := store.LoadSeed(); err == nil && len(stored) > 0 {
				logger.Info("Falling back to %d stored seed vessels", len(stored))
				return stored
			}
		}
		return nil
	}

	if store != nil {
		if err := store.ReplaceSeed(vessels); err != nil {
			logger.Warn("Failed to store seed catalog: %v", err)
		}
	}
	return vessels
}
