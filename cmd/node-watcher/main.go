package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/qzavyer/HyperNodeServer/params"
	"github.com/qzavyer/HyperNodeServer/pkg/api"
	"github.com/qzavyer/HyperNodeServer/pkg/cleanup"
	"github.com/qzavyer/HyperNodeServer/pkg/config"
	"github.com/qzavyer/HyperNodeServer/pkg/monitor"
	"github.com/qzavyer/HyperNodeServer/pkg/order"
	"github.com/qzavyer/HyperNodeServer/pkg/relay"
	"github.com/qzavyer/HyperNodeServer/pkg/storage"
	"github.com/qzavyer/HyperNodeServer/pkg/util"
	"github.com/qzavyer/HyperNodeServer/pkg/watcher"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	logger, err := util.NewLoggerWithFile(cfg.LogFile, os.Getenv("LOG_LEVEL"))
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.LogFile)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	store, err := storage.NewPebbleStore(filepath.Join(cfg.DataDir, "db"))
	if err != nil {
		sugar.Fatalw("storage_init_failed", "err", err)
	}
	defer store.Close()

	// ---- Order table ----
	orders := order.NewStore(store, sugar)
	persisted, err := store.LoadOrders()
	if err != nil {
		sugar.Fatalw("order_load_failed", "err", err)
	}
	orders.Load(persisted)
	sugar.Infow("orders_loaded", "count", len(persisted))

	// ---- Symbol filter config ----
	cfgMgr := config.NewManager(cfg.ConfigFile, sugar)
	if err := cfgMgr.Load(); err != nil {
		sugar.Fatalw("config_load_failed", "err", err)
	}

	// ---- Ingestion core ----
	buffer := watcher.NewBuffer(cfg.Watcher.CriticalSize, cfg.Watcher.BatchCap, sugar)
	scheduler := watcher.NewScheduler(watcher.SchedulerConfig{
		WorkerFloor:         cfg.Watcher.WorkerFloor,
		WorkerCeiling:       cfg.Watcher.WorkerCeiling,
		SequentialThreshold: cfg.Watcher.SequentialThreshold,
		MinChunkSize:        cfg.Watcher.MinChunkSize,
		BatchDeadline:       cfg.Watcher.BatchDeadline,
	}, sugar)
	defer scheduler.Close()

	// ---- Push sinks ----
	hub := api.NewHub(sugar)
	pubs := []order.Publisher{hub}

	var rel *relay.Relay
	if cfg.Relay.ListenAddr != "" {
		rel, err = relay.New(ctx, relay.Config{
			ListenAddr: cfg.Relay.ListenAddr,
			Bootstrap:  cfg.Relay.Bootstrap,
			Topic:      cfg.Relay.Topic,
			Logger:     sugar,
		})
		if err != nil {
			sugar.Fatalw("relay_init_failed", "err", err)
		}
		defer rel.Close()
		pubs = append(pubs, rel)
	} else {
		sugar.Info("relay_disabled - set RELAY_LISTEN to enable gossip publishing")
	}

	outbox := order.NewOutbox(256, sugar, pubs...)
	go outbox.Run()
	defer outbox.Close()

	// ---- Tail loop ----
	tail, err := watcher.NewTailLoop(
		watcher.TailConfig{
			NodeLogsPath:  cfg.Watcher.NodeLogsPath,
			PollInterval:  cfg.Watcher.PollInterval,
			BatchInterval: cfg.Watcher.BatchInterval,
			ReadChunkSize: cfg.Watcher.ReadChunkSize,
		},
		buffer, scheduler, orders, outbox, cfgMgr, store,
		util.RealClock{}, cfg.Watcher.CycleMargin, sugar,
	)
	if err != nil {
		sugar.Fatalw("tail_init_failed", "err", err)
	}

	var cleaner *cleanup.Cleaner
	if cfg.Cleanup.Enabled {
		cleaner = cleanup.NewCleaner(cleanup.Config{
			NodeLogsPath:      cfg.Watcher.NodeLogsPath,
			HyperliquidData:   cfg.Cleanup.HyperliquidData,
			Interval:          cfg.Cleanup.Interval,
			MaxReplicaDirs:    cfg.Cleanup.MaxReplicaDirs,
			MaxCheckpointDirs: cfg.Cleanup.MaxCheckpointDirs,
		}, tail, util.RealClock{}, sugar)
		go cleaner.Run(ctx)
	}

	// ---- Order age purge ----
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Hour):
				orders.CleanupOlderThan(cfg.OrderMaxAge)
			}
		}
	}()

	// ---- API server ----
	nodeMon := monitor.NewNodeMonitor(cfg.Watcher.NodeLogsPath, cfg.HealthThreshold, sugar)
	apiServer := api.NewServer(orders, cfgMgr, tail, nodeMon, cleaner, hub, cfg.MaxOrdersPerReq, sugar)

	go func() {
		if err := apiServer.Start(cfg.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	sugar.Infow("watcher_starting",
		"logs_path", cfg.Watcher.NodeLogsPath,
		"workers", scheduler.Workers(),
		"batch_deadline", cfg.Watcher.BatchDeadline,
		"relay_enabled", rel != nil)

	tail.Run(ctx)
	sugar.Info("watcher_stopped")
}
