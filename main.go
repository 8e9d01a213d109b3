package main

import (
	"context"
	"flag"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/ochenane/simple-auction/auction"
	"github.com/ochenane/simple-auction/chain"
	"github.com/ochenane/simple-auction/config"
	"github.com/ochenane/simple-auction/database"
	"github.com/ochenane/simple-auction/logger"
	"github.com/ochenane/simple-auction/reconciler"
	"github.com/ochenane/simple-auction/server"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	flag.Parse()
	_ = godotenv.Load() // optional .env, same as the original deployment setup

	cfg, err := config.BuildConfig()
	if err != nil {
		fmt.Println("Config error: ", err)
		return
	}
	config.GlobalConfigCallback.Call(cfg)
	logger.Info("Running with configuration: chain: %s, database: %s", cfg.Chain.NodeURL, cfg.DB.Database)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.ConnectAndInitialize(&cfg.DB)
	if err != nil {
		logger.Fatal("Database connect and initialize error: %s", err)
	}
	store := database.NewStore(db)

	client, err := chain.DialRPCNode(ctx, &cfg.Chain, &cfg.Auction)
	if err != nil {
		logger.Fatal("Could not connect to the chain node: %s", err)
	}
	defer client.Close()

	coordinator := auction.NewCoordinator(store, client, cfg.Auction.GasLimit)
	srv := server.New(cfg.Server, cfg.Auth, coordinator, store)

	eg, egCtx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		return srv.Run(egCtx)
	})
	if cfg.Reconciler.Enabled {
		rec := reconciler.New(store, client, coordinator, cfg.Reconciler)
		eg.Go(func() error {
			return rec.Run(egCtx)
		})
	}

	if err := eg.Wait(); err != nil && ctx.Err() == nil {
		logger.Fatal("Run error: %s", err)
	}
	logger.SyncFileLogger()
}
