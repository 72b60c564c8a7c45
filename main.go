package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Breeze1203/shophub-support/config"
	"github.com/Breeze1203/shophub-support/logger"
	"github.com/Breeze1203/shophub-support/server"
)

func main() {
	configPath := flag.String("config", "", "path to the JSON config file (defaults to CONFIG_PATH or config/config.json)")
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	zl, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatal("Failed to init logger:", err)
	}
	defer zl.Sync()

	s, err := server.NewServer(&cfg, zl)
	if err != nil {
		zl.Fatal("failed to init server", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := s.Start(ctx); err != nil {
		zl.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
	zl.Info("server stopped")
}
