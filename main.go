package main

import (
	"context"
	"log"

	"go.uber.org/zap"

	"hitomi/internal/config"
	"hitomi/internal/logging"
	"hitomi/internal/server"
)

func main() {
	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// ロガーを作成
	logger, cleanup, err := logging.New(cfg.Log)
	if err != nil {
		log.Fatalf("ロガーの作成に失敗しました: %v", err)
	}
	defer cleanup()

	// コンテキストを作成
	ctx := context.Background()

	// サーバーを作成
	srv, err := server.NewFromConfig(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("サーバーの作成に失敗しました", zap.Error(err))
	}

	// サーバーを起動
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("サーバーの起動に失敗しました", zap.Error(err))
	}
}
