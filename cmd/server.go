// Package main はHitomiサーバーコマンドの実装です
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"hitomi/internal/config"
	"hitomi/internal/logging"
	"hitomi/internal/server"
)

func main() {
	// コマンドラインオプション
	var (
		host       = flag.String("host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
		port       = flag.Int("port", 0, "サーバーのポート (デフォルト: 8080)")
		configPath = flag.String("config", "", "設定ファイル (YAML)")
		driver     = flag.String("driver", "", "カメラドライバー (mock, v4l2, rpicam)")
		device     = flag.String("device", "", "デバイスパス (デフォルト: auto)")
		help       = flag.Bool("help", false, "ヘルプを表示")
	)

	flag.Parse()

	// ヘルプ表示
	if *help {
		fmt.Println("Hitomi")
		fmt.Println()
		fmt.Println("使用方法:")
		fmt.Println("  server [オプション]")
		fmt.Println()
		fmt.Println("オプション:")
		flag.PrintDefaults()
		os.Exit(0)
	}

	// 設定を読み込む
	path := *configPath
	if path == "" {
		path = os.Getenv("HITOMI_CONFIG")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// コマンドラインオプションで設定を上書き
	if *host != "" {
		cfg.Server.Host = *host
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}
	if *driver != "" {
		cfg.Camera.Driver = *driver
	}
	if *device != "" {
		cfg.Camera.Device = *device
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("設定の検証に失敗しました: %v", err)
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
	logger.Info("Hitomi サーバーを起動します", zap.String("addr", cfg.ServerAddress()))
	if err := srv.Start(ctx); err != nil {
		logger.Fatal("サーバーの起動に失敗しました", zap.Error(err))
	}
}
