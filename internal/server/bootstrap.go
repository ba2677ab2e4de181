package server

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"hitomi/internal/camera"
	"hitomi/internal/config"
)

// NewFromConfig は設定からドライバー、デバイス、サービスを組み立ててサーバーを作成する
// デバイスを開けなかった場合もサーバーは作成し、カメラ操作は 503 を返す
func NewFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	factory := camera.NewDriverFactory()
	driver, err := factory.CreateDriver(cfg.Camera.Driver, camera.DriverConfig{
		Device:     cfg.Camera.Device,
		Properties: cfg.Camera.Properties,
		Logger:     logger.Named("driver"),
	})
	if err != nil {
		return nil, fmt.Errorf("ドライバーの作成に失敗: %w", err)
	}

	device := camera.NewDevice(driver, logger.Named("device"))
	if err := device.Open(ctx, cfg.OpenOptions()); err != nil {
		// 利用不可のまま起動を続ける
		logger.Error("カメラを利用できません。カメラ操作は 503 を返します",
			zap.String("driver", cfg.Camera.Driver),
			zap.Error(err),
		)
	}

	coord := camera.NewCoordinator(device, camera.WithLogger(logger.Named("coordinator")))
	service := camera.NewService(coord, logger.Named("camera"),
		camera.WithAutofocusSettle(cfg.Camera.AutofocusSettle),
	)

	return New(cfg, service, logger.Named("server")), nil
}
