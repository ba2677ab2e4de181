// Package logging はプロセス全体で使うロガーを構築します。
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// 出力形式
const (
	FormatJSON    = "json"
	FormatConsole = "console"
)

// Config はロガーの設定
type Config struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// New は設定からロガーを作成する
// 標準の log パッケージの出力もこのロガーに流す
func New(cfg Config) (*zap.Logger, func(), error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		l, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("無効なログレベル: %s", cfg.Level)
		}
		level = l
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "", FormatJSON:
		zc = zap.NewProductionConfig()
	case FormatConsole:
		zc = zap.NewDevelopmentConfig()
	default:
		return nil, nil, fmt.Errorf("無効なログ形式: %s", cfg.Format)
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.EncoderConfig.TimeKey = "time"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := zc.Build()
	if err != nil {
		return nil, nil, fmt.Errorf("ロガーの作成に失敗: %w", err)
	}

	restore := zap.RedirectStdLog(logger)
	cleanup := func() {
		restore()
		_ = logger.Sync()
	}

	return logger, cleanup, nil
}
