package camera

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SectionObserver は排他区間の出入りを観測する
type SectionObserver interface {
	SectionEntered()
	SectionExited()
}

// Coordinator はデバイスへのアクセスを1つの排他区間に直列化する
// 区間は再入不可。区間内から WithDevice を呼ぶとデッドロックする
type Coordinator struct {
	device   *Device
	sem      chan struct{}
	logger   *zap.Logger
	observer SectionObserver
}

// CoordinatorOption は Coordinator のオプション
type CoordinatorOption func(*Coordinator)

// WithObserver は排他区間の観測者を設定する
func WithObserver(o SectionObserver) CoordinatorOption {
	return func(c *Coordinator) {
		c.observer = o
	}
}

// WithLogger はロガーを設定する
func WithLogger(logger *zap.Logger) CoordinatorOption {
	return func(c *Coordinator) {
		c.logger = logger
	}
}

// NewCoordinator は新しい Coordinator を作成する
func NewCoordinator(device *Device, opts ...CoordinatorOption) *Coordinator {
	c := &Coordinator{
		device: device,
		sem:    make(chan struct{}, 1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Available はデバイスが利用可能かどうかを返す。区間は取得しない
func (c *Coordinator) Available() bool {
	return c.device.Available()
}

// WithDevice は排他区間内で op を実行する
// デバイスが利用不可の場合は区間を取得せずに ErrDeviceUnavailable を返す
// 区間の待機中に ctx が終了した場合は ctx.Err() を返す
func (c *Coordinator) WithDevice(ctx context.Context, op func(*Device) error) error {
	if !c.device.Available() {
		return ErrDeviceUnavailable
	}

	waitStart := time.Now()
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	if c.observer != nil {
		c.observer.SectionEntered()
		defer c.observer.SectionExited()
	}

	holdStart := time.Now()
	defer func() {
		if ce := c.logger.Check(zap.DebugLevel, "排他区間を解放"); ce != nil {
			ce.Write(
				zap.Duration("wait", holdStart.Sub(waitStart)),
				zap.Duration("hold", time.Since(holdStart)),
			)
		}
	}()

	// 待機中にクローズされた可能性がある
	if !c.device.Available() {
		return ErrDeviceUnavailable
	}

	return op(c.device)
}
