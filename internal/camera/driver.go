package camera

import (
	"fmt"
	"sort"

	"go.uber.org/zap"
)

// ドライバー名
const (
	DriverMock   = "mock"
	DriverV4L2   = "v4l2"
	DriverRpicam = "rpicam"
)

// DriverConfig はドライバー作成設定
type DriverConfig struct {
	Device     string            // デバイスパス。"auto" で自動検出
	Discovery  Discovery         // デバイス検出に使う。nil なら LinuxDiscovery
	Properties map[string]string // ドライバー固有の追加設定
	Logger     *zap.Logger
}

// DriverCreator はドライバー作成関数の型
type DriverCreator func(cfg DriverConfig) (Driver, error)

// DriverFactory は名前からドライバーを作成する
type DriverFactory interface {
	CreateDriver(name string, cfg DriverConfig) (Driver, error)
	SupportedDrivers() []string
}

// DefaultDriverFactory は標準実装
type DefaultDriverFactory struct {
	creators map[string]DriverCreator
}

// NewDriverFactory は組み込みドライバーを登録したファクトリーを作成する
func NewDriverFactory() *DefaultDriverFactory {
	f := &DefaultDriverFactory{
		creators: make(map[string]DriverCreator),
	}

	f.Register(DriverMock, func(cfg DriverConfig) (Driver, error) {
		return NewMockDriver(), nil
	})
	f.Register(DriverRpicam, NewRpicamDriverFromConfig)

	// V4L2 は Linux のみ
	registerPlatformDrivers(f)

	return f
}

// Register はドライバー作成関数を登録する
func (f *DefaultDriverFactory) Register(name string, creator DriverCreator) {
	f.creators[name] = creator
}

// CreateDriver はドライバーを作成する
func (f *DefaultDriverFactory) CreateDriver(name string, cfg DriverConfig) (Driver, error) {
	creator, exists := f.creators[name]
	if !exists {
		return nil, fmt.Errorf("サポートされていないドライバー: %s", name)
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	return creator(cfg)
}

// SupportedDrivers は登録されているドライバー名を昇順で返す
func (f *DefaultDriverFactory) SupportedDrivers() []string {
	names := make([]string, 0, len(f.creators))
	for name := range f.creators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
