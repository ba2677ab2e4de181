package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// MockDriver はテストと開発用の合成センサー
// 現在の解像度のグラデーション画像をJPEGで返す
type MockDriver struct {
	mu sync.Mutex

	sensor  SensorInfo
	width   int
	height  int
	fps     int
	format  PixelFormat
	running bool
	opened  bool

	controls map[string]ControlValue
	calls    []map[string]ControlValue
	frames   map[Size][]byte

	openErr      error
	captureErr   error
	configureErr error
	controlErr   error
	startErr     error
	captureDelay time.Duration

	inflight   atomic.Int32
	overlaps   atomic.Int32
	captures   atomic.Int64
	configures atomic.Int64
}

// NewMockDriver は 1920x1080 のセンサーを持つ MockDriver を作成する
func NewMockDriver() *MockDriver {
	return NewMockDriverWithSensor(Size{Width: 1920, Height: 1080})
}

// NewMockDriverWithSensor は指定した解像度のセンサーを持つ MockDriver を作成する
func NewMockDriverWithSensor(native Size) *MockDriver {
	return &MockDriver{
		sensor: SensorInfo{
			Name:       "mock-sensor",
			Resolution: native,
			PixelArray: native,
			Controls:   MockControlRanges(native),
		},
		controls: make(map[string]ControlValue),
		frames:   make(map[Size][]byte),
	}
}

// MockControlRanges は合成センサーが持つコントロールの範囲
func MockControlRanges(native Size) map[string]ControlRange {
	w, h := float64(native.Width), float64(native.Height)
	return map[string]ControlRange{
		ControlAeEnable:     {Min: Bool(false), Max: Bool(true), Default: Bool(true)},
		ControlExposureTime: {Min: Scalar(100), Max: Scalar(MaxExposure), Default: Scalar(10000)},
		ControlAnalogueGain: {Min: Scalar(MinGain), Max: Scalar(MaxGain), Default: Scalar(MinGain)},
		ControlAfMode:       {Min: Scalar(AfModeManual), Max: Scalar(AfModeContinuous), Default: Scalar(AfModeManual)},
		ControlAfTrigger:    {Min: Scalar(AfTriggerStart), Max: Scalar(AfTriggerCancel), Default: Scalar(AfTriggerStart)},
		ControlLensPosition: {Min: Scalar(0), Max: Scalar(32), Default: Scalar(1)},
		ControlAwbEnable:    {Min: Bool(false), Max: Bool(true), Default: Bool(true)},
		ControlColourGains:  {Min: Scalar(0), Max: Scalar(MaxColour), Default: Pair(1, 1)},
		ControlScalerCrop: {
			Min:     ControlValue{0, 0, 1, 1},
			Max:     ControlValue{w, h, w, h},
			Default: RectValue(Rect{Width: native.Width, Height: native.Height}),
		},
		ControlBrightness: {Min: Scalar(-1), Max: Scalar(1), Default: Scalar(0)},
		ControlContrast:   {Min: Scalar(0), Max: Scalar(32), Default: Scalar(1)},
		ControlSaturation: {Min: Scalar(0), Max: Scalar(32), Default: Scalar(1)},
	}
}

// enter と leave はドライバー呼び出しの重なりを検出する
func (m *MockDriver) enter() {
	if m.inflight.Add(1) > 1 {
		m.overlaps.Add(1)
	}
}

func (m *MockDriver) leave() {
	m.inflight.Add(-1)
}

func (m *MockDriver) Open(_ context.Context) (SensorInfo, error) {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.openErr != nil {
		return SensorInfo{}, m.openErr
	}
	m.opened = true
	return m.sensor, nil
}

// Configure は幅と高さを別々に書き換える
// 排他されずに Capture と並行すると中途半端な解像度のフレームが観測される
func (m *MockDriver) Configure(cfg Configuration) (Configuration, error) {
	m.enter()
	defer m.leave()
	m.configures.Add(1)

	m.mu.Lock()
	err := m.configureErr
	running := m.running
	m.mu.Unlock()

	if err != nil {
		return Configuration{}, err
	}
	if running {
		return Configuration{}, errors.New("キャプチャ中は設定を変更できません")
	}
	if cfg.Width > m.sensor.Resolution.Width || cfg.Height > m.sensor.Resolution.Height {
		return Configuration{}, fmt.Errorf("解像度 %dx%d はセンサー %s を超えています", cfg.Width, cfg.Height, m.sensor.Resolution)
	}

	m.mu.Lock()
	m.width = cfg.Width
	m.mu.Unlock()

	runtime.Gosched()

	m.mu.Lock()
	m.height = cfg.Height
	m.fps = cfg.FPS
	m.format = cfg.PixelFormat
	m.mu.Unlock()

	return Configuration{Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS, PixelFormat: PixelFormatMJPEG}, nil
}

func (m *MockDriver) Start() error {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.startErr != nil {
		return m.startErr
	}
	m.running = true
	return nil
}

func (m *MockDriver) Stop() error {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.running = false
	return nil
}

func (m *MockDriver) Capture(ctx context.Context) ([]byte, error) {
	m.enter()
	defer m.leave()
	m.captures.Add(1)

	m.mu.Lock()
	err := m.captureErr
	delay := m.captureDelay
	running := m.running
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if !running {
		return nil, errors.New("キャプチャが開始されていません")
	}

	if delay > 0 {
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		}
	}

	m.mu.Lock()
	size := Size{Width: m.width, Height: m.height}
	m.mu.Unlock()

	return m.frame(size)
}

// frame は解像度ごとに合成画像をエンコードする
func (m *MockDriver) frame(size Size) ([]byte, error) {
	m.mu.Lock()
	cached, ok := m.frames[size]
	m.mu.Unlock()
	if ok {
		return cached, nil
	}

	if size.Width <= 0 || size.Height <= 0 {
		return nil, fmt.Errorf("不正な解像度: %s", size)
	}

	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / size.Width),
				G: uint8(y * 255 / size.Height),
				B: 128,
				A: 255,
			})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 75}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}

	data := buf.Bytes()
	m.mu.Lock()
	m.frames[size] = data
	m.mu.Unlock()
	return data, nil
}

func (m *MockDriver) SetControls(values map[string]ControlValue) error {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.controlErr != nil {
		return m.controlErr
	}

	applied := make(map[string]ControlValue, len(values))
	for name, v := range values {
		cp := make(ControlValue, len(v))
		copy(cp, v)
		m.controls[name] = cp
		applied[name] = cp
	}
	m.calls = append(m.calls, applied)
	return nil
}

func (m *MockDriver) Close() error {
	m.enter()
	defer m.leave()

	m.mu.Lock()
	defer m.mu.Unlock()

	m.opened = false
	m.running = false
	return nil
}

// FailOpen は Open を失敗させる
func (m *MockDriver) FailOpen(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openErr = err
}

// FailCapture は Capture を失敗させる。nil で解除する
func (m *MockDriver) FailCapture(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureErr = err
}

// FailConfigure は Configure を失敗させる。nil で解除する
func (m *MockDriver) FailConfigure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configureErr = err
}

// FailControls は SetControls を失敗させる。nil で解除する
func (m *MockDriver) FailControls(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.controlErr = err
}

// FailStart は Start を失敗させる。nil で解除する
func (m *MockDriver) FailStart(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.startErr = err
}

// SetCaptureDelay は1フレームの取得にかかる時間を設定する
func (m *MockDriver) SetCaptureDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captureDelay = d
}

// Control はドライバーに最後に書き込まれた値を返す
func (m *MockDriver) Control(name string) (ControlValue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.controls[name]
	return v, ok
}

// ControlCalls は SetControls の呼び出し履歴を返す
func (m *MockDriver) ControlCalls() []map[string]ControlValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]ControlValue, len(m.calls))
	copy(out, m.calls)
	return out
}

// Running はキャプチャ中かどうかを返す
func (m *MockDriver) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Overlaps はドライバー呼び出しが重なった回数を返す
func (m *MockDriver) Overlaps() int {
	return int(m.overlaps.Load())
}

// Captures は Capture の呼び出し回数を返す
func (m *MockDriver) Captures() int64 {
	return m.captures.Load()
}

// Configures は Configure の呼び出し回数を返す
func (m *MockDriver) Configures() int64 {
	return m.configures.Load()
}
