package camera

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
)

// デフォルト値
const (
	DefaultScaleDivisor = 3
	DefaultFPS          = 30
)

// OpenOptions は Open 時の初期設定
type OpenOptions struct {
	ScaleDivisor int         // ネイティブ解像度に対する縮小率
	FPS          int         // 初期フレームレート
	PixelFormat  PixelFormat // 出力画素フォーマット
	Autofocus    bool        // 対応していれば連続AFを有効にする
}

// Device はプロセスに1つだけ存在する撮像デバイス
// Available 以外のメソッドは Coordinator の排他区間内からのみ呼び出すこと
type Device struct {
	driver Driver
	logger *zap.Logger

	available atomic.Bool
	state     State
	sensor    SensorInfo
	config    Configuration
	applied   map[string]ControlValue
}

// NewDevice は新しい Device を作成する。Open するまでは利用不可
func NewDevice(driver Driver, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		driver:  driver,
		logger:  logger,
		state:   StateUnavailable,
		applied: make(map[string]ControlValue),
	}
}

// Open はデバイスを開き、初期設定を適用してキャプチャを開始する
// 失敗した場合はデバイスを利用不可のままにしてエラーを返す。プロセスはそのまま続行してよい
func (d *Device) Open(ctx context.Context, opts OpenOptions) error {
	if d.state != StateUnavailable {
		return nil
	}

	sensor, err := d.driver.Open(ctx)
	if err != nil {
		return d.openFailed(fmt.Errorf("デバイスのオープンに失敗: %w", err))
	}
	if sensor.Controls == nil {
		sensor.Controls = make(map[string]ControlRange)
	}
	if sensor.PixelArray.Width == 0 || sensor.PixelArray.Height == 0 {
		sensor.PixelArray = sensor.Resolution
	}

	initial := initialConfiguration(sensor.Resolution, opts)
	effective, err := d.driver.Configure(initial)
	if err != nil {
		_ = d.driver.Close()
		return d.openFailed(fmt.Errorf("初期設定の適用に失敗 (%dx%d@%d): %w", initial.Width, initial.Height, initial.FPS, err))
	}

	d.sensor = sensor
	d.config = effective

	if opts.Autofocus {
		if _, ok := sensor.Controls[ControlAfMode]; ok {
			af := map[string]ControlValue{ControlAfMode: Scalar(AfModeContinuous)}
			if err := d.driver.SetControls(af); err != nil {
				d.logger.Warn("連続AFの有効化に失敗", zap.Error(err))
			} else {
				d.record(af)
			}
		}
	}

	if err := d.driver.Start(); err != nil {
		_ = d.driver.Close()
		return d.openFailed(fmt.Errorf("キャプチャの開始に失敗: %w", err))
	}

	d.state = StateRunning
	d.available.Store(true)

	d.logger.Info("カメラを初期化しました",
		zap.String("sensor", sensor.Name),
		zap.Stringer("native", sensor.Resolution),
		zap.Stringer("resolution", effective.Size()),
		zap.Int("fps", effective.FPS),
		zap.Int("controls", len(sensor.Controls)),
	)
	return nil
}

func (d *Device) openFailed(err error) error {
	d.state = StateUnavailable
	d.available.Store(false)
	d.logger.Error("カメラの初期化に失敗しました", zap.Error(err))
	return fmt.Errorf("%w: %w", ErrDeviceUnavailable, err)
}

// initialConfiguration はネイティブ解像度を縮小した初期設定を作る。幅と高さは偶数に揃える
func initialConfiguration(native Size, opts OpenOptions) Configuration {
	div := opts.ScaleDivisor
	if div <= 0 {
		div = DefaultScaleDivisor
	}
	fps := opts.FPS
	if fps <= 0 || fps > MaxFPS {
		fps = DefaultFPS
	}
	format := opts.PixelFormat
	if format == "" {
		format = PixelFormatMJPEG
	}

	w := max((native.Width/div)&^1, 2)
	h := max((native.Height/div)&^1, 2)

	return Configuration{Width: w, Height: h, FPS: fps, PixelFormat: format}
}

// Available はデバイスが利用可能かどうかを返す。排他区間の外から呼んでよい
func (d *Device) Available() bool {
	return d.available.Load()
}

// State は現在の状態を返す
func (d *Device) State() State {
	return d.state
}

// CaptureFrame は1フレームを取得する
func (d *Device) CaptureFrame(ctx context.Context) ([]byte, error) {
	if !d.state.canOperate() {
		return nil, ErrDeviceUnavailable
	}
	if d.state != StateRunning {
		return nil, captureError(errors.New("camera is not started"))
	}

	data, err := d.driver.Capture(ctx)
	if err != nil {
		return nil, captureError(err)
	}
	if len(data) == 0 {
		return nil, captureError(errors.New("empty frame"))
	}
	return data, nil
}

// Start はキャプチャを開始する。既に動作中なら何もしない
func (d *Device) Start() error {
	if !d.state.canOperate() {
		return ErrDeviceUnavailable
	}
	if d.state == StateRunning {
		return nil
	}

	if err := d.driver.Start(); err != nil {
		return lifecycleError(fmt.Errorf("キャプチャの開始に失敗: %w", err))
	}
	d.state = StateRunning
	d.logger.Info("キャプチャを開始しました")
	return nil
}

// Stop はキャプチャを停止する。既に停止中なら何もしない
func (d *Device) Stop() error {
	if !d.state.canOperate() {
		return ErrDeviceUnavailable
	}
	if d.state == StateStopped {
		return nil
	}

	if err := d.driver.Stop(); err != nil {
		return lifecycleError(fmt.Errorf("キャプチャの停止に失敗: %w", err))
	}
	d.state = StateStopped
	d.logger.Info("キャプチャを停止しました")
	return nil
}

// Reconfigure は stop → apply → start を1つの単位として実行する
// 失敗した場合は停止状態のままとなり、直前の設定が保持される
func (d *Device) Reconfigure(cfg Configuration) error {
	if !d.state.canOperate() {
		return ErrDeviceUnavailable
	}
	if cfg.PixelFormat == "" {
		cfg.PixelFormat = d.config.PixelFormat
	}

	if d.state == StateRunning {
		err := d.driver.Stop()
		d.state = StateStopped
		if err != nil {
			return reconfigureError(fmt.Errorf("キャプチャの停止に失敗: %w", err))
		}
	}

	effective, err := d.driver.Configure(cfg)
	if err != nil {
		d.logger.Warn("設定の適用に失敗しました",
			zap.Stringer("requested", cfg.Size()),
			zap.Int("fps", cfg.FPS),
			zap.Error(err),
		)
		return reconfigureError(fmt.Errorf("設定の適用に失敗: %w", err))
	}
	d.config = effective

	if err := d.driver.Start(); err != nil {
		return reconfigureError(fmt.Errorf("キャプチャの再開に失敗: %w", err))
	}
	d.state = StateRunning

	d.logger.Info("カメラを再設定しました",
		zap.Stringer("resolution", effective.Size()),
		zap.Int("fps", effective.FPS),
	)
	return nil
}

// SetControls はコントロールをまとめて適用する
// 1つでも未対応・範囲外の値があれば何も適用せずに失敗する
func (d *Device) SetControls(values map[string]ControlValue) error {
	if !d.state.canOperate() {
		return ErrDeviceUnavailable
	}
	if len(values) == 0 {
		return invalid("No controls provided")
	}

	for name, v := range values {
		rng, ok := d.sensor.Controls[name]
		if !ok {
			return controlError(fmt.Errorf("コントロール %s はサポートされていません", name))
		}
		if !rng.Contains(v) {
			return controlError(fmt.Errorf("%s=%v は範囲 [%v, %v] の外です", name, v.Interface(), rng.Min.Interface(), rng.Max.Interface()))
		}
	}

	if err := d.driver.SetControls(values); err != nil {
		return controlError(fmt.Errorf("コントロールの設定に失敗 (%s): %w", formatControls(values), err))
	}

	d.record(values)
	d.logger.Debug("コントロールを設定しました", zap.String("controls", formatControls(values)))
	return nil
}

func (d *Device) record(values map[string]ControlValue) {
	for name, v := range values {
		cp := make(ControlValue, len(v))
		copy(cp, v)
		d.applied[name] = cp
	}
}

// ControlRange は指定コントロールの範囲を返す
func (d *Device) ControlRange(name string) (ControlRange, error) {
	if !d.state.canOperate() {
		return ControlRange{}, ErrDeviceUnavailable
	}
	rng, ok := d.sensor.Controls[name]
	if !ok {
		return ControlRange{}, &NotFoundError{Name: name}
	}
	return rng, nil
}

// Applied は最後に適用された値を返す
func (d *Device) Applied(name string) (ControlValue, bool) {
	v, ok := d.applied[name]
	return v, ok
}

// Controls はサポートされる全コントロールと最後に適用された値のコピーを返す
func (d *Device) Controls() ControlSnapshot {
	snap := ControlSnapshot{
		Ranges:  make(map[string]ControlRange, len(d.sensor.Controls)),
		Applied: make(map[string]ControlValue, len(d.applied)),
	}
	for name, rng := range d.sensor.Controls {
		snap.Ranges[name] = rng
	}
	for name, v := range d.applied {
		snap.Applied[name] = v
	}
	return snap
}

// Configuration は現在の撮影設定を返す
func (d *Device) Configuration() Configuration {
	return d.config
}

// PixelArray はセンサーの画素配列サイズを返す
func (d *Device) PixelArray() Size {
	return d.sensor.PixelArray
}

// Sensor はセンサー情報を返す
func (d *Device) Sensor() SensorInfo {
	return d.sensor
}

// Status は状態のスナップショットを返す
func (d *Device) Status() Status {
	if !d.state.canOperate() {
		return Status{
			State:   d.state,
			Message: UnavailableMessage,
		}
	}

	size := d.config.Size()
	return Status{
		Started:    d.state == StateRunning,
		Resolution: &size,
		Available:  true,
		State:      d.state,
	}
}

// Close はキャプチャを停止してデバイスを解放する。以後デバイスは利用不可になる
func (d *Device) Close() error {
	if !d.state.canOperate() {
		return nil
	}

	var errs []error
	if d.state == StateRunning {
		if err := d.driver.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("キャプチャの停止に失敗: %w", err))
		}
	}
	if err := d.driver.Close(); err != nil {
		errs = append(errs, fmt.Errorf("デバイスのクローズに失敗: %w", err))
	}

	d.state = StateUnavailable
	d.available.Store(false)
	d.logger.Info("カメラを解放しました")

	return errors.Join(errs...)
}
