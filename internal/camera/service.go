package camera

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// DefaultAutofocusSettle は AfMode 切り替えから AfTrigger までの待ち時間
const DefaultAutofocusSettle = 50 * time.Millisecond

// defaultService は Coordinator 経由でデバイスを操作する Service の実装
type defaultService struct {
	coord    *Coordinator
	logger   *zap.Logger
	afSettle time.Duration
}

// ServiceOption は Service のオプション
type ServiceOption func(*defaultService)

// WithAutofocusSettle はシングルショットAFの待ち時間を設定する
func WithAutofocusSettle(d time.Duration) ServiceOption {
	return func(s *defaultService) {
		s.afSettle = d
	}
}

// NewService は新しい Service を作成する
func NewService(coord *Coordinator, logger *zap.Logger, opts ...ServiceOption) Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &defaultService{
		coord:    coord,
		logger:   logger,
		afSettle: DefaultAutofocusSettle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Available はデバイスが利用可能かどうかを返す
func (s *defaultService) Available() bool {
	return s.coord.Available()
}

// CaptureFrame は1フレームを取得する
func (s *defaultService) CaptureFrame(ctx context.Context) ([]byte, error) {
	var frame []byte
	err := s.coord.WithDevice(ctx, func(d *Device) error {
		data, err := d.CaptureFrame(ctx)
		if err != nil {
			return err
		}
		frame = data
		return nil
	})
	return frame, err
}

// Start はキャプチャを開始する
func (s *defaultService) Start(ctx context.Context) error {
	return s.coord.WithDevice(ctx, func(d *Device) error {
		return d.Start()
	})
}

// Stop はキャプチャを停止する
func (s *defaultService) Stop(ctx context.Context) error {
	return s.coord.WithDevice(ctx, func(d *Device) error {
		return d.Stop()
	})
}

// Reconfigure は解像度とフレームレートを変更する
func (s *defaultService) Reconfigure(ctx context.Context, width, height, fps int) error {
	w, h, f, err := ValidateResolution(width, height, fps)
	if err != nil {
		return err
	}

	return s.coord.WithDevice(ctx, func(d *Device) error {
		return d.Reconfigure(Configuration{Width: w, Height: h, FPS: f})
	})
}

// SetFocus はフォーカスを設定する
// auto は連続AF、manual はAFを切ってレンズ位置を固定する
func (s *defaultService) SetFocus(ctx context.Context, focus FocusSetting) error {
	var controls map[string]ControlValue
	switch focus.Mode {
	case FocusAuto:
		controls = map[string]ControlValue{
			ControlAfMode: Scalar(AfModeContinuous),
		}
	case FocusManual:
		controls = map[string]ControlValue{
			ControlAfMode:       Scalar(AfModeManual),
			ControlLensPosition: Scalar(focus.Position),
		}
	default:
		return invalid("Mode must be 'auto' or 'manual'")
	}

	return s.coord.WithDevice(ctx, func(d *Device) error {
		return d.SetControls(controls)
	})
}

// TriggerAutofocus はAFをシングルショットに切り替えてスキャンを開始する
// 2回の設定は同じ排他区間内で行う
func (s *defaultService) TriggerAutofocus(ctx context.Context) error {
	return s.coord.WithDevice(ctx, func(d *Device) error {
		if err := d.SetControls(map[string]ControlValue{ControlAfMode: Scalar(AfModeAuto)}); err != nil {
			return err
		}

		if s.afSettle > 0 {
			t := time.NewTimer(s.afSettle)
			select {
			case <-t.C:
			case <-ctx.Done():
				t.Stop()
				return ctx.Err()
			}
		}

		return d.SetControls(map[string]ControlValue{ControlAfTrigger: Scalar(AfTriggerStart)})
	})
}

// SetExposure は自動露出を切って露光時間を設定する
func (s *defaultService) SetExposure(ctx context.Context, micros int) error {
	if _, err := ValidateExposure(micros); err != nil {
		return err
	}

	return s.coord.WithDevice(ctx, func(d *Device) error {
		return d.SetControls(map[string]ControlValue{
			ControlAeEnable:     Bool(false),
			ControlExposureTime: Scalar(float64(micros)),
		})
	})
}

// SetGain は自動露出を切ってアナログゲインを設定する
func (s *defaultService) SetGain(ctx context.Context, gain float64) error {
	if _, err := ValidateGain(gain); err != nil {
		return err
	}

	return s.coord.WithDevice(ctx, func(d *Device) error {
		return d.SetControls(map[string]ControlValue{
			ControlAeEnable:     Bool(false),
			ControlAnalogueGain: Scalar(gain),
		})
	})
}

// SetZoom は倍率を丸めて中央クロップを適用する
// 画素配列サイズの読み取りとクロップの適用は同じ排他区間内で行う
func (s *defaultService) SetZoom(ctx context.Context, level float64) (float64, error) {
	var applied float64
	err := s.coord.WithDevice(ctx, func(d *Device) error {
		lvl, crop := ValidateZoom(level, d.PixelArray())
		if err := d.SetControls(map[string]ControlValue{ControlScalerCrop: RectValue(crop)}); err != nil {
			return err
		}
		applied = lvl
		return nil
	})
	if err != nil {
		return 0, err
	}
	return applied, nil
}

// SetWhiteBalance はホワイトバランスを設定する
func (s *defaultService) SetWhiteBalance(ctx context.Context, wb WhiteBalance) error {
	controls := map[string]ControlValue{ControlAwbEnable: Bool(wb.Auto)}
	if !wb.Auto {
		if _, _, err := ValidateColourGains(wb.Red, wb.Blue); err != nil {
			return err
		}
		controls[ControlColourGains] = Pair(wb.Red, wb.Blue)
	}

	return s.coord.WithDevice(ctx, func(d *Device) error {
		return d.SetControls(controls)
	})
}

// ApplyPreset はプリセットを適用する
// センサーが対応していないコントロールは読み飛ばす
func (s *defaultService) ApplyPreset(ctx context.Context, name string) error {
	preset, err := LookupPreset(name)
	if err != nil {
		return err
	}

	return s.coord.WithDevice(ctx, func(d *Device) error {
		controls, skipped := supportedSubset(preset.Controls, d.Controls().Ranges)
		if len(skipped) > 0 {
			s.logger.Info("未対応のコントロールを読み飛ばします",
				zap.String("preset", name),
				zap.Strings("skipped", skipped),
			)
		}
		if len(controls) == 0 {
			return controlError(errors.New("プリセットに適用可能なコントロールがありません"))
		}
		return d.SetControls(controls)
	})
}

// ControlRange は指定コントロールの範囲と現在値を返す
func (s *defaultService) ControlRange(ctx context.Context, name string) (ControlInfo, error) {
	name, err := ValidateControlName(name)
	if err != nil {
		return ControlInfo{}, err
	}

	var info ControlInfo
	err = s.coord.WithDevice(ctx, func(d *Device) error {
		rng, err := d.ControlRange(name)
		if err != nil {
			return err
		}
		current, ok := d.Applied(name)
		if !ok {
			current = rng.Default
		}
		info = ControlInfo{Name: name, Range: rng, Current: current}
		return nil
	})
	return info, err
}

// Controls はサポートされる全コントロールを返す
func (s *defaultService) Controls(ctx context.Context) (ControlSnapshot, error) {
	var snap ControlSnapshot
	err := s.coord.WithDevice(ctx, func(d *Device) error {
		snap = d.Controls()
		return nil
	})
	return snap, err
}

// Status は現在の状態を返す
// デバイスが利用不可の場合も区間を取得せずに応答する
func (s *defaultService) Status(ctx context.Context) Status {
	var st Status
	err := s.coord.WithDevice(ctx, func(d *Device) error {
		st = d.Status()
		return nil
	})
	if err != nil {
		return Status{
			State:   StateUnavailable,
			Message: err.Error(),
		}
	}
	return st
}

// Close はデバイスを解放する
func (s *defaultService) Close(ctx context.Context) error {
	err := s.coord.WithDevice(ctx, func(d *Device) error {
		return d.Close()
	})
	if errors.Is(err, ErrDeviceUnavailable) {
		return nil
	}
	return err
}
