//go:build linux

package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"math"
	"slices"

	"github.com/blackjack/webcam"
	"go.uber.org/zap"
)

// V4L2 のフォーマット
var (
	fourccMJPG = webcam.PixelFormat(uint32('M') | uint32('J')<<8 | uint32('P')<<16 | uint32('G')<<24)
	fourccYUYV = webcam.PixelFormat(uint32('Y') | uint32('U')<<8 | uint32('Y')<<16 | uint32('V')<<24)
)

// V4L2 のコントロールID
const (
	cidBrightness       webcam.ControlID = 0x00980900
	cidContrast         webcam.ControlID = 0x00980901
	cidSaturation       webcam.ControlID = 0x00980902
	cidAutoWhiteBalance webcam.ControlID = 0x0098090c
	cidRedBalance       webcam.ControlID = 0x0098090e
	cidBlueBalance      webcam.ControlID = 0x0098090f
	cidGain             webcam.ControlID = 0x00980913
	cidExposureAuto     webcam.ControlID = 0x009a0901
	cidExposureAbsolute webcam.ControlID = 0x009a0902 // 100µs 単位
	cidFocusAbsolute    webcam.ControlID = 0x009a090a
	cidFocusAuto        webcam.ControlID = 0x009a090c
	cidAutoFocusStart   webcam.ControlID = 0x009a091c
)

// V4L2_CID_EXPOSURE_AUTO の値
const (
	exposureManual           = 1
	exposureAperturePriority = 3
)

const (
	v4l2FrameTimeout = 2 // 秒
	v4l2BufferCount  = 2
	v4l2JPEGQuality  = 85
)

func registerPlatformDrivers(f *DefaultDriverFactory) {
	f.Register(DriverV4L2, NewV4L2DriverFromConfig)
}

// v4l2Driver は blackjack/webcam で V4L2 デバイスを直接操作するドライバー
// ScalerCrop は取得したフレームをソフトウェアで切り出して実現する
type v4l2Driver struct {
	device    string
	discovery Discovery
	logger    *zap.Logger

	cam      *webcam.Webcam
	format   webcam.PixelFormat
	native   Size
	config   Configuration
	v4l2     map[webcam.ControlID]webcam.Control
	crop     Rect
	cropping bool
}

// NewV4L2DriverFromConfig は設定から V4L2 ドライバーを作成する
func NewV4L2DriverFromConfig(cfg DriverConfig) (Driver, error) {
	discovery := cfg.Discovery
	if discovery == nil {
		discovery = NewLinuxDiscovery()
	}
	return &v4l2Driver{
		device:    cfg.Device,
		discovery: discovery,
		logger:    cfg.Logger,
	}, nil
}

func (d *v4l2Driver) Open(ctx context.Context) (SensorInfo, error) {
	device, err := ResolveDevice(ctx, d.discovery, d.device)
	if err != nil {
		return SensorInfo{}, err
	}

	cam, err := webcam.Open(device)
	if err != nil {
		return SensorInfo{}, fmt.Errorf("%s のオープンに失敗: %w", device, err)
	}

	formats := cam.GetSupportedFormats()
	switch {
	case formats[fourccMJPG] != "":
		d.format = fourccMJPG
	case formats[fourccYUYV] != "":
		d.format = fourccYUYV
	default:
		_ = cam.Close()
		return SensorInfo{}, fmt.Errorf("%s は MJPG/YUYV をサポートしていません", device)
	}

	for _, fs := range cam.GetSupportedFrameSizes(d.format) {
		if int(fs.MaxWidth)*int(fs.MaxHeight) > d.native.Width*d.native.Height {
			d.native = Size{Width: int(fs.MaxWidth), Height: int(fs.MaxHeight)}
		}
	}
	if d.native.Width == 0 {
		_ = cam.Close()
		return SensorInfo{}, fmt.Errorf("%s のフレームサイズを取得できません", device)
	}

	d.cam = cam
	d.v4l2 = cam.GetControls()

	name := device
	if info, err := d.discovery.GetDeviceInfo(ctx, device); err == nil && info.Name != "" {
		name = info.Name
	}

	d.logger.Info("V4L2デバイスを開きました",
		zap.String("device", device),
		zap.String("name", name),
		zap.String("format", formats[d.format]),
		zap.Stringer("native", d.native),
		zap.Int("v4l2_controls", len(d.v4l2)),
	)

	return SensorInfo{
		Name:       name,
		Resolution: d.native,
		PixelArray: d.native,
		Controls:   d.controlRanges(),
	}, nil
}

// controlRanges はデバイスが持つ V4L2 コントロールから対応するコントロールの範囲を作る
func (d *v4l2Driver) controlRanges() map[string]ControlRange {
	ranges := make(map[string]ControlRange)
	has := func(id webcam.ControlID) bool {
		_, ok := d.v4l2[id]
		return ok
	}

	if has(cidExposureAuto) {
		ranges[ControlAeEnable] = ControlRange{Min: Bool(false), Max: Bool(true), Default: Bool(true)}
	}
	if c, ok := d.v4l2[cidExposureAbsolute]; ok {
		ranges[ControlExposureTime] = ControlRange{
			Min:     Scalar(float64(c.Min) * 100),
			Max:     Scalar(float64(c.Max) * 100),
			Default: Scalar(float64(c.Min) * 100),
		}
	}
	if has(cidGain) {
		ranges[ControlAnalogueGain] = ControlRange{Min: Scalar(MinGain), Max: Scalar(MaxGain), Default: Scalar(MinGain)}
	}
	if has(cidFocusAuto) {
		ranges[ControlAfMode] = ControlRange{Min: Scalar(AfModeManual), Max: Scalar(AfModeContinuous), Default: Scalar(AfModeContinuous)}
		ranges[ControlAfTrigger] = ControlRange{Min: Scalar(AfTriggerStart), Max: Scalar(AfTriggerCancel), Default: Scalar(AfTriggerStart)}
	}
	if c, ok := d.v4l2[cidFocusAbsolute]; ok {
		ranges[ControlLensPosition] = ControlRange{
			Min:     Scalar(float64(c.Min)),
			Max:     Scalar(float64(c.Max)),
			Default: Scalar(float64(c.Min)),
		}
	}
	if has(cidAutoWhiteBalance) {
		ranges[ControlAwbEnable] = ControlRange{Min: Bool(false), Max: Bool(true), Default: Bool(true)}
	}
	if has(cidRedBalance) && has(cidBlueBalance) {
		ranges[ControlColourGains] = ControlRange{Min: Scalar(0), Max: Scalar(MaxColour), Default: Pair(1, 1)}
	}
	if has(cidBrightness) {
		ranges[ControlBrightness] = ControlRange{Min: Scalar(-1), Max: Scalar(1), Default: Scalar(0)}
	}
	if has(cidContrast) {
		ranges[ControlContrast] = ControlRange{Min: Scalar(0), Max: Scalar(2), Default: Scalar(1)}
	}
	if has(cidSaturation) {
		ranges[ControlSaturation] = ControlRange{Min: Scalar(0), Max: Scalar(2), Default: Scalar(1)}
	}

	ranges[ControlScalerCrop] = ControlRange{
		Min:     ControlValue{0, 0, 1, 1},
		Max:     ControlValue{float64(d.native.Width), float64(d.native.Height), float64(d.native.Width), float64(d.native.Height)},
		Default: RectValue(Rect{Width: d.native.Width, Height: d.native.Height}),
	}

	return ranges
}

func (d *v4l2Driver) Configure(cfg Configuration) (Configuration, error) {
	if d.cam == nil {
		return Configuration{}, errors.New("デバイスが開かれていません")
	}

	_, w, h, err := d.cam.SetImageFormat(d.format, uint32(cfg.Width), uint32(cfg.Height))
	if err != nil {
		return Configuration{}, fmt.Errorf("フォーマットの設定に失敗 (%dx%d): %w", cfg.Width, cfg.Height, err)
	}

	if err := d.cam.SetFramerate(float32(cfg.FPS)); err != nil {
		d.logger.Warn("フレームレートの設定に失敗", zap.Int("fps", cfg.FPS), zap.Error(err))
	}

	d.config = Configuration{
		Width:       int(w),
		Height:      int(h),
		FPS:         cfg.FPS,
		PixelFormat: PixelFormatMJPEG,
	}
	return d.config, nil
}

func (d *v4l2Driver) Start() error {
	if err := d.cam.SetBufferCount(v4l2BufferCount); err != nil {
		d.logger.Debug("バッファ数の設定に失敗", zap.Error(err))
	}
	return d.cam.StartStreaming()
}

func (d *v4l2Driver) Stop() error {
	return d.cam.StopStreaming()
}

func (d *v4l2Driver) Capture(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := d.cam.WaitForFrame(v4l2FrameTimeout); err != nil {
		var timeout *webcam.Timeout
		if errors.As(err, &timeout) {
			return nil, errors.New("フレーム待ちがタイムアウトしました")
		}
		return nil, fmt.Errorf("フレーム待ちに失敗: %w", err)
	}

	buf, index, err := d.cam.GetFrame()
	if err != nil {
		return nil, fmt.Errorf("フレームの読み取りに失敗: %w", err)
	}
	// mmap 領域はすぐ再利用されるためコピーする
	frame := make([]byte, len(buf))
	copy(frame, buf)
	if err := d.cam.ReleaseFrame(index); err != nil {
		d.logger.Debug("フレームの解放に失敗", zap.Error(err))
	}

	if d.format == fourccYUYV {
		return encodeYUYV(frame, d.config.Width, d.config.Height, d.cropRect())
	}
	if d.cropping {
		return cropJPEG(frame, d.cropRect())
	}
	return frame, nil
}

// cropRect は画素配列上のクロップ矩形を現在の出力解像度に換算する
func (d *v4l2Driver) cropRect() *Rect {
	if !d.cropping {
		return nil
	}
	sx := float64(d.config.Width) / float64(d.native.Width)
	sy := float64(d.config.Height) / float64(d.native.Height)
	return &Rect{
		X:      int(float64(d.crop.X) * sx),
		Y:      int(float64(d.crop.Y) * sy),
		Width:  int(float64(d.crop.Width) * sx),
		Height: int(float64(d.crop.Height) * sy),
	}
}

// v4l2Write は V4L2 コントロールへの1回の書き込み
type v4l2Write struct {
	id    webcam.ControlID
	value int32
}

// v4l2ModeControls は値コントロールより先に書き込む自動/手動切り替え
// UVC は自動制御中の値コントロールへの書き込みを拒否する
var v4l2ModeControls = []string{ControlAeEnable, ControlAfMode, ControlAwbEnable}

// v4l2WriteOrder はモード切り替えを先頭に、残りを名前順に並べる
func v4l2WriteOrder(values map[string]ControlValue) []string {
	names := make([]string, 0, len(values))
	for _, name := range v4l2ModeControls {
		if _, ok := values[name]; ok {
			names = append(names, name)
		}
	}
	rest := make([]string, 0, len(values))
	for name := range values {
		if !slices.Contains(v4l2ModeControls, name) {
			rest = append(rest, name)
		}
	}
	slices.Sort(rest)
	return append(names, rest...)
}

// writePlan はコントロール値を書き込み順の V4L2 書き込み列にする
func (d *v4l2Driver) writePlan(values map[string]ControlValue) ([]v4l2Write, error) {
	var writes []v4l2Write

	for _, name := range v4l2WriteOrder(values) {
		v := values[name]
		switch name {
		case ControlAeEnable:
			mode := int32(exposureManual)
			if v.Bool() {
				mode = exposureAperturePriority
			}
			writes = append(writes, v4l2Write{cidExposureAuto, mode})
		case ControlExposureTime:
			writes = append(writes, v4l2Write{cidExposureAbsolute, int32(math.Round(v.Float() / 100))})
		case ControlAnalogueGain:
			writes = append(writes, v4l2Write{cidGain, d.scale(cidGain, (v.Float()-MinGain)/(MaxGain-MinGain))})
		case ControlAfMode:
			auto := int32(0)
			if v.Int() != AfModeManual {
				auto = 1
			}
			writes = append(writes, v4l2Write{cidFocusAuto, auto})
		case ControlAfTrigger:
			if v.Int() != AfTriggerStart {
				continue
			}
			if _, ok := d.v4l2[cidAutoFocusStart]; ok {
				writes = append(writes, v4l2Write{cidAutoFocusStart, 1})
			} else {
				// 連続AFを入れ直してスキャンさせる
				writes = append(writes, v4l2Write{cidFocusAuto, 0}, v4l2Write{cidFocusAuto, 1})
			}
		case ControlLensPosition:
			writes = append(writes, v4l2Write{cidFocusAbsolute, int32(math.Round(v.Float()))})
		case ControlAwbEnable:
			writes = append(writes, v4l2Write{cidAutoWhiteBalance, boolToInt32(v.Bool())})
		case ControlColourGains:
			if len(v) < 2 {
				return nil, fmt.Errorf("ColourGains には2要素が必要です: %v", v.Interface())
			}
			writes = append(writes,
				v4l2Write{cidRedBalance, d.scale(cidRedBalance, v[0]/MaxColour)},
				v4l2Write{cidBlueBalance, d.scale(cidBlueBalance, v[1]/MaxColour)},
			)
		case ControlBrightness:
			writes = append(writes, v4l2Write{cidBrightness, d.scale(cidBrightness, (v.Float()+1)/2)})
		case ControlContrast:
			writes = append(writes, v4l2Write{cidContrast, d.scale(cidContrast, v.Float()/2)})
		case ControlSaturation:
			writes = append(writes, v4l2Write{cidSaturation, d.scale(cidSaturation, v.Float()/2)})
		case ControlScalerCrop:
			// ソフトウェアクロップなので書き込みは不要
		default:
			return nil, fmt.Errorf("未対応のコントロール: %s", name)
		}
	}
	return writes, nil
}

func (d *v4l2Driver) SetControls(values map[string]ControlValue) error {
	writes, err := d.writePlan(values)
	if err != nil {
		return err
	}

	for _, w := range writes {
		if err := d.cam.SetControl(w.id, w.value); err != nil {
			return fmt.Errorf("V4L2 コントロール 0x%08x=%d の設定に失敗: %w", uint32(w.id), w.value, err)
		}
	}

	if v, ok := values[ControlScalerCrop]; ok {
		d.crop = v.Rect()
		d.cropping = d.crop != (Rect{Width: d.native.Width, Height: d.native.Height})
	}
	return nil
}

// scale は [0,1] の比率を V4L2 コントロールの生の範囲に写す
func (d *v4l2Driver) scale(id webcam.ControlID, ratio float64) int32 {
	c := d.v4l2[id]
	ratio = math.Max(0, math.Min(1, ratio))
	return c.Min + int32(math.Round(ratio*float64(c.Max-c.Min)))
}

func (d *v4l2Driver) Close() error {
	if d.cam == nil {
		return nil
	}
	err := d.cam.Close()
	d.cam = nil
	return err
}

func boolToInt32(b bool) int32 {
	if b {
		return 1
	}
	return 0
}

// encodeYUYV は YUYV 4:2:2 のフレームをJPEGにする
func encodeYUYV(frame []byte, width, height int, crop *Rect) ([]byte, error) {
	if len(frame) < width*height*2 {
		return nil, fmt.Errorf("YUYV フレームが短すぎます: %d bytes", len(frame))
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio422)
	for y := 0; y < height; y++ {
		row := frame[y*width*2 : (y+1)*width*2]
		for x := 0; x < width; x += 2 {
			i := x * 2
			img.Y[y*img.YStride+x] = row[i]
			img.Y[y*img.YStride+x+1] = row[i+2]
			img.Cb[y*img.CStride+x/2] = row[i+1]
			img.Cr[y*img.CStride+x/2] = row[i+3]
		}
	}

	var src image.Image = img
	if crop != nil {
		src = img.SubImage(image.Rect(crop.X, crop.Y, crop.X+crop.Width, crop.Y+crop.Height))
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: v4l2JPEGQuality}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// cropJPEG はJPEGフレームを切り出して再エンコードする
func cropJPEG(frame []byte, crop *Rect) ([]byte, error) {
	img, err := jpeg.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("JPEG画像のデコードに失敗: %w", err)
	}

	type subImager interface {
		SubImage(r image.Rectangle) image.Image
	}
	si, ok := img.(subImager)
	if !ok {
		return frame, nil
	}
	b := img.Bounds()
	sub := si.SubImage(image.Rect(b.Min.X+crop.X, b.Min.Y+crop.Y, b.Min.X+crop.X+crop.Width, b.Min.Y+crop.Y+crop.Height))

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, sub, &jpeg.Options{Quality: v4l2JPEGQuality}); err != nil {
		return nil, fmt.Errorf("JPEGエンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}
