package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// rpicam-apps のコマンド名。古いOSでは libcamera-* になっている
var rpicamCommands = []string{"rpicam-jpeg", "libcamera-jpeg"}

const rpicamJPEGQuality = 80

// rpicamDriver は rpicam-jpeg を1フレームごとに実行する libcamera バックエンド
// コントロールは次回以降のキャプチャのコマンドライン引数として反映する
type rpicamDriver struct {
	command string
	camera  int
	logger  *zap.Logger

	sensor   SensorInfo
	config   Configuration
	running  bool
	controls map[string]ControlValue
}

// NewRpicamDriverFromConfig は設定から rpicam ドライバーを作成する
// Properties の "camera" でカメラ番号、"command" で実行ファイルを指定できる
func NewRpicamDriverFromConfig(cfg DriverConfig) (Driver, error) {
	d := &rpicamDriver{
		logger:   cfg.Logger,
		controls: make(map[string]ControlValue),
	}

	if v, ok := cfg.Properties["camera"]; ok {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("不正なカメラ番号: %s", v)
		}
		d.camera = n
	}
	d.command = cfg.Properties["command"]

	return d, nil
}

func (d *rpicamDriver) Open(ctx context.Context) (SensorInfo, error) {
	if d.command == "" {
		for _, name := range rpicamCommands {
			if _, err := exec.LookPath(name); err == nil {
				d.command = name
				break
			}
		}
		if d.command == "" {
			return SensorInfo{}, errors.New("rpicam-jpeg も libcamera-jpeg も見つかりません (sudo apt install rpicam-apps)")
		}
	}

	out, err := exec.CommandContext(ctx, d.command, "--list-cameras").CombinedOutput()
	if err != nil {
		return SensorInfo{}, fmt.Errorf("カメラ一覧の取得に失敗: %w", err)
	}

	cams := parseCameraList(string(out))
	if d.camera >= len(cams) {
		return SensorInfo{}, fmt.Errorf("カメラ %d が見つかりません (検出数 %d)", d.camera, len(cams))
	}

	d.sensor = cams[d.camera]
	d.sensor.Controls = libcameraControlRanges(d.sensor.PixelArray)

	d.logger.Info("libcamera センサーを検出しました",
		zap.String("command", d.command),
		zap.Int("camera", d.camera),
		zap.String("sensor", d.sensor.Name),
		zap.Stringer("native", d.sensor.Resolution),
	)
	return d.sensor, nil
}

var cameraListRe = regexp.MustCompile(`^\s*(\d+)\s*:\s*(\S+)\s*\[(\d+)x(\d+)`)

// parseCameraList は --list-cameras の出力をセンサー情報にする
//
//	0 : imx708 [4608x2592 10-bit RGGB] (/base/soc/i2c0mux/i2c@1/imx708@1a)
func parseCameraList(out string) []SensorInfo {
	var cams []SensorInfo
	for _, line := range strings.Split(out, "\n") {
		m := cameraListRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		w, _ := strconv.Atoi(m[3])
		h, _ := strconv.Atoi(m[4])
		size := Size{Width: w, Height: h}
		cams = append(cams, SensorInfo{Name: m[2], Resolution: size, PixelArray: size})
	}
	return cams
}

// libcameraControlRanges は rpicam-apps の引数で表現できるコントロールの範囲
func libcameraControlRanges(pixelArray Size) map[string]ControlRange {
	ranges := MockControlRanges(pixelArray)
	ranges[ControlExposureTime] = ControlRange{Min: Scalar(1), Max: Scalar(MaxExposure), Default: Scalar(10000)}
	ranges[ControlAfMode] = ControlRange{Min: Scalar(AfModeManual), Max: Scalar(AfModeContinuous), Default: Scalar(AfModeContinuous)}
	return ranges
}

func (d *rpicamDriver) Configure(cfg Configuration) (Configuration, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return Configuration{}, fmt.Errorf("不正な解像度: %dx%d", cfg.Width, cfg.Height)
	}
	if cfg.Width > d.sensor.Resolution.Width || cfg.Height > d.sensor.Resolution.Height {
		return Configuration{}, fmt.Errorf("解像度 %dx%d はセンサー %s を超えています", cfg.Width, cfg.Height, d.sensor.Resolution)
	}
	d.config = Configuration{Width: cfg.Width, Height: cfg.Height, FPS: cfg.FPS, PixelFormat: PixelFormatMJPEG}
	return d.config, nil
}

func (d *rpicamDriver) Start() error {
	d.running = true
	return nil
}

func (d *rpicamDriver) Stop() error {
	d.running = false
	return nil
}

func (d *rpicamDriver) Capture(ctx context.Context) ([]byte, error) {
	if !d.running {
		return nil, errors.New("キャプチャが開始されていません")
	}

	cmd := exec.CommandContext(ctx, d.command, d.captureArgs()...)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s に失敗: %w (stderr: %s)", d.command, err, strings.TrimSpace(stderr.String()))
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("%s が空のフレームを返しました", d.command)
	}
	return stdout.Bytes(), nil
}

// captureArgs は現在の設定とコントロールからコマンドライン引数を組み立てる
func (d *rpicamDriver) captureArgs() []string {
	args := []string{
		"--camera", strconv.Itoa(d.camera),
		"--width", strconv.Itoa(d.config.Width),
		"--height", strconv.Itoa(d.config.Height),
		"--timeout", "1",
		"--nopreview",
		"--output", "-",
		"--quality", strconv.Itoa(rpicamJPEGQuality),
	}

	c := d.controls
	float := func(v float64) string {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	if ae, ok := c[ControlAeEnable]; ok && !ae.Bool() {
		if v, ok := c[ControlExposureTime]; ok {
			args = append(args, "--shutter", strconv.Itoa(v.Int()))
		}
		if v, ok := c[ControlAnalogueGain]; ok {
			args = append(args, "--gain", float(v.Float()))
		}
	}

	if v, ok := c[ControlAfMode]; ok {
		switch v.Int() {
		case AfModeManual:
			args = append(args, "--autofocus-mode", "manual")
			if p, ok := c[ControlLensPosition]; ok {
				args = append(args, "--lens-position", float(p.Float()))
			}
		case AfModeAuto:
			args = append(args, "--autofocus-mode", "auto")
			if t, ok := c[ControlAfTrigger]; ok && t.Int() == AfTriggerStart {
				args = append(args, "--autofocus-on-capture")
			}
		default:
			args = append(args, "--autofocus-mode", "continuous")
		}
	}

	if awb, ok := c[ControlAwbEnable]; ok && !awb.Bool() {
		if g, ok := c[ControlColourGains]; ok && len(g) >= 2 {
			args = append(args, "--awbgains", float(g[0])+","+float(g[1]))
		}
	}

	if v, ok := c[ControlScalerCrop]; ok {
		r := v.Rect()
		full := d.sensor.PixelArray
		if full.Width > 0 && full.Height > 0 && r != (Rect{Width: full.Width, Height: full.Height}) {
			args = append(args, "--roi", fmt.Sprintf("%s,%s,%s,%s",
				float(float64(r.X)/float64(full.Width)),
				float(float64(r.Y)/float64(full.Height)),
				float(float64(r.Width)/float64(full.Width)),
				float(float64(r.Height)/float64(full.Height)),
			))
		}
	}

	for _, tune := range []struct{ name, flag string }{
		{ControlBrightness, "--brightness"},
		{ControlContrast, "--contrast"},
		{ControlSaturation, "--saturation"},
	} {
		if v, ok := c[tune.name]; ok {
			args = append(args, tune.flag, float(v.Float()))
		}
	}

	return args
}

func (d *rpicamDriver) SetControls(values map[string]ControlValue) error {
	for name, v := range values {
		cp := make(ControlValue, len(v))
		copy(cp, v)
		d.controls[name] = cp
	}
	return nil
}

func (d *rpicamDriver) Close() error {
	d.running = false
	return nil
}
