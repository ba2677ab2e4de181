package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"hitomi/internal/camera"
	"hitomi/internal/logging"
	"hitomi/internal/stream"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server ServerConfig   `yaml:"server"`
	Camera CameraConfig   `yaml:"camera"`
	Stream StreamConfig   `yaml:"stream"`
	Log    logging.Config `yaml:"log"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host" validate:"required"`        // リッスンするホスト
	Port int    `yaml:"port" validate:"min=1,max=65535"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout" validate:"min=0"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout" validate:"min=0"` // 書き込みタイムアウト。ストリーミングのため 0 を推奨

	// グレースフルシャットダウンの待ち時間
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" validate:"gt=0"`

	// 許可するオリジン。空なら全オリジンを許可
	CORSOrigins []string `yaml:"cors_origins"`
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Driver string `yaml:"driver" validate:"required"` // mock, v4l2, rpicam
	Device string `yaml:"device"`                     // デバイスパス (例: /dev/video0)。auto で自動検出

	// 起動時の撮影設定
	ScaleDivisor int    `yaml:"scale_divisor" validate:"min=1"` // ネイティブ解像度を割る値
	FPS          int    `yaml:"fps" validate:"min=1,max=60"`    // フレームレート (fps)
	PixelFormat  string `yaml:"pixel_format" validate:"omitempty,oneof=MJPEG RGB888 YUYV"`
	Autofocus    bool   `yaml:"autofocus"`

	// trigger_af の AfMode 切り替え後の待ち時間
	AutofocusSettle time.Duration `yaml:"autofocus_settle" validate:"min=0"`

	// ドライバー固有の設定
	Properties map[string]string `yaml:"properties"`
}

// StreamConfig はライブ配信の設定
type StreamConfig struct {
	FrameInterval time.Duration `yaml:"frame_interval" validate:"gt=0"` // フレームの送出間隔
	ErrorBackoff  time.Duration `yaml:"error_backoff" validate:"gt=0"`  // エラーパート送出後の待ち時間
}

// Default はデフォルト設定を返す
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    0, // ストリーミング用にタイムアウト無効化
			ShutdownTimeout: 5 * time.Second,
		},
		Camera: CameraConfig{
			Driver:          camera.DriverRpicam,
			Device:          camera.DeviceAuto,
			ScaleDivisor:    camera.DefaultScaleDivisor,
			FPS:             camera.DefaultFPS,
			PixelFormat:     string(camera.PixelFormatMJPEG),
			Autofocus:       true,
			AutofocusSettle: camera.DefaultAutofocusSettle,
		},
		Stream: StreamConfig{
			FrameInterval: stream.DefaultFrameInterval,
			ErrorBackoff:  stream.DefaultErrorBackoff,
		},
		Log: logging.Config{
			Level:  "info",
			Format: logging.FormatJSON,
		},
	}
}

// Load は設定を読み込む
// HITOMI_CONFIG が指定されていればそのYAMLファイルを読む
func Load() (*Config, error) {
	return LoadFile(os.Getenv("HITOMI_CONFIG"))
}

// LoadFile はデフォルト値、YAMLファイル、環境変数の順に設定を重ねて読み込む
// path が空の場合はファイルを読まない
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := cfg.decodeYAML(data); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗 (%s): %w", path, err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// decodeYAML はYAMLを現在の値の上に重ねる。未知のキーはエラー
func (c *Config) decodeYAML(data []byte) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("SERVER_PORT", getEnvAsIntOrDefault("PORT", c.Server.Port))
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		c.Server.CORSOrigins = splitList(origins)
	}

	c.Camera.Driver = getEnvOrDefault("CAMERA_DRIVER", c.Camera.Driver)
	c.Camera.Device = getEnvOrDefault("CAMERA_DEVICE", c.Camera.Device)
	c.Camera.FPS = getEnvAsIntOrDefault("CAMERA_FPS", c.Camera.FPS)

	c.Log.Level = getEnvOrDefault("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnvOrDefault("LOG_FORMAT", c.Log.Format)
}

var validate = validator.New()

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s (%s=%v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return fmt.Errorf("無効な設定値: %s", strings.Join(msgs, ", "))
		}
		return err
	}

	// ドライバー名はファクトリに登録されたものに限る
	if !slices.Contains(camera.NewDriverFactory().SupportedDrivers(), c.Camera.Driver) {
		return fmt.Errorf("未対応のカメラドライバー: %s", c.Camera.Driver)
	}

	return nil
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// OpenOptions はデバイスを開くときのオプションを返す
func (c *Config) OpenOptions() camera.OpenOptions {
	return camera.OpenOptions{
		ScaleDivisor: c.Camera.ScaleDivisor,
		FPS:          c.Camera.FPS,
		PixelFormat:  camera.PixelFormat(c.Camera.PixelFormat),
		Autofocus:    c.Camera.Autofocus,
	}
}

// StreamOptions はライブ配信のオプションを返す
func (c *Config) StreamOptions() stream.Options {
	return stream.Options{
		FrameInterval: c.Stream.FrameInterval,
		ErrorBackoff:  c.Stream.ErrorBackoff,
	}
}

// getEnvOrDefault は環境変数を取得し、設定されていない場合はデフォルト値を返す
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault は環境変数を整数として取得し、設定されていない場合はデフォルト値を返す
func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var intVal int
		if _, err := fmt.Sscanf(value, "%d", &intVal); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
