package camera

import (
	"context"
	"fmt"
)

// Size は画像や画素配列の大きさを表す
type Size struct {
	Width  int // 幅
	Height int // 高さ
}

// String は "WxH" 形式で返す
func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// Rect はセンサー画素配列上の矩形（ScalerCrop）を表す
type Rect struct {
	X      int
	Y      int
	Width  int
	Height int
}

// PixelFormat は出力画素フォーマット
type PixelFormat string

const (
	PixelFormatMJPEG  PixelFormat = "MJPEG"
	PixelFormatRGB888 PixelFormat = "RGB888"
	PixelFormatYUYV   PixelFormat = "YUYV"
)

// Configuration はデバイスに適用される撮影設定
// 一度適用されたら不変。変更は Reconfigure による stop → apply → start でのみ行う
type Configuration struct {
	Width       int         // 画像幅
	Height      int         // 画像高さ
	FPS         int         // フレームレート
	PixelFormat PixelFormat // 画素フォーマット
}

// Size は解像度部分を返す
func (c Configuration) Size() Size {
	return Size{Width: c.Width, Height: c.Height}
}

// SensorInfo はドライバーが Open 時に報告するセンサー情報
type SensorInfo struct {
	Name       string                  // センサー名
	Resolution Size                    // ネイティブ解像度
	PixelArray Size                    // ScalerCrop の基準となる画素配列
	Controls   map[string]ControlRange // サポートされるコントロール
}

// Status はデバイスの状態スナップショット
type Status struct {
	Started    bool
	Resolution *Size // デバイスが無い場合は nil
	Available  bool
	State      State
	Message    string
}

// Driver はハードウェアバックエンドの抽象
// 実装は並行アクセスに対して安全である必要はない。呼び出しは必ず Coordinator の排他区間内で行われる
type Driver interface {
	// Open はデバイスを開きセンサー情報を返す
	Open(ctx context.Context) (SensorInfo, error)

	// Configure は撮影設定を適用し、実際に適用された設定を返す
	// 停止中にのみ呼ばれる。失敗時は何も適用してはならない
	Configure(cfg Configuration) (Configuration, error)

	// Start はキャプチャを開始する
	Start() error

	// Stop はキャプチャを停止する
	Stop() error

	// Capture は1フレームをJPEGとして取得する
	Capture(ctx context.Context) ([]byte, error)

	// SetControls はコントロールをまとめて適用する
	SetControls(values map[string]ControlValue) error

	// Close はデバイスを解放する
	Close() error
}

// Service はHTTP層から利用されるカメラ操作を提供するインターフェース
// 入力値の検証は ControlRegistry の関数で行い、デバイスへのアクセスは Coordinator を経由する
type Service interface {
	// Available はデバイスが利用可能かどうかを返す（排他区間を取得しない）
	Available() bool

	// CaptureFrame は1フレームを取得する
	CaptureFrame(ctx context.Context) ([]byte, error)

	// Start はキャプチャを開始する（冪等）
	Start(ctx context.Context) error

	// Stop はキャプチャを停止する（冪等）
	Stop(ctx context.Context) error

	// Reconfigure は解像度とフレームレートを変更する
	Reconfigure(ctx context.Context, width, height, fps int) error

	// SetFocus はフォーカスモードとレンズ位置を設定する
	SetFocus(ctx context.Context, focus FocusSetting) error

	// TriggerAutofocus はシングルショットAFを実行する
	TriggerAutofocus(ctx context.Context) error

	// SetExposure は自動露出を無効化し露光時間(µs)を設定する
	SetExposure(ctx context.Context, micros int) error

	// SetGain は自動露出を無効化しアナログゲインを設定する
	SetGain(ctx context.Context, gain float64) error

	// SetZoom はズーム倍率から中央クロップを計算して適用し、適用した倍率を返す
	SetZoom(ctx context.Context, level float64) (float64, error)

	// SetWhiteBalance はホワイトバランスを設定する
	SetWhiteBalance(ctx context.Context, wb WhiteBalance) error

	// ApplyPreset は名前付きのコントロールセットを適用する
	ApplyPreset(ctx context.Context, name string) error

	// ControlRange は指定コントロールの範囲と現在値を返す
	ControlRange(ctx context.Context, name string) (ControlInfo, error)

	// Controls はサポートされる全コントロールと最後に適用された値を返す
	Controls(ctx context.Context) (ControlSnapshot, error)

	// Status は現在の状態を返す
	Status(ctx context.Context) Status

	// Close はデバイスを解放する
	Close(ctx context.Context) error
}

// FocusSetting は検証済みのフォーカス設定
type FocusSetting struct {
	Mode     FocusMode
	Position float64
}

// FocusMode はフォーカスモード
type FocusMode string

const (
	FocusAuto   FocusMode = "auto"
	FocusManual FocusMode = "manual"
)

// WhiteBalance は検証済みのホワイトバランス設定
type WhiteBalance struct {
	Auto bool
	Red  float64
	Blue float64
}

// ControlSnapshot はコントロール一覧と最後に適用された値
type ControlSnapshot struct {
	Ranges  map[string]ControlRange
	Applied map[string]ControlValue
}

// ControlInfo は1つのコントロールの範囲と現在値
// Current は最後に適用された値。未適用の場合は Default
type ControlInfo struct {
	Name    string
	Range   ControlRange
	Current ControlValue
}
