package camera

import (
	"errors"
	"fmt"
)

// UnavailableMessage は利用不可のときクライアントに返すメッセージ
const UnavailableMessage = "Camera not available"

// ErrDeviceUnavailable はデバイスを開けなかった場合に全操作が返すエラー
// 一度この状態になるとプロセス終了まで復帰しない
var ErrDeviceUnavailable = errors.New("camera not available")

// デバイス層の失敗の種類
var (
	ErrCapture     = errors.New("capture failed")
	ErrControl     = errors.New("control failed")
	ErrReconfigure = errors.New("reconfigure failed")
	ErrLifecycle   = errors.New("start/stop failed")
)

// ValidationError は入力値の検証エラー。デバイスに触れる前に返される
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

// NotFoundError はサポートされていないコントロール名やプリセット名
type NotFoundError struct {
	Kind string // 空の場合は "Control"
	Name string
}

func (e *NotFoundError) Error() string {
	kind := e.Kind
	if kind == "" {
		kind = "Control"
	}
	return fmt.Sprintf("%s '%s' not found", kind, e.Name)
}

// DeviceError は検証済みの操作がデバイス層で失敗したことを表す
// Kind は ErrCapture / ErrControl / ErrReconfigure / ErrLifecycle のいずれか
type DeviceError struct {
	Kind error
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err == nil {
		return e.Kind.Error()
	}
	return e.Err.Error()
}

// Unwrap は errors.Is で Kind と原因の両方にマッチさせる
func (e *DeviceError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func captureError(err error) error {
	return &DeviceError{Kind: ErrCapture, Err: err}
}

func controlError(err error) error {
	return &DeviceError{Kind: ErrControl, Err: err}
}

func reconfigureError(err error) error {
	return &DeviceError{Kind: ErrReconfigure, Err: err}
}

func lifecycleError(err error) error {
	return &DeviceError{Kind: ErrLifecycle, Err: err}
}
