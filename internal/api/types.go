package api

import (
	"time"
)

// HealthStatus はヘルスチェックの状態
type HealthStatus string

const (
	Healthy HealthStatus = "healthy"
)

// HealthResponse は /health のレスポンス
type HealthResponse struct {
	Status    HealthStatus `json:"status"`
	Timestamp time.Time    `json:"timestamp"`
}

// MessageResponse は成功・失敗を通知するレスポンス
// エラーは常にこの形で返す
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// StatusResponse は /api/camera/status のレスポンス
// Resolution は [width, height]。利用不可の場合は null
type StatusResponse struct {
	Started    bool   `json:"started"`
	Resolution *[]int `json:"resolution"`
	Available  bool   `json:"available"`
	State      string `json:"state,omitempty"`
	Message    string `json:"message,omitempty"`
}

// ControlRangeRequest は get_control_range のリクエスト
type ControlRangeRequest struct {
	ControlName string `json:"control_name"`
}

// ControlRangeResponse は get_control_range のレスポンス
// 値はスカラーなら数値、タプルなら配列
type ControlRangeResponse struct {
	Success bool `json:"success"`
	Min     any  `json:"min"`
	Max     any  `json:"max"`
	Current any  `json:"current"`
}

// ControlEntry はコントロール一覧の1件
type ControlEntry struct {
	Min     any `json:"min"`
	Max     any `json:"max"`
	Default any `json:"default"`
	Current any `json:"current,omitempty"`
}

// ControlsResponse は /api/camera/controls のレスポンス
type ControlsResponse struct {
	Success  bool                    `json:"success"`
	Controls map[string]ControlEntry `json:"controls"`
}

// 数値フィールドは数値文字列も受け付けるため any で受ける

// FocusRequest は set_focus のリクエスト
type FocusRequest struct {
	Mode     any `json:"mode"`
	Position any `json:"position"`
}

// ExposureRequest は set_exposure のリクエスト
type ExposureRequest struct {
	Exposure any `json:"exposure"`
}

// GainRequest は set_gain のリクエスト
type GainRequest struct {
	Gain any `json:"gain"`
}

// WhiteBalanceRequest は set_white_balance のリクエスト
type WhiteBalanceRequest struct {
	Mode any `json:"mode"`
	Red  any `json:"red"`
	Blue any `json:"blue"`
}

// ConfigurationRequest は /api/camera/set のリクエスト
type ConfigurationRequest struct {
	Width  any `json:"width"`
	Height any `json:"height"`
	FPS    any `json:"fps"`
}

// ZoomParams は zoom のクエリパラメータ
type ZoomParams struct {
	Level *float64 `form:"level,omitempty" json:"level,omitempty"`
}

// ZoomResponse は zoom のレスポンス
type ZoomResponse struct {
	Success bool    `json:"success"`
	Zoom    float64 `json:"zoom"`
}
