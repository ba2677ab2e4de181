package camera

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// コントロール名（libcamera の名前に合わせる）
const (
	ControlAeEnable     = "AeEnable"
	ControlExposureTime = "ExposureTime"
	ControlAnalogueGain = "AnalogueGain"
	ControlAfMode       = "AfMode"
	ControlAfTrigger    = "AfTrigger"
	ControlLensPosition = "LensPosition"
	ControlAwbEnable    = "AwbEnable"
	ControlColourGains  = "ColourGains"
	ControlScalerCrop   = "ScalerCrop"
	ControlBrightness   = "Brightness"
	ControlContrast     = "Contrast"
	ControlSaturation   = "Saturation"
)

// AfMode の値
const (
	AfModeManual     = 0
	AfModeAuto       = 1
	AfModeContinuous = 2
)

// AfTrigger の値
const (
	AfTriggerStart  = 0
	AfTriggerCancel = 1
)

// 検証範囲
const (
	MinGain     = 1.0
	MaxGain     = 64.0
	MinExposure = 1000
	MaxExposure = 1000000
	MinZoom     = 1.0
	MaxZoom     = 4.0
	MaxFPS      = 60
	MaxColour   = 32.0
)

// ControlValue はスカラーまたは固定長タプルのコントロール値
// 真偽値は 0/1、列挙値は整数として保持する
type ControlValue []float64

// Scalar はスカラー値を作成する
func Scalar(v float64) ControlValue {
	return ControlValue{v}
}

// Bool は真偽値を作成する
func Bool(b bool) ControlValue {
	if b {
		return ControlValue{1}
	}
	return ControlValue{0}
}

// Pair は2要素のタプルを作成する
func Pair(a, b float64) ControlValue {
	return ControlValue{a, b}
}

// RectValue は矩形を [x, y, w, h] のタプルにする
func RectValue(r Rect) ControlValue {
	return ControlValue{float64(r.X), float64(r.Y), float64(r.Width), float64(r.Height)}
}

// Float は先頭要素を返す
func (v ControlValue) Float() float64 {
	if len(v) == 0 {
		return 0
	}
	return v[0]
}

// Int は先頭要素を整数に丸めて返す
func (v ControlValue) Int() int {
	return int(math.Round(v.Float()))
}

// Bool は先頭要素が非0かどうかを返す
func (v ControlValue) Bool() bool {
	return v.Float() != 0
}

// Rect はタプルを矩形として解釈する
func (v ControlValue) Rect() Rect {
	if len(v) < 4 {
		return Rect{}
	}
	return Rect{X: int(v[0]), Y: int(v[1]), Width: int(v[2]), Height: int(v[3])}
}

// Interface はJSON出力用にスカラーは数値、タプルは配列として返す
func (v ControlValue) Interface() any {
	if len(v) == 1 {
		return v[0]
	}
	out := make([]float64, len(v))
	copy(out, v)
	return out
}

// ControlRange はコントロールの宣言された範囲
type ControlRange struct {
	Min     ControlValue
	Max     ControlValue
	Default ControlValue
}

// Contains は値が範囲内かどうかを返す
// Min/Max が1要素の場合はタプルの全要素に適用する
func (r ControlRange) Contains(v ControlValue) bool {
	if len(v) == 0 {
		return false
	}
	for i, x := range v {
		lo, hi, ok := r.bounds(i)
		if !ok {
			return false
		}
		if math.IsNaN(x) || x < lo || x > hi {
			return false
		}
	}
	return true
}

func (r ControlRange) bounds(i int) (float64, float64, bool) {
	switch {
	case len(r.Min) == 1 && len(r.Max) == 1:
		return r.Min[0], r.Max[0], true
	case i < len(r.Min) && i < len(r.Max):
		return r.Min[i], r.Max[i], true
	default:
		return 0, 0, false
	}
}

// ValidateResolution は解像度とフレームレートを検証する
func ValidateResolution(width, height, fps any) (int, int, int, error) {
	w, okW := toInt(width)
	h, okH := toInt(height)
	f, okF := toInt(fps)
	if !okW || !okH || !okF {
		return 0, 0, 0, invalid("Invalid parameter types")
	}

	if w <= 0 || h <= 0 || f <= 0 {
		return 0, 0, 0, invalid("Width, height, and fps must be positive integers")
	}

	if f > MaxFPS {
		return 0, 0, 0, invalid("FPS cannot exceed 60")
	}

	return w, h, f, nil
}

// ValidateFocus はフォーカス設定を検証する
// レンズ位置は [0,1]（直接指定）と [0,100]（スライダー値）の両方をそのまま受け付ける
func ValidateFocus(mode, position any) (FocusSetting, error) {
	m, _ := mode.(string)
	if m != string(FocusAuto) && m != string(FocusManual) {
		return FocusSetting{}, invalid("Mode must be 'auto' or 'manual'")
	}

	p, ok := toFloat(position)
	if !ok {
		return FocusSetting{}, invalid("Position must be a valid number")
	}

	if !(p >= 0.0 && p <= 100.0) {
		return FocusSetting{}, invalid("Position must be between 0.0 and 100.0")
	}

	return FocusSetting{Mode: FocusMode(m), Position: p}, nil
}

// ValidateGain はアナログゲインを検証する
func ValidateGain(value any) (float64, error) {
	g, ok := toFloat(value)
	if !ok {
		return 0, invalid("Gain must be a valid number")
	}
	if !(g >= MinGain && g <= MaxGain) {
		return 0, invalid("Gain must be between 1.0 and 64.0")
	}
	return g, nil
}

// ValidateExposure は露光時間(µs)を検証し、整数µsに丸めて返す
func ValidateExposure(value any) (int, error) {
	e, ok := toFloat(value)
	if !ok {
		return 0, invalid("Exposure must be a valid number")
	}
	if !(e >= MinExposure && e <= MaxExposure) {
		return 0, invalid("Exposure must be between 1000 and 1000000 µs")
	}
	return int(math.Round(e)), nil
}

// ValidateZoom はズーム倍率を [1,4] に丸め、画素配列の中央に配置したクロップ矩形を計算する
func ValidateZoom(level float64, full Size) (float64, Rect) {
	switch {
	case math.IsNaN(level) || level < MinZoom:
		level = MinZoom
	case level > MaxZoom:
		level = MaxZoom
	}

	newWidth := int(float64(full.Width) / level)
	newHeight := int(float64(full.Height) / level)

	return level, Rect{
		X:      (full.Width - newWidth) / 2,
		Y:      (full.Height - newHeight) / 2,
		Width:  newWidth,
		Height: newHeight,
	}
}

// ValidateColourGains は赤・青のゲインを検証する
func ValidateColourGains(red, blue any) (float64, float64, error) {
	r, okR := toFloat(red)
	b, okB := toFloat(blue)
	if !okR || !okB {
		return 0, 0, invalid("Colour gains must be two numbers [red, blue]")
	}
	if !(r >= 0 && r <= MaxColour) || !(b >= 0 && b <= MaxColour) {
		return 0, 0, invalid("Colour gains must be between 0.0 and 32.0")
	}
	return r, b, nil
}

// ValidateWhiteBalance はホワイトバランス設定を検証する
// auto の場合ゲインは無視する
func ValidateWhiteBalance(mode, red, blue any) (WhiteBalance, error) {
	m, _ := mode.(string)
	switch m {
	case "auto":
		return WhiteBalance{Auto: true}, nil
	case "manual":
		r, b, err := ValidateColourGains(red, blue)
		if err != nil {
			return WhiteBalance{}, err
		}
		return WhiteBalance{Red: r, Blue: b}, nil
	default:
		return WhiteBalance{}, invalid("Mode must be 'auto' or 'manual'")
	}
}

// ValidateControlName はコントロール名が指定されているか検証する
func ValidateControlName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", invalid("No control name provided")
	}
	return name, nil
}

func invalid(reason string) error {
	return &ValidationError{Reason: reason}
}

// toFloat はJSONから来た値を浮動小数点数に変換する
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toInt はJSONから来た値を整数に変換する。小数部を持つ値は受け付けない
func toInt(v any) (int, bool) {
	if s, ok := v.(string); ok {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		return n, err == nil
	}

	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// formatControls はログ出力用にコントロールを文字列化する
func formatControls(values map[string]ControlValue) string {
	parts := make([]string, 0, len(values))
	for name, v := range values {
		parts = append(parts, fmt.Sprintf("%s=%v", name, v.Interface()))
	}
	sort.Strings(parts)
	return strings.Join(parts, " ")
}
