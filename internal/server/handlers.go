package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"hitomi/internal/api"
	"hitomi/internal/camera"
	"hitomi/internal/stream"
)

// Handler は api.ServerInterface を実装する
type Handler struct {
	service camera.Service
	stream  stream.Options
	logger  *zap.Logger
}

var _ api.ServerInterface = (*Handler)(nil)

// NewHandler は新しい Handler を作成する
func NewHandler(service camera.Service, opts stream.Options, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	opts.Logger = logger
	return &Handler{
		service: service,
		stream:  opts,
		logger:  logger,
	}
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	response := api.HealthResponse{
		Status:    api.Healthy,
		Timestamp: time.Now(),
	}

	c.JSON(http.StatusOK, response)
}

// GetOpenAPI はAPI定義を返す
func (h *Handler) GetOpenAPI(c *gin.Context) {
	data, err := api.SpecJSON()
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "application/json; charset=utf-8", data)
}

// GetStream はマルチパート配信エンドポイントの実装
// クライアントが切断するまで返らない
func (h *Handler) GetStream(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", stream.ContentType)
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()

	opts := h.stream
	opts.Logger = h.logger.With(zap.String("request_id", c.GetString(requestIDKey)))
	session := stream.NewSession(h.service, opts)

	// クライアント切断で Run は終わる
	_ = session.Run(c.Request.Context(), stream.NewMultipartWriter(c.Writer))
}

// GetSnapshot は1フレームをJPEGで返す
func (h *Handler) GetSnapshot(c *gin.Context) {
	frame, err := h.service.CaptureFrame(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, stream.ContentTypeJPEG, frame)
}

// GetStatus はカメラの状態を返す
// デバイスが利用不可でも 200 を返す
func (h *Handler) GetStatus(c *gin.Context) {
	st := h.service.Status(c.Request.Context())

	response := api.StatusResponse{
		Started:   st.Started,
		Available: st.Available,
		State:     string(st.State),
		Message:   st.Message,
	}
	if st.Resolution != nil {
		resolution := []int{st.Resolution.Width, st.Resolution.Height}
		response.Resolution = &resolution
	}

	c.JSON(http.StatusOK, response)
}

// GetControls はサポートされる全コントロールを返す
func (h *Handler) GetControls(c *gin.Context) {
	snap, err := h.service.Controls(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}

	controls := make(map[string]api.ControlEntry, len(snap.Ranges))
	for name, rng := range snap.Ranges {
		entry := api.ControlEntry{
			Min:     rng.Min.Interface(),
			Max:     rng.Max.Interface(),
			Default: rng.Default.Interface(),
		}
		if v, ok := snap.Applied[name]; ok {
			entry.Current = v.Interface()
		}
		controls[name] = entry
	}

	c.JSON(http.StatusOK, api.ControlsResponse{Success: true, Controls: controls})
}

// GetControlRange はコントロールの範囲と現在値を返す
func (h *Handler) GetControlRange(c *gin.Context) {
	var req api.ControlRangeRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	info, err := h.service.ControlRange(c.Request.Context(), req.ControlName)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.ControlRangeResponse{
		Success: true,
		Min:     info.Range.Min.Interface(),
		Max:     info.Range.Max.Interface(),
		Current: info.Current.Interface(),
	})
}

// TriggerAutofocus はシングルショットAFを実行する
func (h *Handler) TriggerAutofocus(c *gin.Context) {
	if err := h.service.TriggerAutofocus(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Auto focus triggered")
}

// SetFocus はフォーカスを設定する
func (h *Handler) SetFocus(c *gin.Context) {
	req := api.FocusRequest{Mode: "auto", Position: 0.0}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	focus, err := camera.ValidateFocus(req.Mode, req.Position)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.service.SetFocus(c.Request.Context(), focus); err != nil {
		writeError(c, err)
		return
	}
	ok(c, fmt.Sprintf("Focus set to %s / %.3f", focus.Mode, focus.Position))
}

// SetExposure は露光時間を設定する
func (h *Handler) SetExposure(c *gin.Context) {
	var req api.ExposureRequest
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	micros, err := camera.ValidateExposure(req.Exposure)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.service.SetExposure(c.Request.Context(), micros); err != nil {
		writeError(c, err)
		return
	}
	ok(c, fmt.Sprintf("Exposure set to %d µs", micros))
}

// SetGain はアナログゲインを設定する
func (h *Handler) SetGain(c *gin.Context) {
	req := api.GainRequest{Gain: 1.0}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	gain, err := camera.ValidateGain(req.Gain)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.service.SetGain(c.Request.Context(), gain); err != nil {
		writeError(c, err)
		return
	}
	ok(c, fmt.Sprintf("Gain set to %.2f", gain))
}

// SetWhiteBalance はホワイトバランスを設定する
func (h *Handler) SetWhiteBalance(c *gin.Context) {
	req := api.WhiteBalanceRequest{Mode: "auto"}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	wb, err := camera.ValidateWhiteBalance(req.Mode, req.Red, req.Blue)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.service.SetWhiteBalance(c.Request.Context(), wb); err != nil {
		writeError(c, err)
		return
	}

	if wb.Auto {
		ok(c, "White balance set to auto")
		return
	}
	ok(c, fmt.Sprintf("White balance set to manual (red %.2f, blue %.2f)", wb.Red, wb.Blue))
}

// SetZoom はズーム倍率を設定する
func (h *Handler) SetZoom(c *gin.Context, params api.ZoomParams) {
	level := 1.0
	if params.Level != nil {
		level = *params.Level
	}

	applied, err := h.service.SetZoom(c.Request.Context(), level)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, api.ZoomResponse{Success: true, Zoom: applied})
}

// ApplyPreset はプリセットを適用する
func (h *Handler) ApplyPreset(c *gin.Context, name string) {
	if err := h.service.ApplyPreset(c.Request.Context(), name); err != nil {
		writeError(c, err)
		return
	}
	ok(c, fmt.Sprintf("Preset '%s' applied", name))
}

// StartCamera はキャプチャを開始する
func (h *Handler) StartCamera(c *gin.Context) {
	if err := h.service.Start(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Camera started")
}

// StopCamera はキャプチャを停止する
func (h *Handler) StopCamera(c *gin.Context) {
	if err := h.service.Stop(c.Request.Context()); err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Camera stopped")
}

// SetConfiguration は解像度とフレームレートを変更する
func (h *Handler) SetConfiguration(c *gin.Context) {
	req := api.ConfigurationRequest{Width: 640, Height: 480, FPS: 30}
	if err := decodeBody(c, &req); err != nil {
		writeError(c, err)
		return
	}

	width, height, fps, err := camera.ValidateResolution(req.Width, req.Height, req.FPS)
	if err != nil {
		writeError(c, err)
		return
	}

	if err := h.service.Reconfigure(c.Request.Context(), width, height, fps); err != nil {
		writeError(c, err)
		return
	}
	ok(c, "Camera settings updated")
}

// ヘルパー関数

// ok は成功メッセージを返す
func ok(c *gin.Context, message string) {
	c.JSON(http.StatusOK, api.MessageResponse{Success: true, Message: message})
}

// decodeBody はJSONボディを dst に読み込む
// ボディが空の場合は dst の既定値のまま。数値は json.Number として受ける
func decodeBody(c *gin.Context, dst any) error {
	if c.Request.Body == nil {
		return nil
	}

	dec := json.NewDecoder(c.Request.Body)
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return &camera.ValidationError{Reason: "Invalid JSON body"}
	}
	return nil
}
