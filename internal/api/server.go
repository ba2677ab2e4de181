package api

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/oapi-codegen/runtime"
)

// OperationIDKey は処理中のオペレーションIDを gin.Context に保存するキー
const OperationIDKey = "api.operationId"

// ServerInterface はAPI定義の各オペレーションを実装するハンドラ
type ServerInterface interface {
	// ヘルスチェック
	// (GET /health)
	HealthCheck(c *gin.Context)
	// API定義をJSONで返す
	// (GET /api/openapi.json)
	GetOpenAPI(c *gin.Context)
	// マルチパートのライブ配信
	// (GET /stream)
	GetStream(c *gin.Context)
	// (GET /api/camera/snapshot)
	GetSnapshot(c *gin.Context)
	// (GET /api/camera/status)
	GetStatus(c *gin.Context)
	// (GET /api/camera/controls)
	GetControls(c *gin.Context)
	// (POST /api/camera/get_control_range)
	GetControlRange(c *gin.Context)
	// (POST /api/camera/trigger_af)
	TriggerAutofocus(c *gin.Context)
	// (POST /api/camera/set_focus)
	SetFocus(c *gin.Context)
	// (POST /api/camera/set_exposure)
	SetExposure(c *gin.Context)
	// (POST /api/camera/set_gain)
	SetGain(c *gin.Context)
	// (POST /api/camera/set_white_balance)
	SetWhiteBalance(c *gin.Context)
	// (POST /api/camera/zoom)
	SetZoom(c *gin.Context, params ZoomParams)
	// (POST /api/camera/preset/{name})
	ApplyPreset(c *gin.Context, name string)
	// (POST /api/camera/start)
	StartCamera(c *gin.Context)
	// (POST /api/camera/stop)
	StopCamera(c *gin.Context)
	// (POST /api/camera/set)
	SetConfiguration(c *gin.Context)
}

// MiddlewareFunc はオペレーションごとに実行されるミドルウェア
type MiddlewareFunc func(c *gin.Context)

// ServerInterfaceWrapper はパラメータをバインドしてハンドラを呼び出す
// ミドルウェアはパラメータのバインドより前に実行される
type ServerInterfaceWrapper struct {
	Handler            ServerInterface
	HandlerMiddlewares []MiddlewareFunc
	ErrorHandler       func(*gin.Context, error, int)
}

// enter はオペレーションIDを記録してミドルウェアを実行する
// ミドルウェアが中断した場合は false を返す
func (siw *ServerInterfaceWrapper) enter(c *gin.Context, operationID string) bool {
	c.Set(OperationIDKey, operationID)
	for _, middleware := range siw.HandlerMiddlewares {
		middleware(c)
		if c.IsAborted() {
			return false
		}
	}
	return true
}

// HealthCheck operation middleware
func (siw *ServerInterfaceWrapper) HealthCheck(c *gin.Context) {
	if !siw.enter(c, "healthCheck") {
		return
	}
	siw.Handler.HealthCheck(c)
}

// GetOpenAPI operation middleware
func (siw *ServerInterfaceWrapper) GetOpenAPI(c *gin.Context) {
	if !siw.enter(c, "getOpenAPI") {
		return
	}
	siw.Handler.GetOpenAPI(c)
}

// GetStream operation middleware
func (siw *ServerInterfaceWrapper) GetStream(c *gin.Context) {
	if !siw.enter(c, "getStream") {
		return
	}
	siw.Handler.GetStream(c)
}

// GetSnapshot operation middleware
func (siw *ServerInterfaceWrapper) GetSnapshot(c *gin.Context) {
	if !siw.enter(c, "getSnapshot") {
		return
	}
	siw.Handler.GetSnapshot(c)
}

// GetStatus operation middleware
func (siw *ServerInterfaceWrapper) GetStatus(c *gin.Context) {
	if !siw.enter(c, "getStatus") {
		return
	}
	siw.Handler.GetStatus(c)
}

// GetControls operation middleware
func (siw *ServerInterfaceWrapper) GetControls(c *gin.Context) {
	if !siw.enter(c, "getControls") {
		return
	}
	siw.Handler.GetControls(c)
}

// GetControlRange operation middleware
func (siw *ServerInterfaceWrapper) GetControlRange(c *gin.Context) {
	if !siw.enter(c, "getControlRange") {
		return
	}
	siw.Handler.GetControlRange(c)
}

// TriggerAutofocus operation middleware
func (siw *ServerInterfaceWrapper) TriggerAutofocus(c *gin.Context) {
	if !siw.enter(c, "triggerAutofocus") {
		return
	}
	siw.Handler.TriggerAutofocus(c)
}

// SetFocus operation middleware
func (siw *ServerInterfaceWrapper) SetFocus(c *gin.Context) {
	if !siw.enter(c, "setFocus") {
		return
	}
	siw.Handler.SetFocus(c)
}

// SetExposure operation middleware
func (siw *ServerInterfaceWrapper) SetExposure(c *gin.Context) {
	if !siw.enter(c, "setExposure") {
		return
	}
	siw.Handler.SetExposure(c)
}

// SetGain operation middleware
func (siw *ServerInterfaceWrapper) SetGain(c *gin.Context) {
	if !siw.enter(c, "setGain") {
		return
	}
	siw.Handler.SetGain(c)
}

// SetWhiteBalance operation middleware
func (siw *ServerInterfaceWrapper) SetWhiteBalance(c *gin.Context) {
	if !siw.enter(c, "setWhiteBalance") {
		return
	}
	siw.Handler.SetWhiteBalance(c)
}

// SetZoom operation middleware
func (siw *ServerInterfaceWrapper) SetZoom(c *gin.Context) {
	if !siw.enter(c, "setZoom") {
		return
	}

	var err error

	// Parameter object where we will unmarshal all parameters from the context
	var params ZoomParams

	// ------------- Optional query parameter "level" -------------

	err = runtime.BindQueryParameter("form", true, false, "level", c.Request.URL.Query(), &params.Level)
	if err != nil {
		siw.ErrorHandler(c, fmt.Errorf("Invalid format for parameter level: %w", err), http.StatusBadRequest)
		return
	}

	siw.Handler.SetZoom(c, params)
}

// ApplyPreset operation middleware
func (siw *ServerInterfaceWrapper) ApplyPreset(c *gin.Context) {
	if !siw.enter(c, "applyPreset") {
		return
	}

	var err error

	// ------------- Path parameter "name" -------------
	var name string

	err = runtime.BindStyledParameterWithOptions("simple", "name", c.Param("name"), &name, runtime.BindStyledParameterOptions{Explode: false, Required: true})
	if err != nil {
		siw.ErrorHandler(c, fmt.Errorf("Invalid format for parameter name: %w", err), http.StatusBadRequest)
		return
	}

	siw.Handler.ApplyPreset(c, name)
}

// StartCamera operation middleware
func (siw *ServerInterfaceWrapper) StartCamera(c *gin.Context) {
	if !siw.enter(c, "startCamera") {
		return
	}
	siw.Handler.StartCamera(c)
}

// StopCamera operation middleware
func (siw *ServerInterfaceWrapper) StopCamera(c *gin.Context) {
	if !siw.enter(c, "stopCamera") {
		return
	}
	siw.Handler.StopCamera(c)
}

// SetConfiguration operation middleware
func (siw *ServerInterfaceWrapper) SetConfiguration(c *gin.Context) {
	if !siw.enter(c, "setConfiguration") {
		return
	}
	siw.Handler.SetConfiguration(c)
}

// GinServerOptions provides options for the Gin server.
type GinServerOptions struct {
	BaseURL      string
	Middlewares  []MiddlewareFunc
	ErrorHandler func(*gin.Context, error, int)
}

// RegisterHandlers creates http.Handler with routing matching OpenAPI spec.
func RegisterHandlers(router gin.IRouter, si ServerInterface) {
	RegisterHandlersWithOptions(router, si, GinServerOptions{})
}

// RegisterHandlersWithOptions creates http.Handler with additional options
func RegisterHandlersWithOptions(router gin.IRouter, si ServerInterface, options GinServerOptions) {
	errorHandler := options.ErrorHandler
	if errorHandler == nil {
		errorHandler = func(c *gin.Context, err error, statusCode int) {
			c.JSON(statusCode, MessageResponse{Success: false, Message: err.Error()})
		}
	}

	wrapper := ServerInterfaceWrapper{
		Handler:            si,
		HandlerMiddlewares: options.Middlewares,
		ErrorHandler:       errorHandler,
	}

	router.GET(options.BaseURL+"/health", wrapper.HealthCheck)
	router.GET(options.BaseURL+"/api/openapi.json", wrapper.GetOpenAPI)
	router.GET(options.BaseURL+"/stream", wrapper.GetStream)
	router.GET(options.BaseURL+"/api/camera/snapshot", wrapper.GetSnapshot)
	router.GET(options.BaseURL+"/api/camera/status", wrapper.GetStatus)
	router.GET(options.BaseURL+"/api/camera/controls", wrapper.GetControls)
	router.POST(options.BaseURL+"/api/camera/get_control_range", wrapper.GetControlRange)
	router.POST(options.BaseURL+"/api/camera/trigger_af", wrapper.TriggerAutofocus)
	router.POST(options.BaseURL+"/api/camera/set_focus", wrapper.SetFocus)
	router.POST(options.BaseURL+"/api/camera/set_exposure", wrapper.SetExposure)
	router.POST(options.BaseURL+"/api/camera/set_gain", wrapper.SetGain)
	router.POST(options.BaseURL+"/api/camera/set_white_balance", wrapper.SetWhiteBalance)
	router.POST(options.BaseURL+"/api/camera/zoom", wrapper.SetZoom)
	router.POST(options.BaseURL+"/api/camera/preset/:name", wrapper.ApplyPreset)
	router.POST(options.BaseURL+"/api/camera/start", wrapper.StartCamera)
	router.POST(options.BaseURL+"/api/camera/stop", wrapper.StopCamera)
	router.POST(options.BaseURL+"/api/camera/set", wrapper.SetConfiguration)
}

// OperationID は処理中のオペレーションIDを返す
func OperationID(c *gin.Context) string {
	return c.GetString(OperationIDKey)
}
