package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"hitomi/internal/camera"
	"hitomi/internal/config"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var testSensor = camera.Size{Width: 96, Height: 54}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Server.Host = "127.0.0.1"
	cfg.Camera.Driver = camera.DriverMock
	cfg.Server.ShutdownTimeout = 3 * time.Second
	cfg.Stream.FrameInterval = 2 * time.Millisecond
	cfg.Stream.ErrorBackoff = 10 * time.Millisecond
	return cfg
}

// newTestServer はモックドライバーで開いたデバイスを持つサーバーを作成する
// openErr を指定するとデバイスは利用不可になる
func newTestServer(t *testing.T, openErr error) (*Server, *camera.MockDriver, camera.Service) {
	t.Helper()

	driver := camera.NewMockDriverWithSensor(testSensor)
	if openErr != nil {
		driver.FailOpen(openErr)
	}

	device := camera.NewDevice(driver, nil)
	err := device.Open(context.Background(), camera.OpenOptions{Autofocus: true})
	if openErr == nil && err != nil {
		t.Fatalf("Open failed: %v", err)
	}

	service := camera.NewService(camera.NewCoordinator(device), nil, camera.WithAutofocusSettle(time.Millisecond))
	return New(testConfig(), service, nil), driver, service
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("Invalid JSON body %q: %v", w.Body.String(), err)
	}
	return out
}

// TestServerEndpoints は基本エンドポイントをテストする
func TestServerEndpoints(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	testCases := []struct {
		name           string
		endpoint       string
		expectedStatus int
		contentType    string
	}{
		{"ルートエンドポイント", "/", http.StatusOK, "text/html"},
		{"ヘルスチェックエンドポイント", "/health", http.StatusOK, "application/json"},
		{"ステータスエンドポイント", "/api/camera/status", http.StatusOK, "application/json"},
		{"API定義", "/api/openapi.json", http.StatusOK, "application/json"},
		{"スナップショット", "/api/camera/snapshot", http.StatusOK, "image/jpeg"},
		{"存在しないパス", "/api/status", http.StatusNotFound, ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodGet, tc.endpoint, "")
			if w.Code != tc.expectedStatus {
				t.Errorf("予期しないステータスコード: got %d, want %d", w.Code, tc.expectedStatus)
			}
			if tc.contentType != "" && !strings.HasPrefix(w.Header().Get("Content-Type"), tc.contentType) {
				t.Errorf("Unexpected content type %q", w.Header().Get("Content-Type"))
			}
		})
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	body := decode(t, do(t, srv.Handler(), http.MethodGet, "/health", ""))
	if body["status"] != "healthy" {
		t.Errorf("Unexpected health status %v", body["status"])
	}
	if _, err := time.Parse(time.RFC3339, body["timestamp"].(string)); err != nil {
		t.Errorf("Invalid timestamp: %v", err)
	}
}

func TestStatus(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	body := decode(t, do(t, srv.Handler(), http.MethodGet, "/api/camera/status", ""))
	if body["available"] != true || body["started"] != true {
		t.Errorf("Unexpected status %v", body)
	}
	res, ok := body["resolution"].([]any)
	if !ok || len(res) != 2 || res[0] != float64(32) || res[1] != float64(18) {
		t.Errorf("Unexpected resolution %v", body["resolution"])
	}
}

// デバイスが利用不可のとき、デバイスを使う全エンドポイントは同じ 503 を返す
func TestDeviceUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t, errors.New("no camera"))

	testCases := []struct {
		name   string
		method string
		path   string
		body   string
	}{
		{"get_control_range", http.MethodPost, "/api/camera/get_control_range", `{"control_name":"AnalogueGain"}`},
		{"trigger_af", http.MethodPost, "/api/camera/trigger_af", ""},
		{"set_focus", http.MethodPost, "/api/camera/set_focus", `{"mode":"manual","position":0.5}`},
		{"set_exposure", http.MethodPost, "/api/camera/set_exposure", `{"exposure":10000}`},
		{"set_gain", http.MethodPost, "/api/camera/set_gain", `{"gain":2}`},
		{"set_white_balance", http.MethodPost, "/api/camera/set_white_balance", `{"mode":"auto"}`},
		{"zoom", http.MethodPost, "/api/camera/zoom?level=2", ""},
		{"preset", http.MethodPost, "/api/camera/preset/studio", ""},
		{"start", http.MethodPost, "/api/camera/start", ""},
		{"stop", http.MethodPost, "/api/camera/stop", ""},
		{"set", http.MethodPost, "/api/camera/set", `{"width":640,"height":480,"fps":30}`},
		{"controls", http.MethodGet, "/api/camera/controls", ""},
		{"snapshot", http.MethodGet, "/api/camera/snapshot", ""},
		// ボディの検証より先に 503 を返す
		{"不正なボディ", http.MethodPost, "/api/camera/set", `{"width":0}`},
		{"不正なクエリ", http.MethodPost, "/api/camera/zoom?level=wide", ""},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, srv.Handler(), tc.method, tc.path, tc.body)
			if w.Code != http.StatusServiceUnavailable {
				t.Errorf("Expected 503, got %d", w.Code)
			}
			body := decode(t, w)
			if body["success"] != false || body["message"] != "Camera not available" {
				t.Errorf("Unexpected body %v", body)
			}
		})
	}

	t.Run("status", func(t *testing.T) {
		w := do(t, srv.Handler(), http.MethodGet, "/api/camera/status", "")
		if w.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", w.Code)
		}
		body := decode(t, w)
		if body["available"] != false || body["started"] != false || body["resolution"] != nil {
			t.Errorf("Unexpected status %v", body)
		}
		if body["message"] != "Camera not available" {
			t.Errorf("Unexpected message %v", body["message"])
		}
	})

	t.Run("health", func(t *testing.T) {
		if w := do(t, srv.Handler(), http.MethodGet, "/health", ""); w.Code != http.StatusOK {
			t.Errorf("Expected 200, got %d", w.Code)
		}
	})
}

func TestControlEndpoints(t *testing.T) {
	srv, driver, _ := newTestServer(t, nil)
	h := srv.Handler()

	testCases := []struct {
		name    string
		method  string
		path    string
		body    string
		status  int
		message string
	}{
		{"AF", http.MethodPost, "/api/camera/trigger_af", "", 200, "Auto focus triggered"},
		{"手動フォーカス", http.MethodPost, "/api/camera/set_focus", `{"mode":"manual","position":1.5}`, 200, "Focus set to manual / 1.500"},
		{"自動フォーカス(既定値)", http.MethodPost, "/api/camera/set_focus", "", 200, "Focus set to auto / 0.000"},
		{"不正なフォーカスモード", http.MethodPost, "/api/camera/set_focus", `{"mode":"macro"}`, 400, "Mode must be 'auto' or 'manual'"},
		{"フォーカス位置が範囲外", http.MethodPost, "/api/camera/set_focus", `{"mode":"manual","position":101}`, 400, "Position must be between 0.0 and 100.0"},
		{"露光時間", http.MethodPost, "/api/camera/set_exposure", `{"exposure":"20000"}`, 200, "Exposure set to 20000 µs"},
		{"露光時間が範囲外", http.MethodPost, "/api/camera/set_exposure", `{"exposure":999}`, 400, "Exposure must be between 1000 and 1000000 µs"},
		{"ゲイン", http.MethodPost, "/api/camera/set_gain", `{"gain":64.0}`, 200, "Gain set to 64.00"},
		{"ゲインが範囲外", http.MethodPost, "/api/camera/set_gain", `{"gain":0.5}`, 400, "Gain must be between 1.0 and 64.0"},
		{"ホワイトバランス", http.MethodPost, "/api/camera/set_white_balance", `{"mode":"manual","red":1.5,"blue":1.2}`, 200, "White balance set to manual (red 1.50, blue 1.20)"},
		{"プリセット", http.MethodPost, "/api/camera/preset/studio", "", 200, "Preset 'studio' applied"},
		{"未知のプリセット", http.MethodPost, "/api/camera/preset/cinema", "", 404, "Preset 'cinema' not found"},
		{"解像度が不正", http.MethodPost, "/api/camera/set", `{"width":640,"height":480,"fps":61}`, 400, "FPS cannot exceed 60"},
		{"解像度が0", http.MethodPost, "/api/camera/set", `{"width":0,"height":480,"fps":30}`, 400, "Width, height, and fps must be positive integers"},
		{"解像度の型が不正", http.MethodPost, "/api/camera/set", `{"width":"wide","height":480,"fps":30}`, 400, "Invalid parameter types"},
		{"壊れたJSON", http.MethodPost, "/api/camera/set_gain", `{"gain":`, 400, "Invalid JSON body"},
		{"コントロール名なし", http.MethodPost, "/api/camera/get_control_range", `{}`, 400, "No control name provided"},
		{"未知のコントロール", http.MethodPost, "/api/camera/get_control_range", `{"control_name":"Sharpness"}`, 404, "Control 'Sharpness' not found"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(t, h, tc.method, tc.path, tc.body)
			if w.Code != tc.status {
				t.Errorf("Expected %d, got %d (%s)", tc.status, w.Code, w.Body.String())
			}
			body := decode(t, w)
			if body["success"] != (tc.status == 200) {
				t.Errorf("Unexpected success %v", body["success"])
			}
			if body["message"] != tc.message {
				t.Errorf("Unexpected message %q, want %q", body["message"], tc.message)
			}
		})
	}

	// 手動露出は自動露出を切る
	if v, ok := driver.Control(camera.ControlAeEnable); !ok || v.Bool() {
		t.Errorf("Expected AeEnable=0, got %v", v)
	}
}

func TestControlEndpoints_DriverFailure(t *testing.T) {
	srv, driver, _ := newTestServer(t, nil)
	driver.FailControls(errors.New("ioctl failed"))

	w := do(t, srv.Handler(), http.MethodPost, "/api/camera/set_gain", `{"gain":2}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
	if body := decode(t, w); body["success"] != false || body["message"] == "" {
		t.Errorf("Unexpected body %v", body)
	}
}

func TestZoom(t *testing.T) {
	srv, driver, _ := newTestServer(t, nil)

	testCases := []struct {
		query    string
		expected float64
		crop     camera.Rect
	}{
		{"?level=2", 2, camera.Rect{X: 24, Y: 13, Width: 48, Height: 27}},
		{"?level=10", 4, camera.Rect{X: 36, Y: 20, Width: 24, Height: 13}},
		{"?level=0.5", 1, camera.Rect{X: 0, Y: 0, Width: 96, Height: 54}},
		{"", 1, camera.Rect{X: 0, Y: 0, Width: 96, Height: 54}},
	}

	for _, tc := range testCases {
		t.Run(tc.query, func(t *testing.T) {
			w := do(t, srv.Handler(), http.MethodPost, "/api/camera/zoom"+tc.query, "")
			if w.Code != http.StatusOK {
				t.Fatalf("Expected 200, got %d", w.Code)
			}
			body := decode(t, w)
			if body["success"] != true || body["zoom"] != tc.expected {
				t.Errorf("Unexpected body %v", body)
			}
			crop, _ := driver.Control(camera.ControlScalerCrop)
			if crop.Rect() != tc.crop {
				t.Errorf("Unexpected crop %+v, want %+v", crop.Rect(), tc.crop)
			}
		})
	}

	if w := do(t, srv.Handler(), http.MethodPost, "/api/camera/zoom?level=wide", ""); w.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for invalid level, got %d", w.Code)
	}
}

func TestControlRangeAndControls(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	h := srv.Handler()

	body := decode(t, do(t, h, http.MethodPost, "/api/camera/get_control_range", `{"control_name":"AnalogueGain"}`))
	if body["success"] != true || body["min"] != float64(1) || body["max"] != float64(64) {
		t.Errorf("Unexpected range %v", body)
	}

	do(t, h, http.MethodPost, "/api/camera/set_gain", `{"gain":4}`)
	body = decode(t, do(t, h, http.MethodPost, "/api/camera/get_control_range", `{"control_name":"AnalogueGain"}`))
	if body["current"] != float64(4) {
		t.Errorf("Expected current gain 4, got %v", body["current"])
	}

	body = decode(t, do(t, h, http.MethodGet, "/api/camera/controls", ""))
	controls, ok := body["controls"].(map[string]any)
	if !ok {
		t.Fatalf("Unexpected controls %v", body)
	}
	gain, ok := controls["AnalogueGain"].(map[string]any)
	if !ok || gain["current"] != float64(4) {
		t.Errorf("Unexpected gain entry %v", controls["AnalogueGain"])
	}
	crop, ok := controls["ScalerCrop"].(map[string]any)
	if !ok {
		t.Fatal("Expected ScalerCrop entry")
	}
	if upper, ok := crop["max"].([]any); !ok || len(upper) != 4 {
		t.Errorf("Expected tuple range for ScalerCrop, got %v", crop["max"])
	}
}

// 開始・停止は何度呼んでも成功する
func TestStartStopIdempotent(t *testing.T) {
	srv, driver, _ := newTestServer(t, nil)
	h := srv.Handler()

	for i := 0; i < 2; i++ {
		if w := do(t, h, http.MethodPost, "/api/camera/stop", ""); w.Code != http.StatusOK {
			t.Fatalf("stop #%d: got %d", i, w.Code)
		}
	}
	if driver.Running() {
		t.Error("Expected driver stopped")
	}
	if body := decode(t, do(t, h, http.MethodGet, "/api/camera/status", "")); body["started"] != false {
		t.Errorf("Expected started=false, got %v", body["started"])
	}

	// 停止中のスナップショットは取得エラー
	if w := do(t, h, http.MethodGet, "/api/camera/snapshot", ""); w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500 while stopped, got %d", w.Code)
	}

	for i := 0; i < 2; i++ {
		if w := do(t, h, http.MethodPost, "/api/camera/start", ""); w.Code != http.StatusOK {
			t.Fatalf("start #%d: got %d", i, w.Code)
		}
	}
	if !driver.Running() {
		t.Error("Expected driver running")
	}
}

func TestReconfigure(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	h := srv.Handler()

	w := do(t, h, http.MethodPost, "/api/camera/set", `{"width":64,"height":36,"fps":15}`)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d (%s)", w.Code, w.Body.String())
	}

	body := decode(t, do(t, h, http.MethodGet, "/api/camera/status", ""))
	res, _ := body["resolution"].([]any)
	if len(res) != 2 || res[0] != float64(64) || res[1] != float64(36) || body["started"] != true {
		t.Errorf("Unexpected status after reconfigure %v", body)
	}

	// センサーより大きい解像度はデバイス側で失敗する
	w = do(t, h, http.MethodPost, "/api/camera/set", `{"width":4096,"height":2160,"fps":30}`)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", w.Code)
	}
}

func TestRequestIDAndCORS(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("Origin", "http://other.test")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	if w.Header().Get(RequestIDHeader) == "" {
		t.Error("Expected request id header")
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Unexpected CORS header %q", w.Header().Get("Access-Control-Allow-Origin"))
	}

	// 指定されたIDはそのまま返す
	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != "abc-123" {
		t.Errorf("Expected propagated request id, got %q", w.Header().Get(RequestIDHeader))
	}
}

// readParts はマルチパート配信から n パートを読む
func readParts(t *testing.T, url string, n int) (string, []*bytes.Buffer, []string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	defer resp.Body.Close()

	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		t.Fatalf("Invalid content type: %v", err)
	}

	reader := multipart.NewReader(resp.Body, params["boundary"])
	var bodies []*bytes.Buffer
	var types []string
	for i := 0; i < n; i++ {
		part, err := reader.NextPart()
		if err != nil {
			t.Fatalf("NextPart #%d failed: %v", i, err)
		}
		buf := &bytes.Buffer{}
		if _, err := io.Copy(buf, part); err != nil {
			t.Fatalf("Reading part #%d failed: %v", i, err)
		}
		bodies = append(bodies, buf)
		types = append(types, part.Header.Get("Content-Type"))
	}
	return mediaType + "; boundary=" + params["boundary"], bodies, types
}

func TestStream(t *testing.T) {
	srv, _, _ := newTestServer(t, nil)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	contentType, bodies, types := readParts(t, ts.URL+"/stream", 3)
	if contentType != "multipart/x-mixed-replace; boundary=frame" {
		t.Errorf("Unexpected content type %q", contentType)
	}
	for i := range bodies {
		if types[i] != "image/jpeg" {
			t.Errorf("Part #%d: unexpected content type %q", i, types[i])
		}
		if !bytes.HasPrefix(bodies[i].Bytes(), []byte{0xFF, 0xD8}) {
			t.Errorf("Part #%d is not a JPEG", i)
		}
	}
}

func TestStream_CaptureErrors(t *testing.T) {
	srv, driver, _ := newTestServer(t, nil)
	driver.FailCapture(errors.New("sensor timeout"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, bodies, types := readParts(t, ts.URL+"/stream", 2)
	for i := range bodies {
		if types[i] != "text/plain" {
			t.Errorf("Part #%d: expected text/plain, got %q", i, types[i])
		}
		if !strings.HasPrefix(bodies[i].String(), "Camera error: ") {
			t.Errorf("Part #%d: unexpected body %q", i, bodies[i].String())
		}
	}
}

func TestStream_DeviceUnavailable(t *testing.T) {
	srv, _, _ := newTestServer(t, errors.New("no camera"))
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	_, bodies, types := readParts(t, ts.URL+"/stream", 2)
	for i := range bodies {
		if types[i] != "text/plain" || bodies[i].String() != "Camera not available" {
			t.Errorf("Part #%d: unexpected %q %q", i, types[i], bodies[i].String())
		}
	}
}

// TestServerStartAndShutdown はサーバーの起動とシャットダウンをテストする
// 配信中のクライアントがいてもシャットダウンは完了し、デバイスは解放される
func TestServerStartAndShutdown(t *testing.T) {
	srv, driver, service := newTestServer(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	// テスト用のコンテキスト（タイムアウト付き）
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// サーバーを別ゴルーチンで起動
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ctx, ln)
	}()

	// 配信を開始して1パート読む
	resp, err := http.Get("http://" + ln.Addr().String() + "/stream")
	if err != nil {
		t.Fatalf("HTTPリクエストでエラーが発生しました: %v", err)
	}
	defer resp.Body.Close()

	reader := multipart.NewReader(resp.Body, "frame")
	if _, err := reader.NextPart(); err != nil {
		t.Fatalf("Expected a part before shutdown: %v", err)
	}

	// コンテキストをキャンセルしてサーバーを停止
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Fatalf("サーバーの起動/停止でエラーが発生しました: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("サーバーの停止がタイムアウトしました")
	}

	if service.Available() {
		t.Error("Expected device to be closed after shutdown")
	}
	if driver.Running() {
		t.Error("Expected driver to be stopped after shutdown")
	}
}

func TestNewFromConfig(t *testing.T) {
	cfg := testConfig()

	srv, err := NewFromConfig(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer srv.closeDevice()

	body := decode(t, do(t, srv.Handler(), http.MethodGet, "/api/camera/status", ""))
	if body["available"] != true {
		t.Errorf("Expected mock camera to be available, got %v", body)
	}

	cfg.Camera.Driver = "gstreamer"
	if _, err := NewFromConfig(context.Background(), cfg, nil); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

func TestNewFromConfig_DefaultDriverWithoutCamera(t *testing.T) {
	cfg := config.Default()
	cfg.Camera.Properties = map[string]string{"command": filepath.Join(t.TempDir(), "rpicam-jpeg")}

	srv, err := NewFromConfig(context.Background(), cfg, nil)
	if err != nil {
		t.Fatalf("NewFromConfig failed: %v", err)
	}
	defer srv.closeDevice()

	// 既定のドライバーは合成映像を出さず、利用不可として起動する
	body := decode(t, do(t, srv.Handler(), http.MethodGet, "/api/camera/status", ""))
	if body["available"] != false {
		t.Errorf("Expected camera to be unavailable, got %v", body)
	}
	if w := do(t, srv.Handler(), http.MethodPost, "/api/camera/start", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
}
