package camera

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DeviceAuto はデバイスパスの代わりに指定すると最初に見つかったカメラを使う
const DeviceAuto = "auto"

// Discovery はカメラデバイスの検出機能を提供する
type Discovery interface {
	// ScanDevices はシステム内の利用可能なカメラデバイスをスキャンする
	ScanDevices(ctx context.Context) ([]string, error)

	// IsDeviceAvailable は指定されたデバイスが利用可能かチェックする
	IsDeviceAvailable(ctx context.Context, device string) bool

	// GetDeviceInfo はデバイスの詳細情報を取得する
	GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error)
}

// DeviceInfo はカメラデバイスの詳細情報を表す
type DeviceInfo struct {
	Device      string   // デバイスパス
	Name        string   // デバイス名
	Driver      string   // ドライバー名
	Resolutions []Size   // サポートされる解像度
	Formats     []string // サポートされるフォーマット
}

// ResolveDevice は設定されたデバイス指定を実際のデバイスパスにする
// 空文字列か "auto" の場合はスキャン結果の先頭を使う
func ResolveDevice(ctx context.Context, discovery Discovery, device string) (string, error) {
	if device != "" && device != DeviceAuto {
		if !discovery.IsDeviceAvailable(ctx, device) {
			return "", fmt.Errorf("デバイスが利用できません: %s", device)
		}
		return device, nil
	}

	devices, err := discovery.ScanDevices(ctx)
	if err != nil {
		return "", fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}
	if len(devices) == 0 {
		return "", errors.New("カメラデバイスが見つかりません")
	}
	return devices[0], nil
}

// LinuxDiscovery は /dev/video* と v4l2-ctl を使ってカメラを検出する
type LinuxDiscovery struct {
	pattern string
}

// NewLinuxDiscovery は新しいLinuxDiscoveryを作成する
func NewLinuxDiscovery() Discovery {
	return &LinuxDiscovery{pattern: "/dev/video*"}
}

// ScanDevices はカラー出力を持つメインのキャプチャデバイスだけを番号順に返す
func (d *LinuxDiscovery) ScanDevices(ctx context.Context) ([]string, error) {
	matches, err := filepath.Glob(d.pattern)
	if err != nil {
		return nil, fmt.Errorf("デバイスのスキャンに失敗: %w", err)
	}

	sort.Slice(matches, func(i, j int) bool {
		return extractDeviceNumber(matches[i]) < extractDeviceNumber(matches[j])
	})

	var devices []string
	seen := make(map[string]bool) // カード名ごとに最小番号のみ採用
	for _, match := range matches {
		select {
		case <-ctx.Done():
			return devices, ctx.Err()
		default:
		}

		if !d.IsDeviceAvailable(ctx, match) {
			continue
		}
		formats, err := listFormats(ctx, match)
		if err != nil || !hasColorFormat(formats) {
			continue
		}

		name := cardName(ctx, match)
		if name != "" {
			if seen[name] {
				continue
			}
			seen[name] = true
		}
		devices = append(devices, match)
	}

	return devices, nil
}

// IsDeviceAvailable は指定されたデバイスが開けるかチェックする
func (d *LinuxDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	if !isVideoDevicePath(device) {
		return false
	}

	file, err := os.OpenFile(device, os.O_RDONLY, 0)
	if err != nil {
		return false
	}
	_ = file.Close()
	return true
}

// GetDeviceInfo は v4l2-ctl の出力からデバイス情報を組み立てる
func (d *LinuxDiscovery) GetDeviceInfo(ctx context.Context, device string) (*DeviceInfo, error) {
	if !d.IsDeviceAvailable(ctx, device) {
		return nil, fmt.Errorf("デバイスが利用できません: %s", device)
	}

	info := &DeviceInfo{Device: device}

	if out, err := v4l2ctl(ctx, device, "--info"); err == nil {
		fields := parseColonFields(out)
		info.Name = fields["Card type"]
		info.Driver = fields["Driver name"]
	}
	if info.Name == "" {
		info.Name = fmt.Sprintf("カメラ %d", extractDeviceNumber(device))
	}

	if out, err := v4l2ctl(ctx, device, "--list-formats-ext"); err == nil {
		info.Formats, info.Resolutions = parseFormats(out)
	}

	return info, nil
}

var (
	videoPathRe    = regexp.MustCompile(`^/dev/video(\d+)$`)
	formatLineRe   = regexp.MustCompile(`\[\d+\]: '(\w+)'`)
	discreteSizeRe = regexp.MustCompile(`Size: Discrete (\d+)x(\d+)`)
)

func isVideoDevicePath(device string) bool {
	return videoPathRe.MatchString(device)
}

// extractDeviceNumber はデバイスパスから番号を抽出する
func extractDeviceNumber(device string) int {
	m := videoPathRe.FindStringSubmatch(device)
	if len(m) < 2 {
		return 0
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0
	}
	return n
}

func v4l2ctl(ctx context.Context, device string, args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "v4l2-ctl", append([]string{"--device", device}, args...)...)
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("v4l2-ctl %s に失敗: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

func cardName(ctx context.Context, device string) string {
	out, err := v4l2ctl(ctx, device, "--info")
	if err != nil {
		return ""
	}
	return parseColonFields(out)["Card type"]
}

func listFormats(ctx context.Context, device string) ([]string, error) {
	out, err := v4l2ctl(ctx, device, "--list-formats-ext")
	if err != nil {
		return nil, err
	}
	formats, _ := parseFormats(out)
	return formats, nil
}

// hasColorFormat はカラー出力を持つか判定する。GREY のみのIRカメラなどを除外する
func hasColorFormat(formats []string) bool {
	for _, f := range formats {
		if f == "MJPG" || f == "YUYV" {
			return true
		}
	}
	return false
}

// parseColonFields は "Key : Value" 形式の行をマップにする
func parseColonFields(out string) map[string]string {
	fields := make(map[string]string)
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		if _, exists := fields[key]; exists {
			continue
		}
		fields[key] = strings.TrimSpace(value)
	}
	return fields
}

// parseFormats は --list-formats-ext の出力からフォーマットと解像度を取り出す
func parseFormats(out string) ([]string, []Size) {
	var formats []string
	var sizes []Size
	seen := make(map[Size]bool)

	for _, line := range strings.Split(out, "\n") {
		if m := formatLineRe.FindStringSubmatch(line); m != nil {
			formats = append(formats, m[1])
			continue
		}
		if m := discreteSizeRe.FindStringSubmatch(line); m != nil {
			w, _ := strconv.Atoi(m[1])
			h, _ := strconv.Atoi(m[2])
			s := Size{Width: w, Height: h}
			if !seen[s] {
				seen[s] = true
				sizes = append(sizes, s)
			}
		}
	}

	sort.Slice(sizes, func(i, j int) bool {
		return sizes[i].Width*sizes[i].Height < sizes[j].Width*sizes[j].Height
	})
	return formats, sizes
}

// MockDiscovery はテスト用のモックDiscovery実装
type MockDiscovery struct {
	devices     []string
	deviceInfos map[string]*DeviceInfo
}

// NewMockDiscovery は新しいMockDiscoveryを作成する
// 重複したデバイスは1つにまとめる
func NewMockDiscovery(devices []string) *MockDiscovery {
	m := &MockDiscovery{deviceInfos: make(map[string]*DeviceInfo)}
	for _, device := range devices {
		if _, exists := m.deviceInfos[device]; exists {
			continue
		}
		m.devices = append(m.devices, device)
		m.deviceInfos[device] = &DeviceInfo{
			Device: device,
			Name:   fmt.Sprintf("テストカメラ %d", len(m.devices)),
			Driver: "mock",
			Resolutions: []Size{
				{Width: 640, Height: 480},
				{Width: 1280, Height: 720},
			},
			Formats: []string{"MJPG"},
		}
	}
	return m
}

// ScanDevices はモックデバイス一覧を返す
func (m *MockDiscovery) ScanDevices(_ context.Context) ([]string, error) {
	out := make([]string, len(m.devices))
	copy(out, m.devices)
	return out, nil
}

// IsDeviceAvailable はモックデバイスが登録されているかチェックする
func (m *MockDiscovery) IsDeviceAvailable(_ context.Context, device string) bool {
	_, ok := m.deviceInfos[device]
	return ok
}

// GetDeviceInfo はモックデバイス情報を取得する
func (m *MockDiscovery) GetDeviceInfo(_ context.Context, device string) (*DeviceInfo, error) {
	info, exists := m.deviceInfos[device]
	if !exists {
		return nil, fmt.Errorf("デバイスが見つかりません: %s", device)
	}

	result := *info
	return &result, nil
}
