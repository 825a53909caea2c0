package camera

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// フェイクカメラの固定識別情報
const (
	FakeCameraID      = "GigE-Fake-GV01"
	FakeCameraName    = "Fake GigE Camera"
	FakeCameraModel   = "FAKE-GV01"
	FakeCameraAddress = "127.0.0.1"
)

// FakeCameraConfig はフェイクカメラの設定
type FakeCameraConfig struct {
	Pattern     Pattern     // テストパターン
	FrameRate   float64     // 初期フレームレート
	Resolution  Resolution  // 初期解像度
	PixelFormat PixelFormat // 初期ピクセルフォーマット

	// 障害注入（テスト用）
	DropEvery        int      // N>0 のときN枚ごとにTimeoutステータスのバッファを返す
	FailCapabilities bool     // 能力範囲の取得を失敗させる
	ReadOnlyFeatures []string // 書き込みを拒否するフィーチャー名
}

// DefaultFakeCameraConfig はデフォルトのフェイクカメラ設定を返す
func DefaultFakeCameraConfig() FakeCameraConfig {
	return FakeCameraConfig{
		Pattern:     PatternGradient,
		FrameRate:   30,
		Resolution:  Resolution{Width: 640, Height: 480},
		PixelFormat: PixelFormatMono8,
	}
}

// FakeCameraRegistry はプロセス内で高々1台のエミュレートデバイスを管理する
type FakeCameraRegistry struct {
	mu     sync.Mutex
	camera *fakeCamera
}

// NewFakeCameraRegistry は新しいFakeCameraRegistryを作成する
func NewFakeCameraRegistry() *FakeCameraRegistry {
	return &FakeCameraRegistry{}
}

// Start はフェイクカメラを登録する（起動済みなら何もしない）
func (r *FakeCameraRegistry) Start(config FakeCameraConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.camera != nil {
		return nil
	}

	defaults := DefaultFakeCameraConfig()
	if config.Pattern == "" {
		config.Pattern = defaults.Pattern
	}
	if config.FrameRate <= 0 {
		config.FrameRate = defaults.FrameRate
	}
	if config.Resolution.Width <= 0 || config.Resolution.Height <= 0 {
		config.Resolution = defaults.Resolution
	}
	if config.PixelFormat == "" {
		config.PixelFormat = defaults.PixelFormat
	}

	if !config.Pattern.Valid() {
		return fmt.Errorf("無効なテストパターン: %s", config.Pattern)
	}
	if !fakeCapabilities.SupportsPixelFormat(config.PixelFormat) {
		return fmt.Errorf("無効なピクセルフォーマット: %s", config.PixelFormat)
	}
	if !fakeCapabilities.SupportsResolution(config.Resolution) {
		return fmt.Errorf("無効な解像度: %s", config.Resolution)
	}
	if !fakeCapabilities.FrameRate.Contains(config.FrameRate) {
		return fmt.Errorf("無効なフレームレート: %.2f", config.FrameRate)
	}

	r.camera = newFakeCamera(config)

	slog.Info("フェイクカメラを起動しました",
		"device_id", FakeCameraID,
		"pattern", config.Pattern,
		"resolution", config.Resolution.String(),
		"pixel_format", config.PixelFormat,
		"frame_rate", config.FrameRate,
	)
	return nil
}

// Stop はフェイクカメラの登録を解除し、接続中のハンドルを失敗させる
func (r *FakeCameraRegistry) Stop() {
	r.mu.Lock()
	cam := r.camera
	r.camera = nil
	r.mu.Unlock()

	if cam == nil {
		return
	}

	cam.markLost()
	slog.Info("フェイクカメラを停止しました", "device_id", FakeCameraID)
}

// IsRunning はフェイクカメラが起動中かを返す
func (r *FakeCameraRegistry) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.camera != nil
}

// Descriptor は起動中のフェイクカメラの記述子を返す
func (r *FakeCameraRegistry) Descriptor() (CameraDescriptor, bool) {
	if !r.IsRunning() {
		return CameraDescriptor{}, false
	}
	return fakeDeviceInfo.Descriptor(), true
}

// owns は idOrAddress がフェイクカメラを指すかを返す
func (r *FakeCameraRegistry) owns(idOrAddress string) bool {
	return idOrAddress == FakeCameraID || idOrAddress == FakeCameraAddress
}

// connect はフェイクカメラへのハンドルを作成する
func (r *FakeCameraRegistry) connect(_ context.Context, idOrAddress string) (Device, error) {
	r.mu.Lock()
	cam := r.camera
	r.mu.Unlock()

	if cam == nil {
		return nil, connectionError("connect", "フェイクカメラは起動していません: %s", idOrAddress)
	}

	return cam.open()
}

var defaultFakeRegistry = NewFakeCameraRegistry()

// DefaultFakeCameraRegistry はプロセス全体で共有されるレジストリを返す
func DefaultFakeCameraRegistry() *FakeCameraRegistry {
	return defaultFakeRegistry
}

// StartFakeCamera はデフォルト設定でフェイクカメラを起動する
func StartFakeCamera() error {
	return defaultFakeRegistry.Start(DefaultFakeCameraConfig())
}

// StartFakeCameraWithConfig は指定設定でフェイクカメラを起動する
func StartFakeCameraWithConfig(config FakeCameraConfig) error {
	return defaultFakeRegistry.Start(config)
}

// StopFakeCamera はフェイクカメラを停止する
func StopFakeCamera() {
	defaultFakeRegistry.Stop()
}

// IsFakeCameraRunning はフェイクカメラが起動中かを返す
func IsFakeCameraRunning() bool {
	return defaultFakeRegistry.IsRunning()
}
