package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"gigebridge/internal/camera"
	"gigebridge/internal/snapshot"
)

// Config はアプリケーション全体の設定を保持する構造体
type Config struct {
	Server   ServerConfig    `yaml:"server"`
	Camera   CameraConfig    `yaml:"camera"`
	MQTT     MQTTConfig      `yaml:"mqtt"`
	Snapshot snapshot.Config `yaml:"snapshot"`
	Metrics  MetricsConfig   `yaml:"metrics"`
	Logging  LoggingConfig   `yaml:"logging"`
}

// ServerConfig はHTTPサーバーの設定
type ServerConfig struct {
	Host string `yaml:"host"` // リッスンするホスト
	Port int    `yaml:"port"` // リッスンするポート番号

	// タイムアウト設定
	ReadTimeout  time.Duration `yaml:"read_timeout"`  // 読み込みタイムアウト
	WriteTimeout time.Duration `yaml:"write_timeout"` // 書き込みタイムアウト
}

// CameraConfig はカメラ関連の設定
type CameraConfig struct {
	Stack           string         `yaml:"stack"`            // 使用するスタック名
	StackProperties map[string]any `yaml:"stack_properties"` // ベンダー固有のプロパティ

	DiscoveryTimeout     time.Duration `yaml:"discovery_timeout"`      // 探索のタイムアウト
	PreferredPixelFormat string        `yaml:"preferred_pixel_format"` // 接続直後に適用するフォーマット（Auto で無指定）

	// 取得ループ
	PoolSize      int           `yaml:"pool_size"`
	PopTimeout    time.Duration `yaml:"pop_timeout"`
	DropWindow    int           `yaml:"drop_window"`
	DropThreshold float64       `yaml:"drop_threshold"`

	FakeCamera FakeCameraConfig `yaml:"fake_camera"`
}

// FakeCameraConfig はフェイクカメラの起動設定
type FakeCameraConfig struct {
	Enabled     bool    `yaml:"enabled"` // 起動時に登録するか
	Pattern     string  `yaml:"pattern"`
	FrameRate   float64 `yaml:"frame_rate"`
	Width       int     `yaml:"width"`
	Height      int     `yaml:"height"`
	PixelFormat string  `yaml:"pixel_format"`
}

// MQTTConfig はイベント送信の設定
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`       // host:port
	ClientID    string `yaml:"client_id"`    // 空なら自動生成
	TopicPrefix string `yaml:"topic_prefix"` // 例: gigebridge
	QoS         byte   `yaml:"qos"`
	Encoding    string `yaml:"encoding"` // json | msgpack
}

// MetricsConfig はPrometheusメトリクスの設定
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// LoggingConfig はログ設定
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Default はデフォルト設定を返す
func Default() *Config {
	stream := camera.DefaultStreamOptions()
	fake := camera.DefaultFakeCameraConfig()

	return &Config{
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 0, // ストリーミング用にタイムアウト無効化
		},
		Camera: CameraConfig{
			Stack:                "none",
			DiscoveryTimeout:     camera.DefaultDiscoveryTimeout,
			PreferredPixelFormat: string(camera.PixelFormatAuto),
			PoolSize:             stream.PoolSize,
			PopTimeout:           stream.PopTimeout,
			DropWindow:           stream.DropWindow,
			DropThreshold:        stream.DropThreshold,
			FakeCamera: FakeCameraConfig{
				Enabled:     false,
				Pattern:     string(fake.Pattern),
				FrameRate:   fake.FrameRate,
				Width:       fake.Resolution.Width,
				Height:      fake.Resolution.Height,
				PixelFormat: string(fake.PixelFormat),
			},
		},
		MQTT: MQTTConfig{
			Enabled:     false,
			Broker:      "localhost:1883",
			TopicPrefix: "gigebridge",
			QoS:         0,
			Encoding:    "json",
		},
		Snapshot: snapshot.DefaultConfig(),
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load は設定を読み込む
// デフォルト値 → YAMLファイル（path が空なら省略） → 環境変数 の順に上書きする
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("設定ファイルの解析に失敗: %w", err)
		}
	}

	cfg.applyEnv()

	// 設定の検証
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("設定の検証に失敗: %w", err)
	}

	return cfg, nil
}

// applyEnv は環境変数で設定を上書きする
func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("SERVER_HOST", c.Server.Host)
	c.Server.Port = getEnvAsIntOrDefault("PORT", c.Server.Port)
	c.Camera.Stack = getEnvOrDefault("GIGE_STACK", c.Camera.Stack)
	c.Camera.FakeCamera.Enabled = getEnvAsBoolOrDefault("GIGE_FAKE_CAMERA", c.Camera.FakeCamera.Enabled)
	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		c.MQTT.Broker = broker
		c.MQTT.Enabled = true
	}
}

// Validate は設定の妥当性を検証する
func (c *Config) Validate() error {
	var errs []error

	// サーバー設定の検証
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("無効なポート番号: %d", c.Server.Port))
	}

	// カメラ設定の検証
	if c.Camera.Stack == "" {
		errs = append(errs, errors.New("スタック名が設定されていません"))
	}
	if c.Camera.PoolSize < 1 {
		errs = append(errs, fmt.Errorf("無効なプールサイズ: %d", c.Camera.PoolSize))
	}
	if c.Camera.DropThreshold <= 0 || c.Camera.DropThreshold > 1 {
		errs = append(errs, fmt.Errorf("無効なドロップ率しきい値: %v", c.Camera.DropThreshold))
	}
	if f := c.Camera.PreferredPixelFormat; f != "" && f != string(camera.PixelFormatAuto) && camera.PixelFormat(f).BytesPerPixel() == 0 {
		errs = append(errs, fmt.Errorf("無効なピクセルフォーマット: %s", f))
	}
	if fake := c.Camera.FakeCamera; fake.Enabled {
		if !camera.Pattern(fake.Pattern).Valid() {
			errs = append(errs, fmt.Errorf("無効なテストパターン: %s", fake.Pattern))
		}
		if camera.PixelFormat(fake.PixelFormat).BytesPerPixel() == 0 {
			errs = append(errs, fmt.Errorf("無効なフェイクカメラのピクセルフォーマット: %s", fake.PixelFormat))
		}
	}

	// MQTT設定の検証
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			errs = append(errs, errors.New("MQTTブローカーが設定されていません"))
		}
		if c.MQTT.QoS > 2 {
			errs = append(errs, fmt.Errorf("無効なQoS: %d", c.MQTT.QoS))
		}
		if c.MQTT.Encoding != "json" && c.MQTT.Encoding != "msgpack" {
			errs = append(errs, fmt.Errorf("無効なエンコーディング: %s", c.MQTT.Encoding))
		}
	}

	// スナップショット設定の検証
	if c.Snapshot.Quality < 1 || c.Snapshot.Quality > 5 {
		errs = append(errs, fmt.Errorf("無効なJPEG品質: %d", c.Snapshot.Quality))
	}
	if c.Snapshot.Enabled && c.Snapshot.Interval <= 0 {
		errs = append(errs, fmt.Errorf("無効な記録間隔: %s", c.Snapshot.Interval))
	}

	if _, err := parseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ServerAddress はサーバーのリッスンアドレスを返す
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// StackConfig はスタック作成設定を返す
func (c *Config) StackConfig() camera.StackConfig {
	return camera.StackConfig{
		Name:       c.Camera.Stack,
		Properties: c.Camera.StackProperties,
	}
}

// BridgeOptions はブリッジの設定を返す
func (c *Config) BridgeOptions() camera.BridgeOptions {
	return camera.BridgeOptions{
		Stream: camera.StreamOptions{
			PoolSize:      c.Camera.PoolSize,
			PopTimeout:    c.Camera.PopTimeout,
			DropWindow:    c.Camera.DropWindow,
			DropThreshold: c.Camera.DropThreshold,
		},
		DiscoveryTimeout:     c.Camera.DiscoveryTimeout,
		PreferredPixelFormat: camera.PixelFormat(c.Camera.PreferredPixelFormat),
	}
}

// FakeCameraConfig はフェイクカメラの設定を返す
func (c *Config) FakeCameraConfig() camera.FakeCameraConfig {
	fake := c.Camera.FakeCamera
	return camera.FakeCameraConfig{
		Pattern:     camera.Pattern(fake.Pattern),
		FrameRate:   fake.FrameRate,
		Resolution:  camera.Resolution{Width: fake.Width, Height: fake.Height},
		PixelFormat: camera.PixelFormat(fake.PixelFormat),
	}
}

// SlogLevel はログレベルを返す
func (c *Config) SlogLevel() slog.Level {
	level, _ := parseLevel(c.Logging.Level)
	return level
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("無効なログレベル: %s", s)
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
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvAsBoolOrDefault は環境変数を真偽値として取得する
func getEnvAsBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
