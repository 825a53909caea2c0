package snapshot

import (
	"time"
)

// Config はスナップショット設定
type Config struct {
	Enabled       bool          `yaml:"enabled" json:"enabled"`               // 定期記録の有効/無効
	Interval      time.Duration `yaml:"interval" json:"interval"`             // 記録間隔 (デフォルト: 10秒)
	Dir           string        `yaml:"dir" json:"dir"`                       // 出力ディレクトリ
	Quality       int           `yaml:"quality" json:"quality"`               // JPEG品質 (1-5)
	MaxWidth      int           `yaml:"max_width" json:"max_width"`           // 出力の最大幅（0で元サイズ）
	MaxHeight     int           `yaml:"max_height" json:"max_height"`         // 出力の最大高さ（0で元サイズ）
	RetentionDays int           `yaml:"retention_days" json:"retention_days"` // 保持期間（日数、0で無期限）
}

// DefaultConfig はデフォルトのスナップショット設定を返す
func DefaultConfig() Config {
	return Config{
		Enabled:       false,
		Interval:      10 * time.Second,
		Dir:           "snapshots",
		Quality:       4,
		MaxWidth:      1280,
		MaxHeight:     720,
		RetentionDays: 7,
	}
}

// File は保存済みスナップショットの情報
type File struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Size     int64     `json:"size"`
	Captured time.Time `json:"captured"`
}

// Status は記録の現在状態
type Status struct {
	Enabled     bool      `json:"enabled"`
	Running     bool      `json:"running"`
	Saved       uint64    `json:"saved"`
	Failed      uint64    `json:"failed"`
	LastSaved   string    `json:"last_saved,omitempty"`
	LastSavedAt time.Time `json:"last_saved_at,omitempty"`
}
