// Package cmd はgigebridgeのコマンドライン実装
package cmd

import (
	"encoding/json"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"gigebridge/internal/config"
)

var (
	cfgFile    string
	jsonOutput bool
)

// rootCmd はサブコマンドなしで呼ばれたときのコマンド
var rootCmd = &cobra.Command{
	Use:   "gigebridge",
	Short: "GigE Vision カメラブリッジ",
	Long: `GigE Vision カメラの探索・接続・設定・フレーム配信を行うブリッジ。
serve でHTTP APIを起動し、remote で起動中のサーバーを操作する。`,
	SilenceUsage: true,
}

// Execute はコマンドを実行する
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "設定ファイル (YAML)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "結果をJSONで出力する")
}

// loadConfig は設定を読み込み、ログ出力を設定する
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		log.Fatalf("設定の読み込みに失敗しました: %v", err)
	}
	setupLogger(cfg)
	return cfg
}

// setupLogger は設定に従ってslogのデフォルトロガーを差し替える
func setupLogger(cfg *config.Config) {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// printJSON は値を整形したJSONで標準出力に書く
func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fmt.Fprintf(os.Stderr, "JSONのエンコードに失敗しました: %v\n", err)
		os.Exit(1)
	}
}
