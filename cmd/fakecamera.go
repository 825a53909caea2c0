package cmd

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"gigebridge/internal/camera"
)

var (
	fakePattern  string
	fakeFPS      float64
	fakeWidth    int
	fakeHeight   int
	fakeFormat   string
	fakeDuration time.Duration
)

// fakeCameraCmd はフェイクカメラで探索から配信までを一通り実行する
var fakeCameraCmd = &cobra.Command{
	Use:   "fake-camera",
	Short: "フェイクカメラで探索・接続・配信を試す",
	Example: `  gigebridge fake-camera --pattern bars --fps 60 --duration 5s`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		fake := cfg.FakeCameraConfig()
		if fakePattern != "" {
			fake.Pattern = camera.Pattern(fakePattern)
		}
		if fakeFPS > 0 {
			fake.FrameRate = fakeFPS
		}
		if fakeWidth > 0 && fakeHeight > 0 {
			fake.Resolution = camera.Resolution{Width: fakeWidth, Height: fakeHeight}
		}
		if fakeFormat != "" {
			fake.PixelFormat = camera.PixelFormat(fakeFormat)
		}

		registry := camera.NewFakeCameraRegistry()
		if err := registry.Start(fake); err != nil {
			log.Fatalf("フェイクカメラの起動に失敗しました: %v", err)
		}
		defer registry.Stop()

		bridge := camera.NewBridge(nil, registry, cfg.BridgeOptions())

		var frames atomic.Uint64
		err := bridge.RegisterObserver(camera.ObserverFuncs{
			Frame: func(*camera.FrameBuffer) { frames.Add(1) },
			StateChange: func(state camera.ConnectionState) {
				if !jsonOutput {
					fmt.Printf("状態: %s\n", state)
				}
			},
			Error: func(kind camera.ErrorKind, message string) {
				fmt.Printf("エラー: %s: %s\n", kind, message)
			},
		})
		if err != nil {
			log.Fatalf("オブザーバーの登録に失敗しました: %v", err)
		}

		ctx := context.Background()
		cameras, err := bridge.Discover(ctx, 0)
		if err != nil || len(cameras) == 0 {
			log.Fatalf("フェイクカメラが見つかりませんでした: %v", err)
		}
		if err := bridge.Connect(ctx, cameras[0]); err != nil {
			log.Fatalf("接続に失敗しました: %v", err)
		}
		defer bridge.Close(ctx)

		if err := bridge.StartStreaming(ctx); err != nil {
			log.Fatalf("配信の開始に失敗しました: %v", err)
		}
		time.Sleep(fakeDuration)
		stats := bridge.Stats()
		if err := bridge.StopStreaming(ctx); err != nil {
			log.Fatalf("配信の停止に失敗しました: %v", err)
		}

		if jsonOutput {
			printJSON(stats)
			return
		}
		fmt.Printf("受信フレーム: %d (配信 %d / ドロップ %d)\n", frames.Load(), stats.FramesDelivered, stats.FramesDropped)
		fmt.Printf("実測FPS: %.1f\n", stats.FPS)
	},
}

func init() {
	fakeCameraCmd.Flags().StringVar(&fakePattern, "pattern", "", "テストパターン (gradient|checkerboard|bars)")
	fakeCameraCmd.Flags().Float64Var(&fakeFPS, "fps", 0, "フレームレート")
	fakeCameraCmd.Flags().IntVar(&fakeWidth, "width", 0, "幅")
	fakeCameraCmd.Flags().IntVar(&fakeHeight, "height", 0, "高さ")
	fakeCameraCmd.Flags().StringVar(&fakeFormat, "format", "", "ピクセルフォーマット (Mono8|RGB8|BGRA8|BayerRG8)")
	fakeCameraCmd.Flags().DurationVar(&fakeDuration, "duration", 3*time.Second, "配信する時間")
	rootCmd.AddCommand(fakeCameraCmd)
}
