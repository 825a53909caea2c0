package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gigebridge/internal/camera"
)

var (
	discoverTimeout time.Duration
	discoverFake    bool
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "到達可能なカメラを列挙する",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		bridge, err := newBridge(cfg)
		if err != nil {
			log.Fatalf("ブリッジの作成に失敗しました: %v", err)
		}

		if discoverFake || cfg.Camera.FakeCamera.Enabled {
			if err := camera.StartFakeCameraWithConfig(cfg.FakeCameraConfig()); err != nil {
				log.Fatalf("フェイクカメラの起動に失敗しました: %v", err)
			}
			defer camera.StopFakeCamera()
		}

		cameras, err := bridge.Discover(context.Background(), discoverTimeout)
		if err != nil {
			log.Fatalf("探索に失敗しました: %v", err)
		}

		printCameras(cameras)
	},
}

func init() {
	discoverCmd.Flags().DurationVar(&discoverTimeout, "timeout", 0, "探索のタイムアウト (デフォルト: 設定値)")
	discoverCmd.Flags().BoolVar(&discoverFake, "fake", false, "フェイクカメラを登録してから探索する")
	rootCmd.AddCommand(discoverCmd)
}

// printCameras はカメラ一覧を表またはJSONで出力する
func printCameras(cameras []camera.CameraDescriptor) {
	if jsonOutput {
		printJSON(cameras)
		return
	}

	if len(cameras) == 0 {
		fmt.Println("カメラが見つかりませんでした")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tMODEL\tIP")
	fmt.Fprintln(w, "--\t----\t-----\t--")
	for _, cam := range cameras {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cam.DeviceID, cam.DisplayName, cam.ModelName, cam.IPAddress)
	}
	w.Flush()
}
