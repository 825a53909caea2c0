package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"gigebridge/internal/camera"
	"gigebridge/internal/client"
	"gigebridge/internal/server"
)

var (
	remoteURL     string
	remoteTimeout time.Duration
	remoteAddress string
	remoteOutput  string
	remoteWait    time.Duration
)

// setupRemoteClient はAPIクライアントを作成する
func setupRemoteClient() *client.BridgeClient {
	return client.New(remoteURL, remoteTimeout)
}

// exitOnError はエラーを表示して終了する
func exitOnError(what string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%sに失敗しました: %v\n", what, err)
		os.Exit(1)
	}
}

// Parent Command
var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "起動中のサーバーを操作する",
}

var remoteStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "ブリッジの状態を表示する",
	Run: func(cmd *cobra.Command, args []string) {
		status, err := setupRemoteClient().GetStatus()
		exitOnError("状態の取得", err)

		if jsonOutput {
			printJSON(status)
			return
		}
		printStatus(&status.Bridge)
		s := status.Stream
		if s.Running {
			fmt.Printf("配信: %d フレーム (ドロップ %d, %.1f fps, ドロップ率 %.0f%%)\n",
				s.FramesDelivered, s.FramesDropped, s.FPS, s.DropRate*100)
		}
	},
}

var remoteCamerasCmd = &cobra.Command{
	Use:   "cameras",
	Short: "サーバー側でカメラを探索する",
	Run: func(cmd *cobra.Command, args []string) {
		cameras, err := setupRemoteClient().GetCameras(remoteWait)
		exitOnError("探索", err)
		printCameras(cameras)
	},
}

var remoteConnectCmd = &cobra.Command{
	Use:     "connect [device-id]",
	Short:   "カメラに接続する",
	Example: "  gigebridge remote connect GigE-Fake-GV01\n  gigebridge remote connect --address 192.168.1.20",
	Args:    cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := server.ConnectRequest{Address: remoteAddress}
		if len(args) == 1 {
			req.DeviceID = args[0]
		}
		if req.DeviceID == "" && req.Address == "" {
			return fmt.Errorf("デバイスIDまたは --address を指定してください")
		}

		status, err := setupRemoteClient().Connect(req)
		exitOnError("接続", err)
		printStatusOrJSON(status)
		return nil
	},
}

var remoteDisconnectCmd = &cobra.Command{
	Use:   "disconnect",
	Short: "切断する",
	Run: func(cmd *cobra.Command, args []string) {
		status, err := setupRemoteClient().Disconnect()
		exitOnError("切断", err)
		printStatusOrJSON(status)
	},
}

var remoteStartCmd = &cobra.Command{
	Use:   "start",
	Short: "配信を開始する",
	Run: func(cmd *cobra.Command, args []string) {
		status, err := setupRemoteClient().StartStreaming()
		exitOnError("配信の開始", err)
		printStatusOrJSON(status)
	},
}

var remoteStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "配信を停止する",
	Run: func(cmd *cobra.Command, args []string) {
		status, err := setupRemoteClient().StopStreaming()
		exitOnError("配信の停止", err)
		printStatusOrJSON(status)
	},
}

var remoteSetCmd = &cobra.Command{
	Use:     "set <parameter> <value>",
	Short:   "パラメータを変更する",
	Example: "  gigebridge remote set exposure_time 5000\n  gigebridge remote set resolution 1280x720",
	Args:    cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		settings, err := setupRemoteClient().SetSetting(args[0], args[1])
		exitOnError("設定の変更", err)

		if jsonOutput {
			printJSON(settings)
			return
		}
		printSettings(settings)
	},
}

var remoteSnapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "最新フレームをJPEGで保存する",
	Run: func(cmd *cobra.Command, args []string) {
		data, err := setupRemoteClient().GetSnapshot()
		exitOnError("スナップショットの取得", err)
		exitOnError("ファイルの書き込み", os.WriteFile(remoteOutput, data, 0644))
		fmt.Printf("スナップショットを保存しました: %s\n", remoteOutput)
	},
}

func printStatusOrJSON(status *camera.Status) {
	if jsonOutput {
		printJSON(status)
		return
	}
	printStatus(status)
}

func printStatus(status *camera.Status) {
	fmt.Printf("状態: %s\n", status.State)
	if status.Camera != nil {
		fmt.Printf("カメラ: %s (%s, %s)\n", status.Camera.DisplayName, status.Camera.DeviceID, status.Camera.IPAddress)
	}
	if status.Settings != nil {
		printSettings(status.Settings)
	}
}

func printSettings(s *camera.Settings) {
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintf(w, "frame_rate\t%g\n", s.FrameRate)
	fmt.Fprintf(w, "exposure_time\t%g\n", s.ExposureTime)
	fmt.Fprintf(w, "gain\t%g\n", s.Gain)
	fmt.Fprintf(w, "resolution\t%s\n", s.Resolution)
	fmt.Fprintf(w, "pixel_format\t%s\n", s.PixelFormat)
	w.Flush()
}

func init() {
	remoteCmd.PersistentFlags().StringVar(&remoteURL, "server", "http://localhost:8080", "サーバーのURL")
	remoteCmd.PersistentFlags().DurationVar(&remoteTimeout, "timeout", 10*time.Second, "リクエストのタイムアウト")

	remoteCamerasCmd.Flags().DurationVar(&remoteWait, "wait", 0, "探索のタイムアウト (デフォルト: サーバーの設定値)")
	remoteConnectCmd.Flags().StringVar(&remoteAddress, "address", "", "IPアドレスで接続する")
	remoteSnapshotCmd.Flags().StringVarP(&remoteOutput, "output", "o", "snapshot.jpg", "出力ファイル")

	remoteCmd.AddCommand(remoteStatusCmd, remoteCamerasCmd, remoteConnectCmd, remoteDisconnectCmd,
		remoteStartCmd, remoteStopCmd, remoteSetCmd, remoteSnapshotCmd)
	rootCmd.AddCommand(remoteCmd)
}
