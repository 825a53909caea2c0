package cmd

import (
	"context"
	"log"
	"log/slog"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"gigebridge/internal/camera"
	"gigebridge/internal/config"
	"gigebridge/internal/emitter"
	"gigebridge/internal/server"
	"gigebridge/internal/snapshot"
)

var (
	serveHost string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "HTTP APIサーバーを起動する",
	Run: func(cmd *cobra.Command, args []string) {
		cfg := loadConfig()

		// コマンドラインオプションで設定を上書き
		if serveHost != "" {
			cfg.Server.Host = serveHost
		}
		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		if err := runServer(cmd.Context(), cfg); err != nil {
			log.Fatalf("サーバーの起動に失敗しました: %v", err)
		}
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveHost, "host", "", "サーバーのホスト (デフォルト: 0.0.0.0)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "サーバーのポート (デフォルト: 8080)")
	rootCmd.AddCommand(serveCmd)
}

// runServer はブリッジと周辺コンポーネントを組み立ててサーバーを起動する
func runServer(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	bridge, err := newBridge(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := bridge.Close(context.Background()); err != nil {
			slog.Warn("ブリッジの終了に失敗", "error", err)
		}
	}()

	if cfg.Camera.FakeCamera.Enabled {
		if err := camera.StartFakeCameraWithConfig(cfg.FakeCameraConfig()); err != nil {
			return err
		}
		defer camera.StopFakeCamera()
	}

	store := snapshot.NewStore(snapshot.NewEncoder(cfg.Snapshot.MaxWidth, cfg.Snapshot.MaxHeight, cfg.Snapshot.Quality))
	opts := server.Options{
		Store:    store,
		Recorder: snapshot.NewRecorder(store, cfg.Snapshot),
	}

	if cfg.MQTT.Enabled {
		em := emitter.NewMQTTEmitter(emitter.Config{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         cfg.MQTT.QoS,
			Encoding:    emitter.Encoding(cfg.MQTT.Encoding),
		})
		if err := em.Connect(ctx); err != nil {
			// 自動再接続に任せて起動は続ける
			slog.Warn("MQTTブローカーへの接続に失敗しました", "error", err)
		}
		go em.Run(ctx)
		defer em.Disconnect()
		opts.Emitter = em
	}

	srv, err := server.New(cfg, bridge, opts)
	if err != nil {
		return err
	}

	slog.Info("gigebridge を起動します", "addr", cfg.ServerAddress(), "stack", cfg.Camera.Stack)
	return srv.Start(ctx)
}

// newBridge は設定のスタックでブリッジを作成する
func newBridge(cfg *config.Config) (*camera.Bridge, error) {
	stack, err := camera.CreateStack(cfg.StackConfig())
	if err != nil {
		return nil, err
	}
	return camera.NewBridge(stack, nil, cfg.BridgeOptions()), nil
}
