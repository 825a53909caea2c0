package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"gigebridge/internal/camera"
	"gigebridge/internal/config"
	"gigebridge/internal/emitter"
	"gigebridge/internal/metrics"
	"gigebridge/internal/snapshot"
)

// Options はサーバーに接続する任意のコンポーネント
type Options struct {
	Store    *snapshot.Store
	Recorder *snapshot.Recorder
	Emitter  *emitter.MQTTEmitter
}

// Server はHTTPサーバーを管理する構造体
type Server struct {
	config     *config.Config
	bridge     *camera.Bridge
	hub        *Hub
	handler    *Handler
	recorder   *snapshot.Recorder
	router     *gin.Engine
	httpServer *http.Server
}

// New は新しいServerインスタンスを作成し、Hubをブリッジのオブザーバーとして登録する
func New(cfg *config.Config, bridge *camera.Bridge, opts Options) (*Server, error) {
	var sink EventSink
	if opts.Emitter != nil {
		sink = opts.Emitter
	}
	hub := NewHub(opts.Store, sink, bridge)
	if err := bridge.RegisterObserver(hub); err != nil {
		return nil, fmt.Errorf("オブザーバーの登録に失敗: %w", err)
	}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	s := &Server{
		config:   cfg,
		bridge:   bridge,
		hub:      hub,
		recorder: opts.Recorder,
		router:   router,
		handler: &Handler{
			config:   cfg,
			bridge:   bridge,
			hub:      hub,
			store:    opts.Store,
			recorder: opts.Recorder,
			emitter:  opts.Emitter,
			done:     make(chan struct{}),
		},
		httpServer: &http.Server{
			Addr:         cfg.ServerAddress(),
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
	}
	s.setupRoutes()
	return s, nil
}

// setupRoutes はHTTPルートを設定する
func (s *Server) setupRoutes() {
	h := s.handler

	// ヘルスチェックエンドポイント
	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api")
	{
		api.GET("/status", h.GetStatus)
		api.GET("/stats", h.GetStats)
		api.GET("/cameras", h.GetCameras)

		api.POST("/connect", h.Connect)
		api.POST("/disconnect", h.Disconnect)
		api.POST("/stream/start", h.StartStreaming)
		api.POST("/stream/stop", h.StopStreaming)

		api.GET("/capabilities", h.GetCapabilities)
		api.GET("/settings", h.GetSettings)
		api.GET("/settings/:param", h.GetSetting)
		api.PUT("/settings/:param", h.SetSetting)

		api.GET("/fake-camera", h.GetFakeCamera)
		api.POST("/fake-camera", h.StartFakeCamera)
		api.DELETE("/fake-camera", h.StopFakeCamera)

		api.GET("/events", h.StreamEvents)
		api.GET("/snapshot.jpg", h.GetSnapshot)
		api.GET("/snapshots", h.GetSnapshots)
		api.GET("/stream.mjpeg", h.GetStream)
	}

	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Path, gin.WrapH(metrics.NewHandler(s.bridge)))
	}
}

// Handler はルーティング済みのハンドラーを返す
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start はサーバーを起動する
func (s *Server) Start(ctx context.Context) error {
	if s.recorder != nil && s.config.Snapshot.Enabled {
		if err := s.recorder.Start(ctx); err != nil {
			return err
		}
	}

	// シャットダウン用のチャンネル
	shutdownCh := make(chan error, 1)

	// サーバーを別ゴルーチンで起動
	go func() {
		slog.Info("HTTPサーバーを起動しています", "addr", s.config.ServerAddress())
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			shutdownCh <- fmt.Errorf("サーバーの起動に失敗: %w", err)
		}
	}()

	// シグナルハンドリング
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	// コンテキストかシグナルを待つ
	select {
	case <-ctx.Done():
		slog.Info("コンテキストがキャンセルされました")
	case sig := <-sigCh:
		slog.Info("シグナルを受信しました", "signal", sig)
	case err := <-shutdownCh:
		return err
	}

	// グレースフルシャットダウン
	return s.Shutdown()
}

// Shutdown はサーバーをグレースフルにシャットダウンする
func (s *Server) Shutdown() error {
	slog.Info("サーバーをシャットダウンしています")

	// 5秒のタイムアウトを設定
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if s.recorder != nil {
		if err := s.recorder.Stop(ctx); err != nil {
			slog.Warn("スナップショット記録の停止に失敗", "error", err)
		}
	}

	// SSEとMJPEGのループを終わらせる
	s.handler.closeStreams()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("サーバーのシャットダウンに失敗: %w", err)
	}

	s.bridge.UnregisterObserver()
	slog.Info("サーバーが正常にシャットダウンされました")
	return nil
}

// requestLogger はリクエストをデバッグレベルで記録する
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("HTTPリクエスト",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
