package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"gigebridge/internal/camera"
	"gigebridge/internal/config"
	"gigebridge/internal/emitter"
	"gigebridge/internal/snapshot"
)

// Handler はHTTP APIの実装
type Handler struct {
	config   *config.Config
	bridge   *camera.Bridge
	hub      *Hub
	store    *snapshot.Store
	recorder *snapshot.Recorder
	emitter  *emitter.MQTTEmitter

	done      chan struct{}
	closeOnce sync.Once
}

// ErrorResponse はエラー応答
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse はヘルスチェック応答
type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// ServerInfo はサーバー情報
type ServerInfo struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// StatusResponse はシステム状態の応答
type StatusResponse struct {
	Bridge     camera.Status      `json:"bridge"`
	Stream     camera.StreamStats `json:"stream"`
	Snapshot   *snapshot.Status   `json:"snapshot,omitempty"`
	MQTT       *emitter.Stats     `json:"mqtt,omitempty"`
	SSEClients int                `json:"sse_clients"`
	Server     ServerInfo         `json:"server"`
	Timestamp  time.Time          `json:"timestamp"`
}

// CamerasResponse はカメラ一覧の応答
type CamerasResponse struct {
	Cameras []camera.CameraDescriptor `json:"cameras"`
}

// ConnectRequest は接続要求。DeviceID と Address のどちらかを指定する
type ConnectRequest struct {
	DeviceID string `json:"device_id"`
	Address  string `json:"address"`
}

// SettingValue はパラメータ1つの値
type SettingValue struct {
	Parameter camera.Parameter `json:"parameter"`
	Value     string           `json:"value"`
}

// FakeCameraRequest はフェイクカメラの起動要求
type FakeCameraRequest struct {
	Pattern     string  `json:"pattern"`
	FrameRate   float64 `json:"frame_rate"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	PixelFormat string  `json:"pixel_format"`
}

// FakeCameraResponse はフェイクカメラの状態
type FakeCameraResponse struct {
	Running bool                     `json:"running"`
	Camera  *camera.CameraDescriptor `json:"camera,omitempty"`
}

// HealthCheck はヘルスチェックエンドポイントの実装
func (h *Handler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
	})
}

// GetStatus はシステム状態取得エンドポイントの実装
func (h *Handler) GetStatus(c *gin.Context) {
	response := StatusResponse{
		Bridge:     h.bridge.Status(),
		Stream:     h.bridge.Stats(),
		SSEClients: h.hub.Clients(),
		Server: ServerInfo{
			Host: h.config.Server.Host,
			Port: h.config.Server.Port,
		},
		Timestamp: time.Now(),
	}
	if h.recorder != nil {
		st := h.recorder.Status()
		response.Snapshot = &st
	}
	if h.emitter != nil {
		st := h.emitter.Stats()
		response.MQTT = &st
	}

	c.JSON(http.StatusOK, response)
}

// GetStats は取得ループの統計エンドポイントの実装
func (h *Handler) GetStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.bridge.Stats())
}

// GetCameras はカメラ探索エンドポイントの実装
// timeout クエリ（ミリ秒）で探索時間を指定できる
func (h *Handler) GetCameras(c *gin.Context) {
	var timeout time.Duration
	if raw := c.Query("timeout"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			respondError(c, http.StatusBadRequest, "invalid_request", "timeout はミリ秒の正の整数で指定してください")
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
	}

	cameras, err := h.bridge.Discover(c.Request.Context(), timeout)
	if err != nil {
		respondBridgeError(c, err)
		return
	}

	c.JSON(http.StatusOK, CamerasResponse{Cameras: cameras})
}

// Connect は接続エンドポイントの実装
func (h *Handler) Connect(c *gin.Context) {
	var req ConnectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "リクエストの形式が不正です")
		return
	}

	ctx := c.Request.Context()
	var err error
	switch {
	case req.DeviceID != "":
		desc, ok := h.bridge.Resolve(ctx, req.DeviceID)
		if !ok {
			respondError(c, http.StatusNotFound, "camera_not_found", "指定されたカメラが見つかりません")
			return
		}
		err = h.bridge.Connect(ctx, desc)
	case req.Address != "":
		err = h.bridge.ConnectAddress(ctx, req.Address)
	default:
		respondError(c, http.StatusBadRequest, "invalid_request", "device_id または address を指定してください")
		return
	}
	if err != nil {
		respondBridgeError(c, err)
		return
	}

	c.JSON(http.StatusOK, h.bridge.Status())
}

// Disconnect は切断エンドポイントの実装
func (h *Handler) Disconnect(c *gin.Context) {
	if err := h.bridge.Disconnect(c.Request.Context()); err != nil {
		respondBridgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.bridge.Status())
}

// StartStreaming は取得開始エンドポイントの実装
func (h *Handler) StartStreaming(c *gin.Context) {
	if err := h.bridge.StartStreaming(c.Request.Context()); err != nil {
		respondBridgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.bridge.Status())
}

// StopStreaming は取得停止エンドポイントの実装
func (h *Handler) StopStreaming(c *gin.Context) {
	if err := h.bridge.StopStreaming(c.Request.Context()); err != nil {
		respondBridgeError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.bridge.Status())
}

// GetCapabilities は能力範囲取得エンドポイントの実装
func (h *Handler) GetCapabilities(c *gin.Context) {
	caps, ok := h.bridge.Capabilities()
	if !ok {
		respondError(c, http.StatusConflict, camera.KindConnection.String(), "カメラに接続していません")
		return
	}
	c.JSON(http.StatusOK, caps)
}

// GetSettings は全設定取得エンドポイントの実装
func (h *Handler) GetSettings(c *gin.Context) {
	settings, ok := h.bridge.Settings()
	if !ok {
		respondError(c, http.StatusConflict, camera.KindConnection.String(), "カメラに接続していません")
		return
	}
	c.JSON(http.StatusOK, settings)
}

// GetSetting はパラメータ取得エンドポイントの実装
func (h *Handler) GetSetting(c *gin.Context) {
	p, err := camera.ParseParameter(c.Param("param"))
	if err != nil {
		respondBridgeError(c, err)
		return
	}

	v, err := h.bridge.Get(p)
	if err != nil {
		respondBridgeError(c, err)
		return
	}

	c.JSON(http.StatusOK, SettingValue{Parameter: p, Value: camera.FormatValue(p, v)})
}

// SetSetting はパラメータ変更エンドポイントの実装
func (h *Handler) SetSetting(c *gin.Context) {
	p, err := camera.ParseParameter(c.Param("param"))
	if err != nil {
		respondBridgeError(c, err)
		return
	}

	var req SettingValue
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "リクエストの形式が不正です")
		return
	}

	v, err := camera.ParseValue(p, req.Value)
	if err != nil {
		respondBridgeError(c, err)
		return
	}

	if err := h.bridge.Set(c.Request.Context(), p, v); err != nil {
		respondBridgeError(c, err)
		return
	}

	settings, _ := h.bridge.Settings()
	c.JSON(http.StatusOK, settings)
}

// GetFakeCamera はフェイクカメラ状態のエンドポイントの実装
func (h *Handler) GetFakeCamera(c *gin.Context) {
	c.JSON(http.StatusOK, h.fakeCameraResponse())
}

// StartFakeCamera はフェイクカメラ登録エンドポイントの実装
// ボディは省略可能で、省略時は設定ファイルの値を使う
func (h *Handler) StartFakeCamera(c *gin.Context) {
	cfg := h.config.FakeCameraConfig()

	if c.Request.ContentLength > 0 {
		var req FakeCameraRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, "invalid_request", "リクエストの形式が不正です")
			return
		}
		if req.Pattern != "" {
			cfg.Pattern = camera.Pattern(req.Pattern)
		}
		if req.FrameRate > 0 {
			cfg.FrameRate = req.FrameRate
		}
		if req.Width > 0 && req.Height > 0 {
			cfg.Resolution = camera.Resolution{Width: req.Width, Height: req.Height}
		}
		if req.PixelFormat != "" {
			cfg.PixelFormat = camera.PixelFormat(req.PixelFormat)
		}
	}

	if err := h.bridge.FakeCameras().Start(cfg); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	c.JSON(http.StatusOK, h.fakeCameraResponse())
}

// StopFakeCamera はフェイクカメラ解除エンドポイントの実装
func (h *Handler) StopFakeCamera(c *gin.Context) {
	h.bridge.FakeCameras().Stop()
	c.JSON(http.StatusOK, h.fakeCameraResponse())
}

func (h *Handler) fakeCameraResponse() FakeCameraResponse {
	registry := h.bridge.FakeCameras()
	resp := FakeCameraResponse{Running: registry.IsRunning()}
	if desc, ok := registry.Descriptor(); ok {
		resp.Camera = &desc
	}
	return resp
}

// StreamEvents は状態とエラーをServer-Sent Eventsで配信する
func (h *Handler) StreamEvents(c *gin.Context) {
	events, cancel := h.hub.Subscribe()
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")
	c.Status(http.StatusOK)
	c.Writer.Flush()

	clientGone := c.Request.Context().Done()
	c.Stream(func(io.Writer) bool {
		select {
		case <-clientGone:
			return false
		case <-h.done:
			return false
		case ev := <-events:
			c.SSEvent(ev.Type, ev)
			return true
		}
	})
}

// GetSnapshot は最新フレームのJPEGを返す
func (h *Handler) GetSnapshot(c *gin.Context) {
	if h.store == nil {
		respondError(c, http.StatusNotFound, "not_available", "スナップショットは無効です")
		return
	}

	data, _, err := h.store.JPEG()
	if err != nil {
		if errors.Is(err, snapshot.ErrNoFrame) {
			respondError(c, http.StatusServiceUnavailable, "no_frame", "フレームがまだありません")
			return
		}
		respondError(c, http.StatusInternalServerError, "encode_failed", err.Error())
		return
	}

	c.Header("Cache-Control", "no-cache")
	c.Data(http.StatusOK, "image/jpeg", data)
}

// GetSnapshots は保存済みスナップショットの一覧を返す
func (h *Handler) GetSnapshots(c *gin.Context) {
	if h.recorder == nil {
		c.JSON(http.StatusOK, gin.H{"snapshots": []snapshot.File{}})
		return
	}
	files, err := h.recorder.List()
	if err != nil {
		respondError(c, http.StatusInternalServerError, "list_failed", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"snapshots": files})
}

// GetStream はMJPEGストリーミングエンドポイントの実装
func (h *Handler) GetStream(c *gin.Context) {
	if h.store == nil {
		respondError(c, http.StatusNotFound, "not_available", "スナップショットは無効です")
		return
	}
	if h.bridge.State() != camera.StateStreaming {
		respondError(c, http.StatusServiceUnavailable, "camera_not_streaming", "カメラが配信中ではありません")
		return
	}

	h.streamMJPEG(c)
}

// streamMJPEG はMJPEGストリームを配信する
func (h *Handler) streamMJPEG(c *gin.Context) {
	// レスポンスヘッダーを設定
	c.Header("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("Access-Control-Allow-Origin", "*")

	// レスポンスライターを取得
	writer := c.Writer
	flusher, ok := writer.(http.Flusher)
	if !ok {
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()
	go func() {
		select {
		case <-h.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	var seq uint64
	for {
		next, err := h.store.Wait(ctx, seq)
		if err != nil {
			// クライアント切断またはシャットダウン
			return
		}
		seq = next

		frame, _, err := h.store.JPEG()
		if err != nil {
			// 切断でフレームが破棄された
			continue
		}

		// MJPEGフレームを書き込み
		if _, err := fmt.Fprintf(writer, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)); err != nil {
			return
		}
		if _, err := writer.Write(frame); err != nil {
			return
		}
		if _, err := writer.Write([]byte("\r\n")); err != nil {
			return
		}

		// バッファをフラッシュ
		flusher.Flush()
	}
}

// closeStreams は長時間接続のループを終了させる
func (h *Handler) closeStreams() {
	h.closeOnce.Do(func() {
		close(h.done)
	})
}

// ヘルパー関数

// respondError はエラー応答を返す
func respondError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error:     code,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// respondBridgeError はブリッジのエラー種別をHTTPステータスに対応付けて返す
func respondBridgeError(c *gin.Context, err error) {
	kind := camera.KindOf(err)
	respondError(c, statusForKind(kind), kind.String(), err.Error())
}

// statusForKind はエラー種別に対応するHTTPステータスを返す
func statusForKind(kind camera.ErrorKind) int {
	switch kind {
	case camera.KindConnection:
		return http.StatusConflict
	case camera.KindSettingsValidation:
		return http.StatusUnprocessableEntity
	case camera.KindCapabilityFetch, camera.KindDeviceFault:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
