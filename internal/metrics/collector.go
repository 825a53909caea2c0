// Package metrics はブリッジの状態と取得ループの統計をPrometheus形式で公開する
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"gigebridge/internal/camera"
)

// Source は収集対象のブリッジ
type Source interface {
	State() camera.ConnectionState
	Descriptor() (camera.CameraDescriptor, bool)
	Stats() camera.StreamStats
}

var (
	stateDesc = prometheus.NewDesc(
		"gigebridge_connection_state", "現在の接続状態（該当状態が1）", []string{"state"}, nil,
	)
	cameraInfoDesc = prometheus.NewDesc(
		"gigebridge_camera_info", "接続中のカメラ", []string{"id", "name", "model", "ip"}, nil,
	)
	streamingDesc = prometheus.NewDesc(
		"gigebridge_streaming", "取得ループが動作中か", nil, nil,
	)
	framesDesc = prometheus.NewDesc(
		"gigebridge_frames_total", "完了バッファの累計（結果別）", []string{"result"}, nil,
	)
	dropRateDesc = prometheus.NewDesc(
		"gigebridge_drop_rate", "直近ウィンドウのドロップ率", nil, nil,
	)
	fpsDesc = prometheus.NewDesc(
		"gigebridge_fps", "現在のセッションの配信フレームレート", nil, nil,
	)
	buffersDesc = prometheus.NewDesc(
		"gigebridge_pool_buffers", "バッファプールの状態別バッファ数", []string{"state"}, nil,
	)
	restartsDesc = prometheus.NewDesc(
		"gigebridge_stream_restarts_total", "再構成による取得ループ再起動の累計", nil, nil,
	)
)

// BridgeCollector はブリッジの統計を収集する
type BridgeCollector struct {
	Source Source
	Mutex  sync.Mutex
}

// NewBridgeCollector は新しいBridgeCollectorを作成する
func NewBridgeCollector(source Source) *BridgeCollector {
	return &BridgeCollector{Source: source}
}

func (c *BridgeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- stateDesc
	ch <- cameraInfoDesc
	ch <- streamingDesc
	ch <- framesDesc
	ch <- dropRateDesc
	ch <- fpsDesc
	ch <- buffersDesc
	ch <- restartsDesc
}

func (c *BridgeCollector) Collect(ch chan<- prometheus.Metric) {
	c.Mutex.Lock()
	defer c.Mutex.Unlock()

	current := c.Source.State()
	for _, s := range []camera.ConnectionState{
		camera.StateDisconnected, camera.StateConnecting, camera.StateConnected,
		camera.StateStreaming, camera.StateError,
	} {
		v := 0.0
		if s == current {
			v = 1.0
		}
		ch <- prometheus.MustNewConstMetric(stateDesc, prometheus.GaugeValue, v, s.String())
	}

	if desc, ok := c.Source.Descriptor(); ok {
		ip := desc.IPAddress
		if ip == "" {
			ip = "unknown"
		}
		ch <- prometheus.MustNewConstMetric(cameraInfoDesc, prometheus.GaugeValue, 1,
			desc.DeviceID, desc.DisplayName, desc.ModelName, ip)
	}

	stats := c.Source.Stats()
	streaming := 0.0
	if stats.Running {
		streaming = 1.0
	}
	ch <- prometheus.MustNewConstMetric(streamingDesc, prometheus.GaugeValue, streaming)
	ch <- prometheus.MustNewConstMetric(framesDesc, prometheus.CounterValue, float64(stats.FramesDelivered), "delivered")
	ch <- prometheus.MustNewConstMetric(framesDesc, prometheus.CounterValue, float64(stats.FramesDropped), "dropped")
	ch <- prometheus.MustNewConstMetric(dropRateDesc, prometheus.GaugeValue, stats.DropRate)
	ch <- prometheus.MustNewConstMetric(fpsDesc, prometheus.GaugeValue, stats.FPS)
	ch <- prometheus.MustNewConstMetric(buffersDesc, prometheus.GaugeValue, float64(stats.IdleBuffers), "idle")
	ch <- prometheus.MustNewConstMetric(buffersDesc, prometheus.GaugeValue, float64(stats.InFlightBuffers), "in_flight")
	ch <- prometheus.MustNewConstMetric(restartsDesc, prometheus.CounterValue, float64(stats.Restarts))
}
