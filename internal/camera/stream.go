package camera

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// StreamOptions は取得ループの設定
type StreamOptions struct {
	PoolSize      int           // プールのバッファ数
	PopTimeout    time.Duration // 完了バッファ待ちのタイムアウト（停止フラグの確認間隔）
	DropWindow    int           // ドロップ率を計算する直近の完了バッファ数
	DropThreshold float64       // この割合以上でStreamErrorを通知する（0-1）
}

// DefaultStreamOptions はデフォルトの取得ループ設定を返す
func DefaultStreamOptions() StreamOptions {
	return StreamOptions{
		PoolSize:      4,
		PopTimeout:    200 * time.Millisecond,
		DropWindow:    30,
		DropThreshold: 0.5,
	}
}

func (o StreamOptions) withDefaults() StreamOptions {
	d := DefaultStreamOptions()
	if o.PoolSize <= 0 {
		o.PoolSize = d.PoolSize
	}
	if o.PopTimeout <= 0 {
		o.PopTimeout = d.PopTimeout
	}
	if o.DropWindow <= 0 {
		o.DropWindow = d.DropWindow
	}
	if o.DropThreshold <= 0 || o.DropThreshold > 1 {
		o.DropThreshold = d.DropThreshold
	}
	return o
}

// StreamStats は取得ループの統計
type StreamStats struct {
	Running         bool    `json:"running"`
	FramesCompleted uint64  `json:"frames_completed"`
	FramesDelivered uint64  `json:"frames_delivered"`
	FramesDropped   uint64  `json:"frames_dropped"`
	DropRate        float64 `json:"drop_rate"` // 直近ウィンドウでの割合（0-1）
	FPS             float64 `json:"fps"`       // 現在のセッションでの実測値
	PoolSize        int     `json:"pool_size"`
	IdleBuffers     int     `json:"idle_buffers"`
	InFlightBuffers int     `json:"in_flight_buffers"`
	PayloadSize     int     `json:"payload_size"`
	Restarts        uint64  `json:"restarts"`
}

// StreamEngine はバッファプールと取得ループを所有する
type StreamEngine struct {
	opts       StreamOptions
	dispatcher *EventDispatcher
	onFault    func(err error) // ループ上で呼ばれる。ブロックしてはならない

	mu      sync.Mutex
	pool    atomic.Pointer[BufferPool]
	device  Device
	stream  Stream
	done    chan struct{}
	gate    chan struct{} // 閉じるまでループは取得を始めない
	gated   bool
	running atomic.Bool
	stop    atomic.Bool
	fault   atomic.Pointer[loopFault] // ループを終了させた未処理の障害

	completed atomic.Uint64
	delivered atomic.Uint64
	dropped   atomic.Uint64
	restarts  atomic.Uint64
	dropRate  atomic.Uint64 // math.Float64bits

	sessionStart     atomic.Int64 // UnixNano
	sessionDelivered atomic.Uint64

	// ループのゴルーチンのみが触る
	window           []bool
	windowPos        int
	windowFill       int
	dropAlarm        bool
	mismatchReported bool
}

// loopFault はループが終了した原因
type loopFault struct {
	err error
}

// NewStreamEngine は新しいStreamEngineを作成する
func NewStreamEngine(opts StreamOptions, dispatcher *EventDispatcher) *StreamEngine {
	opts = opts.withDefaults()
	return &StreamEngine{
		opts:       opts,
		dispatcher: dispatcher,
		window:     make([]bool, opts.DropWindow),
	}
}

// SetFaultHandler はデバイス障害時に呼ばれる関数を設定する
func (e *StreamEngine) SetFaultHandler(fn func(err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFault = fn
}

// Running はループが動作中かを返す
func (e *StreamEngine) Running() bool {
	return e.running.Load()
}

// Pool はバッファプールを返す（未開始ならnil）
func (e *StreamEngine) Pool() *BufferPool {
	return e.pool.Load()
}

// Start は Prepare と Begin を続けて行う
func (e *StreamEngine) Start(dev Device) error {
	if err := e.Prepare(dev); err != nil {
		return err
	}
	e.Begin()
	return nil
}

// Prepare は全バッファを取得キューへ積み、デバイスの取得を開始してループを起動する
// ループは Begin が呼ばれるまで完了バッファを取り出さない
func (e *StreamEngine) Prepare(dev Device) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.running.Load() {
		return newError(KindStream, "start", errors.New("取得ループは既に動作中です"))
	}

	size, err := dev.PayloadSize()
	if err != nil {
		return fmt.Errorf("ペイロード長の取得に失敗: %w", err)
	}
	if size <= 0 {
		return newError(KindStream, "start", fmt.Errorf("無効なペイロード長: %d", size))
	}

	pool := e.pool.Load()
	if pool == nil {
		pool = NewBufferPool(e.opts.PoolSize, size)
		e.pool.Store(pool)
	} else if err := pool.Resize(size); err != nil {
		return newError(KindStream, "start", err)
	}

	stream, err := dev.CreateStream()
	if err != nil {
		return fmt.Errorf("ストリームの作成に失敗: %w", err)
	}

	bufs := pool.AcquireAll()
	for i, b := range bufs {
		if err := stream.PushBuffer(b); err != nil {
			for _, rest := range bufs[i:] {
				_ = pool.Release(rest)
			}
			e.reclaim(stream)
			_ = stream.Close()
			return fmt.Errorf("バッファの投入に失敗: %w", err)
		}
	}

	if err := dev.StartAcquisition(); err != nil {
		e.reclaim(stream)
		_ = stream.Close()
		return fmt.Errorf("取得の開始に失敗: %w", err)
	}

	e.device = dev
	e.stream = stream
	e.done = make(chan struct{})
	e.gate = make(chan struct{})
	e.gated = true
	e.stop.Store(false)
	e.fault.Store(nil)
	e.resetWindow()
	e.sessionStart.Store(time.Now().UnixNano())
	e.sessionDelivered.Store(e.delivered.Load())
	e.running.Store(true)

	go e.loop(stream, e.gate, e.done, e.onFault)

	slog.Info("取得ループを開始しました",
		"device_id", dev.Info().ID,
		"pool_size", pool.Size(),
		"payload_size", size,
	)
	return nil
}

// Begin はゲートを開き、ループに完了バッファの取り出しを始めさせる
func (e *StreamEngine) Begin() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return
	}
	e.sessionStart.Store(time.Now().UnixNano())
	e.openGateLocked()
}

func (e *StreamEngine) openGateLocked() {
	if e.gated {
		close(e.gate)
		e.gated = false
	}
}

// Stop は停止フラグを立ててループの終了を待ち、デバイスの取得を止めて全バッファをプールへ戻す
// ループを終了させた障害は takeFault で取り出すまで保持される
func (e *StreamEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.running.Load() {
		return nil
	}

	e.stop.Store(true)
	e.openGateLocked()
	<-e.done

	stopErr := e.device.StopAcquisition()
	e.reclaim(e.stream)
	_ = e.stream.Close()

	e.running.Store(false)
	e.device = nil
	e.stream = nil

	if pool := e.pool.Load(); pool.Idle() != pool.Size() {
		idle, size := pool.Idle(), pool.Size()
		slog.Error("停止後にプールへ戻らないバッファがあります", "idle", idle, "pool_size", size)
	}

	slog.Info("取得ループを停止しました",
		"frames_completed", e.completed.Load(),
		"frames_delivered", e.delivered.Load(),
		"frames_dropped", e.dropped.Load(),
	)

	if stopErr != nil {
		return fmt.Errorf("取得の停止に失敗: %w", stopErr)
	}
	return nil
}

// takeFault はループを終了させた障害を取り出す。なければ nil
func (e *StreamEngine) takeFault() error {
	if f := e.fault.Swap(nil); f != nil {
		return f.err
	}
	return nil
}

// reclaim はスタックが保持しているバッファをプールへ戻す
func (e *StreamEngine) reclaim(stream Stream) {
	for _, b := range stream.Drain() {
		if err := e.pool.Load().Release(b); err != nil {
			slog.Warn("バッファの回収に失敗", "buffer", b.ID(), "error", err)
		}
	}
}

// loop は取得ループ本体。停止フラグは完了バッファごと、またはPopTimeoutごとに確認される
func (e *StreamEngine) loop(stream Stream, gate, done chan struct{}, onFault func(error)) {
	defer close(done)

	<-gate
	for !e.stop.Load() {
		buf, err := stream.PopCompletedBuffer(e.opts.PopTimeout)
		if errors.Is(err, ErrPopTimeout) {
			continue
		}
		if err != nil {
			if e.stop.Load() {
				return
			}
			slog.Error("取得ループでデバイス障害を検出しました", "error", err)
			e.fault.Store(&loopFault{err: err})
			if onFault != nil {
				onFault(err)
			}
			return
		}

		if e.handle(buf) {
			e.recycle(stream, buf)
		}
	}
}

// handle は完了バッファを検査し、成功なら変換して配信する
// 取得キュー所有でないバッファは変換も再投入もせず false を返す
func (e *StreamEngine) handle(buf *StreamBuffer) bool {
	if err := e.pool.Load().MarkFilled(buf); err != nil {
		slog.Error("バッファ所有権の不整合のため破棄します", "buffer", buf.ID(), "error", err)
		return false
	}
	e.completed.Add(1)

	ok := buf.Status == BufferSuccess
	if ok {
		frame, err := convertBuffer(buf)
		if err != nil {
			buf.Status = BufferPayloadMismatch
			ok = false
		} else if e.dispatcher.Frame(frame) {
			e.delivered.Add(1)
		}
	}

	if !ok {
		e.dropped.Add(1)
		if buf.Status == BufferPayloadMismatch && !e.mismatchReported {
			e.mismatchReported = true
			e.dispatcher.Error(KindStream, fmt.Sprintf(
				"ペイロード長が一致しません: バッファ %d (%dx%d %s, %d バイト)",
				buf.ID(), buf.Width, buf.Height, buf.PixelFormat, buf.Size))
		}
	}

	e.recordDrop(!ok)
	return true
}

// recycle は同じバッファを取得キューへ戻す
func (e *StreamEngine) recycle(stream Stream, buf *StreamBuffer) {
	pool := e.pool.Load()
	if err := pool.Requeue(buf); err != nil {
		slog.Error("バッファ所有権の不整合", "buffer", buf.ID(), "error", err)
		return
	}
	if err := stream.PushBuffer(buf); err != nil {
		slog.Warn("バッファの再投入に失敗したためプールへ戻します", "buffer", buf.ID(), "error", err)
		_ = pool.Release(buf)
	}
}

func (e *StreamEngine) resetWindow() {
	clear(e.window)
	e.windowPos = 0
	e.windowFill = 0
	e.dropAlarm = false
	e.mismatchReported = false
	e.dropRate.Store(math.Float64bits(0))
}

// recordDrop は直近ウィンドウのドロップ率を更新し、閾値を超えたらStreamErrorを通知する
func (e *StreamEngine) recordDrop(dropped bool) {
	e.window[e.windowPos] = dropped
	e.windowPos = (e.windowPos + 1) % len(e.window)
	if e.windowFill < len(e.window) {
		e.windowFill++
	}

	n := 0
	for i := 0; i < e.windowFill; i++ {
		if e.window[i] {
			n++
		}
	}
	rate := float64(n) / float64(e.windowFill)
	e.dropRate.Store(math.Float64bits(rate))

	if e.windowFill < len(e.window) {
		return
	}

	switch {
	case !e.dropAlarm && rate >= e.opts.DropThreshold:
		e.dropAlarm = true
		e.dispatcher.Error(KindStream, fmt.Sprintf(
			"ドロップ率が閾値を超えました: %.0f%% (直近 %d バッファ)", rate*100, len(e.window)))
	case e.dropAlarm && rate < e.opts.DropThreshold/2:
		e.dropAlarm = false
	}
}

// noteRestart は再構成による再起動回数を加算する
func (e *StreamEngine) noteRestart() {
	e.restarts.Add(1)
}

// Stats は統計のスナップショットを返す
func (e *StreamEngine) Stats() StreamStats {
	stats := StreamStats{
		Running:         e.running.Load(),
		FramesCompleted: e.completed.Load(),
		FramesDelivered: e.delivered.Load(),
		FramesDropped:   e.dropped.Load(),
		DropRate:        math.Float64frombits(e.dropRate.Load()),
		Restarts:        e.restarts.Load(),
	}

	if stats.Running {
		elapsed := time.Since(time.Unix(0, e.sessionStart.Load())).Seconds()
		if elapsed > 0 {
			stats.FPS = float64(stats.FramesDelivered-e.sessionDelivered.Load()) / elapsed
		}
	}

	if pool := e.Pool(); pool != nil {
		stats.PoolSize = pool.Size()
		stats.IdleBuffers = pool.Idle()
		stats.InFlightBuffers = pool.InFlight()
		stats.PayloadSize = pool.PayloadSize()
	}
	return stats
}
