package camera

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptDevice は完了時のバッファ内容をテストから決められるデバイス
type scriptDevice struct {
	size      int
	stream    *scriptStream
	infoDelay time.Duration // Info の応答を遅らせる
	stopErr   error         // StopAcquisition が返すエラー
}

func newScriptDevice(size int, complete func(n uint64, b *StreamBuffer)) *scriptDevice {
	return &scriptDevice{size: size, stream: &scriptStream{complete: complete}}
}

func (d *scriptDevice) Info() DeviceInfo {
	time.Sleep(d.infoDelay)
	return DeviceInfo{ID: "script", Address: "script"}
}
func (d *scriptDevice) Capabilities(context.Context) (Capabilities, error) {
	return fakeCapabilities, nil
}
func (d *scriptDevice) PayloadSize() (int, error)        { return d.size, nil }
func (d *scriptDevice) CreateStream() (Stream, error)    { return d.stream, nil }
func (d *scriptDevice) StartAcquisition() error          { return nil }
func (d *scriptDevice) StopAcquisition() error           { return d.stopErr }
func (d *scriptDevice) GetFloat(string) (float64, error) { return 0, nil }
func (d *scriptDevice) SetFloat(string, float64) error   { return nil }
func (d *scriptDevice) Region() (Resolution, error)      { return Resolution{}, nil }
func (d *scriptDevice) SetRegion(Resolution) error       { return nil }
func (d *scriptDevice) PixelFormat() (PixelFormat, error) {
	return PixelFormatMono8, nil
}
func (d *scriptDevice) SetPixelFormat(PixelFormat) error { return nil }
func (d *scriptDevice) Close() error                     { return nil }

// scriptStream は投入されたバッファを順に完了させる
type scriptStream struct {
	complete func(n uint64, b *StreamBuffer)
	lost     atomic.Bool
	broken   atomic.Bool  // true なら errTransfer を返す
	hold     atomic.Bool  // true の間は完了させない
	stray    atomic.Int32 // 残りの回数だけプール外のバッファを返す

	mu    sync.Mutex
	queue []*StreamBuffer
	n     uint64
}

func (s *scriptStream) PushBuffer(b *StreamBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, b)
	return nil
}

func (s *scriptStream) PopCompletedBuffer(timeout time.Duration) (*StreamBuffer, error) {
	if s.lost.Load() {
		return nil, ErrDeviceLost
	}
	if s.broken.Load() {
		return nil, errTransfer
	}
	time.Sleep(time.Millisecond)

	if s.stray.Load() > 0 {
		s.stray.Add(-1)
		b := &StreamBuffer{id: 0, Payload: make([]byte, 16)}
		s.complete(0, b)
		return b, nil
	}

	s.mu.Lock()
	if len(s.queue) == 0 || s.hold.Load() {
		s.mu.Unlock()
		time.Sleep(timeout)
		return nil, ErrPopTimeout
	}
	b := s.queue[0]
	s.queue = s.queue[1:]
	s.n++
	n := s.n
	s.mu.Unlock()

	s.complete(n, b)
	return b, nil
}

func (s *scriptStream) Drain() []*StreamBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	bufs := s.queue
	s.queue = nil
	return bufs
}

func (s *scriptStream) Close() error { return nil }

var errTransfer = errors.New("転送が中断されました")

func (s *scriptStream) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// mono4x4 は 4x4 Mono8 の正常なフレームとして完了させる
func mono4x4(n uint64, b *StreamBuffer) {
	b.Width, b.Height, b.PixelFormat = 4, 4, PixelFormatMono8
	b.FrameID = n
	b.Size = 16
	b.Status = BufferSuccess
}

func newTestEngine(t *testing.T, opts StreamOptions) (*StreamEngine, *recorder) {
	t.Helper()
	d := NewEventDispatcher()
	rec := newRecorder()
	require.NoError(t, d.Register(rec))
	return NewStreamEngine(opts, d), rec
}

func TestStreamEngine_DeliversInCaptureOrder(t *testing.T) {
	e, rec := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)

	require.NoError(t, e.Start(dev))
	assert.True(t, e.Running())

	var last uint64
	for i := 0; i < 10; i++ {
		f := rec.waitFrame(t, time.Second)
		assert.Greater(t, f.FrameID, last)
		last = f.FrameID
		assert.Equal(t, 4, f.Stride)
	}

	require.NoError(t, e.Stop())
	assert.False(t, e.Running())

	stats := e.Stats()
	assert.Equal(t, stats.PoolSize, stats.IdleBuffers)
	assert.Zero(t, stats.FramesDropped)
	assert.Equal(t, stats.FramesCompleted, stats.FramesDelivered)
}

func TestStreamEngine_DropsNonSuccessWithoutConversion(t *testing.T) {
	opts := testStreamOptions()
	opts.DropWindow = 1000
	e, rec := newTestEngine(t, opts)

	dev := newScriptDevice(16, func(n uint64, b *StreamBuffer) {
		mono4x4(n, b)
		if n%2 == 0 {
			b.Status = BufferTimeout
			b.Size = 0
		}
	})

	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool {
		return e.Stats().FramesCompleted >= 10
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop())

	stats := e.Stats()
	assert.Equal(t, stats.FramesCompleted, stats.FramesDelivered+stats.FramesDropped)
	assert.Positive(t, stats.FramesDropped)
	assert.Empty(t, rec.errorLog(), "ウィンドウが満たない間は通知しない")
}

func TestStreamEngine_PayloadMismatchReportedOnce(t *testing.T) {
	opts := testStreamOptions()
	opts.DropWindow = 1000
	e, rec := newTestEngine(t, opts)

	dev := newScriptDevice(16, func(n uint64, b *StreamBuffer) {
		mono4x4(n, b)
		b.Size = 10
	})

	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool {
		return e.Stats().FramesDropped >= 5
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.Stop())

	assert.Equal(t, []ErrorKind{KindStream}, rec.errorLog())
	assert.Zero(t, e.Stats().FramesDelivered)
}

func TestStreamEngine_DropRateAlarmWithHysteresis(t *testing.T) {
	opts := testStreamOptions()
	opts.DropWindow = 4
	opts.DropThreshold = 0.5
	e, rec := newTestEngine(t, opts)

	var healthy atomic.Bool
	dev := newScriptDevice(16, func(n uint64, b *StreamBuffer) {
		mono4x4(n, b)
		if !healthy.Load() {
			b.Status = BufferAborted
		}
	})

	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool {
		return e.Stats().FramesDropped >= 20
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []ErrorKind{KindStream}, rec.errorLog(), "継続中の高ドロップ率は一度だけ通知される")
	assert.InDelta(t, 1.0, e.Stats().DropRate, 0.001)

	healthy.Store(true)
	require.Eventually(t, func() bool {
		return e.Stats().DropRate == 0
	}, 2*time.Second, 5*time.Millisecond)

	healthy.Store(false)
	require.Eventually(t, func() bool {
		return len(rec.errorLog()) == 2
	}, 2*time.Second, 5*time.Millisecond, "回復後の再発は再び通知される")

	require.NoError(t, e.Stop())
}

func TestStreamEngine_FaultStopsLoop(t *testing.T) {
	e, rec := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)

	faults := make(chan error, 1)
	e.SetFaultHandler(func(err error) { faults <- err })

	require.NoError(t, e.Start(dev))
	rec.waitFrame(t, time.Second)

	dev.stream.lost.Store(true)

	select {
	case err := <-faults:
		assert.ErrorIs(t, err, ErrDeviceLost)
	case <-time.After(time.Second):
		t.Fatal("障害ハンドラが呼ばれませんでした")
	}

	require.NoError(t, e.Stop())
	assert.Equal(t, e.Stats().PoolSize, e.Stats().IdleBuffers)
}

func TestStreamEngine_StopIsBoundedWithoutFrames(t *testing.T) {
	e, _ := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)
	dev.stream.hold.Store(true)

	require.NoError(t, e.Start(dev))
	time.Sleep(30 * time.Millisecond)

	start := time.Now()
	require.NoError(t, e.Stop())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Equal(t, e.Stats().PoolSize, e.Stats().IdleBuffers)
	assert.Zero(t, e.Stats().FramesCompleted)
}

func TestStreamEngine_StartTwice(t *testing.T) {
	e, _ := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)

	require.NoError(t, e.Start(dev))
	defer e.Stop()
	assert.ErrorIs(t, e.Start(dev), ErrStream)
}

func TestStreamEngine_PrepareWaitsForBegin(t *testing.T) {
	e, rec := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)

	require.NoError(t, e.Prepare(dev))
	assert.True(t, e.Running())

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, rec.frameCount(), "Begin 前に配信してはならない")
	assert.Zero(t, e.Stats().FramesCompleted)

	e.Begin()
	rec.waitFrame(t, time.Second)

	require.NoError(t, e.Stop())
	assert.Equal(t, e.Stats().PoolSize, e.Stats().IdleBuffers)
}

func TestStreamEngine_StopBeforeBegin(t *testing.T) {
	e, rec := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)

	require.NoError(t, e.Prepare(dev))

	start := time.Now()
	require.NoError(t, e.Stop())
	assert.Less(t, time.Since(start), 500*time.Millisecond)
	assert.Zero(t, rec.frameCount())
	assert.Equal(t, e.Stats().PoolSize, e.Stats().IdleBuffers)

	e.Begin()
	assert.False(t, e.Running(), "停止後の Begin は何もしない")
}

func TestStreamEngine_LoopFaultIsKeptUntilTaken(t *testing.T) {
	e, rec := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)
	e.SetFaultHandler(func(error) {})

	require.NoError(t, e.Start(dev))
	rec.waitFrame(t, time.Second)

	dev.stream.broken.Store(true)
	require.Eventually(t, func() bool {
		return e.fault.Load() != nil
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, e.Stop())
	assert.ErrorIs(t, e.takeFault(), errTransfer)
	assert.NoError(t, e.takeFault(), "一度取り出したら消える")
}

func TestStreamEngine_StopReportsStopAcquisitionFailure(t *testing.T) {
	e, _ := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)
	dev.stopErr = errors.New("AcquisitionStop が拒否されました")

	require.NoError(t, e.Start(dev))
	err := e.Stop()
	assert.ErrorIs(t, err, dev.stopErr)
	assert.False(t, e.Running())
	assert.Equal(t, e.Stats().PoolSize, e.Stats().IdleBuffers)
}

func TestStreamEngine_ForeignBufferIsDiscarded(t *testing.T) {
	e, rec := newTestEngine(t, testStreamOptions())
	dev := newScriptDevice(16, mono4x4)
	dev.stream.hold.Store(true)
	dev.stream.stray.Store(3)

	require.NoError(t, e.Start(dev))
	require.Eventually(t, func() bool {
		return dev.stream.stray.Load() == 0
	}, time.Second, 5*time.Millisecond)

	assert.Zero(t, rec.frameCount(), "プール外のバッファは変換も配信もしない")
	assert.Zero(t, e.Stats().FramesCompleted)
	assert.Equal(t, e.Stats().PoolSize, dev.stream.queued(), "プール外のバッファは再投入しない")
	assert.Equal(t, e.Stats().PoolSize, e.Stats().InFlightBuffers)

	dev.stream.hold.Store(false)
	rec.waitFrame(t, time.Second)

	require.NoError(t, e.Stop())
	assert.Equal(t, e.Stats().PoolSize, e.Stats().IdleBuffers)
}
