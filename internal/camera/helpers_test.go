package camera

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recorder は通知を記録するオブザーバー
type recorder struct {
	mu     sync.Mutex
	log    []string // "state:<name>" / "error:<kind>"
	states []ConnectionState
	errs   []ErrorKind
	frames chan *FrameBuffer
	count  int
}

func newRecorder() *recorder {
	return &recorder{frames: make(chan *FrameBuffer, 64)}
}

func (r *recorder) OnFrame(frame *FrameBuffer) {
	r.mu.Lock()
	r.count++
	r.mu.Unlock()

	select {
	case r.frames <- frame:
	default:
	}
}

func (r *recorder) OnStateChange(state ConnectionState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
	r.log = append(r.log, "state:"+state.String())
}

func (r *recorder) OnError(kind ErrorKind, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, kind)
	r.log = append(r.log, "error:"+kind.String())
}

func (r *recorder) stateLog() []ConnectionState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ConnectionState(nil), r.states...)
}

func (r *recorder) errorLog() []ErrorKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ErrorKind(nil), r.errs...)
}

func (r *recorder) eventLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.log...)
}

func (r *recorder) frameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.log = nil
	r.states = nil
	r.errs = nil
	for {
		select {
		case <-r.frames:
		default:
			return
		}
	}
}

// waitFrame は timeout 以内にフレームを1枚受け取る
func (r *recorder) waitFrame(t *testing.T, timeout time.Duration) *FrameBuffer {
	t.Helper()
	select {
	case f := <-r.frames:
		return f
	case <-time.After(timeout):
		t.Fatalf("%v 以内にフレームが配信されませんでした", timeout)
		return nil
	}
}

// stubStack は固定のデバイス一覧を返すスタック
type stubStack struct {
	devices []DeviceInfo
	err     error
	delay   time.Duration
}

func (s *stubStack) EnumerateDevices(ctx context.Context, _ time.Duration) ([]DeviceInfo, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.devices, s.err
}

func (s *stubStack) Connect(_ context.Context, idOrAddress string) (Device, error) {
	return nil, connectionError("connect", "デバイスに到達できません: %s", idOrAddress)
}

// testStreamOptions はテスト用に短い待ち時間の設定を返す
func testStreamOptions() StreamOptions {
	return StreamOptions{
		PoolSize:      4,
		PopTimeout:    20 * time.Millisecond,
		DropWindow:    8,
		DropThreshold: 0.5,
	}
}

// newTestBridge は専用レジストリとフェイクカメラを持つBridgeを作成する
func newTestBridge(t *testing.T, config *FakeCameraConfig) (*Bridge, *FakeCameraRegistry, *recorder) {
	t.Helper()

	registry := NewFakeCameraRegistry()
	if config != nil {
		require.NoError(t, registry.Start(*config))
	}

	b := NewBridge(NewNullStack(), registry, BridgeOptions{
		Stream:           testStreamOptions(),
		DiscoveryTimeout: 100 * time.Millisecond,
	})
	rec := newRecorder()
	require.NoError(t, b.RegisterObserver(rec))

	t.Cleanup(func() {
		_ = b.Close(context.Background())
		registry.Stop()
	})
	return b, registry, rec
}

// fastFakeConfig は短時間でフレームを出すフェイクカメラ設定
func fastFakeConfig() *FakeCameraConfig {
	cfg := DefaultFakeCameraConfig()
	cfg.FrameRate = 100
	return &cfg
}

// connectFake はフェイクカメラへ接続する
func connectFake(t *testing.T, b *Bridge) {
	t.Helper()
	desc, ok := b.FakeCameras().Descriptor()
	require.True(t, ok)
	require.NoError(t, b.Connect(context.Background(), desc))
	require.Equal(t, StateConnected, b.State())
}
