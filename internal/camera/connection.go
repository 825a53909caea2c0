package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// PixelFormatAuto はデバイスのデフォルトフォーマットをそのまま使う指定
const PixelFormatAuto PixelFormat = "Auto"

// sessionListener は接続セッションの開始と終了を受け取る
// 状態機械のロックを保持した状態で呼ばれる
type sessionListener interface {
	sessionOpened(dev Device, caps Capabilities) error
	sessionClosed()
}

// session は接続ごとに公開される読み取り専用の情報
type session struct {
	id         string
	descriptor CameraDescriptor
	caps       Capabilities
}

// ConnectionStateMachine は接続状態と有効なデバイスハンドルを所有する
// 全ての遷移は mu で直列化され、通知はコミット後に一度だけ配信される
type ConnectionStateMachine struct {
	stack      Stack
	registry   *FakeCameraRegistry
	engine     *StreamEngine
	dispatcher *EventDispatcher

	mu        sync.Mutex
	device    Device
	listener  sessionListener
	preferred PixelFormat

	state   atomic.Int32
	current atomic.Pointer[session]
}

// NewConnectionStateMachine は新しいConnectionStateMachineを作成する
func NewConnectionStateMachine(stack Stack, registry *FakeCameraRegistry, engine *StreamEngine, dispatcher *EventDispatcher) *ConnectionStateMachine {
	if stack == nil {
		stack = NewNullStack()
	}
	sm := &ConnectionStateMachine{
		stack:      stack,
		registry:   registry,
		engine:     engine,
		dispatcher: dispatcher,
	}
	engine.SetFaultHandler(sm.onStreamFault)
	return sm
}

// attach はセッションリスナーを設定する
func (sm *ConnectionStateMachine) attach(l sessionListener) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.listener = l
}

// SetPreferredPixelFormat は接続直後に適用するピクセルフォーマットを設定する
// 空文字または "Auto" はデバイスのデフォルトを維持する
func (sm *ConnectionStateMachine) SetPreferredPixelFormat(f PixelFormat) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.preferred = f
}

// State は現在の接続状態を返す
func (sm *ConnectionStateMachine) State() ConnectionState {
	return ConnectionState(sm.state.Load())
}

// Descriptor は接続中デバイスの記述子を返す
func (sm *ConnectionStateMachine) Descriptor() (CameraDescriptor, bool) {
	s := sm.current.Load()
	if s == nil {
		return CameraDescriptor{}, false
	}
	return s.descriptor, true
}

// Capabilities は接続時に取得した能力範囲を返す（未接続なら false）
func (sm *ConnectionStateMachine) Capabilities() (Capabilities, bool) {
	s := sm.current.Load()
	if s == nil {
		return Capabilities{}, false
	}
	caps := s.caps
	caps.Resolutions = slices.Clone(s.caps.Resolutions)
	caps.PixelFormats = slices.Clone(s.caps.PixelFormats)
	return caps, true
}

// SessionID は現在の接続セッションIDを返す（未接続なら空文字）
func (sm *ConnectionStateMachine) SessionID() string {
	if s := sm.current.Load(); s != nil {
		return s.id
	}
	return ""
}

// Connect は記述子が指すデバイスへ接続する
func (sm *ConnectionStateMachine) Connect(ctx context.Context, desc CameraDescriptor) error {
	target := desc.DeviceID
	if target == "" {
		target = desc.IPAddress
	}
	if target == "" {
		return connectionError("connect", "記述子にデバイスIDもアドレスもありません")
	}
	return sm.connect(ctx, target, desc.DeviceID)
}

// ConnectAddress はIPアドレスを指定して接続する
func (sm *ConnectionStateMachine) ConnectAddress(ctx context.Context, address string) error {
	if address == "" {
		return connectionError("connect", "アドレスが指定されていません")
	}
	return sm.connect(ctx, address, "")
}

func (sm *ConnectionStateMachine) connect(ctx context.Context, target, wantID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if state := sm.State(); state != StateDisconnected {
		return connectionError("connect", "接続は既に有効です (状態: %s)", state)
	}

	sm.transitionLocked(StateConnecting)

	dev, err := sm.open(ctx, target)
	if err != nil {
		return sm.abortLocked(KindConnection, asConnectionError("connect", err))
	}

	info := dev.Info()
	if wantID != "" && info.ID != wantID {
		_ = dev.Close()
		return sm.abortLocked(KindConnection,
			connectionError("connect", "記述子が古くなっています: %s は %s として応答しました", wantID, info.ID))
	}

	caps, err := dev.Capabilities(ctx)
	if err != nil {
		_ = dev.Close()
		if errors.Is(err, ErrDeviceLost) {
			return sm.abortLocked(KindConnection, asConnectionError("capabilities", err))
		}
		return sm.abortLocked(KindCapabilityFetch,
			newError(KindCapabilityFetch, "capabilities", err))
	}

	sm.applyPreferredFormat(dev, caps)

	if sm.listener != nil {
		if err := sm.listener.sessionOpened(dev, caps); err != nil {
			_ = dev.Close()
			if errors.Is(err, ErrDeviceLost) {
				return sm.abortLocked(KindConnection, asConnectionError("settings", err))
			}
			return sm.abortLocked(KindCapabilityFetch,
				newError(KindCapabilityFetch, "settings", err))
		}
	}

	sm.device = dev
	sm.current.Store(&session{
		id:         uuid.NewString(),
		descriptor: info.Descriptor(),
		caps:       caps,
	})
	sm.transitionLocked(StateConnected)

	slog.Info("デバイスに接続しました",
		"device_id", info.ID,
		"address", info.Address,
		"session_id", sm.SessionID(),
	)
	return nil
}

// open はフェイクカメラまたは外部スタックへ接続する
func (sm *ConnectionStateMachine) open(ctx context.Context, target string) (Device, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if sm.registry != nil && sm.registry.owns(target) {
		return sm.registry.connect(ctx, target)
	}
	return sm.stack.Connect(ctx, target)
}

// applyPreferredFormat は優先ピクセルフォーマットをベストエフォートで適用する
func (sm *ConnectionStateMachine) applyPreferredFormat(dev Device, caps Capabilities) {
	f := sm.preferred
	if f == "" || f == PixelFormatAuto {
		return
	}
	if !caps.SupportsPixelFormat(f) {
		slog.Warn("優先ピクセルフォーマットはサポートされていません", "pixel_format", f)
		return
	}
	if err := dev.SetPixelFormat(f); err != nil {
		slog.Warn("優先ピクセルフォーマットの適用に失敗", "pixel_format", f, "error", err)
	}
}

// abortLocked は接続処理の失敗を通知してError状態へ遷移する
func (sm *ConnectionStateMachine) abortLocked(kind ErrorKind, err error) error {
	slog.Warn("接続に失敗しました", "kind", kind, "error", err)
	sm.dispatcher.Error(kind, err.Error())
	sm.transitionLocked(StateError)
	return err
}

// Disconnect はどの状態からでも Disconnected へ戻す。常に成功する
func (sm *ConnectionStateMachine) Disconnect(_ context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() == StateDisconnected {
		return nil
	}

	sm.releaseLocked()
	sm.transitionLocked(StateDisconnected)
	slog.Info("デバイスから切断しました")
	return nil
}

// releaseLocked は取得ループを止め、ハンドルと能力範囲のキャッシュを解放する
func (sm *ConnectionStateMachine) releaseLocked() {
	if err := sm.engine.Stop(); err != nil {
		slog.Debug("解放中の取得停止エラー", "error", err)
	}
	_ = sm.engine.takeFault()
	if sm.device != nil {
		if err := sm.device.Close(); err != nil {
			slog.Warn("デバイスハンドルの解放に失敗", "error", err)
		}
		sm.device = nil
	}
	if sm.listener != nil {
		sm.listener.sessionClosed()
	}
	sm.current.Store(nil)
}

// StartStreaming は Connected から取得ループを開始する
func (sm *ConnectionStateMachine) StartStreaming(_ context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch state := sm.State(); state {
	case StateConnected:
	case StateDisconnected:
		return newError(KindConnection, "start_streaming", ErrNotConnected)
	default:
		return connectionError("start_streaming", "現在の状態では取得を開始できません (状態: %s)", state)
	}

	if err := sm.engine.Prepare(sm.device); err != nil {
		if errors.Is(err, ErrDeviceLost) {
			return sm.faultLocked("start_streaming", err)
		}
		return newError(KindStream, "start_streaming", err)
	}

	sm.transitionLocked(StateStreaming)
	sm.engine.Begin()
	return nil
}

// StopStreaming は取得ループを止めて Connected へ戻す
func (sm *ConnectionStateMachine) StopStreaming(_ context.Context) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	switch state := sm.State(); state {
	case StateStreaming:
	case StateConnected:
		return nil
	case StateDisconnected:
		return newError(KindConnection, "stop_streaming", ErrNotConnected)
	default:
		return connectionError("stop_streaming", "現在の状態では取得を停止できません (状態: %s)", state)
	}

	faulted, stopErr := sm.stopEngineLocked("stop_streaming")
	if faulted {
		return stopErr
	}

	sm.transitionLocked(StateConnected)
	if stopErr != nil {
		return newError(KindStream, "stop_streaming", stopErr)
	}
	return nil
}

// stopEngineLocked は取得ループを止める
// ループが障害で終了していた場合とデバイス消失時は faultLocked を行い、faulted を true で返す
// それ以外の停止エラーは通知したうえで返す
func (sm *ConnectionStateMachine) stopEngineLocked(op string) (faulted bool, err error) {
	stopErr := sm.engine.Stop()
	if loopErr := sm.engine.takeFault(); loopErr != nil {
		return true, sm.faultLocked(op, loopErr)
	}
	if stopErr == nil {
		return false, nil
	}
	if errors.Is(stopErr, ErrDeviceLost) {
		return true, sm.faultLocked(op, stopErr)
	}
	slog.Warn("取得の停止に失敗しました", "op", op, "error", stopErr)
	sm.dispatcher.Error(KindStream, stopErr.Error())
	return false, stopErr
}

// reconfigureLocked は Streaming 中なら取得を止めて fn を実行し、再開する
// 外部には Streaming→Connected→Streaming の一組の通知のみが見える
func (sm *ConnectionStateMachine) reconfigureLocked(op string, fn func(dev Device) error) error {
	if sm.State() != StateStreaming {
		return fn(sm.device)
	}

	if faulted, err := sm.stopEngineLocked(op); faulted {
		return err
	}
	sm.transitionLocked(StateConnected)

	fnErr := fn(sm.device)
	if errors.Is(fnErr, ErrDeviceLost) {
		return sm.faultLocked(op, fnErr)
	}

	if err := sm.engine.Prepare(sm.device); err != nil {
		if errors.Is(err, ErrDeviceLost) {
			return sm.faultLocked(op, err)
		}
		sm.dispatcher.Error(KindStream, fmt.Sprintf("再構成後の取得再開に失敗: %v", err))
		sm.releaseLocked()
		sm.transitionLocked(StateError)
		return newError(KindStream, op, err)
	}
	sm.engine.noteRestart()
	sm.transitionLocked(StateStreaming)
	sm.engine.Begin()

	slog.Info("取得ループを再構成しました", "op", op)
	return fnErr
}

// faultLocked はデバイス消失を通知し、切断相当の後始末をしてError状態へ遷移する
func (sm *ConnectionStateMachine) faultLocked(op string, cause error) error {
	kind := KindStream
	if errors.Is(cause, ErrDeviceLost) {
		kind = KindDeviceFault
	}

	slog.Error("デバイス障害を検出しました", "op", op, "kind", kind, "error", cause)
	sm.dispatcher.Error(kind, cause.Error())
	sm.releaseLocked()
	sm.transitionLocked(StateError)
	return asConnectionError(op, cause)
}

// onStreamFault は取得ループから呼ばれる。ループは停止待ちでロックを保持され得るため非同期で処理する
func (sm *ConnectionStateMachine) onStreamFault(err error) {
	id := sm.SessionID()
	go sm.handleStreamFault(id, err)
}

func (sm *ConnectionStateMachine) handleStreamFault(sessionID string, err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.State() != StateStreaming || sm.SessionID() != sessionID {
		return
	}
	_ = sm.faultLocked("stream", err)
}

// transitionLocked は状態をコミットしてから通知を一度だけ配信する
func (sm *ConnectionStateMachine) transitionLocked(to ConnectionState) {
	from := sm.State()
	if !CanTransition(from, to) {
		slog.Error("不正な状態遷移を拒否しました", "from", from, "to", to)
		return
	}
	sm.state.Store(int32(to))
	slog.Debug("接続状態が変化しました", "from", from, "to", to)
	sm.dispatcher.StateChange(to)
}

// asConnectionError はエラーを ConnectionError として返す
func asConnectionError(op string, err error) error {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindConnection {
		return err
	}
	return newError(KindConnection, op, err)
}
