package camera

import (
	"context"
	"time"
)

// BridgeOptions はブリッジの設定
type BridgeOptions struct {
	Stream               StreamOptions
	DiscoveryTimeout     time.Duration
	PreferredPixelFormat PixelFormat // 空文字または "Auto" でデバイスのデフォルト
}

// Status はブリッジの現在状態の要約
type Status struct {
	State             ConnectionState   `json:"state"`
	SessionID         string            `json:"session_id,omitempty"`
	Camera            *CameraDescriptor `json:"camera,omitempty"`
	Settings          *Settings         `json:"settings,omitempty"`
	FakeCameraRunning bool              `json:"fake_camera_running"`
	ObserverAttached  bool              `json:"observer_attached"`
	Timestamp         time.Time         `json:"timestamp"`
}

// Bridge はコンシューマーに公開される操作の集合
// 各呼び出しは同期的に成否を返し、フレームや障害はオブザーバーへ非同期に配信される
type Bridge struct {
	registry   *FakeCameraRegistry
	catalog    *DeviceCatalog
	dispatcher *EventDispatcher
	engine     *StreamEngine
	conn       *ConnectionStateMachine
	settings   *SettingsController

	discoveryTimeout time.Duration
}

// NewBridge は新しいBridgeを作成する
// registry が nil の場合はプロセス全体のレジストリを使う
func NewBridge(stack Stack, registry *FakeCameraRegistry, opts BridgeOptions) *Bridge {
	if registry == nil {
		registry = DefaultFakeCameraRegistry()
	}
	if opts.DiscoveryTimeout <= 0 {
		opts.DiscoveryTimeout = DefaultDiscoveryTimeout
	}

	dispatcher := NewEventDispatcher()
	engine := NewStreamEngine(opts.Stream, dispatcher)
	conn := NewConnectionStateMachine(stack, registry, engine, dispatcher)
	conn.SetPreferredPixelFormat(opts.PreferredPixelFormat)

	return &Bridge{
		registry:         registry,
		catalog:          NewDeviceCatalog(stack, registry),
		dispatcher:       dispatcher,
		engine:           engine,
		conn:             conn,
		settings:         NewSettingsController(conn),
		discoveryTimeout: opts.DiscoveryTimeout,
	}
}

// Discover は到達可能なカメラを列挙する（timeout<=0 でデフォルト）
func (b *Bridge) Discover(ctx context.Context, timeout time.Duration) ([]CameraDescriptor, error) {
	if timeout <= 0 {
		timeout = b.discoveryTimeout
	}
	return b.catalog.Discover(ctx, timeout)
}

// Resolve はデバイスIDまたはIPアドレスから記述子を探す
func (b *Bridge) Resolve(ctx context.Context, idOrAddress string) (CameraDescriptor, bool) {
	return b.catalog.Resolve(ctx, idOrAddress, b.discoveryTimeout)
}

// Connect は記述子が指すデバイスへ接続する
func (b *Bridge) Connect(ctx context.Context, desc CameraDescriptor) error {
	return b.conn.Connect(ctx, desc)
}

// ConnectAddress はIPアドレスで接続する。既知のデバイスなら記述子を解決してから接続する
func (b *Bridge) ConnectAddress(ctx context.Context, address string) error {
	if desc, ok := b.catalog.Resolve(ctx, address, b.discoveryTimeout); ok {
		return b.conn.Connect(ctx, desc)
	}
	return b.conn.ConnectAddress(ctx, address)
}

// Disconnect はどの状態からでも切断する
func (b *Bridge) Disconnect(ctx context.Context) error {
	return b.conn.Disconnect(ctx)
}

// StartStreaming は取得を開始する
func (b *Bridge) StartStreaming(ctx context.Context) error {
	return b.conn.StartStreaming(ctx)
}

// StopStreaming は取得を停止する
func (b *Bridge) StopStreaming(ctx context.Context) error {
	return b.conn.StopStreaming(ctx)
}

// Set はパラメータを変更する
func (b *Bridge) Set(ctx context.Context, p Parameter, v Value) error {
	return b.settings.Set(ctx, p, v)
}

// Get はパラメータの現在値を返す
func (b *Bridge) Get(p Parameter) (Value, error) {
	return b.settings.Get(p)
}

// Settings は設定のスナップショットを返す
func (b *Bridge) Settings() (Settings, bool) {
	return b.settings.Snapshot()
}

// Capabilities は接続中デバイスの能力範囲を返す
func (b *Bridge) Capabilities() (Capabilities, bool) {
	return b.conn.Capabilities()
}

// State は現在の接続状態を返す
func (b *Bridge) State() ConnectionState {
	return b.conn.State()
}

// Descriptor は接続中デバイスの記述子を返す
func (b *Bridge) Descriptor() (CameraDescriptor, bool) {
	return b.conn.Descriptor()
}

// SessionID は現在の接続セッションIDを返す（未接続なら空）
func (b *Bridge) SessionID() string {
	return b.conn.SessionID()
}

// RegisterObserver はオブザーバーを登録する（既に登録済みならエラー）
func (b *Bridge) RegisterObserver(o Observer) error {
	return b.dispatcher.Register(o)
}

// UnregisterObserver はオブザーバーを解除する
func (b *Bridge) UnregisterObserver() {
	b.dispatcher.Unregister()
}

// Stats は取得ループの統計を返す
func (b *Bridge) Stats() StreamStats {
	return b.engine.Stats()
}

// FakeCameras はブリッジが参照するフェイクカメラレジストリを返す
func (b *Bridge) FakeCameras() *FakeCameraRegistry {
	return b.registry
}

// Status は状態の要約を返す
func (b *Bridge) Status() Status {
	st := Status{
		State:             b.conn.State(),
		SessionID:         b.conn.SessionID(),
		FakeCameraRunning: b.registry.IsRunning(),
		ObserverAttached:  b.dispatcher.HasObserver(),
		Timestamp:         time.Now(),
	}
	if desc, ok := b.conn.Descriptor(); ok {
		st.Camera = &desc
	}
	if s, ok := b.settings.Snapshot(); ok {
		st.Settings = &s
	}
	return st
}

// Close は切断してリソースを解放する
func (b *Bridge) Close(ctx context.Context) error {
	return b.conn.Disconnect(ctx)
}
