package camera

import "sync"

// Observer はブリッジからの通知を受け取る
// コールバックは取得ループまたは呼び出し側のゴルーチンで実行されるため、長時間ブロックしてはならない
type Observer interface {
	OnFrame(frame *FrameBuffer)
	OnStateChange(state ConnectionState)
	OnError(kind ErrorKind, message string)
}

// ObserverFuncs は関数の組でObserverを実装する（nilのコールバックは無視される）
type ObserverFuncs struct {
	Frame       func(frame *FrameBuffer)
	StateChange func(state ConnectionState)
	Error       func(kind ErrorKind, message string)
}

func (o ObserverFuncs) OnFrame(frame *FrameBuffer) {
	if o.Frame != nil {
		o.Frame(frame)
	}
}

func (o ObserverFuncs) OnStateChange(state ConnectionState) {
	if o.StateChange != nil {
		o.StateChange(state)
	}
}

func (o ObserverFuncs) OnError(kind ErrorKind, message string) {
	if o.Error != nil {
		o.Error(kind, message)
	}
}

// EventDispatcher は高々1つのオブザーバーへ通知を配信する
// オブザーバーは所有せず、未登録時の通知は破棄される
type EventDispatcher struct {
	mu       sync.RWMutex
	observer Observer
}

// NewEventDispatcher は新しいEventDispatcherを作成する
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{}
}

// Register はオブザーバーを登録する
func (d *EventDispatcher) Register(o Observer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.observer != nil {
		return ErrObserverRegistered
	}
	d.observer = o
	return nil
}

// Unregister は登録中のオブザーバーを解除する
func (d *EventDispatcher) Unregister() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = nil
}

// HasObserver はオブザーバーが登録されているかを返す
func (d *EventDispatcher) HasObserver() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.observer != nil
}

func (d *EventDispatcher) current() Observer {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.observer
}

// Frame はフレームを配信する。配信されなかった場合は false
func (d *EventDispatcher) Frame(frame *FrameBuffer) bool {
	o := d.current()
	if o == nil {
		return false
	}
	o.OnFrame(frame)
	return true
}

// StateChange は状態変化を配信する
func (d *EventDispatcher) StateChange(state ConnectionState) {
	if o := d.current(); o != nil {
		o.OnStateChange(state)
	}
}

// Error はエラーを配信する
func (d *EventDispatcher) Error(kind ErrorKind, message string) {
	if o := d.current(); o != nil {
		o.OnError(kind, message)
	}
}
