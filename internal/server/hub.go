package server

import (
	"sync"

	"gigebridge/internal/camera"
	"gigebridge/internal/emitter"
	"gigebridge/internal/snapshot"
)

// EventSink はブリッジのイベントを外部へ送る先
type EventSink interface {
	Enqueue(ev emitter.Event) bool
	SetSession(deviceID, sessionID string)
}

// SessionSource は通知に付与する接続情報の取得元
type SessionSource interface {
	Descriptor() (camera.CameraDescriptor, bool)
	SessionID() string
}

// Hub はブリッジに登録される唯一のオブザーバー
// フレームはスナップショットへ、状態とエラーはSSEクライアントとMQTTへ配る
// コールバックは取得ループや状態遷移の中で呼ばれるためブロックしない
type Hub struct {
	store   *snapshot.Store
	sink    EventSink
	session SessionSource

	mu      sync.Mutex
	clients map[chan emitter.Event]struct{}
	last    *emitter.Event
}

// NewHub は新しいHubを作成する。store と sink は nil でもよい
func NewHub(store *snapshot.Store, sink EventSink, session SessionSource) *Hub {
	return &Hub{
		store:   store,
		sink:    sink,
		session: session,
		clients: make(map[chan emitter.Event]struct{}),
	}
}

// OnFrame は最新フレームを保持する
func (h *Hub) OnFrame(frame *camera.FrameBuffer) {
	if h.store != nil {
		h.store.Put(frame)
	}
}

// OnStateChange は状態遷移を配信する
func (h *Hub) OnStateChange(state camera.ConnectionState) {
	if h.store != nil && (state == camera.StateDisconnected || state == camera.StateError) {
		h.store.Reset()
	}
	if h.sink != nil && h.session != nil {
		deviceID := ""
		if desc, ok := h.session.Descriptor(); ok {
			deviceID = desc.DeviceID
		}
		h.sink.SetSession(deviceID, h.session.SessionID())
	}

	ev := emitter.StateEvent(state)
	h.publish(ev, true)
}

// OnError はエラーを配信する
func (h *Hub) OnError(kind camera.ErrorKind, message string) {
	h.publish(emitter.ErrorEvent(kind, message), false)
}

func (h *Hub) publish(ev emitter.Event, remember bool) {
	if h.sink != nil {
		h.sink.Enqueue(ev)
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	if remember {
		h.last = &ev
	}
	for ch := range h.clients {
		select {
		case ch <- ev:
		default:
			// 読み出しが遅いクライアントには届けない
		}
	}
}

// Subscribe はイベントを受け取るチャンネルを登録する
// 直近の状態イベントがあれば最初に届く
func (h *Hub) Subscribe() (<-chan emitter.Event, func()) {
	ch := make(chan emitter.Event, 16)

	h.mu.Lock()
	if h.last != nil {
		ch <- *h.last
	}
	h.clients[ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		delete(h.clients, ch)
		h.mu.Unlock()
	}
	return ch, cancel
}

// Clients は接続中のSSEクライアント数を返す
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}
