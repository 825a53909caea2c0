package emitter

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
)

// Config はMQTT送信の設定
type Config struct {
	Broker      string   // host:port
	ClientID    string   // 空なら自動生成
	TopicPrefix string   // トピックの接頭辞
	QoS         byte     // QoSレベル
	Encoding    Encoding // ペイロード形式
	QueueSize   int      // 送信待ちキューの長さ
}

// MQTTEmitter はブリッジのイベントをMQTTブローカーへ送信する
// Enqueue は観測コールバック上で呼ばれるためブロックしない
type MQTTEmitter struct {
	cfg    Config
	Client mqtt.Client

	queue chan Event

	mu        sync.RWMutex
	published map[string]uint64 // トピックごとの送信数
	errors    uint64
	dropped   uint64
	connected bool
	deviceID  string
	sessionID string
}

// NewMQTTEmitter は新しいMQTTEmitterを作成する
func NewMQTTEmitter(cfg Config) *MQTTEmitter {
	if cfg.ClientID == "" {
		cfg.ClientID = "gigebridge-" + uuid.NewString()[:8]
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "gigebridge"
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	return &MQTTEmitter{
		cfg:       cfg,
		queue:     make(chan Event, cfg.QueueSize),
		published: make(map[string]uint64),
	}
}

// Connect はブローカーへ接続する
func (e *MQTTEmitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		slog.Info("MQTTブローカーに接続しました", "broker", e.cfg.Broker, "client_id", e.cfg.ClientID)
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		slog.Warn("MQTT接続が切断されました。自動再接続を待ちます", "error", err, "broker", e.cfg.Broker)
	}

	e.Client = mqtt.NewClient(opts)

	slog.Info("MQTTブローカーに接続中", "broker", e.cfg.Broker)

	token := e.Client.Connect()
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("MQTT接続がタイムアウトしました")
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("MQTT接続に失敗: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Run はキューのイベントを送信する。ctx が終わるまで戻らない
func (e *MQTTEmitter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev := <-e.queue:
			if err := e.Publish(ev); err != nil {
				slog.Debug("イベントの送信に失敗", "type", ev.Type, "error", err)
			}
		}
	}
}

// SetSession はイベントに付与する接続情報を設定する
func (e *MQTTEmitter) SetSession(deviceID, sessionID string) {
	e.mu.Lock()
	e.deviceID = deviceID
	e.sessionID = sessionID
	e.mu.Unlock()
}

// Enqueue はイベントを送信キューに積む。満杯なら捨てる
func (e *MQTTEmitter) Enqueue(ev Event) bool {
	e.mu.RLock()
	if ev.DeviceID == "" {
		ev.DeviceID = e.deviceID
	}
	if ev.SessionID == "" {
		ev.SessionID = e.sessionID
	}
	e.mu.RUnlock()

	select {
	case e.queue <- ev:
		return true
	default:
		e.mu.Lock()
		e.dropped++
		e.mu.Unlock()
		return false
	}
}

// Topic はイベント種別のトピックを返す
func (e *MQTTEmitter) Topic(eventType string) string {
	return fmt.Sprintf("%s/%s", e.cfg.TopicPrefix, eventType)
}

// Publish はイベントを同期的に送信する
// 状態イベントは後から購読したクライアントにも届くよう retain する
func (e *MQTTEmitter) Publish(ev Event) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("MQTTに接続していません")
	}

	topic := e.Topic(ev.Type)
	payload, err := e.cfg.Encoding.Encode(ev)
	if err != nil {
		e.countError()
		return fmt.Errorf("イベントのエンコードに失敗: %w", err)
	}

	token := e.Client.Publish(topic, e.cfg.QoS, ev.Type == EventState, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("送信がタイムアウトしました")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("送信に失敗: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	slog.Debug("イベントを送信しました", "topic", topic, "qos", e.cfg.QoS, "size", len(payload))
	return nil
}

// Disconnect はブローカーから切断する
func (e *MQTTEmitter) Disconnect() error {
	if e.Client != nil && e.Client.IsConnected() {
		e.Client.Disconnect(250)
		slog.Info("MQTTブローカーから切断しました")
	}
	e.setConnected(false)
	return nil
}

// Stats は送信統計を返す
func (e *MQTTEmitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}

	return Stats{
		Connected: e.connected,
		Published: published,
		Errors:    e.errors,
		Dropped:   e.dropped,
	}
}

// Stats は送信統計
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
	Dropped   uint64            `json:"dropped"`
}

func (e *MQTTEmitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTTEmitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTTEmitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
