package emitter

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"gigebridge/internal/camera"
)

// イベント種別
const (
	EventState = "state"
	EventError = "error"
)

// Event はブローカーへ送るブリッジのイベント
type Event struct {
	Type      string    `json:"type" msgpack:"type"`
	State     string    `json:"state,omitempty" msgpack:"state,omitempty"`
	Kind      string    `json:"kind,omitempty" msgpack:"kind,omitempty"`
	Message   string    `json:"message,omitempty" msgpack:"message,omitempty"`
	DeviceID  string    `json:"device_id,omitempty" msgpack:"device_id,omitempty"`
	SessionID string    `json:"session_id,omitempty" msgpack:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp" msgpack:"timestamp"`
}

// StateEvent は状態遷移イベントを作成する
func StateEvent(state camera.ConnectionState) Event {
	return Event{
		Type:      EventState,
		State:     state.String(),
		Timestamp: time.Now(),
	}
}

// ErrorEvent はエラーイベントを作成する
func ErrorEvent(kind camera.ErrorKind, message string) Event {
	return Event{
		Type:      EventError,
		Kind:      kind.String(),
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Encoding はペイロードの形式
type Encoding string

const (
	EncodingJSON    Encoding = "json"
	EncodingMsgpack Encoding = "msgpack"
)

// Encode はイベントを指定の形式にエンコードする
func (enc Encoding) Encode(ev Event) ([]byte, error) {
	switch enc {
	case EncodingJSON, "":
		return json.Marshal(ev)
	case EncodingMsgpack:
		return msgpack.Marshal(ev)
	default:
		return nil, fmt.Errorf("未対応のエンコーディング: %s", enc)
	}
}

// Decode はペイロードをイベントに戻す
func (enc Encoding) Decode(data []byte) (Event, error) {
	var ev Event
	var err error
	switch enc {
	case EncodingJSON, "":
		err = json.Unmarshal(data, &ev)
	case EncodingMsgpack:
		err = msgpack.Unmarshal(data, &ev)
	default:
		err = fmt.Errorf("未対応のエンコーディング: %s", enc)
	}
	return ev, err
}
