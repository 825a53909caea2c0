package camera

import (
	"errors"
	"fmt"
)

// ErrorKind はエラーの分類
type ErrorKind int

const (
	KindUnknown            ErrorKind = iota
	KindDiscoveryTimeout             // デバイスが応答しない（空の結果として扱う）
	KindConnection                   // 到達不能・接続済み・古い記述子
	KindCapabilityFetch              // 能力範囲の取得失敗（接続中止、状態はError）
	KindSettingsValidation           // 範囲外・非対応の組み合わせ・状態不正
	KindStream                       // ペイロード不一致・高いドロップ率・ストリーム中の障害
	KindDeviceFault                  // デバイス消失
)

var kindNames = map[ErrorKind]string{
	KindUnknown:            "unknown",
	KindDiscoveryTimeout:   "discovery_timeout",
	KindConnection:         "connection_error",
	KindCapabilityFetch:    "capability_fetch_error",
	KindSettingsValidation: "settings_validation_error",
	KindStream:             "stream_error",
	KindDeviceFault:        "device_fault",
}

// String は種別名を返す
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// MarshalText はJSON出力用に種別名を返す
func (k ErrorKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText は種別名から種別を復元する
func (k *ErrorKind) UnmarshalText(text []byte) error {
	for kind, name := range kindNames {
		if name == string(text) {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("未知のエラー種別: %q", text)
}

// Error はブリッジ層のエラー
type Error struct {
	Kind ErrorKind
	Op   string // 失敗した操作
	Err  error  // 原因
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	default:
		return e.Kind.String()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is は種別のみを持つ番兵エラーと種別で一致させる
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

// 種別一致用の番兵
var (
	ErrConnection         = &Error{Kind: KindConnection}
	ErrCapabilityFetch    = &Error{Kind: KindCapabilityFetch}
	ErrSettingsValidation = &Error{Kind: KindSettingsValidation}
	ErrStream             = &Error{Kind: KindStream}
	ErrDeviceFault        = &Error{Kind: KindDeviceFault}
)

// 原因として使う番兵
var (
	ErrNotConnected       = errors.New("デバイスに接続されていません")
	ErrDeviceLost         = errors.New("デバイスが消失しました")
	ErrPopTimeout         = errors.New("バッファ待ちがタイムアウトしました")
	ErrObserverRegistered = errors.New("オブザーバーは既に登録されています")
)

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func connectionError(op string, format string, args ...any) *Error {
	return newError(KindConnection, op, fmt.Errorf(format, args...))
}

func validationError(op string, format string, args ...any) *Error {
	return newError(KindSettingsValidation, op, fmt.Errorf(format, args...))
}

// KindOf はエラーの種別を返す（ブリッジのエラーでなければ KindUnknown）
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
