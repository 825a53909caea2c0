package camera

import (
	"fmt"
	"slices"
	"time"
)

// CameraDescriptor は検出されたカメラの不変な識別情報
type CameraDescriptor struct {
	DeviceID    string `json:"device_id"`    // 物理/エミュレートデバイスごとに一意で安定
	DisplayName string `json:"display_name"` // 表示名
	ModelName   string `json:"model_name"`   // モデル名
	IPAddress   string `json:"ip_address"`   // IPアドレス
}

// ConnectionState は接続状態を表す
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota // 未接続
	StateConnecting                          // 接続処理中
	StateConnected                           // 接続済み
	StateStreaming                           // ストリーミング中
	StateError                               // エラー（disconnectでのみ復帰）
)

var stateNames = map[ConnectionState]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateStreaming:    "streaming",
	StateError:        "error",
}

// String は状態名を返す
func (s ConnectionState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// MarshalText はJSON出力用に状態名を返す
func (s ConnectionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText は状態名から状態を復元する
func (s *ConnectionState) UnmarshalText(text []byte) error {
	for state, name := range stateNames {
		if name == string(text) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("未知の状態: %q", text)
}

// transitions は許可された状態遷移
// disconnect はどの状態からでも許可される（Disconnected自身は遷移なし）
var transitions = map[ConnectionState][]ConnectionState{
	StateDisconnected: {StateConnecting},
	StateConnecting:   {StateConnected, StateError, StateDisconnected},
	StateConnected:    {StateStreaming, StateDisconnected, StateError},
	StateStreaming:    {StateConnected, StateDisconnected, StateError},
	StateError:        {StateDisconnected},
}

// CanTransition は from から to への遷移が許可されているかを返す
func CanTransition(from, to ConnectionState) bool {
	return slices.Contains(transitions[from], to)
}

// PixelFormat はピクセルフォーマット名（GenICam PixelFormat 準拠）
type PixelFormat string

const (
	PixelFormatMono8    PixelFormat = "Mono8"
	PixelFormatRGB8     PixelFormat = "RGB8"
	PixelFormatBGRA8    PixelFormat = "BGRA8"
	PixelFormatBayerRG8 PixelFormat = "BayerRG8"
)

// BytesPerPixel は1画素あたりのバイト数を返す（未知のフォーマットは0）
func (f PixelFormat) BytesPerPixel() int {
	switch f {
	case PixelFormatMono8, PixelFormatBayerRG8:
		return 1
	case PixelFormatRGB8:
		return 3
	case PixelFormatBGRA8:
		return 4
	default:
		return 0
	}
}

// IsBayer はベイヤー配列のフォーマットかを返す
func (f PixelFormat) IsBayer() bool {
	return f == PixelFormatBayerRG8
}

// Resolution は解像度を表す
type Resolution struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// String は "WxH" 形式の文字列を返す
func (r Resolution) String() string {
	return fmt.Sprintf("%dx%d", r.Width, r.Height)
}

// PayloadSize は指定フォーマットでの1フレームのバイト数を返す
func (r Resolution) PayloadSize(format PixelFormat) int {
	return r.Width * r.Height * format.BytesPerPixel()
}

// Range はパラメータの有効範囲（両端を含む）
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Contains は値が範囲内かを返す
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Capabilities は接続ごとに一度取得されるデバイスの能力範囲
type Capabilities struct {
	FrameRate    Range         `json:"frame_rate"`
	ExposureTime Range         `json:"exposure_time"` // マイクロ秒
	Gain         Range         `json:"gain"`
	Width        Range         `json:"width"`
	Height       Range         `json:"height"`
	Resolutions  []Resolution  `json:"resolutions"` // 空の場合は Width/Height の範囲で判定
	PixelFormats []PixelFormat `json:"pixel_formats"`
}

// SupportsResolution は解像度が能力範囲内かを返す
func (c Capabilities) SupportsResolution(r Resolution) bool {
	if len(c.Resolutions) > 0 {
		return slices.Contains(c.Resolutions, r)
	}
	return c.Width.Contains(float64(r.Width)) && c.Height.Contains(float64(r.Height))
}

// SupportsPixelFormat はフォーマットがサポートされているかを返す
func (c Capabilities) SupportsPixelFormat(f PixelFormat) bool {
	return slices.Contains(c.PixelFormats, f)
}

// Settings はカメラ設定のスナップショット
type Settings struct {
	FrameRate    float64     `json:"frame_rate"`
	ExposureTime float64     `json:"exposure_time"` // マイクロ秒
	Gain         float64     `json:"gain"`
	Resolution   Resolution  `json:"resolution"`
	PixelFormat  PixelFormat `json:"pixel_format"`
}

// Parameter は設定可能なパラメータ名
type Parameter string

const (
	ParamFrameRate    Parameter = "frame_rate"
	ParamExposureTime Parameter = "exposure_time"
	ParamGain         Parameter = "gain"
	ParamResolution   Parameter = "resolution"
	ParamPixelFormat  Parameter = "pixel_format"
)

// Parameters は全パラメータの一覧
var Parameters = []Parameter{ParamFrameRate, ParamExposureTime, ParamGain, ParamResolution, ParamPixelFormat}

// Value はパラメータ値（パラメータ種別に応じて1フィールドのみ使用）
type Value struct {
	Number      float64     `json:"number,omitempty"`
	Resolution  Resolution  `json:"resolution,omitempty"`
	PixelFormat PixelFormat `json:"pixel_format,omitempty"`
}

// NumberValue は数値パラメータ用のValueを作成する
func NumberValue(v float64) Value { return Value{Number: v} }

// ResolutionValue は解像度用のValueを作成する
func ResolutionValue(width, height int) Value {
	return Value{Resolution: Resolution{Width: width, Height: height}}
}

// PixelFormatValue はピクセルフォーマット用のValueを作成する
func PixelFormatValue(f PixelFormat) Value { return Value{PixelFormat: f} }

// value は設定スナップショットから指定パラメータの値を取り出す
func (s Settings) value(p Parameter) Value {
	switch p {
	case ParamFrameRate:
		return NumberValue(s.FrameRate)
	case ParamExposureTime:
		return NumberValue(s.ExposureTime)
	case ParamGain:
		return NumberValue(s.Gain)
	case ParamResolution:
		return Value{Resolution: s.Resolution}
	default:
		return PixelFormatValue(s.PixelFormat)
	}
}

// with は指定パラメータを差し替えた設定を返す
func (s Settings) with(p Parameter, v Value) Settings {
	switch p {
	case ParamFrameRate:
		s.FrameRate = v.Number
	case ParamExposureTime:
		s.ExposureTime = v.Number
	case ParamGain:
		s.Gain = v.Number
	case ParamResolution:
		s.Resolution = v.Resolution
	case ParamPixelFormat:
		s.PixelFormat = v.PixelFormat
	}
	return s
}

// BufferStatus は取得完了したバッファの状態
type BufferStatus int

const (
	BufferSuccess BufferStatus = iota
	BufferTimeout
	BufferAborted
	BufferPayloadMismatch
)

// String はステータス名を返す
func (s BufferStatus) String() string {
	switch s {
	case BufferSuccess:
		return "success"
	case BufferTimeout:
		return "timeout"
	case BufferAborted:
		return "aborted"
	case BufferPayloadMismatch:
		return "payload_mismatch"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// StreamBuffer は取得キューを循環する生ペイロードバッファ
// 所有者はプール（idle）・取得キュー（queued）・変換段（filled）のいずれか一つ
type StreamBuffer struct {
	id int

	Payload []byte       // 容量はペイロードサイズ、有効データは Payload[:Size]
	Size    int          // 有効バイト数
	Status  BufferStatus // 完了ステータス

	// デバイスが書き込むメタデータ
	Width       int
	Height      int
	PixelFormat PixelFormat
	FrameID     uint64
	Timestamp   time.Time
}

// ID はプール内のバッファ番号を返す
func (b *StreamBuffer) ID() int {
	return b.id
}

// FrameBuffer は変換済みフレーム。配信後の所有権はオブザーバーに移る
type FrameBuffer struct {
	Width       int
	Height      int
	PixelFormat PixelFormat
	Stride      int       // 1行あたりのバイト数
	Data        []byte    // プレーンデータ（StreamBufferとは別領域）
	FrameID     uint64    // デバイスのフレーム番号
	Timestamp   time.Time // 表示タイムスタンプ
	TraceID     string    // 配信トレース用ID
}
