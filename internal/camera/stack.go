package camera

import (
	"context"
	"time"
)

// GenICam のフィーチャー名
const (
	FeatureFrameRate    = "AcquisitionFrameRate"
	FeatureExposureTime = "ExposureTime"
	FeatureGain         = "Gain"
)

// DeviceInfo はスタックが列挙したデバイス情報
type DeviceInfo struct {
	ID      string // デバイスID
	Name    string // 表示名
	Model   string // モデル名
	Address string // IPアドレス
}

// Descriptor はデバイス情報から記述子を作成する
func (d DeviceInfo) Descriptor() CameraDescriptor {
	return CameraDescriptor{
		DeviceID:    d.ID,
		DisplayName: d.Name,
		ModelName:   d.Model,
		IPAddress:   d.Address,
	}
}

// Stack は外部のマシンビジョンプロトコルスタック
type Stack interface {
	// EnumerateDevices は timeout 以内に応答したデバイスを列挙する
	EnumerateDevices(ctx context.Context, timeout time.Duration) ([]DeviceInfo, error)

	// Connect はデバイスIDまたはIPアドレスで接続する
	Connect(ctx context.Context, idOrAddress string) (Device, error)
}

// Device はスタックが返すデバイスハンドル
type Device interface {
	// Info はデバイス情報を返す
	Info() DeviceInfo

	// Capabilities はパラメータごとの有効範囲を取得する
	Capabilities(ctx context.Context) (Capabilities, error)

	// PayloadSize は現在の設定での1フレームのペイロード長を返す
	PayloadSize() (int, error)

	// CreateStream はストリームハンドルを作成する
	CreateStream() (Stream, error)

	StartAcquisition() error
	StopAcquisition() error

	GetFloat(feature string) (float64, error)
	SetFloat(feature string, value float64) error
	Region() (Resolution, error)
	SetRegion(r Resolution) error
	PixelFormat() (PixelFormat, error)
	SetPixelFormat(f PixelFormat) error

	// Close はデバイスハンドルを解放する
	Close() error
}

// Stream はバッファキューを持つストリームハンドル
type Stream interface {
	// PushBuffer は空きバッファを取得キューへ渡す
	PushBuffer(buf *StreamBuffer) error

	// PopCompletedBuffer は完了したバッファを待つ
	// timeout 経過時は ErrPopTimeout、デバイス消失時は ErrDeviceLost を返す
	PopCompletedBuffer(timeout time.Duration) (*StreamBuffer, error)

	// Drain は取得停止後にスタックが保持している全バッファを返却する
	Drain() []*StreamBuffer

	Close() error
}

// nullStack は実機スタックが登録されていない場合のスタック
type nullStack struct{}

// NewNullStack はデバイスを一切返さないスタックを作成する
func NewNullStack() Stack {
	return nullStack{}
}

// EnumerateDevices は常に空の一覧を返す
func (nullStack) EnumerateDevices(_ context.Context, _ time.Duration) ([]DeviceInfo, error) {
	return nil, nil
}

// Connect は常に接続エラーを返す
func (nullStack) Connect(_ context.Context, idOrAddress string) (Device, error) {
	return nil, connectionError("connect", "デバイスに到達できません: %s", idOrAddress)
}
