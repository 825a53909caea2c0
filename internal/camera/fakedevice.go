package camera

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"
)

var fakeDeviceInfo = DeviceInfo{
	ID:      FakeCameraID,
	Name:    FakeCameraName,
	Model:   FakeCameraModel,
	Address: FakeCameraAddress,
}

var fakeCapabilities = Capabilities{
	FrameRate:    Range{Min: 1, Max: 120},
	ExposureTime: Range{Min: 10, Max: 1_000_000},
	Gain:         Range{Min: 0, Max: 24},
	Width:        Range{Min: 16, Max: 1920},
	Height:       Range{Min: 16, Max: 1080},
	Resolutions: []Resolution{
		{Width: 640, Height: 480},
		{Width: 1280, Height: 720},
		{Width: 1920, Height: 1080},
	},
	PixelFormats: []PixelFormat{PixelFormatMono8, PixelFormatBayerRG8, PixelFormatRGB8, PixelFormatBGRA8},
}

// fakeCamera はエミュレートされたデバイス本体（デバイス側のレジスタを保持する）
type fakeCamera struct {
	config FakeCameraConfig

	mu           sync.Mutex
	frameRate    float64
	exposureTime float64
	gain         float64
	region       Resolution
	pixelFormat  PixelFormat
	opened       bool

	lost     chan struct{}
	lostOnce sync.Once
}

func newFakeCamera(config FakeCameraConfig) *fakeCamera {
	return &fakeCamera{
		config:       config,
		frameRate:    config.FrameRate,
		exposureTime: 10_000,
		gain:         0,
		region:       config.Resolution,
		pixelFormat:  config.PixelFormat,
		lost:         make(chan struct{}),
	}
}

// markLost はデバイス消失を通知する
func (c *fakeCamera) markLost() {
	c.lostOnce.Do(func() { close(c.lost) })
}

func (c *fakeCamera) isLost() bool {
	select {
	case <-c.lost:
		return true
	default:
		return false
	}
}

// open は制御ハンドルを作成する（同時に1つのみ）
func (c *fakeCamera) open() (Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isLost() {
		return nil, newError(KindConnection, "connect", ErrDeviceLost)
	}
	if c.opened {
		return nil, connectionError("connect", "デバイス %s は別の接続で使用中です", FakeCameraID)
	}

	c.opened = true
	return &fakeDevice{camera: c}, nil
}

// fakeDevice はフェイクカメラへの制御ハンドル
type fakeDevice struct {
	camera *fakeCamera

	mu      sync.Mutex
	stream  *fakeStream
	stopCh  chan struct{}
	wg      sync.WaitGroup
	frameID uint64
	closed  bool
}

// check はハンドルが使用可能かを確認する
func (d *fakeDevice) check(op string) error {
	if d.camera.isLost() {
		return newError(KindConnection, op, ErrDeviceLost)
	}
	d.mu.Lock()
	closed := d.closed
	d.mu.Unlock()
	if closed {
		return connectionError(op, "ハンドルは既に閉じられています")
	}
	return nil
}

// Info はデバイス情報を返す
func (d *fakeDevice) Info() DeviceInfo {
	return fakeDeviceInfo
}

// Capabilities は固定の能力範囲を返す
func (d *fakeDevice) Capabilities(_ context.Context) (Capabilities, error) {
	if err := d.check("capabilities"); err != nil {
		return Capabilities{}, err
	}
	if d.camera.config.FailCapabilities {
		return Capabilities{}, errors.New("GenICamノードの読み出しに失敗しました")
	}

	caps := fakeCapabilities
	caps.Resolutions = slices.Clone(fakeCapabilities.Resolutions)
	caps.PixelFormats = slices.Clone(fakeCapabilities.PixelFormats)
	return caps, nil
}

// PayloadSize は現在の解像度とフォーマットでのペイロード長を返す
func (d *fakeDevice) PayloadSize() (int, error) {
	if err := d.check("payload_size"); err != nil {
		return 0, err
	}
	d.camera.mu.Lock()
	defer d.camera.mu.Unlock()
	return d.camera.region.PayloadSize(d.camera.pixelFormat), nil
}

// CreateStream はストリームを作成する
func (d *fakeDevice) CreateStream() (Stream, error) {
	if err := d.check("create_stream"); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream != nil && !d.stream.isClosed() {
		return nil, fmt.Errorf("ストリームは既に作成されています")
	}
	d.stream = newFakeStream(d.camera.lost)
	return d.stream, nil
}

// StartAcquisition はフレーム生成ゴルーチンを開始する
func (d *fakeDevice) StartAcquisition() error {
	if err := d.check("start_acquisition"); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stream == nil || d.stream.isClosed() {
		return fmt.Errorf("ストリームが作成されていません")
	}
	if d.stopCh != nil {
		return nil // 既に取得中
	}

	d.stopCh = make(chan struct{})
	d.wg.Add(1)
	go d.generate(d.stream, d.stopCh)
	return nil
}

// StopAcquisition はフレーム生成ゴルーチンを停止し、終了を待つ
func (d *fakeDevice) StopAcquisition() error {
	d.mu.Lock()
	stopCh := d.stopCh
	d.stopCh = nil
	d.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		d.wg.Wait()
	}

	if d.camera.isLost() {
		return newError(KindConnection, "stop_acquisition", ErrDeviceLost)
	}
	return nil
}

// generate はフレームレートに従って空きバッファを埋めて完了キューへ移す
func (d *fakeDevice) generate(stream *fakeStream, stopCh <-chan struct{}) {
	defer d.wg.Done()

	rate := d.currentFrameRate()
	ticker := time.NewTicker(frameInterval(rate))
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-d.camera.lost:
			return
		case <-ticker.C:
		}

		// フレームレート変更を反映
		if current := d.currentFrameRate(); current != rate {
			rate = current
			ticker.Reset(frameInterval(rate))
		}

		buf := stream.takeInput()
		if buf == nil {
			continue // 空きバッファなし（アンダーラン）
		}

		d.fill(buf)
		stream.complete(buf)
	}
}

// fill はバッファにテストパターンとメタデータを書き込む
func (d *fakeDevice) fill(buf *StreamBuffer) {
	d.camera.mu.Lock()
	region := d.camera.region
	format := d.camera.pixelFormat
	d.camera.mu.Unlock()

	d.frameID++
	buf.FrameID = d.frameID
	buf.Timestamp = time.Now()
	buf.Width = region.Width
	buf.Height = region.Height
	buf.PixelFormat = format

	if every := d.camera.config.DropEvery; every > 0 && d.frameID%uint64(every) == 0 {
		buf.Status = BufferTimeout
		buf.Size = 0
		return
	}

	needed := region.PayloadSize(format)
	if cap(buf.Payload) < needed {
		buf.Status = BufferPayloadMismatch
		buf.Size = 0
		return
	}

	buf.Payload = buf.Payload[:needed]
	fillPattern(d.camera.config.Pattern, buf.Payload, region.Width, region.Height, format, d.frameID)
	buf.Size = needed
	buf.Status = BufferSuccess
}

func (d *fakeDevice) currentFrameRate() float64 {
	d.camera.mu.Lock()
	defer d.camera.mu.Unlock()
	return d.camera.frameRate
}

func frameInterval(fps float64) time.Duration {
	if fps <= 0 {
		fps = 1
	}
	return time.Duration(float64(time.Second) / fps)
}

// GetFloat はフィーチャー値を読み出す
func (d *fakeDevice) GetFloat(feature string) (float64, error) {
	if err := d.check("get_" + feature); err != nil {
		return 0, err
	}

	d.camera.mu.Lock()
	defer d.camera.mu.Unlock()

	switch feature {
	case FeatureFrameRate:
		return d.camera.frameRate, nil
	case FeatureExposureTime:
		return d.camera.exposureTime, nil
	case FeatureGain:
		return d.camera.gain, nil
	default:
		return 0, fmt.Errorf("未知のフィーチャー: %s", feature)
	}
}

// SetFloat はフィーチャー値を書き込む
func (d *fakeDevice) SetFloat(feature string, value float64) error {
	if err := d.check("set_" + feature); err != nil {
		return err
	}
	if slices.Contains(d.camera.config.ReadOnlyFeatures, feature) {
		return fmt.Errorf("フィーチャー %s は書き込みできません", feature)
	}

	d.camera.mu.Lock()
	defer d.camera.mu.Unlock()

	switch feature {
	case FeatureFrameRate:
		d.camera.frameRate = value
	case FeatureExposureTime:
		d.camera.exposureTime = value
	case FeatureGain:
		d.camera.gain = value
	default:
		return fmt.Errorf("未知のフィーチャー: %s", feature)
	}
	return nil
}

// Region は現在の解像度を返す
func (d *fakeDevice) Region() (Resolution, error) {
	if err := d.check("get_region"); err != nil {
		return Resolution{}, err
	}
	d.camera.mu.Lock()
	defer d.camera.mu.Unlock()
	return d.camera.region, nil
}

// SetRegion は解像度を変更する（取得中は拒否）
func (d *fakeDevice) SetRegion(r Resolution) error {
	if err := d.check("set_region"); err != nil {
		return err
	}
	if d.acquiring() {
		return fmt.Errorf("取得中は解像度を変更できません")
	}
	if slices.Contains(d.camera.config.ReadOnlyFeatures, "Region") {
		return fmt.Errorf("フィーチャー Region は書き込みできません")
	}

	d.camera.mu.Lock()
	defer d.camera.mu.Unlock()
	d.camera.region = r
	return nil
}

// PixelFormat は現在のピクセルフォーマットを返す
func (d *fakeDevice) PixelFormat() (PixelFormat, error) {
	if err := d.check("get_pixel_format"); err != nil {
		return "", err
	}
	d.camera.mu.Lock()
	defer d.camera.mu.Unlock()
	return d.camera.pixelFormat, nil
}

// SetPixelFormat はピクセルフォーマットを変更する（取得中は拒否）
func (d *fakeDevice) SetPixelFormat(f PixelFormat) error {
	if err := d.check("set_pixel_format"); err != nil {
		return err
	}
	if d.acquiring() {
		return fmt.Errorf("取得中はピクセルフォーマットを変更できません")
	}
	if slices.Contains(d.camera.config.ReadOnlyFeatures, "PixelFormat") {
		return fmt.Errorf("フィーチャー PixelFormat は書き込みできません")
	}

	d.camera.mu.Lock()
	defer d.camera.mu.Unlock()
	d.camera.pixelFormat = f
	return nil
}

func (d *fakeDevice) acquiring() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopCh != nil
}

// Close は取得を止めてハンドルを解放する
func (d *fakeDevice) Close() error {
	_ = d.StopAcquisition()

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.camera.mu.Lock()
	d.camera.opened = false
	d.camera.mu.Unlock()
	return nil
}

// fakeStream は入力キューと完了キューを持つストリーム
type fakeStream struct {
	lost <-chan struct{}

	mu     sync.Mutex
	input  []*StreamBuffer
	output []*StreamBuffer
	closed bool
	ready  chan struct{}
}

func newFakeStream(lost <-chan struct{}) *fakeStream {
	return &fakeStream{
		lost:  lost,
		ready: make(chan struct{}, 1),
	}
}

// PushBuffer は空きバッファを入力キューへ積む
func (s *fakeStream) PushBuffer(buf *StreamBuffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("ストリームは閉じられています")
	}
	s.input = append(s.input, buf)
	return nil
}

// PopCompletedBuffer は完了キューの先頭を返す
func (s *fakeStream) PopCompletedBuffer(timeout time.Duration) (*StreamBuffer, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-s.lost:
			return nil, ErrDeviceLost
		default:
		}

		s.mu.Lock()
		if len(s.output) > 0 {
			buf := s.output[0]
			s.output = s.output[1:]
			s.mu.Unlock()
			return buf, nil
		}
		s.mu.Unlock()

		select {
		case <-s.ready:
		case <-s.lost:
			return nil, ErrDeviceLost
		case <-timer.C:
			return nil, ErrPopTimeout
		}
	}
}

// Drain は保持している全バッファを返却する
func (s *fakeStream) Drain() []*StreamBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	bufs := make([]*StreamBuffer, 0, len(s.input)+len(s.output))
	bufs = append(bufs, s.output...)
	bufs = append(bufs, s.input...)
	s.input = nil
	s.output = nil
	return bufs
}

// Close はストリームを閉じる
func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *fakeStream) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeStream) takeInput() *StreamBuffer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.input) == 0 {
		return nil
	}
	buf := s.input[0]
	s.input = s.input[1:]
	return buf
}

func (s *fakeStream) complete(buf *StreamBuffer) {
	s.mu.Lock()
	s.output = append(s.output, buf)
	s.mu.Unlock()

	select {
	case s.ready <- struct{}{}:
	default:
	}
}
