package camera

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSettingsController_OutOfRangeLeavesSnapshot(t *testing.T) {
	b, _, rec := newTestBridge(t, fastFakeConfig())
	connectFake(t, b)
	rec.reset()

	before, ok := b.Settings()
	require.True(t, ok)

	tests := []struct {
		name  string
		param Parameter
		value Value
	}{
		{"負の露光時間", ParamExposureTime, NumberValue(-1)},
		{"上限を超える露光時間", ParamExposureTime, NumberValue(2_000_000)},
		{"NaNのゲイン", ParamGain, NumberValue(math.NaN())},
		{"範囲外のフレームレート", ParamFrameRate, NumberValue(0)},
		{"一覧にない解像度", ParamResolution, ResolutionValue(800, 600)},
		{"ゼロの解像度", ParamResolution, ResolutionValue(0, 0)},
		{"未対応のフォーマット", ParamPixelFormat, PixelFormatValue("YUV422")},
		{"未知のパラメータ", Parameter("white_balance"), NumberValue(1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := b.Set(context.Background(), tt.param, tt.value)
			assert.ErrorIs(t, err, ErrSettingsValidation)

			after, ok := b.Settings()
			require.True(t, ok)
			assert.Equal(t, before, after)
		})
	}

	assert.Equal(t, StateConnected, b.State())
	assert.Empty(t, rec.eventLog(), "検証エラーはオブザーバーへ通知しない")
}

func TestSettingsController_SetAndGet(t *testing.T) {
	b, _, _ := newTestBridge(t, fastFakeConfig())
	connectFake(t, b)
	ctx := context.Background()

	tests := []struct {
		name  string
		param Parameter
		value Value
	}{
		{"フレームレート", ParamFrameRate, NumberValue(60)},
		{"露光時間", ParamExposureTime, NumberValue(5000)},
		{"ゲイン", ParamGain, NumberValue(12.5)},
		{"解像度", ParamResolution, ResolutionValue(1280, 720)},
		{"ピクセルフォーマット", ParamPixelFormat, PixelFormatValue(PixelFormatRGB8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.NoError(t, b.Set(ctx, tt.param, tt.value))
			got, err := b.Get(tt.param)
			require.NoError(t, err)
			assert.Equal(t, tt.value, got)
		})
	}

	s, _ := b.Settings()
	assert.Equal(t, Settings{
		FrameRate:    60,
		ExposureTime: 5000,
		Gain:         12.5,
		Resolution:   Resolution{Width: 1280, Height: 720},
		PixelFormat:  PixelFormatRGB8,
	}, s)
}

func TestSettingsController_RequiresConnection(t *testing.T) {
	b, _, _ := newTestBridge(t, fastFakeConfig())

	err := b.Set(context.Background(), ParamExposureTime, NumberValue(1000))
	assert.ErrorIs(t, err, ErrSettingsValidation)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, err = b.Get(ParamExposureTime)
	assert.ErrorIs(t, err, ErrNotConnected)

	_, ok := b.Settings()
	assert.False(t, ok)
}

func TestSettingsController_RollbackOnDeviceReject(t *testing.T) {
	cfg := fastFakeConfig()
	cfg.ReadOnlyFeatures = []string{FeatureGain, "Region"}
	b, _, _ := newTestBridge(t, cfg)
	connectFake(t, b)
	ctx := context.Background()

	before, _ := b.Settings()

	err := b.Set(ctx, ParamGain, NumberValue(6))
	assert.ErrorIs(t, err, ErrSettingsValidation)
	got, err := b.Get(ParamGain)
	require.NoError(t, err)
	assert.Equal(t, before.Gain, got.Number)

	t.Run("ストリーミング中の解像度変更が拒否されても取得は再開する", func(t *testing.T) {
		require.NoError(t, b.StartStreaming(ctx))

		err := b.Set(ctx, ParamResolution, ResolutionValue(1280, 720))
		assert.ErrorIs(t, err, ErrSettingsValidation)
		assert.Equal(t, StateStreaming, b.State())

		after, _ := b.Settings()
		assert.Equal(t, before.Resolution, after.Resolution)
	})
}

func TestSettingsController_ResolutionChangeWhileStreaming(t *testing.T) {
	b, _, rec := newTestBridge(t, fastFakeConfig())
	connectFake(t, b)
	ctx := context.Background()

	require.NoError(t, b.StartStreaming(ctx))
	rec.waitFrame(t, 2*time.Second)
	rec.reset()

	require.NoError(t, b.Set(ctx, ParamResolution, ResolutionValue(1280, 720)))
	assert.Equal(t, StateStreaming, b.State())
	assert.Equal(t, []ConnectionState{StateConnected, StateStreaming}, rec.stateLog(),
		"Streaming→Connected→Streaming の一組のみ通知される")
	assert.Equal(t, uint64(1), b.Stats().Restarts)
	assert.Equal(t, 1280*720, b.Stats().PayloadSize)

	require.Eventually(t, func() bool {
		select {
		case f := <-rec.frames:
			return f.Width == 1280 && f.Height == 720
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	t.Run("数値パラメータは再起動しない", func(t *testing.T) {
		rec.reset()
		require.NoError(t, b.Set(ctx, ParamGain, NumberValue(3)))
		assert.Empty(t, rec.stateLog())
		assert.Equal(t, uint64(1), b.Stats().Restarts)
	})

	t.Run("フォーマット変更で再起動する", func(t *testing.T) {
		rec.reset()
		require.NoError(t, b.Set(ctx, ParamPixelFormat, PixelFormatValue(PixelFormatBGRA8)))
		assert.Equal(t, []ConnectionState{StateConnected, StateStreaming}, rec.stateLog())
		assert.Equal(t, 1280*720*4, b.Stats().PayloadSize)
	})
}

func TestValidate_BayerRequiresEvenDimensions(t *testing.T) {
	caps := Capabilities{
		Width:        Range{Min: 1, Max: 4096},
		Height:       Range{Min: 1, Max: 4096},
		PixelFormats: []PixelFormat{PixelFormatMono8, PixelFormatBayerRG8},
	}

	tests := []struct {
		name    string
		current Settings
		param   Parameter
		value   Value
		wantErr bool
	}{
		{
			name:    "ベイヤーで奇数解像度",
			current: Settings{PixelFormat: PixelFormatBayerRG8, Resolution: Resolution{640, 480}},
			param:   ParamResolution,
			value:   ResolutionValue(641, 480),
			wantErr: true,
		},
		{
			name:    "モノクロで奇数解像度",
			current: Settings{PixelFormat: PixelFormatMono8, Resolution: Resolution{640, 480}},
			param:   ParamResolution,
			value:   ResolutionValue(641, 479),
		},
		{
			name:    "奇数解像度でベイヤーへ変更",
			current: Settings{PixelFormat: PixelFormatMono8, Resolution: Resolution{641, 480}},
			param:   ParamPixelFormat,
			value:   PixelFormatValue(PixelFormatBayerRG8),
			wantErr: true,
		},
		{
			name:    "偶数解像度でベイヤーへ変更",
			current: Settings{PixelFormat: PixelFormatMono8, Resolution: Resolution{640, 480}},
			param:   ParamPixelFormat,
			value:   PixelFormatValue(PixelFormatBayerRG8),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validate(tt.param, tt.value, caps, tt.current)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrSettingsValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseValue(t *testing.T) {
	tests := []struct {
		name    string
		param   string
		raw     string
		want    Value
		wantErr bool
	}{
		{"数値", "exposure_time", "1500.5", NumberValue(1500.5), false},
		{"大文字のパラメータ名", "GAIN", "2", NumberValue(2), false},
		{"解像度", "resolution", "1280x720", ResolutionValue(1280, 720), false},
		{"大文字のX", "resolution", "1920X1080", ResolutionValue(1920, 1080), false},
		{"ピクセルフォーマット", "pixel_format", "BayerRG8", PixelFormatValue(PixelFormatBayerRG8), false},
		{"数値でない", "gain", "high", Value{}, true},
		{"解像度の形式不正", "resolution", "1280", Value{}, true},
		{"未知のパラメータ", "focus", "1", Value{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParseParameter(tt.param)
			if err == nil {
				var v Value
				v, err = ParseValue(p, tt.raw)
				if !tt.wantErr {
					require.NoError(t, err)
					assert.Equal(t, tt.want, v)
					return
				}
			}
			assert.True(t, tt.wantErr, "予期しないエラー: %v", err)
			assert.ErrorIs(t, err, ErrSettingsValidation)
		})
	}
}

func TestFormatValue(t *testing.T) {
	for _, raw := range []struct{ param, value string }{
		{"frame_rate", "29.97"},
		{"resolution", "640x480"},
		{"pixel_format", "Mono8"},
	} {
		p, err := ParseParameter(raw.param)
		require.NoError(t, err)
		v, err := ParseValue(p, raw.value)
		require.NoError(t, err)
		assert.Equal(t, raw.value, FormatValue(p, v))
	}
}
