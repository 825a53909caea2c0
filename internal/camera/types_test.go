package camera

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	allowed := map[[2]ConnectionState]bool{
		{StateDisconnected, StateConnecting}: true,
		{StateConnecting, StateConnected}:    true,
		{StateConnecting, StateError}:        true,
		{StateConnecting, StateDisconnected}: true,
		{StateConnected, StateStreaming}:     true,
		{StateConnected, StateDisconnected}:  true,
		{StateConnected, StateError}:         true,
		{StateStreaming, StateConnected}:     true,
		{StateStreaming, StateDisconnected}:  true,
		{StateStreaming, StateError}:         true,
		{StateError, StateDisconnected}:      true,
	}

	states := []ConnectionState{StateDisconnected, StateConnecting, StateConnected, StateStreaming, StateError}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]ConnectionState{from, to}]
			assert.Equal(t, want, CanTransition(from, to), "%s -> %s", from, to)
		}
	}
}

func TestConnectionState_MarshalText(t *testing.T) {
	data, err := json.Marshal(map[string]ConnectionState{"state": StateStreaming})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"streaming"}`, string(data))
	assert.Equal(t, "state(42)", ConnectionState(42).String())

	var back struct {
		State ConnectionState `json:"state"`
		Kind  ErrorKind       `json:"kind"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"state":"connected","kind":"device_fault"}`), &back))
	assert.Equal(t, StateConnected, back.State)
	assert.Equal(t, KindDeviceFault, back.Kind)
	assert.Error(t, json.Unmarshal([]byte(`{"state":"sleeping"}`), &back))
}

func TestCapabilities_SupportsResolution(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		res  Resolution
		want bool
	}{
		{
			name: "一覧にある解像度",
			caps: Capabilities{Resolutions: []Resolution{{640, 480}}},
			res:  Resolution{640, 480},
			want: true,
		},
		{
			name: "一覧にない解像度",
			caps: Capabilities{Resolutions: []Resolution{{640, 480}}, Width: Range{0, 4000}, Height: Range{0, 4000}},
			res:  Resolution{800, 600},
			want: false,
		},
		{
			name: "一覧が空なら範囲で判定",
			caps: Capabilities{Width: Range{16, 1024}, Height: Range{16, 768}},
			res:  Resolution{801, 601},
			want: true,
		},
		{
			name: "範囲外",
			caps: Capabilities{Width: Range{16, 1024}, Height: Range{16, 768}},
			res:  Resolution{2048, 600},
			want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsResolution(tt.res))
		})
	}
}

func TestPixelFormat_PayloadSize(t *testing.T) {
	r := Resolution{Width: 640, Height: 480}
	assert.Equal(t, 640*480, r.PayloadSize(PixelFormatMono8))
	assert.Equal(t, 640*480, r.PayloadSize(PixelFormatBayerRG8))
	assert.Equal(t, 640*480*3, r.PayloadSize(PixelFormatRGB8))
	assert.Equal(t, 640*480*4, r.PayloadSize(PixelFormatBGRA8))
	assert.Equal(t, 0, r.PayloadSize(PixelFormat("YUV422")))
	assert.True(t, PixelFormatBayerRG8.IsBayer())
	assert.False(t, PixelFormatMono8.IsBayer())
}

func TestError_KindMatching(t *testing.T) {
	err := fmt.Errorf("外側: %w", newError(KindConnection, "connect", ErrDeviceLost))

	assert.ErrorIs(t, err, ErrConnection)
	assert.ErrorIs(t, err, ErrDeviceLost)
	assert.NotErrorIs(t, err, ErrSettingsValidation)
	assert.Equal(t, KindConnection, KindOf(err))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "connection_error: connect:")
}
