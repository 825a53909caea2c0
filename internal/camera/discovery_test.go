package camera

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeviceCatalog_Discover(t *testing.T) {
	lineCam := DeviceInfo{ID: "GigE-0001", Name: "Line Camera", Model: "LC-100", Address: "192.168.0.10"}
	duplicate := DeviceInfo{ID: FakeCameraID, Name: "duplicate", Model: "dup", Address: FakeCameraAddress}

	tests := []struct {
		name      string
		stack     Stack
		fake      bool
		wantIDs   []string
		wantError bool
	}{
		{
			name:    "デバイスなし・フェイクなしは空の一覧",
			stack:   NewNullStack(),
			wantIDs: []string{},
		},
		{
			name:    "フェイクカメラのみ",
			stack:   NewNullStack(),
			fake:    true,
			wantIDs: []string{FakeCameraID},
		},
		{
			name:    "実機とフェイクカメラ",
			stack:   &stubStack{devices: []DeviceInfo{lineCam}},
			fake:    true,
			wantIDs: []string{"GigE-0001", FakeCameraID},
		},
		{
			name:    "deviceIDで重複排除",
			stack:   &stubStack{devices: []DeviceInfo{lineCam, lineCam, duplicate}},
			fake:    true,
			wantIDs: []string{"GigE-0001", FakeCameraID},
		},
		{
			name:    "タイムアウトは空の一覧",
			stack:   &stubStack{devices: []DeviceInfo{lineCam}, delay: time.Second},
			wantIDs: []string{},
		},
		{
			name:      "スタックの失敗はエラー",
			stack:     &stubStack{err: errors.New("インターフェースが見つかりません")},
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			registry := NewFakeCameraRegistry()
			if tt.fake {
				require.NoError(t, registry.Start(DefaultFakeCameraConfig()))
				defer registry.Stop()
			}

			catalog := NewDeviceCatalog(tt.stack, registry)
			got, err := catalog.Discover(context.Background(), 50*time.Millisecond)
			if tt.wantError {
				assert.ErrorIs(t, err, ErrConnection)
				return
			}
			require.NoError(t, err)

			ids := make([]string, 0, len(got))
			for _, d := range got {
				ids = append(ids, d.DeviceID)
			}
			assert.Equal(t, tt.wantIDs, ids)
		})
	}
}

func TestDeviceCatalog_FakeCameraAppearsAndDisappears(t *testing.T) {
	registry := NewFakeCameraRegistry()
	catalog := NewDeviceCatalog(nil, registry)
	ctx := context.Background()

	before, err := catalog.Discover(ctx, 0)
	require.NoError(t, err)

	require.NoError(t, registry.Start(DefaultFakeCameraConfig()))
	during, err := catalog.Discover(ctx, 0)
	require.NoError(t, err)
	require.Len(t, during, len(before)+1)

	again, err := catalog.Discover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, during, again, "deviceIDは安定している")

	registry.Stop()
	after, err := catalog.Discover(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestDeviceCatalog_Resolve(t *testing.T) {
	registry := NewFakeCameraRegistry()
	require.NoError(t, registry.Start(DefaultFakeCameraConfig()))
	defer registry.Stop()

	catalog := NewDeviceCatalog(&stubStack{devices: []DeviceInfo{
		{ID: "GigE-0002", Address: "10.0.0.2"},
	}}, registry)

	desc, ok := catalog.Resolve(context.Background(), "10.0.0.2", 50*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, "GigE-0002", desc.DeviceID)

	desc, ok = catalog.Resolve(context.Background(), FakeCameraAddress, 50*time.Millisecond)
	require.True(t, ok)
	assert.Equal(t, FakeCameraID, desc.DeviceID)

	_, ok = catalog.Resolve(context.Background(), "10.0.0.99", 50*time.Millisecond)
	assert.False(t, ok)
}
