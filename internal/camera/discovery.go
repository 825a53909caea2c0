package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// DefaultDiscoveryTimeout はデバイス列挙のデフォルトタイムアウト
const DefaultDiscoveryTimeout = 2 * time.Second

// DeviceCatalog は到達可能なカメラを列挙する。状態を持たない
type DeviceCatalog struct {
	stack    Stack
	registry *FakeCameraRegistry
}

// NewDeviceCatalog は新しいDeviceCatalogを作成する
func NewDeviceCatalog(stack Stack, registry *FakeCameraRegistry) *DeviceCatalog {
	if stack == nil {
		stack = NewNullStack()
	}
	return &DeviceCatalog{stack: stack, registry: registry}
}

// Discover は実機とフェイクカメラを列挙し、DeviceIDで重複を除いた記述子を返す
// timeout 以内に応答がない場合は空の一覧を返す（エラーではない）
func (c *DeviceCatalog) Discover(ctx context.Context, timeout time.Duration) ([]CameraDescriptor, error) {
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	devices, err := c.stack.EnumerateDevices(probeCtx, timeout)
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		slog.Debug("デバイス列挙がタイムアウトしました", "timeout", timeout)
		devices = nil
	case ctx.Err() != nil:
		return nil, ctx.Err()
	default:
		return nil, newError(KindConnection, "discover", fmt.Errorf("デバイス列挙に失敗: %w", err))
	}

	seen := make(map[string]struct{}, len(devices)+1)
	result := make([]CameraDescriptor, 0, len(devices)+1)

	add := func(desc CameraDescriptor) {
		if desc.DeviceID == "" {
			return
		}
		if _, ok := seen[desc.DeviceID]; ok {
			return
		}
		seen[desc.DeviceID] = struct{}{}
		result = append(result, desc)
	}

	for _, d := range devices {
		add(d.Descriptor())
	}
	if c.registry != nil {
		if desc, ok := c.registry.Descriptor(); ok {
			add(desc)
		}
	}

	slog.Debug("デバイス列挙が完了しました", "count", len(result))
	return result, nil
}

// Resolve は IPアドレスまたはデバイスIDから既知の記述子を探す
func (c *DeviceCatalog) Resolve(ctx context.Context, idOrAddress string, timeout time.Duration) (CameraDescriptor, bool) {
	descs, err := c.Discover(ctx, timeout)
	if err != nil {
		return CameraDescriptor{}, false
	}
	for _, d := range descs {
		if d.DeviceID == idOrAddress || d.IPAddress == idOrAddress {
			return d, true
		}
	}
	return CameraDescriptor{}, false
}
