package camera

import (
	"fmt"

	"github.com/google/uuid"
)

// convertBuffer は成功したStreamBufferからFrameBufferを作成する
// プレーンデータは新しい領域へコピーするため、変換後のバッファは即座に再利用できる
func convertBuffer(buf *StreamBuffer) (*FrameBuffer, error) {
	bpp := buf.PixelFormat.BytesPerPixel()
	if bpp == 0 {
		return nil, fmt.Errorf("未対応のピクセルフォーマット: %q", buf.PixelFormat)
	}
	if buf.Width <= 0 || buf.Height <= 0 {
		return nil, fmt.Errorf("無効なフレームサイズ: %dx%d", buf.Width, buf.Height)
	}

	expected := buf.Width * buf.Height * bpp
	if buf.Size != expected || len(buf.Payload) < buf.Size {
		return nil, fmt.Errorf("ペイロード長が一致しません: %d バイト (期待値 %d)", buf.Size, expected)
	}

	data := make([]byte, expected)
	copy(data, buf.Payload[:expected])

	return &FrameBuffer{
		Width:       buf.Width,
		Height:      buf.Height,
		PixelFormat: buf.PixelFormat,
		Stride:      buf.Width * bpp,
		Data:        data,
		FrameID:     buf.FrameID,
		Timestamp:   buf.Timestamp,
		TraceID:     uuid.NewString(),
	}, nil
}
