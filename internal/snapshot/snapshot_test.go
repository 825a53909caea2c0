package snapshot

import (
	"bytes"
	"context"
	"image"
	"image/jpeg"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gigebridge/internal/camera"
)

func monoFrame(w, h int, id uint64) *camera.FrameBuffer {
	data := make([]byte, w*h)
	for i := range data {
		data[i] = byte(i)
	}
	return &camera.FrameBuffer{
		Width:       w,
		Height:      h,
		PixelFormat: camera.PixelFormatMono8,
		Stride:      w,
		Data:        data,
		FrameID:     id,
		Timestamp:   time.Now(),
	}
}

func TestToImage(t *testing.T) {
	testCases := []struct {
		name   string
		frame  *camera.FrameBuffer
		expect func(t *testing.T, img image.Image)
	}{
		{
			name:  "Mono8はグレースケールになる",
			frame: monoFrame(4, 2, 1),
			expect: func(t *testing.T, img image.Image) {
				gray, ok := img.(*image.Gray)
				require.True(t, ok)
				assert.Equal(t, uint8(5), gray.GrayAt(1, 1).Y)
			},
		},
		{
			name: "BGRA8はRGBの順に並べ替える",
			frame: &camera.FrameBuffer{
				Width: 1, Height: 1, PixelFormat: camera.PixelFormatBGRA8, Stride: 4,
				Data: []byte{10, 20, 30, 0},
			},
			expect: func(t *testing.T, img image.Image) {
				rgba := img.(*image.RGBA)
				assert.Equal(t, []byte{30, 20, 10, 0xff}, rgba.Pix[:4])
			},
		},
		{
			name: "RGB8はアルファを補う",
			frame: &camera.FrameBuffer{
				Width: 1, Height: 1, PixelFormat: camera.PixelFormatRGB8, Stride: 3,
				Data: []byte{1, 2, 3},
			},
			expect: func(t *testing.T, img image.Image) {
				rgba := img.(*image.RGBA)
				assert.Equal(t, []byte{1, 2, 3, 0xff}, rgba.Pix[:4])
			},
		},
		{
			name: "BayerRG8は2x2ブロックで補間する",
			frame: &camera.FrameBuffer{
				Width: 2, Height: 2, PixelFormat: camera.PixelFormatBayerRG8, Stride: 2,
				Data: []byte{200, 100, 50, 10},
			},
			expect: func(t *testing.T, img image.Image) {
				rgba := img.(*image.RGBA)
				for i := 0; i < 4; i++ {
					assert.Equal(t, []byte{200, 75, 10, 0xff}, rgba.Pix[i*4:i*4+4])
				}
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			img, err := ToImage(tc.frame)
			require.NoError(t, err)
			tc.expect(t, img)
		})
	}
}

func TestToImage_Invalid(t *testing.T) {
	_, err := ToImage(nil)
	assert.Error(t, err)

	short := monoFrame(4, 4, 1)
	short.Data = short.Data[:5]
	_, err = ToImage(short)
	assert.Error(t, err)
}

func TestEncoder_Scale(t *testing.T) {
	enc := NewEncoder(32, 32, 3)
	data, err := enc.Encode(monoFrame(128, 64, 1))
	require.NoError(t, err)

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, 32, cfg.Width)
	assert.Equal(t, 16, cfg.Height)
}

func TestStore_JPEGCache(t *testing.T) {
	store := NewStore(NewEncoder(0, 0, 4))

	_, _, err := store.JPEG()
	assert.ErrorIs(t, err, ErrNoFrame)

	store.Put(monoFrame(8, 8, 1))
	first, seq, err := store.JPEG()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	again, _, err := store.JPEG()
	require.NoError(t, err)
	assert.Same(t, &first[0], &again[0], "同じフレームは再エンコードしない")

	store.Reset()
	_, _, err = store.JPEG()
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestStore_Wait(t *testing.T) {
	store := NewStore(NewEncoder(0, 0, 4))

	go func() {
		time.Sleep(20 * time.Millisecond)
		store.Put(monoFrame(2, 2, 7))
	}()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	seq, err := store.Wait(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	short, cancelShort := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelShort()
	_, err = store.Wait(short, seq)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRecorder_SaveAndList(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(NewEncoder(0, 0, 4))
	rec := NewRecorder(store, Config{Enabled: true, Interval: time.Hour, Dir: dir, RetentionDays: 1})

	_, err := rec.SaveLatest(time.Now())
	assert.ErrorIs(t, err, ErrNoFrame)

	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.Local)
	store.Put(monoFrame(8, 8, 1))
	path, err := rec.SaveLatest(now)
	require.NoError(t, err)
	assert.FileExists(t, path)

	// 同じフレームは保存しない
	path, err = rec.SaveLatest(now.Add(time.Second))
	require.NoError(t, err)
	assert.Empty(t, path)

	store.Put(monoFrame(8, 8, 2))
	_, err = rec.SaveLatest(now.Add(2 * time.Second))
	require.NoError(t, err)

	files, err := rec.List()
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.True(t, files[0].Captured.After(files[1].Captured), "新しい順に並ぶ")
	assert.True(t, now.Equal(files[1].Captured))

	st := rec.Status()
	assert.Equal(t, uint64(2), st.Saved)
	assert.Equal(t, uint64(0), st.Failed)
	assert.Equal(t, files[0].Name, st.LastSaved)
}

func TestRecorder_Cleanup(t *testing.T) {
	dir := t.TempDir()
	rec := NewRecorder(NewStore(NewEncoder(0, 0, 4)), Config{Dir: dir, RetentionDays: 7})

	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	old := filename(now.AddDate(0, 0, -8))
	recent := filename(now.AddDate(0, 0, -1))
	for _, name := range []string{old, recent, "other.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}

	removed, err := rec.Cleanup(now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	assert.NoFileExists(t, filepath.Join(dir, old))
	assert.FileExists(t, filepath.Join(dir, recent))
	assert.FileExists(t, filepath.Join(dir, "other.txt"))
}

func TestRecorder_StartStop(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	store := NewStore(NewEncoder(0, 0, 4))
	store.Put(monoFrame(8, 8, 1))
	rec := NewRecorder(store, Config{Enabled: true, Interval: 10 * time.Millisecond, Dir: dir})

	require.NoError(t, rec.Start(context.Background()))
	require.NoError(t, rec.Start(context.Background()), "二重起動は無視される")
	assert.True(t, rec.Status().Running)

	assert.Eventually(t, func() bool {
		return rec.Status().Saved >= 1
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, rec.Stop(context.Background()))
	assert.False(t, rec.Status().Running)
	require.NoError(t, rec.Stop(context.Background()))
}

func TestRecorder_ListMissingDir(t *testing.T) {
	rec := NewRecorder(NewStore(NewEncoder(0, 0, 4)), Config{Dir: filepath.Join(t.TempDir(), "none")})
	files, err := rec.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}
