package snapshot

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"

	"golang.org/x/image/draw"

	"gigebridge/internal/camera"
)

// Encoder はフレームをJPEGに変換する
type Encoder struct {
	maxWidth  int
	maxHeight int
	quality   int
}

// NewEncoder は新しいEncoderを作成する（quality は 1-5）
func NewEncoder(maxWidth, maxHeight, quality int) *Encoder {
	if quality < 1 || quality > 5 {
		quality = 4
	}
	return &Encoder{
		maxWidth:  maxWidth,
		maxHeight: maxHeight,
		quality:   quality,
	}
}

// Encode はフレームを必要に応じて縮小してJPEGにエンコードする
func (e *Encoder) Encode(frame *camera.FrameBuffer) ([]byte, error) {
	img, err := ToImage(frame)
	if err != nil {
		return nil, err
	}

	img = e.scale(img)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.quality * 20}); err != nil {
		return nil, fmt.Errorf("JPEG エンコードに失敗: %w", err)
	}
	return buf.Bytes(), nil
}

// scale は最大サイズに収まるようアスペクト比を保って縮小する
func (e *Encoder) scale(src image.Image) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()

	ratio := 1.0
	if e.maxWidth > 0 && w > e.maxWidth {
		ratio = float64(e.maxWidth) / float64(w)
	}
	if e.maxHeight > 0 && h > e.maxHeight {
		if r := float64(e.maxHeight) / float64(h); r < ratio {
			ratio = r
		}
	}
	if ratio >= 1 {
		return src
	}

	dw := max(1, int(float64(w)*ratio))
	dh := max(1, int(float64(h)*ratio))
	dst := image.NewRGBA(image.Rect(0, 0, dw, dh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, b, draw.Src, nil)
	return dst
}

// ToImage はフレームのプレーンデータを image.Image に変換する
func ToImage(frame *camera.FrameBuffer) (image.Image, error) {
	if frame == nil {
		return nil, fmt.Errorf("フレームがありません")
	}
	w, h := frame.Width, frame.Height
	bpp := frame.PixelFormat.BytesPerPixel()
	if w <= 0 || h <= 0 || bpp == 0 {
		return nil, fmt.Errorf("変換できないフレーム: %dx%d %s", w, h, frame.PixelFormat)
	}
	stride := frame.Stride
	if stride == 0 {
		stride = w * bpp
	}
	if len(frame.Data) < stride*(h-1)+w*bpp {
		return nil, fmt.Errorf("プレーンデータが不足しています: %d バイト", len(frame.Data))
	}

	switch frame.PixelFormat {
	case camera.PixelFormatMono8:
		img := image.NewGray(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			copy(img.Pix[y*img.Stride:y*img.Stride+w], frame.Data[y*stride:])
		}
		return img, nil

	case camera.PixelFormatRGB8:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			row := frame.Data[y*stride:]
			for x := 0; x < w; x++ {
				i := y*img.Stride + x*4
				img.Pix[i+0] = row[x*3+0]
				img.Pix[i+1] = row[x*3+1]
				img.Pix[i+2] = row[x*3+2]
				img.Pix[i+3] = 0xff
			}
		}
		return img, nil

	case camera.PixelFormatBGRA8:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			row := frame.Data[y*stride:]
			for x := 0; x < w; x++ {
				i := y*img.Stride + x*4
				img.Pix[i+0] = row[x*4+2]
				img.Pix[i+1] = row[x*4+1]
				img.Pix[i+2] = row[x*4+0]
				img.Pix[i+3] = 0xff
			}
		}
		return img, nil

	case camera.PixelFormatBayerRG8:
		return demosaicRGGB(frame.Data, w, h, stride), nil

	default:
		return nil, fmt.Errorf("未対応のピクセルフォーマット: %s", frame.PixelFormat)
	}
}

// demosaicRGGB は2x2ブロック単位の最近傍補間でRGGB配列をRGBへ変換する
func demosaicRGGB(data []byte, w, h, stride int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))

	at := func(x, y int) byte {
		x = min(x, w-1)
		y = min(y, h-1)
		return data[y*stride+x]
	}

	for by := 0; by < h; by += 2 {
		for bx := 0; bx < w; bx += 2 {
			r := at(bx, by)
			g := byte((uint16(at(bx+1, by)) + uint16(at(bx, by+1))) / 2)
			b := at(bx+1, by+1)

			for dy := 0; dy < 2 && by+dy < h; dy++ {
				for dx := 0; dx < 2 && bx+dx < w; dx++ {
					i := (by+dy)*img.Stride + (bx+dx)*4
					img.Pix[i+0] = r
					img.Pix[i+1] = g
					img.Pix[i+2] = b
					img.Pix[i+3] = 0xff
				}
			}
		}
	}
	return img
}
