package camera

// Pattern はフェイクカメラのテストパターン
type Pattern string

const (
	PatternGradient     Pattern = "gradient"
	PatternCheckerboard Pattern = "checkerboard"
	PatternBars         Pattern = "bars"
)

// Valid は既知のパターンかを返す
func (p Pattern) Valid() bool {
	switch p {
	case PatternGradient, PatternCheckerboard, PatternBars:
		return true
	}
	return false
}

// カラーバー（白・黄・シアン・緑・マゼンタ・赤・青・黒）
var colorBars = [8][3]byte{
	{255, 255, 255},
	{255, 255, 0},
	{0, 255, 255},
	{0, 255, 0},
	{255, 0, 255},
	{255, 0, 0},
	{0, 0, 255},
	{0, 0, 0},
}

// patternColor は座標 (x, y) のRGB値を返す。frame で模様を横に流す
func patternColor(p Pattern, x, y, width, height int, frame uint64) (r, g, b byte) {
	shifted := (x + int(frame%uint64(width))) % width

	switch p {
	case PatternCheckerboard:
		if ((shifted/32)+(y/32))%2 == 0 {
			return 255, 255, 255
		}
		return 0, 0, 0
	case PatternBars:
		c := colorBars[shifted*len(colorBars)/width]
		return c[0], c[1], c[2]
	default:
		r = byte(shifted * 255 / max(width-1, 1))
		g = byte(y * 255 / max(height-1, 1))
		b = 255 - r
		return r, g, b
	}
}

// fillPattern は dst にテストパターンを書き込む
// dst の長さは width*height*format.BytesPerPixel() 以上であること
func fillPattern(p Pattern, dst []byte, width, height int, format PixelFormat, frame uint64) {
	bpp := format.BytesPerPixel()
	for y := 0; y < height; y++ {
		row := dst[y*width*bpp:]
		for x := 0; x < width; x++ {
			r, g, b := patternColor(p, x, y, width, height, frame)
			px := row[x*bpp:]
			switch format {
			case PixelFormatRGB8:
				px[0], px[1], px[2] = r, g, b
			case PixelFormatBGRA8:
				px[0], px[1], px[2], px[3] = b, g, r, 255
			case PixelFormatBayerRG8:
				// RGGB配列
				switch {
				case y%2 == 0 && x%2 == 0:
					px[0] = r
				case y%2 == 1 && x%2 == 1:
					px[0] = b
				default:
					px[0] = g
				}
			default:
				px[0] = byte((299*int(r) + 587*int(g) + 114*int(b)) / 1000)
			}
		}
	}
}
