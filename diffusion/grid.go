package diffusion

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	gridGap      = 2
	captionLineH = 13 // basicfont.Face7x13 line height
	captionPadY  = 4
)

// Grid tiles a batch [N, C, H, W] (C = 1 or 3, values in [-1, 1]) into rows of cols
// images, with a caption strip underneath when caption is not empty.
func Grid(samples *Tensor, cols int, caption string) (*image.RGBA, error) {
	if len(samples.Shape) != 4 {
		return nil, fmt.Errorf("%w: grid needs NCHW, got %v", ErrData, samples.Shape)
	}
	N, C, H, W := samples.Shape[0], samples.Shape[1], samples.Shape[2], samples.Shape[3]
	if C != 1 && C != 3 {
		return nil, fmt.Errorf("%w: grid needs 1 or 3 channels, got %d", ErrData, C)
	}
	if cols <= 0 || cols > N {
		cols = N
	}
	rows := (N + cols - 1) / cols

	gridW := cols*W + (cols+1)*gridGap
	gridH := rows*H + (rows+1)*gridGap
	textH := 0
	if caption != "" {
		textH = captionLineH + 2*captionPadY
	}
	canvas := image.NewRGBA(image.Rect(0, 0, gridW, gridH+textH))
	draw.Draw(canvas, canvas.Bounds(), image.Black, image.Point{}, draw.Src)

	plane := H * W
	for n := 0; n < N; n++ {
		ox := gridGap + (n%cols)*(W+gridGap)
		oy := gridGap + (n/cols)*(H+gridGap)
		img := samples.Data[n*C*plane : (n+1)*C*plane]
		for y := 0; y < H; y++ {
			for x := 0; x < W; x++ {
				r := img[y*W+x]
				g, b := r, r
				if C == 3 {
					g = img[plane+y*W+x]
					b = img[2*plane+y*W+x]
				}
				canvas.SetRGBA(ox+x, oy+y, color.RGBA{
					R: clampByte((r + 1) / 2),
					G: clampByte((g + 1) / 2),
					B: clampByte((b + 1) / 2),
					A: 255,
				})
			}
		}
	}

	if caption != "" {
		d := &font.Drawer{
			Dst:  canvas,
			Src:  image.White,
			Face: basicfont.Face7x13,
			Dot:  fixed.P(gridGap, gridH+captionPadY+captionLineH-2),
		}
		d.DrawString(caption)
	}
	return canvas, nil
}

func SavePNG(img image.Image, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func clampByte(v float32) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v*255 + 0.5)
}
