package detect

import (
	"image"
	"image/color"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"

	"github.com/loviiin/argus-captcha/pkg/captcha"
)

// Letterbox guarda a transformação imagem original -> entrada quadrada do modelo.
type Letterbox struct {
	Scale float64
	PadX  float64
	PadY  float64
	SrcW  int
	SrcH  int
}

var padColor = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// letterbox redimensiona mantendo a proporção e centraliza num quadrado size x size.
func letterbox(src image.Image, size int) (*image.RGBA, Letterbox) {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := min(float64(size)/float64(w), float64(size)/float64(h))
	nw := int(float64(w)*scale + 0.5)
	nh := int(float64(h)*scale + 0.5)
	padX := (size - nw) / 2
	padY := (size - nh) / 2

	dst := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: padColor}, image.Point{}, draw.Src)
	target := image.Rect(padX, padY, padX+nw, padY+nh)
	draw.CatmullRom.Scale(dst, target, src, b, draw.Over, nil)

	return dst, Letterbox{Scale: scale, PadX: float64(padX), PadY: float64(padY), SrcW: w, SrcH: h}
}

// Unmap leva uma caixa do espaço do modelo de volta para pixels da imagem original.
func (l Letterbox) Unmap(r captcha.Rect) captcha.Rect {
	clamp := func(v, hi float64) float64 { return max(0, min(v, hi)) }
	return captcha.Rect{
		X1: clamp((r.X1-l.PadX)/l.Scale, float64(l.SrcW)),
		Y1: clamp((r.Y1-l.PadY)/l.Scale, float64(l.SrcH)),
		X2: clamp((r.X2-l.PadX)/l.Scale, float64(l.SrcW)),
		Y2: clamp((r.Y2-l.PadY)/l.Scale, float64(l.SrcH)),
	}
}

// toCHW converte RGBA para float32 planar (C,H,W) normalizado em [0,1].
func toCHW(img *image.RGBA, size int) []float32 {
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			off := img.PixOffset(x, y)
			i := y*size + x
			out[i] = float32(img.Pix[off]) / 255
			out[plane+i] = float32(img.Pix[off+1]) / 255
			out[2*plane+i] = float32(img.Pix[off+2]) / 255
		}
	}
	return out
}

// enhance realça contraste e nitidez; ajuda nos tiles borrados do desafio.
func enhance(src image.Image) image.Image {
	out := imaging.AdjustContrast(src, 15)
	return imaging.Sharpen(out, 0.6)
}
