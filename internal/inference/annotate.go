package inference

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	boxThickness   = 2
	defaultQuality = 90
	labelPaddingPx = 2
)

// palette cycles box colours by label so one class keeps one colour.
var palette = []color.NRGBA{
	{R: 0xff, G: 0x38, B: 0x38, A: 0xff},
	{R: 0xff, G: 0x9d, B: 0x97, A: 0xff},
	{R: 0xff, G: 0x70, B: 0x1f, A: 0xff},
	{R: 0xff, G: 0xb2, B: 0x1d, A: 0xff},
	{R: 0xcf, G: 0xd2, B: 0x31, A: 0xff},
	{R: 0x48, G: 0xf9, B: 0x0a, A: 0xff},
	{R: 0x1a, G: 0x93, B: 0x34, A: 0xff},
	{R: 0x00, G: 0xd4, B: 0xbb, A: 0xff},
	{R: 0x2c, G: 0x99, B: 0xa8, A: 0xff},
	{R: 0x00, G: 0xc2, B: 0xff, A: 0xff},
}

func colorFor(label string) color.NRGBA {
	var h uint32
	for i := 0; i < len(label); i++ {
		h = h*31 + uint32(label[i])
	}
	return palette[h%uint32(len(palette))]
}

// Annotate draws detections on src and saves the result to dst. The format
// follows the dst extension; quality applies to JPEG output.
func Annotate(src image.Image, detections []Detection, dst string, quality int) error {
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}

	canvas := imaging.Clone(src)
	bounds := canvas.Bounds()
	face := basicfont.Face7x13

	for _, d := range detections {
		c := colorFor(d.Label)
		rect := image.Rect(int(d.Box[0]), int(d.Box[1]), int(d.Box[2]), int(d.Box[3])).Intersect(bounds)
		if rect.Empty() {
			continue
		}
		drawRect(canvas, rect, c)

		text := fmt.Sprintf("%s %.2f", d.Label, d.Score)
		width := font.MeasureString(face, text).Ceil() + 2*labelPaddingPx
		height := face.Metrics().Height.Ceil() + labelPaddingPx

		// Place the label above the box, or inside it at the top edge.
		top := rect.Min.Y - height
		if top < bounds.Min.Y {
			top = rect.Min.Y
		}
		bg := image.Rect(rect.Min.X, top, rect.Min.X+width, top+height).Intersect(bounds)
		draw.Draw(canvas, bg, image.NewUniform(c), image.Point{}, draw.Src)

		drawer := &font.Drawer{
			Dst:  canvas,
			Src:  image.White,
			Face: face,
			Dot:  fixed.P(rect.Min.X+labelPaddingPx, top+face.Metrics().Ascent.Ceil()),
		}
		drawer.DrawString(text)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create annotated image dir: %w", err)
	}
	if err := imaging.Save(canvas, dst, imaging.JPEGQuality(quality)); err != nil {
		return fmt.Errorf("save annotated image: %w", err)
	}
	return nil
}

func drawRect(img draw.Image, r image.Rectangle, c color.Color) {
	u := image.NewUniform(c)
	t := min(boxThickness, r.Dx(), r.Dy())
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Max.X, r.Min.Y+t), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Max.Y-t, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Min.X, r.Min.Y, r.Min.X+t, r.Max.Y), u, image.Point{}, draw.Src)
	draw.Draw(img, image.Rect(r.Max.X-t, r.Min.Y, r.Max.X, r.Max.Y), u, image.Point{}, draw.Src)
}

// openImage decodes path applying EXIF orientation.
func openImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	return img, nil
}
