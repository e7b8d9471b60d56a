package texture

import (
	"bytes"
	"image"
	"image/color"
	"io/fs"

	// Registered decoders.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/cockroachdb/errors"
	"github.com/loov/hrtime"
	"golang.org/x/image/draw"

	"github.com/vkngwrapper/rotatingmesh/internal/vulkan"
)

// Pixels is a decoded image with tightly packed rows of Channels bytes per texel.
type Pixels struct {
	Data     []byte
	Width    int
	Height   int
	Channels int
}

func (p Pixels) Extent() vulkan.Extent2D {
	return vulkan.Extent2D{Width: p.Width, Height: p.Height}
}

// Decode decodes an encoded image. Three channel results are widened to
// four with ExpandRGB across workers goroutines, so the returned channel
// count is always 1, 2 or 4.
func Decode(data []byte, workers int) (Pixels, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return Pixels{}, errors.Wrap(err, "can't decode image")
	}

	pixels := unpack(img)
	if pixels.Width == 0 || pixels.Height == 0 {
		return Pixels{}, errors.Wrapf(ErrZeroExtent, "decoded %dx%d", pixels.Width, pixels.Height)
	}

	switch pixels.Channels {
	case 1, 2, 4:
		return pixels, nil
	case 3:
		expanded, err := ExpandRGB(pixels.Data, pixels.Width, pixels.Height, workers)
		if err != nil {
			return Pixels{}, err
		}
		pixels.Data = expanded
		pixels.Channels = 4
		return pixels, nil
	}
	return Pixels{}, errors.Wrapf(ErrUnsupportedChannels, "%d channels", pixels.Channels)
}

// LoadImage reads name from fsys and decodes it.
func LoadImage(fsys fs.FS, name string, workers int) (Pixels, error) {
	if name == "" {
		return Pixels{}, ErrEmptyFileName
	}

	start := hrtime.Now()
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return Pixels{}, errors.Wrapf(err, "can't read %s", name)
	}

	pixels, err := Decode(data, workers)
	if err != nil {
		return Pixels{}, errors.Wrapf(err, "%s", name)
	}

	Logger().Debug("texture: image decoded",
		"file", name,
		"width", pixels.Width,
		"height", pixels.Height,
		"channels", pixels.Channels,
		"elapsed", hrtime.Since(start))
	return pixels, nil
}

// unpack copies img into a tightly packed buffer, keeping as few channels as
// the source colour model needs.
func unpack(img image.Image) Pixels {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()

	switch src := img.(type) {
	case *image.Gray:
		out := make([]byte, w*h)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			copy(out[y*w:(y+1)*w], row[:w])
		}
		return Pixels{Data: out, Width: w, Height: h, Channels: 1}

	case *image.Gray16:
		out := make([]byte, w*h)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			for x := 0; x < w; x++ {
				out[y*w+x] = row[x*2]
			}
		}
		return Pixels{Data: out, Width: w, Height: h, Channels: 1}

	case *image.NRGBA:
		out := make([]byte, w*h*4)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride:]
			copy(out[y*w*4:(y+1)*w*4], row[:w*4])
		}
		return Pixels{Data: out, Width: w, Height: h, Channels: 4}

	case *image.RGBA:
		if !src.Opaque() {
			break
		}
		out := make([]byte, 0, w*h*3)
		for y := 0; y < h; y++ {
			row := src.Pix[y*src.Stride : y*src.Stride+w*4]
			for x := 0; x < len(row); x += 4 {
				out = append(out, row[x], row[x+1], row[x+2])
			}
		}
		return Pixels{Data: out, Width: w, Height: h, Channels: 3}

	case *image.YCbCr, *image.CMYK:
		out := make([]byte, w*h*3)
		i := 0
		for y := b.Min.Y; y < b.Max.Y; y++ {
			for x := b.Min.X; x < b.Max.X; x++ {
				c := color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
				out[i], out[i+1], out[i+2] = c.R, c.G, c.B
				i += 3
			}
		}
		return Pixels{Data: out, Width: w, Height: h, Channels: 3}
	}

	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
	return Pixels{Data: dst.Pix, Width: w, Height: h, Channels: 4}
}
