package capture

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"math"
	"sync"
	"time"

	"github.com/golang/freetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
)

const (
	frameWidth  = 640
	frameHeight = 480

	// coarse render scaled up to frame size
	sceneScale = 8

	dpi      float64 = 72
	fontSize float64 = 16
	spacing  float64 = 1.2
)

// SyntheticCamera renders JPEG frames without camera hardware: a drifting
// gradient scene with the timestamp, frame counter, profile and altitude
// drawn over it. Frames differ shot to shot so downstream dedup or
// compression behaves as it would with a live sensor.
type SyntheticCamera struct {
	mu      sync.Mutex
	context *freetype.Context
	frame   uint64
}

// NewSyntheticCamera builds the renderer and parses the embedded font
func NewSyntheticCamera() (*SyntheticCamera, error) {
	parsedFont, err := freetype.ParseFont(goregular.TTF)
	if err != nil {
		return nil, fmt.Errorf("parsing font: %w", err)
	}

	context := freetype.NewContext()
	context.SetDPI(dpi)
	context.SetFont(parsedFont)
	context.SetFontSize(fontSize)
	context.SetSrc(image.White)
	context.SetHinting(font.HintingFull)

	return &SyntheticCamera{context: context}, nil
}

// Capture renders one frame and encodes it at the profile's JPEG quality
func (c *SyntheticCamera) Capture(profile Profile, altitude float64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.frame++
	img := c.scene(c.frame)

	if err := c.annotate(img, profile, altitude, c.frame); err != nil {
		return nil, fmt.Errorf("annotating frame: %w", err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: profile.JPEGQuality}); err != nil {
		return nil, fmt.Errorf("encoding frame: %w", err)
	}

	return buf.Bytes(), nil
}

// scene renders a horizon gradient at low resolution and scales it up.
// The hue drifts with the frame counter so consecutive frames differ.
func (c *SyntheticCamera) scene(frame uint64) *image.RGBA {
	w, h := frameWidth/sceneScale, frameHeight/sceneScale
	src := image.NewRGBA(image.Rect(0, 0, w, h))

	for y := 0; y < h; y++ {
		depth := float64(y) / float64(h)
		for x := 0; x < w; x++ {
			hue := math.Mod(200+float64(frame)*3+40*float64(x)/float64(w), 360)
			hsv := HSV{
				H: hue,
				S: 0.6,
				V: 0.35 + 0.6*(1-depth),
			}
			src.Set(x, y, hsv.RGB())
		}
	}

	dst := image.NewRGBA(image.Rect(0, 0, frameWidth, frameHeight))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	return dst
}

func (c *SyntheticCamera) annotate(img *image.RGBA, profile Profile, altitude float64, frame uint64) error {
	c.context.SetClip(img.Bounds())
	c.context.SetDst(img)

	lines := []string{
		time.Now().UTC().Format("2006-01-02 15:04:05.000 UTC"),
		fmt.Sprintf("frame %d, profile %s q%d", frame, profile.Name, profile.JPEGQuality),
		fmt.Sprintf("alt %.1f m", altitude),
	}

	pt := freetype.Pt(10, 10+int(c.context.PointToFixed(fontSize)>>6))
	for _, s := range lines {
		if _, err := c.context.DrawString(s, pt); err != nil {
			return err
		}
		pt.Y += c.context.PointToFixed(fontSize * spacing)
	}

	return nil
}

// HSV represents a color in HSV color space
type HSV struct {
	H float64 // Hue [0-360]
	S float64 // Saturation [0-1]
	V float64 // Value [0-1]
}

// RGB converts HSV color space to RGB
func (hsv HSV) RGB() color.Color {
	h := hsv.H
	s := hsv.S
	v := hsv.V

	if s <= 0.0 {
		rgb := uint8(v * 255)
		return color.RGBA{R: rgb, G: rgb, B: rgb, A: 0xff}
	}

	h = math.Mod(h, 360) / 60
	i := math.Floor(h)
	f := h - i

	p := v * (1 - s)
	q := v * (1 - s*f)
	t := v * (1 - s*(1-f))

	var r, g, b float64

	switch int(i) {
	case 0:
		r, g, b = v, t, p
	case 1:
		r, g, b = q, v, p
	case 2:
		r, g, b = p, v, t
	case 3:
		r, g, b = p, q, v
	case 4:
		r, g, b = t, p, v
	default:
		r, g, b = v, p, q
	}

	return color.RGBA{R: uint8(r * 255), G: uint8(g * 255), B: uint8(b * 255), A: 0xff}
}
