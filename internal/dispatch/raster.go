package dispatch

import (
	"bytes"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/go-pdf/fpdf"
	_ "golang.org/x/image/webp" // registers the WebP decoder with image.Decode

	"convertd/internal/services"
)

// ParseResolution parses "WxH". One side may be 0 to keep the aspect ratio.
func ParseResolution(value string) (int, int, error) {
	value = strings.ToLower(strings.TrimSpace(value))
	w, h, ok := strings.Cut(value, "x")
	if !ok {
		return 0, 0, fmt.Errorf("resolution %q: expected WxH", value)
	}
	width, err := strconv.Atoi(w)
	if err != nil || width < 0 {
		return 0, 0, fmt.Errorf("resolution %q: invalid width", value)
	}
	height, err := strconv.Atoi(h)
	if err != nil || height < 0 {
		return 0, 0, fmt.Errorf("resolution %q: invalid height", value)
	}
	if width == 0 && height == 0 {
		return 0, 0, fmt.Errorf("resolution %q: both sides are zero", value)
	}
	return width, height, nil
}

func (d *Dispatcher) quality(opts Options) int {
	q := opts.Quality
	if q <= 0 {
		q = d.converters.DefaultQuality
	}
	return min(max(q, 1), 100)
}

func openImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, stageName, "decode image", "source is not a readable image", err)
	}
	return img, nil
}

func (d *Dispatcher) convertRaster(inPath, outPath, target string, opts Options) error {
	img, err := openImage(inPath)
	if err != nil {
		return err
	}
	if opts.Resolution != "" {
		width, height, err := ParseResolution(opts.Resolution)
		if err != nil {
			return services.Wrap(services.ErrValidation, stageName, "resize", "", err)
		}
		img = imaging.Resize(img, width, height, imaging.Lanczos)
	}
	if err := imaging.Save(img, outPath, imaging.JPEGQuality(d.quality(opts))); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "encode "+target, "", err)
	}
	return nil
}

// embedRaster writes a one-page PDF whose page is exactly the image size in points.
func (d *Dispatcher) embedRaster(inPath, outPath string) error {
	img, err := openImage(inPath)
	if err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "embed", "re-encode image", err)
	}

	bounds := img.Bounds()
	width := float64(bounds.Dx())
	height := float64(bounds.Dy())
	pdf := fpdf.NewCustom(&fpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "pt",
		Size:           fpdf.SizeType{Wd: width, Ht: height},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.AddPage()
	opts := fpdf.ImageOptions{ImageType: "PNG"}
	pdf.RegisterImageOptionsReader("source", opts, &buf)
	pdf.ImageOptions("source", 0, 0, width, height, false, opts, 0, "")
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return services.Wrap(services.ErrExternalTool, stageName, "embed", "write pdf", err)
	}
	return nil
}
