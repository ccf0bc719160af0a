package assets

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"strings"

	_ "image/gif"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const canonicalExt = ".jpg"

// normalizeImage re-encodes data as an RGB JPEG no larger than maxDim on
// either side. Undecodable input is returned unchanged with a sniffed
// extension and ok=false.
func normalizeImage(data []byte, contentType string, maxDim, quality int) (out []byte, ext string, ok bool) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return data, rawExtension(data, contentType), false
	}

	b := src.Bounds()
	w, h := fitWithin(b.Dx(), b.Dy(), maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	// flatten transparency onto white since JPEG has no alpha
	draw.Draw(dst, dst.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)
	if w == b.Dx() && h == b.Dy() {
		draw.Draw(dst, dst.Bounds(), src, b.Min, draw.Over)
	} else {
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return data, rawExtension(data, contentType), false
	}
	return buf.Bytes(), canonicalExt, true
}

// fitWithin scales (w,h) down so neither side exceeds max, keeping the ratio.
func fitWithin(w, h, max int) (int, int) {
	if max <= 0 || (w <= max && h <= max) {
		return w, h
	}
	if w >= h {
		nh := h * max / w
		if nh < 1 {
			nh = 1
		}
		return max, nh
	}
	nw := w * max / h
	if nw < 1 {
		nw = 1
	}
	return nw, max
}

var extByContentType = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
	"image/avif": ".avif",
	"image/bmp":  ".bmp",
	"image/tiff": ".tiff",
}

func rawExtension(data []byte, contentType string) string {
	if detected := mimetype.Detect(data); strings.HasPrefix(detected.String(), "image/") && detected.Extension() != "" {
		return detected.Extension()
	}
	if ext, ok := extByContentType[strings.ToLower(contentType)]; ok {
		return ext
	}
	return ".bin"
}
