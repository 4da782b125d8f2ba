package vision

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
)

// thumbnail decodes a PNG or JPEG, shrinks it to fit in a box x box square
// keeping the aspect ratio, and re-encodes it as JPEG. Images already
// inside the box are only re-encoded.
func thumbnail(data []byte, box, quality int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > box || h > box {
		if w >= h {
			h = h * box / w
			w = box
		} else {
			w = w * box / h
			h = box
		}
		w, h = atLeastOne(w), atLeastOne(h)
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := b.Min.Y + y*b.Dy()/h
		for x := 0; x < w; x++ {
			sx := b.Min.X + x*b.Dx()/w
			dst.Set(x, y, src.At(sx, sy))
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

func atLeastOne(n int) int {
	if n < 1 {
		return 1
	}
	return n
}
