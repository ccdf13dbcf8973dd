package artifact

import (
	"bytes"
	"fmt"
	"image/color"
	"image/png"
	"net/url"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/font/basicfont"
)

const (
	imprintPadding = 20
	imprintBorder  = 1
)

// Imprint returns a copy of the PNG screenshot with a caption strip below it
// showing the page origin.
func Imprint(pngData []byte, rawURL string) ([]byte, error) {
	caption, err := imprintCaption(rawURL)
	if err != nil {
		return nil, err
	}

	img, err := png.Decode(bytes.NewReader(pngData))
	if err != nil {
		return nil, fmt.Errorf("imprint: decode screenshot: %w", err)
	}

	w := img.Bounds().Dx()
	h := img.Bounds().Dy() + imprintPadding*2 + imprintBorder
	dc := gg.NewContext(w, h)

	dc.DrawImage(img, 0, 0)

	yLine := float64(img.Bounds().Dy())
	dc.SetColor(color.White)
	dc.DrawRectangle(0, yLine, float64(w), float64(imprintPadding*2+imprintBorder))
	dc.Fill()
	dc.SetColor(color.Black)
	dc.SetLineWidth(imprintBorder)
	dc.DrawLine(0, yLine, float64(w), yLine)
	dc.Stroke()
	dc.SetFontFace(basicfont.Face7x13)
	dc.DrawStringAnchored(caption, float64(w)/2, yLine+float64(imprintPadding), 0.5, 0.5)

	var buf bytes.Buffer
	if err := png.Encode(&buf, dc.Image()); err != nil {
		return nil, fmt.Errorf("imprint: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// imprintCaption is scheme://host with default ports dropped.
func imprintCaption(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("imprint: invalid URL %q", rawURL)
	}
	host := u.Host
	if h, port, ok := strings.Cut(host, ":"); ok {
		if (u.Scheme == "http" && port == "80") || (u.Scheme == "https" && port == "443") {
			host = h
		}
	}
	return u.Scheme + "://" + host, nil
}
