package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color/palette"
	"image/draw"
	"image/gif"
	"image/jpeg"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
	xdraw "golang.org/x/image/draw"
)

const (
	maxFrames   = 300
	gifMaxWidth = 640
	// GIF delays are in hundredths of a second.
	minFrameDelay = 2
)

var errNoFrames = errors.New("engine: screencast produced no frames")

type frame struct {
	data []byte
	at   time.Time
}

type screencastRecorder struct {
	page   *rod.Page
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	frames []frame
}

func startScreencast(ctx context.Context, page *rod.Page, width int) (*screencastRecorder, error) {
	listenCtx, cancel := context.WithCancel(ctx)
	r := &screencastRecorder{page: page, cancel: cancel, done: make(chan struct{})}

	wait := page.Context(listenCtx).EachEvent(func(e *proto.PageScreencastFrame) {
		r.add(e.Data)
		_ = proto.PageScreencastFrameAck{SessionID: e.SessionID}.Call(page)
	})
	go func() {
		defer close(r.done)
		wait()
	}()

	req := proto.PageStartScreencast{
		Format:        proto.PageStartScreencastFormatJpeg,
		Quality:       gson.Int(60),
		EveryNthFrame: gson.Int(1),
	}
	if width > 0 {
		req.MaxWidth = gson.Int(width)
	}
	if err := req.Call(page); err != nil {
		cancel()
		<-r.done
		return nil, fmt.Errorf("start screencast: %w", err)
	}
	return r, nil
}

func (r *screencastRecorder) add(data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.frames) >= maxFrames {
		return
	}
	r.frames = append(r.frames, frame{data: data, at: time.Now()})
}

// Stop ends the screencast and encodes the collected frames.
func (r *screencastRecorder) Stop(ctx context.Context) (*Recording, error) {
	_ = proto.PageStopScreencast{}.Call(r.page)
	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	r.mu.Lock()
	frames := r.frames
	r.frames = nil
	r.mu.Unlock()

	data, err := encodeGIF(frames, time.Now())
	if err != nil {
		return nil, err
	}
	return &Recording{Data: data, Ext: ".gif"}, nil
}

// encodeGIF turns JPEG frames into an animated GIF. Every frame is scaled to
// the size of the first one; the last frame is held until end.
func encodeGIF(frames []frame, end time.Time) ([]byte, error) {
	type decoded struct {
		img image.Image
		at  time.Time
	}
	var imgs []decoded
	for _, f := range frames {
		img, err := jpeg.Decode(bytes.NewReader(f.data))
		if err != nil {
			continue
		}
		imgs = append(imgs, decoded{img: img, at: f.at})
	}
	if len(imgs) == 0 {
		return nil, errNoFrames
	}

	bounds := gifBounds(imgs[0].img.Bounds())
	anim := &gif.GIF{
		Image: make([]*image.Paletted, 0, len(imgs)),
		Delay: make([]int, 0, len(imgs)),
	}
	for i, d := range imgs {
		src := d.img
		if src.Bounds() != bounds {
			dst := image.NewRGBA(bounds)
			xdraw.ApproxBiLinear.Scale(dst, bounds, src, src.Bounds(), xdraw.Src, nil)
			src = dst
		}
		pal := image.NewPaletted(bounds, palette.Plan9)
		draw.FloydSteinberg.Draw(pal, bounds, src, bounds.Min)

		next := end
		if i+1 < len(imgs) {
			next = imgs[i+1].at
		}
		delay := int(next.Sub(d.at) / (10 * time.Millisecond))
		if delay < minFrameDelay {
			delay = minFrameDelay
		}

		anim.Image = append(anim.Image, pal)
		anim.Delay = append(anim.Delay, delay)
	}

	var buf bytes.Buffer
	if err := gif.EncodeAll(&buf, anim); err != nil {
		return nil, fmt.Errorf("encode gif: %w", err)
	}
	return buf.Bytes(), nil
}

func gifBounds(src image.Rectangle) image.Rectangle {
	w, h := src.Dx(), src.Dy()
	if w > gifMaxWidth {
		h = h * gifMaxWidth / w
		w = gifMaxWidth
	}
	if h < 1 {
		h = 1
	}
	return image.Rect(0, 0, w, h)
}
