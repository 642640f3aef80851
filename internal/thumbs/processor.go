package thumbs

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/disintegration/imaging"
	log "github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp"

	"github.com/stylingadventures/closetd/internal/apperr"
	"github.com/stylingadventures/closetd/internal/store"
)

// ObjectStore is the slice of the bucket API the processor needs.
type ObjectStore interface {
	Stat(ctx context.Context, key string) (*store.ObjectInfo, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, data []byte, contentType string, metadata map[string]string) error
}

// Options are the processor's tunables.
type Options struct {
	// Prefix is the thumbnail namespace, default "thumbs/".
	Prefix string
	// MaxWidth bounds thumbnail width; sources narrower than this are
	// never upscaled.
	MaxWidth int
	// JPEGQuality is the encode quality (1-100).
	JPEGQuality int
}

// Processor turns uploads into thumbnails.
type Processor struct {
	objects ObjectStore
	opts    Options
}

// NewProcessor creates a processor over the given bucket.
func NewProcessor(objects ObjectStore, opts Options) *Processor {
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.MaxWidth <= 0 {
		opts.MaxWidth = 360
	}
	if opts.JPEGQuality <= 0 || opts.JPEGQuality > 100 {
		opts.JPEGQuality = 80
	}
	return &Processor{objects: objects, opts: opts}
}

// Process generates the thumbnail for one upload key. Keys that are not
// thumbnailable, and keys whose thumbnail already exists, are skipped
// without error; message redelivery makes both cases common.
func (p *Processor) Process(ctx context.Context, srcKey string) error {
	if !ShouldProcess(p.opts.Prefix, srcKey) {
		log.WithField("key", srcKey).Debug("thumbnail skipped: not a processable upload")
		return nil
	}
	dstKey := DeriveKey(p.opts.Prefix, srcKey)

	if _, err := p.objects.Stat(ctx, dstKey); err == nil {
		log.WithField("key", srcKey).Debug("thumbnail skipped: already exists")
		return nil
	} else if !apperr.IsNotFound(err) {
		return err
	}

	data, err := p.objects.Get(ctx, srcKey)
	if err != nil {
		return err
	}

	thumb, err := p.render(data)
	if err != nil {
		return &apperr.UpstreamError{Op: "decode image " + srcKey, Cause: err}
	}

	meta := map[string]string{store.SourceMetaKey: srcKey}
	if err = p.objects.Put(ctx, dstKey, thumb, "image/jpeg", meta); err != nil {
		return err
	}
	log.WithField("key", srcKey).Infof("thumbnail written to %s", dstKey)
	return nil
}

// render decodes, resizes to at most MaxWidth wide preserving aspect
// ratio, and encodes JPEG.
func (p *Processor) render(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if img.Bounds().Dx() > p.opts.MaxWidth {
		img = imaging.Resize(img, p.opts.MaxWidth, 0, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err = imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(p.opts.JPEGQuality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// Ready reports whether the thumbnail for an upload exists yet. Absence
// is a normal negative while the pipeline catches up, not an error.
func (p *Processor) Ready(ctx context.Context, srcKey string) (bool, error) {
	_, err := p.objects.Stat(ctx, DeriveKey(p.opts.Prefix, srcKey))
	if err == nil {
		return true, nil
	}
	if apperr.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
