// Package visual implements screenshot regression against stored baselines.
// Baselines are keyed per (project, URL path, viewport); candidates are
// compared pixel by pixel and a diff image is produced whenever they differ.
package visual

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"net/url"
	"strings"

	"github.com/ratemate/taas/config"
	"github.com/ratemate/taas/internal/domain/model"
	apperrors "github.com/ratemate/taas/internal/errors"
	"github.com/ratemate/taas/internal/storage"
)

// DefaultProject groups baselines of requests that carry no project name.
const DefaultProject = "default"

// BlobStore is the slice of the object store the engine needs.
type BlobStore interface {
	Put(ctx context.Context, key, contentType string, body io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
	Copy(ctx context.Context, srcKey, dstKey string) error
}

// Engine compares captured screenshots against per-project baselines.
type Engine struct {
	store BlobStore
	cfg   config.VisualConfig
}

// NewEngine creates an Engine over the given blob store.
func NewEngine(store BlobStore, cfg config.VisualConfig) *Engine {
	return &Engine{store: store, cfg: cfg}
}

// Slug derives the baseline slug from a page URL: the URL path with slashes
// collapsed to underscores. The site root maps to "root".
func Slug(pageURL string) string {
	p := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Path != "" {
		p = u.Path
	}
	p = strings.Trim(p, "/")
	if p == "" {
		return "root"
	}
	return strings.ReplaceAll(p, "/", "_")
}

// BaselineKey returns the object key of the baseline for a page at a viewport.
func BaselineKey(project, pageURL string, width, height int) string {
	if project == "" {
		project = DefaultProject
	}
	return fmt.Sprintf("baselines/%s/%s_%dx%d.png", project, Slug(pageURL), width, height)
}

// Check compares screenshot (PNG bytes) against the stored baseline for
// pageURL. When the baseline is absent: in auto-baseline mode the screenshot
// is promoted and the case passes; otherwise the case passes with the
// baseline_missing flag so a human can accept it later. When pixels differ a
// diff image is uploaded under the job's artifact prefix.
func (e *Engine) Check(ctx context.Context, jobID, project, pageURL string, width, height int, screenshot []byte) (*model.VisualResult, error) {
	key := BaselineKey(project, pageURL, width, height)
	res := &model.VisualResult{BaselineKey: key}

	exists, err := e.store.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		if e.cfg.AutoBaseline {
			if err := e.store.Put(ctx, key, "image/png", bytes.NewReader(screenshot)); err != nil {
				return nil, err
			}
			res.Passed = true
			return res, nil
		}
		res.Passed = true
		res.BaselineMissing = true
		return res, nil
	}

	baseline, err := e.loadBaseline(ctx, key)
	if err != nil {
		return nil, err
	}
	candidate, err := png.Decode(bytes.NewReader(screenshot))
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeValidation, "decode screenshot")
	}

	cmp := Compare(baseline, candidate)
	res.MismatchPct = cmp.MismatchPct
	res.Passed = cmp.MismatchPct <= e.cfg.ThresholdPct

	if cmp.Diff != nil {
		diffKey := storage.ArtifactKey(jobID, Slug(pageURL)+"_diff.png")
		var buf bytes.Buffer
		if err := png.Encode(&buf, cmp.Diff); err != nil {
			return nil, fmt.Errorf("encode diff image: %w", err)
		}
		if err := e.store.Put(ctx, diffKey, "image/png", &buf); err != nil {
			return nil, err
		}
		res.DiffArtifact = diffKey
	}
	return res, nil
}

// Accept promotes a stored screenshot to the baseline for pageURL and returns
// the baseline key.
func (e *Engine) Accept(ctx context.Context, srcKey, project, pageURL string, width, height int) (string, error) {
	key := BaselineKey(project, pageURL, width, height)
	if err := e.store.Copy(ctx, srcKey, key); err != nil {
		return "", err
	}
	return key, nil
}

func (e *Engine) loadBaseline(ctx context.Context, key string) (image.Image, error) {
	rc, err := e.store.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	img, err := png.Decode(rc)
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrCodeInternal, "decode baseline %s", key)
	}
	return img, nil
}

// Comparison is the outcome of a pixel-level image comparison.
type Comparison struct {
	// MismatchPct is the share of non-identical pixels, 0..100, 3 decimals.
	MismatchPct float64

	// Diff highlights mismatched pixels; nil when the images are identical.
	Diff image.Image
}

// Compare computes the per-pixel difference between a baseline and a
// candidate. The candidate is resized to the baseline's dimensions first so a
// viewport drift shows up as pixel mismatch rather than an error. All four
// channels participate in the comparison.
func Compare(baseline, candidate image.Image) Comparison {
	bounds := baseline.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w == 0 || h == 0 {
		return Comparison{}
	}
	if cb := candidate.Bounds(); cb.Dx() != w || cb.Dy() != h {
		candidate = resizeNearest(candidate, w, h)
	}

	diff := image.NewNRGBA(image.Rect(0, 0, w, h))
	mismatched := 0
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			br, bg, bb, ba := baseline.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			cr, cg, cb2, ca := candidate.At(candidate.Bounds().Min.X+x, candidate.Bounds().Min.Y+y).RGBA()
			if br != cr || bg != cg || bb != cb2 || ba != ca {
				mismatched++
				diff.Set(x, y, color.NRGBA{R: 255, A: 255})
			} else {
				// Dim matching pixels so mismatches stand out.
				diff.Set(x, y, color.NRGBA{R: uint8(br >> 10), G: uint8(bg >> 10), B: uint8(bb >> 10), A: 255})
			}
		}
	}

	total := w * h
	pct := math.Round(float64(mismatched)/float64(total)*100*1000) / 1000
	out := Comparison{MismatchPct: pct}
	if mismatched > 0 {
		out.Diff = diff
	}
	return out
}

// resizeNearest scales img to w×h with nearest-neighbor sampling. Screenshot
// dimensions only drift by whole device-pixel ratios, so interpolation quality
// is irrelevant here.
func resizeNearest(img image.Image, w, h int) image.Image {
	src := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		sy := src.Min.Y + y*src.Dy()/h
		for x := 0; x < w; x++ {
			sx := src.Min.X + x*src.Dx()/w
			dst.Set(x, y, img.At(sx, sy))
		}
	}
	return dst
}
