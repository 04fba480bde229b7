package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "image/gif"  // Register GIF decoder
	_ "image/png"  // Register PNG decoder

	"github.com/gosimple/slug"
	"github.com/nfnt/resize"
	"github.com/sirupsen/logrus"
	_ "golang.org/x/image/webp" // Register WebP decoder (upstream serves webp hero art)
)

const (
	jpegQuality    = 85
	maxOutputWidth = 1920 // downscale anything wider, hero art tops out here
)

// ValidationError marks failures of a hard precondition (unsafe URL,
// oversized payload, bad image data). These are never retried.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

func validationErrorf(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// IsRetryable reports whether an image fetch failure is worth another
// attempt. Validation failures are final; everything else (timeouts,
// connection resets, 5xx) is considered transient.
func IsRetryable(err error) bool {
	var v *ValidationError
	return err != nil && !errors.As(err, &v)
}

// ImageConfig bounds a single image fetch.
type ImageConfig struct {
	MaxBytes     int64
	MinBytes     int64
	MaxDimension int
	MinWidth     int
	MinHeight    int
	Timeout      time.Duration
	Retries      int // attempts per batch task
}

// ImageService downloads remote key images, normalizes them to flattened
// JPEG, and writes them under the images directory.
type ImageService struct {
	cfg    ImageConfig
	client *http.Client
	logger *logrus.Logger
}

func NewImageService(cfg ImageConfig, logger *logrus.Logger) *ImageService {
	return &ImageService{
		cfg: cfg,
		client: &http.Client{
			Timeout: cfg.Timeout,
			// Redirects are an SSRF bypass vector: a validated public URL
			// could redirect to an internal address. Surface them instead.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}
}

// ImageFilename derives the on-disk name for a game's image from its
// external id.
func ImageFilename(externalID string) string {
	return slug.Make(externalID) + ".jpg"
}

// HasValidImage reports whether the file at path is a usable cached image:
// big enough, fully decodable, in the normalized target format, and at or
// above the minimum pixel dimensions. A partial file from a crashed run
// fails the decode and triggers a re-download.
func (s *ImageService) HasValidImage(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.Size() < s.cfg.MinBytes {
		return false
	}

	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()

	img, format, err := image.Decode(f)
	if err != nil || format != "jpeg" {
		return false
	}

	bounds := img.Bounds()
	if bounds.Dx() < s.cfg.MinWidth || bounds.Dy() < s.cfg.MinHeight {
		return false
	}
	return true
}

// ValidateRemoteURL enforces the SSRF policy: https only, resolvable
// hostname, and no resolved address in loopback, private, or link-local
// ranges (IPv4 and IPv6).
func (s *ImageService) ValidateRemoteURL(ctx context.Context, rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return validationErrorf("invalid image URL %q: %v", rawURL, err)
	}
	if u.Scheme != "https" {
		return validationErrorf("refusing non-https image URL %q", rawURL)
	}
	host := u.Hostname()
	if host == "" {
		return validationErrorf("image URL %q has no host", rawURL)
	}

	var ips []net.IP
	if ip := net.ParseIP(host); ip != nil {
		ips = []net.IP{ip}
	} else {
		addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
		if err != nil {
			return validationErrorf("image host %q does not resolve: %v", host, err)
		}
		for _, addr := range addrs {
			ips = append(ips, addr.IP)
		}
	}

	for _, ip := range ips {
		if reason := blockedIPReason(ip); reason != "" {
			return validationErrorf("image host %q resolves to %s address %s", host, reason, ip)
		}
	}
	return nil
}

func blockedIPReason(ip net.IP) string {
	switch {
	case ip.IsUnspecified():
		return "unspecified"
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private"
	case ip.IsLinkLocalUnicast():
		return "link-local" // includes the 169.254.169.254 metadata endpoint
	case ip.IsLinkLocalMulticast(), ip.IsInterfaceLocalMulticast():
		return "multicast"
	}
	return ""
}

// Fetch downloads one remote image to destPath, normalizing it to flattened
// JPEG. If a valid file already exists at destPath no network call is made.
func (s *ImageService) Fetch(ctx context.Context, rawURL, destPath string) error {
	if s.HasValidImage(destPath) {
		return nil
	}

	if err := s.ValidateRemoteURL(ctx, rawURL); err != nil {
		return err
	}

	data, err := s.download(ctx, rawURL)
	if err != nil {
		return err
	}

	normalized, err := s.normalize(data)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create images directory: %w", err)
	}
	// A crash mid-write leaves a partial file; the validity check above
	// catches it on the next run.
	if err := os.WriteFile(destPath, normalized, 0644); err != nil {
		return fmt.Errorf("failed to save image: %w", err)
	}
	return nil
}

func (s *ImageService) download(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, validationErrorf("invalid image request for %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", "free-games-tracker/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("image download failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 && resp.StatusCode < 400 {
		return nil, validationErrorf("image URL %q redirected (status %d), redirects are not followed", rawURL, resp.StatusCode)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("image download returned status %d", resp.StatusCode)
	}

	// Pre-check the declared length, then enforce the cap mid-stream anyway:
	// the header may be absent or lying, and compressed bodies expand.
	if resp.ContentLength > s.cfg.MaxBytes {
		return nil, validationErrorf("image is %d bytes, exceeds cap of %d", resp.ContentLength, s.cfg.MaxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, s.cfg.MaxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("image download interrupted: %w", err)
	}
	if int64(len(data)) > s.cfg.MaxBytes {
		return nil, validationErrorf("image stream exceeded cap of %d bytes", s.cfg.MaxBytes)
	}
	if int64(len(data)) < s.cfg.MinBytes {
		return nil, validationErrorf("image is only %d bytes, below minimum of %d", len(data), s.cfg.MinBytes)
	}
	return data, nil
}

// normalize decodes, bounds-checks, flattens, and re-encodes to JPEG.
func (s *ImageService) normalize(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, validationErrorf("undecodable image data: %v", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width > s.cfg.MaxDimension || height > s.cfg.MaxDimension {
		return nil, validationErrorf("image dimensions %dx%d exceed maximum of %d", width, height, s.cfg.MaxDimension)
	}
	if width < s.cfg.MinWidth || height < s.cfg.MinHeight {
		return nil, validationErrorf("image dimensions %dx%d below minimum of %dx%d", width, height, s.cfg.MinWidth, s.cfg.MinHeight)
	}

	if width > maxOutputWidth {
		img = resize.Resize(maxOutputWidth, 0, img, resize.Lanczos3)
		bounds = img.Bounds()
	}

	// Flatten any alpha or palette source onto a white background so the
	// JPEG output never carries black halos from transparent regions.
	flattened := image.NewRGBA(bounds)
	draw.Draw(flattened, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(flattened, bounds, img, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flattened, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return buf.Bytes(), nil
}
