package inputs

import (
	"bytes"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/rwcarlsen/goexif/exif"
	"github.com/tendant/become-image-pipeline/internal/workspace"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// EXIF orientation values that need a corrective rotation
const (
	orientationRotate180 = 3
	orientationRotate270 = 6
	orientationRotate90  = 8
)

// Normalizer writes uploaded images into the input workspace under deterministic names
type Normalizer struct {
	layout workspace.Layout
	logger zerolog.Logger
}

// NewNormalizer creates a normalizer writing into layout.InputDir
func NewNormalizer(layout workspace.Layout, logger zerolog.Logger) *Normalizer {
	return &Normalizer{
		layout: layout,
		logger: logger,
	}
}

// Normalize copies or re-encodes src into the input workspace as <logicalName>.<ext>
// and returns the written filename (not the full path).
func (n *Normalizer) Normalize(src string, logicalName string) (string, error) {
	ext := strings.ToLower(filepath.Ext(src))

	switch ext {
	case ".jpg", ".jpeg":
		filename := logicalName + ".png"
		if err := n.reencodeJPEG(src, filename); err != nil {
			return "", err
		}
		return filename, nil

	case ".png", ".webp":
		filename := logicalName + ext
		if err := n.copyFile(src, filename); err != nil {
			return "", err
		}
		return filename, nil

	default:
		return "", fmt.Errorf("%w: %q", pipeline.ErrUnsupportedFormat, ext)
	}
}

func (n *Normalizer) reencodeJPEG(src string, filename string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("image decode failed: %w", err)
	}

	orientation := readOrientation(data)
	img = applyOrientation(img, orientation)
	n.logger.Debug().
		Str("file", filename).
		Int("orientation", orientation).
		Msg("JPEG decoded, orientation applied")

	dst, err := n.layout.InputPath(filename)
	if err != nil {
		return err
	}
	if err := imaging.Save(img, dst); err != nil {
		return fmt.Errorf("PNG encode failed: %w", err)
	}
	return nil
}

func (n *Normalizer) copyFile(src string, filename string) error {
	dst, err := n.layout.InputPath(filename)
	if err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}

// readOrientation returns the EXIF orientation tag, or 0 when absent or unreadable
func readOrientation(data []byte) int {
	x, err := exif.Decode(bytes.NewReader(data))
	if err != nil {
		return 0
	}
	tag, err := x.Get(exif.Orientation)
	if err != nil {
		return 0
	}
	v, err := tag.Int(0)
	if err != nil {
		return 0
	}
	return v
}

// applyOrientation rotates counter-clockwise by the angle the orientation value calls for
func applyOrientation(img image.Image, orientation int) image.Image {
	switch orientation {
	case orientationRotate180:
		return imaging.Rotate180(img)
	case orientationRotate270:
		return imaging.Rotate270(img)
	case orientationRotate90:
		return imaging.Rotate90(img)
	default:
		return img
	}
}

// ExtensionForMIME maps a content MIME type onto an accepted input extension
func ExtensionForMIME(mimeType string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "image/jpeg", "image/jpg":
		return ".jpg", nil
	case "image/png":
		return ".png", nil
	case "image/webp":
		return ".webp", nil
	default:
		return "", fmt.Errorf("%w: %q", pipeline.ErrUnsupportedFormat, mimeType)
	}
}
