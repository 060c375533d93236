package briefing

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// MaxImageBytes is the upload limit for reference images.
const MaxImageBytes = 5 * 1024 * 1024

// Reference image kinds accepted by the preflight.
const (
	ReferenceCharacter = "character"
	ReferenceProduct   = "product"
)

var (
	ErrImageTooLarge = errors.New("image exceeds 5 MB limit")
	ErrImageType     = errors.New("image type must be png, jpeg or webp")
)

var allowedImageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/jpg":  true,
	"image/webp": true,
}

var extensionTypes = map[string]string{
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".webp": "image/webp",
}

// Image is a reference picture read from disk and checked locally.
type Image struct {
	Path     string
	MimeType string
	Data     []byte
}

func (img Image) Size() string {
	return humanize.Bytes(uint64(len(img.Data)))
}

// ValidateImage checks size and type before any upload is attempted.
func ValidateImage(size int64, mimeType string) error {
	if size > MaxImageBytes {
		return fmt.Errorf("%w (%s)", ErrImageTooLarge, humanize.Bytes(uint64(size)))
	}
	if !allowedImageTypes[strings.ToLower(strings.TrimSpace(mimeType))] {
		return ErrImageType
	}
	return nil
}

// DetectImageType sniffs the content and falls back to the file extension.
func DetectImageType(path string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if allowedImageTypes[sniffed] {
		return sniffed
	}
	if ext, ok := extensionTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ext
	}
	return sniffed
}

// ReadImage loads and validates a reference image. Oversized files are
// rejected from their stat before being read.
func ReadImage(path string) (Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return Image{}, err
	}
	if info.Size() > MaxImageBytes {
		return Image{}, ValidateImage(info.Size(), "")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, err
	}
	mimeType := DetectImageType(path, data)
	if err := ValidateImage(int64(len(data)), mimeType); err != nil {
		return Image{}, err
	}
	return Image{Path: path, MimeType: mimeType, Data: data}, nil
}

func ValidReferenceKind(kind string) bool {
	return kind == ReferenceCharacter || kind == ReferenceProduct
}
