package web

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// maxImageSize is the upload limit for event images.
const maxImageSize = 5 << 20

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".webp": true,
}

var ErrNotAnImage = errors.New("only image files are allowed")

// ImageStore persists uploaded event images and returns the URL path they
// will be served from.
type ImageStore interface {
	Save(header *multipart.FileHeader) (string, error)
}

// DiskImageStore stores images as files in a single directory. The files
// are served under /uploads/.
type DiskImageStore struct {
	dir string
}

func NewDiskImageStore(dir string) (*DiskImageStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}

	return &DiskImageStore{dir: dir}, nil
}

func (s *DiskImageStore) Dir() string {
	return s.dir
}

func (s *DiskImageStore) Save(header *multipart.FileHeader) (string, error) {
	if header.Size > maxImageSize {
		return "", errors.New("image exceeds the 5MB size limit")
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	if !imageExts[ext] {
		return "", ErrNotAnImage
	}

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer src.Close()

	name := uuid.NewString() + ext

	dst, err := os.Create(filepath.Join(s.dir, name))
	if err != nil {
		return "", fmt.Errorf("failed to create image file: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to write image file: %w", err)
	}

	return "/uploads/" + name, nil
}
