package montage

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"log"
	"os"
	"path/filepath"
	"strconv"

	"github.com/disintegration/imaging"
)

const (
	canvasWidth  = 1200
	canvasHeight = 600
)

var (
	canvasFill      = color.NRGBA{R: 0x0b, G: 0x10, B: 0x20, A: 0xff}
	placeholderFill = color.NRGBA{R: 0x24, G: 0x3b, B: 0x55, A: 0xff}
)

// cell is one fixed slot of the 5-tile layout: the first artist gets the full
// left half, the remaining four a 2x2 grid on the right.
type cell struct {
	x, y, w, h int
}

var layout = [5]cell{
	{0, 0, canvasWidth / 2, canvasHeight},
	{canvasWidth / 2, 0, canvasWidth / 4, canvasHeight / 2},
	{canvasWidth * 3 / 4, 0, canvasWidth / 4, canvasHeight / 2},
	{canvasWidth / 2, canvasHeight / 2, canvasWidth / 4, canvasHeight / 2},
	{canvasWidth * 3 / 4, canvasHeight / 2, canvasWidth / 4, canvasHeight / 2},
}

// Service composes weekly montage images under basePath/data/montage.
type Service struct {
	basePath string
	logger   *log.Logger
}

// NewService creates a montage builder rooted at basePath (the directory that
// relative montage paths are resolved against).
func NewService(basePath string) *Service {
	return &Service{
		basePath: basePath,
		logger:   log.New(os.Stdout, "montage: ", log.LstdFlags|log.Lmsgprefix),
	}
}

// AbsolutePath resolves a stored relative montage path against the base dir.
func (s *Service) AbsolutePath(relative string) string {
	return filepath.Join(s.basePath, filepath.FromSlash(relative))
}

// Remove deletes a previously created montage file. Missing files are fine.
func (s *Service) Remove(relative string) error {
	err := os.Remove(s.AbsolutePath(relative))
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// CreateWeeklyMontage builds the 5-tile collage for a user from up to five
// artist image paths (empty entries render as placeholder tiles) and returns
// the montage's relative storage path. One file per user, overwritten weekly.
func (s *Service) CreateWeeklyMontage(userID int64, imagePaths []string) (string, error) {
	canvas := imaging.New(canvasWidth, canvasHeight, canvasFill)

	for i, c := range layout {
		path := ""
		if i < len(imagePaths) {
			path = imagePaths[i]
		}
		canvas = s.placeTile(canvas, path, c)
	}

	hash := md5.Sum([]byte(strconv.FormatInt(userID, 10)))
	relative := filepath.ToSlash(filepath.Join("montage", hex.EncodeToString(hash[:])+".jpg"))
	abs := s.AbsolutePath(relative)

	if err := os.MkdirAll(filepath.Dir(abs), 0o775); err != nil {
		return "", fmt.Errorf("failed to create montage dir: %w", err)
	}
	if err := imaging.Save(canvas, abs, imaging.JPEGQuality(82)); err != nil {
		return "", fmt.Errorf("failed to save montage for user %d: %w", userID, err)
	}

	s.logger.Printf("Built montage for user %d: %s", userID, relative)
	return relative, nil
}

// placeTile fills one cell with the cover-cropped artist image, or a solid
// placeholder when the image is missing or unreadable.
func (s *Service) placeTile(canvas *image.NRGBA, path string, c cell) *image.NRGBA {
	if path != "" {
		img, err := imaging.Open(path)
		if err == nil {
			tile := imaging.Fill(img, c.w, c.h, imaging.Center, imaging.Lanczos)
			return imaging.Paste(canvas, tile, image.Pt(c.x, c.y))
		}
		s.logger.Printf("Unreadable artist image %s, using placeholder: %v", path, err)
	}

	block := imaging.New(c.w, c.h, placeholderFill)
	return imaging.Paste(canvas, block, image.Pt(c.x, c.y))
}
