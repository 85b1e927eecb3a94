package camera

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

var stillExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".bmp":  true,
	".webp": true,
}

// FilesSource replays the still images of a directory in name order,
// looping forever. Each Snapshot advances to the next file.
type FilesSource struct {
	Dir string
}

// NewFilesSource creates a replay source over dir.
func NewFilesSource(dir string) *FilesSource {
	return &FilesSource{Dir: dir}
}

func (s *FilesSource) String() string {
	return "file:" + s.Dir
}

// Open lists the directory and decodes the first image to learn the size.
func (s *FilesSource) Open(ctx context.Context) (Capture, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(s.Dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
			return nil, fmt.Errorf("%w: %v", ErrPermission, err)
		}
		return nil, fmt.Errorf("read %s: %w", s.Dir, err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !stillExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			continue
		}
		paths = append(paths, filepath.Join(s.Dir, e.Name()))
	}
	sort.Strings(paths)
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: no images in %s", ErrPermission, s.Dir)
	}

	first, err := decodeFile(paths[0])
	if err != nil {
		return nil, err
	}
	b := first.Bounds()
	return &filesCapture{
		paths:  paths,
		width:  b.Dx(),
		height: b.Dy(),
	}, nil
}

func decodeFile(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

type filesCapture struct {
	mu     sync.Mutex
	paths  []string
	next   int
	width  int
	height int
	closed bool
}

func (c *filesCapture) Snapshot() (image.Image, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	path := c.paths[c.next]
	c.next = (c.next + 1) % len(c.paths)
	c.mu.Unlock()

	return decodeFile(path)
}

func (c *filesCapture) Size() (int, int) {
	return c.width, c.height
}

func (c *filesCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}
