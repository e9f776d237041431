package home

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
)

// DefaultDebugDir is where intermediate images go unless configured otherwise.
const DefaultDebugDir = "/tmp/ocr_debug"

// DebugDir lays out per-invocation debug output. Every file name is qualified
// by invocation and page, so concurrent invocations never collide.
type DebugDir struct {
	root string
}

// NewDebugDir creates a DebugDir rooted at root (default: DefaultDebugDir).
func NewDebugDir(root string) *DebugDir {
	if root == "" {
		root = DefaultDebugDir
	}
	return &DebugDir{root: root}
}

// Root returns the debug root directory.
func (d *DebugDir) Root() string {
	return d.root
}

// InvocationDir returns the directory for one invocation's output.
func (d *DebugDir) InvocationDir(invocationID string) string {
	return filepath.Join(d.root, invocationID)
}

// PagePath returns the path of a step image for a page.
// Page numbers are 1-indexed.
func (d *DebugDir) PagePath(invocationID string, pageNum int, step string) string {
	return filepath.Join(d.InvocationDir(invocationID), fmt.Sprintf("page_%04d_%s.png", pageNum, step))
}

// EnsureInvocationDir creates the directory for an invocation.
func (d *DebugDir) EnsureInvocationDir(invocationID string) error {
	return os.MkdirAll(d.InvocationDir(invocationID), 0o755)
}

// Saver returns a PageSaver bound to one invocation.
func (d *DebugDir) Saver(invocationID string) *PageSaver {
	return &PageSaver{dir: d, invocationID: invocationID}
}

// PageSaver writes step images for a single invocation.
type PageSaver struct {
	dir          *DebugDir
	invocationID string
}

// Save writes img as PNG to the page's step path.
func (s *PageSaver) Save(pageNum int, step string, img image.Image) error {
	if err := s.dir.EnsureInvocationDir(s.invocationID); err != nil {
		return fmt.Errorf("failed to create debug directory: %w", err)
	}
	path := s.dir.PagePath(s.invocationID, pageNum, step)
	if err := imaging.Save(img, path); err != nil {
		return fmt.Errorf("failed to save %s: %w", path, err)
	}
	return nil
}
