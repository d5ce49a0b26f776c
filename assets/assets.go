// Package assets removes product image files after the product itself is
// gone. Removal is best effort: failures are logged and never reported to
// the caller whose request triggered them.
package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Remover deletes a single stored image.
type Remover interface {
	Remove(ctx context.Context, ref string) error
}

// ErrOutsideRoot is returned for references that resolve outside the asset
// root.
var ErrOutsideRoot = errors.New("asset path escapes root")

// FileRemover deletes images stored on the local filesystem. References are
// either paths relative to Root or absolute URLs under BaseURL.
type FileRemover struct {
	Root    string
	BaseURL string
}

func (f FileRemover) Remove(_ context.Context, ref string) error {
	path, err := f.resolve(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

func (f FileRemover) resolve(ref string) (string, error) {
	rel := stripBase(ref, f.BaseURL)
	if rel == "" {
		return "", fmt.Errorf("empty asset reference %q", ref)
	}
	root, err := filepath.Abs(f.Root)
	if err != nil {
		return "", err
	}
	path := filepath.Join(root, filepath.FromSlash(rel))
	if path != root && !strings.HasPrefix(path, root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, ref)
	}
	return path, nil
}

// stripBase turns a public URL back into the stored relative path.
func stripBase(ref, baseURL string) string {
	if baseURL != "" {
		ref = strings.TrimPrefix(ref, strings.TrimSuffix(baseURL, "/"))
	}
	return strings.TrimLeft(ref, "/")
}

// Cleaner runs removals in the background so the request that deleted the
// product never waits on storage.
type Cleaner struct {
	remover Remover
	log     *slog.Logger
	wg      sync.WaitGroup
}

func NewCleaner(remover Remover, log *slog.Logger) *Cleaner {
	return &Cleaner{remover: remover, log: log}
}

// Schedule removes every ref once, in the background.
func (c *Cleaner) Schedule(refs []string) {
	if len(refs) == 0 {
		return
	}
	refs = append([]string(nil), refs...)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx := context.Background()
		for _, ref := range refs {
			if err := c.remover.Remove(ctx, ref); err != nil {
				c.log.Warn("image cleanup failed", "ref", ref, "error", err)
			}
		}
	}()
}

// Wait blocks until every scheduled removal has finished.
func (c *Cleaner) Wait() {
	c.wg.Wait()
}
