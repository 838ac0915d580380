// Package media persists captured frames to the on-disk layout the
// connector and HTTP download routes expect, and serves them back by
// media ID.
package media

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// OriginalDir and StandaloneDir are the two capture-mode subtrees
// under the configured media root.
const (
	OriginalDir  = "original"
	StandaloneDir = "standalone"
)

// Store writes JPEG frames to disk using the
// img_YYYYMMDD-HHMMSS-µµµµµµ_NNN.jpg naming convention and resolves
// media IDs (the filename stem) back to a path for the download route.
type Store struct {
	root string
}

// NewStore creates a Store rooted at root, ensuring both the
// original/ and standalone/ subdirectories exist.
func NewStore(root string) (*Store, error) {
	for _, sub := range []string{OriginalDir, StandaloneDir} {
		if err := os.MkdirAll(filepath.Join(root, sub), 0755); err != nil {
			return nil, fmt.Errorf("create media directory %s: %w", sub, err)
		}
	}
	return &Store{root: root}, nil
}

// Save writes data under the original or standalone subtree and
// returns the media ID (the filename without its extension) used to
// address it later via Open. index is the capture's in-job sequence
// number (CaptureResult.Index), not a store-global counter: §6's NNN
// component restarts at 0 for every job.
func (s *Store) Save(data []byte, at time.Time, standalone bool, index int) (string, error) {
	sub := OriginalDir
	if standalone {
		sub = StandaloneDir
	}

	stem := fmt.Sprintf("img_%s-%06d_%03d", at.Format("20060102-150405"), at.Nanosecond()/1000, index%1000)
	filename := stem + ".jpg"

	path := filepath.Join(s.root, sub, filename)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", fmt.Errorf("write media file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename media file: %w", err)
	}

	return stem, nil
}

// ErrNotFound is returned by Open when no file matches the media ID.
var ErrNotFound = fmt.Errorf("media: not found")

// Open resolves a media ID to its absolute file path by searching both
// the original/ and standalone/ subtrees.
func (s *Store) Open(mediaID string) (string, error) {
	for _, sub := range []string{OriginalDir, StandaloneDir} {
		path := filepath.Join(s.root, sub, mediaID+".jpg")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", ErrNotFound
}

// List returns every persisted media ID across both subtrees, oldest
// first.
func (s *Store) List() ([]string, error) {
	var ids []string
	for _, sub := range []string{OriginalDir, StandaloneDir} {
		entries, err := os.ReadDir(filepath.Join(s.root, sub))
		if err != nil {
			return nil, fmt.Errorf("list media directory %s: %w", sub, err)
		}
		for _, e := range entries {
			name := e.Name()
			if filepath.Ext(name) != ".jpg" {
				continue
			}
			ids = append(ids, name[:len(name)-len(".jpg")])
		}
	}
	sort.Strings(ids)
	return ids, nil
}
