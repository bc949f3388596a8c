// Package gallery lists the captured pictures for the image browser and
// the live feed.
package gallery

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Image is one picture under the images root.
type Image struct {
	Path    string // slash-separated, relative to the root
	Series  string // parent directory, "" for single pictures
	Index   int    // numeric file name, -1 when not a number
	ModTime time.Time
	Size    int64
}

// Name returns the file name.
func (i Image) Name() string { return path.Base(i.Path) }

// List walks root and returns every *.jpg, skipping dotfiles and dot
// directories, ordered by series then frame number. A non-empty q keeps
// only paths containing it (case-insensitive). A missing root is empty.
func List(root, q string) ([]Image, error) {
	q = strings.ToLower(q)
	var out []Image
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root && os.IsNotExist(err) {
				return fs.SkipAll
			}
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(d.Name()), ".jpg") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if q != "" && !strings.Contains(strings.ToLower(rel), q) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out = append(out, newImage(rel, info))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	Sort(out)
	return out, nil
}

func newImage(rel string, info fs.FileInfo) Image {
	img := Image{Path: rel, Index: -1, ModTime: info.ModTime(), Size: info.Size()}
	if dir := path.Dir(rel); dir != "." {
		img.Series = dir
	}
	base := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	if n, err := strconv.Atoi(base); err == nil && n >= 0 {
		img.Index = n
	}
	return img
}

// Sort orders images by series, then numbered frames ascending, then by
// name.
func Sort(images []Image) {
	sort.SliceStable(images, func(i, j int) bool {
		a, b := images[i], images[j]
		if a.Series != b.Series {
			return a.Series < b.Series
		}
		if (a.Index >= 0) != (b.Index >= 0) {
			return a.Index >= 0
		}
		if a.Index != b.Index {
			return a.Index < b.Index
		}
		return a.Path < b.Path
	})
}

// Latest returns the highest numbered frame of series, or the most
// recently modified picture anywhere when series is empty.
func Latest(root, series string) (Image, bool, error) {
	images, err := List(root, "")
	if err != nil {
		return Image{}, false, err
	}
	var best Image
	found := false
	for _, img := range images {
		if series != "" {
			if img.Series != series || img.Index < 0 {
				continue
			}
			if !found || img.Index > best.Index {
				best, found = img, true
			}
			continue
		}
		if !found || img.ModTime.After(best.ModTime) {
			best, found = img, true
		}
	}
	return best, found, nil
}
