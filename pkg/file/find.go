package file

import (
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FindRecentAfter lists regular files under dir modified after startTime,
// oldest first. With exts given, only files with one of those extensions
// (case-insensitive, including the dot) are returned.
func FindRecentAfter(dir string, startTime time.Time, exts ...string) ([]string, error) {
	type found struct {
		path    string
		modTime time.Time
	}
	var recent []found

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !hasExt(path, exts) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.Mode().IsRegular() && info.ModTime().After(startTime) {
			recent = append(recent, found{path: path, modTime: info.ModTime()})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(recent, func(i, j int) bool {
		return recent[i].modTime.Before(recent[j].modTime)
	})
	ret := make([]string, len(recent))
	for i, f := range recent {
		ret[i] = f.path
	}
	return ret, nil
}

func hasExt(path string, exts []string) bool {
	if len(exts) == 0 {
		return true
	}
	ext := filepath.Ext(path)
	for _, e := range exts {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}
