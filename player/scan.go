package player

import (
	"io/fs"
	"log"
	"path/filepath"
	"sort"
	"strings"
)

// AudioExtensions are the file suffixes treated as playable.
var AudioExtensions = map[string]bool{
	".mp3":  true,
	".flac": true,
	".wav":  true,
	".m4a":  true,
	".aac":  true,
	".ogg":  true,
	".opus": true,
	".wma":  true,
}

// IsAudioFile reports whether name has a recognized audio extension.
// Hidden files (including macOS "._" resource forks) never qualify.
func IsAudioFile(name string) bool {
	base := filepath.Base(name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return AudioExtensions[strings.ToLower(filepath.Ext(base))]
}

// ScanTracks walks root and returns every audio file, sorted by path.
// Unreadable subdirectories are skipped rather than failing the scan.
func ScanTracks(root string) ([]string, error) {
	var tracks []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			log.Printf("PLAYER: Skipping %s: %v", path, err)
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() && IsAudioFile(d.Name()) {
			tracks = append(tracks, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(tracks)
	return tracks, nil
}
