package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Track is one playable song in the library.
type Track struct {
	Path    string
	Title   string
	Holiday bool
}

// Library is the scanned media tree. Layout under the root:
//
//	regular/        songs in year-round rotation
//	holiday/        songs eligible only under the seasonal bias
//	announcements/  station voice assets (startup_*, shutdown_*, legal_id_*)
//	intros/         per-song intros named <song base>_intro*.mp3
//	outros/         per-song outros named <song base>_outro*.mp3
//
// Everything is resolved once at startup into in-memory maps so the
// DJ's THINK phase never touches the filesystem.
type Library struct {
	Regular []Track
	Holiday []Track

	startupAnnouncements  []string
	shutdownAnnouncements []string
	legalIDs              []string

	intros map[string][]string
	outros map[string][]string
}

// LoadLibrary scans the media root. A missing subdirectory is not an
// error; an entirely empty song pool is.
func LoadLibrary(root string) (*Library, error) {
	lib := &Library{
		intros: make(map[string][]string),
		outros: make(map[string][]string),
	}

	for _, t := range scanAudioFiles(filepath.Join(root, "regular")) {
		lib.Regular = append(lib.Regular, Track{Path: t, Title: titleFromPath(t)})
	}
	for _, t := range scanAudioFiles(filepath.Join(root, "holiday")) {
		lib.Holiday = append(lib.Holiday, Track{Path: t, Title: titleFromPath(t), Holiday: true})
	}
	if len(lib.Regular)+len(lib.Holiday) == 0 {
		return nil, fmt.Errorf("no playable tracks under %s", root)
	}

	for _, p := range scanAudioFiles(filepath.Join(root, "announcements")) {
		base := strings.ToLower(filepath.Base(p))
		switch {
		case strings.HasPrefix(base, "startup"):
			lib.startupAnnouncements = append(lib.startupAnnouncements, p)
		case strings.HasPrefix(base, "shutdown"):
			lib.shutdownAnnouncements = append(lib.shutdownAnnouncements, p)
		case strings.HasPrefix(base, "legal"):
			lib.legalIDs = append(lib.legalIDs, p)
		}
	}

	lib.indexCompanions(filepath.Join(root, "intros"), "_intro", lib.intros)
	lib.indexCompanions(filepath.Join(root, "outros"), "_outro", lib.outros)

	log.Printf("Library: %d regular, %d holiday, %d startup, %d shutdown, %d legal IDs, %d intros, %d outros",
		len(lib.Regular), len(lib.Holiday), len(lib.startupAnnouncements),
		len(lib.shutdownAnnouncements), len(lib.legalIDs), len(lib.intros), len(lib.outros))
	return lib, nil
}

// indexCompanions maps "<song base><marker>*.mp3" files to the song
// base name they decorate.
func (lib *Library) indexCompanions(dir, marker string, index map[string][]string) {
	for _, p := range scanAudioFiles(dir) {
		base := trackBase(p)
		if ix := strings.LastIndex(base, marker); ix > 0 {
			song := base[:ix]
			index[song] = append(index[song], p)
		}
	}
}

// IntroFor returns the intro files recorded for a track, if any.
func (lib *Library) IntroFor(t Track) []string {
	return lib.intros[trackBase(t.Path)]
}

// OutroFor returns the outro files recorded for a track, if any.
func (lib *Library) OutroFor(t Track) []string {
	return lib.outros[trackBase(t.Path)]
}

// StartupAnnouncement returns one startup voice asset, or "".
func (lib *Library) StartupAnnouncement() string {
	return firstOf(lib.startupAnnouncements)
}

// ShutdownAnnouncement returns one shutdown voice asset, or "".
func (lib *Library) ShutdownAnnouncement() string {
	return firstOf(lib.shutdownAnnouncements)
}

// LegalIDs returns every legal identification asset.
func (lib *Library) LegalIDs() []string {
	return lib.legalIDs
}

func firstOf(s []string) string {
	if len(s) == 0 {
		return ""
	}
	return s[0]
}

func scanAudioFiles(dir string) []string {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil
	}

	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if strings.EqualFold(filepath.Ext(e.Name()), ".mp3") {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files
}

func trackBase(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func titleFromPath(path string) string {
	return strings.ReplaceAll(trackBase(path), "_", " ")
}
