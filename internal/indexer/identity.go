package indexer

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"

	"github.com/mfranzen/videoforge/pkg/file"
)

// Catalog identity is derived from path conventions only, never from file
// content.
//
// Episodes live under <root>/<show>/<season dir>/sNNeNN - title.ext: the show
// name is the directory two levels above the file, season and episode come
// from the fixed token opening the filename.
//
// Movies follow the <name> (<year>) convention, on the containing directory
// or on the filename itself.
var (
	episodePattern = regexp.MustCompile(`(?i)^s(\d{2,3})e(\d{2,3})`)
	moviePattern   = regexp.MustCompile(`^(.*\S)\s*\((\d{4})\)$`)
)

func parseEpisodePath(path string) (show string, season, number int, err error) {
	name := filepath.Base(path)
	match := episodePattern.FindStringSubmatch(name)
	if match == nil {
		return "", 0, 0, fmt.Errorf("no season/episode token in %q", name)
	}

	show = filepath.Base(filepath.Dir(filepath.Dir(path)))
	if show == "." || show == string(filepath.Separator) {
		return "", 0, 0, fmt.Errorf("cannot derive show name from %q", path)
	}

	season, _ = strconv.Atoi(match[1])
	number, _ = strconv.Atoi(match[2])
	return show, season, number, nil
}

func parseMoviePath(path string) (name string, year int, err error) {
	for _, candidate := range []string{file.Stem(path), filepath.Base(filepath.Dir(path))} {
		if match := moviePattern.FindStringSubmatch(candidate); match != nil {
			year, _ = strconv.Atoi(match[2])
			return match[1], year, nil
		}
	}
	return "", 0, fmt.Errorf("no name/year convention in %q", path)
}
