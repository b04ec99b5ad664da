package tracker

import (
	"bufio"
	"bytes"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Engine data files, relative to the data directory.
const (
	lastBlockSuffix    = "_last_block.txt"
	missedBlocksSuffix = "_missed_blocks.txt"
	blocksInfix        = "_blocks_"
	blocksSuffix       = ".json"
)

// LastBlockFile returns the marker path of a network.
func LastBlockFile(dataDir, slug string) string {
	return filepath.Join(dataDir, slug+lastBlockSuffix)
}

// MissedBlocksFile returns the engine's missed-block log of a network.
func MissedBlocksFile(dataDir, slug string) string {
	return filepath.Join(dataDir, slug+missedBlocksSuffix)
}

// Discover lists the networks that have a last-block marker in dataDir.
func Discover(dataDir string) ([]string, error) {
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var slugs []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if slug, ok := strings.CutSuffix(e.Name(), lastBlockSuffix); ok && slug != "" {
			slugs = append(slugs, slug)
		}
	}
	sort.Strings(slugs)
	return slugs, nil
}

// blockFiles summarises the persisted block files of one network.
type blockFiles struct {
	count  int
	newest time.Time
}

// scanBlockFiles indexes <slug>_blocks_*.json files by slug with a single
// directory read.
func scanBlockFiles(dataDir string, slugs []string) map[string]blockFiles {
	out := make(map[string]blockFiles, len(slugs))
	entries, err := os.ReadDir(dataDir)
	if err != nil {
		return out
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, blocksSuffix) {
			continue
		}
		for _, slug := range slugs {
			if !strings.HasPrefix(name, slug+blocksInfix) {
				continue
			}
			bf := out[slug]
			bf.count++
			if info, err := e.Info(); err == nil && info.ModTime().After(bf.newest) {
				bf.newest = info.ModTime()
			}
			out[slug] = bf
			break
		}
	}
	return out
}

// countLines counts non-empty lines. A missing file has zero lines.
func countLines(path string) (int, time.Time, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, time.Time{}, nil
		}
		return 0, time.Time{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return 0, time.Time{}, err
	}

	n := 0
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if len(bytes.TrimSpace(sc.Bytes())) > 0 {
			n++
		}
	}
	return n, info.ModTime(), sc.Err()
}
