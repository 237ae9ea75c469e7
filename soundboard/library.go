// Package soundboard serves pre-recorded sounds: a read-only library of local
// files and a resolver for Discord soundboard references.
package soundboard

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// URLSound is the library entry played in place of a link.
const URLSound = "URL"

// ErrNotFound is returned when a sound does not exist.
var ErrNotFound = errors.New("sound not found")

// Library holds decoded sound files keyed by file name without extension.
// It never changes after Load.
type Library struct {
	clips map[string]*audio.Clip
}

// NewLibrary wraps already decoded clips.
func NewLibrary(clips map[string]*audio.Clip) *Library {
	if clips == nil {
		clips = map[string]*audio.Clip{}
	}
	return &Library{clips: clips}
}

// Load walks dir and decodes every file with an extension using enc, at most
// workers at a time. An empty dir gives an empty library; a dir that does not
// exist is an error. Files that fail to decode are logged and skipped.
func Load(ctx context.Context, dir string, enc audio.Encoder, workers int) (*Library, error) {
	if dir == "" {
		return NewLibrary(nil), nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("sound directory %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("sound directory %s is not a directory", dir)
	}

	var paths []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			log.Warn().Err(err).Str("path", path).Msg("Skipping unreadable sound path")
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		if strings.HasPrefix(d.Name(), ".") || filepath.Ext(path) == "" {
			return nil
		}
		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("could not walk sound directory %s: %w", dir, err)
	}
	sort.Strings(paths)

	if workers < 1 {
		workers = 1
	}
	decoded := make([]*audio.Clip, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range paths {
		g.Go(func() error {
			clip, err := decodeFile(gctx, enc, path)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Error().Err(err).Str("path", path).Msg("Could not load sound")
				return nil
			}
			decoded[i] = clip
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	clips := make(map[string]*audio.Clip, len(paths))
	for i, clip := range decoded {
		if clip == nil {
			continue
		}
		if _, dup := clips[clip.Label()]; dup {
			log.Warn().Str("name", clip.Label()).Str("path", paths[i]).Msg("Duplicate sound name, keeping the first")
			continue
		}
		clips[clip.Label()] = clip
	}

	log.Info().Int("count", len(clips)).Str("dir", dir).Msg("Sound files loaded")
	return NewLibrary(clips), nil
}

func decodeFile(ctx context.Context, enc audio.Encoder, path string) (*audio.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return enc.Encode(ctx, name, f)
}

// Get returns a fresh handle for the named sound.
func (l *Library) Get(name string) (*audio.Handle, bool) {
	clip, ok := l.clips[name]
	if !ok {
		return nil, false
	}
	return clip.NewHandle(), true
}

// Len returns the number of sounds.
func (l *Library) Len() int { return len(l.clips) }

// Names returns sound names in sorted order.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.clips))
	for name := range l.clips {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
