// Package ytdlp provides the universal content source backed by the yt-dlp
// executable. It accepts anything: URLs from arbitrary sites and plain-text
// queries. Registered last, it is the catch-all behind the native sources and
// the fallback/autoplay provider for tracks they produced.
package ytdlp

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/lrstanley/go-ytdlp"

	"github.com/sglre6355/groovebot/internal/player"
)

const (
	// PluginName is the registry name of this source.
	PluginName = "ytdlp"

	pluginVersion = "1.0.0"
	searchResults = 5
	playlistLimit = 100
	relatedFetch  = 20
	printTemplate = "%(url)s\t%(title)s\t%(uploader)s\t%(duration)s"
	bestAudioSpec = "bestaudio[ext=webm]/bestaudio"
)

// ErrNoResults indicates yt-dlp produced no usable entries.
var ErrNoResults = errors.New("no results")

// Plugin shells out to yt-dlp for resolution and streaming.
type Plugin struct{}

// New creates the universal yt-dlp source plugin.
func New() *Plugin {
	return &Plugin{}
}

func (p *Plugin) Name() string    { return PluginName }
func (p *Plugin) Version() string { return pluginVersion }

// CanHandle accepts everything. Priority ordering keeps this source behind
// the native ones; it only sees what they declined.
func (p *Plugin) CanHandle(string) bool { return true }

// Search resolves a URL's metadata or runs a yt-dlp text search.
func (p *Plugin) Search(ctx context.Context, query string, requestedBy player.Requester) (*player.SearchResult, error) {
	if isURL(query) {
		entries, err := p.extractEntries(ctx, query, playlistLimit)
		if err != nil {
			return nil, err
		}
		if len(entries) == 0 {
			return nil, ErrNoResults
		}
		tracks := entriesToTracks(entries, requestedBy)
		if len(tracks) > 1 {
			return &player.SearchResult{
				Tracks:   tracks,
				Playlist: &player.PlaylistInfo{URL: query},
			}, nil
		}
		return &player.SearchResult{Tracks: tracks}, nil
	}

	entries, err := p.extractEntries(ctx, fmt.Sprintf("ytsearch%d:%s", searchResults, query), searchResults)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoResults
	}
	return &player.SearchResult{Tracks: entriesToTracks(entries, requestedBy)}, nil
}

// GetStream pipes yt-dlp's best-audio output directly. Container detection is
// left to the consumer, so the stream type is always arbitrary.
func (p *Plugin) GetStream(ctx context.Context, t *player.Track) (*player.StreamInfo, error) {
	if t.URL == "" {
		return nil, fmt.Errorf("track %q has no url", t.Title)
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := ytdlp.New().
		Format(bestAudioSpec).
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		BuildCommand(ctx, t.URL)

	pr, pw := io.Pipe()
	var stderr bytes.Buffer
	cmd.Stdout = pw
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("yt-dlp start: %w", err)
	}

	go func() {
		err := cmd.Wait()
		if err != nil && ctx.Err() == nil {
			slog.Debug("yt-dlp exited with error", "url", t.URL, "error", err, "stderr", stderr.String())
		}
		pw.CloseWithError(err)
	}()

	stream := &cancelReadCloser{ReadCloser: pr, cancel: cancel}
	return &player.StreamInfo{Stream: stream, Type: player.StreamTypeArbitrary}, nil
}

// GetFallback re-searches by title and streams the best match. Used when the
// original source can no longer serve the track.
func (p *Plugin) GetFallback(ctx context.Context, t *player.Track) (*player.StreamInfo, error) {
	if t.Title == "" {
		return nil, ErrNoResults
	}
	entries, err := p.extractEntries(ctx, "ytsearch1:"+t.Title, 1)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoResults
	}
	substitute := &player.Track{
		Title:       entries[0].title,
		URL:         entries[0].url,
		Duration:    entries[0].duration,
		RequestedBy: t.RequestedBy,
		Source:      PluginName,
	}
	return p.GetStream(ctx, substitute)
}

// GetRelatedTracks walks the auto-generated mix playlist for the video,
// filtering out the seed and anything already played.
func (p *Plugin) GetRelatedTracks(ctx context.Context, urlOrID string, opts player.RelatedOptions) ([]*player.Track, error) {
	id := extractVideoID(urlOrID)
	if id == "" {
		id = urlOrID
	}

	entries, err := p.extractEntries(ctx, "https://www.youtube.com/watch?v="+id+"&list=RD"+id, relatedFetch)
	if err != nil {
		return nil, err
	}

	exclude := make(map[string]bool, len(opts.History)+1)
	exclude[id] = true
	for _, h := range opts.History {
		if hid := extractVideoID(h); hid != "" {
			exclude[hid] = true
		} else {
			exclude[h] = true
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 1
	}

	var tracks []*player.Track
	skipped := 0
	for _, e := range entries {
		eid := extractVideoID(e.url)
		if eid == "" {
			eid = e.url
		}
		if exclude[eid] {
			continue
		}
		if skipped < opts.Offset {
			skipped++
			continue
		}
		tracks = append(tracks, &player.Track{
			ID:       eid,
			Title:    e.title,
			URL:      e.url,
			Duration: e.duration,
			Source:   PluginName,
			Metadata: map[string]any{"uploader": e.uploader},
		})
		if len(tracks) >= limit {
			break
		}
	}
	return tracks, nil
}

// ExtractPlaylist expands a playlist URL into its member tracks.
func (p *Plugin) ExtractPlaylist(ctx context.Context, rawURL string, requestedBy player.Requester) ([]*player.Track, error) {
	entries, err := p.extractEntries(ctx, rawURL, playlistLimit)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, ErrNoResults
	}
	return entriesToTracks(entries, requestedBy), nil
}

type entry struct {
	url, title, uploader string
	duration             time.Duration
}

func (p *Plugin) extractEntries(ctx context.Context, target string, limit int) ([]entry, error) {
	res, err := ytdlp.New().
		FlatPlaylist().
		Print(printTemplate).
		PlaylistItems(fmt.Sprintf("1-%d", limit)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("yt-dlp extract: %w", err)
	}

	lines := strings.Split(strings.TrimSpace(res.Stdout), "\n")
	entries := make([]entry, 0, len(lines))
	for _, line := range lines {
		parts := strings.Split(line, "\t")
		if len(parts) < 4 || !strings.HasPrefix(parts[0], "http") {
			continue
		}
		d, _ := time.ParseDuration(parts[3] + "s")
		entries = append(entries, entry{url: parts[0], title: parts[1], uploader: parts[2], duration: d})
	}
	return entries, nil
}

func entriesToTracks(entries []entry, requestedBy player.Requester) []*player.Track {
	tracks := make([]*player.Track, 0, len(entries))
	for _, e := range entries {
		tracks = append(tracks, &player.Track{
			ID:          extractVideoID(e.url),
			Title:       e.title,
			URL:         e.url,
			Duration:    e.duration,
			RequestedBy: requestedBy,
			Source:      PluginName,
			Metadata:    map[string]any{"uploader": e.uploader},
		})
	}
	return tracks
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func extractVideoID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("v"); id != "" {
		return id
	}
	if strings.EqualFold(strings.TrimPrefix(u.Hostname(), "www."), "youtu.be") {
		return strings.TrimPrefix(u.Path, "/")
	}
	return ""
}

// cancelReadCloser cancels the yt-dlp process when the stream is closed.
type cancelReadCloser struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelReadCloser) Close() error {
	c.cancel()
	return c.ReadCloser.Close()
}
