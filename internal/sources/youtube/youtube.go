// Package youtube provides the YouTube content source: native search via the
// Innertube API and direct stream acquisition without external processes.
package youtube

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	kkdai "github.com/kkdai/youtube/v2"
	"github.com/ppalone/ytsearch"
	"golang.org/x/time/rate"

	"github.com/sglre6355/groovebot/internal/player"
)

const (
	// PluginName is the registry name of this source.
	PluginName = "youtube"

	pluginVersion = "1.0.0"
	watchBaseURL  = "https://www.youtube.com/watch?v="
	maxResults    = 25
)

var (
	watchURLPattern    = regexp.MustCompile(`(?:youtube\.com/watch\?.*v=|youtu\.be/)([\w-]{11})`)
	playlistURLPattern = regexp.MustCompile(`youtube\.com/playlist\?.*list=([\w-]+)`)
)

// ErrNoAudioFormats indicates a video exposes no audio-capable formats.
var ErrNoAudioFormats = errors.New("no audio formats available")

// Plugin resolves YouTube URLs and plain-text queries.
type Plugin struct {
	search  *ytsearch.Client
	client  *kkdai.Client
	limiter *rate.Limiter
}

// New creates the YouTube source plugin.
func New() *Plugin {
	return &Plugin{
		search: ytsearch.NewClient(nil),
		client: &kkdai.Client{
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
		},
		// Innertube tolerates short bursts but throttles sustained load.
		limiter: rate.NewLimiter(rate.Limit(4), 8),
	}
}

func (p *Plugin) Name() string    { return PluginName }
func (p *Plugin) Version() string { return pluginVersion }

// CanHandle accepts YouTube URLs and any plain-text query. Plain text makes
// this the default search source when it is registered first.
func (p *Plugin) CanHandle(query string) bool {
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		return p.Validate(query)
	}
	return true
}

// Validate reports whether the URL belongs to YouTube (excluding YouTube
// Music, which has its own source).
func (p *Plugin) Validate(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	return host == "youtube.com" || host == "youtu.be" || host == "m.youtube.com"
}

// Search resolves a URL to its video, expands playlist URLs, or runs a text
// search returning up to 25 candidates.
func (p *Plugin) Search(ctx context.Context, query string, requestedBy player.Requester) (*player.SearchResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	if playlistURLPattern.MatchString(query) {
		tracks, err := p.ExtractPlaylist(ctx, query, requestedBy)
		if err != nil {
			return nil, err
		}
		return &player.SearchResult{
			Tracks:   tracks,
			Playlist: &player.PlaylistInfo{URL: query},
		}, nil
	}

	if m := watchURLPattern.FindStringSubmatch(query); m != nil {
		track, err := p.lookupVideo(ctx, m[1], requestedBy)
		if err != nil {
			return nil, err
		}
		return &player.SearchResult{Tracks: []*player.Track{track}}, nil
	}

	res, err := p.search.Search(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("youtube search: %w", err)
	}

	tracks := make([]*player.Track, 0, maxResults)
	for _, r := range res.Results {
		if r.VideoID == "" {
			continue
		}
		tracks = append(tracks, &player.Track{
			ID:          r.VideoID,
			Title:       r.Title,
			URL:         watchBaseURL + r.VideoID,
			Duration:    parseColonDuration(r.Duration),
			RequestedBy: requestedBy,
			Source:      PluginName,
			Metadata:    map[string]any{"channel": r.Channel},
		})
		if len(tracks) >= maxResults {
			break
		}
	}
	return &player.SearchResult{Tracks: tracks}, nil
}

func (p *Plugin) lookupVideo(ctx context.Context, videoID string, requestedBy player.Requester) (*player.Track, error) {
	video, err := p.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("youtube video lookup: %w", err)
	}
	track := &player.Track{
		ID:          video.ID,
		Title:       video.Title,
		URL:         watchBaseURL + video.ID,
		Duration:    video.Duration,
		RequestedBy: requestedBy,
		Source:      PluginName,
		Metadata:    map[string]any{"channel": video.Author},
	}
	if len(video.Thumbnails) > 0 {
		track.Thumbnail = video.Thumbnails[0].URL
	}
	return track, nil
}

// GetStream opens the track's audio. Opus-in-WebM formats are preferred so
// the engine can avoid transcoding; itag 251 first, any Opus second, best
// remaining audio last.
func (p *Plugin) GetStream(ctx context.Context, t *player.Track) (*player.StreamInfo, error) {
	return p.streamByURL(ctx, t.URL)
}

func (p *Plugin) streamByURL(ctx context.Context, rawURL string) (*player.StreamInfo, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	video, err := p.client.GetVideoContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("youtube video lookup: %w", err)
	}

	format, isOpus := pickAudioFormat(video.Formats.WithAudioChannels())
	if format == nil {
		return nil, ErrNoAudioFormats
	}

	stream, _, err := p.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("youtube stream: %w", err)
	}

	streamType := player.StreamTypeArbitrary
	if isOpus {
		streamType = player.StreamTypeWebmOpus
	}
	return &player.StreamInfo{
		Stream: stream,
		Type:   streamType,
		Metadata: map[string]any{
			"itag":     format.ItagNo,
			"mimeType": format.MimeType,
		},
	}, nil
}

func pickAudioFormat(formats kkdai.FormatList) (*kkdai.Format, bool) {
	for i := range formats {
		if formats[i].ItagNo == 251 {
			return &formats[i], true
		}
	}
	for i := range formats {
		if strings.Contains(formats[i].MimeType, "opus") {
			return &formats[i], true
		}
	}
	if len(formats) > 0 {
		formats.Sort()
		return &formats[0], false
	}
	return nil, false
}

// ExtractPlaylist expands a playlist URL into its member tracks.
func (p *Plugin) ExtractPlaylist(ctx context.Context, rawURL string, requestedBy player.Requester) ([]*player.Track, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	playlist, err := p.client.GetPlaylistContext(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("youtube playlist: %w", err)
	}

	tracks := make([]*player.Track, 0, len(playlist.Videos))
	for _, v := range playlist.Videos {
		if v.ID == "" {
			continue
		}
		track := &player.Track{
			ID:          v.ID,
			Title:       v.Title,
			URL:         watchBaseURL + v.ID,
			Duration:    v.Duration,
			RequestedBy: requestedBy,
			Source:      PluginName,
			Metadata:    map[string]any{"channel": v.Author},
		}
		if len(v.Thumbnails) > 0 {
			track.Thumbnail = v.Thumbnails[0].URL
		}
		tracks = append(tracks, track)
	}
	return tracks, nil
}

// parseColonDuration parses "3:20" or "1:05:20" forms.
func parseColonDuration(s string) time.Duration {
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0
	}
	total := 0
	for _, part := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return 0
		}
		total = total*60 + n
	}
	return time.Duration(total) * time.Second
}
