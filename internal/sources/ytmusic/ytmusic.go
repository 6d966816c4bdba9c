// Package ytmusic provides the YouTube Music content source. Searches run
// against the YouTube Music catalog, which surfaces official song uploads
// instead of arbitrary videos; streams are acquired through the regular
// YouTube endpoints for the same video IDs.
package ytmusic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	kkdai "github.com/kkdai/youtube/v2"
	"github.com/raitonoberu/ytmusic"

	"github.com/sglre6355/groovebot/internal/player"
)

const (
	// PluginName is the registry name of this source.
	PluginName = "ytmusic"

	pluginVersion = "1.0.0"
	// QueryPrefix routes a plain-text query to this source explicitly.
	QueryPrefix = "ytmusic:"

	musicWatchBaseURL = "https://music.youtube.com/watch?v="
	watchBaseURL      = "https://www.youtube.com/watch?v="
	maxResults        = 25
)

// ErrNoAudioFormats indicates a song exposes no audio-capable formats.
var ErrNoAudioFormats = errors.New("no audio formats available")

// Plugin resolves YouTube Music URLs and "ytmusic:" prefixed queries.
type Plugin struct {
	client *kkdai.Client
}

// New creates the YouTube Music source plugin.
func New() *Plugin {
	return &Plugin{
		client: &kkdai.Client{
			HTTPClient: &http.Client{Timeout: 30 * time.Second},
		},
	}
}

func (p *Plugin) Name() string    { return PluginName }
func (p *Plugin) Version() string { return pluginVersion }

// CanHandle accepts music.youtube.com URLs and prefixed queries.
func (p *Plugin) CanHandle(query string) bool {
	if strings.HasPrefix(query, QueryPrefix) {
		return true
	}
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		return p.Validate(query)
	}
	return false
}

// Validate reports whether the URL belongs to YouTube Music.
func (p *Plugin) Validate(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), "music.youtube.com")
}

// Search runs a catalog track search, or resolves a direct song URL.
func (p *Plugin) Search(ctx context.Context, query string, requestedBy player.Requester) (*player.SearchResult, error) {
	if p.Validate(query) {
		videoID := extractVideoID(query)
		if videoID == "" {
			return nil, fmt.Errorf("unsupported youtube music url: %s", query)
		}
		track, err := p.lookupSong(ctx, videoID, requestedBy)
		if err != nil {
			return nil, err
		}
		return &player.SearchResult{Tracks: []*player.Track{track}}, nil
	}

	text := strings.TrimSpace(strings.TrimPrefix(query, QueryPrefix))
	search := ytmusic.TrackSearch(text)
	res, err := search.Next()
	if err != nil {
		return nil, fmt.Errorf("ytmusic search: %w", err)
	}

	tracks := make([]*player.Track, 0, maxResults)
	for _, item := range res.Tracks {
		if item.VideoID == "" {
			continue
		}
		artist := ""
		if len(item.Artists) > 0 {
			artist = item.Artists[0].Name
		}
		track := &player.Track{
			ID:          item.VideoID,
			Title:       item.Title,
			URL:         musicWatchBaseURL + item.VideoID,
			Duration:    time.Duration(item.Duration) * time.Second,
			RequestedBy: requestedBy,
			Source:      PluginName,
			Metadata:    map[string]any{"artist": artist},
		}
		if len(item.Thumbnails) > 0 {
			track.Thumbnail = item.Thumbnails[0].URL
		}
		tracks = append(tracks, track)
		if len(tracks) >= maxResults {
			break
		}
	}
	return &player.SearchResult{Tracks: tracks}, nil
}

func (p *Plugin) lookupSong(ctx context.Context, videoID string, requestedBy player.Requester) (*player.Track, error) {
	video, err := p.client.GetVideoContext(ctx, videoID)
	if err != nil {
		return nil, fmt.Errorf("ytmusic song lookup: %w", err)
	}
	track := &player.Track{
		ID:          video.ID,
		Title:       video.Title,
		URL:         musicWatchBaseURL + video.ID,
		Duration:    video.Duration,
		RequestedBy: requestedBy,
		Source:      PluginName,
		Metadata:    map[string]any{"artist": video.Author},
	}
	if len(video.Thumbnails) > 0 {
		track.Thumbnail = video.Thumbnails[0].URL
	}
	return track, nil
}

// GetStream opens the song's audio through the regular watch endpoint; the
// music.youtube.com host is not directly streamable.
func (p *Plugin) GetStream(ctx context.Context, t *player.Track) (*player.StreamInfo, error) {
	videoID := extractVideoID(t.URL)
	if videoID == "" {
		videoID = t.ID
	}
	if videoID == "" {
		return nil, fmt.Errorf("no video id for track %q", t.Title)
	}

	video, err := p.client.GetVideoContext(ctx, watchBaseURL+videoID)
	if err != nil {
		return nil, fmt.Errorf("ytmusic song lookup: %w", err)
	}

	formats := video.Formats.WithAudioChannels()
	var format *kkdai.Format
	isOpus := false
	for i := range formats {
		if formats[i].ItagNo == 251 {
			format = &formats[i]
			isOpus = true
			break
		}
	}
	if format == nil && len(formats) > 0 {
		formats.Sort()
		format = &formats[0]
		isOpus = strings.Contains(format.MimeType, "opus")
	}
	if format == nil {
		return nil, ErrNoAudioFormats
	}

	stream, _, err := p.client.GetStreamContext(ctx, video, format)
	if err != nil {
		return nil, fmt.Errorf("ytmusic stream: %w", err)
	}

	streamType := player.StreamTypeArbitrary
	if isOpus {
		streamType = player.StreamTypeWebmOpus
	}
	return &player.StreamInfo{Stream: stream, Type: streamType}, nil
}

func extractVideoID(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Query().Get("v")
}
