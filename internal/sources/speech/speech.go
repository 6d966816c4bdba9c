// Package speech provides the text-to-speech content source backed by the
// Yandex SpeechKit gRPC API. Queries prefixed with "tts:" synthesize the
// remaining text into a WAV stream.
package speech

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	ttsv3 "github.com/yandex-cloud/go-genproto/yandex/cloud/ai/tts/v3"

	"github.com/sglre6355/groovebot/internal/player"
)

const (
	// PluginName is the registry name of this source. It contains "tts" so
	// tracks it produces are recognized as speech.
	PluginName = "speech-tts"

	pluginVersion = "1.0.0"
	// QueryPrefix marks a query as a synthesis request.
	QueryPrefix = "tts:"

	synthesisEndpoint = "tts.api.cloud.yandex.net:443"
	maxTextLength     = 500

	// Rough speaking rate used to estimate utterance duration up front.
	charsPerSecond = 15
)

// ErrTextTooLong indicates the utterance exceeds the synthesis limit.
var ErrTextTooLong = errors.New("tts text too long")

// Config carries the SpeechKit credentials and voice settings.
type Config struct {
	APIKey   string
	FolderID string
	Voice    string
	Speed    float64
}

// Plugin synthesizes speech through Yandex SpeechKit.
type Plugin struct {
	cfg    Config
	conn   *grpc.ClientConn
	client ttsv3.SynthesizerClient
}

// New dials the synthesis endpoint and returns the speech source plugin.
func New(cfg Config) (*Plugin, error) {
	if cfg.Voice == "" {
		cfg.Voice = "marina"
	}
	if cfg.Speed == 0 {
		cfg.Speed = 1.0
	}

	creds := credentials.NewTLS(&tls.Config{})
	conn, err := grpc.NewClient(synthesisEndpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("dial speechkit: %w", err)
	}

	return &Plugin{
		cfg:    cfg,
		conn:   conn,
		client: ttsv3.NewSynthesizerClient(conn),
	}, nil
}

func (p *Plugin) Name() string    { return PluginName }
func (p *Plugin) Version() string { return pluginVersion }

// CanHandle accepts "tts:" prefixed queries.
func (p *Plugin) CanHandle(query string) bool {
	return strings.HasPrefix(query, QueryPrefix)
}

// Search builds the utterance track. No network call happens here; the text
// travels in the track and synthesis runs at stream time.
func (p *Plugin) Search(_ context.Context, query string, requestedBy player.Requester) (*player.SearchResult, error) {
	text := strings.TrimSpace(strings.TrimPrefix(query, QueryPrefix))
	if text == "" {
		return nil, errors.New("tts text is empty")
	}
	if len(text) > maxTextLength {
		return nil, ErrTextTooLong
	}

	track := &player.Track{
		Title:       text,
		Duration:    time.Duration(len(text)/charsPerSecond+1) * time.Second,
		RequestedBy: requestedBy,
		Source:      PluginName,
		Metadata:    map[string]any{"text": text, "voice": p.cfg.Voice},
	}
	return &player.SearchResult{Tracks: []*player.Track{track}}, nil
}

// GetStream synthesizes the utterance, piping WAV chunks as they arrive so
// playback starts before synthesis completes.
func (p *Plugin) GetStream(ctx context.Context, t *player.Track) (*player.StreamInfo, error) {
	text := t.Title
	if v, ok := t.Metadata["text"].(string); ok && v != "" {
		text = v
	}

	ctx = metadata.AppendToOutgoingContext(ctx, "authorization", "Api-Key "+p.cfg.APIKey)
	ctx = metadata.AppendToOutgoingContext(ctx, "x-folder-id", p.cfg.FolderID)

	stream, err := p.client.UtteranceSynthesis(ctx, p.buildRequest(text))
	if err != nil {
		return nil, fmt.Errorf("start synthesis: %w", err)
	}

	pr, pw := io.Pipe()
	go func() {
		for {
			resp, err := stream.Recv()
			if err == io.EOF {
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(fmt.Errorf("receive audio: %w", err))
				return
			}
			if chunk := resp.GetAudioChunk(); chunk != nil {
				if _, err := pw.Write(chunk.GetData()); err != nil {
					return
				}
			}
		}
	}()

	return &player.StreamInfo{Stream: pr, Type: player.StreamTypeArbitrary}, nil
}

func (p *Plugin) buildRequest(text string) *ttsv3.UtteranceSynthesisRequest {
	req := &ttsv3.UtteranceSynthesisRequest{}
	req.SetModel("general")
	req.SetText(text)

	voiceHint := &ttsv3.Hints{}
	voiceHint.SetVoice(p.cfg.Voice)
	speedHint := &ttsv3.Hints{}
	speedHint.SetSpeed(p.cfg.Speed)
	req.SetHints([]*ttsv3.Hints{voiceHint, speedHint})

	containerAudio := &ttsv3.ContainerAudio{}
	containerAudio.SetContainerAudioType(ttsv3.ContainerAudio_WAV)
	audioSpec := &ttsv3.AudioFormatOptions{}
	audioSpec.SetContainerAudio(containerAudio)
	req.SetOutputAudioSpec(audioSpec)

	req.SetLoudnessNormalizationType(ttsv3.UtteranceSynthesisRequest_LUFS)
	return req
}

// Close releases the gRPC connection.
func (p *Plugin) Close() error {
	return p.conn.Close()
}
