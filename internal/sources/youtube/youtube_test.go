package youtube

import (
	"testing"
	"time"

	kkdai "github.com/kkdai/youtube/v2"
)

func TestCanHandle(t *testing.T) {
	p := New()

	tests := []struct {
		query string
		want  bool
	}{
		{"never gonna give you up", true},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ", true},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ", true},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", false},
		{"https://soundcloud.com/artist/track", false},
	}

	for _, tt := range tests {
		if got := p.CanHandle(tt.query); got != tt.want {
			t.Errorf("CanHandle(%q) = %v, want %v", tt.query, got, tt.want)
		}
	}
}

func TestParseColonDuration(t *testing.T) {
	tests := []struct {
		input string
		want  time.Duration
	}{
		{"3:20", 3*time.Minute + 20*time.Second},
		{"0:07", 7 * time.Second},
		{"1:05:20", time.Hour + 5*time.Minute + 20*time.Second},
		{"3", 0},
		{"1:2:3:4", 0},
		{"live", 0},
		{"", 0},
	}

	for _, tt := range tests {
		if got := parseColonDuration(tt.input); got != tt.want {
			t.Errorf("parseColonDuration(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestPickAudioFormat(t *testing.T) {
	opusWebm := kkdai.Format{ItagNo: 251, MimeType: `audio/webm; codecs="opus"`}
	opusOther := kkdai.Format{ItagNo: 250, MimeType: `audio/webm; codecs="opus"`}
	aac := kkdai.Format{ItagNo: 140, MimeType: `audio/mp4; codecs="mp4a.40.2"`}

	t.Run("prefers itag 251", func(t *testing.T) {
		format, isOpus := pickAudioFormat(kkdai.FormatList{aac, opusWebm, opusOther})
		if format == nil || format.ItagNo != 251 {
			t.Fatalf("expected itag 251, got %+v", format)
		}
		if !isOpus {
			t.Error("expected opus format")
		}
	})

	t.Run("falls back to any opus", func(t *testing.T) {
		format, isOpus := pickAudioFormat(kkdai.FormatList{aac, opusOther})
		if format == nil || format.ItagNo != 250 {
			t.Fatalf("expected itag 250, got %+v", format)
		}
		if !isOpus {
			t.Error("expected opus format")
		}
	})

	t.Run("falls back to non-opus", func(t *testing.T) {
		format, isOpus := pickAudioFormat(kkdai.FormatList{aac})
		if format == nil {
			t.Fatal("expected a format")
		}
		if isOpus {
			t.Error("expected non-opus format")
		}
	})

	t.Run("empty list", func(t *testing.T) {
		format, _ := pickAudioFormat(kkdai.FormatList{})
		if format != nil {
			t.Errorf("expected nil, got %+v", format)
		}
	})
}
