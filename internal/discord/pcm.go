package discord

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os/exec"

	"layeh.com/gopus"

	"github.com/sglre6355/groovebot/internal/player"
)

// pcmOpusSource decodes arbitrary input through ffmpeg into raw 48kHz stereo
// s16le and encodes it to Opus, applying the resource volume per frame.
type pcmOpusSource struct {
	pcm     io.Reader
	encoder *gopus.Encoder
	res     *player.Resource
	buf     []byte
	samples []int16
}

func newPCMOpusSource(pcm io.Reader, res *player.Resource) (*pcmOpusSource, error) {
	encoder, err := gopus.NewEncoder(sampleRate, channels, gopus.Audio)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &pcmOpusSource{
		pcm:     pcm,
		encoder: encoder,
		res:     res,
		buf:     make([]byte, frameSize*channels*2),
		samples: make([]int16, frameSize*channels),
	}, nil
}

// NextFrame reads one 20ms PCM frame, scales it, and returns the encoded
// Opus packet.
func (s *pcmOpusSource) NextFrame() ([]byte, error) {
	n, err := io.ReadFull(s.pcm, s.buf)
	if err != nil {
		if (err == io.ErrUnexpectedEOF || err == io.EOF) && n == 0 {
			return nil, io.EOF
		}
		if err != io.ErrUnexpectedEOF {
			return nil, err
		}
		// Pad the trailing short frame with silence.
		for i := n; i < len(s.buf); i++ {
			s.buf[i] = 0
		}
	}

	volume := s.res.Volume()
	for i := range s.samples {
		sample := int32(int16(binary.LittleEndian.Uint16(s.buf[i*2 : i*2+2])))
		sample = sample * int32(volume) / 100
		if sample > 32767 {
			sample = 32767
		} else if sample < -32768 {
			sample = -32768
		}
		s.samples[i] = int16(sample)
	}

	frame, err := s.encoder.Encode(s.samples, frameSize, len(s.buf))
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return frame, nil
}

// startFFmpeg spawns an ffmpeg process converting the input stream to raw
// 48kHz stereo s16le on stdout. The returned cleanup kills the process.
func startFFmpeg(ctx context.Context, input io.Reader) (io.Reader, func(), error) {
	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-i", "pipe:0",
		"-f", "s16le",
		"-ar", fmt.Sprintf("%d", sampleRate),
		"-ac", fmt.Sprintf("%d", channels),
		"-loglevel", "warning",
		"pipe:1",
	)
	cmd.Stdin = input

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("ffmpeg start: %w", err)
	}

	cleanup := func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	return stdout, cleanup, nil
}
