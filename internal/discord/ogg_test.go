package discord

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// buildOggPage assembles a single Ogg page holding the given packets. Packets
// of 255 bytes or more are split across lacing values per the container spec.
func buildOggPage(sequence uint32, packets ...[]byte) []byte {
	var lacing []byte
	var body []byte
	for _, p := range packets {
		remaining := len(p)
		for remaining >= 255 {
			lacing = append(lacing, 255)
			remaining -= 255
		}
		lacing = append(lacing, byte(remaining))
		body = append(body, p...)
	}

	header := make([]byte, 27)
	copy(header[0:4], "OggS")
	header[4] = 0
	binary.LittleEndian.PutUint64(header[6:14], 0)
	binary.LittleEndian.PutUint32(header[14:18], 1)
	binary.LittleEndian.PutUint32(header[18:22], sequence)
	header[26] = byte(len(lacing))

	var page []byte
	page = append(page, header...)
	page = append(page, lacing...)
	page = append(page, body...)
	return page
}

func opusHeadPacket() []byte {
	p := make([]byte, 19)
	copy(p, "OpusHead")
	return p
}

func opusTagsPacket() []byte {
	p := make([]byte, 16)
	copy(p, "OpusTags")
	return p
}

func TestOggOpusSource_SkipsHeadersAndYieldsPackets(t *testing.T) {
	audio1 := []byte{0xf8, 0x01, 0x02}
	audio2 := []byte{0xf8, 0x03, 0x04, 0x05}

	var stream bytes.Buffer
	stream.Write(buildOggPage(0, opusHeadPacket()))
	stream.Write(buildOggPage(1, opusTagsPacket()))
	stream.Write(buildOggPage(2, audio1, audio2))

	src := newOggOpusSource(&stream)

	frame, err := src.NextFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(frame, audio1) {
		t.Errorf("expected first audio packet %v, got %v", audio1, frame)
	}

	frame, err = src.NextFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(frame, audio2) {
		t.Errorf("expected second audio packet %v, got %v", audio2, frame)
	}

	if _, err := src.NextFrame(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestOggOpusSource_ReassemblesContinuedPacket(t *testing.T) {
	big := make([]byte, 300)
	for i := range big {
		big[i] = byte(i)
	}

	var stream bytes.Buffer
	stream.Write(buildOggPage(0, big))

	src := newOggOpusSource(&stream)

	frame, err := src.NextFrame()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !bytes.Equal(frame, big) {
		t.Errorf("expected reassembled %d-byte packet, got %d bytes", len(big), len(frame))
	}
}

func TestParseOggPageHeader_RejectsBadMagic(t *testing.T) {
	bad := make([]byte, 27)
	copy(bad, "NotO")

	_, err := parseOggPageHeader(bytes.NewReader(bad))
	if !errors.Is(err, errInvalidOggMagic) {
		t.Errorf("expected errInvalidOggMagic, got %v", err)
	}
}

func TestParseOggPageHeader_RejectsBadVersion(t *testing.T) {
	bad := make([]byte, 27)
	copy(bad, "OggS")
	bad[4] = 1

	_, err := parseOggPageHeader(bytes.NewReader(bad))
	if !errors.Is(err, errInvalidOggVersion) {
		t.Errorf("expected errInvalidOggVersion, got %v", err)
	}
}
