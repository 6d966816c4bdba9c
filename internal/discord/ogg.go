package discord

import (
	"encoding/binary"
	"errors"
	"io"
)

var (
	errInvalidOggMagic   = errors.New("ogg: invalid capture pattern")
	errInvalidOggVersion = errors.New("ogg: unsupported version")
)

// oggPageHeader represents the header of an Ogg page.
type oggPageHeader struct {
	HeaderType   byte
	GranulePos   int64
	SerialNumber uint32
	SequenceNum  uint32
	NumSegments  uint8
	SegmentTable []uint8
}

// parseOggPageHeader reads and parses an Ogg page header from the reader.
func parseOggPageHeader(r io.Reader) (*oggPageHeader, error) {
	// Fixed header is 27 bytes
	var buf [27]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return nil, err
	}

	if string(buf[0:4]) != "OggS" {
		return nil, errInvalidOggMagic
	}
	if buf[4] != 0 {
		return nil, errInvalidOggVersion
	}

	hdr := &oggPageHeader{
		HeaderType:   buf[5],
		GranulePos:   int64(binary.LittleEndian.Uint64(buf[6:14])),
		SerialNumber: binary.LittleEndian.Uint32(buf[14:18]),
		SequenceNum:  binary.LittleEndian.Uint32(buf[18:22]),
		NumSegments:  buf[26],
	}

	if hdr.NumSegments > 0 {
		hdr.SegmentTable = make([]uint8, hdr.NumSegments)
		if _, err := io.ReadFull(r, hdr.SegmentTable); err != nil {
			return nil, err
		}
	}

	return hdr, nil
}

// oggOpusSource extracts Opus packets from an Ogg container. The packets are
// forwarded as-is; no decoding happens on this path.
type oggOpusSource struct {
	r       io.Reader
	packets [][]byte
	// partial accumulates a packet continued across pages (255-byte lacing).
	partial []byte
}

func newOggOpusSource(r io.Reader) *oggOpusSource {
	return &oggOpusSource{r: r}
}

func isOpusHeaderPacket(p []byte) bool {
	return len(p) >= 8 && (string(p[:8]) == "OpusHead" || string(p[:8]) == "OpusTags")
}

// NextFrame returns the next Opus packet, or io.EOF at end of stream.
func (s *oggOpusSource) NextFrame() ([]byte, error) {
	for len(s.packets) == 0 {
		if err := s.readPage(); err != nil {
			return nil, err
		}
	}
	p := s.packets[0]
	s.packets = s.packets[1:]
	return p, nil
}

// readPage consumes one Ogg page and appends its completed packets. Lacing
// values below 255 terminate a packet; a final 255 continues on the next page.
func (s *oggOpusSource) readPage() error {
	hdr, err := parseOggPageHeader(s.r)
	if err != nil {
		return err
	}

	for _, lacing := range hdr.SegmentTable {
		segment := make([]byte, lacing)
		if _, err := io.ReadFull(s.r, segment); err != nil {
			return err
		}
		s.partial = append(s.partial, segment...)

		if lacing < 255 {
			if !isOpusHeaderPacket(s.partial) && len(s.partial) > 0 {
				s.packets = append(s.packets, s.partial)
			}
			s.partial = nil
		}
	}
	return nil
}
