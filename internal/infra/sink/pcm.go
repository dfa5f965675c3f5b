package sink

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
)

const (
	bytesPerFrame = 4 // s16le, two channels
	chunkFrames   = 4096
	chunkBacklog  = 32
)

// pcmStreamer plays interleaved s16le stereo read from r. A reader
// goroutine decodes ahead so the speaker never blocks on the network;
// underruns are padded with silence.
type pcmStreamer struct {
	r      io.ReadCloser
	chunks chan [][2]float64
	quit   chan struct{}
	once   sync.Once

	// err is written before chunks is closed.
	err error

	// Owned by the speaker goroutine.
	cur     [][2]float64
	drained bool
}

var _ beep.Streamer = (*pcmStreamer)(nil)

func newPCMStreamer(r io.ReadCloser) *pcmStreamer {
	p := &pcmStreamer{
		r:      r,
		chunks: make(chan [][2]float64, chunkBacklog),
		quit:   make(chan struct{}),
	}
	go p.readLoop()
	return p
}

func (p *pcmStreamer) readLoop() {
	defer close(p.chunks)

	buf := make([]byte, chunkFrames*bytesPerFrame)
	for {
		n, err := io.ReadFull(p.r, buf)
		if frames := n / bytesPerFrame; frames > 0 {
			chunk := make([][2]float64, frames)
			decodeS16LE(chunk, buf[:frames*bytesPerFrame])
			select {
			case p.chunks <- chunk:
			case <-p.quit:
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
				select {
				case <-p.quit:
				default:
					p.err = err
				}
			}
			return
		}
	}
}

func decodeS16LE(dst [][2]float64, src []byte) {
	for i := range dst {
		off := i * bytesPerFrame
		l := int16(binary.LittleEndian.Uint16(src[off:]))
		r := int16(binary.LittleEndian.Uint16(src[off+2:]))
		dst[i][0] = float64(l) / 32768
		dst[i][1] = float64(r) / 32768
	}
}

// Stream implements beep.Streamer.
func (p *pcmStreamer) Stream(samples [][2]float64) (int, bool) {
	if p.drained {
		return 0, false
	}

	filled := 0
	for filled < len(samples) {
		if len(p.cur) == 0 {
			select {
			case c, ok := <-p.chunks:
				if !ok {
					p.drained = true
					if filled == 0 {
						return 0, false
					}
					return filled, true
				}
				p.cur = c
			default:
				clear(samples[filled:])
				return len(samples), true
			}
		}
		n := copy(samples[filled:], p.cur)
		p.cur = p.cur[n:]
		filled += n
	}
	return filled, true
}

// Err implements beep.Streamer. It is only meaningful once drained.
func (p *pcmStreamer) Err() error {
	if !p.drained {
		return nil
	}
	return p.err
}

// Close stops the reader and releases the source.
func (p *pcmStreamer) Close() error {
	var err error
	p.once.Do(func() {
		close(p.quit)
		err = p.r.Close()
	})
	return err
}
