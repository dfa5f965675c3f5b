package sink

import (
	"bytes"
	"context"
	"io"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/gopxl/beep/v2"
	zlog "github.com/rs/zerolog/log"
)

// Decoder turns a stream URL into raw s16le stereo PCM at rate.
type Decoder interface {
	Decode(ctx context.Context, streamURL string, rate beep.SampleRate) (io.ReadCloser, error)
}

// FFmpeg decodes with an ffmpeg child process.
type FFmpeg struct {
	Path string
}

// Args returns the ffmpeg command line for streamURL.
func (f FFmpeg) Args(streamURL string, rate beep.SampleRate) []string {
	return []string{
		"-hide_banner", "-loglevel", "error",
		"-reconnect", "1", "-reconnect_streamed", "1", "-reconnect_delay_max", "5",
		"-i", streamURL,
		"-vn",
		"-f", "s16le", "-acodec", "pcm_s16le",
		"-ac", "2", "-ar", strconv.Itoa(int(rate)),
		"pipe:1",
	}
}

// Decode starts ffmpeg. Closing the reader kills the process.
func (f FFmpeg) Decode(ctx context.Context, streamURL string, rate beep.SampleRate) (io.ReadCloser, error) {
	path := f.Path
	if path == "" {
		path = "ffmpeg"
	}

	cmd := exec.CommandContext(ctx, path, f.Args(streamURL, rate)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "ffmpeg stdout")
	}
	p := &process{cmd: cmd, stdout: stdout}
	cmd.Stderr = &p.stderr

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "failed to start ffmpeg")
	}
	zlog.Debug().Msgf("sink: ffmpeg started: pid=%d", cmd.Process.Pid)
	return p, nil
}

type process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr bytes.Buffer

	waitOnce sync.Once
	waitErr  error
}

// Read reports a non-zero ffmpeg exit in place of EOF.
func (p *process) Read(b []byte) (int, error) {
	n, err := p.stdout.Read(b)
	if errors.Is(err, io.EOF) {
		if werr := p.wait(); werr != nil {
			return n, werr
		}
	}
	return n, err
}

func (p *process) wait() error {
	p.waitOnce.Do(func() {
		if err := p.cmd.Wait(); err != nil {
			msg := strings.TrimSpace(p.stderr.String())
			if msg == "" {
				p.waitErr = errors.Wrap(err, "ffmpeg")
			} else {
				p.waitErr = errors.Wrapf(err, "ffmpeg: %s", msg)
			}
		}
	})
	return p.waitErr
}

// Close kills ffmpeg and reaps it.
func (p *process) Close() error {
	if p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
	}
	_ = p.wait()
	return nil
}
