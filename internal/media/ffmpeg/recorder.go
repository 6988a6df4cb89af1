package ffmpeg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"go.uber.org/zap"

	"socialgarden/internal/ports"
)

var (
	startGrace = 250 * time.Millisecond
	stopGrace  = 1200 * time.Millisecond
	waitDelay  = 500 * time.Millisecond
)

// Recorder runs one ffmpeg process and buffers its muxed output privately.
type Recorder struct {
	command  string
	args     []string
	mimeType string
	stream   *ports.Stream
	logger   *zap.Logger

	out    chunkBuffer
	stderr bytes.Buffer

	mu       sync.Mutex
	process  *os.Process
	stopping bool
	exited   chan struct{}
	waitErr  error

	stopOnce sync.Once
	stopErr  error
}

func (r *Recorder) MIMEType() string { return r.mimeType }

// Start launches ffmpeg. The process outlives ctx; only Stop or the end of
// one of its tracks terminates it.
func (r *Recorder) Start(ctx context.Context) error {
	cmd := exec.Command(r.command, r.args...)
	cmd.Stdout = &r.out
	cmd.Stderr = &r.stderr
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}
	r.mu.Lock()
	r.process = cmd.Process
	r.mu.Unlock()

	go func() {
		err := cmd.Wait()
		r.mu.Lock()
		r.waitErr = err
		interrupted := !r.stopping
		r.mu.Unlock()
		close(r.exited)
		if interrupted {
			// The source went away under us: surface it as ended tracks.
			r.logger.Info("ffmpeg exited on its own", zap.Error(err))
			r.stream.Stop()
		}
	}()

	select {
	case <-r.exited:
		r.mu.Lock()
		err := r.waitErr
		r.mu.Unlock()
		if err != nil {
			return fmt.Errorf("ffmpeg exited before recording started: %w: %s", err, stringsTrimSpaceSafe(r.stderr.String()))
		}
		return errors.New("ffmpeg exited before recording started")
	case <-ctx.Done():
		r.mu.Lock()
		r.stopping = true
		r.mu.Unlock()
		r.terminate(context.Background())
		return ctx.Err()
	case <-time.After(startGrace):
	}

	for _, track := range r.stream.Tracks {
		go r.superviseTrack(track)
	}
	return nil
}

// Stop interrupts ffmpeg so it can finalize the container, then returns
// everything it wrote.
func (r *Recorder) Stop(ctx context.Context) ([][]byte, error) {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.process != nil
		r.stopping = true
		r.mu.Unlock()
		if !started {
			r.stopErr = errors.New("recorder not started")
			return
		}

		r.terminate(ctx)

		r.mu.Lock()
		r.stopErr = normalizeStopErr(r.waitErr)
		r.mu.Unlock()
		if r.stopErr != nil && r.stderr.Len() > 0 {
			r.stopErr = fmt.Errorf("%w: %s", r.stopErr, stringsTrimSpaceSafe(r.stderr.String()))
		}
	})
	return r.out.Chunks(), r.stopErr
}

// superviseTrack ends the recording once a consumed track is released,
// matching how a recorder loses its source.
func (r *Recorder) superviseTrack(track ports.Track) {
	select {
	case <-track.Ended():
	case <-r.exited:
		return
	}
	r.mu.Lock()
	if r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	r.mu.Unlock()
	r.logger.Debug("track released, stopping ffmpeg", zap.String("track", track.ID()))
	r.terminate(context.Background())
}

func (r *Recorder) terminate(ctx context.Context) {
	select {
	case <-r.exited:
		return
	default:
	}

	r.mu.Lock()
	process := r.process
	r.mu.Unlock()
	_ = process.Signal(os.Interrupt)

	select {
	case <-r.exited:
	case <-time.After(stopGrace):
		_ = process.Kill()
		<-r.exited
	case <-ctx.Done():
		_ = process.Kill()
		<-r.exited
	}
}

// chunkBuffer collects ffmpeg output; each write is one chunk.
type chunkBuffer struct {
	mu     sync.Mutex
	chunks [][]byte
}

func (b *chunkBuffer) Write(p []byte) (int, error) {
	chunk := make([]byte, len(p))
	copy(chunk, p)
	b.mu.Lock()
	b.chunks = append(b.chunks, chunk)
	b.mu.Unlock()
	return len(p), nil
}

func (b *chunkBuffer) Chunks() [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([][]byte, len(b.chunks))
	copy(out, b.chunks)
	return out
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}
