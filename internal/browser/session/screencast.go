// internal/browser/session/screencast.go
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// ErrEncoderUnavailable is returned when the video encoder binary cannot be found.
var ErrEncoderUnavailable = errors.New("video encoder not available")

// screencastFPS is the nominal frame rate handed to the encoder.
const screencastFPS = 5

// Screencast records a tab through CDP screencast frames and encodes them into
// a WebM file with ffmpeg when the recording is finalized.
type Screencast struct {
	logger     *zap.Logger
	tabCtx     context.Context
	frameDir   string
	ffmpegPath string

	listenerCtx    context.Context
	cancelListener context.CancelFunc

	mu      sync.Mutex
	frames  int
	stopped bool
	acks    sync.WaitGroup
}

// NewScreencast prepares a recorder writing frames under scratchDir.
func NewScreencast(tabCtx context.Context, logger *zap.Logger, scratchDir, ffmpegPath string) *Screencast {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	return &Screencast{
		logger:     logger.Named("screencast"),
		tabCtx:     tabCtx,
		frameDir:   filepath.Join(scratchDir, ".frames"),
		ffmpegPath: ffmpegPath,
	}
}

// Start begins streaming frames.
func (s *Screencast) Start(ctx context.Context) error {
	if err := os.MkdirAll(s.frameDir, 0o755); err != nil {
		return fmt.Errorf("failed to create frame directory: %w", err)
	}

	s.listenerCtx, s.cancelListener = context.WithCancel(s.tabCtx)
	chromedp.ListenTarget(s.listenerCtx, func(ev interface{}) {
		frame, ok := ev.(*page.EventScreencastFrame)
		if !ok {
			return
		}
		s.storeFrame(frame)
	})

	runCtx, cancel := CombineContext(s.tabCtx, ctx)
	defer cancel()
	err := chromedp.Run(runCtx, page.StartScreencast().
		WithFormat(page.ScreencastFormatJpeg).
		WithQuality(60).
		WithEveryNthFrame(1))
	if err != nil {
		s.cancelListener()
		return fmt.Errorf("failed to start screencast: %w", err)
	}
	return nil
}

func (s *Screencast) storeFrame(frame *page.EventScreencastFrame) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.frames++
	index := s.frames
	s.acks.Add(1)
	s.mu.Unlock()

	// Frames must be acknowledged or Chrome stops sending them. CDP calls cannot
	// be made from inside the listener, so the ack runs on its own goroutine.
	go func() {
		defer s.acks.Done()
		data, err := base64.StdEncoding.DecodeString(frame.Data)
		if err == nil {
			name := filepath.Join(s.frameDir, fmt.Sprintf("frame_%06d.jpg", index))
			if werr := os.WriteFile(name, data, 0o644); werr != nil {
				s.logger.Debug("Failed to write screencast frame.", zap.Error(werr))
			}
		}
		if err := chromedp.Run(s.listenerCtx, page.ScreencastFrameAck(frame.SessionID)); err != nil {
			s.logger.Debug("Screencast frame ack failed.", zap.Error(err))
		}
	}()
}

// stop ends the stream and waits for pending frames. It reports the number of
// frames captured and false when the screencast had already been stopped.
func (s *Screencast) stop(ctx context.Context) (int, bool) {
	s.mu.Lock()
	alreadyStopped := s.stopped
	s.stopped = true
	frames := s.frames
	s.mu.Unlock()
	if alreadyStopped {
		return 0, false
	}

	stopCtx, cancel := CombineContext(Detach(s.tabCtx), ctx)
	if err := chromedp.Run(stopCtx, page.StopScreencast()); err != nil {
		s.logger.Debug("Failed to stop screencast cleanly.", zap.Error(err))
	}
	cancel()
	if s.cancelListener != nil {
		s.cancelListener()
	}
	s.acks.Wait()
	return frames, true
}

// Discard stops the stream and drops the captured frames.
func (s *Screencast) Discard(ctx context.Context) {
	if _, ok := s.stop(ctx); ok {
		os.RemoveAll(s.frameDir)
	}
}

// Finalize stops the stream and encodes the collected frames into path. It
// reports false when there was nothing to encode.
func (s *Screencast) Finalize(ctx context.Context, path string) (bool, error) {
	frames, ok := s.stop(ctx)
	if !ok {
		return false, nil
	}
	defer os.RemoveAll(s.frameDir)

	if frames == 0 {
		return false, nil
	}

	bin, err := exec.LookPath(s.ffmpegPath)
	if err != nil {
		return false, fmt.Errorf("%w: %s", ErrEncoderUnavailable, s.ffmpegPath)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create video directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, bin,
		"-y", "-loglevel", "error",
		"-framerate", fmt.Sprint(screencastFPS),
		"-i", filepath.Join(s.frameDir, "frame_%06d.jpg"),
		"-c:v", "libvpx-vp9", "-b:v", "0", "-crf", "40",
		"-pix_fmt", "yuv420p",
		path,
	)
	if out, err := cmd.CombinedOutput(); err != nil {
		return false, fmt.Errorf("ffmpeg failed: %w: %s", err, string(out))
	}
	return true, nil
}
