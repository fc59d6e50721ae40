package peer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMediaAccessDenied means a capture device exists but cannot be opened
	ErrMediaAccessDenied = errors.New("media access denied")
	// ErrDeviceNotFound means a capture device does not exist
	ErrDeviceNotFound = errors.New("media device not found")
)

const oggPageDuration = 20 * time.Millisecond

// LocalMedia is the participant's camera and microphone
type LocalMedia interface {
	// Open acquires the devices. It fails with ErrMediaAccessDenied or ErrDeviceNotFound.
	Open() error
	AudioTrack() webrtc.TrackLocal
	VideoTrack() webrtc.TrackLocal
	SetAudioEnabled(enabled bool)
	SetVideoEnabled(enabled bool)
	Close() error
}

// ScreenCapture is a second video source swapped in during screen share
type ScreenCapture interface {
	Open() error
	VideoTrack() webrtc.TrackLocal
	Close() error
}

// FileSource plays an IVF (VP8) file as the camera and an OGG (Opus) file as
// the microphone, looping both. Either path may be empty.
type FileSource struct {
	videoPath string
	audioPath string
	streamID  string

	video *webrtc.TrackLocalStaticSample
	audio *webrtc.TrackLocalStaticSample

	videoOn atomic.Bool
	audioOn atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

// NewFileSource creates a camera+microphone source
func NewFileSource(streamID, videoPath, audioPath string) *FileSource {
	s := &FileSource{videoPath: videoPath, audioPath: audioPath, streamID: streamID}
	s.videoOn.Store(true)
	s.audioOn.Store(true)
	return s
}

// NewScreenSource creates a video-only source used for screen share
func NewScreenSource(streamID, videoPath string) *FileSource {
	return NewFileSource(streamID, videoPath, "")
}

// Open checks the files and starts streaming them into the local tracks
func (s *FileSource) Open() error {
	for _, p := range []string{s.videoPath, s.audioPath} {
		if p == "" {
			continue
		}
		if err := checkReadable(p); err != nil {
			return err
		}
	}

	var err error
	if s.videoPath != "" {
		s.video, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", s.streamID)
		if err != nil {
			return fmt.Errorf("create video track: %w", err)
		}
	}
	if s.audioPath != "" {
		s.audio, err = webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", s.streamID)
		if err != nil {
			return fmt.Errorf("create audio track: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.video != nil {
		s.wg.Add(1)
		go s.loop(ctx, "video", s.streamIVF)
	}
	if s.audio != nil {
		s.wg.Add(1)
		go s.loop(ctx, "audio", s.streamOGG)
	}
	return nil
}

func checkReadable(path string) error {
	f, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("%w: %s", ErrMediaAccessDenied, path)
	case err != nil:
		return fmt.Errorf("open %s: %w", path, err)
	}
	return f.Close()
}

// AudioTrack returns nil for a video-only source
func (s *FileSource) AudioTrack() webrtc.TrackLocal {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *FileSource) VideoTrack() webrtc.TrackLocal {
	if s.video == nil {
		return nil
	}
	return s.video
}

// SetAudioEnabled mutes the microphone; muted pages are not sent
func (s *FileSource) SetAudioEnabled(enabled bool) { s.audioOn.Store(enabled) }

// SetVideoEnabled turns the camera off; frames are not sent while off
func (s *FileSource) SetVideoEnabled(enabled bool) { s.videoOn.Store(enabled) }

// Close stops streaming. Safe to call more than once.
func (s *FileSource) Close() error {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.wg.Wait()
	})
	return nil
}

// loop restarts stream at EOF until ctx is done
func (s *FileSource) loop(ctx context.Context, kind string, stream func(context.Context) error) {
	defer s.wg.Done()
	for {
		err := stream(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil && !errors.Is(err, io.EOF) {
			log.Error().Err(err).Str("module", "peer").Str("kind", kind).Msg("media stream stopped")
			return
		}
	}
}

func (s *FileSource) streamIVF(ctx context.Context) error {
	f, err := os.Open(s.videoPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, header, err := ivfreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ivf header: %w", err)
	}
	frameDuration := time.Second / 30
	if header.TimebaseDenominator > 0 {
		frameDuration = time.Duration(float64(time.Second) * float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator))
	}

	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		frame, _, err := reader.ParseNextFrame()
		if err != nil {
			return err
		}
		if !s.videoOn.Load() {
			continue
		}
		if err := s.video.WriteSample(media.Sample{Data: frame, Duration: frameDuration}); err != nil {
			return fmt.Errorf("write video sample: %w", err)
		}
	}
}

func (s *FileSource) streamOGG(ctx context.Context) error {
	f, err := os.Open(s.audioPath)
	if err != nil {
		return err
	}
	defer f.Close()

	reader, _, err := oggreader.NewWith(f)
	if err != nil {
		return fmt.Errorf("read ogg header: %w", err)
	}

	var lastGranule uint64
	ticker := time.NewTicker(oggPageDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		page, header, err := reader.ParseNextPage()
		if err != nil {
			return err
		}
		samples := header.GranulePosition - lastGranule
		lastGranule = header.GranulePosition
		if !s.audioOn.Load() {
			continue
		}
		duration := time.Duration((float64(samples) / 48000) * float64(time.Second))
		if err := s.audio.WriteSample(media.Sample{Data: page, Duration: duration}); err != nil {
			return fmt.Errorf("write audio sample: %w", err)
		}
	}
}
