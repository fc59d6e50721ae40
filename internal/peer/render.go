package peer

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"
	"github.com/rs/zerolog/log"
)

// rtpWriter is satisfied by ivfwriter and oggwriter
type rtpWriter interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// FileRecorder renders remote tracks to disk: VP8 video as IVF, Opus audio as OGG.
// One file per remote track, named <prefix>_<kind>_<n>.
type FileRecorder struct {
	dir    string
	prefix string

	mu      sync.Mutex
	n       int
	writers []io.Closer
	wg      sync.WaitGroup
}

// NewFileRecorder writes into dir
func NewFileRecorder(dir, prefix string) *FileRecorder {
	return &FileRecorder{dir: dir, prefix: prefix}
}

// HandleTrack starts copying track into a new file
func (r *FileRecorder) HandleTrack(track *webrtc.TrackRemote) {
	mime := strings.ToLower(track.Codec().MimeType)

	r.mu.Lock()
	r.n++
	n := r.n
	r.mu.Unlock()

	var (
		w    rtpWriter
		path string
		err  error
	)
	switch mime {
	case strings.ToLower(webrtc.MimeTypeVP8):
		path = filepath.Join(r.dir, fmt.Sprintf("%s_video_%d.ivf", r.prefix, n))
		w, err = ivfwriter.New(path)
	case strings.ToLower(webrtc.MimeTypeOpus):
		path = filepath.Join(r.dir, fmt.Sprintf("%s_audio_%d.ogg", r.prefix, n))
		w, err = oggwriter.New(path, 48000, 2)
	default:
		log.Warn().Str("module", "peer").Str("codec", mime).Msg("no renderer for codec, draining")
		go drainTrack(track)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("module", "peer").Str("path", path).Msg("open recording failed")
		go drainTrack(track)
		return
	}

	r.mu.Lock()
	r.writers = append(r.writers, w)
	r.mu.Unlock()

	log.Info().Str("module", "peer").Str("codec", mime).Str("path", path).Msg("recording remote track")
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			pkt, _, err := track.ReadRTP()
			if err != nil {
				if !errors.Is(err, io.EOF) {
					log.Debug().Err(err).Str("module", "peer").Str("path", path).Msg("remote track ended")
				}
				return
			}
			if err := w.WriteRTP(pkt); err != nil {
				log.Warn().Err(err).Str("module", "peer").Str("path", path).Msg("write rtp failed")
				return
			}
		}
	}()
}

// Close finalizes every file once the copy loops have stopped
func (r *FileRecorder) Close() error {
	r.wg.Wait()
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, w := range r.writers {
		errs = append(errs, w.Close())
	}
	r.writers = nil
	return errors.Join(errs...)
}

func drainTrack(track *webrtc.TrackRemote) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := track.Read(buf); err != nil {
			return
		}
	}
}
