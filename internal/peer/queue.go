package peer

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// MaxQueuedCandidates bounds the candidates held for a counterpart whose
// remote description is not applied yet
const MaxQueuedCandidates = 64

// candidateQueue holds early ICE candidates in arrival order. When full the
// oldest entry is dropped.
type candidateQueue struct {
	items   []webrtc.ICECandidateInit
	max     int
	dropped int
}

func newCandidateQueue(max int) *candidateQueue {
	return &candidateQueue{max: max}
}

func (q *candidateQueue) push(c webrtc.ICECandidateInit) {
	if len(q.items) >= q.max {
		q.items = q.items[1:]
		q.dropped++
		log.Warn().Str("module", "peer").Int("limit", q.max).Int("dropped", q.dropped).Msg("candidate queue full, oldest dropped")
	}
	q.items = append(q.items, c)
}

// drain returns the queued candidates and empties the queue
func (q *candidateQueue) drain() []webrtc.ICECandidateInit {
	out := q.items
	q.items = nil
	return out
}

func (q *candidateQueue) size() int {
	return len(q.items)
}
