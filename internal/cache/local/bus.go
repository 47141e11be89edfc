package local

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/salvagebid/internal/domain"
)

type subscriber struct {
	pattern string
	ch      chan []byte
}

type streamEntry struct {
	ms  int64
	seq int64
	msg domain.StreamMessage
}

// SignalBus is an in-process pub/sub and stream implementation. Like Redis
// pub/sub, a slow subscriber loses messages rather than blocking publishers.
type SignalBus struct {
	mu sync.Mutex
	subs      map[*subscriber]struct{}
	streams   map[string][]streamEntry
	published map[string][][]byte
	maxLen    int
	now       func() time.Time
}

// NewSignalBus returns a bus whose streams keep at most maxLen entries.
func NewSignalBus(maxLen int) *SignalBus {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &SignalBus{
		subs:      make(map[*subscriber]struct{}),
		streams:   make(map[string][]streamEntry),
		published: make(map[string][][]byte),
		maxLen:    maxLen,
		now:       time.Now,
	}
}

// Publish delivers payload to every matching subscriber.
func (b *SignalBus) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	b.published[channel] = append(b.published[channel], payload)
	for s := range b.subs {
		if ok, _ := path.Match(s.pattern, channel); !ok && s.pattern != channel {
			continue
		}
		select {
		case s.ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe registers a channel or glob pattern. The returned channel closes
// when ctx ends.
func (b *SignalBus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	s := &subscriber{pattern: channel, ch: make(chan []byte, 128)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, s)
		close(s.ch)
		b.mu.Unlock()
	}()
	return s.ch, nil
}

// StreamAppend appends payload with an id of the form "<unix-ms>-<seq>".
func (b *SignalBus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	entries := b.streams[stream]
	ms := b.now().UnixMilli()
	var seq int64
	if n := len(entries); n > 0 {
		last := entries[n-1]
		if ms <= last.ms {
			ms, seq = last.ms, last.seq+1
		}
	}
	id := fmt.Sprintf("%d-%d", ms, seq)
	entries = append(entries, streamEntry{ms: ms, seq: seq, msg: domain.StreamMessage{ID: id, Payload: payload}})
	if len(entries) > b.maxLen {
		entries = entries[len(entries)-b.maxLen:]
	}
	b.streams[stream] = entries
	return nil
}

// StreamRead returns up to count entries with ids greater than lastID.
func (b *SignalBus) StreamRead(ctx context.Context, stream string, lastID string, count int) ([]domain.StreamMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ms, seq, err := parseStreamID(lastID)
	if err != nil {
		return nil, fmt.Errorf("local: stream read %s: %w", stream, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var out []domain.StreamMessage
	for _, e := range b.streams[stream] {
		if e.ms < ms || (e.ms == ms && e.seq <= seq) {
			continue
		}
		out = append(out, e.msg)
		if count > 0 && len(out) == count {
			break
		}
	}
	return out, nil
}

// Published returns a copy of the payloads published to channel.
func (b *SignalBus) Published(channel string) [][]byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][]byte(nil), b.published[channel]...)
}

func parseStreamID(id string) (int64, int64, error) {
	if id == "" || id == "0" || id == "0-0" {
		return 0, -1, nil
	}
	msPart, seqPart, found := strings.Cut(id, "-")
	ms, err := strconv.ParseInt(msPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid stream id %q", id)
	}
	if !found {
		return ms, -1, nil
	}
	seq, err := strconv.ParseInt(seqPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid stream id %q", id)
	}
	return ms, seq, nil
}

var _ domain.SignalBus = (*SignalBus)(nil)
