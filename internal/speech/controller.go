package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lectorlabs/lector/internal/observability"
	"github.com/lectorlabs/lector/internal/reliability"
	"github.com/lectorlabs/lector/internal/segment"
	"github.com/lectorlabs/lector/internal/synth"
)

// DefaultFastStartDelay bounds the wait before an undersized first chunk is
// forced out of the segmenter.
const DefaultFastStartDelay = 350 * time.Millisecond

// ControllerConfig carries per-controller synthesis and segmentation
// settings.
type ControllerConfig struct {
	Voice          string
	Speed          float64
	FastStartDelay time.Duration
	Segmenter      segment.Config

	// OnSynthError receives a user-visible inline marker for each chunk
	// whose synthesis failed for a reason other than cancellation.
	// retryable reflects the transport classification; the pipeline itself
	// never retries. Optional.
	OnSynthError func(messageID uuid.UUID, marker string, retryable bool)
}

func (c ControllerConfig) withDefaults() ControllerConfig {
	if c.FastStartDelay <= 0 {
		c.FastStartDelay = DefaultFastStartDelay
	}
	return c
}

// utterance is one "speak message M" session. Its identity (the struct
// pointer plus the session id) is compared at every asynchronous resumption
// point to discard stale work.
type utterance struct {
	id        uuid.UUID
	messageID uuid.UUID
	seg       *segment.Segmenter

	ctx    context.Context
	cancel context.CancelFunc

	backlog  []string
	seq      int
	finished bool
	wake     chan struct{}
	done     chan struct{}

	fastStart *time.Timer
	startedAt time.Time
	firstOut  bool
}

// Controller speaks at most one assistant message at a time. Chunks from
// the segmenter go through a single worker per session, so synthesis call
// N+1 starts only after call N's audio is queued (or its failure handled).
// That serialization is what keeps playback in chunk order no matter how
// the network interleaves.
type Controller struct {
	cfg     ControllerConfig
	synth   synth.Synthesizer
	queue   *PlaybackQueue
	metrics *observability.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	active *utterance
}

func NewController(cfg ControllerConfig, s synth.Synthesizer, q *PlaybackQueue, m *observability.Metrics, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:     cfg.withDefaults(),
		synth:   s,
		queue:   q,
		metrics: m,
		logger:  logger.With("component", "speech"),
	}
}

// Start retires any live session and opens a new one for messageID, priming
// the segmenter with text already received before speech was enabled.
func (c *Controller) Start(messageID uuid.UUID, knownText string) {
	ctx, cancel := context.WithCancel(context.Background())
	u := &utterance{
		id:        uuid.New(),
		messageID: messageID,
		seg:       segment.New(c.cfg.Segmenter),
		ctx:       ctx,
		cancel:    cancel,
		wake:      make(chan struct{}, 1),
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	c.mu.Lock()
	prev := c.active
	c.active = u
	if knownText != "" {
		u.backlog = append(u.backlog, u.seg.Feed(knownText)...)
	}
	u.fastStart = time.AfterFunc(c.cfg.FastStartDelay, func() {
		c.fastStartFire(u)
	})
	c.mu.Unlock()

	c.retire(prev)
	if c.metrics != nil {
		c.metrics.ActiveUtterances.Set(1)
		c.metrics.PipelineEvents.WithLabelValues("session_start").Inc()
	}
	c.logger.Debug("utterance session started", "session_id", u.id, "message_id", messageID)

	go c.run(u)
}

// Feed routes a streaming delta to the live session for messageID. Deltas
// for any other message, or after Finish, are dropped.
func (c *Controller) Feed(messageID uuid.UUID, delta string) {
	c.mu.Lock()
	u := c.active
	if u == nil || u.messageID != messageID || u.finished {
		c.mu.Unlock()
		return
	}
	chunks := u.seg.Feed(delta)
	u.backlog = append(u.backlog, chunks...)
	c.mu.Unlock()
	if len(chunks) > 0 {
		signal(u.wake)
	}
}

// Finish marks the upstream text stream complete and flushes every trailing
// chunk. The session retires itself once the backlog drains.
func (c *Controller) Finish(messageID uuid.UUID) {
	c.mu.Lock()
	u := c.active
	if u == nil || u.messageID != messageID || u.finished {
		c.mu.Unlock()
		return
	}
	u.finished = true
	u.fastStart.Stop()
	u.backlog = append(u.backlog, u.seg.FlushAll()...)
	c.mu.Unlock()
	signal(u.wake)
}

// Stop cancels the live session, drops its pending work, and stops playback.
// Playback is stopped even when no session is live, since queued audio can
// outlast its session.
func (c *Controller) Stop() {
	c.mu.Lock()
	u := c.active
	c.active = nil
	c.mu.Unlock()
	if u == nil {
		c.queue.Stop()
		return
	}
	c.retire(u)
}

// Speaking reports whether a session is live for messageID.
func (c *Controller) Speaking(messageID uuid.UUID) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil && c.active.messageID == messageID
}

// Active returns the message id of the live session, if any.
func (c *Controller) Active() (uuid.UUID, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return uuid.Nil, false
	}
	return c.active.messageID, true
}

// Wait blocks until the current session for messageID has drained or been
// superseded. Test helper and graceful-shutdown aid.
func (c *Controller) Wait(messageID uuid.UUID) {
	c.mu.Lock()
	u := c.active
	c.mu.Unlock()
	if u == nil || u.messageID != messageID {
		return
	}
	<-u.done
}

func (c *Controller) retire(u *utterance) {
	if u == nil {
		return
	}
	u.cancel()
	u.fastStart.Stop()
	c.queue.Stop()
	if c.metrics != nil {
		c.metrics.ActiveUtterances.Set(0)
		c.metrics.PipelineEvents.WithLabelValues("session_retired").Inc()
	}
}

func (c *Controller) fastStartFire(u *utterance) {
	c.mu.Lock()
	if c.active != u || u.finished {
		c.mu.Unlock()
		return
	}
	chunks := u.seg.FlushForFastStart()
	u.backlog = append(u.backlog, chunks...)
	c.mu.Unlock()
	if len(chunks) > 0 {
		if c.metrics != nil {
			c.metrics.PipelineEvents.WithLabelValues("fast_start").Inc()
		}
		signal(u.wake)
	}
}

// run is the per-session worker. One goroutine per session, consuming the
// backlog FIFO; it exits when the session is superseded, stopped, or drained
// after Finish.
func (c *Controller) run(u *utterance) {
	defer close(u.done)
	for {
		c.mu.Lock()
		if c.active != u {
			c.mu.Unlock()
			return
		}
		if len(u.backlog) == 0 {
			if u.finished {
				c.active = nil
				c.mu.Unlock()
				u.cancel()
				if c.metrics != nil {
					c.metrics.ActiveUtterances.Set(0)
					c.metrics.PipelineEvents.WithLabelValues("session_drained").Inc()
				}
				return
			}
			c.mu.Unlock()
			select {
			case <-u.wake:
				continue
			case <-u.ctx.Done():
				return
			}
		}
		text := u.backlog[0]
		u.backlog = u.backlog[1:]
		c.mu.Unlock()

		c.speakChunk(u, text)
	}
}

func (c *Controller) speakChunk(u *utterance, text string) {
	// Pre-call staleness check.
	if u.ctx.Err() != nil {
		return
	}
	spoken := segment.Speakable(text)
	if spoken == "" {
		return
	}

	res, err := c.synth.Synthesize(u.ctx, synth.Request{Text: spoken, Voice: c.cfg.Voice, Speed: c.cfg.Speed})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		c.logger.Warn("chunk synthesis failed", "session_id", u.id, "message_id", u.messageID, "error", err)
		if c.metrics != nil {
			c.metrics.SynthErrors.WithLabelValues(errorCode(err)).Inc()
		}
		if c.cfg.OnSynthError != nil {
			c.cfg.OnSynthError(u.messageID, fmt.Sprintf("\n\n*[TTS error: %v]*", err), isRetryable(err))
		}
		return
	}

	// Post-resolve staleness check and enqueue under one lock: a Start or
	// Stop retiring this session cannot slip in between, so the retire's
	// queue.Stop always observes the handle. seq is assigned here, after
	// unspeakable chunks have been skipped, keeping sequence numbers
	// contiguous on the wire.
	c.mu.Lock()
	if c.active != u || u.ctx.Err() != nil {
		c.mu.Unlock()
		return
	}
	seq := u.seq
	u.seq++
	first := !u.firstOut
	u.firstOut = true
	c.queue.Enqueue(NewAudioHandle(u.messageID, seq, res.Audio, res.Format, nil))
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.PipelineEvents.WithLabelValues("chunk_queued").Inc()
		if first {
			c.metrics.ObserveFirstAudioLatency(time.Since(u.startedAt))
		}
	}
}

func errorCode(err error) string {
	var httpErr *synth.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("http_%d", httpErr.Status)
	}
	return "transport"
}

func isRetryable(err error) bool {
	var httpErr *synth.HTTPError
	if errors.As(err, &httpErr) {
		return reliability.IsRetryableHTTPStatus(httpErr.Status)
	}
	return false
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
