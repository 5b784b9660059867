// Package link implements the per-peer protocol state machine: outstanding
// sends awaiting acknowledgment, retry with capped exponential backoff,
// inbound deduplication and classification, and automatic ACK/PONG replies.
//
// A Session is driven from a single control loop and is not safe for
// concurrent use; send, sweep and inbound handling interleave strictly in
// loop order, so no locking is needed.
package link

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meshcommons/loralink/internal/message"
	"github.com/meshcommons/loralink/internal/telemetry"
)

// Transmitter puts an encoded frame on the air. The power controller
// satisfies this; transmit failures while inactive surface as radio errors
// and follow the normal retry path.
type Transmitter interface {
	Transmit(frame []byte) error
}

// Config carries the session's timing and bounds.
type Config struct {
	// RetryTimeout is the wait before the first retransmission. Subsequent
	// waits double per attempt, capped at BackoffCeiling.
	RetryTimeout time.Duration

	// MaxRetries bounds total transmissions per message (the first send
	// counts as attempt one). Exhaustion marks the send FAILED.
	MaxRetries int

	// BackoffCeiling caps the exponential backoff.
	BackoffCeiling time.Duration

	// DedupeCapacity sizes the recent-inbound-ID window.
	DedupeCapacity int
}

func (c Config) withDefaults() Config {
	if c.RetryTimeout <= 0 {
		c.RetryTimeout = 5 * time.Second
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.BackoffCeiling <= 0 {
		c.BackoffCeiling = time.Minute
	}
	if c.DedupeCapacity <= 0 {
		c.DedupeCapacity = 32
	}
	return c
}

// PendingSend is the in-memory record of one unacknowledged outbound
// message. Exactly one exists per outstanding id; it is destroyed on ACK
// (or correlated PONG) receipt or on retry exhaustion.
type PendingSend struct {
	Envelope    *message.Envelope
	Frame       []byte // encoded once; retransmissions reuse the same bytes
	SentAt      time.Time
	Attempts    int
	NextRetryAt time.Time
}

// Session is the link protocol core for one node.
type Session struct {
	cfg      Config
	identity string
	counter  *message.Counter
	codec    message.Codec
	tx       Transmitter
	log      *zap.Logger
	now      func() time.Time

	pending map[message.ID]*PendingSend
	dedupe  *DedupeWindow
	stats   counters

	onData    func(*message.Envelope)
	onAcked   func(*message.Envelope)
	onFailure func(*message.Envelope)
}

// NewSession builds a session for the node with the given identity.
func NewSession(cfg Config, counter *message.Counter, tx Transmitter, log *zap.Logger) *Session {
	cfg = cfg.withDefaults()
	return &Session{
		cfg:      cfg,
		identity: counter.Node(),
		counter:  counter,
		tx:       tx,
		log:      log,
		now:      time.Now,
		pending:  make(map[message.ID]*PendingSend),
		dedupe:   NewDedupeWindow(cfg.DedupeCapacity),
	}
}

// OnData registers the application callback for delivered DATA payloads.
// It fires at most once per message id.
func (s *Session) OnData(fn func(*message.Envelope)) { s.onData = fn }

// OnAcked observes outbound messages resolved by ACK or PONG.
func (s *Session) OnAcked(fn func(*message.Envelope)) { s.onAcked = fn }

// OnFailure observes outbound messages abandoned after retry exhaustion.
func (s *Session) OnFailure(fn func(*message.Envelope)) { s.onFailure = fn }

// SetNowFunc replaces the clock source. Tests use it to drive retry timing
// deterministically.
func (s *Session) SetNowFunc(fn func() time.Time) { s.now = fn }

// Send encodes and transmits a message to dst with a fresh id. For
// ack-requiring kinds (DATA, PING) a PendingSend is registered even when
// the transmit itself fails — a failed transmit is indistinguishable from a
// lost frame and takes the same retry path as a missing ACK. ACK and PONG
// are replies and are never retried; their transmit errors are returned.
func (s *Session) Send(dst string, kind message.Kind, content message.Payload) (message.ID, error) {
	if !kind.Valid() {
		return "", fmt.Errorf("%w: %q", message.ErrUnknownKind, string(kind))
	}
	if kind != message.KindData {
		content = nil // content travels on DATA only
	}

	env := &message.Envelope{
		Kind:    kind,
		Src:     s.identity,
		Dst:     dst,
		ID:      s.counter.Next(),
		Content: content,
	}
	frame, err := s.codec.Encode(env)
	if err != nil {
		return "", err
	}

	now := s.now()
	txErr := s.tx.Transmit(frame)
	if txErr == nil {
		telemetry.MessagesSent.WithLabelValues(s.identity, kind.String()).Inc()
		s.stats.sent.Add(1)
	}

	if !kind.WantsAck() {
		if txErr != nil {
			s.log.Warn("reply transmit failed",
				zap.String("kind", kind.String()),
				zap.String("id", string(env.ID)),
				zap.Error(txErr),
			)
			return env.ID, txErr
		}
		return env.ID, nil
	}

	s.pending[env.ID] = &PendingSend{
		Envelope:    env,
		Frame:       frame,
		SentAt:      now,
		Attempts:    1,
		NextRetryAt: now.Add(s.backoff(1)),
	}
	s.publishPending()

	if txErr != nil {
		s.log.Warn("transmit failed, queued for retry",
			zap.String("id", string(env.ID)),
			zap.Error(txErr),
		)
	} else {
		s.log.Debug("sent",
			zap.String("kind", kind.String()),
			zap.String("id", string(env.ID)),
			zap.String("dst", dst),
		)
	}
	return env.ID, nil
}

// Sweep retransmits every pending send whose retry deadline has passed and
// abandons those that exhausted the retry budget. The caller runs it from
// the control loop; pending existence is checked against the live map, so a
// send resolved by an ACK earlier in the same tick is never retransmitted.
func (s *Session) Sweep(now time.Time) {
	for id, p := range s.pending {
		if p.NextRetryAt.After(now) {
			continue
		}

		if p.Attempts >= s.cfg.MaxRetries {
			delete(s.pending, id)
			s.publishPending()
			telemetry.SendFailures.WithLabelValues(s.identity).Inc()
			s.stats.failures.Add(1)
			s.log.Warn("retry budget exhausted",
				zap.String("id", string(id)),
				zap.String("dst", p.Envelope.Dst),
				zap.Int("attempts", p.Attempts),
			)
			if s.onFailure != nil {
				s.onFailure(p.Envelope)
			}
			continue
		}

		// Identical frame, identical id: the receiver's dedupe window
		// recognises the retransmission.
		if err := s.tx.Transmit(p.Frame); err != nil {
			s.log.Warn("retransmit failed",
				zap.String("id", string(id)),
				zap.Error(err),
			)
		}
		p.Attempts++
		p.NextRetryAt = now.Add(s.backoff(p.Attempts))
		telemetry.Retries.WithLabelValues(s.identity).Inc()
		s.stats.retries.Add(1)
		s.log.Debug("retransmitted",
			zap.String("id", string(id)),
			zap.Int("attempt", p.Attempts),
		)
	}
}

// HandleInbound decodes and classifies one raw frame. Frames that fail to
// decode, are addressed elsewhere, or duplicate a recent id are discarded;
// a duplicate DATA still triggers a fresh ACK because the original ACK may
// have been lost. The returned error is informational — the session has
// already disposed of the frame.
func (s *Session) HandleInbound(raw []byte) error {
	env, err := s.codec.Decode(raw)
	if err != nil {
		telemetry.FramesDropped.WithLabelValues(s.identity, "decode_error").Inc()
		s.log.Debug("dropped undecodable frame", zap.Error(err))
		return err
	}

	if env.Dst != s.identity {
		telemetry.FramesDropped.WithLabelValues(s.identity, "wrong_dst").Inc()
		s.log.Debug("dropped frame for another node",
			zap.String("dst", env.Dst),
			zap.String("id", string(env.ID)),
		)
		return nil
	}

	if s.dedupe.Seen(env.ID) {
		telemetry.DuplicatesDropped.WithLabelValues(s.identity).Inc()
		s.stats.duplicates.Add(1)
		if env.Kind == message.KindData {
			// Idempotent re-acknowledgment: our ACK may have been lost.
			s.reply(env.Src, message.KindAck, env.ID)
			s.log.Debug("re-acknowledged duplicate data", zap.String("id", string(env.ID)))
		}
		return nil
	}
	s.dedupe.Add(env.ID)
	telemetry.MessagesReceived.WithLabelValues(s.identity, env.Kind.String()).Inc()
	s.stats.received.Add(1)

	switch env.Kind {
	case message.KindData:
		if s.onData != nil {
			s.onData(env)
		}
		s.reply(env.Src, message.KindAck, env.ID)

	case message.KindPing:
		s.reply(env.Src, message.KindPong, env.ID)

	case message.KindPong:
		if p, ok := s.pending[env.ID]; ok && p.Envelope.Kind == message.KindPing {
			s.resolve(p)
		} else {
			s.log.Debug("uncorrelated pong", zap.String("id", string(env.ID)))
		}

	case message.KindAck:
		if p, ok := s.pending[env.ID]; ok {
			s.resolve(p)
		} else {
			// Late, duplicate, or pre-restart ACK: harmless no-op.
			s.log.Debug("ack without pending send", zap.String("id", string(env.ID)))
		}
	}
	return nil
}

// Reset drops all pending sends and the dedupe window. The node layer calls
// it after a deep-sleep wake: no PendingSend survives sleep.
func (s *Session) Reset() {
	n := len(s.pending)
	s.pending = make(map[message.ID]*PendingSend)
	s.dedupe.Reset()
	s.publishPending()
	if n > 0 {
		s.log.Info("session reset, pending sends discarded", zap.Int("discarded", n))
	}
}

// PendingCount returns the number of outstanding unacknowledged sends.
func (s *Session) PendingCount() int { return len(s.pending) }

// Stats snapshots the session counters. Safe to call from any goroutine.
func (s *Session) Stats() Stats { return s.stats.snapshot() }

// Pending looks up the outstanding send for id.
func (s *Session) Pending(id message.ID) (*PendingSend, bool) {
	p, ok := s.pending[id]
	return p, ok
}

// ── internal ──────────────────────────────────────────────────────────────

// reply sends an ACK or PONG that echoes the id of the message it answers.
// Replies are fire-and-forget: no pending entry, no retry.
func (s *Session) reply(dst string, kind message.Kind, id message.ID) {
	env := &message.Envelope{Kind: kind, Src: s.identity, Dst: dst, ID: id}
	frame, err := s.codec.Encode(env)
	if err != nil {
		s.log.Error("encode reply", zap.Error(err))
		return
	}
	if err := s.tx.Transmit(frame); err != nil {
		s.log.Warn("reply transmit failed",
			zap.String("kind", kind.String()),
			zap.String("id", string(id)),
			zap.Error(err),
		)
		return
	}
	telemetry.MessagesSent.WithLabelValues(s.identity, kind.String()).Inc()
	s.stats.sent.Add(1)
}

func (s *Session) resolve(p *PendingSend) {
	delete(s.pending, p.Envelope.ID)
	s.publishPending()
	telemetry.MessagesAcked.WithLabelValues(s.identity).Inc()
	s.stats.acked.Add(1)
	s.log.Info("acknowledged",
		zap.String("id", string(p.Envelope.ID)),
		zap.Int("attempts", p.Attempts),
		zap.Duration("elapsed", s.now().Sub(p.SentAt)),
	)
	if s.onAcked != nil {
		s.onAcked(p.Envelope)
	}
}

// publishPending pushes the pending-map size to the gauge and the atomic
// snapshot after every mutation.
func (s *Session) publishPending() {
	n := len(s.pending)
	telemetry.PendingSends.WithLabelValues(s.identity).Set(float64(n))
	s.stats.pending.Store(int64(n))
}

// backoff returns the wait after the given attempt number: RetryTimeout
// doubled per attempt, capped at BackoffCeiling.
func (s *Session) backoff(attempt int) time.Duration {
	d := s.cfg.RetryTimeout
	for i := 1; i < attempt && d < s.cfg.BackoffCeiling; i++ {
		d *= 2
	}
	if d > s.cfg.BackoffCeiling {
		d = s.cfg.BackoffCeiling
	}
	return d
}
