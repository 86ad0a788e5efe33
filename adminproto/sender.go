package adminproto

import (
	"bufio"
	"fmt"
	"sync"
)

// QueueFullWarningBytes is the outbound-buffer threshold past which
// Sender pauses ordinary sends and emits a single AcknowledgeQueueFull,
// per spec.md §4.8.
const QueueFullWarningBytes = 256 * 1024

// Sender serializes outbound messages behind sending_allowed, and
// implements the queue-full acknowledgement pause: once queued bytes
// cross QueueFullWarningBytes, Send blocks new tags other than the ack
// itself until AcknowledgeFullQueue(true) is called back from the
// reader goroutine that saw the peer's echo.
type Sender struct {
	mu             sync.Mutex
	w              *bufio.Writer
	sendingAllowed *TagSet
	queued         int
	paused         bool
	resume         chan struct{}
}

// NewSender wraps w. allowed is the initial sending_allowed set.
func NewSender(w *bufio.Writer, allowed *TagSet) *Sender {
	if allowed == nil {
		allowed = NewTagSet()
	}
	return &Sender{w: w, sendingAllowed: allowed}
}

// Allow marks tag as sendable.
func (s *Sender) Allow(tag Tag) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendingAllowed.Allow(tag)
}

// Send encodes v under tag and writes a frame, blocking if the sender is
// currently paused for queue-full acknowledgement. TagAcknowledgeQueueFull
// itself is never paused, so the peer's resume signal can always get out.
func (s *Sender) Send(tag Tag, v any) error {
	for {
		s.mu.Lock()
		if !s.sendingAllowed.IsAllowed(tag) {
			s.mu.Unlock()
			return fmt.Errorf("%w: %s", ErrTagNotAllowed, tag.Name())
		}
		if !s.paused || tag == TagAcknowledgeQueueFull {
			break
		}
		resume := s.resume
		s.mu.Unlock()
		<-resume
	}
	defer s.mu.Unlock()

	payload, err := cborMarshal(v)
	if err != nil {
		return fmt.Errorf("adminproto: encoding %s payload: %w", tag.Name(), err)
	}
	if err := WriteFrame(s.w, tag, payload); err != nil {
		return err
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("adminproto: flushing frame: %w", err)
	}

	s.queued += len(payload)
	if !s.paused && s.queued >= QueueFullWarningBytes {
		s.paused = true
		s.resume = make(chan struct{})
		ackPayload, _ := cborMarshal(AcknowledgeQueueFull{})
		_ = WriteFrame(s.w, TagAcknowledgeQueueFull, ackPayload)
		_ = s.w.Flush()
	}
	return nil
}

// AcknowledgeFullQueue is called by the reader side when the peer echoes
// AcknowledgeQueueFull{Success: true}, resuming paused sends.
func (s *Sender) AcknowledgeFullQueue(success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !success || !s.paused {
		return
	}
	s.paused = false
	s.queued = 0
	close(s.resume)
}

// HandleIncomingAcknowledgeQueueFull implements both roles of the §4.8
// handshake for a received AcknowledgeQueueFull frame: the initial notice
// (Success: false) is echoed back true; the echo (Success: true) resumes
// this Sender's paused state.
func HandleIncomingAcknowledgeQueueFull(msg AcknowledgeQueueFull, reply *Sender) error {
	if !msg.Success {
		return reply.Send(TagAcknowledgeQueueFull, AcknowledgeQueueFull{Success: true})
	}
	reply.AcknowledgeFullQueue(true)
	return nil
}
