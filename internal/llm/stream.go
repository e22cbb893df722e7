package llm

import "context"

// Stream is a pull-based, single-consumer token stream. Next blocks until
// the generation produces a fragment or ends; after Next returns false the
// consumer checks Err. Close abandons the stream and releases the producer.
type Stream interface {
	Next(ctx context.Context) (string, bool)
	Err() error
	Close()
}

// TokenStream bridges a callback-driven generation into a Stream. The
// producer goroutine pushes fragments through emit and signals completion
// through finish; exactly one consumer pulls with Next.
type TokenStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	tokens chan string
	done   chan struct{}
	err    error // written by finish before done closes, read after
}

func newTokenStream(ctx context.Context) *TokenStream {
	ctx, cancel := context.WithCancel(ctx)
	return &TokenStream{
		ctx:    ctx,
		cancel: cancel,
		tokens: make(chan string, 16),
		done:   make(chan struct{}),
	}
}

// emit delivers one fragment to the consumer. It unblocks when the stream
// is abandoned.
func (s *TokenStream) emit(token string) error {
	select {
	case s.tokens <- token:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

// finish records the generation outcome and marks the stream exhausted.
func (s *TokenStream) finish(err error) {
	s.err = err
	close(s.done)
}

// Next returns the next fragment. It returns false when the stream is
// exhausted, failed, or ctx is done; buffered fragments are drained before
// a failure is reported.
func (s *TokenStream) Next(ctx context.Context) (string, bool) {
	select {
	case tok := <-s.tokens:
		return tok, true
	default:
	}
	select {
	case tok := <-s.tokens:
		return tok, true
	case <-s.done:
		select {
		case tok := <-s.tokens:
			return tok, true
		default:
			return "", false
		}
	case <-ctx.Done():
		// Stop the producer, then record why the consumer gave up.
		s.cancel()
		<-s.done
		if s.err == nil {
			s.err = ctx.Err()
		}
		return "", false
	}
}

// Err reports why the stream ended. It is nil after normal exhaustion and
// only meaningful once Next has returned false.
func (s *TokenStream) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Close abandons the stream. It cancels the producer and drains any
// buffered fragments so the producer goroutine always exits.
func (s *TokenStream) Close() {
	s.cancel()
	for {
		select {
		case <-s.tokens:
		case <-s.done:
			return
		}
	}
}
