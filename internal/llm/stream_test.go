package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

// produce runs a fake generation feeding tokens into the stream.
func produce(s *TokenStream, tokens []string, finalErr error) {
	go func() {
		for _, tok := range tokens {
			if err := s.emit(tok); err != nil {
				s.finish(err)
				return
			}
		}
		s.finish(finalErr)
	}()
}

func TestTokenStream_DeliversInOrder(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTokenStream(context.Background())
	produce(s, []string{"a", "b", "c"}, nil)

	ctx := context.Background()
	var got []string
	for {
		tok, ok := s.Next(ctx)
		if !ok {
			break
		}
		got = append(got, tok)
	}
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Errorf("got %v", got)
	}
	if err := s.Err(); err != nil {
		t.Errorf("Err() = %v, want nil", err)
	}
}

func TestTokenStream_DrainsBufferAfterFinish(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTokenStream(context.Background())
	// Producer finishes before the consumer pulls anything.
	if err := s.emit("tail"); err != nil {
		t.Fatalf("emit: %v", err)
	}
	s.finish(nil)

	tok, ok := s.Next(context.Background())
	if !ok || tok != "tail" {
		t.Fatalf("Next() = %q, %v", tok, ok)
	}
	if _, ok := s.Next(context.Background()); ok {
		t.Error("stream not exhausted after buffer drained")
	}
}

func TestTokenStream_ReportsFailure(t *testing.T) {
	defer goleak.VerifyNone(t)

	boom := errors.New("model unavailable")
	s := newTokenStream(context.Background())
	produce(s, []string{"partial"}, boom)

	ctx := context.Background()
	if tok, ok := s.Next(ctx); !ok || tok != "partial" {
		t.Fatalf("Next() = %q, %v", tok, ok)
	}
	if _, ok := s.Next(ctx); ok {
		t.Fatal("expected exhaustion after failure")
	}
	if !errors.Is(s.Err(), boom) {
		t.Errorf("Err() = %v, want %v", s.Err(), boom)
	}
}

func TestTokenStream_CloseReleasesProducer(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTokenStream(context.Background())
	released := make(chan struct{})
	go func() {
		defer close(released)
		// More tokens than the buffer holds; emit must unblock on Close.
		for i := 0; i < 100; i++ {
			if err := s.emit("x"); err != nil {
				s.finish(err)
				return
			}
		}
		s.finish(nil)
	}()

	if tok, ok := s.Next(context.Background()); !ok || tok != "x" {
		t.Fatalf("Next() = %q, %v", tok, ok)
	}
	s.Close()

	select {
	case <-released:
	case <-time.After(5 * time.Second):
		t.Fatal("producer still blocked after Close")
	}
}

func TestTokenStream_ConsumerContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	s := newTokenStream(context.Background())
	// Producer emits nothing and never finishes on its own; it exits when
	// the stream context is cancelled.
	go func() {
		<-s.ctx.Done()
		s.finish(s.ctx.Err())
	}()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, ok := s.Next(ctx); ok {
		t.Fatal("Next succeeded with cancelled context")
	}
	if !errors.Is(s.Err(), context.Canceled) {
		t.Errorf("Err() = %v, want context.Canceled", s.Err())
	}
}
