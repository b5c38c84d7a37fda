package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNextTickAligned(t *testing.T) {
	s := New(Options{Interval: time.Hour, AlignToBucket: true}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	onBoundary := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)
	if got := s.nextTick(onBoundary); !got.Equal(onBoundary.Add(time.Hour)) {
		t.Fatalf("tick on a boundary should wait a full interval, got %s", got)
	}
	if got := s.bucketStart(now); !got.Equal(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected bucket start %s", got)
	}
}

func TestNextTickUnaligned(t *testing.T) {
	s := New(Options{Interval: 15 * time.Minute}, zerolog.Nop())
	now := time.Date(2024, 1, 1, 10, 7, 0, 0, time.UTC)
	if got := s.nextTick(now); !got.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected next tick %s", got)
	}
	if got := s.bucketStart(now); !got.Equal(now) {
		t.Fatalf("unaligned bucket should be the tick time, got %s", got)
	}
}

func TestRunOnStartTicksImmediately(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	now := time.Date(2024, 1, 1, 10, 15, 0, 0, time.UTC)
	s := New(Options{
		Interval:      time.Hour,
		AlignToBucket: true,
		RunOnStart:    true,
		Now:           func() time.Time { return now },
	}, zerolog.Nop())

	var buckets []time.Time
	err := s.Run(ctx, func(ctx context.Context, bucket time.Time) error {
		buckets = append(buckets, bucket)
		cancel()
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected cancellation, got %v", err)
	}
	if len(buckets) != 1 || !buckets[0].Equal(now.Truncate(time.Hour)) {
		t.Fatalf("unexpected ticks %v", buckets)
	}
}

func TestNewRejectsZeroInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("zero interval should panic")
		}
	}()
	New(Options{}, zerolog.Nop())
}
