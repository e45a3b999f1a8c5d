package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// sliceSource serves records in order and cancels the run once drained.
type sliceSource struct {
	records   []kafka.Message
	committed []int64
	cancel    context.CancelFunc
}

func (s *sliceSource) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if len(s.records) == 0 {
		s.cancel()
		return kafka.Message{}, ctx.Err()
	}
	r := s.records[0]
	s.records = s.records[1:]
	return r, nil
}

func (s *sliceSource) CommitMessage(ctx context.Context, msg kafka.Message) error {
	s.committed = append(s.committed, msg.Offset)
	return nil
}

func record(t *testing.T, offset int64, msg Message) kafka.Message {
	t.Helper()
	value, err := json.Marshal(msg)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Offset: offset, Value: value}
}

func TestRelayDeliversAndCommits(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backend := &flakyNotifier{failures: 1}
	src := &sliceSource{cancel: cancel, records: []kafka.Message{
		record(t, 1, Message{ID: "m1", Channel: ChannelSMS, Recipient: "+15550001", Kind: KindOTP}),
		{Offset: 2, Value: []byte("not json")},
		record(t, 3, Message{ID: "m3", Channel: ChannelEmail, Recipient: "a@x.com", Kind: KindWelcome}),
	}}

	if err := NewRelay(src, backend, testConfig(), zap.NewNop()).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if backend.delivered() != 2 {
		t.Fatalf("expected 2 deliveries, got %d", backend.delivered())
	}
	if fmt.Sprint(src.committed) != "[1 2 3]" {
		t.Fatalf("committed offsets = %v", src.committed)
	}
}

func TestRelayStopsRetryingPermanentFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	backend := NotifierFunc(func(ctx context.Context, msg Message) error {
		calls++
		return fmt.Errorf("invalid recipient: %w", ErrPermanent)
	})
	src := &sliceSource{cancel: cancel, records: []kafka.Message{
		record(t, 7, Message{ID: "m7", Channel: ChannelSMS, Recipient: "bogus", Kind: KindOTP}),
	}}

	if err := NewRelay(src, backend, testConfig(), zap.NewNop()).Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
	if len(src.committed) != 1 {
		t.Fatalf("expected the record to be committed, got %v", src.committed)
	}
}

func TestRelayReturnsSourceErrors(t *testing.T) {
	src := failingSource{err: errors.New("broker down")}
	err := NewRelay(src, &flakyNotifier{}, testConfig(), zap.NewNop()).Run(context.Background())
	if err == nil || !errors.Is(err, src.err) {
		t.Fatalf("expected source error, got %v", err)
	}
}

type failingSource struct{ err error }

func (f failingSource) FetchMessage(context.Context) (kafka.Message, error) {
	return kafka.Message{}, f.err
}

func (f failingSource) CommitMessage(context.Context, kafka.Message) error { return nil }
