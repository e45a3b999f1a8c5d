package audit

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"marketplace-auth/internal/models"

	"github.com/elastic/go-elasticsearch/v8/esapi"
	"go.uber.org/zap"
)

type memorySink struct {
	name   string
	err    error
	mu     sync.Mutex
	events []models.SecurityEvent
}

func (s *memorySink) Name() string { return s.name }

func (s *memorySink) Write(ctx context.Context, e models.SecurityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func TestAuditorFansOutToAllSinks(t *testing.T) {
	a := &memorySink{name: "a"}
	b := &memorySink{name: "b", err: errors.New("down")}
	auditor := NewAuditor(8, zap.NewNop(), a, b)

	auditor.Record(models.SecurityEvent{Type: models.EventLoginSuccess, UserID: "u1", Success: true})
	auditor.Record(models.SecurityEvent{Type: models.EventLogout, UserID: "u1", Success: true})
	if err := auditor.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}

	if len(a.events) != 2 || len(b.events) != 2 {
		t.Fatalf("expected both sinks to see 2 events, got %d and %d", len(a.events), len(b.events))
	}
	if a.events[0].ID == "" || a.events[0].Timestamp.IsZero() {
		t.Fatal("expected id and timestamp to be stamped")
	}
}

func TestAuditorRecordAfterClose(t *testing.T) {
	s := &memorySink{name: "s"}
	auditor := NewAuditor(1, zap.NewNop(), s)
	_ = auditor.Close(context.Background())

	auditor.Record(models.SecurityEvent{Type: models.EventRegister})
	if len(s.events) != 0 {
		t.Fatal("expected events after close to be ignored")
	}
}

type execRecorder struct {
	query string
	args  []interface{}
}

func (e *execRecorder) Exec(ctx context.Context, query string, args ...interface{}) error {
	e.query, e.args = query, args
	return nil
}

func TestClickHouseSink(t *testing.T) {
	rec := &execRecorder{}
	sink := NewClickHouseSink(rec, "auth_events")

	err := sink.Write(context.Background(), models.SecurityEvent{ID: "e1", Type: models.EventLoginFailure, Email: "a@x.com", Reason: "invalid_credentials"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.Contains(rec.query, "INSERT INTO auth_events") {
		t.Fatalf("unexpected query %s", rec.query)
	}
	if len(rec.args) != 9 || rec.args[1] != "login_failure" {
		t.Fatalf("unexpected args %v", rec.args)
	}
}

type indexerStub struct {
	status int
	index  string
	id     string
}

func (s *indexerStub) IndexDocument(ctx context.Context, index, id string, doc interface{}) (*esapi.Response, error) {
	s.index, s.id = index, id
	return &esapi.Response{StatusCode: s.status, Body: io.NopCloser(strings.NewReader(`{}`)), Header: http.Header{}}, nil
}

func TestElasticsearchSink(t *testing.T) {
	stub := &indexerStub{status: http.StatusCreated}
	sink := NewElasticsearchSink(stub, "auth-security-events")

	if err := sink.Write(context.Background(), models.SecurityEvent{ID: "e1"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if stub.index != "auth-security-events" || stub.id != "e1" {
		t.Fatalf("unexpected index/id %s/%s", stub.index, stub.id)
	}

	stub.status = http.StatusBadRequest
	if err := sink.Write(context.Background(), models.SecurityEvent{ID: "e2"}); err == nil {
		t.Fatal("expected error status to fail")
	}
}
