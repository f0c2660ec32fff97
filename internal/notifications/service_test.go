package notifications

import (
	"context"
	"errors"
	"strings"
	"testing"

	"archon/internal/logging"
	"archon/internal/request"
)

type fakePublisher struct {
	subjects []string
	failOn   map[string]bool
}

func (p *fakePublisher) Publish(_ context.Context, subject string, _ []byte) error {
	p.subjects = append(p.subjects, subject)
	for marker := range p.failOn {
		if strings.Contains(subject, marker) {
			return errors.New("publish rejected")
		}
	}
	return nil
}

func TestSendPublishesPerRequest(t *testing.T) {
	pub := &fakePublisher{}
	svc := NewFanout(pub, "ARCHON", logging.NewNop())

	reqs := []*request.Request{
		request.NewUpdate("pkg-1", request.UpdateTask{Type: request.TaskAddTag, Value: "a"}),
		request.NewUpdate("pkg-2", request.UpdateTask{Type: request.TaskAddTag, Value: "b"}),
	}
	failed, err := svc.Send(context.Background(), reqs)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(failed) != 0 {
		t.Fatalf("expected no failures, got %d", len(failed))
	}
	if len(pub.subjects) != 2 {
		t.Fatalf("expected 2 publishes, got %d", len(pub.subjects))
	}
	for _, subject := range pub.subjects {
		if !strings.HasPrefix(subject, "ARCHON.notify.update.") {
			t.Errorf("unexpected subject %q", subject)
		}
	}
}

func TestSendReportsFailedRequestsOnly(t *testing.T) {
	bad := request.NewUpdate("pkg-bad", request.UpdateTask{Type: request.TaskAddTag, Value: "a"})
	good := request.NewUpdate("pkg-good", request.UpdateTask{Type: request.TaskAddTag, Value: "a"})

	badSubject := (&fanout{stream: "ARCHON"}).subjectFor(bad)
	marker := badSubject[strings.LastIndex(badSubject, ".")+1:]

	pub := &fakePublisher{failOn: map[string]bool{marker: true}}
	svc := NewFanout(pub, "ARCHON", logging.NewNop())

	failed, err := svc.Send(context.Background(), []*request.Request{bad, good})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != bad.ID {
		t.Fatalf("expected only the failing request back, got %v", failed)
	}
}

func TestNoopServiceInactive(t *testing.T) {
	svc := noopService{}
	if svc.Active() {
		t.Fatal("noop service must report inactive")
	}
	failed, err := svc.Send(context.Background(), []*request.Request{
		request.NewUpdate("pkg", request.UpdateTask{Type: request.TaskAddTag, Value: "a"}),
	})
	if err != nil || failed != nil {
		t.Fatalf("noop Send should do nothing, got %v %v", failed, err)
	}
}
