package notifications

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"archon/internal/config"
	"archon/internal/logging"
	"archon/internal/request"
	"archon/internal/services"
)

// Service is the fan-out surface handed succeeded requests that must be
// announced externally. Active is read once per runner invocation.
type Service interface {
	Active() bool
	// Send publishes one message per request and returns the requests
	// whose announcement failed; those are re-entered at the
	// notify_error step by the caller. The error return is reserved for
	// infrastructure failures affecting the whole batch.
	Send(ctx context.Context, reqs []*request.Request) ([]*request.Request, error)
	Close()
}

// Publisher abstracts the JetStream publish call so delivery failures are
// testable without a broker.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Message is the wire payload announcing one completed request.
type Message struct {
	RequestID   string       `json:"request_id"`
	Kind        request.Kind `json:"kind"`
	PackageID   string       `json:"package_id"`
	CompletedAt time.Time    `json:"completed_at"`
}

// NewService builds the notification fan-out from configuration. When
// notifications are disabled, an inactive no-op implementation is
// returned.
func NewService(cfg *config.Config, logger *slog.Logger) (Service, error) {
	logger = logging.NewComponentLogger(logger, "notifications")
	if !cfg.Notifications.Enabled {
		return noopService{}, nil
	}

	conn, err := nats.Connect(cfg.Notifications.URL)
	if err != nil {
		return nil, services.Wrap(services.ErrTransport, "notifications", "connect", cfg.Notifications.URL, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, services.Wrap(services.ErrTransport, "notifications", "jetstream", "", err)
	}
	if err := ensureStream(js, cfg.Notifications.Stream); err != nil {
		conn.Close()
		return nil, err
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &fanout{
		publisher: &jetStreamPublisher{js: js},
		conn:      conn,
		stream:    cfg.Notifications.Stream,
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// NewFanout builds a fan-out over an explicit publisher. Used by tests and
// by callers that manage their own connection.
func NewFanout(publisher Publisher, stream string, logger *slog.Logger) Service {
	if stream == "" {
		stream = "ARCHON"
	}
	return &fanout{
		publisher: publisher,
		stream:    stream,
		timeout:   10 * time.Second,
		logger:    logging.NewComponentLogger(logger, "notifications"),
	}
}

func ensureStream(js jetstream.JetStream, streamName string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{fmt.Sprintf("%s.>", streamName)},
		Storage:  jetstream.FileStorage,
	})
	if err != nil {
		return services.Wrap(services.ErrTransport, "notifications", "ensure stream", streamName, err)
	}
	return nil
}

type fanout struct {
	publisher Publisher
	conn      *nats.Conn
	stream    string
	timeout   time.Duration
	logger    *slog.Logger
}

func (f *fanout) Active() bool { return true }

func (f *fanout) Send(ctx context.Context, reqs []*request.Request) ([]*request.Request, error) {
	var failed []*request.Request
	for _, req := range reqs {
		if req == nil {
			continue
		}
		payload, err := json.Marshal(Message{
			RequestID:   req.ID,
			Kind:        req.Kind,
			PackageID:   req.TargetPackageID,
			CompletedAt: time.Now().UTC(),
		})
		if err != nil {
			failed = append(failed, req)
			continue
		}

		subject := f.subjectFor(req)
		publishCtx, cancel := context.WithTimeout(ctx, f.timeout)
		err = f.publisher.Publish(publishCtx, subject, payload)
		cancel()
		if err != nil {
			f.logger.Warn("notification publish failed",
				logging.String(logging.FieldRequestID, req.ID),
				logging.String(logging.FieldPackageID, req.TargetPackageID),
				logging.Error(err),
			)
			failed = append(failed, req)
			continue
		}
	}
	return failed, nil
}

// subjectFor encodes the package id so arbitrary business identifiers stay
// within NATS subject token rules.
func (f *fanout) subjectFor(req *request.Request) string {
	encoded := base64.URLEncoding.EncodeToString([]byte(req.TargetPackageID))
	return fmt.Sprintf("%s.notify.%s.%s", f.stream, req.Kind, encoded)
}

func (f *fanout) Close() {
	if f.conn != nil {
		f.conn.Close()
	}
}

type jetStreamPublisher struct {
	js jetstream.JetStream
}

func (p *jetStreamPublisher) Publish(ctx context.Context, subject string, data []byte) error {
	_, err := p.js.Publish(ctx, subject, data, jetstream.WithRetryAttempts(3))
	return err
}

type noopService struct{}

func (noopService) Active() bool { return false }

func (noopService) Send(context.Context, []*request.Request) ([]*request.Request, error) {
	return nil, nil
}

func (noopService) Close() {}
