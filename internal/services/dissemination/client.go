// Package dissemination carries package announcements to named external
// recipients. The engine hands it one order per dissemination request;
// how a recipient consumes the order is out of scope here.
package dissemination

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
	"archon/internal/services"
)

// Order identifies one package to announce to a set of recipients.
type Order struct {
	RequestID  string   `json:"request_id"`
	PackageID  string   `json:"package_id"`
	Recipients []string `json:"recipients"`
}

// Disseminator delivers one order. A delivery error marks the owning
// request as failed; it never aborts sibling requests.
type Disseminator interface {
	Disseminate(ctx context.Context, order Order) error
	Close()
}

// NewDisseminator builds a disseminator from configuration. It shares the
// notifications broker settings; without a configured broker a logging
// implementation is returned.
func NewDisseminator(cfg *config.Config, logger *slog.Logger) (Disseminator, error) {
	logger = logging.NewComponentLogger(logger, "dissemination")
	if !cfg.Notifications.Enabled {
		return &logDisseminator{logger: logger}, nil
	}

	conn, err := nats.Connect(cfg.Notifications.URL)
	if err != nil {
		return nil, services.Wrap(services.ErrTransport, "dissemination", "connect", cfg.Notifications.URL, err)
	}
	js, err := jetstream.New(conn)
	if err != nil {
		conn.Close()
		return nil, services.Wrap(services.ErrTransport, "dissemination", "jetstream", "", err)
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &natsDisseminator{
		js:      js,
		conn:    conn,
		stream:  cfg.Notifications.Stream,
		timeout: timeout,
		logger:  logger,
	}, nil
}

type natsDisseminator struct {
	js      jetstream.JetStream
	conn    *nats.Conn
	stream  string
	timeout time.Duration
	logger  *slog.Logger
}

func (d *natsDisseminator) Disseminate(ctx context.Context, order Order) error {
	payload, err := json.Marshal(order)
	if err != nil {
		return services.Wrap(services.ErrValidation, "dissemination", "disseminate", "marshal order", err)
	}

	// One message per recipient so each consumer filters on its own
	// subject instead of inspecting payloads.
	for _, recipient := range order.Recipients {
		subject := fmt.Sprintf("%s.disseminate.%s",
			d.stream, base64.URLEncoding.EncodeToString([]byte(recipient)))
		publishCtx, cancel := context.WithTimeout(ctx, d.timeout)
		_, err := d.js.Publish(publishCtx, subject, payload, jetstream.WithRetryAttempts(3))
		cancel()
		if err != nil {
			return services.Wrap(services.ErrTransport, "dissemination", "disseminate", recipient, err)
		}
	}
	d.logger.Debug("order disseminated",
		logging.String(logging.FieldPackageID, order.PackageID),
		logging.Int("recipients", len(order.Recipients)),
	)
	return nil
}

func (d *natsDisseminator) Close() {
	if d.conn != nil {
		d.conn.Close()
	}
}

type logDisseminator struct {
	logger *slog.Logger
}

func (d *logDisseminator) Disseminate(_ context.Context, order Order) error {
	d.logger.Info("broker not configured; logging dissemination order",
		logging.String(logging.FieldPackageID, order.PackageID),
		logging.Int("recipients", len(order.Recipients)),
	)
	return nil
}

func (d *logDisseminator) Close() {}
