// Package filestore holds the request contract with the file storage
// service. The engine only ever asks it to delete stored copies; deletion
// orders are fire-and-forget and batched per job run.
package filestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"archon/internal/config"
	"archon/internal/logging"
	"archon/internal/services"
)

const userAgent = "Archon/0.1.0"

// Deletion identifies one stored copy to remove.
type Deletion struct {
	Checksum  string `json:"checksum"`
	Storage   string `json:"storage"`
	PackageID string `json:"package_id"`
}

// Transport sends batched deletion orders to the file storage service.
type Transport interface {
	Delete(ctx context.Context, batch []Deletion) error
}

// NewTransport builds a storage transport from configuration. When no
// endpoint is configured, a logging implementation is returned so dry
// environments still surface what would have been deleted.
func NewTransport(cfg *config.Config, logger *slog.Logger) Transport {
	logger = logging.NewComponentLogger(logger, "filestore")
	endpoint := strings.TrimSpace(cfg.FileStorage.Endpoint)
	if endpoint == "" {
		return &logTransport{logger: logger}
	}

	timeout := time.Duration(cfg.FileStorage.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &httpTransport{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger,
	}
}

type httpTransport struct {
	endpoint string
	client   *http.Client
	logger   *slog.Logger
}

func (t *httpTransport) Delete(ctx context.Context, batch []Deletion) error {
	if len(batch) == 0 {
		return nil
	}
	body, err := json.Marshal(map[string]any{"deletions": batch})
	if err != nil {
		return services.Wrap(services.ErrTransport, "filestore", "delete", "marshal batch", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return services.Wrap(services.ErrTransport, "filestore", "delete", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := t.client.Do(req)
	if err != nil {
		return services.Wrap(services.ErrTransport, "filestore", "delete", "send batch", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return services.Wrap(services.ErrTransport, "filestore", "delete",
			fmt.Sprintf("unexpected status %d", resp.StatusCode), nil)
	}
	t.logger.Debug("deletion batch sent", logging.Int("count", len(batch)))
	return nil
}

type logTransport struct {
	logger *slog.Logger
}

func (t *logTransport) Delete(_ context.Context, batch []Deletion) error {
	if len(batch) == 0 {
		return nil
	}
	t.logger.Info("file storage endpoint not configured; logging deletion batch",
		logging.Int("count", len(batch)),
	)
	return nil
}
