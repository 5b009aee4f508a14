package notifications

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/config"
	"github.com/qbicsoftware/data-scanner/internal/ledger"
	"github.com/qbicsoftware/data-scanner/internal/logging"
)

const userAgent = "datascanner/1.0"

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

// Recorder sends an ntfy message for each transition that needs attention.
// Delivery failures are logged and never fail the transition.
type Recorder struct {
	endpoint   string
	client     *http.Client
	userErrors bool
	logger     *slog.Logger
}

// NewRecorder returns ledger.Nop when no topic is configured.
func NewRecorder(cfg *config.Config, logger *slog.Logger) ledger.Recorder {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return ledger.Nop{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Recorder{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		userErrors: cfg.Notifications.UserErrors,
		logger:     logging.NewComponentLogger(logger, "notifications"),
	}
}

// Record implements ledger.Recorder.
func (r *Recorder) Record(ctx context.Context, event ledger.Event) error {
	data, ok := r.format(event)
	if !ok {
		return nil
	}
	if err := r.send(ctx, data); err != nil {
		logging.WarnWithContext(r.logger, "cannot send notification", "notification_failed",
			logging.String(logging.FieldTaskID, event.TaskID),
			logging.Error(err),
			logging.String(logging.FieldImpact, "operator is not alerted"),
		)
	}
	return nil
}

func (r *Recorder) format(event ledger.Event) (payload, bool) {
	switch event.Outcome {
	case ledger.OutcomeIntervention:
		return payload{
			title:    "Data scanner - Intervention needed",
			message:  describe(event, "parked in"),
			tags:     []string{"datascanner", event.Stage, "intervention"},
			priority: "high",
		}, true
	case ledger.OutcomeUserError:
		if !r.userErrors {
			return payload{}, false
		}
		return payload{
			title:   "Data scanner - Dataset returned",
			message: describe(event, "returned to"),
			tags:    []string{"datascanner", event.Stage, "user_error"},
		}, true
	default:
		return payload{}, false
	}
}

func describe(event ledger.Event, verb string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s task %s", event.Stage, event.TaskID)
	if event.MeasurementID != "" {
		fmt.Fprintf(&b, " (%s)", event.MeasurementID)
	}
	if event.Destination != "" {
		fmt.Fprintf(&b, " %s %s", verb, event.Destination)
	}
	if reason := strings.TrimSpace(event.Reason); reason != "" {
		b.WriteString("\nReason: ")
		b.WriteString(reason)
	}
	return b.String()
}

func (r *Recorder) send(ctx context.Context, data payload) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
