package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"firewatch/internal/model"
)

// Notifier fans a new alert out to the configured channels. Delivery is
// fire-and-forget: failures are logged, never returned to the pipeline.
type Notifier struct {
	mailer    *Mailer
	publisher *Publisher
	logger    *slog.Logger
}

func NewNotifier(mailer *Mailer, publisher *Publisher, logger *slog.Logger) *Notifier {
	return &Notifier{mailer: mailer, publisher: publisher, logger: logger}
}

func (n *Notifier) Alert(ctx context.Context, det model.Detection, rec model.AlertRecord, attachments []string) {
	if n.mailer != nil {
		subject := fmt.Sprintf("Possible (%d%%) fire in camera %s", int(det.Segment.Score*100), det.CameraID)
		body := buildBody(det)
		if err := n.mailer.Send(subject, body, attachments); err != nil {
			if n.logger != nil {
				n.logger.Error("alert email failed", "camera_id", det.CameraID, "err", err)
			}
		}
	}
	if n.publisher != nil {
		if err := n.publisher.Publish(ctx, rec); err != nil {
			if n.logger != nil {
				n.logger.Error("alert publish failed", "camera_id", det.CameraID, "err", err)
			}
		}
	}
}

func buildBody(det model.Detection) string {
	var b strings.Builder
	b.WriteString("Please check the attached images for fire.\n")
	fmt.Fprintf(&b, "Camera: %s\n", det.CameraID)
	fmt.Fprintf(&b, "Score: %.2f (historical max %.2f over %d samples)\n",
		det.Segment.Score, det.HistMax, det.HistSamples)
	if det.ImageRef != "" {
		fmt.Fprintf(&b, "Stored image: %s\n", det.ImageRef)
	}
	return b.String()
}
