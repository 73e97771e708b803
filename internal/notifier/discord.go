package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/multifetch/internal/downloader"
	"github.com/italolelis/multifetch/internal/transfer"
)

// maxListed bounds how many failures a single message lists.
const maxListed = 10

type Notifier interface {
	Notify(ctx context.Context, content string) error
}

type DiscordNotifier struct {
	WebhookURL string
	Client     *http.Client
}

func (d *DiscordNotifier) Notify(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return fmt.Errorf("webhook URL is not set")
	}

	payload := map[string]string{"content": content}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	client := d.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook failed with status %d", resp.StatusCode)
	}

	return nil
}

// BatchMessage renders the notification for a finished batch.
func BatchMessage(b downloader.Batch) string {
	var sb strings.Builder

	switch {
	case b.Err != nil:
		fmt.Fprintf(&sb, "🛑 Batch %s aborted: %v\n", b.ID, b.Err)
	case b.Failed > 0:
		fmt.Fprintf(&sb, "⚠️ Batch %s finished with failures\n", b.ID)
	default:
		fmt.Fprintf(&sb, "✅ Batch %s finished\n", b.ID)
	}

	fmt.Fprintf(&sb, "%d succeeded, %d failed, %s downloaded in %s",
		b.Succeeded, b.Failed, humanize.Bytes(uint64(b.Bytes)), b.Duration.Round(time.Millisecond))

	listed := 0

	for _, o := range b.Outcomes {
		if o.Result != transfer.Failed {
			continue
		}

		if listed == maxListed {
			fmt.Fprintf(&sb, "\n… and %d more", b.Failed-listed)

			break
		}

		fmt.Fprintf(&sb, "\n❌ %s (%s)", o.URL, o.Reason())
		listed++
	}

	return sb.String()
}
