package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/atendo/dispatchd/internal/models"
)

// HTTPNotifier posts offer events to a webhook, one endpoint per event
// kind. Used when the operator clients sit behind a push gateway.
type HTTPNotifier struct {
	BaseURL string
	Client  *http.Client
}

func (n HTTPNotifier) OfferCreated(ctx context.Context, offer models.Offer) error {
	return n.post(ctx, "/offers/created", offer)
}

func (n HTTPNotifier) OfferResolved(ctx context.Context, offer models.Offer) error {
	return n.post(ctx, "/offers/resolved", offer)
}

func (n HTTPNotifier) post(ctx context.Context, path string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	client := n.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notify webhook returned %d", resp.StatusCode)
	}
	return nil
}
