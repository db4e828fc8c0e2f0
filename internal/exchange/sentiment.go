package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"oracle-go/internal/signal"
)

const fearGreedURL = "https://api.alternative.me/fng/?limit=1"

// FearGreed reads the alternative.me Fear & Greed index.
type FearGreed struct {
	client *http.Client
	url    string
}

type fearGreedResponse struct {
	Data []struct {
		Value          string `json:"value"`
		Classification string `json:"value_classification"`
		Timestamp      string `json:"timestamp"`
	} `json:"data"`
}

// NewFearGreed builds a client against url, or the public endpoint when empty.
func NewFearGreed(url string) *FearGreed {
	if url == "" {
		url = fearGreedURL
	}
	return &FearGreed{client: &http.Client{Timeout: defaultHTTPTimeout}, url: url}
}

// FetchSentiment returns the latest index reading.
func (f *FearGreed) FetchSentiment(ctx context.Context) (signal.Sentiment, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.url, nil)
	if err != nil {
		return signal.Sentiment{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	resp, err := f.client.Do(req)
	if err != nil {
		return signal.Sentiment{}, fmt.Errorf("sentiment http do: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return signal.Sentiment{}, fmt.Errorf("sentiment: unexpected status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return signal.Sentiment{}, fmt.Errorf("sentiment read: %w", err)
	}
	var payload fearGreedResponse
	if err := sonic.Unmarshal(body, &payload); err != nil {
		return signal.Sentiment{}, fmt.Errorf("sentiment decode: %w", err)
	}
	if len(payload.Data) == 0 {
		return signal.Sentiment{}, fmt.Errorf("sentiment: empty data")
	}
	d := payload.Data[0]
	v, ok := mustNumber(d.Value)
	if !ok || v < 0 || v > 100 {
		return signal.Sentiment{}, fmt.Errorf("sentiment: value %q out of range", d.Value)
	}
	out := signal.Sentiment{Value: v, Label: strings.TrimSpace(d.Classification), UpdatedAt: time.Now().UTC()}
	if sec, err := strconv.ParseInt(d.Timestamp, 10, 64); err == nil {
		out.UpdatedAt = time.Unix(sec, 0).UTC()
	}
	return out, nil
}
