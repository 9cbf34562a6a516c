package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

// HTTPSink posts messages as JSON to URL.
type HTTPSink struct {
	URL     string
	Client  *http.Client
	Limiter *rate.Limiter
}

// NewHTTPSink returns a sink limited to perSecond requests (unlimited when
// perSecond <= 0). A zero timeout leaves it to the transport.
func NewHTTPSink(url string, perSecond float64, timeout time.Duration) *HTTPSink {
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		burst := int(perSecond)
		if burst < 1 {
			burst = 1
		}
		lim = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
	return &HTTPSink{
		URL:     url,
		Client:  &http.Client{Timeout: timeout},
		Limiter: lim,
	}
}

func (s *HTTPSink) Deliver(ctx context.Context, m Message) error {
	if s.Limiter != nil {
		if err := s.Limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %v", ErrDelivery, err)
		}
	}

	body, err := json.Marshal(m)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: HTTP request failed with status %d", ErrDelivery, resp.StatusCode)
	}
	return nil
}
