package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// Fetcher retrieves the current value of a live beacon. KindDate needs no
// fetcher implementation — its value is derived from the system clock.
type Fetcher interface {
	FetchBTC(ctx context.Context) (string, error)
	FetchNIST(ctx context.Context) (string, error)
}

const requestTimeout = 5 * time.Second

// maxFetchesPerSecond bounds how often HTTPFetcher will actually hit the
// network, independent of how often a caller asks: the oracle already
// caches beacon values, but a misconfigured short poll interval across
// many channels sharing one fetcher shouldn't be able to hammer a public
// beacon endpoint.
const maxFetchesPerSecond = 1

// HTTPFetcher fetches beacon values over plain HTTP(S). It holds its own
// *http.Client with an explicit timeout and a bounded transport rather
// than reaching for http.DefaultClient.
type HTTPFetcher struct {
	client  *http.Client
	limiter *rate.Limiter

	btcPrimaryURL  string
	btcFallbackURL string
	nistURL        string
}

// NewHTTPFetcher builds an HTTPFetcher with production defaults. Empty
// override strings fall back to the built-in endpoints.
func NewHTTPFetcher(btcPrimaryURL, btcFallbackURL, nistURL string) *HTTPFetcher {
	if btcPrimaryURL == "" {
		btcPrimaryURL = "https://blockchain.info/q/latesthash"
	}
	if btcFallbackURL == "" {
		btcFallbackURL = "https://blockstream.info/api/blocks/tip/hash"
	}
	if nistURL == "" {
		nistURL = "https://beacon.nist.gov/beacon/2.0/pulse/last"
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: requestTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				IdleConnTimeout:     30 * time.Second,
				TLSHandshakeTimeout: requestTimeout,
			},
		},
		limiter:        rate.NewLimiter(rate.Limit(maxFetchesPerSecond), 2),
		btcPrimaryURL:  btcPrimaryURL,
		btcFallbackURL: btcFallbackURL,
		nistURL:        nistURL,
	}
}

// FetchBTC returns the most recent Bitcoin block hash, lowercased. It tries
// the primary endpoint first and falls back to a secondary provider on any
// error, including a malformed response.
func (f *HTTPFetcher) FetchBTC(ctx context.Context) (string, error) {
	value, err := f.fetchText(ctx, f.btcPrimaryURL)
	if err == nil && ValidateValue(KindBTC, value) {
		return value, nil
	}

	value, fallbackErr := f.fetchText(ctx, f.btcFallbackURL)
	if fallbackErr == nil && ValidateValue(KindBTC, value) {
		return value, nil
	}
	if err == nil {
		err = fallbackErr
	}
	return "", fmt.Errorf("beacon: fetch btc hash: %w", err)
}

// FetchNIST returns the hex-encoded output value of the most recent NIST
// randomness beacon pulse, lowercased. It retries once on transient error.
func (f *HTTPFetcher) FetchNIST(ctx context.Context) (string, error) {
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		value, err := f.fetchNISTPulse(ctx)
		if err == nil {
			return value, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	return "", fmt.Errorf("beacon: fetch nist pulse: %w", lastErr)
}

func (f *HTTPFetcher) fetchNISTPulse(ctx context.Context) (string, error) {
	body, err := f.fetchBody(ctx, f.nistURL)
	if err != nil {
		return "", err
	}

	var parsed struct {
		Pulse struct {
			OutputValue string `json:"outputValue"`
		} `json:"pulse"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode pulse json: %w", err)
	}
	value := strings.ToLower(parsed.Pulse.OutputValue)
	if !ValidateValue(KindNIST, value) {
		return "", fmt.Errorf("pulse outputValue %q is not 128 hex chars", value)
	}
	return value, nil
}

// fetchText reads a response body, trims it, lowercases it, and optionally
// unwraps a {"hash": "..."} JSON envelope when the body isn't bare hex.
func (f *HTTPFetcher) fetchText(ctx context.Context, url string) (string, error) {
	body, err := f.fetchBody(ctx, url)
	if err != nil {
		return "", err
	}
	text := strings.ToLower(strings.TrimSpace(string(body)))
	if isHex(text) {
		return text, nil
	}

	var envelope struct {
		Hash string `json:"hash"`
	}
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Hash != "" {
		return strings.ToLower(envelope.Hash), nil
	}
	return "", fmt.Errorf("response from %s is neither bare hex nor a hash envelope", url)
}

func (f *HTTPFetcher) fetchBody(ctx context.Context, url string) ([]byte, error) {
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json, text/plain")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 1<<16))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && (r < 'a' || r > 'f') {
			return false
		}
	}
	return true
}
