// Package dhan fetches and normalizes option-chain snapshots from the Dhan API.
//
// Every failure is classified before it leaves this package: transport
// problems, gateway HTML pages, upstream 5xx, credential expiry, and
// well-formed-but-empty chains are distinct conditions, and only credential
// expiry is allowed to escalate beyond a per-cycle skip.
package dhan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/blockzenith/scanner/internal/models"
)

// Sentinel failure classes, matched with errors.Is.
var (
	ErrTransport   = errors.New("transport failure")
	ErrBadPayload  = errors.New("non-json response")
	ErrUpstream    = errors.New("upstream server error")
	ErrAuthExpired = errors.New("access token expired")
	ErrEmptyChain  = errors.New("empty option chain")
)

const maxRawRetained = 512

// FetchError wraps a classified fetch failure. Raw holds a truncated copy of
// the response body so upstream contract drift can be diagnosed from logs.
type FetchError struct {
	Instrument string
	Kind       error
	Raw        string
	Err        error
}

func (e *FetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v: %v", e.Instrument, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Instrument, e.Kind)
}

func (e *FetchError) Unwrap() []error {
	if e.Err != nil {
		return []error{e.Kind, e.Err}
	}
	return []error{e.Kind}
}

// Client calls the Dhan option-chain endpoint.
type Client struct {
	baseURL    string
	clientID   string
	httpClient *http.Client
	loc        *time.Location
	now        func() time.Time
}

// NewClient creates a client for the given endpoint. loc is the market
// timezone used to compute the "today" expiry date.
func NewClient(baseURL, clientID string, timeout time.Duration, loc *time.Location) *Client {
	return &Client{
		baseURL:    baseURL,
		clientID:   clientID,
		httpClient: &http.Client{Timeout: timeout},
		loc:        loc,
		now:        time.Now,
	}
}

// Wire types for the upstream response envelope.
type chainResponse struct {
	Status string    `json:"status"`
	Data   chainData `json:"data"`
}

type chainData struct {
	LastPrice float64               `json:"last_price"`
	OC        map[string]strikeLegs `json:"oc"`
}

type strikeLegs struct {
	CE *legQuote `json:"ce"`
	PE *legQuote `json:"pe"`
}

type legQuote struct {
	Volume    float64 `json:"volume"`
	OI        float64 `json:"oi"`
	LastPrice float64 `json:"last_price"`
}

type chainRequest struct {
	UnderlyingScrip int    `json:"UnderlyingScrip"`
	UnderlyingSeg   string `json:"UnderlyingSeg"`
	Expiry          string `json:"Expiry"`
}

// Fetch retrieves the option chain for one instrument and normalizes it into
// a snapshot. On failure the returned error is a *FetchError whose Kind is
// one of the package sentinels.
func (c *Client) Fetch(ctx context.Context, inst models.InstrumentSpec, token string) (*models.OptionChainSnapshot, error) {
	expiry := c.now().In(c.loc).Format("2006-01-02")

	body, err := json.Marshal(chainRequest{
		UnderlyingScrip: inst.ID,
		UnderlyingSeg:   inst.Segment,
		Expiry:          expiry,
	})
	if err != nil {
		return nil, &FetchError{Instrument: inst.Name, Kind: ErrTransport, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewReader(body))
	if err != nil {
		return nil, &FetchError{Instrument: inst.Name, Kind: ErrTransport, Err: err}
	}
	req.Header.Set("access-token", token)
	req.Header.Set("client-id", c.clientID)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &FetchError{Instrument: inst.Name, Kind: ErrTransport, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, &FetchError{Instrument: inst.Name, Kind: ErrTransport, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, &FetchError{Instrument: inst.Name, Kind: ErrAuthExpired, Raw: truncate(raw)}
	case resp.StatusCode >= 500:
		return nil, &FetchError{
			Instrument: inst.Name, Kind: ErrUpstream, Raw: truncate(raw),
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	var parsed chainResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, &FetchError{Instrument: inst.Name, Kind: ErrBadPayload, Raw: truncate(raw), Err: err}
	}

	// Dhan reports token problems as a well-formed error envelope, which must
	// be told apart from a chain that is merely empty.
	if parsed.Status == "error" {
		return nil, &FetchError{Instrument: inst.Name, Kind: ErrAuthExpired, Raw: truncate(raw)}
	}
	if len(parsed.Data.OC) == 0 {
		return nil, &FetchError{Instrument: inst.Name, Kind: ErrEmptyChain, Raw: truncate(raw)}
	}

	snapshot := &models.OptionChainSnapshot{
		Instrument: inst.Name,
		Expiry:     expiry,
		Strikes:    make(map[string]models.StrikeEntry, len(parsed.Data.OC)),
	}
	for strike, legs := range parsed.Data.OC {
		snapshot.Strikes[strike] = models.StrikeEntry{
			Call: normalizeQuote(legs.CE),
			Put:  normalizeQuote(legs.PE),
		}
	}
	return snapshot, nil
}

func normalizeQuote(q *legQuote) models.SideQuote {
	if q == nil {
		return models.SideQuote{}
	}
	out := models.SideQuote{
		Volume:       int64(q.Volume),
		OpenInterest: int64(q.OI),
		LastPrice:    q.LastPrice,
	}
	if out.Volume < 0 {
		out.Volume = 0
	}
	if out.OpenInterest < 0 {
		out.OpenInterest = 0
	}
	if out.LastPrice < 0 {
		out.LastPrice = 0
	}
	return out
}

func truncate(raw []byte) string {
	if len(raw) > maxRawRetained {
		return string(raw[:maxRawRetained]) + "..."
	}
	return string(raw)
}
