package rap

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNoPrice is returned when a source has no price for a request.
var ErrNoPrice = errors.New("no rap price for stone")

// Query holds the grading inputs as they are typed on the diamond form.
type Query struct {
	Carat   decimal.Decimal
	Shape   string
	Color   string
	Clarity string
}

// Request is what a pricing source is asked for.
type Request struct {
	Carat       decimal.Decimal
	Shape       string
	ColorCode   int
	ClarityCode string
}

// Request validates q and converts it. ok is false when the carat is not
// positive, the shape is blank, or a grade has no code.
func (q Query) Request() (Request, bool) {
	shape := strings.ToLower(strings.TrimSpace(q.Shape))
	if !q.Carat.IsPositive() || shape == "" {
		return Request{}, false
	}
	color, ok := ColorCode(q.Color)
	if !ok {
		return Request{}, false
	}
	clarity, ok := ClarityCode(q.Clarity)
	if !ok {
		return Request{}, false
	}
	return Request{Carat: q.Carat, Shape: shape, ColorCode: color, ClarityCode: clarity}, true
}

// Equal reports whether r and o ask for the same price.
func (r Request) Equal(o Request) bool {
	return r.Carat.Equal(o.Carat) && r.Shape == o.Shape && r.ColorCode == o.ColorCode && r.ClarityCode == o.ClarityCode
}

func (r Request) key() string {
	return fmt.Sprintf("%s|%s|%d|%s", r.Carat.String(), r.Shape, r.ColorCode, r.ClarityCode)
}

// Source returns the per-carat rap price for a request.
type Source interface {
	Price(ctx context.Context, req Request) (decimal.Decimal, error)
}

type wireRequest struct {
	Carat       json.Number `json:"carat"`
	Shape       string      `json:"shape"`
	ColorCode   int         `json:"colorCode"`
	ClarityCode string      `json:"clarityCode"`
}

type wireResponse struct {
	Price *decimal.Decimal `json:"price"`
}

// HTTPSource asks a remote pricing service. The service takes
// {carat, shape, colorCode, clarityCode} and answers {price}.
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a source posting to url with the given timeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPSource{url: url, client: &http.Client{Timeout: timeout}}
}

// Price implements Source.
func (s *HTTPSource) Price(ctx context.Context, req Request) (decimal.Decimal, error) {
	body, err := json.Marshal(wireRequest{
		Carat:       json.Number(req.Carat.String()),
		Shape:       req.Shape,
		ColorCode:   req.ColorCode,
		ClarityCode: req.ClarityCode,
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("encode rap request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return decimal.Zero, fmt.Errorf("build rap request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return decimal.Zero, fmt.Errorf("call rap price service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return decimal.Zero, ErrNoPrice
	}
	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return decimal.Zero, fmt.Errorf("rap price service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var out wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return decimal.Zero, fmt.Errorf("decode rap response: %w", err)
	}
	if out.Price == nil {
		return decimal.Zero, ErrNoPrice
	}
	return *out.Price, nil
}
