package rap

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestQueryRequestValidation(t *testing.T) {
	valid := Query{Carat: dec("1.01"), Shape: " Round ", Color: "g", Clarity: "VS2"}
	req, ok := valid.Request()
	require.True(t, ok)
	assert.Equal(t, Request{Carat: dec("1.01"), Shape: "round", ColorCode: 4, ClarityCode: "Q5"}, req)

	invalid := map[string]Query{
		"zero carat":      {Carat: decimal.Zero, Shape: "round", Color: "G", Clarity: "VS2"},
		"negative carat":  {Carat: dec("-1"), Shape: "round", Color: "G", Clarity: "VS2"},
		"blank shape":     {Carat: dec("1"), Shape: " ", Color: "G", Clarity: "VS2"},
		"unknown color":   {Carat: dec("1"), Shape: "round", Color: "N", Clarity: "VS2"},
		"unknown clarity": {Carat: dec("1"), Shape: "round", Color: "G", Clarity: "FL"},
	}
	for name, q := range invalid {
		_, ok := q.Request()
		assert.False(t, ok, name)
	}
}

func TestHTTPSource(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"price": 7450.5}`))
	}))
	defer srv.Close()

	price, err := NewHTTPSource(srv.URL, time.Second).Price(context.Background(),
		Request{Carat: dec("1.01"), Shape: "round", ColorCode: 4, ClarityCode: "Q5"})
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("7450.5")))

	assert.Equal(t, 1.01, got["carat"])
	assert.Equal(t, "round", got["shape"])
	assert.Equal(t, float64(4), got["colorCode"])
	assert.Equal(t, "Q5", got["clarityCode"])
}

func TestHTTPSourceErrors(t *testing.T) {
	status := http.StatusInternalServerError
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(srv.URL, time.Second)
	req := Request{Carat: dec("1"), Shape: "round", ColorCode: 1, ClarityCode: "Q1"}

	_, err := src.Price(context.Background(), req)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")

	status = http.StatusNotFound
	_, err = src.Price(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoPrice)

	status = http.StatusOK
	_, err = src.Price(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoPrice)
}

const testSheet = `
- shape: round
  min_carat: 0.90
  max_carat: 0.99
  prices:
    D: {IF: 18000, VS2: 9800}
    G: {VS2: 7000}
- shape: round
  min_carat: 1.00
  max_carat: 1.49
  prices:
    G: {VS2: 9400, SI1: 7900}
- shape: pear
  min_carat: 1.00
  max_carat: 1.49
  prices:
    G: {VS2: 6100}
`

func TestSheetSource(t *testing.T) {
	sheet, err := LoadSheet(strings.NewReader(testSheet))
	require.NoError(t, err)

	cases := []struct {
		carat, shape string
		color        string
		clarity      string
		want         string
	}{
		{"0.95", "round", "G", "VS2", "7000"},
		{"1.00", "round", "G", "VS2", "9400"},
		{"1.49", "round", "G", "SI1", "7900"},
		{"1.20", "pear", "G", "VS2", "6100"},
	}
	for _, tc := range cases {
		req, ok := Query{Carat: dec(tc.carat), Shape: tc.shape, Color: tc.color, Clarity: tc.clarity}.Request()
		require.True(t, ok)
		price, err := sheet.Price(context.Background(), req)
		require.NoError(t, err, "%+v", tc)
		assert.True(t, price.Equal(dec(tc.want)), "%+v got %s", tc, price)
	}

	req, _ := Query{Carat: dec("2.00"), Shape: "round", Color: "G", Clarity: "VS2"}.Request()
	_, err = sheet.Price(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoPrice)

	req, _ = Query{Carat: dec("1.10"), Shape: "oval", Color: "G", Clarity: "VS2"}.Request()
	_, err = sheet.Price(context.Background(), req)
	assert.ErrorIs(t, err, ErrNoPrice)
}

func TestLoadSheetRejectsUnknownGrades(t *testing.T) {
	_, err := LoadSheet(strings.NewReader(`
- shape: round
  min_carat: 1
  max_carat: 2
  prices:
    Z: {VS2: 100}
`))
	assert.ErrorContains(t, err, "unknown color")

	_, err = LoadSheet(strings.NewReader(`
- shape: round
  min_carat: 1
  max_carat: 2
  prices:
    G: {FL: 100}
`))
	assert.ErrorContains(t, err, "unknown clarity")
}

type countingSource struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	price decimal.Decimal

	mu   sync.Mutex
	last Request
}

func (s *countingSource) Price(ctx context.Context, req Request) (decimal.Decimal, error) {
	s.calls.Add(1)
	s.mu.Lock()
	s.last = req
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return decimal.Zero, ctx.Err()
		}
	}
	if s.err != nil {
		return decimal.Zero, s.err
	}
	return s.price, nil
}

func (s *countingSource) lastRequest() Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func TestCachedSourceMemoisesAndCollapses(t *testing.T) {
	upstream := &countingSource{price: dec("5000"), delay: 50 * time.Millisecond}
	cached := NewCachedSource(upstream, time.Minute, time.Second)
	req := Request{Carat: dec("1"), Shape: "round", ColorCode: 1, ClarityCode: "Q1"}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			price, err := cached.Price(context.Background(), req)
			assert.NoError(t, err)
			assert.True(t, price.Equal(dec("5000")))
		}()
	}
	wg.Wait()

	_, err := cached.Price(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), upstream.calls.Load())
}

func TestCachedSourceDoesNotCacheFailures(t *testing.T) {
	upstream := &countingSource{err: errors.New("boom")}
	cached := NewCachedSource(upstream, time.Minute, time.Second)
	req := Request{Carat: dec("1"), Shape: "round", ColorCode: 1, ClarityCode: "Q1"}

	_, err := cached.Price(context.Background(), req)
	require.Error(t, err)
	_, err = cached.Price(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, int32(2), upstream.calls.Load())
}

func TestCachedSourceSharedLookupOutlivesCancelledCaller(t *testing.T) {
	upstream := &countingSource{price: dec("7100"), delay: 100 * time.Millisecond}
	cached := NewCachedSource(upstream, time.Minute, time.Second)
	req := Request{Carat: dec("1"), Shape: "round", ColorCode: 2, ClarityCode: "Q3"}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := cached.Price(first, req)
		firstErr <- err
	}()

	require.Eventually(t, func() bool { return upstream.calls.Load() == 1 }, time.Second, time.Millisecond)
	secondDone := make(chan struct{})
	var price decimal.Decimal
	var err error
	go func() {
		defer close(secondDone)
		price, err = cached.Price(context.Background(), req)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	<-secondDone
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("7100")))
	assert.Equal(t, int32(1), upstream.calls.Load())

	price, err = cached.Price(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, price.Equal(dec("7100")))
	assert.Equal(t, int32(1), upstream.calls.Load())
}

func TestCachedSourceBoundsSharedLookup(t *testing.T) {
	upstream := &countingSource{price: dec("1"), delay: time.Second}
	cached := NewCachedSource(upstream, time.Minute, 20*time.Millisecond)
	req := Request{Carat: dec("1"), Shape: "round", ColorCode: 1, ClarityCode: "Q1"}

	_, err := cached.Price(context.Background(), req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
