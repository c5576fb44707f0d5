// Package stubs provides a local pricing server for development and tests.
package stubs

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"
)

// PricingServer emulates the provider's pricing API: a newline-delimited
// JSON stream endpoint, a snapshot endpoint, and a candles endpoint. Prices
// follow a random walk per instrument so thresholds actually cross.
type PricingServer struct {
	mu        sync.Mutex
	prices    map[string]float64 // by instrument, e.g. "EUR_USD"
	rng       *rand.Rand
	tick      time.Duration
	heartbeat time.Duration
}

func NewPricingServer() *PricingServer {
	return &PricingServer{
		prices: map[string]float64{
			"EUR_USD": 1.1000,
			"GBP_USD": 1.2700,
			"USD_JPY": 148.50,
		},
		rng:       rand.New(rand.NewSource(time.Now().UnixNano())),
		tick:      250 * time.Millisecond,
		heartbeat: 5 * time.Second,
	}
}

// Handler returns the mux covering the three provider endpoints.
func (s *PricingServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v3/accounts/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/pricing/stream") {
			s.serveStream(w, r)
			return
		}
		if strings.HasSuffix(r.URL.Path, "/pricing") {
			s.serveSnapshot(w, r)
			return
		}
		http.NotFound(w, r)
	})
	mux.HandleFunc("/v3/instruments/", s.serveCandles)
	return mux
}

type priceBucket struct {
	Price string `json:"price"`
}

type priceLine struct {
	Type       string        `json:"type"`
	Instrument string        `json:"instrument"`
	Time       string        `json:"time"`
	Bids       []priceBucket `json:"bids"`
	Asks       []priceBucket `json:"asks"`
}

func (s *PricingServer) serveStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	instruments := s.requestedInstruments(r)
	if len(instruments) == 0 {
		http.Error(w, "instruments parameter required", http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	log.Printf("stub stream client connected: %v", instruments)

	enc := json.NewEncoder(w)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			log.Printf("stub stream client disconnected")
			return
		case <-heartbeat.C:
			if err := enc.Encode(map[string]string{
				"type": "HEARTBEAT",
				"time": time.Now().UTC().Format(time.RFC3339Nano),
			}); err != nil {
				return
			}
			flusher.Flush()
		case <-ticker.C:
			inst := instruments[s.rng.Intn(len(instruments))]
			if err := enc.Encode(s.nextPrice(inst)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func (s *PricingServer) serveSnapshot(w http.ResponseWriter, r *http.Request) {
	instruments := s.requestedInstruments(r)
	if len(instruments) == 0 {
		http.Error(w, "instruments parameter required", http.StatusBadRequest)
		return
	}

	lines := make([]priceLine, 0, len(instruments))
	for _, inst := range instruments {
		lines = append(lines, s.nextPrice(inst))
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"time":   time.Now().UTC().Format(time.RFC3339Nano),
		"prices": lines,
	})
}

type stubCandle struct {
	Complete bool              `json:"complete"`
	Time     string            `json:"time"`
	Mid      map[string]string `json:"mid"`
}

func (s *PricingServer) serveCandles(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	if len(parts) < 4 || parts[3] != "candles" {
		http.NotFound(w, r)
		return
	}
	inst := parts[2]

	count := 50
	fmt.Sscanf(r.URL.Query().Get("count"), "%d", &count)

	s.mu.Lock()
	base, ok := s.prices[inst]
	s.mu.Unlock()
	if !ok {
		http.Error(w, "unknown instrument", http.StatusNotFound)
		return
	}

	// Walk the price backwards so the newest candle lands near the live one.
	candles := make([]stubCandle, count+1)
	price := base
	now := time.Now().UTC().Truncate(time.Minute)
	for i := count; i >= 0; i-- {
		open := price * (1 + (s.rng.Float64()-0.5)*0.001)
		high := price * (1 + s.rng.Float64()*0.0005)
		low := price * (1 - s.rng.Float64()*0.0005)
		candles[i] = stubCandle{
			Complete: i < count, // the last candle is still forming
			Time:     now.Add(-time.Duration(count-i) * time.Minute).Format(time.RFC3339),
			Mid: map[string]string{
				"o": fmt.Sprintf("%.5f", open),
				"h": fmt.Sprintf("%.5f", high),
				"l": fmt.Sprintf("%.5f", low),
				"c": fmt.Sprintf("%.5f", price),
			},
		}
		price *= 1 + (s.rng.Float64()-0.5)*0.002
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"instrument": inst,
		"candles":    candles,
	})
}

// nextPrice advances the random walk and renders one PRICE line.
func (s *PricingServer) nextPrice(inst string) priceLine {
	s.mu.Lock()
	price, ok := s.prices[inst]
	if !ok {
		price = 1.0
	}
	price *= 1 + (s.rng.Float64()-0.5)*0.0004
	s.prices[inst] = price
	s.mu.Unlock()

	spread := price * 0.0001
	return priceLine{
		Type:       "PRICE",
		Instrument: inst,
		Time:       time.Now().UTC().Format(time.RFC3339Nano),
		Bids:       []priceBucket{{Price: fmt.Sprintf("%.5f", price-spread/2)}},
		Asks:       []priceBucket{{Price: fmt.Sprintf("%.5f", price+spread/2)}},
	}
}

func (s *PricingServer) requestedInstruments(r *http.Request) []string {
	raw := r.URL.Query().Get("instruments")
	if raw == "" {
		return nil
	}
	var out []string
	for _, inst := range strings.Split(raw, ",") {
		inst = strings.TrimSpace(inst)
		if inst == "" {
			continue
		}
		out = append(out, inst)
		s.mu.Lock()
		if _, ok := s.prices[inst]; !ok {
			// Seed unknown instruments around a plausible FX level.
			s.prices[inst] = 1.0 + s.rng.Float64()*0.5
		}
		s.mu.Unlock()
	}
	return out
}
