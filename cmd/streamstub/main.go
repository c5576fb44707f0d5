// Command streamstub runs a local pricing server emulating the provider's
// streaming, snapshot and candle endpoints for development.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/fxsentry/fxsentry/internal/stubs"
)

func main() {
	addr := flag.String("addr", ":8091", "listen address")
	flag.Parse()

	server := stubs.NewPricingServer()
	log.Printf("pricing stub listening on %s", *addr)
	log.Printf("  stream: GET /v3/accounts/{account}/pricing/stream?instruments=EUR_USD")
	log.Printf("  prices: GET /v3/accounts/{account}/pricing?instruments=EUR_USD")
	log.Printf("  candles: GET /v3/instruments/EUR_USD/candles?granularity=M5&count=50")

	if err := http.ListenAndServe(*addr, server.Handler()); err != nil {
		log.Fatalf("stub server: %v", err)
	}
}
