// Command load-test fires a configurable number of invoke() requests at a
// running gateway and reports throughput, the teacher's benchmark tool
// repointed at the gateway's HTTP surface instead of a raw gRPC stub.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

func main() {
	gatewayAddr := flag.String("gateway", "http://localhost:8080", "gateway base URL")
	service := flag.String("service", "demo.Greeter", "registered service name")
	method := flag.String("method", "SayHello", "method to invoke")
	count := flag.Int("count", 1000, "number of requests to fire")
	flag.Parse()

	body, err := json.Marshal(map[string]any{
		"service": *service,
		"method":  *method,
		"data":    map[string]any{"name": "bench"},
	})
	if err != nil {
		log.Fatalf("failed to encode request: %v", err)
	}

	log.Printf("Starting load test of %d requests against %s/%s", *count, *service, *method)

	start := time.Now()
	failures := 0
	for i := 0; i < *count; i++ {
		resp, err := http.Post(*gatewayAddr+"/v1/invoke", "application/json", bytes.NewReader(body))
		if err != nil {
			log.Fatalf("request %d failed: %v", i, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			failures++
		}
	}
	dur := time.Since(start)

	fmt.Printf("[RESULT] %d requests in %v (avg %v/req, %d non-200 responses)\n",
		*count, dur, dur/time.Duration(*count), failures)
}
