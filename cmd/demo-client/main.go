// Command demo-client exercises a running gateway end to end: it registers
// the echo-backend demo upstream, then invokes demo.Greeter/SayHello
// through the gateway's HTTP surface.
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
)

func main() {
	gatewayAddr := flag.String("gateway", "http://localhost:8080", "gateway base URL")
	backendHost := flag.String("backend-host", "127.0.0.1", "echo-backend host")
	backendPort := flag.String("backend-port", "50051", "echo-backend port")
	name := flag.String("name", "Ada", "name to greet")
	flag.Parse()

	log.Println("--- Registering demo.Greeter ---")
	registerBody := map[string]any{
		"service_name": "demo.Greeter",
		"host":         *backendHost,
		"port":         *backendPort,
	}
	if err := post(*gatewayAddr+"/v1/services", registerBody); err != nil {
		log.Fatalf("register failed: %v", err)
	}

	log.Println("--- Invoking demo.Greeter/SayHello ---")
	invokeBody := map[string]any{
		"service": "demo.Greeter",
		"method":  "SayHello",
		"data":    map[string]any{"name": *name},
	}
	if err := post(*gatewayAddr+"/v1/invoke", invokeBody); err != nil {
		log.Fatalf("invoke failed: %v", err)
	}

	log.Println("Demo client finished successfully.")
}

func post(url string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(b))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Printf("%s -> %d: %s\n", url, resp.StatusCode, string(respBody))
	return nil
}
