package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"
)

type eventLine struct {
	Timestamp string                 `json:"timestamp"`
	App       string                 `json:"app"`
	EventType string                 `json:"event_type"`
	Summary   string                 `json:"summary,omitempty"`
	Payload   map[string]interface{} `json:"payload"`
	TraceID   string                 `json:"trace_id,omitempty"`
	SpanID    string                 `json:"span_id,omitempty"`
}

type ack struct {
	Success bool   `json:"success"`
	ID      int64  `json:"id"`
	TraceID string `json:"trace_id"`
	Error   string `json:"error"`
}

func main() {
	addr := "localhost:3002"
	if a := os.Getenv("TCP_ADDR"); a != "" {
		addr = a
	}

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		log.Fatalf("Failed to connect: %v", err)
	}
	defer conn.Close()

	fmt.Printf("Connected to %s\n", addr)

	reader := bufio.NewReader(conn)
	encoder := json.NewEncoder(conn)

	events := []eventLine{
		{App: "tcp-demo", EventType: "info", Summary: "Application starting", Payload: map[string]interface{}{"version": "2.1.0"}},
		{App: "tcp-demo", EventType: "request", Summary: "GET /api/users", TraceID: "demo-trace-1", SpanID: "root",
			Payload: map[string]interface{}{"status_code": 200, "duration": 42}},
		{App: "tcp-demo", EventType: "warning", Summary: "Slow query", TraceID: "demo-trace-1", SpanID: "db",
			Payload: map[string]interface{}{"duration": 1800}},
		{App: "tcp-demo", EventType: "error", Summary: "Payment failed", Payload: map[string]interface{}{"error": "connection refused"}},
		// Rejected: app is required.
		{EventType: "info", Payload: map[string]interface{}{}},
	}

	for i, e := range events {
		e.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)

		// Encode terminates each value with a newline.
		if err := encoder.Encode(e); err != nil {
			log.Printf("Failed to send event: %v", err)
			continue
		}

		line, err := reader.ReadBytes('\n')
		if err != nil {
			log.Fatalf("Failed to read acknowledgment: %v", err)
		}

		var a ack
		if err := json.Unmarshal(line, &a); err != nil {
			log.Printf("Malformed acknowledgment: %s", line)
			continue
		}
		if !a.Success {
			fmt.Printf("Event %d rejected: %s\n", i+1, a.Error)
			continue
		}
		fmt.Printf("Event %d stored as %d (trace %s)\n", i+1, a.ID, a.TraceID)
	}
}
