package main

import (
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/your-username/agent-observability/backend/pkg/agent"
)

func main() {
	config := &agent.Config{
		Endpoint:      "http://localhost:3001",
		App:           "example-service",
		SessionID:     uuid.New().String(),
		BatchSize:     50,
		FlushInterval: 3 * time.Second,
		MaxRetries:    3,
		RetryBackoff:  time.Second,
		APIKey:        os.Getenv("API_KEY"),
		Tags: map[string]interface{}{
			"hostname":    getHostname(),
			"environment": "development",
			"version":     "1.0.0",
		},
		HTTPTimeout: 5 * time.Second,
	}

	a := agent.New(config)
	a.Start()
	defer a.Stop()

	fmt.Println("Agent started")

	a.Info("Application started successfully", nil)
	a.Warning("Cache is cold", map[string]interface{}{"entries": 0})
	a.Error(fmt.Errorf("connection timeout"), "Failed to connect to database")

	fmt.Println("\nSimulating application activity...")
	go simulateRequests(a)
	go simulateJobs(a)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	fmt.Println("\nAgent is running. Press Ctrl+C to stop...")
	<-sigChan

	a.Info("Shutting down application", nil)
	fmt.Println("\nStopping agent...")
}

// simulateRequests reports one traced request every few hundred milliseconds.
func simulateRequests(a *agent.Agent) {
	endpoints := []string{"/api/users", "/api/orders", "/api/products", "/api/inventory"}
	methods := []string{"GET", "POST", "PUT", "DELETE"}

	for {
		endpoint := endpoints[rand.Intn(len(endpoints))]
		method := methods[rand.Intn(len(methods))]
		traceID := uuid.New().String()
		duration := rand.Intn(500)
		time.Sleep(time.Duration(duration) * time.Millisecond)

		status := 200
		eventType := "request"
		if rand.Float32() >= 0.95 {
			status = 500
			eventType = "error"
		}

		a.Send(agent.Event{
			EventType: eventType,
			Summary:   method + " " + endpoint,
			TraceID:   traceID,
			SpanID:    "http",
			Payload: map[string]interface{}{
				"method":      method,
				"endpoint":    endpoint,
				"status_code": status,
				"duration":    duration,
			},
		})
	}
}

func simulateJobs(a *agent.Agent) {
	jobs := []string{"cleanup", "report", "sync", "backup"}
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	for range ticker.C {
		job := jobs[rand.Intn(len(jobs))]
		start := time.Now()
		time.Sleep(time.Duration(rand.Intn(2000)) * time.Millisecond)

		if rand.Float32() < 0.1 {
			a.Error(fmt.Errorf("job %s: deadline exceeded", job), "Background job failed")
			continue
		}
		a.Track("job", "Background job completed", map[string]interface{}{
			"job":      job,
			"duration": time.Since(start).Milliseconds(),
		})
	}
}

func getHostname() string {
	hostname, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return hostname
}
