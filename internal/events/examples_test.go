//go:build events_examples
// +build events_examples

package events_test

import (
	"context"
	"log"
	"time"

	"github.com/example/qubectalk/internal/events"
)

// Example demonstrates basic event bus usage
func Example_basicUsage() {
	ctx := context.Background()
	bus := events.NewInMemoryBus()
	defer bus.Close()

	// Subscribe to program compile events
	bus.Subscribe(ctx, events.EventProgramCompiled, func(e events.Event) {
		log.Printf("Program compiled: %v", e.Payload)
	})

	// Publish an event
	event := events.NewEvent(events.EventProgramCompiled, map[string]string{
		"program_id": "prog-123",
		"stanzas":    "3",
	})

	bus.Publish(ctx, event)
}

// Example demonstrates async event processing
func Example_asyncProcessing() {
	ctx := context.Background()
	// Create async bus with 100 event buffer
	bus := events.NewInMemoryBus(events.WithAsyncDispatch(100))
	defer bus.Close()

	bus.Subscribe(ctx, "*", func(e events.Event) {
		log.Printf("Async event: %s", e.Type)
	})

	// Publish many events quickly
	for i := 0; i < 1000; i++ {
		bus.Publish(ctx, events.NewEvent("test.event", i))
	}

	time.Sleep(100 * time.Millisecond) // Wait for processing
}

// Example demonstrates event correlation
func Example_eventCorrelation() {
	ctx := context.Background()
	bus := events.NewInMemoryBus()
	defer bus.Close()

	correlationID := "request-123"

	// Publish correlated events
	event1 := events.NewEvent(events.EventSimulationStarted, "data").
		WithCorrelation(correlationID).
		WithSource("api")

	event2 := events.NewEvent(events.EventSimulationCompleted, "data").
		WithCorrelation(correlationID).
		WithCausation(event1.ID).
		WithSource("worker")

	bus.Publish(ctx, event1)
	bus.Publish(ctx, event2)
}

// Example demonstrates testing with RecordingBus
func Example_testing() {
	ctx := context.Background()
	bus := events.NewRecordingBus(nil)
	defer bus.Close()

	// Run code that publishes events
	bus.Publish(ctx, events.NewEvent(events.EventSimulationQueued, "data"))
	bus.Publish(ctx, events.NewEvent(events.EventSimulationStarted, "data"))

	// Assert events were published
	if !bus.HasEvent(events.EventSimulationQueued) {
		log.Fatal("expected simulation.queued event")
	}

	events := bus.EventsOfType(events.EventSimulationQueued)
	log.Printf("Found %d simulation.queued events", len(events))

	bus.Clear() // Reset for next test
}

// Example demonstrates NATS distributed messaging (commented out - requires NATS server)
func Example_natsDistributed() {
	// ctx := context.Background()
	//
	// config := events.DefaultNATSConfig()
	// config.URL = "nats://localhost:4222"
	//
	// bus, err := events.NewNATSBus(config)
	// if err != nil {
	// 	log.Fatal(err)
	// }
	// defer bus.Close()
	//
	// // Subscribe on one service
	// bus.Subscribe(ctx, "simulation.completed", func(e events.Event) {
	// 	log.Printf("Simulation completed: %v", e.Payload)
	// })
	//
	// // Publish from another service
	// event := events.NewEvent("simulation.completed", map[string]any{
	// 	"run_id": "run-123",
	// 	"trials": 500,
	// })
	// bus.Publish(ctx, event)
}

// Example demonstrates event store for audit trail
func Example_eventStore() {
	// ctx := context.Background()
	// db, _ := sql.Open("postgres", "...")
	// bus := events.NewInMemoryBus()

	// store, err := events.NewPostgresEventStore(db, bus)
	// if err != nil {
	// 	log.Fatal(err)
	// }

	// // Append events
	// event := events.NewEvent("simulation.completed", runData)
	// store.Append(ctx, event)

	// // Load historical events
	// criteria := events.EventCriteria{
	// 	EventTypes: []string{"simulation.completed"},
	// 	Since:      time.Now().AddDate(0, -1, 0),
	// 	Limit:      100,
	// }

	// events, err := store.Load(ctx, criteria)
	// if err != nil {
	// 	log.Fatal(err)
	// }

	// log.Printf("Found %d events", len(events))
}

// Example demonstrates wildcard subscription
func Example_wildcardSubscription() {
	ctx := context.Background()
	bus := events.NewInMemoryBus()
	defer bus.Close()

	// Subscribe to all events
	bus.Subscribe(ctx, "*", func(e events.Event) {
		log.Printf("[ALL] %s: %v", e.Type, e.Payload)
	})

	// Subscribe to specific events
	bus.Subscribe(ctx, "program.compiled", func(e events.Event) {
		log.Printf("[PROGRAM] New compile: %v", e.Payload)
	})

	// Publish events
	bus.Publish(ctx, events.NewEvent("program.compiled", "program-data"))
	bus.Publish(ctx, events.NewEvent("simulation.queued", "run-data"))
	bus.Publish(ctx, events.NewEvent("simulation.completed", "result-data"))
}

// Example demonstrates metadata usage
func Example_metadata() {
	ctx := context.Background()
	bus := events.NewInMemoryBus()
	defer bus.Close()

	metadata := events.Metadata{
		UserID:    "caller-123",
		TenantID:  "org-456",
		RequestID: "req-789",
		TraceID:   "trace-abc",
		Custom: map[string]any{
			"api_key_prefix": "qk_live_",
			"user_agent":     "Mozilla/5.0...",
		},
	}

	event := events.NewEventWithMetadata(
		events.EventSimulationCompleted,
		map[string]string{"run_id": "run-123"},
		metadata,
	)

	bus.Publish(ctx, event)
}

// Example demonstrates error publishing
func Example_errorPublishing() {
	ctx := context.Background()
	bus := events.NewInMemoryBus()
	defer bus.Close()

	bus.Subscribe(ctx, "error", func(e events.Event) {
		payload := e.Payload.(map[string]any)
		log.Printf("Error from %s: %s", payload["source"], payload["error"])
	})

	// Publish error event
	err := events.PublishError(
		ctx,
		bus,
		"simulation-worker",
		events.ErrBusClosed,
		events.Metadata{UserID: "caller-123"},
	)

	if err != nil {
		log.Fatal(err)
	}
}

// Example demonstrates a saga-like chained-event pattern across compile, queue, and run
func Example_sagaPattern() {
	ctx := context.Background()
	bus := events.NewInMemoryBus()
	defer bus.Close()

	correlationID := "request-123"

	// Step 1: program compiled
	bus.Subscribe(ctx, events.EventProgramCompiled, func(e events.Event) {
		if e.CorrelationID != correlationID {
			return
		}

		// Step 2: queue the run
		queued := events.NewEvent(events.EventSimulationQueued, "run-data").
			WithCorrelation(correlationID).
			WithCausation(e.ID)
		bus.Publish(ctx, queued)
	})

	// Step 2 handler
	bus.Subscribe(ctx, events.EventSimulationQueued, func(e events.Event) {
		if e.CorrelationID != correlationID {
			return
		}

		// Step 3: mark the run started
		started := events.NewEvent(events.EventSimulationStarted, "run-data").
			WithCorrelation(correlationID).
			WithCausation(e.ID)
		bus.Publish(ctx, started)
	})

	// Start the chain
	startEvent := events.NewEvent(events.EventProgramCompiled, "program-data").
		WithCorrelation(correlationID)
	bus.Publish(ctx, startEvent)
}
