package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	total int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Event) error {
	s.total += len(batch)
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting an event and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 1,
		MaxBatchWait:   time.Second,
	}, sink)

	hub.Emit(Event{
		TaskID:   1,
		TaskKind: "full",
		TS:       time.Unix(0, 0),
		Stage:    StageTaskStart,
	})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("events forwarded: %d\n", sink.total)
	// Output:
	// events forwarded: 1
}

// ExampleSink implements a custom Sink that tallies upsert decisions.
func ExampleSink() {
	decisions := map[string]int{}
	capture := sinkFunc(func(_ context.Context, batch []Event) error {
		for _, evt := range batch {
			if evt.Stage == StageItemDone {
				decisions[evt.Decision]++
			}
		}
		return nil
	})
	hub := NewHub(Config{
		BufferSize:     4,
		MaxBatchEvents: 4,
		MaxBatchWait:   time.Second,
	}, capture)

	for _, decision := range []string{"insert", "skip", "insert"} {
		hub.Emit(Event{
			TaskID:   2,
			TaskKind: "full",
			TS:       time.Unix(0, 0),
			Stage:    StageItemDone,
			Item:     "site",
			Decision: decision,
		})
	}
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("insert=%d skip=%d\n", decisions["insert"], decisions["skip"])
	// Output:
	// insert=2 skip=1
}

type sinkFunc func(context.Context, []Event) error

func (f sinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

func (sinkFunc) Close(context.Context) error {
	return nil
}
