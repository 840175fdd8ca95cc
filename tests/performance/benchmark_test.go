package performance

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arrdeck/arrdeck/pkg/eventbus"
	"github.com/arrdeck/arrdeck/pkg/tasks"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// BenchmarkBusPublish measures synchronous delivery to a typical handler
// count per topic.
func BenchmarkBusPublish(b *testing.B) {
	bus := eventbus.New(quietLogger())
	for i := 0; i < 8; i++ {
		bus.Subscribe("bench.topic", "owner", func(eventbus.Event) error {
			return nil
		})
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		bus.Publish("bench.topic", "bench", i)
	}
}

// BenchmarkBusPublishParallel measures publishers racing subscribe churn.
func BenchmarkBusPublishParallel(b *testing.B) {
	bus := eventbus.New(quietLogger())
	bus.Subscribe("bench.topic", "owner", func(eventbus.Event) error {
		return nil
	})

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			bus.Publish("bench.topic", "bench", nil)
		}
	})
}

// BenchmarkTaskRoundTrip measures submit-to-completion latency through the
// worker pool.
func BenchmarkTaskRoundTrip(b *testing.B) {
	runner := tasks.NewRunner(4, 256, quietLogger())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		runner.Stop(ctx)
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range runner.Completions() {
		}
	}()

	policy := tasks.Policy{MaxAttempts: 1}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		for {
			if _, err := runner.Submit(func(context.Context) (any, error) {
				return nil, nil
			}, policy, "bench"); err == nil {
				break
			}
			// Queue full: let workers drain.
			time.Sleep(time.Microsecond)
		}
	}
	b.StopTimer()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	runner.Stop(ctx)
	wg.Wait()
}
