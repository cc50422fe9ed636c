package workerpool_test

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/vnykmshr/hellopool/pkg/scheduling/workerpool"
)

// Example demonstrates basic usage of the worker pool
func Example() {
	pool, err := workerpool.New(1)
	if err != nil {
		log.Fatal(err)
	}

	for i := 1; i <= 3; i++ {
		i := i
		if err := pool.Submit(workerpool.Func(func() {
			fmt.Println("task", i)
		})); err != nil {
			log.Printf("Failed to submit task: %v", err)
		}
	}

	// Close drains the queue before returning.
	if err := pool.Close(); err != nil {
		log.Fatal(err)
	}

	// Output:
	// task 1
	// task 2
	// task 3
}

// Example_hooks demonstrates observing task outcomes through hooks.
func Example_hooks() {
	var mu sync.Mutex
	failures := 0

	pool, err := workerpool.NewWithConfig(workerpool.Config{
		WorkerCount: 4,
		QueueSize:   100,
		OnTaskComplete: func(workerID int, result workerpool.Result) {
			if result.Error != nil {
				mu.Lock()
				failures++
				mu.Unlock()
			}
		},
	})
	if err != nil {
		log.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		i := i
		_ = pool.Submit(workerpool.TaskFunc(func(ctx context.Context) error {
			if i%5 == 0 {
				return fmt.Errorf("task %d failed", i)
			}
			return nil
		}))
	}
	_ = pool.Close()

	fmt.Println("failures:", failures)
	fmt.Println("completed:", pool.TotalCompleted())

	// Output:
	// failures: 2
	// completed: 10
}

// Example_zeroWorkers shows that an empty pool is rejected up front.
func Example_zeroWorkers() {
	_, err := workerpool.New(0)
	fmt.Println(err)

	// Output:
	// workerpool: invalid WorkerCount=0 (must be positive) - value must be greater than 0
}
