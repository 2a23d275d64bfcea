package concurrent

import (
	"sync"

	"golang.org/x/sync/errgroup"
)

// ForEach runs the action function for each element of items in a separate
// goroutine. It waits for all goroutines to finish and returns the first
// error encountered.
func ForEach[T any](items []T, action func(T) error) error {
	errGroup := errgroup.Group{}

	for _, item := range items {
		errGroup.Go(func() error {
			return action(item)
		})
	}

	return errGroup.Wait()
}

// ForEachMute runs the action function for each element of items in a
// separate goroutine, waits for all goroutines to finish, and ignores any
// errors encountered.
func ForEachMute[T any](items []T, action func(T) error) {
	wg := sync.WaitGroup{}

	for _, item := range items {
		wg.Add(1)
		go func(item T) {
			defer wg.Done()
			_ = action(item)
		}(item)
	}

	wg.Wait()
}
