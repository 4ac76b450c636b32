package concurrent

import (
	"golang.org/x/sync/errgroup"

	"github.com/scenesync/scenesync/pkg/sequence"
)

// Concurrent runs the action function for each element of the iterator in a
// separate goroutine and waits for all of them to finish. If any action
// returns an error, the first error encountered is returned.
func Concurrent[T any](i *sequence.Iterator[T], action func(T) error) error {
	errGroup := errgroup.Group{}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}

		errGroup.Go(func() error {
			return action(value)
		})
	}

	return errGroup.Wait()
}

// ConcurrentLimit runs the action function for each element of the iterator
// with at most limit goroutines in flight. A limit of zero or less means no
// limit. All elements are processed even if some actions fail; the first
// error encountered is returned after the last action finishes.
func ConcurrentLimit[T any](i *sequence.Iterator[T], limit int, action func(T) error) error {
	errGroup := errgroup.Group{}
	if limit > 0 {
		errGroup.SetLimit(limit)
	}
	next, stop := i.Pull()
	defer stop()

	for {
		value, valid := next()
		if !valid {
			break
		}

		errGroup.Go(func() error {
			return action(value)
		})
	}

	return errGroup.Wait()
}
