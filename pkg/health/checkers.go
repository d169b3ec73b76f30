package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineLimit fails when the process runs more than n goroutines.
func GoroutineLimit(n int) Check {
	return func(context.Context) error {
		if c := runtime.NumGoroutine(); c > n {
			return errors.Errorf("%d goroutines, limit %d", c, n)
		}
		return nil
	}
}
