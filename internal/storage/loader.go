package storage

import (
	"context"
	"fmt"
	"log"
	"time"
)

// CopyFn abstracts a backend's bulk insert capability. Implementations insert
// the provided rows (aligned to 'columns' order) and return the number of rows
// reported as inserted.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// CopyChunks splits rows into chunks of at most chunkSize and calls copyFn for
// each. It returns the total reported by copyFn and the first error.
//
// Cancellation is checked between chunks, never inside one. A progress line
// is logged per chunk when more than one chunk is needed.
func CopyChunks(
	ctx context.Context,
	columns []string,
	rows [][]any,
	chunkSize int,
	copyFn CopyFn,
) (int64, error) {
	if chunkSize <= 0 {
		return 0, fmt.Errorf("chunkSize must be > 0")
	}
	if copyFn == nil {
		return 0, fmt.Errorf("copyFn must not be nil")
	}

	var (
		total  int64
		chunks = (len(rows) + chunkSize - 1) / chunkSize
		start  = time.Now()
	)
	for i := 0; i < len(rows); i += chunkSize {
		if err := ctx.Err(); err != nil {
			return total, err
		}
		end := min(i+chunkSize, len(rows))
		n, err := copyFn(ctx, columns, rows[i:end])
		total += n
		if err != nil {
			log.Printf("loader: copy failed chunk=%d/%d inserted=%d total=%d err=%v", i/chunkSize+1, chunks, n, total, err)
			return total, err
		}
		if chunks > 1 {
			elapsed := time.Since(start)
			rps := float64(0)
			if elapsed > 0 {
				rps = float64(total) / elapsed.Seconds()
			}
			log.Printf("loader: chunk #%d/%d rps=%.0f inserted=%d total_inserted=%d elapsed=%s",
				i/chunkSize+1, chunks, rps, n, total, elapsed.Truncate(time.Millisecond))
		}
	}
	return total, nil
}
