package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// TailOptions control one Tail call. A negative Offset asks for the newest
// Limit lines; Follow with a positive Wait blocks until new lines arrive or
// the wait expires.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads daemon log lines. A missing file is not an error: the daemon
// may not have logged yet, so the caller gets an empty result at offset 0.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	var (
		result TailResult
		err    error
	)
	if opts.Offset < 0 {
		result, err = tailNewest(path, opts.Limit)
	} else {
		result, err = readAfter(path, opts.Offset)
	}
	if err != nil || !opts.Follow || opts.Wait == 0 || len(result.Lines) > 0 {
		return result, err
	}
	return pollForLines(ctx, path, result.Offset, opts.Wait)
}

// tailNewest returns the last limit lines and the end-of-file offset.
func tailNewest(path string, limit int) (TailResult, error) {
	file, size, err := openLog(path)
	if err != nil || file == nil {
		return TailResult{}, err
	}
	defer file.Close()

	result := TailResult{Offset: size}
	if limit <= 0 {
		return result, nil
	}

	ring := make([]string, limit)
	total := 0
	scanner := newLineScanner(file)
	for scanner.Scan() {
		ring[total%limit] = scanner.Text()
		total++
	}
	if err := scanner.Err(); err != nil {
		return TailResult{}, fmt.Errorf("read log file: %w", err)
	}

	count := total
	if count > limit {
		count = limit
	}
	result.Lines = make([]string, 0, count)
	for i := total - count; i < total; i++ {
		result.Lines = append(result.Lines, ring[i%limit])
	}
	return result, nil
}

// readAfter returns all complete lines past offset and the offset to resume
// from. An offset beyond the current size (a rotated or truncated file)
// restarts from the end.
func readAfter(path string, offset int64) (TailResult, error) {
	file, size, err := openLog(path)
	if err != nil || file == nil {
		return TailResult{}, err
	}
	defer file.Close()

	if offset > size {
		offset = size
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return TailResult{}, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	scanner := newLineScanner(file)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return TailResult{}, fmt.Errorf("read log file: %w", err)
	}
	next, err := file.Seek(0, io.SeekCurrent)
	if err != nil {
		return TailResult{}, fmt.Errorf("determine log offset: %w", err)
	}
	return TailResult{Lines: lines, Offset: next}, nil
}

// openLog opens the log file and reports its size. A missing file yields a
// nil handle without an error.
func openLog(path string) (*os.File, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		file.Close()
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		file.Close()
		return nil, 0, fmt.Errorf("log path %q is a directory", path)
	}
	return file, info.Size(), nil
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return scanner
}

// pollForLines re-reads until a line lands, the wait expires, or the
// context ends.
func pollForLines(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		result, err := readAfter(path, offset)
		if err != nil || len(result.Lines) > 0 {
			return result, err
		}
		offset = result.Offset
		if time.Now().After(deadline) {
			return result, nil
		}
		select {
		case <-ctx.Done():
			return result, ctx.Err()
		case <-ticker.C:
		}
	}
}
