package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	pollInterval = 250 * time.Millisecond
	maxLineSize  = 1024 * 1024
)

// Options controls a Tail call. A negative Offset starts from the last Limit
// matching lines; otherwise reading resumes at Offset.
type Options struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
	Match  func(line string) bool
}

// Result carries the lines read and the offset to resume from.
type Result struct {
	Lines  []string
	Offset int64
}

// TaskFilter matches lines that mention taskID. An empty id matches every
// line.
func TaskFilter(taskID string) func(string) bool {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil
	}
	return func(line string) bool { return strings.Contains(line, taskID) }
}

// Tail reads from the log file at path. A missing file yields no lines.
func Tail(ctx context.Context, path string, opts Options) (Result, error) {
	result := Result{Offset: opts.Offset}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.Offset = 0
			return result, nil
		}
		return result, fmt.Errorf("stat log file: %w", err)
	}
	if info.IsDir() {
		return result, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	if opts.Offset < 0 {
		lines, offset, err := readLast(path, opts.Limit, opts.Match)
		if err != nil {
			return result, err
		}
		result = Result{Lines: lines, Offset: offset}
	} else {
		offset := opts.Offset
		if offset > info.Size() {
			// The file was truncated or rotated.
			offset = 0
		}
		lines, next, err := readForward(path, offset, opts.Match)
		if err != nil {
			return result, err
		}
		result = Result{Lines: lines, Offset: next}
	}

	if opts.Follow && opts.Wait > 0 && len(result.Lines) == 0 {
		return waitForLines(ctx, path, result.Offset, opts.Wait, opts.Match)
	}
	return result, nil
}

// Follow prints the last Limit lines through emit and then keeps emitting
// appended lines until ctx ends.
func Follow(ctx context.Context, path string, opts Options, emit func([]string) error) error {
	opts.Offset = -1
	opts.Follow = false
	result, err := Tail(ctx, path, opts)
	if err != nil {
		return err
	}
	for {
		if len(result.Lines) > 0 {
			if err := emit(result.Lines); err != nil {
				return err
			}
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		result, err = Tail(ctx, path, Options{
			Offset: result.Offset,
			Follow: true,
			Wait:   time.Second,
			Match:  opts.Match,
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

func readLast(path string, limit int, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		offset, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("seek log file: %w", err)
		}
		return nil, offset, nil
	}

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	ring := make([]string, limit)
	count, idx := 0, 0
	var offset int64
	for scanner.Scan() {
		line := scanner.Text()
		offset += int64(len(scanner.Bytes())) + 1
		if match != nil && !match(line) {
			continue
		}
		ring[idx] = line
		idx = (idx + 1) % limit
		if count < limit {
			count++
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read log file: %w", err)
	}

	if info, err := file.Stat(); err == nil && offset > info.Size() {
		offset = info.Size()
	}

	lines := make([]string, count)
	if count == limit {
		for i := range count {
			lines[i] = ring[(idx+i)%limit]
		}
	} else {
		copy(lines, ring[:count])
	}
	return lines, offset, nil
}

// readForward returns the complete lines after offset. A trailing partial
// line is left for the next call.
func readForward(path string, offset int64, match func(string) bool) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64*1024)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("read log file: %w", err)
		}
		offset += int64(len(line))
		line = strings.TrimRight(line, "\r\n")
		if match != nil && !match(line) {
			continue
		}
		lines = append(lines, line)
	}
	return lines, offset, nil
}

func waitForLines(ctx context.Context, path string, offset int64, wait time.Duration, match func(string) bool) (Result, error) {
	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	result := Result{Offset: offset}
	for {
		lines, next, err := readForward(path, result.Offset, match)
		if err != nil {
			return result, err
		}
		result.Offset = next
		if len(lines) > 0 {
			result.Lines = lines
			return result, nil
		}
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
