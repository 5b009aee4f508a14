// Package scanner polls the scan root for user registration folders and
// turns every dataset directory found there into a registration request.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/qbicsoftware/data-scanner/internal/logging"
	"github.com/qbicsoftware/data-scanner/internal/preflight"
	"github.com/qbicsoftware/data-scanner/internal/queue"
	"github.com/qbicsoftware/data-scanner/internal/taskdir"
)

// Queue receives the requests produced by a scan. Add may block.
type Queue interface {
	Add(ctx context.Context, req queue.Request) error
}

// Observer is notified after every scan pass.
type Observer interface {
	ObserveScan(tracked, submitted, enqueued int)
}

// Options configures a Scanner.
type Options struct {
	Root                string
	Interval            time.Duration
	Ignore              []string
	RegistrationDirName string
}

// Scanner discovers datasets. It is driven by a single goroutine; the
// accessor methods may be called concurrently.
type Scanner struct {
	root       string
	interval   time.Duration
	regDirName string
	ignore     map[string]struct{}
	queue      Queue
	observer   Observer
	logger     *slog.Logger

	mu        sync.Mutex
	tracked   map[string]struct{}
	submitted map[queue.Key]string
}

// New validates the scan root and builds a scanner feeding q.
func New(opts Options, q Queue, observer Observer, logger *slog.Logger) (*Scanner, error) {
	if err := preflight.EvaluateExistenceAndDirectory(opts.Root); err != nil {
		return nil, fmt.Errorf("scanner directory: %w", err)
	}
	if q == nil {
		return nil, fmt.Errorf("scanner requires a queue")
	}
	if opts.RegistrationDirName == "" {
		return nil, fmt.Errorf("scanner requires a registration directory name")
	}
	ignore := make(map[string]struct{}, len(opts.Ignore))
	for _, name := range opts.Ignore {
		ignore[name] = struct{}{}
	}
	logger = logging.NewComponentLogger(logger, "scanner")
	if len(ignore) > 0 {
		logger.Info("ignoring user directories", logging.Int("count", len(ignore)))
	}
	return &Scanner{
		root:       opts.Root,
		interval:   opts.Interval,
		regDirName: opts.RegistrationDirName,
		ignore:     ignore,
		queue:      q,
		observer:   observer,
		logger:     logger,
		tracked:    make(map[string]struct{}),
		submitted:  make(map[queue.Key]string),
	}, nil
}

// Run scans until ctx is cancelled.
func (s *Scanner) Run(ctx context.Context) error {
	s.logger.Info("started scanning", logging.String(logging.FieldPath, s.root))
	defer s.logger.Info("stopped scanning", logging.String(logging.FieldPath, s.root))
	for {
		if _, err := s.Scan(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logging.WarnWithContext(s.logger, "scan pass failed", "scan_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check that the scanner directory is readable"),
				logging.String(logging.FieldImpact, "new datasets are not picked up until the next pass"),
			)
		}
		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// Scan performs one pass and returns how many new requests were enqueued.
func (s *Scanner) Scan(ctx context.Context) (int, error) {
	if err := s.discoverRegistrationDirs(); err != nil {
		return 0, err
	}

	requests := s.detectDatasets()
	s.pruneSubmitted()

	enqueued := 0
	for _, req := range requests {
		key := req.Key()
		s.mu.Lock()
		_, seen := s.submitted[key]
		s.mu.Unlock()
		if seen {
			s.logger.Debug("skipping known registration request", logging.String(logging.FieldPath, req.Target))
			continue
		}
		if err := s.queue.Add(ctx, req); err != nil {
			return enqueued, err
		}
		s.mu.Lock()
		s.submitted[key] = req.Target
		s.mu.Unlock()
		enqueued++
		s.logger.Info("new registration requested",
			logging.String(logging.FieldPath, req.Target),
			logging.String("user", req.UserPath),
		)
	}

	s.removeZombies()
	if s.observer != nil {
		s.observer.ObserveScan(s.TrackedCount(), s.SubmittedCount(), enqueued)
	}
	return enqueued, nil
}

func (s *Scanner) discoverRegistrationDirs() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("list scanner directory: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if _, skip := s.ignore[name]; skip {
			continue
		}
		userDir := filepath.Join(s.root, name)
		if !isDir(userDir) {
			continue
		}
		regDir := filepath.Join(userDir, s.regDirName)
		if !isDir(regDir) {
			continue
		}
		s.mu.Lock()
		_, known := s.tracked[regDir]
		if !known {
			s.tracked[regDir] = struct{}{}
		}
		s.mu.Unlock()
		if !known {
			s.logger.Info("new user registration directory found", logging.String(logging.FieldPath, regDir))
		}
	}
	return nil
}

func (s *Scanner) detectDatasets() []queue.Request {
	var requests []queue.Request
	for _, regDir := range s.Tracked() {
		if !s.eligible(regDir) {
			continue
		}
		entries, err := os.ReadDir(regDir)
		if err != nil {
			// The folder may vanish between discovery and listing.
			s.logger.Debug("cannot list registration directory", logging.String(logging.FieldPath, regDir), logging.Error(err))
			continue
		}
		userPath := filepath.Dir(regDir)
		for _, entry := range entries {
			dataset := filepath.Join(regDir, entry.Name())
			if !s.eligible(dataset) {
				continue
			}
			info, err := os.Stat(dataset)
			if err != nil {
				continue
			}
			requests = append(requests, queue.NewRequest(dataset, info.ModTime(), userPath))
		}
	}
	return requests
}

// eligible applies the visibility, type and access filters to path.
func (s *Scanner) eligible(path string) bool {
	if taskdir.IsHidden(filepath.Base(path)) || !isDir(path) {
		return false
	}
	if !preflight.CanWriteAndExecute(path) {
		logging.WarnWithContext(s.logger, "cannot write to or traverse directory", "scan_access_denied",
			logging.String(logging.FieldPath, path),
			logging.String(logging.FieldErrorHint, "grant the scanner write and execute permission"),
			logging.String(logging.FieldImpact, "directory is skipped"),
		)
		return false
	}
	return true
}

// pruneSubmitted forgets requests whose dataset has left the inbox so the
// same dataset can be registered again if a user moves it back.
func (s *Scanner) pruneSubmitted() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, target := range s.submitted {
		if !taskdir.Exists(target) {
			delete(s.submitted, key)
		}
	}
}

func (s *Scanner) removeZombies() {
	s.mu.Lock()
	var zombies []string
	for dir := range s.tracked {
		if !taskdir.Exists(dir) {
			zombies = append(zombies, dir)
			delete(s.tracked, dir)
		}
	}
	s.mu.Unlock()
	for _, zombie := range zombies {
		logging.WarnWithContext(s.logger, "removing orphaned registration directory", "scan_zombie_removed",
			logging.String(logging.FieldPath, zombie),
			logging.String(logging.FieldImpact, "directory is no longer scanned"),
		)
	}
}

// Tracked returns the registration folders being watched, sorted.
func (s *Scanner) Tracked() []string {
	s.mu.Lock()
	dirs := make([]string, 0, len(s.tracked))
	for dir := range s.tracked {
		dirs = append(dirs, dir)
	}
	s.mu.Unlock()
	sort.Strings(dirs)
	return dirs
}

// TrackedCount reports the number of watched registration folders.
func (s *Scanner) TrackedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tracked)
}

// SubmittedCount reports how many requests are remembered for deduplication.
func (s *Scanner) SubmittedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.submitted)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
