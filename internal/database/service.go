package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/ZanzyTHEbar/onset-explainer/internal/errors"
	"github.com/ZanzyTHEbar/onset-explainer/internal/monitoring"
	"github.com/ZanzyTHEbar/onset-explainer/internal/resilience"
)

// AuditService writes predictions off the request path and enforces the
// retention window.
type AuditService struct {
	repo          *Repository
	logger        *monitoring.Logger
	retentionDays int

	queue   chan *Prediction
	wg      sync.WaitGroup
	closeMu sync.RWMutex
	closed  bool

	now func() time.Time
}

// AuditConfig configures the writer
type AuditConfig struct {
	QueueSize     int
	RetentionDays int
}

// NewAuditService starts the background writer
func NewAuditService(repo *Repository, config AuditConfig, logger *monitoring.Logger) *AuditService {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.RetentionDays <= 0 {
		config.RetentionDays = 365
	}
	if logger == nil {
		logger = monitoring.NewLogger("info")
	}

	s := &AuditService{
		repo:          repo,
		logger:        logger,
		retentionDays: config.RetentionDays,
		queue:         make(chan *Prediction, config.QueueSize),
		now:           time.Now,
	}

	s.wg.Add(1)
	go s.writer()

	return s
}

func (s *AuditService) writer() {
	defer s.wg.Done()

	for p := range s.queue {
		errors.SafeExecute(func() { s.write(p) }, func(r any) {
			s.logger.Error("Prediction audit writer panicked", "id", p.ID, "panic", fmt.Sprint(r))
		})
	}
}

func (s *AuditService) write(p *Prediction) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := resilience.RetryWithConfig(ctx, writeRetry, func() error {
		return s.repo.InsertPrediction(ctx, p)
	})
	if err != nil {
		s.logger.Error("Failed to write prediction audit", "id", p.ID, "error", err)
	}
}

// writeRetry rides out short lock contention on the SQLite file
var writeRetry = resilience.RetryConfig{
	MaxAttempts:     4,
	InitialDelay:    20 * time.Millisecond,
	MaxDelay:        500 * time.Millisecond,
	BackoffFactor:   2,
	JitterEnabled:   true,
	RetryableErrors: isBusy,
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !stderrors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

// Record queues p for writing. It never blocks; when the queue is full or
// the service is closed the record is dropped and false is returned.
func (s *AuditService) Record(p *Prediction) bool {
	s.closeMu.RLock()
	defer s.closeMu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.queue <- p:
		return true
	default:
		s.logger.Warn("Prediction audit queue full, dropping record", "id", p.ID)
		return false
	}
}

// Get loads an audited prediction
func (s *AuditService) Get(ctx context.Context, id string) (*Prediction, error) {
	return s.repo.GetPrediction(ctx, id)
}

// LabelCounts reports the audited label distribution for a model
func (s *AuditService) LabelCounts(ctx context.Context, modelName string) ([]LabelCount, error) {
	return s.repo.LabelCounts(ctx, modelName)
}

// PurgeOlderThan deletes predictions older than days
func (s *AuditService) PurgeOlderThan(ctx context.Context, days int) (int64, error) {
	cutoff := s.now().AddDate(0, 0, -days)
	n, err := s.repo.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	s.logger.Info("Purged expired prediction audits", "deleted", n, "retention_days", days)
	return n, nil
}

// StartRetention purges once immediately and then every interval until ctx
// is done.
func (s *AuditService) StartRetention(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			if _, err := s.PurgeOlderThan(ctx, s.retentionDays); err != nil {
				s.logger.Error("Failed to purge prediction audits", "error", err)
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()
}

// Close stops accepting records and waits for queued writes
func (s *AuditService) Close() {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.closeMu.Unlock()

	s.wg.Wait()
}
