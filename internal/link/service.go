package link

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"paylink-service/internal/model"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	defaultExpiresInDays = 30
	defaultListLimit     = 100
	defaultDescription   = "Card on File Request"

	// insertAttempts bounds the retry loop on link ID collisions.
	insertAttempts = 5
)

var (
	linkCreatedCounter   = metrics.GetOrCreateCounter(`payment_link_lifecycle_total{event="created"}`)
	linkCompletedCounter = metrics.GetOrCreateCounter(`payment_link_lifecycle_total{event="completed"}`)
	linkCancelledCounter = metrics.GetOrCreateCounter(`payment_link_lifecycle_total{event="cancelled"}`)
	linkExpiredCounter   = metrics.GetOrCreateCounter(`payment_link_lifecycle_total{event="expired"}`)
	linkDeletedCounter   = metrics.GetOrCreateCounter(`payment_link_lifecycle_total{event="deleted"}`)
)

// Config carries the tunables of the lifecycle service.
type Config struct {
	ExpiresInDays int           // default TTL for new links
	ListLimit     int           // default cap for List
	NewID         func() string // link ID generator, nil selects NewLinkID
}

// CreateParams is the caller-supplied part of a new payment link.
type CreateParams struct {
	CustomerEmail string
	CustomerName  string
	CustomerID    string
	InvoiceNumber string
	Amount        *float64
	Description   string
	ExpiresInDays *int
}

// ListFilter narrows and bounds a List call.
type ListFilter struct {
	Status model.Status
	Limit  int
}

// Service owns the payment link state machine. All mutations of a single
// link are serialized through a per-link lock, so concurrent transitions
// observe each other and the second of two racing completions fails.
type Service struct {
	repo      Repository
	clock     Clock
	publisher EventPublisher
	logger    *slog.Logger
	cfg       Config

	// locks grows one entry per distinct ID and is never reclaimed:
	// removing an entry while a goroutine still holds its mutex would let
	// a second mutex exist for the same ID.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewService wires a lifecycle service. clock may be nil for real time,
// publisher may be nil to disable lifecycle events.
func NewService(repo Repository, clock Clock, publisher EventPublisher, logger *slog.Logger, cfg Config) *Service {
	if clock == nil {
		clock = SystemClock{}
	}
	if cfg.ExpiresInDays <= 0 {
		cfg.ExpiresInDays = defaultExpiresInDays
	}
	if cfg.ListLimit <= 0 {
		cfg.ListLimit = defaultListLimit
	}
	if cfg.NewID == nil {
		cfg.NewID = NewLinkID
	}
	return &Service{
		repo:      repo,
		clock:     clock,
		publisher: publisher,
		logger:    logger,
		cfg:       cfg,
		locks:     make(map[string]*sync.Mutex),
	}
}

// lock acquires the per-link mutex and returns its release func.
func (s *Service) lock(id string) func() {
	s.mu.Lock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// NewLinkID derives a short human-enterable ID from a fresh UUIDv4,
// e.g. "A1B2C3D4".
func NewLinkID() string {
	return strings.ToUpper(strings.SplitN(uuid.NewString(), "-", 2)[0])
}

// NormalizeID maps caller-supplied IDs onto the stored uppercase form.
func NormalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Create validates the input, fills defaults and inserts a pending link.
// ID collisions are retried internally with a fresh ID.
func (s *Service) Create(ctx context.Context, params CreateParams) (*model.PaymentLink, error) {
	if strings.TrimSpace(params.CustomerEmail) == "" {
		return nil, &model.ValidationError{Field: "customerEmail", Reason: "is required"}
	}
	if params.Amount != nil && *params.Amount < 0 {
		return nil, &model.ValidationError{Field: "amount", Reason: "must not be negative"}
	}

	days := s.cfg.ExpiresInDays
	if params.ExpiresInDays != nil {
		days = *params.ExpiresInDays
	}

	var linkErr error
	for i := 0; i < insertAttempts; i++ {
		id := s.cfg.NewID()
		now := s.clock.Now()

		l := &model.PaymentLink{
			LinkID:        id,
			CustomerEmail: params.CustomerEmail,
			CustomerName:  params.CustomerName,
			CustomerID:    params.CustomerID,
			InvoiceNumber: params.InvoiceNumber,
			Amount:        params.Amount,
			Description:   params.Description,
			Status:        model.StatusPending,
			CreatedAt:     now,
			ExpiresAt:     now.Add(time.Duration(days) * 24 * time.Hour),
		}
		if l.CustomerID == "" {
			l.CustomerID = "CUST-" + id
		}
		if l.InvoiceNumber == "" {
			l.InvoiceNumber = "INV-" + id
		}
		if l.Description == "" {
			l.Description = defaultDescription
		}

		linkErr = s.repo.Insert(ctx, l)
		if errors.Is(linkErr, model.ErrConflict) {
			s.logger.WarnContext(ctx, "Link ID collision, retrying with a fresh ID", "linkId", id)
			continue
		}
		if linkErr != nil {
			return nil, linkErr
		}

		s.logger.InfoContext(ctx, "Created payment link", "linkId", id, "customerEmail", l.CustomerEmail)
		linkCreatedCounter.Inc()
		s.publish(ctx, model.EventCreated, l)
		return l, nil
	}

	return nil, errors.Wrapf(linkErr, "giving up after %d insert attempts", insertAttempts)
}

// Get returns the link, first applying the lazy expiry rule so callers never
// observe a pending link past its deadline.
func (s *Service) Get(ctx context.Context, id string) (*model.PaymentLink, error) {
	l, err := s.repo.SelectByID(ctx, NormalizeID(id))
	if err != nil {
		return nil, err
	}
	return s.expireIfDue(ctx, l)
}

// List applies lazy expiry to every pending record, filters by exact status
// if requested, sorts newest-first and truncates to the limit.
func (s *Service) List(ctx context.Context, filter ListFilter) ([]*model.PaymentLink, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, &model.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown value %q", filter.Status)}
	}

	all, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	links := all[:0]
	for _, l := range all {
		if filter.Status == "" || l.Status == filter.Status {
			links = append(links, l)
		}
	}

	sort.Slice(links, func(i, j int) bool {
		return links[i].CreatedAt.After(links[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = s.cfg.ListLimit
	}
	if len(links) > limit {
		links = links[:limit]
	}
	return links, nil
}

// Stats counts links per status after lazy-expiry normalization.
func (s *Service) Stats(ctx context.Context) (*model.Stats, error) {
	all, err := s.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	stats := &model.Stats{Total: len(all)}
	for _, l := range all {
		switch l.Status {
		case model.StatusPending:
			stats.Pending++
		case model.StatusCompleted:
			stats.Completed++
		case model.StatusExpired:
			stats.Expired++
		case model.StatusCancelled:
			stats.Cancelled++
		}
	}
	return stats, nil
}

// Complete transitions a pending, unexpired link to completed and records
// the processor's result. Exactly one of two racing completions succeeds.
func (s *Service) Complete(ctx context.Context, id, maskedCardNumber, processorCustomerID string) (*model.PaymentLink, error) {
	id = NormalizeID(id)
	unlock := s.lock(id)
	defer unlock()

	l, err := s.repo.SelectByID(ctx, id)
	if err != nil {
		return nil, err
	}

	expired, err := s.expireLocked(ctx, l)
	if err != nil {
		return nil, err
	}
	if expired || l.Status != model.StatusPending {
		return nil, model.InvalidTransition("complete", l.Status)
	}

	now := s.clock.Now()
	l.Status = model.StatusCompleted
	l.CompletedAt = &now
	l.MaskedCardNumber = maskedCardNumber
	l.ProcessorCustomerID = processorCustomerID

	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Completed payment link", "linkId", id, "processorCustomerId", processorCustomerID)
	linkCompletedCounter.Inc()
	s.publish(ctx, model.EventCompleted, l)
	return l, nil
}

// Cancel transitions a pending link to cancelled.
func (s *Service) Cancel(ctx context.Context, id string) (*model.PaymentLink, error) {
	id = NormalizeID(id)
	unlock := s.lock(id)
	defer unlock()

	l, err := s.repo.SelectByID(ctx, id)
	if err != nil {
		return nil, err
	}

	expired, err := s.expireLocked(ctx, l)
	if err != nil {
		return nil, err
	}
	if expired || l.Status != model.StatusPending {
		return nil, model.InvalidTransition("cancel", l.Status)
	}

	l.Status = model.StatusCancelled
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}

	s.logger.InfoContext(ctx, "Cancelled payment link", "linkId", id)
	linkCancelledCounter.Inc()
	s.publish(ctx, model.EventCancelled, l)
	return l, nil
}

// Delete removes the link regardless of status. Returns model.ErrNotFound
// if it does not exist.
func (s *Service) Delete(ctx context.Context, id string) error {
	id = NormalizeID(id)
	unlock := s.lock(id)
	defer unlock()

	deleted, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !deleted {
		return model.ErrNotFound
	}

	s.logger.InfoContext(ctx, "Deleted payment link", "linkId", id)
	linkDeletedCounter.Inc()
	return nil
}

// MarkEmailSent stamps the time the link email went out. Any status is
// accepted; the mutation touches only the timestamp.
func (s *Service) MarkEmailSent(ctx context.Context, id string) (*model.PaymentLink, error) {
	id = NormalizeID(id)
	unlock := s.lock(id)
	defer unlock()

	l, err := s.repo.SelectByID(ctx, id)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	l.EmailSentAt = &now
	if err := s.repo.Update(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// snapshot scans the store with lazy expiry applied to every record.
func (s *Service) snapshot(ctx context.Context) ([]*model.PaymentLink, error) {
	all, err := s.repo.SelectAll(ctx)
	if err != nil {
		return nil, err
	}
	for i, l := range all {
		normalized, err := s.expireIfDue(ctx, l)
		if errors.Is(err, model.ErrNotFound) {
			// deleted between scan and expiry check, keep the snapshot view
			continue
		}
		if err != nil {
			return nil, err
		}
		all[i] = normalized
	}
	return all, nil
}

// expireIfDue persists the pending → expired transition when the deadline
// has passed. The record is re-read under the per-link lock so a concurrent
// completion is never overwritten with a stale row image.
func (s *Service) expireIfDue(ctx context.Context, l *model.PaymentLink) (*model.PaymentLink, error) {
	if l.Status != model.StatusPending || !s.clock.Now().After(l.ExpiresAt) {
		return l, nil
	}

	unlock := s.lock(l.LinkID)
	defer unlock()

	l, err := s.repo.SelectByID(ctx, l.LinkID)
	if err != nil {
		return nil, err
	}
	if _, err := s.expireLocked(ctx, l); err != nil {
		return nil, err
	}
	return l, nil
}

// expireLocked applies the lazy expiry rule to a record whose per-link lock
// is already held. Reports whether the record was transitioned.
func (s *Service) expireLocked(ctx context.Context, l *model.PaymentLink) (bool, error) {
	if l.Status != model.StatusPending || !s.clock.Now().After(l.ExpiresAt) {
		return false, nil
	}

	l.Status = model.StatusExpired
	if err := s.repo.Update(ctx, l); err != nil {
		return false, err
	}

	s.logger.InfoContext(ctx, "Expired payment link", "linkId", l.LinkID)
	linkExpiredCounter.Inc()
	s.publish(ctx, model.EventExpired, l)
	return true, nil
}

func (s *Service) publish(ctx context.Context, event string, l *model.PaymentLink) {
	if s.publisher == nil {
		return
	}
	evt := model.LinkEvent{
		Event:      event,
		LinkID:     l.LinkID,
		Status:     l.Status,
		OccurredAt: s.clock.Now(),
	}
	if err := s.publisher.Publish(ctx, evt); err != nil {
		s.logger.ErrorContext(ctx, "Error publishing lifecycle event", "event", event, "linkId", l.LinkID, "error", err)
	}
}
