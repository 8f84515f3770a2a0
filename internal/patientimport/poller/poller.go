// Package poller runs record discovery and document queries for a created patient and waits for
// documents to show up, notifying the customer exactly once.
package poller

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/metriport/metriport-sub005/internal/coreapi"
	"github.com/metriport/metriport-sub005/internal/patientimport/domain"
	"github.com/metriport/metriport-sub005/internal/retry"
	"github.com/metriport/metriport-sub005/shared/logger"
)

const statusCompleted = "completed"

// Options tune the polling budget
type Options struct {
	PollInterval    time.Duration
	MaxPollDuration time.Duration
	MaxAttempts     int
	MinResults      int
	MaxJitter       time.Duration
	BaseDelay       time.Duration
}

// DefaultOptions returns the production polling budget
func DefaultOptions() Options {
	return Options{
		PollInterval:    10 * time.Second,
		MaxPollDuration: 71 * time.Second,
		MaxAttempts:     1,
		MinResults:      1,
		MaxJitter:       time.Second,
		BaseDelay:       200 * time.Millisecond,
	}
}

// Request identifies the patient to query
type Request struct {
	CxID      string
	PatientID string
	// RequestID is used by the first attempt; later attempts get fresh ids
	RequestID string
	Params    domain.JobParams
	// Notify asks for the customer webhook once documents are found
	Notify bool
}

// Result of Poll. IsComplete=false is not an error.
type Result struct {
	AttemptsUsed int
	ResultsFound int
	IsComplete   bool
	RequestID    string
}

// Poller drives discovery and document query attempts
type Poller struct {
	api    coreapi.API
	opts   Options
	logger *slog.Logger

	sleep  func(ctx context.Context, d time.Duration) error
	now    func() time.Time
	jitter func(max time.Duration) time.Duration
	newID  func() string
}

// New creates a Poller
func New(api coreapi.API, opts Options, log *slog.Logger) *Poller {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.MinResults < 1 {
		opts.MinResults = 1
	}
	return &Poller{
		api:    api,
		opts:   opts,
		logger: log,
		sleep:  retry.Sleep,
		now:    time.Now,
		jitter: randomJitter,
		newID:  newRequestID,
	}
}

func randomJitter(max time.Duration) time.Duration {
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(max) + 1))
}

func newRequestID() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// Poll runs up to MaxAttempts-1 silent attempts and then either a single notifying trigger (when a
// silent attempt already found documents) or one final attempt with the caller's notify flag.
func (p *Poller) Poll(ctx context.Context, req Request) (*Result, error) {
	log := logger.FromContext(ctx, p.logger).With(
		slog.String("cx_id", req.CxID),
		slog.String("patient_id", req.PatientID),
	)
	notify := req.Notify && !req.Params.DisableWebhooks

	requestID := req.RequestID
	if requestID == "" {
		requestID = p.newID()
	}

	for attempt := 1; attempt < p.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			requestID = p.newID()
		}

		found, complete, err := p.runAttempt(ctx, log, req, requestID, true)
		if err != nil {
			return nil, err
		}
		log.Debug("Silent attempt finished",
			slog.Int("attempt", attempt),
			slog.Int("results_found", found),
			slog.Bool("is_complete", complete),
		)
		if !complete {
			continue
		}

		if notify {
			requestID = p.newID()
			if err := p.trigger(ctx, req, requestID, false); err != nil {
				return nil, err
			}
			log.Info("Triggered notifying document query", slog.String("request_id", requestID))
		}
		return &Result{AttemptsUsed: attempt, ResultsFound: found, IsComplete: true, RequestID: requestID}, nil
	}

	if p.opts.MaxAttempts > 1 {
		requestID = p.newID()
	}
	found, complete, err := p.runAttempt(ctx, log, req, requestID, !notify)
	if err != nil {
		return nil, err
	}

	log.Info("Document query polling finished",
		slog.Int("attempts_used", p.opts.MaxAttempts),
		slog.Int("results_found", found),
		slog.Bool("is_complete", complete),
	)
	return &Result{AttemptsUsed: p.opts.MaxAttempts, ResultsFound: found, IsComplete: complete, RequestID: requestID}, nil
}

// runAttempt triggers discovery and a document query, then polls until enough documents are
// found, the query reports completion, or the attempt budget is spent.
func (p *Poller) runAttempt(ctx context.Context, log *slog.Logger, req Request, requestID string, disableWebhooks bool) (int, bool, error) {
	if err := p.api.StartRecordDiscovery(ctx, req.CxID, req.PatientID, requestID, req.Params.RerunPdOnNewDemographics); err != nil {
		return 0, false, classifyTriggerError(err)
	}
	if err := p.trigger(ctx, req, requestID, disableWebhooks); err != nil {
		return 0, false, err
	}

	deadline := p.now().Add(p.opts.MaxPollDuration)
	if err := p.sleep(ctx, p.opts.BaseDelay+p.jitter(p.opts.MaxJitter)); err != nil {
		return 0, false, err
	}

	found := 0
	for {
		status, err := p.api.GetDocumentQueryStatus(ctx, req.CxID, req.PatientID, requestID)
		if err != nil {
			log.Warn("Failed to check document query status",
				slog.String("request_id", requestID),
				slog.String("error", err.Error()),
			)
		} else {
			found = status.DocumentsFound
			if found >= p.opts.MinResults {
				return found, true, nil
			}
			if status.Status == statusCompleted {
				return found, false, nil
			}
		}

		if p.now().Add(p.opts.PollInterval).After(deadline) {
			return found, false, nil
		}
		if err := p.sleep(ctx, p.opts.PollInterval); err != nil {
			return found, false, err
		}
	}
}

func (p *Poller) trigger(ctx context.Context, req Request, requestID string, disableWebhooks bool) error {
	err := p.api.StartDocumentQuery(ctx, req.CxID, req.PatientID, requestID, coreapi.DocumentQueryOptions{
		TriggerConsolidated: req.Params.TriggerConsolidated,
		DisableWebhooks:     disableWebhooks,
	})
	if err != nil {
		return classifyTriggerError(err)
	}
	return nil
}

func classifyTriggerError(err error) error {
	if coreapi.IsRejected(err) {
		return fmt.Errorf("%w: %w", domain.ErrPatientNotQueryable, err)
	}
	return err
}
