package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"

	"github.com/franckalain/snapnourish/internal/metrics"
	"github.com/franckalain/snapnourish/internal/models"
)

// State is how far an analysis got
type State int

const (
	StateStart State = iota
	StateURLResolved
	StateCredentialIssued
	StateModelInvoked
	StateResponseValidated
	StatePersisted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateURLResolved:
		return "url_resolved"
	case StateCredentialIssued:
		return "credential_issued"
	case StateModelInvoked:
		return "model_invoked"
	case StateResponseValidated:
		return "response_validated"
	case StatePersisted:
		return "persisted"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Resolver maps an image URL to its storage location
type Resolver interface {
	Resolve(rawURL string) (models.ResolvedObject, error)
}

// Issuer mints signed read URLs
type Issuer interface {
	IssueReadURL(ctx context.Context, bucket, objectPath string) (models.SignedReadURL, error)
}

// Invoker sends an image to the vision model
type Invoker interface {
	Invoke(ctx context.Context, imageURL string) (string, error)
}

// Parser validates the model's raw answer
type Parser interface {
	Parse(rawText, originalPhotoURL string) (*models.AnalysisResult, error)
}

// Store appends analysis results
type Store interface {
	SaveAnalysis(ctx context.Context, userID string, result *models.AnalysisResult) (string, error)
}

// Timeouts bound each network stage. A zero value leaves the stage bounded
// only by the caller's context and the collaborator's own timeout.
type Timeouts struct {
	Credential time.Duration
	Model      time.Duration
	Persist    time.Duration
}

// Error is returned when a stage fails. State is the last state reached.
type Error struct {
	State State
	Err   error
}

func (e *Error) Error() string { return e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

// Orchestrator runs resolve, sign, invoke, parse and persist in order for
// one request. It keeps no state between requests and never retries.
type Orchestrator struct {
	resolver Resolver
	issuer   Issuer
	model    Invoker
	parser   Parser
	store    Store
	timeouts Timeouts
}

// New creates an orchestrator from its collaborators
func New(resolver Resolver, issuer Issuer, model Invoker, parser Parser, store Store, timeouts Timeouts) *Orchestrator {
	return &Orchestrator{
		resolver: resolver,
		issuer:   issuer,
		model:    model,
		parser:   parser,
		store:    store,
		timeouts: timeouts,
	}
}

// Analyze validates req and runs it through every stage. On success the
// response carries the parsed result and the id of the stored record.
func (o *Orchestrator) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResponse, error) {
	metrics.InFlight.Inc()
	defer metrics.InFlight.Dec()

	started := time.Now()
	logger := log.WithFields(log.Fields{
		"user_id":   req.UserID,
		"image_url": req.ImageURL,
	})

	resp, state, err := o.run(ctx, req)
	if err != nil {
		kind := models.KindOf(err)
		metrics.AnalysesTotal.WithLabelValues(string(kind)).Inc()
		metrics.FailedStageTotal.WithLabelValues(state.String()).Inc()
		logger.WithFields(log.Fields{
			"state": state.String(),
			"kind":  kind,
		}).WithError(err).Error("analysis failed")
		return nil, &Error{State: state, Err: err}
	}

	metrics.AnalysesTotal.WithLabelValues("success").Inc()
	logger.WithFields(log.Fields{
		"record_id":   resp.StorageURL,
		"ingredients": len(resp.FoodData.Ingredients),
		"duration":    time.Since(started).String(),
	}).Info("analysis stored")
	return resp, nil
}

// run returns the last state reached along with any error
func (o *Orchestrator) run(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResponse, State, error) {
	state := StateStart

	if err := validate(req); err != nil {
		return nil, state, err
	}

	var obj models.ResolvedObject
	err := observe("resolve", func() (err error) {
		obj, err = o.resolver.Resolve(req.ImageURL)
		return err
	})
	if err != nil {
		return nil, state, err
	}
	state = StateURLResolved

	var signed models.SignedReadURL
	err = observe("credential", func() (err error) {
		sctx, cancel := withTimeout(ctx, o.timeouts.Credential)
		defer cancel()
		signed, err = o.issuer.IssueReadURL(sctx, obj.Bucket, obj.ObjectPath)
		return err
	})
	if err != nil {
		return nil, state, err
	}
	state = StateCredentialIssued

	var rawText string
	err = observe("model", func() (err error) {
		mctx, cancel := withTimeout(ctx, o.timeouts.Model)
		defer cancel()
		rawText, err = o.model.Invoke(mctx, signed.URL)
		return err
	})
	if err != nil {
		return nil, state, err
	}
	state = StateModelInvoked

	var result *models.AnalysisResult
	err = observe("parse", func() (err error) {
		result, err = o.parser.Parse(rawText, req.ImageURL)
		return err
	})
	if err != nil {
		return nil, state, err
	}
	state = StateResponseValidated

	// nothing has been written yet, so a cancelled request leaves no record
	if err := ctx.Err(); err != nil {
		return nil, state, fmt.Errorf("analysis cancelled before persisting: %w", err)
	}

	var id string
	err = observe("persist", func() (err error) {
		pctx, cancel := withTimeout(ctx, o.timeouts.Persist)
		defer cancel()
		id, err = o.store.SaveAnalysis(pctx, req.UserID, result)
		return err
	})
	if err != nil {
		return nil, state, err
	}

	return &models.AnalysisResponse{FoodData: result, StorageURL: id}, StatePersisted, nil
}

func validate(req models.AnalysisRequest) error {
	var missing []string
	if strings.TrimSpace(req.UserID) == "" {
		missing = append(missing, "userId")
	}
	if strings.TrimSpace(req.ImageURL) == "" {
		missing = append(missing, "imageUrl")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s required", models.ErrValidation, strings.Join(missing, " and "))
	}
	return nil
}

func observe(stage string, fn func() error) error {
	started := time.Now()
	err := fn()
	metrics.StageDurationSeconds.WithLabelValues(stage).Observe(time.Since(started).Seconds())
	return err
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
