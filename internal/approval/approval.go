// Package approval coordinates paused moderation workflows. When an
// upload needs human review the workflow engine parks an execution and
// hands us a durable task token; an admin decision later claims that
// token exactly once and signals the engine to resume.
package approval

import (
	"context"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/stylingadventures/closetd/internal/apperr"
)

// Decision is an admin's verdict on a pending item.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Statuses a record moves through. PENDING holds a live task token; the
// decided statuses never do.
const (
	StatusPending = "PENDING"
	StatusApprove = "APPROVE"
	StatusReject  = "REJECT"
)

// defaultRejectReason is recorded and signalled when the admin gives none.
const defaultRejectReason = "Rejected by admin"

// Record is one approval request.
type Record struct {
	ItemID string `json:"itemId"`
	// TaskToken resumes the parked workflow execution. Cleared on claim.
	TaskToken string `json:"-"`
	// Type is the workflow's event type (e.g. "closet.upload").
	Type string `json:"type,omitempty"`
	// Detail is the raw event detail JSON.
	Detail      string     `json:"detail,omitempty"`
	Status      string     `json:"status"`
	Reason      string     `json:"reason,omitempty"`
	RequestedAt time.Time  `json:"requestedAt"`
	DecidedAt   *time.Time `json:"decidedAt,omitempty"`
}

// Store persists approval records.
type Store interface {
	// SaveToken upserts the pending record for an item, unconditionally
	// replacing any earlier token (last writer wins; a superseded
	// execution's token is dead weight the engine eventually times out).
	SaveToken(ctx context.Context, rec Record) error
	// Claim atomically takes the task token for an item, marking the
	// record decided. Only one caller can ever win; later claims get
	// NotFoundError.
	Claim(ctx context.Context, itemID string, decision Decision, reason string, decidedAt time.Time) (*Record, error)
	// Get returns the current record for an item.
	Get(ctx context.Context, itemID string) (*Record, error)
}

// Signaler resumes parked workflow executions.
type Signaler interface {
	TaskSuccess(ctx context.Context, taskToken string, output string) error
	TaskFailure(ctx context.Context, taskToken, errorCode, cause string) error
}

// Coordinator ties the store and the workflow engine together.
type Coordinator struct {
	store    Store
	signaler Signaler
	metrics  *Metrics
}

// NewCoordinator wires a coordinator. Metrics may be nil in tests.
func NewCoordinator(store Store, signaler Signaler, metrics *Metrics) *Coordinator {
	return &Coordinator{store: store, signaler: signaler, metrics: metrics}
}

// SaveToken records a pending approval with its workflow resume token.
func (c *Coordinator) SaveToken(ctx context.Context, rec Record) error {
	if rec.ItemID == "" {
		return &apperr.ValidationError{Field: "itemId", Message: "item id is required"}
	}
	if rec.TaskToken == "" {
		return &apperr.ValidationError{Field: "taskToken", Message: "task token is required"}
	}
	rec.Status = StatusPending
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now().UTC()
	}
	if err := c.store.SaveToken(ctx, rec); err != nil {
		return err
	}
	log.WithFields(log.Fields{"item_id": rec.ItemID, "status": rec.Status}).Info("approval token saved")
	return nil
}

// Resolve applies an admin decision: claim the token, then signal the
// workflow. APPROVE resumes the execution with {approved: true}; any
// other decision fails the workflow task with the reason as cause.
// A second resolve for the same item finds no token and gets NotFoundError.
func (c *Coordinator) Resolve(ctx context.Context, itemID string, decision Decision, reason string) (*Record, error) {
	if itemID == "" {
		return nil, &apperr.ValidationError{Field: "itemId", Message: "item id is required"}
	}
	switch decision {
	case DecisionApprove, DecisionReject:
	default:
		return nil, &apperr.ValidationError{Field: "decision", Message: "decision must be APPROVE or REJECT"}
	}

	if decision == DecisionReject && strings.TrimSpace(reason) == "" {
		reason = defaultRejectReason
	}

	now := time.Now().UTC()
	rec, err := c.store.Claim(ctx, itemID, decision, reason, now)
	if err != nil {
		return nil, err
	}

	if decision == DecisionApprove {
		output, _ := sjson.Set(`{}`, "approved", true)
		err = c.signaler.TaskSuccess(ctx, rec.TaskToken, output)
	} else {
		err = c.signaler.TaskFailure(ctx, rec.TaskToken, "Rejected", reason)
	}
	if err != nil {
		// Put the token back so a retried decision can still resume the
		// workflow; without this a transient signaling failure orphans
		// the parked execution forever.
		restored := Record{
			ItemID:      rec.ItemID,
			TaskToken:   rec.TaskToken,
			Type:        rec.Type,
			Detail:      rec.Detail,
			Status:      StatusPending,
			RequestedAt: rec.RequestedAt,
		}
		if restoreErr := c.store.SaveToken(ctx, restored); restoreErr != nil {
			log.WithFields(log.Fields{"item_id": itemID, "error": restoreErr}).
				Error("token restore after failed signal; approval is orphaned")
		}
		return nil, &apperr.UpstreamError{Op: "signal workflow", Cause: err}
	}

	if c.metrics != nil {
		c.metrics.ObserveDecision(decision, now.Sub(rec.RequestedAt))
	}
	log.WithFields(log.Fields{"item_id": itemID, "status": string(decision)}).Info("approval resolved")

	rec.TaskToken = ""
	return rec, nil
}

// Get returns the current approval record for an item.
func (c *Coordinator) Get(ctx context.Context, itemID string) (*Record, error) {
	return c.store.Get(ctx, itemID)
}
