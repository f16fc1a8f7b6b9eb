// Package eligibility decides whether a user may commit capital to a tree.
package eligibility

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ranggacaw/treevest-backend/internal/kyc"
	"github.com/ranggacaw/treevest-backend/pkg/db/models"
	"github.com/ranggacaw/treevest-backend/pkg/enums"
	pkgerrors "github.com/ranggacaw/treevest-backend/pkg/errors"
)

// Reason identifies the first failing check.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonTreeNotFound      Reason = "TREE_NOT_FOUND"
	ReasonTreeNotInvestable Reason = "TREE_NOT_INVESTABLE"
	ReasonKYCMissing        Reason = "KYC_MISSING"
	ReasonKYCPending        Reason = "KYC_PENDING"
	ReasonKYCRejected       Reason = "KYC_REJECTED"
	ReasonKYCExpired        Reason = "KYC_EXPIRED"
)

// Error reasons surfaced to API callers.
const (
	ErrorReasonNotEligible       = "NOT_ELIGIBLE"
	ErrorReasonTreeNotInvestable = "TREE_NOT_INVESTABLE"
)

// Decision is the typed outcome of a gate check. Tree is populated whenever the
// tree exists so callers can reuse its bounds.
type Decision struct {
	Reason Reason
	Tree   *models.Tree
}

// Allowed reports whether every check passed.
func (d Decision) Allowed() bool {
	return d.Reason == ReasonNone
}

// Err converts a rejected decision into a coded error. It returns nil when allowed.
func (d Decision) Err() error {
	switch d.Reason {
	case ReasonNone:
		return nil
	case ReasonTreeNotFound:
		return pkgerrors.New(pkgerrors.CodeStateConflict, "tree is not open for investment").
			WithReason(ErrorReasonTreeNotInvestable, map[string]any{"tree": "not_found"})
	case ReasonTreeNotInvestable:
		details := map[string]any{}
		if d.Tree != nil {
			details["tree_status"] = string(d.Tree.Status)
		}
		return pkgerrors.New(pkgerrors.CodeStateConflict, "tree is not open for investment").
			WithReason(ErrorReasonTreeNotInvestable, details)
	default:
		return pkgerrors.New(pkgerrors.CodeNotEligible, "user is not eligible to invest").
			WithReason(ErrorReasonNotEligible, map[string]any{"kyc": string(d.Reason)})
	}
}

type treeReader interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Tree, error)
}

type kycReader interface {
	FindByUserID(ctx context.Context, userID uuid.UUID) (*kyc.Record, error)
}

type GateParams struct {
	Trees treeReader
	KYC   kycReader
	Now   func() time.Time
}

type Gate struct {
	trees treeReader
	kyc   kycReader
	now   func() time.Time
}

func NewGate(params GateParams) (*Gate, error) {
	if params.Trees == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "tree reader required")
	}
	if params.KYC == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "kyc reader required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Gate{trees: params.Trees, kyc: params.KYC, now: now}, nil
}

// Check evaluates tree investability then KYC, stopping at the first failure.
// The returned error is reserved for read failures.
func (g *Gate) Check(ctx context.Context, userID, treeID uuid.UUID) (Decision, error) {
	tree, err := g.trees.FindByID(ctx, treeID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load tree")
	}
	if tree == nil {
		return Decision{Reason: ReasonTreeNotFound}, nil
	}
	if !tree.Status.IsInvestable() {
		return Decision{Reason: ReasonTreeNotInvestable, Tree: tree}, nil
	}

	record, err := g.kyc.FindByUserID(ctx, userID)
	if err != nil {
		return Decision{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load kyc status")
	}
	return Decision{Reason: kycReason(record, g.now()), Tree: tree}, nil
}

func kycReason(record *kyc.Record, now time.Time) Reason {
	if record == nil {
		return ReasonKYCMissing
	}
	if record.Valid(now) {
		return ReasonNone
	}
	switch record.Status {
	case enums.KYCStatusVerified:
		return ReasonKYCExpired
	case enums.KYCStatusRejected:
		return ReasonKYCRejected
	case enums.KYCStatusPending:
		return ReasonKYCPending
	default:
		return ReasonKYCMissing
	}
}
