// Package requeststate moves funding requests through their pipeline
// milestones and mirrors them to the CRM when one is configured.
package requeststate

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/pkg/salesforce"
)

// Updater records a milestone on a funding request. Implementations must be
// idempotent.
type Updater interface {
	UpdateState(ctx context.Context, requestID string, state model.RequestState) error
}

// StateStore is the subset of the store the updaters need.
type StateStore interface {
	GetRequest(ctx context.Context, id string) (*model.FundingRequest, error)
	UpdateRequestState(ctx context.Context, id string, state model.RequestState) error
}

// StoreUpdater writes the milestone to funding_requests.state.
type StoreUpdater struct {
	store StateStore
}

// NewStoreUpdater returns an Updater backed by the store.
func NewStoreUpdater(s StateStore) *StoreUpdater {
	return &StoreUpdater{store: s}
}

// UpdateState implements Updater.
func (u *StoreUpdater) UpdateState(ctx context.Context, requestID string, state model.RequestState) error {
	if err := u.store.UpdateRequestState(ctx, requestID, state); err != nil {
		return eris.Wrapf(err, "requeststate: set %s on %s", state, requestID)
	}
	return nil
}

// SalesforceUpdater writes the milestone to the store and then sets the
// linked Opportunity stage. Requests without an external id, or states
// without a mapped stage, only touch the store.
type SalesforceUpdater struct {
	store  StateStore
	sf     salesforce.Client
	stages map[model.RequestState]string
}

// NewSalesforceUpdater returns an Updater that mirrors milestones to
// Salesforce using the given state to StageName mapping.
func NewSalesforceUpdater(s StateStore, sf salesforce.Client, stages map[model.RequestState]string) *SalesforceUpdater {
	return &SalesforceUpdater{store: s, sf: sf, stages: stages}
}

// UpdateState implements Updater.
func (u *SalesforceUpdater) UpdateState(ctx context.Context, requestID string, state model.RequestState) error {
	if err := u.store.UpdateRequestState(ctx, requestID, state); err != nil {
		return eris.Wrapf(err, "requeststate: set %s on %s", state, requestID)
	}

	stage, ok := u.stages[state]
	if !ok || stage == "" {
		return nil
	}
	req, err := u.store.GetRequest(ctx, requestID)
	if err != nil {
		return eris.Wrapf(err, "requeststate: load request %s", requestID)
	}
	if req.ExternalID == "" {
		return nil
	}

	if err := salesforce.UpdateOpportunityStage(ctx, u.sf, req.ExternalID, stage); err != nil {
		return eris.Wrapf(err, "requeststate: mirror %s to opportunity %s", state, req.ExternalID)
	}
	zap.L().Info("requeststate: opportunity stage updated",
		zap.String("request_id", requestID),
		zap.String("opportunity_id", req.ExternalID),
		zap.String("stage", stage),
	)
	return nil
}
