package salesforce

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
)

// Opportunity is the subset of an Opportunity record the router reads.
type Opportunity struct {
	ID        string `json:"Id" salesforce:"Id"`
	Name      string `json:"Name" salesforce:"Name"`
	StageName string `json:"StageName" salesforce:"StageName"`
}

// FindOpportunity looks up an Opportunity by ID. Returns nil if none exists.
func FindOpportunity(ctx context.Context, c Client, id string) (*Opportunity, error) {
	if id == "" {
		return nil, eris.New("sf: opportunity id is required")
	}
	soql := fmt.Sprintf("SELECT Id, Name, StageName FROM Opportunity WHERE Id = '%s' LIMIT 1", escapeSoql(id))

	var opps []Opportunity
	if err := c.Query(ctx, soql, &opps); err != nil {
		return nil, eris.Wrapf(err, "sf: find opportunity %s", id)
	}
	if len(opps) == 0 {
		return nil, nil
	}
	return &opps[0], nil
}

// UpdateOpportunityStage sets StageName on an Opportunity.
func UpdateOpportunityStage(ctx context.Context, c Client, id, stage string) error {
	if id == "" {
		return eris.New("sf: opportunity id is required")
	}
	if stage == "" {
		return eris.New("sf: stage is required")
	}
	if err := c.UpdateOne(ctx, "Opportunity", id, map[string]any{"StageName": stage}); err != nil {
		return eris.Wrapf(err, "sf: update opportunity stage %s", id)
	}
	return nil
}

// escapeSoql escapes single quotes in SOQL string literals to prevent injection.
func escapeSoql(s string) string {
	return strings.ReplaceAll(s, "'", "\\'")
}
