package client

import (
	"context"
	"fmt"
	"net/url"

	"github.com/ledgerline/be-credit-limits/internal/platform/httpclient"
)

// IdentityClient resolves actor information from the platform identity
// service over HTTP.
type IdentityClient struct {
	client *httpclient.Client
}

// NewIdentityClient creates an identity service client rooted at baseURL.
func NewIdentityClient(baseURL string) *IdentityClient {
	return &IdentityClient{client: httpclient.NewClient(baseURL)}
}

type actorJurisdictionResponse struct {
	ActorID        string `json:"actor_id"`
	JurisdictionID string `json:"jurisdiction_id"`
}

// GetActorJurisdiction returns the approval jurisdiction (role) bound to an
// actor within a company. Empty when the actor holds no approval role.
func (c *IdentityClient) GetActorJurisdiction(ctx context.Context, companyID, actorID string) (string, error) {
	path := fmt.Sprintf("/api/v1/actors/jurisdiction?actor_id=%s&company_id=%s",
		url.QueryEscape(actorID), url.QueryEscape(companyID))

	var resp actorJurisdictionResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return "", fmt.Errorf("failed to resolve actor jurisdiction: %w", err)
	}
	return resp.JurisdictionID, nil
}

type usersWithJurisdictionResponse struct {
	UserIDs []string `json:"user_ids"`
}

// GetUsersWithJurisdiction returns the user ids holding a jurisdiction for a
// company, used to address notification events.
func (c *IdentityClient) GetUsersWithJurisdiction(ctx context.Context, companyID, jurisdictionID string) ([]string, error) {
	path := fmt.Sprintf("/api/v1/actors/by-jurisdiction?jurisdiction_id=%s&company_id=%s",
		url.QueryEscape(jurisdictionID), url.QueryEscape(companyID))

	var resp usersWithJurisdictionResponse
	if err := c.client.Get(ctx, path, &resp); err != nil {
		return nil, fmt.Errorf("failed to list users for jurisdiction: %w", err)
	}
	return resp.UserIDs, nil
}
