// Package tickets is the client for the ticket system's internal API.
// It backs the engine's collaborator interfaces: agent and role lookups
// for recipient resolution, template bodies, and the write path for
// automation mutations.
package tickets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/gestium/flowmail/pkg/log"
	"github.com/gestium/flowmail/pkg/models"
)

// Client talks to the ticket system over its internal JSON API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, logger *slog.Logger) *Client {
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     log.WithModule(logger, "tickets-client"),
	}
}

type agentResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type roleMembersResponse struct {
	Members []agentResponse `json:"members"`
}

type clientResponse struct {
	ID                string `json:"id"`
	JefeProyecto1Mail string `json:"jefe_proyecto_1_email"`
	JefeProyecto2Mail string `json:"jefe_proyecto_2_email"`
}

type templateResponse struct {
	ID   string `json:"id"`
	Body string `json:"body"`
}

// AgentEmail returns the agent's address, "" when the agent is unknown
// or has none.
func (c *Client) AgentEmail(ctx context.Context, agentID string) (string, error) {
	var agent agentResponse

	found, err := c.get(ctx, "/internal/agents/"+url.PathEscape(agentID), &agent)
	if err != nil || !found {
		return "", err
	}

	return agent.Email, nil
}

// RoleMemberEmails returns the addresses of the role's active members.
func (c *Client) RoleMemberEmails(ctx context.Context, roleID string) ([]string, error) {
	var role roleMembersResponse

	found, err := c.get(ctx, "/internal/roles/"+url.PathEscape(roleID)+"/members", &role)
	if err != nil || !found {
		return nil, err
	}

	emails := make([]string, 0, len(role.Members))

	for _, member := range role.Members {
		if member.Email != "" {
			emails = append(emails, member.Email)
		}
	}

	return emails, nil
}

// ClientProjectLeadEmails returns the client's two fixed stakeholder
// addresses; either may be "".
func (c *Client) ClientProjectLeadEmails(ctx context.Context, clientID string) (string, string, error) {
	var client clientResponse

	found, err := c.get(ctx, "/internal/clients/"+url.PathEscape(clientID), &client)
	if err != nil || !found {
		return "", "", err
	}

	return client.JefeProyecto1Mail, client.JefeProyecto2Mail, nil
}

// TemplateBody returns the template's body, "" for an unknown
// identifier.
func (c *Client) TemplateBody(ctx context.Context, templateID string) (string, error) {
	var tmpl templateResponse

	found, err := c.get(ctx, "/internal/templates/"+url.PathEscape(templateID), &tmpl)
	if err != nil || !found {
		return "", err
	}

	return tmpl.Body, nil
}

// ApplyMutations submits one workflow's mutation set. The ticket system
// applies it atomically and tags the change with its provenance, so any
// re-emitted event carries the automation mark.
func (c *Client) ApplyMutations(ctx context.Context, set models.MutationSet) error {
	payload, err := json.Marshal(set)
	if err != nil {
		return fmt.Errorf("failed to marshal mutation set: %w", err)
	}

	endpoint := c.baseURL + "/internal/tasks/" + url.PathEscape(set.TaskID) + "/mutations"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create mutation request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mutation request failed: %w", err)
	}

	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("ticket system rejected mutations: status %d", resp.StatusCode)
	}

	return nil
}

// get fetches one resource. A 404 is reported as not found, not as an
// error, matching the directory contract.
func (c *Client) get(ctx context.Context, path string, out any) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}

	defer c.closeBody(ctx, resp.Body)

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path)
	}

	err = json.NewDecoder(resp.Body).Decode(out)
	if err != nil {
		return false, fmt.Errorf("failed to decode response for %s: %w", path, err)
	}

	return true, nil
}

func (c *Client) closeBody(ctx context.Context, body io.ReadCloser) {
	err := body.Close()
	if err != nil {
		c.logger.ErrorContext(ctx, "failed to close response body", "error", err)
	}
}
