package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/gestium/flowmail/pkg/models"
)

// Directory is the narrow lookup surface the resolver needs from the
// external entity stores. Lookups return empty results, not errors, for
// absent relations.
type Directory interface {
	// AgentEmail returns the agent's address, or "" when the agent does
	// not exist or has no address.
	AgentEmail(ctx context.Context, agentID string) (string, error)
	// RoleMemberEmails returns the addresses of every active member of
	// the role.
	RoleMemberEmails(ctx context.Context, roleID string) ([]string, error)
	// ClientProjectLeadEmails returns the addresses of the client's two
	// fixed stakeholder roles; either may be "".
	ClientProjectLeadEmails(ctx context.Context, clientID string) (lead1, lead2 string, err error)
}

// ResolveDiagnostics counts non-fatal drops during resolution.
type ResolveDiagnostics struct {
	DroppedEmails int
}

// Resolver expands recipient specifications into deduplicated delivery
// addresses.
type Resolver struct {
	directory Directory
	validate  *validator.Validate
}

func NewResolver(directory Directory) *Resolver {
	return &Resolver{
		directory: directory,
		validate:  validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Resolve expands the workflow's recipient list (plus its stakeholder cc
// flags) against the event. Output holds unique addresses, To first,
// dedup-stable; an address listed both as To and Cc is classified To.
// Malformed manual addresses are dropped and counted, never fatal.
func (r *Resolver) Resolve(ctx context.Context, w *models.Workflow, ec *models.EventContext) ([]models.Address, ResolveDiagnostics, error) {
	specs := make([]models.Recipient, 0, len(w.Recipients)+2)
	specs = append(specs, w.Recipients...)

	if w.CcJefeProyecto1 {
		specs = append(specs, models.Recipient{Type: models.RecipientProjectLead1, IsCc: true})
	}

	if w.CcJefeProyecto2 {
		specs = append(specs, models.Recipient{Type: models.RecipientProjectLead2, IsCc: true})
	}

	var diag ResolveDiagnostics

	seen := make(map[string]int)

	var resolved []models.Address

	for _, spec := range specs {
		emails, err := r.expand(ctx, spec, ec, &diag)
		if err != nil {
			return nil, diag, fmt.Errorf("failed to expand recipient %s: %w", spec.Type, err)
		}

		for _, email := range emails {
			if idx, dup := seen[email]; dup {
				// To wins over Cc for a duplicated address.
				if !spec.IsCc {
					resolved[idx].Cc = false
				}

				continue
			}

			seen[email] = len(resolved)
			resolved = append(resolved, models.Address{Email: email, Cc: spec.IsCc})
		}
	}

	// To addresses first, dedup-stable, then remaining Cc.
	out := make([]models.Address, 0, len(resolved))
	for _, a := range resolved {
		if !a.Cc {
			out = append(out, a)
		}
	}

	for _, a := range resolved {
		if a.Cc {
			out = append(out, a)
		}
	}

	return out, diag, nil
}

func (r *Resolver) expand(ctx context.Context, spec models.Recipient, ec *models.EventContext, diag *ResolveDiagnostics) ([]string, error) {
	switch spec.Type {
	case models.RecipientAssignedAgent:
		return r.singleAgent(ctx, ec.Task.AssignedAgentID)
	case models.RecipientTaskCreator:
		return r.singleAgent(ctx, ec.Task.CreatorID)
	case models.RecipientProjectLead1, models.RecipientProjectLead2:
		if ec.Task.ClientID == "" {
			return nil, nil
		}

		lead1, lead2, err := r.directory.ClientProjectLeadEmails(ctx, ec.Task.ClientID)
		if err != nil {
			return nil, err
		}

		email := lead1
		if spec.Type == models.RecipientProjectLead2 {
			email = lead2
		}

		if email == "" {
			return nil, nil
		}

		return []string{email}, nil
	case models.RecipientSpecificAgents:
		var emails []string

		for _, agentID := range splitList(spec.Value) {
			agentEmails, err := r.singleAgent(ctx, agentID)
			if err != nil {
				return nil, err
			}

			emails = append(emails, agentEmails...)
		}

		return emails, nil
	case models.RecipientSpecificRoles:
		var emails []string

		for _, roleID := range splitList(spec.Value) {
			members, err := r.directory.RoleMemberEmails(ctx, roleID)
			if err != nil {
				return nil, err
			}

			emails = append(emails, members...)
		}

		return emails, nil
	case models.RecipientManualEmails:
		var emails []string

		for _, raw := range splitList(spec.Value) {
			if r.validate.Var(raw, "email") != nil {
				diag.DroppedEmails++

				continue
			}

			emails = append(emails, raw)
		}

		return emails, nil
	default:
		return nil, fmt.Errorf("unknown recipient type %q", spec.Type)
	}
}

func (r *Resolver) singleAgent(ctx context.Context, agentID string) ([]string, error) {
	if agentID == "" {
		return nil, nil
	}

	email, err := r.directory.AgentEmail(ctx, agentID)
	if err != nil {
		return nil, err
	}

	if email == "" {
		return nil, nil
	}

	return []string{email}, nil
}

func splitList(value string) []string {
	var out []string

	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}

	return out
}
