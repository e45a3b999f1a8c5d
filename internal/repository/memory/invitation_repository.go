package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"marketplace-auth/internal/models"
	"marketplace-auth/internal/repository"
)

type InvitationRepository struct {
	mu          sync.RWMutex
	invitations map[string]*models.AdminInvitation
	byToken     map[string]string
}

var _ repository.InvitationRepository = (*InvitationRepository)(nil)

func NewInvitationRepository() *InvitationRepository {
	return &InvitationRepository{
		invitations: make(map[string]*models.AdminInvitation),
		byToken:     make(map[string]string),
	}
}

func cloneInvitation(inv *models.AdminInvitation) *models.AdminInvitation {
	c := *inv
	if inv.AcceptedAt != nil {
		t := *inv.AcceptedAt
		c.AcceptedAt = &t
	}
	return &c
}

func (r *InvitationRepository) CreateInvitation(ctx context.Context, inv *models.AdminInvitation) error {
	if err := inv.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.invitations[inv.ID]; ok {
		return &repository.ConflictError{Field: "id"}
	}
	if _, ok := r.byToken[inv.Token]; ok {
		return &repository.ConflictError{Field: "token"}
	}
	if inv.Status == models.InvitationPending {
		for _, existing := range r.invitations {
			if existing.Status == models.InvitationPending && fold(existing.Email) == fold(inv.Email) {
				return &repository.ConflictError{Field: "email"}
			}
		}
	}

	r.invitations[inv.ID] = cloneInvitation(inv)
	r.byToken[inv.Token] = inv.ID
	return nil
}

func (r *InvitationRepository) GetInvitationByID(ctx context.Context, id string) (*models.AdminInvitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inv, ok := r.invitations[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneInvitation(inv), nil
}

func (r *InvitationRepository) GetInvitationByToken(ctx context.Context, token string) (*models.AdminInvitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byToken[token]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneInvitation(r.invitations[id]), nil
}

func (r *InvitationRepository) GetPendingInvitationByEmail(ctx context.Context, email string) (*models.AdminInvitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, inv := range r.invitations {
		if inv.Status == models.InvitationPending && fold(inv.Email) == fold(email) {
			return cloneInvitation(inv), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (r *InvitationRepository) ListInvitations(ctx context.Context, status models.InvitationStatus) ([]*models.AdminInvitation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*models.AdminInvitation, 0, len(r.invitations))
	for _, inv := range r.invitations {
		if status != "" && inv.Status != status {
			continue
		}
		out = append(out, cloneInvitation(inv))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (r *InvitationRepository) TransitionInvitation(ctx context.Context, id string, from, to models.InvitationStatus, at time.Time) error {
	if !from.CanTransition(to) {
		return repository.ErrConditionFailed
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	inv, ok := r.invitations[id]
	if !ok {
		return repository.ErrNotFound
	}
	if inv.Status != from {
		return repository.ErrConditionFailed
	}
	inv.Status = to
	if to == models.InvitationAccepted {
		t := at
		inv.AcceptedAt = &t
	}
	return nil
}

func (r *InvitationRepository) HealthCheck(ctx context.Context) error {
	return nil
}
