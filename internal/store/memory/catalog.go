package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/dvloznov/finance-ledger/internal/domain"
)

// CreateWorkspace stores the workspace and its first member in one step.
func (s *Store) CreateWorkspace(ctx context.Context, ws *domain.Workspace, owner domain.Member) (string, error) {
	rec := *ws
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	now := s.now()
	rec.CreatedAt = now
	rec.UpdatedAt = now

	s.mu.Lock()
	if _, exists := s.workspaces[rec.ID]; exists {
		s.mu.Unlock()
		return "", domain.ErrDuplicate
	}
	s.workspaces[rec.ID] = rec
	if s.userIndex[owner.UserID] == nil {
		s.userIndex[owner.UserID] = make(map[string]struct{})
	}
	s.userIndex[owner.UserID][rec.ID] = struct{}{}
	s.mu.Unlock()

	err := s.withData(rec.ID, func(v *view) error {
		owner.WorkspaceID = rec.ID
		owner.JoinedAt = now
		v.data.members[owner.UserID] = owner
		return nil
	})
	return rec.ID, err
}

// AddMember adds or replaces a workspace member.
func (s *Store) AddMember(ctx context.Context, workspaceID string, m domain.Member) error {
	s.mu.Lock()
	if _, ok := s.workspaces[workspaceID]; !ok {
		s.mu.Unlock()
		return domain.ErrWorkspaceNotFound
	}
	if s.userIndex[m.UserID] == nil {
		s.userIndex[m.UserID] = make(map[string]struct{})
	}
	s.userIndex[m.UserID][workspaceID] = struct{}{}
	s.mu.Unlock()

	return s.withData(workspaceID, func(v *view) error {
		m.WorkspaceID = workspaceID
		if m.JoinedAt.IsZero() {
			m.JoinedAt = s.now()
		}
		v.data.members[m.UserID] = m
		return nil
	})
}

func (s *Store) GetWorkspace(ctx context.Context, workspaceID string) (*domain.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ws, ok := s.workspaces[workspaceID]
	if !ok {
		return nil, domain.ErrWorkspaceNotFound
	}
	return &ws, nil
}

func (s *Store) ListWorkspacesByUser(ctx context.Context, userID string) ([]domain.Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []domain.Workspace
	for id := range s.userIndex[userID] {
		if ws, ok := s.workspaces[id]; ok {
			out = append(out, ws)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *Store) ListWorkspaceIDs(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.workspaces))
	for id := range s.workspaces {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) GetMember(ctx context.Context, workspaceID, userID string) (*domain.Member, error) {
	var out *domain.Member
	err := s.withData(workspaceID, func(v *view) error {
		m, ok := v.data.members[userID]
		if !ok {
			return domain.ErrNotFound
		}
		out = &m
		return nil
	})
	return out, err
}

func (s *Store) CreateAccount(ctx context.Context, workspaceID string, account *domain.Account) (string, error) {
	rec := *account
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	now := s.now()
	rec.WorkspaceID = workspaceID
	rec.CreatedAt = now
	rec.UpdatedAt = now
	if rec.Version == 0 {
		rec.Version = 1
	}

	err := s.withData(workspaceID, func(v *view) error {
		if _, exists := v.data.accounts[rec.ID]; exists {
			return domain.ErrDuplicate
		}
		v.data.accounts[rec.ID] = rec
		return nil
	})
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

func (s *Store) ListCategories(ctx context.Context, workspaceID string) ([]domain.Category, error) {
	var out []domain.Category
	err := s.withData(workspaceID, func(v *view) error {
		for _, c := range v.data.categories {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, err
}

func (s *Store) CreateCategory(ctx context.Context, workspaceID string, category *domain.Category) (string, error) {
	rec := *category
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	rec.WorkspaceID = workspaceID
	rec.CreatedAt = s.now()

	err := s.withData(workspaceID, func(v *view) error {
		v.data.categories[rec.ID] = rec
		return nil
	})
	return rec.ID, err
}

func (s *Store) ListCreditCards(ctx context.Context, workspaceID string) ([]domain.CreditCard, error) {
	var out []domain.CreditCard
	err := s.withData(workspaceID, func(v *view) error {
		for _, c := range v.data.cards {
			out = append(out, c)
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name) })
	return out, err
}

func (s *Store) GetCreditCard(ctx context.Context, workspaceID, cardID string) (*domain.CreditCard, error) {
	var out *domain.CreditCard
	err := s.withData(workspaceID, func(v *view) error {
		c, ok := v.data.cards[cardID]
		if !ok {
			return domain.ErrCreditCardNotFound
		}
		out = &c
		return nil
	})
	return out, err
}

func (s *Store) CreateCreditCard(ctx context.Context, workspaceID string, card *domain.CreditCard) (string, error) {
	rec := *card
	if rec.ID == "" {
		rec.ID = s.newID()
	}
	now := s.now()
	rec.WorkspaceID = workspaceID
	rec.CreatedAt = now
	rec.UpdatedAt = now

	err := s.withData(workspaceID, func(v *view) error {
		v.data.cards[rec.ID] = rec
		return nil
	})
	return rec.ID, err
}
