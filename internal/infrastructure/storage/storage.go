package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pricepulse/internal/application/port"
	"pricepulse/internal/domain"
)

// MemoryRepo is the in-process default store. It backs the "memory" storage
// driver and the service tests.
type MemoryRepo struct {
	mu            sync.RWMutex
	alerts        map[string]*domain.Alert
	notifications map[string]*domain.Notification
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		alerts:        make(map[string]*domain.Alert),
		notifications: make(map[string]*domain.Notification),
	}
}

func (r *MemoryRepo) Close() error { return nil }

func cloneAlert(a *domain.Alert) *domain.Alert {
	c := *a
	if a.LastCheckedAt != nil {
		t := *a.LastCheckedAt
		c.LastCheckedAt = &t
	}
	if a.TriggeredAt != nil {
		t := *a.TriggeredAt
		c.TriggeredAt = &t
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func (r *MemoryRepo) InsertAlert(_ context.Context, a *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (r *MemoryRepo) UpdateAlert(_ context.Context, a *domain.Alert) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.alerts[a.ID]; !ok {
		return port.ErrNotFound
	}
	r.alerts[a.ID] = cloneAlert(a)
	return nil
}

func (r *MemoryRepo) GetAlert(_ context.Context, id string) (*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alerts[id]
	if !ok {
		return nil, port.ErrNotFound
	}
	return cloneAlert(a), nil
}

func (r *MemoryRepo) ListAlerts(_ context.Context, f port.AlertFilter) ([]*domain.Alert, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Alert, 0)
	for _, a := range r.alerts {
		if f.Owner != "" && a.Owner != f.Owner {
			continue
		}
		if f.Status != "" && a.Status != f.Status {
			continue
		}
		if f.Symbol != "" && a.Symbol != f.Symbol {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListEvaluable(_ context.Context, kinds []domain.AlertKind) ([]*domain.Alert, error) {
	wanted := make(map[domain.AlertKind]struct{}, len(kinds))
	for _, k := range kinds {
		wanted[k] = struct{}{}
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Alert, 0)
	for _, a := range r.alerts {
		if a.Status != domain.StatusActive {
			continue
		}
		if _, ok := wanted[a.Kind]; !ok {
			continue
		}
		out = append(out, cloneAlert(a))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryRepo) AlertStats(_ context.Context, owner string) (port.AlertStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var st port.AlertStats
	for _, a := range r.alerts {
		if a.Owner != owner {
			continue
		}
		st.Total++
		st.TotalChecks += a.CheckCount
		switch a.Status {
		case domain.StatusActive:
			st.Active++
		case domain.StatusTriggered:
			st.Triggered++
		case domain.StatusExpired:
			st.Expired++
		case domain.StatusCancelled:
			st.Cancelled++
		}
	}
	return st, nil
}

func (r *MemoryRepo) DeleteTerminalBefore(_ context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, a := range r.alerts {
		if a.Status.Terminal() && a.UpdatedAt.Before(cutoff) {
			delete(r.alerts, id)
			n++
		}
	}
	return n, nil
}

func cloneNotification(n *domain.Notification) *domain.Notification {
	c := *n
	if n.ExpiresAt != nil {
		t := *n.ExpiresAt
		c.ExpiresAt = &t
	}
	if n.Data != nil {
		c.Data = make(map[string]string, len(n.Data))
		for k, v := range n.Data {
			c.Data[k] = v
		}
	}
	return &c
}

func (r *MemoryRepo) InsertNotification(_ context.Context, n *domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications[n.ID] = cloneNotification(n)
	return nil
}

func (r *MemoryRepo) ListNotifications(_ context.Context, owner string, unreadOnly bool) ([]*domain.Notification, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Notification, 0)
	for _, n := range r.notifications {
		if n.Owner != owner {
			continue
		}
		if unreadOnly && n.Read {
			continue
		}
		out = append(out, cloneNotification(n))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) MarkNotificationsRead(_ context.Context, owner string, ids []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wanted := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		wanted[id] = struct{}{}
	}

	var n int64
	for _, note := range r.notifications {
		if note.Owner != owner || note.Read {
			continue
		}
		if len(ids) > 0 {
			if _, ok := wanted[note.ID]; !ok {
				continue
			}
		}
		note.Read = true
		n++
	}
	return n, nil
}

func (r *MemoryRepo) DeleteExpiredNotifications(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, note := range r.notifications {
		if note.ExpiresAt != nil && now.After(*note.ExpiresAt) {
			delete(r.notifications, id)
			n++
		}
	}
	return n, nil
}

var (
	_ port.AlertRepository        = (*MemoryRepo)(nil)
	_ port.NotificationRepository = (*MemoryRepo)(nil)
)
