package collab

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/coedit/coedit/internal/core/observability/log"
)

// GenerateColor derives a participant's display color from their user id.
// The same id always yields the same hue, within and across sessions.
func GenerateColor(userID string) string {
	hue := xxhash.Sum64String(userID) % 360
	return fmt.Sprintf("hsl(%d, 70%%, 50%%)", hue)
}

// Join adds a participant to a session, or reactivates the existing record
// if the user has been here before; it never duplicates. New participants
// get view and edit permissions.
func (m *Manager) Join(sessionID, userID, displayName string) (*Participant, error) {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}

	s.mu.Lock()
	now := m.now()
	p := s.participantLocked(userID)
	if p != nil {
		p.Status = StatusActive
		p.LastActiveAt = now
	} else {
		p = &Participant{
			UserID:       userID,
			DisplayName:  displayName,
			Color:        GenerateColor(userID),
			Permissions:  PermissionSet{PermissionView, PermissionEdit},
			Status:       StatusActive,
			JoinedAt:     now,
			LastActiveAt: now,
		}
		s.Participants = append(s.Participants, p)
	}
	s.LastActivity = now
	snapshot := *p
	s.mu.Unlock()

	m.log.Debug("participant joined",
		log.String("session_id", sessionID),
		log.String("user", userID),
	)
	m.publishPresence(sessionID, snapshot)
	return p, nil
}

// Leave marks a participant disconnected and drops their cursor. The record
// itself is retained for history.
func (m *Manager) Leave(sessionID, userID string) error {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	p := s.participantLocked(userID)
	if p == nil {
		s.mu.Unlock()
		return ErrParticipantNotFound
	}
	p.Status = StatusDisconnected
	s.removeCursorLocked(userID)
	s.LastActivity = m.now()
	snapshot := *p
	s.mu.Unlock()

	m.publishPresence(sessionID, snapshot)
	return nil
}

// SetPermissions replaces a participant's permission set. The acting user
// must hold admin; the check is literal membership, not hierarchy.
func (m *Manager) SetPermissions(sessionID, actorID, targetID string, perms PermissionSet) error {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	actor := s.participantLocked(actorID)
	if actor == nil {
		s.mu.Unlock()
		return ErrParticipantNotFound
	}
	if !actor.Permissions.Has(PermissionAdmin) {
		s.mu.Unlock()
		return ErrUnauthorized
	}
	target := s.participantLocked(targetID)
	if target == nil {
		s.mu.Unlock()
		return ErrParticipantNotFound
	}
	target.Permissions = perms.Clone()
	snapshot := *target
	s.mu.Unlock()

	m.publishPresence(sessionID, snapshot)
	return nil
}

// UpdateCursor upserts the caller's cursor position: at most one per user
// per session. Moving the cursor counts as activity.
func (m *Manager) UpdateCursor(sessionID, userID, field string, offset int) error {
	s, ok := m.store.Get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p := s.participantLocked(userID)
	if p == nil {
		return ErrParticipantNotFound
	}

	now := m.now()
	for _, c := range s.Cursors {
		if c.UserID == userID {
			c.Field = field
			c.Offset = offset
			c.UpdatedAt = now
			m.touchLocked(s, p)
			return nil
		}
	}
	s.Cursors = append(s.Cursors, &CursorPosition{
		UserID:    userID,
		Field:     field,
		Offset:    offset,
		UpdatedAt: now,
	})
	m.touchLocked(s, p)
	return nil
}

// SweepIdle transitions active participants whose last activity is older
// than maxAge to idle, across all sessions, and returns how many changed.
// Any subsequent operation, join or cursor move flips them back to active.
func (m *Manager) SweepIdle(maxAge time.Duration) int {
	cutoff := m.now().Add(-maxAge)
	changed := 0

	for _, s := range m.store.All() {
		var snapshots []Participant
		s.mu.Lock()
		for _, p := range s.Participants {
			if p.Status == StatusActive && p.LastActiveAt.Before(cutoff) {
				p.Status = StatusIdle
				snapshots = append(snapshots, *p)
			}
		}
		s.mu.Unlock()

		for _, snap := range snapshots {
			m.publishPresence(s.ID, snap)
		}
		changed += len(snapshots)
	}
	return changed
}

func (s *Session) removeCursorLocked(userID string) {
	for i, c := range s.Cursors {
		if c.UserID == userID {
			s.Cursors = append(s.Cursors[:i], s.Cursors[i+1:]...)
			return
		}
	}
}
