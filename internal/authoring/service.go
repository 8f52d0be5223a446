// Package authoring manages server-side authoring sessions.
//
// A session is the in-progress draft for one asset scope (an existing
// definition or dashboard id, or "new"), refined turn by turn: each
// assistant message runs through the ingestion pipeline against the
// session's draft as baseline. Accepted candidates promote into the
// session; rejected ones record a turn carrying the most specific
// validation error, so the author always sees why the last message
// didn't land. Apply finalizes the draft and removes the in-progress
// record; Discard just removes it.
package authoring

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glassboard/glassboard/console-engine/internal/diff"
	"github.com/glassboard/glassboard/console-engine/internal/draft"
	"github.com/glassboard/glassboard/console-engine/internal/notify"
	"github.com/glassboard/glassboard/console-engine/internal/store"
	"github.com/glassboard/glassboard/console-engine/internal/validate"
	"github.com/glassboard/glassboard/console-engine/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ErrSessionExists is returned when a workspace+scope already has an
// in-progress session. The scope key admits one authoring form at a
// time; resume or discard the existing one.
var ErrSessionExists = errors.New("authoring session already exists")

// Service runs the authoring session lifecycle on top of the store.
type Service struct {
	store    store.Store
	notifier *notify.Service
	ttl      time.Duration
}

// New creates an authoring service. ttl bounds how long an untouched
// session survives before the retention janitor may archive it.
func New(s store.Store, notifier *notify.Service, ttl time.Duration) *Service {
	return &Service{store: s, notifier: notifier, ttl: ttl}
}

// Create starts a session for a workspace+scope. An empty scope means
// authoring a brand-new asset.
func (s *Service) Create(ctx context.Context, workspace, scope string, kind models.DraftKind) (*models.AuthoringSession, error) {
	if kind != models.DraftKindAPI && kind != models.DraftKindUI {
		return nil, fmt.Errorf("unknown draft kind %q", kind)
	}
	if scope == "" {
		scope = models.ScopeNew
	}
	if _, err := s.store.GetSession(ctx, workspace, scope); err == nil {
		return nil, fmt.Errorf("%w: %s/%s", ErrSessionExists, workspace, scope)
	}

	now := time.Now().UTC()
	session := &models.AuthoringSession{
		ID:        uuid.New().String(),
		Workspace: workspace,
		Scope:     scope,
		Kind:      kind,
		CreatedAt: now,
		UpdatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.store.CreateSession(ctx, session); err != nil {
		return nil, err
	}

	log.Info().
		Str("workspace", workspace).
		Str("scope", scope).
		Str("kind", string(kind)).
		Msg("Authoring session created")
	return session, nil
}

// Get returns the session for a workspace+scope.
func (s *Service) Get(ctx context.Context, workspace, scope string) (*models.AuthoringSession, error) {
	return s.store.GetSession(ctx, workspace, scope)
}

// List returns a workspace's sessions, most recently updated first.
func (s *Service) List(ctx context.Context, workspace string, limit int) ([]models.AuthoringSession, error) {
	return s.store.ListSessions(ctx, workspace, limit)
}

// Ingested reports the outcome of one assistant message.
type Ingested struct {
	// Session is the post-ingest session state.
	Session *models.AuthoringSession `json:"session"`

	// Accepted is the draft that survived the pipeline; nil when the
	// message was rejected.
	Accepted *draft.Accepted `json:"accepted,omitempty"`

	// Turn is the turn record appended to the session.
	Turn models.AuthoringTurn `json:"turn"`
}

// Ingest runs one assistant message through extract → normalize →
// patch → validate against the session's draft as baseline. Success
// promotes the accepted draft into the session; rejection records the
// turn with the last, most specific pipeline error. Either way the
// session's expiry is pushed out — activity keeps it alive.
func (s *Service) Ingest(ctx context.Context, workspace, scope, text string) (*Ingested, error) {
	session, err := s.store.GetSession(ctx, workspace, scope)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	turn := models.AuthoringTurn{
		Seq: len(session.Turns) + 1,
		At:  now,
	}

	accepted, ingestErr := draft.FromText(text, session.Kind, session.Draft)
	if ingestErr != nil {
		turn.Error = ingestErr.Error()

		session.Turns = append(session.Turns, turn)
		session.UpdatedAt = now
		session.ExpiresAt = now.Add(s.ttl)
		if err := s.store.UpdateSession(ctx, session); err != nil {
			return nil, err
		}

		log.Info().
			Str("workspace", workspace).
			Str("scope", scope).
			Int("turn", turn.Seq).
			Str("reason", turn.Error).
			Msg("Draft rejected")

		s.notifier.Dispatch(notify.NewEvent(notify.EventDraftRejected, workspace, scope, map[string]interface{}{
			"turn":  turn.Seq,
			"error": turn.Error,
		}))
		return &Ingested{Session: session, Turn: turn}, nil
	}

	turn.Accepted = true
	turn.Mode = accepted.Mode
	turn.Notes = accepted.Notes
	turn.Added, turn.Removed = diff.Counts(diff.Drafts(session.Draft, accepted.Draft))

	session.Draft = accepted.Draft
	session.Turns = append(session.Turns, turn)
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(s.ttl)
	if err := s.store.UpdateSession(ctx, session); err != nil {
		return nil, err
	}

	log.Info().
		Str("workspace", workspace).
		Str("scope", scope).
		Int("turn", turn.Seq).
		Str("mode", string(turn.Mode)).
		Int("added", turn.Added).
		Int("removed", turn.Removed).
		Msg("Draft accepted")

	s.notifier.Dispatch(notify.NewEvent(notify.EventDraftAccepted, workspace, scope, map[string]interface{}{
		"turn":    turn.Seq,
		"mode":    string(turn.Mode),
		"added":   turn.Added,
		"removed": turn.Removed,
	}))
	return &Ingested{Session: session, Accepted: accepted, Turn: turn}, nil
}

// Apply finalizes the session: the draft is validated once more, the
// in-progress record is removed, and the finished session is returned
// so the caller can persist the asset it describes.
func (s *Service) Apply(ctx context.Context, workspace, scope string) (*models.AuthoringSession, error) {
	session, err := s.store.GetSession(ctx, workspace, scope)
	if err != nil {
		return nil, err
	}
	if session.Draft == nil {
		return nil, fmt.Errorf("session %s/%s has no accepted draft to apply", workspace, scope)
	}

	if res := validate.Draft(session.Kind, session.Draft); !res.OK {
		return nil, fmt.Errorf("draft no longer validates: %s", res.Errors[0])
	}

	if err := s.store.DeleteSession(ctx, workspace, scope); err != nil {
		return nil, err
	}

	log.Info().
		Str("workspace", workspace).
		Str("scope", scope).
		Int("turns", len(session.Turns)).
		Msg("Draft applied")

	s.notifier.Dispatch(notify.NewEvent(notify.EventDraftApplied, workspace, scope, map[string]interface{}{
		"turns": len(session.Turns),
		"kind":  string(session.Kind),
	}))
	return session, nil
}

// Discard drops the session without applying its draft.
func (s *Service) Discard(ctx context.Context, workspace, scope string) error {
	if err := s.store.DeleteSession(ctx, workspace, scope); err != nil {
		return err
	}
	log.Info().Str("workspace", workspace).Str("scope", scope).Msg("Authoring session discarded")
	return nil
}
