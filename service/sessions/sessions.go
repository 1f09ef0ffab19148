// Package sessions implements login sessions and the session-gated enqueue
// path: a logged-in user requesting their own recalculation under a rework.
package sessions

import (
	"context"
	"errors"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/osu-rework/performance-service/service/apperrors"
	"github.com/osu-rework/performance-service/service/models"
	"github.com/osu-rework/performance-service/service/recalc"
	"github.com/osu-rework/performance-service/service/store"
)

type Service struct {
	store    store.Store
	sessions *store.Sessions
	enqueuer *recalc.Enqueuer
	logger   zerolog.Logger
}

func NewService(st store.Store, sessions *store.Sessions, enqueuer *recalc.Enqueuer, logger zerolog.Logger) *Service {
	return &Service{store: st, sessions: sessions, enqueuer: enqueuer, logger: logger}
}

// safeUsername normalizes the way the login tables key usernames.
func safeUsername(username string) string {
	return strings.ReplaceAll(strings.ToLower(username), " ", "_")
}

// Create verifies credentials and returns a session token. Bad credentials
// are a negative response, not an error: the caller cannot distinguish an
// unknown user from a wrong password.
func (s *Service) Create(ctx context.Context, username, password string) (models.CreateSessionResponse, error) {
	userID, hash, found, err := s.store.GetUserAuth(ctx, safeUsername(username))
	if err != nil {
		return models.CreateSessionResponse{}, err
	}
	if !found {
		return models.CreateSessionResponse{Success: false}, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return models.CreateSessionResponse{Success: false}, nil
	}

	token, err := s.sessions.Create(ctx, userID)
	if err != nil {
		return models.CreateSessionResponse{}, err
	}

	s.logger.Info().Int32("user_id", userID).Msg("session created")
	return models.CreateSessionResponse{Success: true, UserID: &userID, SessionToken: &token}, nil
}

// Delete logs a session out. Unknown tokens succeed silently.
func (s *Service) Delete(ctx context.Context, token string) error {
	return s.sessions.Delete(ctx, token)
}

// Enqueue queues the session's user under a rework. Gate failures come back
// as a negative response with feedback; only infrastructure failures error.
func (s *Service) Enqueue(ctx context.Context, token string, reworkID int32) (models.QueueResponse, error) {
	userID, found, err := s.sessions.UserID(ctx, token)
	if err != nil {
		return models.QueueResponse{}, err
	}
	if !found {
		return refusal("Invalid session token"), nil
	}

	user, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return models.QueueResponse{}, err
	}
	if user == nil {
		return refusal("User does not exist"), nil
	}
	if user.Restricted() {
		return refusal("User is restricted"), nil
	}

	rework, err := s.store.GetRework(ctx, reworkID)
	if err != nil {
		return models.QueueResponse{}, err
	}
	if rework == nil {
		return models.QueueResponse{}, apperrors.New(apperrors.NotFound, "Rework not found")
	}

	if err := s.enqueuer.QueueUser(ctx, rework, userID, recalc.PathSession); err != nil {
		if errors.Is(err, recalc.ErrAlreadyQueued) {
			return refusal("Already in queue"), nil
		}
		return models.QueueResponse{}, err
	}

	s.logger.Info().
		Int32("user_id", userID).
		Int32("rework_id", reworkID).
		Msg("user queued via session")
	return models.QueueResponse{Success: true}, nil
}

func refusal(msg string) models.QueueResponse {
	return models.QueueResponse{Success: false, Message: &msg}
}
