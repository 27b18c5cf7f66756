package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/execution-hub/serial-reservation/internal/application/authority"
	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
	"github.com/execution-hub/serial-reservation/internal/infrastructure/sse"
)

type messageResponse struct {
	Accepted bool          `json:"accepted"`
	Reason   token.Reason  `json:"reason,omitempty"`
	Token    *token.Token  `json:"token,omitempty"`
	Tokens   []token.Token `json:"tokens,omitempty"`
}

type snapshotResponse struct {
	Category string        `json:"category"`
	Tokens   []token.Token `json:"tokens"`
}

// asConnectionLost tags a pool load failure so it maps to CONNECTION_LOST.
func asConnectionLost(err error) error {
	if errors.Is(err, token.ErrAuthorityStopped) || errors.Is(err, token.ErrConnectionLost) {
		return err
	}
	return fmt.Errorf("%w: %w", token.ErrConnectionLost, err)
}

// streamEndpoint opens a session and streams its events. The first frame
// is always the SNAPSHOT carrying the new session id.
func (s *Server) streamEndpoint(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	actorID := firstNonEmpty(q.Get("actor_id"), r.Header.Get("X-Actor-Id"))
	if actorID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "actor_id required")
		return
	}
	actorName := firstNonEmpty(q.Get("actor_name"), r.Header.Get("X-Actor-Name"))
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "streaming not supported")
		return
	}

	ctx := r.Context()
	sess := s.tracker.Open(actorID, actorName, q.Get("category"))
	id := sess.SessionID
	log := s.logger.With().Str("session_id", id.String()).Str("actor_id", actorID).Logger()

	var sub *sse.Subscriber
	err := s.authority.Attach(ctx, id, sess.Category, func() error {
		sub = s.hub.Register(id, actorID, sess.Category)
		return nil
	})
	if err != nil {
		s.hub.Unregister(id)
		_, _ = s.tracker.Terminate(context.WithoutCancel(ctx), id)
		respondServiceError(w, asConnectionLost(err))
		return
	}
	defer func() {
		s.hub.Unregister(id)
		released, err := s.tracker.Terminate(context.WithoutCancel(ctx), id)
		if err != nil {
			log.Warn().Err(err).Msg("release on disconnect failed")
			return
		}
		log.Info().Strs("released", released).Msg("stream closed")
	}()
	_ = s.tracker.Activate(id)

	// Streams have no write deadline.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-Id", id.String())
	w.WriteHeader(http.StatusOK)
	flusher.Flush()
	log.Info().Str("category", sess.Category).Msg("stream opened")

	for {
		waitCtx, cancel := context.WithTimeout(ctx, s.pingInterval)
		ev, err := sub.Next(waitCtx)
		cancel()
		switch {
		case err == nil:
			payload, mErr := json.Marshal(ev)
			if mErr != nil {
				log.Error().Err(mErr).Msg("encode event failed")
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
				return
			}
		case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
			if _, err := w.Write([]byte(": ping\n\n")); err != nil {
				return
			}
		default:
			// client gone, or subscriber replaced/evicted
			return
		}
		flusher.Flush()
	}
}

func (s *Server) postMessage(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	var msg reservation.Message
	if err := decodeBody(r, &msg); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	if msg.SessionID == uuid.Nil {
		msg.SessionID = sessionID
	}
	if msg.SessionID != sessionID {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "sessionId does not match path")
		return
	}
	if err := msg.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", err.Error())
		return
	}
	sess, err := s.tracker.Get(sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if sess.ActorID != msg.ActorID {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "actorId does not own session")
		return
	}
	_ = s.tracker.Touch(sessionID)
	category := firstNonEmpty(msg.Category, sess.Category)

	ctx := r.Context()
	var res authority.Result
	switch msg.Type {
	case reservation.MessageSnapshotQuery:
		tokens, err := s.authority.SnapshotFor(ctx, category)
		if err != nil {
			respondServiceError(w, asConnectionLost(err))
			return
		}
		respondJSON(w, http.StatusOK, messageResponse{Accepted: true, Tokens: tokens})
		return
	case reservation.MessageRequest:
		res, err = s.authority.Request(ctx, authority.RequestInput{
			TokenID:   msg.TokenID,
			ActorID:   msg.ActorID,
			ActorName: firstNonEmpty(msg.ActorName, sess.ActorName),
			SessionID: sessionID,
			Category:  category,
		})
	case reservation.MessageRelease:
		res, err = s.authority.Release(ctx, msg.TokenID, sessionID)
	case reservation.MessageCommit:
		res, err = s.authority.Commit(ctx, msg.TokenID, sessionID)
	}
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if !res.Accepted {
		if res.Cause != nil {
			s.logger.Warn().Err(res.Cause).Str("token_id", msg.TokenID).Str("reason", string(res.Reason)).Msg("message rejected")
		}
		respondJSON(w, http.StatusConflict, messageResponse{Reason: res.Reason, Token: res.Token})
		return
	}
	respondJSON(w, http.StatusOK, messageResponse{Accepted: true, Token: res.Token})
}

func (s *Server) getSnapshot(w http.ResponseWriter, r *http.Request) {
	category := token.NormalizeCategory(r.URL.Query().Get("category"))
	tokens, err := s.authority.SnapshotFor(r.Context(), category)
	if err != nil {
		respondServiceError(w, asConnectionLost(err))
		return
	}
	respondJSON(w, http.StatusOK, snapshotResponse{Category: category, Tokens: tokens})
}

// listSessions shows the live sessions of one actor, e.g. several tabs.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	actorID := firstNonEmpty(r.URL.Query().Get("actor_id"), r.Header.Get("X-Actor-Id"))
	if actorID == "" {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "actor_id required")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"actorId":  actorID,
		"sessions": s.tracker.ListByActor(actorID),
	})
}

// deleteSession is an explicit disconnect: the stream is closed and every
// reservation of the session is released.
func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	sessionID, err := parseUUIDParam(r, "sessionId")
	if err != nil {
		respondError(w, http.StatusBadRequest, "INVALID_PARAM", "invalid sessionId")
		return
	}
	if _, err := s.tracker.Get(sessionID); err != nil {
		respondServiceError(w, err)
		return
	}
	s.hub.Unregister(sessionID)
	released, err := s.tracker.Terminate(r.Context(), sessionID)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	if released == nil {
		released = []string{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"sessionId": sessionID,
		"released":  released,
	})
}
