package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/r3labs/sse/v2"
	"github.com/rs/zerolog"
	"gopkg.in/cenkalti/backoff.v1"

	"github.com/execution-hub/serial-reservation/internal/domain/reservation"
	"github.com/execution-hub/serial-reservation/internal/domain/token"
)

const correlationHeader = "X-Correlation-Id"

var ErrStreamClosed = errors.New("event stream closed")

// APIError is a non-rejection failure returned by the server.
type APIError struct {
	Status        int
	Code          string
	Message       string
	CorrelationID string
}

func (e APIError) Error() string {
	return fmt.Sprintf("api error %d %s: '%s' (correlation: %s)", e.Status, e.Code, e.Message, e.CorrelationID)
}

// DialConfig identifies the connecting client.
type DialConfig struct {
	BaseURL    string
	ActorID    string
	ActorName  string
	Category   string
	HTTPClient *http.Client
	Logger     zerolog.Logger
}

// HTTPTransport is a session on the reservation server: an event stream
// plus message posts.
type HTTPTransport struct {
	base       string
	actorID    string
	category   string
	httpClient *http.Client
	logger     zerolog.Logger

	sessionID uuid.UUID
	events    chan *reservation.Event
	ready     chan error
	started   bool // touched only by the stream goroutine
	cancel    context.CancelFunc
	done      chan struct{}

	mu  sync.Mutex
	err error
}

var _ Transport = (*HTTPTransport)(nil)

// maxFrameSize bounds one event; a SNAPSHOT of a large pool is the biggest.
const maxFrameSize = 8 << 20

// Dial opens the event stream and waits for the initial snapshot, which
// carries the session id. The snapshot is also the first event on Events.
// A dropped stream is not redialled: a new connection is a new session.
func Dial(ctx context.Context, cfg DialConfig) (*HTTPTransport, error) {
	if strings.TrimSpace(cfg.ActorID) == "" {
		return nil, errors.New("actor id is required")
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	t := &HTTPTransport{
		base:       strings.TrimRight(cfg.BaseURL, "/"),
		actorID:    cfg.ActorID,
		category:   token.NormalizeCategory(cfg.Category),
		httpClient: httpClient,
		logger:     cfg.Logger.With().Str("component", "reservation-transport").Logger(),
		events:     make(chan *reservation.Event, 64),
		ready:      make(chan error, 1),
		done:       make(chan struct{}),
	}

	q := url.Values{}
	q.Set("actor_id", cfg.ActorID)
	if cfg.ActorName != "" {
		q.Set("actor_name", cfg.ActorName)
	}
	q.Set("category", t.category)

	stream := sse.NewClient(t.base+"/v1/reservations/stream?"+q.Encode(), sse.ClientMaxBufferSize(maxFrameSize))
	stream.Connection = httpClient
	stream.ReconnectStrategy = &backoff.StopBackOff{}
	stream.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode == http.StatusOK {
			return nil
		}
		defer resp.Body.Close()
		return parseErrorResponse(resp)
	}

	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	t.cancel = cancel
	go t.consume(streamCtx, stream)

	select {
	case err := <-t.ready:
		if err != nil {
			cancel()
			<-t.done
			return nil, fmt.Errorf("opening stream: %w", err)
		}
	case <-ctx.Done():
		cancel()
		<-t.done
		return nil, ctx.Err()
	}
	return t, nil
}

func (t *HTTPTransport) consume(ctx context.Context, stream *sse.Client) {
	defer close(t.done)
	defer close(t.events)
	err := stream.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
		t.handle(ctx, msg)
	})
	if err == nil {
		err = ErrStreamClosed
	}
	t.mu.Lock()
	t.err = err
	t.mu.Unlock()
	t.logger.Debug().Err(err).Msg("stream ended")
	select {
	case t.ready <- err:
	default:
	}
}

// handle decodes one frame. The first one must be the session's SNAPSHOT.
func (t *HTTPTransport) handle(ctx context.Context, msg *sse.Event) {
	var ev reservation.Event
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		t.logger.Warn().Err(err).Msg("undecodable event skipped")
		return
	}
	if !t.started {
		t.started = true
		if ev.Type != reservation.EventSnapshot || ev.SessionID == nil {
			t.ready <- fmt.Errorf("unexpected first event %s", ev.Type)
			return
		}
		t.sessionID = *ev.SessionID
		t.ready <- nil
	}
	select {
	case t.events <- &ev:
	case <-ctx.Done():
	}
}

func (t *HTTPTransport) SessionID() uuid.UUID { return t.sessionID }

// Events yields every event of the session, starting with the snapshot.
// It is closed when the stream ends.
func (t *HTTPTransport) Events() <-chan *reservation.Event { return t.events }

// Err returns why the stream ended.
func (t *HTTPTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

func (t *HTTPTransport) Snapshot(ctx context.Context) ([]token.Token, error) {
	reply, err := t.send(ctx, reservation.MessageSnapshotQuery, "")
	if err != nil {
		return nil, err
	}
	return reply.Tokens, nil
}

func (t *HTTPTransport) Request(ctx context.Context, tokenID string) (*Reply, error) {
	return t.send(ctx, reservation.MessageRequest, tokenID)
}

func (t *HTTPTransport) Release(ctx context.Context, tokenID string) (*Reply, error) {
	return t.send(ctx, reservation.MessageRelease, tokenID)
}

func (t *HTTPTransport) Commit(ctx context.Context, tokenID string) (*Reply, error) {
	return t.send(ctx, reservation.MessageCommit, tokenID)
}

func (t *HTTPTransport) sessionURL() string {
	return t.base + "/v1/reservations/sessions/" + t.sessionID.String()
}

func (t *HTTPTransport) send(ctx context.Context, typ reservation.MessageType, tokenID string) (*Reply, error) {
	body, err := json.Marshal(reservation.Message{
		Type:      typ,
		TokenID:   tokenID,
		ActorID:   t.actorID,
		SessionID: t.sessionID,
		Category:  t.category,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sessionURL()+"/messages", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusConflict {
		return nil, parseErrorResponse(resp)
	}
	var reply Reply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &reply, nil
}

// Close ends the session on the server, which releases whatever it holds,
// and stops the stream.
func (t *HTTPTransport) Close(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.sessionURL(), nil)
	if err != nil {
		return err
	}
	resp, err := t.httpClient.Do(req)
	t.cancel()
	<-t.done
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNotFound {
		return parseErrorResponse(resp)
	}
	return nil
}

func parseErrorResponse(resp *http.Response) error {
	apiErr := APIError{Status: resp.StatusCode, CorrelationID: resp.Header.Get(correlationHeader)}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("request failed with status %d and unreadable body: %w", resp.StatusCode, err)
	}
	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		apiErr.Code = payload.Error
		apiErr.Message = payload.Message
		return apiErr
	}
	apiErr.Message = strings.TrimSpace(string(body))
	return apiErr
}
