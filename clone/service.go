package clone

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hazyhaar/replica/budget"
	"github.com/hazyhaar/replica/dom"
	"github.com/hazyhaar/replica/llm"
	"github.com/hazyhaar/replica/observability"
	"github.com/hazyhaar/replica/render"
)

// Renderer is the browser surface the pipeline needs. *render.Manager
// satisfies it.
type Renderer interface {
	Extract(ctx context.Context, pageURL string, opts render.ExtractOptions) (*dom.Snapshot, error)
	Screenshot(ctx context.Context, pageURL string, vp render.Viewport) ([]byte, error)
	ScreenshotHTML(ctx context.Context, html string, vp render.Viewport) ([]byte, error)
}

// Generator is the language-model surface the pipeline needs.
// *llm.Generator satisfies it.
type Generator interface {
	Generate(ctx context.Context, prompt string, maxOutputTokens int) (*llm.Artifact, error)
	Compare(ctx context.Context, imageA, imageB []byte, instruction string) (string, error)
}

// ServiceConfig carries the tunables a Service needs beyond its
// collaborators.
type ServiceConfig struct {
	TokenCeiling    int           // prompt budget, default 180000
	MaxOutputTokens int           // response reserve, default 16384
	RunTimeout      time.Duration // wall clock per pipeline run, default 5m
	AssetsDir       string        // base directory for downloaded assets
	Viewport        render.Viewport
	MaxRefinements  int // per session, default 3

	// Extraction caps, zero falls back to the extractor defaults.
	MaxElements int
	MaxDepth    int

	// Asset download pool, zero falls back to the downloader defaults.
	AssetWorkers int
	AssetTimeout time.Duration
	AssetMaxSize int64
}

func (c *ServiceConfig) applyDefaults() {
	if c.TokenCeiling <= 0 {
		c.TokenCeiling = 180_000
	}
	if c.MaxOutputTokens <= 0 {
		c.MaxOutputTokens = 16_384
	}
	if c.RunTimeout <= 0 {
		c.RunTimeout = 5 * time.Minute
	}
	if c.AssetsDir == "" {
		c.AssetsDir = "data/assets"
	}
	if c.Viewport.Width == 0 {
		c.Viewport = render.ViewportDesktop
	}
	if c.MaxRefinements <= 0 {
		c.MaxRefinements = 3
	}
}

// Service coordinates the full replication lifecycle: session CRUD plus
// asynchronous pipeline and refinement runs.
type Service struct {
	store    *Store
	renderer Renderer
	gen      Generator
	budget   *budget.Manager
	events   *observability.EventLogger
	logger   *slog.Logger
	cfg      ServiceConfig

	wg sync.WaitGroup
}

// NewService wires a Service. events may be nil when the observability
// store is disabled.
func NewService(store *Store, renderer Renderer, gen Generator,
	events *observability.EventLogger, logger *slog.Logger, cfg ServiceConfig) *Service {
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		renderer: renderer,
		gen:      gen,
		budget:   budget.NewManager(nil),
		events:   events,
		logger:   logger,
		cfg:      cfg,
	}
}

// CreateSession validates the request, persists a pending session and
// launches the pipeline run in the background.
func (s *Service) CreateSession(ctx context.Context, req Request) (*Session, error) {
	if err := validateURL(req.URL); err != nil {
		return nil, err
	}
	switch req.Quality {
	case "", "fast", "balanced", "high":
	default:
		return nil, E(KindValidation, "quality must be fast, balanced or high")
	}

	sess, err := s.store.Create(ctx, req)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, "clone_session_created", sess.ID, "create", true)
	s.logger.Info("clone: session created", "session_id", sess.ID, "url", req.URL)

	s.launch(sess.ID, s.run)
	return sess.Copy(), nil
}

// GetSession returns a deep copy of the session.
func (s *Service) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return sess.Copy(), nil
}

// ListSessions pages through sessions, newest first.
func (s *Service) ListSessions(ctx context.Context, status Status, limit, offset int) ([]*Session, int, error) {
	sessions, total, err := s.store.List(ctx, status, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	out := make([]*Session, len(sessions))
	for i, sess := range sessions {
		out[i] = sess.Copy()
	}
	return out, total, nil
}

// DeleteSession removes a session, deferring removal while a run is in
// flight.
func (s *Service) DeleteSession(ctx context.Context, id string) error {
	deferred, err := s.store.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.logEvent(ctx, "clone_session_deleted", id, "delete", true)
	if deferred {
		s.logger.Info("clone: deletion deferred until run completes", "session_id", id)
	}
	return nil
}

// RequestRefinement starts one refinement pass on a completed session.
// Feedback is optional operator guidance folded into the comparison.
// The run token is claimed before the request is reported accepted, so a
// concurrent run surfaces as ErrRunInFlight instead of a dropped request.
func (s *Service) RequestRefinement(ctx context.Context, id, feedback string) (*Session, error) {
	token, err := s.store.AcquireRun(ctx, id)
	if err != nil {
		return nil, err
	}

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.releaseRun(ctx, id, token)
		return nil, err
	}
	if sess.Status != StatusCompleted {
		s.releaseRun(ctx, id, token)
		return nil, Wrap(KindValidation,
			fmt.Sprintf("session %s is %s", id, sess.Status), ErrNotCompleted)
	}
	if sess.RefinementIterations >= s.cfg.MaxRefinements {
		s.releaseRun(ctx, id, token)
		return nil, E(KindValidation,
			fmt.Sprintf("refinement limit of %d reached", s.cfg.MaxRefinements))
	}

	s.logEvent(ctx, "clone_refinement_requested", id, "refine", true)
	s.launch(id, func(ctx context.Context, id string) { s.refine(ctx, id, token, feedback) })
	return sess.Copy(), nil
}

func (s *Service) releaseRun(ctx context.Context, id, token string) {
	if err := s.store.ReleaseRun(context.WithoutCancel(ctx), id, token); err != nil {
		s.logger.Error("clone: release run", "session_id", id, "error", err)
	}
}

// Wait blocks until every launched run has finished. Used on shutdown.
func (s *Service) Wait() { s.wg.Wait() }

// launch runs fn on its own goroutine with a detached, bounded context so
// the run outlives the originating HTTP request.
func (s *Service) launch(id string, fn func(context.Context, string)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.RunTimeout)
		defer cancel()
		fn(ctx, id)
	}()
}

func (s *Service) logEvent(ctx context.Context, eventType, entityID, action string, success bool) {
	if s.events == nil {
		return
	}
	s.events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   eventType,
		ServiceName: "replica",
		EntityType:  "clone_session",
		EntityID:    entityID,
		Action:      action,
		Success:     success,
	})
}

func validateURL(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return E(KindValidation, "url is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return Wrap(KindValidation, "invalid url", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return E(KindValidation, "url scheme must be http or https")
	}
	if u.Host == "" {
		return E(KindValidation, "url host is required")
	}
	return nil
}
