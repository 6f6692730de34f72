package clone

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/hazyhaar/replica/assets"
	"github.com/hazyhaar/replica/budget"
	"github.com/hazyhaar/replica/detect"
	"github.com/hazyhaar/replica/render"
)

// Stage progress percentages. History steps append; a later step never
// rewrites an earlier one.
const (
	pctAnalyzing  = 10
	pctExtracted  = 25
	pctDetected   = 40
	pctGenerating = 55
	pctAssets     = 60
	pctGenerated  = 75
	pctRewritten  = 90
	pctScored     = 95
)

// run executes the full pipeline for one session. It owns the session for
// its duration via the run token; any panic or stage error lands the
// session in failed with the triggering message, never a partial result.
func (s *Service) run(ctx context.Context, id string) {
	token, err := s.store.AcquireRun(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRunInFlight) {
			s.logger.Warn("clone: run already in flight", "session_id", id)
		} else {
			s.logger.Error("clone: acquire run", "session_id", id, "error", err)
		}
		return
	}
	defer s.releaseRun(ctx, id, token)

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.Error("clone: load session", "session_id", id, "error", err)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, sess, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.execute(ctx, sess); err != nil {
		s.fail(ctx, sess, err.Error())
	}
}

func (s *Service) execute(ctx context.Context, sess *Session) error {
	pageURL := sess.Request.URL

	if err := s.advance(ctx, sess, StatusAnalyzing, "Analyzing", pctAnalyzing,
		"Loading page in headless browser"); err != nil {
		return err
	}

	snap, err := s.renderer.Extract(ctx, pageURL, render.ExtractOptions{
		WaitForLoad:   true,
		IncludeStyles: true,
		MaxDepth:      s.cfg.MaxDepth,
		MaxElements:   s.cfg.MaxElements,
	})
	if err != nil {
		return Wrap(KindExtraction, "dom extraction failed", err)
	}
	if err := s.progress(ctx, sess, "DOM extracted", pctExtracted,
		fmt.Sprintf("Captured %d elements, %d assets", len(snap.Elements), len(snap.Assets))); err != nil {
		return err
	}

	det, err := detect.New(snap)
	if err != nil {
		return Wrap(KindDetection, "component detection failed", err)
	}
	result := det.Detect(sess.ID)
	if err := s.progress(ctx, sess, "Components detected", pctDetected,
		fmt.Sprintf("Found %d components", result.TotalComponents)); err != nil {
		return err
	}
	s.logger.Info("clone: detection finished",
		"session_id", sess.ID, "components", result.TotalComponents, "took", result.Duration)

	if err := s.advance(ctx, sess, StatusGenerating, "Generating", pctGenerating,
		"Preparing generation prompt"); err != nil {
		return err
	}

	dl := assets.NewDownloader(assets.DownloaderConfig{
		Dir:     filepath.Join(s.cfg.AssetsDir, sess.ID),
		Workers: s.cfg.AssetWorkers,
		Timeout: s.cfg.AssetTimeout,
		MaxSize: s.cfg.AssetMaxSize,
		Logger:  s.logger,
	})
	downloads, err := dl.Download(ctx, snap.Assets)
	if err != nil {
		// Asset failures degrade the replica, they do not fail the run.
		s.logger.Warn("clone: asset download", "session_id", sess.ID, "error", err)
	}
	assetMap := assets.Map(downloads)
	if err := s.progress(ctx, sess, "Assets downloaded", pctAssets,
		fmt.Sprintf("Localized %d of %d assets", len(assetMap), len(snap.Assets))); err != nil {
		return err
	}

	prompt := s.budget.Build(result, snap, budget.Params{
		URL:          pageURL,
		Quality:      sess.Request.Quality,
		Ceiling:      s.cfg.TokenCeiling,
		AssetContext: assetMap,
	})
	s.logger.Info("clone: prompt assembled",
		"session_id", sess.ID, "tier", prompt.Tier, "estimated_tokens", prompt.Estimated)

	art, err := s.gen.Generate(ctx, prompt.Text, s.cfg.MaxOutputTokens)
	if err != nil {
		return Wrap(KindProvider, "html generation failed", err)
	}
	if err := s.progress(ctx, sess, "HTML generated", pctGenerated,
		fmt.Sprintf("Generated %d bytes using %d tokens", len(art.HTML), art.TokensUsed)); err != nil {
		return err
	}

	if rewritten, rwErr := assets.Rewrite(art.HTML, assetMap); rwErr != nil {
		s.logger.Warn("clone: asset rewrite", "session_id", sess.ID, "error", rwErr)
	} else {
		art.HTML = rewritten
	}
	for _, local := range assetMap {
		art.Assets = append(art.Assets, local)
	}
	if err := s.progress(ctx, sess, "Assets linked", pctRewritten,
		"Rewrote asset references to local copies"); err != nil {
		return err
	}

	art.Similarity = SimilarityScore(result.Components, art.HTML)
	s.logger.Info("clone: similarity estimated", "session_id", sess.ID,
		"score", art.Similarity, "replicated", ReplicatedCounts(result.Components, art.HTML))
	if err := s.progress(ctx, sess, "Scored", pctScored,
		fmt.Sprintf("Estimated similarity %.1f%%", art.Similarity)); err != nil {
		return err
	}

	sess.Complete(art, "Replica generated")
	if err := s.store.Update(ctx, sess); err != nil {
		return err
	}
	s.logEvent(ctx, "clone_session_completed", sess.ID, "complete", true)
	s.logger.Info("clone: session completed",
		"session_id", sess.ID, "similarity", art.Similarity, "tier", prompt.Tier)
	return nil
}

// advance performs a status transition with a progress step and persists.
func (s *Service) advance(ctx context.Context, sess *Session, to Status, name string, pct float64, msg string) error {
	if err := sess.Advance(to, ProgressStep{Name: name, Percentage: pct, Message: msg}); err != nil {
		return err
	}
	return s.store.Update(ctx, sess)
}

// progress appends a step within the current status and persists.
func (s *Service) progress(ctx context.Context, sess *Session, name string, pct float64, msg string) error {
	now := time.Now().UTC()
	sess.Progress = append(sess.Progress, ProgressStep{
		Name:       name,
		Status:     sess.Status,
		Percentage: pct,
		Message:    msg,
		StartedAt:  now,
	})
	sess.UpdatedAt = now
	return s.store.Update(ctx, sess)
}

// fail lands the session in failed, persisting best-effort with a detached
// context so cancellation cannot swallow the terminal state.
func (s *Service) fail(ctx context.Context, sess *Session, message string) {
	sess.Fail(message)
	persistCtx := context.WithoutCancel(ctx)
	if err := s.store.Update(persistCtx, sess); err != nil {
		s.logger.Error("clone: persist failure state", "session_id", sess.ID, "error", err)
	}
	s.logEvent(persistCtx, "clone_session_failed", sess.ID, "fail", false)
	s.logger.Error("clone: session failed", "session_id", sess.ID, "reason", message)
}
