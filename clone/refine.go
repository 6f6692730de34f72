package clone

import (
	"context"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

const compareInstruction = `Compare these two screenshots. The first is the original website, the second is a generated replica. List the concrete visual discrepancies: layout shifts, missing or extra sections, wrong colors, wrong typography, misplaced components. Be specific and ordered by visual impact.`

// refine runs one refinement pass: screenshot the original and the current
// artifact, ask the model for a visual diff, then regenerate. Each
// invocation produces exactly one revised artifact; the prior artifact is
// superseded, never mutated. The caller already holds the run token;
// refine releases it.
func (s *Service) refine(ctx context.Context, id, token, feedback string) {
	defer s.releaseRun(ctx, id, token)

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		s.logger.Error("clone: load session for refinement", "session_id", id, "error", err)
		return
	}
	if sess.Status != StatusCompleted || sess.Result == nil {
		s.logger.Warn("clone: refinement skipped, session no longer completed",
			"session_id", id, "status", sess.Status)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.fail(ctx, sess, fmt.Sprintf("panic: %v", r))
		}
	}()

	if err := s.executeRefinement(ctx, sess, feedback); err != nil {
		s.fail(ctx, sess, err.Error())
	}
}

func (s *Service) executeRefinement(ctx context.Context, sess *Session, feedback string) error {
	prior := sess.Result

	if err := s.advance(ctx, sess, StatusRefining, "Refining", pctAnalyzing,
		"Capturing comparison screenshots"); err != nil {
		return err
	}

	var original, replica []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		original, err = s.renderer.Screenshot(gctx, sess.Request.URL, s.cfg.Viewport)
		return err
	})
	g.Go(func() error {
		var err error
		replica, err = s.renderer.ScreenshotHTML(gctx, prior.HTML, s.cfg.Viewport)
		return err
	})
	if err := g.Wait(); err != nil {
		return Wrap(KindExtraction, "comparison screenshots failed", err)
	}

	instruction := compareInstruction
	if feedback != "" {
		instruction += "\n\nOperator feedback to prioritize:\n" + feedback
	}
	discrepancies, err := s.gen.Compare(ctx, original, replica, instruction)
	if err != nil {
		return Wrap(KindProvider, "image comparison failed", err)
	}
	if err := s.progress(ctx, sess, "Compared", pctGenerating,
		"Visual discrepancies identified"); err != nil {
		return err
	}

	prompt := refinementPrompt(sess.Request.URL, prior.HTML, prior.CSS, prior.Assets, discrepancies)
	art, err := s.gen.Generate(ctx, prompt, s.cfg.MaxOutputTokens)
	if err != nil {
		return Wrap(KindProvider, "refinement generation failed", err)
	}

	// Local asset links survive refinement; the model is told to keep them.
	// The similarity estimate carries over: it is grounded in component
	// detection, which does not rerun here.
	art.Assets = append([]string(nil), prior.Assets...)
	art.Similarity = prior.Similarity

	sess.RefinementIterations++
	sess.Complete(art, fmt.Sprintf("Refinement %d applied", sess.RefinementIterations))
	if err := s.store.Update(ctx, sess); err != nil {
		return err
	}
	s.logEvent(ctx, "clone_session_refined", sess.ID, "refine", true)
	s.logger.Info("clone: refinement completed",
		"session_id", sess.ID, "iteration", sess.RefinementIterations)
	return nil
}

func refinementPrompt(pageURL, html, css string, localAssets []string, discrepancies string) string {
	var b strings.Builder
	b.WriteString("You are refining an HTML replica of " + pageURL + ".\n\n")
	b.WriteString("CURRENT REPLICA:\n```html\n" + html + "\n```\n\n")
	if css != "" {
		b.WriteString("CURRENT CSS:\n```css\n" + css + "\n```\n\n")
	}
	b.WriteString("VISUAL DISCREPANCIES FOUND:\n" + discrepancies + "\n\n")
	if len(localAssets) > 0 {
		b.WriteString("LOCAL ASSETS (keep these paths unchanged):\n")
		for _, a := range localAssets {
			b.WriteString("- " + a + "\n")
		}
		b.WriteString("\n")
	}
	b.WriteString(`REQUIREMENTS:
1. Correct the listed discrepancies. Do not add features or content absent from the original.
2. Preserve everything already correct.
3. Return the complete revised document, not a diff.

Respond with the full HTML in a fenced html code block, optionally followed by CSS in a fenced css block.`)
	return b.String()
}
