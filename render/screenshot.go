package render

import (
	"context"
	"fmt"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
)

// Viewport names a capture geometry.
type Viewport struct {
	Name   string `yaml:"name"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	Mobile bool   `yaml:"mobile"`
}

// Named viewports matching common device classes.
var (
	ViewportDesktop = Viewport{Name: "desktop", Width: 1920, Height: 1080}
	ViewportTablet  = Viewport{Name: "tablet", Width: 768, Height: 1024}
	ViewportMobile  = Viewport{Name: "mobile", Width: 375, Height: 667, Mobile: true}
)

// Screenshot captures a full-page PNG of url at the given viewport.
func (m *Manager) Screenshot(ctx context.Context, pageURL string, vp Viewport) ([]byte, error) {
	page, err := m.openTab(ctx, pageURL)
	if err != nil {
		return nil, err
	}
	defer page.Close()
	return m.capture(ctx, page, vp)
}

// ScreenshotHTML renders raw HTML in a blank tab and captures it. Used to
// compare a generated artifact against the original page.
func (m *Manager) ScreenshotHTML(ctx context.Context, html string, vp Viewport) ([]byte, error) {
	page, err := m.openBlankTab()
	if err != nil {
		return nil, err
	}
	defer page.Close()

	if err := page.Context(ctx).SetDocumentContent(html); err != nil {
		return nil, fmt.Errorf("render: set document content: %w", err)
	}
	if err := page.Context(ctx).WaitLoad(); err != nil {
		m.cfg.Logger.Warn("render: html wait load", "error", err)
	}
	return m.capture(ctx, page, vp)
}

func (m *Manager) capture(ctx context.Context, page *rod.Page, vp Viewport) ([]byte, error) {
	if err := page.Context(ctx).SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             vp.Width,
		Height:            vp.Height,
		DeviceScaleFactor: 1,
		Mobile:            vp.Mobile,
	}); err != nil {
		return nil, fmt.Errorf("render: set viewport: %w", err)
	}

	data, err := page.Context(ctx).Screenshot(true, &proto.PageCaptureScreenshot{
		Format: proto.PageCaptureScreenshotFormatPng,
	})
	if err != nil {
		return nil, fmt.Errorf("render: screenshot: %w", err)
	}
	return data, nil
}
