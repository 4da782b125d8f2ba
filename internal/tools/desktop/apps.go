package desktop

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/normanking/fairy/internal/capability"
)

// OpenApp launches an application without waiting for it.
func (d *Desktop) OpenApp(_ context.Context, name string) capability.Result {
	name = strings.TrimSpace(name)
	if name == "" {
		return capability.Fail("App name is required")
	}
	if isBlockedApp(name) {
		return capability.Failf("App '%s' is blocked for security reasons", name)
	}

	exe := resolveApp(name)
	if err := d.runner.Start(exe); err != nil {
		if isNotFound(err) {
			d.log.Warn().Str("app", exe).Msg("app not found")
			return capability.Failf("App not found: %s", name)
		}
		return capability.Failf("Error opening %s: %v", name, err)
	}

	d.log.Info().Str("app", exe).Msg("launched")
	return capability.OKf("Launched %s successfully", name)
}

// Screenshot captures the whole screen into the screenshot directory.
func (d *Desktop) Screenshot(ctx context.Context) capability.Result {
	dir, err := filepath.Abs(d.screenshotDir)
	if err != nil {
		return capability.Failf("Error taking screenshot: %v", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return capability.Failf("Error taking screenshot: %v", err)
	}

	path := filepath.Join(dir, "vision_input.png")
	if _, err := d.run(ctx, "scrot", "--overwrite", path); err != nil {
		if isNotFound(err) {
			return capability.Fail("'scrot' not found. Please install it (sudo apt install scrot).")
		}
		return capability.Failf("Error taking screenshot: %v", err)
	}

	d.log.Info().Str("path", path).Msg("screenshot saved")
	return capability.OKf("Screenshot saved to %s", path)
}
