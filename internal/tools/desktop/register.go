package desktop

import (
	"context"
	"strings"

	"github.com/normanking/fairy/internal/capability"
	"github.com/normanking/fairy/internal/directive"
)

// Bindings returns the desktop capabilities for the registry.
func Bindings(d *Desktop) []capability.Binding {
	return []capability.Binding{
		capability.Bind(directive.OpenLinux, func(ctx context.Context, args []string) capability.Result {
			return d.OpenApp(ctx, args[0])
		}),
		capability.Bind(directive.TypeLinux, func(ctx context.Context, args []string) capability.Result {
			// A '|' inside typed text was split by the parser; put it back.
			return d.TypeText(ctx, strings.Join(args, "|"))
		}),
		capability.Bind(directive.SystemLinux, func(ctx context.Context, args []string) capability.Result {
			return d.SystemControl(ctx, args[0])
		}),
		capability.Bind(directive.KeyLinux, func(ctx context.Context, args []string) capability.Result {
			return d.PressKey(ctx, args[0])
		}),
		capability.Bind(directive.ScreenshotLinux, func(ctx context.Context, _ []string) capability.Result {
			return d.Screenshot(ctx)
		}),
	}
}
