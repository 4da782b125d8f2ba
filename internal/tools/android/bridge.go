// Package android forwards phone actions (SMS, calls, app launches,
// WhatsApp messages) to the companion Android app connected over the
// websocket transport.
package android

import (
	"context"
	"errors"
	"strings"
	"unicode"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/normanking/fairy/internal/capability"
	"github.com/normanking/fairy/internal/directive"
)

// ErrNoClients is returned by an Emitter when no device is connected.
var ErrNoClients = errors.New("no connected clients")

// Intent kinds understood by the Android app.
const (
	IntentSMS      = "sms"
	IntentCall     = "call"
	IntentOpenApp  = "open_app"
	IntentWhatsApp = "whatsapp"
)

// Intent is the payload of a trigger_intent server action.
type Intent struct {
	Type        string `json:"type"`
	Intent      string `json:"intent"`
	PhoneNumber string `json:"phone_number,omitempty"`
	Message     string `json:"message,omitempty"`
	Package     string `json:"package,omitempty"`
}

// Emitter delivers an intent to the connected devices.
type Emitter interface {
	Emit(ctx context.Context, intent Intent) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, intent Intent) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, intent Intent) error {
	return f(ctx, intent)
}

// packages maps spoken app names to Android package names.
var packages = map[string]string{
	"whatsapp":  "com.whatsapp",
	"youtube":   "com.google.android.youtube",
	"spotify":   "com.spotify.music",
	"chrome":    "com.android.chrome",
	"maps":      "com.google.android.apps.maps",
	"gmail":     "com.google.android.gm",
	"camera":    "com.android.camera",
	"telegram":  "org.telegram.messenger",
	"instagram": "com.instagram.android",
	"settings":  "com.android.settings",
}

// PackageFor resolves an app name to a package. Names that already look
// like a package are returned unchanged.
func PackageFor(app string) string {
	app = strings.TrimSpace(app)
	if pkg, ok := packages[strings.ToLower(app)]; ok {
		return pkg
	}
	return app
}

// Bridge sends phone actions through an Emitter.
type Bridge struct {
	emitter Emitter
	log     zerolog.Logger
}

// NewBridge creates a bridge over the given emitter.
func NewBridge(emitter Emitter) *Bridge {
	return &Bridge{
		emitter: emitter,
		log:     log.With().Str("component", "android").Logger(),
	}
}

// SendSMS asks the phone to send a text message.
func (b *Bridge) SendSMS(ctx context.Context, number, message string) capability.Result {
	number = cleanNumber(number)
	if number == "" {
		return capability.Fail("Phone number is required")
	}
	return b.send(ctx, Intent{Intent: IntentSMS, PhoneNumber: number, Message: message},
		"SMS to "+number+" sent to phone")
}

// Call asks the phone to dial a number.
func (b *Bridge) Call(ctx context.Context, number string) capability.Result {
	number = cleanNumber(number)
	if number == "" {
		return capability.Fail("Phone number is required")
	}
	return b.send(ctx, Intent{Intent: IntentCall, PhoneNumber: number},
		"Calling "+number)
}

// OpenApp asks the phone to open an app by name or package.
func (b *Bridge) OpenApp(ctx context.Context, app string) capability.Result {
	pkg := PackageFor(app)
	if pkg == "" {
		return capability.Fail("App name is required")
	}
	return b.send(ctx, Intent{Intent: IntentOpenApp, Package: pkg},
		"Opening "+pkg+" on phone")
}

// SendWhatsApp asks the phone to send a WhatsApp message.
func (b *Bridge) SendWhatsApp(ctx context.Context, number, message string) capability.Result {
	number = cleanNumber(number)
	if number == "" {
		return capability.Fail("Phone number is required")
	}
	return b.send(ctx, Intent{Intent: IntentWhatsApp, PhoneNumber: number, Message: message},
		"WhatsApp message to "+number+" sent to phone")
}

func (b *Bridge) send(ctx context.Context, in Intent, ok string) capability.Result {
	in.Type = "trigger_intent"
	if b.emitter == nil {
		return capability.Fail("Android bridge not initialized")
	}
	if err := b.emitter.Emit(ctx, in); err != nil {
		if errors.Is(err, ErrNoClients) {
			return capability.Fail("No mobile device connected")
		}
		b.log.Error().Err(err).Str("intent", in.Intent).Msg("emit failed")
		return capability.Failf("Error sending to phone: %v", err)
	}
	b.log.Info().Str("intent", in.Intent).Msg("sent to phone")
	return capability.OK(ok)
}

// cleanNumber drops spaces, dashes and brackets, keeping a leading '+'.
func cleanNumber(n string) string {
	var sb strings.Builder
	for i, r := range strings.TrimSpace(n) {
		switch {
		case unicode.IsDigit(r):
			sb.WriteRune(r)
		case r == '+' && i == 0:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Bindings returns the phone capabilities. Message text split on '|' by
// the parser is joined back.
func Bindings(b *Bridge) []capability.Binding {
	return []capability.Binding{
		capability.Bind(directive.SMS, func(ctx context.Context, args []string) capability.Result {
			return b.SendSMS(ctx, args[0], strings.Join(args[1:], "|"))
		}),
		capability.Bind(directive.Call, func(ctx context.Context, args []string) capability.Result {
			return b.Call(ctx, args[0])
		}),
		capability.Bind(directive.OpenApp, func(ctx context.Context, args []string) capability.Result {
			return b.OpenApp(ctx, args[0])
		}),
		capability.Bind(directive.WhatsApp, func(ctx context.Context, args []string) capability.Result {
			return b.SendWhatsApp(ctx, args[0], strings.Join(args[1:], "|"))
		}),
	}
}
