package desktop

import (
	"context"
	"strings"

	"github.com/normanking/fairy/internal/capability"
)

// SystemCommands lists the accepted SystemControl commands.
var SystemCommands = []string{"lock", "mute", "unmute", "volume_up", "volume_down"}

// SystemControl locks the screen or adjusts audio.
func (d *Desktop) SystemControl(ctx context.Context, command string) capability.Result {
	command = strings.ToLower(strings.TrimSpace(command))
	command = strings.ReplaceAll(command, " ", "_")

	var err error
	var msg string
	switch command {
	case "lock":
		if _, err = d.run(ctx, "gnome-screensaver-command", "-l"); err != nil {
			_, err = d.run(ctx, "xdg-screensaver", "lock")
		}
		msg = "Screen locked"
	case "mute":
		_, err = d.run(ctx, "amixer", "-D", "pulse", "sset", "Master", "toggle")
		msg = "Audio toggled (mute/unmute)"
	case "unmute":
		_, err = d.run(ctx, "amixer", "-D", "pulse", "sset", "Master", "on")
		msg = "Audio unmuted"
	case "volume_up":
		err = d.volume(ctx, "5%+")
		msg = "Volume increased"
	case "volume_down":
		err = d.volume(ctx, "5%-")
		msg = "Volume decreased"
	default:
		return capability.Failf("Unknown system command: %s", command)
	}

	if err != nil {
		d.log.Warn().Err(err).Str("command", command).Msg("system control failed")
		if isNotFound(err) {
			return capability.Failf("Required tool not found: %v", err)
		}
		return capability.Failf("System command failed: %v", err)
	}
	return capability.OK(msg)
}

// volume tries the PulseAudio mixer first, then the default ALSA one.
func (d *Desktop) volume(ctx context.Context, step string) error {
	if _, err := d.run(ctx, "amixer", "-D", "pulse", "sset", "Master", step); err == nil {
		return nil
	}
	_, err := d.run(ctx, "amixer", "sset", "Master", step)
	return err
}
