package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/normanking/fairy/internal/agent"
)

// Terminal styles shared by the one-shot commands.
var (
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("203")).Bold(true)
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	titleStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("212")).Bold(true)
	idStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("86")).Bold(true)
	footerStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241")).Italic(true)
	sectionStyle = lipgloss.NewStyle().Border(lipgloss.NormalBorder(), false, false, true, false).
			BorderForeground(lipgloss.Color("238"))
)

func (c *cli) askCmd() *cobra.Command {
	var (
		plain    bool
		noMemory bool
	)

	cmd := &cobra.Command{
		Use:   "ask [request]",
		Short: "Run one request in the terminal",
		Long: `Ask runs a single request through the assistant and prints every
action it takes. Phone actions are unavailable without a connected device.

Examples:
  fairy ask "open firefox"
  fairy ask "what is the weather in Paris?"
  fairy ask --plain "list the files in my home directory"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), c.cfg.Server.CommandTimeout)
			defer cancel()
			return c.ask(ctx, cmd.OutOrStdout(), strings.Join(args, " "), plain, noMemory)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "print the answer without markdown rendering")
	cmd.Flags().BoolVar(&noMemory, "no-memory", false, "neither recall nor store memories")
	return cmd
}

func (c *cli) ask(ctx context.Context, w io.Writer, text string, plain, noMemory bool) error {
	cfg := c.cfg

	caps, err := buildCapabilities(ctx, cfg, nil)
	if err != nil {
		return err
	}
	model, err := newModel(ctx, cfg)
	if err != nil {
		return err
	}

	var mem agent.Memory
	if !noMemory {
		store, err := openMemory(ctx, cfg)
		if err != nil {
			return err
		}
		if store != nil {
			defer store.Close()
			mem = store
		}
	}

	loop := agent.NewLoop(model, caps.registry, loopOptions(cfg, mem)...)
	out, err := loop.Run(ctx, text, printEvents(w))
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, renderAnswer(out.FinalText, plain))
	fmt.Fprintln(w, footerStyle.Render(fmt.Sprintf("%s · %d step(s) · %s", out.State, out.Steps, out.RequestID)))
	return nil
}

// printEvents renders loop progress. Stream fragments are skipped; the
// final answer is printed once the run ends.
func printEvents(w io.Writer) agent.EventSink {
	return func(e agent.Event) {
		switch e.Type {
		case agent.EventThinking:
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("[%d] %s", e.Step, e.Message)))
		case agent.EventAction:
			mark := okStyle.Render("✓")
			if !e.Success {
				mark = failStyle.Render("✗")
			}
			fmt.Fprintf(w, "%s %s %s\n", mark, idStyle.Render(e.Action), e.Message)
		case agent.EventWarning:
			fmt.Fprintln(w, warnStyle.Render(e.Message))
		case agent.EventLog:
			fmt.Fprintln(w, dimStyle.Render(e.Message))
		case agent.EventError:
			fmt.Fprintln(w, failStyle.Render(e.Message))
		}
	}
}

// renderAnswer formats the model's answer as terminal markdown, falling
// back to the raw text when rendering fails.
func renderAnswer(text string, plain bool) string {
	text = strings.TrimSpace(text)
	if plain || text == "" {
		return text
	}
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(80),
	)
	if err != nil {
		return text
	}
	out, err := r.Render(text)
	if err != nil {
		return text
	}
	return strings.TrimRight(out, "\n")
}
