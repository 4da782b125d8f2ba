package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/normanking/fairy/internal/capability"
	"github.com/normanking/fairy/internal/config"
	"github.com/normanking/fairy/internal/directive"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PARSE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func parseCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "parse [text]",
		Short: "Show the directives in a model reply without running them",
		Long: `Parse extracts [ACTION: TYPE | arg | ...] markers from text, resolves
aliases and prints the directive-free text that would be spoken.

Examples:
  fairy parse "Opening it [ACTION: OPEN | firefox]"
  fairy parse --json "[ACTION: SMS | 555 0100 | running late]"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			directives, clean := directive.Parse(strings.Join(args, " "))
			w := cmd.OutOrStdout()

			if asJSON {
				enc := json.NewEncoder(w)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Directives []directive.Directive `json:"directives"`
					CleanText  string                `json:"clean_text"`
				}{directives, clean})
			}

			if len(directives) == 0 {
				fmt.Fprintln(w, dimStyle.Render("No directives found."))
			}
			for i, d := range directives {
				status := okStyle.Render("✓")
				if _, known := capability.Contracts[d.CanonicalType]; !known {
					status = failStyle.Render("✗ unknown")
				}
				fmt.Fprintf(w, "%d. %s %s", i+1, idStyle.Render(d.CanonicalType), status)
				if d.RawType != d.CanonicalType {
					fmt.Fprint(w, dimStyle.Render(" (from "+d.RawType+")"))
				}
				fmt.Fprintln(w)
				for j, a := range d.Args {
					fmt.Fprintf(w, "   arg %d: %q\n", j+1, a)
				}
			}
			fmt.Fprintln(w, sectionStyle.Render(titleStyle.Render("Clean text")))
			fmt.Fprintln(w, clean)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON")
	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// CAPABILITIES COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func capabilitiesCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "capabilities",
		Aliases: []string{"caps"},
		Short:   "List the actions the assistant can take",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, sectionStyle.Render(titleStyle.Render("Capabilities")))
			for _, id := range capability.ContractIDs() {
				c := capability.Contracts[id]
				fmt.Fprintf(w, "%s %s\n", idStyle.Render(fmt.Sprintf("%-17s", id)), c.Description)
				fmt.Fprintf(w, "  %s %s\n", dimStyle.Render("usage:"), c.Usage)
				fmt.Fprintf(w, "  %s %d\n", dimStyle.Render("min args:"), c.MinArgs)
				if aliases := directive.AliasesFor(id); len(aliases) > 0 {
					fmt.Fprintf(w, "  %s %s\n", dimStyle.Render("aliases:"), strings.Join(aliases, ", "))
				}
			}
			return nil
		},
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func (c *cli) configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := c.cfg.YAML()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, dimStyle.Render("# "+c.cfgPath))
			_, err = w.Write(data)
			return err
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), c.cfgPath)
			return nil
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		// Loading would create the file before init could check for it.
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if c.cfgPath == "" {
				path, err := config.DefaultPath()
				if err != nil {
					return err
				}
				c.cfgPath = path
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat(c.cfgPath); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", c.cfgPath)
			}
			if err := config.Default().SaveToPath(c.cfgPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", c.cfgPath)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)

	return cmd
}
