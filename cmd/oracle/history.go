package main

import (
	"fmt"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"grimoire/internal/transcript"
)

var writeClipboard = clipboard.WriteAll

func (c *cli) newHistoryCmd() *cobra.Command {
	history := &cobra.Command{
		Use:   "history",
		Short: "Inspect or erase saved consultations",
	}

	history.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List personas with a saved consultation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, err := c.open(cmd.Context())
				if err != nil {
					return err
				}
				defer app.Close()

				sums := app.Service.Summaries(cmd.Context())
				if len(sums) == 0 {
					fmt.Fprintln(c.out, "No consultations yet.")
					return nil
				}
				for _, s := range sums {
					fmt.Fprintf(c.out, "%s (%d messages)\n    %s\n", s.Persona.Name, s.Messages, s.LastMessage)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "show <persona>",
			Short: "Print a saved consultation",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				text, err := c.consultation(cmd, args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(c.out, text)
				return nil
			},
		},
		&cobra.Command{
			Use:   "copy <persona>",
			Short: "Copy a saved consultation to the clipboard",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				text, err := c.consultation(cmd, args[0])
				if err != nil {
					return err
				}
				if err := writeClipboard(text); err != nil {
					return fmt.Errorf("oracle: copy to clipboard: %w", err)
				}
				fmt.Fprintln(c.out, "Consultation copied.")
				return nil
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Erase every saved consultation",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, err := c.open(cmd.Context())
				if err != nil {
					return err
				}
				defer app.Close()

				if err := app.Service.ClearHistory(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(c.out, "History cleared.")
				return nil
			},
		},
	)
	return history
}

func (c *cli) consultation(cmd *cobra.Command, persona string) (string, error) {
	app, err := c.open(cmd.Context())
	if err != nil {
		return "", err
	}
	defer app.Close()

	t, err := app.Service.Transcript(cmd.Context(), persona)
	if err != nil {
		return "", err
	}
	if len(t) == 0 {
		return "", fmt.Errorf("oracle: no consultation with %q", persona)
	}
	return transcript.FormatConsultation(persona, t), nil
}
