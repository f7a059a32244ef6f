package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"grimoire/internal/bootstrap"
	"grimoire/internal/events"
	"grimoire/internal/transcript"
	"grimoire/internal/usecase"
)

const (
	switchCommand = "/switch "
	quitCommand   = "/quit"
)

func (c *cli) newChatCmd() *cobra.Command {
	var persona string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Hold a streaming consultation, one message per line",
		Long: "Reads messages from standard input. " +
			"\"/switch <persona>\" moves to another persona and \"/quit\" ends the consultation.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.chat(cmd.Context(), persona)
		},
	}
	cmd.Flags().StringVarP(&persona, "persona", "p", "", "persona to consult first (defaults to the first listed)")
	return cmd
}

func (c *cli) chat(ctx context.Context, persona string) error {
	app, err := c.open(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	bus := events.NewGoChannel(log.Logger)
	defer bus.Close()

	// Subscribe before the first turn so no update is published into an
	// empty topic.
	msgs, err := bus.Subscribe(ctx, events.Topic)
	if err != nil {
		return fmt.Errorf("oracle: subscribe: %w", err)
	}
	renderCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() {
		if err := events.Drain(renderCtx, msgs, c.render); err != nil {
			log.Warn().Err(err).Msg("render stopped")
		}
	}()

	pub, err := events.NewPublisher(bus, events.Topic)
	if err != nil {
		return err
	}

	if persona == "" {
		persona = app.Service.Personas()[0].Name
	}
	sess, err := c.openSession(ctx, app, persona, pub)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(c.in)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.TrimSpace(line) == quitCommand:
			return nil
		case strings.HasPrefix(line, switchCommand):
			next, err := c.openSession(ctx, app, strings.TrimSpace(strings.TrimPrefix(line, switchCommand)), pub)
			if err != nil {
				fmt.Fprintf(c.out, "! %v\n", err)
				continue
			}
			sess = next
		default:
			res := sess.SubmitTurn(ctx, line)
			if res.Status == usecase.TurnRejected {
				fmt.Fprintf(c.out, "! message rejected: %s\n", res.Reason)
			}
		}
	}
	return scanner.Err()
}

func (c *cli) openSession(ctx context.Context, app *bootstrap.App, name string, obs usecase.Observer) (*usecase.Session, error) {
	sess, err := app.Service.Open(ctx, name, obs)
	if err != nil {
		var uerr *usecase.Error
		if errors.As(err, &uerr) && uerr.Code == usecase.ErrorUnknownPersona {
			return nil, fmt.Errorf("unknown persona %q", name)
		}
		return nil, err
	}
	p := sess.Persona()
	fmt.Fprintf(c.out, "== %s ==\n", p.Name)
	if prior := sess.Transcript(); len(prior) > 0 {
		fmt.Fprintln(c.out, transcript.FormatConsultation(p.Name, prior))
		fmt.Fprintln(c.out)
	}
	return sess, nil
}

// render writes streamed updates as they arrive. A failed turn may already
// have shown part of a reply, so the apology goes on its own line.
func (c *cli) render(u usecase.Update) error {
	switch u.Kind {
	case usecase.UpdateTurnStarted:
		fmt.Fprintf(c.out, "%s: ", u.Persona)
	case usecase.UpdateFragment:
		fmt.Fprint(c.out, u.Delta)
	case usecase.UpdateTurnCompleted:
		fmt.Fprintln(c.out)
	case usecase.UpdateTurnFailed:
		fmt.Fprintf(c.out, "\n%s\n", u.Text)
	}
	return nil
}
