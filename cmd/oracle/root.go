package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"grimoire/internal/bootstrap"
	"grimoire/internal/config"
	"grimoire/internal/usecase"
)

type cli struct {
	v   *viper.Viper
	in  io.Reader
	out io.Writer
	cfg config.Config

	build func(ctx context.Context, cfg config.Config, observers ...usecase.Observer) (*bootstrap.App, error)
}

func newRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	c := &cli{v: config.New(), in: in, out: out, build: bootstrap.Build}
	// Terminal consultations persist across runs by default.
	c.v.SetDefault(config.KeyStoreBackend, config.BackendBolt)

	root := &cobra.Command{
		Use:          "oracle",
		Short:        "Consult the grimoire personas from a terminal",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.BindFlags(c.v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err := config.Load(c.v)
			if err != nil {
				return err
			}
			bootstrap.ConfigureLogging(cfg.LogLevel, true)
			c.cfg = cfg
			return nil
		},
	}
	root.SetIn(in)
	root.SetOut(out)

	fs := root.PersistentFlags()
	fs.String("store-backend", "", "transcript storage: memory, bolt, sqlite or dynamodb")
	fs.String("state-table", "", "DynamoDB table for the dynamodb backend")
	fs.String("bolt-path", "", "database file for the bolt backend")
	fs.String("sqlite-path", "", "database file for the sqlite backend")
	fs.String("history-key", "", "storage key holding every transcript")
	fs.String("provider", "", "generation provider: gemini, openai or anthropic")
	fs.String("model", "", "provider model override")
	fs.String("base-url", "", "provider endpoint override")
	fs.String("api-key", "", "provider API key")
	fs.String("param-prefix", "", "SSM prefix holding <provider>-token when no key is given")
	fs.Int("max-context-items", 0, "messages sent to the provider per turn (0 sends all)")
	fs.Int("max-message-length", 0, "longest accepted message in characters")
	fs.String("log-level", "", "zerolog level")

	root.AddCommand(
		c.newChatCmd(),
		c.newPersonasCmd(),
		c.newHistoryCmd(),
		c.newInvocationsCmd(),
	)
	return root
}

func (c *cli) open(ctx context.Context, observers ...usecase.Observer) (*bootstrap.App, error) {
	app, err := c.build(ctx, c.cfg, observers...)
	if err != nil {
		return nil, fmt.Errorf("oracle: %w", err)
	}
	return app, nil
}

func (c *cli) newPersonasCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "personas",
		Short: "List the personas that can be consulted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			for _, p := range app.Service.Personas() {
				fmt.Fprintf(c.out, "%s\n    %s\n", p.Name, p.Description)
			}
			return nil
		},
	}
}

func (c *cli) newInvocationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "invocations [term]",
		Short: "Search the reference invocations by title or text",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := c.open(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			term := ""
			if len(args) == 1 {
				term = args[0]
			}
			found := app.Service.SearchInvocations(term)
			if len(found) == 0 {
				fmt.Fprintln(c.out, "No invocations found.")
				return nil
			}
			for _, inv := range found {
				fmt.Fprintf(c.out, "%s\n%s\n\n", inv.Title, inv.Text)
			}
			return nil
		},
	}
}
