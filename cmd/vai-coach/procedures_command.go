package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"

	"github.com/vango-go/vai-coach/pkg/coach/sampler"
	"github.com/vango-go/vai-coach/pkg/media"
	"github.com/vango-go/vai-coach/pkg/procedures"
)

func newProceduresCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "procedures",
		Aliases: []string{"sops"},
		Short:   "Manage stored procedures",
	}
	cmd.AddCommand(
		newProceduresListCommand(ctx),
		newProceduresShowCommand(ctx),
		newProceduresImportCommand(ctx),
		newProceduresUseCommand(ctx),
		newProceduresClearCommand(ctx),
		newProceduresGenerateCommand(ctx),
	)
	return cmd
}

func newProceduresListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored procedures, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			list, err := store.List(cmd.Context(), ctx.config.Account)
			if err != nil {
				return err
			}
			current, hasCurrent, err := store.Current(cmd.Context())
			if err != nil {
				return err
			}

			tw := table.NewWriter()
			tw.SetStyle(table.StyleRounded)
			tw.AppendHeader(table.Row{"", "ID", "TITLE", "STEPS", "SOURCE"})
			all := append([]procedures.Procedure{procedures.Barista()}, list...)
			for _, p := range all {
				mark := ""
				if hasCurrent && current.ID == p.ID {
					mark = "*"
				}
				tw.AppendRow(table.Row{mark, p.ID, p.Title, strconv.Itoa(len(p.Steps)), p.SourceType})
			}
			tw.SetColumnConfigs([]table.ColumnConfig{{Number: 4, Align: text.AlignRight}})
			_, err = fmt.Fprintln(cmd.OutOrStdout(), tw.Render())
			return err
		},
	}
}

func newProceduresShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Print a procedure as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := lookupProcedure(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			return procedures.Encode(cmd.OutOrStdout(), p)
		},
	}
}

func newProceduresImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Store a procedure from a YAML file and make it current",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			p, err := procedures.Decode(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			p.SourceType = "import"
			return saveAndReport(cmd, ctx, p)
		},
	}
}

func newProceduresUseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Make a procedure current so the next run loads it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := lookupProcedure(cmd, ctx, args[0])
			if err != nil {
				return err
			}
			if err := ctx.store.SetCurrent(cmd.Context(), p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "current procedure: %s (%s)\n", p.Title, p.ID)
			return nil
		},
	}
}

func newProceduresClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Forget the current procedure",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.ensureStore()
			if err != nil {
				return err
			}
			return store.ClearCurrent(cmd.Context())
		},
	}
}

func newProceduresGenerateCommand(ctx *commandContext) *cobra.Command {
	var (
		textFile string
		frames   []string
		extra    string
	)
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Draft a procedure from training text or workflow images and make it current",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.ensureLogger(false, "")
			if err != nil {
				return err
			}

			req := procedures.GenerateRequest{Context: extra}
			if textFile != "" {
				data, err := os.ReadFile(textFile)
				if err != nil {
					return err
				}
				req.Text = string(data)
			}
			for _, path := range frames {
				jpeg, err := sampler.New(media.NewStillSource(path),
					sampler.WithMaxWidth(cfg.CaptureWidth),
					sampler.WithQuality(cfg.JPEGQuality),
				).Capture(cmd.Context())
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				req.Frames = append(req.Frames, jpeg)
			}

			client, err := newGeminiClient(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			p, err := procedures.NewGenerator(client).Generate(cmd.Context(), req)
			if err != nil {
				return err
			}
			return saveAndReport(cmd, ctx, p)
		},
	}
	f := cmd.Flags()
	f.StringVar(&textFile, "text", "", "File with training text")
	f.StringSliceVar(&frames, "frame", nil, "Workflow image, in order (repeatable)")
	f.StringVar(&extra, "context", "", "Extra context for the model")
	cmd.MarkFlagsOneRequired("text", "frame")
	return cmd
}

func lookupProcedure(cmd *cobra.Command, ctx *commandContext, id string) (procedures.Procedure, error) {
	store, err := ctx.ensureStore()
	if err != nil {
		return procedures.Procedure{}, err
	}
	if id == procedures.Barista().ID {
		return procedures.Barista(), nil
	}
	return store.Get(cmd.Context(), ctx.config.Account, id)
}

// saveAndReport stores p. Saving also makes it the current procedure.
func saveAndReport(cmd *cobra.Command, ctx *commandContext, p procedures.Procedure) error {
	store, err := ctx.ensureStore()
	if err != nil {
		return err
	}
	saved, err := store.Save(cmd.Context(), ctx.config.Account, p)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "saved %s: %s (%d steps)\n", saved.ID, saved.Title, len(saved.Steps))
	return nil
}
