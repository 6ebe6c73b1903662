package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/glamour"
	"github.com/hupe1980/chatkernel"
	"github.com/hupe1980/chatkernel/config"
	"github.com/hupe1980/chatkernel/core"
	"github.com/hupe1980/chatkernel/kernel"
	"github.com/spf13/cobra"
)

func runCmd(g *globalOptions) *cobra.Command {
	var (
		render   bool
		style    string
		wordWrap int
	)

	cmd := &cobra.Command{
		Use:   "run [prompt]",
		Short: "Execute a single prompt (read from stdin when no argument is given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.Join(args, " ")
			if prompt == "" {
				data, err := io.ReadAll(cmd.InOrStdin())
				if err != nil {
					return fmt.Errorf("read prompt: %w", err)
				}
				prompt = strings.TrimSpace(string(data))
			}
			if prompt == "" {
				return fmt.Errorf("empty prompt")
			}

			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ck, k, err := startKernel(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = ck.Close() }()

			out := cmd.OutOrStdout()
			var text strings.Builder
			reply := k.ExecuteRequest(ctx, kernel.ExecuteRequestContent{Code: prompt}, func(c core.Chunk) {
				text.WriteString(c.Text)
				if !render {
					_, _ = io.WriteString(out, c.Text)
				}
			})

			if reply.Status != kernel.StatusOK {
				return fmt.Errorf("%s: %s", reply.Ename, reply.Evalue)
			}

			if !render {
				_, _ = fmt.Fprintln(out)
				return nil
			}

			r, err := glamour.NewTermRenderer(glamour.WithStandardStyle(style), glamour.WithWordWrap(wordWrap))
			if err != nil {
				return fmt.Errorf("init markdown renderer: %w", err)
			}
			rendered, err := r.Render(text.String())
			if err != nil {
				return fmt.Errorf("render markdown: %w", err)
			}
			_, err = io.WriteString(out, rendered)
			return err
		},
	}

	cmd.Flags().BoolVar(&render, "render", false, "render the reply as terminal markdown once complete")
	cmd.Flags().StringVar(&style, "style", "dark", "markdown style (dark, light, notty, ascii)")
	cmd.Flags().IntVar(&wordWrap, "wrap", 100, "word wrap width for rendered markdown")
	return cmd
}

func specsCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "specs",
		Short: "List kernel specs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			ck, err := chatkernel.FromConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer func() { _ = ck.Close() }()

			for _, spec := range ck.Specs() {
				marker := " "
				if spec.Name == ck.DefaultSpecName() {
					marker = "*"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %-20s %s (%s)\n", marker, spec.Name, spec.DisplayName, spec.Language)
			}
			return nil
		},
	}
}

func infoCmd(g *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Print kernel info as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := g.loadConfig()
			if err != nil {
				return err
			}

			ck, k, err := startKernel(cmd, cfg)
			if err != nil {
				return err
			}
			defer func() { _ = ck.Close() }()

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(k.KernelInfo())
		},
	}
}

func startKernel(cmd *cobra.Command, cfg *config.Config) (*chatkernel.ChatKernel, *kernel.Kernel, error) {
	ck, err := chatkernel.FromConfig(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}

	k, err := ck.StartKernel(cmd.Context(), "")
	if err != nil {
		_ = ck.Close()
		return nil, nil, err
	}
	return ck, k, nil
}
