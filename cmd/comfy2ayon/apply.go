package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/richinsley/comfy2ayon/comfy"
	"github.com/richinsley/comfy2ayon/graphapi"
	"github.com/richinsley/comfy2ayon/loader"
)

var applyCmd = &cobra.Command{
	Use:   "apply-workflow [flags] WORKFLOW SOURCE",
	Short: "Run an API format workflow on a published representation",
	Long: `apply-workflow sets the AYON_filename_load, AYON_filename_save, AYON_startframe
and AYON_endframe nodes of WORKFLOW for the image sequence SOURCE belongs to,
queues it on ComfyUI and waits for it to finish. WORKFLOW may also be a ComfyUI
output PNG carrying its prompt. Interrupting the command interrupts ComfyUI.`,
	Args: cobra.ExactArgs(2),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().Int("frame-start", -1, "first frame, unset when negative")
	applyCmd.Flags().Int("frame-end", -1, "last frame, unset when negative")
}

func runApply(cmd *cobra.Command, args []string) error {
	a, err := loadApp()
	if err != nil {
		return err
	}
	defer a.close()

	var prompt *graphapi.Prompt
	if strings.EqualFold(filepath.Ext(args[0]), ".png") {
		prompt, err = comfy.PromptFromPNG(args[0])
	} else {
		prompt, err = graphapi.LoadPromptFile(args[0])
	}
	if err != nil {
		return err
	}
	c := loader.Context{Source: args[1]}
	if start, _ := cmd.Flags().GetInt("frame-start"); start >= 0 {
		c.FrameStart = &start
	}
	if end, _ := cmd.Flags().GetInt("frame-end"); end >= 0 {
		c.FrameEnd = &end
	}

	client := comfy.NewComfyClient(a.cfg.Comfy, nil, a.log)
	defer client.Close()

	// one bar per node, as ComfyUI reports progress per node
	var (
		bar   *progressbar.ProgressBar
		title string
	)
	handlers := comfy.DefaultMessageHandlers(a.log)
	handlers.OnExecuting = func(m *comfy.PromptMessageExecuting) {
		bar = nil
		title = m.Title
	}
	handlers.WithProgressHandler(func(m *comfy.PromptMessageProgress) {
		if bar == nil {
			bar = progressbar.Default(int64(m.Max), title)
		}
		_ = bar.Set(m.Value)
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	outputs, err := loader.New(client, handlers, a.log).Apply(ctx, prompt, c)
	if err != nil {
		if ctx.Err() != nil {
			_ = client.Interrupt(context.Background())
		}
		return err
	}
	for node, files := range outputs {
		for _, f := range files {
			if f.Filename != "" {
				fmt.Printf("%s: %s\n", node, f.Filename)
			}
		}
	}
	return nil
}
