package main

import (
	"context"
	"fmt"
	"time"

	"ddx/pkg/llm"
	"ddx/pkg/monitor"
	"ddx/pkg/utils"

	"github.com/spf13/cobra"
)

var probeFlags struct {
	image   string
	timeout time.Duration
}

var probeCmd = &cobra.Command{
	Use:   "probe [prompt]",
	Short: "Stream one prompt through the configured reasoning providers",
	Long: `Send a prompt (and optionally an image) through the provider fallback
chain and print the streamed reply as it arrives. Use --dump-chunks to keep
the raw responses for inspection.

  ddx probe "List three causes of fever with joint pain." --dump-chunks
  ddx probe "Describe this radiograph." --image knee.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runProbe,
}

func init() {
	f := probeCmd.Flags()
	f.StringVar(&probeFlags.image, "image", "", "Image file to attach")
	f.DurationVar(&probeFlags.timeout, "timeout", 2*time.Minute, "Give up after this long")
}

func runProbe(cmd *cobra.Command, args []string) error {
	a, err := bootstrap()
	if err != nil {
		return err
	}
	if a.client == nil {
		return fmt.Errorf("no reasoning provider available; check the llm section of %s", rootFlags.configPath)
	}

	prompt := "Reply with the single word: ready"
	if len(args) > 0 {
		prompt = args[0]
	}
	msg := llm.NewUserMessage(prompt)
	if probeFlags.image != "" {
		data, mimeType, err := utils.ReadImageFile(probeFlags.image)
		if err != nil {
			return err
		}
		msg.Content = append(msg.Content, llm.NewImageBlock(data, mimeType))
	}

	ctx, cancel := context.WithTimeout(context.Background(), probeFlags.timeout)
	defer cancel()
	ctx = monitor.WithCaseID(ctx, "probe")

	start := time.Now()
	stream, err := a.client.StreamChat(ctx, []llm.Message{msg})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for chunk := range stream {
		for _, b := range chunk.ContentBlocks {
			switch b.Type {
			case llm.BlockTypeThinking:
				fmt.Fprintf(out, "\033[90m%s\033[0m", b.Text)
			case llm.BlockTypeText:
				fmt.Fprint(out, b.Text)
			case llm.BlockTypeError:
				fmt.Fprintf(out, "\n❌ %s", b.Text)
			}
		}
		if chunk.IsFinal {
			fmt.Fprintf(out, "\n\n[%s in %s", chunk.FinishReason, time.Since(start).Round(time.Millisecond))
			if chunk.Usage != nil {
				fmt.Fprintf(out, ", %d prompt + %d completion tokens", chunk.Usage.PromptTokens, chunk.Usage.CompletionTokens)
			}
			fmt.Fprintln(out, "]")
			if chunk.Err != nil {
				return chunk.Err
			}
		}
	}
	return ctx.Err()
}
