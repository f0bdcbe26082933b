package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/tendant/become-image-pipeline/internal/config"
	"github.com/tendant/become-image-pipeline/internal/logging"
	"github.com/tendant/become-image-pipeline/pkg/client"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
	"github.com/tendant/become-image-pipeline/pkg/runner"
)

type predictOptions struct {
	req       pipeline.PredictRequest
	seed      int64
	workerURL string
	wait      bool
}

func newPredictCmd() *cobra.Command {
	opts := &predictOptions{req: pipeline.NewPredictRequest()}

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Run one prediction and print the output paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flags().Changed("seed") {
				opts.req.Seed = &opts.seed
			}
			if err := opts.req.Validate(); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if opts.workerURL != "" {
				return runRemote(ctx, cmd, opts)
			}
			return runLocal(ctx, cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.req.Image.Path, "image", "", "An image of a person to be converted")
	f.StringVar(&opts.req.Image.ContentID, "image-content-id", "", "Content id of the person image")
	f.StringVar(&opts.req.ImageToBecome.Path, "image-to-become", "", "Any image to convert the person to")
	f.StringVar(&opts.req.ImageToBecome.ContentID, "image-to-become-content-id", "", "Content id of the style image")
	f.StringVar(&opts.req.Prompt, "prompt", pipeline.DefaultPrompt, "Prompt")
	f.StringVar(&opts.req.NegativePrompt, "negative-prompt", "", "Things you do not want in the image")
	f.IntVar(&opts.req.NumberOfImages, "number-of-images", pipeline.DefaultNumberOfImages, "Number of images to generate (1-10)")
	f.Float64Var(&opts.req.DenoisingStrength, "denoising-strength", pipeline.DefaultDenoisingStrength, "How much of the original image of the person to keep (0-1)")
	f.Float64Var(&opts.req.PromptStrength, "prompt-strength", pipeline.DefaultPromptStrength, "Strength of the prompt, CFG scale (0-3)")
	f.Float64Var(&opts.req.ControlDepthStrength, "control-depth-strength", pipeline.DefaultControlDepthStrength, "Strength of depth controlnet (0-1)")
	f.Float64Var(&opts.req.InstantIDStrength, "instant-id-strength", pipeline.DefaultInstantIDStrength, "How strong the InstantID will be (0-1)")
	f.Float64Var(&opts.req.ImageToBecomeStrength, "image-to-become-strength", pipeline.DefaultImageToBecomeStrength, "How strong the style will be applied (0-1)")
	f.Float64Var(&opts.req.ImageToBecomeNoise, "image-to-become-noise", pipeline.DefaultImageToBecomeNoise, "How much noise to add to the style image (0-1)")
	f.Int64Var(&opts.seed, "seed", 0, "Fix the random seed for reproducibility")
	f.BoolVar(&opts.req.DisableSafetyChecker, "disable-safety-checker", false, "Disable safety checker for generated images")
	f.StringVar(&opts.workerURL, "worker-url", "", "Send the request to a running become-worker instead of running locally")
	f.BoolVar(&opts.wait, "wait", true, "With --worker-url, wait for the outputs instead of enqueueing")

	return cmd
}

func runLocal(ctx context.Context, cmd *cobra.Command, opts *predictOptions) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.LogLevel, "console")
	if err != nil {
		return err
	}

	r, err := runner.New(ctx, runner.Options{
		Config:      cfg,
		Logger:      logger,
		DisableDBOS: true,
	})
	if err != nil {
		return err
	}
	defer r.Shutdown(5 * time.Second)

	resp, err := r.Predict(ctx, opts.req)
	if err != nil {
		return err
	}
	printResponse(cmd, resp)
	return nil
}

func runRemote(ctx context.Context, cmd *cobra.Command, opts *predictOptions) error {
	c := client.New(opts.workerURL)

	if !opts.wait {
		runID, err := c.Enqueue(ctx, opts.req)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Run ID: %s\n", runID)
		return nil
	}

	resp, err := c.Predict(ctx, opts.req)
	if err != nil {
		return err
	}
	printResponse(cmd, resp)
	return nil
}

func printResponse(cmd *cobra.Command, resp *pipeline.PredictResponse) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Run ID: %s\n", resp.RunID)
	fmt.Fprintf(out, "Seed: %d\n", resp.Seed)
	for _, path := range resp.Outputs {
		fmt.Fprintln(out, path)
	}
}
