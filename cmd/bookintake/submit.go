package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/bookintake/internal/services"
	"github.com/Lllllllleong/bookintake/internal/sources"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var pdfMode string
	var noWait bool

	cmd := &cobra.Command{
		Use:   "submit <file>...",
		Short: "Upload book images and follow ingestion until it finishes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signalContext(cmd)
			defer cancel()

			rt, err := ctx.openRuntime(sigCtx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			mode := rt.cfg.Upload.PDFMode
			if cmd.Flags().Changed("pdf-mode") {
				mode = pdfMode
			}
			parsedMode, err := sources.ParsePDFMode(mode)
			if err != nil {
				return err
			}
			set, err := sources.Collect(args, sources.Options{PDFMode: parsedMode, Logger: rt.logger})
			if err != nil {
				return err
			}
			defer func() {
				if err := set.Cleanup(); err != nil {
					rt.logger.Warn("Failed to remove expanded files", "error", err)
				}
			}()

			progress := newProgressPrinter(cmd.ErrOrStderr())
			orch := rt.newOrchestrator(progress.pipeline)
			defer orch.Close()

			bookID, err := orch.Submit(sigCtx, set.Tasks)
			if err != nil {
				progress.done()
				return err
			}
			if noWait {
				progress.done()
				if ctx.jsonOutput() {
					return writeJSON(cmd.OutOrStdout(), map[string]string{"bookId": bookID})
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), bookID)
				return err
			}

			state, err := orch.Machine().Wait(sigCtx)
			progress.done()
			if err != nil {
				return err
			}
			return finishPipeline(cmd, ctx.jsonOutput(), state)
		},
	}

	cmd.Flags().StringVar(&pdfMode, "pdf-mode", "", "How to upload PDF scans: images, pages or whole")
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Print the book id once processing starts instead of waiting")
	return cmd
}

// finishPipeline prints the terminal state and turns a failed job into a
// non-zero exit.
func finishPipeline(cmd *cobra.Command, asJSON bool, state services.PipelineState) error {
	if err := writePipelineResult(cmd.OutOrStdout(), asJSON, state); err != nil {
		return err
	}
	if state.Phase != services.PhaseFailed {
		return nil
	}
	if state.Err != nil {
		return fmt.Errorf("book %s failed: %w", state.TrackingID, state.Err)
	}
	return fmt.Errorf("book %s failed: %s", state.TrackingID, state.Reason)
}
