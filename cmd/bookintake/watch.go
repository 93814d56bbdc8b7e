package main

import (
	"github.com/spf13/cobra"

	"github.com/Lllllllleong/bookintake/internal/services"
)

func newWatchCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <bookId>",
		Short: "Follow the ingestion status of an existing book",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signalContext(cmd)
			defer cancel()

			rt, err := ctx.openRuntime(sigCtx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			progress := newProgressPrinter(cmd.ErrOrStderr())
			orch := rt.newOrchestrator(progress.pipeline)
			defer orch.Close()

			machine := orch.Machine()
			if err := machine.Attach(sigCtx, services.TrackingHandle{OwnerID: rt.ownerID(), TrackingID: args[0]}); err != nil {
				return err
			}
			state, err := machine.Wait(sigCtx)
			progress.done()
			if err != nil {
				return err
			}
			return finishPipeline(cmd, ctx.jsonOutput(), state)
		},
	}
}
