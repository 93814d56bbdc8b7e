package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/bookintake/internal/services"
	"github.com/Lllllllleong/bookintake/internal/sources"
)

// attachSettle bounds how long override waits for the stored assessment
// before patching it.
const attachSettle = 10 * time.Second

func newAssessCommand(ctx *commandContext) *cobra.Command {
	slotPaths := make(map[services.Slot]*string, len(services.Slots))

	cmd := &cobra.Command{
		Use:   "assess <bookId>",
		Short: "Grade a book's condition from slot photos, or show the stored grade",
		Long: "With one or more slot photos the images are submitted for grading. " +
			"Without photos the stored assessment of the book is shown.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signalContext(cmd)
			defer cancel()

			rt, err := ctx.openRuntime(sigCtx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			progress := newProgressPrinter(cmd.ErrOrStderr())
			coord := rt.newCoordinator(progress.assessment)
			defer coord.Close()

			bookID := args[0]
			selected := 0
			for _, slot := range services.Slots {
				path := strings.TrimSpace(*slotPaths[slot])
				if path == "" {
					continue
				}
				task, err := sources.FileTask(path)
				if err != nil {
					return err
				}
				if err := coord.SetSlot(slot, task); err != nil {
					return err
				}
				selected++
			}

			if selected == 0 {
				err = coord.Attach(sigCtx, bookID)
			} else {
				err = coord.Submit(sigCtx, bookID)
			}
			if err != nil {
				progress.done()
				return err
			}

			state, err := coord.Wait(sigCtx)
			progress.done()
			if errors.Is(err, services.ErrReset) {
				return fmt.Errorf("no condition assessment recorded for book %s", bookID)
			}
			if err != nil {
				return err
			}
			return finishAssessment(cmd, ctx.jsonOutput(), state)
		},
	}

	for _, slot := range services.Slots {
		slotPaths[slot] = cmd.Flags().String(string(slot), "", fmt.Sprintf("Photo of the %s", slot))
	}
	return cmd
}

func newOverrideCommand(ctx *commandContext) *cobra.Command {
	var grade string
	var reason string

	cmd := &cobra.Command{
		Use:   "override <bookId>",
		Short: "Replace a book's condition grade with a reviewer's grade",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sigCtx, cancel := signalContext(cmd)
			defer cancel()

			rt, err := ctx.openRuntime(sigCtx, cmd)
			if err != nil {
				return err
			}
			defer rt.Close()

			coord := rt.newCoordinator(nil)
			defer coord.Close()

			if err := coord.Attach(sigCtx, args[0]); err != nil {
				return err
			}
			// The override patches whatever was stored; a book that was
			// never graded or is still pending is overridden from scratch.
			settleCtx, settleCancel := context.WithTimeout(sigCtx, attachSettle)
			_, err = coord.Wait(settleCtx)
			settleCancel()
			if err != nil && !errors.Is(err, services.ErrReset) && !errors.Is(err, context.DeadlineExceeded) {
				return err
			}

			overrideErr := coord.Override(sigCtx, grade, reason)
			if err := writeAssessmentResult(cmd.OutOrStdout(), ctx.jsonOutput(), coord.State()); err != nil {
				return err
			}
			return overrideErr
		},
	}

	cmd.Flags().StringVar(&grade, "grade", "", "Replacement grade (Fine, Very Fine, Good, Fair, Poor)")
	cmd.Flags().StringVar(&reason, "reason", "", "Why the grade was changed")
	_ = cmd.MarkFlagRequired("grade")
	_ = cmd.MarkFlagRequired("reason")
	return cmd
}

func finishAssessment(cmd *cobra.Command, asJSON bool, state services.AssessmentState) error {
	if err := writeAssessmentResult(cmd.OutOrStdout(), asJSON, state); err != nil {
		return err
	}
	if state.Phase != services.AssessmentError {
		return nil
	}
	if state.Err != nil {
		return fmt.Errorf("assessment of %s failed: %w", state.BookID, state.Err)
	}
	return fmt.Errorf("assessment of %s failed: %s", state.BookID, state.Reason)
}
