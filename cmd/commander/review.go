package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/esiebomaj/commander/internal/api"
)

const (
	choiceApprove = "approve"
	choiceSkip    = "skip"
	choiceEdit    = "edit"
	choiceNext    = "next"
	choiceQuit    = "quit"
)

var actionsReviewCmd = &cobra.Command{
	Use:   "review",
	Short: "Step through pending actions interactively",
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isInteractive() {
			return fmt.Errorf("review needs an interactive terminal, use 'actions approve' or 'actions skip' instead")
		}
		sourceType, _ := cmd.Flags().GetString("source-type")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		pending, err := listActions(cmd.Context(), client, actionsQuery("pending", "", sourceType, limit))
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			fmt.Println("Nothing to review.")
			return nil
		}
		return reviewActions(cmd.Context(), client, pending, promptChoice)
	},
}

func init() {
	actionsReviewCmd.Flags().String("source-type", "", "only review one source type")
	actionsReviewCmd.Flags().Int("limit", 50, "maximum number of actions to review")
}

// chooser asks what to do with an action. It returns the choice and, for
// edit, the replacement payload.
type chooser func(a api.ActionView, position, total int) (string, json.RawMessage, error)

type reviewTally struct {
	approved, skipped, edited, failed int
}

func reviewActions(ctx context.Context, client *apiClient, pending []api.ActionView, choose chooser) error {
	var tally reviewTally
	defer func() {
		printSuccess("Approved %d, skipped %d, edited %d, failed %d",
			tally.approved, tally.skipped, tally.edited, tally.failed)
	}()

	for i := 0; i < len(pending); i++ {
		a := pending[i]
		choice, payload, err := choose(a, i+1, len(pending))
		if errors.Is(err, huh.ErrUserAborted) {
			return nil
		}
		if err != nil {
			return err
		}

		switch choice {
		case choiceApprove:
			done, err := actionCall(ctx, client, a.ID, "approve")
			if err != nil {
				printError("Approve #%d: %v", a.ID, err)
				tally.failed++
				continue
			}
			if reportApproval(done) != nil {
				tally.failed++
				continue
			}
			tally.approved++
		case choiceSkip:
			if _, err := actionCall(ctx, client, a.ID, "skip"); err != nil {
				printError("Skip #%d: %v", a.ID, err)
				tally.failed++
				continue
			}
			printSuccess("Action #%d skipped", a.ID)
			tally.skipped++
		case choiceEdit:
			updated, err := patchPayload(ctx, client, a.ID, payload)
			if err != nil {
				printError("Edit #%d: %v", a.ID, err)
				tally.failed++
				continue
			}
			tally.edited++
			// Review the edited action again before moving on.
			pending[i] = updated
			i--
		case choiceNext:
		case choiceQuit:
			return nil
		default:
			return fmt.Errorf("unknown choice %q", choice)
		}
	}
	return nil
}

// promptChoice renders one action as a huh form.
func promptChoice(a api.ActionView, position, total int) (string, json.RawMessage, error) {
	payload, err := json.MarshalIndent(a.Payload, "", "  ")
	if err != nil {
		payload = a.Payload
	}
	description := fmt.Sprintf("%s from %s\n%s\nconfidence %.2f",
		a.SourceType, a.Sender, oneLine(a.Summary, 100), a.Confidence)
	if a.Anomaly != "" {
		description += "\nanomaly: " + a.Anomaly
	}

	choice := choiceApprove
	edited := string(payload)
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title(fmt.Sprintf("[%d/%d] #%d %s", position, total, a.ID, a.Type)).
				Description(description+"\n\n"+string(payload)),
			huh.NewSelect[string]().
				Title("What should happen?").
				Options(
					huh.NewOption("Approve and execute", choiceApprove),
					huh.NewOption("Skip", choiceSkip),
					huh.NewOption("Edit payload", choiceEdit),
					huh.NewOption("Decide later", choiceNext),
					huh.NewOption("Quit", choiceQuit),
				).
				Value(&choice),
		),
		huh.NewGroup(
			huh.NewText().
				Title("Payload (JSON)").
				Lines(12).
				Value(&edited).
				Validate(func(s string) error {
					if !json.Valid([]byte(s)) {
						return fmt.Errorf("not valid JSON")
					}
					return nil
				}),
		).WithHideFunc(func() bool { return choice != choiceEdit }),
	)
	if err := form.Run(); err != nil {
		return "", nil, err
	}
	if choice == choiceEdit {
		return choice, json.RawMessage(edited), nil
	}
	return choice, nil, nil
}
