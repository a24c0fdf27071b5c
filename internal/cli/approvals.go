package cli

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/finchwork/finch/internal/approval"
)

var (
	approvalsNote string
	approvalsBy   string

	approvalsCmd = &cobra.Command{
		Use:   "approvals",
		Short: "Review and resolve pending approval requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	approvalsListCmd = &cobra.Command{
		Use:   "list",
		Short: "List pending approval requests",
		RunE:  runApprovalsList,
	}

	approvalsShowCmd = &cobra.Command{
		Use:   "show <id>",
		Short: "Show one approval request",
		Args:  cobra.ExactArgs(1),
		RunE:  runApprovalsShow,
	}

	approvalsApproveCmd = &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsResolve(cmd.Context(), args[0], true)
		},
	}

	approvalsRejectCmd = &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApprovalsResolve(cmd.Context(), args[0], false)
		},
	}
)

func init() {
	for _, c := range []*cobra.Command{approvalsApproveCmd, approvalsRejectCmd} {
		c.Flags().StringVar(&approvalsNote, "note", "", "Resolution note")
		c.Flags().StringVar(&approvalsBy, "by", "", "Resolver identity (defaults to $USER)")
	}
	approvalsCmd.AddCommand(approvalsListCmd, approvalsShowCmd, approvalsApproveCmd, approvalsRejectCmd)
	rootCmd.AddCommand(approvalsCmd)
}

func runApprovalsList(cmd *cobra.Command, args []string) error {
	st, q, err := openApprovals()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := cmd.Context()
	if _, err := q.CleanupExpired(ctx); err != nil {
		return err
	}
	pending, err := q.Pending(ctx)
	if err != nil {
		return err
	}

	printHeader("🙋 Pending Approvals")
	if len(pending) == 0 {
		fmt.Println("Nothing waiting for you.")
		return nil
	}
	for _, r := range pending {
		fmt.Printf("%s  %-20s  created %s, expires %s\n",
			color.YellowString(r.ID), r.ActionType, formatAge(r.CreatedAt), formatUntil(r.ExpiresAt))
	}
	fmt.Printf("\n%d pending. Resolve with 'finch approvals approve <id>'.\n", len(pending))
	return nil
}

func runApprovalsShow(cmd *cobra.Command, args []string) error {
	st, q, err := openApprovals()
	if err != nil {
		return err
	}
	defer st.Close()

	r, err := q.Get(cmd.Context(), args[0])
	if errors.Is(err, approval.ErrNotFound) {
		return fmt.Errorf("no approval request %q", args[0])
	}
	if err != nil {
		return err
	}

	printHeader("🔎 Approval Request")
	fmt.Printf("ID:      %s\n", r.ID)
	fmt.Printf("Action:  %s\n", r.ActionType)
	fmt.Printf("Status:  %s\n", colorStatus(r.Status))
	fmt.Printf("Created: %s (%s)\n", r.CreatedAt.Local().Format("2006-01-02 15:04"), formatAge(r.CreatedAt))
	fmt.Printf("Expires: %s (%s)\n", r.ExpiresAt.Local().Format("2006-01-02 15:04"), formatUntil(r.ExpiresAt))
	if r.ResolvedAt != nil {
		fmt.Printf("Resolved: %s by %s\n", r.ResolvedAt.Local().Format("2006-01-02 15:04"), r.ResolvedBy)
	}
	if r.ResolutionNote != "" {
		fmt.Printf("Note:    %s\n", r.ResolutionNote)
	}
	fmt.Printf("Data:    %s\n", r.ActionData)
	return nil
}

func runApprovalsResolve(ctx context.Context, id string, approve bool) error {
	st, q, err := openApprovals()
	if err != nil {
		return err
	}
	defer st.Close()

	by := approvalsBy
	if by == "" {
		by = os.Getenv("USER")
	}
	if by == "" {
		by = "cli"
	}

	if approve {
		err = q.Approve(ctx, id, approvalsNote, by)
	} else {
		err = q.Reject(ctx, id, approvalsNote, by)
	}

	var statusErr *approval.StatusError
	switch {
	case err == nil:
		if approve {
			color.Green("✅ Approved %s", id)
		} else {
			color.Red("🚫 Rejected %s", id)
		}
		return nil
	case errors.Is(err, approval.ErrNotFound):
		return fmt.Errorf("no approval request %q", id)
	case errors.Is(err, approval.ErrExpired):
		return fmt.Errorf("request %s has expired", id)
	case errors.As(err, &statusErr):
		return fmt.Errorf("request %s was already %s", id, statusErr.Status)
	default:
		return err
	}
}

func colorStatus(status string) string {
	switch status {
	case "pending":
		return color.YellowString(status)
	case "approved":
		return color.GreenString(status)
	default:
		return color.RedString(status)
	}
}
