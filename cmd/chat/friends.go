package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/moneeroz/pocket-chat/internal/models"
)

func friendsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "friends",
		Short: "Manage friendships and blocks",
	}

	cmd.AddCommand(
		friendsListCmd(),
		friendsRequestsCmd(),
		relationActionCmd("add", "Send a friend request", func(a *app, ctx context.Context, id string) error {
			return a.relations.SendFriendRequest(ctx, id)
		}),
		relationActionCmd("accept", "Accept a pending friend request", func(a *app, ctx context.Context, id string) error {
			return a.relations.AcceptFriendRequest(ctx, id)
		}),
		relationActionCmd("reject", "Reject a pending friend request", func(a *app, ctx context.Context, id string) error {
			return a.relations.RejectFriendRequest(ctx, id)
		}),
		relationActionCmd("cancel", "Cancel a friend request you sent", func(a *app, ctx context.Context, id string) error {
			return a.relations.CancelFriendRequest(ctx, id)
		}),
		relationActionCmd("remove", "Remove a friend", func(a *app, ctx context.Context, id string) error {
			return a.relations.RemoveFriend(ctx, id)
		}),
		relationActionCmd("block", "Block a user", func(a *app, ctx context.Context, id string) error {
			return a.relations.BlockUser(ctx, id)
		}),
		relationActionCmd("unblock", "Unblock a user", func(a *app, ctx context.Context, id string) error {
			return a.relations.UnblockUser(ctx, id)
		}),
	)
	return cmd
}

func friendsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List friends, pending requests, and blocks",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.restoreIdentity(); err != nil {
				return err
			}
			if err := a.relations.FetchAll(cmd.Context()); err != nil {
				return err
			}

			me := a.sess.UserID()
			seen := make(map[string]bool)
			for _, rel := range a.relations.Relations() {
				other := rel.Other(me)
				if other == "" || seen[other] {
					continue
				}
				seen[other] = true
				status := a.relations.StatusWith(other)
				fmt.Printf("%-20s %s\n", displayName(&rel, other), describe(status))
			}
			if len(seen) == 0 {
				fmt.Println("No relations.")
			}
			return nil
		},
	}
}

func friendsRequestsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "requests",
		Short: "List pending friend requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.restoreIdentity(); err != nil {
				return err
			}
			if err := a.relations.FetchAll(cmd.Context()); err != nil {
				return err
			}

			me := a.sess.UserID()
			count := 0
			for _, rel := range a.relations.Relations() {
				if rel.Kind != models.KindPendingSent {
					continue
				}
				count++
				if rel.To == me {
					fmt.Printf("%-20s wants to be your friend (accept/reject)\n", displayName(&rel, rel.From))
				} else {
					fmt.Printf("%-20s request sent, awaiting answer (cancel)\n", displayName(&rel, rel.To))
				}
			}
			if count == 0 {
				fmt.Println("No pending requests.")
			}
			return nil
		},
	}
}

// relationActionCmd builds a command that resolves a username and runs
// one relation operation against it.
func relationActionCmd(use, short string, run func(*app, context.Context, string) error) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <username>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.restoreIdentity(); err != nil {
				return err
			}
			if err := a.relations.FetchAll(cmd.Context()); err != nil {
				return err
			}

			target, err := a.userByUsername(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := run(a, cmd.Context(), target.ID); err != nil {
				return err
			}
			fmt.Println("Done.")
			return nil
		},
	}
}

func describe(status models.Status) string {
	if status.Kind == models.StatusBlocked {
		if status.InitiatedByMe {
			return "blocked (by you)"
		}
		return "blocked (by them)"
	}
	return string(status.Kind)
}

// displayName prefers the expanded username of the non-local endpoint,
// falling back to its id.
func displayName(rel *models.Relation, otherID string) string {
	if rel.Expand != nil {
		if rel.Expand.FromUser != nil && rel.Expand.FromUser.ID == otherID {
			return rel.Expand.FromUser.Username
		}
		if rel.Expand.ToUser != nil && rel.Expand.ToUser.ID == otherID {
			return rel.Expand.ToUser.Username
		}
	}
	return otherID
}
