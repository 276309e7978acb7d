package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/moneeroz/pocket-chat/internal/backend"
	"github.com/moneeroz/pocket-chat/internal/config"
	"github.com/moneeroz/pocket-chat/internal/models"
	"github.com/moneeroz/pocket-chat/internal/session"
	"github.com/moneeroz/pocket-chat/internal/store"
	"github.com/moneeroz/pocket-chat/pkg/apperr"
	"github.com/moneeroz/pocket-chat/pkg/logger"
)

// app holds the wired client core for one command invocation.
type app struct {
	cfg           *config.Config
	client        *backend.HTTP
	sess          *session.Session
	relations     *store.RelationStore
	conversations *store.ConversationIndex
	messages      *store.MessageStream
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.LogLevel)

	client := backend.NewHTTP(cfg.BackendURL)
	sess := session.New()
	relations := store.NewRelationStore(client, sess)
	conversations := store.NewConversationIndex(client, sess, relations)
	messages := store.NewMessageStream(client, sess, relations, conversations)

	return &app{
		cfg:           cfg,
		client:        client,
		sess:          sess,
		relations:     relations,
		conversations: conversations,
		messages:      messages,
	}, nil
}

// restoreIdentity installs the saved token from configuration.
func (a *app) restoreIdentity() error {
	if a.cfg.AuthToken == "" {
		return apperr.New(apperr.CodeNotAuthenticated, "no saved token; run 'chat login' first and export AUTH_TOKEN")
	}
	a.client.SetToken(a.cfg.AuthToken)
	return a.sess.Restore(a.cfg.AuthToken)
}

// userByUsername resolves a username to its user record.
func (a *app) userByUsername(ctx context.Context, username string) (*models.User, error) {
	res, err := a.client.List(ctx, models.CollectionUsers, backend.Query{
		Filter: backend.Filter{
			All: []backend.Cond{{Field: "username", Op: backend.OpEqual, Value: username}},
		},
		PerPage: 1,
	})
	if err != nil {
		return nil, err
	}
	users, err := backend.DecodeItems[models.User](res.Items)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, apperr.New(apperr.CodeNotFound, fmt.Sprintf("no user named %q", username))
	}
	return &users[0], nil
}

func main() {
	root := &cobra.Command{
		Use:           "chat",
		Short:         "Terminal client for pocket-chat",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(
		loginCmd(),
		friendsCmd(),
		conversationsCmd(),
		chatCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func loginCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Authenticate and print a token for AUTH_TOKEN",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			user, token, err := a.client.Authenticate(cmd.Context(), args[0], password)
			if err != nil {
				return err
			}
			fmt.Printf("Logged in as %s (%s)\n", user.Username, user.ID)
			fmt.Printf("export AUTH_TOKEN=%s\n", token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func conversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "conversations",
		Short: "List visible conversations, most recent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.restoreIdentity(); err != nil {
				return err
			}
			if err := a.conversations.FetchAll(cmd.Context()); err != nil {
				return err
			}

			convs := a.conversations.Conversations()
			if len(convs) == 0 {
				fmt.Println("No conversations.")
				return nil
			}
			for _, conv := range convs {
				name := "(unknown)"
				if other := a.conversations.OtherParticipant(&conv); other != nil {
					name = other.Username
				}
				fmt.Printf("%-20s %s  %s\n", name, conv.Updated, conv.LastMessage)
			}
			return nil
		},
	}
}
