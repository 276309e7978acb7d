package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/moneeroz/pocket-chat/internal/models"
)

func chatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat <username>",
		Short: "Open a conversation and chat interactively",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			if err := a.restoreIdentity(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if err := a.relations.Start(ctx); err != nil {
				return err
			}
			defer a.relations.Stop()
			if err := a.conversations.Start(ctx); err != nil {
				return err
			}
			defer a.conversations.Stop()

			other, err := a.userByUsername(ctx, args[0])
			if err != nil {
				return err
			}
			conv, err := a.conversations.GetOrCreate(ctx, other.ID)
			if err != nil {
				return err
			}

			if err := a.messages.Open(ctx, conv.ID, a.cfg.MessagePageSize); err != nil {
				return err
			}
			defer a.messages.Close()

			window := a.messages.Messages()
			for i := range window {
				printMessage(&window[i], a.sess.UserID())
			}
			printed := len(window)

			// Echo messages pushed while the prompt is open.
			done := make(chan struct{})
			defer close(done)
			go func() {
				ticker := time.NewTicker(500 * time.Millisecond)
				defer ticker.Stop()
				for {
					select {
					case <-done:
						return
					case <-ticker.C:
						window := a.messages.Messages()
						for i := printed; i < len(window); i++ {
							printMessage(&window[i], a.sess.UserID())
						}
						if len(window) > printed {
							printed = len(window)
						}
					}
				}
			}()

			fmt.Printf("Chatting with %s. Type a message, or /quit to leave.\n", other.Username)
			scanner := bufio.NewScanner(os.Stdin)
			for scanner.Scan() {
				line := strings.TrimSpace(scanner.Text())
				if line == "/quit" {
					return nil
				}
				if line == "" {
					continue
				}
				if _, err := a.messages.Send(ctx, conv.ID, line); err != nil {
					fmt.Fprintln(os.Stderr, "Error:", err)
				}
			}
			return scanner.Err()
		},
	}
}

func printMessage(msg *models.Message, me string) {
	author := msg.User
	if msg.Expand != nil && msg.Expand.User != nil {
		author = msg.Expand.User.Username
	}
	if msg.User == me {
		author = "you"
	}

	if msg.File != "" {
		fmt.Printf("[%s] %s sent a %s: %s (%d bytes)\n", msg.Created, author, msg.FileKind, msg.FileName, msg.FileSize)
		if msg.Text != "" {
			fmt.Printf("[%s] %s: %s\n", msg.Created, author, msg.Text)
		}
		return
	}
	fmt.Printf("[%s] %s: %s\n", msg.Created, author, msg.Text)
}
