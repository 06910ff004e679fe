package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"maxbridge/internal/maxclient"
)

// chatEntity is one row of the diagnostic listing.
type chatEntity struct {
	ID      int64  `json:"id" yaml:"id"`
	Name    string `json:"name" yaml:"name"`
	Type    string `json:"type" yaml:"type"`
	OwnerID int64  `json:"ownerId,omitempty" yaml:"ownerId,omitempty"`
}

func chatsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List the account's dialogs, channels, and group chats on Max",
		Long:  "Connects to Max and prints every visible chat with its id, so max.chatId can be picked for the bridge.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			maxc, err := maxclient.New(maxclient.Config{
				Phone:    cfg.Max.Phone,
				Endpoint: cfg.Max.Endpoint,
				WorkDir:  cfg.Max.WorkDir,
				Logger:   logger,
			})
			if err != nil {
				return err
			}
			if err := maxc.Connect(ctx); err != nil {
				return fmt.Errorf("max connect: %w", err)
			}
			defer maxc.Close()

			entities := collectEntities(ctx, maxc)
			if len(entities) == 0 {
				logger.Warn("no dialogs, channels, or group chats found")
				return nil
			}

			return printEntities(entities, output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "table", "output format: table, json, or yaml")
	return cmd
}

func collectEntities(ctx context.Context, maxc *maxclient.Client) []chatEntity {
	var entities []chatEntity
	for _, chat := range maxc.Chats() {
		e := chatEntity{ID: chat.ID, Name: chat.Title, Type: chat.Type}
		switch chat.Type {
		case maxclient.ChatKindDialog:
			e.OwnerID = chat.Owner
			e.Name = dialogPeerName(ctx, maxc, chat.Owner)
		case maxclient.ChatKindChannel, maxclient.ChatKindGroup:
			if e.Name == "" {
				e.Name = "(untitled)"
			}
		}
		entities = append(entities, e)
	}
	return entities
}

// dialogPeerName resolves the dialog peer's display name, falling back to a
// synthetic one the same way the dispatcher does.
func dialogPeerName(ctx context.Context, maxc *maxclient.Client, ownerID int64) string {
	name, err := maxc.DisplayName(ctx, ownerID)
	if err != nil {
		logger.Warn("cannot resolve dialog peer", "user_id", ownerID, "err", err)
	}
	if name == "" {
		return fmt.Sprintf("ID_%d", ownerID)
	}
	return name
}

func printEntities(entities []chatEntity, output string) error {
	switch output {
	case "json":
		data, err := json.MarshalIndent(entities, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(entities)
		if err != nil {
			return err
		}
		fmt.Print(string(data))
	case "table":
		fmt.Printf("%-16s %-10s %s\n", "ID", "TYPE", "NAME")
		for _, e := range entities {
			fmt.Printf("%-16d %-10s %s\n", e.ID, e.Type, e.Name)
			if e.Type == maxclient.ChatKindDialog {
				fmt.Printf("%-16s %-10s peer id: %d\n", "", "", e.OwnerID)
			}
		}
	default:
		return fmt.Errorf("unknown output format %q", output)
	}
	return nil
}
