package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	giftwell "github.com/giftwell/giftwell-go"
)

func init() {
	messagesCmd.Flags().Int("limit", 50, "maximum messages to fetch")
	rootCmd.AddCommand(chatsCmd)
	rootCmd.AddCommand(messagesCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(watchCmd)
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List your chats",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		chats, err := client.Chats.List(ctx)
		if err != nil {
			return err
		}
		if len(chats) == 0 {
			fmt.Println("No chats.")
			return nil
		}
		for _, c := range chats {
			name := c.Name
			if name == "" {
				name = "(unnamed)"
			}
			last := ""
			if c.LastMessage != nil {
				last = c.LastMessage.Content
			}
			fmt.Printf("%-26s %-7s %-24s %s\n", c.ID, c.Kind, name, last)
		}
		return nil
	},
}

var messagesCmd = &cobra.Command{
	Use:   "messages <chat-id>",
	Short: "Show a chat's message history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		limit, _ := cmd.Flags().GetInt("limit")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		msgs, err := client.Messages.List(ctx, args[0], limit, 0)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Format(time.RFC3339), m.SenderID, m.Content)
		}
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat-id> <content>",
	Short: "Send a text message",
	Long:  "Send a text message. The live channel is tried first; when it is unavailable the message goes out over REST.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		stream := giftwell.NewStreamClient(client.BaseURL(), getCredentials(), nil)
		store := giftwell.NewChatStore(getUserID(), client, stream, nil)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		// Best effort; SendMessage falls back to REST on its own.
		_ = stream.Connect(ctx)
		defer stream.Disconnect()

		if err := store.SendMessage(ctx, args[0], args[1], giftwell.MessageText, ""); err != nil {
			return err
		}
		fmt.Println("Sent.")
		return nil
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch [chat-id...]",
	Short: "Tail the live event stream",
	Long:  "Connect to the streaming endpoint, subscribe to the given chats (or every chat you belong to), and print events until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := getClient()
		stream := giftwell.NewStreamClient(client.BaseURL(), getCredentials(), nil)
		store := giftwell.NewChatStore(getUserID(), client, stream, nil)

		stream.Events().Subscribe(func(ev giftwell.Event) {
			switch e := ev.(type) {
			case giftwell.ConnectedEvent:
				fmt.Printf("-- connected (client %s)\n", e.ClientID)
			case giftwell.DisconnectedEvent:
				fmt.Printf("-- disconnected: %s\n", e.Reason)
			case giftwell.MessageEvent:
				fmt.Printf("[%s] %s: %s\n", e.ChatID, e.Message.SenderID, e.Message.Content)
			case giftwell.MessageSentEvent:
				fmt.Printf("[%s] (you) %s\n", e.ChatID, e.Message.Content)
			case giftwell.TypingEvent:
				fmt.Printf("[%s] %s is typing…\n", e.ChatID, e.UserID)
			case giftwell.ErrorEvent:
				fmt.Printf("-- server error %s: %s\n", e.Code, e.Message)
			}
		})

		ctx := context.Background()
		if err := stream.Connect(ctx); err != nil {
			return err
		}
		defer stream.Disconnect()

		if len(args) > 0 {
			for _, id := range args {
				stream.Subscribe(id)
			}
		} else if err := store.LoadChats(ctx); err != nil {
			return err
		}

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		<-sig
		fmt.Println("bye")
		return nil
	},
}
