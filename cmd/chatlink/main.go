package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/propstack/chatlink"
	"github.com/propstack/chatlink/internal/config"
	"github.com/propstack/chatlink/internal/log"
	"github.com/propstack/chatlink/proto"
	"github.com/propstack/chatlink/store"
)

var version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chatlink: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "chatlink",
		Short:         "Terminal client for the PropStack messaging backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(chatCmd(), versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}

func chatCmd() *cobra.Command {
	var (
		configPath string
		overrides  config.Config
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Connect, authenticate, and chat interactively",
		RunE: func(cmd *cobra.Command, args []string) error {
			bootLog := log.New("info")
			cfg, path, err := config.Load(bootLog, configPath)
			if err != nil {
				return err
			}
			cfg.UpdateFrom(overrides)
			if cfg.Token == "" {
				return fmt.Errorf("no token configured (set token in %s or CHATLINK_TOKEN)", path)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return runChat(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	cmd.Flags().StringVar(&overrides.SocketURL, "socket-url", "", "WebSocket address of the chat backend")
	cmd.Flags().StringVar(&overrides.APIURL, "api-url", "", "CRM REST API root")
	cmd.Flags().StringVar(&overrides.Token, "token", "", "bearer credential")
	cmd.Flags().StringVar(&overrides.Room, "room", "", "room to open after connecting")
	cmd.Flags().StringVar(&overrides.LogLevel, "log-level", "", "debug, info, warn, or error")
	return cmd
}

func runChat(ctx context.Context, cfg config.Config) error {
	logger := log.New(cfg.LogLevel)

	client := chatlink.New(chatlink.Config{
		SocketURL: cfg.SocketURL,
		APIURL:    cfg.APIURL,
		Token:     cfg.Token,
		Logger:    logger,
	})
	defer client.Close()

	info, err := client.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	fmt.Printf("Connected as %s (%s)\n", info.DisplayName, info.UserID)

	sess := client.Session()
	st := client.Store()

	// Print pushes alongside the store bind; both are durable handlers.
	sess.OnNewMessage(func(m proto.MessageData) {
		if m.SenderID == info.UserID {
			return
		}
		fmt.Printf("[%s] %s: %s\n", m.ChatID, m.SenderName, m.Content)
	})
	sess.OnTyping(func(t proto.TypingData) {
		if t.ChatID == st.ActiveChat() {
			fmt.Printf("… %s is typing\n", t.UserID)
		}
	})
	sess.OnUserOnline(func(p proto.PresenceData) {
		fmt.Printf("* %s is online\n", p.UserID)
	})
	sess.OnUserOffline(func(p proto.PresenceData) {
		fmt.Printf("* %s went offline\n", p.UserID)
	})

	printRooms(st)

	if cfg.Room != "" {
		if err := openRoom(ctx, client, cfg.Room); err != nil {
			return err
		}
	}

	fmt.Println("Type a message and press Enter. Commands: /rooms, /open <id>, /quit")
	return inputLoop(ctx, client, info.UserID)
}

func inputLoop(ctx context.Context, client *chatlink.Client, selfID string) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	st := client.Store()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			text := strings.TrimSpace(line)
			switch {
			case text == "":
				continue
			case text == "/quit":
				return nil
			case text == "/rooms":
				printRooms(st)
			case strings.HasPrefix(text, "/open "):
				chatID := strings.TrimSpace(strings.TrimPrefix(text, "/open "))
				if err := openRoom(ctx, client, chatID); err != nil {
					fmt.Printf("open %s: %v\n", chatID, err)
				}
			default:
				if err := sendLine(ctx, client, selfID, text); err != nil {
					fmt.Printf("send: %v\n", err)
				}
			}
		}
	}
}

func openRoom(ctx context.Context, client *chatlink.Client, chatID string) error {
	if err := client.OpenRoom(ctx, chatID); err != nil {
		return err
	}
	fmt.Printf("-- %s --\n", chatID)
	for _, msg := range client.Store().Messages(chatID) {
		fmt.Printf("[%s] %s: %s\n", msg.Timestamp.Format("15:04"), msg.SenderName, msg.Content)
	}
	return nil
}

func sendLine(ctx context.Context, client *chatlink.Client, selfID, text string) error {
	st := client.Store()
	chatID := st.ActiveChat()
	if chatID == "" {
		return errors.New("no room open, use /open <id>")
	}

	receiver, ok := otherParticipant(st, chatID, selfID)
	if !ok {
		return fmt.Errorf("room %s has no counterpart", chatID)
	}

	client.InputChanged(text)
	_, err := client.Send(ctx, text, receiver.UserID, receiver.UserType)
	client.InputChanged("")
	return err
}

func otherParticipant(st *store.Store, chatID, selfID string) (store.Participant, bool) {
	room, ok := st.Room(chatID)
	if !ok {
		return store.Participant{}, false
	}
	for _, p := range room.Participants {
		if p.UserID != selfID {
			return p, true
		}
	}
	return store.Participant{}, false
}

func printRooms(st *store.Store) {
	rooms := st.Rooms()
	if len(rooms) == 0 {
		fmt.Println("No rooms yet.")
		return
	}
	for _, r := range rooms {
		line := r.ID
		if r.LastMessage != nil {
			line += fmt.Sprintf("  %s: %s", r.LastMessage.SenderName, r.LastMessage.Content)
		}
		if r.UnreadCount > 0 {
			line += fmt.Sprintf("  (%d unread)", r.UnreadCount)
		}
		fmt.Println(line)
	}
}
