package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"chat-core/internal/client"
	"chat-core/internal/config"
	"chat-core/internal/models"
	"chat-core/pkg/logger"
)

func main() {
	cfg, err := config.LoadClient()
	if err != nil {
		logger.Fatal("Invalid configuration: %v", err)
	}
	if err := logger.SetLevel(cfg.Log.Level); err != nil {
		logger.Warn("Invalid LOG_LEVEL %q: %v", cfg.Log.Level, err)
	}
	defer logger.Sync()

	if cfg.Token == "" || cfg.UserID == "" {
		logger.Fatal("CHAT_TOKEN and CHAT_USER_ID are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Dial(cfg.ServerURL, cfg.Token, cfg.UserID, client.Options{TypingTimeout: cfg.TypingTimeout})
	if err != nil {
		logger.Fatal("Failed to create client: %v", err)
	}
	defer c.Close()

	c.SetHandlers(client.Handlers{
		OnMessage: func(m models.Message) {
			if c.Session.IsActive(m.ConversationID) {
				fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderID, m.Content)
			} else {
				// Name lookups leave the socket reader free.
				go func() {
					from := m.SenderID
					if u, err := c.Resolver.Lookup(ctx, m.SenderID); err == nil {
						from = u.Username
					}
					fmt.Printf("* new message in %s from %s\n", m.ConversationID, from)
				}()
			}
		},
		OnNotification: func(n models.NotificationPayload) {
			fmt.Printf("* notification %s %s\n", n.Type, string(n.Data))
		},
		OnPresence: func(userID string, online bool) {
			state := "offline"
			if online {
				state = "online"
			}
			fmt.Printf("* %s is %s\n", userID, state)
		},
		OnError: func(e models.ErrorPayload) {
			fmt.Printf("! %s: %s\n", e.Event, e.Message)
		},
	})
	c.Typing.OnChange(func(conversationID string, users []string) {
		if len(users) > 0 {
			fmt.Printf("* %s typing...\n", strings.Join(users, ", "))
		}
	})

	if err := c.Start(ctx); err != nil {
		logger.Error("Failed to load conversations: %v", err)
	}
	printHelp()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if !handleLine(ctx, c, strings.TrimSpace(line)) {
				return
			}
		}
	}
}

func handleLine(ctx context.Context, c *client.Client, line string) bool {
	if line == "" {
		return true
	}
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/quit":
		return false
	case "/help":
		printHelp()
	case "/list":
		printConversations(c)
	case "/more":
		if err := c.List.FetchMore(ctx); err != nil {
			fmt.Printf("! %v\n", err)
		}
		printConversations(c)
	case "/open":
		if err := c.Open(ctx, arg); err != nil {
			fmt.Printf("! %v\n", err)
			return true
		}
		printHistory(c)
	case "/dm":
		c.Resolver.Reset(arg)
		if _, err := c.Resolver.Resolve(ctx, arg); err != nil {
			fmt.Printf("! %v\n", err)
			return true
		}
		printHistory(c)
	case "/whois":
		u, err := c.Resolver.Lookup(ctx, arg)
		if err != nil {
			fmt.Printf("! %v\n", err)
			return true
		}
		fmt.Printf("%s  %s  %s\n", u.ID, u.Username, u.Address)
	case "/close":
		c.Rooms.ClearSelection()
	case "/online":
		fmt.Printf("online: %s\n", strings.Join(c.Online(), ", "))
	case "/typing":
		c.Typing.HandleTyping()
	default:
		if strings.HasPrefix(cmd, "/") {
			fmt.Printf("! unknown command %s\n", cmd)
			return true
		}
		if _, err := c.Send(ctx, line); err != nil {
			fmt.Printf("! message not sent: %v\n", err)
		}
	}
	return true
}

func printConversations(c *client.Client) {
	for _, s := range c.List.Summaries() {
		var names []string
		for _, p := range s.Participants {
			if p.ID != c.Session.UserID() {
				names = append(names, p.Username)
			}
		}
		last := ""
		if s.LastMessage != nil {
			last = s.LastMessage.Content
		}
		fmt.Printf("%s  %-6s %-20s unread=%d  %s\n", s.ID, s.Type, strings.Join(names, ","), s.UnreadCount, last)
	}
}

func printHistory(c *client.Client) {
	for _, m := range c.Store.Messages() {
		fmt.Printf("[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), m.SenderID, m.Content)
	}
}

func printHelp() {
	fmt.Println("commands: /list /more /open <id> /dm <user> /whois <user> /close /online /typing /quit; anything else is sent")
}
