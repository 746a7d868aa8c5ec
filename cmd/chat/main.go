package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/saeid-a/CoachChat/internal/chatclient"
)

// Terminal chat client against a running gateway. Mostly a development
// tool: it drives the same session core the dashboard uses.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	serverURL := getEnv("CHAT_SERVER_URL", "http://localhost:8080")
	token := os.Getenv("CHAT_TOKEN")
	userID := os.Getenv("CHAT_USER_ID")
	roleName := getEnv("CHAT_ROLE", "subscriber")
	if token == "" || userID == "" {
		log.Fatal("CHAT_TOKEN and CHAT_USER_ID are required")
	}

	role := chatclient.RoleSubscriber
	if roleName == "coach" {
		role = chatclient.RoleCoach
	}

	store := chatclient.NewHTTPStore(serverURL, token, userID, role)
	conn := chatclient.NewConnManager(serverURL + "/api/v1/ws")
	conn.Connect(token)
	defer conn.Disconnect()

	session := chatclient.NewSession(userID, role, conn, store)
	defer session.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go session.Run(ctx)

	if err := session.LoadConversations(ctx); err != nil {
		log.Fatalf("Failed to load conversations: %v", err)
	}
	printConversations(session)
	fmt.Println("commands: /list /open <id> /close /quit, anything else sends")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return
		case line == "/list":
			printConversations(session)
		case line == "/close":
			session.Deselect()
		case strings.HasPrefix(line, "/open "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/open "))
			session.SelectConversation(id)
			waitUntilSettled(session)
			printMessages(session)
		case line == "":
			printMessages(session)
		default:
			session.InputChanged(line)
			if err := session.Send(line); err != nil {
				fmt.Printf("! %v\n", err)
				continue
			}
			printMessages(session)
		}
	}
}

func waitUntilSettled(session *chatclient.Session) {
	for session.State() == chatclient.SessionLoading {
		time.Sleep(20 * time.Millisecond)
	}
	if err := session.Err(); err != nil {
		fmt.Printf("! history load failed: %v (retry with /open)\n", err)
	}
}

func printConversations(session *chatclient.Session) {
	for _, preview := range session.Previews() {
		marker := " "
		if session.IsOnline(preview.CounterpartID) {
			marker = "*"
		}
		fmt.Printf("[%s]%s with %s (%d unread): %s\n",
			preview.ID, marker, preview.CounterpartID, session.Unread(preview.ID), preview.LastMessage)
	}
}

func printMessages(session *chatclient.Session) {
	for _, message := range session.Messages() {
		status := ""
		if message.Pending {
			status = " (sending)"
		} else if message.IsRead {
			status = " (read)"
		}
		fmt.Printf("%s %s: %s%s\n",
			message.SentAt.Local().Format("15:04"), message.Sender, message.Content, status)
	}
	if session.CounterpartTyping() {
		fmt.Println("... typing")
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
