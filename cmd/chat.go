package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/hivemind-dev/hivemind/pkg/protocol"
)

func chatCmd() *cobra.Command {
	var addr, token, to string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Interactive chat with a running hivemind over WebSocket",
		Run: func(cmd *cobra.Command, args []string) {
			runChat(addr, token, to)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:18890", "gateway address")
	cmd.Flags().StringVar(&token, "token", os.Getenv("HIVEMIND_GATEWAY_TOKEN"), "gateway token")
	cmd.Flags().StringVar(&to, "to", "root", "agent to address")
	return cmd
}

func runChat(addr, token, to string) {
	wsURL := fmt.Sprintf("ws://%s/ws", addr)
	if token != "" {
		wsURL += "?token=" + token
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WebSocket connect failed: %v\n", err)
		os.Exit(1)
	}
	defer conn.Close()

	// Reader goroutine: print user-bound messages and errors as they arrive.
	go func() {
		for {
			var frame protocol.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				fmt.Fprintf(os.Stderr, "\nconnection closed: %v\n", err)
				os.Exit(0)
			}
			switch frame.Type {
			case protocol.TypeEvent:
				if frame.Event == "user_message" {
					printUserMessage(frame.Payload)
				}
			case protocol.TypeError:
				fmt.Fprintf(os.Stderr, "error: %s\n", frame.Error)
			}
		}
	}()

	fmt.Fprintf(os.Stderr, "Hivemind chat (agent: %s). Type \"exit\" to quit.\n\n", to)
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Fprint(os.Stderr, "You: ")
		if !scanner.Scan() {
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}

		payload, _ := json.Marshal(protocol.SendPayload{
			To:      to,
			Payload: map[string]any{"text": input},
		})
		frame := protocol.Frame{Type: protocol.TypeSend, ID: uuid.NewString(), Payload: payload}
		if err := conn.WriteJSON(&frame); err != nil {
			fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			return
		}
	}
}

func printUserMessage(raw json.RawMessage) {
	var env struct {
		From    string         `json:"from"`
		Payload map[string]any `json:"payload"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		fmt.Printf("\n%s\n", raw)
		return
	}
	text, _ := env.Payload["text"].(string)
	if text == "" {
		data, _ := json.Marshal(env.Payload)
		text = string(data)
	}
	fmt.Printf("\n[%s] %s\n", env.From, text)
}
