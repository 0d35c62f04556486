package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	serverURL string
	token     string
	sessionID string
	modelID   string
)

var rootCmd = &cobra.Command{
	Use:   "cyberguard",
	Short: "Terminal client for the CyberGuard chat backend",
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open an interactive chat over the websocket API",
	RunE:  runChat,
}

func init() {
	chatCmd.Flags().StringVar(&serverURL, "server", "ws://localhost:8002/ws", "websocket endpoint")
	chatCmd.Flags().StringVar(&token, "token", os.Getenv("CYBERGUARD_TOKEN"), "bearer token (defaults to $CYBERGUARD_TOKEN)")
	chatCmd.Flags().StringVar(&sessionID, "session", "", "continue an existing chat session")
	chatCmd.Flags().StringVar(&modelID, "model", "", "model id, e.g. ollama/llama3:latest")
	rootCmd.AddCommand(chatCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
