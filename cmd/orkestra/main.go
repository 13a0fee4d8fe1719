package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/orkestralabs/orkestra/pkg/credentials"
	"github.com/orkestralabs/orkestra/pkg/llm"
	"github.com/orkestralabs/orkestra/pkg/orkestra"
	"github.com/orkestralabs/orkestra/pkg/runner"
)

var (
	configPath   string
	providerFlag string
	modelFlag    string
	sessionFlag  string
)

var rootCmd = &cobra.Command{
	Use:   "orkestra",
	Short: "Agent orchestration engine over MCP tool servers",
}

var runCmd = &cobra.Command{
	Use:   "run [message]",
	Short: "Run a single orchestration turn",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, ctx, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		result, err := engine.RunTurn(ctx, orkestra.TurnRequest{
			SessionID:  sessionID(),
			Message:    strings.Join(args, " "),
			ProviderID: providerFlag,
			ModelID:    modelFlag,
		})
		if err != nil {
			return err
		}
		if result.Err != nil {
			return result.Err
		}
		fmt.Println(result.FinalText)
		return nil
	},
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Interactive chat session",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, ctx, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		session := sessionID()
		var history []llm.Message
		scanner := bufio.NewScanner(os.Stdin)
		fmt.Println("Type a message, or /quit to exit.")
		for {
			fmt.Print("> ")
			if !scanner.Scan() {
				return scanner.Err()
			}
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}
			if line == "/quit" || line == "/exit" {
				return nil
			}
			result, err := engine.RunTurn(ctx, orkestra.TurnRequest{
				SessionID:  session,
				History:    history,
				Message:    line,
				ProviderID: providerFlag,
				ModelID:    modelFlag,
			})
			if err != nil {
				return err
			}
			if result.Err != nil {
				fmt.Fprintf(os.Stderr, "turn failed: %v\n", result.Err)
				continue
			}
			history = append(history, result.Appended...)
			fmt.Println(result.FinalText)
		}
	},
}

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools exposed by the connected servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		tools := engine.Registry().Tools()
		if len(tools) == 0 {
			fmt.Println("no tools registered")
			return nil
		}
		for _, tool := range tools {
			fmt.Printf("%-40s %s\n", tool.Name, tool.Description)
		}
		return nil
	},
}

var serversCmd = &cobra.Command{
	Use:   "servers",
	Short: "Show the status of configured tool servers",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, _, cleanup, err := buildEngine(cmd.Context())
		if err != nil {
			return err
		}
		defer cleanup()

		for _, status := range engine.Manager().Status() {
			state := "disabled"
			switch {
			case status.Err != "":
				state = "error: " + status.Err
			case status.Connected:
				state = fmt.Sprintf("connected (%d tools)", status.ToolCount)
			case status.Enabled:
				state = "not connected"
			}
			fmt.Printf("%-20s %s\n", status.ServerID, state)
		}
		return nil
	},
}

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Manage provider API keys in the OS keychain",
}

var secretSetCmd = &cobra.Command{
	Use:   "set [provider]",
	Short: "Store an API key for a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("API key for %s: ", args[0])
		scanner := bufio.NewScanner(os.Stdin)
		if !scanner.Scan() {
			return scanner.Err()
		}
		key := strings.TrimSpace(scanner.Text())
		if err := credentials.Set(args[0], key); err != nil {
			return err
		}
		fmt.Println("stored")
		return nil
	},
}

var secretDeleteCmd = &cobra.Command{
	Use:   "delete [provider]",
	Short: "Remove a provider's API key",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := credentials.Delete(args[0]); err != nil {
			return err
		}
		fmt.Println("deleted")
		return nil
	},
}

func sessionID() string {
	if sessionFlag != "" {
		return sessionFlag
	}
	return uuid.NewString()
}

func buildEngine(parent context.Context) (*orkestra.Engine, context.Context, func(), error) {
	cfg, err := orkestra.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	runner.PrintBanner()
	engine := orkestra.NewEngine(orkestra.EngineOptions{Config: cfg})

	ctx, cancel := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	if err := engine.Start(ctx); err != nil {
		cancel()
		_ = engine.Stop()
		return nil, nil, nil, err
	}
	cleanup := func() {
		_ = engine.Stop()
		cancel()
	}
	return engine, ctx, cleanup, nil
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to config file")
	rootCmd.PersistentFlags().StringVar(&providerFlag, "provider", "", "override the configured provider")
	rootCmd.PersistentFlags().StringVar(&modelFlag, "model", "", "override the configured model")
	rootCmd.PersistentFlags().StringVar(&sessionFlag, "session", "", "session id (random when empty)")

	secretCmd.AddCommand(secretSetCmd, secretDeleteCmd)
	rootCmd.AddCommand(runCmd, chatCmd, toolsCmd, serversCmd, secretCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
