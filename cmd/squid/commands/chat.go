package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/charmbracelet/huh"
	"github.com/chzyer/readline"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jholhewres/squid/pkg/squid/agent"
)

// newChatCmd creates the `squid chat` command: one-shot with an argument,
// interactive REPL without.
func newChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Chat with the agent in the terminal",
		Long: `Chat with Squid. With a message argument a single turn runs and the
command exits; without one an interactive session starts.

Tool calls the policy engine cannot decide are presented for approval
before anything executes.

Examples:
  squid chat "rename the Config struct"
  squid chat`,
		Args: cobra.MaximumNArgs(1),
		RunE: runChat,
	}
	cmd.Flags().String("session", "", "session ID to continue (default: new session)")
	return cmd
}

func runChat(cmd *cobra.Command, args []string) error {
	rt, err := buildRuntime(cmd)
	if err != nil {
		return err
	}
	defer rt.shutdown()

	sessionID, _ := cmd.Flags().GetString("session")
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if len(args) == 1 {
		return runTurn(ctx, rt, sessionID, args[0])
	}

	rl, err := readline.New("squid> ")
	if err != nil {
		return fmt.Errorf("init terminal: %w", err)
	}
	defer rl.Close()

	fmt.Printf("Session %s — type a message, Ctrl+D to quit.\n", sessionID)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := runTurn(ctx, rt, sessionID, line); err != nil {
			fmt.Fprintf(os.Stderr, "turn failed: %v\n", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

// runTurn drives one turn, printing content as it streams and prompting for
// approvals inline.
func runTurn(ctx context.Context, rt *runtime, sessionID, message string) error {
	handle, err := rt.orch.StartTurn(ctx, sessionID, message)
	if err != nil {
		return err
	}

	for event := range handle.Events {
		switch event.Type {
		case agent.EventContent:
			fmt.Print(event.Data.(agent.ContentData).Text)

		case agent.EventApprovalRequest:
			req := event.Data.(agent.ApprovalRequestData)
			decision, err := promptApproval(req)
			if err != nil {
				// Prompt failure (e.g. Ctrl+C mid-form) aborts the turn;
				// the open approval fails closed.
				handle.Cancel()
				continue
			}
			if err := rt.orch.Resolve(sessionID, req.ApprovalID, decision); err != nil {
				fmt.Fprintf(os.Stderr, "\nresolve failed: %v\n", err)
			}

		case agent.EventToolResult:
			tr := event.Data.(agent.ToolResultData)
			if tr.Error != "" {
				fmt.Fprintf(os.Stderr, "\n[%s] %s\n", tr.ToolName, tr.Error)
			} else {
				fmt.Fprintf(os.Stderr, "\n[%s] ok\n", tr.ToolName)
			}

		case agent.EventUsage:
			if u, ok := event.Data.(agent.TokenUsage); ok && !u.IsZero() {
				fmt.Fprintf(os.Stderr, "\n(tokens: %d in, %d out)\n", u.Input, u.Output)
			}

		case agent.EventError:
			fmt.Fprintf(os.Stderr, "\nerror: %s\n", event.Data.(agent.ErrorData).Message)

		case agent.EventDone:
			fmt.Println()
		}
	}
	return nil
}

// promptApproval shows the approval form for a pending tool call.
func promptApproval(req agent.ApprovalRequestData) (agent.ApprovalDecision, error) {
	choice := "allow"
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Tool call: %s", req.ToolName)).
			Description(req.Description).
			Options(
				huh.NewOption("Allow once", "allow"),
				huh.NewOption("Always allow "+req.ToolName, "allow_always"),
				huh.NewOption("Deny once", "deny"),
				huh.NewOption("Always deny "+req.ToolName, "deny_always"),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return agent.ApprovalDecision{}, err
	}

	return agent.ApprovalDecision{
		Approved: choice == "allow" || choice == "allow_always",
		Persist:  strings.HasSuffix(choice, "_always"),
	}, nil
}
