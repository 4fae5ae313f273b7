// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// shell.go - Interactive chat REPL.
//
// USABILITY: Markdown rendering and input history for better CLI experience
//
// Interactive Commands (during chat):
//   /help, /h           Show available commands
//   /clear, /c          Clear conversation history
//   /history            Re-render the conversation
//   /quit, /q           Exit
//   Ctrl+C              Cancel current response
//   Ctrl+D              Exit

package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/peterh/liner"

	"github.com/morganforge/ragchat/internal/config"
	"github.com/morganforge/ragchat/internal/conversation"
	"github.com/morganforge/ragchat/internal/gate"
	"github.com/morganforge/ragchat/internal/render"
	"github.com/morganforge/ragchat/internal/ui/styles"
	"github.com/morganforge/ragchat/internal/widget"
)

// =============================================================================
// STYLES
// =============================================================================

var (
	promptStyle = lipgloss.NewStyle().
			Foreground(styles.Cyan).
			Bold(true)

	gateStyle = lipgloss.NewStyle().
			Foreground(styles.Purple).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(styles.TextSecondary)

	warningStyle = lipgloss.NewStyle().
			Foreground(styles.Amber)

	errorStyle = lipgloss.NewStyle().
			Foreground(styles.Rose).
			Bold(true)
)

// =============================================================================
// INPUT
// =============================================================================

// input wraps liner with persistent input history.
// USABILITY: Supports arrow keys for history navigation and line editing.
type input struct {
	line        *liner.State
	historyFile string
}

func newInput() *input {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	configDir, err := config.ConfigDir()
	if err != nil {
		configDir = os.TempDir()
	}
	in := &input{
		line:        line,
		historyFile: filepath.Join(configDir, "shell_history"),
	}
	if f, err := os.Open(in.historyFile); err == nil {
		in.line.ReadHistory(f)
		f.Close()
	}
	return in
}

func (in *input) read(prompt string) (string, error) {
	text, err := in.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) != "" {
		in.line.AppendHistory(text)
	}
	return text, nil
}

// close saves history with secure permissions and releases the liner.
func (in *input) close() {
	if err := config.EnsureConfigDir(); err == nil {
		if f, err := os.OpenFile(in.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
			in.line.WriteHistory(f)
			f.Close()
		}
	}
	in.line.Close()
}

// =============================================================================
// SHELL
// =============================================================================

// Shell is the plain-terminal chat surface.
type Shell struct {
	widget   *widget.Widget
	input    *input
	renderer *render.Renderer

	// cancel aborts the in-flight stream on Ctrl+C.
	cancel context.CancelFunc
}

// NewShell creates a shell over a widget instance.
func NewShell(w *widget.Widget) *Shell {
	return &Shell{
		widget:   w,
		input:    newInput(),
		renderer: render.New(TerminalWidth()),
	}
}

// Run starts the REPL and blocks until the visitor exits.
func (s *Shell) Run(ctx context.Context) error {
	defer s.input.close()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)
	go func() {
		for range sigChan {
			if s.cancel != nil {
				s.cancel()
				s.cancel = nil
				fmt.Fprintln(os.Stderr, "\n"+warningStyle.Render("[Cancelled]"))
			}
		}
	}()

	s.printRestoredHistory()

	if err := s.runGates(ctx); err != nil {
		return err
	}
	s.dispatchPending(ctx)

	for {
		text, err := s.input.read(promptStyle.Render("you> "))
		if err != nil {
			// Ctrl+C at the prompt or EOF (Ctrl+D) exits.
			fmt.Println()
			return nil
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		if strings.HasPrefix(text, "/") {
			if quit := s.handleCommand(text); quit {
				return nil
			}
			continue
		}
		if strings.EqualFold(text, "exit") || strings.EqualFold(text, "quit") {
			return nil
		}

		s.send(ctx, text)
	}
}

// printRestoredHistory re-renders the persisted conversation so a
// returning visitor sees where they left off.
func (s *Shell) printRestoredHistory() {
	history := s.widget.History()
	if len(history) == 0 {
		return
	}
	fmt.Println(infoStyle.Render(fmt.Sprintf("-- restored %d messages --", len(history))))
	for _, msg := range history {
		s.printMessage(msg)
	}
	fmt.Println()
}

func (s *Shell) printMessage(msg conversation.Message) {
	if msg.Role == conversation.RoleUser {
		fmt.Println(promptStyle.Render("you> ") + msg.Content)
		return
	}
	if IsStdoutTTY() {
		fmt.Print(s.renderer.Markdown(msg.Content))
		return
	}
	fmt.Println(msg.Content)
}

// =============================================================================
// SENDING
// =============================================================================

// send streams one message, printing chunks as they arrive.
func (s *Shell) send(ctx context.Context, text string) {
	streamCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	defer func() {
		s.cancel = nil
		cancel()
	}()

	fmt.Println()
	_, err := s.widget.Send(streamCtx, text, nil, func(chunk string) {
		fmt.Print(chunk)
	})
	fmt.Println()

	if err == nil {
		fmt.Println()
		return
	}

	// Closed gates (after /clear, for example) capture the message as
	// pending; run the gate flow and dispatch it.
	if errors.Is(err, gate.ErrGateClosed) {
		if gerr := s.runGates(ctx); gerr == nil {
			s.dispatchPending(ctx)
		}
		return
	}

	if notice := s.widget.Notice(err); notice != "" {
		fmt.Fprintln(os.Stderr, warningStyle.Render(notice))
	}

	// A captcha re-verification demand reopens the gate flow, then the
	// rejected message is dispatched again.
	if s.widget.Gates().State() == gate.StateNeedsCaptcha {
		if gerr := s.runGates(ctx); gerr == nil {
			s.dispatchPending(ctx)
		}
	}
}

// dispatchPending sends any message captured while the gates were
// closed.
func (s *Shell) dispatchPending(ctx context.Context) {
	_, ok, err := s.widget.DispatchPending(ctx, nil, func(chunk string) {
		fmt.Print(chunk)
	})
	if !ok {
		return
	}
	fmt.Println()
	fmt.Println()
	if err != nil {
		if notice := s.widget.Notice(err); notice != "" {
			fmt.Fprintln(os.Stderr, warningStyle.Render(notice))
		}
	}
}

// =============================================================================
// GATE FLOW
// =============================================================================

// runGates walks the visitor through the open gates as inline prompts.
func (s *Shell) runGates(ctx context.Context) error {
	gates := s.widget.Gates()

	for !gates.IsOpen() {
		switch gates.State() {
		case gate.StateNeedsWelcome:
			fmt.Println(gateStyle.Render(gates.WelcomeQuestion()))
			answer, err := s.input.read(promptStyle.Render("you> "))
			if err != nil {
				return err
			}
			if err := gates.SubmitWelcome(answer); err != nil {
				continue
			}

		case gate.StateNeedsCaptcha:
			if err := s.runCaptcha(ctx); err != nil {
				return err
			}

		case gate.StateNeedsAgreements:
			if err := s.runAgreements(ctx); err != nil {
				return err
			}

		default:
			return nil
		}
	}
	return nil
}

// runCaptcha loops fetch-and-verify until a challenge is passed.
func (s *Shell) runCaptcha(ctx context.Context) error {
	gates := s.widget.Gates()
	msgs := s.widget.Messages()

	for gates.State() == gate.StateNeedsCaptcha {
		ch, err := gates.Challenge(ctx)
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("captcha unavailable: %v", err)))
			return err
		}

		fmt.Println(gateStyle.Render(msgs.CaptchaPrompt))
		fmt.Println(infoStyle.Render(ch.Display()))

		answer, err := s.input.read(promptStyle.Render("captcha> "))
		if err != nil {
			return err
		}

		ok, err := gates.VerifyCaptcha(ctx, ch.Token, answer)
		if err != nil {
			fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("verification failed: %v", err)))
			return err
		}
		if !ok {
			fmt.Println(warningStyle.Render(msgs.CaptchaWrongAnswer))
		}
	}
	return nil
}

// runAgreements prompts for each agreement, then finishes the gate.
func (s *Shell) runAgreements(ctx context.Context) error {
	gates := s.widget.Gates()
	msgs := s.widget.Messages()

	fmt.Println(gateStyle.Render(msgs.AgreementsTitle))
	for _, a := range gates.Agreements() {
		label := a.Title
		if label == "" {
			label = a.ID
		}
		if a.URL != "" {
			label += " (" + a.URL + ")"
		}
		for {
			answer, err := s.input.read(promptStyle.Render(label + " [y/N] "))
			if err != nil {
				return err
			}
			if strings.EqualFold(strings.TrimSpace(answer), "y") {
				if err := gates.Accept(a.ID); err != nil {
					return err
				}
				break
			}
			fmt.Println(warningStyle.Render(msgs.AgreementsIncomplete))
		}
	}

	if err := gates.Continue(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render(fmt.Sprintf("recording consent: %v", err)))
		return err
	}
	return nil
}

// =============================================================================
// SLASH COMMANDS
// =============================================================================

// handleCommand processes a slash command. Returns true to exit.
func (s *Shell) handleCommand(cmd string) bool {
	switch strings.ToLower(strings.TrimSpace(cmd)) {
	case "/quit", "/q", "/exit":
		return true
	case "/clear", "/c":
		s.widget.ClearHistory()
		fmt.Println(infoStyle.Render(s.widget.Messages().HistoryCleared))
	case "/history":
		s.printRestoredHistory()
	case "/help", "/h":
		fmt.Println(infoStyle.Render("Commands: /clear  /history  /quit"))
	default:
		fmt.Println(warningStyle.Render("Unknown command. Try /help"))
	}
	return false
}
