package commands

import (
	"bufio"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/xhad/mindease/pkg/chat"
	"github.com/xhad/mindease/pkg/errs"
	"github.com/xhad/mindease/server"
)

const chatHelp = `Commands:
  /prompt <motivation|anxiety|study|self-care>  show a random prompt
  /feel <emotion>                              set how you feel today
  /history                                     show this conversation
  exit                                         quit`

func NewChatCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat interactively",
		Long: `Start an interactive conversation. Questions are answered from the
documents; slash commands show the built-in prompt lists.

` + chatHelp,
		Args: cobra.NoArgs,
		RunE: runChat,
	}
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg, hooks{onProgress: buildProgress(cmd.ErrOrStderr())})
	if err != nil {
		return err
	}
	defer a.Close()

	repl := &chatSession{app: a, cmd: cmd, log: chat.NewLog()}
	return repl.run()
}

type chatSession struct {
	app     *app
	cmd     *cobra.Command
	log     *chat.Log
	emotion string
}

func (s *chatSession) run() error {
	out := s.cmd.OutOrStdout()
	assistantColor.Fprintln(out, "\n🌿 Welcome to MindEase (type 'exit' to quit, '/help' for commands)")

	scanner := bufio.NewScanner(s.cmd.InOrStdin())
	for {
		userColor.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if strings.ToLower(line) == "exit" {
			break
		}

		if strings.HasPrefix(line, "/") {
			s.command(line)
			continue
		}

		s.ask(line)
	}

	return scanner.Err()
}

func (s *chatSession) command(line string) {
	out := s.cmd.OutOrStdout()
	name, arg, _ := strings.Cut(strings.TrimPrefix(line, "/"), " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case "prompt":
		prompt, err := s.app.catalog.Random(arg)
		if err != nil {
			errorColor.Fprintf(out, "Choose one of: %s\n", strings.Join(s.app.catalog.CategoryNames(), ", "))
			return
		}
		assistantColor.Fprintf(out, "MindEase: %s\n", prompt)

	case "feel":
		reply, err := s.app.catalog.Respond(arg)
		if err != nil {
			errorColor.Fprintf(out, "Choose one of: %s\n", strings.Join(s.app.catalog.EmotionNames(), ", "))
			return
		}
		s.emotion = arg
		s.log.Append(chat.SenderAssistant, reply)
		assistantColor.Fprintf(out, "MindEase: %s\n", reply)

	case "history":
		for _, turn := range s.log.Turns() {
			fmt.Fprintf(out, "[%s] %s: %s\n", turn.At.Format("15:04:05"), turn.Sender, turn.Text)
		}

	case "help":
		fmt.Fprintln(out, chatHelp)

	default:
		errorColor.Fprintf(out, "Unknown command /%s\n", name)
		fmt.Fprintln(out, chatHelp)
	}
}

func (s *chatSession) ask(question string) {
	out := s.cmd.OutOrStdout()
	s.log.Append(chat.SenderUser, question)

	var text string
	err := withSpinner(s.cmd.ErrOrStderr(), "Thinking...", func() error {
		answer, err := s.app.pipeline.Ask(s.cmd.Context(), question)
		if answer != nil {
			text = answer.Text
		}
		return err
	})

	switch {
	case err == nil, errors.Is(err, errs.ErrInvalidInput) && text != "":
	default:
		errorColor.Fprintf(out, "%s\n", server.FriendlyMessage(err))
		if s.emotion == "" {
			return
		}
		text, _ = s.app.catalog.Respond(s.emotion)
	}

	s.log.Append(chat.SenderAssistant, text)
	assistantColor.Fprintf(out, "\nMindEase: %s\n", text)
}
