package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"
	"github.com/suPer8Hu/llm-playground/internal/chat"
	"github.com/suPer8Hu/llm-playground/internal/config"
	"github.com/suPer8Hu/llm-playground/internal/generation"
)

type chatOptions struct {
	System   string
	Provider string
	Model    string
}

func addChat(topLevel *cobra.Command, cfg *config.Config) {
	o := &chatOptions{}

	cmd := &cobra.Command{
		Use:   "chat [prompt]",
		Short: "Send a prompt and stream the reply.",
		Long: "Adds the prompt as a user message, streams the assistant reply to stdout and saves it.\n" +
			"Ctrl-C stops the generation and keeps what was received so far.\n" +
			"With no prompt argument the prompt is read from stdin.",
		Example: `
playground chat "What is a monad?"
playground chat --system "Answer in one sentence." "Why is the sky blue?"
echo "hello" | playground chat --provider ollama --model llama3:latest`,
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt := strings.TrimSpace(strings.Join(args, " "))
			if prompt == "" {
				b, err := io.ReadAll(bufio.NewReader(cmd.InOrStdin()))
				if err != nil {
					return err
				}
				prompt = strings.TrimSpace(string(b))
			}
			if prompt == "" {
				return errors.New("prompt is empty")
			}
			return runChat(cmd.Context(), *cfg, o, prompt, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&o.System, "system", "", "add a system message before the prompt")
	cmd.Flags().StringVar(&o.Provider, "provider", "", "override the saved provider for this run")
	cmd.Flags().StringVar(&o.Model, "model", "", "override the saved model for this run")
	topLevel.AddCommand(cmd)
}

func runChat(ctx context.Context, cfg config.Config, o *chatOptions, prompt string, out io.Writer) error {
	a, err := openApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	s, err := a.settings.Load(ctx)
	if err != nil {
		return err
	}
	if o.Provider != "" && o.Provider != s.Provider {
		// the saved model belongs to another provider
		s.Provider, s.Model = o.Provider, ""
	}
	if o.Model != "" {
		s.Model = o.Model
	}

	if o.System != "" {
		if _, err := a.store.AddMessage(ctx, chat.Message{Role: chat.RoleSystem, Content: o.System}); err != nil {
			return err
		}
	}
	if _, err := a.store.AddMessage(ctx, chat.Message{Role: chat.RoleUser, Content: prompt}); err != nil {
		return err
	}
	history, err := a.store.GetAllMessages(ctx)
	if err != nil {
		return err
	}

	gen := generation.NewController(a.registry,
		generation.WithLanguage(generation.ParseLanguages(cfg.Lang)...),
		generation.WithNotifier(generation.NotifierFunc(func(n generation.Notice) {
			fmt.Fprintf(os.Stderr, "\n%s\n", n.Message)
		})),
	)

	// partials are delivered on the generating goroutine, in order
	var printed int
	defer gen.Subscribe(func(p generation.Partial) {
		if len(p.Content) > printed {
			fmt.Fprint(out, p.Content[printed:])
			printed = len(p.Content)
		}
	})()

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()
	go func() {
		<-sigCtx.Done()
		gen.Stop()
	}()

	res, err := gen.Generate(context.WithoutCancel(ctx), history, s)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)
	if res.Stopped {
		fmt.Fprintln(out, "[stopped]")
	}
	if res.Content == "" {
		return nil
	}
	_, err = a.store.AddMessage(context.WithoutCancel(ctx), res.Message())
	return err
}
