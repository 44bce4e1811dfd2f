package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/perpquant/mind-persona/internal/gemini"
	"github.com/perpquant/mind-persona/internal/governor"
	"github.com/perpquant/mind-persona/internal/services"
	"github.com/perpquant/mind-persona/internal/simulate"
)

var (
	askModel string
	askAgent string
	askRaw   bool
)

var askCmd = &cobra.Command{
	Use:   "ask [prompt...]",
	Short: "Send prompts through the governor",
	Long: `Sends each argument as a separate prompt. Prompts are submitted together
and the governor runs them one at a time, retrying and falling back as needed.
Replies are printed in argument order.

Example:
  persona ask --model gemini-2.5-pro "Summarize Go's memory model" "Explain errgroup"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

type answer struct {
	result *governor.Result
	err    error
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	perform, err := resolveBackend(ctx, simulateFlag)
	if err != nil {
		return err
	}

	mgr, err := openManager(perform)
	if err != nil {
		return err
	}
	defer closeManager(mgr, cmd.ErrOrStderr())

	answers := askAll(ctx, mgr, args, askModel, askAgent)

	out := cmd.OutOrStdout()
	var failed int
	for i, a := range answers {
		if i > 0 {
			fmt.Fprintln(out)
		}
		if a.err != nil {
			failed++
			fmt.Fprintf(out, "✗ %s\n  %v\n", args[i], a.err)
			if governor.IsQuotaExceeded(a.err) {
				fmt.Fprintln(out, "  every model in the fallback chain is out of quota")
			}
			continue
		}
		printAnswer(out, args[i], a.result, askRaw)
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d prompts failed", failed, len(args))
	}
	return nil
}

// askAll submits every prompt concurrently. Answers keep the prompt order.
func askAll(ctx context.Context, mgr *services.Manager, prompts []string, model, agent string) []answer {
	answers := make([]answer, len(prompts))

	var g errgroup.Group
	for i, prompt := range prompts {
		g.Go(func() error {
			res, err := mgr.Ask(ctx, services.AskRequest{Body: prompt, Agent: agent, Model: model})
			answers[i] = answer{result: res, err: err}
			return nil
		})
	}
	_ = g.Wait()

	return answers
}

// resolveBackend picks the Gemini client when an API key is configured and
// the fake backend when asked to simulate.
func resolveBackend(ctx context.Context, simulated bool) (governor.PerformFunc, error) {
	if simulated {
		return simulate.New(simulate.Config{Seed: 1}).Perform, nil
	}
	if cfg.APIKey == "" {
		return nil, errors.New("no API key: set GEMINI_API_KEY or pass --simulate")
	}
	client, err := gemini.New(ctx, cfg.APIKey)
	if err != nil {
		return nil, err
	}
	return client.Perform, nil
}

func printAnswer(w io.Writer, prompt string, res *governor.Result, raw bool) {
	header := fmt.Sprintf("● %s (%s, %d attempt", prompt, res.Model, res.Attempts)
	if res.Attempts != 1 {
		header += "s"
	}
	fmt.Fprintln(w, header+")")

	text := replyText(res.Reply)
	if raw {
		fmt.Fprintln(w, text)
		return
	}

	r, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		fmt.Fprintln(w, text)
		return
	}
	rendered, err := r.Render(text)
	if err != nil {
		fmt.Fprintln(w, text)
		return
	}
	fmt.Fprint(w, strings.TrimLeft(rendered, "\n"))
}

func replyText(reply *governor.Reply) string {
	if reply == nil {
		return ""
	}
	switch body := reply.Body.(type) {
	case string:
		return body
	case fmt.Stringer:
		return body.String()
	default:
		return fmt.Sprint(body)
	}
}
