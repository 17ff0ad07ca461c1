package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/harun/agerus/internal/tracing"
	"github.com/harun/agerus/pkg/agent"
	"github.com/harun/agerus/pkg/session"
	"github.com/spf13/cobra"
)

var runSession string

var runCmd = &cobra.Command{
	Use:   "run <prompt>",
	Short: "Run a single request and exit",
	Long: `Run one request through the agent loop and exit. The exit code is non-zero
when the run fails or stops at the turn cap. With --session the request
continues that conversation and the result is saved back.`,
	Args:          cobra.MinimumNArgs(1),
	SilenceErrors: true,
	RunE:          runOnce,
}

func init() {
	runCmd.Flags().StringVarP(&runSession, "session", "s", "", "conversation to continue and save")
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Close()

	ctx := cmd.Context()
	rt, err := newRuntime(ctx, cfg, log.GetZerolog(), cmd.OutOrStdout())
	if err != nil {
		return err
	}

	return rt.Serve(ctx, func(ctx context.Context) error {
		return rt.runPrompt(ctx, runSession, strings.Join(args, " "))
	})
}

// runPrompt runs one request, optionally continuing a saved conversation.
func (rt *Runtime) runPrompt(ctx context.Context, name, prompt string) error {
	key := name
	var conv agent.Conversation
	if name != "" {
		loaded, err := rt.sessions.Load(ctx, name)
		if err != nil && !errorsIsNotFound(err) {
			return err
		}
		conv = loaded
	} else {
		key = session.DefaultName(time.Now())
	}

	conv = append(conv, agent.Message{Role: agent.RoleUser, Content: prompt, Timestamp: time.Now()})
	result, runErr := rt.runner.Run(ctx, key, conv)
	rt.Flush()

	if name != "" {
		if err := rt.sessions.Save(tracing.Detach(ctx), name, result.Conversation); err != nil {
			return errors.Join(runErr, err)
		}
	}
	return runErr
}

func errorsIsNotFound(err error) bool {
	return errors.Is(err, session.ErrNotFound)
}
