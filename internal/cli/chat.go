package cli

import (
	"fmt"

	"github.com/harun/agerus/pkg/session"
	"github.com/spf13/cobra"
)

var hideThinking bool

var chatCmd = &cobra.Command{
	Use:   "chat [conversation]",
	Short: "Start an interactive chat",
	Long: `Start an interactive chat with the coding assistant. The named conversation is
loaded when it exists; otherwise a new one is started. The conversation is
saved after every reply.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runChat,
}

func init() {
	chatCmd.Flags().BoolVar(&hideThinking, "hide-thinking", false, "do not print model reasoning")
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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
	rt.renderer.showThinking = !hideThinking

	name := ""
	if len(args) == 1 {
		name = args[0]
		if err := session.ValidateName(name); err != nil {
			return err
		}
	}
	r := newREPL(rt, cmd.InOrStdin(), name)

	if name != "" {
		conv, err := rt.sessions.Load(ctx, name)
		switch {
		case err == nil:
			r.conv = conv
		case errorsIsNotFound(err):
		default:
			return err
		}
	}

	return rt.Serve(ctx, r.run)
}
