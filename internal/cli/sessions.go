package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/harun/agerus/pkg/agent"
	"github.com/harun/agerus/pkg/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	pruneOlderThan   time.Duration
	pruneMaxMessages int
)

var sessionsCmd = &cobra.Command{
	Use:     "sessions",
	Aliases: []string{"session"},
	Short:   "Manage saved conversations",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved conversations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openSessions()
		if err != nil {
			return err
		}
		return listSessions(cmd, mgr, time.Now())
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Print a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openSessions()
		if err != nil {
			return err
		}
		conv, err := mgr.Load(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		printConversation(cmd.OutOrStdout(), conv)
		return nil
	},
}

var sessionsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a saved conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mgr, err := openSessions()
		if err != nil {
			return err
		}
		if err := mgr.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
		return nil
	},
}

var sessionsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete stale conversations and trim long ones",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if pruneOlderThan <= 0 && pruneMaxMessages <= 0 {
			return fmt.Errorf("nothing to do: set --older-than or --max-messages")
		}
		mgr, err := openSessions()
		if err != nil {
			return err
		}
		stats, err := mgr.Prune(cmd.Context(), session.PruneOptions{
			OlderThan:   pruneOlderThan,
			MaxMessages: pruneMaxMessages,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d, trimmed %d\n", len(stats.Deleted), len(stats.Trimmed))
		return nil
	},
}

func init() {
	sessionsPruneCmd.Flags().DurationVar(&pruneOlderThan, "older-than", 0, "delete conversations not modified within this duration (e.g. 720h)")
	sessionsPruneCmd.Flags().IntVar(&pruneMaxMessages, "max-messages", 0, "keep only the most recent messages of longer conversations")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsDeleteCmd, sessionsPruneCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func openSessions() (*session.Manager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return session.New(session.Config{Dir: cfg.SessionsDir, Logger: zerolog.Nop()})
}

func listSessions(cmd *cobra.Command, mgr *session.Manager, now time.Time) error {
	names, err := mgr.List()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(names) == 0 {
		fmt.Fprintln(out, "No saved conversations")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tMESSAGES\tSIZE\tMODIFIED")
	for _, name := range names {
		info, err := mgr.Info(cmd.Context(), name)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s ago\n", info.Name, info.Messages, info.Size, formatAge(now.Sub(info.LastModified)))
	}
	return w.Flush()
}

func printConversation(out io.Writer, conv agent.Conversation) {
	for _, msg := range conv {
		switch {
		case msg.Role == agent.RoleTool:
			fmt.Fprintf(out, "[tool %s]\n%s\n", msg.Name, indent(msg.Content))
		case len(msg.ToolCalls) > 0:
			if strings.TrimSpace(msg.Content) != "" {
				fmt.Fprintf(out, "[%s] %s\n", msg.Role, msg.Content)
			}
			for _, call := range msg.ToolCalls {
				fmt.Fprintf(out, "[%s] calls %s\n", msg.Role, describeToolCall(call.Name, call.Arguments))
			}
		default:
			fmt.Fprintf(out, "[%s] %s\n", msg.Role, msg.Content)
		}
	}
}

func describeToolCall(name string, args map[string]interface{}) string {
	if cmd, ok := args["command"].(string); ok && name == "run_command" {
		return "run_command: " + cmd
	}
	if path, ok := args["path"].(string); ok {
		return name + ": " + path
	}
	return name
}

func indent(text string) string {
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	for i, l := range lines {
		lines[i] = "  " + l
	}
	return strings.Join(lines, "\n")
}
