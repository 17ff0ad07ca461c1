package coretools

import (
	"context"
	"net/url"
	"regexp"
	"strings"

	"github.com/harun/agerus/pkg/toolexecutor"
)

var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[ -/]*[@-~]`)

func lookupDocsTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "lookup_docs",
		Description: "Look up a cheat sheet for a command or language topic, e.g. \"tar\" or \"go/slices\".",
		FailureKind: toolexecutor.KindNetwork,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Topic to look up", Required: true},
		},
		Handler: func(ctx context.Context, args toolexecutor.Args) (string, error) {
			query, err := args.NonEmptyString("query")
			if err != nil {
				return "", err
			}

			target := strings.TrimRight(opts.DocsURL, "/") + "/" + docsPath(query) + "?T"
			page, err := httpGet(ctx, opts, target)
			if err != nil {
				return "", toolexecutor.NetworkError(err)
			}

			text := strings.TrimSpace(ansiEscape.ReplaceAllString(page, ""))
			text, _ = toolexecutor.Truncate(text, opts.Limits.DocsBytes, "\n...[Documentation truncated]")
			return text, nil
		},
	}
}

// docsPath escapes each segment of a topic like "go/slices" while keeping
// the slashes and turning spaces into '+', as cheat.sh expects.
func docsPath(query string) string {
	segments := strings.Split(strings.TrimSpace(query), "/")
	for i, seg := range segments {
		words := strings.Fields(seg)
		for j, w := range words {
			words[j] = url.PathEscape(w)
		}
		segments[i] = strings.Join(words, "+")
	}
	return strings.Join(segments, "/")
}
