package coretools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/harun/agerus/pkg/toolexecutor"
	"golang.org/x/net/html"
)

// maxBodyBytes bounds how much of a response is read before parsing.
const maxBodyBytes = 4 << 20

func fetchURLTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "fetch_url",
		Description: "Fetch a web page and return its readable text.",
		FailureKind: toolexecutor.KindNetwork,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "url", Type: "string", Description: "URL to fetch", Required: true},
		},
		Handler: func(ctx context.Context, args toolexecutor.Args) (string, error) {
			rawURL, err := args.NonEmptyString("url")
			if err != nil {
				return "", err
			}
			parsed, err := url.Parse(rawURL)
			if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
				return "", toolexecutor.InvalidArgument("url must be an http or https URL")
			}

			var page string
			if opts.Browser != nil {
				page, err = opts.Browser.FetchHTML(ctx, rawURL)
			} else {
				page, err = httpGet(ctx, opts, rawURL)
			}
			if err != nil {
				return "", toolexecutor.NetworkError(err)
			}

			text, err := htmlToText(page)
			if err != nil {
				return "", toolexecutor.NetworkError(err)
			}
			text, _ = toolexecutor.Truncate(text, opts.Limits.FetchBytes, "\n...[Webpage truncated]")
			return text, nil
		},
	}
}

func webSearchTool(opts Options) toolexecutor.ToolDefinition {
	return toolexecutor.ToolDefinition{
		Name:        "web_search",
		Description: "Search the web (DuckDuckGo). Returns title and URL for each result.",
		FailureKind: toolexecutor.KindNetwork,
		Parameters: []toolexecutor.ToolParameter{
			{Name: "query", Type: "string", Description: "Search query", Required: true},
		},
		Handler: func(ctx context.Context, args toolexecutor.Args) (string, error) {
			query, err := args.NonEmptyString("query")
			if err != nil {
				return "", err
			}

			form := url.Values{"q": {query}}
			req, err := http.NewRequestWithContext(ctx, http.MethodPost, opts.SearchURL, strings.NewReader(form.Encode()))
			if err != nil {
				return "", toolexecutor.NetworkError(err)
			}
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			page, err := doRequest(opts, req)
			if err != nil {
				return "", toolexecutor.NetworkError(err)
			}

			results, err := parseSearchResults(page, opts.Limits.SearchResults)
			if err != nil {
				return "", toolexecutor.NetworkError(err)
			}
			if len(results) == 0 {
				return "No results found.", nil
			}

			entries := make([]string, 0, len(results))
			for _, r := range results {
				entries = append(entries, fmt.Sprintf("Title: %s\nURL: %s\n", r.Title, r.URL))
			}
			return strings.Join(entries, "\n---\n"), nil
		},
	}
}

func httpGet(ctx context.Context, opts Options, target string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", err
	}
	return doRequest(opts, req)
}

func doRequest(opts Options, req *http.Request) (string, error) {
	req.Header.Set("User-Agent", opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, req.URL.Host)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	return string(body), nil
}

// htmlToText drops script, style and noscript elements and returns the
// remaining text with whitespace collapsed to single spaces.
func htmlToText(page string) (string, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.Data {
			case "script", "style", "noscript":
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
			sb.WriteByte(' ')
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	return strings.Join(strings.Fields(sb.String()), " "), nil
}

type searchResult struct {
	Title string
	URL   string
}

func parseSearchResults(page string, limit int) ([]searchResult, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	var results []searchResult
	var find func(*html.Node)
	find = func(n *html.Node) {
		if len(results) >= limit {
			return
		}
		if n.Type == html.ElementNode && n.Data == "a" && hasClass(n, "result__a") {
			href := resolveResultURL(attrValue(n, "href"))
			if strings.HasPrefix(href, "http") {
				title := strings.Join(strings.Fields(textContent(n)), " ")
				results = append(results, searchResult{Title: title, URL: href})
			}
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			find(c)
		}
	}
	find(doc)
	return results, nil
}

// resolveResultURL unwraps DuckDuckGo redirect links (//duckduckgo.com/l/?uddg=...).
func resolveResultURL(href string) string {
	if !strings.Contains(href, "uddg=") {
		return href
	}
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	parsed, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := parsed.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}

func hasClass(n *html.Node, class string) bool {
	for _, field := range strings.Fields(attrValue(n, "class")) {
		if field == class {
			return true
		}
	}
	return false
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func textContent(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}
