package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

const usage = `engramctl — Engram command line client

Usage:
  engramctl [-server URL] <command> [flags]

Commands:
  store     -user ID -content TEXT      store a memory
  search    -user ID -query TEXT [-limit N]
  list      -user ID [-state STATE] [-limit N]
  insights  -user ID                    user activity summary
  tools                                 list registered tools
  call      -tool NAME -args JSON       call a tool with JSON arguments
  stats                                 tool usage and agent metrics
`

func main() {
	server := flag.String("server", "http://localhost:8080", "Engram server URL")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}
	cmd := flag.Arg(0)
	args := flag.Args()[1:]

	switch cmd {
	case "store":
		runStore(*server, args)
	case "search":
		runSearch(*server, args)
	case "list":
		runList(*server, args)
	case "insights":
		runInsights(*server, args)
	case "tools":
		runTools(*server)
	case "call":
		runCall(*server, args)
	case "stats":
		get(*server + "/api/stats")
	default:
		printError("unknown command %q", cmd)
		flag.Usage()
		os.Exit(2)
	}
}

func runStore(server string, args []string) {
	fs := flag.NewFlagSet("store", flag.ExitOnError)
	user := fs.String("user", "", "user the memory belongs to")
	content := fs.String("content", "", "content to remember")
	fs.Parse(args)
	if *user == "" || *content == "" {
		printError("store requires -user and -content")
		os.Exit(2)
	}
	post(server+"/api/memories", map[string]any{
		"user_id": *user,
		"content": *content,
	})
}

func runSearch(server string, args []string) {
	fs := flag.NewFlagSet("search", flag.ExitOnError)
	user := fs.String("user", "", "user whose memories to search")
	query := fs.String("query", "", "what to look for")
	limit := fs.Int("limit", 0, "maximum results")
	fs.Parse(args)
	if *user == "" || *query == "" {
		printError("search requires -user and -query")
		os.Exit(2)
	}
	body := map[string]any{"user_id": *user, "query": *query}
	if *limit > 0 {
		body["limit"] = *limit
	}
	post(server+"/api/search", body)
}

func runList(server string, args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	user := fs.String("user", "", "user whose memories to list")
	state := fs.String("state", "", "lifecycle state filter")
	limit := fs.Int("limit", 0, "maximum results")
	fs.Parse(args)
	if *user == "" {
		printError("list requires -user")
		os.Exit(2)
	}
	url := fmt.Sprintf("%s/api/memories?user=%s", server, *user)
	if *state != "" {
		url += "&state=" + *state
	}
	if *limit > 0 {
		url += fmt.Sprintf("&limit=%d", *limit)
	}
	get(url)
}

func runInsights(server string, args []string) {
	fs := flag.NewFlagSet("insights", flag.ExitOnError)
	user := fs.String("user", "", "user to summarize")
	fs.Parse(args)
	if *user == "" {
		printError("insights requires -user")
		os.Exit(2)
	}
	get(server + "/api/users/" + *user + "/insights")
}

func runTools(server string) {
	get(server + "/api/tools")
}

func runCall(server string, args []string) {
	fs := flag.NewFlagSet("call", flag.ExitOnError)
	name := fs.String("tool", "", "tool to call")
	rawArgs := fs.String("args", "{}", "tool arguments as JSON")
	fs.Parse(args)
	if *name == "" {
		printError("call requires -tool")
		os.Exit(2)
	}
	toolArgs := make(map[string]any)
	if err := json.Unmarshal([]byte(*rawArgs), &toolArgs); err != nil {
		printError("invalid -args JSON: %v", err)
		os.Exit(2)
	}
	post(server+"/api/tools/"+*name+"/call", toolArgs)
}

func get(url string) {
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		printError("request failed: %v", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func post(url string, body any) {
	data, _ := json.Marshal(body)
	client := &http.Client{Timeout: 65 * time.Second}
	resp, err := client.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		printError("request failed: %v", err)
		os.Exit(1)
	}
	printResponse(resp)
}

func printResponse(resp *http.Response) {
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)

	if resp.StatusCode >= 400 {
		printError("server error (%d): %s", resp.StatusCode, strings.TrimSpace(string(data)))
		os.Exit(1)
	}

	var buf bytes.Buffer
	if json.Indent(&buf, data, "", "  ") == nil {
		fmt.Println(buf.String())
	} else {
		fmt.Println(string(data))
	}
}

func printError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "\033[31m"+format+"\033[0m\n", args...)
}
