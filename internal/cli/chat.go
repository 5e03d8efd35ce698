package cli

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"chatline/internal/chat"
	"chatline/internal/gateway/handlers"
	"chatline/internal/provider"
	"chatline/internal/server"
)

// chatClient sends messages either in-process or to a running gateway.
type chatClient interface {
	Send(ctx context.Context, opts chat.Options) (*chat.Result, error)
	Reset(ctx context.Context, userID, groupID string) error
}

type localClient struct {
	svc *chat.Service
}

func (c localClient) Send(ctx context.Context, opts chat.Options) (*chat.Result, error) {
	return c.svc.SendMessage(ctx, opts)
}

func (c localClient) Reset(ctx context.Context, userID, groupID string) error {
	return c.svc.ResetConversation(ctx, userID, groupID)
}

type remoteClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newRemoteClient(baseURL, token string) *remoteClient {
	return &remoteClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *remoteClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w\nIs the server running? Start it with: chatline serve", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e handlers.ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err == nil && e.Error.Code != "" {
			return fmt.Errorf("server returned %d %s: %s", resp.StatusCode, e.Error.Code, e.Error.Message)
		}
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *remoteClient) Send(ctx context.Context, opts chat.Options) (*chat.Result, error) {
	var res chat.Result
	if err := c.do(ctx, http.MethodPost, "/api/v1/chat", opts, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

func (c *remoteClient) Reset(ctx context.Context, userID, groupID string) error {
	q := url.Values{"userId": {userID}}
	if groupID != "" {
		q.Set("groupId", groupID)
	}
	return c.do(ctx, http.MethodDelete, "/api/v1/conversations?"+q.Encode(), nil, nil)
}

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	var (
		base      chat.Options
		serverURL string
		token     string
	)

	cmd := &cobra.Command{
		Use:   "chat [message]",
		Short: "Send a message through the engine",
		Long: `Send a message and print the reply.

By default the engine runs in-process with the loaded configuration. With
--url the message goes to a running gateway instead. Without a message
argument an interactive session starts; type /reset to clear the
conversation and exit to quit.`,
		Example: `  # One message
  chatline chat "Hello"

  # As a group member, with routing details
  chatline chat --user 42 --group 100 --debug "draw a cat"

  # Against a running server
  chatline chat --url http://127.0.0.1:8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cliCtx := GetCLIContext(cmd)
			if cliCtx == nil {
				return errors.New("CLI context not initialized")
			}

			var client chatClient
			if serverURL != "" {
				if token == "" {
					token = cliCtx.Config.Gateway.Token
				}
				client = newRemoteClient(serverURL, token)
			} else {
				srv, err := server.NewServer(server.ServerConfig{
					ConfigPath:  cliCtx.ConfigPath,
					StoragePath: cliCtx.StoragePath,
					Logger:      *cliCtx.Log(),
				})
				if err != nil {
					return fmt.Errorf("failed to create engine: %w", err)
				}
				defer srv.Stop(context.Background())
				if err := srv.StartBackground(); err != nil {
					return err
				}
				client = localClient{svc: srv.Chat()}
			}

			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if len(args) > 0 {
				opts := base
				opts.Message = strings.Join(args, " ")
				res, err := client.Send(ctx, opts)
				if err != nil {
					return err
				}
				printResult(out, res, base.DebugMode)
				return nil
			}

			interactive := term.IsTerminal(int(os.Stdin.Fd()))
			return runREPL(ctx, client, cmd.InOrStdin(), out, base, interactive)
		},
	}

	cmd.Flags().StringVarP(&base.UserID, "user", "u", "cli", "sender user id")
	cmd.Flags().StringVarP(&base.GroupID, "group", "g", "", "group id; empty for a private chat")
	cmd.Flags().StringVarP(&base.Model, "model", "m", "", "force a model")
	cmd.Flags().StringSliceVar(&base.Images, "image", nil, "image URL to attach (repeatable)")
	cmd.Flags().BoolVar(&base.DebugMode, "debug", false, "print routing and fallback details")
	cmd.Flags().BoolVar(&base.SkipHistory, "no-history", false, "do not store this exchange")
	cmd.Flags().StringVar(&serverURL, "url", "", "gateway URL; runs in-process when empty")
	cmd.Flags().StringVar(&token, "token", "", "gateway bearer token (defaults to gateway.token)")
	return cmd
}

// runREPL reads one message per line until EOF or exit. Prompts are only
// printed when interactive.
func runREPL(ctx context.Context, client chatClient, in io.Reader, out io.Writer, base chat.Options, interactive bool) error {
	if interactive {
		fmt.Fprintln(out, "chatline interactive chat")
		fmt.Fprintln(out, "Type 'exit' to quit, '/reset' to clear the conversation")
		fmt.Fprintln(out)
	}

	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		if interactive {
			fmt.Fprint(out, "You: ")
		}
		if !scanner.Scan() {
			if interactive {
				fmt.Fprintln(out)
			}
			return scanner.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		case "/reset", "clear":
			if err := client.Reset(ctx, base.UserID, base.GroupID); err != nil {
				fmt.Fprintf(out, "Error: %v\n", err)
			} else {
				fmt.Fprintln(out, "Conversation cleared.")
			}
			continue
		}

		opts := base
		opts.Message = line
		res, err := client.Send(ctx, opts)
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n\n", err)
			continue
		}
		if interactive {
			fmt.Fprint(out, "Bot: ")
		}
		printResult(out, res, base.DebugMode)
		if interactive {
			fmt.Fprintln(out)
		}
	}
}

func printResult(out io.Writer, res *chat.Result, debug bool) {
	if text := res.Text(); text != "" {
		fmt.Fprintln(out, text)
	}
	for _, c := range res.Response {
		if c.Type == provider.ContentTypeImageURL && c.ImageURL != nil {
			fmt.Fprintf(out, "[image] %s\n", c.ImageURL.URL)
		}
	}
	for _, tc := range res.ToolCallLogs {
		fmt.Fprintf(out, "[tool] %s\n", tc.Name)
	}
	for _, task := range res.Tasks {
		status := "ok"
		if !task.Success {
			status = "failed: " + task.Error
		}
		fmt.Fprintf(out, "[task] %s %s\n", task.TaskType, status)
	}
	if res.ContextReset {
		fmt.Fprintln(out, "(conversation context was reset)")
	}
	if debug && res.DebugInfo != nil {
		d := res.DebugInfo
		fmt.Fprintf(out, "-- scenario=%s model=%s channel=%s key=%d fallback=%v retries=%d in %s\n",
			d.Scenario, d.Model, d.Channel, d.KeyIndex, d.FallbackUsed, d.TotalRetries, d.Duration)
		if len(d.Tools) > 0 {
			fmt.Fprintf(out, "-- tools: %s\n", strings.Join(d.Tools, ", "))
		}
	}
}
