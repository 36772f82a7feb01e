package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/antoniostano/voicechat/internal/audio"
	"github.com/antoniostano/voicechat/internal/chat"
)

type globalOptions struct {
	baseURL string
	timeout time.Duration
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "voicectl",
		Short: "Operate a voicechat server from the command line",
		Long: `voicectl drives the voicechat HTTP API.

Examples:
  # Send a recording and save the spoken reply
  voicectl turn question.webm -o reply.wav

  # Replay the same clip five times into one chat and report latency
  voicectl turn question.wav --repeat 5

  # Inspect stored conversations
  voicectl chats list
  voicectl chats show <chat-id>`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringVar(&opts.baseURL, "server", envOr("VOICECHAT_URL", "http://127.0.0.1:5000"), "voicechat server base URL")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 2*time.Minute, "per-request timeout")

	root.AddCommand(newTurnCmd(opts), newChatsCmd(opts), newMessageCmd(opts))
	return root
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func newTurnCmd(opts *globalOptions) *cobra.Command {
	var (
		chatID string
		output string
		repeat int
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "turn <audio-file>",
		Short: "Upload an audio file as one voice turn",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			if repeat < 1 {
				repeat = 1
			}
			client := newAPIClient(opts.baseURL, opts.timeout)
			out := cmd.OutOrStdout()

			var latencies []time.Duration
			for i := 0; i < repeat; i++ {
				started := time.Now()
				res, err := client.processVoice(cmd.Context(), args[0], data, chatID)
				if err != nil {
					return fmt.Errorf("turn %d: %w", i+1, err)
				}
				elapsed := time.Since(started)
				latencies = append(latencies, elapsed)
				chatID = res.ChatID

				if asJSON {
					if err := json.NewEncoder(out).Encode(res); err != nil {
						return err
					}
				} else {
					fmt.Fprintf(out, "chat:      %s\n", res.ChatID)
					fmt.Fprintf(out, "language:  %s\n", res.LanguageCode)
					fmt.Fprintf(out, "you said:  %s\n", res.UserText)
					fmt.Fprintf(out, "reply:     %s\n", res.ResponseText)
					fmt.Fprintf(out, "latency:   %s\n", elapsed.Round(time.Millisecond))
				}

				if output != "" && i == repeat-1 {
					if err := writeReplyAudio(out, output, res.ResponseAudio); err != nil {
						return err
					}
					fmt.Fprintf(out, "saved reply audio to %s\n", output)
				}
			}
			if repeat > 1 {
				p50, p95 := percentiles(latencies)
				fmt.Fprintf(out, "turns=%d p50=%s p95=%s\n", repeat, p50.Round(time.Millisecond), p95.Round(time.Millisecond))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&chatID, "chat", "", "continue an existing chat")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the reply audio to this file")
	cmd.Flags().IntVar(&repeat, "repeat", 1, "send the clip this many times into the same chat")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw JSON result")
	return cmd
}

// writeReplyAudio decodes the base64 reply and writes it to path. The WAV
// format is printed when the payload parses as one.
func writeReplyAudio(out io.Writer, path, b64 string) error {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return fmt.Errorf("decode reply audio: %w", err)
	}
	if f, err := audio.ParseWAV(raw); err == nil {
		fmt.Fprintf(out, "reply audio: %s\n", f)
	}
	return os.WriteFile(path, raw, 0o644)
}

func percentiles(samples []time.Duration) (p50, p95 time.Duration) {
	if len(samples) == 0 {
		return 0, 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := func(q float64) int {
		i := int(q*float64(len(sorted)-1) + 0.5)
		if i >= len(sorted) {
			i = len(sorted) - 1
		}
		return i
	}
	return sorted[idx(0.50)], sorted[idx(0.95)]
}

func newChatsCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "Manage stored chats",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List chats without their messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			list, err := newAPIClient(opts.baseURL, opts.timeout).listChats(cmd.Context())
			if err != nil {
				return err
			}
			for _, s := range list {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", s.ID, s.CreatedAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "new",
		Short: "Create an empty chat",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			id, err := newAPIClient(opts.baseURL, opts.timeout).createChat(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <chat-id>",
		Short: "Print a chat transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := newAPIClient(opts.baseURL, opts.timeout).getChat(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "chat %s (created %s)\n", sess.ID, sess.CreatedAt.Format(time.RFC3339))
			for _, m := range sess.Messages {
				line := fmt.Sprintf("[%s] %s: %s", m.Timestamp.Format(time.RFC3339), m.Role, m.Content.Text)
				if m.Content.Audio != "" {
					line += " [audio]"
				}
				fmt.Fprintln(out, line)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete <chat-id>",
		Short: "Delete a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := newAPIClient(opts.baseURL, opts.timeout).deleteChat(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted")
			return nil
		},
	})
	return cmd
}

func newMessageCmd(opts *globalOptions) *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "message <chat-id> <text>",
		Short: "Append a text message to a chat",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := chat.Role(role)
			if !r.Valid() {
				return fmt.Errorf("role must be user or assistant, got %q", role)
			}
			if err := newAPIClient(opts.baseURL, opts.timeout).addMessage(cmd.Context(), args[0], r, chat.Content{Text: args[1]}); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "message added")
			return nil
		},
	}
	cmd.Flags().StringVar(&role, "role", string(chat.RoleUser), "message role (user or assistant)")
	return cmd
}
