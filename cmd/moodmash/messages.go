package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	moodmash "github.com/moodmash/client-go"
)

func newMessagesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"msg"},
		Short:   "Send and read encrypted messages",
	}
	cmd.AddCommand(
		newMessagesSendCommand(a),
		newMessagesListCommand(a),
		newMessagesWatchCommand(a),
	)
	return cmd
}

// openConversation returns a ready conversation with peer, asking for the
// password once when the session is locked.
func (a *app) openConversation(ctx context.Context, peer string) (*moodmash.Conversation, error) {
	c, err := a.openClient()
	if err != nil {
		return nil, err
	}
	conv, err := c.Conversation(peer)
	if err != nil {
		return nil, err
	}

	r, err := conv.CheckReadiness(ctx)
	if err != nil {
		return nil, err
	}
	if r == moodmash.ReadinessNeedsPassword {
		if !c.KeyManager().HasKeys() {
			return nil, fmt.Errorf("no keys on this device: run %q or %q", "moodmash keys setup", "moodmash keys import")
		}
		pw, err := a.password("Password: ")
		if err != nil {
			return nil, err
		}
		if r, err = conv.Unlock(ctx, pw); err != nil {
			return nil, err
		}
	}

	switch r {
	case moodmash.ReadinessReady:
		return conv, nil
	case moodmash.ReadinessSignedOut:
		return nil, errors.New("signed out: set MOODMASH_TOKEN")
	default:
		return nil, fmt.Errorf("conversation with %s is %s: %w", peer, r, moodmash.ErrNotReady)
	}
}

// messageJSON is the --json form of a message.
type messageJSON struct {
	ID        string          `json:"id"`
	Sender    string          `json:"sender"`
	Recipient string          `json:"recipient"`
	Content   string          `json:"content,omitempty"`
	Timestamp string          `json:"timestamp"`
	Outgoing  bool            `json:"outgoing"`
	Status    string          `json:"status"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
}

func toMessageJSON(m moodmash.MessageDisplay) messageJSON {
	out := messageJSON{
		ID:        m.ID,
		Sender:    m.Sender,
		Recipient: m.Recipient,
		Content:   m.Content,
		Timestamp: m.Timestamp.UTC().Format(time.RFC3339),
		Outgoing:  m.Outgoing,
		Status:    string(m.Status),
	}
	if img, ok := m.Metadata.(*moodmash.ImageMetadata); ok {
		out.Metadata, _ = json.Marshal(map[string]any{"type": "image", "url": img.URL})
	}
	return out
}

func printMessage(w io.Writer, m moodmash.MessageDisplay) {
	who := m.Sender
	if m.Outgoing {
		who = "you"
	}
	ts := muted(m.Timestamp.Local().Format("2006-01-02 15:04"))

	switch {
	case m.Status == moodmash.MessageStatusUndecryptable:
		fmt.Fprintf(w, "%s %s: %s\n", ts, value(who), errMark("[cannot decrypt]"))
		return
	case m.Status == moodmash.MessageStatusFailed:
		fmt.Fprintf(w, "%s %s: %s %s\n", ts, value(who), m.Content, errMark("[not sent]"))
		return
	}

	line := m.Content
	if img, ok := m.Metadata.(*moodmash.ImageMetadata); ok {
		line = strings.TrimSpace(line + " " + muted("[image "+img.URL+"]"))
	}
	fmt.Fprintf(w, "%s %s: %s\n", ts, value(who), line)
}

func newMessagesSendCommand(a *app) *cobra.Command {
	var imageURL, imageType string
	cmd := &cobra.Command{
		Use:   "send PEER MESSAGE...",
		Short: "Encrypt and send a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			conv, err := a.openConversation(ctx, args[0])
			if err != nil {
				return err
			}

			var meta moodmash.MessageMetadata
			if imageURL != "" {
				meta = &moodmash.ImageMetadata{URL: imageURL, MimeType: imageType}
			}
			m, err := conv.Send(ctx, strings.Join(args[1:], " "), meta)
			if err != nil {
				return fmt.Errorf("send: %w", err)
			}
			a.success("Sent %s", muted(m.ID))
			return nil
		},
	}
	cmd.Flags().StringVar(&imageURL, "image-url", "", "attach an image by URL")
	cmd.Flags().StringVar(&imageType, "image-type", "", "MIME type of the attached image")
	return cmd
}

func newMessagesListCommand(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list PEER",
		Short: "Decrypt and print the conversation with PEER",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conv, err := a.openConversation(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			msgs, err := conv.Fetch(cmd.Context())
			if err != nil {
				return fmt.Errorf("fetch messages: %w", err)
			}

			if asJSON {
				out := make([]messageJSON, 0, len(msgs))
				for _, m := range msgs {
					out = append(out, toMessageJSON(m))
				}
				enc := json.NewEncoder(a.out())
				enc.SetIndent("", "  ")
				return enc.Encode(out)
			}
			if len(msgs) == 0 {
				fmt.Fprintln(a.out(), muted("no messages"))
				return nil
			}
			for _, m := range msgs {
				printMessage(a.out(), m)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print messages as JSON")
	return cmd
}

func newMessagesWatchCommand(a *app) *cobra.Command {
	var duration time.Duration
	cmd := &cobra.Command{
		Use:   "watch PEER",
		Short: "Print new messages from PEER as they arrive",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			conv, err := a.openConversation(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.io.Stderr, "%s watching %s, Ctrl-C to stop\n", muted("…"), value(args[0]))
			return conv.Watch(ctx, func(m moodmash.MessageDisplay) {
				printMessage(a.out(), m)
			})
		},
	}
	cmd.Flags().DurationVar(&duration, "for", 0, "stop watching after this long")
	return cmd
}
