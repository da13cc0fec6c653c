// Command wirecall is a terminal client for wirerelay: it prints feed events,
// places and answers calls, and sends direct messages.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirerelay/internal/client"
	"github.com/vovakirdan/wirerelay/internal/core"
	"github.com/vovakirdan/wirerelay/internal/log"
)

type options struct {
	addr     string
	token    string
	logLevel string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:          "wirecall",
		Short:        "Terminal client for wirerelay",
		SilenceUsage: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&opts.addr, "addr", "ws://localhost:8080/ws", "websocket address")
	pf.StringVar(&opts.token, "token", os.Getenv("WIRECALL_TOKEN"), "bearer token (or WIRECALL_TOKEN)")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(newListenCmd(opts), newCallCmd(opts), newChatCmd(opts))
	return root
}

// connect dials the relay and starts a session in the background. The
// returned channel yields Run's result.
func connect(ctx context.Context, opts *options) (*client.Session, <-chan error, *zerolog.Logger, error) {
	logger := log.New(opts.logLevel, "console")

	tr, err := client.Dial(ctx, opts.addr, opts.token)
	if err != nil {
		return nil, nil, nil, err
	}
	sess := client.NewSession(tr, client.NewPionFactory(webrtc.Configuration{}, logger), logger)

	done := make(chan error, 1)
	go func() { done <- sess.Run(ctx) }()
	return sess, done, logger, nil
}

func newListenCmd(opts *options) *cobra.Command {
	var autoAccept bool

	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print events and optionally answer incoming calls",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sess, done, logger, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			sub, cancel := sess.Subscribe()
			defer cancel()

			out := cmd.OutOrStdout()
			for {
				select {
				case err := <-done:
					return quiet(err)
				case n, ok := <-sub:
					if !ok {
						return quiet(<-done)
					}
					printNotification(out, n)
					if n.Kind == client.NotifyIncoming && autoAccept {
						if err := sess.Accept(ctx, n.SessionID); err != nil {
							logger.Warn().Err(err).Str("session_id", n.SessionID).Msg("accept failed")
						}
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&autoAccept, "auto-accept", false, "answer every incoming call")
	return cmd
}

func newCallCmd(opts *options) *cobra.Command {
	var video bool

	cmd := &cobra.Command{
		Use:   "call <userId>",
		Short: "Call a user and stay on the line until either side hangs up",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := parseUserID(args[0])
			if err != nil {
				return err
			}
			kind := core.MediaAudio
			if video {
				kind = core.MediaVideo
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The session outlives the signal so the hangup still goes out.
			sess, done, _, err := connect(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer sess.Close()
			sub, cancel := sess.Subscribe()
			defer cancel()

			out := cmd.OutOrStdout()
			id, err := sess.Originate(ctx, target, kind)
			if err != nil {
				return quiet(err)
			}
			fmt.Fprintf(out, "ringing user %d (session %s)\n", target, id)

			for {
				select {
				case <-ctx.Done():
					_ = sess.Hangup(cmd.Context(), id)
					return nil
				case err := <-done:
					return quiet(err)
				case n, ok := <-sub:
					if !ok {
						return quiet(<-done)
					}
					printNotification(out, n)
					if n.Kind == client.NotifyEnded && n.SessionID == id {
						return nil
					}
				}
			}
		},
	}
	cmd.Flags().BoolVar(&video, "video", false, "offer video as well as audio")
	return cmd
}

func newChatCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "chat <userId>",
		Short: "Send stdin lines as direct messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			to, err := parseUserID(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			sess, done, _, err := connect(ctx, opts)
			if err != nil {
				return err
			}
			sub, unsubscribe := sess.Subscribe()
			defer unsubscribe()

			out := cmd.OutOrStdout()
			go func() {
				for n := range sub {
					printNotification(out, n)
				}
			}()

			lines := make(chan string)
			go func() {
				defer close(lines)
				scanner := bufio.NewScanner(cmd.InOrStdin())
				for scanner.Scan() {
					lines <- scanner.Text()
				}
			}()

			for {
				select {
				case err := <-done:
					return quiet(err)
				case line, ok := <-lines:
					if !ok {
						_ = sess.Close()
						return quiet(<-done)
					}
					text := strings.TrimSpace(line)
					if text == "" {
						continue
					}
					if err := sess.SendMessage(ctx, to, text); err != nil {
						return fmt.Errorf("send: %w", err)
					}
				}
			}
		},
	}
}

func printNotification(w io.Writer, n client.Notification) {
	switch n.Kind {
	case client.NotifyIncoming:
		fmt.Fprintf(w, "incoming %s call from %s (%d), session %s\n", n.MediaKind, n.PeerUsername, n.PeerUserID, n.SessionID)
	case client.NotifyAnswered:
		fmt.Fprintf(w, "call %s answered by %d\n", n.SessionID, n.PeerUserID)
	case client.NotifyCandidate:
	case client.NotifyEnded:
		fmt.Fprintf(w, "call %s ended: %s %s\n", n.SessionID, n.Event, n.Reason)
	case client.NotifyRelay:
		fmt.Fprintf(w, "%s %s\n", n.Event, n.Data)
	case client.NotifyError:
		fmt.Fprintf(w, "server error: %v\n", n.Err)
	}
}

func parseUserID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid user id %q", s)
	}
	return id, nil
}

// quiet drops errors that mean the user or the server ended the session normally.
func quiet(err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, client.ErrClosed) {
		return nil
	}
	return err
}
