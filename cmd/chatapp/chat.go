package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	chatapp "github.com/AngeIln/Chatapp"
)

var (
	watchMetricsAddr string
	watchBacklog     int
	sendAttach       string
	sendJSON         bool
)

func init() {
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().IntVar(&watchBacklog, "backlog", 20, "Number of earlier messages to print when a conversation opens")
	sendCmd.Flags().StringVar(&sendAttach, "attach", "", "File to upload and attach")
	sendCmd.Flags().BoolVar(&sendJSON, "json", false, "Output raw JSON")
	rootCmd.AddCommand(watchCmd, sendCmd, reactCmd)
}

// ============================================================================
// Rendering
// ============================================================================

func titleOf(c *chatapp.Conversation, self string) string {
	return chatapp.ConversationTitle(chatapp.ConversationSummary{
		ID:           c.ID,
		Name:         c.Name,
		Participants: c.Participants,
	}, self)
}

// formatMessage renders one message as a single line.
func formatMessage(m chatapp.Message, p chatapp.Profile, now time.Time) string {
	var b strings.Builder
	b.WriteString("[")
	b.WriteString(m.ID)
	if !m.Timestamp.IsZero() {
		ts := m.Timestamp.In(now.Location())
		b.WriteString(" ")
		y1, m1, d1 := ts.Date()
		y2, m2, d2 := now.Date()
		if y1 == y2 && m1 == m2 && d1 == d2 {
			b.WriteString(ts.Format("15:04"))
		} else {
			b.WriteString(ts.Format("Jan 2 15:04"))
		}
	}
	b.WriteString("] ")
	b.WriteString(p.DisplayName)
	b.WriteString(": ")
	b.WriteString(m.Content)
	if m.Media != "" {
		if m.Content != "" {
			b.WriteString(" ")
		}
		b.WriteString("<" + m.Media + ">")
	}
	if r := formatReactions(m.Reactions); r != "" {
		b.WriteString("  ")
		b.WriteString(r)
	}
	return b.String()
}

func formatReactions(r map[string]int) string {
	keys := make([]string, 0, len(r))
	for k, n := range r {
		if n > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + strconv.Itoa(r[k])
	}
	return strings.Join(parts, " ")
}

// printer writes conversation updates to the terminal. Each message is
// printed once; later reaction changes are printed as follow-up lines.
type printer struct {
	mu      sync.Mutex
	out     io.Writer
	dir     *chatapp.Directory
	self    string
	backlog int
	now     func() time.Time

	convID     string
	seen       map[string]string
	lastNotice string
}

func newPrinter(out io.Writer, dir *chatapp.Directory, self string, backlog int) *printer {
	return &printer{out: out, dir: dir, self: self, backlog: backlog, now: time.Now}
}

func (p *printer) update(c *chatapp.Conversation) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if c == nil {
		p.convID, p.seen = "", nil
		return
	}
	now := p.now()
	messages := c.Messages
	if c.ID != p.convID {
		p.convID = c.ID
		p.seen = make(map[string]string, len(messages))
		fmt.Fprintf(p.out, "== %s ==\n", titleOf(c, p.self))
		for _, m := range messages {
			p.seen[m.ID] = formatReactions(m.Reactions)
		}
		if p.backlog >= 0 && len(messages) > p.backlog {
			messages = messages[len(messages)-p.backlog:]
		}
		for _, m := range messages {
			fmt.Fprintln(p.out, formatMessage(m, p.resolve(m.Sender), now))
		}
		return
	}

	for _, m := range messages {
		reactions := formatReactions(m.Reactions)
		prev, ok := p.seen[m.ID]
		switch {
		case !ok:
			fmt.Fprintln(p.out, formatMessage(m, p.resolve(m.Sender), now))
		case prev != reactions:
			fmt.Fprintf(p.out, "  %s reactions: %s\n", m.ID, reactions)
		}
		p.seen[m.ID] = reactions
	}
}

func (p *printer) resolve(id string) chatapp.Profile {
	if p.dir == nil {
		return chatapp.Profile{ID: id, DisplayName: id}
	}
	return p.dir.Resolve(id)
}

// notice prints a status line.
func (p *printer) notice(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.lastNotice = ""
	fmt.Fprintf(p.out, "-- %s\n", fmt.Sprintf(format, args...))
}

func (p *printer) println(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintln(p.out, s)
}

// warn prints a background status line, collapsing immediate repeats.
func (p *printer) warn(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	p.mu.Lock()
	defer p.mu.Unlock()
	if msg == p.lastNotice {
		return
	}
	p.lastNotice = msg
	fmt.Fprintf(p.out, "-- %s\n", msg)
}

// ============================================================================
// Input
// ============================================================================

type inputKind int

const (
	inputSend inputKind = iota
	inputAttach
	inputReact
	inputOpen
	inputHelp
	inputQuit
)

type input struct {
	kind      inputKind
	text      string
	path      string
	messageID string
	symbol    string
	target    string
}

const chatHelp = `Type a message and press Enter to send it. Commands:
  /attach <file> [caption]   send a file
  /react <message-id> <n>    react with 1=😊 2=👍 3=❤️ or any symbol
  /open <conversation-id>    switch conversation
  /quit                      leave
Start a line with // to send text beginning with a slash.`

// parseInput interprets one line typed in the chat prompt.
func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)
	if strings.HasPrefix(line, "//") {
		return input{kind: inputSend, text: line[1:]}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return input{kind: inputSend, text: line}, nil
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/quit", "/q":
		return input{kind: inputQuit}, nil
	case "/help", "/?":
		return input{kind: inputHelp}, nil
	case "/open":
		if len(fields) != 2 {
			return input{}, errors.New("usage: /open <conversation-id>")
		}
		return input{kind: inputOpen, target: fields[1]}, nil
	case "/react":
		if len(fields) != 3 {
			return input{}, errors.New("usage: /react <message-id> <symbol|1-3>")
		}
		symbol, err := reactionSymbol(fields[2])
		if err != nil {
			return input{}, err
		}
		return input{kind: inputReact, messageID: fields[1], symbol: symbol}, nil
	case "/attach":
		if len(fields) < 2 {
			return input{}, errors.New("usage: /attach <file> [caption]")
		}
		return input{kind: inputAttach, path: fields[1], text: strings.Join(fields[2:], " ")}, nil
	}
	return input{}, fmt.Errorf("unknown command %s (try /help)", fields[0])
}

// reactionSymbol accepts a 1-based index into the default reactions or a
// literal symbol.
func reactionSymbol(s string) (string, error) {
	if n, err := strconv.Atoi(s); err == nil {
		if n < 1 || n > len(chatapp.DefaultReactions) {
			return "", fmt.Errorf("reaction index must be between 1 and %d", len(chatapp.DefaultReactions))
		}
		return chatapp.DefaultReactions[n-1], nil
	}
	return s, nil
}

func readLines(r io.Reader, out chan<- string) {
	defer close(out)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		out <- scanner.Text()
	}
}

var errQuit = errors.New("quit")

// chatSession is the part of the engine the prompt drives.
type chatSession interface {
	Open(ctx context.Context, id string) error
	Send(ctx context.Context, draft chatapp.Draft) (*chatapp.Message, error)
	React(ctx context.Context, messageID, symbol string) error
}

// chatLoop executes typed lines until /quit, end of input or ctx is done.
// Results show up through the engine's update events.
func chatLoop(ctx context.Context, s chatSession, p *printer, lines <-chan string) error {
	for {
		var line string
		select {
		case <-ctx.Done():
			return nil
		case l, ok := <-lines:
			if !ok {
				return errQuit
			}
			line = l
		}
		if strings.TrimSpace(line) == "" {
			continue
		}

		in, err := parseInput(line)
		if err != nil {
			p.notice("%v", err)
			continue
		}
		switch in.kind {
		case inputQuit:
			return errQuit
		case inputHelp:
			p.println(chatHelp)
		case inputOpen:
			if err := s.Open(ctx, in.target); err != nil {
				p.notice("could not load %s yet: %v", in.target, err)
			}
		case inputReact:
			if err := s.React(ctx, in.messageID, in.symbol); err != nil {
				p.notice("reaction not applied: %v", err)
			}
		case inputSend, inputAttach:
			draft := chatapp.Draft{Content: in.text}
			if in.kind == inputAttach {
				att, err := readAttachment(in.path)
				if err != nil {
					p.notice("cannot attach %s: %v", in.path, err)
					continue
				}
				draft.Attachment = att
			}
			if _, err := s.Send(ctx, draft); err != nil {
				p.notice("not sent: %v", err)
			}
		}
	}
}

// ============================================================================
// watch
// ============================================================================

var watchCmd = &cobra.Command{
	Use:   "watch <conversation-id>",
	Short: "Open a conversation and chat interactively",
	Long:  "Open a conversation, print new messages as they arrive, and send what you type.\nType /help for the list of commands.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, cfg, err := getClient()
		if err != nil {
			return err
		}
		opts, err := engineOptions(cfg)
		if err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		var reg *prometheus.Registry
		if watchMetricsAddr != "" {
			reg = prometheus.NewRegistry()
			opts.Metrics = chatapp.NewMetrics(reg)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		engine := chatapp.NewEngine(client, opts)
		defer engine.Close()

		p := newPrinter(os.Stdout, engine.Directory(), cfg.Auth.User, watchBacklog)
		engine.On(chatapp.EventConversationUpdated, func(_ string, payload any) {
			c, _ := payload.(*chatapp.Conversation)
			p.update(c)
		})
		engine.On(chatapp.EventSyncError, func(_ string, payload any) {
			if err, ok := payload.(error); ok {
				p.warn("%v", err)
			}
		})
		engine.On(chatapp.EventStaleDiscarded, func(_ string, payload any) {
			logger.Debug("stale response discarded", zap.Any("cursor", payload))
		})

		if err := engine.Start(ctx); err != nil {
			p.notice("initial fetch failed: %v", err)
		}
		if err := engine.Open(ctx, args[0]); err != nil {
			p.notice("could not load %s yet: %v", args[0], err)
		}

		g, gctx := errgroup.WithContext(ctx)
		if reg != nil {
			srv := &http.Server{
				Addr:              watchMetricsAddr,
				Handler:           promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("metrics server: %w", err)
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(sctx)
			})
		}

		lines := make(chan string)
		go readLines(os.Stdin, lines)
		g.Go(func() error { return chatLoop(gctx, engine, p, lines) })

		if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
			return err
		}
		return nil
	},
}

// ============================================================================
// send / react
// ============================================================================

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> [text]",
	Short: "Send one message",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		var text string
		if len(args) == 2 {
			text = args[1]
		}
		if strings.TrimSpace(text) == "" && sendAttach == "" {
			return chatapp.ErrEmptyDraft
		}

		ctx, cancel := commandContext()
		defer cancel()

		var media string
		if sendAttach != "" {
			att, err := readAttachment(sendAttach)
			if err != nil {
				return err
			}
			res, err := client.UploadMedia(ctx, att)
			if err != nil {
				return fmt.Errorf("upload failed: %w", err)
			}
			media = res.URL
		}

		msg, err := client.SendMessage(ctx, args[0], text, media)
		if err != nil {
			return fmt.Errorf("send failed: %w", err)
		}
		if sendJSON {
			return printJSON(msg)
		}
		fmt.Printf("Sent %s\n", msg.ID)
		return nil
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <conversation-id> <message-id> <symbol|1-3>",
	Short: "React to a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, _, err := getClient()
		if err != nil {
			return err
		}
		symbol, err := reactionSymbol(args[2])
		if err != nil {
			return err
		}
		ctx, cancel := commandContext()
		defer cancel()

		if err := client.AddReaction(ctx, args[0], args[1], symbol); err != nil {
			return fmt.Errorf("reaction failed: %w", err)
		}
		fmt.Printf("Reacted %s to %s\n", symbol, args[1])
		return nil
	},
}
