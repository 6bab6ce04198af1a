// Package bot turns chat updates into Open Library searches and replies.
//
// Every entry point is stateless and never returns an error: failures end in
// a log record and, for searches, a short fixed reply.
package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/google/uuid"

	"bookbot/internal/openlibrary"
	kit "bookbot/internal/transport"
	logx "bookbot/pkg/logx"
)

// Searcher runs one book search.
type Searcher interface {
	Search(ctx context.Context, query string) (*openlibrary.Result, error)
}

type Handler struct {
	search     Searcher
	out        kit.Sender
	log        logx.Logger
	maxResults int
}

type Option func(*Handler)

// WithMaxResults caps how many docs a reply lists (default 5).
func WithMaxResults(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxResults = n
		}
	}
}

func New(search Searcher, out kit.Sender, log logx.Logger, opts ...Option) *Handler {
	if log.IsZero() {
		log = logx.Nop()
	}
	h := &Handler{
		search:     search,
		out:        out,
		log:        log,
		maxResults: openlibrary.DefaultMaxDocs,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Handle dispatches one update to its entry point.
func (h *Handler) Handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateStart:
		h.OnStart(ctx, up.Message)
	case kit.UpdateMessage:
		h.OnSearch(ctx, up.Message)
	case kit.UpdateError:
		h.OnError(ctx, up, up.Err)
	default:
		h.log.Debug("ignoring update", logx.String("kind", string(up.Kind)))
	}
}

func (h *Handler) requestLog() logx.Logger {
	return h.log.With(logx.String("req_id", uuid.NewString()))
}

// OnStart greets the user.
func (h *Handler) OnStart(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	log := h.requestLog()
	log.Info(fmt.Sprintf("User: %d executed command: /start", msg.FromID), logx.Int64("user_id", msg.FromID))
	h.reply(ctx, log, msg, GreetingText)
}

// OnSearch answers a text message with the top search results.
func (h *Handler) OnSearch(ctx context.Context, msg *kit.Message) {
	if msg == nil {
		return
	}
	log := h.requestLog()

	query := msg.Text
	if len(msg.Args) > 0 {
		query = strings.Join(msg.Args, " ")
	}
	query = strings.TrimSpace(query)
	if query == "" {
		log.Info("Empty search query", logx.Int64("user_id", msg.FromID))
		h.reply(ctx, log, msg, GreetingText)
		return
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error(fmt.Sprintf("Exception occurred while processing query '%s': %v", query, r),
				logx.String("query", query), logx.String("stack", string(debug.Stack())))
			h.reply(ctx, log, msg, GenericFailedText)
		}
	}()

	log.Info(fmt.Sprintf("Received search query: '%s' from user: %d", query, msg.FromID),
		logx.String("query", query), logx.Int64("user_id", msg.FromID))

	h.reply(ctx, log, msg, h.searchReply(ctx, log, query))
}

func (h *Handler) searchReply(ctx context.Context, log logx.Logger, query string) string {
	res, err := h.search.Search(ctx, query)
	if err != nil {
		var se *openlibrary.StatusError
		if errors.As(err, &se) {
			log.Error(fmt.Sprintf("Error fetching data from Open Library for query '%s'. HTTP Status: %d", query, se.Code),
				logx.String("query", query), logx.Int("status", se.Code))
			return FetchProblemText
		}
		log.Error(fmt.Sprintf("Exception occurred while processing query '%s': %v", query, err),
			logx.String("query", query), logx.Err(err))
		return GenericFailedText
	}

	log.Info(fmt.Sprintf("Query '%s' processed. Number of results: %d.", query, res.NumFound),
		logx.String("query", query), logx.Int("num_found", res.NumFound))

	if res.NumFound <= 0 || len(res.Docs) == 0 {
		return NoBooksText
	}
	return formatResults(res, h.maxResults)
}

// OnError records a failure reported by the chat platform. It never replies.
func (h *Handler) OnError(_ context.Context, up kit.Update, err error) {
	h.requestLog().Warn(fmt.Sprintf("Update '%s' caused error '%v'", describeUpdate(up), err), logx.Err(err))
}

func (h *Handler) reply(ctx context.Context, log logx.Logger, msg *kit.Message, text string) {
	if h.out == nil {
		return
	}
	if _, err := h.out.SendText(ctx, msg.Target(), text, &kit.SendOptions{DisablePreview: true}); err != nil {
		log.Error("Failed to send reply", logx.Int64("chat_id", msg.ChatID), logx.Err(err))
	}
}

func describeUpdate(up kit.Update) string {
	if up.Message == nil {
		return string(up.Kind)
	}
	m := up.Message
	return fmt.Sprintf("%s chat=%d from=%d msg=%d text=%q", up.Kind, m.ChatID, m.FromID, m.ID, m.Text)
}
