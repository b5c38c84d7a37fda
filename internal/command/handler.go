package command

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"ema-price-alerts/internal/alerting"
)

const (
	headerSignature = "X-Slack-Signature"
	headerTimestamp = "X-Slack-Request-Timestamp"
	formContentType = "application/x-www-form-urlencoded"

	maxBodyBytes = 64 << 10
)

// Options configure the slash-command handler.
type Options struct {
	Path          string
	SigningSecret string
	ReplayWindow  time.Duration
	MaxDays       int
	DefaultDays   []int
	// ReportTimeout bounds building and posting one report.
	ReportTimeout time.Duration
	Now           func() time.Time
}

// Handler serves slash-command requests. It acknowledges immediately and
// posts the report to the request's response_url from a goroutine.
type Handler struct {
	opts     Options
	reporter Reporter
	client   *http.Client
	logger   zerolog.Logger
	inflight sync.WaitGroup
}

// NewHandler constructs a Handler.
func NewHandler(opts Options, reporter Reporter, logger zerolog.Logger) *Handler {
	if opts.Path == "" {
		opts.Path = "/slack/crypto"
	}
	if opts.ReplayWindow <= 0 {
		opts.ReplayWindow = 5 * time.Minute
	}
	if opts.MaxDays <= 0 {
		opts.MaxDays = 10
	}
	if len(opts.DefaultDays) == 0 {
		opts.DefaultDays = []int{7, 28}
	}
	if opts.ReportTimeout <= 0 {
		opts.ReportTimeout = 30 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Handler{
		opts:     opts,
		reporter: reporter,
		client:   &http.Client{Timeout: opts.ReportTimeout},
		logger:   logger.With().Str("component", "command_handler").Logger(),
	}
}

// Wait blocks until every in-flight report has been posted.
func (h *Handler) Wait() {
	h.inflight.Wait()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Msg("incoming request")

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	if r.URL.Path != h.opts.Path {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !h.headersPresent(r) {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	if err := Verify(h.opts.SigningSecret, r.Header.Get(headerTimestamp), r.Header.Get(headerSignature), body, h.opts.ReplayWindow, h.opts.Now()); err != nil {
		h.logger.Info().Err(err).Msg("rejected request signature")
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	text := form.Get("text")
	h.logger.Debug().
		Str("user", form.Get("user_name")).
		Str("channel", form.Get("channel_name")).
		Str("command", form.Get("command")+" "+text).
		Msg("request info")

	if IsHelp(text) {
		respond(w, HelpText())
		return
	}

	req, err := ParseArgs(text, h.opts.DefaultDays)
	if err != nil {
		var perr *ParseError
		if errors.As(err, &perr) {
			h.logger.Warn().Err(err).Msg("parse error")
			respond(w, "Parse error: "+perr.Error())
			return
		}
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	if len(req.Days) > h.opts.MaxDays {
		respond(w, fmt.Sprintf("Max number of days to request is %d", h.opts.MaxDays))
		return
	}

	responseURL := form.Get("response_url")
	if responseURL == "" {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	ack := ""
	if len(req.Days) > 2 {
		ack = fmt.Sprintf("Retrieving data for %d days, this may take a few seconds", len(req.Days))
	}
	respond(w, ack)

	requestID := uuid.NewString()
	h.inflight.Add(1)
	go func() {
		defer h.inflight.Done()
		h.postReport(requestID, responseURL, form.Get("user_name"), req)
	}()
}

func (h *Handler) headersPresent(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != formContentType {
		h.logger.Info().Str("content_type", r.Header.Get("Content-Type")).Msg("unexpected content type")
		return false
	}
	for _, name := range []string{headerSignature, headerTimestamp} {
		if strings.TrimSpace(r.Header.Get(name)) == "" {
			h.logger.Info().Str("header", name).Msg("missing required header")
			return false
		}
	}
	return true
}

func (h *Handler) postReport(requestID, responseURL, user string, req Request) {
	logger := h.logger.With().Str("request_id", requestID).Str("product", req.Pair.Product()).Ints("days", req.Days).Logger()
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.ReportTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("report goroutine panicked")
		}
	}()

	attachments, err := h.reporter.Report(ctx, req)
	if err != nil {
		logger.Error().Err(err).Msg("failed to build price report")
		msg := alerting.SlackMessage{Text: "Error retrieving data, please try again later", ResponseType: "ephemeral"}
		if err := alerting.PostSlack(ctx, h.client, responseURL, msg); err != nil {
			logger.Error().Err(err).Msg("failed to post error response")
		}
		return
	}

	msg := alerting.SlackMessage{
		Text:         fmt.Sprintf("%s requested a price report", user),
		Attachments:  attachments,
		ResponseType: "in_channel",
	}
	if err := alerting.PostSlack(ctx, h.client, responseURL, msg); err != nil {
		logger.Error().Err(err).Msg("failed to post price report")
		return
	}
	logger.Info().Int("attachments", len(attachments)).Msg("price report posted")
}

func respond(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if text != "" {
		_, _ = io.WriteString(w, text)
	}
}
