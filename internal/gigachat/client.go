package gigachat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/avasiliev/invoice-auditor/internal/common"
	"github.com/avasiliev/invoice-auditor/internal/invoice"
)

type Config struct {
	URL         string        // default production chat/completions endpoint
	Model       string        // default "GigaChat"
	Temperature float32       // default 0.1
	MaxTokens   int           // default 1024
	Timeout     time.Duration // per completion call, default 60s
	MaxAttempts int           // default 3
}

// Recoverer turns a raw model reply into a best-effort record.
type Recoverer interface {
	Recover(raw string) invoice.Fields
}

// Client submits the extraction prompt and drives the bounded retry loop:
// credential refresh on 401, linear backoff on timeout, a flat delay on other
// transport failures.
type Client struct {
	cfg    Config
	auth   *AuthClient
	http   *http.Client
	parser Recoverer
	log    *slog.Logger
	sleep  func(time.Duration)
}

func NewClient(cfg Config, auth *AuthClient, parser Recoverer, logger *slog.Logger) *Client {
	if cfg.URL == "" {
		cfg.URL = "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"
	}
	if cfg.Model == "" {
		cfg.Model = "GigaChat"
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.1
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 1024
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		auth:   auth,
		http:   &http.Client{Timeout: cfg.Timeout},
		parser: parser,
		log:    logger,
		sleep:  time.Sleep,
	}
}

type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeAuthExpired
	outcomeTimeout
	outcomeFailure
)

type retryAction int

const (
	actionReturn retryAction = iota
	actionRetryNow
	actionRetryAfter
	actionFail
)

// decide maps an attempt outcome onto the retry schedule. Credential expiry
// retries immediately and never advances the timeout backoff; timeouts back
// off linearly by how many timeouts have occurred so far (1s, then 2s); any
// other failure waits a flat second unless this was the last attempt.
func decide(outcome attemptOutcome, attempt, timeouts, maxAttempts int) (retryAction, time.Duration) {
	switch outcome {
	case outcomeSuccess:
		return actionReturn, 0
	case outcomeAuthExpired:
		if attempt >= maxAttempts {
			return actionFail, 0
		}
		return actionRetryNow, 0
	case outcomeTimeout:
		if attempt >= maxAttempts {
			return actionFail, 0
		}
		return actionRetryAfter, time.Duration(timeouts) * time.Second
	default:
		if attempt >= maxAttempts {
			return actionFail, 0
		}
		return actionRetryAfter, time.Second
	}
}

type attemptResult struct {
	outcome attemptOutcome
	fields  invoice.Fields
	reply   string // raw model reply, set only when a reply was decoded
	err     error
}

// Audit submits the normalized source text and returns the recovered record,
// or a diagnostic record when the final reply yielded nothing recoverable.
func (c *Client) Audit(ctx context.Context, text string) (invoice.Result, error) {
	rid := uuid.New().String()
	prompt := BuildPrompt(text)

	c.log.Info("gigachat.audit.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(text),
		"prompt_len", len(prompt),
	)

	timeouts := 0
	var last attemptResult
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		last = c.attempt(ctx, rid, attempt, prompt)

		if last.err != nil && errors.Is(last.err, common.ErrAuth) {
			// the exchange itself was rejected: a configuration problem,
			// not worth retrying
			return invoice.Result{}, last.err
		}

		switch last.outcome {
		case outcomeAuthExpired:
			c.auth.Invalidate()
		case outcomeTimeout:
			timeouts++
		}

		action, delay := decide(last.outcome, attempt, timeouts, c.cfg.MaxAttempts)
		switch action {
		case actionReturn:
			return invoice.Result{Fields: &last.fields}, nil
		case actionRetryNow:
			c.log.Warn("gigachat.audit.retry", "req_id", rid, "attempt", attempt, "reason", "credential expired")
		case actionRetryAfter:
			c.log.Warn("gigachat.audit.retry", "req_id", rid, "attempt", attempt,
				"delay_ms", delay.Milliseconds(), "error", last.err)
			c.sleep(delay)
		case actionFail:
			return c.exhausted(rid, text, last)
		}
	}
	return c.exhausted(rid, text, last)
}

// exhausted closes out the retry loop: a reply that defeated every recovery
// tier degrades to a diagnostic record, everything else is a hard failure.
func (c *Client) exhausted(rid, text string, last attemptResult) (invoice.Result, error) {
	if last.reply != "" {
		c.log.Error("gigachat.audit.unrecoverable_reply", "req_id", rid, "reply_len", len(last.reply))
		return invoice.Result{Diagnostic: &invoice.Diagnostic{
			Error:         "JSON parse failed",
			RawResponse:   last.reply,
			ExtractedText: headRunes(text, 1000),
		}}, nil
	}
	c.log.Error("gigachat.audit.exhausted", "req_id", rid, "attempts", c.cfg.MaxAttempts, "error", last.err)
	return invoice.Result{}, common.NewAppError("COMPLETION_EXHAUSTED",
		fmt.Sprintf("no result after %d attempts", c.cfg.MaxAttempts),
		errors.Join(common.ErrExhausted, last.err))
}

func (c *Client) attempt(ctx context.Context, rid string, attempt int, prompt string) attemptResult {
	start := time.Now()

	token, err := c.auth.Token(ctx)
	if err != nil {
		return attemptResult{outcome: outcomeFailure, err: err}
	}

	body := map[string]any{
		"model":       c.cfg.Model,
		"messages":    []map[string]any{{"role": "user", "content": prompt}},
		"temperature": c.cfg.Temperature,
		"max_tokens":  c.cfg.MaxTokens,
	}
	raw, status, err := c.post(ctx, token, body)
	elapsed := time.Since(start).Milliseconds()

	switch {
	case err != nil && isTimeout(err):
		c.log.Warn("gigachat.http.timeout", "req_id", rid, "attempt", attempt, "elapsed_ms", elapsed)
		return attemptResult{outcome: outcomeTimeout, err: fmt.Errorf("%w: %w", common.ErrTimeout, err)}
	case err != nil && status == 0:
		c.log.Error("gigachat.http.send_error", "req_id", rid, "attempt", attempt, "error", err, "elapsed_ms", elapsed)
		return attemptResult{outcome: outcomeFailure, err: fmt.Errorf("%w: %w", common.ErrTransport, err)}
	case status == http.StatusUnauthorized:
		c.log.Warn("gigachat.http.unauthorized", "req_id", rid, "attempt", attempt, "elapsed_ms", elapsed)
		return attemptResult{outcome: outcomeAuthExpired, err: err}
	case status/100 != 2:
		c.log.Error("gigachat.http.status_error", "req_id", rid, "attempt", attempt,
			"status", status, "body", truncate(string(raw), 500), "elapsed_ms", elapsed)
		return attemptResult{outcome: outcomeFailure,
			err: fmt.Errorf("%w: status %d", common.ErrTransport, status)}
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("gigachat.reply.decode_error", "req_id", rid, "attempt", attempt, "error", err)
		return attemptResult{outcome: outcomeFailure, err: fmt.Errorf("decode completion response: %w", err)}
	}
	if len(cc.Choices) == 0 {
		c.log.Error("gigachat.reply.no_choices", "req_id", rid, "attempt", attempt, "raw_bytes", len(raw))
		return attemptResult{outcome: outcomeFailure, err: fmt.Errorf("no choices in completion response")}
	}
	content := cc.Choices[0].Message.Content

	c.log.Info("gigachat.reply.received", "req_id", rid, "attempt", attempt,
		"reply_len", len(content), "elapsed_ms", elapsed)

	if err := invoice.CheckReplyShape([]byte(content)); err != nil {
		c.log.Warn("gigachat.reply.schema_mismatch", "req_id", rid, "error", err)
	}

	fields := c.parser.Recover(content)
	if fields.Empty() {
		// all tiers came up empty: a non-answer, retried like any failure
		c.log.Warn("gigachat.reply.empty_record", "req_id", rid, "attempt", attempt)
		return attemptResult{outcome: outcomeFailure, reply: content,
			err: fmt.Errorf("reply yielded no recoverable fields")}
	}
	return attemptResult{outcome: outcomeSuccess, fields: fields, reply: content}
}

func (c *Client) post(ctx context.Context, token string, body map[string]any) ([]byte, int, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, 0, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(b))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer func(body io.ReadCloser) {
		if cerr := body.Close(); cerr != nil {
			c.log.Warn("gigachat.http.body_close_error", "error", cerr)
		}
	}(resp.Body)

	raw, _ := io.ReadAll(resp.Body)
	return raw, resp.StatusCode, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func headRunes(s string, n int) string {
	if runes := []rune(s); len(runes) > n {
		return string(runes[:n])
	}
	return s
}
