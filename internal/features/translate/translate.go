// Package translate mirrors incoming chat messages into a target language.
// Messages queue up as they arrive; a scheduled routine drains the queue in
// small batches and posts translations back to the chat.
package translate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"toybot/internal/config"
	"toybot/internal/eventbus"
	"toybot/internal/routine"
	"toybot/internal/transport"
	logx "toybot/pkg/logx"
)

const (
	defaultBatchMax     = 5
	defaultPollInterval = time.Second
	defaultTimeout      = 8 * time.Second
	maxQueued           = 256
)

// Client translates a single text. Split out so tests can stub the HTTP
// backend.
type Client interface {
	Translate(ctx context.Context, text string) (string, error)
}

type Service struct {
	sender transport.Adapter
	log    logx.Logger
	bus    eventbus.Bus

	mu      sync.Mutex
	queue   []transport.Message
	dropped uint64

	mgr     *routine.Manager
	client  Client
	target  transport.ChatTarget
	enabled bool
}

func New(sender transport.Adapter, bus eventbus.Bus, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		sender: sender,
		log:    log.With(logx.String("svc", "translate")),
		bus:    bus,
	}
	s.mgr = routine.NewManager(
		routine.WithManagerLogger(s.log),
		routine.WithManagerBus(bus),
	)
	return s
}

func (s *Service) Manager() *routine.Manager { return s.mgr }

// Apply reconfigures the service from cfg, replacing the drain routine.
func (s *Service) Apply(ctx context.Context, cfg *config.Config) error {
	tc := cfg.Translator

	pollEvery, err := config.ParseDurationOrDefault("translator.poll_interval", tc.PollInterval, defaultPollInterval)
	if err != nil {
		return err
	}
	timeout, err := config.ParseDurationOrDefault("translator.timeout", tc.Timeout, defaultTimeout)
	if err != nil {
		return err
	}
	batchMax := tc.BatchMax
	if batchMax <= 0 {
		batchMax = defaultBatchMax
	}

	s.mu.Lock()
	s.enabled = tc.Enabled
	s.target = transport.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID}
	// Keep a stubbed client if one was installed via SetClient.
	if _, stubbed := s.client.(*httpClient); s.client == nil || stubbed {
		s.client = newHTTPClient(tc, timeout)
	}
	s.mu.Unlock()

	s.mgr.Clear()
	if !tc.Enabled {
		s.log.Debug("translator disabled")
		return nil
	}

	r, err := s.mgr.New(func(ctx context.Context) error {
		s.drain(ctx, batchMax)
		return nil
	},
		routine.WithName("translate:drain"),
		routine.Every(pollEvery),
		routine.WaitFirst(true),
	)
	if err != nil {
		return err
	}
	if _, err := r.Start(ctx); err != nil {
		return err
	}
	s.log.Info("translator scheduled",
		logx.Duration("poll_interval", pollEvery), logx.Int("batch_max", batchMax))
	return nil
}

// SetClient overrides the translation backend. Call before Apply.
func (s *Service) SetClient(c Client) {
	s.mu.Lock()
	s.client = c
	s.mu.Unlock()
}

// HandleUpdate queues a chat message for translation. Commands and empty
// texts are ignored. When the queue is full the oldest message is dropped.
func (s *Service) HandleUpdate(up transport.Update) {
	m := up.Message
	if m == nil {
		return
	}
	text := strings.TrimSpace(m.Text)
	if text == "" || strings.HasPrefix(text, "/") {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.enabled {
		return
	}
	if len(s.queue) >= maxQueued {
		s.queue = s.queue[1:]
		s.dropped++
	}
	s.queue = append(s.queue, *m)
}

// QueueLen reports how many messages are waiting.
func (s *Service) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Service) drain(ctx context.Context, batchMax int) {
	s.mu.Lock()
	n := len(s.queue)
	if n > batchMax {
		n = batchMax
	}
	batch := append([]transport.Message(nil), s.queue[:n]...)
	s.queue = s.queue[n:]
	client := s.client
	target := s.target
	dropped := s.dropped
	s.dropped = 0
	s.mu.Unlock()

	if dropped > 0 {
		s.log.Warn("translation queue overflowed", logx.Int64("dropped", int64(dropped)))
	}

	for _, m := range batch {
		out, err := client.Translate(ctx, m.Text)
		if err != nil {
			s.log.Warn("translation failed", logx.Err(err), logx.String("from", m.FromUsername))
			continue
		}
		if strings.TrimSpace(out) == "" || out == m.Text {
			continue
		}
		text := fmt.Sprintf("%s: %s", m.FromUsername, out)
		if _, err := s.sender.SendText(ctx, target, text, nil); err != nil {
			s.log.Warn("translation post failed", logx.Err(err))
		}
	}
}

// Stop cancels the drain routine. Queued messages are kept.
func (s *Service) Stop() {
	s.mgr.Clear()
}

// httpClient talks to a LibreTranslate-compatible endpoint.
type httpClient struct {
	endpoint string
	apiKey   string
	target   string
	http     *http.Client
}

func newHTTPClient(tc config.TranslatorConfig, timeout time.Duration) *httpClient {
	target := tc.TargetLang
	if target == "" {
		target = "en"
	}
	return &httpClient{
		endpoint: strings.TrimRight(tc.Endpoint, "/"),
		apiKey:   tc.APIKey,
		target:   target,
		http:     &http.Client{Timeout: timeout},
	}
}

func (c *httpClient) Translate(ctx context.Context, text string) (string, error) {
	payload := struct {
		Q      string `json:"q"`
		Source string `json:"source"`
		Target string `json:"target"`
		APIKey string `json:"api_key,omitempty"`
	}{Q: text, Source: "auto", Target: c.target, APIKey: c.apiKey}

	b, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/translate", bytes.NewReader(b))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	var out struct {
		TranslatedText string `json:"translatedText"`
		Error          string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		if out.Error != "" {
			return "", fmt.Errorf("translate failed: %s (http=%d)", out.Error, resp.StatusCode)
		}
		return "", fmt.Errorf("translate failed: http=%d", resp.StatusCode)
	}
	return out.TranslatedText, nil
}
