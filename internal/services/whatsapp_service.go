package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/pixaccess/internal/utils"
)

// ErrNotifierDisabled is returned when WhatsApp credentials are not configured.
var ErrNotifierDisabled = errors.New("whatsapp notifier not configured")

// WhatsAppConfig holds Cloud API settings.
type WhatsAppConfig struct {
	BaseURL       string
	APIVersion    string
	PhoneNumberID string
	Token         string
	TemplateName  string
	TemplateLang  string
	Timeout       time.Duration
}

// WhatsAppService sends customer-facing messages through the WhatsApp Cloud API.
type WhatsAppService struct {
	cfg    WhatsAppConfig
	client *http.Client
	log    zerolog.Logger
}

// NewWhatsAppService creates a new WhatsAppService.
func NewWhatsAppService(cfg WhatsAppConfig, log zerolog.Logger) *WhatsAppService {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://graph.facebook.com"
	}
	if cfg.TemplateLang == "" {
		cfg.TemplateLang = "pt_BR"
	}
	return &WhatsAppService{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "whatsapp").Logger(),
	}
}

// AccessMessage is the content of a post-payment notification.
type AccessMessage struct {
	Link  string
	Token string
}

// Text renders the plain-text body.
func (m AccessMessage) Text() string {
	return fmt.Sprintf("✅ Pagamento aprovado!\n\nAcesse seu conteúdo aqui:\n%s\n\nToken: %s", m.Link, m.Token)
}

type whatsappText struct {
	PreviewURL bool   `json:"preview_url"`
	Body       string `json:"body"`
}

type whatsappTemplateParam struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type whatsappTemplateComponent struct {
	Type       string                  `json:"type"`
	Parameters []whatsappTemplateParam `json:"parameters"`
}

type whatsappTemplate struct {
	Name       string                      `json:"name"`
	Language   map[string]string           `json:"language"`
	Components []whatsappTemplateComponent `json:"components"`
}

type whatsappMessage struct {
	MessagingProduct string            `json:"messaging_product"`
	To               string            `json:"to"`
	Type             string            `json:"type"`
	Text             *whatsappText     `json:"text,omitempty"`
	Template         *whatsappTemplate `json:"template,omitempty"`
}

// Send delivers the access message to a phone. A configured template takes
// precedence over free text, since proactive sends usually require one.
func (s *WhatsAppService) Send(ctx context.Context, phone string, msg AccessMessage) error {
	if s.cfg.Token == "" || s.cfg.PhoneNumberID == "" {
		s.log.Warn().Msg("whatsapp credentials not configured")
		return ErrNotifierDisabled
	}

	payload := whatsappMessage{
		MessagingProduct: "whatsapp",
		To:               phone,
	}
	if s.cfg.TemplateName != "" {
		payload.Type = "template"
		payload.Template = &whatsappTemplate{
			Name:     s.cfg.TemplateName,
			Language: map[string]string{"code": s.cfg.TemplateLang},
			Components: []whatsappTemplateComponent{{
				Type: "body",
				Parameters: []whatsappTemplateParam{
					{Type: "text", Text: msg.Link},
					{Type: "text", Text: msg.Token},
				},
			}},
		}
	} else {
		payload.Type = "text"
		payload.Text = &whatsappText{PreviewURL: true, Body: msg.Text()}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	endpoint := fmt.Sprintf("%s/%s/%s/messages",
		strings.TrimRight(s.cfg.BaseURL, "/"),
		url.PathEscape(s.cfg.APIVersion),
		url.PathEscape(s.cfg.PhoneNumberID),
	)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp request build: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.cfg.Token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		s.log.Error().Err(err).Str("to", utils.MaskPhone(phone)).Msg("failed to send message")
		return fmt.Errorf("whatsapp request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		s.log.Error().
			Int("status", resp.StatusCode).
			Str("to", utils.MaskPhone(phone)).
			Msg("unexpected whatsapp status")
		return fmt.Errorf("whatsapp returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// SelfShareLink builds a wa.me link the buyer can open to message the access
// link to themselves.
func SelfShareLink(phone string, msg AccessMessage) string {
	return "https://wa.me/" + phone + "?text=" + strings.ReplaceAll(url.QueryEscape(msg.Text()), "+", "%20")
}
