package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/example/pixaccess/internal/metrics"
	"github.com/example/pixaccess/internal/models"
	"github.com/example/pixaccess/internal/utils"
)

// Outcome is the result of reconciling one webhook event.
type Outcome string

const (
	OutcomeIgnored            Outcome = "ignored"
	OutcomeGatewayUnavailable Outcome = "gateway_unavailable"
	OutcomeMissingToken       Outcome = "missing_token"
	OutcomeUnknownPurchase    Outcome = "unknown_purchase"
	OutcomePaymentMismatch    Outcome = "payment_mismatch"
	OutcomeLateApproval       Outcome = "late_approval"
	OutcomeStoreError         Outcome = "store_error"
	OutcomePending            Outcome = "pending"
	OutcomeFailed             Outcome = "failed"
	OutcomePaid               Outcome = "paid"
	OutcomeDelivered          Outcome = "delivered"
	OutcomeNotifyFailed       Outcome = "notify_failed"
)

// WebhookEvent is a normalized payment notification. Only the payment id is
// trusted, and only as a hint of which payment to re-fetch.
type WebhookEvent struct {
	PaymentID string
	Type      string
}

type webhookBody struct {
	ID    json.RawMessage `json:"id"`
	Type  json.RawMessage `json:"type"`
	Topic json.RawMessage `json:"topic"`
	Data  json.RawMessage `json:"data"`
}

// ParseWebhookEvent reads the payment id from either `{data:{id}}` or `{id}`,
// falling back to the `data.id` and `id` query parameters. The id may be a
// JSON string or number. An event without an id parses fine and is ignored later.
func ParseWebhookEvent(body []byte, query url.Values) (WebhookEvent, error) {
	var ev WebhookEvent

	if trimmed := bytes.TrimSpace(body); len(trimmed) > 0 {
		if !json.Valid(trimmed) {
			return ev, ErrMalformedEvent
		}
		var parsed webhookBody
		// Fields are decoded one by one so an odd shape in one does not hide the others.
		if err := json.Unmarshal(trimmed, &parsed); err == nil {
			var data struct {
				ID json.RawMessage `json:"id"`
			}
			if len(parsed.Data) > 0 && json.Unmarshal(parsed.Data, &data) == nil {
				ev.PaymentID = decodeID(data.ID)
			}
			if ev.PaymentID == "" {
				ev.PaymentID = decodeID(parsed.ID)
			}
			ev.Type = firstNonEmpty(decodeString(parsed.Type), decodeString(parsed.Topic))
		}
	}

	if ev.PaymentID == "" && query != nil {
		ev.PaymentID = strings.TrimSpace(firstNonEmpty(query.Get("data.id"), query.Get("id")))
	}
	if ev.Type == "" && query != nil {
		ev.Type = firstNonEmpty(query.Get("type"), query.Get("topic"))
	}
	return ev, nil
}

func decodeID(raw json.RawMessage) string {
	var id flexibleID
	if len(raw) == 0 || json.Unmarshal(raw, &id) != nil {
		return ""
	}
	return string(id)
}

func decodeString(raw json.RawMessage) string {
	var s string
	if len(raw) == 0 || json.Unmarshal(raw, &s) != nil {
		return ""
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// Notifier delivers the access message to the buyer.
type Notifier interface {
	Send(ctx context.Context, phone string, msg AccessMessage) error
}

type paymentFetcher interface {
	FetchPayment(ctx context.Context, paymentID string) (*GatewayPayment, error)
}

type purchaseLifecycle interface {
	Status(ctx context.Context, token string) (*models.Purchase, error)
	MarkPaid(ctx context.Context, token, gatewayPaymentID string) (*models.Purchase, error)
	MarkFailed(ctx context.Context, token string) (bool, error)
	MarkDelivered(ctx context.Context, token string) (*DeliveryClaim, error)
	ReleaseDelivery(ctx context.Context, claim *DeliveryClaim) error
}

// Reconciler turns at-least-once payment webhooks into exactly one paid
// transition and at most one notification per purchase.
type Reconciler struct {
	lifecycle purchaseLifecycle
	gateway   paymentFetcher
	notifier  Notifier
	baseURL   string
	metrics   *metrics.Recorder
	log       zerolog.Logger
}

// NewReconciler creates a new Reconciler. publicBaseURL is used to build access links.
func NewReconciler(lifecycle purchaseLifecycle, gateway paymentFetcher, notifier Notifier, publicBaseURL string, rec *metrics.Recorder, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		lifecycle: lifecycle,
		gateway:   gateway,
		notifier:  notifier,
		baseURL:   strings.TrimRight(publicBaseURL, "/"),
		metrics:   rec,
		log:       log.With().Str("component", "reconciler").Logger(),
	}
}

// HandleEvent reconciles one event. It never fails: every problem is logged,
// counted and folded into the returned outcome so the webhook is always acknowledged.
func (r *Reconciler) HandleEvent(ctx context.Context, ev WebhookEvent) Outcome {
	outcome := r.handle(ctx, ev)
	r.metrics.WebhookHandled(string(outcome))
	return outcome
}

func (r *Reconciler) handle(ctx context.Context, ev WebhookEvent) Outcome {
	if ev.PaymentID == "" {
		r.log.Debug().Str("type", ev.Type).Msg("webhook without payment id")
		return OutcomeIgnored
	}
	log := r.log.With().Str("payment_id", ev.PaymentID).Logger()

	payment, err := r.gateway.FetchPayment(ctx, ev.PaymentID)
	if err != nil {
		log.Error().Err(err).Msg("fetch payment failed")
		return OutcomeGatewayUnavailable
	}

	token := payment.Metadata.Token
	log.Info().Str("status", payment.Status).Bool("has_token", token != "").Msg("payment fetched")

	approved := payment.Status == PaymentStatusApproved
	switch payment.Status {
	case PaymentStatusApproved, PaymentStatusRejected, PaymentStatusCancelled:
	default:
		return OutcomePending
	}

	if token == "" {
		log.Warn().Msg("settled payment without purchase token")
		return OutcomeMissingToken
	}
	log = log.With().Str("token", token).Logger()

	current, err := r.lifecycle.Status(ctx, token)
	if err != nil {
		return r.storeOutcome(log, err)
	}
	paymentID := payment.ID
	if paymentID == "" {
		paymentID = ev.PaymentID
	}
	// Only the payment bound to the purchase may settle it, either way.
	if current.GatewayPaymentID != "" && current.GatewayPaymentID != paymentID {
		log.Warn().Str("bound_payment_id", current.GatewayPaymentID).Str("status", payment.Status).Msg("payment does not belong to purchase")
		return OutcomePaymentMismatch
	}

	if !approved {
		if _, err := r.lifecycle.MarkFailed(ctx, token); err != nil {
			return r.storeOutcome(log, err)
		}
		return OutcomeFailed
	}

	purchase, err := r.lifecycle.MarkPaid(ctx, token, paymentID)
	if err != nil {
		return r.storeOutcome(log, err)
	}

	if purchase.DeliveredAt != nil || purchase.Phone == "" {
		return OutcomePaid
	}
	return r.deliver(ctx, log, purchase)
}

func (r *Reconciler) deliver(ctx context.Context, log zerolog.Logger, purchase *models.Purchase) Outcome {
	claim, err := r.lifecycle.MarkDelivered(ctx, purchase.Token)
	if err != nil {
		return r.storeOutcome(log, err)
	}
	if claim == nil {
		// Another delivery won the latch.
		return OutcomePaid
	}

	msg := AccessMessage{Link: r.baseURL + "/a/" + purchase.Token, Token: purchase.Token}
	if err := r.notifier.Send(ctx, purchase.Phone, msg); err != nil {
		r.metrics.NotificationSent("error")
		log.Error().Err(err).Str("phone", utils.MaskPhone(purchase.Phone)).Msg("notification failed, releasing delivery latch")
		if relErr := r.lifecycle.ReleaseDelivery(context.WithoutCancel(ctx), claim); relErr != nil {
			log.Error().Err(relErr).Msg("release delivery latch failed")
		}
		return OutcomeNotifyFailed
	}

	r.metrics.NotificationSent("sent")
	log.Info().Str("phone", utils.MaskPhone(purchase.Phone)).Msg("access delivered")
	return OutcomeDelivered
}

func (r *Reconciler) storeOutcome(log zerolog.Logger, err error) Outcome {
	switch {
	case errors.Is(err, ErrPurchaseNotFound):
		log.Warn().Msg("payment references unknown purchase")
		return OutcomeUnknownPurchase
	case errors.Is(err, ErrInvalidTransition):
		log.Warn().Msg("approval for a purchase that already failed")
		return OutcomeLateApproval
	default:
		log.Error().Err(err).Msg("reconcile store error")
		return OutcomeStoreError
	}
}
