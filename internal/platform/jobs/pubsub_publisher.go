package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/pv-frame/api/internal/services"
)

// QuoteIssuedMessage is the payload announced when a quote is issued.
type QuoteIssuedMessage struct {
	QuoteID      string    `json:"quoteId"`
	SessionID    string    `json:"sessionId"`
	SKU          string    `json:"sku"`
	Currency     string    `json:"currency"`
	Total        int64     `json:"total"`
	DisplayTotal string    `json:"displayTotal"`
	Material     string    `json:"material"`
	Glass        string    `json:"glass"`
	WidthCm      float64   `json:"widthCm"`
	HeightCm     float64   `json:"heightCm"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// PubSubQuotePublisher publishes quote events to a Pub/Sub topic.
type PubSubQuotePublisher struct {
	topic   *pubsub.Topic
	marshal func(any) ([]byte, error)
}

var _ services.QuoteEventPublisher = (*PubSubQuotePublisher)(nil)

// NewPubSubQuotePublisher constructs a Pub/Sub backed quote publisher.
func NewPubSubQuotePublisher(topic *pubsub.Topic) (*PubSubQuotePublisher, error) {
	if topic == nil {
		return nil, errors.New("pubsub quote publisher: topic is required")
	}
	return &PubSubQuotePublisher{topic: topic, marshal: json.Marshal}, nil
}

// PublishQuoteIssued sends the quote event and waits for the server acknowledgement.
func (p *PubSubQuotePublisher) PublishQuoteIssued(ctx context.Context, quote services.Quote) error {
	if p == nil || p.topic == nil {
		return errors.New("pubsub quote publisher: not initialised")
	}

	cfg := quote.Configuration
	data, err := p.marshal(QuoteIssuedMessage{
		QuoteID:      quote.ID,
		SessionID:    quote.SessionID,
		SKU:          quote.SKU,
		Currency:     quote.Currency,
		Total:        quote.Total,
		DisplayTotal: quote.DisplayTotal,
		Material:     cfg.Material,
		Glass:        cfg.Glass,
		WidthCm:      cfg.Size.WidthCm,
		HeightCm:     cfg.Size.HeightCm,
		IssuedAt:     quote.CreatedAt.UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal quote event: %w", err)
	}

	attrs := map[string]string{"event": "quote.issued"}
	setAttr(attrs, "quoteId", quote.ID)
	setAttr(attrs, "sessionId", quote.SessionID)
	setAttr(attrs, "sku", quote.SKU)

	result := p.topic.Publish(ctx, &pubsub.Message{Data: data, Attributes: attrs})
	if _, err := result.Get(ctx); err != nil {
		return fmt.Errorf("publish quote event: %w", err)
	}
	return nil
}

func setAttr(attrs map[string]string, key string, value string) {
	if v := strings.TrimSpace(value); v != "" {
		attrs[key] = v
	}
}
