// Package quote validates bridge quote requests and fetches aggregator quotes for the ones that
// pass.
package quote

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/bridgeerr"
	"github.com/Cogwheel-Validator/spectra-aptos-bridge/bridge/models"
)

var log zerolog.Logger

func init() {
	out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log = zerolog.New(out).With().Timestamp().Str("component", "quote").Logger()
}

// Client fetches raw quotes from the aggregator.
type Client interface {
	GetQuotes(ctx context.Context, req models.BridgeQuoteRequest) ([]models.StargateQuote, error)
}

// Service validates requests before asking the aggregator for quotes.
type Service struct {
	validator *Validator
	client    Client
}

// NewService creates a quote service.
func NewService(catalog Catalog, client Client) *Service {
	return &Service{
		validator: NewValidator(catalog),
		client:    client,
	}
}

// Quotes validates req and returns every candidate quote, usable or not. The aggregator is not
// called when validation fails.
func (s *Service) Quotes(ctx context.Context, req models.BridgeQuoteRequest) ([]models.StargateQuote, error) {
	if err := s.validator.Validate(ctx, req); err != nil {
		log.Info().
			Str("src", req.SrcChainKey).
			Str("dst", req.DstChainKey).
			Err(err).
			Msg("Quote request rejected")
		return nil, bridgeerr.Classify(err)
	}

	quotes, err := s.client.GetQuotes(ctx, req)
	if err != nil {
		log.Error().Err(err).Msg("Failed to fetch quotes")
		return nil, bridgeerr.Classify(err)
	}
	return quotes, nil
}

// GetBridgeQuote returns the first quote the aggregator built without an error.
func (s *Service) GetBridgeQuote(ctx context.Context, req models.BridgeQuoteRequest) (models.StargateQuote, error) {
	quotes, err := s.Quotes(ctx, req)
	if err != nil {
		return models.StargateQuote{}, err
	}

	for _, q := range quotes {
		if q.Usable() {
			log.Info().
				Str("src", req.SrcChainKey).
				Str("dst", req.DstChainKey).
				Str("route", q.Route).
				Int("steps", len(q.Steps)).
				Msg("Quote selected")
			return q, nil
		}
	}

	if len(quotes) > 0 && quotes[0].Error != nil {
		return models.StargateQuote{}, bridgeerr.Newf(bridgeerr.UnsupportedRoute, "no route available: %s", quotes[0].Error.Message)
	}
	return models.StargateQuote{}, bridgeerr.New(bridgeerr.UnsupportedRoute, "no route available")
}
