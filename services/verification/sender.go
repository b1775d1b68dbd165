package verification

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"carelink/utils"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	lookupsv2 "github.com/twilio/twilio-go/rest/lookups/v2"
	twilioclient "github.com/twilio/twilio-go/client"
	"go.uber.org/zap"
)

// Sender delivers a verification message to a phone number.
type Sender interface {
	Send(ctx context.Context, phone, body string) error
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
	// Lookup enables a Lookups v2 fetch before each send.
	Lookup bool
}

// TwilioSender sends SMS through the Twilio Messages API.
type TwilioSender struct {
	client *twilio.RestClient
	from   string
	lookup bool
	logger *zap.Logger
}

func NewTwilioSender(cfg TwilioConfig, logger *zap.Logger) *TwilioSender {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return &TwilioSender{client: client, from: cfg.FromNumber, lookup: cfg.Lookup, logger: logger}
}

func (s *TwilioSender) Send(ctx context.Context, phone, body string) error {
	if s.lookup {
		if _, err := s.client.LookupsV2.FetchPhoneNumber(phone, &lookupsv2.FetchPhoneNumberParams{}); err != nil {
			var restErr *twilioclient.TwilioRestError
			if errors.As(err, &restErr) && restErr.Status == http.StatusNotFound {
				return fmt.Errorf("%w: lookup found no such number", utils.ErrInvalidPhoneNumber)
			}
			return mapTwilioError(err)
		}
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(phone)
	params.SetFrom(s.from)
	params.SetBody(body)

	if _, err := s.client.Api.CreateMessage(params); err != nil {
		s.logger.Error("failed to send verification SMS via Twilio", zap.String("phone", phone), zap.Error(err))
		return mapTwilioError(err)
	}
	return nil
}

// mapTwilioError translates Twilio REST error codes into the gateway taxonomy.
func mapTwilioError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return fmt.Errorf("%w: %v", utils.ErrNetworkFailure, err)
	}
	switch restErr.Code {
	case 21211, 21214, 21614:
		return fmt.Errorf("%w: twilio %d", utils.ErrInvalidPhoneNumber, restErr.Code)
	case 20429, 14107:
		return fmt.Errorf("%w: twilio %d", utils.ErrRateLimited, restErr.Code)
	default:
		return fmt.Errorf("%w: twilio %d %s", utils.ErrNetworkFailure, restErr.Code, restErr.Message)
	}
}

// LogSender writes messages to the log instead of delivering them.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(ctx context.Context, phone, body string) error {
	s.logger.Info("verification message", zap.String("phone", phone), zap.String("body", body))
	return nil
}
