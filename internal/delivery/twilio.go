package delivery

import (
	"context"
	"fmt"
	"strings"

	twilio "github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/time/rate"
)

// messageCreator is the slice of the Twilio API the sink needs.
type messageCreator interface {
	CreateMessage(params *openapi.CreateMessageParams) (*openapi.ApiV2010Message, error)
}

// TwilioSink sends the greeting as an SMS to the subject's phone.
type TwilioSink struct {
	api     messageCreator
	from    string
	limiter *rate.Limiter
}

func NewTwilioSink(accountSID, authToken, from string, perSecond float64) *TwilioSink {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{Username: accountSID, Password: authToken})
	lim := rate.NewLimiter(rate.Inf, 0)
	if perSecond > 0 {
		lim = rate.NewLimiter(rate.Limit(perSecond), 1)
	}
	return &TwilioSink{api: client.Api, from: strings.TrimSpace(from), limiter: lim}
}

func (s *TwilioSink) Deliver(ctx context.Context, m Message) error {
	to := strings.TrimSpace(m.Phone)
	if to == "" {
		return fmt.Errorf("%w: subject %d has no phone number", ErrDelivery, m.SubjectID)
	}
	if s.from == "" {
		return fmt.Errorf("%w: twilio sender number is not configured", ErrDelivery)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}

	params := &openapi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(s.from)
	params.SetBody(m.Message)

	if _, err := s.api.CreateMessage(params); err != nil {
		return fmt.Errorf("%w: twilio: %v", ErrDelivery, err)
	}
	return nil
}
