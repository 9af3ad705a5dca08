package sms

import (
	"context"
	"fmt"

	"github.com/twilio/twilio-go"
	api "github.com/twilio/twilio-go/rest/api/v2010"
)

// messageCreator is the slice of the Twilio REST API this provider uses.
type messageCreator interface {
	CreateMessage(params *api.CreateMessageParams) (*api.ApiV2010Message, error)
}

type TwilioProvider struct {
	messages   messageCreator
	fromNumber string
}

func NewTwilioProvider(accountSID, authToken, fromNumber string) *TwilioProvider {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: accountSID,
		Password: authToken,
	})

	return &TwilioProvider{
		messages:   client.Api,
		fromNumber: fromNumber,
	}
}

type twilioResult struct {
	msg *api.ApiV2010Message
	err error
}

// SendSMS honours ctx even though the Twilio client does not take one; a call
// abandoned on timeout finishes in the background.
func (t *TwilioProvider) SendSMS(ctx context.Context, request *SMSRequest) (*SMSResponse, error) {
	params := &api.CreateMessageParams{}
	params.SetTo(request.To)
	params.SetFrom(t.getFromNumber(request.From))
	params.SetBody(request.Message)

	done := make(chan twilioResult, 1)
	go func() {
		msg, err := t.messages.CreateMessage(params)
		done <- twilioResult{msg: msg, err: err}
	}()

	var res twilioResult
	select {
	case <-ctx.Done():
		return &SMSResponse{Status: "failed", Error: ctx.Err().Error()}, fmt.Errorf("failed to send twilio sms: %w", ctx.Err())
	case res = <-done:
	}

	if res.err != nil {
		return &SMSResponse{
			Status: "failed",
			Error:  res.err.Error(),
		}, fmt.Errorf("failed to send twilio sms: %w", res.err)
	}

	response := &SMSResponse{Status: "queued"}
	if res.msg != nil {
		if res.msg.Sid != nil {
			response.MessageID = *res.msg.Sid
		}
		if res.msg.Status != nil {
			response.Status = string(*res.msg.Status)
		}
	}
	return response, nil
}

func (t *TwilioProvider) getFromNumber(from string) string {
	if from != "" {
		return from
	}
	return t.fromNumber
}
