package notification

import (
	"errors"
	"fmt"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
)

// Pusher delivers push messages. It returns the tokens the provider rejected.
type Pusher interface {
	Send(tokens []string, title, body string, data map[string]string) (invalid []string, err error)
}

var ErrNoValidTokens = errors.New("no valid push tokens found")

type ExpoPusher struct {
	client *expo.PushClient
}

func NewExpoPusher(client *expo.PushClient) *ExpoPusher {
	if client == nil {
		client = expo.NewPushClient(nil)
	}
	return &ExpoPusher{client: client}
}

func (p *ExpoPusher) Send(tokenStrings []string, title, body string, data map[string]string) ([]string, error) {
	var validTokens []expo.ExponentPushToken
	var invalidTokens []string

	for _, tokenString := range tokenStrings {
		pushToken, err := expo.NewExponentPushToken(tokenString)
		if err != nil {
			invalidTokens = append(invalidTokens, tokenString)
			continue
		}
		validTokens = append(validTokens, pushToken)
	}
	if len(validTokens) == 0 {
		return invalidTokens, ErrNoValidTokens
	}

	response, err := p.client.Publish(&expo.PushMessage{
		To:       validTokens,
		Body:     body,
		Title:    title,
		Sound:    "default",
		Priority: expo.DefaultPriority,
		Data:     data,
	})
	if err != nil {
		return invalidTokens, fmt.Errorf("failed to publish notification: %w", err)
	}
	if err := response.ValidateResponse(); err != nil {
		return invalidTokens, fmt.Errorf("notification validation failed: %w", err)
	}
	return invalidTokens, nil
}

// ValidToken reports whether token looks like an Expo push token.
func ValidToken(token string) bool {
	_, err := expo.NewExponentPushToken(token)
	return err == nil
}
