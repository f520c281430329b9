package call

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/KAsare1/teleconsult-server/cmd/utils"
	"github.com/golang-jwt/jwt/v4"
	"github.com/sirupsen/logrus"
)

// Provider issues room-scoped join tokens for the media service.
type Provider interface {
	GenerateToken(ctx context.Context, roomID string, participantID uint32) (string, error)
	AppID() string
}

// RoomClaims are the claims of a self-signed join token.
type RoomClaims struct {
	Room string `json:"room"`
	UID  uint32 `json:"uid"`
	jwt.RegisteredClaims
}

// JWTProvider signs join tokens locally with the app certificate.
type JWTProvider struct {
	appID       string
	certificate []byte
	ttl         time.Duration
	now         func() time.Time
}

func NewJWTProvider(appID, certificate string, ttl time.Duration) *JWTProvider {
	return &JWTProvider{appID: appID, certificate: []byte(certificate), ttl: ttl, now: time.Now}
}

func (p *JWTProvider) AppID() string {
	return p.appID
}

func (p *JWTProvider) GenerateToken(_ context.Context, roomID string, participantID uint32) (string, error) {
	if roomID == "" || participantID == 0 {
		return "", errors.New("room id and participant id are required")
	}
	now := p.now()
	claims := RoomClaims{
		Room: roomID,
		UID:  participantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    p.appID,
			Subject:   strconv.FormatUint(uint64(participantID), 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(p.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.certificate)
}

// HTTPProvider asks a remote token service for join tokens.
type HTTPProvider struct {
	appID    string
	endpoint string
	client   *http.Client
}

func NewHTTPProvider(appID, endpoint string, client *http.Client) *HTTPProvider {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProvider{appID: appID, endpoint: endpoint, client: client}
}

func (p *HTTPProvider) AppID() string {
	return p.appID
}

func (p *HTTPProvider) GenerateToken(ctx context.Context, roomID string, participantID uint32) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"app_id":  p.appID,
		"channel": roomID,
		"uid":     participantID,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token service returned %d", resp.StatusCode)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if body.Token == "" {
		return "", errors.New("token service returned an empty token")
	}
	return body.Token, nil
}

// ProviderObserver counts provider attempts. *metrics.Metrics implements it.
type ProviderObserver interface {
	ObserveProvider(result string)
}

// ResilientProvider bounds every attempt with a timeout and retries once.
// A second failure surfaces as utils.ErrProviderUnavailable.
type ResilientProvider struct {
	next     Provider
	timeout  time.Duration
	observer ProviderObserver
	log      logrus.FieldLogger
}

func NewResilientProvider(next Provider, timeout time.Duration, observer ProviderObserver, log logrus.FieldLogger) *ResilientProvider {
	return &ResilientProvider{next: next, timeout: timeout, observer: observer, log: log}
}

func (p *ResilientProvider) AppID() string {
	return p.next.AppID()
}

func (p *ResilientProvider) GenerateToken(ctx context.Context, roomID string, participantID uint32) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= 2; attempt++ {
		token, err := p.attempt(ctx, roomID, participantID)
		if err == nil {
			p.observe("ok")
			return token, nil
		}
		lastErr = err
		p.observe("error")
		p.log.WithError(err).WithFields(logrus.Fields{
			"room_id": roomID,
			"attempt": attempt,
		}).Warn("join token request failed")

		if ctx.Err() != nil {
			break
		}
	}
	return "", utils.WrapError(utils.KindProviderUnavailable, utils.ErrProviderUnavailable.Message, lastErr)
}

func (p *ResilientProvider) attempt(ctx context.Context, roomID string, participantID uint32) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type result struct {
		token string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		token, err := p.next.GenerateToken(ctx, roomID, participantID)
		done <- result{token, err}
	}()

	select {
	case r := <-done:
		return r.token, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (p *ResilientProvider) observe(result string) {
	if p.observer != nil {
		p.observer.ObserveProvider(result)
	}
}
