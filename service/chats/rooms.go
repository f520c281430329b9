package chats

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	stream_chat "github.com/GetStream/stream-chat-go/v5"
)

// ErrDisabled is returned when no chat provider is configured.
var ErrDisabled = errors.New("chat provider not configured")

// Rooms creates per-appointment conversations and client tokens.
type Rooms interface {
	CreateRoom(ctx context.Context, appointmentID, patientID, doctorID uint) (string, error)
	UserToken(userID uint, ttl time.Duration) (string, error)
}

// ChannelID is the conversation id for an appointment.
func ChannelID(appointmentID uint) string {
	return fmt.Sprintf("appointment-%d", appointmentID)
}

type StreamRooms struct {
	client *stream_chat.Client
}

func NewStreamRooms(apiKey, apiSecret string) (*StreamRooms, error) {
	client, err := stream_chat.NewClient(apiKey, apiSecret)
	if err != nil {
		return nil, fmt.Errorf("stream client: %w", err)
	}
	return &StreamRooms{client: client}, nil
}

// CreateRoom upserts both participants and creates a messaging channel
// between them. Creating an existing channel returns it unchanged.
func (s *StreamRooms) CreateRoom(ctx context.Context, appointmentID, patientID, doctorID uint) (string, error) {
	patient := strconv.FormatUint(uint64(patientID), 10)
	doctor := strconv.FormatUint(uint64(doctorID), 10)

	if _, err := s.client.UpsertUsers(ctx, &stream_chat.User{ID: patient}, &stream_chat.User{ID: doctor}); err != nil {
		return "", fmt.Errorf("upsert chat users: %w", err)
	}

	channelID := ChannelID(appointmentID)
	resp, err := s.client.CreateChannel(ctx, "messaging", channelID, doctor, &stream_chat.ChannelRequest{
		Members: []string{patient, doctor},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create channel: %w", err)
	}
	return resp.Channel.ID, nil
}

func (s *StreamRooms) UserToken(userID uint, ttl time.Duration) (string, error) {
	return s.client.CreateToken(strconv.FormatUint(uint64(userID), 10), time.Now().Add(ttl))
}

// DisabledRooms is used when Stream credentials are absent.
type DisabledRooms struct{}

func (DisabledRooms) CreateRoom(context.Context, uint, uint, uint) (string, error) {
	return "", ErrDisabled
}

func (DisabledRooms) UserToken(uint, time.Duration) (string, error) {
	return "", ErrDisabled
}
