// internal/models/channel.go
package models

import (
	"fmt"
	"strings"
)

// Channel is a delivery medium.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelChat  Channel = "chat"
	ChannelPush  Channel = "push"
)

// DefaultChannelOrder is used when a customer has not ranked any channel.
var DefaultChannelOrder = []Channel{ChannelEmail, ChannelChat, ChannelPush}

// ParseChannel accepts the canonical names plus "whatsapp" for chat.
func ParseChannel(s string) (Channel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "email":
		return ChannelEmail, nil
	case "chat", "whatsapp":
		return ChannelChat, nil
	case "push", "webpush":
		return ChannelPush, nil
	}
	return "", fmt.Errorf("unknown channel %q", s)
}

func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelChat, ChannelPush:
		return true
	}
	return false
}

// Audience is the dispatch target.
type Audience string

const (
	AudienceClients Audience = "clients"
	AudienceStaff   Audience = "staff"
)

func (a Audience) Valid() bool {
	return a == AudienceClients || a == AudienceStaff
}
