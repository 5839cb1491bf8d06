package outbox

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

// ChannelSender is the part of *discordgo.Session the publisher needs.
type ChannelSender interface {
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// DiscordPublisher posts a line per market event to one channel.
type DiscordPublisher struct {
	sender    ChannelSender
	channelID string
}

func NewDiscordPublisher(sender ChannelSender, channelID string) *DiscordPublisher {
	return &DiscordPublisher{sender: sender, channelID: channelID}
}

// OpenDiscord creates a bot session for the token.
func OpenDiscord(token string) (*discordgo.Session, error) {
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	return s, nil
}

func (p *DiscordPublisher) Publish(ctx context.Context, ev ledger.Event) error {
	text, ok, err := Notice(ev)
	if err != nil || !ok {
		return err
	}
	if _, err := p.sender.ChannelMessageSend(p.channelID, text, discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Notice renders an event as a chat line. Unknown event types yield ok=false.
func Notice(ev ledger.Event) (string, bool, error) {
	switch ev.Type {
	case market.EventListed, market.EventUnlisted:
		var p market.ListingEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", false, fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		if ev.Type == market.EventListed {
			return fmt.Sprintf(":label: %s is on the transfer list for $%d.", p.PlayerName, p.Price), true, nil
		}
		return fmt.Sprintf(":x: %s was taken off the transfer list.", p.PlayerName), true, nil
	case market.EventPurchased:
		var p market.PurchaseEvent
		if err := json.Unmarshal(ev.Payload, &p); err != nil {
			return "", false, fmt.Errorf("decode %s: %w", ev.Type, err)
		}
		return fmt.Sprintf(":moneybag: %s transferred for $%d. New market value $%d.", p.PlayerName, p.Price, p.NewMarketValue), true, nil
	}
	return "", false, nil
}
