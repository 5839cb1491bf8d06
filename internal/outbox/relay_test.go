package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dreamteam/internal/ledger"
	"dreamteam/internal/market"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingPublisher struct {
	mu       sync.Mutex
	failures int
	got      []ledger.Event
}

func (p *recordingPublisher) Publish(_ context.Context, ev ledger.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker down")
	}
	p.got = append(p.got, ev)
	return nil
}

func (p *recordingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.got)
}

func commitEvents(t *testing.T, store *ledger.Memory, n int) []ledger.Event {
	t.Helper()
	var out []ledger.Event
	for i := 0; i < n; i++ {
		ev, err := ledger.NewEvent(market.EventListed, market.ListingEvent{PlayerID: int64(i + 1), PlayerName: "P", Price: 10})
		require.NoError(t, err)
		require.NoError(t, store.Commit(context.Background(), ledger.Batch{Events: []ledger.Event{ev}}))
		out = append(out, ev)
	}
	return out
}

func TestDrainPublishesInOrderAndMarksSent(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	events := commitEvents(t, store, 5)
	pub := &recordingPublisher{}
	relay := NewRelay(store, pub, RelayConfig{BatchSize: 2, RetryDelay: time.Millisecond}, quiet)

	n, err := relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	require.Len(t, pub.got, 5)
	for i, ev := range events {
		assert.Equal(t, ev.ID, pub.got[i].ID)
	}

	pending, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)

	n, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestDrainRetriesThenSucceeds(t *testing.T) {
	store := ledger.NewMemory()
	commitEvents(t, store, 1)
	pub := &recordingPublisher{failures: 2}
	relay := NewRelay(store, pub, RelayConfig{MaxRetries: 3, RetryDelay: time.Millisecond}, quiet)

	n, err := relay.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDrainStopsAtUndeliverableEvent(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemory()
	events := commitEvents(t, store, 3)
	pub := &recordingPublisher{failures: 100}
	relay := NewRelay(store, pub, RelayConfig{MaxRetries: 1, RetryDelay: time.Millisecond}, quiet)

	n, err := relay.Drain(ctx)
	require.Error(t, err)
	assert.Zero(t, n)

	pending, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	assert.Equal(t, events[0].ID, pending[0].ID)

	pub.failures = 0
	n, err = relay.Drain(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRunDrainsOnTickAndWake(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	store := ledger.NewMemory()
	commitEvents(t, store, 1)
	pub := &recordingPublisher{}
	clock := clockwork.NewFakeClock()
	wake := make(chan struct{}, 1)
	relay := NewRelay(store, pub, RelayConfig{PollEvery: time.Minute}, quiet, WithClock(clock), WithWake(wake))

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()

	require.Eventually(t, func() bool { return pub.count() == 1 }, time.Second, 5*time.Millisecond)

	commitEvents(t, store, 1)
	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Minute)
	require.Eventually(t, func() bool { return pub.count() == 2 }, time.Second, 5*time.Millisecond)

	commitEvents(t, store, 1)
	wake <- struct{}{}
	require.Eventually(t, func() bool { return pub.count() == 3 }, time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{failures: 1}
	ev, err := ledger.NewEvent(market.EventUnlisted, market.ListingEvent{PlayerID: 1})
	require.NoError(t, err)

	err = Fanout{ok, bad, NewLogPublisher(quiet)}.Publish(context.Background(), ev)
	require.Error(t, err)
	assert.Equal(t, 1, ok.count())
}

type fakeDiscord struct {
	channel  string
	messages []string
}

func (f *fakeDiscord) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.channel = channelID
	f.messages = append(f.messages, content)
	return &discordgo.Message{Content: content}, nil
}

func TestDiscordPublisher(t *testing.T) {
	sender := &fakeDiscord{}
	pub := NewDiscordPublisher(sender, "chan-1")

	purchase, err := ledger.NewEvent(market.EventPurchased, market.PurchaseEvent{
		PlayerID: 3, PlayerName: "Ronaldo Silva", Price: 500_000, NewMarketValue: 1_500_000,
	})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), purchase))

	other, err := ledger.NewEvent("team.renamed", map[string]string{})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), other))

	require.Len(t, sender.messages, 1)
	assert.Equal(t, "chan-1", sender.channel)
	assert.Contains(t, sender.messages[0], "Ronaldo Silva transferred for $500000")
}

func TestNotice(t *testing.T) {
	listed, err := ledger.NewEvent(market.EventListed, market.ListingEvent{PlayerName: "A B", Price: 9})
	require.NoError(t, err)
	text, ok, err := Notice(listed)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Contains(t, text, "A B is on the transfer list for $9.")

	broken := ledger.Event{Type: market.EventPurchased, Payload: []byte("{")}
	_, _, err = Notice(broken)
	assert.Error(t, err)
}

func TestSubjectFor(t *testing.T) {
	assert.Equal(t, "market.events.player.purchased", subjectFor("market.events", market.EventPurchased))
}
