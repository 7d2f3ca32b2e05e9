package discord

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/sidekicks/internal/models"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const selfID = "100"

var (
	me    = &discordgo.User{ID: selfID, Username: "helper", Bot: true}
	other = &discordgo.User{ID: "200", Username: "other", Bot: true}
	alice = &discordgo.User{ID: "1", Username: "alice", GlobalName: "Alice"}
)

type fakeMessageAPI struct {
	mu       sync.Mutex
	channels map[string]*discordgo.Channel
	messages map[string]*discordgo.Message
	threads  []*discordgo.ThreadStart
	typing   []string
	sent     []string
	replied  []string
}

func newFakeMessageAPI() *fakeMessageAPI {
	return &fakeMessageAPI{
		channels: map[string]*discordgo.Channel{
			"general": {ID: "general", Type: discordgo.ChannelTypeGuildText},
		},
		messages: map[string]*discordgo.Message{},
	}
}

func (f *fakeMessageAPI) Channel(channelID string, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch, ok := f.channels[channelID]
	if !ok {
		return nil, errors.New("unknown channel")
	}
	return ch, nil
}

func (f *fakeMessageAPI) ChannelMessage(channelID, messageID string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	m, ok := f.messages[channelID+"/"+messageID]
	if !ok {
		return nil, errors.New("unknown message")
	}
	return m, nil
}

func (f *fakeMessageAPI) MessageThreadStartComplex(channelID, messageID string, data *discordgo.ThreadStart, _ ...discordgo.RequestOption) (*discordgo.Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.threads = append(f.threads, data)
	return &discordgo.Channel{ID: "t_" + messageID, ParentID: channelID, Type: discordgo.ChannelTypeGuildPublicThread}, nil
}

func (f *fakeMessageAPI) ChannelTyping(channelID string, _ ...discordgo.RequestOption) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.typing = append(f.typing, channelID)
	return nil
}

func (f *fakeMessageAPI) ChannelMessageSend(channelID, content string, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, channelID+":"+content)
	return &discordgo.Message{}, nil
}

func (f *fakeMessageAPI) ChannelMessageSendReply(channelID, content string, _ *discordgo.MessageReference, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replied = append(f.replied, channelID+":"+content)
	return &discordgo.Message{}, nil
}

func newTestSidekickAdapter(api messageAPI) (*SidekickAdapter, chan *models.UserMessage) {
	a := NewSidekickAdapter(models.Assistant{Name: "Helper", AssistantID: "asst_123"}, zap.NewNop())
	a.api = api
	a.selfID = selfID

	got := make(chan *models.UserMessage, 1)
	a.OnMessage(func(ctx context.Context, msg *models.UserMessage) { got <- msg })
	return a, got
}

func receive(t *testing.T, got chan *models.UserMessage) *models.UserMessage {
	t.Helper()
	select {
	case msg := <-got:
		return msg
	case <-time.After(time.Second):
		t.Fatal("message was not emitted")
		return nil
	}
}

func assertNothing(t *testing.T, got chan *models.UserMessage) {
	t.Helper()
	select {
	case msg := <-got:
		t.Fatalf("unexpected message %q", msg.Content)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestTopLevelMentionStartsThread(t *testing.T) {
	api := newFakeMessageAPI()
	a, got := newTestSidekickAdapter(api)

	a.handleMessage(context.Background(), &discordgo.Message{
		ID:        "m1",
		ChannelID: "general",
		Content:   "<@100> Plan my trip!",
		Author:    alice,
		Mentions:  []*discordgo.User{me},
	})

	msg := receive(t, got)
	assert.Equal(t, "t_m1", msg.PlatformThreadID)
	assert.Equal(t, "asst_123", msg.AssistantID)
	assert.Equal(t, "Alice", msg.User.DisplayName)

	require.Len(t, api.threads, 1)
	assert.Equal(t, "plan-my-trip", api.threads[0].Name)
	assert.Equal(t, 60, api.threads[0].AutoArchiveDuration)

	require.NoError(t, a.Reply(context.Background(), msg, "Sure."))
	assert.Equal(t, []string{"t_m1:Sure."}, api.sent)
	assert.Empty(t, api.replied)
}

func TestTopLevelIgnoredUnlessSolelyForMe(t *testing.T) {
	tests := []struct {
		name string
		msg  *discordgo.Message
	}{
		{"no mention", &discordgo.Message{Content: "hello", Author: alice}},
		{"other bot", &discordgo.Message{Content: "<@200> hi", Author: alice, Mentions: []*discordgo.User{other}}},
		{"two bots", &discordgo.Message{Content: "<@100> <@200> hi", Author: alice, Mentions: []*discordgo.User{me, other}}},
		{"bot author", &discordgo.Message{Content: "<@100> hi", Author: other, Mentions: []*discordgo.User{me}}},
		{"system", &discordgo.Message{Type: discordgo.MessageTypeChannelPinnedMessage, Author: alice, Mentions: []*discordgo.User{me}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := newFakeMessageAPI()
			a, got := newTestSidekickAdapter(api)
			tt.msg.ID = "m1"
			tt.msg.ChannelID = "general"

			a.handleMessage(context.Background(), tt.msg)

			assertNothing(t, got)
			assert.Empty(t, api.threads)
		})
	}
}

func TestHumanMentionsDoNotCount(t *testing.T) {
	api := newFakeMessageAPI()
	a, got := newTestSidekickAdapter(api)

	a.handleMessage(context.Background(), &discordgo.Message{
		ID:        "m1",
		ChannelID: "general",
		Content:   "<@100> ask <@2>",
		Author:    alice,
		Mentions:  []*discordgo.User{me, {ID: "2", Username: "bob"}},
	})

	receive(t, got)
}

func TestThreadMessageFollowsStarter(t *testing.T) {
	api := newFakeMessageAPI()
	api.channels["mine"] = &discordgo.Channel{ID: "mine", ParentID: "general", Type: discordgo.ChannelTypeGuildPublicThread}
	api.channels["theirs"] = &discordgo.Channel{ID: "theirs", ParentID: "general", Type: discordgo.ChannelTypeGuildPublicThread}
	api.messages["general/mine"] = &discordgo.Message{Author: alice, Mentions: []*discordgo.User{me}}
	api.messages["general/theirs"] = &discordgo.Message{Author: alice, Mentions: []*discordgo.User{other}}

	a, got := newTestSidekickAdapter(api)

	a.handleMessage(context.Background(), &discordgo.Message{ID: "m2", ChannelID: "theirs", Content: "more", Author: alice})
	assertNothing(t, got)

	a.handleMessage(context.Background(), &discordgo.Message{ID: "m3", ChannelID: "mine", Content: "more", Author: alice})
	msg := receive(t, got)
	assert.Equal(t, "mine", msg.PlatformThreadID)
	assert.Empty(t, api.threads, "no new thread inside a thread")

	require.NoError(t, a.SendTyping(context.Background(), msg))
	assert.Equal(t, []string{"mine"}, api.typing)

	require.NoError(t, a.Reply(context.Background(), msg, "ok"))
	assert.Equal(t, []string{"mine:ok"}, api.replied)
}

func TestThreadWithoutStarterIgnored(t *testing.T) {
	api := newFakeMessageAPI()
	api.channels["orphan"] = &discordgo.Channel{ID: "orphan", ParentID: "general", Type: discordgo.ChannelTypeGuildPublicThread}
	a, got := newTestSidekickAdapter(api)

	a.handleMessage(context.Background(), &discordgo.Message{ID: "m4", ChannelID: "orphan", Content: "<@100> hi", Author: alice, Mentions: []*discordgo.User{me}})
	assertNothing(t, got)
}

func TestReplySplitsLongText(t *testing.T) {
	api := newFakeMessageAPI()
	a, _ := newTestSidekickAdapter(api)
	msg := &models.UserMessage{PlatformThreadID: "mine", Original: &messageHandle{channelID: "mine"}}

	require.NoError(t, a.Reply(context.Background(), msg, strings.Repeat("a", maxMessageLength+10)))
	assert.Len(t, api.replied, 1)
	assert.Len(t, api.sent, 1)
}

func TestEmptyTitleFallsBack(t *testing.T) {
	api := newFakeMessageAPI()
	a, got := newTestSidekickAdapter(api)

	a.handleMessage(context.Background(), &discordgo.Message{ID: "m5", ChannelID: "general", Content: "<@100> !!!", Author: alice, Mentions: []*discordgo.User{me}})

	receive(t, got)
	require.Len(t, api.threads, 1)
	assert.Equal(t, defaultThreadTitle, api.threads[0].Name)
}
