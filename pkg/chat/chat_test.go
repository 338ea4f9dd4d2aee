package chat_test

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xhad/mindease/pkg/chat"
	"github.com/xhad/mindease/pkg/errs"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := chat.DefaultCatalog()
	require.NoError(t, err)

	assert.Equal(t, []string{"anxiety", "motivation", "self-care", "study"}, c.CategoryNames())
	assert.Equal(t, []string{"Anxious", "Frustrated", "Happy", "Motivated", "Sad", "Tired"}, c.EmotionNames())
	assert.Len(t, c.Categories["motivation"], 10)
	assert.Len(t, c.Categories["anxiety"], 10)
	assert.Equal(t, "Believe in yourself! You are capable of amazing things.", c.Categories["motivation"][0])
}

func TestCatalogRandom(t *testing.T) {
	c, err := chat.DefaultCatalog()
	require.NoError(t, err)

	for _, name := range c.CategoryNames() {
		prompt, err := c.Random(name)
		require.NoError(t, err)
		assert.Contains(t, c.Categories[name], prompt)
	}

	reply, err := c.Respond("Tired")
	require.NoError(t, err)
	assert.Contains(t, c.Emotions["Tired"], reply)

	_, err = c.Random("astrology")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
	_, err = c.Respond("Bored")
	assert.ErrorIs(t, err, errs.ErrInvalidInput)
}

func TestCatalogSeedIsRepeatable(t *testing.T) {
	a, err := chat.DefaultCatalog()
	require.NoError(t, err)
	b, err := chat.DefaultCatalog()
	require.NoError(t, err)

	a.Seed(42)
	b.Seed(42)
	for i := 0; i < 20; i++ {
		x, _ := a.Random("study")
		y, _ := b.Random("study")
		assert.Equal(t, x, y)
	}
}

func TestParseCatalog(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{
			name: "valid",
			data: "categories:\n  calm: [\"breathe\"]\nemotions:\n  Sad: [\"I'm here\"]\n",
		},
		{
			name:    "empty category",
			data:    "categories:\n  calm: []\n",
			wantErr: true,
		},
		{
			name:    "empty emotion",
			data:    "emotions:\n  Sad: []\n",
			wantErr: true,
		},
		{
			name:    "not yaml",
			data:    "categories: [unclosed",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := chat.ParseCatalog([]byte(tt.data))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			prompt, err := c.Random("calm")
			require.NoError(t, err)
			assert.Equal(t, "breathe", prompt)
		})
	}
}

func TestLog(t *testing.T) {
	l := chat.NewLog()
	l.Append(chat.SenderUser, "I can't focus")
	l.Append(chat.SenderAssistant, "Try a 25 minute block.")

	turns := l.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, chat.SenderUser, turns[0].Sender)
	assert.Equal(t, "Try a 25 minute block.", turns[1].Text)
	assert.False(t, turns[0].At.After(turns[1].At))

	turns[0].Text = "changed"
	assert.Equal(t, "I can't focus", l.Turns()[0].Text)

	l.Clear()
	assert.Equal(t, 0, l.Len())
}

func TestLogConcurrentAppend(t *testing.T) {
	l := chat.NewLog()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.Append(chat.SenderUser, "hi")
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, l.Len())
}

func TestSessions(t *testing.T) {
	s := chat.NewSessions()

	id, log := s.Start()
	_, err := uuid.Parse(id)
	require.NoError(t, err)
	log.Append(chat.SenderUser, "hello")

	got, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, 1, got.Len())

	other, _ := s.Start()
	assert.NotEqual(t, id, other)
	assert.Equal(t, 2, s.Len())

	s.End(id)
	_, ok = s.Get(id)
	assert.False(t, ok)
	assert.Equal(t, 1, s.Len())
}
