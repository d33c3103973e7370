package main

import (
	"net/url"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSendURL(t *testing.T) {
	t.Run("text rides along as query parameter", func(t *testing.T) {
		target := buildSendURL("5511999998888", "olá, tudo bem?", false)
		parsed, err := url.Parse(target)
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(target, whatsappWebURL+"/send?phone=5511999998888"))
		assert.Equal(t, "olá, tudo bem?", parsed.Query().Get("text"))
	})

	t.Run("image sends omit the text parameter", func(t *testing.T) {
		// Captions are typed in-page after the attach flow; a text parameter
		// would land in the composer and be sent as a separate message.
		target := buildSendURL("5511999998888", "caption here", true)
		assert.NotContains(t, target, "text=")
	})

	t.Run("empty message yields no text parameter", func(t *testing.T) {
		target := buildSendURL("5511999998888", "", false)
		assert.NotContains(t, target, "text=")
	})

	t.Run("phone is stripped to digits", func(t *testing.T) {
		target := buildSendURL("+55 (11) 99999-8888", "oi", false)
		assert.Contains(t, target, "phone=5511999998888")
	})
}

func TestContainsInvalidNumberPhrase(t *testing.T) {
	tests := []struct {
		text string
		want bool
	}{
		{"Phone number shared via url is invalid.", true},
		{"O número de telefone compartilhado por url é inválido.", true},
		{"El número de teléfono compartido a través de la dirección URL no es válido.", true},
		{"Starting chat with +55 11 99999-8888", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, containsInvalidNumberPhrase(tt.text), "text %q", tt.text)
	}
}

func TestBeginSendRejectsUnnormalizablePhone(t *testing.T) {
	store := newTestStore(t)
	sender := NewChromeSender(nil, store, &Config{})

	err := sender.BeginSend("987654", "oi", false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot normalize")

	// No checkpoint may be left behind for a send that never started.
	st := store.State()
	assert.False(t, st.URLNavigationInProgress)
	assert.Empty(t, st.CurrentPhoneNumber)
}

func TestMaterializeImageRoundTrip(t *testing.T) {
	store := newTestStore(t)
	st := store.State()
	st.ImageData = "aGVsbG8gaW1hZ2U=" // "hello image"
	st.ImageName = "promo.jpg"

	sender := NewChromeSender(nil, store, &Config{})
	path, cleanup, err := sender.materializeImage()
	require.NoError(t, err)
	defer cleanup()

	assert.Contains(t, path, "promo.jpg")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello image", string(data))
}

func TestMaterializeImageErrors(t *testing.T) {
	store := newTestStore(t)
	sender := NewChromeSender(nil, store, &Config{})

	_, _, err := sender.materializeImage()
	assert.Error(t, err, "no attachment present")

	store.State().ImageData = "not-base64!!!"
	_, _, err = sender.materializeImage()
	assert.Error(t, err, "corrupt base64 must not produce a file")
}
