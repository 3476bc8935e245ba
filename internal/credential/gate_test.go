package credential

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGate_SetOnce(t *testing.T) {
	g := NewGate()

	_, err := g.Get()
	assert.ErrorIs(t, err, ErrMissing)

	g.Set("first")
	secret, err := g.Get()
	require.NoError(t, err)
	assert.Equal(t, "first", secret)

	// First writer wins; re-entry is not modeled.
	g.Set("second")
	secret, err = g.Get()
	require.NoError(t, err)
	assert.Equal(t, "first", secret)
}

func TestGate_EmptySecretIgnored(t *testing.T) {
	g := NewGate()
	g.Set("")

	_, err := g.Get()
	assert.ErrorIs(t, err, ErrMissing)

	select {
	case <-g.Ready():
		t.Fatal("gate must not be ready after empty Set")
	default:
	}
}

func TestGate_ReadyUnblocksDependents(t *testing.T) {
	g := NewGate()

	done := make(chan string, 1)
	go func() {
		<-g.Ready()
		secret, _ := g.Get()
		done <- secret
	}()

	g.Set("token")

	select {
	case secret := <-done:
		assert.Equal(t, "token", secret)
	case <-time.After(time.Second):
		t.Fatal("Ready channel never closed")
	}
}
