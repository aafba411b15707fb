package broker

import (
	"errors"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerSetTripsPerVenue(t *testing.T) {
	set := NewBreakerSet()

	boom := errors.New("venue down")
	for i := 0; i < 5; i++ {
		_, err := set.Execute("flaky-venue", func() (interface{}, error) {
			return nil, boom
		})
		require.Error(t, err)
	}

	assert.Equal(t, gobreaker.StateOpen, set.Get("flaky-venue").State())

	_, err := set.Execute("flaky-venue", func() (interface{}, error) {
		return "ok", nil
	})
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)

	// Another venue's breaker is unaffected.
	assert.Equal(t, gobreaker.StateClosed, set.Get("healthy-venue").State())
	out, err := set.Execute("healthy-venue", func() (interface{}, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)
}

func TestBreakerSetReusesInstance(t *testing.T) {
	set := NewBreakerSet()
	assert.Same(t, set.Get("robinhood"), set.Get("robinhood"))
}

func TestPassthroughBreakerNeverTrips(t *testing.T) {
	set := NewPassthroughBreakerSet()

	boom := errors.New("venue down")
	for i := 0; i < 20; i++ {
		_, _ = set.Execute("flaky-venue", func() (interface{}, error) {
			return nil, boom
		})
	}

	assert.Equal(t, gobreaker.StateClosed, set.Get("flaky-venue").State())
}
