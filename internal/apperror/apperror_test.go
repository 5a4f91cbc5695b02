package apperror

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

var errSample = New(Conflict, "order_not_pending")

func TestWrapKeepsSentinelAndCause(t *testing.T) {
	cause := errors.New("row locked")
	err := Wrap(errSample, "checkout.complete", cause)

	assert.ErrorIs(t, err, errSample)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Conflict, KindOf(err))
	assert.Equal(t, "order_not_pending", CodeOf(err))
	assert.Equal(t, "checkout.complete: order_not_pending: row locked", err.Error())
}

func TestKindOfThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("outer: %w", Wrap(errSample, "op", nil))
	assert.True(t, Is(err, Conflict))
	assert.Equal(t, Unknown, KindOf(errors.New("plain")))
	assert.Equal(t, Unknown, KindOf(nil))
}
