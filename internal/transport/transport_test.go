package transport

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/nadzzz/audipro/internal/dispatch"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/observe"
)

func TestOutcome(t *testing.T) {
	assert.Equal(t, observe.StatusOK, Outcome(nil))
	assert.Equal(t, observe.StatusBadRequest, Outcome(dispatch.ErrEmptyInput))
	assert.Equal(t, observe.StatusUnsupported, Outcome(fmt.Errorf("wrapped: %w", dispatch.ErrAudioUnsupported)))
	assert.Equal(t, observe.StatusError, Outcome(errors.New("upstream down")))
}

func TestKind(t *testing.T) {
	assert.Equal(t, "text", Kind(&message.Message{Text: "hi"}))
	assert.Equal(t, "audio", Kind(&message.Message{Audio: []byte{}}))
}
