package echo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/audipro/internal/interpreter"
)

func TestReply(t *testing.T) {
	reply, err := New().Reply(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "You typed: hello", reply)
}

func TestTranscribeUnsupported(t *testing.T) {
	_, err := New().Transcribe(context.Background(), []byte("RIFF"), "audio/wav")
	assert.ErrorIs(t, err, interpreter.ErrTranscriptionUnsupported)
}

func TestImplementsInterpreter(t *testing.T) {
	var _ interpreter.Interpreter = New()
	assert.Equal(t, "echo", New().Name())
}
