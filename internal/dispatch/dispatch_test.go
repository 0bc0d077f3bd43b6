package dispatch

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/nadzzz/audipro/internal/interpreter"
	"github.com/nadzzz/audipro/internal/interpreter/echo"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/observe"
)

// stubInterpreter returns canned results and records its inputs.
type stubInterpreter struct {
	transcript    string
	transcribeErr error
	replyErr      error
	replied       []string
	transcribed   [][]byte
}

func (s *stubInterpreter) Name() string { return "stub" }

func (s *stubInterpreter) Transcribe(_ context.Context, audio []byte, _ string) (string, error) {
	s.transcribed = append(s.transcribed, audio)
	return s.transcript, s.transcribeErr
}

func (s *stubInterpreter) Reply(_ context.Context, text string) (string, error) {
	s.replied = append(s.replied, text)
	if s.replyErr != nil {
		return "", s.replyErr
	}
	return "re: " + text, nil
}

func (s *stubInterpreter) Close() error { return nil }

func TestHandle_Text(t *testing.T) {
	stub := &stubInterpreter{}
	msg := &message.Message{Text: "hello"}

	resp, err := New(stub, nil).Handle(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "re: hello", resp.Response)
	assert.Equal(t, []string{"hello"}, stub.replied)
	assert.NotEmpty(t, msg.ID)
	assert.False(t, msg.Timestamp.IsZero())
}

func TestHandle_KeepsAssignedID(t *testing.T) {
	msg := &message.Message{ID: "fixed", Text: "hello"}
	_, err := New(&stubInterpreter{}, nil).Handle(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "fixed", msg.ID)
}

func TestHandle_EmptyText(t *testing.T) {
	stub := &stubInterpreter{}
	_, err := New(stub, nil).Handle(context.Background(), &message.Message{})
	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Empty(t, stub.replied)
}

func TestHandle_AudioIsTranscribedThenAnswered(t *testing.T) {
	stub := &stubInterpreter{transcript: "what is a DAC"}
	msg := &message.Message{Audio: []byte("RIFF"), ContentType: "audio/wav"}

	resp, err := New(stub, nil).Handle(context.Background(), msg)
	require.NoError(t, err)

	assert.Equal(t, "re: what is a DAC", resp.Response)
	assert.Equal(t, [][]byte{[]byte("RIFF")}, stub.transcribed)
}

func TestHandle_EmptyRecordingIsStillTranscribed(t *testing.T) {
	stub := &stubInterpreter{transcript: ""}
	_, err := New(stub, nil).Handle(context.Background(), &message.Message{Audio: []byte{}})

	assert.ErrorIs(t, err, ErrEmptyInput)
	assert.Len(t, stub.transcribed, 1)
}

func TestHandle_AudioUnsupported(t *testing.T) {
	_, err := New(echo.New(), nil).Handle(context.Background(), &message.Message{Audio: []byte("RIFF")})
	assert.ErrorIs(t, err, ErrAudioUnsupported)
}

func TestHandle_BackendErrors(t *testing.T) {
	boom := errors.New("upstream down")

	_, err := New(&stubInterpreter{transcribeErr: boom}, nil).
		Handle(context.Background(), &message.Message{Audio: []byte("x")})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "transcription failed")

	_, err = New(&stubInterpreter{replyErr: boom}, nil).
		Handle(context.Background(), &message.Message{Text: "hi"})
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "reply failed")
}

func TestHandle_RecordsStageMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	require.NoError(t, err)

	d := New(&stubInterpreter{transcript: "hi"}, m)
	_, err = d.Handle(context.Background(), &message.Message{Audio: []byte("x")})
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	var points uint64
	for _, sm := range rm.ScopeMetrics {
		for _, met := range sm.Metrics {
			if met.Name != "audipro.stage.duration" {
				continue
			}
			hist := met.Data.(metricdata.Histogram[float64])
			for _, dp := range hist.DataPoints {
				points += dp.Count
			}
		}
	}
	assert.Equal(t, uint64(2), points, "one transcribe and one reply observation")
}

var _ interpreter.Interpreter = (*stubInterpreter)(nil)
