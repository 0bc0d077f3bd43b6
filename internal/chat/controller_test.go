package chat

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/audipro/internal/capture"
	"github.com/nadzzz/audipro/internal/capture/command"
	"github.com/nadzzz/audipro/internal/capture/mock"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/session"
)

// fakeSubmitter records every call and answers with a canned reply or error.
type fakeSubmitter struct {
	mu       sync.Mutex
	texts    []string
	payloads []message.Payload
	reply    string
	err      error
}

func (f *fakeSubmitter) Chat(_ context.Context, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	return f.reply, f.err
}

func (f *fakeSubmitter) ChatAudio(_ context.Context, p message.Payload) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, p)
	return f.reply, f.err
}

func (f *fakeSubmitter) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts) + len(f.payloads)
}

// display collects every response shown to the user, in order.
type display struct {
	mu        sync.Mutex
	responses []string
}

func (d *display) listen(s session.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.responses) == 0 || d.responses[len(d.responses)-1] != s.Response {
		d.responses = append(d.responses, s.Response)
	}
}

func (d *display) shown() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.responses...)
}

func newController(t *testing.T, dev *mock.Device, sub *fakeSubmitter) (*Controller, *display) {
	t.Helper()
	c := New(dev, sub)
	d := &display{}
	c.Subscribe(d.listen)
	return c, d
}

func TestSubmitText_ShowsPlaceholderThenReply(t *testing.T) {
	sub := &fakeSubmitter{reply: "hi there"}
	c, d := newController(t, &mock.Device{}, sub)

	reply, err := c.SubmitText(context.Background(), "hello")
	require.NoError(t, err)

	assert.Equal(t, "hi there", reply)
	assert.Equal(t, []string{"hello"}, sub.texts)
	assert.Equal(t, []string{"...", "hi there"}, d.shown())
	assert.Equal(t, session.StateIdle, c.Snapshot().State)
}

func TestSubmitText_SendsUntrimmedMessageOnce(t *testing.T) {
	sub := &fakeSubmitter{reply: "ok"}
	c, _ := newController(t, &mock.Device{}, sub)

	_, err := c.SubmitText(context.Background(), "  spaced out  ")
	require.NoError(t, err)
	assert.Equal(t, []string{"  spaced out  "}, sub.texts)
}

func TestSubmitText_IgnoresBlankInput(t *testing.T) {
	for _, in := range []string{"", " ", "\t\n", "   \r\n  "} {
		sub := &fakeSubmitter{reply: "unused"}
		c, d := newController(t, &mock.Device{}, sub)
		before := c.Snapshot()

		reply, err := c.SubmitText(context.Background(), in)

		require.NoError(t, err)
		assert.Empty(t, reply)
		assert.Zero(t, sub.calls(), "input %q", in)
		assert.Empty(t, d.shown())
		assert.Equal(t, before, c.Snapshot())
	}
}

func TestSubmitText_FailureShowsErrorString(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("timeout")}
	c, d := newController(t, &mock.Device{}, sub)

	_, err := c.SubmitText(context.Background(), "hello")
	require.Error(t, err)
	assert.Equal(t, []string{"...", "Error: timeout"}, d.shown())
	assert.Equal(t, session.StateIdle, c.Snapshot().State)
}

func TestRecording_SubmitsChunksInArrivalOrder(t *testing.T) {
	dev := &mock.Device{Trailing: [][]byte{[]byte("-tail")}}
	sub := &fakeSubmitter{reply: "heard you"}
	c, d := newController(t, dev, sub)
	ctx := context.Background()

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(ctx))
	assert.True(t, c.Snapshot().Recording())

	s := dev.Last()
	require.NotNil(t, s)
	s.Emit([]byte("one"))
	s.Emit([]byte("-two"))
	s.Emit([]byte("-three"))

	reply, err := c.StopRecording(ctx)
	require.NoError(t, err)

	assert.Equal(t, "heard you", reply)
	require.Len(t, sub.payloads, 1)
	p := sub.payloads[0]
	assert.Equal(t, []byte("one-two-three-tail"), p.Data)
	assert.Equal(t, "audio/wav", p.ContentType)
	assert.Equal(t, "audio.wav", p.FileName)
	assert.Equal(t, 1, s.Stops())

	snap := c.Snapshot()
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Zero(t, snap.PendingChunks)
	assert.Equal(t, []string{"", "Processing...", "heard you"}, d.shown())
}

func TestRecording_StopWithoutChunksSendsEmptyPayload(t *testing.T) {
	dev := &mock.Device{}
	sub := &fakeSubmitter{reply: "silence"}
	c, _ := newController(t, dev, sub)
	ctx := context.Background()

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(ctx))
	_, err := c.StopRecording(ctx)
	require.NoError(t, err)

	require.Len(t, sub.payloads, 1)
	assert.NotNil(t, sub.payloads[0].Data)
	assert.Empty(t, sub.payloads[0].Data)
	assert.Equal(t, "audio.wav", sub.payloads[0].FileName)
}

func TestRecording_NetworkFailureShowsErrorString(t *testing.T) {
	dev := &mock.Device{}
	sub := &fakeSubmitter{err: errors.New("timeout")}
	c, d := newController(t, dev, sub)
	ctx := context.Background()

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(ctx))
	dev.Last().Emit([]byte("data"))

	_, err := c.StopRecording(ctx)
	require.EqualError(t, err, "timeout")

	shown := d.shown()
	assert.Equal(t, "Error: timeout", shown[len(shown)-1])
	assert.Equal(t, session.StateIdle, c.Snapshot().State)
	assert.Len(t, sub.payloads, 1)
}

func TestStopRecording_WithoutStartIsRejected(t *testing.T) {
	sub := &fakeSubmitter{}
	c, d := newController(t, &mock.Device{}, sub)
	require.NoError(t, c.SetMode(message.ModeAudio))

	_, err := c.StopRecording(context.Background())

	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Zero(t, sub.calls())
	assert.Equal(t, []string{""}, d.shown())
}

func TestStartRecording_TwiceFailsFast(t *testing.T) {
	dev := &mock.Device{}
	c, _ := newController(t, dev, &fakeSubmitter{})
	ctx := context.Background()
	require.NoError(t, c.SetMode(message.ModeAudio))

	require.NoError(t, c.StartRecording(ctx))
	err := c.StartRecording(ctx)

	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Equal(t, 1, dev.Opens())
}

func TestStartRecording_InTextModeIsRejected(t *testing.T) {
	dev := &mock.Device{}
	c, _ := newController(t, dev, &fakeSubmitter{})

	err := c.StartRecording(context.Background())
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
	assert.Zero(t, dev.Opens())
}

func TestStartRecording_DeviceUnavailableIsSurfaced(t *testing.T) {
	dev := &mock.Device{OpenErr: capture.Unavailable("mock", errors.New("permission denied"))}
	sub := &fakeSubmitter{}
	c, d := newController(t, dev, sub)
	require.NoError(t, c.SetMode(message.ModeAudio))

	err := c.StartRecording(context.Background())

	require.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	snap := c.Snapshot()
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Contains(t, snap.Response, "Error: ")
	assert.Contains(t, snap.Response, "permission denied")
	assert.ErrorIs(t, snap.Err, capture.ErrDeviceUnavailable)
	assert.Zero(t, sub.calls())

	shown := d.shown()
	assert.Equal(t, snap.Response, shown[len(shown)-1])
}

func TestStopRecording_WaitsForFinalize(t *testing.T) {
	dev := &mock.Device{}
	sub := &fakeSubmitter{reply: "ok"}
	c, _ := newController(t, dev, sub)
	ctx := context.Background()

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(ctx))
	s := dev.Last()
	s.Hold()
	s.Emit([]byte("early"))

	type result struct {
		reply string
		err   error
	}
	done := make(chan result, 1)
	go func() {
		reply, err := c.StopRecording(ctx)
		done <- result{reply, err}
	}()

	require.Eventually(t, func() bool {
		return c.Snapshot().State == session.StateFinalizing
	}, time.Second, 5*time.Millisecond)

	select {
	case <-done:
		t.Fatal("StopRecording returned before the device finalized")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Zero(t, sub.calls())

	s.Emit([]byte("-late"))
	s.Release()

	res := <-done
	require.NoError(t, res.err)
	require.Len(t, sub.payloads, 1)
	assert.Equal(t, []byte("early-late"), sub.payloads[0].Data)
}

func TestStopRecording_DeviceErrorFailsWithoutSubmitting(t *testing.T) {
	dev := &mock.Device{FinalErr: errors.New("buffer overrun")}
	sub := &fakeSubmitter{}
	c, _ := newController(t, dev, sub)
	ctx := context.Background()

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(ctx))
	dev.Last().Emit([]byte("x"))

	_, err := c.StopRecording(ctx)
	require.Error(t, err)

	snap := c.Snapshot()
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Zero(t, snap.PendingChunks)
	assert.Contains(t, snap.Response, "buffer overrun")
	assert.Zero(t, sub.calls())
}

func TestStopRecording_CancelledWhileFinalizing(t *testing.T) {
	dev := &mock.Device{}
	sub := &fakeSubmitter{}
	c, _ := newController(t, dev, sub)

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(context.Background()))
	s := dev.Last()
	s.Hold()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.StopRecording(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, session.StateIdle, c.Snapshot().State)

	// A new recording must not inherit chunks from the abandoned stream.
	require.NoError(t, c.StartRecording(context.Background()))
	s.Emit([]byte("stale"))
	s.Release()
	dev.Last().Emit([]byte("fresh"))

	_, err = c.StopRecording(context.Background())
	require.NoError(t, err)
	require.Len(t, sub.payloads, 1)
	assert.Equal(t, []byte("fresh"), sub.payloads[0].Data)
}

func TestSetMode_WhileRecordingIsRejected(t *testing.T) {
	c, _ := newController(t, &mock.Device{}, &fakeSubmitter{})
	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(context.Background()))

	assert.ErrorIs(t, c.SetMode(message.ModeText), session.ErrInvalidTransition)
	assert.Equal(t, message.ModeAudio, c.Snapshot().Mode)
}

func TestRecording_DeviceEndingMidRecordingFailsSession(t *testing.T) {
	dev := &mock.Device{}
	sub := &fakeSubmitter{}
	c, d := newController(t, dev, sub)

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(context.Background()))
	s := dev.Last()
	s.Emit([]byte("partial"))
	s.End(errors.New("device unplugged"))

	require.Eventually(t, func() bool {
		return c.Snapshot().State == session.StateIdle
	}, time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.Equal(t, "Error: recording failed: device unplugged", snap.Response)
	assert.NotErrorIs(t, snap.Err, capture.ErrDeviceUnavailable)
	assert.Zero(t, snap.PendingChunks)
	assert.Zero(t, sub.calls())
	assert.Eventually(t, func() bool {
		shown := d.shown()
		return shown[len(shown)-1] == snap.Response
	}, time.Second, 5*time.Millisecond)

	_, err := c.StopRecording(context.Background())
	assert.ErrorIs(t, err, session.ErrInvalidTransition)
}

func TestRecording_DeviceEndingBeforeAnyAudioIsUnavailable(t *testing.T) {
	dev := &mock.Device{}
	sub := &fakeSubmitter{}
	c, _ := newController(t, dev, sub)

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(context.Background()))
	dev.Last().End(nil)

	require.Eventually(t, func() bool {
		return c.Snapshot().State == session.StateIdle
	}, time.Second, 5*time.Millisecond)

	snap := c.Snapshot()
	assert.ErrorIs(t, snap.Err, capture.ErrDeviceUnavailable)
	assert.Contains(t, snap.Response, "Error: microphone access failed")
	assert.Zero(t, sub.calls())

	// The session is usable again.
	require.NoError(t, c.StartRecording(context.Background()))
	assert.Equal(t, 2, dev.Opens())
}

func TestStartRecording_RecorderWithoutInputIsUnavailable(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires a POSIX shell")
	}
	dev := command.New([]string{"sh", "-c", "echo 'audio open error: Host is down' >&2; exit 1"}, 0, "")
	sub := &fakeSubmitter{}
	c := New(dev, sub)
	require.NoError(t, c.SetMode(message.ModeAudio))

	err := c.StartRecording(context.Background())

	// A slow machine may let the grace period pass first; the collector then
	// fails the session with the same error.
	if err != nil {
		assert.ErrorIs(t, err, capture.ErrDeviceUnavailable)
	}
	require.Eventually(t, func() bool {
		return c.Snapshot().State == session.StateIdle
	}, 5*time.Second, 10*time.Millisecond)

	snap := c.Snapshot()
	assert.ErrorIs(t, snap.Err, capture.ErrDeviceUnavailable)
	assert.Contains(t, snap.Response, "audio open error: Host is down")
	assert.Zero(t, sub.calls())
}

func TestCancelRecording_DiscardsWithoutSubmitting(t *testing.T) {
	dev := &mock.Device{}
	sub := &fakeSubmitter{reply: "ok"}
	c, _ := newController(t, dev, sub)

	require.NoError(t, c.SetMode(message.ModeAudio))
	require.NoError(t, c.StartRecording(context.Background()))
	first := dev.Last()
	first.Emit([]byte("discard me"))

	require.NoError(t, c.CancelRecording())

	snap := c.Snapshot()
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Empty(t, snap.Response)
	assert.NoError(t, snap.Err)
	assert.Equal(t, 1, first.Stops())
	assert.Zero(t, sub.calls())

	// Late chunks from the cancelled stream do not leak into the next recording.
	require.NoError(t, c.StartRecording(context.Background()))
	first.Emit([]byte("stale"))
	dev.Last().Emit([]byte("fresh"))
	_, err := c.StopRecording(context.Background())
	require.NoError(t, err)
	require.Len(t, sub.payloads, 1)
	assert.Equal(t, []byte("fresh"), sub.payloads[0].Data)
}

func TestCancelRecording_WithoutRecordingIsRejected(t *testing.T) {
	c, _ := newController(t, &mock.Device{}, &fakeSubmitter{})
	assert.ErrorIs(t, c.CancelRecording(), session.ErrInvalidTransition)
}
