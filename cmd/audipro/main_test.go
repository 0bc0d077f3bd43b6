package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nadzzz/audipro/internal/capture/mock"
	"github.com/nadzzz/audipro/internal/chat"
	"github.com/nadzzz/audipro/internal/chatclient"
	"github.com/nadzzz/audipro/internal/config"
	"github.com/nadzzz/audipro/internal/dispatch"
	"github.com/nadzzz/audipro/internal/interpreter/echo"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/session"
	httptransport "github.com/nadzzz/audipro/internal/transport/http"
)

func newController(t *testing.T) (*chat.Controller, *bytes.Buffer) {
	t.Helper()
	tr := httptransport.New(config.HTTPConfig{}, nil)
	srv := httptest.NewServer(tr.Handler(dispatch.New(echo.New(), nil).Handle))
	t.Cleanup(srv.Close)

	ctrl := chat.New(&mock.Device{}, chatclient.New(srv.URL, 0))
	var out bytes.Buffer
	d := &display{w: &out}
	ctrl.Subscribe(d.show)
	return ctrl, &out
}

func TestREPL_TextThenVoice(t *testing.T) {
	ctrl, out := newController(t)

	in := strings.NewReader("hello\n/speak\n\n\n/quit\n")
	require.NoError(t, repl(context.Background(), ctrl, in, out))

	got := out.String()
	assert.Contains(t, got, "assistant> ...\n")
	assert.Contains(t, got, "assistant> You typed: hello\n")
	assert.Contains(t, got, "● recording")
	assert.Contains(t, got, "assistant> Processing...\n")
	assert.Contains(t, got, "assistant> Error: request failed with status code 501\n")
	assert.Less(t, strings.Index(got, "You typed: hello"), strings.Index(got, "Processing..."))
	assert.Equal(t, session.StateIdle, ctrl.Snapshot().State)
}

func TestREPL_StopWithoutRecording(t *testing.T) {
	ctrl, out := newController(t)

	require.NoError(t, repl(context.Background(), ctrl, strings.NewReader("/stop\n"), out))
	assert.Contains(t, out.String(), message.ErrorPrefix)
	assert.Contains(t, out.String(), "stop recording")
}

func TestREPL_TypedLineInVoiceModeIsNotSent(t *testing.T) {
	ctrl, out := newController(t)
	require.NoError(t, ctrl.SetMode(message.ModeAudio))

	require.NoError(t, repl(context.Background(), ctrl, strings.NewReader("hello\n"), out))
	assert.Contains(t, out.String(), "press Enter to record")
	assert.NotContains(t, out.String(), "assistant>")
}

func TestREPL_BlankLineInTextModeIsIgnored(t *testing.T) {
	ctrl, out := newController(t)

	require.NoError(t, repl(context.Background(), ctrl, strings.NewReader("   \n\n"), out))
	assert.NotContains(t, out.String(), "assistant>")
}

func TestREPL_EOFDropsRecording(t *testing.T) {
	ctrl, out := newController(t)
	require.NoError(t, ctrl.SetMode(message.ModeAudio))

	require.NoError(t, repl(context.Background(), ctrl, strings.NewReader("/record\n"), out))
	snap := ctrl.Snapshot()
	assert.Equal(t, session.StateIdle, snap.State)
	assert.Empty(t, snap.Response, "a dropped recording is never submitted")
}

func TestNewDevice(t *testing.T) {
	assert.Equal(t, "file", newDevice(config.CaptureConfig{Backend: "file", File: "a.wav"}).Name())
	assert.Equal(t, "command", newDevice(config.CaptureConfig{Backend: "command"}).Name())
}
