// Audipro is a terminal chat client for the AudiPro assistant. Messages are
// typed or recorded from the microphone and answered by audipro-server.
//
// Usage:
//
//	audipro [flags]
//	audipro -mode audio
//	audipro -message "which headphones for mixing?"
//	audipro -audio-file question.wav
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/nadzzz/audipro/internal/capture"
	"github.com/nadzzz/audipro/internal/capture/command"
	"github.com/nadzzz/audipro/internal/capture/file"
	"github.com/nadzzz/audipro/internal/chat"
	"github.com/nadzzz/audipro/internal/chatclient"
	"github.com/nadzzz/audipro/internal/config"
	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/session"
)

// version is set at build time via ldflags.
var version = "dev"

const help = `commands:
  /type    switch to text input
  /speak   switch to voice input
  /record  start recording
  /stop    stop recording and send it
  /quit    exit
in voice mode an empty line starts and stops the recording`

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configFile := flag.String("config", "", "path to config file (e.g. configs/audipro.yaml)")
	mode := flag.String("mode", "", "input mode: text or audio (overrides client.mode)")
	oneMessage := flag.String("message", "", "send one text message, print the reply and exit")
	audioFile := flag.String("audio-file", "", "send one recording from a file, print the reply and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("audipro %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Client.Mode = *mode
	}
	if *audioFile != "" {
		cfg.Client.Mode = string(message.ModeAudio)
		cfg.Client.Capture.Backend = "file"
		cfg.Client.Capture.File = *audioFile
	}
	if err := cfg.ValidateClient(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Stdout is the chat display.
	config.SetupLogging(cfg.Logging, os.Stderr)

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	ctrl := chat.New(newDevice(cfg.Client.Capture),
		chatclient.New(cfg.Client.Endpoint, cfg.Client.Timeout))
	if err := ctrl.SetMode(message.Mode(cfg.Client.Mode)); err != nil {
		slog.Error("invalid mode", "error", err)
		os.Exit(1)
	}

	switch {
	case *oneMessage != "":
		err = sendOnce(ctx, ctrl, *oneMessage)
	case *audioFile != "":
		err = recordOnce(ctx, ctrl)
	default:
		d := &display{w: os.Stdout}
		ctrl.Subscribe(d.show)
		err = repl(ctx, ctrl, os.Stdin, os.Stdout)
	}
	if err != nil {
		os.Exit(1)
	}
}

func newDevice(cfg config.CaptureConfig) capture.Device {
	if cfg.Backend == "file" {
		return file.New(cfg.File, cfg.ChunkSize, cfg.ContentType)
	}
	return command.New(cfg.Command, cfg.ChunkSize, cfg.ContentType)
}

func sendOnce(ctx context.Context, ctrl *chat.Controller, text string) error {
	reply, err := ctrl.SubmitText(ctx, text)
	if err != nil {
		fmt.Println(message.ErrorText(err))
		return err
	}
	fmt.Println(reply)
	return nil
}

func recordOnce(ctx context.Context, ctrl *chat.Controller) error {
	if err := ctrl.StartRecording(ctx); err != nil {
		fmt.Println(message.ErrorText(err))
		return err
	}
	reply, err := ctrl.StopRecording(ctx)
	if err != nil {
		fmt.Println(message.ErrorText(err))
		return err
	}
	fmt.Println(reply)
	return nil
}

// repl reads commands and messages from in until /quit, EOF or ctx is done.
// The returned error is always nil: failures are shown, not fatal.
func repl(ctx context.Context, ctrl *chat.Controller, in io.Reader, out io.Writer) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			lines <- sc.Text()
		}
	}()

	fmt.Fprintf(out, "audipro %s, talking to the assistant in %s mode (/help for commands)\n",
		version, ctrl.Snapshot().Mode)

	for {
		var line string
		select {
		case <-ctx.Done():
			stopIfRecording(ctrl)
			return nil
		case l, ok := <-lines:
			if !ok {
				stopIfRecording(ctrl)
				return nil
			}
			line = l
		}

		if quit := handleLine(ctx, ctrl, out, line); quit {
			stopIfRecording(ctrl)
			return nil
		}
	}
}

// handleLine runs one line of input and reports whether the user asked to quit.
func handleLine(ctx context.Context, ctrl *chat.Controller, out io.Writer, line string) bool {
	var err error
	switch strings.TrimSpace(line) {
	case "/quit", "/exit":
		return true
	case "/help":
		fmt.Fprintln(out, help)
	case "/type":
		err = ctrl.SetMode(message.ModeText)
		if err == nil {
			fmt.Fprintln(out, "text mode")
		}
	case "/speak":
		err = ctrl.SetMode(message.ModeAudio)
		if err == nil {
			fmt.Fprintln(out, "voice mode: press Enter to start and stop recording")
		}
	case "/record":
		err = ctrl.StartRecording(ctx)
	case "/stop":
		_, err = ctrl.StopRecording(ctx)
	case "":
		if ctrl.Snapshot().Mode != message.ModeAudio {
			return false
		}
		if ctrl.Snapshot().Recording() {
			_, err = ctrl.StopRecording(ctx)
		} else {
			err = ctrl.StartRecording(ctx)
		}
	default:
		if ctrl.Snapshot().Mode == message.ModeAudio {
			fmt.Fprintln(out, "voice mode: press Enter to record, or /type to type")
			return false
		}
		_, err = ctrl.SubmitText(ctx, line)
	}

	// Request failures are already the visible response; only precondition
	// errors need their own line.
	if errors.Is(err, session.ErrInvalidTransition) {
		fmt.Fprintln(out, message.ErrorText(err))
	} else if err != nil {
		slog.Debug("command failed", "error", err)
	}
	return false
}

func stopIfRecording(ctrl *chat.Controller) {
	if !ctrl.Snapshot().Recording() {
		return
	}
	if err := ctrl.CancelRecording(); err != nil {
		slog.Debug("discarding recording failed", "error", err)
	}
}

// display prints each new response once, plus a marker while recording.
type display struct {
	w io.Writer

	mu        sync.Mutex
	lastState session.State
	last      string
}

func (d *display) show(s session.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if s.State != d.lastState {
		switch s.State {
		case session.StateRecording:
			fmt.Fprintln(d.w, "● recording, press Enter to send")
		case session.StateFinalizing:
			fmt.Fprintln(d.w, "■ stopped")
		}
		d.lastState = s.State
	}

	if s.Response == d.last {
		return
	}
	d.last = s.Response
	if s.Response != "" {
		fmt.Fprintf(d.w, "assistant> %s\n", s.Response)
	}
}
