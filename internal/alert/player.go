package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

var ErrNoPlayer = errors.New("no audio player configured")

// CommandPlayer pipes the rendered WAV into an external program, e.g.
// "aplay -q" or "paplay".
type CommandPlayer struct {
	Name       string
	Args       []string
	SampleRate int
}

func NewCommandPlayer(name string, args ...string) *CommandPlayer {
	return &CommandPlayer{Name: name, Args: args, SampleRate: DefaultSampleRate}
}

func (p *CommandPlayer) Play(ctx context.Context, pattern []Tone) error {
	if p == nil || p.Name == "" {
		return ErrNoPlayer
	}

	wav, err := RenderWAV(pattern, p.SampleRate)
	if err != nil {
		return err
	}

	cmd := exec.CommandContext(ctx, p.Name, p.Args...)
	cmd.Stdin = bytes.NewReader(wav)

	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("run %s: %w (%s)", p.Name, err, bytes.TrimSpace(out))
	}
	return nil
}
