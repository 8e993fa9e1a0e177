// Package playback plays synthesized audio. A Player plays one clip at a
// time and must return promptly once its context is cancelled.
package playback

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"
)

// Clip is synthesized speech ready to play.
type Clip struct {
	Audio  []byte
	Format string
	Text   string
}

// Player plays clips. Play blocks until the clip finishes or ctx ends.
type Player interface {
	Play(ctx context.Context, clip Clip) error
}

// PlayerFunc adapts a function to Player.
type PlayerFunc func(ctx context.Context, clip Clip) error

// Play implements Player.
func (f PlayerFunc) Play(ctx context.Context, clip Clip) error { return f(ctx, clip) }

// DiscardPlayer drops audio, optionally holding for a simulated duration.
type DiscardPlayer struct {
	Duration func(Clip) time.Duration
}

// Play implements Player.
func (p DiscardPlayer) Play(ctx context.Context, clip Clip) error {
	if p.Duration == nil {
		return ctx.Err()
	}
	t := time.NewTimer(p.Duration(clip))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FilePlayer writes each clip to a numbered file in Dir.
type FilePlayer struct {
	Dir string

	mu    sync.Mutex
	count int
	paths []string
}

// Play implements Player.
func (p *FilePlayer) Play(ctx context.Context, clip Clip) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(p.Dir, 0o755); err != nil {
		return fmt.Errorf("create playback dir: %w", err)
	}
	ext := clip.Format
	if ext == "" {
		ext = "bin"
	}

	p.mu.Lock()
	p.count++
	path := filepath.Join(p.Dir, fmt.Sprintf("reply_%03d.%s", p.count, ext))
	p.mu.Unlock()

	if err := os.WriteFile(path, clip.Audio, 0o644); err != nil {
		return fmt.Errorf("write clip: %w", err)
	}
	p.mu.Lock()
	p.paths = append(p.paths, path)
	p.mu.Unlock()
	return nil
}

// Paths lists the files written so far.
func (p *FilePlayer) Paths() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.paths...)
}

// CommandPlayer pipes each clip into an external player process, such as
// "ffplay -nodisp -autoexit -". Cancelling ctx kills the process.
type CommandPlayer struct {
	Name string
	Args []string
}

// Play implements Player.
func (p CommandPlayer) Play(ctx context.Context, clip Clip) error {
	cmd := exec.CommandContext(ctx, p.Name, p.Args...)
	cmd.Stdin = bytes.NewReader(clip.Audio)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%s: %w: %s", p.Name, err, bytes.TrimSpace(stderr.Bytes()))
	}
	return nil
}
