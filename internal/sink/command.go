package sink

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// Default sound names and shortcut names.
const (
	DefaultWorkEndSound    = "Funk"
	DefaultBreakEndSound   = "Glass"
	DefaultEnableShortcut  = "Enable Work Focus"
	DefaultDisableShortcut = "Disable Work Focus"

	// ShortcutTimeout bounds one run of the shortcuts CLI.
	ShortcutTimeout = 5 * time.Second

	// commandWaitDelay bounds how long a cancelled command may keep its
	// output pipes open through leftover children.
	commandWaitDelay = time.Second
)

// ErrUnsupported is returned where no command runner exists for this OS.
var ErrUnsupported = errors.New("not supported on this platform")

// lookPath is swapped in tests.
var lookPath = exec.LookPath

// ============================================================================
// CommandPlayer
// ============================================================================

// CommandPlayer plays sounds with afplay on macOS and paplay or aplay
// elsewhere.
type CommandPlayer struct {
	bin  string
	goos string
}

// NewCommandPlayer locates a sound command. The player is unavailable when
// none is installed.
func NewCommandPlayer() *CommandPlayer {
	p := &CommandPlayer{goos: runtime.GOOS}
	candidates := []string{"paplay", "aplay"}
	if p.goos == "darwin" {
		candidates = []string{"afplay"}
	}
	for _, name := range candidates {
		if path, err := lookPath(name); err == nil {
			p.bin = path
			break
		}
	}
	return p
}

func (p *CommandPlayer) Available() bool { return p.bin != "" }

func (p *CommandPlayer) Play(ctx context.Context, source string) error {
	if !p.Available() {
		return ErrUnsupported
	}
	if err := runCommand(ctx, p.bin, p.resolve(source)); err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(p.bin), err)
	}
	return nil
}

// freedesktopSounds maps the macOS system sound names used by default onto
// the closest freedesktop theme sounds.
var freedesktopSounds = map[string]string{
	"Funk":  "bell",
	"Glass": "complete",
}

// resolve turns a system sound name into a file path. Absolute paths pass
// through unchanged.
func (p *CommandPlayer) resolve(source string) string {
	if filepath.IsAbs(source) {
		return source
	}
	if p.goos == "darwin" {
		return filepath.Join("/System/Library/Sounds", source+".aiff")
	}
	name := strings.ToLower(source)
	if mapped, ok := freedesktopSounds[source]; ok {
		name = mapped
	}
	return filepath.Join("/usr/share/sounds/freedesktop/stereo", name+".oga")
}

// ============================================================================
// CommandSender
// ============================================================================

const notificationTitle = "Pomodoro Timer"

// CommandSender shows notifications with osascript on macOS and notify-send
// elsewhere.
type CommandSender struct {
	goos string
	run  func(ctx context.Context, name string, args ...string) error
}

func NewCommandSender() *CommandSender {
	return &CommandSender{goos: runtime.GOOS, run: runCommand}
}

func (s *CommandSender) SendWorkComplete(ctx context.Context, task *string) error {
	return s.send(ctx, "Work session complete. Time for a break.", task)
}

func (s *CommandSender) SendBreakComplete(ctx context.Context, task *string, long bool) error {
	body := "Break is over. Back to work."
	if long {
		body = "Long break is over. Back to work."
	}
	return s.send(ctx, body, task)
}

func (s *CommandSender) send(ctx context.Context, body string, task *string) error {
	subtitle := ""
	if task != nil {
		subtitle = *task
	}

	switch s.goos {
	case "darwin":
		script := fmt.Sprintf("display notification %s with title %s", appleQuote(body), appleQuote(notificationTitle))
		if subtitle != "" {
			script += " subtitle " + appleQuote(subtitle)
		}
		return s.run(ctx, "osascript", "-e", script)
	case "linux", "freebsd", "openbsd", "netbsd":
		if subtitle != "" {
			body = subtitle + ": " + body
		}
		return s.run(ctx, "notify-send", "--app-name=pomodoro", notificationTitle, body)
	}
	return ErrUnsupported
}

// appleQuote renders s as an AppleScript string literal.
func appleQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	return `"` + s + `"`
}

// ============================================================================
// ShortcutController
// ============================================================================

// ShortcutController toggles focus mode by running macOS Shortcuts.
type ShortcutController struct {
	enableName  string
	disableName string
	timeout     time.Duration
	run         func(ctx context.Context, name string, args ...string) error
}

func NewShortcutController(enableName, disableName string) *ShortcutController {
	return &ShortcutController{
		enableName:  enableName,
		disableName: disableName,
		timeout:     ShortcutTimeout,
		run:         runCommand,
	}
}

// Available reports whether the shortcuts CLI exists (macOS 12+).
func (c *ShortcutController) Available() bool {
	if runtime.GOOS != "darwin" {
		return false
	}
	_, err := lookPath("shortcuts")
	return err == nil
}

func (c *ShortcutController) Enable(ctx context.Context) error {
	return c.runShortcut(ctx, c.enableName)
}

func (c *ShortcutController) Disable(ctx context.Context) error {
	return c.runShortcut(ctx, c.disableName)
}

func (c *ShortcutController) runShortcut(ctx context.Context, name string) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := c.run(ctx, "shortcuts", "run", name); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("shortcut %q timed out after %s", name, c.timeout)
		}
		return fmt.Errorf("shortcut %q: %w", name, err)
	}
	return nil
}

// runCommand runs name and returns once it exits, or at most commandWaitDelay
// after ctx ends.
func runCommand(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.WaitDelay = commandWaitDelay
	out, err := cmd.CombinedOutput()
	if err != nil {
		if msg := strings.TrimSpace(string(out)); msg != "" {
			return fmt.Errorf("%w: %s", err, msg)
		}
		return err
	}
	return nil
}
