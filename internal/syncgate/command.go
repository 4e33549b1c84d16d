package syncgate

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"slices"
	"strings"
	"time"
)

// CommandSyncer runs an external pull command (git pull by default) inside
// the working copy and classifies its standard output.
type CommandSyncer struct {
	dir     string
	command []string
	markers []string
}

// NewCommandSyncer creates a syncer running command in dir. Output equal to
// one of markers, or empty output, means nothing changed.
func NewCommandSyncer(dir string, command []string, markers []string) *CommandSyncer {
	return &CommandSyncer{
		dir:     dir,
		command: command,
		markers: markers,
	}
}

func (s *CommandSyncer) Sync(ctx context.Context) Result {
	if len(s.command) == 0 {
		return Failed(fmt.Errorf("sync command is empty"))
	}

	cmd := exec.CommandContext(ctx, s.command[0], s.command[1:]...)
	cmd.Dir = s.dir
	cmd.WaitDelay = 2 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	name := strings.Join(s.command, " ")

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Failed(fmt.Errorf("%s: %w", name, ctxErr))
		}
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return Failed(fmt.Errorf("%s: %w: %s", name, err, msg))
		}
		return Failed(fmt.Errorf("%s: %w", name, err))
	}

	output := strings.TrimSpace(stdout.String())
	if output == "" || slices.Contains(s.markers, output) {
		return NoChange()
	}

	return Changed(output)
}
