package detector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os/exec"
	"strconv"
	"strings"
)

const frameChannelBuffer = 64

// CommandDetector runs the detector/tracker as a sidecar process and parses
// the JSON lines it prints to stdout, one Frame object per line.
type CommandDetector struct {
	command string
	args    []string
}

// NewCommandDetector resolves the sidecar binary. Extra args are prepended to
// the per-run flags.
func NewCommandDetector(command string, args ...string) (*CommandDetector, error) {
	path, err := exec.LookPath(command)
	if err != nil {
		return nil, fmt.Errorf("detector command %q not found in PATH: %w", command, err)
	}
	log.Printf("Found detector at: %s", path)

	return &CommandDetector{command: path, args: args}, nil
}

func (d *CommandDetector) Detect(ctx context.Context, videoPath string, cfg Config) (<-chan Frame, <-chan error) {
	frames := make(chan Frame, frameChannelBuffer)
	errs := make(chan error, 1)

	go func() {
		defer close(frames)
		defer close(errs)

		args := append([]string{}, d.args...)
		args = append(args,
			"--input", videoPath,
			"--confidence", strconv.FormatFloat(cfg.ConfidenceThreshold, 'f', -1, 64),
			"--iou", strconv.FormatFloat(cfg.IOUThreshold, 'f', -1, 64),
		)
		if cfg.OutputPath != "" {
			args = append(args, "--output", cfg.OutputPath)
		}

		cmd := exec.CommandContext(ctx, d.command, args...)

		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- fmt.Errorf("failed to open detector stdout: %w", err)
			return
		}

		var stderr bytes.Buffer
		cmd.Stderr = &stderr

		if err := cmd.Start(); err != nil {
			errs <- fmt.Errorf("failed to start detector: %w", err)
			return
		}

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line == "" {
				continue
			}

			var frame Frame
			if err := json.Unmarshal([]byte(line), &frame); err != nil {
				cmd.Process.Kill()
				cmd.Wait()
				errs <- fmt.Errorf("malformed detector output: %w", err)
				return
			}

			select {
			case frames <- frame:
			case <-ctx.Done():
				cmd.Wait()
				errs <- ctx.Err()
				return
			}
		}

		if err := scanner.Err(); err != nil {
			cmd.Wait()
			errs <- fmt.Errorf("failed reading detector output: %w", err)
			return
		}

		if err := cmd.Wait(); err != nil {
			if ctx.Err() != nil {
				errs <- ctx.Err()
				return
			}
			errs <- fmt.Errorf("detector exited with error: %w: %s", err, strings.TrimSpace(stderr.String()))
		}
	}()

	return frames, errs
}
