// Package display discovers the outputs of the host Wayland compositor so
// they can seed the output registry.
package display

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/bnema/waypolicy/internal/logger"
)

// discoverTimeout bounds a wlr-randr run.
const discoverTimeout = 5 * time.Second

// Monitor is one enabled output of the host compositor
type Monitor struct {
	Name   string
	X      int32 // Position in global coordinate space
	Y      int32
	Width  int32
	Height int32
	Scale  float64
}

type wlrOutput struct {
	Name    string `json:"name"`
	Enabled bool   `json:"enabled"`
	Modes   []struct {
		Width   int     `json:"width"`
		Height  int     `json:"height"`
		Refresh float64 `json:"refresh"`
		Current bool    `json:"current"`
	} `json:"modes"`
	Position struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"position"`
	Scale float64 `json:"scale"`
}

// Discover lists the enabled outputs reported by wlr-randr.
func Discover(ctx context.Context) ([]Monitor, error) {
	if _, err := exec.LookPath("wlr-randr"); err != nil {
		return nil, fmt.Errorf("wlr-randr not found. Please install wlr-randr: https://gitlab.freedesktop.org/emersion/wlr-randr")
	}

	ctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, "wlr-randr", "--json").Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			logger.Errorf("wlr-randr --json error: %s", string(exitErr.Stderr))
		}
		return nil, fmt.Errorf("failed to run wlr-randr: %w", err)
	}
	logger.Debugf("wlr-randr --json output: %s", string(output))

	return ParseWlrRandr(output)
}

// ParseWlrRandr decodes `wlr-randr --json` output. Disabled outputs and
// outputs without a current mode are skipped.
func ParseWlrRandr(data []byte) ([]Monitor, error) {
	var outputs []wlrOutput
	if err := json.Unmarshal(data, &outputs); err != nil {
		return nil, fmt.Errorf("failed to parse wlr-randr output: %w", err)
	}

	var monitors []Monitor
	for _, out := range outputs {
		if !out.Enabled {
			continue
		}

		m := Monitor{
			Name:  out.Name,
			X:     int32(out.Position.X),
			Y:     int32(out.Position.Y),
			Scale: out.Scale,
		}
		for _, mode := range out.Modes {
			if mode.Current {
				m.Width, m.Height = int32(mode.Width), int32(mode.Height)
				break
			}
		}
		if m.Scale == 0 {
			m.Scale = 1.0
		}

		if m.Width == 0 || m.Height == 0 {
			logger.Warnf("Skipping monitor %s without a current mode", out.Name)
			continue
		}
		monitors = append(monitors, m)
	}

	if len(monitors) == 0 {
		return nil, fmt.Errorf("no active monitors found")
	}
	return monitors, nil
}
