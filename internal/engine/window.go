package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/loqalabs/loqa-grammar/internal/grammar"
)

// WindowSource reports the foreground window at the start of an utterance.
type WindowSource interface {
	ActiveWindow(ctx context.Context) (grammar.Window, error)
}

// StaticWindow always reports the same window.
type StaticWindow grammar.Window

func (s StaticWindow) ActiveWindow(context.Context) (grammar.Window, error) {
	return grammar.Window(s), nil
}

// HyprlandWindow queries the focused window through hyprctl.
type HyprlandWindow struct {
	// Command defaults to "hyprctl".
	Command string
}

type hyprWindow struct {
	Address      string `json:"address"`
	Class        string `json:"class"`
	InitialClass string `json:"initialClass"`
	Title        string `json:"title"`
}

func (h HyprlandWindow) ActiveWindow(ctx context.Context) (grammar.Window, error) {
	command := h.Command
	if command == "" {
		command = "hyprctl"
	}
	out, err := exec.CommandContext(ctx, command, "-j", "activewindow").CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return grammar.Window{}, fmt.Errorf("%s activewindow failed: %w", command, err)
		}
		return grammar.Window{}, fmt.Errorf("%s activewindow failed: %w (%s)", command, err, trimmed)
	}

	var hw hyprWindow
	if err := json.Unmarshal(out, &hw); err != nil {
		return grammar.Window{}, fmt.Errorf("decode hyprctl activewindow json: %w", err)
	}
	address := strings.TrimSpace(hw.Address)
	if address == "" {
		return grammar.Window{}, fmt.Errorf("hyprctl activewindow returned empty address")
	}
	win := grammar.Window{
		Executable: strings.TrimSpace(hw.Class),
		Title:      strings.TrimSpace(hw.Title),
	}
	if win.Executable == "" {
		win.Executable = strings.TrimSpace(hw.InitialClass)
	}
	if handle, err := strconv.ParseUint(strings.TrimPrefix(address, "0x"), 16, 64); err == nil {
		win.Handle = handle
	}
	return win, nil
}
