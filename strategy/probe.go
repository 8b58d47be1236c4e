package strategy

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"

	"mediapreview/models"
)

// Prober reads the frame size of the first video stream in input.
type Prober interface {
	Probe(ctx context.Context, input string) (*models.VideoInfo, error)
}

// FFprobe runs the ffprobe binary at Path ("ffprobe" when empty).
type FFprobe struct {
	Path string
}

type probeOutput struct {
	Streams []struct {
		Width  int `json:"width"`
		Height int `json:"height"`
	} `json:"streams"`
}

func (f FFprobe) Probe(ctx context.Context, input string) (*models.VideoInfo, error) {
	bin := f.Path
	if bin == "" {
		bin = "ffprobe"
	}
	out, err := exec.CommandContext(ctx, bin,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height",
		"-of", "json",
		input,
	).Output()
	if err != nil {
		return nil, fmt.Errorf("ffprobe %s: %w", input, err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (*models.VideoInfo, error) {
	var po probeOutput
	if err := json.Unmarshal(out, &po); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}
	if len(po.Streams) == 0 || po.Streams[0].Width == 0 {
		return nil, nil
	}
	return &models.VideoInfo{Width: po.Streams[0].Width, Height: po.Streams[0].Height}, nil
}
