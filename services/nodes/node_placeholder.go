package nodes

import (
	"context"
	"time"

	"genflow/services/storage"
)

const (
	placeholderVideoURL      = "https://placeholder.genflow.dev/video/sample.mp4"
	placeholderBackgroundURL = "https://placeholder.genflow.dev/image/background.png"
)

// VideoNode stands in for a video provider: it waits, then returns a fixed
// clip.
type VideoNode struct {
	latency time.Duration
}

func (n *VideoNode) Execute(ctx context.Context, in *Input) (*storage.NodeResult, error) {
	prompt := in.Prompt(defaultGeneratePrompt)
	if err := sleep(ctx, n.latency); err != nil {
		return nil, err
	}
	return &storage.NodeResult{
		Kind: storage.ResultVideo,
		Data: placeholderVideoURL,
		Metadata: storage.ResultMetadata{
			Timestamp:  in.Now,
			Model:      "placeholder",
			InputsUsed: map[string]any{"prompt": prompt, "mode": "placeholder"},
		},
	}, nil
}

// BackgroundReplaceNode stands in for a background replacement provider.
// It echoes the upstream image when there is one.
type BackgroundReplaceNode struct {
	latency time.Duration
}

func (n *BackgroundReplaceNode) Execute(ctx context.Context, in *Input) (*storage.NodeResult, error) {
	img, hasImage := in.Image(ctx)
	if err := sleep(ctx, n.latency); err != nil {
		return nil, err
	}
	data := placeholderBackgroundURL
	if hasImage {
		data = img
	}
	return &storage.NodeResult{
		Kind: storage.ResultImage,
		Data: data,
		Metadata: storage.ResultMetadata{
			Timestamp:  in.Now,
			Model:      "placeholder",
			InputsUsed: map[string]any{"mode": "placeholder", "hasImageInput": hasImage},
		},
	}, nil
}
