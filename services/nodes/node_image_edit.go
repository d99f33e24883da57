package nodes

import (
	"context"
	"log/slog"

	"genflow/pkg/clients/provider"
	"genflow/services/storage"
)

// ImageEditNode transforms an upstream image according to a prompt. Unlike
// generation it cannot run without an input image.
type ImageEditNode struct {
	provider provider.Client
}

func NewImageEditNode(p provider.Client) *ImageEditNode {
	return &ImageEditNode{provider: p}
}

func (n *ImageEditNode) Execute(ctx context.Context, in *Input) (*storage.NodeResult, error) {
	meta := storage.ResultMetadata{Timestamp: in.Now}
	if local, ok := uploadedImage(in.Node, meta); ok {
		return local, nil
	}

	img, ok := in.Image(ctx)
	if !ok {
		return nil, ErrImageInputRequired
	}

	prompt := in.Prompt(defaultEditPrompt)
	req, used := buildRequest(in.Node, prompt, DefaultEditModel)
	req.ReferenceImages = []string{img}
	used["hasImageInput"] = true

	slog.Debug("editing image", "nodeId", in.Node.ID, "model", req.Model)

	resp, err := n.provider.GenerateImage(ctx, req)
	if err != nil {
		return nil, err
	}
	return providerResult(resp, req.Model, meta, used), nil
}
