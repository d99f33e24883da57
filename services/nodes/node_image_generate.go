package nodes

import (
	"context"
	"log/slog"

	"genflow/pkg/clients/provider"
	"genflow/services/storage"
)

// ImageGenerateNode renders an image from a prompt, optionally guided by an
// upstream reference image.
type ImageGenerateNode struct {
	provider provider.Client
}

func NewImageGenerateNode(p provider.Client) *ImageGenerateNode {
	return &ImageGenerateNode{provider: p}
}

func (n *ImageGenerateNode) Execute(ctx context.Context, in *Input) (*storage.NodeResult, error) {
	meta := storage.ResultMetadata{Timestamp: in.Now}
	if local, ok := uploadedImage(in.Node, meta); ok {
		return local, nil
	}

	prompt := in.Prompt(defaultGeneratePrompt)
	req, used := buildRequest(in.Node, prompt, DefaultGenerateModel)
	img, hasImage := in.Image(ctx)
	if hasImage {
		req.ReferenceImages = []string{img}
	}
	used["hasImageInput"] = hasImage

	slog.Debug("generating image", "nodeId", in.Node.ID, "model", req.Model, "hasImageInput", hasImage)

	resp, err := n.provider.GenerateImage(ctx, req)
	if err != nil {
		return nil, err
	}
	return providerResult(resp, req.Model, meta, used), nil
}

func providerResult(resp *provider.Response, model string, meta storage.ResultMetadata, used map[string]any) *storage.NodeResult {
	if resp.ExecutionID != "" {
		used["providerExecutionId"] = resp.ExecutionID
	}
	meta.Model = model
	meta.InputsUsed = used
	return &storage.NodeResult{
		Kind:     storage.ResultImage,
		Data:     resp.ImageURL,
		AssetRef: resp.AssetRef,
		Metadata: meta,
	}
}
