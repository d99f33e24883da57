package nodes

import (
	"genflow/pkg/clients/provider"
	"genflow/services/storage"
)

const (
	DefaultGenerateModel = "flux-schnell"
	DefaultEditModel     = "flux-kontext"
	DefaultResolution    = "1024x1024"

	defaultGeneratePrompt = "A beautiful, highly detailed image"
	defaultEditPrompt     = "Enhance this image"
)

// guidanceModels accept a guidance scale; other models reject the field.
var guidanceModels = map[string]bool{
	"flux-dev":     true,
	"flux-pro":     true,
	"flux-kontext": true,
	"sdxl":         true,
}

func supportsGuidance(model string) bool {
	return guidanceModels[model]
}

// uploadedImage reports a user-supplied local image on the node. Such nodes
// skip the provider entirely.
func uploadedImage(n storage.Node, now storage.ResultMetadata) (*storage.NodeResult, bool) {
	data, ok := n.ConfigString("uploadedImage")
	if !ok {
		return nil, false
	}
	ref, _ := n.ConfigString("uploadedAssetRef")
	now.InputsUsed = map[string]any{"mode": "local"}
	return &storage.NodeResult{
		Kind:     storage.ResultImage,
		Data:     data,
		AssetRef: ref,
		Metadata: now,
	}, true
}

// buildRequest shapes the provider request from node config and records
// what was sent in inputsUsed.
func buildRequest(n storage.Node, prompt, defaultModel string) (provider.Request, map[string]any) {
	model, ok := n.ConfigString("model")
	if !ok {
		model = defaultModel
	}
	req := provider.Request{Prompt: prompt, Model: model}
	used := map[string]any{"prompt": prompt, "model": model}

	if res, ok := n.ConfigString("resolution"); ok {
		req.Resolution = res
	} else if ar, ok := n.ConfigString("aspectRatio"); ok {
		req.AspectRatio = ar
	} else {
		req.Resolution = DefaultResolution
	}
	if req.Resolution != "" {
		used["resolution"] = req.Resolution
	} else {
		used["aspectRatio"] = req.AspectRatio
	}

	if steps, ok := n.ConfigNumber("steps"); ok && steps > 0 {
		req.Steps = int(steps)
		used["steps"] = req.Steps
	}
	if g, ok := n.ConfigNumber("guidance"); ok && supportsGuidance(model) {
		req.Guidance = &g
		used["guidance"] = g
	}
	if seed, ok := n.ConfigNumber("seed"); ok {
		s := int64(seed)
		req.Seed = &s
		used["seed"] = s
	}
	return req, used
}
