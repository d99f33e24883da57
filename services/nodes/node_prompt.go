package nodes

import (
	"context"

	"genflow/services/storage"
)

// PromptNode passes its configured text downstream. It never calls a
// provider.
type PromptNode struct{}

func (PromptNode) Execute(_ context.Context, in *Input) (*storage.NodeResult, error) {
	text, _ := in.Node.ConfigString("prompt")
	return &storage.NodeResult{
		Kind: storage.ResultText,
		Data: text,
		Metadata: storage.ResultMetadata{
			Timestamp:  in.Now,
			InputsUsed: map[string]any{"prompt": text},
		},
	}, nil
}
