package provider

import (
	"fmt"

	"github.com/comfy-endpoints/comfy-endpoints/internal/config"
)

// New builds the adapter for the named provider. Names outside the spec
// format's provider enum are an error; names inside it without an adapter
// get the Unsupported placeholder.
func New(name string, cfg config.ProviderConfig, store CredentialStore) (Provider, error) {
	switch name {
	case runpodName:
		return NewRunPod(cfg, store)
	case "vast", "lambda", "aws", "gcp":
		return NewUnsupported(name), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}
