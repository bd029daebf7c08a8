package provider

import (
	"os"
	"strings"

	"github.com/comfy-endpoints/comfy-endpoints/internal/envfile"
)

// CredentialStoreService names the entry under which the API key may be
// stored in an OS credential store.
const CredentialStoreService = "COMFY_ENDPOINTS_RUNPOD_API_KEY"

// CredentialStoreAccountVar overrides the credential store account name;
// when unset the current OS user is used.
const CredentialStoreAccountVar = "COMFY_ENDPOINTS_RUNPOD_KEYCHAIN_ACCOUNT"

// CredentialStore looks up a secret in an external credential store, such as
// the macOS Keychain. Implementations live outside this package; a nil store
// skips the lookup.
type CredentialStore interface {
	Lookup(service, account string) (string, bool)
}

// ResolveAPIKey resolves the provider API key through the documented chain:
// explicit environment variable, then the project env file, then the OS
// credential store. A missing key is an AuthError since no provider call can
// succeed without one.
func ResolveAPIKey(providerName, envVar string, store CredentialStore) (string, error) {
	if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
		return key, nil
	}

	if _, err := envfile.LoadLocal(); err == nil {
		if key := strings.TrimSpace(os.Getenv(envVar)); key != "" {
			return key, nil
		}
	}

	if store != nil {
		account := strings.TrimSpace(os.Getenv(CredentialStoreAccountVar))
		if account == "" {
			account = strings.TrimSpace(os.Getenv("USER"))
		}
		if account != "" {
			if key, ok := store.Lookup(CredentialStoreService, account); ok && strings.TrimSpace(key) != "" {
				return strings.TrimSpace(key), nil
			}
		}
	}

	return "", &AuthError{
		Provider: providerName,
		Detail:   "missing API key: set " + envVar + " or store it under credential store service " + CredentialStoreService,
	}
}
