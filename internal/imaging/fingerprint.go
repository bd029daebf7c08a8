// Package imaging derives deterministic, content-addressed image tags for
// the two images a deploy depends on: the comfybase runtime image and the
// fully-baked golden image.
//
// Tags are pure functions of their declared inputs. Identical inputs always
// produce the identical tag across machines and runs, so a registry hit on a
// derived tag means the image contents are already correct and no rebuild is
// needed. No timestamps, hostnames, or random salts ever enter a fingerprint.
package imaging

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/comfy-endpoints/comfy-endpoints/models"
)

// fingerprintLen is the number of hex characters kept from the digest.
const fingerprintLen = 12

// InputUnavailableError reports a fingerprint input that could not be read,
// typically a missing Dockerfile or workflow file.
type InputUnavailableError struct {
	Input string
	Err   error
}

func (e *InputUnavailableError) Error() string {
	return fmt.Sprintf("fingerprint input unavailable: %s: %v", e.Input, e.Err)
}

func (e *InputUnavailableError) Unwrap() error { return e.Err }

// Fingerprint hashes the given inputs in order. Inputs are joined with a
// newline separator after length-prefixing each one, which makes the
// concatenation unambiguous: ("ab","c") and ("a","bc") hash differently.
func Fingerprint(inputs ...string) string {
	var b strings.Builder
	for _, input := range inputs {
		fmt.Fprintf(&b, "%d:%s\n", len(input), input)
	}
	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:])[:fingerprintLen]
}

// ContentDigest returns the full sha256 hex digest of raw content.
func ContentDigest(content []byte) string {
	digest := sha256.Sum256(content)
	return hex.EncodeToString(digest[:])
}

// ComfyBaseFingerprint derives the comfybase image fingerprint from the
// pinned runtime version, the upstream engine source ref, and the base
// Dockerfile contents.
func ComfyBaseFingerprint(comfyVersion, engineRepo, engineRef string, dockerfile []byte) string {
	return Fingerprint(
		"comfy_version="+comfyVersion,
		"engine="+engineRepo+"@"+engineRef,
		"dockerfile_sha256="+ContentDigest(dockerfile),
	)
}

// GoldenFingerprint derives the golden image fingerprint. It depends on the
// resolved comfybase reference, so the golden tag can only be computed after
// the base tag is known.
func GoldenFingerprint(appSourceDigest string, dockerfile []byte, comfyBaseRef string) string {
	return Fingerprint(
		"app_source_sha256="+appSourceDigest,
		"dockerfile_sha256="+ContentDigest(dockerfile),
		"comfybase="+comfyBaseRef,
	)
}

// AppSourceDigest hashes the app-controlled inputs baked into a golden
// image: app identity, version, pinned plugin refs, and the workflow
// definition. Plugin refs are sorted so declaration order does not change
// the digest.
func AppSourceDigest(spec *models.AppSpec, workflow []byte) string {
	refs := make([]string, 0, len(spec.Build.Plugins))
	for _, plugin := range spec.Build.Plugins {
		refs = append(refs, plugin.Repo+"@"+plugin.Ref)
	}
	sort.Strings(refs)

	inputs := []string{
		"app_id=" + spec.AppID,
		"version=" + spec.Version,
		"workflow_sha256=" + ContentDigest(workflow),
	}
	for _, ref := range refs {
		inputs = append(inputs, "plugin="+ref)
	}

	digest := sha256.Sum256([]byte(strings.Join(inputs, "\n")))
	return hex.EncodeToString(digest[:])
}
