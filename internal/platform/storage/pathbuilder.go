package storage

import (
	"fmt"
	"strings"
	"sync"
)

// AssetPurpose captures high-level intent for storage layout decisions.
type AssetPurpose string

const (
	PurposeReference       AssetPurpose = "reference"
	PurposeDraft           AssetPurpose = "draft"
	PurposeFinalProof      AssetPurpose = "final-proof"
	PurposeProduction      AssetPurpose = "production"
	PurposeDisputeEvidence AssetPurpose = "dispute-evidence"
)

// PathParams provide required identifiers to compose storage object keys.
type PathParams struct {
	RequestID string
	DisputeID string
	FileName  string
}

// PathBuilder composes the object path for a given asset purpose.
type PathBuilder func(PathParams) (string, error)

var (
	pathBuilders = map[AssetPurpose]PathBuilder{
		PurposeReference:       requestAttachmentBuilder("reference"),
		PurposeDraft:           requestAttachmentBuilder("drafts"),
		PurposeFinalProof:      requestAttachmentBuilder("final-proofs"),
		PurposeProduction:      requestAttachmentBuilder("production"),
		PurposeDisputeEvidence: buildDisputeEvidencePath,
	}
	pathBuildersMu sync.RWMutex
)

// RegisterPathBuilder overrides or registers a builder for a specific purpose.
func RegisterPathBuilder(purpose AssetPurpose, builder PathBuilder) {
	pathBuildersMu.Lock()
	defer pathBuildersMu.Unlock()
	if builder == nil {
		delete(pathBuilders, purpose)
		return
	}
	pathBuilders[purpose] = builder
}

// BuildObjectPath resolves the storage object path for the given purpose.
func BuildObjectPath(purpose AssetPurpose, params PathParams) (string, error) {
	pathBuildersMu.RLock()
	builder, ok := pathBuilders[purpose]
	pathBuildersMu.RUnlock()
	if !ok {
		return "", fmt.Errorf("storage: unsupported asset purpose %q", purpose)
	}
	return builder(params)
}

func requestAttachmentBuilder(segment string) PathBuilder {
	return func(params PathParams) (string, error) {
		requestID, err := validateSegment("requestID", params.RequestID)
		if err != nil {
			return "", err
		}
		fileName, err := validateFileName(params.FileName)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("requests/%s/%s/%s", requestID, segment, fileName), nil
	}
}

func buildDisputeEvidencePath(params PathParams) (string, error) {
	disputeID, err := validateSegment("disputeID", params.DisputeID)
	if err != nil {
		return "", err
	}
	fileName, err := validateFileName(params.FileName)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("disputes/%s/evidence/%s", disputeID, fileName), nil
}

func validateSegment(name, value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: %s is required", name)
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: %s contains invalid path characters", name)
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: %s contains invalid traversal sequence", name)
	}
	return value, nil
}

func validateFileName(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("storage: fileName is required")
	}
	if strings.ContainsAny(value, "/\\") {
		return "", fmt.Errorf("storage: fileName contains invalid path characters")
	}
	if strings.Contains(value, "..") {
		return "", fmt.Errorf("storage: fileName contains invalid traversal sequence")
	}
	return value, nil
}
