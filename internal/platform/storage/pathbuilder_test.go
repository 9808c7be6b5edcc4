package storage

import "testing"

func TestBuildDraftAttachmentPath(t *testing.T) {
	path, err := BuildObjectPath(PurposeDraft, PathParams{
		RequestID: "req123",
		FileName:  "draft-v2.png",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "requests/req123/drafts/draft-v2.png"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildDisputeEvidencePath(t *testing.T) {
	path, err := BuildObjectPath(PurposeDisputeEvidence, PathParams{
		DisputeID: "dsp123",
		FileName:  "cracked-handle.jpg",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	expected := "disputes/dsp123/evidence/cracked-handle.jpg"
	if path != expected {
		t.Fatalf("expected %s, got %s", expected, path)
	}
}

func TestBuildObjectPathRejectsInvalidSegment(t *testing.T) {
	_, err := BuildObjectPath(PurposeFinalProof, PathParams{
		RequestID: "../bad",
		FileName:  "file.png",
	})
	if err == nil {
		t.Fatalf("expected error for invalid segment")
	}
}
