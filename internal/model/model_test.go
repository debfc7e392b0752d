package model

import "testing"

func TestByteSize(t *testing.T) {
	e := SyncEnvelope{Nonce: "abc", Ciphertext: "defgh"}
	if got := e.ByteSize(); got != 8 {
		t.Fatalf("ByteSize() = %d, want 8 (len(\"abc\")+len(\"defgh\"))", got)
	}
}

func TestIsStageable(t *testing.T) {
	cases := []struct {
		recordType string
		want       bool
	}{
		{TypeTodo, false},
		{TypeTodoAttachment, true},
		{TypeTodoAttachmentChunk, true},
		{TypeTodoAttachmentCommit, false},
		{"unknown_type", false},
	}
	for _, c := range cases {
		if got := IsStageable(c.recordType); got != c.want {
			t.Errorf("IsStageable(%q) = %v, want %v", c.recordType, got, c.want)
		}
	}
}
