// Package model holds the wire-level DTOs exchanged over the sync HTTP
// API. Field names are normative (§6 of the spec) and must match existing
// clients exactly.
package model

import "todosync-server/internal/clock"

// Record types recognized by the push handler's envelope classifier.
const (
	TypeTodo                  = "todo"
	TypeTodoAttachment        = "todo_attachment"
	TypeTodoAttachmentChunk   = "todo_attachment_chunk"
	TypeTodoAttachmentCommit  = "todo_attachment_commit"
)

// Rejection reasons returned in PushResponse.Rejected.
const (
	ReasonRecordTooLarge       = "record_too_large"
	ReasonOlderHLC             = "older_hlc"
	ReasonAttachmentDeleted    = "attachment_deleted"
	ReasonQuotaExceeded        = "quota_exceeded"
	ReasonMissingAttachmentMeta = "missing_attachment_meta"
)

// SyncEnvelope is the wire shape of a single record, shared by push
// requests and pull responses.
type SyncEnvelope struct {
	Type           string    `json:"type"`
	RecordID       string    `json:"recordId"`
	HLC            clock.HLC `json:"hlc"`
	DeletedAtMsUTC *int64    `json:"deletedAtMsUtc"`
	SchemaVersion  int64     `json:"schemaVersion"`
	DekID          string    `json:"dekId"`
	PayloadAlgo    string    `json:"payloadAlgo"`
	Nonce          string    `json:"nonce"`
	Ciphertext     string    `json:"ciphertext"`
}

// ByteSize is the number of characters counted toward a user's stored_b64
// total: len(nonce)+len(ciphertext).
func (e SyncEnvelope) ByteSize() int64 {
	return int64(len(e.Nonce) + len(e.Ciphertext))
}

// PushRequest is the body of POST /v1/sync/push.
type PushRequest struct {
	Records []SyncEnvelope `json:"records"`
}

// AcceptedRecord is one entry of PushResponse.Accepted.
type AcceptedRecord struct {
	Type      string `json:"type"`
	RecordID  string `json:"recordId"`
	ServerSeq int64  `json:"serverSeq"`
}

// RejectedRecord is one entry of PushResponse.Rejected.
type RejectedRecord struct {
	Type     string `json:"type"`
	RecordID string `json:"recordId"`
	Reason   string `json:"reason"`
}

// PushResponse is the body returned by POST /v1/sync/push.
type PushResponse struct {
	Accepted []AcceptedRecord `json:"accepted"`
	Rejected []RejectedRecord `json:"rejected"`
}

// PullResponse is the body returned by GET /v1/sync/pull.
type PullResponse struct {
	Records   []SyncEnvelope `json:"records"`
	NextSince int64          `json:"nextSince"`
}

// KeyBundleRequest is the body of PUT /v1/key-bundle.
type KeyBundleRequest struct {
	ExpectedBundleVersion int64           `json:"expectedBundleVersion"`
	Bundle                KeyBundlePayload `json:"bundle"`
}

// KeyBundlePayload is the opaque, server-overlaid bundle blob.
type KeyBundlePayload struct {
	BundleVersion  int64          `json:"bundleVersion"`
	UpdatedAtMsUTC int64          `json:"updatedAtMsUtc"`
	Data           map[string]any `json:"data,omitempty"`
}

// AttachmentRefIn is one entry of UpsertAttachmentRefsRequest.Refs.
type AttachmentRefIn struct {
	AttachmentID string `json:"attachmentId"`
	TodoID       string `json:"todoId"`
}

// UpsertAttachmentRefsRequest is the body of POST /v1/attachments/refs.
type UpsertAttachmentRefsRequest struct {
	Refs []AttachmentRefIn `json:"refs"`
}

// OKResponse is returned by endpoints whose only signal is success.
type OKResponse struct {
	OK bool `json:"ok"`
}

// GCGhostFilesResponse is returned by POST /web/api/me/gc-ghost-files.
type GCGhostFilesResponse struct {
	OK                bool  `json:"ok"`
	DeletedAttachments int64 `json:"deletedAttachments"`
	DeletedRecords     int64 `json:"deletedRecords"`
	FreedBytes         int64 `json:"freedBytes"`
	StoredBytes        int64 `json:"storedBytes"`
}

// MeResponse is returned by GET /web/api/me.
type MeResponse struct {
	UserID           int64          `json:"userId"`
	StoredB64        int64          `json:"storedB64"`
	APIOutboundBytes int64          `json:"apiOutboundBytes"`
	Quota            MeQuotaSummary `json:"quota"`
}

// MeQuotaSummary is the quota section of MeResponse.
type MeQuotaSummary struct {
	AllowedStorageB64   *int64  `json:"allowedStorageB64"`
	AllowedOutboundBytes *int64 `json:"allowedOutboundBytes"`
	ActivePlanID        *string `json:"activePlanId"`
	ActivePlanName      *string `json:"activePlanName"`
	ExpiresAtMsUTC      *int64  `json:"expiresAtMsUtc"`
}

// ActivateCdkeyRequest is the body of POST /web/api/me/activate-cdkey.
type ActivateCdkeyRequest struct {
	Code string `json:"code"`
}

// ActivateCdkeyResponse is the response of POST /web/api/me/activate-cdkey.
type ActivateCdkeyResponse struct {
	OK             bool   `json:"ok"`
	PlanID         string `json:"planId"`
	ExpiresAtMsUTC int64  `json:"expiresAtMsUtc"`
}

// DeleteMeRequest is the body of POST /web/api/me/delete-me.
type DeleteMeRequest struct {
	Confirm string `json:"confirm"`
}

// IsStageable reports whether a type is subject to the two-phase staging
// path (todo_attachment, todo_attachment_chunk).
func IsStageable(recordType string) bool {
	return recordType == TypeTodoAttachment || recordType == TypeTodoAttachmentChunk
}
