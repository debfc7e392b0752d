// Package syncsvc implements the Push Handler (§4.1), Pull Handler
// (§4.2), and Attachment Lifecycle (§4.4) — the hard engineering core of
// the service.
package syncsvc

import (
	"context"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"todosync-server/internal/clock"
	"todosync-server/internal/model"
	"todosync-server/internal/store"
)

// attachmentIDFor returns the owning attachment_id for a stageable
// envelope: the record_id itself for a meta row, or the substring before
// the *last* colon for a chunk row.
func attachmentIDFor(recordType, recordID string) string {
	if recordType != model.TypeTodoAttachmentChunk {
		return recordID
	}
	if i := strings.LastIndexByte(recordID, ':'); i >= 0 {
		return recordID[:i]
	}
	return recordID
}

// parseChunkIndex parses the substring after the last colon in record_id
// as a non-negative integer; unparseable indices sort as +inf so they
// never jump ahead of a well-formed chunk.
func parseChunkIndex(recordID string) int64 {
	i := strings.LastIndexByte(recordID, ':')
	if i < 0 || i == len(recordID)-1 {
		return math.MaxInt64
	}
	n, err := strconv.ParseInt(recordID[i+1:], 10, 64)
	if err != nil || n < 0 {
		return math.MaxInt64
	}
	return n
}

// sortForCommit orders staged rows meta-before-chunks, chunks ascending by
// parsed numeric index (§4.4 step 2).
func sortForCommit(rows []store.Row) {
	sort.SliceStable(rows, func(i, j int) bool {
		iMeta := rows[i].Type == model.TypeTodoAttachment
		jMeta := rows[j].Type == model.TypeTodoAttachment
		if iMeta != jMeta {
			return iMeta
		}
		if iMeta {
			return false
		}
		return parseChunkIndex(rows[i].RecordID) < parseChunkIndex(rows[j].RecordID)
	})
}

// commitStagedAttachment promotes every staged row for attachmentID into
// the committed store, in commit order, skipping any whose committed
// counterpart is already at least as new, then unconditionally deletes the
// staged rows (§4.4). It is idempotent: a retried call observes the
// already-committed rows and no-ops on them, then deletes nothing because
// the staged rows are already gone.
func commitStagedAttachment(ctx context.Context, tx pgx.Tx, userID int64, attachmentID string, nowMsUTC int64) error {
	staged, err := store.ListStagedForAttachment(ctx, tx, userID, attachmentID)
	if err != nil {
		return err
	}
	sortForCommit(staged)

	for _, row := range staged {
		existing, err := store.GetCommitted(ctx, tx, userID, row.Type, row.RecordID)
		if err != nil && !errors.Is(err, store.ErrNoRows) {
			return err
		}
		if existing != nil && !clock.IsNewer(row.HLC, existing.HLC) {
			continue
		}
		seq, err := store.AllocServerSeq(ctx, tx, userID)
		if err != nil {
			return err
		}
		row.ServerSeq = seq
		row.UpdatedAtMsUTC = nowMsUTC
		if err := store.UpsertCommitted(ctx, tx, userID, row); err != nil {
			return err
		}
	}

	// Unconditional delete: idempotent even if this call is retried after
	// a partial failure, since a second pass finds nothing left to commit.
	if _, _, err := store.DeleteStagedForAttachment(ctx, tx, userID, attachmentID); err != nil {
		return err
	}
	return nil
}

// compactCommittedAttachmentChunks implements §4.1 step 7(b): for every
// committed chunk of attachmentID that is not already a zero-payload
// tombstone, allocate a fresh server_seq and rewrite it as a
// server-authored tombstone. Per the design note in §9, only chunks
// already committed are compacted; staged-only chunks are deleted outright
// by the caller instead (never promoted to a chunk without a meta row).
func compactCommittedAttachmentChunks(ctx context.Context, tx pgx.Tx, userID int64, attachmentID string, deletedAtMsUTC int64) (bool, error) {
	chunks, err := store.ListCommittedChunks(ctx, tx, userID, attachmentID)
	if err != nil {
		return false, err
	}

	compacted := false
	for _, c := range chunks {
		if c.DeletedAtMsUTC != nil && c.Nonce == "" && c.Ciphertext == "" {
			continue
		}
		seq, err := store.AllocServerSeq(ctx, tx, userID)
		if err != nil {
			return compacted, err
		}
		hlc := clock.ServerAuthored(c.HLC.WallTimeMsUTC)
		c.HLC = hlc
		c.Nonce = ""
		c.Ciphertext = ""
		c.DeletedAtMsUTC = &deletedAtMsUTC
		c.ServerSeq = seq
		c.UpdatedAtMsUTC = deletedAtMsUTC
		if err := store.UpsertCommitted(ctx, tx, userID, c); err != nil {
			return compacted, err
		}
		compacted = true
	}
	return compacted, nil
}
