// Package ghostgc implements the Ghost/Orphan Attachment GC described in
// §4.5, adapted from the original Rust service's
// sync_server/src/ghost_gc.rs: an attachment is a "ghost" when the todo
// that owns it (per attachment_refs) is gone or tombstoned, and — in
// fallback mode only — any stored attachment at all when the user has no
// live todo left.
package ghostgc

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"todosync-server/internal/clock"
	"todosync-server/internal/store"
)

// Options mirrors the original's GhostGcOptions.
type Options struct {
	// IncludeUnreferencedWhenNoLiveTodo enables fallback mode: only ever
	// set true for the self-serve POST /web/api/me/gc-ghost-files
	// endpoint (§3A), never for the background sweeper, which only ever
	// acts on attachment_refs-backed evidence.
	IncludeUnreferencedWhenNoLiveTodo bool
	MinRefAgeMs                       int64
}

// Stats mirrors the original's GhostGcStats.
type Stats struct {
	DeletedAttachments int64
	DeletedRecords     int64
	StoredBefore       int64
	StoredAfter        int64
}

// RunForUser runs one user's ghost sweep inside tx (the caller owns the
// transaction boundary so the batch sweeper can run many users per
// transaction or one-per-transaction, and so the self-serve endpoint can
// run a single user inside its own request-scoped transaction).
func RunForUser(ctx context.Context, tx pgx.Tx, userID int64, opts Options) (Stats, error) {
	u, err := store.GetUser(ctx, tx, userID)
	if err != nil {
		return Stats{}, err
	}
	return runForUserWithStoredBefore(ctx, tx, userID, u.StoredB64, opts)
}

func runForUserWithStoredBefore(ctx context.Context, tx pgx.Tx, userID, storedBefore int64, opts Options) (Stats, error) {
	now := clock.NowMsUTC()

	hasLiveTodo, err := store.HasLiveTodo(ctx, tx, userID)
	if err != nil {
		return Stats{}, err
	}

	orphans, err := store.OrphanAttachmentIDsReferenced(ctx, tx, userID, now, opts.MinRefAgeMs)
	if err != nil {
		return Stats{}, err
	}

	attachmentIDs := make(map[string]struct{}, len(orphans))
	addClean := func(id string) {
		id = strings.TrimSpace(id)
		if id != "" {
			attachmentIDs[id] = struct{}{}
		}
	}
	for _, id := range orphans {
		addClean(id)
	}

	// Fallback (manual GC use-case): if the user has no live todos at
	// all, any stored attachments cannot be referenced by an existing
	// todo, so treat them all as ghosts even when attachment_refs has
	// never been populated for them.
	if opts.IncludeUnreferencedWhenNoLiveTodo && !hasLiveTodo {
		metaIDs, err := store.DirectAttachmentMetaIDs(ctx, tx, userID)
		if err != nil {
			return Stats{}, err
		}
		for _, id := range metaIDs {
			addClean(id)
		}
		chunkPrefixIDs, err := store.ChunkPrefixIDs(ctx, tx, userID)
		if err != nil {
			return Stats{}, err
		}
		for _, id := range chunkPrefixIDs {
			addClean(id)
		}
	}

	var deletedAttachments, deletedRecords int64
	for attachmentID := range attachmentIDs {
		n, err := deleteOneAttachment(ctx, tx, userID, attachmentID)
		if err != nil {
			return Stats{}, err
		}
		if n > 0 {
			deletedAttachments++
		}
		deletedRecords += n
	}

	storedAfter, err := store.RecomputeStoredB64(ctx, tx, userID)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		DeletedAttachments: deletedAttachments,
		DeletedRecords:     deletedRecords,
		StoredBefore:       storedBefore,
		StoredAfter:        storedAfter,
	}, nil
}

// deleteOneAttachment deletes every committed and staged row (meta +
// chunks) for a single ghost attachment_id, plus its attachment_refs
// entry if any, returning the total row count deleted.
func deleteOneAttachment(ctx context.Context, tx pgx.Tx, userID int64, attachmentID string) (int64, error) {
	var total int64

	n, err := store.DeleteCommittedAttachmentAndChunks(ctx, tx, userID, attachmentID)
	if err != nil {
		return 0, err
	}
	total += n

	count, _, err := store.DeleteStagedForAttachment(ctx, tx, userID, attachmentID)
	if err != nil {
		return 0, err
	}
	total += count

	// A missing ref row is not an error (the DELETE matches nothing); a
	// failed DELETE is returned to the caller.
	if err := store.DeleteAttachmentRef(ctx, tx, userID, attachmentID); err != nil {
		return total, err
	}

	return total, nil
}

// RunBatch sweeps referenced-mode ghost GC across up to maxUsers
// candidate users, each in its own transaction, used by the background
// sweeper (§4.8). It never enables fallback mode: the sweeper only acts
// on evidence from attachment_refs, never "no live todos at all", since
// an unpopulated attachment_refs table for an otherwise-healthy account
// must never be treated as ghost evidence by an unattended background
// loop.
func RunBatch(ctx context.Context, st *store.Store, minRefAgeMs, maxUsers int64) ([]Stats, error) {
	now := clock.NowMsUTC()
	userIDs, err := store.SelectUsersWithOrphanRefs(ctx, st.Pool, now, minRefAgeMs, maxUsers)
	if err != nil {
		return nil, err
	}

	out := make([]Stats, 0, len(userIDs))
	for _, userID := range userIDs {
		var stats Stats
		txErr := st.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			var err error
			stats, err = RunForUser(ctx, tx, userID, Options{MinRefAgeMs: minRefAgeMs})
			return err
		})
		if txErr != nil {
			return out, txErr
		}
		out = append(out, stats)
	}
	return out, nil
}
