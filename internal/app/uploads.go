package app

import (
	"context"
	"errors"
	"os"

	"github.com/InvestigateHealth/connectsync/internal/domain"
	"github.com/InvestigateHealth/connectsync/pkg/log"
)

// drainUploads replays pending uploads. The upload queue retries and
// dead-letters independently of the operation queue, so a stuck upload
// never blocks document draining.
func (e *Engine) drainUploads(ctx context.Context) (confirmed, dead int) {
	tuning := e.currentTuning()
	back := NewBackoff(tuning.BackoffBase, tuning.BackoffMax)

	for {
		if ctx.Err() != nil || e.Offline() {
			return confirmed, dead
		}

		u, ok := e.uploads.Peek()
		if !ok {
			return confirmed, dead
		}

		if _, err := os.Stat(u.LocalPath); err != nil {
			// Source file is gone: unrecoverable, drop without a remote call.
			if _, derr := e.uploads.Dequeue(ctx); derr != nil {
				e.logger.Error("drop missing upload failed", log.Err(derr))
				return confirmed, dead
			}
			e.logger.Warn("upload dropped, local file missing",
				log.String("upload", u.ID),
				log.String("path", u.LocalPath),
			)
			e.emitter.OnUploadDropped(u, domain.ErrUploadSourceMissing.Error())
			continue
		}

		url, err := e.remote.UploadFile(ctx, u.LocalPath, u.StoragePath, u.Metadata)
		if err == nil {
			if _, derr := e.uploads.Dequeue(ctx); derr != nil {
				e.logger.Error("dequeue upload after success failed", log.Err(derr))
				return confirmed, dead
			}
			if u.Completion != nil {
				e.applyCompletion(ctx, *u.Completion, url)
			}
			confirmed++
			e.emitter.OnUploadConfirmed(u, url)
			continue
		}

		var remoteErr *domain.RemoteError
		if errors.As(err, &remoteErr) && remoteErr.Terminal() {
			if e.deadLetterUpload(ctx, u, err.Error()) != nil {
				// Storage refused the move; the head would spin forever.
				return confirmed, dead
			}
			dead++
			continue
		}

		retries, berr := e.uploads.BumpHeadRetry(ctx)
		if berr != nil {
			e.logger.Error("persist upload retry failed", log.Err(berr))
			return confirmed, dead
		}
		if retries >= e.currentTuning().MaxRetries {
			if e.deadLetterUpload(ctx, u, "max retries exceeded: "+err.Error()) != nil {
				return confirmed, dead
			}
			dead++
			continue
		}
		e.logger.Warn("upload failed, retrying in place",
			log.String("upload", u.ID),
			log.Int("retries", retries),
			log.Err(err),
		)
		if back.Wait(ctx, retries) != nil {
			return confirmed, dead
		}
	}
}

func (e *Engine) deadLetterUpload(ctx context.Context, u domain.PendingUpload, reason string) error {
	if err := e.uploads.MoveHeadToDead(ctx, reason); err != nil {
		e.logger.Error("dead-letter upload failed", log.String("upload", u.ID), log.Err(err))
		return err
	}
	e.logger.Warn("upload dead-lettered",
		log.String("upload", u.ID),
		log.String("reason", reason),
	)
	e.emitter.OnUploadDead(u, reason)
	return nil
}
