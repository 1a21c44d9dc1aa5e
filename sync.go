package travelnotes

import "context"

// SyncTag is the background synchronization tag that runs the sync routine.
const SyncTag = "background-sync"

// SyncFunc submits work recorded while offline.
type SyncFunc func(ctx context.Context) error

// Sync handles a background synchronization request.
// Unknown tags are ignored.
func (l *Lifecycle) Sync(ctx context.Context, tag string) error {
	if tag != SyncTag {
		l.log.Debug().Str("tag", tag).Msg("Ignoring unknown sync tag")
		return nil
	}
	if l.sync == nil {
		l.log.Debug().Msg("No sync routine configured")
		return nil
	}
	l.log.Info().Msg("Running background sync")
	if err := l.sync(ctx); err != nil {
		l.log.Warn().Err(err).Msg("Background sync failed")
		return err
	}
	return nil
}
