package prostlog

import "context"

// BackgroundSync is the entry point for host background schedulers (iOS
// background fetch, Android WorkManager). It runs one full sync cycle and
// folds the outcome into the three-valued result the scheduler expects.
// Without a persisted session there is nothing user-scoped to fetch, so
// only the catalog pull decides the result.
func (c *Client) BackgroundSync(ctx context.Context) BackgroundResult {
	if c.api == nil {
		return BackgroundNoData
	}

	result, err := c.Sync(ctx, SyncOptions{Direction: SyncBoth})
	if err != nil {
		if err == ErrSyncInProgress {
			// A foreground cycle is already fetching.
			return BackgroundNoData
		}
		c.log.LogError("background-sync", err)
		return BackgroundFailed
	}

	if result.Aborted {
		return BackgroundFailed
	}
	if result.Pulled > 0 || result.Pushed > 0 {
		return BackgroundNewData
	}
	return BackgroundNoData
}
