package worker

import (
	"context"
	"sync"
)

// Result is the terminal outcome of one channel worker.
type Result struct {
	ChannelID string
	Err       error
}

type StartOptions struct {
	Ctx        context.Context
	ChannelIDs []string
	Run        func(ctx context.Context, channelID string) error
}

// Start launches one independent goroutine per channel id. Workers
// share no state; each reports exactly one Result when it terminates,
// and the returned channel is closed once all of them have.
func Start(opts StartOptions) <-chan Result {
	results := make(chan Result, len(opts.ChannelIDs))

	var wg sync.WaitGroup
	for _, channelID := range opts.ChannelIDs {
		wg.Add(1)
		go func(channelID string) {
			defer wg.Done()
			results <- Result{ChannelID: channelID, Err: opts.Run(opts.Ctx, channelID)}
		}(channelID)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}
