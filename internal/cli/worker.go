package cli

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/anvilworks/anvil/internal/llm"
)

// turnResult carries one completion back to the session loop.
type turnResult struct {
	resp llm.Response
	err  error
}

// worker runs model completions off the session goroutine and funnels the
// result over a channel, so the loop stays free to animate progress and the
// interrupt watcher can cancel the request context.
type worker struct {
	client llm.Client
	log    zerolog.Logger
}

func newWorker(client llm.Client, log zerolog.Logger) *worker {
	return &worker{client: client, log: log}
}

// complete issues one request in the background. The channel is buffered so
// the goroutine finishes even if the caller has stopped listening.
func (w *worker) complete(ctx context.Context, req llm.Request) <-chan turnResult {
	ch := make(chan turnResult, 1)
	go func() {
		start := time.Now()
		resp, err := w.client.Complete(ctx, req)
		ev := w.log.Debug().Dur("elapsed", time.Since(start)).Str("model", req.Model)
		if err != nil {
			ev.Err(err).Msg("completion failed")
		} else {
			ev.Int("promptTokens", resp.Usage.PromptTokens).
				Int("completionTokens", resp.Usage.CompletionTokens).
				Msg("completion done")
		}
		ch <- turnResult{resp: resp, err: err}
	}()
	return ch
}
