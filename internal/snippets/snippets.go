// Package snippets types saved commands into terminals.
package snippets

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gluk-w/teemux/internal/database"
	"github.com/gluk-w/teemux/internal/logutil"
)

// DefaultDelay separates consecutive snippets run on connect so the remote
// shell reads them in order.
const DefaultDelay = 100 * time.Millisecond

// Sender writes input to a terminal. *terminal.Manager satisfies it.
type Sender interface {
	SendData(terminalID string, data []byte) error
}

// Run types the snippet's command into the terminal followed by a newline.
func Run(s Sender, terminalID string, sn database.Snippet) error {
	log.Printf("[snippets] running %q in %s: %s", logutil.SanitizeForLog(sn.Name), terminalID, logutil.Preview(sn.Command, 40))
	if err := s.SendData(terminalID, []byte(sn.Command+"\n")); err != nil {
		return fmt.Errorf("run snippet %s: %w", sn.ID, err)
	}
	return nil
}

// RunOnConnect runs, in order, the snippets flagged RunOnConnect, waiting
// delay between them. It stops at the first failure or when ctx is done and
// returns how many ran.
func RunOnConnect(ctx context.Context, s Sender, terminalID string, list []database.Snippet, delay time.Duration) (int, error) {
	ran := 0
	for _, sn := range list {
		if !sn.RunOnConnect {
			continue
		}
		if ran > 0 && delay > 0 {
			select {
			case <-ctx.Done():
				return ran, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := ctx.Err(); err != nil {
			return ran, err
		}
		if err := Run(s, terminalID, sn); err != nil {
			return ran, err
		}
		ran++
	}
	return ran, nil
}
