package prostlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Handler executes one queued operation against the remote backend. A nil
// return marks the item completed; an error marks it failed and schedules
// a retry unless the error is a permanent rejection.
type Handler func(ctx context.Context, item *QueueItem) error

// Processor drains the durable outbox. One pass reads a snapshot of
// eligible items and runs each through its registered handler, honoring
// dependency gating and the per-item retry ceiling.
type Processor struct {
	store      *Store
	log        *DebugLogger
	maxRetries int

	mu       sync.Mutex
	running  bool
	handlers map[Operation]Handler

	// OnSuccess and OnError, if set, observe item outcomes.
	OnSuccess func(item *QueueItem)
	OnError   func(item *QueueItem, err error)
}

// NewProcessor creates a queue processor. maxRetries <= 0 selects the default.
func NewProcessor(store *Store, log *DebugLogger, maxRetries int) *Processor {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}
	return &Processor{
		store:      store,
		log:        log,
		maxRetries: maxRetries,
		handlers:   make(map[Operation]Handler),
	}
}

// Register installs the handler for an operation type, replacing any
// previous registration.
func (p *Processor) Register(op Operation, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers[op] = h
}

// ProcessQueue runs one pass over the outbox. Only one pass runs at a
// time; a concurrent call returns ErrProcessorBusy. Items are visited in
// creation order. An item whose dependency had not completed when the
// eligible set was fetched is excluded from the pass without a state change
// and becomes eligible on the next pass, even if the dependency completes
// earlier in this one. An item past the retry ceiling is skipped but
// retained. Cancellation is honored between items.
func (p *Processor) ProcessQueue(ctx context.Context) (*ProcessResult, error) {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil, ErrProcessorBusy
	}
	p.running = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
	}()

	items, err := p.store.PendingOperations()
	if err != nil {
		return nil, err
	}
	p.log.Log("processor: pass start, %d eligible items", len(items))

	result := &ProcessResult{}

	// Dependency gating is evaluated against this snapshot: an item whose
	// dependency is itself in the batch stays excluded for the whole pass.
	batch := make(map[string]bool, len(items))
	for i := range items {
		batch[items[i].ID] = true
	}

	for i := range items {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		item := &items[i]

		if item.RetryCount >= p.maxRetries {
			result.Skipped++
			p.log.LogQueue("skipped", item)
			continue
		}

		ok, err := p.dependencySatisfied(item, batch)
		if err != nil {
			return result, err
		}
		if !ok {
			result.Excluded++
			p.log.LogQueue("excluded", item)
			continue
		}

		handler, registered := p.handler(item.Operation)
		if !registered {
			if err := p.failUnhandled(item, result); err != nil {
				return result, err
			}
			continue
		}

		if err := p.processOne(ctx, item, handler); err != nil {
			result.Failed++
			result.Errors = append(result.Errors, OperationError{
				OperationID: item.ID,
				TableName:   item.TableName,
				Error:       err.Error(),
			})
			if p.OnError != nil {
				p.OnError(item, err)
			}
		} else if p.OnSuccess != nil {
			p.OnSuccess(item)
		}
		result.Processed++
	}

	p.log.Log("processor: pass done, processed=%d failed=%d excluded=%d skipped=%d",
		result.Processed, result.Failed, result.Excluded, result.Skipped)
	return result, nil
}

// dependencySatisfied reports whether the item's depends_on, if any, had
// completed before this pass began. A dependency sitting in the same batch
// keeps the item excluded until the next pass.
func (p *Processor) dependencySatisfied(item *QueueItem, batch map[string]bool) (bool, error) {
	if item.DependsOn == "" {
		return true, nil
	}
	if batch[item.DependsOn] {
		return false, nil
	}
	return p.store.HasCompleted(item.DependsOn)
}

// failUnhandled fails an item with no registered handler so it stays
// visible rather than blocking the pass. The item counts as failed, not
// processed: no handler ran.
func (p *Processor) failUnhandled(item *QueueItem, result *ProcessResult) error {
	if err := p.store.MarkProcessing(item.ID); err != nil {
		return err
	}
	cause := fmt.Errorf("%w: %s", ErrNoHandler, item.Operation)
	if err := p.store.FailOperation(item, cause, p.maxRetries); err != nil {
		return err
	}
	result.Failed++
	result.Errors = append(result.Errors, OperationError{
		OperationID: item.ID,
		TableName:   item.TableName,
		Error:       cause.Error(),
	})
	if p.OnError != nil {
		p.OnError(item, cause)
	}
	return nil
}

// processOne drives a single item through processing to its terminal state
// for this pass.
func (p *Processor) processOne(ctx context.Context, item *QueueItem, handler Handler) error {
	if err := p.store.MarkProcessing(item.ID); err != nil {
		return err
	}

	if err := handler(ctx, item); err != nil {
		if ferr := p.store.FailOperation(item, err, p.maxRetries); ferr != nil {
			return ferr
		}
		return err
	}

	return p.store.CompleteOperation(item, time.Now().UTC())
}

func (p *Processor) handler(op Operation) (Handler, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.handlers[op]
	return h, ok
}
