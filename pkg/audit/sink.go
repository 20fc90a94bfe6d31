// Package audit records one hash-chained event per mutating operation.
package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/Mindburn-Labs/adoption/pkg/canonicalize"
	"github.com/Mindburn-Labs/adoption/pkg/contracts"
	"github.com/Mindburn-Labs/adoption/pkg/store"
)

// Genesis is the previous hash of the first event in a chain.
const Genesis = "genesis"

// ErrChainBroken is returned by VerifyChain when an event does not link to
// its predecessor or its hash does not match its content.
var ErrChainBroken = errors.New("audit: hash chain is broken")

// Sink persists audit events.
type Sink interface {
	Write(ctx context.Context, e *contracts.AuditEvent) error
}

// Hash computes the content hash of e, covering every field but Hash.
func Hash(e *contracts.AuditEvent) (string, error) {
	h, err := canonicalize.CanonicalHash(map[string]any{
		"id":         e.ID,
		"request_id": e.RequestID,
		"org_id":     e.OrgID,
		"user_id":    e.UserID,
		"action":     e.Action,
		"status":     e.Status,
		"metadata":   e.Metadata,
		"timestamp":  e.Timestamp.UTC().Format(time.RFC3339Nano),
		"prev_hash":  e.PrevHash,
	})
	if err != nil {
		return "", fmt.Errorf("audit hash: %w", err)
	}
	return h, nil
}

// StoreSink chains events into a store.AuditStore. The chain head is
// loaded from the store on first write.
type StoreSink struct {
	mu     sync.Mutex
	store  store.AuditStore
	head   string
	loaded bool
}

func NewStoreSink(s store.AuditStore) *StoreSink {
	return &StoreSink{store: s}
}

func (s *StoreSink) Write(ctx context.Context, e *contracts.AuditEvent) error {
	if s.store == nil {
		return fmt.Errorf("fail-closed: audit store not configured")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		head, err := s.store.LatestAuditHash(ctx)
		if err != nil {
			return fmt.Errorf("load audit head: %w", err)
		}
		if head == "" {
			head = Genesis
		}
		s.head, s.loaded = head, true
	}

	e.PrevHash = s.head
	hash, err := Hash(e)
	if err != nil {
		return err
	}
	e.Hash = hash
	if err := s.store.AppendAudit(ctx, e); err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	s.head = hash
	return nil
}

// WriterSink writes one JSON line per event, prefixed with "AUDIT: ".
type WriterSink struct {
	mu     sync.Mutex
	writer io.Writer
}

// NewWriterSink writes to w, or os.Stdout when w is nil.
func NewWriterSink(w io.Writer) *WriterSink {
	if w == nil {
		w = os.Stdout
	}
	return &WriterSink{writer: w}
}

func (s *WriterSink) Write(ctx context.Context, e *contracts.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.writer.Write(append([]byte("AUDIT: "), append(b, '\n')...))
	return err
}

// VerifyChain checks events given oldest first.
func VerifyChain(events []contracts.AuditEvent) error {
	prev := ""
	for i := range events {
		e := &events[i]
		if i == 0 {
			prev = e.PrevHash
		} else if e.PrevHash != prev {
			return fmt.Errorf("%w: event %s links to %s, want %s", ErrChainBroken, e.ID, e.PrevHash, prev)
		}
		want, err := Hash(e)
		if err != nil {
			return err
		}
		if want != e.Hash {
			return fmt.Errorf("%w: event %s content hash mismatch", ErrChainBroken, e.ID)
		}
		prev = e.Hash
	}
	return nil
}
