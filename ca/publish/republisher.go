// Package publish implements the republisher of spec.md §5: a
// producer/consumer queue ("PUBLISHQUEUE") drained at-least-once, with a
// sentinel end-of-queue (an empty batch) ending each drain pass.
package publish

import (
	"context"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/repository"
)

// Sink delivers one certificate to a downstream system (LDAP, an OCSP
// response-source store, a CRL mirror, ...). Publish must be safe to call
// concurrently; a Republisher never serializes calls to the same Sink.
type Sink interface {
	Publish(ctx context.Context, cert model.Certificate) error
}

// Republisher drains PUBLISHQUEUE per (CA, publisher) pair, fetching each
// queued certificate and handing it to the publisher's Sink.
type Republisher struct {
	repo        repository.Repository
	sinks       map[int]Sink // publisherID -> Sink
	Concurrency int          // workers per drain pass; default 4
	BatchSize   int          // entries fetched per round-trip; default 100
}

// NewRepublisher builds a Republisher over the given publisherID -> Sink
// map. Both Concurrency and BatchSize default to sane values and can be
// overridden on the returned value before the first Drain call.
func NewRepublisher(repo repository.Repository, sinks map[int]Sink) *Republisher {
	return &Republisher{repo: repo, sinks: sinks, Concurrency: 4, BatchSize: 100}
}

// Drain processes every registered publisher's queue for caID to
// exhaustion (spec.md §5: "processed at-least-once"). It returns the
// first queue-level failure encountered (e.g. the queue itself cannot be
// read) without attempting the remaining publishers; per-certificate
// delivery failures never abort a drain -- they are isolated to that
// entry and left in the queue for the next pass (spec.md §7 "Locally
// recovered").
func (r *Republisher) Drain(ctx context.Context, caID int) error {
	for publisherID, sink := range r.sinks {
		if err := r.drainOne(ctx, caID, publisherID, sink); err != nil {
			return err
		}
	}
	return nil
}

func (r *Republisher) drainOne(ctx context.Context, caID, publisherID int, sink Sink) error {
	for {
		entries, err := r.repo.GetPublishQueueEntries(ctx, caID, publisherID, r.BatchSize)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil // sentinel end-of-queue
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.Concurrency)
		for _, entry := range entries {
			entry := entry
			g.Go(func() error {
				r.publishOne(gctx, sink, entry)
				return nil // failures are isolated inside publishOne, never propagated
			})
		}
		_ = g.Wait() // always nil: publishOne never returns an error to the group

		if len(entries) < r.BatchSize {
			return nil
		}
	}
}

// publishOne delivers one queue entry and removes it on success. A
// missing certificate (the row was deleted after being queued) drops the
// stale entry rather than retrying it forever; any other failure leaves
// the entry in place for the next Drain pass.
func (r *Republisher) publishOne(ctx context.Context, sink Sink, entry model.PublishQueueEntry) {
	cert, found, err := r.repo.GetCertForID(ctx, entry.CertID)
	if err != nil {
		log.Error().Err(err).Int64("cert_id", entry.CertID).Int("publisher_id", entry.PublisherID).Msg("publish: fetch certificate failed")
		return
	}
	if !found {
		if err := r.repo.RemoveFromPublishQueue(ctx, entry); err != nil {
			log.Error().Err(err).Int64("cert_id", entry.CertID).Msg("publish: drop stale queue entry failed")
		}
		return
	}

	if err := sink.Publish(ctx, cert); err != nil {
		log.Warn().Err(err).Int64("cert_id", entry.CertID).Int("publisher_id", entry.PublisherID).Msg("publish: delivery failed, retrying next pass")
		return
	}

	if err := r.repo.RemoveFromPublishQueue(ctx, entry); err != nil {
		log.Error().Err(err).Int64("cert_id", entry.CertID).Msg("publish: dequeue after delivery failed")
	}
}
