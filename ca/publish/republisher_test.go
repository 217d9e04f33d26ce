package publish

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DBatOWL/xipki/ca/model"
	"github.com/DBatOWL/xipki/ca/repository"
)

// fakeRepo serves a fixed in-memory PUBLISHQUEUE and certificate store;
// the rest of repository.Repository's surface is unused here.
type fakeRepo struct {
	repository.Repository

	mu      sync.Mutex
	queue   []model.PublishQueueEntry
	certs   map[int64]model.Certificate
	removed []model.PublishQueueEntry
	failGet bool
}

func (r *fakeRepo) GetPublishQueueEntries(ctx context.Context, caID, publisherID int, limit int) ([]model.PublishQueueEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet {
		return nil, errors.New("queue unreadable")
	}
	var out []model.PublishQueueEntry
	for _, e := range r.queue {
		if e.CAID == caID && e.PublisherID == publisherID {
			out = append(out, e)
			if len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

func (r *fakeRepo) GetCertForID(ctx context.Context, id int64) (model.Certificate, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.certs[id]
	return c, ok, nil
}

func (r *fakeRepo) RemoveFromPublishQueue(ctx context.Context, entry model.PublishQueueEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, entry)
	var kept []model.PublishQueueEntry
	for _, e := range r.queue {
		if e == entry {
			continue
		}
		kept = append(kept, e)
	}
	r.queue = kept
	return nil
}

// fakeSink records every certificate it was asked to publish; failFor
// names cert IDs whose delivery should fail once.
type fakeSink struct {
	mu        sync.Mutex
	published []int64
	failFor   map[int64]bool
}

func (s *fakeSink) Publish(ctx context.Context, cert model.Certificate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failFor[cert.ID] {
		delete(s.failFor, cert.ID) // fail once, succeed on retry
		return errors.New("delivery failed")
	}
	s.published = append(s.published, cert.ID)
	return nil
}

func TestDrainDeliversAndDequeuesEntries(t *testing.T) {
	repo := &fakeRepo{
		queue: []model.PublishQueueEntry{
			{PublisherID: 1, CAID: 1, CertID: 10},
			{PublisherID: 1, CAID: 1, CertID: 11},
		},
		certs: map[int64]model.Certificate{
			10: {ID: 10}, 11: {ID: 11},
		},
	}
	sink := &fakeSink{}
	r := NewRepublisher(repo, map[int]Sink{1: sink})

	err := r.Drain(context.Background(), 1)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{10, 11}, sink.published)
	assert.Len(t, repo.removed, 2)
	assert.Empty(t, repo.queue)
}

func TestDrainLeavesFailedDeliveryInQueue(t *testing.T) {
	repo := &fakeRepo{
		queue: []model.PublishQueueEntry{{PublisherID: 1, CAID: 1, CertID: 20}},
		certs: map[int64]model.Certificate{20: {ID: 20}},
	}
	sink := &fakeSink{failFor: map[int64]bool{20: true}}
	r := NewRepublisher(repo, map[int]Sink{1: sink})

	err := r.Drain(context.Background(), 1)
	require.NoError(t, err)

	assert.Empty(t, sink.published)
	assert.Empty(t, repo.removed)
	assert.Len(t, repo.queue, 1)
}

func TestDrainDropsStaleEntryForMissingCertificate(t *testing.T) {
	repo := &fakeRepo{
		queue: []model.PublishQueueEntry{{PublisherID: 1, CAID: 1, CertID: 99}},
		certs: map[int64]model.Certificate{},
	}
	sink := &fakeSink{}
	r := NewRepublisher(repo, map[int]Sink{1: sink})

	err := r.Drain(context.Background(), 1)
	require.NoError(t, err)

	assert.Empty(t, sink.published)
	assert.Len(t, repo.removed, 1)
	assert.Empty(t, repo.queue)
}

func TestDrainAbortsOnQueueReadFailure(t *testing.T) {
	repo := &fakeRepo{failGet: true}
	sink := &fakeSink{}
	r := NewRepublisher(repo, map[int]Sink{1: sink})

	err := r.Drain(context.Background(), 1)
	require.Error(t, err)
}

func TestDrainIsNoOpWithEmptyQueue(t *testing.T) {
	repo := &fakeRepo{}
	sink := &fakeSink{}
	r := NewRepublisher(repo, map[int]Sink{1: sink})

	err := r.Drain(context.Background(), 1)
	require.NoError(t, err)
	assert.Empty(t, sink.published)
}
