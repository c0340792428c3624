package settlement

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/chain"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/model"
	"github.com/devprosvn/REC-ONE-Lisk-sub001/internal/repository"
)

type stubSource struct {
	events []chain.Event
	err    error
}

func (s *stubSource) GetEvents(ctx context.Context, fromBlock int64, limit int) ([]chain.Event, error) {
	return s.events, s.err
}

type stubStore struct {
	cursor int64

	creations     []repository.OfferCreation
	purchases     []repository.OfferPurchase
	cancellations []int64

	creationErr     error
	purchaseErrs    []error // consumed one per call
	cancellationErr error
}

func (s *stubStore) ApplyOfferCreation(ctx context.Context, ev repository.OfferCreation) error {
	if s.creationErr != nil {
		return s.creationErr
	}
	s.creations = append(s.creations, ev)
	return nil
}

func (s *stubStore) ApplyOfferPurchase(ctx context.Context, ev repository.OfferPurchase) error {
	if len(s.purchaseErrs) > 0 {
		err := s.purchaseErrs[0]
		s.purchaseErrs = s.purchaseErrs[1:]
		if err != nil {
			return err
		}
	}
	s.purchases = append(s.purchases, ev)
	return nil
}

func (s *stubStore) ApplyOfferCancellation(ctx context.Context, offerID int64, txHash string, blockNumber int64) error {
	if s.cancellationErr != nil {
		return s.cancellationErr
	}
	s.cancellations = append(s.cancellations, offerID)
	return nil
}

func (s *stubStore) GetChainCursor(ctx context.Context) (int64, error) { return s.cursor, nil }

func (s *stubStore) SetChainCursor(ctx context.Context, lastBlock int64) error {
	s.cursor = lastBlock
	return nil
}

func newTestCoordinator(source EventSource, store Store) *Coordinator {
	return NewCoordinator(source, store, zap.NewNop(), time.Second)
}

func TestProcessBatch_AppliesEventsAndAdvancesCursor(t *testing.T) {
	source := &stubSource{events: []chain.Event{
		{
			EventType:   chain.EventOfferCreated,
			OfferID:     1,
			TxHash:      "0xaaa",
			Seller:      "0xseller",
			Quantity:    60,
			PriceETH:    decimal.RequireFromString("0.001"),
			BlockNumber: 11,
		},
		{
			EventType:   chain.EventOfferPurchased,
			OfferID:     1,
			TxHash:      "0xbbb",
			Seller:      "0xseller",
			Buyer:       "0xbuyer",
			Quantity:    60,
			PriceETH:    decimal.RequireFromString("0.001"),
			BlockNumber: 12,
		},
		{
			EventType:   chain.EventOfferCancelled,
			OfferID:     2,
			TxHash:      "0xccc",
			BlockNumber: 13,
		},
	}}
	store := &stubStore{cursor: 10}

	c := newTestCoordinator(source, store)
	require.NoError(t, c.ProcessBatch(context.Background()))

	require.Len(t, store.creations, 1)
	require.Equal(t, int64(1), store.creations[0].OfferID)
	require.Len(t, store.purchases, 1)
	require.Equal(t, "0xbuyer", store.purchases[0].BuyerWallet)
	require.Equal(t, []int64{2}, store.cancellations)
	require.Equal(t, int64(13), store.cursor)
}

func TestProcessBatch_DuplicateIsSuccess(t *testing.T) {
	source := &stubSource{events: []chain.Event{
		{EventType: chain.EventOfferCreated, OfferID: 1, TxHash: "0xaaa", BlockNumber: 21},
	}}
	store := &stubStore{cursor: 20, creationErr: fmt.Errorf("tx 0xaaa: %w", model.ErrDuplicateTransaction)}

	c := newTestCoordinator(source, store)
	require.NoError(t, c.ProcessBatch(context.Background()))
	require.Equal(t, int64(21), store.cursor)
}

func TestProcessBatch_ConsistencyFaultIsNotRetried(t *testing.T) {
	source := &stubSource{events: []chain.Event{
		{EventType: chain.EventOfferPurchased, OfferID: 3, TxHash: "0xddd", BlockNumber: 31},
	}}
	store := &stubStore{
		cursor: 30,
		purchaseErrs: []error{
			&model.ConsistencyFaultError{OfferID: 3, TxHash: "0xddd", Detail: "different buyer"},
		},
	}

	c := newTestCoordinator(source, store)
	require.NoError(t, c.ProcessBatch(context.Background()))

	// The fault consumed the only injected error; a retry would have
	// recorded a successful application afterwards.
	require.Empty(t, store.purchases)
	require.Equal(t, int64(31), store.cursor)
}

func TestProcessBatch_TransientFailureIsRetried(t *testing.T) {
	source := &stubSource{events: []chain.Event{
		{EventType: chain.EventOfferPurchased, OfferID: 4, TxHash: "0xeee", BlockNumber: 41},
	}}
	store := &stubStore{
		cursor:       40,
		purchaseErrs: []error{errors.New("connection reset by peer"), nil},
	}

	c := newTestCoordinator(source, store)
	c.retryBase = time.Millisecond
	require.NoError(t, c.ProcessBatch(context.Background()))

	require.Len(t, store.purchases, 1)
	require.Equal(t, int64(41), store.cursor)
}

func TestProcessBatch_FailedEventBlockIsRedelivered(t *testing.T) {
	source := &stubSource{events: []chain.Event{
		{EventType: chain.EventOfferPurchased, OfferID: 7, TxHash: "0xaa7", BlockNumber: 12},
		{EventType: chain.EventOfferPurchased, OfferID: 8, TxHash: "0xbb8", BlockNumber: 12},
	}}
	store := &stubStore{cursor: 10}
	// The first purchase applies, the second fails past the retry budget.
	store.purchaseErrs = []error{nil}
	for i := 0; i < 6; i++ {
		store.purchaseErrs = append(store.purchaseErrs, errors.New("connection reset by peer"))
	}

	c := newTestCoordinator(source, store)
	c.retryBase = time.Millisecond
	require.NoError(t, c.ProcessBatch(context.Background()))

	// The cursor must stay below the failed event's block, otherwise the
	// event would never be fetched again.
	require.Equal(t, int64(11), store.cursor)
	require.Len(t, store.purchases, 1)

	// The next poll redelivers block 12 and the failed purchase lands.
	require.NoError(t, c.ProcessBatch(context.Background()))
	require.Equal(t, int64(12), store.cursor)
	require.Equal(t, "0xbb8", store.purchases[len(store.purchases)-1].TxHash)
}

func TestProcessBatch_StateRaceLoserIsSkipped(t *testing.T) {
	source := &stubSource{events: []chain.Event{
		{EventType: chain.EventOfferCancelled, OfferID: 5, TxHash: "0xfff", BlockNumber: 51},
	}}
	store := &stubStore{
		cursor: 50,
		cancellationErr: &model.InvalidTransitionError{
			OfferID: 5,
			From:    model.OfferStatusCompleted,
			To:      model.OfferStatusCancelled,
		},
	}

	c := newTestCoordinator(source, store)
	require.NoError(t, c.ProcessBatch(context.Background()))
	require.Empty(t, store.cancellations)
	require.Equal(t, int64(51), store.cursor)
}

func TestProcessBatch_UnknownEventTypeIsSkipped(t *testing.T) {
	source := &stubSource{events: []chain.Event{
		{EventType: "Reorged", OfferID: 6, TxHash: "0x111", BlockNumber: 61},
	}}
	store := &stubStore{cursor: 60}

	c := newTestCoordinator(source, store)
	require.NoError(t, c.ProcessBatch(context.Background()))
	require.Equal(t, int64(61), store.cursor)
}

func TestProcessBatch_NoEvents(t *testing.T) {
	store := &stubStore{cursor: 70}
	c := newTestCoordinator(&stubSource{}, store)

	require.NoError(t, c.ProcessBatch(context.Background()))
	require.Equal(t, int64(70), store.cursor)
}
