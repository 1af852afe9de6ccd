package waitlist

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openslot/waitline/internal/messaging"
	"github.com/openslot/waitline/pkg/logging"
)

// noopTx satisfies pgx.Tx for the in-memory store, whose mutations are
// applied directly.
type noopTx struct{}

func (noopTx) Begin(ctx context.Context) (pgx.Tx, error) { return noopTx{}, nil }
func (noopTx) Commit(ctx context.Context) error          { return nil }
func (noopTx) Rollback(ctx context.Context) error        { return nil }
func (noopTx) CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error) {
	return 0, nil
}
func (noopTx) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults { return nil }
func (noopTx) LargeObjects() pgx.LargeObjects                               { return pgx.LargeObjects{} }
func (noopTx) Prepare(ctx context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	return nil, nil
}
func (noopTx) Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, nil
}
func (noopTx) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, nil
}
func (noopTx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row { return nil }
func (noopTx) Conn() *pgx.Conn                                               { return nil }

// memStore is an in-memory orchestratorStore. A single mutex stands in for
// row locking: every method is atomic, so the fill CAS behaves like the real
// UPDATE ... WHERE status = 'open'.
type memStore struct {
	mu          sync.Mutex
	slots       map[uuid.UUID]*CancellationSlot
	offers      map[uuid.UUID]*Offer
	offerSeq    map[uuid.UUID]int
	seq         int
	patients    map[uuid.UUID]*Patient
	candidates  []Candidate
	resolveFail map[uuid.UUID]error
}

func newMemStore() *memStore {
	return &memStore{
		slots:       make(map[uuid.UUID]*CancellationSlot),
		offers:      make(map[uuid.UUID]*Offer),
		offerSeq:    make(map[uuid.UUID]int),
		patients:    make(map[uuid.UUID]*Patient),
		resolveFail: make(map[uuid.UUID]error),
	}
}

func (m *memStore) failResolve(offerID uuid.UUID, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resolveFail[offerID] = err
}

func (m *memStore) addCandidate(phone string, score int) Candidate {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := &Patient{ID: uuid.New(), PhoneE164: phone}
	m.patients[p.ID] = p
	c := Candidate{
		Entry: Entry{
			ID:            uuid.New(),
			PatientID:     p.ID,
			Active:        true,
			JoinedAt:      time.Now().UTC(),
			PriorityScore: &score,
		},
		Phone: phone,
	}
	m.candidates = append(m.candidates, c)
	return c
}

func (m *memStore) Begin(ctx context.Context) (pgx.Tx, error) { return noopTx{}, nil }

func (m *memStore) InsertSlot(ctx context.Context, q Querier, slot *CancellationSlot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slot.ID == uuid.Nil {
		slot.ID = uuid.New()
	}
	slot.Status = SlotOpen
	cp := *slot
	m.slots[slot.ID] = &cp
	return nil
}

func (m *memStore) GetSlot(ctx context.Context, q Querier, slotID uuid.UUID) (*CancellationSlot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[slotID]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cp := *slot
	return &cp, nil
}

func (m *memStore) LockSlot(ctx context.Context, q Querier, slotID uuid.UUID) (*CancellationSlot, error) {
	return m.GetSlot(ctx, q, slotID)
}

func (m *memStore) FillSlotIfOpen(ctx context.Context, q Querier, slotID, patientID uuid.UUID, now time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[slotID]
	if !ok || slot.Status != SlotOpen {
		return false, nil
	}
	slot.Status = SlotFilled
	slot.FilledAt = &now
	slot.FilledBy = &patientID
	return true, nil
}

func (m *memStore) MarkSlotExpired(ctx context.Context, q Querier, slotID uuid.UUID) (bool, error) {
	return m.closeSlot(slotID, SlotExpired)
}

func (m *memStore) MarkSlotAborted(ctx context.Context, q Querier, slotID uuid.UUID) (bool, error) {
	return m.closeSlot(slotID, SlotAborted)
}

func (m *memStore) closeSlot(slotID uuid.UUID, to SlotStatus) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	slot, ok := m.slots[slotID]
	if !ok || slot.Status != SlotOpen {
		return false, nil
	}
	slot.Status = to
	return true, nil
}

func (m *memStore) MaxBatchNumber(ctx context.Context, q Querier, slotID uuid.UUID) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, o := range m.offers {
		if o.SlotID == slotID && o.BatchNumber > max {
			max = o.BatchNumber
		}
	}
	return max, nil
}

func (m *memStore) PendingCountInBatch(ctx context.Context, q Querier, slotID uuid.UUID, batch int) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, o := range m.offers {
		if o.SlotID == slotID && o.BatchNumber == batch && o.State == OfferPending {
			count++
		}
	}
	return count, nil
}

func (m *memStore) OfferedPatientIDs(ctx context.Context, q Querier, slotID uuid.UUID) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []uuid.UUID
	for _, o := range m.offers {
		if o.SlotID == slotID {
			ids = append(ids, o.PatientID)
		}
	}
	return ids, nil
}

func (m *memStore) EligibleCandidates(ctx context.Context, q Querier, exclude []uuid.UUID) ([]Candidate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	excluded := make(map[uuid.UUID]bool, len(exclude))
	for _, id := range exclude {
		excluded[id] = true
	}
	var out []Candidate
	for _, c := range m.candidates {
		if excluded[c.PatientID] {
			continue
		}
		if p, ok := m.patients[c.PatientID]; ok && p.OptOut {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (m *memStore) CreateOffer(ctx context.Context, q Querier, offer *Offer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if offer.ID == uuid.Nil {
		offer.ID = uuid.New()
	}
	offer.State = OfferPending
	for _, o := range m.offers {
		if o.SlotID == offer.SlotID && o.PatientID == offer.PatientID {
			return errors.New("duplicate offer for slot/patient")
		}
	}
	cp := *offer
	m.seq++
	m.offers[offer.ID] = &cp
	m.offerSeq[offer.ID] = m.seq
	return nil
}

func (m *memStore) MarkOfferSent(ctx context.Context, q Querier, offerID uuid.UUID, sentAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.offers[offerID]; ok {
		o.SentAt = &sentAt
	}
	return nil
}

func (m *memStore) ResolveOffer(ctx context.Context, q Querier, offerID uuid.UUID, state OfferState, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.resolveFail[offerID]; err != nil {
		return err
	}
	o, ok := m.offers[offerID]
	if !ok || o.State != OfferPending {
		return nil
	}
	o.State = state
	switch state {
	case OfferAccepted:
		o.AcceptedAt = &at
	case OfferDeclined:
		o.DeclinedAt = &at
	}
	return nil
}

func (m *memStore) LatestPendingOfferForUpdate(ctx context.Context, q Querier, patientID uuid.UUID) (*Offer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *Offer
	latestSeq := -1
	for id, o := range m.offers {
		if o.PatientID == patientID && o.State == OfferPending && m.offerSeq[id] > latestSeq {
			latest = o
			latestSeq = m.offerSeq[id]
		}
	}
	if latest == nil {
		return nil, nil
	}
	cp := *latest
	return &cp, nil
}

func (m *memStore) PendingSiblings(ctx context.Context, q Querier, slotID, excludeOfferID uuid.UUID) ([]SiblingOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SiblingOffer
	for id, o := range m.offers {
		if o.SlotID != slotID || id == excludeOfferID || o.State != OfferPending {
			continue
		}
		phone := ""
		if p, ok := m.patients[o.PatientID]; ok {
			phone = p.PhoneE164
		}
		out = append(out, SiblingOffer{OfferID: id, PatientID: o.PatientID, Phone: phone})
	}
	return out, nil
}

func (m *memStore) ExpireOverdueOffers(ctx context.Context, q Querier, now time.Time) ([]uuid.UUID, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uuid.UUID]bool)
	var slots []uuid.UUID
	expired := 0
	for _, o := range m.offers {
		if o.State == OfferPending && !o.HoldExpiresAt.After(now) {
			o.State = OfferExpired
			expired++
			if !seen[o.SlotID] {
				seen[o.SlotID] = true
				slots = append(slots, o.SlotID)
			}
		}
	}
	return slots, expired, nil
}

func (m *memStore) GetPatientByPhone(ctx context.Context, q Querier, phone string) (*Patient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.patients {
		if p.PhoneE164 == phone {
			cp := *p
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) TouchLastContacted(ctx context.Context, q Querier, patientID uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok := m.patients[patientID]; ok {
		p.LastContactedAt = &at
	}
	return nil
}

func (m *memStore) offerFor(slotID, patientID uuid.UUID) *Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.offers {
		if o.SlotID == slotID && o.PatientID == patientID {
			cp := *o
			return &cp
		}
	}
	return nil
}

func (m *memStore) offersInBatch(slotID uuid.UUID, batch int) []Offer {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Offer
	for _, o := range m.offers {
		if o.SlotID == slotID && o.BatchNumber == batch {
			out = append(out, *o)
		}
	}
	return out
}

// fakeSender records sends and can be told to fail for specific numbers.
type fakeSender struct {
	mu   sync.Mutex
	sent map[string][]string
	fail map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(map[string][]string), fail: make(map[string]bool)}
}

func (f *fakeSender) Send(ctx context.Context, to, body string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[to] {
		return "", errors.New("provider unavailable")
	}
	f.sent[to] = append(f.sent[to], body)
	return "SM-" + to, nil
}

func (f *fakeSender) sentTo(to string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.sent[to]...)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestOrchestrator(store *memStore, sender *fakeSender, clock *fakeClock) *Orchestrator {
	cat := messaging.NewCatalog("Test Clinic", "UTC")
	return &Orchestrator{
		store:     store,
		sender:    sender,
		catalog:   cat,
		batchSize: 3,
		hold:      7 * time.Minute,
		logger:    logging.NewWithWriter("error", io.Discard),
		now:       clock.Now,
	}
}

func openSlot(store *memStore) *CancellationSlot {
	slot := &CancellationSlot{
		Location: "Main St office",
		StartsAt: time.Date(2025, 6, 2, 14, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC),
	}
	_ = store.InsertSlot(context.Background(), nil, slot)
	return slot
}

func TestDispatchCreatesFirstBatch(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	a := store.addCandidate("+15550001", 62)
	b := store.addCandidate("+15550002", 40)
	c := store.addCandidate("+15550003", 10)
	store.addCandidate("+15550004", 5)

	slot := openSlot(store)

	sent, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, sent)

	batch := store.offersInBatch(slot.ID, 1)
	assert.Len(t, batch, 3)
	for _, o := range batch {
		assert.Equal(t, OfferPending, o.State)
		assert.Equal(t, clock.Now().Add(7*time.Minute), o.HoldExpiresAt)
		assert.NotNil(t, o.SentAt)
	}

	for _, cand := range []Candidate{a, b, c} {
		require.Len(t, sender.sentTo(cand.Phone), 1)
		assert.Contains(t, sender.sentTo(cand.Phone)[0], "Main St office")
	}
	assert.Empty(t, sender.sentTo("+15550004"))
}

func TestDispatchPartialSendFailure(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	a := store.addCandidate("+15550001", 62)
	b := store.addCandidate("+15550002", 40)
	c := store.addCandidate("+15550003", 10)
	sender.fail[b.Phone] = true

	slot := openSlot(store)

	sent, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	assert.Equal(t, OfferPending, store.offerFor(slot.ID, a.PatientID).State)
	assert.Equal(t, OfferFailed, store.offerFor(slot.ID, b.PatientID).State)
	assert.Equal(t, OfferPending, store.offerFor(slot.ID, c.PatientID).State)
}

func TestDispatchExhaustionExpiresSlot(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	slot := openSlot(store)

	sent, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	got, err := store.GetSlot(context.Background(), nil, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotExpired, got.Status)
}

func TestDispatchNoopWhileBatchInFlight(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	store.addCandidate("+15550001", 62)
	store.addCandidate("+15550002", 40)

	slot := openSlot(store)

	sent, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, sent)

	// A racing advance attempt must be a cheap no-op.
	sent, err = orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Empty(t, store.offersInBatch(slot.ID, 2))
}

func TestDispatchNoopOnTerminalSlot(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	store.addCandidate("+15550001", 62)
	slot := openSlot(store)
	_, err := store.MarkSlotAborted(context.Background(), nil, slot.ID)
	require.NoError(t, err)

	sent, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
}

func TestAcceptWinsAndCancelsSiblings(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	a := store.addCandidate("+15550001", 62)
	b := store.addCandidate("+15550002", 40)
	c := store.addCandidate("+15550003", 10)

	slot := openSlot(store)
	_, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)

	res, err := orch.Accept(context.Background(), a.Phone)
	require.NoError(t, err)
	assert.Equal(t, ClaimWon, res.Outcome)
	assert.Contains(t, res.Reply, "Main St office")

	got, err := store.GetSlot(context.Background(), nil, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotFilled, got.Status)
	require.NotNil(t, got.FilledBy)
	assert.Equal(t, a.PatientID, *got.FilledBy)

	assert.Equal(t, OfferAccepted, store.offerFor(slot.ID, a.PatientID).State)
	assert.Equal(t, OfferCanceled, store.offerFor(slot.ID, b.PatientID).State)
	assert.Equal(t, OfferCanceled, store.offerFor(slot.ID, c.PatientID).State)

	// Siblings get the courtesy notice on top of the initial offer.
	assert.Len(t, sender.sentTo(b.Phone), 2)
	assert.Len(t, sender.sentTo(c.Phone), 2)
}

func TestAcceptSkipsNoticeWhenSiblingCancelFails(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	a := store.addCandidate("+15550001", 62)
	b := store.addCandidate("+15550002", 40)
	c := store.addCandidate("+15550003", 10)

	slot := openSlot(store)
	_, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)

	store.failResolve(store.offerFor(slot.ID, b.PatientID).ID, errors.New("connection reset"))

	res, err := orch.Accept(context.Background(), a.Phone)
	require.NoError(t, err)
	assert.Equal(t, ClaimWon, res.Outcome)

	// b's offer is still pending, so b must not be told the slot was taken.
	assert.Equal(t, OfferPending, store.offerFor(slot.ID, b.PatientID).State)
	assert.Len(t, sender.sentTo(b.Phone), 1)

	assert.Equal(t, OfferCanceled, store.offerFor(slot.ID, c.PatientID).State)
	assert.Len(t, sender.sentTo(c.Phone), 2)
}

func TestAcceptAfterHoldExpiryAlwaysExpires(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	a := store.addCandidate("+15550001", 62)
	slot := openSlot(store)
	_, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)

	// Past the hold, slot still open, no other winner: expiry must win anyway.
	clock.Advance(7*time.Minute + time.Second)

	res, err := orch.Accept(context.Background(), a.Phone)
	require.NoError(t, err)
	assert.Equal(t, ClaimExpired, res.Outcome)
	assert.Equal(t, OfferExpired, store.offerFor(slot.ID, a.PatientID).State)

	got, err := store.GetSlot(context.Background(), nil, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotOpen, got.Status)
}

func TestAcceptWithoutPendingOffer(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	store.addCandidate("+15550001", 10)

	res, err := orch.Accept(context.Background(), "+15550001")
	require.NoError(t, err)
	assert.Equal(t, ClaimNoOffer, res.Outcome)

	res, err = orch.Accept(context.Background(), "+19999999")
	require.NoError(t, err)
	assert.Equal(t, ClaimNoOffer, res.Outcome)
}

func TestConcurrentAcceptsExactlyOneWins(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := newMemStore()
		sender := newFakeSender()
		clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
		orch := newTestOrchestrator(store, sender, clock)

		a := store.addCandidate("+15550001", 62)
		b := store.addCandidate("+15550002", 40)

		slot := openSlot(store)
		_, err := orch.Dispatch(context.Background(), slot.ID)
		require.NoError(t, err)

		results := make([]*ClaimResult, 2)
		errs := make([]error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			results[0], errs[0] = orch.Accept(context.Background(), a.Phone)
		}()
		go func() {
			defer wg.Done()
			results[1], errs[1] = orch.Accept(context.Background(), b.Phone)
		}()
		wg.Wait()
		require.NoError(t, errs[0])
		require.NoError(t, errs[1])

		wins := 0
		for _, res := range results {
			if res.Outcome == ClaimWon {
				wins++
			} else {
				assert.Equal(t, ClaimTooLate, res.Outcome)
			}
		}
		assert.Equal(t, 1, wins)

		got, err := store.GetSlot(context.Background(), nil, slot.ID)
		require.NoError(t, err)
		assert.Equal(t, SlotFilled, got.Status)

		accepted := 0
		for _, cand := range []Candidate{a, b} {
			offer := store.offerFor(slot.ID, cand.PatientID)
			switch offer.State {
			case OfferAccepted:
				accepted++
			case OfferCanceled:
			default:
				t.Fatalf("unexpected offer state %s", offer.State)
			}
		}
		assert.Equal(t, 1, accepted)
	}
}

func TestDeclineAdvancesWhenBatchResolves(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)
	orch.batchSize = 2

	a := store.addCandidate("+15550001", 62)
	b := store.addCandidate("+15550002", 40)
	d := store.addCandidate("+15550004", 5)

	slot := openSlot(store)
	_, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)

	res, err := orch.Decline(context.Background(), a.Phone)
	require.NoError(t, err)
	assert.True(t, res.Declined)
	assert.False(t, res.Advanced, "batch still has a pending offer")

	res, err = orch.Decline(context.Background(), b.Phone)
	require.NoError(t, err)
	assert.True(t, res.Declined)
	assert.True(t, res.Advanced, "last decline resolves the batch")

	offer := store.offerFor(slot.ID, d.PatientID)
	require.NotNil(t, offer)
	assert.Equal(t, 2, offer.BatchNumber)
	assert.Equal(t, OfferPending, offer.State)
}

func TestDeclineWithoutPendingOffer(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	res, err := orch.Decline(context.Background(), "+15550001")
	require.NoError(t, err)
	assert.False(t, res.Declined)
	assert.NotEmpty(t, res.Reply)
}

func TestAbortCancelsPendingOffers(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	a := store.addCandidate("+15550001", 62)
	b := store.addCandidate("+15550002", 40)

	slot := openSlot(store)
	_, err := orch.Dispatch(context.Background(), slot.ID)
	require.NoError(t, err)

	require.NoError(t, orch.Abort(context.Background(), slot.ID))

	got, err := store.GetSlot(context.Background(), nil, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotAborted, got.Status)
	assert.Equal(t, OfferCanceled, store.offerFor(slot.ID, a.PatientID).State)
	assert.Equal(t, OfferCanceled, store.offerFor(slot.ID, b.PatientID).State)

	err = orch.Abort(context.Background(), slot.ID)
	assert.ErrorIs(t, err, ErrSlotNotOpen)
}

func TestCreateSlotRejectsInvalidWindow(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	orch := newTestOrchestrator(store, sender, clock)

	start := clock.Now()
	_, _, err := orch.CreateSlot(context.Background(), CreateSlotInput{
		Location: "Main St office",
		StartsAt: start,
		EndsAt:   start,
	})
	assert.ErrorIs(t, err, ErrInvalidSlotWindow)
	assert.Empty(t, store.slots)
}

// Full lifecycle: batch 1 at T0, one decline, sweep expiry at T0+7m advances
// to batch 2, last candidate accepts.
func TestEndToEndScenario(t *testing.T) {
	store := newMemStore()
	sender := newFakeSender()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &fakeClock{t: t0}
	orch := newTestOrchestrator(store, sender, clock)

	a := store.addCandidate("+15550001", 62)
	b := store.addCandidate("+15550002", 40)
	c := store.addCandidate("+15550003", 10)
	d := store.addCandidate("+15550004", 5)

	slot, sent, err := orch.CreateSlot(context.Background(), CreateSlotInput{
		Location: "Main St office",
		StartsAt: t0.Add(24 * time.Hour),
		EndsAt:   t0.Add(25 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sent)
	assert.Equal(t, SlotOpen, slot.Status)

	// Batch 1 went to the top three scorers.
	assert.Len(t, store.offersInBatch(slot.ID, 1), 3)
	assert.Nil(t, store.offerFor(slot.ID, d.PatientID))

	// B declines right away; A and C stay pending, so no advance yet.
	clock.Advance(time.Minute)
	res, err := orch.Decline(context.Background(), b.Phone)
	require.NoError(t, err)
	assert.True(t, res.Declined)
	assert.False(t, res.Advanced)

	// At T0+7m the sweep expires A and C and issues batch 2 to D.
	clock.Advance(6 * time.Minute)
	advanced, err := orch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, advanced)

	assert.Equal(t, OfferExpired, store.offerFor(slot.ID, a.PatientID).State)
	assert.Equal(t, OfferDeclined, store.offerFor(slot.ID, b.PatientID).State)
	assert.Equal(t, OfferExpired, store.offerFor(slot.ID, c.PatientID).State)

	dOffer := store.offerFor(slot.ID, d.PatientID)
	require.NotNil(t, dOffer)
	assert.Equal(t, 2, dOffer.BatchNumber)

	// D accepts ten seconds later and wins the slot.
	clock.Advance(10 * time.Second)
	claim, err := orch.Accept(context.Background(), d.Phone)
	require.NoError(t, err)
	assert.Equal(t, ClaimWon, claim.Outcome)

	got, err := store.GetSlot(context.Background(), nil, slot.ID)
	require.NoError(t, err)
	assert.Equal(t, SlotFilled, got.Status)
	require.NotNil(t, got.FilledBy)
	assert.Equal(t, d.PatientID, *got.FilledBy)

	// Nothing more to do: a later sweep is a no-op.
	clock.Advance(10 * time.Minute)
	advanced, err = orch.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, advanced)
}
