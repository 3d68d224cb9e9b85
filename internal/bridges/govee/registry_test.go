package govee

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	states map[string]State
	err    error
}

func (f *fakeStore) LoadState(_ context.Context, id string) (State, bool, error) {
	if f.err != nil {
		return State{}, false, f.err
	}
	st, ok := f.states[id]
	return st, ok, nil
}

func newTestRegistry(t *testing.T, opts RegistryOptions) *Registry {
	t.Helper()
	if opts.Transport == nil {
		opts.Transport = NewSimTransport()
	}
	if opts.Timings == (Timings{}) {
		opts.Timings = fastTimings()
	}

	r, err := NewRegistry(opts)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = r.CloseAll(ctx)
	})
	return r
}

func TestNewRegistry_Validation(t *testing.T) {
	_, err := NewRegistry(RegistryOptions{})
	assert.Error(t, err)

	_, err = NewRegistry(RegistryOptions{
		Transport: NewSimTransport(),
		Models:    map[string]string{"bogus": "H6008"},
	})
	assert.ErrorIs(t, err, ErrInvalidDeviceID)
}

func TestRegistry_ConcurrentGetOrCreate(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	const n = 50
	sessions := make([]*Session, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "AA:BB:CC:DD:EE:FF"
			if i%2 == 1 {
				id = "AABBCCDDEEFF"
			}
			s, err := r.GetOrCreate(context.Background(), id, "")
			assert.NoError(t, err)
			sessions[i] = s
		}(i)
	}
	wg.Wait()

	require.NotNil(t, sessions[0])
	for _, s := range sessions {
		assert.Same(t, sessions[0], s)
	}
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_TopicIDFromFirstReference(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	s1, err := r.GetOrCreate(context.Background(), "a4c138001122", "")
	require.NoError(t, err)
	s2, err := r.GetOrCreate(context.Background(), "A4:C1:38:00:11:22", "H6008")
	require.NoError(t, err)

	assert.Same(t, s1, s2)
	assert.Equal(t, "a4c138001122", s2.TopicID())
	assert.Equal(t, ProfileBasic, s2.Profile().Name(), "model ignored for existing session")
}

func TestRegistry_ConfiguredModels(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{
		Models: map[string]string{"a4-c1-38-00-11-22": "H6199"},
	})

	s, err := r.GetOrCreate(context.Background(), "A4C138001122", "")
	require.NoError(t, err)
	assert.Equal(t, ProfileSegment, s.Profile().Name())

	other, err := r.GetOrCreate(context.Background(), "A4C138001133", "extended")
	require.NoError(t, err)
	assert.Equal(t, ProfileExtended, other.Profile().Name())
}

func TestRegistry_RestoresPersistedState(t *testing.T) {
	stored := State{Power: true, Brightness: 0.3, Color: Color{Mode: ColorModeRGB, R: 1, G: 2, B: 3, Kelvin: 2700}}
	r := newTestRegistry(t, RegistryOptions{
		Store: &fakeStore{states: map[string]State{testDevice: stored}},
	})

	s, err := r.GetOrCreate(context.Background(), testDevice, "")
	require.NoError(t, err)
	assert.Equal(t, stored, s.State())
	assert.Equal(t, Fields(0), s.Dirty())

	fresh, err := r.GetOrCreate(context.Background(), "A4C138001199", "")
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), fresh.State())
}

func TestRegistry_StoreErrorKeepsDefaults(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{
		Store: &fakeStore{err: errors.New("disk gone")},
	})

	s, err := r.GetOrCreate(context.Background(), testDevice, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultState(), s.State())
}

// blockingStore holds LoadState for one device until released.
type blockingStore struct {
	device  string
	entered chan struct{}
	release chan struct{}
}

func (b *blockingStore) LoadState(ctx context.Context, id string) (State, bool, error) {
	if id != b.device {
		return State{}, false, nil
	}
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return State{}, false, ctx.Err()
	}
	st := DefaultState()
	st.Brightness = 0.25
	return st, true, nil
}

func TestRegistry_SlowLoadDoesNotBlockOtherDevices(t *testing.T) {
	const slow, other = "A4:C1:38:00:00:0A", "A4:C1:38:00:00:0B"
	store := &blockingStore{
		device:  slow,
		entered: make(chan struct{}, 2),
		release: make(chan struct{}),
	}
	r := newTestRegistry(t, RegistryOptions{Store: store})

	existing, err := r.GetOrCreate(context.Background(), other, "")
	require.NoError(t, err)

	results := make(chan *Session, 2)
	for i := 0; i < 2; i++ {
		go func() {
			s, err := r.GetOrCreate(context.Background(), slow, "")
			assert.NoError(t, err)
			results <- s
		}()
	}
	for i := 0; i < 2; i++ {
		select {
		case <-store.entered:
		case <-time.After(2 * time.Second):
			t.Fatal("state load never started")
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s, err := r.Get(other)
		assert.NoError(t, err)
		assert.Same(t, existing, s)
		assert.Len(t, r.List(), 1)
		again, err := r.GetOrCreate(context.Background(), other, "")
		assert.NoError(t, err)
		assert.Same(t, existing, again)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("registry blocked while another device loaded its state")
	}

	close(store.release)
	first, second := <-results, <-results
	require.NotNil(t, first)
	assert.Same(t, first, second)
	assert.Equal(t, 2, r.Len())
	assert.InDelta(t, 0.25, first.State().Brightness, 1e-9)
}

func TestRegistry_GetAndList(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	_, err := r.Get(testDevice)
	assert.ErrorIs(t, err, ErrUnknownDevice)
	_, err = r.Get("zz")
	assert.ErrorIs(t, err, ErrInvalidDeviceID)
	_, err = r.GetOrCreate(context.Background(), "zz", "")
	assert.ErrorIs(t, err, ErrInvalidDeviceID)

	for _, id := range []string{"CC0000000000", "AA0000000000", "BB0000000000"} {
		_, err := r.GetOrCreate(context.Background(), id, "")
		require.NoError(t, err)
	}

	list := r.List()
	require.Len(t, list, 3)
	assert.Equal(t, "AA:00:00:00:00:00", list[0].ID())
	assert.Equal(t, "CC:00:00:00:00:00", list[2].ID())

	s, err := r.Get("bb0000000000")
	require.NoError(t, err)
	assert.Equal(t, "BB:00:00:00:00:00", s.ID())
}

func TestRegistry_Close(t *testing.T) {
	r := newTestRegistry(t, RegistryOptions{})

	s, err := r.GetOrCreate(context.Background(), testDevice, "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.Close(ctx, testDevice))
	assert.Equal(t, 0, r.Len())
	assert.Equal(t, LinkClosed, s.LinkState())

	assert.ErrorIs(t, r.Close(ctx, testDevice), ErrUnknownDevice)
}

func TestRegistry_CloseAll(t *testing.T) {
	sim := NewSimTransport()
	r := newTestRegistry(t, RegistryOptions{Transport: sim})

	ids := []string{"AA0000000001", "AA0000000002"}
	for _, id := range ids {
		_, err := r.GetOrCreate(context.Background(), id, "")
		require.NoError(t, err)
	}
	for _, id := range ids {
		canonical, _ := NormalizeDeviceID(id)
		dev := sim.Device(canonical)
		require.Eventually(t, dev.Connected, time.Second, time.Millisecond)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, r.CloseAll(ctx))

	for _, s := range r.List() {
		assert.Equal(t, LinkClosed, s.LinkState())
		<-s.Done()
	}
	for _, id := range ids {
		canonical, _ := NormalizeDeviceID(id)
		assert.False(t, sim.Device(canonical).Connected())
	}

	_, err := r.GetOrCreate(context.Background(), "AA0000000003", "")
	assert.ErrorIs(t, err, ErrSessionClosed)
}
