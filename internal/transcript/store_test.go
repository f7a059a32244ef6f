package transcript

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"grimoire/internal/domain"
)

type fakeStorage struct {
	values    map[string]string
	getErr    error
	setErr    error
	deleteErr error
	sets      int
	deletes   int
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{values: map[string]string{}}
}

func (f *fakeStorage) Get(_ context.Context, key string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeStorage) Set(_ context.Context, key, value string) error {
	f.sets++
	if f.setErr != nil {
		return f.setErr
	}
	f.values[key] = value
	return nil
}

func (f *fakeStorage) Delete(_ context.Context, key string) error {
	f.deletes++
	if f.deleteErr != nil {
		return f.deleteErr
	}
	delete(f.values, key)
	return nil
}

func mustNewStore(t *testing.T, s Storage) *Store {
	t.Helper()
	store, err := NewStore(s, "")
	require.NoError(t, err)
	return store
}

func twoMessages() domain.Transcript {
	return domain.Transcript{
		domain.UserMessage("What is the hour of Jupiter?"),
		domain.AssistantMessage("The first hour of Thursday, seeker."),
	}
}

func TestNewStore_Validates(t *testing.T) {
	_, err := NewStore(nil, "k")
	require.Error(t, err)

	s, err := NewStore(newFakeStorage(), "  ")
	require.NoError(t, err)
	require.Equal(t, DefaultKey, s.key)
}

func TestLoad_NoEntryReturnsEmpty(t *testing.T) {
	store := mustNewStore(t, newFakeStorage())
	got := store.Load(context.Background(), "Azrael")
	require.NotNil(t, got)
	require.Empty(t, got)
}

func TestSaveThenLoad_RoundTrip(t *testing.T) {
	fs := newFakeStorage()
	store := mustNewStore(t, fs)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "Azrael", twoMessages()))
	require.Equal(t, twoMessages(), store.Load(ctx, "Azrael"))
	require.Empty(t, store.Load(ctx, "Raphael"))
}

func TestSave_WritesOriginalWireFormat(t *testing.T) {
	fs := newFakeStorage()
	store := mustNewStore(t, fs)

	require.NoError(t, store.Save(context.Background(), "Azrael", twoMessages()))
	require.JSONEq(t, `{"Azrael":[
		{"role":"user","parts":[{"text":"What is the hour of Jupiter?"}]},
		{"role":"model","parts":[{"text":"The first hour of Thursday, seeker."}]}
	]}`, fs.values[DefaultKey])
}

func TestLoad_ReadsExistingBrowserData(t *testing.T) {
	fs := newFakeStorage()
	fs.values[DefaultKey] = `{"Raphael, The Messenger":[{"role":"user","parts":[{"text":"Which herb?"}]},{"role":"model","parts":[{"text":"Vervain."}]}],
		"Other":[{"role":"assistant","parts":[{"text":"a"},{"text":"b"}]}]}`
	store := mustNewStore(t, fs)

	got := store.Load(context.Background(), "Raphael, The Messenger")
	require.Equal(t, domain.Transcript{
		domain.UserMessage("Which herb?"),
		domain.AssistantMessage("Vervain."),
	}, got)
	require.Equal(t, domain.Transcript{domain.AssistantMessage("ab")}, store.Load(context.Background(), "Other"))
}

func TestLoad_CorruptDataDegradesToEmpty(t *testing.T) {
	cases := map[string]string{
		"not json":     `{{{`,
		"wrong shape":  `["a","b"]`,
		"unknown role": `{"Azrael":[{"role":"system","parts":[{"text":"x"}]}]}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			fs := newFakeStorage()
			fs.values[DefaultKey] = raw
			store := mustNewStore(t, fs)
			require.Empty(t, store.Load(context.Background(), "Azrael"))
			require.Empty(t, store.LoadAll(context.Background()))
		})
	}
}

func TestLoad_StorageErrorDegradesToEmpty(t *testing.T) {
	fs := newFakeStorage()
	fs.getErr = errors.New("disk on fire")
	store := mustNewStore(t, fs)
	require.Empty(t, store.Load(context.Background(), "Azrael"))
}

func TestSave_EmptyTranscriptRemovesEntry(t *testing.T) {
	fs := newFakeStorage()
	store := mustNewStore(t, fs)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "Azrael", twoMessages()))
	require.NoError(t, store.Save(ctx, "Raphael", twoMessages()))

	require.NoError(t, store.Save(ctx, "Azrael", domain.Transcript{}))
	require.Empty(t, store.Load(ctx, "Azrael"))
	all := store.LoadAll(ctx)
	require.NotContains(t, all, "Azrael")
	require.Contains(t, all, "Raphael")

	// Removing the last persona removes the document itself.
	require.NoError(t, store.Save(ctx, "Raphael", nil))
	_, present := fs.values[DefaultKey]
	require.False(t, present)
	require.Empty(t, store.Load(ctx, "Raphael"))
}

func TestSave_ReplacesWholeTranscript(t *testing.T) {
	store := mustNewStore(t, newFakeStorage())
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "Azrael", twoMessages()))
	shorter := domain.Transcript{domain.UserMessage("only this")}
	require.NoError(t, store.Save(ctx, "Azrael", shorter))
	require.Equal(t, shorter, store.Load(ctx, "Azrael"))
}

func TestSave_DoesNotAliasCallerSlice(t *testing.T) {
	store := mustNewStore(t, newFakeStorage())
	ctx := context.Background()

	tr := twoMessages()
	require.NoError(t, store.Save(ctx, "Azrael", tr))
	tr[1].Text = "mutated"
	require.Equal(t, "The first hour of Thursday, seeker.", store.Load(ctx, "Azrael")[1].Text)
}

func TestSave_StorageErrorIsReturned(t *testing.T) {
	fs := newFakeStorage()
	fs.setErr = errors.New("quota exceeded")
	store := mustNewStore(t, fs)

	err := store.Save(context.Background(), "Azrael", twoMessages())
	require.Error(t, err)
	require.Contains(t, err.Error(), "transcript: save")
}

func TestSave_ReadErrorKeepsOtherPersonas(t *testing.T) {
	fs := newFakeStorage()
	store := mustNewStore(t, fs)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "Raphael", twoMessages()))
	require.NoError(t, store.Save(ctx, "Azrael", twoMessages()))
	sets := fs.sets

	fs.getErr = errors.New("request timed out")
	err := store.Save(ctx, "Azrael", append(twoMessages(), twoMessages()...))
	require.ErrorContains(t, err, "request timed out")
	require.Equal(t, sets, fs.sets)

	fs.getErr = nil
	require.Equal(t, twoMessages(), store.Load(ctx, "Raphael"))
	require.Equal(t, twoMessages(), store.Load(ctx, "Azrael"))
}

func TestClearAll(t *testing.T) {
	fs := newFakeStorage()
	store := mustNewStore(t, fs)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "Azrael", twoMessages()))
	require.NoError(t, store.Save(ctx, "Raphael", twoMessages()))
	require.NoError(t, store.ClearAll(ctx))

	require.Empty(t, store.Load(ctx, "Azrael"))
	require.Empty(t, store.Load(ctx, "Raphael"))
	require.Empty(t, store.LoadAll(ctx))

	fs.deleteErr = errors.New("denied")
	require.Error(t, store.ClearAll(ctx))
}

func TestStore_UsesConfiguredKey(t *testing.T) {
	fs := newFakeStorage()
	store, err := NewStore(fs, "custom")
	require.NoError(t, err)
	require.NoError(t, store.Save(context.Background(), "Azrael", twoMessages()))
	require.Contains(t, fs.values, "custom")
	require.NotContains(t, fs.values, DefaultKey)
}
