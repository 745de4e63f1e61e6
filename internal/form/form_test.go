package form_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthub-ai/agenthub/internal/api"
	"github.com/agenthub-ai/agenthub/internal/form"
	"github.com/agenthub-ai/agenthub/internal/model"
)

// trackingAllocator counts every preview URL issued and revoked so tests can
// assert the create-once/revoke-once discipline.
type trackingAllocator struct {
	mu      sync.Mutex
	n       int
	created map[string]bool
	revoked map[string]int
}

func newTrackingAllocator() *trackingAllocator {
	return &trackingAllocator{created: make(map[string]bool), revoked: make(map[string]int)}
}

func (a *trackingAllocator) Create(name string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.n++
	url := "blob://" + name + "#" + string(rune('0'+a.n))
	a.created[url] = true
	return url
}

func (a *trackingAllocator) Revoke(url string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.revoked[url]++
}

// assertNoLeaks fails if any issued URL was not revoked exactly once.
func (a *trackingAllocator) assertNoLeaks(t *testing.T) {
	t.Helper()
	a.mu.Lock()
	defer a.mu.Unlock()
	for url := range a.created {
		assert.Equal(t, 1, a.revoked[url], "preview URL %s must be revoked exactly once", url)
	}
}

type fakeExecutor struct {
	mu    sync.Mutex
	reqs  []api.ExecuteRequest
	resp  *api.ExecuteResponse
	err   error
	block chan struct{}
}

func (f *fakeExecutor) Execute(_ context.Context, req api.ExecuteRequest) (*api.ExecuteResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.block != nil {
		<-f.block
	}
	return f.resp, f.err
}

type fakeExpirer struct {
	mu      sync.Mutex
	reasons []string
}

func (f *fakeExpirer) Expire(_ context.Context, reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

func testFields() []model.FieldSchema {
	return []model.FieldSchema{
		{Variable: "topic", Datatype: model.FieldString, Required: true},
		{Variable: "num_questions", Datatype: model.FieldInt, Required: true},
		{Variable: "include_answers", Datatype: model.FieldBool},
		{Variable: "structured_output", Datatype: model.FieldBool},
		{Variable: "source_file", Datatype: model.FieldFile, Required: true},
	}
}

func newTestEngine(t *testing.T, exec *fakeExecutor) (*form.Engine, *trackingAllocator, *fakeExpirer) {
	t.Helper()
	alloc := newTrackingAllocator()
	expirer := &fakeExpirer{}
	e := form.NewEngine(slog.Default(), "agent-1", testFields(), exec, expirer, alloc)
	return e, alloc, expirer
}

func TestInitializeDefaults(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeExecutor{})

	assert.Equal(t, true, e.Value("structured_output"))
	assert.Equal(t, false, e.Value("include_answers"))
	assert.Nil(t, e.Value("topic"), "scalars stay absent until the user types")
	assert.Nil(t, e.Value("num_questions"))
	assert.Empty(t, e.ThreadID())
}

func TestSetFieldClampsNumbersToZero(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeExecutor{})

	e.SetField("num_questions", -5)
	assert.Equal(t, 0, e.Value("num_questions"))

	e.SetField("num_questions", 7)
	assert.Equal(t, 7, e.Value("num_questions"))

	e.SetField("topic", "photosynthesis")
	assert.Equal(t, "photosynthesis", e.Value("topic"))
}

func TestAttachFileReplacesRemoteURLAndPreview(t *testing.T) {
	e, alloc, _ := newTestEngine(t, &fakeExecutor{})

	e.RehydrateFrom(form.RehydratePayload{
		Files: []model.FileMeta{{FileName: "source_file.pdf", SignedURL: "https://s3/signed/source_file.pdf"}},
	})
	url, ok := e.RemoteURL("source_file")
	require.True(t, ok)
	assert.Equal(t, "https://s3/signed/source_file.pdf", url)

	e.AttachFile("source_file", form.FileHandle{Name: "new.pdf", Data: []byte("x")})
	_, ok = e.RemoteURL("source_file")
	assert.False(t, ok, "attaching a file discards the remote reference")
	first, ok := e.PreviewURL("source_file")
	require.True(t, ok)

	// Re-attaching revokes the previous preview before creating a new one.
	e.AttachFile("source_file", form.FileHandle{Name: "newer.pdf", Data: []byte("y")})
	second, ok := e.PreviewURL("source_file")
	require.True(t, ok)
	assert.NotEqual(t, first, second)

	e.ClearAll()
	alloc.assertNoLeaks(t)
}

func TestRehydrateCoercesDatatypes(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeExecutor{})

	e.RehydrateFrom(form.RehydratePayload{
		Inputs: []model.InputPair{
			{Variable: "topic", Value: "fractions"},
			{Variable: "num_questions", Value: "12"},
			{Variable: "include_answers", Value: "TRUE"},
		},
		ThreadID: "thread-1",
	})

	assert.Equal(t, "fractions", e.Value("topic"))
	assert.Equal(t, 12, e.Value("num_questions"))
	assert.Equal(t, true, e.Value("include_answers"))
	assert.Equal(t, true, e.Value("structured_output"), "structured_output is forced true regardless of history")
	assert.Equal(t, "thread-1", e.ThreadID())
}

func TestRehydrateBadIntDefaultsToZero(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeExecutor{})

	e.RehydrateFrom(form.RehydratePayload{
		Inputs: map[string]any{"num_questions": "a dozen", "include_answers": "yes"},
	})

	assert.Equal(t, 0, e.Value("num_questions"))
	assert.Equal(t, false, e.Value("include_answers"), `only "true" reads as true`)
}

func TestRehydrateThenClearMatchesInitialize(t *testing.T) {
	exec := &fakeExecutor{}
	e, alloc, _ := newTestEngine(t, exec)
	fresh, _, _ := newTestEngine(t, exec)

	e.RehydrateFrom(form.RehydratePayload{
		Inputs:   []model.InputPair{{Variable: "topic", Value: "algebra"}, {Variable: "num_questions", Value: "5"}},
		Files:    []model.FileMeta{{FileName: "notes.pdf", FileURL: "https://s3/notes.pdf"}},
		ThreadID: "thread-9",
	})
	e.AttachFile("source_file", form.FileHandle{Name: "live.pdf", Data: []byte("x")})
	e.ClearAll()

	for _, variable := range []string{"topic", "num_questions", "include_answers", "structured_output"} {
		assert.Equal(t, fresh.Value(variable), e.Value(variable), "field %s", variable)
	}
	assert.Empty(t, e.ThreadID())
	_, hasRemote := e.RemoteURL("source_file")
	assert.False(t, hasRemote)
	_, hasPreview := e.PreviewURL("source_file")
	assert.False(t, hasPreview)
	alloc.assertNoLeaks(t)
}

func TestFirstMatchWinsForAmbiguousFiles(t *testing.T) {
	e, _, _ := newTestEngine(t, &fakeExecutor{})

	e.RehydrateFrom(form.RehydratePayload{
		Files: []model.FileMeta{
			{FileName: "a.pdf", SignedURL: "https://s3/a.pdf"},
			{FileName: "b.pdf", SignedURL: "https://s3/b.pdf"},
		},
	})

	url, ok := e.RemoteURL("source_file")
	require.True(t, ok)
	assert.Equal(t, "https://s3/a.pdf", url, "the first matching file keeps the field")
}

func TestSubmitValidation(t *testing.T) {
	exec := &fakeExecutor{resp: &api.ExecuteResponse{Status: true, ExecutionID: "exec-1"}}
	e, _, _ := newTestEngine(t, exec)

	_, err := e.SubmitForm(context.Background())
	var verr *form.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, []string{"topic", "num_questions", "source_file"}, verr.Fields, "failures listed in schema order")
	assert.Empty(t, exec.reqs, "validation failure must not reach the network")
}

func TestSubmitRequiredFileSatisfiedByRemoteURL(t *testing.T) {
	exec := &fakeExecutor{resp: &api.ExecuteResponse{Status: true, ExecutionID: "exec-1", ThreadID: "thread-1"}}
	e, _, _ := newTestEngine(t, exec)

	e.RehydrateFrom(form.RehydratePayload{
		Inputs: []model.InputPair{{Variable: "topic", Value: "optics"}, {Variable: "num_questions", Value: "3"}},
		Files:  []model.FileMeta{{FileName: "source_file.pdf", SignedURL: "https://s3/source_file.pdf"}},
	})

	res, err := e.SubmitForm(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "exec-1", res.ExecutionID)
	assert.Equal(t, "thread-1", e.ThreadID(), "engine adopts the returned thread id")

	require.Len(t, exec.reqs, 1)
	req := exec.reqs[0]
	assert.Equal(t, true, req.Params["structured_output"])
	assert.Equal(t, "https://s3/source_file.pdf", req.Params["source_file"], "stored upload sent by reference")
	assert.Empty(t, req.Files)
}

func TestSubmitAttachesFileBlobs(t *testing.T) {
	exec := &fakeExecutor{resp: &api.ExecuteResponse{Status: true, ExecutionID: "exec-2"}}
	e, _, _ := newTestEngine(t, exec)

	e.SetField("topic", "sound")
	e.SetField("num_questions", 4)
	e.AttachFile("source_file", form.FileHandle{Name: "clip.mp3", Data: []byte("RIFF")})

	_, err := e.SubmitForm(context.Background())
	require.NoError(t, err)

	require.Len(t, exec.reqs, 1)
	require.Len(t, exec.reqs[0].Files, 1)
	assert.Equal(t, "source_file", exec.reqs[0].Files[0].FieldName)
	assert.Equal(t, []byte("RIFF"), exec.reqs[0].Files[0].Data)
}

func TestSubmitUnauthorizedRunsExpiryPath(t *testing.T) {
	exec := &fakeExecutor{err: &api.Error{StatusCode: http.StatusUnauthorized, Message: "expired"}}
	e, _, expirer := newTestEngine(t, exec)

	e.SetField("topic", "sound")
	e.SetField("num_questions", 1)
	e.AttachFile("source_file", form.FileHandle{Name: "clip.mp3"})

	_, err := e.SubmitForm(context.Background())
	require.ErrorIs(t, err, form.ErrSessionExpired)
	require.Len(t, expirer.reasons, 1)
}

func TestSubmitOtherErrorSurfaces(t *testing.T) {
	exec := &fakeExecutor{err: &api.Error{StatusCode: http.StatusPaymentRequired, Message: "You are out of credits"}}
	e, _, expirer := newTestEngine(t, exec)

	e.SetField("topic", "sound")
	e.SetField("num_questions", 1)
	e.AttachFile("source_file", form.FileHandle{Name: "clip.mp3"})

	_, err := e.SubmitForm(context.Background())
	require.Error(t, err)
	assert.Equal(t, "You are out of credits", api.UserMessage(err))
	assert.Empty(t, expirer.reasons, "only 401s take the expiry path")
}

func TestSubmitGuardsDoubleSubmit(t *testing.T) {
	exec := &fakeExecutor{
		resp:  &api.ExecuteResponse{Status: true, ExecutionID: "exec-3"},
		block: make(chan struct{}),
	}
	e, _, _ := newTestEngine(t, exec)
	e.SetField("topic", "sound")
	e.SetField("num_questions", 1)
	e.AttachFile("source_file", form.FileHandle{Name: "clip.mp3"})

	done := make(chan error, 1)
	go func() {
		_, err := e.SubmitForm(context.Background())
		done <- err
	}()

	// Wait until the first submission is inside the executor.
	require.Eventually(t, func() bool {
		exec.mu.Lock()
		defer exec.mu.Unlock()
		return len(exec.reqs) == 1
	}, time.Second, 5*time.Millisecond)

	_, err := e.SubmitForm(context.Background())
	assert.True(t, errors.Is(err, form.ErrSubmitInFlight))

	close(exec.block)
	require.NoError(t, <-done)
}

func TestDispatchCommands(t *testing.T) {
	exec := &fakeExecutor{resp: &api.ExecuteResponse{Status: true, ExecutionID: "exec-4"}}
	e, _, _ := newTestEngine(t, exec)
	ctx := context.Background()

	_, err := e.Dispatch(ctx, form.Rehydrate{Payload: form.RehydratePayload{
		Inputs: []model.InputPair{{Variable: "topic", Value: "waves"}, {Variable: "num_questions", Value: "2"}},
		Files:  []model.FileMeta{{FileName: "source_file.wav", FileURL: "https://s3/source_file.wav"}},
	}})
	require.NoError(t, err)

	res, err := e.Dispatch(ctx, form.Submit{})
	require.NoError(t, err)
	assert.Equal(t, "exec-4", res.ExecutionID)

	_, err = e.Dispatch(ctx, form.Clear{})
	require.NoError(t, err)
	assert.Nil(t, e.Value("topic"))
}
