package launcher

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/backendctl/pkg/config"
	"github.com/go-go-golems/backendctl/pkg/events"
	"github.com/go-go-golems/backendctl/pkg/proc"
	"github.com/go-go-golems/backendctl/pkg/state"
	"github.com/go-go-golems/backendctl/pkg/venv"
)

type fakeRunner struct {
	results map[string]proc.Result
	errs    map[string]error
	specs   []proc.Spec
}

var _ proc.Runner = (*fakeRunner)(nil)

func (f *fakeRunner) Run(ctx context.Context, spec proc.Spec) (proc.Result, error) {
	f.specs = append(f.specs, spec)
	if err, ok := f.errs[spec.Name]; ok {
		return proc.Result{}, err
	}
	res := f.results[spec.Name]
	if res.StartedAt.IsZero() {
		res.StartedAt = time.Now()
		res.ExitedAt = res.StartedAt
	}
	return res, nil
}

func testConfig(t *testing.T) (config.Config, string) {
	t.Helper()
	root, err := os.MkdirTemp("", "backendctl-launcher-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(root) })

	cfg, err := (&config.File{}).Resolve(root)
	require.NoError(t, err)
	return cfg, root
}

func TestRun_HappyPath(t *testing.T) {
	cfg, _ := testConfig(t)
	fr := &fakeRunner{results: map[string]proc.Result{
		"init-db": {PID: 100, ExitCode: 0},
		"server":  {PID: 101, ExitCode: 0},
	}}
	var out bytes.Buffer

	l := New(Options{Config: cfg, Runner: fr, Out: &out})
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, fr.specs, 2)
	require.Equal(t, "init-db", fr.specs[0].Name)
	require.Equal(t, []string{"python", "init_db.py"}, fr.specs[0].Argv)
	require.Equal(t, "server", fr.specs[1].Name)
	require.Equal(t,
		[]string{"uvicorn", "main:app", "--host", "0.0.0.0", "--port", "8000", "--reload"},
		fr.specs[1].Argv)

	// Both children must receive forwarded operator signals: an interrupt
	// during init has to stop init, not orphan it.
	require.True(t, fr.specs[0].ForwardSignals)
	require.True(t, fr.specs[1].ForwardSignals)

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Equal(t, []string{
		"Starting backend...",
		"Initializing database...",
		"Starting FastAPI server...",
	}, lines)
}

func TestRun_InitFailureShortCircuitsServer(t *testing.T) {
	cfg, _ := testConfig(t)
	fr := &fakeRunner{results: map[string]proc.Result{
		"init-db": {PID: 100, ExitCode: 3},
	}}
	var out bytes.Buffer

	l := New(Options{Config: cfg, Runner: fr, Out: &out})
	err := l.Run(context.Background())

	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, PhaseInit, ee.Phase)
	require.Equal(t, 3, ee.Code)

	require.Len(t, fr.specs, 1)
	require.Equal(t, "init-db", fr.specs[0].Name)
	require.NotContains(t, out.String(), "Starting FastAPI server...")
}

func TestRun_ServerExitStatusPropagates(t *testing.T) {
	cfg, _ := testConfig(t)
	fr := &fakeRunner{results: map[string]proc.Result{
		"init-db": {PID: 100, ExitCode: 0},
		"server":  {PID: 101, ExitCode: 9},
	}}

	l := New(Options{Config: cfg, Runner: fr, Out: &bytes.Buffer{}})
	err := l.Run(context.Background())

	var ee *ExitError
	require.ErrorAs(t, err, &ee)
	require.Equal(t, PhaseServe, ee.Phase)
	require.Equal(t, 9, ee.Code)
}

func TestRun_VenvAbsentUsesAmbientEnvironment(t *testing.T) {
	cfg, _ := testConfig(t)
	fr := &fakeRunner{results: map[string]proc.Result{
		"init-db": {ExitCode: 0},
		"server":  {ExitCode: 0},
	}}

	l := New(Options{Config: cfg, Runner: fr, Out: &bytes.Buffer{}})
	require.NoError(t, l.Run(context.Background()))

	for _, spec := range fr.specs {
		require.NotContains(t, spec.Env, "VIRTUAL_ENV="+cfg.VenvPath)
	}
}

func TestRun_VenvActivationAppliedToBothSpawns(t *testing.T) {
	cfg, root := testConfig(t)
	binDir := filepath.Join(cfg.VenvPath, venv.BinDirName())
	require.NoError(t, os.MkdirAll(binDir, 0o755))

	fr := &fakeRunner{results: map[string]proc.Result{
		"init-db": {ExitCode: 0},
		"server":  {ExitCode: 0},
	}}

	l := New(Options{Config: cfg, Runner: fr, Out: &bytes.Buffer{}})
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, fr.specs, 2)
	for _, spec := range fr.specs {
		require.Contains(t, spec.Env, "VIRTUAL_ENV="+cfg.VenvPath)
		foundPath := false
		for _, kv := range spec.Env {
			if strings.HasPrefix(kv, "PATH="+binDir+string(os.PathListSeparator)) || kv == "PATH="+binDir {
				foundPath = true
			}
		}
		require.True(t, foundPath, "venv bin dir must lead PATH for %s", spec.Name)
		require.Equal(t, root, spec.Dir)
	}
}

func TestRun_CorruptVenvIsFatalBeforeInit(t *testing.T) {
	cfg, _ := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.VenvPath, 0o755)) // present, but no bin dir

	fr := &fakeRunner{}
	l := New(Options{Config: cfg, Runner: fr, Out: &bytes.Buffer{}})
	err := l.Run(context.Background())
	require.Error(t, err)

	var ee *ExitError
	require.False(t, stderrors.As(err, &ee))
	require.Empty(t, fr.specs)
}

func TestRun_RecordsRunOutcome(t *testing.T) {
	cfg, root := testConfig(t)
	fr := &fakeRunner{results: map[string]proc.Result{
		"init-db": {PID: 100, ExitCode: 0},
		"server":  {PID: 101, ExitCode: 143, Signal: "terminated"},
	}}

	l := New(Options{Config: cfg, Runner: fr, Out: &bytes.Buffer{}, RecordRun: true})
	err := l.Run(context.Background())
	require.Error(t, err)

	rec, err := state.ReadRunRecord(root)
	require.NoError(t, err)
	require.NotNil(t, rec.InitExitCode)
	require.Equal(t, 0, *rec.InitExitCode)
	require.Equal(t, 101, rec.ServerPID)
	require.NotNil(t, rec.ServerExitCode)
	require.Equal(t, 143, *rec.ServerExitCode)
	require.Equal(t, "terminated", rec.ServerSignal)
}

func TestRun_SkipInit(t *testing.T) {
	cfg, _ := testConfig(t)
	fr := &fakeRunner{results: map[string]proc.Result{
		"server": {ExitCode: 0},
	}}

	l := New(Options{Config: cfg, Runner: fr, Out: &bytes.Buffer{}, SkipInit: true})
	require.NoError(t, l.Run(context.Background()))

	require.Len(t, fr.specs, 1)
	require.Equal(t, "server", fr.specs[0].Name)
}

func TestRun_PublishesLifecycleEvents(t *testing.T) {
	cfg, _ := testConfig(t)
	fr := &fakeRunner{results: map[string]proc.Result{
		"init-db": {ExitCode: 0},
		"server":  {ExitCode: 0},
	}}

	bus, err := events.NewInMemoryBus()
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	msgs, err := bus.Subscriber.Subscribe(ctx, events.TopicLifecycle)
	require.NoError(t, err)

	l := New(Options{Config: cfg, Runner: fr, Out: &bytes.Buffer{}, Publisher: bus.Publisher})
	require.NoError(t, l.Run(ctx))

	want := []string{
		events.TypeRunStarted,
		events.TypeEnvAbsent,
		events.TypeInitStarted,
		events.TypeInitFinished,
		events.TypeServerStart,
		events.TypeServerExited,
	}
	for _, typ := range want {
		select {
		case msg := <-msgs:
			var env events.Envelope
			require.NoError(t, json.Unmarshal(msg.Payload, &env))
			require.Equal(t, typ, env.Type)
			msg.Ack()
		case <-ctx.Done():
			t.Fatalf("timed out waiting for %s", typ)
		}
	}
}

type failingPublisher struct{}

func (failingPublisher) Publish(topic string, messages ...*message.Message) error {
	return errors.New("bus down")
}

func (failingPublisher) Close() error { return nil }

func TestRun_PublisherFailureDoesNotAlterOutcome(t *testing.T) {
	cfg, _ := testConfig(t)
	fr := &fakeRunner{results: map[string]proc.Result{
		"init-db": {ExitCode: 0},
		"server":  {ExitCode: 0},
	}}

	l := New(Options{Config: cfg, Runner: fr, Out: &bytes.Buffer{}, Publisher: failingPublisher{}})
	require.NoError(t, l.Run(context.Background()))
	require.Len(t, fr.specs, 2)
}

func TestExitError_Messages(t *testing.T) {
	require.Equal(t, "database initialization failed with status 1",
		(&ExitError{Phase: PhaseInit, Code: 1}).Error())
	require.Equal(t, "server exited with status 143 (signal terminated)",
		(&ExitError{Phase: PhaseServe, Code: 143, Signal: "terminated"}).Error())
}
