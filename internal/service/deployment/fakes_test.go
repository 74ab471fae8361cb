package deployment

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/docker/go-connections/nat"

	"github.com/splunk/learning-labs-portal/internal/docker"
	"github.com/splunk/learning-labs-portal/internal/domain"
	"github.com/splunk/learning-labs-portal/internal/health"
	"github.com/splunk/learning-labs-portal/internal/repository"
	"github.com/splunk/learning-labs-portal/internal/repository/memory"
)

const (
	digestV1 = "sha256:0b159cd1ee1203dad901967ac55eee18c24da84ba3be384690304be93538bea8"
	digestV2 = "sha256:6f3b6ad7e1d9b6d1c8b0c7c3b5d0e0f1a2b3c4d5e6f708192a3b4c5d6e7f8091"
	fixedMs  = 1700000000000
)

type fakeContainer struct {
	name   string
	digest string
}

type fakeRuntime struct {
	mu sync.Mutex

	containers  map[string]fakeContainer
	localImages map[string]bool
	nextID      int

	pullFailures int
	pullErr      error
	lookupErr    error
	findErr      error
	stopErrs     map[string]error
	hostPort     int

	runGate    chan struct{}
	runStarted chan struct{}

	pullCalls int
	runSpecs  []docker.RunSpec
	stopped   []string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		containers:  map[string]fakeContainer{},
		localImages: map[string]bool{},
		stopErrs:    map[string]error{},
	}
}

func (f *fakeRuntime) addContainer(id, name, digest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[id] = fakeContainer{name: name, digest: digest}
}

func (f *fakeRuntime) InspectImageOfContainer(_ context.Context, containerID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.containers[containerID]; !ok {
		return "", &docker.OperationError{Op: "inspect container", Target: containerID, Err: docker.ErrNotFound}
	}
	return "img-" + containerID, nil
}

func (f *fakeRuntime) ImageDigest(_ context.Context, imageID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[strings.TrimPrefix(imageID, "img-")]
	if !ok {
		return "", &docker.OperationError{Op: "inspect image", Target: imageID, Err: docker.ErrNotFound}
	}
	return c.digest, nil
}

func (f *fakeRuntime) FindContainerIDByName(_ context.Context, name string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.findErr != nil {
		return "", f.findErr
	}
	ids := make([]string, 0, len(f.containers))
	for id := range f.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if docker.OwnsContainer(f.containers[id].name, name) {
			return id, nil
		}
	}
	return "", nil
}

func (f *fakeRuntime) Stop(_ context.Context, containerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.stopErrs[containerID]; err != nil {
		return err
	}
	f.stopped = append(f.stopped, containerID)
	delete(f.containers, containerID)
	return nil
}

func (f *fakeRuntime) PullByDigest(_ context.Context, image, digest string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pullCalls++
	if f.pullErr != nil {
		return f.pullErr
	}
	if f.pullCalls <= f.pullFailures {
		return &docker.OperationError{Op: "pull image", Target: image, Err: fmt.Errorf("attempt %d: registry unavailable", f.pullCalls)}
	}
	f.localImages[image+"@"+digest] = true
	return nil
}

func (f *fakeRuntime) ImageExistsLocally(_ context.Context, image, digest string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.lookupErr != nil {
		return false, f.lookupErr
	}
	return f.localImages[image+"@"+digest], nil
}

func (f *fakeRuntime) Run(_ context.Context, spec docker.RunSpec) (docker.ContainerInfo, error) {
	if f.runStarted != nil {
		close(f.runStarted)
	}
	if f.runGate != nil {
		<-f.runGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runSpecs = append(f.runSpecs, spec)
	f.nextID++
	id := "c-" + strconv.Itoa(f.nextID)
	f.containers[id] = fakeContainer{name: spec.Name, digest: spec.Digest}
	info := docker.ContainerInfo{ID: id, Name: spec.Name, PortBinding: nat.PortMap{}}
	if f.hostPort > 0 {
		info.PortBinding[spec.Port] = []nat.PortBinding{{HostIP: "0.0.0.0", HostPort: strconv.Itoa(f.hostPort)}}
	}
	return info, nil
}

func (f *fakeRuntime) runs() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runSpecs)
}

type probeCall struct {
	addr   string
	policy health.Policy
}

type fakeProbe struct {
	mu        sync.Mutex
	unhealthy map[string]bool
	calls     []probeCall
}

func (p *fakeProbe) Check(_ context.Context, host string, port int, protocol string, policy health.Policy) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	addr := host + ":" + strconv.Itoa(port)
	p.calls = append(p.calls, probeCall{addr: addr, policy: policy})
	if p.unhealthy[addr] || p.unhealthy["*"] {
		return &health.UnresponsiveError{URL: protocol + "://" + addr, Attempts: policy.Attempts, Err: errors.New("connection refused")}
	}
	return nil
}

type fakeAuth struct{}

func (fakeAuth) JWTSecret() string { return "s3cret" }
func (fakeAuth) LoginURL() string  { return "https://portal/auth/login" }
func (fakeAuth) LogoutURL() string { return "https://portal/auth/logout" }
func (fakeAuth) ServiceToken(docID string) (string, error) {
	return "token-" + docID, nil
}

// countingStore wraps the memory store, counts creates and can fail updates
// to chosen statuses.
type countingStore struct {
	*memory.Repository
	mu      sync.Mutex
	creates int
	reads   int
	failOn  map[domain.Status]error
}

func newCountingStore() *countingStore {
	return &countingStore{Repository: memory.New(nil), failOn: map[domain.Status]error{}}
}

func (s *countingStore) GetDeployment(ctx context.Context, id string) (*domain.Deployment, error) {
	s.mu.Lock()
	s.reads++
	s.mu.Unlock()
	return s.Repository.GetDeployment(ctx, id)
}

func (s *countingStore) CreateDeployment(ctx context.Context, d *domain.Deployment) error {
	s.mu.Lock()
	s.creates++
	err := s.failOn[d.Status]
	s.mu.Unlock()
	if err != nil {
		return err
	}
	return s.Repository.CreateDeployment(ctx, d)
}

func (s *countingStore) UpdateDeployment(ctx context.Context, id string, u domain.DeploymentUpdate) (*domain.Deployment, error) {
	s.mu.Lock()
	err := s.failOn[u.Status]
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s.Repository.UpdateDeployment(ctx, id, u)
}

func (s *countingStore) createCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.creates
}

var _ repository.DeploymentRepository = (*countingStore)(nil)

func testSettings() Settings {
	return Settings{
		Volume:        "/srv/mount",
		Bridge:        "workshops",
		ContainerPort: 4000,
		ProgressURL:   "http://ws-svc/api/progress",
		CatalogURL:    "http://ws-svc/api/catalog",
		Existing:      health.Policy{Attempts: 3, Timeout: time.Second},
		Fresh:         health.Policy{Attempts: 30, Timeout: time.Second},
		PullAttempts:  3,
	}
}

func newTestManager(t *testing.T, rt *fakeRuntime, probe *fakeProbe, store repository.DeploymentRepository, settings Settings) *Manager {
	t.Helper()
	m := NewManager(Dependencies{
		Store:   store,
		Runtime: rt,
		Probe:   probe,
		Auth:    fakeAuth{},
		Logger:  slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})),
	}, settings)
	m.now = func() time.Time { return time.UnixMilli(fixedMs) }
	return m
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not reached before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
