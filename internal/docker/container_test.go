package docker

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/errdefs"
	"github.com/docker/go-connections/nat"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
)

const testDigest = "sha256:0b159cd1ee1203dad901967ac55eee18c24da84ba3be384690304be93538bea8"

type fakeEngine struct {
	engine

	containers  []types.Container
	imageID     string
	repoDigests []string
	images      []image.Summary
	listErr     error
	stopErr     error
	pullBody    string

	stopped    []string
	pulled     []string
	created    *container.Config
	createdCfg *container.HostConfig
	listFilter string
}

func (f *fakeEngine) ContainerList(_ context.Context, opts container.ListOptions) ([]types.Container, error) {
	f.listFilter = strings.Join(opts.Filters.Get("name"), ",")
	return f.containers, nil
}

func (f *fakeEngine) ContainerInspect(_ context.Context, id string) (types.ContainerJSON, error) {
	return types.ContainerJSON{
		ContainerJSONBase: &types.ContainerJSONBase{ID: id, Image: f.imageID},
		NetworkSettings: &types.NetworkSettings{NetworkSettingsBase: types.NetworkSettingsBase{
			Ports: nat.PortMap{"4000/tcp": {{HostIP: "0.0.0.0", HostPort: "49153"}}},
		}},
	}, nil
}

func (f *fakeEngine) ImageInspectWithRaw(_ context.Context, id string) (types.ImageInspect, []byte, error) {
	return types.ImageInspect{ID: id, RepoDigests: f.repoDigests}, nil, nil
}

func (f *fakeEngine) ContainerStop(_ context.Context, id string, _ container.StopOptions) error {
	f.stopped = append(f.stopped, id)
	return f.stopErr
}

func (f *fakeEngine) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	f.pulled = append(f.pulled, ref)
	return io.NopCloser(strings.NewReader(f.pullBody)), nil
}

func (f *fakeEngine) ImageList(context.Context, image.ListOptions) ([]image.Summary, error) {
	return f.images, f.listErr
}

func (f *fakeEngine) ContainerCreate(_ context.Context, cfg *container.Config, host *container.HostConfig, _ *network.NetworkingConfig, _ *ocispec.Platform, _ string) (container.CreateResponse, error) {
	f.created = cfg
	f.createdCfg = host
	return container.CreateResponse{ID: "c-new"}, nil
}

func (f *fakeEngine) ContainerStart(context.Context, string, container.StartOptions) error {
	return nil
}

func TestFindContainerIDByNameMatchesOwnDocumentOnly(t *testing.T) {
	fake := &fakeEngine{containers: []types.Container{
		{ID: "c-10", Names: []string{"/doc-10-1699999999999"}},
		{ID: "c-x", Names: []string{"/doc-1-old"}},
		{ID: "c-1", Names: []string{"/doc-1-1700000000000"}},
	}}
	c := &Client{inner: fake}
	id, err := c.FindContainerIDByName(context.Background(), "Doc-1")
	if err != nil {
		t.Fatalf("FindContainerIDByName: %v", err)
	}
	if id != "c-1" {
		t.Fatalf("expected doc-1's own container, got %q", id)
	}
	if fake.listFilter != "^/?doc-1-[0-9]+$" {
		t.Fatalf("unexpected engine filter %q", fake.listFilter)
	}

	fake.containers = fake.containers[:2]
	if id, _ := c.FindContainerIDByName(context.Background(), "doc-1"); id != "" {
		t.Fatalf("expected no container for doc-1, got %q", id)
	}
}

func TestOwnsContainer(t *testing.T) {
	cases := []struct {
		name  string
		docID string
		want  bool
	}{
		{name: "/doc-1-1700000000000", docID: "doc-1", want: true},
		{name: "doc-1-1700000000000", docID: "Doc-1", want: true},
		{name: "/doc-10-1700000000000", docID: "doc-1", want: false},
		{name: "/doc-1-1700000000000-x", docID: "doc-1", want: false},
		{name: "/lab.v2-17", docID: "lab.v2", want: true},
		{name: "/labxv2-17", docID: "lab.v2", want: false},
	}
	for _, tc := range cases {
		if got := OwnsContainer(tc.name, tc.docID); got != tc.want {
			t.Errorf("OwnsContainer(%q, %q) = %v, want %v", tc.name, tc.docID, got, tc.want)
		}
	}
	if name := ContainerName("Doc-1", time.UnixMilli(1700000000000)); !OwnsContainer(name, "doc-1") {
		t.Fatalf("ContainerName %q not owned by its document", name)
	}
}

func TestImageDigestReadsFirstRepoDigest(t *testing.T) {
	c := &Client{inner: &fakeEngine{repoDigests: []string{"registry.example.com/labs/intro@" + testDigest}}}
	got, err := c.ImageDigest(context.Background(), "sha256:image")
	if err != nil {
		t.Fatalf("ImageDigest: %v", err)
	}
	if got != testDigest {
		t.Fatalf("expected %s, got %s", testDigest, got)
	}

	c = &Client{inner: &fakeEngine{}}
	if got, err := c.ImageDigest(context.Background(), "sha256:image"); err != nil || got != "" {
		t.Fatalf("expected empty digest for local image, got %q %v", got, err)
	}
}

func TestStopWrapsNotFound(t *testing.T) {
	fake := &fakeEngine{stopErr: errdefs.NotFound(errors.New("no such container"))}
	err := (&Client{inner: fake}).Stop(context.Background(), "gone")
	if !errors.Is(err, ErrRuntime) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected runtime not-found error, got %v", err)
	}
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Target != "gone" {
		t.Fatalf("expected OperationError naming the container, got %v", err)
	}
}

func TestPullByDigestSurfacesStreamError(t *testing.T) {
	fake := &fakeEngine{pullBody: `{"status":"Pulling fs layer","id":"a"}` + "\n" + `{"errorDetail":{"message":"manifest unknown"}}`}
	err := (&Client{inner: fake}).PullByDigest(context.Background(), "labs/intro", testDigest)
	if !errors.Is(err, ErrRuntime) || !strings.Contains(err.Error(), "manifest unknown") {
		t.Fatalf("expected pull failure, got %v", err)
	}
	if len(fake.pulled) != 1 || fake.pulled[0] != "labs/intro@"+testDigest {
		t.Fatalf("unexpected pull refs %v", fake.pulled)
	}
}

func TestImageExistsLocally(t *testing.T) {
	fake := &fakeEngine{images: []image.Summary{{RepoDigests: []string{"labs/intro@" + testDigest}}}}
	c := &Client{inner: fake}
	ok, err := c.ImageExistsLocally(context.Background(), "labs/intro", testDigest)
	if err != nil || !ok {
		t.Fatalf("expected image present, got %v %v", ok, err)
	}
	ok, err = c.ImageExistsLocally(context.Background(), "labs/other", testDigest)
	if err != nil || ok {
		t.Fatalf("expected other image absent, got %v %v", ok, err)
	}

	fake.listErr = errors.New("daemon busy")
	_, err = c.ImageExistsLocally(context.Background(), "labs/intro", testDigest)
	if !errors.Is(err, ErrImageLookup) {
		t.Fatalf("expected ErrImageLookup, got %v", err)
	}
}

func TestRunPublishesPortsWithoutNetwork(t *testing.T) {
	fake := &fakeEngine{}
	info, err := (&Client{inner: fake}).Run(context.Background(), RunSpec{
		Name:    "doc-1-1700000000000",
		Image:   "labs/intro",
		Digest:  testDigest,
		Env:     EnvList(map[string]string{"PORT": "4000", "DOC_ID": "doc-1"}),
		Binds:   []string{"/srv/mount/doc-1:/mount"},
		Port:    "4000/tcp",
		Logging: SplunkLogging("tok", "https://hec:8088", "", "", ""),
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !fake.createdCfg.PublishAllPorts || !fake.createdCfg.AutoRemove {
		t.Fatalf("expected publish-all and auto-remove, got %+v", fake.createdCfg)
	}
	if fake.created.Image != "labs/intro@"+testDigest {
		t.Fatalf("expected pinned image, got %s", fake.created.Image)
	}
	if fake.created.Env[0] != "DOC_ID=doc-1" {
		t.Fatalf("expected sorted env, got %v", fake.created.Env)
	}
	if fake.createdCfg.LogConfig.Type != "splunk" || fake.createdCfg.LogConfig.Config["splunk-token"] != "tok" {
		t.Fatalf("unexpected log config %+v", fake.createdCfg.LogConfig)
	}
	if _, ok := fake.createdCfg.LogConfig.Config["splunk-index"]; ok {
		t.Fatalf("empty splunk index must be omitted")
	}
	if port, ok := info.HostPort("4000/tcp"); !ok || port != 49153 {
		t.Fatalf("expected published port 49153, got %d %v", port, ok)
	}
}

func TestRunOnBridgeNetwork(t *testing.T) {
	fake := &fakeEngine{}
	info, err := (&Client{inner: fake}).Run(context.Background(), RunSpec{
		Name:    "doc-1-1",
		Image:   "labs/intro",
		Digest:  testDigest,
		Port:    "4000/tcp",
		Network: "workshops",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if fake.createdCfg.PublishAllPorts || string(fake.createdCfg.NetworkMode) != "workshops" {
		t.Fatalf("unexpected host config %+v", fake.createdCfg)
	}
	if info.ID != "c-new" || len(info.PortBinding) != 0 {
		t.Fatalf("unexpected info %+v", info)
	}
}

func TestPinnedReferenceRejectsBadDigest(t *testing.T) {
	if _, err := PinnedReference("labs/intro", "sha256:nothex"); err == nil {
		t.Fatalf("expected invalid digest to be rejected")
	}
	if _, err := PinnedReference("Labs/Intro", testDigest); err == nil {
		t.Fatalf("expected invalid image name to be rejected")
	}
}
