package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/distribution/reference"
	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/go-connections/nat"
	"github.com/opencontainers/go-digest"
)

// StopTimeout is how long a container gets to exit before it is killed.
const StopTimeout = 5 * time.Second

// ContainerInfo captures minimal runtime details about a started container.
type ContainerInfo struct {
	ID          string
	Name        string
	PortBinding nat.PortMap
}

// HostPort returns the first host port published for port.
func (i ContainerInfo) HostPort(port nat.Port) (int, bool) {
	for _, binding := range i.PortBinding[port] {
		if n, err := strconv.Atoi(strings.TrimSpace(binding.HostPort)); err == nil && n > 0 {
			return n, true
		}
	}
	return 0, false
}

// RunSpec describes a workshop container to start.
type RunSpec struct {
	Name  string
	Image string
	// Digest pins the image; the container always runs image@digest.
	Digest string
	Env    []string
	Binds  []string
	Port   nat.Port
	// Network attaches the container to a user network. When empty the
	// container port is published on a random host port instead.
	Network string
	Logging *LogConfig
}

// LogConfig selects a docker log driver for started containers.
type LogConfig struct {
	Driver  string
	Options map[string]string
}

// SplunkLogging builds splunk log-driver options. Empty optional values are
// omitted.
func SplunkLogging(token, url, index, source, sourceType string) *LogConfig {
	opts := map[string]string{
		"splunk-insecureskipverify": "true",
		"splunk-format":             "json",
		"splunk-token":              token,
		"splunk-url":                url,
	}
	if index != "" {
		opts["splunk-index"] = index
	}
	if source != "" {
		opts["splunk-source"] = source
	}
	if sourceType != "" {
		opts["splunk-sourcetype"] = sourceType
	}
	return &LogConfig{Driver: "splunk", Options: opts}
}

// EnvList renders env as sorted KEY=VALUE pairs.
func EnvList(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

// PinnedReference joins an image name and digest as name@digest after
// validating both.
func PinnedReference(img, dgst string) (string, error) {
	named, err := reference.ParseNormalizedNamed(strings.TrimSpace(img))
	if err != nil {
		return "", fmt.Errorf("parse image %q: %w", img, err)
	}
	d, err := digest.Parse(strings.TrimSpace(dgst))
	if err != nil {
		return "", fmt.Errorf("parse digest %q: %w", dgst, err)
	}
	canonical, err := reference.WithDigest(reference.TrimNamed(named), d)
	if err != nil {
		return "", fmt.Errorf("pin image %q: %w", img, err)
	}
	return reference.FamiliarString(canonical), nil
}

// InspectImageOfContainer returns the image ID a container was created from.
func (c *Client) InspectImageOfContainer(ctx context.Context, containerID string) (string, error) {
	if strings.TrimSpace(containerID) == "" {
		return "", fmt.Errorf("container id cannot be empty")
	}
	inspect, err := c.inner.ContainerInspect(ctx, containerID)
	if err != nil {
		return "", opError("inspect container", containerID, err)
	}
	return inspect.Image, nil
}

// ImageDigest returns the registry digest of a local image. An image without
// repository digests, such as one built locally, yields "".
func (c *Client) ImageDigest(ctx context.Context, imageID string) (string, error) {
	if strings.TrimSpace(imageID) == "" {
		return "", fmt.Errorf("image id cannot be empty")
	}
	inspect, _, err := c.inner.ImageInspectWithRaw(ctx, imageID)
	if err != nil {
		return "", opError("inspect image", imageID, err)
	}
	if len(inspect.RepoDigests) == 0 {
		return "", nil
	}
	d, err := repoDigest(inspect.RepoDigests[0])
	if err != nil {
		return "", opError("inspect image", imageID, err)
	}
	return d.String(), nil
}

// ContainerName is the name of the container started for docID at t.
func ContainerName(docID string, t time.Time) string {
	return fmt.Sprintf("%s-%d", strings.ToLower(strings.TrimSpace(docID)), t.UnixMilli())
}

// OwnsContainer reports whether a container named name was started for
// docID. Docker reports names with a leading slash; it is accepted.
func OwnsContainer(name, docID string) bool {
	return containerPattern(docID).MatchString(name)
}

func containerPattern(docID string) *regexp.Regexp {
	return regexp.MustCompile(`^/?` + regexp.QuoteMeta(strings.ToLower(strings.TrimSpace(docID))) + `-[0-9]+$`)
}

// FindContainerIDByName returns the ID of a running container started for
// the document name (case-insensitive), or "" when there is none. Containers
// of other documents whose names merely share the prefix are ignored.
func (c *Client) FindContainerIDByName(ctx context.Context, name string) (string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		return "", fmt.Errorf("container name cannot be empty")
	}
	pattern := containerPattern(name)
	list, err := c.inner.ContainerList(ctx, container.ListOptions{Filters: nameFilter(pattern)})
	if err != nil {
		return "", opError("list containers", name, err)
	}
	for _, summary := range list {
		for _, n := range summary.Names {
			if pattern.MatchString(n) {
				return summary.ID, nil
			}
		}
	}
	return "", nil
}

// Stop stops a container, giving it StopTimeout to exit.
func (c *Client) Stop(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return fmt.Errorf("container id cannot be empty")
	}
	timeout := int(StopTimeout / time.Second)
	if err := c.inner.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return opError("stop container", containerID, err)
	}
	return nil
}

// PullByDigest pulls img@dgst and waits for the pull to finish.
func (c *Client) PullByDigest(ctx context.Context, img, dgst string) error {
	ref, err := PinnedReference(img, dgst)
	if err != nil {
		return err
	}
	rc, err := c.inner.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return opError("pull image", ref, err)
	}
	defer rc.Close()
	decoder := json.NewDecoder(rc)
	for {
		var msg pullMessage
		if err := decoder.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return opError("pull image", ref, fmt.Errorf("decode pull output: %w", err))
		}
		if errMsg := msg.errorMessage(); errMsg != "" {
			return opError("pull image", ref, errors.New(errMsg))
		}
	}
}

// ImageExistsLocally reports whether img@dgst is in the local image store.
// When the engine cannot answer, the error matches ErrImageLookup and the
// caller should assume the image is absent.
func (c *Client) ImageExistsLocally(ctx context.Context, img, dgst string) (bool, error) {
	named, err := reference.ParseNormalizedNamed(strings.TrimSpace(img))
	if err != nil {
		return false, fmt.Errorf("%w: parse image %q: %w", ErrImageLookup, img, err)
	}
	name := reference.TrimNamed(named)
	list, err := c.inner.ImageList(ctx, image.ListOptions{
		Filters: filters.NewArgs(filters.Arg("reference", reference.FamiliarName(name))),
	})
	if err != nil {
		return false, opError("list images", img, fmt.Errorf("%w: %w", ErrImageLookup, err))
	}
	for _, summary := range list {
		for _, rd := range summary.RepoDigests {
			ref, err := reference.ParseNormalizedNamed(rd)
			if err != nil {
				continue
			}
			canonical, ok := ref.(reference.Canonical)
			if !ok {
				continue
			}
			if canonical.Name() == name.Name() && canonical.Digest().String() == dgst {
				return true, nil
			}
		}
	}
	return false, nil
}

// Run creates and starts a workshop container. The container is removed by
// the engine once it stops.
func (c *Client) Run(ctx context.Context, spec RunSpec) (ContainerInfo, error) {
	if strings.TrimSpace(spec.Name) == "" {
		return ContainerInfo{}, fmt.Errorf("container name cannot be empty")
	}
	ref, err := PinnedReference(spec.Image, spec.Digest)
	if err != nil {
		return ContainerInfo{}, err
	}

	config := &container.Config{
		Image:        ref,
		Env:          spec.Env,
		ExposedPorts: nat.PortSet{},
	}
	if spec.Port != "" {
		config.ExposedPorts[spec.Port] = struct{}{}
	}

	hostCfg := &container.HostConfig{
		Binds:           spec.Binds,
		AutoRemove:      true,
		PublishAllPorts: spec.Network == "",
	}
	if spec.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(spec.Network)
	}
	if spec.Logging != nil {
		hostCfg.LogConfig = container.LogConfig{Type: spec.Logging.Driver, Config: spec.Logging.Options}
	}

	r, err := c.inner.ContainerCreate(ctx, config, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return ContainerInfo{}, opError("create container", spec.Name, err)
	}
	if err := c.inner.ContainerStart(ctx, r.ID, container.StartOptions{}); err != nil {
		return ContainerInfo{}, opError("start container", spec.Name, err)
	}

	info := ContainerInfo{ID: r.ID, Name: spec.Name, PortBinding: nat.PortMap{}}
	if spec.Network != "" {
		return info, nil
	}

	var inspect types.ContainerJSON
	for attempt := 0; attempt < 10; attempt++ {
		inspect, err = c.inner.ContainerInspect(ctx, r.ID)
		if err != nil {
			return ContainerInfo{}, opError("inspect container", r.ID, err)
		}
		if hasHostPort(inspect.NetworkSettings) || attempt == 9 {
			break
		}
		select {
		case <-ctx.Done():
			return ContainerInfo{}, fmt.Errorf("wait for host port: %w", ctx.Err())
		case <-time.After(200 * time.Millisecond):
		}
	}
	if inspect.NetworkSettings != nil && inspect.NetworkSettings.Ports != nil {
		info.PortBinding = inspect.NetworkSettings.Ports
	}
	return info, nil
}

func repoDigest(repoDigest string) (digest.Digest, error) {
	ref, err := reference.ParseNormalizedNamed(repoDigest)
	if err != nil {
		return "", fmt.Errorf("parse repo digest %q: %w", repoDigest, err)
	}
	canonical, ok := ref.(reference.Canonical)
	if !ok {
		return "", fmt.Errorf("repo digest %q carries no digest", repoDigest)
	}
	return canonical.Digest(), nil
}

func hasHostPort(settings *types.NetworkSettings) bool {
	if settings == nil || settings.Ports == nil {
		return false
	}
	for _, bindings := range settings.Ports {
		for _, binding := range bindings {
			if strings.TrimSpace(binding.HostPort) != "" {
				return true
			}
		}
	}
	return false
}

type pullMessage struct {
	Status      string          `json:"status"`
	ID          string          `json:"id"`
	Error       string          `json:"error"`
	ErrorDetail pullErrorDetail `json:"errorDetail"`
}

type pullErrorDetail struct {
	Message string `json:"message"`
}

func (m pullMessage) errorMessage() string {
	if strings.TrimSpace(m.Error) != "" {
		return strings.TrimSpace(m.Error)
	}
	if strings.TrimSpace(m.ErrorDetail.Message) != "" {
		return strings.TrimSpace(m.ErrorDetail.Message)
	}
	return ""
}
