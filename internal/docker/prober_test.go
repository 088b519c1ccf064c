package docker

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/overseer/internal/constants"
)

type fakeContainer struct {
	id       string
	name     string
	image    string
	ports    string
	networks string // JSON for NetworkSettings.Networks
	label    string
}

func installFakes(executor *MockCommandExecutor, containers ...fakeContainer) {
	var lines []string
	for _, fc := range containers {
		lines = append(lines, strings.Join([]string{fc.id, fc.name, fc.image, fc.ports}, "|"))

		executor.SetMockOutput("docker",
			[]string{"inspect", "--format", "{{json .NetworkSettings.Networks}}", fc.id},
			[]byte(fc.networks))

		label := fc.label
		if label == "" {
			label = "<no value>"
		}
		executor.SetMockOutput("docker",
			[]string{"inspect", "--format",
				fmt.Sprintf(`{{index .Config.Labels "%s"}}`, constants.ContainerProjectLabel), fc.id},
			[]byte(label))
	}
	executor.SetMockOutput("docker",
		[]string{"ps", "--no-trunc", "--format", "{{.ID}}|{{.Names}}|{{.Image}}|{{.Ports}}"},
		[]byte(strings.Join(lines, "\n")))
}

func testProber(executor *MockCommandExecutor) *Prober {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	p := NewProber(executor, logger)
	p.hostHasCloudflared = func() bool { return false }
	p.dial = func(string, time.Duration) bool { return false }
	return p
}

func TestProbeBuildsSnapshot(t *testing.T) {
	executor := NewMockCommandExecutor()
	installFakes(executor,
		fakeContainer{
			id:       "c1",
			name:     "consilio-web",
			image:    "consilio/web:latest",
			ports:    "0.0.0.0:3105->3105/tcp",
			networks: `{"consilio_default":{"IPAddress":"172.20.0.2"}}`,
		},
		fakeContainer{
			id:       "c2",
			name:     "cloudflared",
			image:    "cloudflare/cloudflared:latest",
			ports:    "",
			networks: `{"consilio_default":{"IPAddress":"172.20.0.3"},"edge":{"IPAddress":"172.21.0.2"}}`,
		},
	)

	p := testProber(executor)
	p.Refresh()

	if p.Unavailable() {
		t.Fatal("prober unavailable after successful probe")
	}
	snap := p.Snapshot()
	if len(snap.Containers) != 2 {
		t.Fatalf("expected 2 containers, got %d", len(snap.Containers))
	}
	if snap.Cloudflared == nil || snap.Cloudflared.Name != "cloudflared" {
		t.Fatal("cloudflared container not detected")
	}

	web := snap.Containers[0]
	if web.Project != "consilio" {
		t.Errorf("expected project from name prefix, got %q", web.Project)
	}
	if len(web.Bindings) != 1 || web.Bindings[0].HostPort != 3105 || web.Bindings[0].ContainerPort != 3105 {
		t.Errorf("unexpected bindings: %+v", web.Bindings)
	}

	shared := p.SharedNetworks(web)
	if len(shared) != 1 || shared[0] != "consilio_default" {
		t.Errorf("unexpected shared networks: %v", shared)
	}
	if !p.IsReachable(web, 3105) {
		t.Error("shared network must mean reachable")
	}
}

func TestProjectLabelBeatsNamePrefix(t *testing.T) {
	executor := NewMockCommandExecutor()
	installFakes(executor, fakeContainer{
		id:       "c1",
		name:     "legacy-api",
		image:    "api:1",
		ports:    "8080/tcp",
		networks: `{}`,
		label:    "consilio",
	})

	p := testProber(executor)
	p.Refresh()

	if got := p.Snapshot().Containers[0].Project; got != "consilio" {
		t.Errorf("expected label project, got %q", got)
	}
}

func TestFindContainerByListeningPortPrefersProject(t *testing.T) {
	executor := NewMockCommandExecutor()
	installFakes(executor,
		fakeContainer{id: "c1", name: "alpha-web", image: "a:1", ports: "3105/tcp", networks: `{}`},
		fakeContainer{id: "c2", name: "consilio-web", image: "b:1", ports: "0.0.0.0:3105->3105/tcp", networks: `{}`},
	)

	p := testProber(executor)
	p.Refresh()

	got := p.FindContainerByListeningPort(3105, "consilio")
	if got == nil || got.Name != "consilio-web" {
		t.Fatalf("expected project match, got %+v", got)
	}

	// Without a project hint the first listener wins
	got = p.FindContainerByListeningPort(3105, "")
	if got == nil || got.Name != "alpha-web" {
		t.Errorf("expected first listener, got %+v", got)
	}

	// A listener from another project is still returned as a fallback
	got = p.FindContainerByListeningPort(3105, "unknown-project")
	if got == nil {
		t.Error("expected fallback listener")
	}

	if p.FindContainerByListeningPort(9999, "") != nil {
		t.Error("expected no match for unused port")
	}
}

func TestHostCloudflaredFallback(t *testing.T) {
	executor := NewMockCommandExecutor()
	installFakes(executor, fakeContainer{
		id:       "c1",
		name:     "consilio-web",
		image:    "web:1",
		ports:    "0.0.0.0:3105->3105/tcp",
		networks: `{"consilio_default":{"IPAddress":"172.20.0.2"}}`,
	})

	p := testProber(executor)
	p.hostHasCloudflared = func() bool { return true }

	var dialed []string
	p.dial = func(addr string, timeout time.Duration) bool {
		dialed = append(dialed, addr)
		return true
	}

	p.Refresh()

	snap := p.Snapshot()
	if snap.Cloudflared != nil || !snap.CloudflaredOnHost {
		t.Fatalf("expected host cloudflared, got %+v", snap)
	}

	web := snap.Containers[0]
	if got := p.SharedNetworks(web); len(got) != 0 {
		t.Errorf("host cloudflared shares no container networks, got %v", got)
	}

	// Reachability falls back to probing the host port binding
	if !p.IsReachable(web, 3105) {
		t.Error("expected reachable via host binding")
	}
	if len(dialed) != 1 || dialed[0] != "localhost:3105" {
		t.Errorf("unexpected dials: %v", dialed)
	}
}

func TestUnreachableWithoutBindingOrNetwork(t *testing.T) {
	executor := NewMockCommandExecutor()
	installFakes(executor,
		fakeContainer{id: "c1", name: "consilio-web", image: "web:1", ports: "3105/tcp",
			networks: `{"consilio_default":{"IPAddress":"172.20.0.2"}}`},
		fakeContainer{id: "c2", name: "cloudflared", image: "cloudflare/cloudflared:latest", ports: "",
			networks: `{"edge":{"IPAddress":"172.21.0.2"}}`},
	)

	p := testProber(executor)
	p.Refresh()

	web := p.Snapshot().Containers[0]
	if p.IsReachable(web, 3105) {
		t.Error("no shared network and no host binding must be unreachable")
	}
}

func TestFailedProbeKeepsPreviousSnapshot(t *testing.T) {
	executor := NewMockCommandExecutor()
	installFakes(executor, fakeContainer{
		id: "c1", name: "consilio-web", image: "web:1", ports: "3105/tcp", networks: `{}`,
	})

	p := testProber(executor)
	p.Refresh()
	if p.Unavailable() {
		t.Fatal("expected available after first probe")
	}

	executor.SetMockError("docker",
		[]string{"ps", "--no-trunc", "--format", "{{.ID}}|{{.Names}}|{{.Image}}|{{.Ports}}"},
		errors.New("docker daemon down"))
	p.Refresh()

	if !p.Unavailable() {
		t.Error("expected unavailable after failed probe")
	}
	if snap := p.Snapshot(); snap == nil || len(snap.Containers) != 1 {
		t.Error("previous snapshot lost on failure")
	}
}

func TestDeriveProjectWithoutLabelOrPrefix(t *testing.T) {
	if got := deriveProject("redis", ""); got != "" {
		t.Errorf("expected empty project for unprefixed name, got %q", got)
	}
	if got := deriveProject("redis", "<no value>"); got != "" {
		t.Errorf("expected empty project for missing label, got %q", got)
	}
	if got := deriveProject("consilio-web", ""); got != "consilio" {
		t.Errorf("expected name prefix, got %q", got)
	}
	if got := deriveProject("redis", "consilio"); got != "consilio" {
		t.Errorf("expected label, got %q", got)
	}
}

func TestStaleSnapshotReportsUnavailable(t *testing.T) {
	executor := NewMockCommandExecutor()
	installFakes(executor, fakeContainer{
		id: "c1", name: "consilio-web", image: "web:1", ports: "", networks: `{}`,
	})

	p := testProber(executor)
	p.Refresh()
	if p.Unavailable() {
		t.Fatal("fresh snapshot must be available")
	}

	p.snapshot.Store(&Snapshot{
		TakenAt: time.Now().Add(-(constants.ProberStaleTicks + 1) * constants.ProberInterval),
	})
	if !p.Unavailable() {
		t.Error("stale snapshot must report unavailable")
	}
}

func TestParsePorts(t *testing.T) {
	exposed, bindings := parsePorts("0.0.0.0:3105->3105/tcp, :::3105->3105/tcp, 8080/tcp")

	if len(exposed) != 2 || exposed[0] != 3105 || exposed[1] != 8080 {
		t.Errorf("unexpected exposed ports: %v", exposed)
	}
	if len(bindings) != 1 {
		t.Fatalf("expected deduplicated binding, got %+v", bindings)
	}
	if bindings[0].HostPort != 3105 || bindings[0].ContainerPort != 3105 || bindings[0].Protocol != "tcp" {
		t.Errorf("unexpected binding: %+v", bindings[0])
	}

	exposed, bindings = parsePorts("")
	if len(exposed) != 0 || len(bindings) != 0 {
		t.Error("empty ports column must parse to nothing")
	}
}
