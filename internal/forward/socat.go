package forward

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/config"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/logging"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/port"
	"github.com/firefly-engineering/firefly-forage/packages/berth/internal/runtime"
)

// sidecarPort is the port socat listens on inside the sidecar.
const sidecarPort = 1234

// Labels carried by forwarding sidecars.
const (
	LabelTarget     = config.LabelPrefix + "target"
	LabelHostPort   = config.LabelPrefix + "host-port"
	LabelTargetPort = config.LabelPrefix + "target-port"
	LabelProtocol   = config.LabelPrefix + "protocol"
	LabelBind       = config.LabelPrefix + "bind"
	LabelOwner      = config.LabelPrefix + "owner"
	LabelLabel      = config.LabelPrefix + "label"
	LabelSession    = config.LabelPrefix + "session"
	LabelCreated    = config.LabelPrefix + "created"
)

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_.-]`)

// SocatForwarder forwards through a socat sidecar container attached to the
// dev container's network. Sidecars are labelled with their forward so a
// later invocation can rediscover them.
type SocatForwarder struct {
	Runtime runtime.Runtime
	Image   string
	Logger  *slog.Logger
}

// NewSocatForwarder creates a sidecar forwarder.
func NewSocatForwarder(rt runtime.Runtime, image string) *SocatForwarder {
	if image == "" {
		image = config.DefaultSocatImage
	}
	return &SocatForwarder{Runtime: rt, Image: image, Logger: logging.Component("socat")}
}

func (s *SocatForwarder) Name() string {
	return config.BackendSocat
}

// sidecarName is unique per container and host socket.
func sidecarName(target Target, fwd port.PortForward) string {
	id := target.ContainerID
	if len(id) > 12 {
		id = id[:12]
	}
	bind := unsafeNameChars.ReplaceAllString(fwd.BindAddress, "_")
	return fmt.Sprintf("berth-%s-%s-%s-%d", id, bind, fwd.Protocol, fwd.HostPort)
}

// socatArgs returns the listen and connect addresses for fwd.
func socatArgs(target Target, fwd port.PortForward) []string {
	if fwd.Protocol == port.UDP {
		return []string{
			fmt.Sprintf("UDP-LISTEN:%d,fork,reuseaddr", sidecarPort),
			fmt.Sprintf("UDP:%s:%d", target.IPAddress, fwd.TargetPort),
		}
	}
	return []string{
		fmt.Sprintf("TCP-LISTEN:%d,fork,reuseaddr", sidecarPort),
		fmt.Sprintf("TCP-CONNECT:%s:%d", target.IPAddress, fwd.TargetPort),
	}
}

func forwardLabels(target Target, fwd port.PortForward) map[string]string {
	labels := map[string]string{
		LabelTarget:     target.ContainerID,
		LabelHostPort:   strconv.Itoa(fwd.HostPort),
		LabelTargetPort: strconv.Itoa(fwd.TargetPort),
		LabelProtocol:   string(fwd.Protocol),
		LabelBind:       fwd.BindAddress,
		LabelOwner:      string(fwd.Owner),
		LabelCreated:    fwd.CreatedAt.UTC().Format(time.RFC3339),
	}
	if fwd.Label != "" {
		labels[LabelLabel] = fwd.Label
	}
	if fwd.SessionID != "" {
		labels[LabelSession] = fwd.SessionID
	}
	return labels
}

// forwardFromLabels rebuilds a forward from sidecar labels.
func forwardFromLabels(labels map[string]string) (port.PortForward, error) {
	hostPort, err := strconv.Atoi(labels[LabelHostPort])
	if err != nil || !port.ValidPort(hostPort) {
		return port.PortForward{}, fmt.Errorf("bad %s label %q", LabelHostPort, labels[LabelHostPort])
	}
	targetPort, err := strconv.Atoi(labels[LabelTargetPort])
	if err != nil || !port.ValidPort(targetPort) {
		return port.PortForward{}, fmt.Errorf("bad %s label %q", LabelTargetPort, labels[LabelTargetPort])
	}
	proto, err := port.ParseProtocol(labels[LabelProtocol])
	if err != nil {
		return port.PortForward{}, err
	}

	fwd := port.PortForward{
		HostPort:    hostPort,
		TargetPort:  targetPort,
		Protocol:    proto,
		BindAddress: labels[LabelBind],
		Owner:       port.Owner(labels[LabelOwner]),
		Label:       labels[LabelLabel],
		SessionID:   labels[LabelSession],
	}
	if fwd.BindAddress == "" {
		fwd.BindAddress = port.DefaultBindAddress
	}
	if fwd.Owner != port.OwnerSession {
		fwd.Owner = port.OwnerUser
	}
	if t, err := time.Parse(time.RFC3339, labels[LabelCreated]); err == nil {
		fwd.CreatedAt = t
	}
	return fwd, nil
}

func (s *SocatForwarder) Start(ctx context.Context, target Target, fwd port.PortForward) (io.Closer, error) {
	if target.IPAddress == "" {
		return nil, fmt.Errorf("container %s has no IP address", target.ContainerID)
	}

	id, err := s.Runtime.RunDetached(ctx, runtime.RunOptions{
		Name:    sidecarName(target, fwd),
		Image:   s.Image,
		Network: target.Network,
		Remove:  true,
		Ports: []runtime.PortBinding{{
			BindAddress:   fwd.BindAddress,
			HostPort:      fwd.HostPort,
			ContainerPort: sidecarPort,
			Protocol:      string(fwd.Protocol),
		}},
		Labels:  forwardLabels(target, fwd),
		Command: socatArgs(target, fwd),
	})
	if err != nil {
		return nil, err
	}

	s.Logger.Debug("sidecar started", "id", id, "forward", fwd.String())
	return s.handle(id), nil
}

func (s *SocatForwarder) handle(id string) io.Closer {
	return closerFunc(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return s.Runtime.Remove(ctx, id)
	})
}

func (s *SocatForwarder) Active(ctx context.Context, target Target) ([]Active, error) {
	containers, err := s.Runtime.List(ctx, map[string]string{LabelTarget: target.ContainerID})
	if err != nil {
		return nil, err
	}

	var active []Active
	for _, c := range containers {
		if c.Status != runtime.StatusRunning {
			continue
		}
		fwd, err := forwardFromLabels(c.Labels)
		if err != nil {
			s.Logger.Warn("skipping sidecar with unreadable labels", "id", c.ShortID(), "error", err)
			continue
		}
		active = append(active, Active{Forward: fwd, Handle: s.handle(c.ID)})
	}
	return active, nil
}

var _ Forwarder = (*SocatForwarder)(nil)
