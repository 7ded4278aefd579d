// Package cluster connects commands to the cluster they manage: it loads the
// configuration, port-forwards to the in-cluster service when no URL is set
// and builds the gateway and rotation locker.
package cluster

import (
	"context"
	"fmt"

	"github.com/stackvista/stackstate-index-cli/cmd/portforward"
	"github.com/stackvista/stackstate-index-cli/internal/config"
	"github.com/stackvista/stackstate-index-cli/internal/elasticsearch"
	"github.com/stackvista/stackstate-index-cli/internal/fault"
	"github.com/stackvista/stackstate-index-cli/internal/gateway"
	"github.com/stackvista/stackstate-index-cli/internal/k8s"
	"github.com/stackvista/stackstate-index-cli/internal/logger"
	"github.com/stackvista/stackstate-index-cli/internal/remote"
	"github.com/stackvista/stackstate-index-cli/internal/rotation"
)

// Session is a connected cluster plus the configuration it was built from
type Session struct {
	Config    *config.Config
	Log       *logger.Logger
	Namespace string
	Gateway   gateway.Gateway
	// Local is set in local mode only
	Local *elasticsearch.Client

	cli     *config.CLIConfig
	kube    k8s.Interface
	forward *portforward.Conn
}

// Open loads the configuration and connects to the cluster. The caller must
// Close the session.
func Open(ctx context.Context, cliCtx *config.Context) (*Session, error) {
	s := &Session{
		Log:       logger.New(cliCtx.Config.Quiet, cliCtx.Config.Debug),
		Namespace: cliCtx.Config.Namespace,
		cli:       cliCtx.Config,
	}

	cfg, err := s.loadConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	s.Config = cfg

	url := cfg.Cluster.URL
	if url == "" {
		if url, err = s.portForward(ctx); err != nil {
			return nil, err
		}
	}

	if err := s.connect(url); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) loadConfig(ctx context.Context) (*config.Config, error) {
	if s.cli.ConfigFile != "" {
		s.Log.Debugf("Loading configuration from %s", s.cli.ConfigFile)
		return config.LoadFile(s.cli.ConfigFile)
	}
	kube, err := s.Kube()
	if err != nil {
		return nil, err
	}
	s.Log.Debugf("Loading configuration from ConfigMap %s/%s", s.Namespace, s.cli.ConfigMapName)
	return config.LoadConfig(ctx, kube.Clientset(), s.Namespace, s.cli.ConfigMapName, s.cli.SecretName, s.Log)
}

func (s *Session) portForward(ctx context.Context) (string, error) {
	kube, err := s.Kube()
	if err != nil {
		return "", err
	}
	svc := s.Config.Cluster.Service
	conn, err := portforward.SetupPortForward(ctx, kube, s.Namespace, svc.Name, svc.LocalPortForwardPort, svc.Port, s.Log)
	if err != nil {
		return "", err
	}
	s.forward = conn
	return conn.URL(), nil
}

func (s *Session) connect(url string) error {
	cluster := s.Config.Cluster
	if cluster.Mode == config.ModeRemote {
		client, err := remote.NewClient(remote.Config{
			URL:         url,
			Username:    cluster.Username,
			Password:    cluster.Password,
			Credentials: cluster.Credentials,
			Legacy:      cluster.Legacy,
			Timeout:     cluster.Timeout,
		})
		if err != nil {
			return fmt.Errorf("failed to create remote client: %w", err)
		}
		s.Gateway = client
		s.Log.Debugf("Connected to %s (remote mode, legacy=%t)", url, cluster.Legacy)
		return nil
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		URL:         url,
		Username:    cluster.Username,
		Password:    cluster.Password,
		Credentials: cluster.Credentials,
		Timeout:     cluster.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create Elasticsearch client: %w", err)
	}
	s.Gateway = client
	s.Local = client
	s.Log.Debugf("Connected to %s", url)
	return nil
}

// Kube returns the Kubernetes client, creating it on first use
func (s *Session) Kube() (k8s.Interface, error) {
	if s.kube != nil {
		return s.kube, nil
	}
	if s.Namespace == "" {
		return nil, fault.Configf("kubernetes", "--namespace is required unless --config is given with a cluster URL")
	}
	kube, err := k8s.NewClient(s.cli.Kubeconfig, s.cli.Debug)
	if err != nil {
		return nil, fmt.Errorf("failed to create Kubernetes client: %w", err)
	}
	s.kube = kube
	return kube, nil
}

// Locker builds the rotation locker selected by rotation.lock
func (s *Session) Locker() (rotation.Locker, error) {
	switch s.Config.Rotation.Lock {
	case config.LockNone:
		return rotation.NoLock, nil
	case config.LockFile:
		return rotation.NewFileLocker(s.Config.Rotation.LockDir), nil
	case config.LockCluster:
		if s.Local == nil {
			return nil, fault.Configf("rotation lock", "cluster locks need cluster.mode %s", config.ModeLocal)
		}
		return elasticsearch.NewClusterLock(s.Local, elasticsearch.WithLockLogger(s.Log)), nil
	default:
		return rotation.NewMutexLocker(), nil
	}
}

// Engine builds a rotation engine over the session gateway
func (s *Session) Engine() (*rotation.Engine, error) {
	locker, err := s.Locker()
	if err != nil {
		return nil, err
	}
	return rotation.NewEngine(s.Gateway, locker,
		rotation.WithResolver(s.Config.Resolver()),
		rotation.WithLogger(s.Log),
	)
}

// Close stops the port-forward, if any
func (s *Session) Close() {
	if s.forward != nil {
		s.forward.Close()
	}
}
