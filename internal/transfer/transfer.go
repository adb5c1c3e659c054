// Package transfer publishes generated waveform folders to the instrument
// controller over SSH. The remote base directory is cleared of run folders
// before every upload, so only the latest run is present on the instrument.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/sftp"
	"go.uber.org/multierr"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

const (
	DefaultPort       = 22
	DefaultTimeout    = 30 * time.Second
	DefaultRemoteBase = "C:/Users/Administrator/Desktop/CH/"
)

var (
	// ErrNoHostKeyPolicy is returned when neither a known_hosts file nor insecure mode is configured
	ErrNoHostKeyPolicy = errors.New("transfer: known_hosts file required unless insecure mode is enabled")

	// ErrInvalidRemotePath is returned for remote paths that cannot be quoted in the clear command
	ErrInvalidRemotePath = errors.New("transfer: invalid remote path")
)

// Config holds SSH connection settings
type Config struct {
	Host       string        `yaml:"host"`
	Port       int           `yaml:"port"`
	User       string        `yaml:"user"`
	Password   string        `yaml:"password"`
	KnownHosts string        `yaml:"knownHosts"`
	Insecure   bool          `yaml:"insecure"`
	RemoteBase string        `yaml:"remoteBase"`
	Timeout    time.Duration `yaml:"-"`
}

// Result summarizes one upload
type Result struct {
	Remote string
	Files  int
	Bytes  int64
}

// WithLogger sets the logger for the uploader
func WithLogger(logger *slog.Logger) func(u *Uploader) {
	return func(u *Uploader) {
		u.logger = logger.With(slog.String("host", u.config.Host))
	}
}

// Uploader copies local run folders to the remote base directory
type Uploader struct {
	config Config
	logger *slog.Logger
}

// New creates an uploader, filling unset fields with defaults
func New(config Config, options ...func(u *Uploader)) *Uploader {
	if config.Port == 0 {
		config.Port = DefaultPort
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.RemoteBase == "" {
		config.RemoteBase = DefaultRemoteBase
	}

	u := Uploader{
		config: config,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)), // nil logger
	}

	for _, option := range options {
		option(&u)
	}

	return &u
}

// Upload clears the remote base of run folders and copies localDir into it.
// The folder keeps its base name on the remote side.
func (u *Uploader) Upload(ctx context.Context, localDir string) (res Result, err error) {
	info, err := os.Stat(localDir)
	if err != nil {
		return res, fmt.Errorf("transfer: %w", err)
	}
	if !info.IsDir() {
		return res, fmt.Errorf("transfer: '%s' is not a directory", localDir)
	}

	clearCmd, err := ClearCommand(u.config.RemoteBase)
	if err != nil {
		return res, err
	}

	client, err := u.dial(ctx)
	if err != nil {
		return res, err
	}
	defer func() {
		err = multierr.Append(err, client.Close())
	}()

	if err = u.clear(client, clearCmd); err != nil {
		return res, err
	}

	sc, err := sftp.NewClient(client)
	if err != nil {
		return res, fmt.Errorf("transfer: sftp: %w", err)
	}
	defer func() {
		err = multierr.Append(err, sc.Close())
	}()

	remote := path.Join(toSlash(u.config.RemoteBase), filepath.Base(localDir))
	if res, err = CopyTree(ctx, sc, localDir, remote); err != nil {
		return res, err
	}

	u.logger.Info("folder transferred",
		slog.String("local", localDir),
		slog.String("remote", res.Remote),
		slog.Int("files", res.Files),
		slog.Int64("bytes", res.Bytes),
	)

	return res, nil
}

func (u *Uploader) dial(ctx context.Context) (*ssh.Client, error) {
	hostKey, err := HostKeyCallback(u.config)
	if err != nil {
		return nil, err
	}

	cfg := ssh.ClientConfig{
		User:            u.config.User,
		Auth:            []ssh.AuthMethod{ssh.Password(u.config.Password)},
		HostKeyCallback: hostKey,
		Timeout:         u.config.Timeout,
	}

	address := net.JoinHostPort(u.config.Host, strconv.Itoa(u.config.Port))

	d := net.Dialer{Timeout: u.config.Timeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("transfer: dial %s: %w", address, err)
	}

	c, chans, reqs, err := ssh.NewClientConn(conn, address, &cfg)
	if err != nil {
		return nil, multierr.Append(fmt.Errorf("transfer: handshake %s: %w", address, err), conn.Close())
	}

	return ssh.NewClient(c, chans, reqs), nil
}

// clear runs the remote delete; output on stderr is a warning, not a failure
func (u *Uploader) clear(client *ssh.Client, cmd string) error {
	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("transfer: ssh session: %w", err)
	}
	defer session.Close()

	var stderr strings.Builder
	session.Stderr = &stderr

	if err = session.Run(cmd); err != nil {
		var exitErr *ssh.ExitError
		if !errors.As(err, &exitErr) {
			return fmt.Errorf("transfer: clear remote: %w", err)
		}
	}

	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		u.logger.Warn("remote delete warning", slog.String("output", msg))
	}
	return nil
}

// ClearCommand returns the PowerShell command that removes every directory
// directly under remote
func ClearCommand(remote string) (string, error) {
	if remote == "" || strings.ContainsAny(remote, `'"`) {
		return "", fmt.Errorf("%w: %q", ErrInvalidRemotePath, remote)
	}
	return fmt.Sprintf(`powershell -Command "Get-ChildItem -Path '%s' -Directory | Remove-Item -Recurse -Force"`, remote), nil
}

// HostKeyCallback selects host key verification: a known_hosts file when
// configured, otherwise no verification when insecure mode is on
func HostKeyCallback(config Config) (ssh.HostKeyCallback, error) {
	switch {
	case config.KnownHosts != "":
		cb, err := knownhosts.New(config.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("transfer: known_hosts: %w", err)
		}
		return cb, nil
	case config.Insecure:
		return ssh.InsecureIgnoreHostKey(), nil
	}
	return nil, ErrNoHostKeyPolicy
}

// CopyTree recreates the local directory tree under remote, which uses
// forward slashes regardless of the local platform
func CopyTree(ctx context.Context, client *sftp.Client, localDir, remote string) (Result, error) {
	res := Result{Remote: remote}

	err := filepath.WalkDir(localDir, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err = ctx.Err(); err != nil {
			return err
		}

		rel, err := filepath.Rel(localDir, p)
		if err != nil {
			return err
		}
		target := path.Join(remote, filepath.ToSlash(rel))

		if d.IsDir() {
			return client.MkdirAll(target)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		n, err := copyFile(client, p, target)
		if err != nil {
			return err
		}
		res.Files++
		res.Bytes += n
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("transfer: copy '%s': %w", localDir, err)
	}

	return res, nil
}

func copyFile(client *sftp.Client, local, remote string) (n int64, err error) {
	src, err := os.Open(local)
	if err != nil {
		return 0, err
	}
	defer src.Close()

	dst, err := client.Create(remote)
	if err != nil {
		return 0, fmt.Errorf("create '%s': %w", remote, err)
	}
	defer func() {
		err = multierr.Append(err, dst.Close())
	}()

	if n, err = dst.ReadFrom(src); err != nil {
		return n, fmt.Errorf("write '%s': %w", remote, err)
	}
	return n, nil
}

func toSlash(p string) string {
	return strings.ReplaceAll(p, `\`, "/")
}
