package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"path"
	"strings"
	"time"

	shell "github.com/ipfs/go-ipfs-api"
	"github.com/ruteri/tee-secret-store/interfaces"
)

// IPFSBackend keeps blobs in the mutable file system (MFS) of an IPFS node,
// one file per key id under <baseDir>/keys. Whoever resolves the node's MFS
// root can read the files, so only sealed shares belong here.
type IPFSBackend struct {
	shell   *shell.Shell
	host    string
	port    string
	baseDir string
	timeout time.Duration
	log     *slog.Logger
}

// NewIPFSBackend talks to the node API at host:port. baseDir defaults to
// /secret-store.
func NewIPFSBackend(host, port, baseDir string, timeout time.Duration, log *slog.Logger) *IPFSBackend {
	if strings.Trim(baseDir, "/") == "" {
		baseDir = "/secret-store"
	}
	sh := shell.NewShell(net.JoinHostPort(host, port))
	sh.SetTimeout(timeout)

	return &IPFSBackend{
		shell:   sh,
		host:    host,
		port:    port,
		baseDir: path.Join("/", baseDir),
		timeout: timeout,
		log:     log.With("backend", "ipfs", "node", net.JoinHostPort(host, port)),
	}
}

func (b *IPFSBackend) mfsPath(id interfaces.ServerKeyID) string {
	return path.Join(b.baseDir, "keys", id.String())
}

// reachable fails fast when the node API is down, before MFS calls time out.
func (b *IPFSBackend) reachable() error {
	if !b.shell.IsUp() {
		b.log.Warn("IPFS node unreachable")
		return interfaces.ErrBackendUnavailable
	}
	return nil
}

func (b *IPFSBackend) Fetch(ctx context.Context, id interfaces.ServerKeyID) ([]byte, error) {
	if err := b.reachable(); err != nil {
		return nil, err
	}

	r, err := b.shell.FilesRead(ctx, b.mfsPath(id))
	if err != nil {
		return nil, b.mapError("reading", id, err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading blob %s from IPFS: %w", id, err)
	}
	return data, nil
}

func (b *IPFSBackend) Store(ctx context.Context, id interfaces.ServerKeyID, data []byte) error {
	if err := b.reachable(); err != nil {
		return err
	}

	err := b.shell.FilesWrite(ctx, b.mfsPath(id), bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return b.mapError("writing", id, err)
	}
	b.log.Debug("Stored blob", "key_id", id.String(), "size", len(data))
	return nil
}

// Delete unlinks the file from MFS. Copies of its blocks pinned elsewhere
// stay retrievable.
func (b *IPFSBackend) Delete(ctx context.Context, id interfaces.ServerKeyID) error {
	if err := b.reachable(); err != nil {
		return err
	}
	if err := b.shell.FilesRm(ctx, b.mfsPath(id), true); err != nil {
		return b.mapError("removing", id, err)
	}
	return nil
}

func (b *IPFSBackend) mapError(op string, id interfaces.ServerKeyID, err error) error {
	msg := err.Error()
	if strings.Contains(msg, "does not exist") || strings.Contains(msg, "no link named") {
		return interfaces.ErrKeyNotFound
	}
	b.log.Error("MFS call failed", "op", op, "key_id", id.String(), "err", err)
	return fmt.Errorf("%s blob %s in IPFS: %w", op, id, err)
}

func (b *IPFSBackend) Available(ctx context.Context) bool {
	return b.shell.IsUp()
}

func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

func (b *IPFSBackend) LocationURI() string {
	return fmt.Sprintf("ipfs://%s%s?timeout=%s", net.JoinHostPort(b.host, b.port), b.baseDir, b.timeout)
}
