//go:build !linux

package driver

import (
	"context"
	"fmt"
)

// LinuxAdapter is unavailable off Linux; OpenLinux always fails with
// InvalidOperation-equivalent ErrNotSupported so callers fall back to
// SimAdapter.
type LinuxAdapter struct{}

func OpenLinux(path string) (*LinuxAdapter, error) {
	return nil, fmt.Errorf("driver: %s: %w", path, ErrNotSupported)
}

func (a *LinuxAdapter) Identify(ctx context.Context) (*IdentifyInfo, error) { return nil, ErrNotSupported }
func (a *LinuxAdapter) Ioctl(ctx context.Context, cmd Command, data []byte, subCmd int) ([]byte, error) {
	return nil, ErrNotSupported
}
func (a *LinuxAdapter) Write(ctx context.Context, data []byte) (int, error) { return 0, ErrNotSupported }
func (a *LinuxAdapter) Read(ctx context.Context, out []byte) (int, error)   { return 0, ErrNotSupported }
func (a *LinuxAdapter) Poll(ctx context.Context) (*Event, error)            { return nil, ErrNotSupported }
func (a *LinuxAdapter) Mmap(offset, size uint64) ([]byte, error)            { return nil, ErrNotSupported }
func (a *LinuxAdapter) Close() error                                        { return nil }

func SetDMAChannelAffinity(cpu int) error { return ErrNotSupported }

var _ Adapter = (*LinuxAdapter)(nil)
