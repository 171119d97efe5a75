package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ruteri/tee-secret-store/interfaces"
	"golang.org/x/sync/errgroup"
)

// errSkipped marks a mirror that was unavailable when an operation ran.
var errSkipped = fmt.Errorf("%w: skipped", interfaces.ErrBackendUnavailable)

// MultiStorageBackend mirrors blobs across several backends. Writes go to
// every available backend concurrently and succeed when one of them took the
// blob. Reads are served by the first backend, in configuration order, that
// holds it.
type MultiStorageBackend struct {
	backends []interfaces.BlobBackend
	log      *slog.Logger
}

func NewMultiStorageBackend(backends []interfaces.BlobBackend, logger *slog.Logger) *MultiStorageBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MultiStorageBackend{
		backends: backends,
		log:      logger.With("backend", "multi"),
	}
}

func (m *MultiStorageBackend) Fetch(ctx context.Context, id interfaces.ServerKeyID) ([]byte, error) {
	var errs []error
	notFound := false

	for _, backend := range m.backends {
		if !backend.Available(ctx) {
			continue
		}

		data, err := backend.Fetch(ctx, id)
		switch {
		case err == nil:
			return data, nil
		case errors.Is(err, interfaces.ErrKeyNotFound):
			notFound = true
		default:
			m.log.Debug("Fetch failed", "name", backend.Name(), "key_id", id.String(), "err", err)
			errs = append(errs, fmt.Errorf("%s: %w", backend.Name(), err))
		}
	}

	if notFound && len(errs) == 0 {
		return nil, interfaces.ErrKeyNotFound
	}
	return nil, fmt.Errorf("%w: no backend returned %s: %w", interfaces.ErrBackendUnavailable, id, errors.Join(errs...))
}

// eachAvailable runs op against every available backend concurrently and
// returns one result per backend; unavailable backends report errSkipped.
func (m *MultiStorageBackend) eachAvailable(ctx context.Context, op func(interfaces.BlobBackend) error) []error {
	results := make([]error, len(m.backends))
	var g errgroup.Group
	for i, backend := range m.backends {
		g.Go(func() error {
			if !backend.Available(ctx) {
				results[i] = fmt.Errorf("%s: %w", backend.Name(), errSkipped)
				return nil
			}
			if err := op(backend); err != nil {
				results[i] = fmt.Errorf("%s: %w", backend.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (m *MultiStorageBackend) Store(ctx context.Context, id interfaces.ServerKeyID, data []byte) error {
	results := m.eachAvailable(ctx, func(b interfaces.BlobBackend) error {
		return b.Store(ctx, id, data)
	})

	stored := 0
	for _, err := range results {
		if err == nil {
			stored++
		} else {
			m.log.Warn("Mirror write failed", "key_id", id.String(), "err", err)
		}
	}
	if stored == 0 {
		return fmt.Errorf("%w: no backend stored %s: %w", interfaces.ErrBackendUnavailable, id, errors.Join(results...))
	}
	return nil
}

// Delete removes the blob everywhere, ErrKeyNotFound if no backend held it.
func (m *MultiStorageBackend) Delete(ctx context.Context, id interfaces.ServerKeyID) error {
	results := m.eachAvailable(ctx, func(b interfaces.BlobBackend) error {
		return b.Delete(ctx, id)
	})

	var errs []error
	deleted := 0
	for _, err := range results {
		switch {
		case err == nil:
			deleted++
		case errors.Is(err, interfaces.ErrKeyNotFound), errors.Is(err, errSkipped):
			// Unavailable mirrors keep their copy until the next delete.
		default:
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if deleted == 0 {
		return interfaces.ErrKeyNotFound
	}
	return nil
}

func (m *MultiStorageBackend) Available(ctx context.Context) bool {
	for _, backend := range m.backends {
		if backend.Available(ctx) {
			return true
		}
	}
	return false
}

func (m *MultiStorageBackend) Name() string {
	return "multi-storage"
}

// LocationURI joins the locations of all mirrors.
func (m *MultiStorageBackend) LocationURI() string {
	locations := make([]string, 0, len(m.backends))
	for _, backend := range m.backends {
		locations = append(locations, backend.LocationURI())
	}
	return strings.Join(locations, ",")
}
