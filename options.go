package mcregion

import (
	"log/slog"

	"github.com/mcworld/mcregion/codec"
	"github.com/mcworld/mcregion/internal/fs"
)

type options struct {
	logger       *Logger
	metrics      MetricsCollector
	compression  codec.Compression
	syncOnCommit bool
	fs           fs.FileSystem
}

// Option configures Open behavior.
type Option func(*options)

// WithCompression selects the compression scheme for new chunk writes.
// The default is codec.Zlib (tag 2), which every region file reader
// understands; codec.None and codec.LZ4 follow the format's later
// revisions. Existing chunks stay readable whatever they were written
// with. Passing an invalid scheme falls back to codec.Default.
func WithCompression(c codec.Compression) Option {
	return func(o *options) {
		if !c.Valid() {
			c = codec.Default
		}
		o.compression = c
	}
}

// WithSyncOnCommit makes every finalized chunk write fsync the file,
// turning Commit into a durability boundary. Off by default: the format
// was designed for callers that tolerate losing the most recent writes
// on a crash.
func WithSyncOnCommit(sync bool) Option {
	return func(o *options) {
		o.syncOnCommit = sync
	}
}

// WithMetricsCollector configures a metrics collector for monitoring
// operations. Pass nil to disable metrics collection.
func WithMetricsCollector(mc MetricsCollector) Option {
	return func(o *options) {
		if mc == nil {
			mc = NoopMetricsCollector{}
		}
		o.metrics = mc
	}
}

// WithLogger configures structured logging for operations.
// Pass nil to disable logging.
func WithLogger(logger *Logger) Option {
	return func(o *options) {
		if logger == nil {
			logger = NoopLogger()
		}
		o.logger = logger
	}
}

// WithLogLevel creates a text logger with the specified level and sets it.
// Convenience wrapper for WithLogger(NewTextLogger(level)).
func WithLogLevel(level slog.Level) Option {
	return func(o *options) {
		o.logger = NewTextLogger(level)
	}
}

// withFileSystem swaps the backing file system; tests use it to inject
// IO failures.
func withFileSystem(fsys fs.FileSystem) Option {
	return func(o *options) {
		if fsys != nil {
			o.fs = fsys
		}
	}
}

func applyOptions(optFns []Option) options {
	o := options{
		logger:      NoopLogger(),
		metrics:     NoopMetricsCollector{},
		compression: codec.Default,
		fs:          fs.Default,
	}
	for _, fn := range optFns {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}
