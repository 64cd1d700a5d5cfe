package hsearch

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"golang.org/x/sync/errgroup"
	"pkt.systems/pslog"

	"pkt.systems/hsearch/client"
	"pkt.systems/hsearch/internal/loggingutil"
	"pkt.systems/hsearch/internal/sink"
	sinklogging "pkt.systems/hsearch/internal/sink/logging"
)

// Object names written below {prefix}/{index}/.
const (
	ExportObjectsName  = "objects.ndjson"
	ExportSettingsName = "settings.json"
)

// ExportOptions tune Export.
type ExportOptions struct {
	// Prefix is prepended to every key written.
	Prefix string
	// Query filters the browse; nil exports everything.
	Query *client.Query
	// SkipSettings leaves settings.json out.
	SkipSettings bool
	// Logger receives progress; nil disables logging.
	Logger pslog.Base
	// Encryption, when set, stores both objects under envelope encryption.
	// Leave it nil when dst already came from OpenSink with ?encrypt-key=.
	Encryption *ExportEncryption
	// Progress, when set, is called as each browse page starts being
	// written, with the running object count.
	Progress func(objects int64)
}

// ExportResult summarises a finished export.
type ExportResult struct {
	Index       string
	Objects     int64
	Pages       int
	ObjectsKey  string
	ObjectBytes int64
	SettingsKey string
	Encrypted   bool
	Elapsed     time.Duration
}

// Export browses idx and writes one JSON object per line to
// {prefix}/{index}/objects.ndjson on dst, plus the index settings to
// {prefix}/{index}/settings.json. The object stream and the settings
// upload run concurrently; the first failure cancels the other.
func Export(ctx context.Context, idx *client.Index, dst Sink, opts ExportOptions) (*ExportResult, error) {
	if idx == nil || dst == nil {
		return nil, errors.New("export: index and sink are required")
	}
	begin := time.Now()
	logger := loggingutil.Full(loggingutil.WithSubsystem(opts.Logger, "export")).With("index", idx.Name())
	res := &ExportResult{
		Index:      idx.Name(),
		ObjectsKey: sink.Join(opts.Prefix, idx.Name(), ExportObjectsName),
	}
	if opts.Encryption != nil {
		enc, err := EncryptSink(dst, *opts.Encryption)
		if err != nil {
			return nil, fmt.Errorf("export: %w", err)
		}
		dst = enc
		res.Encrypted = true
	}
	dst = sinklogging.Wrap(dst, logger)

	if !opts.SkipSettings {
		res.SettingsKey = sink.Join(opts.Prefix, idx.Name(), ExportSettingsName)
	}
	logger.Info("export.begin", "sink", dst.Location(), "objects_key", res.ObjectsKey, "encrypted", res.Encrypted)

	g, gctx := errgroup.WithContext(ctx)
	pr, pw := io.Pipe()

	var it *client.BrowseIterator
	g.Go(func() error {
		it = idx.NewBrowseIterator(opts.Query)
		err := writeObjects(gctx, it, pw, res, opts.Progress)
		pw.CloseWithError(err)
		return err
	})
	g.Go(func() error {
		info, err := dst.Put(gctx, res.ObjectsKey, pr, sink.PutOptions{ContentType: sink.ContentTypeNDJSON, Size: -1})
		if err != nil {
			pr.CloseWithError(err)
			return err
		}
		res.ObjectBytes = info.Size
		return nil
	})
	if !opts.SkipSettings {
		g.Go(func() error {
			settings, err := idx.GetSettings(gctx)
			if err != nil {
				return fmt.Errorf("export: get settings: %w", err)
			}
			payload, err := json.MarshalIndent(settings, "", "  ")
			if err != nil {
				return fmt.Errorf("export: encode settings: %w", err)
			}
			_, err = dst.Put(gctx, res.SettingsKey, bytes.NewReader(payload), sink.PutOptions{
				ContentType: sink.ContentTypeJSON,
				Size:        int64(len(payload)),
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		logger.Warn("export.failed", "error", err, "objects", res.Objects)
		return nil, err
	}
	res.Pages = it.Pages()
	res.Elapsed = time.Since(begin)
	logger.Info("export.complete",
		"objects", res.Objects,
		"pages", res.Pages,
		"bytes", res.ObjectBytes,
		"elapsed", res.Elapsed,
	)
	return res, nil
}

func writeObjects(ctx context.Context, it *client.BrowseIterator, w io.Writer, res *ExportResult, progress func(int64)) error {
	bw := bufio.NewWriterSize(w, 64<<10)
	pages := 0
	for {
		obj, err := it.Next(ctx)
		if errors.Is(err, client.ErrIteratorDone) {
			break
		}
		if err != nil {
			return fmt.Errorf("export: browse: %w", err)
		}
		var line bytes.Buffer
		if err := json.Compact(&line, obj); err != nil {
			return fmt.Errorf("export: object %d: %w", res.Objects, err)
		}
		line.WriteByte('\n')
		if _, err := bw.Write(line.Bytes()); err != nil {
			return err
		}
		res.Objects++
		if progress != nil && it.Pages() != pages {
			pages = it.Pages()
			progress(res.Objects)
		}
	}
	return bw.Flush()
}
