package cli

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/eunmann/s3-upload-stream/internal/config"
	"github.com/eunmann/s3-upload-stream/internal/logctx"
	"github.com/eunmann/s3-upload-stream/pkg/humanfmt"
	"github.com/eunmann/s3-upload-stream/pkg/journal"
	"github.com/eunmann/s3-upload-stream/pkg/logging"
	"github.com/eunmann/s3-upload-stream/pkg/membudget"
	"github.com/eunmann/s3-upload-stream/pkg/memdiag"
	"github.com/eunmann/s3-upload-stream/pkg/notify"
	"github.com/eunmann/s3-upload-stream/pkg/storageclass"
	"github.com/eunmann/s3-upload-stream/pkg/transport"
	"github.com/eunmann/s3-upload-stream/pkg/upload"
)

// sniffLen is how much of the input is inspected for the content type.
const sniffLen = 3072

const progressInterval = 2 * time.Second

func putCommand(env config.Config) *cli.Command {
	return &cli.Command{
		Name:      "put",
		Usage:     "upload stdin or files",
		ArgsUsage: "<s3|minio|swift>://bucket/key [file...]",
		Description: "Without files, stdin is uploaded to the given key. With files, the key is\n" +
			"used as a prefix and each file is stored under its base name. A file named\n" +
			"\"-\" reads stdin. One line per object is printed: location, etag, sha256, bytes.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "part-size", Usage: "part size (min 5MiB)", Value: env.PartSize},
			&cli.IntFlag{Name: "concurrency", Usage: "parts uploaded in parallel per object", Value: env.Concurrency},
			&cli.StringFlag{Name: "memory-limit", Usage: "bytes buffered across all uploads (default: part size x concurrency per upload)"},
			&cli.IntFlag{Name: "jobs", Usage: "files uploaded in parallel", Value: env.Jobs},
			&cli.StringFlag{Name: "compress", Usage: "compress the stream: gzip or zstd"},
			&cli.StringFlag{Name: "content-type", Usage: "Content-Type (default: sniffed from the data)"},
			&cli.StringFlag{Name: "content-encoding", Usage: "Content-Encoding"},
			&cli.StringFlag{Name: "cache-control", Usage: "Cache-Control"},
			&cli.StringFlag{Name: "content-disposition", Usage: "Content-Disposition"},
			&cli.StringFlag{Name: "acl", Usage: "canned ACL"},
			&cli.StringFlag{Name: "storage-class", Usage: "storage class"},
			&cli.StringFlag{Name: "sse", Usage: "server-side encryption: AES256, aws:kms or SSE-C"},
			&cli.StringFlag{Name: "sse-kms-key-id", Usage: "KMS key for --sse aws:kms"},
			&cli.StringFlag{Name: "sse-customer-key", Usage: "base64 key for --sse SSE-C"},
			&cli.StringSliceFlag{Name: "metadata", Usage: "user metadata as key=value (repeatable)"},
			&cli.BoolFlag{Name: "content-md5", Usage: "send Content-MD5 with every S3 part"},
			&cli.BoolFlag{Name: "dry-run", Usage: "upload into memory instead of a remote store"},
			&cli.StringFlag{Name: "notify-queue", Usage: "SQS queue URL for outcome events", Value: env.NotifyQueueURL},
			&cli.StringFlag{Name: "journal-table", Usage: "DynamoDB table for the upload journal", Value: env.JournalTable},
		},
		Action: func(c *cli.Context) error {
			return runPut(c, env)
		},
	}
}

type putJob struct {
	name string
	path string
	dest transport.Destination
}

type putResult struct {
	obj    *transport.Object
	sha256 string
	bytes  int64
}

// putter holds what every job of one put invocation shares.
type putter struct {
	t           transport.Transport
	backendName string
	partSize    int64
	concurrency int
	budget      *membudget.Budget
	opts        transport.UploadOptions
	compress    string
	stdin       io.Reader
	publisher   *notify.Publisher
	journal     *journal.Journal
}

func runPut(c *cli.Context, env config.Config) error {
	ctx := c.Context
	log := logctx.FromContext(ctx)

	if c.NArg() < 1 {
		return errors.New("put: destination URI is required")
	}
	scheme, dest, err := transport.ParseURI(c.Args().First())
	if err != nil {
		return err
	}
	jobs, err := planJobs(dest, c.Args().Tail())
	if err != nil {
		return err
	}

	partSize, err := humanfmt.ParseBytes(c.String("part-size"))
	if err != nil {
		return fmt.Errorf("invalid --part-size: %w", err)
	}
	budget, err := determineMemoryBudget(c.String("memory-limit"), env.MemoryLimit, min(len(jobs), c.Int("jobs")))
	if err != nil {
		return err
	}
	opts, err := uploadOptions(c, scheme)
	if err != nil {
		return err
	}
	compress := c.String("compress")
	switch compress {
	case "", "gzip", "zstd":
	default:
		return fmt.Errorf("invalid --compress %q: want gzip or zstd", compress)
	}

	// Validate the engine settings once before connecting anywhere.
	if err := (upload.Config{PartSize: partSize, Concurrency: c.Int("concurrency"), Budget: budget}).Validate(); err != nil {
		return err
	}

	b := newBackend(env, c.Bool("dry-run"))
	p := &putter{
		backendName: scheme,
		partSize:    partSize,
		concurrency: c.Int("concurrency"),
		budget:      budget,
		opts:        opts,
		compress:    compress,
		stdin:       c.App.Reader,
	}
	if b.dryRun {
		p.backendName = "dry-run"
	}
	if p.t, err = b.transportFor(ctx, scheme, c.Bool("content-md5")); err != nil {
		return err
	}
	if p.publisher, err = b.publisher(ctx, c.String("notify-queue")); err != nil {
		return err
	}
	if p.journal, err = b.journal(ctx, c.String("journal-table")); err != nil {
		return err
	}

	if c.Bool("mem-debug") {
		diagBudget := budget
		if diagBudget == nil {
			// Private budgets are not observable; track the equivalent total.
			total := uint64(partSize) * uint64(p.concurrency) * uint64(max(1, c.Int("jobs")))
			diagBudget = membudget.New(membudget.Config{TotalBytes: total, Source: membudget.SourceUpload})
		}
		tracker := memdiag.NewTracker(memdiag.Config{PprofAddr: c.String("pprof-addr")}, diagBudget, log)
		diagCtx, stop := context.WithCancel(ctx)
		defer stop()
		go tracker.Run(diagCtx)
	}

	var (
		outMu  sync.Mutex
		failed int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.Int("jobs")))
	for _, job := range jobs {
		g.Go(func() error {
			res, err := p.run(gctx, job)
			outMu.Lock()
			defer outMu.Unlock()
			if err != nil {
				failed++
				return fmt.Errorf("%s: %w", job.name, err)
			}
			fmt.Fprintf(c.App.Writer, "%s\t%s\t%s\t%d\n", res.obj.Location, res.obj.ETag, res.sha256, res.bytes)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Int("failed", failed).Int("total", len(jobs)).Msg("put failed")
		return err
	}
	return nil
}

// planJobs maps the file arguments to destinations.
func planJobs(dest transport.Destination, files []string) ([]putJob, error) {
	if len(files) == 0 {
		if dest.Key == "" || strings.HasSuffix(dest.Key, "/") {
			return nil, fmt.Errorf("put: stdin needs a full object key, got %q", dest.String())
		}
		return []putJob{{name: "stdin", path: "-", dest: dest}}, nil
	}

	single := len(files) == 1 && dest.Key != "" && !strings.HasSuffix(dest.Key, "/")
	jobs := make([]putJob, 0, len(files))
	seen := make(map[string]string, len(files))
	stdinUsed := false
	for _, f := range files {
		job := putJob{name: f, path: f, dest: dest}
		if f == "-" {
			if stdinUsed {
				return nil, errors.New("put: stdin given more than once")
			}
			stdinUsed = true
			job.name = "stdin"
		}
		if !single {
			if f == "-" {
				return nil, errors.New("put: stdin needs its own full object key")
			}
			job.dest.Key = transport.JoinKey(dest.Key, filepath.Base(f))
		}
		if prev, ok := seen[job.dest.Key]; ok {
			return nil, fmt.Errorf("put: %s and %s map to the same key %q", prev, f, job.dest.Key)
		}
		seen[job.dest.Key] = f
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func uploadOptions(c *cli.Context, scheme string) (transport.UploadOptions, error) {
	opts := transport.UploadOptions{
		ContentType:        c.String("content-type"),
		ContentEncoding:    c.String("content-encoding"),
		CacheControl:       c.String("cache-control"),
		ContentDisposition: c.String("content-disposition"),
		ACL:                c.String("acl"),
	}
	class, err := storageclass.NewMapping(scheme).Normalize(c.String("storage-class"))
	if err != nil {
		return opts, err
	}
	opts.StorageClass = class

	if kv := c.StringSlice("metadata"); len(kv) > 0 {
		opts.Metadata = make(map[string]string, len(kv))
		for _, pair := range kv {
			k, v, ok := strings.Cut(pair, "=")
			if !ok || k == "" {
				return opts, fmt.Errorf("invalid --metadata %q: want key=value", pair)
			}
			opts.Metadata[k] = v
		}
	}

	switch sse := transport.SSEType(c.String("sse")); sse {
	case "":
	case transport.SSES3:
		opts.SSE = &transport.SSEConfig{Type: sse}
	case transport.SSEKMS:
		opts.SSE = &transport.SSEConfig{Type: sse, KMSKeyID: c.String("sse-kms-key-id")}
	case transport.SSEC:
		if c.String("sse-customer-key") == "" {
			return opts, errors.New("--sse SSE-C needs --sse-customer-key")
		}
		opts.SSE = &transport.SSEConfig{Type: sse, CustomerKey: c.String("sse-customer-key")}
	default:
		return opts, fmt.Errorf("invalid --sse %q", sse)
	}
	return opts, nil
}

// run uploads one job. The engine's outcome is journaled and published
// whatever it is; failures of either are logged, not returned.
func (p *putter) run(ctx context.Context, job putJob) (putResult, error) {
	ctx = logctx.WithStr(ctx, "source", job.name)
	log := logctx.FromContext(ctx)

	src, size, closeSrc, err := p.open(job)
	if err != nil {
		return putResult{}, err
	}
	defer closeSrc()

	br := bufio.NewReaderSize(src, sniffLen)
	opts := p.opts
	if opts.ContentType == "" {
		opts.ContentType = p.contentType(br)
	}

	cfg := upload.Config{
		PartSize:    p.partSize,
		Concurrency: p.concurrency,
		Budget:      p.budget,
		Options:     opts,
	}
	if p.compress == "" {
		cfg.SizeHint = size
	}
	cfg.Observer = progressObserver(log, cfg.SizeHint)

	e, err := upload.New(p.t, job.dest, cfg)
	if err != nil {
		return putResult{}, err
	}
	if err := e.Start(ctx); err != nil {
		p.publish(ctx, e, nil, err)
		return putResult{}, err
	}
	journaled := p.begin(ctx, e)

	hw := &hashWriter{w: e, h: sha256.New()}
	if err := compressInto(hw, br, p.compress); err != nil {
		_ = e.Abort(fmt.Errorf("read %s: %w", job.name, err))
	} else {
		_ = e.Close()
	}
	obj, err := e.Result()

	if journaled {
		p.finish(ctx, e, obj, err)
	}
	p.publish(ctx, e, obj, err)
	if err != nil {
		return putResult{}, err
	}
	return putResult{obj: obj, sha256: hex.EncodeToString(hw.h.Sum(nil)), bytes: hw.n}, nil
}

func (p *putter) open(job putJob) (io.Reader, int64, func(), error) {
	if job.path == "-" {
		return p.stdin, 0, func() {}, nil
	}
	f, err := os.Open(job.path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("open input: %w", err)
	}
	var size int64
	if st, err := f.Stat(); err == nil && st.Mode().IsRegular() {
		size = st.Size()
	}
	return f, size, func() { _ = f.Close() }, nil
}

func (p *putter) contentType(br *bufio.Reader) string {
	switch p.compress {
	case "gzip":
		return "application/gzip"
	case "zstd":
		return "application/zstd"
	}
	// Peek returns what is available on short input along with an error.
	head, _ := br.Peek(sniffLen)
	return mimetype.Detect(head).String()
}

func (p *putter) begin(ctx context.Context, e *upload.Engine) bool {
	if p.journal == nil {
		return false
	}
	if err := p.journal.Begin(ctx, p.backendName, e, p.partSize); err != nil {
		log := logctx.FromContext(ctx)
		log.Warn().Err(err).Msg("journal begin failed")
		return false
	}
	return true
}

func (p *putter) finish(ctx context.Context, e *upload.Engine, obj *transport.Object, uploadErr error) {
	var location, etag string
	if obj != nil {
		location, etag = obj.Location, obj.ETag
	}
	if err := p.journal.Finish(context.WithoutCancel(ctx), e, location, etag, uploadErr); err != nil {
		log := logctx.FromContext(ctx)
		log.Warn().Err(err).Msg("journal finish failed")
	}
}

func (p *putter) publish(ctx context.Context, e *upload.Engine, obj *transport.Object, uploadErr error) {
	if p.publisher == nil {
		return
	}
	id, err := p.publisher.Publish(context.WithoutCancel(ctx), notify.NewEvent(e, obj, uploadErr))
	log := logctx.FromContext(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("publish outcome failed")
		return
	}
	log.Debug().Str("message_id", id).Msg("outcome published")
}

// compressInto copies src to dst, compressing with algo when set.
func compressInto(dst io.Writer, src io.Reader, algo string) error {
	switch algo {
	case "gzip":
		zw := gzip.NewWriter(dst)
		if _, err := io.Copy(zw, src); err != nil {
			return err
		}
		return zw.Close()
	case "zstd":
		zw, err := zstd.NewWriter(dst)
		if err != nil {
			return err
		}
		if _, err := io.Copy(zw, src); err != nil {
			_ = zw.Close()
			return err
		}
		return zw.Close()
	}
	_, err := io.Copy(dst, src)
	return err
}

// hashWriter hashes and counts the bytes accepted by w.
type hashWriter struct {
	w io.Writer
	h hash.Hash
	n int64
}

func (hw *hashWriter) Write(p []byte) (int, error) {
	n, err := hw.w.Write(p)
	hw.h.Write(p[:n])
	hw.n += int64(n)
	return n, err
}

// progressObserver logs throttled progress at info level. Observer calls
// are serialized, so the closure state needs no lock.
func progressObserver(log zerolog.Logger, total int64) upload.Observer {
	tracker := logging.NewProgressTracker("put", total, log)
	last := time.Now()
	var lastLog time.Time
	return upload.ObserverFuncs{
		OnPart: func(pr upload.Progress) {
			now := time.Now()
			tracker.RecordPart(pr.PartSize, now.Sub(last))
			last = now
			if now.Sub(lastLog) < progressInterval {
				return
			}
			lastLog = now
			logging.NewCompletionEvent(log, "upload_progress", "put", tracker.Elapsed()).
				ProgressFromTracker(tracker).
				Throughput(pr.BytesUploaded).
				Log("upload progress")
		},
	}
}
