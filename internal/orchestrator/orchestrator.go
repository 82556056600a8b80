package orchestrator

import (
	"context"
	"errors"
	"mime"
	"strings"
	"sync"

	"image-compressor/internal/blobstore"
	"image-compressor/internal/compressor"
	"image-compressor/internal/logger"
	"image-compressor/internal/prober"
	"image-compressor/internal/state"
	"image-compressor/internal/statistics"

	"github.com/sirupsen/logrus"
)

// File is a file picked by the user.
type File struct {
	Name      string
	MediaType string
	Data      []byte
}

// Options configures an Orchestrator.
type Options struct {
	Params              state.Parameters
	DownloadSuffix      string
	DefaultDownloadName string
}

// Listener is called with the new state after every transition.
type Listener func(state.State)

// Orchestrator owns one compression session: the selected image, the
// parameters and the current result. All state changes go through the
// transitions in package state.
type Orchestrator struct {
	prober prober.Prober
	engine compressor.Engine
	blobs  *blobstore.Store
	logger *logrus.Logger
	stats  *statistics.Statistics
	opts   Options

	mutex  sync.Mutex
	state  state.State
	closed bool

	notifyMutex sync.Mutex
	listeners   map[int]Listener
	nextID      int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New returns an Orchestrator with no image selected.
func New(
	p prober.Prober,
	engine compressor.Engine,
	blobs *blobstore.Store,
	log *logrus.Logger,
	stats *statistics.Statistics,
	opts Options,
) *Orchestrator {
	if opts.DownloadSuffix == "" {
		opts.DownloadSuffix = state.DefaultDownloadSuffix
	}
	if opts.DefaultDownloadName == "" {
		opts.DefaultDownloadName = state.DefaultDownloadName
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Orchestrator{
		prober:    p,
		engine:    engine,
		blobs:     blobs,
		logger:    log,
		stats:     stats,
		opts:      opts,
		state:     state.Initial(opts.Params),
		listeners: make(map[int]Listener),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SelectImage replaces the source image and probes its dimensions in the
// background. Files whose media type is not image/* are rejected with an
// *InvalidInputError and leave the session untouched apart from the error.
func (o *Orchestrator) SelectImage(file File) error {
	log := logger.WithFileOperation(o.logger, file.Name, "select")

	if !IsImageMediaType(file.MediaType) {
		err := &InvalidInputError{FileName: file.Name, MediaType: file.MediaType}
		log.WithField("media_type", file.MediaType).Warn("Rejected non-image file")
		o.stats.IncrementInvalidInputs()
		o.stats.AddError(file.Name, "select", err.Error())
		if _, updateErr := o.update(func(s state.State) (state.State, error) {
			return state.RejectInput(s, err.Error()), nil
		}); updateErr != nil {
			return updateErr
		}
		return err
	}

	previewID := o.blobs.Put(file.Data, file.MediaType)
	next, err := o.update(func(s state.State) (state.State, error) {
		return state.SelectImage(s, state.SourceImage{
			Name:      file.Name,
			MediaType: file.MediaType,
			Data:      file.Data,
			Size:      int64(len(file.Data)),
			PreviewID: previewID,
		}), nil
	})
	if err != nil {
		o.blobs.Release(previewID)
		return err
	}

	o.stats.IncrementImagesSelected()
	o.stats.IncrementFormat(file.MediaType)
	log.WithField("size", len(file.Data)).Info("Image selected")

	generation := next.Generation
	o.spawn(func() {
		_, _ = o.probeSource(o.ctx, generation, file.Name, file.Data)
	})
	return nil
}

// UpdateParameters merges u into the parameters used by the next Compress.
func (o *Orchestrator) UpdateParameters(u state.ParameterUpdate) state.Parameters {
	next, err := o.update(func(s state.State) (state.State, error) {
		return state.UpdateParameters(s, u), nil
	})
	if err != nil {
		return o.Snapshot().Params
	}
	o.logger.WithFields(logrus.Fields{
		"quality":    next.Params.Quality,
		"size_ratio": next.Params.SizeRatio,
	}).Debug("Compression parameters updated")
	return next.Params
}

// Compress runs one compression cycle and blocks until it finishes.
// It returns ErrNoSource without a selected image and
// ErrCompressionInFlight while another cycle runs; neither changes state.
func (o *Orchestrator) Compress(ctx context.Context) error {
	started, err := o.begin()
	if err != nil {
		return err
	}
	return o.run(ctx, started)
}

// CompressAsync starts a compression cycle and runs it in the background
// under the session context. Whether the cycle started is decided before
// it returns, with the same errors as Compress. The channel receives the
// outcome of the cycle once.
func (o *Orchestrator) CompressAsync() (<-chan error, error) {
	started, err := o.begin()
	if err != nil {
		return nil, err
	}
	done := make(chan error, 1)
	if !o.spawn(func() { done <- o.run(o.ctx, started) }) {
		return nil, ErrClosed
	}
	return done, nil
}

// begin marks a cycle as started, or reports why it cannot start.
func (o *Orchestrator) begin() (state.State, error) {
	started, err := o.update(func(s state.State) (state.State, error) {
		if s.Source == nil {
			return s, ErrNoSource
		}
		if s.Compressing {
			return s, ErrCompressionInFlight
		}
		return state.CompressStarted(s), nil
	})
	if err != nil {
		if errors.Is(err, ErrCompressionInFlight) {
			o.stats.IncrementCompressionsDropped()
		}
		o.logger.Debugf("Compress request dropped: %v", err)
		return started, err
	}
	o.stats.IncrementCompressionsStarted()
	return started, nil
}

// run carries a started cycle through compression and records the outcome.
func (o *Orchestrator) run(ctx context.Context, started state.State) error {
	generation := started.Generation
	src := *started.Source
	params := started.Params
	log := logger.WithFileOperation(o.logger, src.Name, "compress").WithFields(logrus.Fields{
		"quality":    params.Quality,
		"size_ratio": params.SizeRatio,
	})

	dims := src.Dimensions
	if dims == nil {
		probed, err := o.probeSource(ctx, generation, src.Name, src.Data)
		if err != nil {
			o.fail(generation, src.Name, err)
			log.WithError(err).Error("Could not determine image dimensions")
			return err
		}
		dims = &probed
	}
	o.update(func(s state.State) (state.State, error) {
		return state.CompressEngaged(s, generation), nil
	})

	width, height := compressor.TargetSize(dims.Width, dims.Height, params.SizeRatio)
	req := compressor.Request{
		Source:    src.Data,
		MediaType: src.MediaType,
		Quality:   params.Quality,
		MaxWidth:  width,
		MaxHeight: height,
	}
	log.Debugf("Compressing %dx%d to fit %dx%d", dims.Width, dims.Height, width, height)

	var res compressor.Result
	select {
	case res = <-compressor.Submit(ctx, o.engine, req):
	case <-ctx.Done():
		res = compressor.Result{Err: &compressor.CompressionError{Operation: "wait", Err: ctx.Err()}}
	}

	if res.Err != nil {
		var compErr *compressor.CompressionError
		if !errors.As(res.Err, &compErr) {
			compErr = &compressor.CompressionError{Operation: "encode", Err: res.Err}
		}
		o.fail(generation, src.Name, compErr)
		log.WithError(compErr).Error("Compression failed")
		return compErr
	}

	out := res.Output
	previewID := o.blobs.Put(out.Data, out.MediaType)
	next, err := o.update(func(s state.State) (state.State, error) {
		return state.CompressSucceeded(s, generation, state.CompressionResult{
			Data:      out.Data,
			MediaType: out.MediaType,
			Size:      int64(len(out.Data)),
			PreviewID: previewID,
			Action:    out.Action,
		}), nil
	})
	if err != nil {
		o.blobs.Release(previewID)
		return err
	}
	if next.Result == nil || next.Result.PreviewID != previewID {
		o.blobs.Release(previewID)
		log.Info("Discarded result for a superseded image")
		return nil
	}

	o.stats.IncrementCompressionsSucceeded()
	o.stats.AddBytes(src.Size, next.Result.Size)
	if out.Action == compressor.ActionOriginal {
		o.stats.IncrementOriginalsKept()
	}
	log.WithFields(logrus.Fields{
		"original_size":   src.Size,
		"compressed_size": next.Result.Size,
		"ratio":           next.CompressionRatio(),
	}).Info("Image compressed")

	seq := next.Result.Seq
	o.spawn(func() { o.probeResult(seq, src.Name, out.Data) })
	return nil
}

// Snapshot returns the current state.
func (o *Orchestrator) Snapshot() state.State {
	o.mutex.Lock()
	defer o.mutex.Unlock()
	return o.state
}

// DownloadFileName proposes a name for saving the result.
func (o *Orchestrator) DownloadFileName() string {
	return o.DownloadFileNameFor(o.Snapshot())
}

// DownloadFileNameFor proposes a name for saving the result of s, a
// snapshot taken earlier, using the session's naming options.
func (o *Orchestrator) DownloadFileNameFor(s state.State) string {
	return s.DownloadFileName(o.opts.DownloadSuffix, o.opts.DefaultDownloadName)
}

// CompressionRatio returns the size reduction of the result, or "".
func (o *Orchestrator) CompressionRatio() string {
	return o.Snapshot().CompressionRatio()
}

// Download returns the proposed file name, bytes and media type of the result.
func (o *Orchestrator) Download() (string, []byte, string, error) {
	s := o.Snapshot()
	if s.Source == nil {
		return "", nil, "", ErrNoSource
	}
	if s.Result == nil {
		return "", nil, "", ErrNoResult
	}
	return o.DownloadFileNameFor(s), s.Result.Data, s.Result.MediaType, nil
}

// Subscribe registers fn to be called after every state change. The
// returned function removes the subscription. Listeners must not block.
func (o *Orchestrator) Subscribe(fn Listener) func() {
	o.notifyMutex.Lock()
	defer o.notifyMutex.Unlock()
	id := o.nextID
	o.nextID++
	o.listeners[id] = fn
	return func() {
		o.notifyMutex.Lock()
		delete(o.listeners, id)
		o.notifyMutex.Unlock()
	}
}

// Wait blocks until background probes have finished.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Close releases every preview handle and stops background work.
func (o *Orchestrator) Close() {
	o.mutex.Lock()
	if o.closed {
		o.mutex.Unlock()
		return
	}
	o.closed = true
	ids := o.state.PreviewIDs()
	o.state = state.Initial(o.state.Params)
	o.mutex.Unlock()

	o.cancel()
	for _, id := range ids {
		o.blobs.Release(id)
	}
	o.wg.Wait()
	o.logger.Debug("Orchestrator closed")
}

// spawn runs fn in a tracked goroutine unless the orchestrator is closed.
// The closed check and wg.Add share the mutex so Close never waits on a
// group that can still grow.
func (o *Orchestrator) spawn(fn func()) bool {
	o.mutex.Lock()
	if o.closed {
		o.mutex.Unlock()
		return false
	}
	o.wg.Add(1)
	o.mutex.Unlock()

	go func() {
		defer o.wg.Done()
		fn()
	}()
	return true
}

// update applies fn atomically, releases preview handles the new state no
// longer references and notifies listeners in order.
func (o *Orchestrator) update(fn func(state.State) (state.State, error)) (state.State, error) {
	o.mutex.Lock()
	if o.closed {
		s := o.state
		o.mutex.Unlock()
		return s, ErrClosed
	}
	prev := o.state
	next, err := fn(prev)
	if err != nil {
		o.mutex.Unlock()
		return prev, err
	}
	o.state = next
	o.notifyMutex.Lock()
	o.mutex.Unlock()

	o.releaseDropped(prev, next)
	for _, listener := range o.listeners {
		listener(next)
	}
	o.notifyMutex.Unlock()
	return next, nil
}

func (o *Orchestrator) releaseDropped(prev, next state.State) {
	live := make(map[string]bool)
	for _, id := range next.PreviewIDs() {
		live[id] = true
	}
	for _, id := range prev.PreviewIDs() {
		if !live[id] {
			o.blobs.Release(id)
		}
	}
}

// probeSource determines the source dimensions and records the outcome.
func (o *Orchestrator) probeSource(ctx context.Context, generation uint64, name string, data []byte) (prober.Dimensions, error) {
	dims, err := o.prober.Probe(ctx, data)
	if err != nil {
		if ctx.Err() != nil {
			return prober.Dimensions{}, err
		}
		o.stats.IncrementDecodeErrors()
		o.stats.AddError(name, "probe", err.Error())
		logger.WithFileOperation(o.logger, name, "probe").WithError(err).Warn("Could not decode selected image")
		o.update(func(s state.State) (state.State, error) {
			return state.SourceProbeFailed(s, generation, err.Error()), nil
		})
		return prober.Dimensions{}, err
	}

	o.update(func(s state.State) (state.State, error) {
		return state.SourceProbed(s, generation, dims), nil
	})
	return dims, nil
}

// probeResult determines the result dimensions and records the outcome.
func (o *Orchestrator) probeResult(seq uint64, name string, data []byte) {
	dims, err := o.prober.Probe(o.ctx, data)
	if err != nil {
		if o.ctx.Err() != nil {
			return
		}
		o.stats.IncrementDecodeErrors()
		o.stats.AddError(name, "probe_result", err.Error())
		logger.WithFileOperation(o.logger, name, "probe_result").WithError(err).Warn("Could not decode compressed image")
		o.update(func(s state.State) (state.State, error) {
			return state.ResultProbeFailed(s, seq, err.Error()), nil
		})
		return
	}
	o.update(func(s state.State) (state.State, error) {
		return state.ResultProbed(s, seq, dims), nil
	})
}

// fail ends the cycle of generation with err as the user-visible message.
func (o *Orchestrator) fail(generation uint64, name string, err error) {
	o.stats.IncrementCompressionsFailed()
	o.stats.AddError(name, "compress", err.Error())
	o.update(func(s state.State) (state.State, error) {
		return state.CompressFailed(s, generation, err.Error()), nil
	})
}

// IsImageMediaType reports whether mediaType is an image/* type.
func IsImageMediaType(mediaType string) bool {
	t, _, err := mime.ParseMediaType(mediaType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(t, "image/")
}
