// internal/browser/pool.go
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"

	"github.com/rendercrawl/rendercrawl/internal/retry"
	"github.com/rendercrawl/rendercrawl/internal/traffic"
)

// PoolOptions configures the Chrome pool
type PoolOptions struct {
	Size           int
	Headless       bool
	UserAgent      string
	Proxy          string
	ChromePath     string
	LoadTimeout    time.Duration
	OpTimeout      time.Duration
	AcquireTimeout time.Duration
	ExtraArgs      []chromedp.ExecAllocatorOption
}

// ChromePool manages a fixed-capacity set of instrumented Chrome instances.
// Instances are leased to one crawl session at a time; evicted instances are
// replaced in the background so capacity recovers after browser crashes.
type ChromePool struct {
	opts        PoolOptions
	idle        chan *Instance
	allocCtx    context.Context
	allocCancel context.CancelFunc

	mu      sync.Mutex
	idleSet map[*Instance]struct{}
	nextID  int
	closed  bool
}

// NewChromePool creates the pool and warms up opts.Size instances.
func NewChromePool(opts PoolOptions) (*ChromePool, error) {
	if opts.Size <= 0 {
		opts.Size = 3
	}
	if opts.LoadTimeout <= 0 {
		opts.LoadTimeout = 20 * time.Second
	}
	if opts.OpTimeout <= 0 {
		opts.OpTimeout = 10 * time.Second
	}
	if opts.AcquireTimeout <= 0 {
		opts.AcquireTimeout = 60 * time.Second
	}

	log.Debug().Int("size", opts.Size).Msg("Creating chrome pool")

	chromePath := opts.ChromePath
	if chromePath == "" {
		chromePath = findChrome()
	}

	allocOpts := []chromedp.ExecAllocatorOption{
		chromedp.NoFirstRun,
		chromedp.NoDefaultBrowserCheck,
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-background-networking", true),
		chromedp.Flag("disable-breakpad", true),
		chromedp.Flag("disable-client-side-phishing-detection", true),
		chromedp.Flag("disable-default-apps", true),
		chromedp.Flag("disable-hang-monitor", true),
		chromedp.Flag("disable-prompt-on-repost", true),
		chromedp.Flag("disable-renderer-backgrounding", true),
		chromedp.Flag("disable-sync", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("metrics-recording-only", true),
		chromedp.Flag("disk-cache-size", "0"),
		chromedp.Flag("media-cache-size", "0"),
		chromedp.Flag("window-size", "1920,1080"),
	}

	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if chromePath != "" {
		allocOpts = append([]chromedp.ExecAllocatorOption{chromedp.ExecPath(chromePath)}, allocOpts...)
	}
	if opts.Headless {
		allocOpts = append(allocOpts, chromedp.Flag("headless", "new"))
	} else {
		allocOpts = append(allocOpts, chromedp.Flag("headless", false))
	}
	if opts.Proxy != "" {
		allocOpts = append(allocOpts, chromedp.ProxyServer(opts.Proxy))
	}
	allocOpts = append(allocOpts, opts.ExtraArgs...)

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocOpts...)

	pool := &ChromePool{
		opts:        opts,
		idle:        make(chan *Instance, opts.Size),
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
		idleSet:     make(map[*Instance]struct{}),
	}

	for n := 0; n < opts.Size; n++ {
		inst, err := pool.spawn()
		if err != nil {
			pool.Shutdown()
			return nil, fmt.Errorf("failed to warm up chrome instance %d: %w", n, err)
		}
		pool.putIdle(inst)
	}

	log.Info().Int("pool_size", opts.Size).Msg("Chrome pool ready")
	return pool, nil
}

// spawn creates one instance and warms it with about:blank. Browser startup
// can fail transiently under load, so warm-up runs with backoff.
func (p *ChromePool) spawn() (*Instance, error) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.mu.Unlock()

	var inst *Instance
	err := retry.WithRetry(context.Background(), retry.Config{
		MaxAttempts:    3,
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}, func() error {
		var err error
		inst, err = newInstance(p.allocCtx, id, p.opts.LoadTimeout, p.opts.OpTimeout)
		if err != nil {
			return err
		}
		if err = inst.NavigateBlank(context.Background()); err != nil {
			inst.close()
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Debug().Int("instance", id).Msg("Chrome instance initialized")
	return inst, nil
}

// Acquire leases an idle instance, binding it to the sink and debugging id.
func (p *ChromePool) Acquire(ctx context.Context, sink traffic.Sink, debuggingID string) (Browser, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case inst := <-p.idle:
		p.mu.Lock()
		delete(p.idleSet, inst)
		closed := p.closed
		p.mu.Unlock()
		if closed {
			inst.close()
			return nil, ErrPoolClosed
		}

		inst.bind(sink, debuggingID)
		log.Debug().
			Int("instance", inst.id).
			Str("did", debuggingID).
			Msg("Chrome instance acquired from pool")
		return inst, nil

	case <-time.After(p.opts.AcquireTimeout):
		return nil, fmt.Errorf("%w after %s", ErrNoInstance, p.opts.AcquireTimeout)

	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Free returns a healthy instance to the pool for reuse.
func (p *ChromePool) Free(b Browser) {
	inst, ok := b.(*Instance)
	if !ok || inst == nil {
		return
	}
	inst.unbind()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		inst.close()
		return
	}
	p.mu.Unlock()

	p.putIdle(inst)
	log.Debug().Int("instance", inst.id).Msg("Chrome instance released to pool")
}

// Evict discards an instance whose health is no longer trusted and spawns a
// replacement in the background to restore capacity.
func (p *ChromePool) Evict(b Browser, reason string) {
	inst, ok := b.(*Instance)
	if !ok || inst == nil {
		return
	}

	log.Debug().
		Int("instance", inst.id).
		Str("reason", reason).
		Msg("Evicting chrome instance from pool")
	inst.close()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()

	go func() {
		repl, err := p.spawn()
		if err != nil {
			log.Warn().Err(err).Msg("Failed to replace evicted chrome instance")
			return
		}

		p.mu.Lock()
		closed := p.closed
		p.mu.Unlock()
		if closed {
			repl.close()
			return
		}
		p.putIdle(repl)
	}()
}

// IdleInstances returns a snapshot of the currently idle instances.
func (p *ChromePool) IdleInstances() []Browser {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Browser, 0, len(p.idleSet))
	for inst := range p.idleSet {
		out = append(out, inst)
	}
	return out
}

// Size returns the configured pool capacity.
func (p *ChromePool) Size() int {
	return p.opts.Size
}

// Shutdown discards every instance and releases the allocator. Idempotent.
func (p *ChromePool) Shutdown() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.idleSet = make(map[*Instance]struct{})
	p.mu.Unlock()

	log.Debug().Msg("Shutting down chrome pool")

	// Drain instead of closing the channel: a replacement spawn may still
	// try to return an instance after shutdown started.
	for {
		select {
		case inst := <-p.idle:
			inst.close()
			continue
		default:
		}
		break
	}
	p.allocCancel()

	log.Info().Msg("Chrome pool closed")
	return nil
}

func (p *ChromePool) putIdle(inst *Instance) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		inst.close()
		return
	}
	p.idleSet[inst] = struct{}{}
	p.mu.Unlock()

	select {
	case p.idle <- inst:
	default:
		// Capacity exceeded, which can only happen when replacement spawns
		// race a shutdown. Discard.
		p.mu.Lock()
		delete(p.idleSet, inst)
		p.mu.Unlock()
		inst.close()
		log.Warn().Int("instance", inst.id).Msg("Chrome pool full, discarding instance")
	}
}
