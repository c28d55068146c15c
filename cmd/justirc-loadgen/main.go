// Command justirc-loadgen drives N concurrent clients against a broker for
// soak testing. Clients either share one channel and fan messages out, or
// pair up and exchange private messages. Timestamped payloads measure
// broker delivery latency; the run summary is printed as JSON on stdout.
//
// With no -addr the tool starts its own broker on a loopback listener with
// the per-IP connection limit raised to fit the ramp.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/justirc/justirc-go/broker"
	"github.com/justirc/justirc-go/client"
)

const (
	modeChannel = "channel"
	modePrivate = "private"

	// Owner credential shared by every generated client. The first join
	// creates the channel with it; later joins use it as the creator
	// bypass, so none of them park on an interactive prompt.
	creatorPassword = "loadgen-owner-key"
)

type loadConfig struct {
	addr           string
	mode           string
	clients        int
	ratePerClient  int
	duration       time.Duration
	channel        string
	messageBytes   int
	connectRate    int
	rampStep       int
	rampInterval   time.Duration
	workers        int
	connTimeout    time.Duration
	drain          time.Duration
	reportInterval time.Duration
}

// probe is the plaintext each sender encrypts; receivers subtract SentNs
// from their own clock, which is valid because both run in this process.
type probe struct {
	Seq    int    `json:"seq"`
	SentNs int64  `json:"sent_ns"`
	Pad    string `json:"pad,omitempty"`
}

type connMetrics struct {
	connect  time.Duration
	join     time.Duration
	errStage string
}

type statsCollector struct {
	mu        sync.Mutex
	startedAt time.Time
	dials     int
	connected int
	failed    int
	failures  map[string]int
	perSecond map[int64]int

	connect []int64
	join    []int64
	deliver []int64
}

type latencyStats struct {
	Count  int     `json:"count"`
	MinMs  float64 `json:"min_ms"`
	MaxMs  float64 `json:"max_ms"`
	MeanMs float64 `json:"mean_ms"`
	P50Ms  float64 `json:"p50_ms"`
	P95Ms  float64 `json:"p95_ms"`
	P99Ms  float64 `json:"p99_ms"`
}

type resourceStats struct {
	MaxHeapAlloc  uint64 `json:"max_heap_alloc_bytes"`
	MaxHeapInuse  uint64 `json:"max_heap_inuse_bytes"`
	MaxSysBytes   uint64 `json:"max_sys_bytes"`
	MaxGoroutines int    `json:"max_goroutines"`
}

type liveClients struct {
	mu      sync.Mutex
	clients []*client.Client
	nicks   []string
	active  int64
	peak    int64
}

func main() {
	cfg := loadConfig{
		mode:           modeChannel,
		clients:        50,
		ratePerClient:  2,
		duration:       30 * time.Second,
		channel:        "#loadtest",
		messageBytes:   64,
		connectRate:    25,
		rampStep:       0,
		rampInterval:   2 * time.Second,
		workers:        16,
		connTimeout:    10 * time.Second,
		drain:          2 * time.Second,
		reportInterval: 2 * time.Second,
	}

	flag.StringVar(&cfg.addr, "addr", cfg.addr, "target broker host:port (empty starts an in-process broker)")
	flag.StringVar(&cfg.mode, "mode", cfg.mode, "load mode: channel | private")
	flag.IntVar(&cfg.clients, "clients", cfg.clients, "concurrent client count")
	flag.IntVar(&cfg.ratePerClient, "rate", cfg.ratePerClient, "messages per second per client (the broker admits 3/s sustained)")
	flag.DurationVar(&cfg.duration, "duration", cfg.duration, "send phase duration")
	flag.StringVar(&cfg.channel, "channel", cfg.channel, "channel name for channel mode")
	flag.IntVar(&cfg.messageBytes, "message-bytes", cfg.messageBytes, "padding bytes added to each payload")
	flag.IntVar(&cfg.connectRate, "connect-rate", cfg.connectRate, "client dials per second during ramp (0 = max)")
	flag.IntVar(&cfg.rampStep, "ramp-step", cfg.rampStep, "clients added per ramp step (0 = no ramp)")
	flag.DurationVar(&cfg.rampInterval, "ramp-interval", cfg.rampInterval, "time between ramp steps")
	flag.IntVar(&cfg.workers, "workers", cfg.workers, "worker goroutines for client setup")
	flag.DurationVar(&cfg.connTimeout, "conn-timeout", cfg.connTimeout, "per-client dial and join timeout")
	flag.DurationVar(&cfg.drain, "drain", cfg.drain, "wait for in-flight deliveries after the send phase")
	flag.DurationVar(&cfg.reportInterval, "report-interval", cfg.reportInterval, "status report interval")
	flag.Parse()

	if err := validateConfig(cfg); err != nil {
		log.Fatal(err)
	}

	logger := log.New(os.Stderr, "[loadgen] ", log.LstdFlags)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 2)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		cancel()
	}()

	addr := cfg.addr
	if addr == "" {
		var closeBroker func()
		var err error
		addr, closeBroker, err = startBroker(cfg)
		if err != nil {
			log.Fatal(err)
		}
		defer closeBroker()
		logger.Printf("in-process broker on %s", addr)
	}

	stats := &statsCollector{
		startedAt: time.Now(),
		failures:  make(map[string]int),
		perSecond: make(map[int64]int),
	}
	var sent, received int64

	live := &liveClients{}
	sampler, samplerDone := startResourceSampler(ctx, cfg.reportInterval)

	if cfg.reportInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.reportInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					dials, connected, failed := stats.snapshotCounts()
					logger.Printf("dials=%d connected=%d failed=%d sent=%d received=%d",
						dials, connected, failed,
						atomic.LoadInt64(&sent), atomic.LoadInt64(&received))
				}
			}
		}()
	}

	// Ramp phase: dial and join through the worker pool.
	metricsCh := make(chan connMetrics, cfg.workers*4)
	doneStats := make(chan struct{})
	go func() {
		for m := range metricsCh {
			stats.addConn(m)
		}
		close(doneStats)
	}()

	var clientWG sync.WaitGroup
	jobs := make(chan int, cfg.workers*2)
	var wg sync.WaitGroup
	for i := 0; i < cfg.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				m, cl := dialClient(ctx, cfg, addr, idx)
				metricsCh <- m
				if cl == nil {
					continue
				}
				live.add(cl)
				clientWG.Add(1)
				go func() {
					defer clientWG.Done()
					defer live.dec()
					consumeEvents(cl, stats, &received)
				}()
			}
		}()
	}

	total := scheduleJobs(ctx, cfg, jobs)
	wg.Wait()
	close(metricsCh)
	<-doneStats

	// Send phase.
	conns, nicks := live.snapshot()
	if len(conns) == 0 {
		logger.Printf("no clients connected, skipping send phase")
	} else if ctx.Err() == nil {
		logger.Printf("sending for %s with %d clients", cfg.duration, len(conns))
		sendCtx, sendCancel := context.WithTimeout(ctx, cfg.duration)
		var sendWG sync.WaitGroup
		for i, c := range conns {
			target := ""
			if cfg.mode == modePrivate {
				target = nicks[(i+1)%len(nicks)]
			}
			sendWG.Add(1)
			go func(c *client.Client, target string) {
				defer sendWG.Done()
				runSender(sendCtx, cfg, c, target, stats, &sent)
			}(c, target)
		}
		sendWG.Wait()
		sendCancel()

		if cfg.drain > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(cfg.drain):
			}
		}
	}

	live.closeAll()
	clientWG.Wait()
	cancel()
	samplerDone()

	output := buildOutput(cfg, total, stats, live, sampler,
		atomic.LoadInt64(&sent), atomic.LoadInt64(&received))
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(output); err != nil {
		log.Fatal(err)
	}
}

func validateConfig(cfg loadConfig) error {
	switch cfg.mode {
	case modeChannel, modePrivate:
	default:
		return errors.New("invalid mode: " + cfg.mode)
	}
	if cfg.clients <= 0 {
		return errors.New("clients must be > 0")
	}
	if cfg.mode == modePrivate && cfg.clients < 2 {
		return errors.New("private mode needs at least 2 clients")
	}
	if cfg.ratePerClient <= 0 {
		return errors.New("rate must be > 0")
	}
	if cfg.workers <= 0 {
		return errors.New("workers must be > 0")
	}
	if cfg.messageBytes < 0 || cfg.messageBytes > 3072 {
		return errors.New("message-bytes must be 0..3072")
	}
	return nil
}

// startBroker runs a loopback broker for self-contained soaks. The per-IP
// connection limit is raised to fit the whole ramp from 127.0.0.1.
func startBroker(cfg loadConfig) (string, func(), error) {
	dir, err := os.MkdirTemp("", "justirc-loadgen-*")
	if err != nil {
		return "", nil, err
	}
	bc := broker.DefaultConfig()
	bc.DataDir = dir
	bc.ConnRateMax = cfg.clients*2 + 10
	bc.ConnRateWindow = time.Minute
	if cfg.clients+8 > bc.MaxConnections {
		bc.MaxConnections = cfg.clients + 8
	}
	s, err := broker.New(bc)
	if err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		_ = s.Close()
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	go func() {
		if err := s.Serve(ln); err != nil {
			log.Printf("broker serve error: %v", err)
		}
	}()
	closeFn := func() {
		_ = s.Close()
		_ = os.RemoveAll(dir)
	}
	return ln.Addr().String(), closeFn, nil
}

func scheduleJobs(ctx context.Context, cfg loadConfig, jobs chan<- int) int {
	defer close(jobs)
	idx := 0
	step := cfg.clients
	if cfg.rampStep > 0 {
		step = cfg.rampStep
	}

	var ticker *time.Ticker
	if cfg.connectRate > 0 {
		interval := time.Second / time.Duration(cfg.connectRate)
		if interval <= 0 {
			interval = time.Nanosecond
		}
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for idx < cfg.clients {
		target := idx + step
		if target > cfg.clients {
			target = cfg.clients
		}
		for idx < target {
			if ticker != nil {
				select {
				case <-ctx.Done():
					return idx
				case <-ticker.C:
				}
			} else if ctx.Err() != nil {
				return idx
			}
			select {
			case <-ctx.Done():
				return idx
			case jobs <- idx:
				idx++
			}
		}
		if idx < cfg.clients && cfg.rampInterval > 0 {
			select {
			case <-ctx.Done():
				return idx
			case <-time.After(cfg.rampInterval):
			}
		}
	}
	return idx
}

func dialClient(ctx context.Context, cfg loadConfig, addr string, idx int) (connMetrics, *client.Client) {
	m := connMetrics{}
	connCtx, cancel := context.WithTimeout(ctx, cfg.connTimeout)
	defer cancel()

	nick := fmt.Sprintf("load-%04d", idx)
	start := time.Now()
	c, err := client.Dial(connCtx, addr, nick,
		client.WithEventBuffer(1024),
		client.WithConnectTimeout(cfg.connTimeout))
	m.connect = time.Since(start)
	if err != nil {
		m.errStage = "dial"
		return m, nil
	}

	if cfg.mode == modeChannel {
		joinStart := time.Now()
		_, err := c.Join(connCtx, cfg.channel, client.JoinOptions{CreatorPassword: creatorPassword})
		m.join = time.Since(joinStart)
		if err != nil {
			m.errStage = "join"
			_ = c.Close()
			return m, nil
		}
	}
	return m, c
}

// consumeEvents drains a client's event stream until it closes, recording
// delivery latency for every probe payload that arrives.
func consumeEvents(c *client.Client, stats *statsCollector, received *int64) {
	for ev := range c.Events() {
		msg, ok := ev.(client.MessageEvent)
		if !ok {
			continue
		}
		var p probe
		if json.Unmarshal([]byte(msg.Text), &p) != nil || p.SentNs == 0 {
			continue
		}
		atomic.AddInt64(received, 1)
		stats.addDeliver(time.Since(time.Unix(0, p.SentNs)))
	}
}

func runSender(ctx context.Context, cfg loadConfig, c *client.Client, target string, stats *statsCollector, sent *int64) {
	interval := time.Second / time.Duration(cfg.ratePerClient)
	if interval <= 0 {
		interval = time.Nanosecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	pad := strings.Repeat("x", cfg.messageBytes)
	seq := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		seq++
		b, err := json.Marshal(probe{Seq: seq, SentNs: time.Now().UnixNano(), Pad: pad})
		if err != nil {
			stats.fail("encode")
			continue
		}
		if cfg.mode == modeChannel {
			err = c.SendChannel(cfg.channel, string(b))
		} else {
			sendCtx, cancel := context.WithTimeout(ctx, cfg.connTimeout)
			err = c.SendPrivate(sendCtx, target, string(b))
			cancel()
		}
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, client.ErrClosed) {
				return
			}
			stats.fail("send")
			continue
		}
		atomic.AddInt64(sent, 1)
	}
}

func (s *statsCollector) addConn(m connMetrics) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	if m.errStage == "" {
		s.connected++
		if m.connect > 0 {
			s.connect = append(s.connect, m.connect.Nanoseconds())
		}
		if m.join > 0 {
			s.join = append(s.join, m.join.Nanoseconds())
		}
		return
	}
	s.failed++
	s.failures[m.errStage]++
}

func (s *statsCollector) addDeliver(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliver = append(s.deliver, d.Nanoseconds())
	s.perSecond[time.Now().Unix()]++
}

func (s *statsCollector) fail(stage string) {
	s.mu.Lock()
	s.failures[stage]++
	s.mu.Unlock()
}

func (s *statsCollector) snapshotCounts() (dials, connected, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials, s.connected, s.failed
}

type statsSnapshot struct {
	dials     int
	connected int
	failed    int
	failures  map[string]int
	perSecond map[int64]int
	connect   []int64
	join      []int64
	deliver   []int64
}

func (s *statsCollector) export() statsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := statsSnapshot{
		dials:     s.dials,
		connected: s.connected,
		failed:    s.failed,
		failures:  make(map[string]int, len(s.failures)),
		perSecond: make(map[int64]int, len(s.perSecond)),
		connect:   append([]int64(nil), s.connect...),
		join:      append([]int64(nil), s.join...),
		deliver:   append([]int64(nil), s.deliver...),
	}
	for k, v := range s.failures {
		cp.failures[k] = v
	}
	for k, v := range s.perSecond {
		cp.perSecond[k] = v
	}
	return cp
}

func buildOutput(cfg loadConfig, total int, stats *statsCollector, live *liveClients, sampler *resourceStats, sent, received int64) map[string]any {
	snap := stats.export()
	duration := time.Since(stats.startedAt)

	maxPerSec := 0
	for _, v := range snap.perSecond {
		if v > maxPerSec {
			maxPerSec = v
		}
	}

	// Every channel message fans out to the other members; a private
	// message has exactly one recipient.
	expected := sent
	if cfg.mode == modeChannel && snap.connected > 1 {
		expected = sent * int64(snap.connected-1)
	}
	receiveRatio := 0.0
	if expected > 0 {
		receiveRatio = float64(received) / float64(expected)
	}

	config := map[string]any{
		"addr":               cfg.addr,
		"mode":               cfg.mode,
		"clients":            cfg.clients,
		"rate_per_client":    cfg.ratePerClient,
		"duration_ms":        cfg.duration.Milliseconds(),
		"channel":            cfg.channel,
		"message_bytes":      cfg.messageBytes,
		"connect_rate":       cfg.connectRate,
		"ramp_step":          cfg.rampStep,
		"ramp_interval_ms":   cfg.rampInterval.Milliseconds(),
		"workers":            cfg.workers,
		"conn_timeout_ms":    cfg.connTimeout.Milliseconds(),
		"drain_ms":           cfg.drain.Milliseconds(),
		"report_interval_ms": cfg.reportInterval.Milliseconds(),
	}
	return map[string]any{
		"config": config,
		"summary": map[string]any{
			"dial_attempts":           snap.dials,
			"connected":               snap.connected,
			"dial_failures":           snap.failed,
			"target_clients":          total,
			"active_peak":             atomic.LoadInt64(&live.peak),
			"messages_sent":           sent,
			"messages_received":       received,
			"expected_received":       expected,
			"receive_ratio":           receiveRatio,
			"duration_seconds":        duration.Seconds(),
			"peak_deliveries_per_sec": maxPerSec,
		},
		"failures": snap.failures,
		"latency": map[string]latencyStats{
			"connect": computeLatency(snap.connect),
			"join":    computeLatency(snap.join),
			"deliver": computeLatency(snap.deliver),
		},
		"resources": sampler,
		"env": map[string]any{
			"go_version": runtime.Version(),
			"gomaxprocs": runtime.GOMAXPROCS(0),
		},
	}
}

func computeLatency(samples []int64) latencyStats {
	if len(samples) == 0 {
		return latencyStats{}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	lo := samples[0]
	hi := samples[len(samples)-1]
	var sum int64
	for _, v := range samples {
		sum += v
	}
	mean := float64(sum) / float64(len(samples))
	return latencyStats{
		Count:  len(samples),
		MinMs:  nsToMs(lo),
		MaxMs:  nsToMs(hi),
		MeanMs: mean / 1e6,
		P50Ms:  nsToMs(percentile(samples, 0.50)),
		P95Ms:  nsToMs(percentile(samples, 0.95)),
		P99Ms:  nsToMs(percentile(samples, 0.99)),
	}
}

func percentile(samples []int64, p float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 1 {
		return samples[len(samples)-1]
	}
	rank := int(float64(len(samples)-1) * p)
	return samples[rank]
}

func nsToMs(ns int64) float64 {
	return float64(ns) / 1e6
}

func (l *liveClients) add(c *client.Client) {
	l.mu.Lock()
	l.clients = append(l.clients, c)
	l.nicks = append(l.nicks, c.Nickname())
	l.mu.Unlock()

	v := atomic.AddInt64(&l.active, 1)
	for {
		cur := atomic.LoadInt64(&l.peak)
		if v <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&l.peak, cur, v) {
			return
		}
	}
}

func (l *liveClients) dec() {
	atomic.AddInt64(&l.active, -1)
}

func (l *liveClients) snapshot() ([]*client.Client, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*client.Client(nil), l.clients...),
		append([]string(nil), l.nicks...)
}

func (l *liveClients) closeAll() {
	l.mu.Lock()
	conns := append([]*client.Client(nil), l.clients...)
	l.clients = nil
	l.nicks = nil
	l.mu.Unlock()
	for _, c := range conns {
		_ = c.Close()
	}
}

// startResourceSampler polls runtime memory and goroutine highs until ctx
// ends. The returned func joins the sampler goroutine so the stats are safe
// to read afterwards.
func startResourceSampler(ctx context.Context, interval time.Duration) (*resourceStats, func()) {
	stats := &resourceStats{}
	done := make(chan struct{})
	if interval <= 0 {
		close(done)
		return stats, func() { <-done }
	}
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				stats.MaxHeapAlloc = max(stats.MaxHeapAlloc, ms.HeapAlloc)
				stats.MaxHeapInuse = max(stats.MaxHeapInuse, ms.HeapInuse)
				stats.MaxSysBytes = max(stats.MaxSysBytes, ms.Sys)
				if g := runtime.NumGoroutine(); g > stats.MaxGoroutines {
					stats.MaxGoroutines = g
				}
			}
		}
	}()
	return stats, func() { <-done }
}
