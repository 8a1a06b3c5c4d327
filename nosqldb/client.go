package nosqldb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kvstore-labs/nosql-go-sdk/internal/codec"
	"github.com/kvstore-labs/nosql-go-sdk/internal/httputil"
	"github.com/kvstore-labs/nosql-go-sdk/internal/limitermap"
	"github.com/kvstore-labs/nosql-go-sdk/internal/ratelimiter"
	"github.com/kvstore-labs/nosql-go-sdk/nosqlauth"
	"github.com/kvstore-labs/nosql-go-sdk/nosqlerr"
)

// dataPath is the HTTP path every request is POSTed to.
const dataPath = "/V2/nosql/data"

// readKBLimit is the protocol ceiling used to clamp a query's maxReadKB
// when the caller leaves it at 0 (spec §4.1 step 5).
const readKBLimit = 2048

// Client is the Execution Engine: it runs a Request through the
// retry-and-rate-limited loop described in spec §4.1 and returns its
// Result. A single Client is shared by every caller; requests proceed in
// parallel, mediated by the shared HttpClient and the per-table limiters.
type Client struct {
	cfg       *Config
	http      httputil.HttpClient
	limiters  *limitermap.Map
	logger    zerolog.Logger
	userAgent string

	requestID atomic.Uint64
	shutdown  atomic.Bool
}

// NewClient wires a Client from cfg and a transport. The limiter map's
// background refresh calls back into this same Client's executeInternal,
// which is safe because no engine-wide lock is ever held across a loop
// iteration (see design note on reentrant execute).
func NewClient(cfg *Config, transport httputil.HttpClient) *Client {
	c := &Client{
		cfg:       cfg,
		http:      transport,
		logger:    cfg.Logger,
		userAgent: buildUserAgent(),
	}
	c.limiters = limitermap.New(c.refreshTableLimits, cfg.RLDurationSeconds, cfg.Logger)
	return c
}

// Shutdown tears down the HTTP client, auth provider, and background
// worker. It is idempotent. In-flight Execute calls observe transport
// errors and terminate through the normal retry/timeout path.
func (c *Client) Shutdown() {
	if !c.shutdown.CompareAndSwap(false, true) {
		return
	}
	c.limiters.Shutdown()
	c.http.Shutdown()
	_ = c.cfg.AuthProvider.Close()
}

func (c *Client) nextRequestID() uint64 { return c.requestID.Add(1) }

func nowMs() int64 { return time.Now().UnixMilli() }

// refreshTableLimits is the limitermap.RefreshFunc: a 1-second-budget
// GetTableRequest issued on the engine's own background worker.
func (c *Client) refreshTableLimits(ctx context.Context, table string) (int, int, int, error) {
	req := NewGetTableRequest(table)
	req.TimeoutMillis = 1000

	result, err := c.executeInternal(ctx, req)
	if err != nil {
		return 0, 0, 0, err
	}
	tr, ok := result.(*TableResult)
	if !ok || tr.Limits == nil {
		return 0, 0, 0, fmt.Errorf("nosqldb: GetTableRequest for %q returned no limits", table)
	}
	return tr.Limits.ReadUnitsPerSecond, tr.Limits.WriteUnitsPerSecond, tr.Limits.DurationSeconds, nil
}

// GetTable is a typed convenience wrapper over Execute for GetTableRequest.
func (c *Client) GetTable(ctx context.Context, req *GetTableRequest) (*TableResult, error) {
	res, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.(*TableResult), nil
}

// Query is a typed convenience wrapper over Execute for QueryRequest.
func (c *Client) Query(ctx context.Context, req *QueryRequest) (*QueryResult, error) {
	res, err := c.Execute(ctx, req)
	if err != nil {
		return nil, err
	}
	return res.(*QueryResult), nil
}

// Execute runs req through the pre-dispatch sequence and, unless the query
// pre-dispatch state machine already produced an answer, the
// retry-and-rate-limited main loop. See spec §4.1.
func (c *Client) Execute(ctx context.Context, req Request) (any, error) {
	req.SetDefaults(c.cfg)
	if err := req.Validate(); err != nil {
		return nil, err
	}

	if qr, ok := req.(*QueryRequest); ok {
		if result, handled := c.queryPreDispatch(qr); handled {
			return result, nil
		}
	}

	return c.executeInternal(ctx, req)
}

// queryPreDispatch implements spec §4.1 step 2: the advanced-query state
// machine that may answer without any network I/O.
func (c *Client) queryPreDispatch(qr *QueryRequest) (*QueryResult, bool) {
	if qr.HasDriver() {
		return emptyQueryResult(qr.Driver()), true
	}
	if qr.IsPrepared && !qr.IsSimpleQuery {
		driver := &QueryDriver{client: c}
		qr.bindDriver(driver)
		return emptyQueryResult(driver), true
	}
	return nil, false
}

// executeInternal runs the pre-dispatch bookkeeping (steps 3-5) and the
// main loop (steps 1-11). It is what the limiter map's background refresh
// re-enters through, so it must not acquire any Client-wide lock.
func (c *Client) executeInternal(ctx context.Context, req Request) (any, error) {
	req.ClearRetryStats()
	req.SetStartTimeMs(nowMs())

	readLimiter, writeLimiter := c.resolveLimiters(req)

	if qr, ok := req.(*QueryRequest); ok && readLimiter != nil && qr.MaxReadKB == 0 {
		percent := qr.RateLimitPercent()
		if percent == 0 {
			percent = int(c.cfg.DefaultRateLimiterPercent)
		}
		qr.MaxReadKB = clampMaxReadKB(percent, readLimiter.GetLimitPerSecond())
	}

	return c.loop(ctx, req, readLimiter, writeLimiter)
}

// clampMaxReadKB implements spec §4.1 step 5: prevent one query from
// draining the whole bucket in a single round trip, while never clamping
// below a usable floor.
func clampMaxReadKB(percent int, limitPerSecond float64) int {
	clamp := int(float64(percent) * limitPerSecond / 100.0)
	if clamp < 10 {
		clamp = 10
	}
	if clamp > readKBLimit {
		clamp = readKBLimit
	}
	return clamp
}

func (c *Client) resolveLimiters(req Request) (ratelimiter.RateLimiter, ratelimiter.RateLimiter) {
	read := req.ReadLimiter()
	write := req.WriteLimiter()
	table := req.TableName()

	if read == nil && table != "" {
		read = c.limiters.GetReadLimiter(table)
	}
	if write == nil && table != "" {
		write = c.limiters.GetWriteLimiter(table)
	}
	if read == nil && write == nil && table != "" && c.cfg.RateLimitingEnabled && (req.DoesReads() || req.DoesWrites()) {
		c.limiters.BackgroundUpdateLimiters(table)
	}
	return read, write
}

// loopAction is what classify (see below) tells the main loop to do with
// the exception it just observed.
type loopAction int

const (
	actionContinue loopAction = iota
	actionBreak
	actionThrow
)

// loop is the retry-and-rate-limited request loop (spec §4.1 main loop).
func (c *Client) loop(ctx context.Context, req Request, readLimiter, writeLimiter ratelimiter.RateLimiter) (any, error) {
	startMs := req.StartTimeMs()
	timeoutMs := req.TimeoutMs()

	checkRead := req.DoesReads()
	checkWrite := req.DoesWrites()

	var lastErr error
	var rateDelayed time.Duration
	var securityRetries int
	var numRetries int

	for {
		iterTimeout := remaining(startMs, timeoutMs)
		if iterTimeout <= 0 {
			break
		}

		if readLimiter != nil && checkRead {
			waited, err := readLimiter.ConsumeUnits(ctx, 0, iterTimeout, false)
			rateDelayed += waited
			if err != nil {
				lastErr = fmt.Errorf("nosqldb: timed out waiting for read capacity: %w", err)
				break
			}
		}
		if writeLimiter != nil && checkWrite {
			waited, err := writeLimiter.ConsumeUnits(ctx, 0, iterTimeout, false)
			rateDelayed += waited
			if err != nil {
				lastErr = fmt.Errorf("nosqldb: timed out waiting for write capacity: %w", err)
				break
			}
		}

		iterTimeout = remaining(startMs, timeoutMs)
		if iterTimeout <= 0 {
			break
		}

		result, err := c.attemptOnce(ctx, req, iterTimeout)
		if err == nil {
			if tr, ok := result.(*TableResult); ok && tr.Limits != nil {
				c.limiters.Update(tr.TableName, tr.Limits.ReadUnitsPerSecond, tr.Limits.WriteUnitsPerSecond, tr.Limits.DurationSeconds)
			}

			readUsed, writeUsed := extractUnitsUsed(result)
			if readLimiter != nil {
				waited, _ := readLimiter.ConsumeUnits(ctx, readUsed, iterTimeout, true)
				rateDelayed += waited
			}
			if writeLimiter != nil {
				waited, _ := writeLimiter.ConsumeUnits(ctx, writeUsed, iterTimeout, true)
				rateDelayed += waited
			}

			setResultMetadata(result, req, rateDelayed)
			return result, nil
		}

		lastErr = err
		action, delay := c.classify(ctx, req, numRetries, &securityRetries, &checkRead, &checkWrite, readLimiter, writeLimiter, err)

		switch action {
		case actionThrow:
			return nil, err
		case actionBreak:
			goto timedOut
		case actionContinue:
			numRetries++
			if delay > 0 {
				t := time.NewTimer(delay)
				select {
				case <-t.C:
				case <-ctx.Done():
					t.Stop()
					lastErr = ctx.Err()
					goto timedOut
				}
				t.Stop()
			}
		}
	}

timedOut:
	return nil, nosqlerr.NewRequestTimeoutException(timeoutMs, numRetries, lastErr)
}

func remaining(startMs int64, timeoutMs int) time.Duration {
	elapsed := nowMs() - startMs
	return time.Duration(int64(timeoutMs)-elapsed) * time.Millisecond
}

// classify implements the exception state machine of spec §4.6. When it
// returns actionContinue, delay is time the loop still needs to wait before
// the next attempt; classify itself performs any wait that depends on the
// configured retry.Handler, since Handler.Delay already blocks internally
// and a second sleep on top of it would double-count the backoff. A
// throttling exception forces its corresponding checkRead/checkWrite flag on
// so later iterations start pre-consuming that direction's units even if req
// does not normally touch it.
func (c *Client) classify(ctx context.Context, req Request, numRetries int, securityRetries *int, checkRead, checkWrite *bool, readLimiter, writeLimiter ratelimiter.RateLimiter, err error) (loopAction, time.Duration) {
	var authErr *nosqlerr.AuthenticationException
	if errors.As(err, &authErr) {
		if c.cfg.CloudAuth {
			return actionThrow, 0
		}
		onprem, ok := c.cfg.AuthProvider.(nosqlauth.OnPremProvider)
		if !ok {
			return actionThrow, 0
		}
		if bootErr := onprem.BootstrapLogin(ctx); bootErr != nil {
			return actionThrow, 0
		}
		req.RetryStats().RecordRetry("AuthenticationException", 0)
		return actionContinue, 0
	}

	var secErr *nosqlerr.SecurityInfoNotReadyException
	if errors.As(err, &secErr) {
		if *securityRetries < 10 {
			*securityRetries++
			req.RetryStats().RecordRetry("SecurityInfoNotReadyException", 100)
			return actionContinue, 100 * time.Millisecond
		}
		if c.cfg.RetryHandler == nil || !c.cfg.RetryHandler.DoRetry(ctx, numRetries, err) {
			return actionThrow, 0
		}
		req.RetryStats().RecordRetry("SecurityInfoNotReadyException", 0)
		if derr := c.cfg.RetryHandler.Delay(ctx, numRetries, err); derr != nil {
			return actionBreak, 0
		}
		return actionContinue, 0
	}

	var writeThrottle *nosqlerr.WriteThrottlingException
	if errors.As(err, &writeThrottle) {
		*checkWrite = true
		if writeLimiter != nil {
			writeLimiter.SetCurrentRate(max64(writeLimiter.GetCurrentRate(), 100.0))
		}
		if readLimiter != nil {
			readLimiter.SetCurrentRate(max64(readLimiter.GetCurrentRate(), 100.0))
		}
		if c.cfg.RetryHandler == nil || !c.cfg.RetryHandler.DoRetry(ctx, numRetries, err) {
			return actionThrow, 0
		}
		req.RetryStats().RecordRetry("WriteThrottlingException", 0)
		if derr := c.cfg.RetryHandler.Delay(ctx, numRetries, err); derr != nil {
			return actionBreak, 0
		}
		return actionContinue, 0
	}

	var readThrottle *nosqlerr.ReadThrottlingException
	if errors.As(err, &readThrottle) {
		*checkRead = true
		if readLimiter != nil {
			readLimiter.SetCurrentRate(max64(readLimiter.GetCurrentRate(), 100.0))
		}
		if c.cfg.RetryHandler == nil || !c.cfg.RetryHandler.DoRetry(ctx, numRetries, err) {
			return actionThrow, 0
		}
		req.RetryStats().RecordRetry("ReadThrottlingException", 0)
		if derr := c.cfg.RetryHandler.Delay(ctx, numRetries, err); derr != nil {
			return actionBreak, 0
		}
		return actionContinue, 0
	}

	var retryable *nosqlerr.RetryableException
	if errors.As(err, &retryable) {
		if c.cfg.RetryHandler == nil || !c.cfg.RetryHandler.DoRetry(ctx, numRetries, err) {
			return actionThrow, 0
		}
		req.RetryStats().RecordRetry("RetryableException", 0)
		if derr := c.cfg.RetryHandler.Delay(ctx, numRetries, err); derr != nil {
			return actionBreak, 0
		}
		return actionContinue, 0
	}

	var sizeErr *nosqlerr.RequestSizeLimitException
	if errors.As(err, &sizeErr) {
		return actionThrow, 0
	}
	var notFoundErr *nosqlerr.TableNotFoundException
	if errors.As(err, &notFoundErr) {
		return actionThrow, 0
	}
	var argErr *nosqlerr.IllegalArgumentException
	if errors.As(err, &argErr) {
		return actionThrow, 0
	}
	var nosqlExc *nosqlerr.NoSQLException
	if errors.As(err, &nosqlExc) {
		return actionThrow, 0
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return actionBreak, 0
	}
	if errors.Is(err, context.Canceled) {
		return actionThrow, 0
	}

	// Anything else is a transport-level IOException: the channel may be
	// stale, but the response handler already returned it to the pool.
	if c.cfg.RetryHandler != nil && !c.cfg.RetryHandler.DoRetry(ctx, numRetries, err) {
		return actionThrow, 0
	}
	req.RetryStats().RecordRetry("IOException", 10)
	return actionContinue, 10 * time.Millisecond
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func extractUnitsUsed(result any) (int, int) {
	switch r := result.(type) {
	case *TableResult:
		return r.ReadUnitsUsed, r.WriteUnitsUsed
	case *QueryResult:
		return r.ReadUnitsUsed, r.WriteUnitsUsed
	default:
		return 0, 0
	}
}

func setResultMetadata(result any, req Request, rateDelayed time.Duration) {
	stats := req.RetryStats().Snapshot()
	switch r := result.(type) {
	case *TableResult:
		r.RateLimitDelayedMs = rateDelayed.Milliseconds()
		r.RetryStats = stats
	case *QueryResult:
		r.RateLimitDelayedMs = rateDelayed.Milliseconds()
		r.RetryStats = stats
	}
}

// attemptOnce performs one send/await/decode attempt (spec §4.1 steps 5-10),
// mapping the decoded payload into the concrete Result type for req's
// operation kind.
func (c *Client) attemptOnce(ctx context.Context, req Request, iterTimeout time.Duration) (any, error) {
	info := nosqlauth.RequestInfo{TableName: req.TableName(), Compartment: req.Compartment()}
	authString, err := c.cfg.AuthProvider.GetAuthorizationString(ctx, info)
	if err != nil {
		return nil, nosqlerr.NewAuthenticationException(err.Error())
	}
	if err := c.cfg.AuthProvider.ValidateAuthString(authString); err != nil {
		return nil, nosqlerr.NewAuthenticationException(err.Error())
	}

	channel, err := c.http.GetChannel(ctx, iterTimeout)
	if err != nil {
		return nil, err
	}
	defer channel.Release()

	buf := acquireBuffer()
	defer buf.release()

	w := codec.NewWriter()
	if err := req.Serializer().Serialize(w); err != nil {
		return nil, fmt.Errorf("nosqldb: serializing request: %w", err)
	}

	limit := c.cfg.MaxContentLength
	if c.cfg.CloudAuth {
		limit = c.http.GetMaxContentLength()
	}
	if limit > 0 && w.Len() > limit {
		return nil, nosqlerr.NewRequestSizeLimitException(w.Len(), limit)
	}

	buf.buf.Write(w.Bytes())

	sendCtx, cancel := context.WithTimeout(ctx, iterTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(sendCtx, http.MethodPost, c.cfg.ServiceURL+dataPath, bytes.NewReader(buf.buf.Bytes()))
	if err != nil {
		return nil, fmt.Errorf("nosqldb: building HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/octet-stream")
	httpReq.Header.Set("Accept", "application/octet-stream")
	httpReq.Header.Set("Connection", "keep-alive")
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("x-nosql-request-id", strconv.FormatUint(c.nextRequestID(), 10))
	httpReq.Header.Set("Content-Length", strconv.Itoa(buf.buf.Len()))
	httpReq.Header.Set("X-Correlation-ID", uuid.New().String())
	if u := httpReq.URL; u != nil && u.Host != "" {
		httpReq.Header.Set("Host", u.Host)
	}
	if err := c.cfg.AuthProvider.SetRequiredHeaders(authString, info, httpReq.Header); err != nil {
		return nil, nosqlerr.NewAuthenticationException(err.Error())
	}

	resp, err := c.http.RunRequest(sendCtx, httpReq, channel)
	if err != nil {
		return nil, err
	}
	defer httputil.DrainAndClose(resp)

	return c.decodeResponse(req, resp)
}

func (c *Client) decodeResponse(req Request, resp *http.Response) (any, error) {
	payload, err := codec.Dispatch(resp.StatusCode, resp.Status, resp.Body, req.Deserializer())
	if err != nil {
		return nil, err
	}

	switch r := req.(type) {
	case *GetTableRequest:
		return &TableResult{
			Result:    Result{ReadUnitsUsed: payload.ReadUnits, WriteUnitsUsed: payload.WriteUnits},
			TableName: r.TableName(),
			Limits:    tableLimitsFromWire(payload.TableLimits),
		}, nil

	case *QueryRequest:
		qr := &QueryResult{Result: Result{ReadUnitsUsed: payload.ReadUnits, WriteUnitsUsed: payload.WriteUnits}}
		if payload.Query != nil {
			qr.Rows = payload.Query.Rows
			qr.ContinuationKey = payload.Query.ContinuationKey
			if payload.Query.NeedsDriver {
				driver := &QueryDriver{
					client:          c,
					topologyInfo:    payload.Query.TopologyInfo,
					continuationKey: payload.Query.ContinuationKey,
				}
				r.bindDriver(driver)
				qr.Driver = driver
			} else if r.Driver() != nil {
				r.Driver().continuationKey = payload.Query.ContinuationKey
				qr.Driver = r.Driver()
			}
		}
		return qr, nil

	default:
		return nil, fmt.Errorf("nosqldb: no result mapping for request type %T", req)
	}
}
