// Package handler implements the per-request state machine: validate the
// inbound message, select upstreams via the rule engine, fan the query out
// to each concurrently, race the results against the response rules, and
// assemble exactly one reply.
package handler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/AdguardTeam/golibs/log"
	"github.com/AdguardTeam/golibs/syncutil"
	"github.com/miekg/dns"
	"golang.org/x/sync/errgroup"

	"github.com/zh-yjie/ya-dns/internal/appconfig"
	"github.com/zh-yjie/ya-dns/internal/resolver"
	"github.com/zh-yjie/ya-dns/internal/rules"
	"github.com/zh-yjie/ya-dns/internal/statsapi"
	"github.com/zh-yjie/ya-dns/utils"
)

// maxLoggedErrLen bounds how much of a chained upstream error gets written
// to the debug log line per request; fan-out errors can embed a full dial
// chain and there is no need to keep more than this for triage.
const maxLoggedErrLen = 256

// errWinnerFound is returned by a fan-out task to make errgroup cancel the
// other in-flight tasks' context once a response rule accepts an answer.
var errWinnerFound = errors.New("handler: winning upstream found")

// lookupDeadline is the per-lookup wall-clock budget a fanned-out task gets
// before it is considered timed out, independent of any deadline on the
// inbound request's own context.
const lookupDeadline = 5 * time.Second

// Handler owns the immutable AppConfig and the eagerly constructed
// resolver for each configured upstream. Its only other mutable state is
// requestsSema, which merely bounds how many inbound requests are served
// concurrently, and the lock-protected stats counters; a Handler is safe
// for concurrent use by any number of server goroutines.
type Handler struct {
	cfg       *appconfig.AppConfig
	resolvers map[string]*resolver.Resolver
	stats     *statsapi.Counters

	requestsSema syncutil.Semaphore
}

// New builds a Handler. maxConcurrentRequests bounds how many Handle calls
// run at once; zero means unbounded. stats may be nil, in which case
// dispatch counters are simply not collected.
func New(
	cfg *appconfig.AppConfig,
	resolvers map[string]*resolver.Resolver,
	maxConcurrentRequests int,
	stats *statsapi.Counters,
) *Handler {
	var sema syncutil.Semaphore
	if maxConcurrentRequests > 0 {
		sema = syncutil.NewChanSemaphore(maxConcurrentRequests)
	} else {
		sema = syncutil.EmptySemaphore{}
	}

	return &Handler{cfg: cfg, resolvers: resolvers, stats: stats, requestsSema: sema}
}

// Handle runs the full request state machine for req and returns exactly
// one response message, recursion-available set where applicable.
func (h *Handler) Handle(ctx context.Context, req *dns.Msg) (resp *dns.Msg) {
	if err := h.requestsSema.Acquire(ctx); err != nil {
		return refused(req)
	}
	defer h.requestsSema.Release()

	defer func() {
		if r := recover(); r != nil {
			log.Error("handler: recovered panic handling request: %v", r)
			resp = servfail(req)
		}
	}()

	if req.Opcode != dns.OpcodeQuery || req.Response {
		return refused(req)
	}
	if len(req.Question) == 0 {
		return formErr(req)
	}
	h.stats.IncrementQuery()

	q := req.Question[0]
	domain := q.Name
	qtype := q.Qtype

	names := rules.SelectUpstreams(h.cfg, domain, qtype)
	selected := h.resolveNames(names)
	if len(selected) == 0 {
		return nxdomain(req, nil)
	}

	winner, winnerName, fallbackSOA, fallbackRcode := h.race(ctx, selected, domain, qtype)
	if winner != nil {
		h.stats.IncrementWin(winnerName)
		return assembleAnswer(req, winner, winnerName)
	}
	if fallbackSOA != nil {
		return nxdomainWithSOA(req, fallbackSOA, fallbackRcode)
	}
	return nxdomain(req, nil)
}

// resolveNames maps upstream names to their constructed Resolver, silently
// dropping any name absent from the Handler's resolver map.
func (h *Handler) resolveNames(names []string) map[string]*resolver.Resolver {
	out := make(map[string]*resolver.Resolver, len(names))
	for _, n := range names {
		if r, ok := h.resolvers[n]; ok {
			out[n] = r
		}
	}
	return out
}

// race fans the query out to every selected resolver concurrently via an
// errgroup, evaluating each answer against the response rules as it lands.
// The first task whose answer is Accept-ed returns errWinnerFound, which
// makes the group's derived context cancel every still-running sibling
// task; race itself never waits past that point beyond g.Wait() returning.
func (h *Handler) race(
	ctx context.Context,
	selected map[string]*resolver.Resolver,
	domain string,
	qtype uint16,
) (winner *resolver.Lookup, winnerName string, fallbackSOA dns.RR, fallbackRcode int) {
	g, gctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	var lastErr error

	for name, res := range selected {
		name, res := name, res
		g.Go(func() error {
			taskCtx, cancel := context.WithTimeout(gctx, lookupDeadline)
			defer cancel()

			l, err := res.Resolve(taskCtx, domain, qtype)
			if err != nil {
				var resolveErr *resolver.ResolveError
				mu.Lock()
				if errors.As(err, &resolveErr) && resolveErr.SOA != nil {
					fallbackSOA, fallbackRcode = resolveErr.SOA, resolveErr.Rcode
				} else {
					lastErr = err
				}
				mu.Unlock()
				return nil
			}

			addr, hasAddr := l.FirstAddr()
			action := rules.AcceptResponse(h.cfg, domain, name, len(l.Records()) > 0, addr, hasAddr)
			if action != rules.Accept {
				h.stats.IncrementDrop()
				return nil
			}

			mu.Lock()
			if winner == nil {
				winner, winnerName = l, name
			}
			mu.Unlock()
			return errWinnerFound
		})
	}

	_ = g.Wait()

	if lastErr != nil && winner == nil {
		log.Debug("handler: all fanned-out upstreams failed, last error: %s", utils.ShortText(lastErr.Error(), maxLoggedErrLen))
	}

	return winner, winnerName, fallbackSOA, fallbackRcode
}
