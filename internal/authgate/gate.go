// Package authgate authenticates inbound agent and phone requests: signed
// header verification, timestamp freshness, and replay rejection through
// the nonce store. It is indifferent to the wrapped handler and exposes
// only two rejection kinds externally.
package authgate

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/dennisMeeQ/clavum/internal/crypto"
	"github.com/dennisMeeQ/clavum/internal/fault"
	"github.com/dennisMeeQ/clavum/internal/model"
	"github.com/dennisMeeQ/clavum/internal/signing"
	"github.com/dennisMeeQ/clavum/internal/storage"
)

const (
	HeaderAgentID   = "X-Agent-Id"
	HeaderPhoneID   = "X-Phone-Id"
	HeaderTimestamp = "X-Timestamp"
	HeaderSignature = "X-Signature"
)

// nonceGCInterval is how many inserts pass between lazy reclaims of
// expired nonce rows.
const nonceGCInterval = 50

type ctxKey int

const (
	agentKey ctxKey = iota + 1
	phoneKey
)

func WithAgent(ctx context.Context, a *model.Agent) context.Context {
	return context.WithValue(ctx, agentKey, a)
}

func AgentFrom(ctx context.Context) (*model.Agent, bool) {
	a, ok := ctx.Value(agentKey).(*model.Agent)
	return a, ok
}

func WithPhone(ctx context.Context, p *model.Phone) context.Context {
	return context.WithValue(ctx, phoneKey, p)
}

func PhoneFrom(ctx context.Context) (*model.Phone, bool) {
	p, ok := ctx.Value(phoneKey).(*model.Phone)
	return p, ok
}

type Gate struct {
	identities storage.IdentityStore
	nonces     storage.NonceStore
	now        func() time.Time
	maxAge     time.Duration
	logger     *log.Logger
	inserts    atomic.Uint64
}

func New(identities storage.IdentityStore, nonces storage.NonceStore, now func() time.Time, logger *log.Logger) *Gate {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Gate{
		identities: identities,
		nonces:     nonces,
		now:        now,
		maxAge:     signing.MaxSignatureAge,
		logger:     logger,
	}
}

// RequireAgent authenticates the request as an agent and binds the agent
// to the context for downstream consumers.
func (g *Gate) RequireAgent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderAgentID)
		pass := func() (context.Context, []byte, bool) {
			agent, err := g.identities.GetAgent(r.Context(), id)
			if err != nil {
				return nil, nil, false
			}
			return WithAgent(r.Context(), agent), agent.PubEd25519, true
		}
		g.serve(w, r, id, pass, next)
	})
}

// RequirePhone is the phone-keyed twin of RequireAgent.
func (g *Gate) RequirePhone(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderPhoneID)
		pass := func() (context.Context, []byte, bool) {
			phone, err := g.identities.GetPhone(r.Context(), id)
			if err != nil {
				return nil, nil, false
			}
			return WithPhone(r.Context(), phone), phone.PubEd25519, true
		}
		g.serve(w, r, id, pass, next)
	})
}

// serve runs the shared pipeline: headers, body, identity lookup,
// signature verify, replay check, handler. An unknown identity rejects
// exactly like a bad signature so identities cannot be enumerated.
func (g *Gate) serve(w http.ResponseWriter, r *http.Request, identity string, lookup func() (context.Context, []byte, bool), next http.Handler) {
	ts := r.Header.Get(HeaderTimestamp)
	sigB64 := r.Header.Get(HeaderSignature)
	if identity == "" || ts == "" || sigB64 == "" {
		g.reject(w, fault.New(fault.KindUnauthenticated, "missing auth headers"))
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		g.reject(w, fault.New(fault.KindUnauthenticated, "unreadable body"))
		return
	}
	r.Body = io.NopCloser(bytes.NewReader(body))

	ctx, pub, ok := lookup()
	if !ok {
		g.reject(w, fault.New(fault.KindUnauthenticated, "authentication failed"))
		return
	}

	sig, err := crypto.FromB64URL(sigB64)
	if err != nil {
		g.reject(w, fault.New(fault.KindUnauthenticated, "authentication failed"))
		return
	}
	if !signing.VerifyRequest(pub, ts, r.Method, r.URL.Path, body, sig, g.now(), g.maxAge) {
		g.reject(w, fault.New(fault.KindUnauthenticated, "authentication failed"))
		return
	}

	digest := hex.EncodeToString(crypto.SHA256(sig))
	err = g.nonces.InsertNonce(r.Context(), digest, g.now().Add(2*g.maxAge))
	if err == storage.ErrDuplicate {
		// A concurrent insert losing the unique-constraint race lands here
		// too; both are replay detections.
		g.reject(w, fault.New(fault.KindReplayed, "signature already observed"))
		return
	}
	if err != nil {
		g.logger.Printf("nonce insert: %v", err)
		g.reject(w, fault.New(fault.KindInternal, "internal error"))
		return
	}
	g.maybeCollect()

	next.ServeHTTP(w, r.WithContext(ctx))
}

// maybeCollect reclaims expired nonce rows every Nth insert, off the
// request goroutine so the inserting request never blocks on it.
func (g *Gate) maybeCollect() {
	if g.inserts.Add(1)%nonceGCInterval != 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if n, err := g.nonces.DeleteExpiredNonces(ctx, g.now()); err != nil {
			g.logger.Printf("nonce gc: %v", err)
		} else if n > 0 {
			g.logger.Printf("nonce gc reclaimed %d", n)
		}
	}()
}

func (g *Gate) reject(w http.ResponseWriter, err error) {
	kind := fault.KindOf(err)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(kind.HTTPStatus())
	_ = json.NewEncoder(w).Encode(map[string]string{"error": kind.String()})
}
