// Package proof verifies embedded proofs over canonical claim bytes. Proof
// types map to schemes through a Registry; unregistered types are
// unverifiable, never an error.
package proof

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/Cooperation-org/claim-lexicon/internal/claims/models"
	"github.com/Cooperation-org/claim-lexicon/internal/claims/resolver"
)

// KeyResolver resolves an identity to its published keys.
type KeyResolver interface {
	Resolve(ctx context.Context, did string) (models.KeySet, error)
}

// BackoffConfig configures retry backoff for retryable resolution errors.
type BackoffConfig struct {
	InitialDelay time.Duration // Initial delay before first retry (default: 250ms)
	MaxDelay     time.Duration // Maximum delay between retries (default: 2s)
	MaxRetries   int           // Maximum number of retries (default: 3)
	Multiplier   float64       // Multiplier for exponential backoff (default: 2.0)
}

// DefaultTimeout bounds one verification, retries included.
const DefaultTimeout = 10 * time.Second

// Registry maps proof type tags to verification schemes.
type Registry struct {
	mu       sync.RWMutex
	schemes  map[string]Scheme
	resolver KeyResolver
	backoff  BackoffConfig
	timeout  time.Duration
	logger   *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithBackoff overrides the resolution retry policy.
func WithBackoff(b BackoffConfig) Option {
	return func(r *Registry) { r.backoff = b }
}

// WithTimeout bounds each verification.
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// NewRegistry creates a registry with the built-in schemes registered.
func NewRegistry(keys KeyResolver, opts ...Option) *Registry {
	r := &Registry{
		schemes:  make(map[string]Scheme),
		resolver: keys,
		timeout:  DefaultTimeout,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.backoff.InitialDelay == 0 {
		r.backoff.InitialDelay = 250 * time.Millisecond
	}
	if r.backoff.MaxDelay == 0 {
		r.backoff.MaxDelay = 2 * time.Second
	}
	if r.backoff.MaxRetries == 0 {
		r.backoff.MaxRetries = 3
	}
	if r.backoff.Multiplier == 0 {
		r.backoff.Multiplier = 2.0
	}

	r.Register(TypeEd25519Signature2020, Ed25519Signature2020{})
	r.Register(TypeEcdsaSecp256r1Signature2019, EcdsaSecp256r1Signature2019{})
	r.Register(TypeEcdsaSecp256k1Signature2019, EcdsaSecp256k1Signature2019{})
	r.Register(TypeJSONWebSignature2020, JSONWebSignature2020{})
	return r
}

// Register binds a proof type to a scheme, replacing any previous binding.
func (r *Registry) Register(proofType string, s Scheme) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemes[proofType] = s
}

// Lookup returns the scheme registered for proofType.
func (r *Registry) Lookup(proofType string) (Scheme, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.schemes[proofType]
	return s, ok
}

// Verify checks p against canonical. It never fails: every outcome is a
// verdict. Unknown proof types and unresolvable identities are unverifiable;
// cryptographic failures are invalid.
func (r *Registry) Verify(ctx context.Context, canonical []byte, p *models.Proof) models.VerificationResult {
	if p == nil {
		return models.VerificationResult{Verdict: models.VerdictNone, Reason: models.ReasonNoProof}
	}
	scheme, ok := r.Lookup(p.Type)
	if !ok {
		return unverifiable(models.ReasonUnknownProofType, "proof type "+p.Type)
	}
	did, err := models.ControllerDID(p.VerificationMethod)
	if err != nil {
		return unverifiable(models.ReasonUnresolvedIdentity, err.Error())
	}

	kinds := scheme.KeyKinds()
	if pk, ok := scheme.(ProofKeyKinds); ok {
		kinds, err = pk.KeyKindsFor(p)
		if err != nil {
			return models.VerificationResult{Verdict: models.VerdictInvalid, Reason: models.ReasonMalformedProof, Detail: err.Error()}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	ks, err := r.resolve(ctx, did)
	if err != nil {
		if resolver.CategoryOf(err) == resolver.CategoryTimeout {
			return unverifiable(models.ReasonResolutionTimeout, err.Error())
		}
		return unverifiable(models.ReasonUnresolvedIdentity, err.Error())
	}

	key, ok := selectKey(ks, p.VerificationMethod, kinds)
	if !ok {
		return unverifiable(models.ReasonKeyNotFound, "no "+p.Type+" key for "+p.VerificationMethod)
	}

	if err := scheme.Verify(canonical, p, key); err != nil {
		reason := models.ReasonSignatureMismatch
		if errors.Is(err, ErrMalformedProof) {
			reason = models.ReasonMalformedProof
		}
		return models.VerificationResult{Verdict: models.VerdictInvalid, Reason: reason, Detail: err.Error(), KeyID: key.ID}
	}
	return models.VerificationResult{Verdict: models.VerdictValid, Reason: models.ReasonOK, KeyID: key.ID}
}

// resolve retries retryable resolution errors with exponential backoff.
func (r *Registry) resolve(ctx context.Context, did string) (models.KeySet, error) {
	delay := r.backoff.InitialDelay
	var lastErr error
	for attempt := 0; attempt <= r.backoff.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return models.KeySet{}, resolver.NewResolveError(resolver.CategoryTimeout, did, "verification deadline", errors.Join(ctx.Err(), lastErr))
			case <-time.After(delay):
			}
			delay = time.Duration(float64(delay) * r.backoff.Multiplier)
			if delay > r.backoff.MaxDelay {
				delay = r.backoff.MaxDelay
			}
		}

		ks, err := r.resolver.Resolve(ctx, did)
		if err == nil {
			return ks, nil
		}
		lastErr = err
		if !resolver.IsRetryable(err) {
			return models.KeySet{}, err
		}
		r.logger.DebugContext(ctx, "identity resolution retry", "did", did, "attempt", attempt+1, "error", err)
	}
	return models.KeySet{}, lastErr
}

func selectKey(ks models.KeySet, verificationMethod string, kinds []models.KeyKind) (models.KeyMaterial, bool) {
	for _, kind := range kinds {
		if k, ok := ks.Find(verificationMethod, kind); ok {
			return k, true
		}
	}
	return models.KeyMaterial{}, false
}

func unverifiable(reason models.VerificationReason, detail string) models.VerificationResult {
	return models.VerificationResult{Verdict: models.VerdictUnverifiable, Reason: reason, Detail: detail}
}
