package services

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	netmail "net/mail"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/exoxegroup/eng-ai/internal/domain"
	"github.com/exoxegroup/eng-ai/internal/repo"
)

const (
	// DefaultCodeTTL is how long an issued code stays valid.
	DefaultCodeTTL = 10 * time.Minute
	// DefaultSweepInterval is how often Run removes expired codes.
	DefaultSweepInterval = 5 * time.Minute

	codeDigits = 6
)

// Channel delivers a code to its target.
type Channel interface {
	Send(ctx context.Context, target, code string, ttl time.Duration) error
}

// CodeStatus reports whether a target holds a live code.
type CodeStatus struct {
	Live      bool
	Remaining time.Duration
}

// VerificationGate issues and checks single-use verification codes. Work on
// one target is serialized; different targets proceed independently.
type VerificationGate struct {
	DB *gorm.DB
	// Channel is nil when no outbound delivery is configured.
	Channel Channel

	TTL           time.Duration
	SweepInterval time.Duration
	// BcryptCost is the hashing cost for stored codes.
	BcryptCost int

	Now  func() time.Time
	Rand io.Reader

	initOnce sync.Once
	locks    *keyLocks
}

// NewVerificationGate returns a gate with the default TTL and sweep interval.
func NewVerificationGate(db *gorm.DB, ch Channel) *VerificationGate {
	return &VerificationGate{
		DB:            db,
		Channel:       ch,
		TTL:           DefaultCodeTTL,
		SweepInterval: DefaultSweepInterval,
		BcryptCost:    bcrypt.DefaultCost,
	}
}

func (g *VerificationGate) lock(ctx context.Context, target string) (func(), error) {
	g.initOnce.Do(func() { g.locks = newKeyLocks() })
	return g.locks.Lock(ctx, target)
}

func (g *VerificationGate) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *VerificationGate) ttl() time.Duration {
	if g.TTL <= 0 {
		return DefaultCodeTTL
	}
	return g.TTL
}

// NormalizeTarget trims and lower-cases an email target and checks its shape.
func NormalizeTarget(target string) (string, error) {
	t := strings.ToLower(strings.TrimSpace(target))
	if t == "" || !strings.Contains(t, "@") {
		return "", ErrInvalidTarget
	}
	addr, err := netmail.ParseAddress(t)
	if err != nil || addr.Address != t {
		return "", ErrInvalidTarget
	}
	return t, nil
}

// Issue stores a fresh code for target, replacing any earlier one, and
// delivers it. When delivery fails the stored code is removed again. The
// code itself is never returned; callers get its lifetime.
func (g *VerificationGate) Issue(ctx context.Context, target string) (time.Duration, error) {
	ctx, span := otel.Tracer("services/VerificationGate").Start(ctx, "Issue")
	defer span.End()

	t, err := NormalizeTarget(target)
	if err != nil {
		otpIssued.WithLabelValues("invalid_target").Inc()
		return 0, err
	}
	if g.Channel == nil {
		otpIssued.WithLabelValues("channel_unavailable").Inc()
		return 0, ErrChannelUnavailable
	}

	unlock, err := g.lock(ctx, t)
	if err != nil {
		return 0, err
	}
	defer unlock()

	code, err := g.generate()
	if err != nil {
		otpIssued.WithLabelValues("error").Inc()
		return 0, err
	}
	cost := g.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), cost)
	if err != nil {
		otpIssued.WithLabelValues("error").Inc()
		return 0, err
	}

	now := g.now()
	ttl := g.ttl()
	if err := repo.UpsertCode(ctx, g.DB, &domain.VerificationCode{
		Target:    t,
		CodeHash:  string(hash),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}); err != nil {
		otpIssued.WithLabelValues("error").Inc()
		return 0, err
	}

	if err := g.Channel.Send(ctx, t, code, ttl); err != nil {
		if derr := repo.DeleteCode(context.WithoutCancel(ctx), g.DB, t); derr != nil {
			log.Error().Err(derr).Msg("rollback of undelivered code failed")
		}
		otpIssued.WithLabelValues("delivery_failed").Inc()
		span.RecordError(err)
		return 0, fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	otpIssued.WithLabelValues("sent").Inc()
	return ttl, nil
}

// Verify consumes the code for target. A mismatch keeps the code so the
// user can retry before it expires; an expired code is removed.
func (g *VerificationGate) Verify(ctx context.Context, target, code string) error {
	ctx, span := otel.Tracer("services/VerificationGate").Start(ctx, "Verify")
	defer span.End()

	t, err := NormalizeTarget(target)
	if err != nil {
		otpVerified.WithLabelValues("invalid_target").Inc()
		return err
	}
	code = strings.TrimSpace(code)

	unlock, err := g.lock(ctx, t)
	if err != nil {
		return err
	}
	defer unlock()

	rec, err := repo.GetCode(ctx, g.DB, t)
	if errors.Is(err, repo.ErrNotFound) {
		otpVerified.WithLabelValues("not_found").Inc()
		return ErrCodeNotFound
	}
	if err != nil {
		otpVerified.WithLabelValues("error").Inc()
		return err
	}
	if rec.Expired(g.now()) {
		if err := repo.DeleteCode(ctx, g.DB, t); err != nil {
			return err
		}
		otpVerified.WithLabelValues("expired").Inc()
		return ErrCodeExpired
	}
	if bcrypt.CompareHashAndPassword([]byte(rec.CodeHash), []byte(code)) != nil {
		otpVerified.WithLabelValues("mismatch").Inc()
		return ErrCodeMismatch
	}
	if err := repo.DeleteCode(ctx, g.DB, t); err != nil {
		otpVerified.WithLabelValues("error").Inc()
		return err
	}
	otpVerified.WithLabelValues("ok").Inc()
	return nil
}

// Status reports whether target holds a live code. An expired code found
// here is removed.
func (g *VerificationGate) Status(ctx context.Context, target string) (CodeStatus, error) {
	t, err := NormalizeTarget(target)
	if err != nil {
		return CodeStatus{}, err
	}
	unlock, err := g.lock(ctx, t)
	if err != nil {
		return CodeStatus{}, err
	}
	defer unlock()

	rec, err := repo.GetCode(ctx, g.DB, t)
	if errors.Is(err, repo.ErrNotFound) {
		return CodeStatus{}, nil
	}
	if err != nil {
		return CodeStatus{}, err
	}
	now := g.now()
	if rec.Expired(now) {
		return CodeStatus{}, repo.DeleteCode(ctx, g.DB, t)
	}
	return CodeStatus{Live: true, Remaining: rec.Remaining(now)}, nil
}

// Sweep deletes expired codes and expired turn idempotency records. It
// returns the number of codes removed.
func (g *VerificationGate) Sweep(ctx context.Context) (int64, error) {
	now := g.now()
	n, err := repo.DeleteExpiredCodes(ctx, g.DB, now)
	if err != nil {
		return 0, err
	}
	codesSwept.Add(float64(n))
	if _, err := repo.DeleteExpiredIdempotency(ctx, g.DB, now); err != nil {
		return n, err
	}
	return n, nil
}

// Run sweeps every SweepInterval until ctx ends.
func (g *VerificationGate) Run(ctx context.Context) error {
	every := g.SweepInterval
	if every <= 0 {
		every = DefaultSweepInterval
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n, err := g.Sweep(ctx)
			if err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("code sweep failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("removed", n).Msg("expired codes swept")
			}
		}
	}
}

// generate returns a uniformly random, zero-padded decimal code.
func (g *VerificationGate) generate() (string, error) {
	r := g.Rand
	if r == nil {
		r = rand.Reader
	}
	n, err := rand.Int(r, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", codeDigits, n.Int64()), nil
}
