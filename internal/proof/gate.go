package proof

import (
	"context"
	"errors"
	"time"

	"medvault/internal/domain"
	dErrors "medvault/pkg/domain-errors"
)

// Gate bounds verification calls with a timeout and applies all-or-nothing
// semantics across a field set. It sits in front of every encrypted write.
type Gate struct {
	verifier Verifier
	timeout  time.Duration
}

func NewGate(verifier Verifier, timeout time.Duration) *Gate {
	return &Gate{verifier: verifier, timeout: timeout}
}

// VerifyField checks a single ciphertext/proof pair. A false verdict maps to
// InvalidProof; an unresponsive backend maps to Timeout, which is safe to
// retry with the same request id.
func (g *Gate) VerifyField(ctx context.Context, name string, field domain.EncryptedField) error {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	type verdict struct {
		ok  bool
		err error
	}
	done := make(chan verdict, 1)
	go func() {
		ok, err := g.verifier.Verify(ctx, field.Ciphertext, field.Proof)
		done <- verdict{ok: ok, err: err}
	}()

	select {
	case <-ctx.Done():
		return dErrors.New(dErrors.CodeTimeout, "proof verification timed out for field "+name)
	case v := <-done:
		if v.err != nil {
			if errors.Is(v.err, context.DeadlineExceeded) {
				return dErrors.New(dErrors.CodeTimeout, "proof verification timed out for field "+name)
			}
			return dErrors.Wrap(v.err, dErrors.CodeTimeout, "proof verifier unavailable for field "+name)
		}
		if !v.ok {
			return dErrors.New(dErrors.CodeInvalidProof, "proof rejected for field "+name)
		}
		return nil
	}
}

// VerifyFields checks every field of a submission in stable name order. The
// first failing field aborts the whole set; callers must not have written any
// state before calling this.
func (g *Gate) VerifyFields(ctx context.Context, fields domain.EncryptedFieldSet) error {
	if err := fields.Validate(); err != nil {
		return err
	}
	for _, name := range fields.Names() {
		if err := g.VerifyField(ctx, name, fields[name]); err != nil {
			return err
		}
	}
	return nil
}
