package pathoram

import "errors"

// DummyAddress marks a block slot as empty/dummy.
const DummyAddress = -1

var (
	// ErrInvalidConfig is returned when a Config fails validation.
	ErrInvalidConfig = errors.New("pathoram: invalid configuration")

	// ErrInvalidAddress is returned when a caller-supplied address is out
	// of range. It does not mutate engine state.
	ErrInvalidAddress = errors.New("pathoram: address out of range")

	// ErrInvalidValueSize is returned when a value's length doesn't match
	// the configured block size.
	ErrInvalidValueSize = errors.New("pathoram: value size doesn't match block size")

	// ErrStashOverflow indicates the stash exceeded its capacity during
	// eviction. This is a security-parameter violation: the instance is
	// poisoned and every subsequent call fails fast.
	ErrStashOverflow = errors.New("pathoram: stash overflow")

	// ErrInvariantViolation indicates a debug-time structural invariant
	// check failed (path locality of the blocks on the accessed path, or
	// the stash's real-block count against its capacity). Uniqueness of
	// addresses is not checked.
	ErrInvariantViolation = errors.New("pathoram: invariant violation")

	// ErrRNGFailure indicates the configured randomness source failed.
	ErrRNGFailure = errors.New("pathoram: rng failure")

	// ErrEncryptionFailed indicates an Encryptor could not seal a block.
	ErrEncryptionFailed = errors.New("pathoram: encryption failed")

	// ErrDecryptionFailed indicates an Encryptor could not open a block,
	// most often because the ciphertext or its authenticated blockID/leaf
	// pair was tampered with.
	ErrDecryptionFailed = errors.New("pathoram: decryption failed")

	// ErrPoisoned indicates the engine has already suffered a fatal error
	// and refuses all further accesses.
	ErrPoisoned = errors.New("pathoram: engine is poisoned after a fatal error")

	// ErrNilRNG indicates New or NewInMemory was called without a
	// randomness source. Unlike most defaults, this one is never
	// silently filled in: the source of every fresh leaf is a security
	// parameter, not a convenience.
	ErrNilRNG = errors.New("pathoram: rng is required and must not be nil")

	// ErrReentrantAccess indicates a second Access call reached the
	// engine while Config.Debug's re-entrancy guard found one still in
	// flight. Engine is not safe for concurrent use; this only catches
	// the mistake when Debug is enabled.
	ErrReentrantAccess = errors.New("pathoram: concurrent access on a non-reentrant engine")
)
